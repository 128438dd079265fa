package model

// AdminStatus is a derived view of group roles, cached but never persisted.
type AdminStatus struct {
	IsSenderAdmin bool
	IsBotAdmin    bool
	IsSuperAdmin  bool
}

type ParticipantRole string

const (
	RoleMember     ParticipantRole = "member"
	RoleAdmin      ParticipantRole = "admin"
	RoleSuperAdmin ParticipantRole = "superadmin"
)

type Participant struct {
	ID   string
	Role ParticipantRole
}

type GroupState struct {
	Subject      string
	Participants []Participant
	CreationTime int64
}
