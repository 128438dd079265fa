package model

import (
	"github.com/akovalev/groupwarden/internal/domain/enums"
	"github.com/akovalev/groupwarden/internal/pkg/identity"
)

// Violation is a classified inbound event the dispatcher decides on: a
// forbidden media message, a status-mention spam message, or a group call.
type Violation struct {
	ChatID     identity.GroupID
	UserID     identity.UserID
	Feature    enums.Feature
	MessageRef string
}

// DemotionEvent is the role-change counterpart: Actor demoted Target.
type DemotionEvent struct {
	ChatID identity.GroupID
	Actor  identity.UserID
	Target identity.UserID
}

type DispatchStatus string

const (
	DispatchSkipped               DispatchStatus = "skipped"
	DispatchWarned                DispatchStatus = "warned"
	DispatchEnforced              DispatchStatus = "enforced"
	DispatchInsufficientPrivilege DispatchStatus = "insufficient_privilege"
)

type DispatchResult struct {
	Status    DispatchStatus
	Action    enums.Action
	Count     int
	Threshold int
	Escalated bool
	Deleted   bool
	Removed   bool
	DeleteErr error
	RemoveErr error
}
