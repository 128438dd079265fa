package identity

import "strings"

// UserID and GroupID are platform identifiers in canonical form. Raw ids from
// the wire may carry a device suffix in the local part ("1203963:12@s.net");
// two ids refer to the same account only after normalization, so raw string
// comparison is never correct.
type UserID string

type GroupID string

func NormalizeUser(raw string) UserID {
	return UserID(normalize(raw))
}

func NormalizeGroup(raw string) GroupID {
	return GroupID(normalize(raw))
}

func normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	local, server, found := strings.Cut(raw, "@")
	if !found {
		return raw
	}

	if idx := strings.IndexByte(local, ':'); idx >= 0 {
		local = local[:idx]
	}

	return local + "@" + strings.ToLower(server)
}

func SameUser(a, b string) bool {
	return normalize(a) != "" && normalize(a) == normalize(b)
}
