package auth

import "strings"

// Role names carried in session tokens and command payloads. Two roles
// exist: ADMIN and the default participant role.
const (
	RoleAdmin = "ADMIN"
	RoleUser  = "USER"
)

// IsAdmin reports whether the role string names the admin role. Comparison
// is case-insensitive to match the wire protocol.
func IsAdmin(role string) bool {
	return strings.EqualFold(role, RoleAdmin)
}
