package auth

import "strings"

// Role grants access to API operations. Higher roles include lower ones.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// ranked lists roles from least to most privileged.
var ranked = []Role{RoleViewer, RoleOperator, RoleAdmin}

// Roles returns every role, least privileged first.
func Roles() []Role {
	out := make([]Role, len(ranked))
	copy(out, ranked)
	return out
}

// NormalizeRole trims and lowercases value and reports whether it names a role.
func NormalizeRole(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	if roleRank(role) == 0 {
		return "", false
	}
	return role, true
}

// RoleAtLeast reports whether role satisfies required.
func RoleAtLeast(role Role, required Role) bool {
	rank := roleRank(role)
	return rank > 0 && rank >= roleRank(required)
}

func roleRank(role Role) int {
	for i, r := range ranked {
		if r == role {
			return i + 1
		}
	}
	return 0
}
