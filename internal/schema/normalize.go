package schema

import "strings"

// Role is one of the four canonical role tags a connection can carry.
type Role string

const (
	RoleStaff   Role = "STAFF"
	RoleDiamond Role = "DIAMOND"
	RoleGold    Role = "GOLD"
	RoleMember  Role = "MEMBER"
)

var allowedRoles = map[string]bool{
	string(RoleStaff):   true,
	string(RoleDiamond): true,
	string(RoleGold):    true,
	string(RoleMember):  true,
}

// allowedAccountTypes is this implementation's closed set of account-type tags. LOCAL is the catch-all
// default; anything outside this set normalizes to LOCAL.
var allowedAccountTypes = map[string]bool{
	"LOCAL":   true,
	"GOOGLE":  true,
	"DISCORD": true,
	"GITHUB":  true,
}

// NormalizeRoles upper-cases and trims each entry, drops anything outside the allowed role set, and
// deduplicates while preserving first-seen order.
func NormalizeRoles(input []string) []string {
	out := make([]string, 0, len(input))
	seen := make(map[string]bool, len(input))
	for _, r := range input {
		u := strings.ToUpper(strings.TrimSpace(r))
		if !allowedRoles[u] || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

// NormalizeAccountType upper-cases and trims the input; unknown values map to LOCAL.
func NormalizeAccountType(input string) string {
	u := strings.ToUpper(strings.TrimSpace(input))
	if allowedAccountTypes[u] {
		return u
	}
	return "LOCAL"
}
