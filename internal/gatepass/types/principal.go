package types

import "strings"

// Role is the role claim supplied by the identity provider.
type Role string

const (
	RoleStudent  Role = "student"
	RoleMentor   Role = "mentor"
	RoleHOD      Role = "hod"
	RoleSecurity Role = "security"
	RoleAdmin    Role = "admin"
)

// Principal is the authenticated caller.  The workflow trusts it as given
// and performs no authentication of its own.
type Principal struct {
	ID         string `json:"id"`
	Role       Role   `json:"role"`
	Department string `json:"department,omitempty"`
}

// ParseRole maps a claim string onto a known role.  Unknown claims yield "".
func ParseRole(s string) Role {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleStudent, RoleMentor, RoleHOD, RoleSecurity, RoleAdmin:
		return r
	}
	return ""
}
