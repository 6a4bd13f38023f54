package apikey

import (
	"fmt"
	"strings"
)

// Role is a staff role a key may act as.
type Role string

const (
	RoleDataEntry Role = "dataentry"
	RoleHOO       Role = "hoo"
	RolePrincipal Role = "principal"
	RoleVerifier  Role = "verifier"
	RoleViewer    Role = "viewer"
)

// Roles lists every known role.
var Roles = []Role{RoleDataEntry, RoleHOO, RolePrincipal, RoleVerifier, RoleViewer}

// ParseRole accepts a role name in any case.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Roles {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// ParseRoles parses a comma-separated role list, dropping duplicates.
func ParseRoles(s string) ([]Role, error) {
	var out []Role
	seen := make(map[Role]bool)
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		r, err := ParseRole(part)
		if err != nil {
			return nil, err
		}
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out, nil
}

// rolesFrom converts stored role names, skipping any no longer known.
func rolesFrom(names []string) []Role {
	out := make([]Role, 0, len(names))
	for _, n := range names {
		if r, err := ParseRole(n); err == nil {
			out = append(out, r)
		}
	}
	return out
}

func roleStrings(roles []Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}
