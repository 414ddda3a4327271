package models

import (
	"errors"
	"fmt"
)

// ErrInvalidRole is returned when a stored or submitted role is outside the known set.
var ErrInvalidRole = errors.New("invalid role")

// Role is the closed set of authorization roles an identity can hold.
//
// The zero value is not a valid role; it marks a session that has not been
// authenticated yet.
type Role uint8

const (
	RoleUser Role = iota + 1
	RoleAdmin
)

// Roles lists every valid role, lowest privilege first.
var Roles = []Role{RoleUser, RoleAdmin}

// ParseRole converts the persisted textual form into a Role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "user":
		return RoleUser, nil
	case "admin":
		return RoleAdmin, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
}

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleAdmin:
		return "admin"
	default:
		return ""
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Satisfies reports whether r grants at least the privileges of required.
// Admins satisfy user level checks.
func (r Role) Satisfies(required Role) bool {
	if !r.Valid() || !required.Valid() {
		return false
	}
	return r >= required
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRole, r)
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
