package tokenauth

import (
	"slices"
	"strings"
)

// Role is a role name carried in tokens and stored on accounts.
type Role = string

const (
	// RoleUser is granted to every enabled account
	RoleUser Role = "USER"
	// RoleModerator can access moderation resources
	RoleModerator Role = "MODERATOR"
	// RoleAdmin can access everything, including account administration
	RoleAdmin Role = "ADMIN"
)

// rolePrecedence orders roles when a single primary role is needed.
var rolePrecedence = map[Role]int{
	RoleUser:      1,
	RoleModerator: 2,
	RoleAdmin:     3,
}

// RoleSet is a normalized, de-duplicated and sorted set of role names.
// The zero value is the empty set.
type RoleSet []Role

// NewRoleSet normalizes the given roles: whitespace is trimmed, names are
// upper-cased, a "ROLE_" prefix is stripped and empty names are dropped.
func NewRoleSet(roles ...string) RoleSet {
	out := make(RoleSet, 0, len(roles))
	for _, r := range roles {
		if n := NormalizeRole(r); n != "" {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// NormalizeRole returns the canonical form of a role name.
func NormalizeRole(role string) Role {
	role = strings.ToUpper(strings.TrimSpace(role))
	return strings.TrimPrefix(role, "ROLE_")
}

// IsKnownRole reports whether role is one of the predefined roles.
func IsKnownRole(role string) bool {
	_, ok := rolePrecedence[NormalizeRole(role)]
	return ok
}

// Has reports whether the set contains role.
func (s RoleSet) Has(role string) bool {
	_, found := slices.BinarySearch(s, NormalizeRole(role))
	return found
}

// HasAny reports whether the two sets intersect.
func (s RoleSet) HasAny(other RoleSet) bool {
	for _, r := range other {
		if s.Has(r) {
			return true
		}
	}
	return false
}

// HasAll reports whether other is a subset of s.
func (s RoleSet) HasAll(other RoleSet) bool {
	for _, r := range other {
		if !s.Has(r) {
			return false
		}
	}
	return true
}

// Missing returns the roles of required that are not in s.
func (s RoleSet) Missing(required RoleSet) RoleSet {
	var out RoleSet
	for _, r := range required {
		if !s.Has(r) {
			out = append(out, r)
		}
	}
	return out
}

// With returns a new set including role.
func (s RoleSet) With(role string) RoleSet {
	return NewRoleSet(append(slices.Clone(s), role)...)
}

// IsEmpty reports whether the set has no roles.
func (s RoleSet) IsEmpty() bool {
	return len(s) == 0
}

// Primary returns the highest-precedence role, falling back to the first
// role in sort order for unknown roles.
func (s RoleSet) Primary() Role {
	var primary Role
	best := -1
	for _, r := range s {
		if rank, ok := rolePrecedence[r]; ok && rank > best {
			primary, best = r, rank
		}
	}
	if primary == "" && len(s) > 0 {
		return s[0]
	}
	return primary
}

// Strings returns a copy of the set as a plain slice.
func (s RoleSet) Strings() []string {
	return slices.Clone([]string(s))
}

func (s RoleSet) String() string {
	return strings.Join(s, ",")
}
