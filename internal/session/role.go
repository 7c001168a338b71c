package session

import "fmt"

// Role is an ordered permission tier. Comparison always goes through rank;
// string equality is reserved for exact-role checks.
type Role string

const (
	RoleViewer    Role = "viewer"
	RoleDeveloper Role = "developer"
	RoleAdmin     Role = "admin"
)

// roleRanks orders the known roles low to high. Unknown roles rank 0 and
// never satisfy a minimum-role check.
var roleRanks = map[Role]int{
	RoleViewer:    1,
	RoleDeveloper: 2,
	RoleAdmin:     3,
}

// ParseRole validates a role string from config or the identity service.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := roleRanks[r]
	return ok
}

// AtLeast reports whether r ranks at or above min.
func (r Role) AtLeast(min Role) bool {
	rank, ok := roleRanks[r]
	if !ok {
		return false
	}
	minRank, ok := roleRanks[min]
	if !ok {
		return false
	}
	return rank >= minRank
}

func (r Role) String() string {
	return string(r)
}
