package model

// UserID uniquely identifies a user across the system
type UserID string

// Roles is an additive bitset of permission flags.
// Flags are never exclusive; a user may hold any combination.
type Roles int

const (
	// RolePlayer allows playing the game (implicit for all accounts)
	RolePlayer Roles = 1 << iota
	// RoleEditor allows world authoring: create/edit/destroy places, teleport
	RoleEditor
)

// RolesAll is every role flag. Granted to the first registered user.
const RolesAll = RolePlayer | RoleEditor

// Has reports whether all flags in required are present
func (r Roles) Has(required Roles) bool {
	return r&required == required
}

// User is a registered account.
// Username is immutable once assigned; the role bitset is mutable in
// storage even though no protocol message changes it.
type User struct {
	ID           UserID
	Username     string
	PasswordHash string // opaque; owned by the external auth collaborator
	Roles        Roles
}
