package domain

// Role identifies the capacity in which an actor performs an operation
type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
	RoleSystem     Role = "system"
)

// Actor is the authenticated principal (or the engine itself) performing an
// operation. System carries no user id and passes all ownership checks.
type Actor struct {
	UserID string
	Roles  []Role
	System bool
}

// SystemActor is used by background workers and internal schedulers
func SystemActor() Actor {
	return Actor{System: true, Roles: []Role{RoleSystem}}
}

// HasRole reports whether the actor carries the role
func (a Actor) HasRole(role Role) bool {
	if a.System && role == RoleSystem {
		return true
	}
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the actor may perform administrative operations
func (a Actor) IsAdmin() bool {
	return a.System || a.HasRole(RoleAdmin)
}

// Is reports whether the actor is the given user. System actors match nobody;
// they are authorized through IsAdmin instead.
func (a Actor) Is(userID string) bool {
	return !a.System && a.UserID == userID && userID != ""
}

// CanActOn reports whether the actor may operate on the booking at all
// (participant, admin, or the engine itself).
func (a Actor) CanActOn(b *Booking) bool {
	return a.IsAdmin() || a.Is(b.StudentID) || a.Is(b.InstructorID)
}
