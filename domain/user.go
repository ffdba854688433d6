// Package domain contains core concepts of the messaging system.
// No runtime, network, or UI logic should be added here.
package domain

import "time"

// Role partitions the user base. A channel always pairs one of each.
type Role string

const (
	RoleCoordinator Role = "coordinator"
	RoleContributor Role = "contributor"
)

func (r Role) Valid() bool {
	return r == RoleCoordinator || r == RoleContributor
}

// User is a reference to an account-directory record. Owned by the
// directory, never by this core.
type User struct {
	ID          string
	Email       string
	DisplayName string
	Role        Role
	CreatedAt   time.Time
}
