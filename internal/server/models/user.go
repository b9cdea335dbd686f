// Package models defines the persisted row types.
package models

import "time"

// Roles a user account can hold. A freshly registered account starts as
// RoleNewUser and becomes RoleUser once confirmed; RoleAdmin is only
// assignable by another admin through update.
const (
	RoleNewUser = "new_user"
	RoleUser    = "user"
	RoleAdmin   = "admin"
)

// ValidRole reports whether r is one of the three known roles.
func ValidRole(r string) bool {
	return r == RoleNewUser || r == RoleUser || r == RoleAdmin
}

// User is a row in the users table. PasswordHash is a 64-char SHA-256 hex
// digest; the raw password is never persisted.
type User struct {
	ID             int64
	Username       string
	PasswordHash   string
	Email          string
	Role           string
	ProfilePicture *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
