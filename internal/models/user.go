package models

import (
	"time"

	"github.com/google/uuid"
)

// Role gates administrative operations (wallet freezes, adjustments).
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// User represents a registered account. Every user owns exactly one wallet,
// created at registration.
type User struct {
	// ID is the unique identifier for the user (UUID format).
	ID string

	// Email is the user's email address (unique). Used for login.
	Email string

	// DisplayName is the name shown to other group members.
	DisplayName string

	// PasswordHash is the bcrypt hash of the user's password.
	PasswordHash string

	// Role is member or admin. Registration always creates members.
	Role Role

	// CreatedAt is when the account was created.
	CreatedAt time.Time
}

// NewUser creates a user with a fresh ID.
func NewUser(email, displayName, passwordHash string) *User {
	return &User{
		ID:           uuid.New().String(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: passwordHash,
		Role:         RoleMember,
		CreatedAt:    time.Now().UTC(),
	}
}
