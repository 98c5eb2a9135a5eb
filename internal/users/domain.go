package users

import (
	"errors"
	"time"
)

// User represents a user account for management.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Credentials pairs a user with its stored password hash.
type Credentials struct {
	User
	PasswordHash string
}

// ListFilter narrows ListUsers.
type ListFilter struct {
	Search  string
	Page    int
	PerPage int
}

var (
	// ErrNotFound is returned when a user does not exist.
	ErrNotFound = errors.New("users: not found")
	// ErrInvalidCredentials hides whether the email or the password was wrong.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrCannotImpersonate rejects self, nested and privileged targets.
	ErrCannotImpersonate = errors.New("users: cannot impersonate")
	// ErrNotImpersonating is returned when stopping a normal session.
	ErrNotImpersonating = errors.New("users: not impersonating")
)
