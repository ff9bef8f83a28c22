package storage

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusActive    = "active"
	StatusSuspended = "suspended"
	StatusDeleted   = "deleted"

	RoleUser = "user"
)

type User struct {
	ID           uuid.UUID
	Email        string
	Username     string
	DisplayName  string
	PasswordHash string
	Role         string
	Status       string
	LastActiveAt *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (u *User) IsActive() bool {
	return u.Status == StatusActive
}

type NewUser struct {
	Email        string
	Username     string
	DisplayName  string
	PasswordHash string
	Role         string
}

// RefreshToken is the server-side record of one issued refresh token. The
// serialized token itself is never stored, only its digest.
type RefreshToken struct {
	ID        string
	UserID    uuid.UUID
	TokenHash string
	ExpiresAt time.Time
	IsRevoked bool
	CreatedAt time.Time
	CreatedIP string
	UserAgent string
}

func ValidStatus(status string) bool {
	switch status {
	case StatusActive, StatusSuspended, StatusDeleted:
		return true
	}
	return false
}
