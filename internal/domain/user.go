package domain

import "time"

// User represents a registered account. PasswordHash is the bcrypt
// digest of the password; the plaintext is never stored.
type User struct {
	ID           int64
	Name         string
	Email        string
	PasswordHash string
	LastActivity time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SessionEvent is an append-only audit record written when a user logs out.
type SessionEvent struct {
	ID          int64
	UserID      int64
	LoggedOutAt time.Time
}
