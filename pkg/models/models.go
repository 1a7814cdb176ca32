package models

import (
	"time"
)

// Role controls what a user may do outside their own rooms. Admins may
// delete any room; everything else is decided per room by ownership.
type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// User is created on first successful login and refreshed on every login.
// The ID is the identity provider's subject id, not something we mint.
type User struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	Email     string    `json:"email" gorm:"unique"`
	Name      string    `json:"name"`
	Picture   string    `json:"picture"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Session is an opaque bearer token with an absolute expiry. It is never
// extended in place; a new login mints a new row.
type Session struct {
	Token     string    `json:"token" gorm:"primaryKey"`
	UserID    string    `json:"user_id" gorm:"index"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// RoomRecord is the registry row for a room. Live queue/playback state is
// held by the room actor in memory; this row exists for listing, lookup
// after restart and the last-activity timestamp.
type RoomRecord struct {
	ID           string    `json:"id" gorm:"primaryKey"`
	Name         string    `json:"name"`
	OwnerID      string    `json:"owner_id" gorm:"index"`
	IsPublic     bool      `json:"is_public"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

func (r *RoomRecord) PasswordProtected() bool {
	return r.PasswordHash != ""
}
