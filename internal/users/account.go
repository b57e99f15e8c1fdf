package users

import (
	"strings"
	"time"
)

const maxEmailLength = 320

// Account is a registered user. UserID is the identifier lists are created and shared with.
type Account struct {
	UserID       string    `gorm:"column:user_id;primaryKey;size:190;not null" json:"user_id"`
	Email        string    `gorm:"column:email;size:320;not null;uniqueIndex" json:"email"`
	PasswordHash string    `gorm:"column:password_hash;size:255;not null" json:"-"`
	CreatedAt    time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

// TableName exposes the table backing accounts.
func (Account) TableName() string {
	return "accounts"
}

// Session is the server-side record of a signed-in session token.
type Session struct {
	SessionID string    `gorm:"column:session_id;primaryKey;size:190;not null"`
	UserID    string    `gorm:"column:user_id;size:190;not null;index"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null;index"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

// TableName exposes the table backing sessions.
func (Session) TableName() string {
	return "sessions"
}

// Models lists every table owned by this package.
func Models() []any {
	return []any{&Account{}, &Session{}}
}

// SessionGrant is returned by a successful sign-in.
type SessionGrant struct {
	Token     string
	ExpiresAt time.Time
	UserID    string
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}

func normalizeEmail(value string) string {
	return strings.ToLower(normalize(value))
}
