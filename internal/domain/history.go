package domain

import (
	"context"
	"time"
)

// Role of a stored chat message.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// User is a registered account.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Session is one conversation owned by a user.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"-"`
	Title     string    `json:"title"`
	ThreadID  string    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StoredMessage is a persisted chat message.
type StoredMessage struct {
	ID          int64        `json:"id"`
	SessionID   string       `json:"sessionId"`
	Role        Role         `json:"role"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// ResetCode is a one-time password reset code.
type ResetCode struct {
	ID        int64
	Email     string
	CodeHash  string
	ExpiresAt time.Time
	Used      bool
}

// UserStore persists accounts and reset codes.
type UserStore interface {
	CreateUser(ctx context.Context, u User) error
	UserByEmail(ctx context.Context, email string) (*User, error)
	UpdatePassword(ctx context.Context, email, hash string) error
	SaveResetCode(ctx context.Context, rc ResetCode) error
	LatestResetCode(ctx context.Context, email string) (*ResetCode, error)
	MarkResetCodeUsed(ctx context.Context, id int64) error
	PurgeResetCodes(ctx context.Context, before time.Time) (int64, error)
}

// HistoryStore persists conversations for authenticated users.
type HistoryStore interface {
	Session(ctx context.Context, id string) (*Session, error)
	UpsertSession(ctx context.Context, s Session) error
	SetThreadID(ctx context.Context, sessionID, threadID string) error
	AppendMessage(ctx context.Context, m StoredMessage) error
	ListSessions(ctx context.Context, userID string) ([]Session, error)
	Messages(ctx context.Context, sessionID, userID string) ([]StoredMessage, error)
	DeleteSession(ctx context.Context, sessionID, userID string) error
	Ping(ctx context.Context) error
}

// Mailer delivers transactional email.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}
