package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"askuni/internal/domain"
)

// SQLiteStore implements domain.UserStore and domain.HistoryStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var (
	_ domain.UserStore    = (*SQLiteStore)(nil)
	_ domain.HistoryStore = (*SQLiteStore)(nil)
)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and runs
// the schema migration.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// A single connection keeps writes serialized and makes :memory: usable.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			email         TEXT NOT NULL UNIQUE COLLATE NOCASE,
			name          TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL,
			created_at    TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS chat_sessions (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			title      TEXT NOT NULL,
			thread_id  TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS chat_sessions_user_idx ON chat_sessions (user_id, updated_at DESC);
		CREATE TABLE IF NOT EXISTS chat_messages (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id  TEXT NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
			role        TEXT NOT NULL,
			text        TEXT NOT NULL,
			attachments TEXT NOT NULL DEFAULT '[]',
			created_at  TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS chat_messages_session_idx ON chat_messages (session_id, id);
		CREATE TABLE IF NOT EXISTS password_resets (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			email      TEXT NOT NULL COLLATE NOCASE,
			code_hash  TEXT NOT NULL,
			expires_at TEXT NOT NULL,
			used       INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS password_resets_email_idx ON password_resets (email, id DESC);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// --- users ---

func (s *SQLiteStore) CreateUser(ctx context.Context, u domain.User) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, email, name, password_hash, created_at) VALUES (?, ?, ?, ?, ?)",
		u.ID, u.Email, u.Name, u.PasswordHash, formatTime(u.CreatedAt),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return domain.NewDomainError("History.CreateUser", domain.ErrUserExists, u.Email)
	}
	return err
}

func (s *SQLiteStore) UserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var u domain.User
	var created string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, name, password_hash, created_at FROM users WHERE email = ?", email,
	).Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = parseTime(created)
	return &u, nil
}

func (s *SQLiteStore) UpdatePassword(ctx context.Context, email, hash string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE users SET password_hash = ? WHERE email = ?", hash, email)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// --- reset codes ---

func (s *SQLiteStore) SaveResetCode(ctx context.Context, rc domain.ResetCode) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO password_resets (email, code_hash, expires_at, used) VALUES (?, ?, ?, 0)",
		rc.Email, rc.CodeHash, formatTime(rc.ExpiresAt),
	)
	return err
}

// LatestResetCode returns the most recent code issued for email, or
// domain.ErrNotFound.
func (s *SQLiteStore) LatestResetCode(ctx context.Context, email string) (*domain.ResetCode, error) {
	var rc domain.ResetCode
	var expires string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, code_hash, expires_at, used FROM password_resets WHERE email = ? ORDER BY id DESC LIMIT 1",
		email,
	).Scan(&rc.ID, &rc.Email, &rc.CodeHash, &expires, &rc.Used)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rc.ExpiresAt = parseTime(expires)
	return &rc, nil
}

func (s *SQLiteStore) MarkResetCodeUsed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "UPDATE password_resets SET used = 1 WHERE id = ?", id)
	return err
}

// PurgeResetCodes deletes codes that expired before the cutoff or were used.
func (s *SQLiteStore) PurgeResetCodes(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM password_resets WHERE expires_at < ? OR used = 1", formatTime(before),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- sessions ---

func (s *SQLiteStore) Session(ctx context.Context, id string) (*domain.Session, error) {
	var sess domain.Session
	var created, updated string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, title, thread_id, created_at, updated_at FROM chat_sessions WHERE id = ?", id,
	).Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.ThreadID, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.CreatedAt, sess.UpdatedAt = parseTime(created), parseTime(updated)
	return &sess, nil
}

// UpsertSession inserts the session or refreshes its title and updated_at.
// Owner, thread and created_at of an existing session are kept.
func (s *SQLiteStore) UpsertSession(ctx context.Context, sess domain.Session) error {
	now := formatTime(sess.UpdatedAt)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_sessions (id, user_id, title, thread_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET title = excluded.title, updated_at = excluded.updated_at`,
		sess.ID, sess.UserID, sess.Title, sess.ThreadID, formatTime(sess.CreatedAt), now,
	)
	return err
}

func (s *SQLiteStore) SetThreadID(ctx context.Context, sessionID, threadID string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE chat_sessions SET thread_id = ? WHERE id = ?", threadID, sessionID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// ListSessions returns the user's sessions, most recently updated first.
func (s *SQLiteStore) ListSessions(ctx context.Context, userID string) ([]domain.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, title, thread_id, created_at, updated_at FROM chat_sessions WHERE user_id = ? ORDER BY updated_at DESC, id DESC",
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []domain.Session{}
	for rows.Next() {
		var sess domain.Session
		var created, updated string
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.ThreadID, &created, &updated); err != nil {
			return nil, err
		}
		sess.CreatedAt, sess.UpdatedAt = parseTime(created), parseTime(updated)
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID, userID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM chat_sessions WHERE id = ? AND user_id = ?", sessionID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// --- messages ---

func (s *SQLiteStore) AppendMessage(ctx context.Context, m domain.StoredMessage) error {
	atts := m.Attachments
	if atts == nil {
		atts = []domain.Attachment{}
	}
	attJSON, err := json.Marshal(atts)
	if err != nil {
		return fmt.Errorf("marshal attachments: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	at := formatTime(m.CreatedAt)
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO chat_messages (session_id, role, text, attachments, created_at) VALUES (?, ?, ?, ?, ?)",
		m.SessionID, string(m.Role), m.Text, string(attJSON), at,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "UPDATE chat_sessions SET updated_at = ? WHERE id = ?", at, m.SessionID); err != nil {
		return err
	}
	return tx.Commit()
}

// Messages returns the messages of a session owned by userID in insertion
// order, or domain.ErrSessionNotFound when the caller does not own it.
func (s *SQLiteStore) Messages(ctx context.Context, sessionID, userID string) ([]domain.StoredMessage, error) {
	var owned int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM chat_sessions WHERE id = ? AND user_id = ?", sessionID, userID,
	).Scan(&owned); err != nil {
		return nil, err
	}
	if owned == 0 {
		return nil, domain.ErrSessionNotFound
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, session_id, role, text, attachments, created_at FROM chat_messages WHERE session_id = ? ORDER BY id ASC",
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []domain.StoredMessage{}
	for rows.Next() {
		var m domain.StoredMessage
		var role, attJSON, created string
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Text, &attJSON, &created); err != nil {
			return nil, err
		}
		m.Role = domain.Role(role)
		m.CreatedAt = parseTime(created)
		if err := json.Unmarshal([]byte(attJSON), &m.Attachments); err != nil {
			return nil, fmt.Errorf("unmarshal attachments: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
