package assistant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ziadkadry99/erp-copilot/internal/db"
)

// ErrSessionNotFound is returned for an unknown session, or one that
// belongs to another tenant.
var ErrSessionNotFound = errors.New("session not found")

const timeLayout = "2006-01-02 15:04:05.000000"

// Session is one conversation between a caller and the assistant.
type Session struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one persisted turn. Only questions and final answers are
// stored; tool traffic stays in the request that produced it.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Metadata  string    `json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists conversation history.
type Store struct {
	db *db.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// CreateSession starts a new session for userID within tenantID.
func (s *Store) CreateSession(ctx context.Context, tenantID, userID string) (*Session, error) {
	if userID == "" {
		userID = "anonymous"
	}
	now := time.Now().UTC()
	sess := Session{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (id, tenant_id, user_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.TenantID, sess.UserID, now.Format(timeLayout), now.Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return &sess, nil
}

// GetSession returns the session if it exists and belongs to tenantID.
func (s *Store) GetSession(ctx context.Context, tenantID, id string) (*Session, error) {
	var (
		sess             Session
		created, updated string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, user_id, created_at, updated_at FROM chat_sessions WHERE id = ? AND tenant_id = ?`,
		id, tenantID,
	).Scan(&sess.ID, &sess.TenantID, &sess.UserID, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	sess.CreatedAt = parseTime(created)
	sess.UpdatedAt = parseTime(updated)
	return &sess, nil
}

// AddMessage appends a message to a session.
func (s *Store) AddMessage(ctx context.Context, msg Message) (*Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Metadata == "" {
		msg.Metadata = "{}"
	}
	msg.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, session_id, role, content, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.Role, msg.Content, msg.Metadata, msg.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("adding message: %w", err)
	}

	s.db.ExecContext(ctx, `UPDATE chat_sessions SET updated_at = ? WHERE id = ?`, msg.CreatedAt.Format(timeLayout), msg.SessionID)

	return &msg, nil
}

// Messages returns the last limit messages of a session in chronological
// order. A limit <= 0 returns all of them.
func (s *Store) Messages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, metadata, created_at
		 FROM chat_messages WHERE session_id = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var (
			m       Message
			created string
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.Metadata, &created); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.CreatedAt = parseTime(created)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func parseTime(s string) time.Time {
	for _, layout := range []string{timeLayout, time.DateTime, time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
