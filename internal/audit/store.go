package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ziadkadry99/erp-copilot/internal/db"
)

// ErrNotFound is returned by GetByID for an unknown id.
var ErrNotFound = errors.New("audit entry not found")

// Store provides CRUD operations for audit entries.
type Store struct {
	db *db.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// Log inserts a new audit entry. If entry.ID is empty a UUID is generated.
func (s *Store) Log(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.ActorType == "" {
		entry.ActorType = ActorSystem
	}

	var conversationID sql.NullString
	if entry.ConversationID != "" {
		conversationID = sql.NullString{String: entry.ConversationID, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_entries (
			id, timestamp, tenant_id, actor_type, actor_id, action,
			target, outcome, summary, detail, duration_ms, conversation_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.Timestamp.UTC().Format(time.DateTime),
		entry.TenantID,
		string(entry.ActorType),
		entry.ActorID,
		string(entry.Action),
		entry.Target,
		entry.Outcome,
		entry.Summary,
		entry.Detail,
		entry.DurationMS,
		conversationID,
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

const selectColumns = `SELECT id, timestamp, tenant_id, actor_type, actor_id, action,
	target, outcome, summary, detail, duration_ms, conversation_id FROM audit_entries`

// GetByID retrieves a single audit entry.
func (s *Store) GetByID(ctx context.Context, id string) (*Entry, error) {
	e, err := scanInto(s.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// QueryFilter controls which audit entries are returned by Query.
type QueryFilter struct {
	TenantID       string
	ActorID        string
	Action         Action
	Target         string
	ConversationID string
	Since          *time.Time
	Until          *time.Time
	Limit          int
	Offset         int
}

// Query returns audit entries matching the filter, newest first.
func (s *Store) Query(ctx context.Context, filter QueryFilter) ([]Entry, error) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, v any) {
		clauses = append(clauses, clause)
		args = append(args, v)
	}

	if filter.TenantID != "" {
		add("tenant_id = ?", filter.TenantID)
	}
	if filter.ActorID != "" {
		add("actor_id = ?", filter.ActorID)
	}
	if filter.Action != "" {
		add("action = ?", string(filter.Action))
	}
	if filter.Target != "" {
		add("target = ?", filter.Target)
	}
	if filter.ConversationID != "" {
		add("conversation_id = ?", filter.ConversationID)
	}
	if filter.Since != nil {
		add("timestamp >= ?", filter.Since.UTC().Format(time.DateTime))
	}
	if filter.Until != nil {
		add("timestamp <= ?", filter.Until.UTC().Format(time.DateTime))
	}

	query := selectColumns
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY timestamp DESC, rowid DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT %d", limit)
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanInto(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// DeleteBefore removes all audit entries older than the given time.
// Returns the number of deleted rows.
func (s *Store) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM audit_entries WHERE timestamp < ?",
		before.UTC().Format(time.DateTime),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting old audit entries: %w", err)
	}
	return res.RowsAffected()
}

// scanner is implemented by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanInto(sc scanner) (*Entry, error) {
	var (
		e                 Entry
		actorType, action string
		ts                string
		conversationID    sql.NullString
	)

	err := sc.Scan(
		&e.ID, &ts, &e.TenantID, &actorType, &e.ActorID, &action,
		&e.Target, &e.Outcome, &e.Summary, &e.Detail, &e.DurationMS, &conversationID,
	)
	if err != nil {
		return nil, err
	}

	e.ActorType = ActorType(actorType)
	e.Action = Action(action)
	e.ConversationID = conversationID.String

	if t, parseErr := time.Parse(time.DateTime, ts); parseErr == nil {
		e.Timestamp = t
	} else if t, parseErr := time.Parse(time.RFC3339, ts); parseErr == nil {
		e.Timestamp = t
	}
	return &e, nil
}
