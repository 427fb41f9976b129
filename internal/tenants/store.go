package tenants

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ziadkadry99/erp-copilot/internal/db"
	"github.com/ziadkadry99/erp-copilot/internal/erp"
)

// Kind names an integration a tenant can configure.
type Kind string

const (
	KindERP       Kind = "erp"
	KindDocuments Kind = "documents"
)

// ErrNotFound is returned when a tenant has no such integration.
var ErrNotFound = errors.New("integration not found")

// Integration is the non-secret view of a configured integration. The
// encrypted secret never leaves the store.
type Integration struct {
	TenantID  string    `json:"tenant_id"`
	Kind      Kind      `json:"kind"`
	URL       string    `json:"url,omitempty"`
	Database  string    `json:"database,omitempty"`
	Username  string    `json:"username,omitempty"`
	Active    bool      `json:"active"`
	HasSecret bool      `json:"has_secret"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Source is the read-only view the skill loader needs.
type Source interface {
	Integrations(ctx context.Context, tenantID string) ([]Integration, error)
	Credentials(ctx context.Context, tenantID string) (erp.Credentials, error)
}

// Store persists tenant integrations with secrets sealed by a Cipher.
type Store struct {
	db     *db.DB
	cipher *Cipher
}

// NewStore creates a Store backed by the given database.
func NewStore(database *db.DB, cipher *Cipher) *Store {
	return &Store{db: database, cipher: cipher}
}

// PutERP creates or replaces the ERP integration of a tenant.
func (s *Store) PutERP(ctx context.Context, tenantID string, creds erp.Credentials) error {
	if strings.TrimSpace(tenantID) == "" {
		return errors.New("tenant id is required")
	}
	if err := creds.Validate(); err != nil {
		return err
	}
	sealed, err := s.cipher.Seal([]byte(creds.Secret))
	if err != nil {
		return fmt.Errorf("sealing secret: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tenant_integrations (tenant_id, kind, url, database_name, username, secret, active)
		VALUES (?, 'erp', ?, ?, ?, ?, 1)
		ON CONFLICT(tenant_id, kind) DO UPDATE SET
			url = excluded.url, database_name = excluded.database_name,
			username = excluded.username, secret = excluded.secret,
			active = 1, updated_at = datetime('now')`,
		tenantID, strings.TrimRight(creds.URL, "/"), creds.Database, creds.Username, sealed)
	if err != nil {
		return fmt.Errorf("saving erp integration: %w", err)
	}
	return nil
}

// PutDocuments enables the document index for a tenant.
func (s *Store) PutDocuments(ctx context.Context, tenantID string) error {
	if strings.TrimSpace(tenantID) == "" {
		return errors.New("tenant id is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenant_integrations (tenant_id, kind, active) VALUES (?, 'documents', 1)
		ON CONFLICT(tenant_id, kind) DO UPDATE SET active = 1, updated_at = datetime('now')`,
		tenantID)
	if err != nil {
		return fmt.Errorf("saving documents integration: %w", err)
	}
	return nil
}

// SetActive enables or disables an integration without touching its secret.
func (s *Store) SetActive(ctx context.Context, tenantID string, kind Kind, active bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tenant_integrations SET active = ?, updated_at = datetime('now')
		WHERE tenant_id = ? AND kind = ?`, boolToInt(active), tenantID, string(kind))
	if err != nil {
		return fmt.Errorf("updating integration: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes an integration.
func (s *Store) Delete(ctx context.Context, tenantID string, kind Kind) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tenant_integrations WHERE tenant_id = ? AND kind = ?`, tenantID, string(kind))
	if err != nil {
		return fmt.Errorf("deleting integration: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Integrations lists a tenant's integrations, active or not.
func (s *Store) Integrations(ctx context.Context, tenantID string) ([]Integration, error) {
	return s.list(ctx, `WHERE tenant_id = ?`, tenantID)
}

// All lists every integration of every tenant.
func (s *Store) All(ctx context.Context) ([]Integration, error) {
	return s.list(ctx, "")
}

func (s *Store) list(ctx context.Context, where string, args ...any) ([]Integration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, kind, url, database_name, username, secret IS NOT NULL, active, updated_at
		FROM tenant_integrations `+where+` ORDER BY tenant_id, kind`, args...)
	if err != nil {
		return nil, fmt.Errorf("listing integrations: %w", err)
	}
	defer rows.Close()

	var out []Integration
	for rows.Next() {
		var in Integration
		var kind string
		var active, hasSecret int
		var updated string
		if err := rows.Scan(&in.TenantID, &kind, &in.URL, &in.Database, &in.Username, &hasSecret, &active, &updated); err != nil {
			return nil, fmt.Errorf("scanning integration: %w", err)
		}
		in.Kind = Kind(kind)
		in.Active = active == 1
		in.HasSecret = hasSecret == 1
		in.UpdatedAt = parseTimestamp(updated)
		out = append(out, in)
	}
	return out, rows.Err()
}

// Credentials decrypts the ERP credentials of a tenant. Inactive
// integrations are treated as absent.
func (s *Store) Credentials(ctx context.Context, tenantID string) (erp.Credentials, error) {
	var c erp.Credentials
	var sealed []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT url, database_name, username, secret FROM tenant_integrations
		WHERE tenant_id = ? AND kind = 'erp' AND active = 1`, tenantID).
		Scan(&c.URL, &c.Database, &c.Username, &sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return erp.Credentials{}, ErrNotFound
	}
	if err != nil {
		return erp.Credentials{}, fmt.Errorf("loading erp integration: %w", err)
	}
	if len(sealed) == 0 {
		return erp.Credentials{}, ErrNotFound
	}
	secret, err := s.cipher.Open(sealed)
	if err != nil {
		return erp.Credentials{}, fmt.Errorf("tenant %s: %w", tenantID, err)
	}
	c.Secret = string(secret)
	return c, nil
}

// parseTimestamp accepts both forms the driver hands back for DATETIME columns.
func parseTimestamp(s string) time.Time {
	if t, err := time.Parse(time.DateTime, s); err == nil {
		return t
	}
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
