package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/havenlab/haven"
)

// AuditStore implements haven.AuditStore backed by a dedicated SQLite file
// (conventionally audit_log.db). Entries are append-only; no method here or
// anywhere else mutates a written row.
type AuditStore struct {
	base
}

var _ haven.AuditStore = (*AuditStore)(nil)

// NewAuditStore creates an AuditStore using a local SQLite file at dbPath.
func NewAuditStore(dbPath string, opts ...Option) *AuditStore {
	return &AuditStore{base: open(dbPath, opts...)}
}

// Init creates the audit table.
func (s *AuditStore) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: audit init started")

	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS audit_entries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		action TEXT NOT NULL,
		resource TEXT,
		resource_id TEXT,
		ip TEXT,
		details TEXT,
		created_at INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_entries(created_at)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_audit_user ON audit_entries(user_id)`)

	s.logger.Info("sqlite: audit init completed", "duration", time.Since(start))
	return nil
}

// Append durably writes one audit entry.
func (s *AuditStore) Append(ctx context.Context, e haven.AuditEntry) error {
	start := time.Now()
	s.logger.Debug("sqlite: audit append", "id", e.ID, "action", e.Action, "user_id", e.UserID)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_entries (id, user_id, action, resource, resource_id, ip, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.Action, nullStr(e.Resource), nullStr(e.ResourceID), nullStr(e.IP), e.Details, e.CreatedAt,
	)
	if err != nil {
		s.logger.Error("sqlite: audit append failed", "id", e.ID, "error", err)
		return fmt.Errorf("audit append: %w", err)
	}
	s.logger.Debug("sqlite: audit append ok", "id", e.ID, "duration", time.Since(start))
	return nil
}

// Recent returns the newest entries, newest first.
func (s *AuditStore) Recent(ctx context.Context, limit int) ([]haven.AuditEntry, error) {
	start := time.Now()
	s.logger.Debug("sqlite: audit recent", "limit", limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, action, resource, resource_id, ip, details, created_at
		 FROM audit_entries ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit recent: %w", err)
	}
	defer rows.Close()

	var entries []haven.AuditEntry
	for rows.Next() {
		var e haven.AuditEntry
		var resource, resourceID, ip sql.NullString
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &resource, &resourceID, &ip, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if resource.Valid {
			e.Resource = resource.String
		}
		if resourceID.Valid {
			e.ResourceID = resourceID.String
		}
		if ip.Valid {
			e.IP = ip.String
		}
		entries = append(entries, e)
	}
	s.logger.Debug("sqlite: audit recent ok", "count", len(entries), "duration", time.Since(start))
	return entries, rows.Err()
}

// Count returns the total number of entries.
func (s *AuditStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("audit count: %w", err)
	}
	return n, nil
}

// Close closes the underlying database connection.
func (s *AuditStore) Close() error { return s.close() }
