package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/havenlab/haven"
)

// VaultStore implements haven.VaultStore. Item metadata lives in SQLite;
// ciphertext rides along as a BLOB column. Deletion is a soft flag so the
// audit trail stays reconstructible.
type VaultStore struct {
	base
}

var _ haven.VaultStore = (*VaultStore)(nil)

// NewVaultStore creates a VaultStore using a local SQLite file at dbPath.
func NewVaultStore(dbPath string, opts ...Option) *VaultStore {
	return &VaultStore{base: open(dbPath, opts...)}
}

// Init creates the vault table.
func (s *VaultStore) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: vault init started")

	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS vault_items (
		id TEXT NOT NULL,
		team_id TEXT NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		ciphertext BLOB NOT NULL,
		key_hash TEXT NOT NULL,
		size INTEGER NOT NULL,
		mime_type TEXT,
		created_at INTEGER NOT NULL,
		created_by TEXT NOT NULL,
		updated_at INTEGER,
		updated_by TEXT,
		deleted INTEGER NOT NULL DEFAULT 0,
		metadata TEXT,
		PRIMARY KEY (team_id, id)
	)`)
	if err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_vault_team ON vault_items(team_id, deleted)`)

	s.logger.Info("sqlite: vault init completed", "duration", time.Since(start))
	return nil
}

// PutItem inserts or replaces a vault item.
func (s *VaultStore) PutItem(ctx context.Context, item haven.VaultItem) error {
	start := time.Now()
	s.logger.Debug("sqlite: vault put", "id", item.ID, "team_id", item.TeamID, "name", item.Name, "size", item.Size)

	var metaJSON *string
	if len(item.Metadata) > 0 {
		data, _ := json.Marshal(item.Metadata)
		v := string(data)
		metaJSON = &v
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO vault_items (id, team_id, name, type, ciphertext, key_hash, size, mime_type, created_at, created_by, updated_at, updated_by, deleted, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.TeamID, item.Name, item.Type, item.Ciphertext, item.KeyHash,
		item.Size, nullStr(item.MimeType), item.CreatedAt, item.CreatedBy,
		item.UpdatedAt, nullStr(item.UpdatedBy), boolToInt(item.Deleted), metaJSON,
	)
	if err != nil {
		s.logger.Error("sqlite: vault put failed", "id", item.ID, "error", err)
		return fmt.Errorf("vault put: %w", err)
	}
	s.logger.Debug("sqlite: vault put ok", "id", item.ID, "duration", time.Since(start))
	return nil
}

// GetItem returns one item including its ciphertext. Soft-deleted items are
// still returned; callers decide whether deletion matters.
func (s *VaultStore) GetItem(ctx context.Context, teamID, itemID string) (haven.VaultItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, team_id, name, type, ciphertext, key_hash, size, mime_type, created_at, created_by, updated_at, updated_by, deleted, metadata
		 FROM vault_items WHERE team_id = ? AND id = ?`, teamID, itemID)
	item, err := scanVaultItem(row)
	if err == sql.ErrNoRows {
		return haven.VaultItem{}, haven.Ef(haven.CodeNotFound, "vault item %s not found", itemID)
	}
	if err != nil {
		return haven.VaultItem{}, fmt.Errorf("vault get: %w", err)
	}
	return item, nil
}

// ListItems returns a team's live items, newest first. Ciphertext is
// included; listings are team-local and small.
func (s *VaultStore) ListItems(ctx context.Context, teamID string) ([]haven.VaultItem, error) {
	start := time.Now()
	s.logger.Debug("sqlite: vault list", "team_id", teamID)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, team_id, name, type, ciphertext, key_hash, size, mime_type, created_at, created_by, updated_at, updated_by, deleted, metadata
		 FROM vault_items WHERE team_id = ? AND deleted = 0 ORDER BY created_at DESC`, teamID)
	if err != nil {
		return nil, fmt.Errorf("vault list: %w", err)
	}
	defer rows.Close()

	var items []haven.VaultItem
	for rows.Next() {
		item, err := scanVaultItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vault item: %w", err)
		}
		items = append(items, item)
	}
	s.logger.Debug("sqlite: vault list ok", "team_id", teamID, "count", len(items), "duration", time.Since(start))
	return items, rows.Err()
}

// MarkDeleted soft-deletes an item. Undeletion is not supported.
func (s *VaultStore) MarkDeleted(ctx context.Context, teamID, itemID, by string, at int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE vault_items SET deleted = 1, updated_at = ?, updated_by = ? WHERE team_id = ? AND id = ? AND deleted = 0`,
		at, by, teamID, itemID,
	)
	if err != nil {
		return fmt.Errorf("vault delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return haven.Ef(haven.CodeNotFound, "vault item %s not found", itemID)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *VaultStore) Close() error { return s.close() }

func scanVaultItem(sc scanner) (haven.VaultItem, error) {
	var item haven.VaultItem
	var mimeType, updatedBy, metaJSON sql.NullString
	var updatedAt sql.NullInt64
	var deleted int
	err := sc.Scan(&item.ID, &item.TeamID, &item.Name, &item.Type, &item.Ciphertext,
		&item.KeyHash, &item.Size, &mimeType, &item.CreatedAt, &item.CreatedBy,
		&updatedAt, &updatedBy, &deleted, &metaJSON)
	if err != nil {
		return haven.VaultItem{}, err
	}
	if mimeType.Valid {
		item.MimeType = mimeType.String
	}
	if updatedAt.Valid {
		item.UpdatedAt = updatedAt.Int64
	}
	if updatedBy.Valid {
		item.UpdatedBy = updatedBy.String
	}
	if metaJSON.Valid {
		_ = json.Unmarshal([]byte(metaJSON.String), &item.Metadata)
	}
	item.Deleted = deleted != 0
	return item, nil
}
