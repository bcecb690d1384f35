package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ada/internal/domain"
)

// CursorStore persists per (tenant, channel) sync watermarks. Both the
// ingestion pipeline and the event poller use it; the semantics are the
// same: advance only after the corresponding batch has been fully handled.
type CursorStore struct {
	db *sql.DB
}

// NewCursorStore creates a cursor store on the shared database.
func NewCursorStore(db *sql.DB) *CursorStore {
	return &CursorStore{db: db}
}

// Get returns the stored watermark for (tenant, channel), or "" when the
// channel has never been synced.
func (s *CursorStore) Get(ctx context.Context, tenantID, channel string) (string, error) {
	if err := domain.ValidateTenantID(tenantID); err != nil {
		return "", err
	}
	var cursor string
	err := s.db.QueryRowContext(ctx,
		"SELECT cursor FROM sync_cursors WHERE tenant_id = ? AND channel = ?",
		tenantID, channel,
	).Scan(&cursor)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get cursor %s/%s: %w", tenantID, channel, err)
	}
	return cursor, nil
}

// Advance durably moves the watermark for (tenant, channel). Callers must
// invoke it only after the batch up to the new watermark is fully stored or
// processed.
func (s *CursorStore) Advance(ctx context.Context, tenantID, channel, cursor string) error {
	if err := domain.ValidateTenantID(tenantID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_cursors (tenant_id, channel, cursor, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tenant_id, channel) DO UPDATE SET cursor = excluded.cursor, updated_at = excluded.updated_at`,
		tenantID, channel, cursor, time.Now().UTC().Format(TimeFormat),
	)
	if err != nil {
		return fmt.Errorf("advance cursor %s/%s: %w", tenantID, channel, err)
	}
	return nil
}
