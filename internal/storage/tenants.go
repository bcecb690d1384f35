package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ada/internal/domain"
)

// TenantDirectory lists the tenants the poller iterates each cycle.
type TenantDirectory struct {
	db *sql.DB
}

// NewTenantDirectory creates a tenant directory on the shared database.
func NewTenantDirectory(db *sql.DB) *TenantDirectory {
	return &TenantDirectory{db: db}
}

// Register adds a tenant if it is not already known.
func (d *TenantDirectory) Register(ctx context.Context, tenantID, displayName string) error {
	if err := domain.ValidateTenantID(tenantID); err != nil {
		return err
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO tenants (id, display_name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		tenantID, displayName, time.Now().UTC().Format(TimeFormat),
	)
	if err != nil {
		return fmt.Errorf("register tenant %q: %w", tenantID, err)
	}
	return nil
}

// List returns all tenant ids in registration order.
func (d *TenantDirectory) List(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT id FROM tenants ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
