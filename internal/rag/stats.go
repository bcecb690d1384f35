package rag

import "context"

// IndexStats is the operator-facing snapshot of a tenant's index.
type IndexStats struct {
	TenantID  string            `json:"tenant_id"`
	Documents int               `json:"documents"`
	Cursors   map[string]string `json:"cursors"`
}

// Stats reports document count and ingestion watermarks for a tenant.
func (ig *Ingestor) Stats(ctx context.Context, tenantID string) (*IndexStats, error) {
	count, err := ig.index.Count(tenantID)
	if err != nil {
		return nil, err
	}
	cursors := make(map[string]string)
	for _, channel := range []string{cursorEmails, cursorCRMContacts, cursorCRMNotes} {
		cursor, err := ig.cursors.Get(ctx, tenantID, channel)
		if err != nil {
			return nil, err
		}
		if cursor != "" {
			cursors[channel] = cursor
		}
	}
	return &IndexStats{TenantID: tenantID, Documents: count, Cursors: cursors}, nil
}
