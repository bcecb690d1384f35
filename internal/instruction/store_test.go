package instruction

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ada/internal/domain"
	"ada/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "instructions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db, nil)
}

func TestAddAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	added, err := store.Add(ctx, "tenant-a", "when a new customer emails, create a CRM contact")
	require.NoError(t, err)
	assert.True(t, added.Active)

	got, err := store.Get(ctx, added.ID)
	require.NoError(t, err)
	assert.Equal(t, added.Text, got.Text)
	assert.Equal(t, "tenant-a", got.TenantID)
}

func TestAddValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var vErr *domain.ValidationError
	_, err := store.Add(ctx, "", "text")
	assert.ErrorAs(t, err, &vErr)
	_, err = store.Add(ctx, "tenant-a", "  ")
	assert.ErrorAs(t, err, &vErr)
}

func TestListActiveScopedAndOrdered(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.Add(ctx, "tenant-a", "first rule")
	require.NoError(t, err)
	second, err := store.Add(ctx, "tenant-a", "second rule")
	require.NoError(t, err)
	_, err = store.Add(ctx, "tenant-b", "other tenant rule")
	require.NoError(t, err)

	active, err := store.ListActive(ctx, "tenant-a")
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, first.ID, active[0].ID)
	assert.Equal(t, second.ID, active[1].ID)
}

func TestDeactivate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	added, err := store.Add(ctx, "tenant-a", "retire me")
	require.NoError(t, err)
	require.NoError(t, store.Deactivate(ctx, added.ID))

	active, err := store.ListActive(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Empty(t, active)

	// The row survives for the audit trail.
	got, err := store.Get(ctx, added.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	assert.Error(t, store.Deactivate(ctx, "missing"))
}
