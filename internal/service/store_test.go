package service

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "adid.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_CurrentGeneratesOnce(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first, err := store.Current(ctx)
	require.NoError(t, err)
	_, err = uuid.Parse(first.ID)
	require.NoError(t, err, "identifier must be a UUID")
	assert.False(t, first.LimitTrackingEnabled)

	second, err := store.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "adid.db")
	ctx := context.Background()

	store, err := OpenStore(path)
	require.NoError(t, err)
	ident, err := store.SetLimitTracking(ctx, true)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = OpenStore(path)
	require.NoError(t, err)
	defer store.Close()

	got, err := store.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, ident.ID, got.ID)
	assert.True(t, got.LimitTrackingEnabled)
}

func TestStore_ResetKeepsPreference(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	before, err := store.SetLimitTracking(ctx, true)
	require.NoError(t, err)

	after, err := store.Reset(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, before.ID, after.ID)
	assert.True(t, after.LimitTrackingEnabled)

	current, err := store.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, after.ID, current.ID)
}

func TestStore_Memory(t *testing.T) {
	store, err := OpenStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	a, err := store.Current(context.Background())
	require.NoError(t, err)
	b, err := store.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, ":memory:", store.Path())
}
