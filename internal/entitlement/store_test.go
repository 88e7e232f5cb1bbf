package entitlement

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trend_trader/internal/resilience"
	"trend_trader/pkg/logging"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "entitlements.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_UnknownAccountIsInactive(t *testing.T) {
	store := newTestStore(t)

	active, err := store.IsActive(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestSQLiteStore_GrantAndRevoke(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Grant(ctx, "acct-1", time.Time{}))

	active, err := store.IsActive(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, active)

	require.NoError(t, store.Revoke(ctx, "acct-1"))

	active, err = store.IsActive(ctx, "acct-1")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestSQLiteStore_ExpiredGrantIsInactive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Grant(ctx, "acct-1", time.Now().Add(-time.Hour)))

	active, err := store.IsActive(ctx, "acct-1")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestSQLiteStore_FutureExpiryIsActive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Grant(ctx, "acct-1", time.Now().Add(time.Hour)))

	active, err := store.IsActive(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, active)
}

func TestSQLiteStore_RegrantAfterRevoke(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Grant(ctx, "acct-1", time.Time{}))
	require.NoError(t, store.Revoke(ctx, "acct-1"))
	require.NoError(t, store.Grant(ctx, "acct-1", time.Time{}))

	active, err := store.IsActive(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, active)
}

type failingGate struct {
	err error
}

func (f *failingGate) IsActive(context.Context, string) (bool, error) {
	return false, f.err
}

func TestGuarded_PassesThrough(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Grant(context.Background(), "acct-1", time.Time{}))

	guarded := NewGuarded(store, resilience.NewGuard(resilience.EntitlementDefaults(), logging.NewNop()))

	active, err := guarded.IsActive(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.True(t, active)
}

func TestGuarded_SurfacesErrors(t *testing.T) {
	boom := errors.New("db locked")
	guarded := NewGuarded(&failingGate{err: boom}, resilience.NewGuard(resilience.EntitlementDefaults(), logging.NewNop()))

	_, err := guarded.IsActive(context.Background(), "acct-1")
	assert.ErrorIs(t, err, boom)
}
