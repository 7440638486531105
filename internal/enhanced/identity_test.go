// ABOUTME: Tests for instance identity resolution
// ABOUTME: Covers override precedence, lazy creation, races and scope memoization

package enhanced

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/tms-core/internal/store"
)

func TestIdentity_OverrideNeverTouchesStore(t *testing.T) {
	kv := store.NewMockStore()
	kv.Err = errors.New("store must not be used")

	id, err := NewIdentity(kv, "configured-id").Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "configured-id", id)
	assert.Equal(t, 0, kv.Writes)
}

func TestIdentity_CreatesOnceAndIsStable(t *testing.T) {
	kv := store.NewMockStore()
	ctx := context.Background()

	first, err := NewIdentity(kv, "").Resolve(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, first)

	// A second Identity stands in for another process.
	second, err := NewIdentity(kv, "").Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	persisted, err := kv.Get(ctx, store.KeyInstanceID)
	require.NoError(t, err)
	assert.Equal(t, first, persisted)
}

func TestIdentity_OverrideWinsOverPersisted(t *testing.T) {
	kv := store.NewMockStore()
	ctx := context.Background()

	persisted, err := NewIdentity(kv, "").Resolve(ctx)
	require.NoError(t, err)

	id, err := NewIdentity(kv, "explicit").Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "explicit", id)

	// The override is never written through.
	stored, err := kv.Get(ctx, store.KeyInstanceID)
	require.NoError(t, err)
	assert.Equal(t, persisted, stored)
}

func TestIdentity_LoserOfRaceUsesWinnerValue(t *testing.T) {
	kv := store.NewMockStore()
	ctx := context.Background()

	idn := NewIdentity(kv, "")
	idn.newID = func() (string, error) {
		// Another process persists between our read and our insert.
		_, err := kv.CreateIfAbsent(ctx, store.KeyInstanceID, "winner")
		require.NoError(t, err)
		return "loser", nil
	}

	id, err := idn.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "winner", id)
}

func TestIdentity_ConcurrentFirstResolveAgrees(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "core.db")
	ctx := context.Background()

	const n = 4
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		kv, err := store.NewSQLiteStore(dbPath)
		require.NoError(t, err)
		t.Cleanup(func() { kv.Close() })

		wg.Add(1)
		go func(i int, kv store.KeyValueStore) {
			defer wg.Done()
			id, err := NewIdentity(kv, "").Resolve(ctx)
			assert.NoError(t, err)
			ids[i] = id
		}(i, kv)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Equal(t, ids[0], ids[i])
	}
}

func TestIdentity_StoreFailurePropagates(t *testing.T) {
	kv := store.NewMockStore()
	kv.Err = errors.New("database is locked")

	_, err := NewIdentity(kv, "").Resolve(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, kv.Err)
}

func TestIdentity_RepairsBlankRow(t *testing.T) {
	kv := store.NewMockStore()
	ctx := context.Background()
	require.NoError(t, kv.Upsert(ctx, store.KeyInstanceID, ""))

	id, err := NewIdentity(kv, "").Resolve(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	again, err := NewIdentity(kv, "").Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

// racingRepairStore lets another process repair the blank row just before
// this process's own swap.
type racingRepairStore struct {
	*store.MockStore
	competitor string
}

func (r *racingRepairStore) CompareAndSwap(ctx context.Context, key, oldValue, newValue string) (bool, error) {
	if _, err := r.MockStore.CompareAndSwap(ctx, key, oldValue, r.competitor); err != nil {
		return false, err
	}
	return r.MockStore.CompareAndSwap(ctx, key, oldValue, newValue)
}

func TestIdentity_BlankRowRepairRaceUsesWinnerValue(t *testing.T) {
	kv := &racingRepairStore{MockStore: store.NewMockStore(), competitor: "other-repair"}
	ctx := context.Background()
	require.NoError(t, kv.Upsert(ctx, store.KeyInstanceID, ""))

	idn := NewIdentity(kv, "")
	idn.newID = func() (string, error) { return "mine", nil }

	id, err := idn.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "other-repair", id)

	stored, err := kv.Get(ctx, store.KeyInstanceID)
	require.NoError(t, err)
	assert.Equal(t, "other-repair", stored)
}

func TestIdentity_ConcurrentBlankRepairAgrees(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "core.db")
	ctx := context.Background()

	seed, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, seed.Upsert(ctx, store.KeyInstanceID, ""))
	require.NoError(t, seed.Close())

	const n = 4
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		kv, err := store.NewSQLiteStore(dbPath)
		require.NoError(t, err)
		t.Cleanup(func() { kv.Close() })

		wg.Add(1)
		go func(i int, kv store.KeyValueStore) {
			defer wg.Done()
			id, err := NewIdentity(kv, "").Resolve(ctx)
			assert.NoError(t, err)
			ids[i] = id
		}(i, kv)
	}
	wg.Wait()

	assert.NotEmpty(t, ids[0])
	for i := 1; i < n; i++ {
		assert.Equal(t, ids[0], ids[i])
	}
}

func TestIdentity_ScopeMemoizes(t *testing.T) {
	kv := store.NewMockStore()
	ctx := WithScope(context.Background())
	idn := NewIdentity(kv, "")

	first, err := idn.Resolve(ctx)
	require.NoError(t, err)

	// With the store down, the scoped value is still served.
	kv.Err = errors.New("gone")
	second, err := idn.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// A fresh scope goes back to the store.
	_, err = idn.Resolve(WithScope(context.Background()))
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestIdentity_NoScopeRereadsEveryCall(t *testing.T) {
	kv := store.NewMockStore()
	ctx := context.Background()
	idn := NewIdentity(kv, "")

	_, err := idn.Resolve(ctx)
	require.NoError(t, err)

	kv.Err = errors.New("gone")
	_, err = idn.Resolve(ctx)
	assert.ErrorIs(t, err, ErrPersistence)
}
