// internal/history/store_test.go
package history

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/coval-cli/api/schemas"
	"github.com/xkilldash9x/coval-cli/internal/config"
)

func testHistoryConfig(path string) config.HistoryConfig {
	return config.HistoryConfig{
		Path:        path,
		DecayFactor: 0.9,
		MinSamples:  5,
		MaxBonus:    0.1,
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := NewStore(testHistoryConfig(path), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func record(t *testing.T, store *Store, category schemas.ProblemCategory, success bool) {
	t.Helper()
	require.NoError(t, store.Record(context.Background(), schemas.HistoryRecord{
		Category: category,
		Model:    "gemini-2.5-pro",
		Success:  success,
	}))
}

func TestAdjustment_RequiresMinimumSamples(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	// Four successes is still below the five-sample gate.
	for i := 0; i < 4; i++ {
		record(t, store, schemas.CategoryTypeError, true)
	}
	adj, err := store.Adjustment(ctx, schemas.CategoryTypeError)
	require.NoError(t, err)
	assert.Zero(t, adj)

	record(t, store, schemas.CategoryTypeError, true)
	adj, err = store.Adjustment(ctx, schemas.CategoryTypeError)
	require.NoError(t, err)
	assert.Positive(t, adj)
}

func TestAdjustment_EmptyCategory(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	adj, err := store.Adjustment(context.Background(), schemas.CategoryTimeout)
	require.NoError(t, err)
	assert.Zero(t, adj)
}

func TestAdjustment_CenteredAndCapped(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	// All successes: raw rate 1.0 centers to +0.5 and caps at +0.1.
	for i := 0; i < 10; i++ {
		record(t, store, schemas.CategorySyntaxError, true)
	}
	adj, err := store.Adjustment(ctx, schemas.CategorySyntaxError)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, adj, 1e-9)

	// All failures in another category cap at the negative bound.
	for i := 0; i < 10; i++ {
		record(t, store, schemas.CategoryImportError, false)
	}
	adj, err = store.Adjustment(ctx, schemas.CategoryImportError)
	require.NoError(t, err)
	assert.InDelta(t, -0.1, adj, 1e-9)
}

func TestAdjustment_RecentOutcomesWeighMore(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "history.db")
	cfg := testHistoryConfig(path)
	cfg.MaxBonus = 0.5 // wide cap so the decay shape is observable
	store, err := NewStore(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	// Five failures followed by five successes: the successes are newest,
	// so the decayed rate must sit above the unweighted 0.5.
	for i := 0; i < 5; i++ {
		record(t, store, schemas.CategoryTestFailure, false)
	}
	for i := 0; i < 5; i++ {
		record(t, store, schemas.CategoryTestFailure, true)
	}

	adj, err := store.Adjustment(ctx, schemas.CategoryTestFailure)
	require.NoError(t, err)
	assert.Positive(t, adj)
}

func TestStats(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	record(t, store, schemas.CategoryImportError, true)
	record(t, store, schemas.CategoryImportError, false)
	record(t, store, schemas.CategoryTypeError, true)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	assert.Equal(t, schemas.CategoryImportError, stats[0].Category)
	assert.Equal(t, 2, stats[0].Total)
	assert.Equal(t, 1, stats[0].Success)
	assert.Equal(t, schemas.CategoryTypeError, stats[1].Category)
	assert.Equal(t, 1, stats[1].Total)
	assert.Equal(t, 1, stats[1].Success)
}

func TestStats_Empty(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stats)
}

func TestRecord_ConcurrentWriters(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(success bool) {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				err := store.Record(ctx, schemas.HistoryRecord{
					Category: schemas.CategoryRuntimeException,
					Success:  success,
				})
				assert.NoError(t, err)
			}
		}(i%2 == 0)
	}
	wg.Wait()

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 40, stats[0].Total)
	assert.Equal(t, 20, stats[0].Success)
}

func TestStore_PersistsAcrossOpens(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "history.db")
	cfg := testHistoryConfig(path)
	ctx := context.Background()

	store, err := NewStore(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		require.NoError(t, store.Record(ctx, schemas.HistoryRecord{
			Category: schemas.CategoryDependencyConflict,
			Success:  true,
		}))
	}
	require.NoError(t, store.Close())

	reopened, err := NewStore(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	adj, err := reopened.Adjustment(ctx, schemas.CategoryDependencyConflict)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, adj, 1e-9)
}
