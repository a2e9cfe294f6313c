package campaign

import (
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rosterhq/roster/dedup"
	"github.com/rosterhq/roster/errors"
	rostertesting "github.com/rosterhq/roster/internal/testing"
	"github.com/rosterhq/roster/scrape"
)

type testEnv struct {
	db    *sql.DB
	store *Store
	pool  *dedup.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := rostertesting.CreateTestDB(t)
	pool := dedup.NewStore(db)
	return &testEnv{
		db:    db,
		store: NewStore(db, pool, zap.NewNop().Sugar()),
		pool:  pool,
	}
}

func seedPool(t *testing.T, pool *dedup.Store, n int) {
	t.Helper()
	records := make([]scrape.Record, n)
	for i := range records {
		records[i] = scrape.Record{
			ProfileID: fmt.Sprintf("p-%04d", i),
			Username:  fmt.Sprintf("user%04d", i),
		}
	}
	_, err := pool.MarkKnown(records)
	require.NoError(t, err)
}

func TestRunSelectsAndConsumesProfiles(t *testing.T) {
	env := newTestEnv(t)
	seedPool(t, env.pool, 10)

	c, err := env.store.Run("2026-08-31", 6)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, c.Status)
	assert.Equal(t, 6, c.TotalAssigned)

	assignments, err := env.store.Assignments(c.ID)
	require.NoError(t, err)
	assert.Len(t, assignments, 6)

	// Selected profiles are permanently consumed.
	n, err := env.pool.CountUnused()
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestRunRefusesOnInsufficientPool(t *testing.T) {
	env := newTestEnv(t)
	seedPool(t, env.pool, 3)

	_, err := env.store.Run("2026-08-31", 10)
	require.Error(t, err)
	assert.True(t, errors.IsConsistency(err))

	// No partial side effects.
	n, err := env.pool.CountUnused()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestDistributeIsAPerfectPartition(t *testing.T) {
	env := newTestEnv(t)
	seedPool(t, env.pool, 12)

	c, err := env.store.Run("2026-08-31", 12)
	require.NoError(t, err)
	require.NoError(t, env.store.Distribute(c.ID, 3, 4))

	assignments, err := env.store.Assignments(c.ID)
	require.NoError(t, err)
	require.Len(t, assignments, 12)

	// Every bucket has exactly 4 profiles, every (bucket, position) pair is
	// used exactly once, and the profile multiset is unchanged.
	slots := make(map[[2]int]bool)
	buckets := make(map[int]int)
	profiles := make(map[string]bool)
	for _, a := range assignments {
		assert.GreaterOrEqual(t, a.Bucket, 1)
		assert.LessOrEqual(t, a.Bucket, 3)
		assert.GreaterOrEqual(t, a.Position, 1)
		assert.LessOrEqual(t, a.Position, 4)

		key := [2]int{a.Bucket, a.Position}
		assert.False(t, slots[key], "slot %v assigned twice", key)
		slots[key] = true
		buckets[a.Bucket]++
		profiles[a.ProfileID] = true
	}
	for b := 1; b <= 3; b++ {
		assert.Equal(t, 4, buckets[b], "bucket %d", b)
	}
	assert.Len(t, profiles, 12)
}

func TestDistributeRefusesCountMismatch(t *testing.T) {
	env := newTestEnv(t)
	seedPool(t, env.pool, 15)

	c, err := env.store.Run("2026-08-31", 15)
	require.NoError(t, err)

	// 15 profiles cannot fill 4 buckets of 4.
	err = env.store.Distribute(c.ID, 4, 4)
	require.Error(t, err)
	assert.True(t, errors.IsConsistency(err))

	// Assignments stay unplaced.
	assignments, err := env.store.Assignments(c.ID)
	require.NoError(t, err)
	for _, a := range assignments {
		assert.Zero(t, a.Bucket)
	}
}

func TestDistributeReshufflesWhilePending(t *testing.T) {
	env := newTestEnv(t)
	seedPool(t, env.pool, 8)

	c, err := env.store.Run("2026-08-31", 8)
	require.NoError(t, err)
	require.NoError(t, env.store.Distribute(c.ID, 2, 4))

	// Re-running on a pending campaign is an idempotent re-shuffle: still a
	// perfect partition over the same profiles.
	require.NoError(t, env.store.Distribute(c.ID, 2, 4))

	assignments, err := env.store.Assignments(c.ID)
	require.NoError(t, err)
	slots := make(map[[2]int]bool)
	for _, a := range assignments {
		key := [2]int{a.Bucket, a.Position}
		assert.False(t, slots[key])
		slots[key] = true
	}
	assert.Len(t, slots, 8)
}

func TestDistributeRejectsFinalizedCampaign(t *testing.T) {
	env := newTestEnv(t)
	seedPool(t, env.pool, 4)

	c, err := env.store.Run("2026-08-31", 4)
	require.NoError(t, err)
	require.NoError(t, env.store.Distribute(c.ID, 2, 2))
	require.NoError(t, env.store.SetStatus(c.ID, StatusSuccess))

	err = env.store.Distribute(c.ID, 2, 2)
	require.Error(t, err)
	assert.True(t, errors.IsConsistency(err))
}

func TestDistributeUnknownCampaign(t *testing.T) {
	env := newTestEnv(t)
	err := env.store.Distribute("no-such-campaign", 2, 2)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestBucketAssignmentsOrdered(t *testing.T) {
	env := newTestEnv(t)
	seedPool(t, env.pool, 6)

	c, err := env.store.Run("2026-08-31", 6)
	require.NoError(t, err)
	require.NoError(t, env.store.Distribute(c.ID, 2, 3))

	bucket1, err := env.store.BucketAssignments(c.ID, 1)
	require.NoError(t, err)
	require.Len(t, bucket1, 3)
	for i, a := range bucket1 {
		assert.Equal(t, i+1, a.Position)
	}
}
