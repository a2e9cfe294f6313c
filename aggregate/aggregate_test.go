package aggregate

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rosterhq/roster/dedup"
	rostertesting "github.com/rosterhq/roster/internal/testing"
	"github.com/rosterhq/roster/job"
	"github.com/rosterhq/roster/scrape"
)

type testEnv struct {
	agg  *Aggregator
	jobs *job.Store
	pool *dedup.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := rostertesting.CreateTestDB(t)
	jobs := job.NewStore(db)
	pool := dedup.NewStore(db)
	return &testEnv{
		agg:  New(db, jobs, pool, 1000, zap.NewNop().Sugar()),
		jobs: jobs,
		pool: pool,
	}
}

func createProcessingJob(t *testing.T, jobs *job.Store, totalBatches int) *job.Job {
	t.Helper()
	j, err := job.New([]string{"src"}, totalBatches, job.Options{PerAccountMax: 5})
	require.NoError(t, err)
	require.NoError(t, jobs.Create(j))
	require.NoError(t, jobs.MarkProcessing(j.ID))
	return j
}

func records(ids ...string) []scrape.Record {
	out := make([]scrape.Record, len(ids))
	for i, id := range ids {
		out[i] = scrape.Record{ProfileID: id, Username: "u_" + id}
	}
	return out
}

func TestBarrierWaitsForAllBatches(t *testing.T) {
	env := newTestEnv(t)
	j := createProcessingJob(t, env.jobs, 2)

	require.NoError(t, env.agg.ReportSuccess(j.ID, 0, records("a", "b")))

	got, err := env.jobs.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusProcessing, got.Status)

	require.NoError(t, env.agg.ReportSuccess(j.ID, 1, records("c")))

	got, err = env.jobs.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, got.Status)
	assert.Equal(t, 3, got.ProfilesScraped)
}

func TestMergeDeduplicatesAcrossBatches(t *testing.T) {
	env := newTestEnv(t)
	j := createProcessingJob(t, env.jobs, 2)

	require.NoError(t, env.agg.ReportSuccess(j.ID, 0, records("a", "b")))
	require.NoError(t, env.agg.ReportSuccess(j.ID, 1, records("b", "c")))

	results, total, err := env.agg.Results(j.ID, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ProfileID
	}
	assert.ElementsMatch(t, []string{"a", "b", "c"}, ids)
}

func TestPartialFailureCompletesWithFailedCount(t *testing.T) {
	env := newTestEnv(t)
	j := createProcessingJob(t, env.jobs, 3)

	require.NoError(t, env.agg.ReportSuccess(j.ID, 0, records("a")))
	require.NoError(t, env.agg.ReportFailure(j.ID, 1))
	require.NoError(t, env.agg.ReportSuccess(j.ID, 2, records("b")))

	got, err := env.jobs.Get(j.ID)
	require.NoError(t, err)
	// Partial batch loss still completes the job; total failure is reserved
	// for job-level errors.
	assert.Equal(t, job.StatusCompleted, got.Status)
	assert.Equal(t, 1, got.FailedBatches)
	assert.Equal(t, 2, got.CompletedBatches)
	assert.Less(t, got.Progress, 100.0)

	_, total, err := env.agg.Results(j.ID, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestPoolGainsOnlyUnknownProfiles(t *testing.T) {
	env := newTestEnv(t)

	// First job ingests a and b.
	j1 := createProcessingJob(t, env.jobs, 1)
	require.NoError(t, env.agg.ReportSuccess(j1.ID, 0, records("a", "b")))

	n, err := env.pool.CountUnused()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Second job re-scrapes b; pool only gains c, but the job's raw results
	// keep both.
	j2 := createProcessingJob(t, env.jobs, 1)
	require.NoError(t, env.agg.ReportSuccess(j2.ID, 0, records("b", "c")))

	n, err = env.pool.CountUnused()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, total, err := env.agg.Results(j2.ID, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestRedeliveredReportDoesNotDoubleCount(t *testing.T) {
	env := newTestEnv(t)
	j := createProcessingJob(t, env.jobs, 2)

	require.NoError(t, env.agg.ReportSuccess(j.ID, 0, records("a")))
	require.NoError(t, env.agg.ReportSuccess(j.ID, 0, records("a")))

	got, err := env.jobs.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusProcessing, got.Status)
	assert.Equal(t, 1, got.CompletedBatches)
	assert.Equal(t, 1, got.ProfilesScraped)
}

func TestResultsPagination(t *testing.T) {
	env := newTestEnv(t)
	j := createProcessingJob(t, env.jobs, 1)

	var all []scrape.Record
	for i := 0; i < 25; i++ {
		all = append(all, scrape.Record{
			ProfileID: fmt.Sprintf("p-%02d", i),
			Username:  fmt.Sprintf("user%02d", i),
		})
	}
	require.NoError(t, env.agg.ReportSuccess(j.ID, 0, all))

	page1, total, err := env.agg.Results(j.ID, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 25, total)
	assert.Len(t, page1, 10)

	page3, total, err := env.agg.Results(j.ID, 20, 10)
	require.NoError(t, err)
	assert.Equal(t, 25, total)
	assert.Len(t, page3, 5)
}
