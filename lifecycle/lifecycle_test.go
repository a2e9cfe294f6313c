package lifecycle

import (
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rosterhq/roster/campaign"
	rostertesting "github.com/rosterhq/roster/internal/testing"
)

var testNow = time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

func newTestSweeper(t *testing.T, db *sql.DB) *Sweeper {
	t.Helper()
	return NewSweeper(db, 7, 8, zap.NewNop().Sugar()).
		WithClock(func() time.Time { return testNow })
}

func insertCampaign(t *testing.T, db *sql.DB, id string, status campaign.Status) {
	t.Helper()
	insertCampaignAged(t, db, id, status, 0)
}

func insertCampaignAged(t *testing.T, db *sql.DB, id string, status campaign.Status, ageDays int) {
	t.Helper()
	createdAt := testNow.AddDate(0, 0, -ageDays)
	_, err := db.Exec(`
		INSERT INTO campaigns (campaign_id, campaign_date, total_assigned, status, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?, ?)`,
		id, "2026-08-31", status, createdAt, createdAt)
	require.NoError(t, err)
}

func insertAssignment(t *testing.T, db *sql.DB, campaignID string, ageDays int, status string) string {
	t.Helper()
	id := fmt.Sprintf("a-%s-%d-%s", campaignID, ageDays, status)
	_, err := db.Exec(`
		INSERT INTO daily_assignments (assignment_id, campaign_id, profile_id, username, bucket, position, status, assigned_at)
		VALUES (?, ?, ?, ?, 1, 1, ?, ?)`,
		id, campaignID, "p-"+id, "u-"+id, status, testNow.AddDate(0, 0, -ageDays))
	require.NoError(t, err)
	return id
}

func assignmentStatus(t *testing.T, db *sql.DB, id string) (string, bool) {
	t.Helper()
	var status string
	err := db.QueryRow(`SELECT status FROM daily_assignments WHERE assignment_id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return "", false
	}
	require.NoError(t, err)
	return status, true
}

func TestSweepDayBoundaries(t *testing.T) {
	db := rostertesting.CreateTestDB(t)
	insertCampaign(t, db, "c1", campaign.StatusPending)

	fresh := insertAssignment(t, db, "c1", 0, campaign.AssignmentPending)
	daySix := insertAssignment(t, db, "c1", 6, campaign.AssignmentPending)
	daySeven := insertAssignment(t, db, "c1", 7, campaign.AssignmentPending)
	dayEight := insertAssignment(t, db, "c1", 8, campaign.AssignmentPending)
	dayNine := insertAssignment(t, db, "c1", 9, campaign.AssignmentToUnfollow)

	summary, err := newTestSweeper(t, db).Sweep()
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.UnfollowMarked)
	assert.Equal(t, int64(2), summary.AssignmentsPurged)

	status, ok := assignmentStatus(t, db, fresh)
	require.True(t, ok)
	assert.Equal(t, campaign.AssignmentPending, status)

	status, ok = assignmentStatus(t, db, daySix)
	require.True(t, ok)
	assert.Equal(t, campaign.AssignmentPending, status)

	status, ok = assignmentStatus(t, db, daySeven)
	require.True(t, ok)
	assert.Equal(t, campaign.AssignmentToUnfollow, status)

	_, ok = assignmentStatus(t, db, dayEight)
	assert.False(t, ok)
	_, ok = assignmentStatus(t, db, dayNine)
	assert.False(t, ok)
}

func TestSweepPurgesAgedRawRecords(t *testing.T) {
	db := rostertesting.CreateTestDB(t)

	insert := func(id string, ageDays int) {
		_, err := db.Exec(`
			INSERT INTO scrape_results (job_id, profile_id, username, scraped_at)
			VALUES ('j1', ?, ?, ?)`,
			id, "u-"+id, testNow.AddDate(0, 0, -ageDays))
		require.NoError(t, err)
	}
	insert("old", 9)
	insert("recent", 3)

	// The pool row for the purged profile must survive.
	_, err := db.Exec(`
		INSERT INTO global_profiles (profile_id, username, used, added_at)
		VALUES ('old', 'u-old', 1, ?)`, testNow.AddDate(0, 0, -9))
	require.NoError(t, err)

	summary, err := newTestSweeper(t, db).Sweep()
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.ResultsPurged)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM scrape_results`).Scan(&n))
	assert.Equal(t, 1, n)
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM global_profiles`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestSweepArchivesDrainedCampaigns(t *testing.T) {
	db := rostertesting.CreateTestDB(t)

	insertCampaign(t, db, "drained", campaign.StatusSuccess)
	insertAssignment(t, db, "drained", 10, campaign.AssignmentToUnfollow)

	insertCampaign(t, db, "active", campaign.StatusSuccess)
	insertAssignment(t, db, "active", 2, campaign.AssignmentPending)

	summary, err := newTestSweeper(t, db).Sweep()
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.CampaignsArchived)

	var status string
	require.NoError(t, db.QueryRow(`SELECT status FROM campaigns WHERE campaign_id = 'drained'`).Scan(&status))
	assert.Equal(t, string(campaign.StatusArchived), status)
	require.NoError(t, db.QueryRow(`SELECT status FROM campaigns WHERE campaign_id = 'active'`).Scan(&status))
	assert.Equal(t, string(campaign.StatusSuccess), status)
}

func TestSweepPurgesAgedArchivedCampaigns(t *testing.T) {
	db := rostertesting.CreateTestDB(t)

	insertCampaignAged(t, db, "aged-archived", campaign.StatusArchived, 10)
	insertCampaignAged(t, db, "aged-success", campaign.StatusSuccess, 10)
	insertAssignment(t, db, "aged-success", 2, campaign.AssignmentPending)
	insertCampaignAged(t, db, "fresh-archived", campaign.StatusArchived, 2)

	summary, err := newTestSweeper(t, db).Sweep()
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.CampaignsPurged)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM campaigns WHERE campaign_id = 'aged-archived'`).Scan(&n))
	assert.Zero(t, n)
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM campaigns WHERE campaign_id IN ('aged-success', 'fresh-archived')`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestSweepIsIdempotent(t *testing.T) {
	db := rostertesting.CreateTestDB(t)
	insertCampaign(t, db, "c1", campaign.StatusPending)
	insertAssignment(t, db, "c1", 7, campaign.AssignmentPending)

	sweeper := newTestSweeper(t, db)
	summary, err := sweeper.Sweep()
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.UnfollowMarked)

	summary, err = sweeper.Sweep()
	require.NoError(t, err)
	assert.Zero(t, summary.UnfollowMarked)
	assert.Zero(t, summary.AssignmentsPurged)
}
