// Package lifecycle ages out campaign assignments and raw records on a
// periodic sweep.
//
// An assignment created on day 0 stays pending through day 6, flips to
// to_unfollow during day 7 and is purged from working storage at day 8.
// The permanent profile pool is never touched. Each sweep step is
// independently retryable; one step failing does not block the others.
package lifecycle

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/rosterhq/roster/campaign"
	"github.com/rosterhq/roster/errors"
)

// Summary reports what one sweep changed.
type Summary struct {
	UnfollowMarked    int64 `json:"unfollow_marked"`
	AssignmentsPurged int64 `json:"assignments_purged"`
	ResultsPurged     int64 `json:"results_purged"`
	CampaignsArchived int64 `json:"campaigns_archived"`
	CampaignsPurged   int64 `json:"campaigns_purged"`
}

// Sweeper runs the lifecycle sweep.
type Sweeper struct {
	db                *sql.DB
	unfollowAfterDays int
	purgeAfterDays    int
	now               func() time.Time
	log               *zap.SugaredLogger
}

// NewSweeper creates a sweeper with the given day boundaries.
func NewSweeper(db *sql.DB, unfollowAfterDays, purgeAfterDays int, log *zap.SugaredLogger) *Sweeper {
	return &Sweeper{
		db:                db,
		unfollowAfterDays: unfollowAfterDays,
		purgeAfterDays:    purgeAfterDays,
		now:               func() time.Time { return time.Now().UTC() },
		log:               log.Named("lifecycle"),
	}
}

// WithClock overrides the sweeper's time source.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Run sweeps on the given interval until the context is cancelled. One
// sweep runs immediately on start.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.sweepAndLog()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepAndLog()
		}
	}
}

func (s *Sweeper) sweepAndLog() {
	summary, err := s.Sweep()
	if err != nil {
		s.log.Errorw("lifecycle sweep finished with errors", "error", err, "summary", summary)
		return
	}
	if summary.UnfollowMarked+summary.AssignmentsPurged+summary.ResultsPurged+summary.CampaignsArchived+summary.CampaignsPurged > 0 {
		s.log.Infow("lifecycle sweep",
			"unfollow_marked", summary.UnfollowMarked,
			"assignments_purged", summary.AssignmentsPurged,
			"results_purged", summary.ResultsPurged,
			"campaigns_archived", summary.CampaignsArchived,
			"campaigns_purged", summary.CampaignsPurged,
		)
	}
}

// Sweep runs all lifecycle steps once. Step errors are joined and returned
// alongside the partial summary; later steps still run when earlier ones
// fail.
func (s *Sweeper) Sweep() (Summary, error) {
	var summary Summary
	var errs []error

	now := s.now()
	unfollowCutoff := now.AddDate(0, 0, -s.unfollowAfterDays)
	purgeCutoff := now.AddDate(0, 0, -s.purgeAfterDays)

	marked, err := s.markUnfollow(unfollowCutoff, purgeCutoff)
	if err != nil {
		errs = append(errs, err)
	}
	summary.UnfollowMarked = marked

	assignments, results, err := s.purge(purgeCutoff)
	if err != nil {
		errs = append(errs, err)
	}
	summary.AssignmentsPurged = assignments
	summary.ResultsPurged = results

	archived, err := s.archiveCampaigns()
	if err != nil {
		errs = append(errs, err)
	}
	summary.CampaignsArchived = archived

	purgedCampaigns, err := s.purgeCampaigns(purgeCutoff)
	if err != nil {
		errs = append(errs, err)
	}
	summary.CampaignsPurged = purgedCampaigns

	return summary, errors.Join(errs...)
}

// markUnfollow flips pending assignments inside the unfollow window, i.e.
// older than the day-7 boundary but not yet past the purge boundary.
func (s *Sweeper) markUnfollow(unfollowCutoff, purgeCutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`
		UPDATE daily_assignments
		SET status = ?
		WHERE status = ? AND assigned_at <= ? AND assigned_at > ?`,
		campaign.AssignmentToUnfollow, campaign.AssignmentPending, unfollowCutoff, purgeCutoff,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to mark assignments for unfollow")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return n, nil
}

// purge deletes aged-out assignments and raw scrape records. The dedup pool
// keeps its rows forever.
func (s *Sweeper) purge(cutoff time.Time) (assignments, results int64, err error) {
	res, err := s.db.Exec(`DELETE FROM daily_assignments WHERE assigned_at <= ?`, cutoff)
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to purge assignments")
	}
	assignments, err = res.RowsAffected()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get rows affected")
	}

	res, err = s.db.Exec(`DELETE FROM scrape_results WHERE scraped_at <= ?`, cutoff)
	if err != nil {
		return assignments, 0, errors.Wrap(err, "failed to purge raw records")
	}
	results, err = res.RowsAffected()
	if err != nil {
		return assignments, 0, errors.Wrap(err, "failed to get rows affected")
	}
	return assignments, results, nil
}

// archiveCampaigns archives non-archived campaigns with no remaining
// assignments.
func (s *Sweeper) archiveCampaigns() (int64, error) {
	res, err := s.db.Exec(`
		UPDATE campaigns
		SET status = ?, updated_at = ?
		WHERE status != ?
		  AND NOT EXISTS (
			SELECT 1 FROM daily_assignments WHERE daily_assignments.campaign_id = campaigns.campaign_id
		  )`,
		campaign.StatusArchived, s.now(), campaign.StatusArchived,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to archive campaigns")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return n, nil
}

// purgeCampaigns deletes archived campaigns past the purge boundary. Only
// archived rows qualify, so a campaign is never removed before a sweep has
// observed it drained; the no-assignments check guards against rows archived
// by hand.
func (s *Sweeper) purgeCampaigns(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`
		DELETE FROM campaigns
		WHERE status = ? AND created_at <= ?
		  AND NOT EXISTS (
			SELECT 1 FROM daily_assignments WHERE daily_assignments.campaign_id = campaigns.campaign_id
		  )`,
		campaign.StatusArchived, cutoff,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to purge archived campaigns")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return n, nil
}
