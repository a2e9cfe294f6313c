package campaign

import (
	"math/rand"

	"github.com/rosterhq/roster/errors"
)

// Distribute shuffles a campaign's assignments uniformly at random and maps
// them onto buckets buckets of size slots each: shuffled index i lands in
// bucket i/slots+1 at position i%slots+1. Every bucket ends with exactly
// slots profiles and every profile gets exactly one slot.
//
// Refuses to run unless the assignment count equals buckets*slots, and only
// runs while the campaign is pending; re-running on a pending campaign is an
// idempotent re-shuffle, re-running after finalization is rejected.
func (s *Store) Distribute(campaignID string, buckets, slots int) error {
	if buckets < 1 || slots < 1 {
		return errors.NewValidationError("buckets and slots must be positive, got %d x %d", buckets, slots)
	}

	c, err := s.Get(campaignID)
	if err != nil {
		return err
	}
	if c.Status != StatusPending {
		return errors.NewConsistencyError(
			"campaign %s is %s, distribution only runs on pending campaigns", campaignID, c.Status)
	}

	assignments, err := s.Assignments(campaignID)
	if err != nil {
		return err
	}
	if len(assignments) != buckets*slots {
		return errors.NewConsistencyError(
			"count mismatch: campaign %s has %d assignments, need exactly %d (%d buckets x %d slots)",
			campaignID, len(assignments), buckets*slots, buckets, slots)
	}

	rand.Shuffle(len(assignments), func(i, j int) {
		assignments[i], assignments[j] = assignments[j], assignments[i]
	})

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin distribution tx")
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`UPDATE daily_assignments SET bucket = ?, position = ? WHERE assignment_id = ?`)
	if err != nil {
		return errors.Wrap(err, "failed to prepare slot update")
	}
	defer stmt.Close()

	for i, a := range assignments {
		bucket := i/slots + 1
		position := i%slots + 1
		if _, err := stmt.Exec(bucket, position, a.ID); err != nil {
			return errors.Wrapf(err, "failed to place assignment %s", a.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit distribution")
	}

	s.log.Infow("campaign distributed", "campaign_id", campaignID, "buckets", buckets, "slots", slots)
	return nil
}
