// Package campaign manages daily selection of profiles and their even
// distribution across review buckets.
package campaign

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rosterhq/roster/dedup"
	"github.com/rosterhq/roster/errors"
)

// Status is the lifecycle state of a campaign.
type Status string

const (
	StatusPending  Status = "pending"
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
	StatusArchived Status = "archived"
)

// Assignment statuses.
const (
	AssignmentPending    = "pending"
	AssignmentToUnfollow = "to_unfollow"
)

// Campaign is one dated batch-selection event.
type Campaign struct {
	ID            string    `json:"campaign_id"`
	Date          string    `json:"campaign_date"`
	TotalAssigned int       `json:"total_assigned"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Assignment maps one profile to one campaign slot.
type Assignment struct {
	ID         string    `json:"assignment_id"`
	CampaignID string    `json:"campaign_id"`
	ProfileID  string    `json:"profile_id"`
	Username   string    `json:"username"`
	FullName   string    `json:"full_name,omitempty"`
	Bucket     int       `json:"bucket"`
	Position   int       `json:"position"`
	Status     string    `json:"status"`
	AssignedAt time.Time `json:"assigned_at"`
}

// Store persists campaigns and their assignments.
type Store struct {
	db   *sql.DB
	pool *dedup.Store
	log  *zap.SugaredLogger
}

// NewStore creates a campaign store.
func NewStore(db *sql.DB, pool *dedup.Store, log *zap.SugaredLogger) *Store {
	return &Store{db: db, pool: pool, log: log}
}

// Run executes the select stage for one day: draws exactly count unused
// profiles from the pool, creates a pending campaign with one assignment per
// profile and permanently marks the profiles used. Fails without side
// effects when the pool cannot cover the count.
func (s *Store) Run(date string, count int) (*Campaign, error) {
	if count < 1 {
		return nil, errors.NewValidationError("selection count must be positive, got %d", count)
	}

	profiles, err := s.pool.SelectUnused(count)
	if err != nil {
		return nil, err
	}
	if len(profiles) < count {
		return nil, errors.NewConsistencyError(
			"insufficient unused profiles: need %d, have %d", count, len(profiles))
	}

	now := time.Now().UTC()
	c := &Campaign{
		ID:            uuid.NewString(),
		Date:          date,
		TotalAssigned: count,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin campaign tx")
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO campaigns (campaign_id, campaign_date, total_assigned, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.Date, c.TotalAssigned, c.Status, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create campaign")
	}

	assignStmt, err := tx.Prepare(`
		INSERT INTO daily_assignments (assignment_id, campaign_id, profile_id, username, full_name, bucket, position, status, assigned_at)
		VALUES (?, ?, ?, ?, ?, 0, 0, ?, ?)`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to prepare assignment insert")
	}
	defer assignStmt.Close()

	// Consume the profile in the same transaction so a crash cannot leave
	// an assigned profile still selectable.
	useStmt, err := tx.Prepare(`UPDATE global_profiles SET used = 1, used_at = ? WHERE profile_id = ? AND used = 0`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to prepare used update")
	}
	defer useStmt.Close()

	for _, p := range profiles {
		if _, err := assignStmt.Exec(uuid.NewString(), c.ID, p.ProfileID, p.Username, p.FullName, AssignmentPending, now); err != nil {
			return nil, errors.Wrapf(err, "failed to assign profile %s", p.ProfileID)
		}
		if _, err := useStmt.Exec(now, p.ProfileID); err != nil {
			return nil, errors.Wrapf(err, "failed to mark profile %s used", p.ProfileID)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit campaign")
	}

	s.log.Infow("campaign created", "campaign_id", c.ID, "date", c.Date, "assigned", count)
	return c, nil
}

// Get retrieves a campaign by ID.
func (s *Store) Get(id string) (*Campaign, error) {
	var c Campaign
	err := s.db.QueryRow(`
		SELECT campaign_id, campaign_date, total_assigned, status, created_at, updated_at
		FROM campaigns WHERE campaign_id = ?`, id,
	).Scan(&c.ID, &c.Date, &c.TotalAssigned, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("campaign %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get campaign")
	}
	return &c, nil
}

// SetStatus updates a campaign's status.
func (s *Store) SetStatus(id string, status Status) error {
	res, err := s.db.Exec(`
		UPDATE campaigns SET status = ?, updated_at = ? WHERE campaign_id = ?`,
		status, time.Now().UTC(), id,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update campaign %s status", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if n == 0 {
		return errors.NewNotFoundError("campaign %s", id)
	}
	return nil
}

// Assignments returns all assignments for a campaign ordered by bucket then
// position.
func (s *Store) Assignments(campaignID string) ([]Assignment, error) {
	rows, err := s.db.Query(`
		SELECT assignment_id, campaign_id, profile_id, username, COALESCE(full_name, ''), bucket, position, status, assigned_at
		FROM daily_assignments
		WHERE campaign_id = ?
		ORDER BY bucket, position, profile_id`, campaignID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load assignments for campaign %s", campaignID)
	}
	defer rows.Close()

	var assignments []Assignment
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.ID, &a.CampaignID, &a.ProfileID, &a.Username, &a.FullName, &a.Bucket, &a.Position, &a.Status, &a.AssignedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan assignment")
		}
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating assignments")
	}
	return assignments, nil
}

// BucketAssignments returns one bucket's assignments ordered by position.
func (s *Store) BucketAssignments(campaignID string, bucket int) ([]Assignment, error) {
	all, err := s.Assignments(campaignID)
	if err != nil {
		return nil, err
	}
	var out []Assignment
	for _, a := range all {
		if a.Bucket == bucket {
			out = append(out, a)
		}
	}
	return out, nil
}
