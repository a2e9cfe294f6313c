package job

import (
	"database/sql"
	"time"

	"github.com/rosterhq/roster/errors"
)

// Store handles persistence of scrape jobs.
//
// Concurrency contract: AdvanceBatch may be invoked by many workers at once
// for the same job. Each call runs in its own transaction; the
// job_batch_reports ledger makes duplicate batch-index reports no-ops, and
// counter updates are pure SQL increments, so progress is monotonically
// non-decreasing under any interleaving.
type Store struct {
	db *sql.DB
}

// NewStore creates a new job store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new job.
func (s *Store) Create(j *Job) error {
	accounts, err := marshalAccounts(j.Accounts)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO scrape_jobs (
			job_id, status, accounts, target_label, per_account_max,
			total_batches, completed_batches, failed_batches, profiles_scraped,
			progress, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.Exec(query,
		j.ID,
		j.Status,
		accounts,
		j.Options.TargetLabel,
		j.Options.PerAccountMax,
		j.TotalBatches,
		j.CompletedBatches,
		j.FailedBatches,
		j.ProfilesScraped,
		j.Progress,
		j.CreatedAt,
		j.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create job")
	}
	return nil
}

// Get retrieves a job by ID.
func (s *Store) Get(id string) (*Job, error) {
	query := `SELECT ` + jobSelectColumns + ` FROM scrape_jobs WHERE job_id = ?`

	var j Job
	err := scanJob(s.db.QueryRow(query, id), &j)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("job %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get job")
	}
	return &j, nil
}

// MarkProcessing transitions a queued job to processing and stamps started_at.
// A no-op if the job already left the queued state (idempotent under retry).
func (s *Store) MarkProcessing(id string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(`
		UPDATE scrape_jobs
		SET status = ?, started_at = ?, updated_at = ?
		WHERE job_id = ? AND status = ?`,
		StatusProcessing, now, now, id, StatusQueued,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to mark job %s processing", id)
	}
	return nil
}

// AdvanceBatch records the outcome of one batch attempt sequence.
//
// Returns the updated job and duplicate=true when this batch index was
// already reported for the job, in which case no counters change. The
// increment and the ledger insert share one transaction, so a crash between
// them cannot double-count.
func (s *Store) AdvanceBatch(jobID string, batchIndex int, outcome BatchOutcome, scraped int) (*Job, bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to begin batch report tx")
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	res, err := tx.Exec(`
		INSERT OR IGNORE INTO job_batch_reports (job_id, batch_index, outcome, reported_at)
		VALUES (?, ?, ?, ?)`,
		jobID, batchIndex, outcome, now,
	)
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed to record batch report for job %s", jobID)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to get rows affected")
	}
	if inserted == 0 {
		// Duplicate report (queue redelivery). Leave counters untouched.
		j, err := s.Get(jobID)
		if err != nil {
			return nil, true, err
		}
		return j, true, nil
	}

	completedInc, failedInc := 0, 0
	if outcome == BatchSucceeded {
		completedInc = 1
	} else {
		failedInc = 1
		scraped = 0
	}

	// Progress counts successful batches only and never exceeds 100.
	_, err = tx.Exec(`
		UPDATE scrape_jobs
		SET completed_batches = completed_batches + ?,
		    failed_batches = failed_batches + ?,
		    profiles_scraped = profiles_scraped + ?,
		    updated_at = ?
		WHERE job_id = ?`,
		completedInc, failedInc, scraped, now, jobID,
	)
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed to advance batch counters for job %s", jobID)
	}

	_, err = tx.Exec(`
		UPDATE scrape_jobs
		SET progress = MIN(100.0, completed_batches * 100.0 / MAX(total_batches, 1))
		WHERE job_id = ?`,
		jobID,
	)
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed to recompute progress for job %s", jobID)
	}

	var j Job
	err = scanJob(tx.QueryRow(`SELECT `+jobSelectColumns+` FROM scrape_jobs WHERE job_id = ?`, jobID), &j)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, errors.NewNotFoundError("job %s", jobID)
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to reload job")
	}

	if err := tx.Commit(); err != nil {
		return nil, false, errors.Wrap(err, "failed to commit batch report")
	}
	return &j, false, nil
}

// Complete transitions a processing job to completed. Idempotent: repeat
// calls after the first (or after Fail) change nothing and report
// transitioned=false, so downstream effects fire at most once.
func (s *Store) Complete(id string) (transitioned bool, err error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(`
		UPDATE scrape_jobs
		SET status = ?, completed_at = ?, updated_at = ?
		WHERE job_id = ? AND status = ?`,
		StatusCompleted, now, now, id, StatusProcessing,
	)
	if err != nil {
		return false, errors.Wrapf(err, "failed to complete job %s", id)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}
	return rows > 0, nil
}

// Fail transitions a processing or queued job to failed with an error
// message. Idempotent in the same way as Complete.
func (s *Store) Fail(id string, msg string) (transitioned bool, err error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(`
		UPDATE scrape_jobs
		SET status = ?, error_message = ?, completed_at = ?, updated_at = ?
		WHERE job_id = ? AND status IN (?, ?)`,
		StatusFailed, msg, now, now, id, StatusQueued, StatusProcessing,
	)
	if err != nil {
		return false, errors.Wrapf(err, "failed to mark job %s failed", id)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}
	return rows > 0, nil
}

// List returns jobs, optionally filtered by status, newest first.
func (s *Store) List(status *Status, limit int) ([]*Job, error) {
	var (
		query string
		args  []interface{}
	)

	base := `SELECT ` + jobSelectColumns + ` FROM scrape_jobs`
	if status != nil {
		query = base + ` WHERE status = ? ORDER BY created_at DESC LIMIT ?`
		args = []interface{}{*status, limit}
	} else {
		query = base + ` ORDER BY created_at DESC LIMIT ?`
		args = []interface{}{limit}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		var j Job
		if err := scanJob(rows, &j); err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, &j)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating jobs")
	}
	return jobs, nil
}
