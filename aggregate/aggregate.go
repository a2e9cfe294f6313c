// Package aggregate implements the per-job barrier that merges batch results
// once every batch has reported.
//
// Workers stage each successful batch's records durably, then report the
// outcome. When completed plus failed batches reach the job's total, the
// barrier trips: staged records are merged, deduplicated against the global
// pool, written to the raw result store and the job is completed. The
// barrier is a counter state machine on the job row, so it survives restarts
// and needs no in-memory coordination.
package aggregate

import (
	"database/sql"

	"go.uber.org/zap"

	"github.com/rosterhq/roster/dedup"
	"github.com/rosterhq/roster/errors"
	"github.com/rosterhq/roster/job"
	"github.com/rosterhq/roster/scrape"
)

// Aggregator merges batch results and drives jobs to their terminal state.
type Aggregator struct {
	db        *sql.DB
	jobs      *job.Store
	pool      *dedup.Store
	chunkSize int
	log       *zap.SugaredLogger
}

// New creates an aggregator. chunkSize caps rows per bulk result insert.
func New(db *sql.DB, jobs *job.Store, pool *dedup.Store, chunkSize int, log *zap.SugaredLogger) *Aggregator {
	if chunkSize < 1 {
		chunkSize = 1000
	}
	return &Aggregator{db: db, jobs: jobs, pool: pool, chunkSize: chunkSize, log: log}
}

// ReportSuccess stages a batch's records and advances the job's barrier.
// Safe under redelivery: staging overwrites, the counter ledger ignores
// duplicate batch indexes.
func (a *Aggregator) ReportSuccess(jobID string, batchIndex int, records []scrape.Record) error {
	if err := a.stage(jobID, batchIndex, records); err != nil {
		return err
	}

	j, dup, err := a.jobs.AdvanceBatch(jobID, batchIndex, job.BatchSucceeded, len(records))
	if err != nil {
		return err
	}
	if dup {
		a.log.Debugw("ignoring duplicate batch report", "job_id", jobID, "batch_index", batchIndex)
	}
	return a.maybeFinalize(j)
}

// ReportFailure records a permanently failed batch and advances the barrier.
func (a *Aggregator) ReportFailure(jobID string, batchIndex int) error {
	j, dup, err := a.jobs.AdvanceBatch(jobID, batchIndex, job.BatchFailed, 0)
	if err != nil {
		return err
	}
	if dup {
		a.log.Debugw("ignoring duplicate batch report", "job_id", jobID, "batch_index", batchIndex)
	}
	return a.maybeFinalize(j)
}

// stage persists one batch's records so the merge can run after a restart.
// INSERT OR REPLACE keeps redelivered batches from erroring or duplicating.
func (a *Aggregator) stage(jobID string, batchIndex int, records []scrape.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := a.db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin staging tx")
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO batch_results (job_id, batch_index, profile_id, username, full_name)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "failed to prepare staging insert")
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.Exec(jobID, batchIndex, r.ProfileID, r.Username, r.FullName); err != nil {
			return errors.Wrapf(err, "failed to stage result %s for job %s", r.ProfileID, jobID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit staged results")
	}
	return nil
}

// maybeFinalize runs the merge when the barrier condition holds. The job's
// guarded terminal transition makes completion fire at most once even if two
// reports race past the barrier check.
func (a *Aggregator) maybeFinalize(j *job.Job) error {
	if j.Status != job.StatusProcessing {
		return nil
	}
	if j.CompletedBatches+j.FailedBatches < j.TotalBatches {
		return nil
	}
	return a.finalize(j)
}

func (a *Aggregator) finalize(j *job.Job) error {
	merged, err := a.loadStaged(j.ID)
	if err != nil {
		return err
	}

	ids := make([]string, len(merged))
	for i, r := range merged {
		ids[i] = r.ProfileID
	}

	known, err := a.pool.CheckKnown(ids)
	if err != nil {
		return err
	}

	var fresh []scrape.Record
	for _, r := range merged {
		if !known[r.ProfileID] {
			fresh = append(fresh, r)
		}
	}

	added, err := a.pool.MarkKnown(fresh)
	if err != nil {
		return err
	}

	if err := a.writeResults(j.ID, merged); err != nil {
		return err
	}

	transitioned, err := a.jobs.Complete(j.ID)
	if err != nil {
		return err
	}
	if transitioned {
		a.log.Infow("job completed",
			"job_id", j.ID,
			"total_batches", j.TotalBatches,
			"failed_batches", j.FailedBatches,
			"records", len(merged),
			"new_profiles", added,
		)
	}
	return nil
}

// loadStaged returns the union of all staged batch results for a job, with
// duplicate profile ids across batches collapsed to one record.
func (a *Aggregator) loadStaged(jobID string) ([]scrape.Record, error) {
	rows, err := a.db.Query(`
		SELECT profile_id, username, COALESCE(full_name, '')
		FROM batch_results
		WHERE job_id = ?
		ORDER BY batch_index, profile_id`, jobID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load staged results for job %s", jobID)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var merged []scrape.Record
	for rows.Next() {
		var r scrape.Record
		if err := rows.Scan(&r.ProfileID, &r.Username, &r.FullName); err != nil {
			return nil, errors.Wrap(err, "failed to scan staged result")
		}
		if seen[r.ProfileID] {
			continue
		}
		seen[r.ProfileID] = true
		merged = append(merged, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating staged results")
	}
	return merged, nil
}

// writeResults replaces the job's raw result rows with the merged set,
// chunked to keep individual statements bounded. The delete makes a
// re-finalize after a crash produce the same rows instead of duplicates.
func (a *Aggregator) writeResults(jobID string, records []scrape.Record) error {
	tx, err := a.db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin results tx")
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM scrape_results WHERE job_id = ?`, jobID); err != nil {
		return errors.Wrapf(err, "failed to clear results for job %s", jobID)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO scrape_results (job_id, profile_id, username, full_name, scraped_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)`)
	if err != nil {
		return errors.Wrap(err, "failed to prepare results insert")
	}
	defer stmt.Close()

	for start := 0; start < len(records); start += a.chunkSize {
		end := start + a.chunkSize
		if end > len(records) {
			end = len(records)
		}
		for _, r := range records[start:end] {
			if _, err := stmt.Exec(jobID, r.ProfileID, r.Username, r.FullName); err != nil {
				return errors.Wrapf(err, "failed to write result %s for job %s", r.ProfileID, jobID)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit results")
	}
	return nil
}

// Results returns one page of a job's merged records plus the total count.
func (a *Aggregator) Results(jobID string, offset, limit int) ([]scrape.Record, int, error) {
	var total int
	if err := a.db.QueryRow(`SELECT COUNT(*) FROM scrape_results WHERE job_id = ?`, jobID).Scan(&total); err != nil {
		return nil, 0, errors.Wrapf(err, "failed to count results for job %s", jobID)
	}

	rows, err := a.db.Query(`
		SELECT profile_id, username, COALESCE(full_name, '')
		FROM scrape_results
		WHERE job_id = ?
		ORDER BY id
		LIMIT ? OFFSET ?`, jobID, limit, offset)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "failed to load results for job %s", jobID)
	}
	defer rows.Close()

	var records []scrape.Record
	for rows.Next() {
		var r scrape.Record
		if err := rows.Scan(&r.ProfileID, &r.Username, &r.FullName); err != nil {
			return nil, 0, errors.Wrap(err, "failed to scan result")
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "error iterating results")
	}
	return records, total, nil
}
