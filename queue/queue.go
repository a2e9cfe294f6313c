// Package queue implements a durable at-least-once task queue on SQLite.
//
// Messages carry one batch of accounts for one job. A dequeue claims the
// oldest visible message by flipping it to inflight; the claim is released
// either by Ack (delete) or Nack (requeue with a delay). Messages stuck
// inflight past a visibility timeout are reclaimed, so a worker crash
// mid-batch results in redelivery rather than loss.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rosterhq/roster/errors"
)

const (
	statusQueued   = "queued"
	statusInflight = "inflight"
)

// Payload is the body of a batch-execution message.
type Payload struct {
	Accounts      []string `json:"accounts"`
	TargetLabel   string   `json:"target_label,omitempty"`
	PerAccountMax int      `json:"per_account_max"`
}

// Message is one claimed or pending task.
type Message struct {
	ID         int64
	JobID      string
	BatchIndex int
	Payload    Payload
	Attempts   int
	CreatedAt  time.Time
}

// Queue is a SQLite-backed message queue.
type Queue struct {
	db *sql.DB
}

// New creates a queue over the given database.
func New(db *sql.DB) *Queue {
	return &Queue{db: db}
}

// Enqueue appends one message per batch, all visible immediately. The
// inserts share a transaction so a job fans out all of its batches or none.
func (q *Queue) Enqueue(jobID string, batches []Payload) error {
	if len(batches) == 0 {
		return errors.NewValidationError("cannot enqueue zero batches for job %s", jobID)
	}

	tx, err := q.db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin enqueue tx")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	stmt, err := tx.Prepare(`
		INSERT INTO task_messages (job_id, batch_index, payload, attempts, status, visible_at, created_at)
		VALUES (?, ?, ?, 0, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "failed to prepare enqueue statement")
	}
	defer stmt.Close()

	for i, p := range batches {
		body, err := json.Marshal(p)
		if err != nil {
			return errors.Wrapf(err, "failed to marshal payload for batch %d", i)
		}
		if _, err := stmt.Exec(jobID, i, string(body), statusQueued, now, now); err != nil {
			return errors.Wrapf(err, "failed to enqueue batch %d for job %s", i, jobID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit enqueue")
	}
	return nil
}

// Dequeue claims the oldest visible message. Returns (nil, nil) when the
// queue is empty. The claim is optimistic: a concurrent claimer may win the
// same row, in which case the losing update matches zero rows and we retry
// with the next candidate.
func (q *Queue) Dequeue(ctx context.Context) (*Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		now := time.Now().UTC()

		var (
			id         int64
			jobID      string
			batchIndex int
			payload    string
			attempts   int
			createdAt  time.Time
		)
		err := q.db.QueryRowContext(ctx, `
			SELECT id, job_id, batch_index, payload, attempts, created_at
			FROM task_messages
			WHERE status = ? AND visible_at <= ?
			ORDER BY visible_at, id
			LIMIT 1`,
			statusQueued, now,
		).Scan(&id, &jobID, &batchIndex, &payload, &attempts, &createdAt)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to select queue candidate")
		}

		res, err := q.db.ExecContext(ctx, `
			UPDATE task_messages
			SET status = ?, claimed_at = ?, attempts = attempts + 1
			WHERE id = ? AND status = ?`,
			statusInflight, now, id, statusQueued,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to claim queue message")
		}
		claimed, err := res.RowsAffected()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get rows affected")
		}
		if claimed == 0 {
			// Lost the race for this row.
			continue
		}

		var p Payload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal payload for message %d", id)
		}

		return &Message{
			ID:         id,
			JobID:      jobID,
			BatchIndex: batchIndex,
			Payload:    p,
			Attempts:   attempts + 1,
			CreatedAt:  createdAt,
		}, nil
	}
}

// Ack removes a processed message.
func (q *Queue) Ack(id int64) error {
	if _, err := q.db.Exec(`DELETE FROM task_messages WHERE id = ?`, id); err != nil {
		return errors.Wrapf(err, "failed to ack message %d", id)
	}
	return nil
}

// Nack releases a claimed message back to the queue, delayed by the given
// duration.
func (q *Queue) Nack(id int64, delay time.Duration) error {
	_, err := q.db.Exec(`
		UPDATE task_messages
		SET status = ?, claimed_at = NULL, visible_at = ?
		WHERE id = ?`,
		statusQueued, time.Now().UTC().Add(delay), id,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to nack message %d", id)
	}
	return nil
}

// ReclaimStale requeues messages claimed longer ago than the cutoff. Run at
// startup and periodically so crashed workers cannot strand their batches.
// Returns the number of messages reclaimed.
func (q *Queue) ReclaimStale(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := q.db.Exec(`
		UPDATE task_messages
		SET status = ?, claimed_at = NULL, visible_at = ?
		WHERE status = ? AND claimed_at <= ?`,
		statusQueued, time.Now().UTC(), statusInflight, cutoff,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to reclaim stale messages")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return n, nil
}

// PendingCount returns the number of messages not yet acked for a job.
func (q *Queue) PendingCount(jobID string) (int, error) {
	var n int
	err := q.db.QueryRow(
		`SELECT COUNT(*) FROM task_messages WHERE job_id = ?`, jobID,
	).Scan(&n)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to count pending messages for job %s", jobID)
	}
	return n, nil
}
