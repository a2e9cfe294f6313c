// Package worker runs the pool of batch executors consuming the task queue.
package worker

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rosterhq/roster/aggregate"
	"github.com/rosterhq/roster/errors"
	"github.com/rosterhq/roster/job"
	"github.com/rosterhq/roster/queue"
	"github.com/rosterhq/roster/retry"
	"github.com/rosterhq/roster/scrape"
)

// Config controls the worker pool.
type Config struct {
	Workers       int           // concurrent workers
	PollInterval  time.Duration // idle dequeue cadence
	ScrapeTimeout time.Duration // per-attempt bound on the scraper call
	ReclaimAfter  time.Duration // inflight messages older than this are requeued
	Retry         retry.Policy  // per-batch retry policy for transient failures
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workers:       4,
		PollInterval:  time.Second,
		ScrapeTimeout: 2 * time.Minute,
		ReclaimAfter:  10 * time.Minute,
		Retry: retry.Policy{
			MaxAttempts: 3,
			BaseDelay:   2 * time.Second,
			MaxDelay:    10 * time.Minute,
		},
	}
}

// Pool consumes batch messages, runs them against the scraper and reports
// outcomes to the aggregator. Exactly one success or failure report is
// emitted per batch attempt sequence, not per retry.
type Pool struct {
	queue   *queue.Queue
	jobs    *job.Store
	agg     *aggregate.Aggregator
	scraper scrape.Scraper
	cfg     Config

	parentCtx context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex

	log *zap.SugaredLogger
}

// NewPool creates a worker pool. Call Start to begin consuming.
func NewPool(ctx context.Context, q *queue.Queue, jobs *job.Store, agg *aggregate.Aggregator, scraper scrape.Scraper, cfg Config, log *zap.SugaredLogger) *Pool {
	workerCtx, cancel := context.WithCancel(ctx)
	return &Pool{
		queue:     q,
		jobs:      jobs,
		agg:       agg,
		scraper:   scraper,
		cfg:       cfg,
		parentCtx: ctx,
		ctx:       workerCtx,
		cancel:    cancel,
		log:       log.Named("worker"),
	}
}

// Start reclaims messages stranded by a previous crash and spawns the
// workers. Safe to call again after Stop.
func (p *Pool) Start() {
	p.mu.Lock()
	select {
	case <-p.ctx.Done():
		p.ctx, p.cancel = context.WithCancel(p.parentCtx)
	default:
	}
	p.mu.Unlock()

	if n, err := p.queue.ReclaimStale(p.cfg.ReclaimAfter); err != nil {
		p.log.Warnw("failed to reclaim stale messages", "error", err)
	} else if n > 0 {
		p.log.Infow("reclaimed stale messages from previous run", "count", n)
	}

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop cancels the workers and waits for in-flight batches, bounded by a
// timeout so shutdown cannot hang on a stuck scraper call.
func (p *Pool) Stop() {
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Infow("worker pool stopped")
	case <-time.After(30 * time.Second):
		p.log.Warnw("worker pool stop timed out, messages will be reclaimed")
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	errorCount := 0
	const maxConsecutiveErrors = 5
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if err := p.processNext(); err != nil {
				select {
				case <-p.ctx.Done():
					return
				default:
				}
				if errors.Is(err, sql.ErrConnDone) {
					return
				}
				errorCount++
				p.log.Errorw("worker error", "worker_id", id, "error", err, "consecutive_errors", errorCount)
				if errorCount >= maxConsecutiveErrors {
					p.log.Warnw("worker backing off", "worker_id", id, "backoff", backoff)
					time.Sleep(backoff)
					backoff *= 2
					if backoff > maxBackoff {
						backoff = maxBackoff
					}
				}
			} else {
				errorCount = 0
				backoff = time.Second
			}
		}
	}
}

// processNext handles one message end to end. Returns nil when the queue is
// empty.
func (p *Pool) processNext() error {
	msg, err := p.queue.Dequeue(p.ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return errors.Wrap(err, "failed to dequeue")
	}
	if msg == nil {
		return nil
	}

	// The first claim of any batch moves the job off queued.
	if err := p.jobs.MarkProcessing(msg.JobID); err != nil {
		p.log.Warnw("failed to mark job processing", "job_id", msg.JobID, "error", err)
	}

	records, err := p.executeBatch(msg)
	if err != nil {
		select {
		case <-p.ctx.Done():
			// Shutdown mid-batch. Release the claim so another worker picks
			// it up; the batch report ledger absorbs any double execution.
			if nackErr := p.queue.Nack(msg.ID, 0); nackErr != nil {
				p.log.Errorw("failed to release message on shutdown", "message_id", msg.ID, "error", nackErr)
			}
			return nil
		default:
		}

		p.log.Warnw("batch failed permanently",
			"job_id", msg.JobID,
			"batch_index", msg.BatchIndex,
			"attempts", p.cfg.Retry.MaxAttempts,
			"error", err,
		)
		if err := p.agg.ReportFailure(msg.JobID, msg.BatchIndex); err != nil {
			// Reporting failed; leave the message for redelivery.
			if nackErr := p.queue.Nack(msg.ID, p.cfg.Retry.BaseDelay); nackErr != nil {
				return errors.Wrap(nackErr, "failed to nack after report failure")
			}
			return errors.Wrapf(err, "failed to report batch %d failure for job %s", msg.BatchIndex, msg.JobID)
		}
		return p.queue.Ack(msg.ID)
	}

	if err := p.agg.ReportSuccess(msg.JobID, msg.BatchIndex, records); err != nil {
		if nackErr := p.queue.Nack(msg.ID, p.cfg.Retry.BaseDelay); nackErr != nil {
			return errors.Wrap(nackErr, "failed to nack after report failure")
		}
		return errors.Wrapf(err, "failed to report batch %d success for job %s", msg.BatchIndex, msg.JobID)
	}
	return p.queue.Ack(msg.ID)
}

// executeBatch runs the scraper with per-attempt timeouts under the retry
// policy, then applies the job's label filter.
func (p *Pool) executeBatch(msg *queue.Message) ([]scrape.Record, error) {
	var records []scrape.Record

	err := p.cfg.Retry.Do(p.ctx, func(ctx context.Context) error {
		attemptCtx := ctx
		if p.cfg.ScrapeTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, p.cfg.ScrapeTimeout)
			defer cancel()
		}

		got, err := p.scraper.Scrape(attemptCtx, scrape.Request{
			Accounts:      msg.Payload.Accounts,
			PerAccountMax: msg.Payload.PerAccountMax,
		})
		if err != nil {
			// A timed-out attempt is transient and retried.
			if errors.Is(err, context.DeadlineExceeded) {
				return scrape.TransientError(err, "scrape attempt timed out")
			}
			return err
		}
		records = got
		return nil
	})
	if err != nil {
		return nil, err
	}

	return scrape.FilterByLabel(records, msg.Payload.TargetLabel), nil
}
