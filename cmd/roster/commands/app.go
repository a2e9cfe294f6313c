// Package commands implements the roster CLI.
package commands

import (
	"database/sql"

	"go.uber.org/zap"

	"github.com/rosterhq/roster/aggregate"
	"github.com/rosterhq/roster/campaign"
	"github.com/rosterhq/roster/config"
	"github.com/rosterhq/roster/db"
	"github.com/rosterhq/roster/dedup"
	"github.com/rosterhq/roster/errors"
	"github.com/rosterhq/roster/job"
	"github.com/rosterhq/roster/lifecycle"
	"github.com/rosterhq/roster/logger"
	"github.com/rosterhq/roster/queue"
	"github.com/rosterhq/roster/retry"
	"github.com/rosterhq/roster/worker"
)

// app bundles the wired pipeline components shared by all commands.
type app struct {
	cfg       *config.Config
	db        *sql.DB
	jobs      *job.Store
	queue     *queue.Queue
	pool      *dedup.Store
	agg       *aggregate.Aggregator
	campaigns *campaign.Store
	sweeper   *lifecycle.Sweeper
	log       *zap.SugaredLogger
}

// openApp loads configuration, opens and migrates the database and wires the
// stores. Callers must Close when done.
func openApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}

	log := logger.Logger

	conn, err := db.Open(cfg.Database.Path, log)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(conn, log); err != nil {
		conn.Close()
		return nil, err
	}

	jobs := job.NewStore(conn)
	pool := dedup.NewStore(conn)
	q := queue.New(conn)

	return &app{
		cfg:       cfg,
		db:        conn,
		jobs:      jobs,
		queue:     q,
		pool:      pool,
		agg:       aggregate.New(conn, jobs, pool, cfg.Pipeline.InsertChunkSize, log),
		campaigns: campaign.NewStore(conn, pool, log),
		sweeper:   lifecycle.NewSweeper(conn, cfg.Lifecycle.UnfollowAfterDays, cfg.Lifecycle.PurgeAfterDays, log),
		log:       log,
	}, nil
}

func (a *app) Close() {
	a.db.Close()
}

// workerConfig translates the loaded configuration into pool settings.
func (a *app) workerConfig() worker.Config {
	return worker.Config{
		Workers:       a.cfg.Worker.Count,
		PollInterval:  a.cfg.Worker.PollInterval,
		ScrapeTimeout: a.cfg.Pipeline.ScrapeTimeout,
		ReclaimAfter:  a.cfg.Worker.ReclaimAfter,
		Retry: retry.Policy{
			MaxAttempts: a.cfg.Pipeline.MaxAttempts,
			BaseDelay:   a.cfg.Pipeline.RetryBaseDelay,
			MaxDelay:    a.cfg.Pipeline.RetryMaxDelay,
		},
	}
}
