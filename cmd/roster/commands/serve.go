package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rosterhq/roster/scrape"
	"github.com/rosterhq/roster/server"
	"github.com/rosterhq/roster/worker"
)

// ServeCmd runs the full pipeline: HTTP API, worker pool and lifecycle
// sweeper in one process.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server, workers and lifecycle sweeper",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		scraper := scrape.NewClient(a.cfg.Scraper.BaseURL, a.cfg.Scraper.APIKey, a.cfg.Pipeline.ScrapeTimeout)
		pool := worker.NewPool(ctx, a.queue, a.jobs, a.agg, scraper, a.workerConfig(), a.log)
		pool.Start()
		defer pool.Stop()

		go a.sweeper.Run(ctx, a.cfg.Lifecycle.Interval)

		srv := server.New(a.cfg, a.jobs, a.queue, a.agg, a.pool, a.campaigns, a.sweeper, a.log)

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.ListenAndServe()
		}()

		select {
		case <-ctx.Done():
			a.log.Infow("shutting down")
			return nil
		case err := <-errCh:
			return err
		}
	},
}
