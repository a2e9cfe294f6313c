package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rosterhq/roster/scrape"
	"github.com/rosterhq/roster/worker"
)

// WorkerCmd runs a standalone worker pool against an existing database.
// Useful for scaling batch execution separately from the API process.
var WorkerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start a standalone worker pool",
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

		a.log.Infow("worker pool running", "workers", a.cfg.Worker.Count)
		<-ctx.Done()
		a.log.Infow("shutting down")
		return nil
	},
}
