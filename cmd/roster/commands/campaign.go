package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rosterhq/roster/errors"
	"github.com/rosterhq/roster/sheet"
)

// CampaignCmd groups the daily select/distribute stages.
var CampaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Run the daily campaign stages",
}

var campaignRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Select unused profiles into a new campaign and distribute them",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		date, _ := cmd.Flags().GetString("date")
		if date == "" {
			date = time.Now().UTC().Format("2006-01-02")
		}
		buckets, _ := cmd.Flags().GetInt("buckets")
		if buckets == 0 {
			buckets = a.cfg.Distribution.Buckets
		}
		slots, _ := cmd.Flags().GetInt("slots")
		if slots == 0 {
			slots = a.cfg.Distribution.BucketSize
		}

		c, err := a.campaigns.Run(date, buckets*slots)
		if err != nil {
			return err
		}
		if err := a.campaigns.Distribute(c.ID, buckets, slots); err != nil {
			return err
		}

		fmt.Printf("campaign %s: %d profiles across %d buckets\n", c.ID, c.TotalAssigned, buckets)
		return nil
	},
}

var campaignDistributeCmd = &cobra.Command{
	Use:   "distribute <campaign-id>",
	Short: "Re-shuffle a pending campaign's bucket assignments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		buckets, _ := cmd.Flags().GetInt("buckets")
		if buckets == 0 {
			buckets = a.cfg.Distribution.Buckets
		}
		slots, _ := cmd.Flags().GetInt("slots")
		if slots == 0 {
			slots = a.cfg.Distribution.BucketSize
		}

		if err := a.campaigns.Distribute(args[0], buckets, slots); err != nil {
			return err
		}
		fmt.Printf("campaign %s distributed across %d buckets of %d\n", args[0], buckets, slots)
		return nil
	},
}

var campaignSyncCmd = &cobra.Command{
	Use:   "sync <campaign-id>",
	Short: "Push a distributed campaign's buckets to the review sheet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if a.cfg.Sheet.WebhookURL == "" {
			return errors.New("sheet.webhook_url is not configured")
		}

		buckets, _ := cmd.Flags().GetInt("buckets")
		if buckets == 0 {
			buckets = a.cfg.Distribution.Buckets
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sink := sheet.NewWebhookSink(a.cfg.Sheet.WebhookURL, a.cfg.Sheet.PushTimeout)
		pusher := sheet.NewThrottledPusher(sink, a.cfg.Sheet.MinPushInterval, a.log)
		if err := pusher.SyncCampaign(ctx, a.campaigns, args[0], buckets); err != nil {
			return err
		}
		fmt.Printf("campaign %s synced\n", args[0])
		return nil
	},
}

func init() {
	campaignSyncCmd.Flags().Int("buckets", 0, "Number of destination buckets (default from config)")

	for _, c := range []*cobra.Command{campaignRunCmd, campaignDistributeCmd} {
		c.Flags().Int("buckets", 0, "Number of destination buckets (default from config)")
		c.Flags().Int("slots", 0, "Slots per bucket (default from config)")
	}
	campaignRunCmd.Flags().String("date", "", "Campaign date as YYYY-MM-DD (default today)")

	CampaignCmd.AddCommand(campaignRunCmd)
	CampaignCmd.AddCommand(campaignDistributeCmd)
	CampaignCmd.AddCommand(campaignSyncCmd)
}
