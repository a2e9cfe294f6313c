package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// CleanupCmd runs one lifecycle sweep and prints the summary.
var CleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run one lifecycle sweep",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		summary, err := a.sweeper.Sweep()
		if err != nil {
			return err
		}

		fmt.Printf("marked for unfollow: %d\n", summary.UnfollowMarked)
		fmt.Printf("assignments purged:  %d\n", summary.AssignmentsPurged)
		fmt.Printf("raw records purged:  %d\n", summary.ResultsPurged)
		fmt.Printf("campaigns archived:  %d\n", summary.CampaignsArchived)
		fmt.Printf("campaigns purged:    %d\n", summary.CampaignsPurged)
		return nil
	},
}
