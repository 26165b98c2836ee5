package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync queue status",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, cleanup, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		status, err := e.queue.Status(cmd.Context())
		if err != nil {
			return err
		}

		reachability := "offline"
		if status.Online {
			reachability = "online"
		}

		fmt.Printf("Backend:   %s (%s)\n", e.cfg.Sync.BaseURL, reachability)
		fmt.Printf("Pending:   %d\n", status.Pending)
		fmt.Printf("Exhausted: %d\n", status.Exhausted)
		return nil
	},
}
