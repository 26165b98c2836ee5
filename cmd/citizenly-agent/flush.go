package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jasperlepardo/citizenly-sub012/internal/outbox"
)

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Force a sync queue drain now",
	Long: `Drain the sync outbox immediately.

Unlike the background flush, this fails fast when the backend is
unreachable instead of silently doing nothing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, cleanup, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		before, err := e.queue.Status(cmd.Context())
		if err != nil {
			return err
		}

		if err := e.queue.ForceSync(cmd.Context()); err != nil {
			if errors.Is(err, outbox.ErrOffline) {
				return fmt.Errorf("backend %s is unreachable", e.cfg.Sync.BaseURL)
			}
			return err
		}

		after, err := e.queue.Status(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Flushed %d of %d pending items\n", before.Pending-after.Pending, before.Pending)
		if after.Pending > 0 {
			fmt.Printf("%d items still pending (will retry)\n", after.Pending)
		}
		if after.Exhausted > 0 {
			fmt.Printf("%d items frozen after exhausting retries\n", after.Exhausted)
		}
		return nil
	},
}
