package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var clearYes bool

var clearCmd = &cobra.Command{
	Use:   "clear [collection]",
	Short: "Wipe a collection, or the whole store",
	Long: `Wipe local data.

With a collection argument only that collection is cleared. Without one
the entire store is wiped: all collections, the KV cache and the sync
outbox. Used for logout/reset.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !clearYes {
			return fmt.Errorf("refusing to clear without --yes")
		}

		e, cleanup, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		if len(args) == 1 {
			if err := e.store.Clear(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Cleared collection %s\n", args[0])
			return nil
		}

		if err := e.store.ClearAll(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Cleared all local data")
		return nil
	},
}

func init() {
	clearCmd.Flags().BoolVar(&clearYes, "yes", false, "confirm the wipe")
}
