package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-collection record counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, cleanup, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		stats, err := e.store.Stats(cmd.Context())
		if err != nil {
			return err
		}

		names := make([]string, 0, len(stats))
		for name := range stats {
			names = append(names, name)
		}
		sort.Strings(names)

		fmt.Printf("Store: %s\n", e.store.Path())
		for _, name := range names {
			fmt.Printf("  %-12s %d\n", name, stats[name])
		}
		return nil
	},
}
