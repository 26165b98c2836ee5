// citizenly-agent is the offline data layer agent for the Citizenly
// records system. It owns the on-device record store, drains the sync
// outbox against the backend, and exposes a local admin surface.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
