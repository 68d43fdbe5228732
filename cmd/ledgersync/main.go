package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gco-platform/ledgersync/internal/commands"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "ledgersync",
		Short: "Incremental synchronization engine for partitioned ledger records",
		Long: `LedgerSync keeps a local cache of ledger records from a rate-limited
paginated remote API. Coverage is tracked per month bucket; only missing
months are fetched, each gap is checkpointed as soon as it lands, and
re-fetching a range is idempotent.`,
		Version: version,
	}

	root.AddCommand(
		commands.NewServeCmd(),
		commands.NewSyncCmd(),
		commands.NewInventoryCmd(),
		commands.NewConfigCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
