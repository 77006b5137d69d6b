package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/fibo/internal/cli"
	"github.com/example/fibo/internal/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "fibo",
		Short:   "fibo - live status counters with a local cache",
		Version: version.String(),
		Long: `fibo keeps per-status counters (Favorites, Provider, Shares, Published)
in sync with a realtime document store and mirrors them into a local cache,
so the last known counts are available before the store answers.`,
		SilenceUsage: true,
	}

	// Add subcommands
	rootCmd.AddCommand(cli.InitCmd())
	rootCmd.AddCommand(cli.WatchCmd())
	rootCmd.AddCommand(cli.CountersCmd())
	rootCmd.AddCommand(cli.CacheCmd())
	rootCmd.AddCommand(cli.DocCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
