package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/example/fibo/internal/wire"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the local count cache",
	Long:  "Read or overwrite the last reconciled count for a status label",
}

var cacheGetCmd = &cobra.Command{
	Use:   "get [status]",
	Short: "Show the cached count for a status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		defer wire.Close()
		_, err := wire.CounterAdapter().ShowCached(context.Background(), args[0])
		return err
	},
}

var cacheSetCmd = &cobra.Command{
	Use:   "set [status] [count]",
	Short: "Overwrite the cached count for a status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		defer wire.Close()
		key := args[0]
		value, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid count %q: %w", args[1], err)
		}
		if value < 0 {
			return fmt.Errorf("count must not be negative")
		}

		if err := wire.LocalCache().Set(context.Background(), key, value); err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}

		fmt.Printf("✓ %s = %d\n", key, value)
		return nil
	},
}

func init() {
	// Register subcommands
	cacheCmd.AddCommand(cacheGetCmd)
	cacheCmd.AddCommand(cacheSetCmd)
}

// CacheCmd returns the cache command
func CacheCmd() *cobra.Command {
	return cacheCmd
}
