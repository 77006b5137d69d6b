package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/example/fibo/internal/config"
)

// CountersCmd returns the counters command
func CountersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "counters",
		Short: "List the configured counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
			cfg, err := config.LoadConfig(dir)
			if err != nil {
				return err
			}

			if len(cfg.Counters) == 0 {
				fmt.Println("No counters configured.")
				fmt.Println()
				fmt.Printf("Add counters to %s, or run:\n", config.Path(dir))
				fmt.Println("  fibo init --force")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "STATUS\tMODE\tPATH\tMATCH\tPANEL")
			fmt.Fprintln(w, "------\t----\t----\t-----\t-----")
			for _, c := range cfg.Counters {
				path := c.Path
				if len(c.Filters) > 0 {
					parts := make([]string, 0, len(c.Filters))
					for _, f := range c.Filters {
						parts = append(parts, fmt.Sprintf("%s %s %v", f.Field, f.Op, f.Value))
					}
					path += " [" + strings.Join(parts, ", ") + "]"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.Key, c.Mode, path, orDash(c.Match), orDash(c.Panel))
			}
			return w.Flush()
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
