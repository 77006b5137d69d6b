package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/example/fibo/internal/config"
	"github.com/example/fibo/internal/db"
)

// InitCmd returns the init command
func InitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a fibo configuration in the current directory",
		Long: `Write .fibo/config.yaml with the four standard counters
(Favorites, Provider, Shares, Published) and prepare the cache backing.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			backend, _ := cmd.Flags().GetString("backend")

			dir, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}

			if _, err := os.Stat(config.Path(dir)); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", config.Path(dir))
			}

			cfg := config.Default()
			cfg.Cache.Backend = backend
			cfg.Cache.Path = ""
			if err := roundTrip(dir, cfg); err != nil {
				return err
			}

			fmt.Printf("%s Config written to %s\n", color.New(color.FgGreen).Sprint("✓"), config.Path(dir))

			if backend == config.BackendSQLite {
				loaded, err := config.LoadConfig(dir)
				if err != nil {
					return err
				}
				database, err := db.Open(config.Resolve(dir, loaded.Cache.Path))
				if err != nil {
					return fmt.Errorf("failed to initialize cache database: %w", err)
				}
				database.Close()
				fmt.Printf("%s Cache database initialized at %s\n", color.New(color.FgGreen).Sprint("✓"), loaded.Cache.Path)
			}

			fmt.Println()
			fmt.Println("Next steps:")
			fmt.Println("  fibo counters")
			fmt.Println("  fibo watch --actor <id> --memory --once")
			return nil
		},
	}

	cmd.Flags().Bool("force", false, "Overwrite an existing configuration")
	cmd.Flags().String("backend", config.BackendJSON, "Cache backend (json, sqlite, badger)")
	return cmd
}

// roundTrip saves cfg with backend-specific defaults applied, validating it on the way.
func roundTrip(dir string, cfg *config.Config) error {
	if err := config.SaveConfig(dir, cfg); err != nil {
		return err
	}
	loaded, err := config.LoadConfig(dir)
	if err != nil {
		return err
	}
	return config.SaveConfig(dir, loaded)
}
