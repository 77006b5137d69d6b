package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/fibo/internal/ctxutil"
	"github.com/example/fibo/internal/metrics"
	"github.com/example/fibo/internal/wire"
)

// settleRounds is how many times --once drains the queues. A cascade needs
// one round for the parent snapshot and one for the child snapshots.
const settleRounds = 3

// WatchCmd returns the watch command
func WatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the configured counters live",
		Long: `Sign in as --actor and watch every configured counter. Each counter first
shows its cached value, then every live value as the store changes.

With --once the counters are reconciled once, printed, and the command exits.
With --memory an in-memory store seeded with demo documents is used instead
of the directory store.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, _ := cmd.Flags().GetString("actor")
			panelName, _ := cmd.Flags().GetString("panel")
			once, _ := cmd.Flags().GetBool("once")
			memory, _ := cmd.Flags().GetBool("memory")
			metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

			wire.Configure(wire.Options{Memory: memory})
			if err := wire.Init(); err != nil {
				return err
			}
			defer wire.Close()

			logger := wire.Logger()
			cfg := wire.Config()

			if memory {
				if err := seedDemo(wire.MemoryStore(), actor); err != nil {
					return fmt.Errorf("failed to seed demo store: %w", err)
				}
			}

			if panelName != "" {
				if _, err := wire.PanelRegistry().Activate(panelName); err != nil {
					return err
				}
			}

			if metricsAddr == "" {
				metricsAddr = cfg.Metrics.Addr
			}
			if metricsAddr != "" {
				srv := serveMetrics(metricsAddr, logger)
				defer srv.Close()
			}

			ctx, stop := signal.NotifyContext(ctxutil.WithActorID(cmd.Context(), actor), os.Interrupt, syscall.SIGTERM)
			defer stop()

			adapter := wire.CounterAdapter()
			watches, err := adapter.Watch(ctx, actor, cfg.Definitions())
			if err != nil {
				return err
			}
			defer func() {
				for _, w := range watches {
					w.Cancel()
				}
			}()

			if once {
				for i := 0; i < settleRounds; i++ {
					if err := wire.Flush(); err != nil {
						return err
					}
				}
				fmt.Println()
				adapter.Render()
				return nil
			}

			<-ctx.Done()
			fmt.Println()
			adapter.Render()
			return nil
		},
	}

	cmd.Flags().StringP("actor", "a", "", "Actor to sign in as (required)")
	cmd.Flags().StringP("panel", "p", "", "Panel to expand (favorites, provider, shares, published; case-insensitive)")
	cmd.Flags().Bool("once", false, "Reconcile once, print, and exit")
	cmd.Flags().Bool("memory", false, "Use a seeded in-memory store")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func serveMetrics(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()
	logger.Info("serving metrics", slog.String("addr", addr))
	return srv
}

