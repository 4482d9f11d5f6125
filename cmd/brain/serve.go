package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/harunnryd/brain/internal/adapter"
	"github.com/harunnryd/brain/internal/config"
	"github.com/harunnryd/brain/internal/daemon"
	"github.com/harunnryd/brain/internal/daemon/components"
	"github.com/harunnryd/brain/internal/digest"
	"github.com/harunnryd/brain/internal/idempotency"
	"github.com/harunnryd/brain/internal/scheduler"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run Brain as a daemon",
	Long:  `Runs the scheduled cycle for every cron-enabled user, the Telegram and Slack adapters, and an optional health endpoint until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("config not loaded")
		}
		a, err := appFactory(cfg)
		if err != nil {
			return err
		}

		d, err := buildDaemon(cfg, a)
		if err != nil {
			a.Close()
			return err
		}

		slog.Info("Brain daemon starting up...", "store", cfg.Store.Backend, "health_addr", cfg.Server.HealthAddr)
		err = d.Start(cmd.Context())
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("daemon failed: %w", err)
		}
		slog.Info("Brain daemon stopped gracefully")
		return nil
	},
}

// buildDaemon registers the store, the enabled adapters, the scheduler and
// the health server. The store component takes ownership of a.repos.
func buildDaemon(cfg *config.Config, a *app) (*daemon.Daemon, error) {
	d, err := daemon.NewDaemon(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create daemon manager: %w", err)
	}

	dispatcher := adapter.NewDispatcher(a.orch, a.modes, a.goals, a.convs, a.repos)
	seen, err := idempotency.NewStore(filepath.Join(cfg.Store.DataDir, "seen_updates.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to open dedup store: %w", err)
	}

	d.AddComponent(components.NewStoreComponent(a.repos))

	var targets []adapter.Target
	var tg *adapter.Telegram
	var tgComponent *components.AdapterComponent
	if cfg.Adapters.Telegram.Enabled {
		tg, err = adapter.NewTelegram(cfg.Adapters.Telegram, dispatcher, seen)
		if err != nil {
			return nil, err
		}
		targets = append(targets, tg)
		tgComponent = components.NewAdapterComponent(tg)
		d.AddComponent(tgComponent)
	}
	if cfg.Adapters.Slack.Enabled {
		sl, err := adapter.NewSlack(cfg.Adapters.Slack, dispatcher, seen)
		if err != nil {
			return nil, err
		}
		targets = append(targets, sl)
		d.AddComponent(components.NewAdapterComponent(sl))
	}
	if len(targets) == 0 {
		targets = append(targets, adapter.Null{})
	}

	runner := scheduler.NewCycleRunner(a.repos, a.orch, adapter.NewMulti(targets...), a.tracker, a.advancer).WithCalendar(a.calendar)
	d.AddComponent(components.NewSchedulerComponent(runner, cfg.Scheduler))

	// The digest goes out over Telegram only.
	if cfg.Digest.Enabled && tg != nil {
		digests := digest.NewRunner(a.digest, a.repos, a.orch, tg, cfg.Digest.Period)
		sched := config.SchedulerConfig{Spec: cfg.Digest.Spec, ShutdownTimeout: cfg.Scheduler.ShutdownTimeout}
		d.AddComponent(components.NewSchedulerComponent(digests, sched).WithName("Digest", "Store", tgComponent.Name()))
	}

	if cfg.Server.HealthAddr != "" {
		d.AddComponent(components.NewHealthServerComponent(d, cfg.Server.HealthAddr, "Store"))
	}
	return d, nil
}

func init() {
	serveCmd.Flags().String("server.health_addr", "", "address for the /health endpoint, empty disables it")
	rootCmd.AddCommand(serveCmd)
}
