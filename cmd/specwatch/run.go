package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/specwatch/internal/browser"
	"github.com/IshaanNene/specwatch/internal/config"
	"github.com/IshaanNene/specwatch/internal/engine"
	"github.com/IshaanNene/specwatch/internal/notify"
	"github.com/IshaanNene/specwatch/internal/observability"
	"github.com/IshaanNene/specwatch/internal/scheduler"
	"github.com/IshaanNene/specwatch/internal/storage"
	"github.com/IshaanNene/specwatch/internal/types"
)

var runNow bool

// app is everything a campaign command needs, built once per invocation.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics
	store   engine.CheckpointStore
	sup     *engine.Supervisor
	closeFn func() error
}

func (a *app) Close() error {
	return errors.Join(a.store.Close(), a.closeFn())
}

func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfg, sites, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, closeLog, err := setupLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	store, err := openCheckpoint(cfg.Checkpoint)
	if err != nil {
		closeLog()
		return nil, err
	}

	metrics := observability.NewMetrics(logger)
	if cfg.Metrics.Enabled {
		metrics.StartServer(ctx, cfg.Metrics.Port, cfg.Metrics.Path)
	}

	sup := engine.NewSupervisor(cfg, sites, store, depsFactory(cfg, logger), metrics, logger)
	return &app{cfg: cfg, logger: logger, metrics: metrics, store: store, sup: sup, closeFn: closeLog}, nil
}

// openCheckpoint opens the configured checkpoint backend. A sqlite backend
// left on the default JSON path uses specwatch.db beside it.
func openCheckpoint(cfg config.CheckpointConfig) (engine.CheckpointStore, error) {
	switch cfg.Backend {
	case "sqlite":
		s, err := storage.NewSQLiteCheckpointStore(sqlitePath(cfg.Path))
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return storage.NewFileCheckpointStore(cfg.Path), nil
	}
}

func sqlitePath(path string) string {
	if filepath.Ext(path) == ".json" {
		return filepath.Join(filepath.Dir(path), "specwatch.db")
	}
	return path
}

// depsFactory launches a fresh browser and opens the model's stores for each
// campaign attempt.
func depsFactory(cfg *config.Config, logger *slog.Logger) engine.DepsFactory {
	return func(ctx context.Context, rc engine.RunContext) (*engine.Deps, error) {
		log := rc.Logger(logger)

		notifier, err := notify.New(cfg.Notify, log)
		if err != nil {
			return nil, &types.ConfigError{Model: rc.Model, Field: "notify.type", Err: err}
		}

		var ledger storage.LedgerStore = storage.NewFileLedger(rc.Paths, true, log)
		if cfg.Storage.MongoURI != "" {
			mirror, err := storage.NewMongoLedger(ctx, cfg.Storage.MongoURI, cfg.Storage.MongoDatabase, rc.Paths, log)
			if err != nil {
				log.Warn("mongo mirror unavailable, continuing with files only", "error", err)
			} else {
				ledger = storage.NewMultiLedger(ledger, []storage.LedgerStore{mirror}, log)
			}
		}

		b, err := browser.Launch(ctx, cfg.Browser, log)
		if err != nil {
			ledger.Close()
			return nil, fmt.Errorf("launch browser: %w", err)
		}

		return &engine.Deps{
			Browser:  b,
			Seen:     storage.NewSeenFile(rc.Paths),
			Ledger:   ledger,
			Queue:    storage.NewReprocessQueue(rc.Paths),
			Notifier: notifier,
		}, nil
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// runCmd creates the "run" subcommand.
func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the campaign once",
		Long: `Run every configured model, resuming from the persisted checkpoint,
or a single model with --model. A failed model is retried with a fresh
browser up to supervisor.max_retries times.`,
		RunE: runCampaign,
	}
	addRunFlags(cmd)
	return cmd
}

func runCampaign(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	start := time.Now()
	if model != "" {
		a.logger.Info("starting single-model run", "model", model, "dry_run", a.cfg.Campaign.DryRun)
		err = a.sup.RunOne(ctx, model)
	} else {
		a.logger.Info("starting campaign", "models", a.cfg.Campaign.Models, "dry_run", a.cfg.Campaign.DryRun)
		err = a.sup.Run(ctx)
	}
	printStats(a.metrics, time.Since(start))
	return err
}

// replayCmd creates the "replay" subcommand.
func replayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Retry the listings left in the reprocess queue",
		Long: `Run only the reprocess-queue pass for each model: the listings that
model queued are extracted again and recovered vehicles are merged into its
ledger without ageing any other entry. Records queued by other models stay
in the queue. Listings that fail again are recorded as permanent failures.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			models := a.cfg.Campaign.Models
			if model != "" {
				models = []string{model}
			}
			for _, m := range models {
				sum, err := a.sup.Replay(ctx, m)
				if err != nil {
					return fmt.Errorf("replay %s: %w", m, err)
				}
				fmt.Printf("%-10s recovered %d, failed %d, ledger %d\n", m, sum.Replayed, sum.Failed, sum.LedgerSize)
			}
			return nil
		},
	}
	addRunFlags(cmd)
	return cmd
}

// scheduleCmd creates the "schedule" subcommand.
func scheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the campaign on the configured cron schedule",
		Long: `Stay in the foreground and run the full campaign at every tick of
schedule.cron in schedule.timezone. A tick that arrives while a campaign is
still running is skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := scheduler.New(a.cfg.Schedule.Timezone, a.logger)
			if err != nil {
				return err
			}
			job := func(ctx context.Context) error {
				if model != "" {
					return a.sup.RunOne(ctx, model)
				}
				return a.sup.Run(ctx)
			}
			if err := s.Schedule(ctx, a.cfg.Schedule.Cron, job); err != nil {
				return err
			}
			if runNow {
				if err := job(ctx); err != nil {
					a.logger.Error("initial run failed", "error", err)
				}
			}
			s.Run(ctx)
			return nil
		},
	}
	addRunFlags(cmd)
	cmd.Flags().BoolVar(&runNow, "now", false, "run once immediately before waiting for the first tick")
	return cmd
}

func printStats(m *observability.Metrics, elapsed time.Duration) {
	s := m.Snapshot()
	fmt.Printf("\nCampaign finished in %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("   Pages:     %d crawled, %d loops aborted\n", s["pages_crawled_total"], s["loop_aborts_total"])
	fmt.Printf("   Listings:  %d discovered, %d skipped as seen\n", s["listings_discovered_total"], s["listings_skipped_total"])
	fmt.Printf("   Vehicles:  %d extracted, %d queued, %d recovered on replay\n",
		s["vehicles_extracted_total"], s["replay_queued_total"], s["replay_recovered_total"])
	fmt.Printf("   Attempts:  %d campaigns, %d failed\n", s["campaign_attempts_total"], s["campaign_failures_total"])
}
