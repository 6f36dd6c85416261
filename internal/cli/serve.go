package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"scanwarden/internal/config"
	"scanwarden/internal/engine"
	"scanwarden/internal/flags"
	"scanwarden/internal/scan"
	"scanwarden/internal/server"
	"scanwarden/internal/store"
	"scanwarden/internal/telemetry"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const drainTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scan scheduler and the local control API",
	Long: `Run the scan scheduler as a daemon with an HTTP control API.

The scheduler runs a scan every --interval once started, and never runs two
scans at the same time. With --autostart it is started immediately; otherwise
start it through the API.

Control API (default 127.0.0.1:8765):
	GET  /healthz
	GET  /api/v1/status
	POST /api/v1/scheduler/start   {"mode": "foreground"|"background"}
	POST /api/v1/scheduler/stop
	POST /api/v1/scans             trigger a scan now
	GET  /api/v1/scans?limit=N     recent runs, newest first
	GET  /api/v1/scans/:id
	GET  /api/v1/rules
	POST /api/v1/evaluate          check a single artifact

Only one daemon may use a state directory at a time.

Examples:
	scanwarden serve --path /opt/apps --autostart --interval 15m
	scanwarden serve --source inventory --inventory packages.yaml --rules-file rules.yaml --rules-watch
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg, cmd.OutOrStdout())
	},
}

func runServe(ctx context.Context, cfg *config.Config, stdout io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := log.With().Str("component", "serve").Logger()

	if err := os.MkdirAll(cfg.Store.Dir, 0o700); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock state directory: %w", err)
	}
	if !locked {
		return fmt.Errorf("another scanwarden daemon is using %s", cfg.Store.Dir)
	}
	defer func() { _ = lock.Unlock() }()

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetryOptions(cfg))
	if err != nil {
		logger.Warn().Err(err).Msg("telemetry disabled")
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	factory, err := engine.BuildSourceFactory(ctx, cfg)
	if err != nil {
		return fmt.Errorf("artifact source: %w", err)
	}
	ruleStore, err := engine.BuildRules(cfg)
	if err != nil {
		return fmt.Errorf("rules: %w", err)
	}
	sinks, err := engine.BuildSinks(cfg, stdout)
	if err != nil {
		return fmt.Errorf("output sinks: %w", err)
	}
	defer func() {
		if err := sinks.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing output sinks")
		}
	}()

	deps := server.Deps{Rules: ruleStore, Version: buildVersion}
	if !cfg.Store.Disabled {
		hist, err := store.Open(cfg.Store.Path, store.Options{Retain: cfg.Store.Retain})
		if err != nil {
			return fmt.Errorf("open run history: %w", err)
		}
		defer hist.Shutdown()
		if err := sinks.AddSink(hist); err != nil {
			return err
		}
		deps.History = hist
	}

	sched, err := engine.NewScheduler(&engine.Runner{
		Source:      factory,
		Rules:       ruleStore,
		Sink:        sinks,
		Instruments: telemetry.NewInstruments(nil, nil),
		Options:     engine.RunOptions(cfg),
	}, engine.SchedulerOptions{
		Interval:     cfg.Schedule.Interval,
		InitialDelay: cfg.Schedule.InitialDelay,
	})
	if err != nil {
		return err
	}
	deps.Scheduler = sched

	if cfg.Schedule.Autostart {
		if err := sched.Start(scan.Mode(cfg.Schedule.Mode)); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.New(cfg.Server.Addr, deps).Run(gctx)
	})
	if cfg.Rules.Watch {
		g.Go(func() error {
			if err := ruleStore.Watch(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("rules watcher: %w", err)
			}
			return nil
		})
	}

	err = g.Wait()

	sched.Stop()
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if derr := sched.Shutdown(drainCtx); derr != nil {
		logger.Warn().Err(derr).Msg("active scan did not finish before shutdown")
	}
	logger.Info().Msg("daemon stopped")
	return err
}

func init() {
	rootCmd.AddCommand(serveCmd)

	fs := serveCmd.Flags()
	addSourceFlags(fs)
	addRulesFlags(fs, true)
	addScheduleFlags(fs)
	addRunFlags(fs, false)
	addOutputFlags(fs)
	addStoreFlags(fs, true)
	fs.String(flags.FlagAddr, flagDefaults.Server.Addr, "Listen address for the control API")
	addNATSFlags(fs)
	addTelemetryFlags(fs)
}
