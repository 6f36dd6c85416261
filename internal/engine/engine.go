package engine

import (
	"context"
	"io"
	"os"
	"scanwarden/internal/config"
	"scanwarden/internal/output"
	"scanwarden/internal/scan"
	"scanwarden/internal/store"
	"scanwarden/internal/telemetry"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func exitCodeForRun(fatal, partial, threats bool) int {
	// Exit code contract:
	// 0 = clean run, no threats
	// 1 = threats detected
	// 2 = partial run (cancelled, timed out or source failure)
	// 3 = fatal error (scan did not run)
	if fatal {
		return 3
	}
	if partial {
		return 2
	}
	if threats {
		return 1
	}
	return 0
}

func exitCodeForResult(res *scan.Result) int {
	return exitCodeForRun(false, res.Partial(), res.Threats > 0)
}

// Engine runs a single foreground scan from configuration.
type Engine struct {
	// Stdout receives console and emit output.
	Stdout io.Writer

	Instruments *telemetry.Instruments

	// sourceFactory is a test seam.
	// If nil, Engine builds the source from cfg.
	sourceFactory SourceFactory
}

func NewEngine() *Engine {
	return &Engine{Stdout: os.Stdout}
}

// Run executes one scan and returns the process exit code. cfg must already
// be validated.
func (e *Engine) Run(ctx context.Context, cfg *config.Config) int {
	logger := log.With().Str("component", "engine").Logger()

	factory := e.sourceFactory
	if factory == nil {
		f, err := BuildSourceFactory(ctx, cfg)
		if err != nil {
			logger.Error().Err(err).Msg("cannot set up artifact source")
			return exitCodeForRun(true, false, false)
		}
		factory = f
	}

	ruleStore, err := BuildRules(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("cannot load rules")
		return exitCodeForRun(true, false, false)
	}

	outMgr, err := BuildSinks(cfg, e.Stdout)
	if err != nil {
		logger.Error().Err(err).Msg("cannot create output sinks")
		return exitCodeForRun(true, false, false)
	}
	defer func() {
		if err := outMgr.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing output sinks")
		}
	}()

	if !cfg.Store.Disabled {
		defer attachHistory(outMgr, cfg, logger)()
	}

	if cfg.Run.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Run.Timeout)
		defer cancel()
	}

	runner := &Runner{
		Source:      factory,
		Rules:       ruleStore,
		Sink:        outMgr,
		Instruments: e.Instruments,
		Options:     RunOptions(cfg),
		ExitCode:    exitCodeForResult,
	}
	res := runner.Run(ctx, scan.ModeOneShot)
	return exitCodeForResult(res)
}

// attachHistory registers the history store as a sink on mgr and returns the
// function that releases it. History problems are logged; the scan still runs.
func attachHistory(mgr *output.Manager, cfg *config.Config, logger zerolog.Logger) func() {
	hist, err := store.Open(cfg.Store.Path, store.Options{Retain: cfg.Store.Retain})
	if err != nil {
		// A running daemon holds the database.
		logger.Warn().Err(err).Str("path", cfg.Store.Path).Msg("scan history unavailable")
		return func() {}
	}
	release := func() {
		if err := hist.Shutdown(); err != nil {
			logger.Warn().Err(err).Str("path", cfg.Store.Path).Msg("closing scan history")
		}
	}
	if err := mgr.AddSink(hist); err != nil {
		logger.Warn().Err(err).Msg("cannot record scan history")
		release()
		return func() {}
	}
	return release
}
