package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"scanwarden/internal/artifact"
	"scanwarden/internal/config"
	gh "scanwarden/internal/github"
	"scanwarden/internal/output"
	"scanwarden/internal/rules"
	"scanwarden/internal/scan"
	"scanwarden/internal/source/filesystem"
	"scanwarden/internal/source/inventory"
	"scanwarden/internal/source/releases"

	"github.com/rs/zerolog/log"
)

// BuildSourceFactory turns the source section of cfg into a factory that
// opens a fresh source per run. cfg must already be validated.
func BuildSourceFactory(ctx context.Context, cfg *config.Config) (SourceFactory, error) {
	switch cfg.Source.Kind {
	case config.SourceFilesystem:
		opts := filesystem.Options{
			Roots:         cfg.Source.Paths,
			SystemPaths:   cfg.Source.SystemPaths,
			IncludeHidden: cfg.Source.IncludeHidden,
			MaxSize:       cfg.Source.MaxFileSize,
		}
		return func(ctx context.Context) (artifact.Source, error) {
			return filesystem.New(opts)
		}, nil

	case config.SourceInventory:
		path := cfg.Source.Inventory
		return func(ctx context.Context) (artifact.Source, error) {
			return inventory.Open(path)
		}, nil

	case config.SourceReleases:
		token, tokenSource, err := gh.ResolveAuthToken(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("resolve github token: %w", err)
		}
		logger := log.With().Str("component", "github").Logger()
		if token == "" {
			logger.Warn().Msg("no GitHub token found; release listing is subject to anonymous rate limits")
		} else {
			logger.Debug().Str("token_source", string(tokenSource)).Msg("using GitHub token")
		}
		client, err := gh.NewClient(ctx, token, gh.WithVerbose(cfg.Log.Verbose))
		if err != nil {
			return nil, err
		}
		repo := cfg.Source.Repo
		maxRequests := cfg.Source.MaxRequests
		prereleases := cfg.Source.IncludePrereleases
		return func(ctx context.Context) (artifact.Source, error) {
			return releases.New(client, repo, releases.Options{
				Budget:             gh.NewRequestBudget(maxRequests),
				IncludePrereleases: prereleases,
			})
		}, nil

	default:
		return nil, fmt.Errorf("unsupported source: %s", cfg.Source.Kind)
	}
}

// BuildRules loads the configured rule set. The returned store only reloads
// when the caller watches it.
func BuildRules(cfg *config.Config) (*rules.Store, error) {
	allow, err := rules.NewAllowList(cfg.Rules.AllowIdentifiers, cfg.Rules.AllowPatterns)
	if err != nil {
		return nil, fmt.Errorf("allow-list: %w", err)
	}
	loader := rules.Loader{
		Path:          cfg.Rules.File,
		SignaturePath: cfg.Rules.Signature,
		Allow:         allow,
	}
	if cfg.Rules.Keyring != "" {
		v, err := rules.NewVerifierFromFile(cfg.Rules.Keyring)
		if err != nil {
			return nil, err
		}
		loader.Verifier = v
	}
	return rules.NewStore(loader, log.Logger)
}

// BuildSinks creates the output manager for cfg. History and daemon-only
// sinks are added by the caller.
func BuildSinks(cfg *config.Config, stdout io.Writer) (*output.Manager, error) {
	if stdout == nil {
		stdout = os.Stdout
	}
	outMgr := output.NewManager()
	fail := func(err error) (*output.Manager, error) {
		_ = outMgr.Close()
		return nil, err
	}

	// Console Sink
	if !cfg.Output.NoConsole {
		if err := outMgr.AddSink(output.NewConsoleSink(stdout, cfg.Output.ConsoleFormat, cfg.Output.ConsoleFilterEvents)); err != nil {
			return fail(err)
		}
	}

	// Emit Sinks (additional structured streams)
	for _, emit := range cfg.Output.Emit {
		es, err := output.NewEmitSink(stdout, emit)
		if err != nil {
			return fail(err)
		}
		if err := outMgr.AddSink(es); err != nil {
			return fail(err)
		}
	}

	// File Sink
	if cfg.Output.Out != "" {
		fs, err := output.NewFileSink(cfg.Output.Out, cfg.Output.OutFormat)
		if err != nil {
			return fail(err)
		}
		if err := outMgr.AddSink(fs); err != nil {
			return fail(err)
		}
	}

	// Report Sink
	if cfg.Output.Report != "" {
		rs, err := output.NewReportSink(cfg.Output.Report)
		if err != nil {
			return fail(err)
		}
		if err := outMgr.AddSink(rs); err != nil {
			return fail(err)
		}
	}

	// NATS Sink
	if cfg.NATS.URL != "" {
		ns, err := output.DialNATSSink(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			return fail(err)
		}
		if err := outMgr.AddSink(ns); err != nil {
			return fail(err)
		}
	}

	return outMgr, nil
}

// RunOptions maps the run and scope sections of cfg onto scan options.
func RunOptions(cfg *config.Config) scan.Options {
	return scan.Options{
		Pace:          cfg.Run.Pace,
		ProgressEvery: cfg.Run.ProgressEvery,
		Concurrency:   cfg.Run.Concurrency,
		Scope: scan.Scope{
			Include: cfg.Source.Include,
			Exclude: cfg.Source.Exclude,
		},
	}
}
