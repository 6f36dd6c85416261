package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"scanwarden/internal/artifact"
	"scanwarden/internal/output"
	"scanwarden/internal/rules"
	"scanwarden/internal/scan"
	"scanwarden/internal/telemetry"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// SourceFactory opens a fresh artifact source for one run. Sources are
// finite and not restartable, so every run asks for a new one.
type SourceFactory func(ctx context.Context) (artifact.Source, error)

// Runner executes a single scan run and delivers its lifecycle events. The
// scheduler and the one-shot engine share it.
type Runner struct {
	Source SourceFactory

	// Rules is read once per run; a reload mid-run does not affect it.
	// Nil uses the builtin rule set.
	Rules *rules.Store

	// Sink receives the run's events. Delivery errors are logged and
	// never change the outcome of the run.
	Sink output.Sink

	Instruments *telemetry.Instruments
	Options     scan.Options

	// ExitCode, when set, stamps the terminal event with a process exit code.
	ExitCode func(res *scan.Result) int

	Logger *zerolog.Logger
}

func (r *Runner) logger() zerolog.Logger {
	if r.Logger != nil {
		return *r.Logger
	}
	return log.With().Str("component", "scan").Logger()
}

func (r *Runner) ruleSet() *rules.RuleSet {
	if r.Rules != nil {
		if rs := r.Rules.Current(); rs != nil {
			return rs
		}
	}
	return rules.Default()
}

// Run performs one scan run in the given mode. It always returns a result
// and always delivers exactly one terminal event.
func (r *Runner) Run(ctx context.Context, mode scan.Mode) *scan.Result {
	opts := r.Options
	opts.Mode = mode
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}

	ins := r.Instruments
	if ins == nil {
		ins = telemetry.NewInstruments(nil, nil)
	}
	ctx, span := ins.StartRun(ctx, opts.ID, string(mode))
	defer span.End()

	logger := r.logger().With().Str("run_id", opts.ID).Str("mode", string(mode)).Logger()
	startedAt := time.Now()
	r.emit(ctx, logger, output.StartedEvent(opts.ID, mode, startedAt))

	rs := r.ruleSet()
	res := r.execute(ctx, logger, rs, opts, startedAt)

	if res.Threats > 0 {
		r.emit(ctx, logger, output.ThreatsEvent(res))
	}
	terminal := output.TerminalEvent(res)
	if r.ExitCode != nil {
		terminal.ExitCode = r.ExitCode(res)
	}
	r.emit(ctx, logger, terminal)

	ins.RecordRun(ctx, string(res.State), string(mode), res.Scanned, res.Threats, res.Duration())
	span.SetAttributes(
		attribute.String("scan.state", string(res.State)),
		attribute.Int("scan.scanned", res.Scanned),
		attribute.Int("scan.threats", res.Threats),
	)
	if res.State == scan.StateFailed {
		span.SetStatus(codes.Error, res.Reason)
	}

	ev := logger.Info()
	if res.State == scan.StateFailed {
		ev = logger.Warn().Str("reason", res.Reason)
	}
	ev.Str("state", string(res.State)).
		Int("scanned", res.Scanned).
		Int("threats", res.Threats).
		Int("skipped", res.Skipped).
		Dur("duration", res.Duration()).
		Msg("scan run finished")
	return res
}

func (r *Runner) execute(ctx context.Context, logger zerolog.Logger, rs *rules.RuleSet, opts scan.Options, startedAt time.Time) *scan.Result {
	if r.Source == nil {
		return failedResult(opts, rs, startedAt, errors.New("no artifact source configured"))
	}
	src, err := r.Source(ctx)
	if err != nil {
		return failedResult(opts, rs, startedAt, fmt.Errorf("open artifact source: %w", err))
	}
	if c, ok := src.(io.Closer); ok {
		defer func() {
			if err := c.Close(); err != nil {
				logger.Warn().Err(err).Msg("closing artifact source")
			}
		}()
	}

	progress := func(p scan.Progress) {
		r.emit(ctx, logger, output.ProgressEvent(opts.ID, opts.Mode, p))
	}
	return scan.Execute(ctx, src, rs, opts, progress)
}

func failedResult(opts scan.Options, rs *rules.RuleSet, startedAt time.Time, err error) *scan.Result {
	return &scan.Result{
		ID:        opts.ID,
		Mode:      opts.Mode,
		Flagged:   []scan.Finding{},
		StartedAt: startedAt,
		EndedAt:   time.Now(),
		State:     scan.StateFailed,
		Reason:    err.Error(),
		Rules:     rs.Origin(),
	}
}

func (r *Runner) emit(ctx context.Context, logger zerolog.Logger, e output.Event) {
	if r.Sink == nil {
		return
	}
	if err := r.Sink.Write(e.WithContext(ctx)); err != nil {
		logger.Warn().Err(err).Str("event", string(e.Type)).Msg("event delivery failed")
	}
}
