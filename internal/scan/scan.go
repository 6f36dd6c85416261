package scan

import (
	"context"
	"errors"
	"scanwarden/internal/artifact"
	"scanwarden/internal/rules"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPace          = 50 * time.Millisecond
	DefaultProgressEvery = 25
)

// Options tune a single run. The zero value scans sequentially with no
// pacing and no progress callbacks.
type Options struct {
	ID   string
	Mode Mode

	// Pace is the pause after each scanned artifact (after each batch when
	// Concurrency > 1).
	Pace time.Duration

	// ProgressEvery calls the progress callback each time Scanned crosses a
	// multiple of this value. Zero disables progress.
	ProgressEvery int

	// Concurrency > 1 evaluates artifacts in batches of this size.
	Concurrency int

	Scope Scope
}

func DefaultOptions() Options {
	return Options{
		Mode:          ModeForeground,
		Pace:          DefaultPace,
		ProgressEvery: DefaultProgressEvery,
		Concurrency:   1,
	}
}

// Progress is a running tally passed to the progress callback.
type Progress struct {
	Scanned int `json:"scanned"`
	Threats int `json:"threats"`
}

// Execute pulls artifacts from src until it is exhausted, fails or ctx is
// cancelled, evaluating each non-system, in-scope artifact against rs.
//
// Execute never returns nil. Source failures end the run in StateFailed with
// the counts accumulated so far; cancellation ends it in StateCancelled.
func Execute(ctx context.Context, src artifact.Source, rs *rules.RuleSet, opts Options, progress func(Progress)) *Result {
	res := &Result{
		ID:        opts.ID,
		Mode:      opts.Mode,
		Flagged:   []Finding{},
		StartedAt: time.Now(),
		Rules:     rs.Origin(),
	}
	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	defer func() { res.EndedAt = time.Now() }()

	if src == nil {
		res.State = StateFailed
		res.Reason = "artifact source is nil"
		return res
	}

	r := &runner{ctx: ctx, src: src, rs: rs, opts: opts, progress: progress, res: res}
	r.run()
	return res
}

type runner struct {
	ctx      context.Context
	src      artifact.Source
	rs       *rules.RuleSet
	opts     Options
	progress func(Progress)
	res      *Result
}

func (r *runner) run() {
	batchSize := r.opts.Concurrency
	if batchSize < 1 {
		batchSize = 1
	}
	batch := make([]artifact.Record, 0, batchSize)

	for {
		if r.ctx.Err() != nil {
			r.res.State = StateCancelled
			return
		}

		batch = batch[:0]
		done, err := r.fill(&batch, batchSize)
		if len(batch) > 0 {
			r.evaluate(batch)
		}
		if err != nil {
			if r.ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				r.res.State = StateCancelled
				return
			}
			r.res.State = StateFailed
			r.res.Reason = err.Error()
			return
		}
		if done {
			if r.ctx.Err() != nil {
				r.res.State = StateCancelled
			} else {
				r.res.State = StateCompleted
			}
			return
		}
		if len(batch) > 0 && !r.pace() {
			r.res.State = StateCancelled
			return
		}
	}
}

// fill pulls up to n scannable artifacts into batch. Skipped artifacts do not
// take a slot. It stops early on exhaustion, error or cancellation.
func (r *runner) fill(batch *[]artifact.Record, n int) (done bool, err error) {
	for len(*batch) < n {
		rec, ok, err := r.src.Next(r.ctx)
		if err != nil {
			return false, err
		}
		if !ok {
			return true, nil
		}
		if rec.System || !r.opts.Scope.Allows(rec) {
			r.res.Skipped++
		} else {
			*batch = append(*batch, rec)
		}
		if r.ctx.Err() != nil {
			return false, nil
		}
	}
	return false, nil
}

func (r *runner) evaluate(batch []artifact.Record) {
	verdicts := make([]rules.Verdict, len(batch))
	if len(batch) == 1 {
		verdicts[0] = r.rs.Evaluate(batch[0])
	} else {
		var g errgroup.Group
		g.SetLimit(len(batch))
		for i := range batch {
			g.Go(func() error {
				verdicts[i] = r.rs.Evaluate(batch[i])
				return nil
			})
		}
		_ = g.Wait()
	}

	before := r.res.Scanned
	for i, v := range verdicts {
		r.res.Scanned++
		if v.Suspicious() {
			r.res.Flagged = append(r.res.Flagged, Finding{Artifact: batch[i], Verdict: v})
			r.res.Threats++
			log.Debug().Str("component", "scan").Str("run", r.res.ID).
				Str("artifact", batch[i].ID).Str("rule", v.RuleID).Msg("artifact flagged")
		}
	}

	every := r.opts.ProgressEvery
	if r.progress != nil && every > 0 && r.res.Scanned/every > before/every {
		r.progress(Progress{Scanned: r.res.Scanned, Threats: r.res.Threats})
	}
}

// pace waits opts.Pace or until ctx is done. It reports false on cancellation.
func (r *runner) pace() bool {
	if r.opts.Pace <= 0 {
		return true
	}
	t := time.NewTimer(r.opts.Pace)
	defer t.Stop()
	select {
	case <-r.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
