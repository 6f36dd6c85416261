package engine

import (
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// delayedSchedule fires once at first and then every interval after it.
// The first slot is always handed out, even when cron asks for it late (a zero
// initial delay). Ticks missed while a run is active are not queued: after the
// first slot Next returns the first slot strictly after t.
type delayedSchedule struct {
	first    time.Time
	interval time.Duration
	issued   atomic.Bool
}

func newDelayedSchedule(now time.Time, initialDelay, interval time.Duration) *delayedSchedule {
	return &delayedSchedule{first: now.Add(initialDelay), interval: interval}
}

func (d *delayedSchedule) Next(t time.Time) time.Time {
	if !d.issued.Swap(true) || t.Before(d.first) {
		return d.first
	}
	n := t.Sub(d.first)/d.interval + 1
	return d.first.Add(n * d.interval)
}

var _ cron.Schedule = (*delayedSchedule)(nil)

// cronLogger routes robfig/cron diagnostics to zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
