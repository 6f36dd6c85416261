package output

import (
	"context"
	"scanwarden/internal/scan"
	"time"
)

// EventType names a lifecycle event. It doubles as the NATS subject suffix.
type EventType string

const (
	EventScanStarted     EventType = "scan.started"
	EventScanProgress    EventType = "scan.progress"
	EventThreatsDetected EventType = "threats.detected"
	EventScanCompleted   EventType = "scan.completed"
	EventScanFailed      EventType = "scan.failed"
)

// Event is a scan lifecycle record. Sinks stream it as one JSON object per
// line in ndjson mode.
//
// For a single run, events arrive in this order:
//   - scan.started
//   - scan.progress (zero or more)
//   - threats.detected (only when threats > 0)
//   - scan.completed or scan.failed
type Event struct {
	Type  EventType `json:"type"`
	RunID string    `json:"run_id"`
	Mode  scan.Mode `json:"mode,omitempty"`
	Time  time.Time `json:"ts"`

	Scanned int `json:"scanned,omitempty"`
	Threats int `json:"threats,omitempty"`

	Count   int            `json:"count,omitempty"`
	Flagged []scan.Finding `json:"flagged,omitempty"`

	Reason string       `json:"reason,omitempty"`
	Result *scan.Result `json:"result,omitempty"`

	ExitCode int `json:"exit_code,omitempty"`

	ctx context.Context
}

// Context returns the run context the event was produced under, for trace
// propagation. It is never nil.
func (e Event) Context() context.Context {
	if e.ctx == nil {
		return context.Background()
	}
	return e.ctx
}

// WithContext returns a copy of e carrying ctx.
func (e Event) WithContext(ctx context.Context) Event {
	e.ctx = ctx
	return e
}

// Terminal reports whether e ends a run.
func (e Event) Terminal() bool {
	return e.Type == EventScanCompleted || e.Type == EventScanFailed
}

func StartedEvent(runID string, mode scan.Mode, at time.Time) Event {
	return Event{Type: EventScanStarted, RunID: runID, Mode: mode, Time: at}
}

func ProgressEvent(runID string, mode scan.Mode, p scan.Progress) Event {
	return Event{Type: EventScanProgress, RunID: runID, Mode: mode, Time: time.Now(), Scanned: p.Scanned, Threats: p.Threats}
}

func ThreatsEvent(res *scan.Result) Event {
	return Event{
		Type:    EventThreatsDetected,
		RunID:   res.ID,
		Mode:    res.Mode,
		Time:    time.Now(),
		Count:   res.Threats,
		Flagged: res.Flagged,
	}
}

// TerminalEvent is scan.failed for failed runs and scan.completed otherwise.
// Cancelled runs complete with their partial result.
func TerminalEvent(res *scan.Result) Event {
	e := Event{
		Type:    EventScanCompleted,
		RunID:   res.ID,
		Mode:    res.Mode,
		Time:    res.EndedAt,
		Scanned: res.Scanned,
		Threats: res.Threats,
		Result:  res,
	}
	if res.State == scan.StateFailed {
		e.Type = EventScanFailed
		e.Reason = res.Reason
	}
	return e
}

// resultOf returns the run result carried by a terminal event.
func resultOf(v any) (*scan.Result, bool) {
	switch t := v.(type) {
	case Event:
		if t.Terminal() && t.Result != nil {
			return t.Result, true
		}
	case *scan.Result:
		if t != nil {
			return t, true
		}
	}
	return nil, false
}
