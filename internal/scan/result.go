package scan

import (
	"scanwarden/internal/artifact"
	"scanwarden/internal/rules"
	"time"
)

// TerminalState is how a scan run ended.
type TerminalState string

const (
	StateCompleted TerminalState = "completed"
	StateCancelled TerminalState = "cancelled"
	StateFailed    TerminalState = "failed"
)

// Mode records who asked for a run.
type Mode string

const (
	ModeForeground Mode = "foreground"
	ModeBackground Mode = "background"
	ModeOneShot    Mode = "oneshot"
)

// Finding is one suspicious artifact.
type Finding struct {
	Artifact artifact.Record `json:"artifact"`
	Verdict  rules.Verdict   `json:"verdict"`
}

// Result is the outcome of a single scan run. It is owned by the run until
// Execute returns and must not be modified afterwards.
//
// Threats always equals len(Flagged), and Flagged is in source order.
type Result struct {
	ID        string        `json:"id"`
	Mode      Mode          `json:"mode,omitempty"`
	Scanned   int           `json:"scanned"`
	Threats   int           `json:"threats"`
	Skipped   int           `json:"skipped"`
	Flagged   []Finding     `json:"flagged"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
	State     TerminalState `json:"state"`
	Reason    string        `json:"reason,omitempty"`
	Rules     string        `json:"rules,omitempty"`
}

func (r *Result) Duration() time.Duration {
	if r == nil || r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Partial reports whether the run stopped before the source was exhausted.
func (r *Result) Partial() bool {
	return r != nil && r.State != StateCompleted
}

// Summary is the compact form used in status snapshots.
type Summary struct {
	ID         string        `json:"id"`
	Mode       Mode          `json:"mode,omitempty"`
	State      TerminalState `json:"state"`
	Scanned    int           `json:"scanned"`
	Threats    int           `json:"threats"`
	Skipped    int           `json:"skipped"`
	StartedAt  time.Time     `json:"started_at"`
	EndedAt    time.Time     `json:"ended_at"`
	DurationMS int64         `json:"duration_ms"`
	Reason     string        `json:"reason,omitempty"`
}

func (r *Result) Summary() Summary {
	if r == nil {
		return Summary{}
	}
	return Summary{
		ID:         r.ID,
		Mode:       r.Mode,
		State:      r.State,
		Scanned:    r.Scanned,
		Threats:    r.Threats,
		Skipped:    r.Skipped,
		StartedAt:  r.StartedAt,
		EndedAt:    r.EndedAt,
		DurationMS: r.Duration().Milliseconds(),
		Reason:     r.Reason,
	}
}
