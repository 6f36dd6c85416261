package output

import (
	"fmt"
	"io"
	"os"
	"scanwarden/internal/scan"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// ConsoleSink prints events for a human (text) or as a structured stream.
// An unknown format is reported on the first write.
type ConsoleSink struct {
	mu           sync.Mutex
	writer       io.Writer
	text         bool
	enc          structured
	encErr       error
	allowedTypes map[EventType]bool
}

// NewConsoleSink writes human-readable or structured events to w (stdout when
// nil). filterTypes limits which event types are printed.
func NewConsoleSink(w io.Writer, format string, filterTypes []string) *ConsoleSink {
	if w == nil {
		w = os.Stdout
	}
	s := &ConsoleSink{writer: w}
	if format == "" || format == FormatText {
		s.text = true
	} else {
		s.enc, s.encErr = newStructured(format)
	}

	if len(filterTypes) > 0 {
		s.allowedTypes = make(map[EventType]bool)
		for _, t := range filterTypes {
			s.allowedTypes[EventType(strings.ToLower(strings.TrimSpace(t)))] = true
		}
	}
	return s
}

func (s *ConsoleSink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.encErr != nil {
		return fmt.Errorf("console: %w", s.encErr)
	}
	e, ok := v.(Event)
	if !ok {
		return nil
	}
	if len(s.allowedTypes) > 0 && !s.allowedTypes[e.Type] {
		return nil
	}
	if s.text {
		if err := writeText(s.writer, e); err != nil {
			return err
		}
		return flush(s.writer)
	}
	wrote, err := s.enc.write(s.writer, e)
	if err != nil || !wrote {
		return err
	}
	return flush(s.writer)
}

var (
	labelInfo   = color.New(color.FgCyan).SprintFunc()
	labelOK     = color.New(color.FgGreen, color.Bold).SprintFunc()
	labelWarn   = color.New(color.FgYellow, color.Bold).SprintFunc()
	labelThreat = color.New(color.FgRed, color.Bold).SprintFunc()
	dim         = color.New(color.Faint).SprintFunc()
)

func writeText(w io.Writer, e Event) error {
	var b strings.Builder
	switch e.Type {
	case EventScanStarted:
		fmt.Fprintf(&b, "[%s] %s %s\n", labelInfo("START"), shortID(e.RunID), dim(string(e.Mode)))
	case EventScanProgress:
		fmt.Fprintf(&b, "[%s] %s scanned=%d threats=%d\n", labelInfo("SCAN"), shortID(e.RunID), e.Scanned, e.Threats)
	case EventThreatsDetected:
		fmt.Fprintf(&b, "[%s] %s %d suspicious artifact(s)\n", labelThreat("THREAT"), shortID(e.RunID), e.Count)
		for _, f := range e.Flagged {
			fmt.Fprintf(&b, "  - %s [%s, %s]", f.Artifact.ID, f.Verdict.RuleID, f.Verdict.Severity)
			if f.Artifact.Location != "" {
				fmt.Fprintf(&b, " %s", dim(f.Artifact.Location))
			}
			b.WriteString("\n")
		}
	case EventScanCompleted:
		label := labelOK("DONE")
		if e.Result != nil && e.Result.State == scan.StateCancelled {
			label = labelWarn("CANCELLED")
		}
		fmt.Fprintf(&b, "[%s] %s scanned=%d threats=%d", label, shortID(e.RunID), e.Scanned, e.Threats)
		if e.Result != nil {
			fmt.Fprintf(&b, " skipped=%d in %s", e.Result.Skipped, e.Result.Duration().Round(time.Millisecond))
		}
		b.WriteString("\n")
	case EventScanFailed:
		fmt.Fprintf(&b, "[%s] %s %s\n", labelThreat("FAILED"), shortID(e.RunID), e.Reason)
	default:
		return nil
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (s *ConsoleSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.encErr != nil {
		return fmt.Errorf("console: %w", s.encErr)
	}
	if s.text {
		return nil
	}
	return s.enc.finish(s.writer)
}
