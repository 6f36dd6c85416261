package output

import (
	"fmt"
	"os"
	"scanwarden/internal/scan"
	"sort"
	"strings"
	"sync"
	"time"
)

// ReportSink renders a Markdown report of every run it saw on Close.
type ReportSink struct {
	path         string
	file         *os.File
	mu           sync.Mutex
	results      []*scan.Result
	exitCode     int
	haveExitCode bool
}

func NewReportSink(path string) (*ReportSink, error) {
	if path == "" {
		return nil, fmt.Errorf("report path required")
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create report file: %w", err)
	}

	return &ReportSink{path: path, file: f}, nil
}

func (s *ReportSink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if res, ok := resultOf(v); ok {
		s.results = append(s.results, res)
	}
	if e, ok := v.(Event); ok && e.Terminal() && e.ExitCode != 0 {
		s.exitCode = e.ExitCode
		s.haveExitCode = true
	}
	return nil
}

func (s *ReportSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.WriteString(renderReport(s.results, s.exitCode, s.haveExitCode)); err != nil {
		_ = s.file.Close()
		return err
	}
	return s.file.Close()
}

func renderReport(results []*scan.Result, exitCode int, haveExitCode bool) string {
	var b strings.Builder
	b.WriteString("# Scanwarden Scan Report\n\n")

	var scanned, threats, skipped int
	states := make(map[scan.TerminalState]int)
	for _, r := range results {
		scanned += r.Scanned
		threats += r.Threats
		skipped += r.Skipped
		states[r.State]++
	}

	// --- Summary ---
	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "- Runs: %d (completed %d, cancelled %d, failed %d)\n",
		len(results), states[scan.StateCompleted], states[scan.StateCancelled], states[scan.StateFailed])
	fmt.Fprintf(&b, "- Artifacts scanned: %d\n", scanned)
	fmt.Fprintf(&b, "- Artifacts skipped: %d\n", skipped)
	fmt.Fprintf(&b, "- Threats found: %d\n", threats)
	if haveExitCode {
		fmt.Fprintf(&b, "- Exit code: %d\n", exitCode)
	}
	b.WriteString("\n")
	if threats == 0 {
		b.WriteString("No suspicious artifacts were found. The heuristic is not a malware scanner; a clean result is not a guarantee.\n\n")
	}

	// --- Runs ---
	b.WriteString("## Runs\n\n")
	if len(results) == 0 {
		b.WriteString("- None\n\n")
	} else {
		b.WriteString("| Run | Mode | State | Scanned | Threats | Skipped | Duration |\n")
		b.WriteString("| --- | --- | --- | ---: | ---: | ---: | ---: |\n")
		for _, r := range results {
			fmt.Fprintf(&b, "| %s | %s | %s | %d | %d | %d | %s |\n",
				shortID(r.ID), r.Mode, r.State, r.Scanned, r.Threats, r.Skipped, r.Duration().Round(time.Millisecond))
		}
		b.WriteString("\n")
	}

	// --- Threats by rule ---
	b.WriteString("## Threats by rule\n\n")
	stats := computeRuleStats(results)
	if len(stats) == 0 {
		b.WriteString("- None\n\n")
	} else {
		b.WriteString("| Rule | Kind | Severity | Findings | Artifacts |\n")
		b.WriteString("| --- | --- | --- | ---: | --- |\n")
		for _, rs := range stats {
			fmt.Fprintf(&b, "| %s | %s | %s | %d | %s |\n", rs.RuleID, rs.Kind, rs.Severity, rs.Count, formatList(rs.Artifacts, 3))
		}
		b.WriteString("\n")
	}

	// --- Flagged artifacts ---
	b.WriteString("## Flagged artifacts\n\n")
	findings := latestFindings(results)
	if len(findings) == 0 {
		b.WriteString("- None\n\n")
	} else {
		for _, f := range findings {
			fmt.Fprintf(&b, "- **%s** (%s): rule `%s`", f.Artifact.ID, f.Verdict.Severity, f.Verdict.RuleID)
			if f.Artifact.Location != "" {
				fmt.Fprintf(&b, " at `%s`", f.Artifact.Location)
			}
			b.WriteString("\n")
			if len(f.Artifact.Capabilities) > 0 {
				fmt.Fprintf(&b, "  - capabilities: %s\n", formatList(f.Artifact.Capabilities, 5))
			}
		}
		b.WriteString("\n")
	}

	// --- Failures ---
	b.WriteString("## Failures\n\n")
	reasons := make(map[string][]string)
	for _, r := range results {
		if r.State == scan.StateFailed {
			reason := normalizeFailureReason(r.Reason)
			reasons[reason] = append(reasons[reason], shortID(r.ID))
		}
	}
	if len(reasons) == 0 {
		b.WriteString("- None\n\n")
	} else {
		keys := make([]string, 0, len(reasons))
		for k := range reasons {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- **%s**: %s\n", k, formatList(reasons[k], 5))
		}
		b.WriteString("\n")
	}

	return b.String()
}
