package output

import (
	"fmt"
	"scanwarden/internal/rules"
	"scanwarden/internal/scan"
	"sort"
	"strings"
)

var severityRank = map[rules.Severity]int{
	rules.SeverityHigh:   0,
	rules.SeverityMedium: 1,
	rules.SeverityLow:    2,
}

func rankOf(s rules.Severity) int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return len(severityRank)
}

type ruleStats struct {
	RuleID    string
	Kind      rules.Kind
	Severity  rules.Severity
	Count     int
	Artifacts []string
}

// computeRuleStats groups findings by rule, most severe first, then by count.
func computeRuleStats(results []*scan.Result) []*ruleStats {
	byRule := make(map[string]*ruleStats)
	seen := make(map[string]map[string]bool)
	for _, res := range results {
		for _, f := range res.Flagged {
			id := f.Verdict.RuleID
			rs, ok := byRule[id]
			if !ok {
				rs = &ruleStats{RuleID: id, Kind: f.Verdict.Kind, Severity: f.Verdict.Severity}
				byRule[id] = rs
				seen[id] = make(map[string]bool)
			}
			rs.Count++
			if !seen[id][f.Artifact.ID] {
				seen[id][f.Artifact.ID] = true
				rs.Artifacts = append(rs.Artifacts, f.Artifact.ID)
			}
		}
	}

	out := make([]*ruleStats, 0, len(byRule))
	for _, rs := range byRule {
		sort.Strings(rs.Artifacts)
		out = append(out, rs)
	}
	sort.Slice(out, func(i, j int) bool {
		if ri, rj := rankOf(out[i].Severity), rankOf(out[j].Severity); ri != rj {
			return ri < rj
		}
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].RuleID < out[j].RuleID
	})
	return out
}

// latestFindings keeps the most recent finding per artifact ID.
func latestFindings(results []*scan.Result) []scan.Finding {
	idx := make(map[string]int)
	var out []scan.Finding
	for _, res := range results {
		for _, f := range res.Flagged {
			if i, ok := idx[f.Artifact.ID]; ok {
				out[i] = f
				continue
			}
			idx[f.Artifact.ID] = len(out)
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if ri, rj := rankOf(out[i].Verdict.Severity), rankOf(out[j].Verdict.Severity); ri != rj {
			return ri < rj
		}
		return out[i].Artifact.ID < out[j].Artifact.ID
	})
	return out
}

// normalizeFailureReason collapses whitespace and truncates long messages.
func normalizeFailureReason(reason string) string {
	s := strings.Join(strings.Fields(reason), " ")
	if s == "" {
		return "unknown failure"
	}
	if len(s) > 120 {
		return s[:117] + "..."
	}
	return s
}

// formatList renders "a, b, c, +N more".
func formatList(items []string, max int) string {
	if len(items) == 0 {
		return "-"
	}
	if len(items) <= max {
		return strings.Join(items, ", ")
	}
	return fmt.Sprintf("%s, +%d more", strings.Join(items[:max], ", "), len(items)-max)
}
