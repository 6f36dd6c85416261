package rules

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusClean      Status = "clean"
	StatusSuspicious Status = "suspicious"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// ParseSeverity normalizes s. An empty value means SeverityMedium.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return SeverityMedium, nil
	case "low":
		return SeverityLow, nil
	case "medium":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	default:
		return "", fmt.Errorf("unsupported severity %q (must be one of: low, medium, high)", s)
	}
}

// Verdict is the outcome of evaluating one artifact against a RuleSet.
//
// RuleID, Kind and Severity describe the first rule that matched. They are
// also populated for allow-listed artifacts, where Status is clean and
// AllowedBy names the allow-list entry.
type Verdict struct {
	Status    Status   `json:"status"`
	RuleID    string   `json:"rule,omitempty"`
	Kind      Kind     `json:"kind,omitempty"`
	Severity  Severity `json:"severity,omitempty"`
	AllowedBy string   `json:"allowed_by,omitempty"`
}

func (v Verdict) Suspicious() bool {
	return v.Status == StatusSuspicious
}

func Clean() Verdict {
	return Verdict{Status: StatusClean}
}

func suspiciousVerdict(r Rule) Verdict {
	return Verdict{
		Status:   StatusSuspicious,
		RuleID:   r.ID(),
		Kind:     r.Kind(),
		Severity: r.Severity(),
	}
}
