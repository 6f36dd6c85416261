package rules

import (
	"fmt"
	"path"
	"scanwarden/internal/artifact"
	"strings"
)

// AllowList exempts known-good artifacts from suspicious verdicts.
// It supports exact identifiers and glob patterns, both case-insensitive.
type AllowList struct {
	Identifiers map[string]bool
	Patterns    []string
}

// NewAllowList normalizes entries to lowercase and validates patterns.
func NewAllowList(identifiers, patterns []string) (AllowList, error) {
	a := AllowList{Identifiers: make(map[string]bool)}
	for _, s := range identifiers {
		s = strings.TrimSpace(s)
		if s != "" {
			a.Identifiers[strings.ToLower(s)] = true
		}
	}
	for _, s := range patterns {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		s = strings.ToLower(s)
		if _, err := path.Match(s, ""); err != nil {
			return AllowList{}, fmt.Errorf("invalid allow pattern %q: %w", s, err)
		}
		a.Patterns = append(a.Patterns, s)
	}
	return a, nil
}

func (a AllowList) Empty() bool {
	return len(a.Identifiers) == 0 && len(a.Patterns) == 0
}

// IsAllowed reports whether rec is allow-listed and which entry type allowed it.
func (a AllowList) IsAllowed(rec artifact.Record) (bool, string) {
	id := strings.ToLower(rec.ID)
	if id == "" {
		return false, ""
	}
	if a.Identifiers[id] {
		return true, "allow.identifiers"
	}
	for _, pattern := range a.Patterns {
		if matched, _ := path.Match(pattern, id); matched {
			return true, "allow.patterns"
		}
	}
	return false, ""
}

// Apply downgrades a suspicious verdict to clean when rec is allow-listed.
// The matched rule stays on the verdict for auditing.
func (a AllowList) Apply(rec artifact.Record, v Verdict) Verdict {
	if !v.Suspicious() {
		return v
	}
	if allowed, reason := a.IsAllowed(rec); allowed {
		v.Status = StatusClean
		v.AllowedBy = reason
	}
	return v
}
