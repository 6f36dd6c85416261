package scan

import (
	"fmt"
	"path"
	"scanwarden/internal/artifact"
	"strings"
)

// Scope narrows a run to artifacts whose lowercase identifier matches the
// include patterns and none of the exclude patterns.
type Scope struct {
	Include []string
	Exclude []string
}

// Validate rejects malformed glob patterns.
func (s Scope) Validate() error {
	for _, p := range append(append([]string{}, s.Include...), s.Exclude...) {
		if _, err := path.Match(strings.ToLower(strings.TrimSpace(p)), ""); err != nil {
			return fmt.Errorf("invalid scope pattern %q: %w", p, err)
		}
	}
	return nil
}

// Allows reports whether rec is in scope.
func (s Scope) Allows(rec artifact.Record) bool {
	id := strings.ToLower(rec.ID)
	if len(s.Include) > 0 && !matchesAnyPattern(s.Include, id) {
		return false
	}
	if len(s.Exclude) > 0 && matchesAnyPattern(s.Exclude, id) {
		return false
	}
	return true
}

func matchesAnyPattern(patterns []string, id string) bool {
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if matched, _ := path.Match(p, id); matched {
			return true
		}
	}
	return false
}
