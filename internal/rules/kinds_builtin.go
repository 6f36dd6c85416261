package rules

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"scanwarden/internal/artifact"
)

const (
	KindIdentifierSubstring  Kind = "identifier-substring"
	KindCapabilityMembership Kind = "capability-membership"
	KindLocationGlob         Kind = "location-glob"
)

func init() {
	RegisterKind(KindIdentifierSubstring,
		"Case-insensitive substring match against the artifact identifier.",
		compileIdentifierSubstring)
	RegisterKind(KindCapabilityMembership,
		"Matches when any declared capability is in the comma-separated value set (exact match).",
		compileCapabilityMembership)
	RegisterKind(KindLocationGlob,
		"Go path.Match glob against the artifact location (case-sensitive).",
		compileLocationGlob)
}

func compileIdentifierSubstring(value string) (Matcher, error) {
	needle := strings.ToLower(strings.TrimSpace(value))
	if needle == "" {
		return nil, errors.New("value must not be empty")
	}
	return MatcherFunc(func(rec artifact.Record) bool {
		return strings.Contains(strings.ToLower(rec.ID), needle)
	}), nil
}

func compileCapabilityMembership(value string) (Matcher, error) {
	set := make(map[string]struct{})
	for _, part := range strings.Split(value, ",") {
		p := strings.TrimSpace(part)
		if p == "" {
			continue
		}
		set[p] = struct{}{}
	}
	if len(set) == 0 {
		return nil, errors.New("value must list at least one capability")
	}
	return MatcherFunc(func(rec artifact.Record) bool {
		for _, c := range rec.Capabilities {
			if _, ok := set[c]; ok {
				return true
			}
		}
		return false
	}), nil
}

func compileLocationGlob(value string) (Matcher, error) {
	pattern := strings.TrimSpace(value)
	if pattern == "" {
		return nil, errors.New("value must not be empty")
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid glob %q: %w", pattern, err)
	}
	return MatcherFunc(func(rec artifact.Record) bool {
		if rec.Location == "" {
			return false
		}
		// Pattern was validated above, so the error is always nil here.
		matched, _ := path.Match(pattern, rec.Location)
		return matched
	}), nil
}
