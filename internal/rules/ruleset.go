package rules

import (
	"errors"
	"fmt"
	"scanwarden/internal/artifact"
	"strings"
	"time"
)

// ErrInvalidRule is wrapped by every rule compilation failure.
var ErrInvalidRule = errors.New("invalid rule")

// RuleSet is an ordered, immutable list of compiled rules plus an allow-list.
//
// Evaluation is first-match-wins: the first rule in definition order that
// matches decides the verdict. Severity plays no part in which rule is
// reported.
type RuleSet struct {
	rules    []Rule
	allow    AllowList
	origin   string
	loadedAt time.Time
}

// NewRuleSet compiles defs in order. Unknown kinds, empty values, invalid
// severities and duplicate IDs are rejected here so that Evaluate stays total.
// A definition without an ID takes its value as ID.
func NewRuleSet(defs []Definition, allow AllowList) (*RuleSet, error) {
	rs := &RuleSet{
		rules:    make([]Rule, 0, len(defs)),
		allow:    allow,
		origin:   "inline",
		loadedAt: time.Now(),
	}
	seen := make(map[string]int, len(defs))
	for i, def := range defs {
		r, err := compile(def)
		if err != nil {
			return nil, fmt.Errorf("rule #%d (%s): %w", i+1, describe(def), err)
		}
		if prev, dup := seen[r.ID()]; dup {
			return nil, fmt.Errorf("rule #%d (%s): %w: duplicate id (first defined as rule #%d)", i+1, r.ID(), ErrInvalidRule, prev+1)
		}
		seen[r.ID()] = i
		rs.rules = append(rs.rules, r)
	}
	return rs, nil
}

func compile(def Definition) (Rule, error) {
	def.Kind = Kind(strings.ToLower(strings.TrimSpace(string(def.Kind))))
	def.ID = strings.TrimSpace(def.ID)
	def.Value = strings.TrimSpace(def.Value)

	if def.Kind == "" {
		return nil, fmt.Errorf("%w: kind is required", ErrInvalidRule)
	}
	compileFn, ok := lookupKind(def.Kind)
	if !ok {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidRule, def.Kind)
	}
	sev, err := ParseSeverity(def.Severity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	def.Severity = string(sev)
	if def.ID == "" {
		def.ID = def.Value
	}
	if def.ID == "" {
		return nil, fmt.Errorf("%w: id or value is required", ErrInvalidRule)
	}
	m, err := compileFn(def.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: kind %q produced no matcher", ErrInvalidRule, def.Kind)
	}
	return &compiledRule{Matcher: m, def: def, severity: sev}, nil
}

func describe(def Definition) string {
	if def.ID != "" {
		return def.ID
	}
	if def.Value != "" {
		return fmt.Sprintf("%s %q", def.Kind, def.Value)
	}
	return string(def.Kind)
}

// Evaluate applies rs to rec. A nil RuleSet yields a clean verdict.
func Evaluate(rec artifact.Record, rs *RuleSet) Verdict {
	return rs.Evaluate(rec)
}

func (rs *RuleSet) Evaluate(rec artifact.Record) Verdict {
	if rs == nil {
		return Clean()
	}
	for _, r := range rs.rules {
		if r.Match(rec) {
			return rs.allow.Apply(rec, suspiciousVerdict(r))
		}
	}
	return Clean()
}

// Rules returns the compiled rules in evaluation order.
func (rs *RuleSet) Rules() []Rule {
	if rs == nil {
		return nil
	}
	out := make([]Rule, len(rs.rules))
	copy(out, rs.rules)
	return out
}

func (rs *RuleSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.rules)
}

// Lookup finds a rule by ID.
func (rs *RuleSet) Lookup(id string) (Rule, bool) {
	if rs == nil {
		return nil, false
	}
	for _, r := range rs.rules {
		if r.ID() == id {
			return r, true
		}
	}
	return nil, false
}

func (rs *RuleSet) AllowList() AllowList {
	if rs == nil {
		return AllowList{}
	}
	return rs.allow
}

// Origin names where the set came from ("builtin", "inline" or a file path).
func (rs *RuleSet) Origin() string {
	if rs == nil {
		return ""
	}
	return rs.origin
}

func (rs *RuleSet) LoadedAt() time.Time {
	if rs == nil {
		return time.Time{}
	}
	return rs.loadedAt
}

func (rs *RuleSet) withOrigin(origin string) *RuleSet {
	rs.origin = origin
	return rs
}
