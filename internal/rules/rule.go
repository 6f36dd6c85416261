package rules

import "scanwarden/internal/artifact"

// Rule is one compiled heuristic predicate.
type Rule interface {
	ID() string
	Kind() Kind
	Severity() Severity
	Description() string
	Definition() Definition

	// Match reports whether the artifact trips this rule.
	// Rules MUST only read fields of rec; no disk, network or shared state.
	Match(rec artifact.Record) bool
}

// Definition is the configuration form of a rule.
type Definition struct {
	ID          string `yaml:"id,omitempty" json:"id"`
	Kind        Kind   `yaml:"kind" json:"kind"`
	Value       string `yaml:"value" json:"value"`
	Severity    string `yaml:"severity,omitempty" json:"severity,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

type compiledRule struct {
	Matcher
	def      Definition
	severity Severity
}

func (r *compiledRule) ID() string             { return r.def.ID }
func (r *compiledRule) Kind() Kind             { return r.def.Kind }
func (r *compiledRule) Severity() Severity     { return r.severity }
func (r *compiledRule) Description() string    { return r.def.Description }
func (r *compiledRule) Definition() Definition { return r.def }
