package rules

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// File is the on-disk rules document.
//
//	rules:
//	  - id: hack
//	    kind: identifier-substring
//	    value: hack
//	    severity: high
//	allow:
//	  identifiers: [com.example.tracker]
//	  patterns: ["com.vendor.*"]
type File struct {
	Rules []Definition `yaml:"rules"`
	Allow struct {
		Identifiers []string `yaml:"identifiers"`
		Patterns    []string `yaml:"patterns"`
	} `yaml:"allow"`
}

// Parse decodes and compiles a rules document. Unknown fields are rejected.
func Parse(data []byte) (*RuleSet, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("%w: rules file defines no rules", ErrInvalidRule)
	}
	allow, err := NewAllowList(f.Allow.Identifiers, f.Allow.Patterns)
	if err != nil {
		return nil, err
	}
	return NewRuleSet(f.Rules, allow)
}

// Loader reads a RuleSet from disk. An empty Path yields the builtin set.
type Loader struct {
	Path string

	// SignaturePath is the detached armored signature. Defaults to Path + ".asc"
	// when Verifier is set.
	SignaturePath string
	Verifier      *Verifier

	// Allow is merged into a builtin set. File-based sets carry their own.
	Allow AllowList
}

func (l Loader) Load() (*RuleSet, error) {
	if strings.TrimSpace(l.Path) == "" {
		if l.Allow.Empty() {
			return Default(), nil
		}
		rs, err := NewRuleSet(DefaultDefinitions(), l.Allow)
		if err != nil {
			return nil, err
		}
		return rs.withOrigin("builtin"), nil
	}

	data, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	if l.Verifier != nil {
		sig := l.SignaturePath
		if sig == "" {
			sig = l.Path + ".asc"
		}
		sigData, err := os.ReadFile(sig)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: signature %s not found", ErrUntrustedRules, sig)
			}
			return nil, fmt.Errorf("read rules signature: %w", err)
		}
		if err := l.Verifier.Verify(data, sigData); err != nil {
			return nil, err
		}
	}

	rs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", l.Path, err)
	}
	return rs.withOrigin(l.Path), nil
}
