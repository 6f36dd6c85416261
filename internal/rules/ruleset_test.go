package rules

import (
	"errors"
	"testing"

	"scanwarden/internal/artifact"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRuleSet(t *testing.T, defs []Definition) *RuleSet {
	t.Helper()
	rs, err := NewRuleSet(defs, AllowList{})
	require.NoError(t, err)
	return rs
}

func TestEvaluate_IdentifierSubstring(t *testing.T) {
	rs := mustRuleSet(t, []Definition{{Kind: KindIdentifierSubstring, Value: "hack"}})

	v := Evaluate(artifact.Record{ID: "HackTool"}, rs)
	assert.True(t, v.Suspicious())
	assert.Equal(t, "hack", v.RuleID)
	assert.Equal(t, KindIdentifierSubstring, v.Kind)
	assert.Equal(t, SeverityMedium, v.Severity)

	assert.Equal(t, Clean(), Evaluate(artifact.Record{ID: "GoodApp"}, rs))
}

func TestEvaluate_FirstMatchWins(t *testing.T) {
	rs := mustRuleSet(t, []Definition{
		{ID: "low-first", Kind: KindIdentifierSubstring, Value: "spy", Severity: "low"},
		{ID: "high-second", Kind: KindIdentifierSubstring, Value: "spyware", Severity: "high"},
	})

	v := rs.Evaluate(artifact.Record{ID: "com.spyware.app"})
	require.True(t, v.Suspicious())
	assert.Equal(t, "low-first", v.RuleID)
	assert.Equal(t, SeverityLow, v.Severity)
}

func TestEvaluate_CapabilityMembership(t *testing.T) {
	rs := mustRuleSet(t, []Definition{{
		ID:    "sms",
		Kind:  KindCapabilityMembership,
		Value: "READ_SMS, SEND_SMS",
	}})

	tests := []struct {
		name string
		caps []string
		want bool
	}{
		{"no capabilities", nil, false},
		{"unrelated", []string{"INTERNET"}, false},
		{"one member", []string{"INTERNET", "SEND_SMS"}, true},
		{"case differs", []string{"read_sms"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := rs.Evaluate(artifact.Record{ID: "x", Capabilities: tt.caps})
			assert.Equal(t, tt.want, v.Suspicious())
		})
	}
}

func TestEvaluate_LocationGlob(t *testing.T) {
	rs := mustRuleSet(t, []Definition{{ID: "tmp-exe", Kind: KindLocationGlob, Value: "/tmp/*.exe"}})

	assert.True(t, rs.Evaluate(artifact.Record{ID: "a", Location: "/tmp/a.exe"}).Suspicious())
	assert.False(t, rs.Evaluate(artifact.Record{ID: "a", Location: "/tmp/sub/a.exe"}).Suspicious())
	assert.False(t, rs.Evaluate(artifact.Record{ID: "a"}).Suspicious())
}

func TestEvaluate_NilRuleSetIsClean(t *testing.T) {
	assert.Equal(t, Clean(), Evaluate(artifact.Record{ID: "anything"}, nil))
}

func TestEvaluate_Deterministic(t *testing.T) {
	rs := Default()
	rec := artifact.Record{ID: "com.example.tracker", Capabilities: []string{"android.permission.CAMERA"}}
	first := rs.Evaluate(rec)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, rs.Evaluate(rec))
	}
	assert.Equal(t, "track", first.RuleID)
}

func TestNewRuleSet_Rejects(t *testing.T) {
	tests := []struct {
		name string
		defs []Definition
	}{
		{"unknown kind", []Definition{{Kind: "regex", Value: "x"}}},
		{"missing kind", []Definition{{Value: "x"}}},
		{"empty value", []Definition{{ID: "empty", Kind: KindIdentifierSubstring}}},
		{"empty capability set", []Definition{{ID: "caps", Kind: KindCapabilityMembership, Value: " , "}}},
		{"bad glob", []Definition{{ID: "glob", Kind: KindLocationGlob, Value: "[a-"}}},
		{"bad severity", []Definition{{Kind: KindIdentifierSubstring, Value: "x", Severity: "critical"}}},
		{"duplicate id", []Definition{
			{Kind: KindIdentifierSubstring, Value: "spy"},
			{ID: "spy", Kind: KindLocationGlob, Value: "*"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRuleSet(tt.defs, AllowList{})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidRule), "got %v", err)
		})
	}
}

func TestNewRuleSet_NormalizesDefinition(t *testing.T) {
	rs := mustRuleSet(t, []Definition{{Kind: " Identifier-Substring ", Value: " cheat "}})
	require.Equal(t, 1, rs.Len())

	r, ok := rs.Lookup("cheat")
	require.True(t, ok)
	assert.Equal(t, KindIdentifierSubstring, r.Kind())
	assert.Equal(t, "medium", r.Definition().Severity)
}

func TestAllowList_DowngradesMatch(t *testing.T) {
	allow, err := NewAllowList([]string{"Com.Example.Tracker"}, []string{"org.vendor.*"})
	require.NoError(t, err)
	rs, err := NewRuleSet([]Definition{{Kind: KindIdentifierSubstring, Value: "track"}}, allow)
	require.NoError(t, err)

	v := rs.Evaluate(artifact.Record{ID: "com.example.tracker"})
	assert.False(t, v.Suspicious())
	assert.Equal(t, "track", v.RuleID)
	assert.Equal(t, "allow.identifiers", v.AllowedBy)

	v = rs.Evaluate(artifact.Record{ID: "org.vendor.tracking"})
	assert.False(t, v.Suspicious())
	assert.Equal(t, "allow.patterns", v.AllowedBy)

	v = rs.Evaluate(artifact.Record{ID: "net.tracker"})
	assert.True(t, v.Suspicious())
	assert.Empty(t, v.AllowedBy)
}

func TestNewAllowList_BadPattern(t *testing.T) {
	_, err := NewAllowList(nil, []string{"[x"})
	require.Error(t, err)
}

func TestDefault(t *testing.T) {
	rs := Default()
	assert.Equal(t, "builtin", rs.Origin())
	assert.Equal(t, len(defaultSuspiciousPatterns)+1, rs.Len())

	v := rs.Evaluate(artifact.Record{ID: "com.quiet.recorder", Capabilities: []string{"android.permission.RECORD_AUDIO"}})
	require.True(t, v.Suspicious())
	assert.Equal(t, "sensitive-permissions", v.RuleID)
	assert.Equal(t, SeverityLow, v.Severity)
}

func TestKinds(t *testing.T) {
	ks := Kinds()
	require.Len(t, ks, 3)
	assert.Equal(t, KindCapabilityMembership, ks[0].Kind)

	_, ok := LookupKind(KindLocationGlob)
	assert.True(t, ok)
	_, ok = LookupKind("nope")
	assert.False(t, ok)

	assert.Panics(t, func() {
		RegisterKind(KindIdentifierSubstring, "dup", compileIdentifierSubstring)
	})
}
