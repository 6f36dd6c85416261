package rules

import "strings"

var defaultSuspiciousPatterns = []string{
	"hack", "crack", "cheat", "spy", "track", "malware", "trojan",
}

var defaultSuspiciousPermissions = []string{
	"android.permission.READ_SMS",
	"android.permission.RECEIVE_SMS",
	"android.permission.SEND_SMS",
	"android.permission.CALL_PHONE",
	"android.permission.READ_CONTACTS",
	"android.permission.WRITE_CONTACTS",
	"android.permission.RECORD_AUDIO",
	"android.permission.CAMERA",
	"android.permission.READ_CALL_LOG",
}

// DefaultDefinitions is the builtin heuristic: name patterns first, then the
// sensitive-permission set.
func DefaultDefinitions() []Definition {
	defs := make([]Definition, 0, len(defaultSuspiciousPatterns)+1)
	for _, p := range defaultSuspiciousPatterns {
		defs = append(defs, Definition{
			Kind:        KindIdentifierSubstring,
			Value:       p,
			Severity:    string(SeverityMedium),
			Description: "Identifier contains suspicious pattern \"" + p + "\".",
		})
	}
	defs = append(defs, Definition{
		ID:          "sensitive-permissions",
		Kind:        KindCapabilityMembership,
		Value:       strings.Join(defaultSuspiciousPermissions, ","),
		Severity:    string(SeverityLow),
		Description: "Declares a permission that grants access to messages, calls, contacts, microphone or camera.",
	})
	return defs
}

// Default compiles DefaultDefinitions.
func Default() *RuleSet {
	rs, err := NewRuleSet(DefaultDefinitions(), AllowList{})
	if err != nil {
		panic("rules: builtin definitions do not compile: " + err.Error())
	}
	return rs.withOrigin("builtin")
}
