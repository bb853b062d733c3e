package observability

import (
	"fmt"
	"strings"
)

// DefaultRules are the case-insensitive markers of credential-shaped text.
var DefaultRules = []string{
	"api-key",
	"authorization",
	"bearer",
	"token",
	"password",
	"secret",
	"key=",
	"auth=",
	"code=",
	// shared secret of the hosted tool server endpoint
	"azmcpcs=",
}

// RuleSet is an ordered set of lower-case substrings.
type RuleSet []string

// NewRuleSet returns DefaultRules followed by extra, lower-cased and
// without duplicates or empty entries.
func NewRuleSet(extra ...string) RuleSet {
	seen := map[string]bool{}
	var rs RuleSet
	for _, r := range append(append([]string{}, DefaultRules...), extra...) {
		r = strings.ToLower(strings.TrimSpace(r))
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		rs = append(rs, r)
	}
	return rs
}

// Match returns the first rule contained in msg.
func (rs RuleSet) Match(msg string) (string, bool) {
	lower := strings.ToLower(msg)
	for _, r := range rs {
		if strings.Contains(lower, r) {
			return r, true
		}
	}
	return "", false
}

// Marker returns the text that replaces a redacted message of channel.
func Marker(channel string) string {
	return fmt.Sprintf("[REDACTED] message containing sensitive data - %s", channel)
}

// Redactor applies a RuleSet to log messages.
// It is read-only after construction and safe for concurrent use.
type Redactor struct {
	rules RuleSet
}

// NewRedactor returns a Redactor over rules.
func NewRedactor(rules RuleSet) *Redactor {
	return &Redactor{rules: rules}
}

// Rules returns a copy of the rule set.
func (r *Redactor) Rules() RuleSet {
	return append(RuleSet{}, r.rules...)
}

// Redact returns Marker(channel) when msg matches any rule,
// otherwise msg itself. The second value reports a replacement.
func (r *Redactor) Redact(channel, msg string) (string, bool) {
	if _, ok := r.rules.Match(msg); ok {
		return Marker(channel), true
	}
	return msg, false
}

// safeRedact never panics. ok is false when the record must be dropped.
func (r *Redactor) safeRedact(channel string, render func() string) (out string, redacted bool, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			out, redacted, ok = "", false, false
		}
	}()
	out, redacted = r.Redact(channel, render())
	return out, redacted, true
}
