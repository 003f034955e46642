// Package rules holds the hard-rule validator: an ordered list of checks,
// each a tree walk over a sanitized JSON value that reports violations
// without stopping at the first one.
package rules

import (
	"strings"

	"github.com/gzhole/outputguard/internal/jsonvalue"
	"github.com/gzhole/outputguard/internal/policy"
)

// Check is one hard rule.
type Check interface {
	// Name identifies the check in logs and listings.
	Name() string

	// Check walks root and returns its violations in document order.
	Check(root jsonvalue.Value) []Violation
}

// Validator runs its checks in order and concatenates their results.
// It holds no mutable state and is safe for concurrent use.
type Validator struct {
	checks []Check
}

// New builds the standard check list from rule tables. Extra checks run
// after the built-in ones.
func New(tables policy.RuleTables, extra ...Check) *Validator {
	t := compile(tables)
	checks := []Check{
		&envRefCheck{},
		&sensitiveCheck{t: t},
		&requiredCheck{t: t},
		&pricingCheck{t: t},
		&typeCheck{t: t},
		&negativeCheck{t: t},
		&hiddenUnicodeCheck{},
	}
	return &Validator{checks: append(checks, extra...)}
}

// NewWithChecks builds a validator from an explicit list.
func NewWithChecks(checks ...Check) *Validator {
	return &Validator{checks: checks}
}

var defaultValidator = New(policy.DefaultPolicy().Rules)

// Validate runs the default validator.
func Validate(v jsonvalue.Value) []Violation {
	return defaultValidator.Validate(v)
}

// Validate runs every check over v.
func (val *Validator) Validate(v jsonvalue.Value) []Violation {
	var all []Violation
	for _, c := range val.checks {
		all = append(all, c.Check(v)...)
	}
	return all
}

// Checks returns the registered checks (for inspection/testing).
func (val *Validator) Checks() []Check {
	return val.checks
}

// tables is RuleTables indexed for lookups.
type tables struct {
	sensitive       []string
	required        map[string]bool
	pricing         policy.Pricing
	numeric         map[string]bool
	numericSuffixes []string
	signed          []string
}

func compile(rt policy.RuleTables) *tables {
	t := &tables{
		pricing:  rt.Pricing,
		required: make(map[string]bool, len(rt.RequiredEnvRefs)),
		numeric:  make(map[string]bool, len(rt.NumericFields)),
	}
	for _, f := range rt.SensitiveFragments {
		t.sensitive = append(t.sensitive, normalizeKey(f))
	}
	for _, f := range rt.RequiredEnvRefs {
		t.required[f] = true
	}
	for _, f := range rt.NumericFields {
		t.numeric[strings.ToLower(f)] = true
	}
	for _, s := range rt.NumericSuffixes {
		t.numericSuffixes = append(t.numericSuffixes, strings.ToLower(s))
	}
	for _, s := range rt.SignedMarkers {
		t.signed = append(t.signed, strings.ToLower(s))
	}
	return t
}

// normalizeKey lower-cases and keeps only letters and digits, so "apiKey",
// "api_key" and "API-KEY" compare equal.
func normalizeKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range strings.ToLower(key) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (t *tables) isSensitive(key string) bool {
	n := normalizeKey(key)
	if n == "" {
		return false
	}
	for _, f := range t.sensitive {
		if strings.Contains(n, f) {
			return true
		}
	}
	return false
}

func (t *tables) isNumericField(key string) bool {
	k := strings.ToLower(key)
	if k == "" || strings.HasSuffix(k, policy.EnvRefSuffix) || t.pricing.IsCanonical(key) {
		return false
	}
	if t.numeric[k] {
		return true
	}
	for _, s := range t.numericSuffixes {
		if strings.HasSuffix(k, s) {
			return true
		}
	}
	return false
}

func (t *tables) allowsNegative(key string) bool {
	k := strings.ToLower(key)
	for _, m := range t.signed {
		if strings.Contains(k, m) {
			return true
		}
	}
	return false
}
