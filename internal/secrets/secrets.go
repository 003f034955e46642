// Package secrets masks credentials in free text. An ordered registry of
// named patterns replaces each match with a tag derived from the rule name,
// so masked text is safe to log, audit and send back to a model.
package secrets

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule is one credential shape. Matches are replaced with Tag.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Tag     string
}

// Finding counts how many times a rule fired in one Mask call.
type Finding struct {
	Rule  string `json:"rule"`
	Count int    `json:"count"`
}

// Result is the output of Mask.
type Result struct {
	Masked   string
	Findings []Finding
}

// Detected reports whether any rule fired.
func (r Result) Detected() bool {
	return len(r.Findings) > 0
}

// RuleNames lists the rules that fired, in registry order.
func (r Result) RuleNames() []string {
	names := make([]string, 0, len(r.Findings))
	for _, f := range r.Findings {
		names = append(names, f.Rule)
	}
	return names
}

// Registry is an ordered, immutable set of rules. Safe for concurrent use.
type Registry struct {
	rules []Rule
}

// Order matters: vendor-prefixed keys must precede the generic sk- shape,
// and bearer tokens are masked before the bare JWT rule sees them.
var builtinRules = []Rule{
	NewRule("private_key", `-----BEGIN (?:RSA |EC |DSA |OPENSSH |PGP |ENCRYPTED )?PRIVATE KEY(?: BLOCK)?-----(?:[\s\S]*?-----END (?:RSA |EC |DSA |OPENSSH |PGP |ENCRYPTED )?PRIVATE KEY(?: BLOCK)?-----)?`),
	NewRule("anthropic_key", `\bsk-ant-[A-Za-z0-9_-]{20,}`),
	NewRule("openai_key", `\bsk-(?:proj-|svcacct-)?[A-Za-z0-9_-]{20,}`),
	NewRule("bearer_token", `(?i)\bbearer\s+[A-Za-z0-9_\-.=+/]{20,}`),
	NewRule("jwt", `\beyJ[A-Za-z0-9_-]{8,}\.eyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}`),
	NewRule("aws_access_key", `\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`),
	NewRule("github_token", `\bgh[pousr]_[A-Za-z0-9]{36,}`),
	NewRule("slack_token", `\bxox[baprs]-[0-9]{10,13}-[0-9]{10,13}[a-zA-Z0-9-]*`),
	NewRule("stripe_key", `\b[sr]k_(?:live|test)_[0-9a-zA-Z]{24,}`),
	NewRule("google_api_key", `\bAIza[0-9A-Za-z_-]{35}`),
	NewRule("basic_auth_url", `\bhttps?://[^\s:/@"']+:[^\s@/"']+@`),
}

var defaultRegistry = &Registry{rules: builtinRules}

// Default returns the process-wide registry of built-in rules.
func Default() *Registry {
	return defaultRegistry
}

// NewRule compiles a rule and derives its tag from the name. It panics on
// an invalid pattern, so use it only for literals; see CompileRule.
func NewRule(name, pattern string) Rule {
	return Rule{Name: name, Pattern: regexp.MustCompile(pattern), Tag: TagFor(name)}
}

// CompileRule is NewRule for patterns that come from configuration.
func CompileRule(name, pattern string) (Rule, error) {
	if strings.TrimSpace(name) == "" {
		return Rule{}, fmt.Errorf("secret rule has no name")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("secret rule %q: %w", name, err)
	}
	return Rule{Name: name, Pattern: re, Tag: TagFor(name)}, nil
}

// NewRegistry returns the built-in rules followed by extra.
func NewRegistry(extra ...Rule) *Registry {
	rules := make([]Rule, 0, len(builtinRules)+len(extra))
	rules = append(rules, builtinRules...)
	rules = append(rules, extra...)
	return &Registry{rules: rules}
}

// Rules returns a copy of the registry's rules in application order.
func (r *Registry) Rules() []Rule {
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Mask replaces every match of every rule, in order. Each rule sees the
// output of the rules before it.
func (r *Registry) Mask(text string) Result {
	result := Result{Masked: text}
	for _, rule := range r.rules {
		n := len(rule.Pattern.FindAllStringIndex(result.Masked, -1))
		if n == 0 {
			continue
		}
		result.Masked = rule.Pattern.ReplaceAllLiteralString(result.Masked, rule.Tag)
		result.Findings = append(result.Findings, Finding{Rule: rule.Name, Count: n})
	}
	return result
}

// Redact is Mask without the findings, for log lines.
func (r *Registry) Redact(text string) string {
	return r.Mask(text).Masked
}

// Mask runs the default registry.
func Mask(text string) Result {
	return defaultRegistry.Mask(text)
}

// Redact runs the default registry and returns only the masked text.
func Redact(text string) string {
	return defaultRegistry.Redact(text)
}

const tagPrefix = "[REDACTED_"

// TagFor derives the sentinel for a rule name: "bearer_token" ->
// "[REDACTED_BEARER_TOKEN]".
func TagFor(name string) string {
	upper := strings.ToUpper(strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name))
	return tagPrefix + upper + "]"
}

var placeholderRe = regexp.MustCompile(`(?i)^(?:\[REDACTED(?:_[A-Z0-9_]+)?\]|\*{3,}|<redacted>|x{3,})$`)

// IsPlaceholder reports whether s is already a masked sentinel rather than
// a literal secret.
func IsPlaceholder(s string) bool {
	return placeholderRe.MatchString(strings.TrimSpace(s))
}
