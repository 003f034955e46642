package rules

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/gzhole/outputguard/internal/jsonvalue"
	"github.com/gzhole/outputguard/internal/policy"
	"github.com/gzhole/outputguard/internal/secrets"
	"github.com/gzhole/outputguard/internal/unicode"
)

// envRefShape is one forbidden way of writing an environment reference
// inside a value instead of through a *_env_ref key.
type envRefShape struct {
	name    string
	pattern *regexp.Regexp
}

var envRefShapes = []envRefShape{
	{"colon", regexp.MustCompile(`(?i)\benv_ref\s*:\s*([A-Za-z_][A-Za-z0-9_]*)`)},
	{"equals", regexp.MustCompile(`(?i)\benv_ref\s*=\s*([A-Za-z_][A-Za-z0-9_]*)`)},
	{"dotted", regexp.MustCompile(`(?i)\benv_ref\.([A-Za-z_][A-Za-z0-9_]*)`)},
}

// malformedEnvRef returns the variable name of the first malformed
// reference in s.
func malformedEnvRef(s string) (string, bool) {
	for _, shape := range envRefShapes {
		if m := shape.pattern.FindStringSubmatch(s); m != nil {
			return m[1], true
		}
	}
	return "", false
}

func envRefField(owner string) string {
	if owner == "" {
		return "<field>" + policy.EnvRefSuffix
	}
	if strings.HasSuffix(owner, policy.EnvRefSuffix) {
		return owner
	}
	return owner + policy.EnvRefSuffix
}

type envRefCheck struct{}

func (c *envRefCheck) Name() string { return "malformed-env-ref" }

func (c *envRefCheck) Check(root jsonvalue.Value) []Violation {
	var out []Violation
	jsonvalue.Walk(root, func(n jsonvalue.Node) {
		s, ok := n.Value.AsString()
		if !ok {
			return
		}
		for _, shape := range envRefShapes {
			for _, m := range shape.pattern.FindAllStringSubmatch(s, -1) {
				out = append(out, Violation{
					Kind: KindMalformedEnvRef,
					Path: n.Path,
					Detail: fmt.Sprintf("malformed environment reference %q; use %q: %q instead",
						m[0], envRefField(n.Owner), m[1]),
				})
			}
		}
	})
	return out
}

type sensitiveCheck struct{ t *tables }

func (c *sensitiveCheck) Name() string { return "sensitive-exposure" }

func (c *sensitiveCheck) Check(root jsonvalue.Value) []Violation {
	var out []Violation
	jsonvalue.Walk(root, func(n jsonvalue.Node) {
		if n.Key == "" || strings.HasSuffix(n.Key, policy.EnvRefSuffix) || !c.t.isSensitive(n.Key) {
			return
		}
		s, ok := n.Value.AsString()
		if !ok {
			return
		}
		s = strings.TrimSpace(s)
		if s == "" || secrets.IsPlaceholder(s) {
			return
		}
		if _, reported := malformedEnvRef(s); reported {
			return
		}
		out = append(out, Violation{
			Kind:   KindSensitiveExposure,
			Path:   n.Path,
			Detail: fmt.Sprintf("sensitive field holds a literal value; put the environment variable name in %q instead", envRefField(n.Key)),
		})
	})
	return out
}

type requiredCheck struct{ t *tables }

func (c *requiredCheck) Name() string { return "required-env-ref" }

func (c *requiredCheck) Check(root jsonvalue.Value) []Violation {
	var out []Violation
	jsonvalue.Walk(root, func(n jsonvalue.Node) {
		if n.Key == "" || !c.t.required[n.Key] {
			return
		}
		switch n.Value.Kind() {
		case jsonvalue.KindNull:
			out = append(out, Violation{Kind: KindRequiredEmpty, Path: n.Path, Detail: "must name an environment variable, got null"})
		case jsonvalue.KindString:
			if s, _ := n.Value.AsString(); strings.TrimSpace(s) == "" {
				out = append(out, Violation{Kind: KindRequiredEmpty, Path: n.Path, Detail: "must name an environment variable, got an empty string"})
			}
		default:
			out = append(out, Violation{
				Kind:   KindTypeMismatch,
				Path:   n.Path,
				Detail: fmt.Sprintf("must be a string naming an environment variable, got %s", n.Value.Kind()),
			})
		}
	})
	return out
}

type pricingCheck struct{ t *tables }

func (c *pricingCheck) Name() string { return "pricing-format" }

func (c *pricingCheck) Check(root jsonvalue.Value) []Violation {
	var out []Violation
	pr := c.t.pricing
	jsonvalue.Walk(root, func(n jsonvalue.Node) {
		if n.Key != pr.Key || !n.Value.IsObject() {
			return
		}
		for _, m := range n.Value.Members() {
			path := jsonvalue.JoinKey(n.Path, m.Key)
			switch {
			case pr.IsCanonical(m.Key):
				if m.Value.Kind() != jsonvalue.KindNumber {
					out = append(out, Violation{
						Kind:   KindPricingFormat,
						Path:   path,
						Detail: fmt.Sprintf("must be a number, got %s", m.Value.Kind()),
					})
				}
			case pr.Canonical(m.Key) != "":
				out = append(out, Violation{
					Kind:   KindPricingFormat,
					Path:   path,
					Detail: fmt.Sprintf("pricing key must be exactly %q", pr.Canonical(m.Key)),
				})
			default:
				out = append(out, Violation{
					Kind:   KindPricingFormat,
					Path:   path,
					Detail: fmt.Sprintf("unexpected pricing key; only %q and %q are allowed", pr.InputKey, pr.OutputKey),
				})
			}
		}
	})
	return out
}

type typeCheck struct{ t *tables }

func (c *typeCheck) Name() string { return "type-hygiene" }

func (c *typeCheck) Check(root jsonvalue.Value) []Violation {
	var out []Violation
	jsonvalue.Walk(root, func(n jsonvalue.Node) {
		s, ok := n.Value.AsString()
		if !ok {
			return
		}
		trimmed := strings.TrimSpace(s)
		switch {
		case strings.EqualFold(trimmed, "true") || strings.EqualFold(trimmed, "false"):
			out = append(out, Violation{
				Kind:   KindTypeMismatch,
				Path:   n.Path,
				Detail: fmt.Sprintf("must be a boolean, got the string %q", s),
			})
		case c.t.isNumericField(n.Owner) && isNumeric(trimmed):
			out = append(out, Violation{
				Kind:   KindTypeMismatch,
				Path:   n.Path,
				Detail: fmt.Sprintf("must be a number, got the string %q", s),
			})
		}
	})
	return out
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	f, err := strconv.ParseFloat(s, 64)
	return err == nil && !math.IsInf(f, 0) && !math.IsNaN(f)
}

type negativeCheck struct{ t *tables }

func (c *negativeCheck) Name() string { return "negative-value" }

func (c *negativeCheck) Check(root jsonvalue.Value) []Violation {
	var out []Violation
	jsonvalue.Walk(root, func(n jsonvalue.Node) {
		f, ok := n.Value.AsFloat()
		if !ok || f >= 0 || !c.t.isNumericField(n.Owner) || c.t.allowsNegative(n.Owner) {
			return
		}
		num, _ := n.Value.AsNumber()
		out = append(out, Violation{
			Kind:   KindNegativeValue,
			Path:   n.Path,
			Detail: fmt.Sprintf("negative value %s; only offset or diff fields may be negative", num),
		})
	})
	return out
}

type hiddenUnicodeCheck struct{}

func (c *hiddenUnicodeCheck) Name() string { return "hidden-unicode" }

func (c *hiddenUnicodeCheck) Check(root jsonvalue.Value) []Violation {
	var out []Violation
	jsonvalue.Walk(root, func(n jsonvalue.Node) {
		if n.Key != "" && unicode.ContainsHidden(n.Key) {
			out = append(out, Violation{
				Kind:   KindHiddenUnicode,
				Path:   n.Path,
				Detail: "key contains hidden characters (" + unicode.Scan(n.Key).Summary() + ")",
			})
		}
		if s, ok := n.Value.AsString(); ok && unicode.ContainsHidden(s) {
			out = append(out, Violation{
				Kind:   KindHiddenUnicode,
				Path:   n.Path,
				Detail: "value contains hidden characters (" + unicode.Scan(s).Summary() + ")",
			})
		}
	})
	return out
}
