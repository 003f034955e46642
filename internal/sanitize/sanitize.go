// Package sanitize normalizes the shape of a parsed JSON value before the
// hard rules see it. It renames keys, coerces pricing strings to numbers,
// splits delimited list fields and flattens {"env_ref": NAME} objects. It
// never drops data and never fails.
package sanitize

import (
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/gzhole/outputguard/internal/jsonvalue"
	"github.com/gzhole/outputguard/internal/policy"
)

const envRefKey = "env_ref"

// Sanitizer applies one policy's tables. Safe for concurrent use.
type Sanitizer struct {
	pricing    policy.Pricing
	listFields map[string]bool
}

// New builds a Sanitizer from rule tables.
func New(tables policy.RuleTables) *Sanitizer {
	s := &Sanitizer{
		pricing:    tables.Pricing,
		listFields: make(map[string]bool, len(tables.ListFields)),
	}
	for _, f := range tables.ListFields {
		s.listFields[f] = true
	}
	return s
}

var defaultSanitizer = New(policy.DefaultPolicy().Rules)

// Sanitize runs the default sanitizer.
func Sanitize(v jsonvalue.Value) jsonvalue.Value {
	return defaultSanitizer.Sanitize(v)
}

// Sanitize returns a normalized copy of v. v itself is not modified.
func (s *Sanitizer) Sanitize(v jsonvalue.Value) jsonvalue.Value {
	switch v.Kind() {
	case jsonvalue.KindArray:
		items := v.Items()
		out := make([]jsonvalue.Value, len(items))
		for i, item := range items {
			out[i] = s.Sanitize(item)
		}
		return jsonvalue.Array(out...)
	case jsonvalue.KindObject:
		return s.object(v.Members())
	default:
		return v
	}
}

func (s *Sanitizer) object(members []jsonvalue.Member) jsonvalue.Value {
	original := make(map[string]bool, len(members))
	for _, m := range members {
		original[m.Key] = true
	}
	emitted := make(map[string]bool, len(members))

	out := make([]jsonvalue.Member, 0, len(members))
	for _, m := range members {
		child := s.Sanitize(m.Value)
		key, value := s.member(m.Key, child)

		// A rename must not shadow a sibling; keep the original key then.
		if key != m.Key && (original[key] || emitted[key]) {
			key, value = m.Key, child
		}
		emitted[key] = true
		out = append(out, jsonvalue.Member{Key: key, Value: value})
	}
	return jsonvalue.Object(out...)
}

func (s *Sanitizer) member(key string, value jsonvalue.Value) (string, jsonvalue.Value) {
	if canonical := s.pricing.Canonical(key); canonical != "" {
		key = canonical
	} else if needsSnake(key) {
		key = SnakeCase(key)
	}

	if name, ok := envRefObject(value); ok {
		if !strings.HasSuffix(key, policy.EnvRefSuffix) && key != envRefKey {
			key += policy.EnvRefSuffix
		}
		value = jsonvalue.String(name)
	}

	if str, ok := value.AsString(); ok {
		if s.pricing.IsCanonical(key) {
			if n, ok := numericString(str); ok {
				value = n
			}
		} else if s.listFields[key] {
			value = splitList(str)
		}
	}
	return key, value
}

func needsSnake(key string) bool {
	if strings.Contains(key, "_") {
		return false
	}
	for _, r := range key {
		if unicode.IsUpper(r) {
			return true
		}
	}
	return false
}

// SnakeCase converts camelCase or PascalCase to snake_case. Acronym runs
// stay together: "userID" -> "user_id", "HTTPServer" -> "http_server".
func SnakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// envRefObject matches {"env_ref": "NAME"} with no other members.
func envRefObject(v jsonvalue.Value) (string, bool) {
	if !v.IsObject() || v.Len() != 1 {
		return "", false
	}
	m := v.Members()[0]
	if m.Key != envRefKey {
		return "", false
	}
	return m.Value.AsString()
}

// numericString parses "10", " 2.5 " or "1e3". Currency symbols and
// thousands separators are not accepted.
func numericString(s string) (jsonvalue.Value, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return jsonvalue.Value{}, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return jsonvalue.Value{}, false
	}
	return jsonvalue.Float(f), true
}

func splitList(s string) jsonvalue.Value {
	tokens := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	items := make([]jsonvalue.Value, len(tokens))
	for i, t := range tokens {
		items[i] = jsonvalue.String(t)
	}
	return jsonvalue.Array(items...)
}
