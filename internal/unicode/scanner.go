// Package unicode finds characters in model output that render invisibly or
// deceptively: zero-width marks, bidi controls, tag characters, raw control
// bytes and Latin look-alikes from other scripts.
package unicode

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Severity says whether a finding should fail validation.
type Severity string

const (
	// SeverityHidden characters are invisible or reorder text; they fail
	// validation.
	SeverityHidden Severity = "hidden"
	// SeverityConfusable characters are visible but mimic Latin letters;
	// they are reported only.
	SeverityConfusable Severity = "confusable"
)

// Finding is one suspicious code point.
type Finding struct {
	Category  string   `json:"category"`
	Codepoint string   `json:"codepoint"`
	Offset    int      `json:"offset"`
	Severity  Severity `json:"severity"`
}

// Report is the output of Scan.
type Report struct {
	Findings []Finding
	// Stripped is the input with every hidden character removed.
	// Confusables are kept.
	Stripped string
}

// Hidden reports whether any finding is SeverityHidden.
func (r Report) Hidden() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityHidden {
			return true
		}
	}
	return false
}

// Summary lists the distinct hidden categories with their first code point,
// e.g. "zero-width U+200B, bidi-control U+202E".
func (r Report) Summary() string {
	seen := make(map[string]bool)
	var parts []string
	for _, f := range r.Findings {
		if f.Severity != SeverityHidden || seen[f.Category] {
			continue
		}
		seen[f.Category] = true
		parts = append(parts, f.Category+" "+f.Codepoint)
	}
	return strings.Join(parts, ", ")
}

// Scan inspects s. Tab, newline and carriage return are ordinary text.
func Scan(s string) Report {
	var report Report
	var stripped strings.Builder
	stripped.Grow(len(s))

	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])

		if r == utf8.RuneError && size == 1 {
			report.Findings = append(report.Findings, Finding{
				Category:  "invalid-utf8",
				Codepoint: fmt.Sprintf("0x%02X", s[i]),
				Offset:    i,
				Severity:  SeverityHidden,
			})
			i++
			continue
		}

		if category, sev := classify(r); category != "" {
			report.Findings = append(report.Findings, Finding{
				Category:  category,
				Codepoint: fmt.Sprintf("U+%04X", r),
				Offset:    i,
				Severity:  sev,
			})
			if sev == SeverityHidden {
				i += size
				continue
			}
		}

		stripped.WriteRune(r)
		i += size
	}

	report.Stripped = stripped.String()
	return report
}

// ContainsHidden is Scan(s).Hidden() without building the stripped copy.
func ContainsHidden(s string) bool {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			return true
		}
		if _, sev := classify(r); sev == SeverityHidden {
			return true
		}
		i += size
	}
	return false
}

func classify(r rune) (string, Severity) {
	switch {
	case isZeroWidth(r):
		return "zero-width", SeverityHidden
	case isBidiControl(r):
		return "bidi-control", SeverityHidden
	case r >= 0xE0001 && r <= 0xE007F:
		return "tag-char", SeverityHidden
	case isUnsafeControl(r):
		return "control-char", SeverityHidden
	}
	if isConfusable(r) {
		return "confusable", SeverityConfusable
	}
	return "", ""
}

func isZeroWidth(r rune) bool {
	switch r {
	case '\u200B', '\u200C', '\u200D', '\uFEFF', '\u2060', '\u180E',
		'\u200E', '\u200F', '\u00AD', '\u2061', '\u2062', '\u2063', '\u2064':
		return true
	}
	return false
}

func isBidiControl(r rune) bool {
	return (r >= '\u202A' && r <= '\u202E') || (r >= '\u2066' && r <= '\u2069')
}

func isUnsafeControl(r rune) bool {
	if r == '\t' || r == '\n' || r == '\r' {
		return false
	}
	return r <= 0x1F || r == 0x7F || (r >= 0x80 && r <= 0x9F)
}

// Cyrillic and Greek letters whose glyphs match a Latin letter.
var confusables = map[rune]bool{
	'а': true, 'А': true, 'В': true, 'с': true, 'С': true, 'е': true,
	'Е': true, 'Н': true, 'і': true, 'І': true, 'К': true, 'М': true,
	'о': true, 'О': true, 'р': true, 'Р': true, 'Т': true, 'х': true,
	'Х': true, 'у': true, 'У': true,
	'Α': true, 'Β': true, 'Ε': true, 'Η': true, 'Ι': true, 'Κ': true,
	'Μ': true, 'Ν': true, 'Ο': true, 'ο': true, 'Ρ': true, 'Τ': true,
	'Χ': true, 'Υ': true, 'Ζ': true,
}

func isConfusable(r rune) bool {
	if !unicode.In(r, unicode.Cyrillic, unicode.Greek) {
		return false
	}
	return confusables[r]
}
