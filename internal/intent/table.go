package intent

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed contracts.yaml
var defaultTableYAML []byte

// Table is the immutable routing table: ordered rules plus the contract
// each tag resolves to. Build it once and share it.
type Table struct {
	rules     []rule
	contracts map[Tag]Contract
}

type rule struct {
	tag         Tag
	patterns    []*regexp.Regexp
	excludes    []*regexp.Regexp
	attachments []string
}

type tableFile struct {
	Version int `yaml:"version"`
	Rules   []struct {
		Tag         Tag      `yaml:"tag"`
		Patterns    []string `yaml:"patterns"`
		Exclude     []string `yaml:"exclude"`
		Attachments []string `yaml:"attachments"`
	} `yaml:"rules"`
	Contracts []struct {
		Tag                Tag      `yaml:"tag"`
		JSONOnly           bool     `yaml:"json_only"`
		SystemInstructions string   `yaml:"system_instructions"`
		OutputRules        []string `yaml:"output_rules"`
	} `yaml:"contracts"`
}

// ParseTable builds a Table from YAML. Every rule tag needs a contract and
// a general contract must exist as the fallback.
func ParseTable(data []byte) (*Table, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse contract table: %w", err)
	}

	t := &Table{contracts: make(map[Tag]Contract, len(f.Contracts))}
	for _, c := range f.Contracts {
		if !c.Tag.Valid() {
			return nil, fmt.Errorf("contract table: unknown tag %q", c.Tag)
		}
		t.contracts[c.Tag] = Contract{
			Tag:                c.Tag,
			JSONOnly:           c.JSONOnly,
			SystemInstructions: strings.TrimSpace(c.SystemInstructions),
			OutputRules:        c.OutputRules,
		}
	}
	if _, ok := t.contracts[TagGeneral]; !ok {
		return nil, fmt.Errorf("contract table: missing %q contract", TagGeneral)
	}

	for _, r := range f.Rules {
		if _, ok := t.contracts[r.Tag]; !ok {
			return nil, fmt.Errorf("contract table: rule %q has no contract", r.Tag)
		}
		compiled := rule{tag: r.Tag}
		for _, p := range r.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("contract table: rule %q: %w", r.Tag, err)
			}
			compiled.patterns = append(compiled.patterns, re)
		}
		for _, p := range r.Exclude {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("contract table: rule %q exclude: %w", r.Tag, err)
			}
			compiled.excludes = append(compiled.excludes, re)
		}
		for _, a := range r.Attachments {
			compiled.attachments = append(compiled.attachments, strings.ToLower(a))
		}
		t.rules = append(t.rules, compiled)
	}
	return t, nil
}

var (
	defaultTable     *Table
	defaultTableOnce sync.Once
)

// DefaultTable returns the embedded table, parsed on first use. It panics
// if the embedded file is broken, which the package tests rule out.
func DefaultTable() *Table {
	defaultTableOnce.Do(func() {
		t, err := ParseTable(defaultTableYAML)
		if err != nil {
			panic(err)
		}
		defaultTable = t
	})
	return defaultTable
}

// Lookup returns the contract for tag.
func (t *Table) Lookup(tag Tag) (Contract, bool) {
	c, ok := t.contracts[tag]
	if ok {
		c.OutputRules = append([]string(nil), c.OutputRules...)
	}
	return c, ok
}

// Tags lists the tags that have rules, in priority order.
func (t *Table) Tags() []Tag {
	tags := make([]Tag, len(t.rules))
	for i, r := range t.rules {
		tags[i] = r.tag
	}
	return tags
}

// matchesText reports a pattern match unless an exclude pattern vetoes it.
func (r rule) matchesText(lower string) bool {
	for _, re := range r.excludes {
		if re.MatchString(lower) {
			return false
		}
	}
	for _, re := range r.patterns {
		if re.MatchString(lower) {
			return true
		}
	}
	return false
}

func (r rule) matchesAttachment(kinds []string) bool {
	for _, k := range kinds {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		for _, hint := range r.attachments {
			if matchKind(k, hint) {
				return true
			}
		}
	}
	return false
}

func matchKind(kind, hint string) bool {
	switch {
	case strings.HasSuffix(hint, "/"):
		return strings.HasPrefix(kind, hint)
	case strings.HasPrefix(hint, "."):
		return strings.HasSuffix(kind, hint)
	default:
		return kind == hint
	}
}
