package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Pack contributes extra rule table entries and secret patterns on top of
// the base policy. Presentation thresholds are not pack-overridable.
type Pack struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	PackVersion string          `yaml:"version"`
	Author      string          `yaml:"author"`
	Rules       RuleTables      `yaml:"rules"`
	Secrets     []SecretPattern `yaml:"secret_patterns"`
}

// RuleCount is the number of table entries and secret patterns the pack adds.
func (p *Pack) RuleCount() int {
	r := p.Rules
	return len(r.SensitiveFragments) + len(r.RequiredEnvRefs) +
		len(r.Pricing.InputAliases) + len(r.Pricing.OutputAliases) +
		len(r.NumericFields) + len(r.NumericSuffixes) + len(r.SignedMarkers) +
		len(r.ListFields) + len(p.Secrets)
}

// PackInfo is a summary of a pack for listing.
type PackInfo struct {
	Name        string
	Description string
	Version     string
	Author      string
	Enabled     bool
	Path        string
	RuleCount   int
	Err         error
}

// LoadPacks reads all .yaml files from the packs directory and merges them
// into a copy of base. Table entries are unioned; secret patterns are
// appended after the base ones. A file whose name starts with "_" is listed
// but not applied.
func LoadPacks(packsDir string, base *Policy) (*Policy, []PackInfo, error) {
	var infos []PackInfo

	entries, err := os.ReadDir(packsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return base, nil, nil
		}
		return nil, nil, err
	}

	result := clonePolicy(base)

	for _, entry := range entries {
		if entry.IsDir() || !isYAMLFile(entry.Name()) {
			continue
		}

		path := filepath.Join(packsDir, entry.Name())
		baseName := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		enabled := !strings.HasPrefix(baseName, "_")

		pack, err := loadPack(path)
		if err != nil {
			infos = append(infos, PackInfo{
				Name:    baseName,
				Enabled: enabled,
				Path:    path,
				Err:     err,
			})
			continue
		}

		info := PackInfo{
			Name:        pack.Name,
			Description: pack.Description,
			Version:     pack.PackVersion,
			Author:      pack.Author,
			Enabled:     enabled,
			Path:        path,
			RuleCount:   pack.RuleCount(),
		}
		if info.Name == "" {
			info.Name = baseName
		}
		infos = append(infos, info)

		if !enabled {
			continue
		}
		mergePackInto(result, pack)
	}

	if err := result.Validate(); err != nil {
		return nil, infos, err
	}
	return result, infos, nil
}

func loadPack(path string) (*Pack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var pack Pack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("failed to parse pack %s: %w", path, err)
	}
	return &pack, nil
}

func mergePackInto(target *Policy, pack *Pack) {
	t, p := &target.Rules, pack.Rules
	t.SensitiveFragments = union(t.SensitiveFragments, p.SensitiveFragments)
	t.RequiredEnvRefs = union(t.RequiredEnvRefs, p.RequiredEnvRefs)
	t.Pricing.InputAliases = union(t.Pricing.InputAliases, p.Pricing.InputAliases)
	t.Pricing.OutputAliases = union(t.Pricing.OutputAliases, p.Pricing.OutputAliases)
	t.NumericFields = union(t.NumericFields, p.NumericFields)
	t.NumericSuffixes = union(t.NumericSuffixes, p.NumericSuffixes)
	t.SignedMarkers = union(t.SignedMarkers, p.SignedMarkers)
	t.ListFields = union(t.ListFields, p.ListFields)

	target.Secrets = append(target.Secrets, pack.Secrets...)
}

func union(dst, src []string) []string {
	seen := make(map[string]bool, len(dst))
	for _, s := range dst {
		seen[s] = true
	}
	for _, s := range src {
		if !seen[s] {
			dst = append(dst, s)
			seen[s] = true
		}
	}
	return dst
}

func clonePolicy(p *Policy) *Policy {
	r := p.Rules
	clone := &Policy{
		Version:      p.Version,
		Presentation: p.Presentation,
		Rules: RuleTables{
			SensitiveFragments: cloneStrings(r.SensitiveFragments),
			RequiredEnvRefs:    cloneStrings(r.RequiredEnvRefs),
			Pricing: Pricing{
				Key:           r.Pricing.Key,
				InputKey:      r.Pricing.InputKey,
				OutputKey:     r.Pricing.OutputKey,
				InputAliases:  cloneStrings(r.Pricing.InputAliases),
				OutputAliases: cloneStrings(r.Pricing.OutputAliases),
			},
			NumericFields:   cloneStrings(r.NumericFields),
			NumericSuffixes: cloneStrings(r.NumericSuffixes),
			SignedMarkers:   cloneStrings(r.SignedMarkers),
			ListFields:      cloneStrings(r.ListFields),
		},
	}
	clone.Secrets = make([]SecretPattern, len(p.Secrets))
	copy(clone.Secrets, p.Secrets)
	return clone
}

func cloneStrings(s []string) []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}

func isYAMLFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
