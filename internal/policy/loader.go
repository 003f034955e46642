package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gzhole/outputguard/internal/secrets"
)

// Load reads a policy file. A missing file yields DefaultPolicy; sections
// left out of the file keep their defaults.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultPolicy(), nil
		}
		return nil, err
	}

	var policy Policy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("failed to parse policy %s: %w", path, err)
	}

	applyDefaults(&policy)
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy %s: %w", path, err)
	}
	return &policy, nil
}

func applyDefaults(p *Policy) {
	def := DefaultPolicy()

	if p.Version == "" {
		p.Version = def.Version
	}
	if p.Rules.SensitiveFragments == nil {
		p.Rules.SensitiveFragments = def.Rules.SensitiveFragments
	}
	if p.Rules.RequiredEnvRefs == nil {
		p.Rules.RequiredEnvRefs = def.Rules.RequiredEnvRefs
	}
	if p.Rules.Pricing.Key == "" {
		p.Rules.Pricing = def.Rules.Pricing
	}
	if p.Rules.NumericFields == nil {
		p.Rules.NumericFields = def.Rules.NumericFields
	}
	if p.Rules.NumericSuffixes == nil {
		p.Rules.NumericSuffixes = def.Rules.NumericSuffixes
	}
	if p.Rules.SignedMarkers == nil {
		p.Rules.SignedMarkers = def.Rules.SignedMarkers
	}
	if p.Rules.ListFields == nil {
		p.Rules.ListFields = def.Rules.ListFields
	}
	if p.Presentation.DominanceRatio == 0 {
		p.Presentation.DominanceRatio = def.Presentation.DominanceRatio
	}
	if p.Presentation.MinProseLetters == 0 {
		p.Presentation.MinProseLetters = def.Presentation.MinProseLetters
	}
}

// Validate checks the thresholds and compiles every secret pattern once.
func (p *Policy) Validate() error {
	if p.Presentation.DominanceRatio <= 0 || p.Presentation.DominanceRatio > 1 {
		return fmt.Errorf("presentation.dominance_ratio must be in (0, 1], got %v", p.Presentation.DominanceRatio)
	}
	if p.Presentation.MinProseLetters < 0 {
		return fmt.Errorf("presentation.min_prose_letters must not be negative")
	}
	pr := p.Rules.Pricing
	if pr.InputKey == "" || pr.OutputKey == "" {
		return fmt.Errorf("rules.pricing needs input_key and output_key")
	}
	_, err := p.SecretRules()
	return err
}

// SecretRules compiles the configured extra secret patterns.
func (p *Policy) SecretRules() ([]secrets.Rule, error) {
	rules := make([]secrets.Rule, 0, len(p.Secrets))
	for _, sp := range p.Secrets {
		r, err := secrets.CompileRule(sp.Name, sp.Pattern)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// Registry builds the secret registry: built-in rules, then this policy's.
func (p *Policy) Registry() (*secrets.Registry, error) {
	extra, err := p.SecretRules()
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return secrets.Default(), nil
	}
	return secrets.NewRegistry(extra...), nil
}

// DefaultPolicy returns the built-in tables.
func DefaultPolicy() *Policy {
	return &Policy{
		Version: "0.1",
		Rules: RuleTables{
			SensitiveFragments: []string{
				"apikey",
				"clientsecret",
				"clientid",
				"accesstoken",
				"refreshtoken",
				"anonkey",
				"servicerole",
				"privatekey",
				"password",
			},
			RequiredEnvRefs: []string{
				"api_key_env_ref",
				"client_id_env_ref",
				"client_secret_env_ref",
				"access_token_env_ref",
				"refresh_token_env_ref",
				"anon_key_env_ref",
				"service_role_env_ref",
				"service_role_key_env_ref",
				"private_key_env_ref",
				"password_env_ref",
			},
			Pricing: Pricing{
				Key:       "pricing",
				InputKey:  "input_per_1M",
				OutputKey: "output_per_1M",
				InputAliases: []string{
					"inputPer1M", "inputPer1m", "input_per_1m",
					"inputPerMillion", "input_per_million", "InputPer1M",
				},
				OutputAliases: []string{
					"outputPer1M", "outputPer1m", "output_per_1m",
					"outputPerMillion", "output_per_million", "OutputPer1M",
				},
			},
			NumericFields: []string{
				"count", "total", "quantity", "amount", "limit", "offset",
				"page", "page_size", "per_page", "size", "price", "cost",
				"max_tokens", "timeout", "retries", "max_retries", "port",
				"top_p", "top_k", "rating",
			},
			NumericSuffixes: []string{
				"_count", "_total", "_ms", "_seconds", "_limit", "_size",
				"_offset", "_diff", "_amount", "_price", "_cost",
			},
			SignedMarkers: []string{"offset", "diff"},
			ListFields:    []string{"scopes"},
		},
		Presentation: Presentation{
			DominanceRatio:  0.8,
			MinProseLetters: 40,
		},
	}
}
