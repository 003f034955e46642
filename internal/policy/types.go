package policy

// EnvRefSuffix marks a field that holds the name of an environment variable
// instead of a secret literal.
const EnvRefSuffix = "_env_ref"

// Policy is the static rule configuration for one process. It is loaded
// once at start-up and treated as read-only afterwards.
type Policy struct {
	Version      string          `yaml:"version"`
	Rules        RuleTables      `yaml:"rules"`
	Presentation Presentation    `yaml:"presentation"`
	Secrets      []SecretPattern `yaml:"secret_patterns"`
}

// RuleTables holds the field-name tables the sanitizer and the hard-rule
// validator consult.
type RuleTables struct {
	// SensitiveFragments are compared against keys after lower-casing and
	// dropping everything but letters and digits ("apiKey" -> "apikey").
	SensitiveFragments []string `yaml:"sensitive_fragments"`

	// RequiredEnvRefs are canonical *_env_ref fields that must never be
	// null or empty.
	RequiredEnvRefs []string `yaml:"required_env_refs"`

	Pricing Pricing `yaml:"pricing"`

	// NumericFields are exact key names whose values must be numbers.
	NumericFields []string `yaml:"numeric_fields"`
	// NumericSuffixes extend NumericFields to any key ending in one of them.
	NumericSuffixes []string `yaml:"numeric_suffixes"`
	// SignedMarkers are key fragments that permit negative numbers.
	SignedMarkers []string `yaml:"signed_markers"`

	// ListFields hold delimited strings that the sanitizer splits into
	// arrays ("scopes": "read write" -> ["read", "write"]).
	ListFields []string `yaml:"list_fields"`
}

// Pricing describes the fixed pricing object convention.
type Pricing struct {
	Key           string   `yaml:"key"`
	InputKey      string   `yaml:"input_key"`
	OutputKey     string   `yaml:"output_key"`
	InputAliases  []string `yaml:"input_aliases"`
	OutputAliases []string `yaml:"output_aliases"`
}

// Canonical returns the canonical pricing key for an alias, or "".
func (p Pricing) Canonical(key string) string {
	if key == p.InputKey || key == p.OutputKey {
		return key
	}
	for _, a := range p.InputAliases {
		if a == key {
			return p.InputKey
		}
	}
	for _, a := range p.OutputAliases {
		if a == key {
			return p.OutputKey
		}
	}
	return ""
}

// IsCanonical reports whether key is one of the two canonical pricing keys.
func (p Pricing) IsCanonical(key string) bool {
	return key != "" && (key == p.InputKey || key == p.OutputKey)
}

// Presentation holds the thresholds of the "unwanted raw JSON" policy.
// They are heuristics, so they live in configuration rather than code.
type Presentation struct {
	// DominanceRatio is the share of the trimmed text the JSON region must
	// exceed to count as dominant.
	DominanceRatio float64 `yaml:"dominance_ratio"`
	// MinProseLetters is how many letters the non-JSON text needs before
	// it counts as a human-language answer.
	MinProseLetters int `yaml:"min_prose_letters"`
}

// SecretPattern is an extra secret rule contributed by configuration.
type SecretPattern struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
}
