package rules

// Kind classifies a Violation so callers can route it (auto-fix, display,
// metrics) without parsing the message.
type Kind string

const (
	KindInvalidJSON       Kind = "invalid_json"
	KindMalformedEnvRef   Kind = "malformed_env_ref"
	KindSensitiveExposure Kind = "sensitive_exposure"
	KindRequiredEmpty     Kind = "required_empty"
	KindPricingFormat     Kind = "pricing_format"
	KindTypeMismatch      Kind = "type_mismatch"
	KindNegativeValue     Kind = "negative_value"
	KindHiddenUnicode     Kind = "hidden_unicode"
	KindUnwantedRawJSON   Kind = "unwanted_raw_json"
)

// Kinds lists every Kind in check order.
var Kinds = []Kind{
	KindInvalidJSON,
	KindMalformedEnvRef,
	KindSensitiveExposure,
	KindRequiredEmpty,
	KindPricingFormat,
	KindTypeMismatch,
	KindNegativeValue,
	KindHiddenUnicode,
	KindUnwantedRawJSON,
}

// Violation is one hard-rule failure. Path uses dot notation for members
// and [i] for elements; it is empty for findings about the whole payload.
type Violation struct {
	Kind   Kind   `json:"kind"`
	Path   string `json:"path,omitempty"`
	Detail string `json:"detail"`
}

// Message renders the violation for people: "<path>: <detail>".
func (v Violation) Message() string {
	if v.Path == "" {
		return v.Detail
	}
	return v.Path + ": " + v.Detail
}

func (v Violation) String() string { return v.Message() }

// Messages renders a list of violations.
func Messages(vs []Violation) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.Message()
	}
	return out
}
