package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gzhole/outputguard/internal/jsonvalue"
	"github.com/gzhole/outputguard/internal/policy"
)

func parse(t *testing.T, s string) jsonvalue.Value {
	t.Helper()
	v, err := jsonvalue.ParseString(s)
	require.NoError(t, err)
	return v
}

func kinds(vs []Violation) []Kind {
	out := make([]Kind, len(vs))
	for i, v := range vs {
		out[i] = v.Kind
	}
	return out
}

func TestValidate_MalformedEnvRef(t *testing.T) {
	got := Validate(parse(t, `{"api_key": "env_ref:MY_KEY"}`))

	require.Len(t, got, 1)
	assert.Equal(t, KindMalformedEnvRef, got[0].Kind)
	assert.Equal(t, "api_key", got[0].Path)
	assert.Contains(t, got[0].Message(), `"api_key_env_ref": "MY_KEY"`)
}

func TestValidate_MalformedEnvRefShapes(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  string
	}{
		{"colon", "env_ref:OPENAI_KEY", "OPENAI_KEY"},
		{"colon with spaces", "ENV_REF : OPENAI_KEY", "OPENAI_KEY"},
		{"equals", "env_ref=OPENAI_KEY", "OPENAI_KEY"},
		{"template", "${env_ref.OPENAI_KEY}", "OPENAI_KEY"},
		{"dotted", "env_ref.OPENAI_KEY", "OPENAI_KEY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := jsonvalue.Object(jsonvalue.Member{Key: "token", Value: jsonvalue.String(tt.value)})
			got := Validate(v)
			require.Len(t, got, 1, "%v", got)
			assert.Equal(t, KindMalformedEnvRef, got[0].Kind)
			assert.Contains(t, got[0].Detail, `"token_env_ref": "`+tt.want+`"`)
		})
	}
}

func TestValidate_CanonicalEnvRefIsClean(t *testing.T) {
	got := Validate(parse(t, `{"api_key_env_ref": "OPENAI_API_KEY", "client_secret_env_ref": "OAUTH_SECRET", "name": "svc"}`))
	assert.Empty(t, got)
}

func TestValidate_SensitiveExposure(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantPaths []string
	}{
		{"literal api key", `{"api_key": "abc123"}`, []string{"api_key"}},
		{"camel key survives unsanitized", `{"clientSecret": "s3cr3t"}`, []string{"clientSecret"}},
		{"nested in array", `{"providers": [{"access_token": "t"}]}`, []string{"providers[0].access_token"}},
		{"prefixed key", `{"openai_api_key": "x"}`, []string{"openai_api_key"}},
		{"password", `{"db": {"password": "hunter2"}}`, []string{"db.password"}},
		{"masked placeholder", `{"api_key": "[REDACTED_OPENAI_KEY]"}`, nil},
		{"empty string", `{"password": ""}`, nil},
		{"non-string", `{"password": null}`, nil},
		{"env_ref suffix", `{"service_role_env_ref": "SUPABASE_ROLE"}`, nil},
		{"unrelated key", `{"description": "api key goes in env"}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Validate(parse(t, tt.input))
			var paths []string
			for _, v := range got {
				if v.Kind == KindSensitiveExposure {
					paths = append(paths, v.Path)
				}
			}
			assert.Equal(t, tt.wantPaths, paths)
		})
	}
}

func TestValidate_RequiredEnvRefs(t *testing.T) {
	got := Validate(parse(t, `{"api_key_env_ref": "", "auth": [{"password_env_ref": null}], "client_id_env_ref": 5}`))

	require.Len(t, got, 3)
	assert.Equal(t, Violation{Kind: KindRequiredEmpty, Path: "api_key_env_ref", Detail: "must name an environment variable, got an empty string"}, got[0])
	assert.Equal(t, KindRequiredEmpty, got[1].Kind)
	assert.Equal(t, "auth[0].password_env_ref", got[1].Path)
	assert.Equal(t, KindTypeMismatch, got[2].Kind)
	assert.Equal(t, "client_id_env_ref", got[2].Path)
}

func TestValidate_PricingAliases(t *testing.T) {
	got := Validate(parse(t, `{"pricing": {"inputPer1M": 10, "outputPer1M": 20}}`))

	require.Len(t, got, 2)
	assert.Equal(t, []Kind{KindPricingFormat, KindPricingFormat}, kinds(got))
	assert.Equal(t, `pricing.inputPer1M: pricing key must be exactly "input_per_1M"`, got[0].Message())
	assert.Equal(t, `pricing.outputPer1M: pricing key must be exactly "output_per_1M"`, got[1].Message())
}

func TestValidate_PricingValues(t *testing.T) {
	got := Validate(parse(t, `{"model": {"pricing": {"input_per_1M": "ten", "output_per_1M": null, "currency": "USD"}}}`))

	require.Len(t, got, 3)
	assert.Equal(t, "model.pricing.input_per_1M", got[0].Path)
	assert.Contains(t, got[0].Detail, "must be a number")
	assert.Equal(t, "model.pricing.output_per_1M", got[1].Path)
	assert.Equal(t, "model.pricing.currency", got[2].Path)
	assert.Contains(t, got[2].Detail, "unexpected pricing key")
}

func TestValidate_PricingCanonicalIsClean(t *testing.T) {
	assert.Empty(t, Validate(parse(t, `{"pricing": {"input_per_1M": 3, "output_per_1M": 15}}`)))
	assert.Empty(t, Validate(parse(t, `{"pricing": {"input_per_1M": 3}}`)))
	assert.Empty(t, Validate(parse(t, `{"pricing": "see website"}`)))
}

func TestValidate_TypeHygiene(t *testing.T) {
	got := Validate(parse(t, `{"count": "5", "enabled": "true"}`))

	require.Len(t, got, 2)
	assert.Equal(t, `count: must be a number, got the string "5"`, got[0].Message())
	assert.Equal(t, `enabled: must be a boolean, got the string "true"`, got[1].Message())
}

func TestValidate_TypeHygieneLeavesTextAlone(t *testing.T) {
	got := Validate(parse(t, `{"name": "5", "count": 5, "total_count": "many", "flag": true, "title": "true story"}`))
	assert.Empty(t, got)
}

func TestValidate_NegativeValues(t *testing.T) {
	got := Validate(parse(t, `{"count": -1, "offset": -10, "price_diff": -2.5, "retry_count": -3, "balance": -4}`))

	require.Len(t, got, 2)
	assert.Equal(t, []Kind{KindNegativeValue, KindNegativeValue}, kinds(got))
	assert.Equal(t, "count", got[0].Path)
	assert.Contains(t, got[0].Detail, "-1")
	assert.Equal(t, "retry_count", got[1].Path)
}

func TestValidate_HiddenUnicode(t *testing.T) {
	v := jsonvalue.Object(
		jsonvalue.Member{Key: "na\u200Bme", Value: jsonvalue.String("ok")},
		jsonvalue.Member{Key: "note", Value: jsonvalue.String("run this\u202E")},
		jsonvalue.Member{Key: "city", Value: jsonvalue.String("Zürich")},
	)
	got := Validate(v)

	require.Len(t, got, 2)
	assert.Equal(t, KindHiddenUnicode, got[0].Kind)
	assert.Contains(t, got[0].Detail, "key contains hidden characters (zero-width U+200B)")
	assert.Equal(t, "note", got[1].Path)
	assert.Contains(t, got[1].Detail, "bidi-control U+202E")
}

func TestValidate_AccumulatesAcrossChecks(t *testing.T) {
	got := Validate(parse(t, `{
		"token": "env_ref=TOKEN",
		"password": "hunter2",
		"api_key_env_ref": "",
		"pricing": {"inputPer1M": 1},
		"enabled": "false",
		"limit": -5
	}`))

	assert.Equal(t, []Kind{
		KindMalformedEnvRef,
		KindSensitiveExposure,
		KindRequiredEmpty,
		KindPricingFormat,
		KindTypeMismatch,
		KindNegativeValue,
	}, kinds(got))
}

func TestValidate_ScalarsAndEmpty(t *testing.T) {
	assert.Empty(t, Validate(parse(t, `{}`)))
	assert.Empty(t, Validate(parse(t, `[]`)))
	assert.Empty(t, Validate(parse(t, `42`)))
	assert.Empty(t, Validate(jsonvalue.Null()))
}

func TestNew_CustomTables(t *testing.T) {
	tables := policy.DefaultPolicy().Rules
	tables.SensitiveFragments = append(tables.SensitiveFragments, "webhooksecret")
	val := New(tables)

	got := val.Validate(parse(t, `{"webhook_secret": "whsec_123"}`))
	require.Len(t, got, 1)
	assert.Equal(t, KindSensitiveExposure, got[0].Kind)

	assert.Empty(t, Validate(parse(t, `{"webhook_secret": "whsec_123"}`)))
}

type rootCheck struct{}

func (rootCheck) Name() string { return "root-object" }

func (rootCheck) Check(root jsonvalue.Value) []Violation {
	if root.IsObject() {
		return nil
	}
	return []Violation{{Kind: KindTypeMismatch, Detail: "payload must be an object"}}
}

func TestNew_ExtraChecksRunLast(t *testing.T) {
	val := New(policy.DefaultPolicy().Rules, rootCheck{})
	checks := val.Checks()
	require.Len(t, checks, 8)
	assert.Equal(t, "malformed-env-ref", checks[0].Name())
	assert.Equal(t, "root-object", checks[7].Name())

	got := val.Validate(parse(t, `["true"]`))
	require.Len(t, got, 2)
	assert.Equal(t, "[0]", got[0].Path)
	assert.Equal(t, "payload must be an object", got[1].Message())
}

func TestNewWithChecks_OnlyListedChecksRun(t *testing.T) {
	val := NewWithChecks(rootCheck{})
	require.Len(t, val.Checks(), 1)

	// "true" would trip type hygiene under the standard list.
	assert.Empty(t, val.Validate(parse(t, `{"enabled": "true"}`)))
	assert.Equal(t, []Kind{KindTypeMismatch}, kinds(val.Validate(parse(t, `["true"]`))))
}

func TestMessages(t *testing.T) {
	vs := []Violation{
		{Kind: KindInvalidJSON, Detail: "invalid JSON: unexpected end"},
		{Kind: KindTypeMismatch, Path: "a.b[1]", Detail: "must be a number"},
	}
	assert.Equal(t, []string{"invalid JSON: unexpected end", "a.b[1]: must be a number"}, Messages(vs))
}
