// Package governance sits between a model's raw answer and its consumer.
// Validate polices the JSON embedded in an answer; AutoRepair re-prompts
// the model until the JSON passes or the retry budget runs out.
package governance

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gzhole/outputguard/internal/audit"
	"github.com/gzhole/outputguard/internal/extract"
	"github.com/gzhole/outputguard/internal/jsonvalue"
	"github.com/gzhole/outputguard/internal/metrics"
	"github.com/gzhole/outputguard/internal/policy"
	"github.com/gzhole/outputguard/internal/rules"
	"github.com/gzhole/outputguard/internal/sanitize"
	"github.com/gzhole/outputguard/internal/secrets"
)

const tracerName = "outputguard.governance"

const unwantedRawJSON = "unwanted raw JSON; convert to a humanized response"

// Request carries per-call options for Validate.
type Request struct {
	// JSONOnly disables the presentation policy: the caller asked for
	// bare JSON, so a JSON-only answer is what it wants.
	JSONOnly bool
	// Source and Contract only label the audit event.
	Source   string
	Contract string
}

// Outcome is the result of one validation. Valid is true exactly when
// Violations is empty.
type Outcome struct {
	Valid bool `json:"valid"`
	// Found reports whether the answer carried JSON, parseable or not.
	Found bool `json:"found"`
	// Value is the sanitized payload; nil when nothing was found or the
	// payload did not parse.
	Value *jsonvalue.Value `json:"value,omitempty"`
	// Raw is the payload text as the model wrote it, secrets masked.
	Raw             string            `json:"raw,omitempty"`
	Violations      []rules.Violation `json:"violations,omitempty"`
	SecretsDetected bool              `json:"secrets_detected"`
	SecretsMasked   []string          `json:"secrets_masked,omitempty"`
	Findings        []secrets.Finding `json:"findings,omitempty"`
	// Text is the answer with secrets masked and, when the payload parsed,
	// the sanitized JSON re-embedded in a json fence.
	Text string `json:"text"`

	before, after string
}

// Kinds returns the violation kinds in order, for metrics and audit.
func (o Outcome) Kinds() []string {
	kinds := make([]string, len(o.Violations))
	for i, v := range o.Violations {
		kinds[i] = string(v.Kind)
	}
	return kinds
}

// AuditLogger receives one event per Validate or AutoRepair call.
type AuditLogger interface {
	Log(event audit.Event) error
}

// Governor wires the extractor, secret registry, sanitizer and validator
// together. It holds only immutable tables and is safe for concurrent use.
type Governor struct {
	registry     *secrets.Registry
	sanitizer    *sanitize.Sanitizer
	validator    *rules.Validator
	tables       policy.RuleTables
	presentation policy.Presentation
	jsonOnly     bool

	logger  zerolog.Logger
	metrics *metrics.Metrics
	audit   AuditLogger
	tracer  trace.Tracer
}

type Option func(*Governor)

// WithRules replaces the sanitizer and validator tables.
func WithRules(t policy.RuleTables) Option {
	return func(g *Governor) {
		g.tables = t
		g.sanitizer = sanitize.New(t)
		g.validator = rules.New(t)
	}
}

// WithValidator overrides the validator built from the rule tables.
func WithValidator(v *rules.Validator) Option {
	return func(g *Governor) {
		if v != nil {
			g.validator = v
		}
	}
}

func WithRegistry(r *secrets.Registry) Option {
	return func(g *Governor) {
		if r != nil {
			g.registry = r
		}
	}
}

func WithPresentation(p policy.Presentation) Option {
	return func(g *Governor) { g.presentation = p }
}

// WithJSONOnly sets the JSONOnly default used by Validate and AutoRepair.
func WithJSONOnly(jsonOnly bool) Option {
	return func(g *Governor) { g.jsonOnly = jsonOnly }
}

func WithLogger(l zerolog.Logger) Option {
	return func(g *Governor) { g.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Governor) { g.metrics = m }
}

func WithAudit(a AuditLogger) Option {
	return func(g *Governor) { g.audit = a }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(g *Governor) {
		if tp != nil {
			g.tracer = tp.Tracer(tracerName)
		}
	}
}

// New builds a Governor on the default policy, adjusted by opts.
func New(opts ...Option) *Governor {
	def := policy.DefaultPolicy()
	g := &Governor{
		registry:     secrets.Default(),
		presentation: def.Presentation,
		logger:       zerolog.Nop(),
		tracer:       otel.Tracer(tracerName),
	}
	WithRules(def.Rules)(g)
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NewFromPolicy builds a Governor from a loaded policy. Later opts win.
func NewFromPolicy(p *policy.Policy, opts ...Option) (*Governor, error) {
	reg, err := p.Registry()
	if err != nil {
		return nil, fmt.Errorf("failed to build secret registry: %w", err)
	}
	base := []Option{
		WithRules(p.Rules),
		WithRegistry(reg),
		WithPresentation(p.Presentation),
	}
	return New(append(base, opts...)...), nil
}

// Validate checks text with the Governor's default JSONOnly setting.
func (g *Governor) Validate(text string) Outcome {
	return g.ValidateContext(context.Background(), text, Request{JSONOnly: g.jsonOnly})
}

// ValidateRequest checks text with per-call options.
func (g *Governor) ValidateRequest(text string, req Request) Outcome {
	return g.ValidateContext(context.Background(), text, req)
}

// ValidateContext is ValidateRequest with a parent context for tracing.
// It never fails: every problem is reported in the Outcome.
func (g *Governor) ValidateContext(ctx context.Context, text string, req Request) Outcome {
	start := time.Now()
	out := g.validate(ctx, text, req)
	elapsed := time.Since(start)

	g.metrics.ObserveValidation(resultLabel(out), out.Kinds(), findingCounts(out.Findings), elapsed)
	g.logOutcome(out, elapsed)
	g.record(audit.Event{
		Operation:      audit.OpValidate,
		Source:         req.Source,
		Contract:       req.Contract,
		Found:          out.Found,
		Valid:          out.Valid,
		Violations:     rules.Messages(out.Violations),
		ViolationKinds: out.Kinds(),
		SecretsMasked:  out.SecretsMasked,
		DurationMS:     elapsed.Milliseconds(),
	})
	return out
}

func (g *Governor) validate(ctx context.Context, text string, req Request) Outcome {
	_, span := g.tracer.Start(ctx, "governance.Validate",
		trace.WithAttributes(attribute.Bool("governance.json_only", req.JSONOnly)),
	)
	defer span.End()

	masked := g.registry.Mask(text)
	out := Outcome{
		SecretsDetected: masked.Detected(),
		SecretsMasked:   masked.RuleNames(),
		Findings:        masked.Findings,
		Text:            masked.Masked,
	}

	ex := extract.Extract(text)
	if !ex.Found {
		if broken, ok := extract.FindBroken(text); ok {
			out.Found = true
			out.Raw = g.registry.Redact(broken.Raw)
			out.before, out.after = broken.Before, broken.After
			out.Violations = []rules.Violation{invalidJSON(broken.Err)}
		}
		return g.finish(span, out)
	}

	out.Found = true
	out.Raw = g.registry.Redact(ex.Raw)
	out.before, out.after = ex.Before, ex.After

	payload, err := jsonvalue.ParseString(out.Raw)
	if err != nil {
		// Only reachable when masking broke the document.
		out.Violations = []rules.Violation{invalidJSON(err)}
		return g.finish(span, out)
	}

	clean := g.sanitizer.Sanitize(payload)
	out.Value = &clean
	out.Violations = g.validator.Validate(clean)
	before, after := g.registry.Redact(ex.Before), g.registry.Redact(ex.After)
	if !req.JSONOnly && g.dominates(clean, before, after) {
		out.Violations = append(out.Violations, rules.Violation{
			Kind:   rules.KindUnwantedRawJSON,
			Detail: unwantedRawJSON,
		})
	}
	if req.JSONOnly && before == "" && after == "" {
		out.Text = clean.Pretty()
	} else {
		out.Text = extract.Embed(before, clean, after)
	}
	return g.finish(span, out)
}

func (g *Governor) finish(span trace.Span, out Outcome) Outcome {
	out.Valid = len(out.Violations) == 0
	span.SetAttributes(
		attribute.Bool("governance.found", out.Found),
		attribute.Bool("governance.valid", out.Valid),
		attribute.Int("governance.violations", len(out.Violations)),
		attribute.StringSlice("governance.secrets_masked", out.SecretsMasked),
	)
	if !out.Valid {
		span.SetStatus(codes.Error, "violations found")
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return out
}

// dominates applies the presentation policy: the payload takes up more
// than DominanceRatio of the answer and the prose around it holds too few
// letters. The payload is measured in compact form so fences and
// indentation added by Embed never change the verdict.
func (g *Governor) dominates(payload jsonvalue.Value, before, after string) bool {
	region := utf8.RuneCountInString(payload.Compact())
	prose := utf8.RuneCountInString(strings.TrimSpace(before)) + utf8.RuneCountInString(strings.TrimSpace(after))
	total := region + prose
	if total == 0 {
		return false
	}
	if float64(region)/float64(total) <= g.presentation.DominanceRatio {
		return false
	}
	return countLetters(before)+countLetters(after) < g.presentation.MinProseLetters
}

func countLetters(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			n++
		}
	}
	return n
}

func invalidJSON(err error) rules.Violation {
	return rules.Violation{
		Kind:   rules.KindInvalidJSON,
		Detail: "invalid JSON: " + err.Error(),
	}
}

func (g *Governor) logOutcome(out Outcome, elapsed time.Duration) {
	ev := g.logger.Debug()
	if !out.Valid {
		ev = g.logger.Info()
	}
	ev.Bool("found", out.Found).
		Bool("valid", out.Valid).
		Strs("violation_kinds", out.Kinds()).
		Strs("secrets_masked", out.SecretsMasked).
		Dur("elapsed", elapsed).
		Msg("validation_complete")
}

func (g *Governor) record(event audit.Event) {
	if g.audit == nil {
		return
	}
	if err := g.audit.Log(event); err != nil {
		g.logger.Warn().Err(err).Str("operation", event.Operation).Msg("audit_write_failed")
	}
}

func resultLabel(out Outcome) string {
	switch {
	case !out.Found:
		return metrics.ResultNoJSON
	case out.Valid:
		return metrics.ResultValid
	default:
		return metrics.ResultInvalid
	}
}

func findingCounts(fs []secrets.Finding) map[string]int {
	if len(fs) == 0 {
		return nil
	}
	counts := make(map[string]int, len(fs))
	for _, f := range fs {
		counts[f.Rule] += f.Count
	}
	return counts
}
