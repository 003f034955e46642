package governance

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/gzhole/outputguard/internal/audit"
	"github.com/gzhole/outputguard/internal/metrics"
	"github.com/gzhole/outputguard/internal/rules"
)

// scriptedChat returns replies in order, repeating the last one, and
// records every prompt it was given.
type scriptedChat struct {
	replies []string
	err     error
	prompts []string
}

func (s *scriptedChat) chat(_ context.Context, prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	if s.err != nil {
		return "", s.err
	}
	i := len(s.prompts) - 1
	if i >= len(s.replies) {
		i = len(s.replies) - 1
	}
	return s.replies[i], nil
}

const stringlyCount = prose + "\n```json\n{\"count\": \"5\", \"name\": \"widgets\"}\n```\nLet me know if you need more."

func TestAutoRepair_ValidInputMakesNoCalls(t *testing.T) {
	chat := &scriptedChat{replies: []string{"unused"}}
	g := New()

	res := g.AutoRepair(context.Background(), prose+" {\"count\": 5}", chat.chat, 3)

	assert.True(t, res.Outcome.Valid)
	assert.False(t, res.Repaired)
	assert.Equal(t, 0, res.Attempts)
	assert.Empty(t, chat.prompts)
	assert.NoError(t, res.Err)
}

func TestAutoRepair_FixesInOneRound(t *testing.T) {
	chat := &scriptedChat{replies: []string{"Sure:\n```json\n{\"count\": 5, \"name\": \"widgets\"}\n```"}}
	g := New()

	res := g.AutoRepair(context.Background(), stringlyCount, chat.chat, 2)

	require.Len(t, chat.prompts, 1)
	assert.True(t, res.Outcome.Valid, "violations: %v", res.Outcome.Violations)
	assert.True(t, res.Repaired)
	assert.Equal(t, 1, res.Attempts)

	// The original prose survives; the model's "Sure:" does not.
	assert.True(t, strings.HasPrefix(res.FinalText, prose))
	assert.True(t, strings.HasSuffix(res.FinalText, "Let me know if you need more."))
	assert.NotContains(t, res.FinalText, "Sure:")
	assert.Contains(t, res.FinalText, `"count": 5`)
	assert.Equal(t, res.Outcome.Text, res.FinalText)
}

func TestAutoRepair_ConvergesWithShortProse(t *testing.T) {
	fixed := serviceRecord(`"enabled":true`)
	chat := &scriptedChat{replies: []string{"```json\n" + fixed + "\n```"}}
	g := New()

	res := g.AutoRepair(context.Background(), shortProse+" "+serviceRecord(`"enabled":"true"`), chat.chat, 3)

	require.Len(t, chat.prompts, 1)
	assert.True(t, res.Outcome.Valid, "violations: %v", res.Outcome.Violations)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "repaired", repairOutcome(res))
	assert.True(t, strings.HasPrefix(res.FinalText, shortProse))

	// The repaired answer is itself a fixed point.
	again := g.Validate(res.FinalText)
	assert.True(t, again.Valid, "violations: %v", again.Violations)
	assert.Equal(t, res.FinalText, again.Text)
}

func TestAutoRepair_PromptContents(t *testing.T) {
	chat := &scriptedChat{replies: []string{"```json\n{\"count\": 5}\n```"}}
	g := New()

	g.AutoRepair(context.Background(), stringlyCount, chat.chat, 1)

	require.Len(t, chat.prompts, 1)
	prompt := chat.prompts[0]
	assert.Contains(t, prompt, `1. count: must be a number, got the string "5"`)
	assert.Contains(t, prompt, "```json\n{\"count\": \"5\", \"name\": \"widgets\"}\n```")
	assert.Contains(t, prompt, "offset or diff")
	assert.Contains(t, prompt, "_env_ref")
	assert.Contains(t, prompt, `"input_per_1M"`)
}

func TestAutoRepair_PromptNeverCarriesSecrets(t *testing.T) {
	chat := &scriptedChat{replies: []string{"no json here"}}
	g := New()

	text := prose + " {\"auth\": \"Bearer abcdEFGH12345678901234\", \"count\": \"5\"}"
	res := g.AutoRepair(context.Background(), text, chat.chat, 1)

	require.Len(t, chat.prompts, 1)
	assert.NotContains(t, chat.prompts[0], "abcdEFGH12345678901234")
	assert.Contains(t, chat.prompts[0], "[REDACTED_BEARER_TOKEN]")
	assert.NotContains(t, res.FinalText, "abcdEFGH12345678901234")
}

func TestAutoRepair_ExhaustsRetries(t *testing.T) {
	chat := &scriptedChat{replies: []string{"```json\n{\"count\": \"5\"}\n```"}}
	g := New()

	res := g.AutoRepair(context.Background(), stringlyCount, chat.chat, 2)

	assert.Len(t, chat.prompts, 2)
	assert.True(t, res.Repaired)
	assert.Equal(t, 2, res.Attempts)
	assert.False(t, res.Outcome.Valid)
	assert.NoError(t, res.Err)
}

func TestAutoRepair_CallBound(t *testing.T) {
	for n := -1; n <= 4; n++ {
		chat := &scriptedChat{replies: []string{"still no json"}}
		res := New().AutoRepair(context.Background(), stringlyCount, chat.chat, n)

		want := n
		if want < 0 {
			want = 0
		}
		assert.Len(t, chat.prompts, want, "maxRetries=%d", n)
		assert.Equal(t, want, res.Attempts)
		assert.Equal(t, want > 0, res.Repaired)
	}
}

func TestAutoRepair_ReplyWithoutJSONKeepsText(t *testing.T) {
	chat := &scriptedChat{replies: []string{"I cannot help with that."}}
	g := New()

	res := g.AutoRepair(context.Background(), stringlyCount, chat.chat, 2)

	assert.Equal(t, 2, res.Attempts)
	assert.False(t, res.Outcome.Valid)
	assert.Equal(t, g.Validate(stringlyCount).Text, res.FinalText)
}

func TestAutoRepair_NoJSONIsNothingToRepair(t *testing.T) {
	chat := &scriptedChat{replies: []string{"unused"}}
	res := New().AutoRepair(context.Background(), "just words", chat.chat, 3)

	assert.Empty(t, chat.prompts)
	assert.False(t, res.Outcome.Found)
	assert.True(t, res.Outcome.Valid)
	assert.Equal(t, "just words", res.FinalText)
}

func TestAutoRepair_ChatErrorAborts(t *testing.T) {
	boom := errors.New("connection reset")
	chat := &scriptedChat{err: boom}
	g := New()

	res := g.AutoRepair(context.Background(), stringlyCount, chat.chat, 5)

	assert.Len(t, chat.prompts, 1)
	assert.ErrorIs(t, res.Err, boom)
	assert.Equal(t, 1, res.Attempts)
	assert.False(t, res.Outcome.Valid)
	assert.Equal(t, g.Validate(stringlyCount).Text, res.FinalText)
}

func TestAutoRepair_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	chat := &scriptedChat{replies: []string{"unused"}}

	res := New().AutoRepair(ctx, stringlyCount, chat.chat, 3)

	assert.Empty(t, chat.prompts)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, 0, res.Attempts)
	assert.False(t, res.Outcome.Valid)
}

func TestAutoRepair_RepairsInvalidJSON(t *testing.T) {
	chat := &scriptedChat{replies: []string{"```json\n{\"a\": 1}\n```"}}
	text := prose + "\n```json\n{\"a\": 1,}\n```"

	res := New().AutoRepair(context.Background(), text, chat.chat, 2)

	require.Len(t, chat.prompts, 1)
	assert.Contains(t, chat.prompts[0], "invalid JSON: ")
	assert.True(t, res.Outcome.Valid)
	assert.True(t, strings.HasPrefix(res.FinalText, prose))
}

func TestAutoRepair_Observability(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)
	rec := &recordingAudit{}

	g := New(WithTracerProvider(tp), WithMetrics(m), WithAudit(rec))
	chat := &scriptedChat{replies: []string{"```json\n{\"count\": 5, \"name\": \"widgets\"}\n```"}}
	res := g.AutoRepair(context.Background(), stringlyCount, chat.chat, 2)
	require.True(t, res.Outcome.Valid)

	names := map[string]int{}
	for _, s := range recorder.Ended() {
		names[s.Name()]++
	}
	assert.Equal(t, 1, names["governance.AutoRepair"])
	assert.Equal(t, 1, names["governance.repair_round"])
	assert.Equal(t, 2, names["governance.Validate"])

	count, err := testutil.GatherAndCount(reg, "outputguard_repairs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.Len(t, rec.events, 1)
	ev := rec.events[0]
	assert.Equal(t, audit.OpRepair, ev.Operation)
	assert.Equal(t, 1, ev.Attempts)
	assert.True(t, ev.Valid)
	assert.NotEmpty(t, ev.ID)
}

func TestRepairOutcome(t *testing.T) {
	tests := []struct {
		name string
		in   RepairResult
		want string
	}{
		{"clean", RepairResult{Outcome: Outcome{Found: true, Valid: true}}, metrics.RepairClean},
		{"repaired", RepairResult{Attempts: 1, Outcome: Outcome{Found: true, Valid: true}}, metrics.RepairRepaired},
		{"exhausted", RepairResult{Attempts: 2, Outcome: Outcome{Found: true}}, metrics.RepairExhausted},
		{"aborted", RepairResult{Err: errors.New("x"), Outcome: Outcome{Found: true}}, metrics.RepairAborted},
		{"no json", RepairResult{Outcome: Outcome{Valid: true}}, metrics.RepairNoJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, repairOutcome(tt.in))
		})
	}
}

func TestRepairPrompt_NumbersViolations(t *testing.T) {
	g := New()
	prompt := RepairPrompt([]rules.Violation{
		{Kind: rules.KindTypeMismatch, Path: "count", Detail: "must be a number"},
		{Kind: rules.KindUnwantedRawJSON, Detail: unwantedRawJSON},
	}, `{"count":"5"}`, g.tables)

	assert.Contains(t, prompt, "1. count: must be a number\n2. "+unwantedRawJSON+"\n")
	assert.True(t, strings.HasSuffix(prompt, "single ```json code block."))
}
