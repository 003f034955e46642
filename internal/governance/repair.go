package governance

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gzhole/outputguard/internal/audit"
	"github.com/gzhole/outputguard/internal/extract"
	"github.com/gzhole/outputguard/internal/metrics"
	"github.com/gzhole/outputguard/internal/rules"
)

// ChatFunc asks the model one question. Deadlines and rate limits belong
// to the implementation.
type ChatFunc func(ctx context.Context, prompt string) (string, error)

// RepairResult is the best-effort output of AutoRepair.
type RepairResult struct {
	// FinalText is Outcome.Text of the last validated answer.
	FinalText string
	// Repaired is true once at least one chat call was made, whether or
	// not the final answer is valid.
	Repaired bool
	// Attempts counts chat calls; never more than maxRetries.
	Attempts int
	Outcome  Outcome
	// Err holds the chat failure or context error that ended the loop.
	Err error
}

// AutoRepair re-prompts the model with the violations of text until the
// answer validates, no JSON is left to repair, a chat call fails, or
// maxRetries chat calls were made. Repaired JSON replaces the payload
// between the original surrounding text. The last answer is always
// validated and returned, valid or not.
func (g *Governor) AutoRepair(ctx context.Context, text string, chat ChatFunc, maxRetries int) RepairResult {
	if maxRetries < 0 {
		maxRetries = 0
	}
	repairID := uuid.NewString()
	start := time.Now()

	ctx, span := g.tracer.Start(ctx, "governance.AutoRepair",
		trace.WithAttributes(
			attribute.String("governance.repair_id", repairID),
			attribute.Int("governance.max_retries", maxRetries),
		),
	)
	defer span.End()

	req := Request{JSONOnly: g.jsonOnly}
	current := text
	attempts := 0
	var (
		err           error
		before, after string
		spliced       bool
	)

	// Every exit path leaves out holding the validation of current, so out
	// doubles as the final check.
	out := g.validate(ctx, current, req)
	before, after = out.before, out.after
	for !out.Valid && out.Found && attempts < maxRetries {
		if err = ctx.Err(); err != nil {
			break
		}

		prompt := RepairPrompt(out.Violations, out.Raw, g.tables)
		attempts++
		g.logger.Debug().
			Str("repair_id", repairID).
			Int("round", attempts).
			Strs("violation_kinds", out.Kinds()).
			Msg("repair_round")

		reply, chatErr := g.chat(ctx, chat, prompt, attempts)
		if chatErr != nil {
			err = chatErr
			g.logger.Warn().Err(chatErr).
				Str("repair_id", repairID).
				Int("round", attempts).
				Msg("repair_chat_failed")
			break
		}

		fixed := extract.Extract(reply)
		if !fixed.Found {
			// Keep the previous text; it fails again and burns a round.
			continue
		}
		current = extract.Embed(before, fixed.Payload, after)
		spliced = true
		out = g.validate(ctx, current, req)
	}

	result := RepairResult{
		FinalText: out.Text,
		Repaired:  attempts > 0,
		Attempts:  attempts,
		Outcome:   out,
		Err:       err,
	}

	outcome := repairOutcome(result)
	elapsed := time.Since(start)
	g.metrics.ObserveRepair(outcome, attempts)
	g.logger.Info().
		Str("repair_id", repairID).
		Str("outcome", outcome).
		Int("attempts", attempts).
		Bool("valid", out.Valid).
		Bool("spliced", spliced).
		Dur("elapsed", elapsed).
		Msg("repair_complete")

	event := audit.Event{
		ID:             repairID,
		Operation:      audit.OpRepair,
		Found:          out.Found,
		Valid:          out.Valid,
		Violations:     rules.Messages(out.Violations),
		ViolationKinds: out.Kinds(),
		SecretsMasked:  out.SecretsMasked,
		Attempts:       attempts,
		DurationMS:     elapsed.Milliseconds(),
	}
	if err != nil {
		event.Error = err.Error()
	}
	g.record(event)

	span.SetAttributes(
		attribute.Int("governance.attempts", attempts),
		attribute.String("governance.outcome", outcome),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if !out.Valid {
		span.SetStatus(codes.Error, outcome)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return result
}

func (g *Governor) chat(ctx context.Context, chat ChatFunc, prompt string, round int) (string, error) {
	ctx, span := g.tracer.Start(ctx, "governance.repair_round",
		trace.WithAttributes(attribute.Int("governance.round", round)),
	)
	defer span.End()

	reply, err := chat(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return reply, nil
}

func repairOutcome(r RepairResult) string {
	switch {
	case r.Err != nil:
		return metrics.RepairAborted
	case !r.Outcome.Found:
		return metrics.RepairNoJSON
	case r.Outcome.Valid && r.Attempts == 0:
		return metrics.RepairClean
	case r.Outcome.Valid:
		return metrics.RepairRepaired
	default:
		return metrics.RepairExhausted
	}
}
