package governance

import (
	"fmt"
	"strings"

	"github.com/gzhole/outputguard/internal/policy"
	"github.com/gzhole/outputguard/internal/rules"
)

// RepairPrompt builds the message sent to the model for one repair round.
// raw should already be masked; the model never sees a live secret.
func RepairPrompt(violations []rules.Violation, raw string, tables policy.RuleTables) string {
	var b strings.Builder

	b.WriteString("The JSON in your previous answer breaks these rules:\n")
	for i, v := range violations {
		fmt.Fprintf(&b, "%d. %s\n", i+1, v.Message())
	}

	b.WriteString("\nPrevious JSON:\n```json\n")
	b.WriteString(strings.TrimSpace(raw))
	b.WriteString("\n```\n\n")

	b.WriteString("Correct every violation and follow these rules:\n")
	for _, rule := range correctionRules(tables) {
		b.WriteString("- ")
		b.WriteString(rule)
		b.WriteString("\n")
	}
	b.WriteString("\nReply with the corrected JSON in a single ```json code block.")
	return b.String()
}

func correctionRules(t policy.RuleTables) []string {
	signed := "offset or diff"
	if len(t.SignedMarkers) > 0 {
		signed = strings.Join(t.SignedMarkers, " or ")
	}
	out := []string{
		"Numeric fields hold JSON numbers, never quoted strings.",
		"Booleans are true or false, never the strings \"true\" or \"false\".",
		fmt.Sprintf("Negative values are allowed only in fields whose name contains %s.", signed),
		fmt.Sprintf("Never write a secret value. Use a field named <name>%s whose value is the environment variable name.", policy.EnvRefSuffix),
	}
	if t.Pricing.Key != "" {
		out = append(out, fmt.Sprintf("The %q object uses exactly the keys %q and %q with numeric values.",
			t.Pricing.Key, t.Pricing.InputKey, t.Pricing.OutputKey))
	}
	out = append(out, "Keep every other field and value unchanged.")
	return out
}
