package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gzhole/outputguard/internal/governance"
	"github.com/gzhole/outputguard/internal/intent"
)

// ErrInvalid makes the process exit non-zero after the outcome is printed.
var ErrInvalid = errors.New("output failed validation")

var (
	validateJSONOnly bool
	validateRequest  string
	outputFormat     string
)

var validateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Check the JSON embedded in a model answer",
	Long: `Validate a model answer read from a file or stdin. The embedded JSON is
extracted, secrets are masked, the payload is sanitized and checked against
the hard rules. Exits non-zero when any violation is found.

Examples:
  outputguard validate answer.txt
  cat answer.txt | outputguard validate --json-only
  outputguard validate answer.txt --request "give me the raw json" --format json`,
	Args: cobra.MaximumNArgs(1),
	RunE: validateCommand,
}

func init() {
	validateCmd.Flags().BoolVar(&validateJSONOnly, "json-only", false, "The caller asked for bare JSON; skip the presentation check")
	validateCmd.Flags().StringVar(&validateRequest, "request", "", "Original user request; its contract decides JSON-only when --json-only is not set")
	validateCmd.Flags().StringVar(&outputFormat, "format", "text", "Output format: text or json")
	rootCmd.AddCommand(validateCmd)
}

func validateCommand(cmd *cobra.Command, args []string) error {
	if err := checkFormat(outputFormat); err != nil {
		return err
	}
	text, source, err := readInput(cmd, args)
	if err != nil {
		return err
	}

	rt, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	req := requestFor(rt, validateJSONOnly, validateRequest)
	req.Source = source
	out := rt.gov.ValidateRequest(text, req)

	if err := printOutcome(cmd.OutOrStdout(), out, outputFormat); err != nil {
		return err
	}
	if !out.Valid {
		return ErrInvalid
	}
	return nil
}

// requestFor decides JSONOnly: the flag wins, then the contract of the
// user's request, then the configured default.
func requestFor(rt *app, jsonOnlyFlag bool, userRequest string) governance.Request {
	req := governance.Request{JSONOnly: rt.cfg.Governance.JSONOnly || jsonOnlyFlag}
	if userRequest != "" {
		contract := intent.Classify(userRequest, false, nil)
		req.Contract = string(contract.Tag)
		req.JSONOnly = req.JSONOnly || contract.JSONOnly
	}
	return req
}

func checkFormat(f string) error {
	switch f {
	case "text", "json":
		return nil
	}
	return fmt.Errorf("unknown format %q: use text or json", f)
}

func printOutcome(w io.Writer, out governance.Outcome, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	switch {
	case !out.Found:
		fmt.Fprintln(w, "\xe2\x9c\x85 No JSON found; nothing to police.")
	case out.Valid:
		fmt.Fprintln(w, "\xe2\x9c\x85 JSON passed every rule.")
	default:
		fmt.Fprintf(w, "\xe2\x9d\x8c %d violation(s):\n", len(out.Violations))
		for i, v := range out.Violations {
			fmt.Fprintf(w, "  %d. [%s] %s\n", i+1, v.Kind, v.Message())
		}
	}
	if out.SecretsDetected {
		fmt.Fprintf(w, "\xf0\x9f\x94\x92 Secrets masked: %s\n", strings.Join(out.SecretsMasked, ", "))
	}
	fmt.Fprintln(w, strings.Repeat("\xe2\x94\x80", 60))
	fmt.Fprintln(w, out.Text)
	return nil
}
