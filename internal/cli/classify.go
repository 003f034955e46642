package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gzhole/outputguard/internal/intent"
)

var classifyAttach []string

var classifyCmd = &cobra.Command{
	Use:   "classify <request>",
	Short: "Show which output contract a user request maps to",
	Long: `Classify routes a user request (and the kinds of any attachments) to an
output contract: the system instructions and output rules a model answer to
that request should follow, and whether the answer must be bare JSON.

Examples:
  outputguard classify "return only JSON for the pricing table"
  outputguard classify "what went wrong here?" --attach image/png
  outputguard classify "summarize this" --attach application/pdf --format json`,
	Args: cobra.ExactArgs(1),
	RunE: classifyCommand,
}

func init() {
	classifyCmd.Flags().StringSliceVar(&classifyAttach, "attach", nil, "Attachment kind (MIME type, extension or name); repeatable")
	classifyCmd.Flags().StringVar(&outputFormat, "format", "text", "Output format: text or json")
	rootCmd.AddCommand(classifyCmd)
}

func classifyCommand(cmd *cobra.Command, args []string) error {
	if err := checkFormat(outputFormat); err != nil {
		return err
	}
	contract := intent.Classify(args[0], len(classifyAttach) > 0, classifyAttach)

	w := cmd.OutOrStdout()
	if outputFormat == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(contract)
	}

	fmt.Fprintf(w, "Contract:  %s\n", contract.Tag)
	fmt.Fprintf(w, "JSON only: %t\n", contract.JSONOnly)
	fmt.Fprintf(w, "\nSystem instructions:\n  %s\n", contract.SystemInstructions)
	if len(contract.OutputRules) > 0 {
		fmt.Fprintln(w, "\nOutput rules:")
		for _, r := range contract.OutputRules {
			fmt.Fprintf(w, "  - %s\n", r)
		}
	}
	return nil
}
