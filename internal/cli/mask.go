package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var maskCmd = &cobra.Command{
	Use:   "mask [file]",
	Short: "Replace credentials in text with redaction tags",
	Long: `Mask runs the secret pattern registry (built-in rules plus any from the
policy and enabled packs) over a file or stdin and prints the masked text.
Findings go to stderr so the output can be piped on.

Examples:
  outputguard mask answer.txt
  cat transcript.txt | outputguard mask > clean.txt`,
	Args: cobra.MaximumNArgs(1),
	RunE: maskCommand,
}

func init() {
	rootCmd.AddCommand(maskCmd)
}

func maskCommand(cmd *cobra.Command, args []string) error {
	text, _, err := readInput(cmd, args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	pol, _, err := loadPolicy(cfg)
	if err != nil {
		return err
	}
	registry, err := pol.Registry()
	if err != nil {
		return fmt.Errorf("failed to build secret registry: %w", err)
	}

	res := registry.Mask(text)
	fmt.Fprint(cmd.OutOrStdout(), res.Masked)
	for _, f := range res.Findings {
		fmt.Fprintf(cmd.ErrOrStderr(), "masked %d x %s\n", f.Count, f.Rule)
	}
	return nil
}
