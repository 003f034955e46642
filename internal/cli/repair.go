package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gzhole/outputguard/internal/governance"
	"github.com/gzhole/outputguard/internal/intent"
	"github.com/gzhole/outputguard/internal/llm"
)

var (
	repairMaxRetries int
	repairModel      string
	repairBaseURL    string
)

var repairCmd = &cobra.Command{
	Use:   "repair [file]",
	Short: "Validate a model answer and re-prompt the model until it passes",
	Long: `Repair runs the bounded auto-repair loop against an OpenAI-compatible
chat endpoint. Each round sends the violations and the masked JSON back to the
model; the corrected JSON replaces the payload between the original prose.
The final answer is printed whether or not it passed.

The API key is read from the environment variable named by llm.api_key_env
in config.yaml (default: OPENAI_API_KEY).

Examples:
  outputguard repair answer.txt
  outputguard repair answer.txt --max-retries 3 --model gpt-4o
  cat answer.txt | outputguard repair --base-url http://localhost:11434/v1`,
	Args: cobra.MaximumNArgs(1),
	RunE: repairCommand,
}

func init() {
	repairCmd.Flags().IntVar(&repairMaxRetries, "max-retries", -1, "Repair rounds (default: governance.max_retries from config)")
	repairCmd.Flags().StringVar(&repairModel, "model", "", "Model name (default: llm.model from config)")
	repairCmd.Flags().StringVar(&repairBaseURL, "base-url", "", "OpenAI-compatible endpoint (default: llm.base_url from config)")
	repairCmd.Flags().StringVar(&outputFormat, "format", "text", "Output format: text or json")
	rootCmd.AddCommand(repairCmd)
}

func repairCommand(cmd *cobra.Command, args []string) error {
	if err := checkFormat(outputFormat); err != nil {
		return err
	}
	text, _, err := readInput(cmd, args)
	if err != nil {
		return err
	}

	rt, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	client, err := newChatClient(rt)
	if err != nil {
		return err
	}

	retries := rt.cfg.Governance.MaxRetries
	if repairMaxRetries >= 0 {
		retries = repairMaxRetries
	}

	res := rt.gov.AutoRepair(cmd.Context(), text, client.Chat, retries)
	return reportRepair(cmd, res)
}

// newChatClient builds the LLM adapter. The json_fix contract supplies the
// system prompt, since every repair round asks for corrected JSON.
func newChatClient(rt *app) (*llm.Client, error) {
	cfg := rt.cfg.LLM
	if repairModel != "" {
		cfg.Model = repairModel
	}
	if repairBaseURL != "" {
		cfg.BaseURL = repairBaseURL
	}

	apiKey := rt.cfg.APIKey()
	if apiKey == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("no API key: set %s or point --base-url at a local endpoint", cfg.APIKeyEnv)
	}

	contract, _ := intent.DefaultTable().Lookup(intent.TagJSONFix)
	return llm.New(llm.Config{
		APIKey:            apiKey,
		BaseURL:           cfg.BaseURL,
		Model:             cfg.Model,
		SystemPrompt:      contract.SystemInstructions,
		RequestsPerMinute: cfg.RequestsPerMinute,
		Timeout:           cfg.Timeout,
		Logger:            rt.logger,
	})
}

func reportRepair(cmd *cobra.Command, res governance.RepairResult) error {
	if res.Err != nil {
		if ctxErr := context.Cause(cmd.Context()); ctxErr != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "repair interrupted: %v\n", ctxErr)
		} else {
			fmt.Fprintf(cmd.ErrOrStderr(), "repair stopped early: %v\n", res.Err)
		}
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "rounds: %d, repaired: %t\n", res.Attempts, res.Repaired)

	if err := printOutcome(cmd.OutOrStdout(), res.Outcome, outputFormat); err != nil {
		return err
	}
	if !res.Outcome.Valid {
		return ErrInvalid
	}
	return nil
}
