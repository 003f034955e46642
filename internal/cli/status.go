package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gzhole/outputguard/internal/intent"
	"github.com/gzhole/outputguard/internal/policy"
	"github.com/gzhole/outputguard/internal/rules"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show OutputGuard status: config, policy, packs, LLM and audit log",
	Long: `Check how OutputGuard is set up: which config and policy files are in
use, which rule packs are merged, whether the repair endpoint has a key, and
where the audit log lives.

  outputguard status`,
	RunE: statusCommand,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func statusCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()

	rule := "\xe2\x95\x90\xe2\x95\x90\xe2\x95\x90\xe2\x95\x90\xe2\x95\x90\xe2\x95\x90\xe2\x95\x90\xe2\x95\x90\xe2\x95\x90\xe2\x95\x90"
	fmt.Fprintf(w, "%s OutputGuard %s %s\n\n", rule, Version, rule)

	fmt.Fprintf(w, "  Config dir:  %s\n", cfg.ConfigDir)
	checkFile(w, "Config", cfg.ConfigPath)
	checkFile(w, "Policy", cfg.PolicyPath)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "\xe2\x94\x80\xe2\x94\x80\xe2\x94\x80 Rules \xe2\x94\x80\xe2\x94\x80\xe2\x94\x80")
	pol, infos, err := loadPolicy(cfg)
	if err != nil {
		fmt.Fprintf(w, "  \xe2\x9d\x8c policy: %v\n", err)
	} else {
		printRules(w, pol, infos)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "\xe2\x94\x80\xe2\x94\x80\xe2\x94\x80 Repair \xe2\x94\x80\xe2\x94\x80\xe2\x94\x80")
	fmt.Fprintf(w, "  Max retries: %d\n", cfg.Governance.MaxRetries)
	fmt.Fprintf(w, "  Model:       %s\n", cfg.LLM.Model)
	if cfg.LLM.BaseURL != "" {
		fmt.Fprintf(w, "  Endpoint:    %s\n", cfg.LLM.BaseURL)
	}
	if cfg.APIKey() != "" {
		fmt.Fprintf(w, "  \xe2\x9c\x85 API key:  set in $%s\n", cfg.LLM.APIKeyEnv)
	} else {
		fmt.Fprintf(w, "  \xe2\xac\x9a  API key:  $%s is empty\n", cfg.LLM.APIKeyEnv)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "\xe2\x94\x80\xe2\x94\x80\xe2\x94\x80 Audit Log \xe2\x94\x80\xe2\x94\x80\xe2\x94\x80")
	if !cfg.Log.Audit {
		fmt.Fprintln(w, "  \xe2\xac\x9a  disabled (log.audit: false)")
	} else {
		checkAuditLog(w, cfg.LogPath)
	}
	fmt.Fprintln(w)
	return nil
}

func printRules(w io.Writer, pol *policy.Policy, infos []policy.PackInfo) {
	t := pol.Rules
	fmt.Fprintf(w, "  Checks:              %d\n", len(rules.New(t).Checks()))
	kinds := make([]string, len(rules.Kinds))
	for i, k := range rules.Kinds {
		kinds[i] = string(k)
	}
	fmt.Fprintf(w, "  Violation kinds:     %s\n", strings.Join(kinds, ", "))
	fmt.Fprintf(w, "  Sensitive fragments: %d\n", len(t.SensitiveFragments))
	fmt.Fprintf(w, "  Required env refs:   %d\n", len(t.RequiredEnvRefs))
	fmt.Fprintf(w, "  Numeric fields:      %d (+%d suffixes)\n", len(t.NumericFields), len(t.NumericSuffixes))
	fmt.Fprintf(w, "  Extra secret rules:  %d\n", len(pol.Secrets))
	fmt.Fprintf(w, "  Presentation:        ratio %.2f, %d prose letters\n",
		pol.Presentation.DominanceRatio, pol.Presentation.MinProseLetters)
	fmt.Fprintf(w, "  Contracts:           %d\n", len(intent.DefaultTable().Tags()))

	enabled := 0
	for _, info := range infos {
		if info.Enabled && info.Err == nil {
			enabled++
		}
	}
	if len(infos) > 0 {
		fmt.Fprintf(w, "  \xe2\x9c\x85 Rule packs: %d installed, %d enabled\n", len(infos), enabled)
	} else {
		fmt.Fprintln(w, "  \xe2\xac\x9a  No rule packs installed")
	}
}

func checkFile(w io.Writer, name, path string) {
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(w, "  \xe2\x9c\x85 %s: %s\n", name, path)
	} else {
		fmt.Fprintf(w, "  \xe2\xac\x9a  %s: built-in defaults (no %s)\n", name, path)
	}
}

func checkAuditLog(w io.Writer, path string) {
	info, err := os.Stat(path)
	if err != nil {
		fmt.Fprintf(w, "  \xe2\xac\x9a  %s (not yet created; starts on first event)\n", path)
		return
	}

	sizeKB := info.Size() / 1024
	if sizeKB == 0 {
		fmt.Fprintf(w, "  \xe2\x9c\x85 %s (<1 KB)\n", path)
	} else {
		fmt.Fprintf(w, "  \xe2\x9c\x85 %s (%d KB)\n", path, sizeKB)
	}
}
