package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gzhole/outputguard/internal/policy"
)

var packCmd = &cobra.Command{
	Use:   "pack",
	Short: "Manage rule packs",
	Long: `Manage OutputGuard rule packs.

Rule packs are YAML files that extend the policy tables: extra sensitive field
fragments, required env reference fields, numeric field names, list fields and
secret patterns. Packs live in ~/.outputguard/packs/ and are merged with the
base policy at runtime. A file whose name starts with "_" is disabled.

Examples:
  outputguard pack list                  # List installed packs
  outputguard pack enable internal-keys  # Enable a pack
  outputguard pack disable billing       # Disable a pack
  outputguard pack show internal-keys    # Show pack details`,
}

var packListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed rule packs",
	RunE:  packList,
}

var packEnableCmd = &cobra.Command{
	Use:   "enable <pack-name>",
	Short: "Enable a disabled rule pack",
	Args:  cobra.ExactArgs(1),
	RunE:  packEnable,
}

var packDisableCmd = &cobra.Command{
	Use:   "disable <pack-name>",
	Short: "Disable a rule pack (prefix with underscore)",
	Args:  cobra.ExactArgs(1),
	RunE:  packDisable,
}

var packShowCmd = &cobra.Command{
	Use:   "show <pack-name>",
	Short: "Show the contents of a rule pack",
	Args:  cobra.ExactArgs(1),
	RunE:  packShow,
}

func init() {
	packCmd.AddCommand(packListCmd)
	packCmd.AddCommand(packEnableCmd)
	packCmd.AddCommand(packDisableCmd)
	packCmd.AddCommand(packShowCmd)
	rootCmd.AddCommand(packCmd)
}

func packsDir() (string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(cfg.PacksDir, 0700); err != nil {
		return "", err
	}
	return cfg.PacksDir, nil
}

func packList(cmd *cobra.Command, args []string) error {
	dir, err := packsDir()
	if err != nil {
		return err
	}

	// Broken packs are listed with their error instead of failing the list.
	_, infos, err := policy.LoadPacks(dir, policy.DefaultPolicy())
	if err != nil && len(infos) == 0 {
		return fmt.Errorf("failed to load packs: %w", err)
	}

	w := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(w, "No rule packs installed.")
		fmt.Fprintf(w, "\nTo install packs, copy YAML files to: %s\n", dir)
		return nil
	}

	fmt.Fprintln(w, "Installed Rule Packs:")
	fmt.Fprintln(w, strings.Repeat("\xe2\x94\x80", 60))
	for _, info := range infos {
		status := "\xe2\x9c\x85" // check mark
		if !info.Enabled {
			status = "\xe2\x9d\x8c" // cross mark
		}
		if info.Err != nil {
			status = "\xe2\x9a\xa0\xef\xb8\x8f"
		}
		fmt.Fprintf(w, "  %s  %-25s %s\n", status, info.Name, info.Description)
		if info.Err != nil {
			fmt.Fprintf(w, "       error: %v\n", info.Err)
			continue
		}
		if info.Version != "" {
			fmt.Fprintf(w, "       v%s by %s  (%d rules)\n", info.Version, info.Author, info.RuleCount)
		} else {
			fmt.Fprintf(w, "       %d rules\n", info.RuleCount)
		}
	}
	fmt.Fprintln(w, strings.Repeat("\xe2\x94\x80", 60))
	if err != nil {
		fmt.Fprintf(w, "\n\xe2\x9a\xa0  Merged policy is invalid: %v\n", err)
	}
	fmt.Fprintf(w, "\nPacks directory: %s\n", dir)
	return nil
}

func packEnable(cmd *cobra.Command, args []string) error {
	return movePack(cmd, args[0], true)
}

func packDisable(cmd *cobra.Command, args []string) error {
	return movePack(cmd, args[0], false)
}

// movePack renames <name>.yaml and _<name>.yaml into each other.
func movePack(cmd *cobra.Command, name string, enable bool) error {
	dir, err := packsDir()
	if err != nil {
		return err
	}

	enabledPath := filepath.Join(dir, name+".yaml")
	disabledPath := filepath.Join(dir, "_"+name+".yaml")
	from, to, verb := disabledPath, enabledPath, "enabled"
	if !enable {
		from, to, verb = enabledPath, disabledPath, "disabled"
	}

	w := cmd.OutOrStdout()
	if _, err := os.Stat(from); err == nil {
		if err := os.Rename(from, to); err != nil {
			return fmt.Errorf("failed to %s pack: %w", strings.TrimSuffix(verb, "d"), err)
		}
		fmt.Fprintf(w, "Pack '%s' %s.\n", name, verb)
		return nil
	}
	if _, err := os.Stat(to); err == nil {
		fmt.Fprintf(w, "Pack '%s' is already %s.\n", name, verb)
		return nil
	}
	return fmt.Errorf("pack '%s' not found in %s", name, dir)
}

func packShow(cmd *cobra.Command, args []string) error {
	dir, err := packsDir()
	if err != nil {
		return err
	}

	name := args[0]
	path := filepath.Join(dir, name+".yaml")
	if _, err := os.Stat(path); err != nil {
		path = filepath.Join(dir, "_"+name+".yaml")
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("pack '%s' not found in %s", name, dir)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
