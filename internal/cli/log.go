package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gzhole/outputguard/internal/audit"
)

var (
	logFilterOperation string
	logFilterInvalid   bool
	logLast            int
	logSummary         bool
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "View and filter the audit log",
	Long: `View the OutputGuard audit log with filtering and summary options.

Examples:
  outputguard log                        # Show all entries
  outputguard log --last 20              # Show last 20 entries
  outputguard log --operation repair     # Show only repair runs
  outputguard log --invalid              # Show only answers that failed
  outputguard log --summary              # Show summary stats`,
	RunE: logCommand,
}

func init() {
	logCmd.Flags().StringVar(&logFilterOperation, "operation", "", "Filter by operation (validate, repair)")
	logCmd.Flags().BoolVar(&logFilterInvalid, "invalid", false, "Show only entries that failed validation")
	logCmd.Flags().IntVar(&logLast, "last", 0, "Show last N entries")
	logCmd.Flags().BoolVar(&logSummary, "summary", false, "Show summary statistics")
	rootCmd.AddCommand(logCmd)
}

func logCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	events, err := audit.ReadEvents(cfg.LogPath)
	if err != nil {
		return fmt.Errorf("failed to read audit log: %w", err)
	}

	w := cmd.OutOrStdout()
	if len(events) == 0 {
		fmt.Fprintln(w, "No audit log entries found.")
		return nil
	}

	filtered := filterEvents(events, logFilterOperation, logFilterInvalid)
	if logLast > 0 && logLast < len(filtered) {
		filtered = filtered[len(filtered)-logLast:]
	}

	if logSummary {
		printSummary(w, events)
		return nil
	}
	printEvents(w, filtered)
	return nil
}

func filterEvents(events []audit.Event, operation string, invalidOnly bool) []audit.Event {
	if operation == "" && !invalidOnly {
		return events
	}

	var filtered []audit.Event
	for _, e := range events {
		if operation != "" && !strings.EqualFold(e.Operation, operation) {
			continue
		}
		if invalidOnly && e.Valid {
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered
}

func printEvents(w io.Writer, events []audit.Event) {
	for _, e := range events {
		source := e.Source
		if source == "" {
			source = "-"
		}
		fmt.Fprintf(w, "%s %s %-8s %s", outcomeIcon(e), formatTimestamp(e.Timestamp), e.Operation, source)
		if e.Contract != "" {
			fmt.Fprintf(w, " [%s]", e.Contract)
		}
		if e.Attempts > 0 {
			fmt.Fprintf(w, " (%d round(s))", e.Attempts)
		}
		fmt.Fprintln(w)

		for _, v := range e.Violations {
			fmt.Fprintf(w, "     Violation: %s\n", v)
		}
		if len(e.SecretsMasked) > 0 {
			fmt.Fprintf(w, "     Secrets: %s\n", strings.Join(e.SecretsMasked, ", "))
		}
		if e.Error != "" {
			fmt.Fprintf(w, "     Error: %s\n", e.Error)
		}
		fmt.Fprintln(w)
	}
}

func printSummary(w io.Writer, all []audit.Event) {
	var validCount, invalidCount, noJSON, repairs, repaired, errorCount, secretEvents int
	kindCounts := map[string]int{}

	for _, e := range all {
		switch {
		case !e.Found:
			noJSON++
		case e.Valid:
			validCount++
		default:
			invalidCount++
		}
		if e.Operation == audit.OpRepair {
			repairs++
			if e.Valid && e.Attempts > 0 {
				repaired++
			}
		}
		if e.Error != "" {
			errorCount++
		}
		if len(e.SecretsMasked) > 0 {
			secretEvents++
		}
		for _, k := range e.ViolationKinds {
			kindCounts[k]++
		}
	}

	rule := strings.Repeat("\xe2\x95\x90", 43)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "  OutputGuard Audit Summary")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "  Total events:    %d\n", len(all))
	fmt.Fprintf(w, "  Valid:           %d\n", validCount)
	fmt.Fprintf(w, "  Invalid:         %d\n", invalidCount)
	fmt.Fprintf(w, "  No JSON:         %d\n", noJSON)
	fmt.Fprintf(w, "  Repair runs:     %d (%d fixed)\n", repairs, repaired)
	fmt.Fprintf(w, "  Secrets masked:  %d event(s)\n", secretEvents)
	fmt.Fprintf(w, "  Errors:          %d\n", errorCount)
	fmt.Fprintln(w, rule)

	fmt.Fprintf(w, "  First event:     %s\n", formatTimestamp(all[0].Timestamp))
	fmt.Fprintf(w, "  Last event:      %s\n", formatTimestamp(all[len(all)-1].Timestamp))

	if len(kindCounts) > 0 {
		kinds := make([]string, 0, len(kindCounts))
		for k := range kindCounts {
			kinds = append(kinds, k)
		}
		sort.Slice(kinds, func(i, j int) bool {
			if kindCounts[kinds[i]] != kindCounts[kinds[j]] {
				return kindCounts[kinds[i]] > kindCounts[kinds[j]]
			}
			return kinds[i] < kinds[j]
		})
		fmt.Fprintln(w)
		fmt.Fprintln(w, "  Violations by kind:")
		for _, k := range kinds {
			fmt.Fprintf(w, "    %-20s %d\n", k, kindCounts[k])
		}
	}
	fmt.Fprintln(w)
}

func outcomeIcon(e audit.Event) string {
	switch {
	case e.Error != "":
		return "\xe2\x9a\xa0\xef\xb8\x8f" // warning
	case !e.Found:
		return "\xe2\x9e\x96" // minus
	case e.Valid:
		return "\xe2\x9c\x85" // check mark
	default:
		return "\xe2\x9d\x8c" // cross mark
	}
}

func formatTimestamp(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
