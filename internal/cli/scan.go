package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gzhole/outputguard/internal/governance"
)

var (
	scanConcurrency int
	scanJSONOnly    bool
)

var scanCmd = &cobra.Command{
	Use:   "scan <file>...",
	Short: "Validate many saved model answers at once",
	Long: `Scan validates each file as one model answer, several at a time, and
prints one line per file followed by a summary. Exits non-zero when any file
fails validation or cannot be read.

Examples:
  outputguard scan transcripts/*.txt
  outputguard scan --concurrency 8 --format json out/*.md`,
	Args: cobra.MinimumNArgs(1),
	RunE: scanCommand,
}

func init() {
	scanCmd.Flags().IntVar(&scanConcurrency, "concurrency", runtime.NumCPU(), "Files validated in parallel")
	scanCmd.Flags().BoolVar(&scanJSONOnly, "json-only", false, "Treat every answer as a JSON-only response")
	scanCmd.Flags().StringVar(&outputFormat, "format", "text", "Output format: text or json")
	rootCmd.AddCommand(scanCmd)
}

// scanResult is one file's verdict.
type scanResult struct {
	Path    string              `json:"path"`
	Outcome *governance.Outcome `json:"outcome,omitempty"`
	Error   string              `json:"error,omitempty"`
}

func scanCommand(cmd *cobra.Command, args []string) error {
	if err := checkFormat(outputFormat); err != nil {
		return err
	}
	if scanConcurrency < 1 {
		return fmt.Errorf("--concurrency must be at least 1")
	}

	rt, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	results := scanFiles(cmd.Context(), rt.gov, args, scanConcurrency, rt.cfg.Governance.JSONOnly || scanJSONOnly)

	if outputFormat == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	} else {
		printScan(cmd.OutOrStdout(), results)
	}

	for _, r := range results {
		if r.Error != "" || !r.Outcome.Valid {
			return ErrInvalid
		}
	}
	return nil
}

// scanFiles validates every path with at most limit files in flight.
// Results keep the order of paths; a read failure only marks its own entry.
func scanFiles(ctx context.Context, gov *governance.Governor, paths []string, limit int, jsonOnly bool) []scanResult {
	results := make([]scanResult, len(paths))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, path := range paths {
		g.Go(func() error {
			results[i].Path = path
			if err := gCtx.Err(); err != nil {
				results[i].Error = err.Error()
				return nil
			}
			data, err := readFile(path)
			if err != nil {
				results[i].Error = err.Error()
				return nil
			}
			out := gov.ValidateContext(gCtx, string(data), governance.Request{JSONOnly: jsonOnly, Source: path})
			results[i].Outcome = &out
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func printScan(w io.Writer, results []scanResult) {
	valid, invalid, failed := 0, 0, 0
	for _, r := range results {
		switch {
		case r.Error != "":
			failed++
			fmt.Fprintf(w, "  \xe2\x9a\xa0  %s: %s\n", r.Path, r.Error)
		case r.Outcome.Valid:
			valid++
			note := ""
			if !r.Outcome.Found {
				note = " (no JSON)"
			}
			fmt.Fprintf(w, "  \xe2\x9c\x85 %s%s\n", r.Path, note)
		default:
			invalid++
			fmt.Fprintf(w, "  \xe2\x9d\x8c %s: %d violation(s)\n", r.Path, len(r.Outcome.Violations))
			for _, v := range r.Outcome.Violations {
				fmt.Fprintf(w, "       [%s] %s\n", v.Kind, v.Message())
			}
		}
		if r.Outcome != nil && r.Outcome.SecretsDetected {
			fmt.Fprintf(w, "       secrets masked: %s\n", strings.Join(r.Outcome.SecretsMasked, ", "))
		}
	}
	fmt.Fprintln(w, strings.Repeat("\xe2\x94\x80", 60))
	fmt.Fprintf(w, "  %d file(s): %d valid, %d invalid, %d unreadable\n", len(results), valid, invalid, failed)
}
