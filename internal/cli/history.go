package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"scanwarden/internal/config"
	"scanwarden/internal/scan"
	"scanwarden/internal/store"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	historyLimit int
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded scan runs",
	Long: `Show scan runs recorded in the state directory.

The history database is shared with a running daemon. While "serve" holds it
open, use GET /api/v1/scans instead.

Examples:
  scanwarden history list --limit 5
  scanwarden history show 3f2a9c1e-...
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openHistory(cfg)
		if err != nil {
			return err
		}
		defer st.Shutdown()

		results, err := st.Recent(historyLimit)
		if err != nil {
			return err
		}
		if historyJSON {
			summaries := make([]scan.Summary, 0, len(results))
			for _, r := range results {
				summaries = append(summaries, r.Summary())
			}
			return writeJSON(cmd.OutOrStdout(), summaries)
		}
		if len(results) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No recorded runs.")
			return nil
		}
		for _, r := range results {
			printRunLine(cmd.OutOrStdout(), r)
		}
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show [run-id]",
	Short: "Show one run with its flagged artifacts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openHistory(cfg)
		if err != nil {
			return err
		}
		defer st.Shutdown()

		res, err := st.Get(args[0])
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("run not found: %s", args[0])
		}
		if err != nil {
			return err
		}
		if historyJSON {
			return writeJSON(cmd.OutOrStdout(), res)
		}
		printRunDetail(cmd.OutOrStdout(), res)
		return nil
	},
}

func openHistory(c *config.Config) (*store.Store, error) {
	c.ResolveStore()
	st, err := store.Open(c.Store.Path, store.Options{})
	if err != nil {
		return nil, fmt.Errorf("open run history %s: %w", c.Store.Path, err)
	}
	return st, nil
}

func stateLabel(r *scan.Result) string {
	switch {
	case r.State == scan.StateFailed:
		return color.New(color.FgRed, color.Bold).Sprint("FAILED")
	case r.State == scan.StateCancelled:
		return color.New(color.FgYellow, color.Bold).Sprint("CANCELLED")
	case r.Threats > 0:
		return color.New(color.FgRed, color.Bold).Sprint("THREATS")
	default:
		return color.New(color.FgGreen, color.Bold).Sprint("CLEAN")
	}
}

func printRunLine(w io.Writer, r *scan.Result) {
	fmt.Fprintf(w, "%s  %-9s %s  scanned=%d threats=%d skipped=%d  %s\n",
		r.ID,
		r.Mode,
		r.StartedAt.Local().Format(time.DateTime),
		r.Scanned, r.Threats, r.Skipped,
		stateLabel(r),
	)
}

func printRunDetail(w io.Writer, r *scan.Result) {
	bold := color.New(color.Bold)
	bold.Fprintf(w, "RUN: %s\n", r.ID)
	fmt.Fprintf(w, "State:    %s\n", stateLabel(r))
	fmt.Fprintf(w, "Mode:     %s\n", r.Mode)
	fmt.Fprintf(w, "Started:  %s\n", r.StartedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(w, "Duration: %s\n", r.Duration().Round(time.Millisecond))
	if r.Rules != "" {
		fmt.Fprintf(w, "Rules:    %s\n", r.Rules)
	}
	fmt.Fprintf(w, "Scanned:  %d (skipped %d)\n", r.Scanned, r.Skipped)
	if r.Reason != "" {
		fmt.Fprintf(w, "Reason:   %s\n", r.Reason)
	}
	if len(r.Flagged) == 0 {
		return
	}
	fmt.Fprintln(w)
	bold.Fprintf(w, "Flagged (%d):\n", len(r.Flagged))
	for _, f := range r.Flagged {
		line := fmt.Sprintf("  - %s [%s, %s]", f.Artifact.ID, f.Verdict.RuleID, f.Verdict.Severity)
		if f.Artifact.Location != "" {
			line += " " + f.Artifact.Location
		}
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	rootCmd.AddCommand(historyCmd)
	addStoreFlags(historyCmd.PersistentFlags(), false)
	historyCmd.PersistentFlags().BoolVar(&historyJSON, "json", false, "Print JSON instead of text")

	historyCmd.AddCommand(historyListCmd)
	historyListCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to show (0 = all)")
	historyCmd.AddCommand(historyShowCmd)
}
