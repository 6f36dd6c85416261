package cli

import (
	"fmt"
	"io"
	"scanwarden/internal/config"
	"scanwarden/internal/engine"
	"scanwarden/internal/rules"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var rulesListQuiet bool

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and check rule sets",
	Long: `Inspect the heuristic rule set used by scans.

Without --rules-file the builtin rule set is shown. Rules are evaluated in
order and the first match decides the verdict.

Examples:
  scanwarden rules list
  scanwarden rules show hack
  scanwarden rules check rules.yaml --rules-keyring trusted.asc
  scanwarden rules kinds
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the active rules in evaluation order",
	Long: `List the rules of the active rule set in evaluation order.

Output:
  A vertical list of rules:
    ----------------------------------------
    RULE: {ID}
    ----------------------------------------
    {KIND} {SEVERITY}
    {DESCRIPTION}
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rs, err := loadRuleSet(cfg)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, r := range rs.Rules() {
			if rulesListQuiet {
				fmt.Fprintln(w, r.ID())
			} else {
				printRule(w, r)
			}
		}
		if !rulesListQuiet {
			printAllowList(w, rs.AllowList())
		}
		return nil
	},
}

var rulesShowCmd = &cobra.Command{
	Use:   "show [rule-id]",
	Short: "Show details of a specific rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rs, err := loadRuleSet(cfg)
		if err != nil {
			return err
		}
		r, ok := rs.Lookup(args[0])
		if !ok {
			return fmt.Errorf("rule not found: %s", args[0])
		}
		printRule(cmd.OutOrStdout(), r)
		return nil
	},
}

var rulesCheckCmd = &cobra.Command{
	Use:   "check [rules-file]",
	Short: "Validate a rules file without scanning",
	Long: `Parse, compile and (with --rules-keyring) verify a rules file.

The file argument overrides --rules-file. A non-zero exit means the file
would be rejected by scan and serve.
`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := *cfg
		if len(args) == 1 {
			c.Rules.File = args[0]
		}
		if c.Rules.File == "" {
			return fmt.Errorf("a rules file is required (argument or --rules-file)")
		}
		rs, err := loadRuleSet(&c)
		if err != nil {
			return err
		}
		ok := color.New(color.FgGreen, color.Bold).SprintFunc()
		signed := ""
		if c.Rules.Keyring != "" {
			signed = ", signature verified"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %d rules%s\n", ok("OK"), rs.Origin(), rs.Len(), signed)
		return nil
	},
}

var rulesKindsCmd = &cobra.Command{
	Use:   "kinds",
	Short: "List the rule kinds a rules file may use",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		kinds := rules.Kinds()
		sort.Slice(kinds, func(i, j int) bool { return kinds[i].Kind < kinds[j].Kind })
		bold := color.New(color.Bold)
		for _, k := range kinds {
			bold.Fprintln(cmd.OutOrStdout(), k.Kind)
			fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", k.Description)
		}
		return nil
	},
}

func loadRuleSet(c *config.Config) (*rules.RuleSet, error) {
	st, err := engine.BuildRules(c)
	if err != nil {
		return nil, err
	}
	return st.Current(), nil
}

func severityColor(s rules.Severity) *color.Color {
	switch s {
	case rules.SeverityHigh:
		return color.New(color.FgRed, color.Bold)
	case rules.SeverityMedium:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgCyan)
	}
}

func printRule(w io.Writer, r rules.Rule) {
	bold := color.New(color.Bold)
	fmt.Fprintln(w, "----------------------------------------")
	bold.Fprintf(w, "RULE: %s\n", r.ID())
	fmt.Fprintln(w, "----------------------------------------")
	fmt.Fprintf(w, "%s %s\n", r.Kind(), severityColor(r.Severity()).Sprint(r.Severity()))
	if d := r.Description(); d != "" {
		fmt.Fprintln(w, d)
	}
	if v := r.Definition().Value; v != "" && v != r.ID() {
		fmt.Fprintf(w, "Value: %s\n", v)
	}
	fmt.Fprintln(w)
}

func printAllowList(w io.Writer, a rules.AllowList) {
	if a.Empty() {
		return
	}
	ids := make([]string, 0, len(a.Identifiers))
	for id := range a.Identifiers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	color.New(color.Bold).Fprintln(w, "ALLOW-LIST")
	for _, id := range ids {
		fmt.Fprintf(w, "  %s\n", id)
	}
	for _, p := range a.Patterns {
		fmt.Fprintf(w, "  %s (pattern)\n", p)
	}
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	addRulesFlags(rulesCmd.PersistentFlags(), false)

	rulesCmd.AddCommand(rulesListCmd)
	rulesListCmd.Flags().BoolVarP(&rulesListQuiet, "quiet", "q", false, "Only print rule IDs")
	rulesCmd.AddCommand(rulesShowCmd)
	rulesCmd.AddCommand(rulesCheckCmd)
	rulesCmd.AddCommand(rulesKindsCmd)
}
