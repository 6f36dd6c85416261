package cli

import (
	"fmt"
	"os"
	"scanwarden/internal/config"
	"scanwarden/internal/flags"
	"scanwarden/internal/logging"

	"github.com/spf13/cobra"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

// cfg is loaded by the root PersistentPreRunE before any command runs.
var cfg = config.New()

var rootCmd = &cobra.Command{
	Use:   "scanwarden",
	Short: "Scan installed software for suspicious artifacts",
	Long: `Scanwarden enumerates artifacts (files on disk, installed packages, or
GitHub release assets), checks each one against a heuristic rule set, and
reports the ones that look suspicious.

It runs either as a one-shot scan or as a daemon that rescans on an interval
and exposes a local control API.

Examples:
	# One-shot scan of a directory
	scanwarden scan --path /opt/apps

	# Run the scheduler and control API
	scanwarden serve --path /opt/apps --autostart

	# List the active rules
	scanwarden rules list

	# Print build info
	scanwarden version

Configuration:
	Settings are layered: built-in defaults, then the YAML file given by
	--config (or SCANWARDEN_CONFIG), then SCANWARDEN_* environment variables
	(SCANWARDEN_SCHEDULE_INTERVAL=10m sets schedule.interval), then flags.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String(flags.FlagConfig, "", "YAML configuration file (env: SCANWARDEN_CONFIG)")
	pf.Bool(flags.FlagVerbose, false, "Enable verbose logging (prints every GitHub API call and full error details)")
	pf.String(flags.FlagLogLevel, cfg.Log.Level, "Log level: debug|info|warn|error")
	pf.String(flags.FlagLogFormat, cfg.Log.Format, "Log format: text|json")
	pf.String(flags.FlagStateDir, cfg.Store.Dir, "State directory holding run history and the daemon lock")
}

// loadConfig layers defaults, the config file, the environment and changed
// flags into cfg, then installs the global logger.
func loadConfig(cmd *cobra.Command, _ []string) error {
	file, _ := cmd.Flags().GetString(flags.FlagConfig)
	if file == "" {
		file = os.Getenv(config.EnvConfigFile)
	}

	loaded, err := config.Load(config.LoadOptions{File: file, Flags: cmd.Flags()})
	if err != nil {
		return err
	}
	cfg = loaded

	if _, err := logging.Init(logging.Options{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Verbose: cfg.Log.Verbose,
		Output:  cmd.ErrOrStderr(),
	}); err != nil {
		return err
	}
	return nil
}

func SetBuildInfo(version, commit, date string) {
	if version != "" {
		buildVersion = version
	}
	if commit != "" {
		buildCommit = commit
	}
	if date != "" {
		buildDate = date
	}

	rootCmd.Version = fmt.Sprintf("%s (%s) %s", buildVersion, buildCommit, buildDate)
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

func BuildInfo() (version, commit, date string) {
	return buildVersion, buildCommit, buildDate
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
