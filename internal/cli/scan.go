package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"scanwarden/internal/config"
	"scanwarden/internal/engine"
	"scanwarden/internal/telemetry"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a single scan and exit",
	Long: `Run one scan over the configured artifact source and exit.

Sources:
	filesystem  walk the --path directories (default)
	inventory   read an installed-package list from --inventory
	releases    list release assets of the GitHub repository --repo

	The releases source authenticates with GITHUB_TOKEN, GH_TOKEN, or the
	GitHub CLI (gh auth token), in that order.

Output:
	Console output is controlled by --console-format (default: text).
	Structured outputs can be written via:
	- --out / --out-format: write an aggregate JSON array or NDJSON stream to a file
	- --emit: write an additional structured stream to stdout (json or ndjson)
	- --report: write a Markdown summary
	- --no-console: suppress the console sink (use with --emit/--out for machine output)

	NDJSON mode emits one JSON object per line. Objects are lifecycle Events with a
	"type" field (scan.started, scan.progress, threats.detected, scan.completed,
	scan.failed). Exactly one of scan.completed or scan.failed ends every run.

Exit codes:
	0 = scan completed, no threats
	1 = threats detected
	2 = partial (scan cancelled, timed out, or the source failed mid-run)
	3 = fatal error (scan did not run)

Examples:
	scanwarden scan --path /opt/apps --system-path /opt/apps/vendor
	scanwarden scan --source inventory --inventory packages.yaml --emit ndjson --no-console
	scanwarden scan --source releases --repo octo/app --max-requests 20
`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		code := runScan(ctx, cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		stop()
		os.Exit(code)
	},
}

// runScan validates cfg and executes one scan, returning the exit code.
func runScan(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) int {
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 3
	}

	shutdown, err := telemetry.Setup(ctx, telemetryOptions(cfg))
	if err != nil {
		log.Warn().Err(err).Msg("telemetry disabled")
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.Warn().Err(err).Msg("telemetry shutdown")
		}
	}()

	eng := engine.NewEngine()
	eng.Stdout = stdout
	eng.Instruments = telemetry.NewInstruments(nil, nil)
	return eng.Run(ctx, cfg)
}

func telemetryOptions(cfg *config.Config) telemetry.Options {
	return telemetry.Options{
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Insecure:    cfg.Telemetry.Insecure,
	}
}

func init() {
	rootCmd.AddCommand(scanCmd)

	fs := scanCmd.Flags()
	addSourceFlags(fs)
	addRulesFlags(fs, false)
	addRunFlags(fs, true)
	addOutputFlags(fs)
	addStoreFlags(fs, true)
	addNATSFlags(fs)
	addTelemetryFlags(fs)
}
