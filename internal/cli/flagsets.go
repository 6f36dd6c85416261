package cli

import (
	"scanwarden/internal/config"
	"scanwarden/internal/flags"

	"github.com/spf13/pflag"
)

// Flag defaults mirror config.New so --help shows the effective values.
// Only flags the user actually sets override lower configuration layers.
var flagDefaults = config.New()

func addSourceFlags(fs *pflag.FlagSet) {
	d := flagDefaults.Source
	fs.String(flags.FlagSource, d.Kind, "Artifact source: filesystem|inventory|releases")
	fs.StringSlice(flags.FlagPath, nil, "Directory to walk for the filesystem source (repeatable; comma-separated accepted)")
	fs.StringSlice(flags.FlagSystemPath, nil, "Treat artifacts under this directory as system-origin and skip them (repeatable)")
	fs.Bool(flags.FlagIncludeHidden, false, "Scan dot-files instead of treating them as system-origin")
	fs.Int64(flags.FlagMaxFileSize, 0, "Skip files larger than this many bytes (0 = no limit)")
	fs.String(flags.FlagInventory, "", "Installed-package inventory file (YAML or JSON) for the inventory source")
	fs.String(flags.FlagRepo, "", "GitHub repository as OWNER/REPO (or URL) for the releases source")
	fs.Int(flags.FlagMaxRequests, 0, "Maximum GitHub API requests per run (0 = unlimited)")
	fs.Bool(flags.FlagPrereleases, false, "Also scan assets of prerelease GitHub releases")
	fs.StringSlice(flags.FlagInclude, nil, "Only scan artifacts whose identifier matches one of these globs (path.Match, case-insensitive)")
	fs.StringSlice(flags.FlagExclude, nil, "Skip artifacts whose identifier matches one of these globs")
}

func addRulesFlags(fs *pflag.FlagSet, withWatch bool) {
	fs.String(flags.FlagRulesFile, "", "YAML rules file (default: builtin rule set)")
	fs.String(flags.FlagRulesSignature, "", "Detached armored signature for --rules-file (default: <rules-file>.asc)")
	fs.String(flags.FlagRulesKeyring, "", "Armored OpenPGP public keyring; when set the rules file must carry a valid signature")
	fs.StringSlice(flags.FlagAllow, nil, "Never flag these identifiers (repeatable; comma-separated accepted)")
	fs.StringSlice(flags.FlagAllowPattern, nil, "Never flag identifiers matching these globs (repeatable)")
	if withWatch {
		fs.Bool(flags.FlagRulesWatch, false, "Reload --rules-file when it changes")
	}
}

func addScheduleFlags(fs *pflag.FlagSet) {
	d := flagDefaults.Schedule
	fs.Duration(flags.FlagInterval, d.Interval, "Time between periodic scans")
	fs.Duration(flags.FlagInitialDelay, d.InitialDelay, "Delay before the first periodic scan after the scheduler starts")
	fs.String(flags.FlagMode, d.Mode, "Scheduler mode: foreground|background")
	fs.Bool(flags.FlagAutostart, false, "Start the scheduler as soon as the daemon starts")
}

func addRunFlags(fs *pflag.FlagSet, withTimeout bool) {
	d := flagDefaults.Run
	fs.Duration(flags.FlagPace, d.Pace, "Pause after each scanned artifact (0 disables pacing)")
	fs.Int(flags.FlagProgressEvery, d.ProgressEvery, "Emit a progress event every N scanned artifacts (0 disables progress)")
	fs.Int(flags.FlagConcurrency, d.Concurrency, "Evaluate artifacts in parallel batches of this size")
	if withTimeout {
		fs.Duration(flags.FlagTimeout, d.Timeout, "Abort the scan after this long (0 = no timeout)")
	}
}

func addOutputFlags(fs *pflag.FlagSet) {
	d := flagDefaults.Output
	fs.String(flags.FlagConsoleFormat, d.ConsoleFormat, "Console output format: text|json|ndjson")
	fs.StringSlice(flags.FlagConsoleFilterEvents, nil, "Only print these event types on the console (comma-separated)")
	fs.String(flags.FlagReport, "", "Write a Markdown report to this path")
	fs.String(flags.FlagOut, "", "Write structured output to this path")
	fs.String(flags.FlagOutFormat, "", "Structured output format for --out: json|ndjson (default: inferred from file extension)")
	fs.StringSlice(flags.FlagEmit, nil, "Emit additional structured stream to stdout: json|ndjson (repeatable; comma-separated accepted)")
	fs.Bool(flags.FlagNoConsole, false, "Suppress console output (use with --emit/--out/--report)")
}

func addStoreFlags(fs *pflag.FlagSet, withToggles bool) {
	fs.String(flags.FlagStorePath, "", "Run history database (default: <state-dir>/history.db)")
	if withToggles {
		fs.Bool(flags.FlagNoStore, false, "Do not record run history")
		fs.Int(flags.FlagStoreRetain, 0, "Keep at most this many runs in history (0 = unlimited)")
	}
}

func addNATSFlags(fs *pflag.FlagSet) {
	fs.String(flags.FlagNATSURL, "", "Publish scan events to this NATS server")
	fs.String(flags.FlagNATSSubject, flagDefaults.NATS.SubjectPrefix, "Subject prefix for published events (<prefix>.<event type>)")
}

func addTelemetryFlags(fs *pflag.FlagSet) {
	fs.String(flags.FlagOTLPEndpoint, "", "Export traces and metrics to this OTLP gRPC endpoint")
	fs.Bool(flags.FlagOTLPInsecure, false, "Disable TLS for the OTLP exporter")
}
