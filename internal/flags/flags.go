package flags

// Package flags defines canonical CLI flag names shared across the CLI and the
// config loader. Keeping these as constants avoids drift between Cobra flag
// wiring and the flag -> config key mapping used for layered loading.
// IMPORTANT: These are flag *names* without leading dashes.
// Example usage:
//
//	cmd.Flags().StringVar(&cfg.Source.Kind, flags.FlagSource, "", "...")
//	arg := "--" + flags.FlagSource
const (
	// Global
	FlagConfig    = "config"
	FlagVerbose   = "verbose"
	FlagLogLevel  = "log-level"
	FlagLogFormat = "log-format"
	FlagStateDir  = "state-dir"

	// Source
	FlagSource        = "source"
	FlagPath          = "path"
	FlagSystemPath    = "system-path"
	FlagIncludeHidden = "include-hidden"
	FlagMaxFileSize   = "max-file-size"
	FlagInventory     = "inventory"
	FlagRepo          = "repo"
	FlagMaxRequests   = "max-requests"
	FlagPrereleases   = "include-prereleases"
	FlagInclude       = "include"
	FlagExclude       = "exclude"

	// Rules
	FlagRulesFile      = "rules-file"
	FlagRulesSignature = "rules-signature"
	FlagRulesKeyring   = "rules-keyring"
	FlagRulesWatch     = "rules-watch"
	FlagAllow          = "allow"
	FlagAllowPattern   = "allow-pattern"

	// Schedule
	FlagInterval     = "interval"
	FlagInitialDelay = "initial-delay"
	FlagMode         = "mode"
	FlagAutostart    = "autostart"

	// Run
	FlagPace          = "pace"
	FlagProgressEvery = "progress-every"
	FlagConcurrency   = "concurrency"
	FlagTimeout       = "timeout"

	// Output
	FlagConsoleFormat       = "console-format"
	FlagConsoleFilterEvents = "console-filter-events"
	FlagReport              = "report"
	FlagOut                 = "out"
	FlagOutFormat           = "out-format"
	FlagEmit                = "emit"
	FlagNoConsole           = "no-console"

	// Store
	FlagStorePath   = "store-path"
	FlagNoStore     = "no-store"
	FlagStoreRetain = "store-retain"

	// Server
	FlagAddr = "addr"

	// NATS
	FlagNATSURL     = "nats-url"
	FlagNATSSubject = "nats-subject-prefix"

	// Telemetry
	FlagOTLPEndpoint = "otlp-endpoint"
	FlagOTLPInsecure = "otlp-insecure"
)

// ConfigKeys maps flag names to their dotted config keys. Flags not listed
// here (such as --config) never override configuration values.
var ConfigKeys = map[string]string{
	FlagVerbose:   "log.verbose",
	FlagLogLevel:  "log.level",
	FlagLogFormat: "log.format",
	FlagStateDir:  "store.dir",

	FlagSource:        "source.kind",
	FlagPath:          "source.paths",
	FlagSystemPath:    "source.system_paths",
	FlagIncludeHidden: "source.include_hidden",
	FlagMaxFileSize:   "source.max_file_size",
	FlagInventory:     "source.inventory",
	FlagRepo:          "source.repo",
	FlagMaxRequests:   "source.max_requests",
	FlagPrereleases:   "source.include_prereleases",
	FlagInclude:       "source.include",
	FlagExclude:       "source.exclude",

	FlagRulesFile:      "rules.file",
	FlagRulesSignature: "rules.signature",
	FlagRulesKeyring:   "rules.keyring",
	FlagRulesWatch:     "rules.watch",
	FlagAllow:          "rules.allow_identifiers",
	FlagAllowPattern:   "rules.allow_patterns",

	FlagInterval:     "schedule.interval",
	FlagInitialDelay: "schedule.initial_delay",
	FlagMode:         "schedule.mode",
	FlagAutostart:    "schedule.autostart",

	FlagPace:          "run.pace",
	FlagProgressEvery: "run.progress_every",
	FlagConcurrency:   "run.concurrency",
	FlagTimeout:       "run.timeout",

	FlagConsoleFormat:       "output.console_format",
	FlagConsoleFilterEvents: "output.console_filter_events",
	FlagReport:              "output.report",
	FlagOut:                 "output.out",
	FlagOutFormat:           "output.out_format",
	FlagEmit:                "output.emit",
	FlagNoConsole:           "output.no_console",

	FlagStorePath:   "store.path",
	FlagNoStore:     "store.disabled",
	FlagStoreRetain: "store.retain",

	FlagAddr: "server.addr",

	FlagNATSURL:     "nats.url",
	FlagNATSSubject: "nats.subject_prefix",

	FlagOTLPEndpoint: "telemetry.endpoint",
	FlagOTLPInsecure: "telemetry.insecure",
}
