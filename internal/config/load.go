package config

import (
	"fmt"
	"scanwarden/internal/flags"
	"strings"

	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	kfile "github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes environment overrides. SCANWARDEN_SCHEDULE_INITIAL_DELAY
// maps to schedule.initial_delay: the first underscore after the prefix
// separates section from key.
const EnvPrefix = "SCANWARDEN_"

// EnvConfigFile names the config file when --config is not given.
const EnvConfigFile = "SCANWARDEN_CONFIG"

type LoadOptions struct {
	// File is an optional YAML config file.
	File string

	// Flags contributes every changed flag listed in flags.ConfigKeys.
	Flags *pflag.FlagSet
}

// Load merges configuration with precedence (highest to lowest):
//  1. Changed command-line flags
//  2. Environment variables (SCANWARDEN_*)
//  3. Config file (YAML)
//  4. Defaults from New()
//
// The result is not validated.
func Load(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultsMap(New()), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if opts.File != "" {
		if err := k.Load(kfile.Provider(opts.File), kyaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", opts.File, err)
		}
	}

	lists := listKeys(defaultsMap(New()))
	envValue := func(name, value string) (string, interface{}) {
		key := envKey(name)
		if lists[key] {
			return key, splitCommaList([]string{value})
		}
		return key, value
	}
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if opts.Flags != nil {
		fs := opts.Flags
		cb := func(f *pflag.Flag) (string, interface{}) {
			key, ok := flags.ConfigKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		}
		if err := k.Load(posflag.ProviderWithFlag(fs, ".", k, cb), nil); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, key, ok := strings.Cut(s, "_")
	if !ok {
		return s
	}
	return section + "." + key
}

// listKeys reports the keys whose values are lists. Their environment values
// are comma-separated.
func listKeys(defaults map[string]any) map[string]bool {
	out := make(map[string]bool)
	for k, v := range defaults {
		if _, ok := v.([]string); ok {
			out[k] = true
		}
	}
	return out
}

// defaultsMap flattens def for the confmap provider so every key exists
// before the other layers are applied.
func defaultsMap(def *Config) map[string]any {
	return map[string]any{
		"source.kind":                def.Source.Kind,
		"source.paths":               def.Source.Paths,
		"source.system_paths":        def.Source.SystemPaths,
		"source.include_hidden":      def.Source.IncludeHidden,
		"source.max_file_size":       def.Source.MaxFileSize,
		"source.inventory":           def.Source.Inventory,
		"source.repo":                def.Source.Repo,
		"source.max_requests":        def.Source.MaxRequests,
		"source.include_prereleases": def.Source.IncludePrereleases,
		"source.include":             def.Source.Include,
		"source.exclude":             def.Source.Exclude,

		"rules.file":              def.Rules.File,
		"rules.signature":         def.Rules.Signature,
		"rules.keyring":           def.Rules.Keyring,
		"rules.watch":             def.Rules.Watch,
		"rules.allow_identifiers": def.Rules.AllowIdentifiers,
		"rules.allow_patterns":    def.Rules.AllowPatterns,

		"schedule.interval":      def.Schedule.Interval,
		"schedule.initial_delay": def.Schedule.InitialDelay,
		"schedule.mode":          def.Schedule.Mode,
		"schedule.autostart":     def.Schedule.Autostart,

		"run.pace":           def.Run.Pace,
		"run.progress_every": def.Run.ProgressEvery,
		"run.concurrency":    def.Run.Concurrency,
		"run.timeout":        def.Run.Timeout,

		"output.console_format":        def.Output.ConsoleFormat,
		"output.console_filter_events": def.Output.ConsoleFilterEvents,
		"output.report":                def.Output.Report,
		"output.out":                   def.Output.Out,
		"output.out_format":            def.Output.OutFormat,
		"output.emit":                  def.Output.Emit,
		"output.no_console":            def.Output.NoConsole,

		"store.dir":      def.Store.Dir,
		"store.path":     def.Store.Path,
		"store.retain":   def.Store.Retain,
		"store.disabled": def.Store.Disabled,

		"server.addr": def.Server.Addr,

		"nats.url":            def.NATS.URL,
		"nats.subject_prefix": def.NATS.SubjectPrefix,

		"telemetry.endpoint":     def.Telemetry.Endpoint,
		"telemetry.insecure":     def.Telemetry.Insecure,
		"telemetry.service_name": def.Telemetry.ServiceName,

		"log.level":   def.Log.Level,
		"log.format":  def.Log.Format,
		"log.verbose": def.Log.Verbose,
	}
}
