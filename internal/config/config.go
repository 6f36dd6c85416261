package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	// MAINTAINER NOTE: If you add/change/remove config fields, keep these in sync:
	// - defaultsMap in internal/config/load.go
	// - flag names in internal/flags and their CLI wiring in internal/cli
	Source    Source    `koanf:"source"`
	Rules     Rules     `koanf:"rules"`
	Schedule  Schedule  `koanf:"schedule"`
	Run       Run       `koanf:"run"`
	Output    Output    `koanf:"output"`
	Store     Store     `koanf:"store"`
	Server    Server    `koanf:"server"`
	NATS      NATS      `koanf:"nats"`
	Telemetry Telemetry `koanf:"telemetry"`
	Log       Log       `koanf:"log"`
}

type Source struct {
	// Kind selects the artifact source (see --source).
	// Allowed values: filesystem, inventory, releases.
	Kind string `koanf:"kind"`

	// Paths are the directory roots walked by the filesystem source (see --path).
	Paths []string `koanf:"paths"`

	// SystemPaths mark artifacts under these roots as system-origin (see --system-path).
	SystemPaths []string `koanf:"system_paths"`

	// IncludeHidden treats dot-files as regular artifacts instead of system ones.
	IncludeHidden bool `koanf:"include_hidden"`

	// MaxFileSize skips files larger than this many bytes (see --max-file-size). 0 means no limit.
	MaxFileSize int64 `koanf:"max_file_size"`

	// Inventory is the YAML/JSON installed-software inventory file (see --inventory).
	Inventory string `koanf:"inventory"`

	// Repo is the OWNER/REPO whose release assets are scanned (see --repo).
	Repo string `koanf:"repo"`

	// MaxRequests caps GitHub API requests per run. 0 means unlimited.
	MaxRequests int `koanf:"max_requests"`

	// IncludePrereleases also scans assets of prerelease GitHub releases.
	IncludePrereleases bool `koanf:"include_prereleases"`

	// Include and Exclude narrow the scan by identifier glob (path.Match, case-insensitive).
	Include []string `koanf:"include"`
	Exclude []string `koanf:"exclude"`
}

type Rules struct {
	// File is a YAML rules file. Empty uses the builtin rule set.
	File string `koanf:"file"`

	// Signature is the detached armored signature for File. Defaults to File + ".asc"
	// when Keyring is set.
	Signature string `koanf:"signature"`

	// Keyring is an armored OpenPGP public keyring. When set, File must be signed.
	Keyring string `koanf:"keyring"`

	// Watch reloads File on change (serve only).
	Watch bool `koanf:"watch"`

	// AllowIdentifiers and AllowPatterns extend the builtin rule set's allow-list.
	AllowIdentifiers []string `koanf:"allow_identifiers"`
	AllowPatterns    []string `koanf:"allow_patterns"`
}

type Schedule struct {
	Interval     time.Duration `koanf:"interval"`
	InitialDelay time.Duration `koanf:"initial_delay"`

	// Mode is foreground or background.
	Mode string `koanf:"mode"`

	// Autostart arms the scheduler as soon as serve starts.
	Autostart bool `koanf:"autostart"`
}

type Run struct {
	// Pace is the pause after each scanned artifact.
	Pace time.Duration `koanf:"pace"`

	// ProgressEvery emits scan.progress every N scanned artifacts. 0 disables it.
	ProgressEvery int `koanf:"progress_every"`

	// Concurrency > 1 evaluates artifacts in parallel batches.
	Concurrency int `koanf:"concurrency"`

	// Timeout bounds a one-shot scan. 0 means no timeout.
	Timeout time.Duration `koanf:"timeout"`
}

type Output struct {
	// ConsoleFormat controls the human-facing console sink format (see --console-format).
	// Allowed values: text, json, ndjson.
	ConsoleFormat string `koanf:"console_format"`

	// ConsoleFilterEvents limits console output to these event types.
	ConsoleFilterEvents []string `koanf:"console_filter_events"`

	// Report writes a Markdown report to this path (see --report).
	Report string `koanf:"report"`

	// Out writes structured output to this path (see --out).
	Out string `koanf:"out"`

	// OutFormat selects the format for Out. Inferred from the extension when empty.
	OutFormat string `koanf:"out_format"`

	// Emit writes additional structured streams to stdout (see --emit).
	Emit []string `koanf:"emit"`

	// NoConsole suppresses the console sink (see --no-console).
	NoConsole bool `koanf:"no_console"`
}

type Store struct {
	// Dir is the state directory. It holds the history database and the
	// daemon lock file.
	Dir string `koanf:"dir"`

	// Path is the history database. Defaults to Dir/history.db.
	Path string `koanf:"path"`

	// Retain caps stored runs. 0 keeps everything.
	Retain int `koanf:"retain"`

	Disabled bool `koanf:"disabled"`
}

type Server struct {
	Addr string `koanf:"addr"`
}

type NATS struct {
	// URL enables the NATS event sink when set.
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

type Telemetry struct {
	// Endpoint enables OTLP gRPC export when set.
	Endpoint    string `koanf:"endpoint"`
	Insecure    bool   `koanf:"insecure"`
	ServiceName string `koanf:"service_name"`
}

type Log struct {
	Level   string `koanf:"level"`
	Format  string `koanf:"format"`
	Verbose bool   `koanf:"verbose"`
}

const (
	SourceFilesystem = "filesystem"
	SourceInventory  = "inventory"
	SourceReleases   = "releases"
)

func New() *Config {
	return &Config{
		Source: Source{
			Kind: SourceFilesystem,
		},
		Schedule: Schedule{
			Interval:     30 * time.Minute,
			InitialDelay: time.Second,
			Mode:         "foreground",
		},
		Run: Run{
			Pace:          50 * time.Millisecond,
			ProgressEvery: 25,
			Concurrency:   1,
		},
		Output: Output{
			ConsoleFormat: "text",
		},
		Store: Store{
			Dir: DefaultStateDir(),
		},
		Server: Server{
			Addr: "127.0.0.1:8765",
		},
		NATS: NATS{
			SubjectPrefix: "scanwarden",
		},
		Telemetry: Telemetry{
			ServiceName: "scanwarden",
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultStateDir is $HOME/.scanwarden, or ./.scanwarden when there is no home.
func DefaultStateDir() string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".scanwarden")
	}
	return ".scanwarden"
}

func (c *Config) Validate() error {
	// Normalize comma-delimited list inputs.
	c.Source.Paths = splitCommaList(c.Source.Paths)
	c.Source.SystemPaths = splitCommaList(c.Source.SystemPaths)
	c.Source.Include = splitCommaList(c.Source.Include)
	c.Source.Exclude = splitCommaList(c.Source.Exclude)
	c.Rules.AllowIdentifiers = splitCommaList(c.Rules.AllowIdentifiers)
	c.Rules.AllowPatterns = splitCommaList(c.Rules.AllowPatterns)
	c.Output.ConsoleFilterEvents = splitCommaList(c.Output.ConsoleFilterEvents)
	c.Output.Emit = splitCommaList(c.Output.Emit)

	// Source validation
	c.Source.Kind = normalizeEnumValue(c.Source.Kind)
	switch c.Source.Kind {
	case SourceFilesystem:
		if len(c.Source.Paths) == 0 {
			return errors.New("--path is required for the filesystem source")
		}
	case SourceInventory:
		if strings.TrimSpace(c.Source.Inventory) == "" {
			return errors.New("--inventory is required for the inventory source")
		}
	case SourceReleases:
		repo, err := normalizeRepoSelector(c.Source.Repo)
		if err != nil {
			return fmt.Errorf("invalid --repo value: %w", err)
		}
		c.Source.Repo = repo
	case "":
		return errors.New("--source must be one of: filesystem, inventory, releases")
	default:
		return fmt.Errorf("unsupported --source: %s (must be one of: filesystem, inventory, releases)", c.Source.Kind)
	}
	if c.Source.MaxRequests < 0 {
		return errors.New("--max-requests must be >= 0")
	}
	if c.Source.MaxFileSize < 0 {
		return errors.New("--max-file-size must be >= 0")
	}
	for _, p := range append(append([]string{}, c.Source.Include...), c.Source.Exclude...) {
		if _, err := path.Match(strings.ToLower(p), ""); err != nil {
			return fmt.Errorf("invalid include/exclude pattern %q: %w", p, err)
		}
	}

	// Rules validation
	if c.Rules.Keyring != "" && c.Rules.File == "" {
		return errors.New("--rules-keyring requires --rules-file")
	}
	if c.Rules.Signature != "" && c.Rules.Keyring == "" {
		return errors.New("--rules-signature requires --rules-keyring")
	}
	if c.Rules.Watch && c.Rules.File == "" {
		return errors.New("--rules-watch requires --rules-file")
	}

	// Schedule validation
	if c.Schedule.Interval <= 0 {
		return errors.New("--interval must be > 0")
	}
	if c.Schedule.InitialDelay < 0 {
		return errors.New("--initial-delay must be >= 0")
	}
	c.Schedule.Mode = normalizeEnumValue(c.Schedule.Mode)
	if c.Schedule.Mode == "" {
		c.Schedule.Mode = "foreground"
	}
	if c.Schedule.Mode != "foreground" && c.Schedule.Mode != "background" {
		return fmt.Errorf("unsupported --mode: %s (must be one of: foreground, background)", c.Schedule.Mode)
	}

	// Run validation
	if c.Run.Pace < 0 {
		return errors.New("--pace must be >= 0")
	}
	if c.Run.ProgressEvery < 0 {
		return errors.New("--progress-every must be >= 0")
	}
	if c.Run.Concurrency <= 0 {
		return errors.New("--concurrency must be >= 1")
	}
	if c.Run.Timeout < 0 {
		return errors.New("--timeout must be >= 0")
	}

	// Output validation
	c.Output.ConsoleFormat = normalizeEnumValue(c.Output.ConsoleFormat)
	if c.Output.ConsoleFormat == "" {
		return errors.New("--console-format must be one of: text, json, ndjson")
	}
	if c.Output.ConsoleFormat != "text" && c.Output.ConsoleFormat != "json" && c.Output.ConsoleFormat != "ndjson" {
		return fmt.Errorf("unsupported --console-format: %s (must be one of: text, json, ndjson)", c.Output.ConsoleFormat)
	}
	for i, ev := range c.Output.ConsoleFilterEvents {
		ev = normalizeEnumValue(ev)
		if !knownEventTypes[ev] {
			return fmt.Errorf("unsupported --console-filter-events value: %s", ev)
		}
		c.Output.ConsoleFilterEvents[i] = ev
	}

	for i, emit := range c.Output.Emit {
		v := normalizeEnumValue(emit)
		if v != "json" && v != "ndjson" {
			return fmt.Errorf("unsupported --emit value: %s (must be one of: json, ndjson)", v)
		}
		c.Output.Emit[i] = v
	}

	if c.Output.Out != "" {
		c.Output.OutFormat = normalizeEnumValue(c.Output.OutFormat)
		if c.Output.OutFormat == "" {
			ext := strings.ToLower(filepath.Ext(c.Output.Out))
			switch ext {
			case ".json":
				c.Output.OutFormat = "json"
			case ".ndjson", ".jsonl":
				c.Output.OutFormat = "ndjson"
			default:
				if ext == "" {
					return errors.New("cannot infer output format from file extension (missing extension); use --out-format")
				}
				return fmt.Errorf("cannot infer output format from file extension %q; use --out-format", ext)
			}
		} else if c.Output.OutFormat != "json" && c.Output.OutFormat != "ndjson" {
			return fmt.Errorf("unsupported output format: %s", c.Output.OutFormat)
		}
	}

	// Store validation
	c.ResolveStore()
	if c.Store.Retain < 0 {
		return errors.New("--store-retain must be >= 0")
	}

	// Server / NATS / log validation
	if strings.TrimSpace(c.Server.Addr) == "" {
		return errors.New("--addr must not be empty")
	}
	if c.NATS.URL != "" && strings.Trim(strings.TrimSpace(c.NATS.SubjectPrefix), ".") == "" {
		return errors.New("--nats-subject-prefix must not be empty when --nats-url is set")
	}
	c.Log.Level = normalizeEnumValue(c.Log.Level)
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported --log-level: %s (must be one of: debug, info, warn, error)", c.Log.Level)
	}
	c.Log.Format = normalizeEnumValue(c.Log.Format)
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unsupported --log-format: %s (must be one of: text, json)", c.Log.Format)
	}

	return nil
}

// ResolveStore fills in the state directory and history path defaults.
// Commands that only read history call it instead of Validate.
func (c *Config) ResolveStore() {
	if strings.TrimSpace(c.Store.Dir) == "" {
		c.Store.Dir = DefaultStateDir()
	}
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.Store.Dir, "history.db")
	}
}

// LockPath is the daemon lock file inside the state directory.
func (c *Config) LockPath() string {
	return filepath.Join(c.Store.Dir, "scanwarden.lock")
}

var knownEventTypes = map[string]bool{
	"scan.started":     true,
	"scan.progress":    true,
	"threats.detected": true,
	"scan.completed":   true,
	"scan.failed":      true,
}

func normalizeEnumValue(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// normalizeRepoSelector accepts OWNER/REPO or a github.com URL.
func normalizeRepoSelector(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("required for the releases source (OWNER/REPO)")
	}
	for _, prefix := range []string{"https://", "http://"} {
		raw = strings.TrimPrefix(raw, prefix)
	}
	raw = strings.TrimPrefix(raw, "www.")
	raw = strings.TrimPrefix(raw, "github.com/")
	raw = strings.TrimSuffix(strings.Trim(raw, "/"), ".git")

	owner, repo, ok := strings.Cut(raw, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", fmt.Errorf("%q (expected OWNER/REPO)", raw)
	}
	return owner + "/" + repo, nil
}

func splitCommaList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			p := strings.TrimSpace(part)
			if p == "" {
				continue
			}
			out = append(out, p)
		}
	}
	return out
}
