// Package inventory reads an installed-software inventory file and serves its
// packages as artifacts. The file is YAML or JSON:
//
//	packages:
//	  - package: com.example.notes
//	    path: /data/app/com.example.notes/base.apk
//	    size: 1048576
//	    installed_at: 1714557600000   # epoch millis or RFC 3339
//	    permissions: [android.permission.CAMERA]
//	  - package: com.android.settings
//	    system: true
//
// A bare list of packages is accepted as well.
package inventory

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"scanwarden/internal/artifact"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Entry is one installed package.
type Entry struct {
	Package     string    `yaml:"package"`
	Path        string    `yaml:"path"`
	Size        int64     `yaml:"size"`
	InstalledAt Timestamp `yaml:"installed_at"`
	UpdatedAt   Timestamp `yaml:"updated_at"`
	System      bool      `yaml:"system"`
	Permissions []string  `yaml:"permissions"`
}

type File struct {
	Packages []Entry `yaml:"packages"`
}

// Timestamp accepts epoch milliseconds or an RFC 3339 / YYYY-MM-DD string.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: timestamp must be a scalar", n.Line)
	}
	v := strings.TrimSpace(n.Value)
	if v == "" || v == "null" {
		return nil
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		t.Time = time.UnixMilli(ms).UTC()
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if parsed, err := time.Parse(layout, v); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("line %d: invalid timestamp %q", n.Line, v)
}

func (e Entry) Record() artifact.Record {
	return artifact.Record{
		ID:           e.Package,
		Location:     e.Path,
		Size:         e.Size,
		InstalledAt:  e.InstalledAt.Time,
		ModifiedAt:   e.UpdatedAt.Time,
		System:       e.System,
		Capabilities: e.Permissions,
	}
}

// Parse decodes an inventory document into records, in file order.
func Parse(data []byte) ([]artifact.Record, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse inventory: %w", err)
	}
	if len(root.Content) == 0 {
		return []artifact.Record{}, nil
	}

	var entries []Entry
	doc := root.Content[0]
	switch doc.Kind {
	case yaml.SequenceNode:
		if err := doc.Decode(&entries); err != nil {
			return nil, fmt.Errorf("parse inventory: %w", err)
		}
	case yaml.MappingNode:
		var f File
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("parse inventory: %w", err)
		}
		entries = f.Packages
	default:
		return nil, errors.New("parse inventory: expected a mapping with packages or a list")
	}

	records := make([]artifact.Record, 0, len(entries))
	for i, e := range entries {
		e.Package = strings.TrimSpace(e.Package)
		if e.Package == "" {
			return nil, fmt.Errorf("inventory entry #%d: package is required", i+1)
		}
		records = append(records, e.Record())
	}
	return records, nil
}

// Open reads path and returns a source over its packages. The file is read
// once per call, so every run sees the current inventory.
func Open(path string) (*artifact.SliceSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}
	records, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return artifact.NewSliceSource(records), nil
}
