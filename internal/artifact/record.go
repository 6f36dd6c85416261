package artifact

import "time"

// Record is an immutable snapshot of one scannable artifact: an installed
// package, a file on disk, or a downloadable release asset.
//
// Sources hand out Records by value; nothing downstream mutates them.
type Record struct {
	// ID is the artifact identifier (package name, file name, asset name).
	ID string `json:"id" yaml:"id"`

	// Location is where the artifact lives (filesystem path, install dir, URL).
	Location string `json:"location,omitempty" yaml:"location,omitempty"`

	// Size is the artifact size in bytes, 0 when unknown.
	Size int64 `json:"size,omitempty" yaml:"size,omitempty"`

	InstalledAt time.Time `json:"installed_at,omitzero" yaml:"installed_at,omitempty"`
	ModifiedAt  time.Time `json:"modified_at,omitzero" yaml:"modified_at,omitempty"`

	// System marks system-origin artifacts. They are out of scan scope.
	System bool `json:"system,omitempty" yaml:"system,omitempty"`

	// Capabilities lists declared permissions/capabilities in declaration order.
	Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
}

// HasCapability reports whether c is declared, compared as-is.
func (r Record) HasCapability(c string) bool {
	for _, have := range r.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}
