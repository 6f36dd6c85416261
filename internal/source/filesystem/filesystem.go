// Package filesystem enumerates files under one or more directory roots as
// scannable artifacts.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"scanwarden/internal/artifact"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const sourceName = "filesystem"

// CapabilityExecutable is declared by files with any execute bit set.
const CapabilityExecutable = "executable"

type Options struct {
	Roots []string

	// SystemPaths mark everything below them as system-origin.
	SystemPaths []string

	// IncludeHidden scans dot-files and dot-directories instead of marking
	// them system-origin.
	IncludeHidden bool

	// MaxSize skips regular files larger than this many bytes. 0 means no limit.
	MaxSize int64
}

type pending struct {
	path   string
	system bool
}

// Source walks its roots depth-first, one directory listing at a time, so a
// run that is cancelled early never lists the rest of the tree. Entries are
// visited in lexical order. Symlinks are not followed.
type Source struct {
	opts        Options
	systemPaths []string
	stack       []pending
	logger      zerolog.Logger
}

var _ artifact.Source = (*Source)(nil)

func New(opts Options) (*Source, error) {
	if len(opts.Roots) == 0 {
		return nil, errors.New("filesystem source: at least one root is required")
	}
	if opts.MaxSize < 0 {
		return nil, fmt.Errorf("filesystem source: max size must be >= 0, got %d", opts.MaxSize)
	}

	s := &Source{
		opts:   opts,
		logger: log.With().Str("component", "source").Str("source", sourceName).Logger(),
	}
	for _, p := range opts.SystemPaths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("filesystem source: system path %s: %w", p, err)
		}
		s.systemPaths = append(s.systemPaths, filepath.Clean(abs))
	}

	roots := make([]pending, 0, len(opts.Roots))
	for _, root := range opts.Roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("filesystem source: root %s: %w", root, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("filesystem source: root %s: %w", root, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("filesystem source: root %s is not a directory", root)
		}
		roots = append(roots, pending{path: abs, system: s.underSystemPath(abs)})
	}
	// The stack pops from the end.
	slices.Reverse(roots)
	s.stack = roots
	return s, nil
}

func (s *Source) Next(ctx context.Context) (artifact.Record, bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return artifact.Record{}, false, err
		}
		if len(s.stack) == 0 {
			return artifact.Record{}, false, nil
		}

		top := s.stack[len(s.stack)-1]
		s.stack = s.stack[:len(s.stack)-1]

		info, err := os.Lstat(top.path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				// Removed since its parent was listed.
				continue
			}
			return artifact.Record{}, false, artifact.NewFetchError(sourceName, err)
		}

		switch {
		case info.IsDir():
			if err := s.push(top); err != nil {
				return artifact.Record{}, false, err
			}
		case info.Mode().IsRegular():
			if s.opts.MaxSize > 0 && info.Size() > s.opts.MaxSize {
				s.logger.Debug().Str("path", top.path).Int64("size", info.Size()).Msg("skipping oversized file")
				continue
			}
			return s.record(top, info), true, nil
		}
	}
}

func (s *Source) push(dir pending) error {
	entries, err := os.ReadDir(dir.path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			s.logger.Warn().Err(err).Str("path", dir.path).Msg("skipping unreadable directory")
			return nil
		}
		return artifact.NewFetchError(sourceName, err)
	}
	// ReadDir sorts by name; push in reverse so the first entry pops first.
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Type()&fs.ModeSymlink != 0 {
			continue
		}
		p := filepath.Join(dir.path, e.Name())
		system := dir.system || s.underSystemPath(p) || (!s.opts.IncludeHidden && strings.HasPrefix(e.Name(), "."))
		s.stack = append(s.stack, pending{path: p, system: system})
	}
	return nil
}

func (s *Source) record(p pending, info fs.FileInfo) artifact.Record {
	rec := artifact.Record{
		ID:         info.Name(),
		Location:   p.path,
		Size:       info.Size(),
		ModifiedAt: info.ModTime(),
		System:     p.system,
	}
	if info.Mode().Perm()&0o111 != 0 {
		rec.Capabilities = []string{CapabilityExecutable}
	}
	return rec
}

func (s *Source) underSystemPath(p string) bool {
	for _, sp := range s.systemPaths {
		if p == sp || strings.HasPrefix(p, sp+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
