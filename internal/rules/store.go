package rules

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const defaultDebounce = 100 * time.Millisecond

// Store holds the active RuleSet and swaps it atomically on reload.
// Readers that call Current once keep a consistent set for as long as they
// hold it.
type Store struct {
	loader   Loader
	current  atomic.Pointer[RuleSet]
	group    singleflight.Group
	logger   zerolog.Logger
	debounce time.Duration
}

// NewStore loads the initial set. A load failure here is fatal to the caller.
func NewStore(loader Loader, logger zerolog.Logger) (*Store, error) {
	rs, err := loader.Load()
	if err != nil {
		return nil, err
	}
	s := &Store{
		loader:   loader,
		logger:   logger.With().Str("component", "rules").Logger(),
		debounce: defaultDebounce,
	}
	s.current.Store(rs)
	return s, nil
}

// NewStaticStore wraps a fixed set. Reload returns it unchanged.
func NewStaticStore(rs *RuleSet) *Store {
	s := &Store{logger: zerolog.Nop(), debounce: defaultDebounce}
	s.current.Store(rs)
	return s
}

func (s *Store) Current() *RuleSet {
	return s.current.Load()
}

func (s *Store) Path() string {
	return s.loader.Path
}

// Reload re-reads the rules file. Concurrent calls share one load. On error
// the previous set stays active.
func (s *Store) Reload() (*RuleSet, error) {
	if s.loader.Path == "" && s.loader.Verifier == nil && s.loader.Allow.Empty() {
		return s.Current(), nil
	}
	v, err, _ := s.group.Do("reload", func() (any, error) {
		rs, err := s.loader.Load()
		if err != nil {
			return nil, err
		}
		s.current.Store(rs)
		return rs, nil
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("path", s.loader.Path).Msg("rules reload failed; keeping previous set")
		return s.Current(), err
	}
	rs := v.(*RuleSet)
	s.logger.Info().Str("origin", rs.Origin()).Int("rules", rs.Len()).Msg("rules reloaded")
	return rs, nil
}

// Watch reloads the rules file whenever it changes until ctx is done.
// The parent directory is watched so that atomic replace-by-rename is seen.
func (s *Store) Watch(ctx context.Context) error {
	if s.loader.Path == "" {
		<-ctx.Done()
		return ctx.Err()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create rules watcher: %w", err)
	}
	defer w.Close()

	target := filepath.Clean(s.loader.Path)
	sig := s.loader.SignaturePath
	if sig == "" {
		sig = target + ".asc"
	}
	sig = filepath.Clean(sig)
	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			name := filepath.Clean(ev.Name)
			if name != target && name != sig {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(s.debounce)
			} else {
				timer.Reset(s.debounce)
			}
			fire = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn().Err(err).Msg("rules watcher error")
		case <-fire:
			fire = nil
			_, _ = s.Reload()
		}
	}
}
