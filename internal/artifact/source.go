package artifact

import (
	"context"
	"errors"
	"fmt"
)

// Source is a lazy, finite, non-restartable sequence of artifacts.
//
// Next returns the next record and true, or a zero Record and false once the
// sequence is exhausted. A non-nil error means enumeration failed; callers
// must not call Next again after an error.
type Source interface {
	Next(ctx context.Context) (Record, bool, error)
}

// FetchError reports that a source failed to enumerate artifacts.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("artifact source: %v", e.Err)
	}
	return fmt.Sprintf("artifact source %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError wraps err as a FetchError unless it already is one.
func NewFetchError(source string, err error) error {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return err
	}
	return &FetchError{Source: source, Err: err}
}

// SliceSource serves records from an in-memory slice.
type SliceSource struct {
	records []Record
	pos     int
}

func NewSliceSource(records []Record) *SliceSource {
	return &SliceSource{records: records}
}

func (s *SliceSource) Next(ctx context.Context) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}
	if s.pos >= len(s.records) {
		return Record{}, false, nil
	}
	r := s.records[s.pos]
	s.pos++
	return r, true, nil
}

// FuncSource adapts a function to the Source interface.
type FuncSource func(ctx context.Context) (Record, bool, error)

func (f FuncSource) Next(ctx context.Context) (Record, bool, error) {
	return f(ctx)
}
