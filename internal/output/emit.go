package output

import (
	"fmt"
	"io"
	"sync"
)

// EmitSink writes an additional structured stream, usually to stdout next to
// the console sink.
type EmitSink struct {
	mu     sync.Mutex
	writer io.Writer
	enc    structured
}

func NewEmitSink(w io.Writer, format string) (*EmitSink, error) {
	if w == nil {
		return nil, fmt.Errorf("emit sink writer must not be nil")
	}
	enc, err := newStructured(format)
	if err != nil {
		return nil, fmt.Errorf("emit: %w", err)
	}
	return &EmitSink{writer: w, enc: enc}, nil
}

func (s *EmitSink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wrote, err := s.enc.write(s.writer, v)
	if err != nil || !wrote {
		return err
	}
	return flush(s.writer)
}

func (s *EmitSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.finish(s.writer)
}
