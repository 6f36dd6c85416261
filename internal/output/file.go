package output

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileSink writes a structured copy of the run to a file. NDJSON output is
// flushed after every terminal event so a tailing reader sees complete runs.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	enc  structured
}

// InferFormat maps an output file extension to a structured format.
func InferFormat(path string) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return FormatJSON, nil
	case ".ndjson", ".jsonl":
		return FormatNDJSON, nil
	default:
		return "", fmt.Errorf("cannot infer output format from file extension %q", ext)
	}
}

// NewFileSink creates path (and its directory). The format is inferred from
// the extension when empty.
func NewFileSink(path string, format string) (*FileSink, error) {
	if path == "" {
		return nil, fmt.Errorf("output path required")
	}
	if format == "" {
		f, err := InferFormat(path)
		if err != nil {
			return nil, err
		}
		format = f
	}
	enc, err := newStructured(format)
	if err != nil {
		return nil, fmt.Errorf("out: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	return &FileSink{file: f, buf: bufio.NewWriter(f), enc: enc}, nil
}

func (s *FileSink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wrote, err := s.enc.write(s.buf, v)
	if err != nil || !wrote {
		return err
	}
	if e, ok := v.(Event); ok && e.Terminal() {
		return s.buf.Flush()
	}
	return nil
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.enc.finish(s.buf)
	if flushErr := s.buf.Flush(); flushErr != nil && err == nil {
		err = flushErr
	}
	if closeErr := s.file.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}
