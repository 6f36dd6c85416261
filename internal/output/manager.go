package output

import (
	"errors"
	"fmt"
	"sync"
)

// Sink is a destination for scan events. Write receives Event values; sinks
// ignore anything they do not understand.
type Sink interface {
	Write(v any) error
	Close() error
}

// Manager fans events out to every registered sink in registration order.
// A failing sink never stops delivery to the others; all failures are joined
// into the returned error. It is safe for concurrent use.
type Manager struct {
	mu    sync.Mutex
	sinks []Sink
}

var _ Sink = (*Manager)(nil)

func NewManager() *Manager {
	return &Manager{}
}

func (m *Manager) AddSink(s Sink) error {
	if m == nil {
		return errors.New("output manager is nil")
	}
	if s == nil {
		return errors.New("sink must not be nil")
	}
	m.mu.Lock()
	m.sinks = append(m.sinks, s)
	m.mu.Unlock()
	return nil
}

func (m *Manager) Len() int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sinks)
}

func (m *Manager) Write(v any) error {
	return m.each("write", func(s Sink) error { return s.Write(v) })
}

// Close closes every sink and empties the manager.
func (m *Manager) Close() error {
	err := m.each("close", Sink.Close)
	if m != nil {
		m.mu.Lock()
		m.sinks = nil
		m.mu.Unlock()
	}
	return err
}

func (m *Manager) each(op string, fn func(Sink) error) error {
	if m == nil {
		return errors.New("output manager is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, s := range m.sinks {
		if err := fn(s); err != nil {
			errs = append(errs, fmt.Errorf("%s %T: %w", op, s, err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s sinks: %w", op, errors.Join(errs...))
}
