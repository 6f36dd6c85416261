package output

import (
	"errors"
	"scanwarden/internal/scan"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordSink struct {
	name     string
	log      *[]string
	writeErr error
	closeErr error
	closed   bool
}

func (s *recordSink) Write(v any) error {
	if e, ok := v.(Event); ok {
		*s.log = append(*s.log, s.name+":"+string(e.Type))
	}
	return s.writeErr
}

func (s *recordSink) Close() error {
	s.closed = true
	return s.closeErr
}

func TestManager_DeliversInRegistrationOrder(t *testing.T) {
	var log []string
	a := &recordSink{name: "a", log: &log}
	b := &recordSink{name: "b", log: &log}

	mgr := NewManager()
	require.NoError(t, mgr.AddSink(a))
	require.NoError(t, mgr.AddSink(b))
	assert.Equal(t, 2, mgr.Len())

	require.NoError(t, mgr.Write(StartedEvent("r", scan.ModeForeground, time.Now())))
	require.NoError(t, mgr.Write(TerminalEvent(&scan.Result{ID: "r", State: scan.StateCompleted})))
	require.NoError(t, mgr.Close())

	assert.Equal(t, []string{"a:scan.started", "b:scan.started", "a:scan.completed", "b:scan.completed"}, log)
	assert.True(t, a.closed)
	assert.True(t, b.closed)
	assert.Equal(t, 0, mgr.Len())
}

func TestManager_FailingSinkDoesNotBlockOthers(t *testing.T) {
	var log []string
	a := &recordSink{name: "a", log: &log, writeErr: errors.New("a broke")}
	b := &recordSink{name: "b", log: &log, writeErr: errors.New("b broke")}
	c := &recordSink{name: "c", log: &log}

	mgr := NewManager()
	for _, s := range []*recordSink{a, b, c} {
		require.NoError(t, mgr.AddSink(s))
	}

	err := mgr.Write(StartedEvent("r", scan.ModeBackground, time.Now()))
	require.Error(t, err)
	assert.ErrorContains(t, err, "a broke")
	assert.ErrorContains(t, err, "b broke")
	assert.Len(t, log, 3)
}

func TestManager_CloseJoinsErrors(t *testing.T) {
	var log []string
	mgr := NewManager()
	closeErr := errors.New("close a")
	require.NoError(t, mgr.AddSink(&recordSink{name: "a", log: &log, closeErr: closeErr}))
	other := &recordSink{name: "b", log: &log}
	require.NoError(t, mgr.AddSink(other))

	err := mgr.Close()
	require.ErrorIs(t, err, closeErr)
	assert.True(t, other.closed)
}

func TestManager_InvalidUse(t *testing.T) {
	assert.Error(t, NewManager().AddSink(nil))

	var mgr *Manager
	assert.Error(t, mgr.Write("v"))
	assert.Error(t, mgr.Close())
	assert.Equal(t, 0, mgr.Len())
}
