package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"scanwarden/internal/engine"
	"scanwarden/internal/rules"
	"scanwarden/internal/scan"
	"scanwarden/internal/store"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScheduler struct {
	mu      sync.Mutex
	state   engine.State
	mode    scan.Mode
	started []scan.Mode
	stops   int
}

func (f *fakeScheduler) Start(mode scan.Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == engine.StateStopped {
		return engine.ErrStopped
	}
	if mode != scan.ModeForeground && mode != scan.ModeBackground {
		return assert.AnError
	}
	f.started = append(f.started, mode)
	f.mode = mode
	if f.state == engine.StateIdle {
		f.state = engine.StateScheduled
	}
	return nil
}

func (f *fakeScheduler) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.state = engine.StateStopped
}

func (f *fakeScheduler) TriggerImmediate() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == engine.StateRunActive || f.state == engine.StateStopped {
		return false
	}
	f.state = engine.StateRunActive
	return true
}

func (f *fakeScheduler) Status() engine.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return engine.Status{State: f.state, Mode: f.mode, Interval: time.Minute}
}

func newTestRouter(t *testing.T, sched *fakeScheduler, withHistory bool) (*gin.Engine, *store.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	deps := Deps{
		Scheduler: sched,
		Rules:     rules.NewStaticStore(rules.Default()),
		Version:   "test",
	}
	var st *store.Store
	if withHistory {
		var err error
		st, err = store.Open(filepath.Join(t.TempDir(), "history.db"), store.Options{})
		require.NoError(t, err)
		t.Cleanup(func() { _ = st.Shutdown() })
		deps.History = st
	}
	return NewRouter(deps), st
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	r, _ := newTestRouter(t, &fakeScheduler{}, false)
	w := do(t, r, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestStatus(t *testing.T) {
	r, st := newTestRouter(t, &fakeScheduler{}, true)
	require.NoError(t, st.Save(&scan.Result{ID: "run-1", State: scan.StateCompleted, StartedAt: time.Now()}))

	w := do(t, r, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[StatusResponse](t, w)
	assert.Equal(t, "test", resp.Version)
	assert.Equal(t, "idle", resp.Scheduler.State)
	assert.Equal(t, "1m0s", resp.Scheduler.Interval)
	require.NotNil(t, resp.Rules)
	assert.Equal(t, "builtin", resp.Rules.Origin)
	assert.Equal(t, rules.Default().Len(), resp.Rules.Count)
	require.NotNil(t, resp.History)
	assert.Equal(t, 1, resp.History.Runs)
}

func TestSchedulerStartStop(t *testing.T) {
	sched := &fakeScheduler{}
	r, _ := newTestRouter(t, sched, false)

	w := do(t, r, http.MethodPost, "/api/v1/scheduler/start", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "scheduled", decode[SchedulerStatus](t, w).State)

	w = do(t, r, http.MethodPost, "/api/v1/scheduler/start", map[string]string{"mode": "background"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []scan.Mode{scan.ModeForeground, scan.ModeBackground}, sched.started)

	w = do(t, r, http.MethodPost, "/api/v1/scheduler/start", map[string]string{"mode": "sideways"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_MODE", decode[ErrorResponse](t, w).Code)

	w = do(t, r, http.MethodPost, "/api/v1/scheduler/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "stopped", decode[SchedulerStatus](t, w).State)

	w = do(t, r, http.MethodPost, "/api/v1/scheduler/start", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "SCHEDULER_STOPPED", decode[ErrorResponse](t, w).Code)
}

func TestTriggerScan(t *testing.T) {
	sched := &fakeScheduler{}
	r, _ := newTestRouter(t, sched, false)

	w := do(t, r, http.MethodPost, "/api/v1/scans", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = do(t, r, http.MethodPost, "/api/v1/scans", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "RUN_ACTIVE", decode[ErrorResponse](t, w).Code)

	sched.Stop()
	w = do(t, r, http.MethodPost, "/api/v1/scans", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "SCHEDULER_STOPPED", decode[ErrorResponse](t, w).Code)
}

func TestListAndGetScans(t *testing.T) {
	r, st := newTestRouter(t, &fakeScheduler{}, true)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, st.Save(&scan.Result{
			ID:        id,
			State:     scan.StateCompleted,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			EndedAt:   base.Add(time.Duration(i)*time.Minute + time.Second),
		}))
	}

	w := do(t, r, http.MethodGet, "/api/v1/scans?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Scans []scan.Summary `json:"scans"`
		Count int            `json:"count"`
	}](t, w)
	require.Len(t, list.Scans, 2)
	assert.Equal(t, "c", list.Scans[0].ID)
	assert.Equal(t, "b", list.Scans[1].ID)

	w = do(t, r, http.MethodGet, "/api/v1/scans?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodGet, "/api/v1/scans/a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "a", decode[scan.Result](t, w).ID)

	w = do(t, r, http.MethodGet, "/api/v1/scans/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "SCAN_NOT_FOUND", decode[ErrorResponse](t, w).Code)
}

func TestScansWithoutHistory(t *testing.T) {
	r, _ := newTestRouter(t, &fakeScheduler{}, false)
	w := do(t, r, http.MethodGet, "/api/v1/scans", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "HISTORY_DISABLED", decode[ErrorResponse](t, w).Code)
}

func TestListRules(t *testing.T) {
	r, _ := newTestRouter(t, &fakeScheduler{}, false)
	w := do(t, r, http.MethodGet, "/api/v1/rules", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode[struct {
		Origin string `json:"origin"`
		Rules  []struct {
			ID       string `json:"id"`
			Kind     string `json:"kind"`
			Severity string `json:"severity"`
		} `json:"rules"`
	}](t, w)
	assert.Equal(t, "builtin", body.Origin)
	require.NotEmpty(t, body.Rules)
	assert.Equal(t, "hack", body.Rules[0].ID)
	assert.Equal(t, "medium", body.Rules[0].Severity)
}

func TestEvaluate(t *testing.T) {
	r, _ := newTestRouter(t, &fakeScheduler{}, false)

	w := do(t, r, http.MethodPost, "/api/v1/evaluate", map[string]any{"id": "com.example.HackTool"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[struct {
		Verdict rules.Verdict `json:"verdict"`
	}](t, w)
	assert.True(t, got.Verdict.Suspicious())
	assert.Equal(t, "hack", got.Verdict.RuleID)

	w = do(t, r, http.MethodPost, "/api/v1/evaluate", map[string]any{"id": "com.example.notes"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, rules.StatusClean, decode[struct {
		Verdict rules.Verdict `json:"verdict"`
	}](t, w).Verdict.Status)

	w = do(t, r, http.MethodPost, "/api/v1/evaluate", map[string]any{"location": "/tmp/x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUnknownRoute(t *testing.T) {
	r, _ := newTestRouter(t, &fakeScheduler{}, false)
	w := do(t, r, http.MethodGet, "/api/v2/nothing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "ROUTE_NOT_FOUND", decode[ErrorResponse](t, w).Code)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := New(ln.Addr().String(), Deps{Scheduler: &fakeScheduler{}})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
