package server

import (
	"errors"
	"fmt"
	"net/http"
	"scanwarden/internal/artifact"
	"scanwarden/internal/engine"
	"scanwarden/internal/rules"
	"scanwarden/internal/scan"
	"scanwarden/internal/store"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	defaultListLimit = 20
	maxListLimit     = 500
)

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:   http.StatusText(status),
		Code:    code,
		Message: message,
	})
}

type handler struct {
	deps Deps
}

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	Version   string          `json:"version,omitempty"`
	Scheduler SchedulerStatus `json:"scheduler"`
	Rules     *RulesSummary   `json:"rules,omitempty"`
	History   *HistorySummary `json:"history,omitempty"`
}

type SchedulerStatus struct {
	State        string        `json:"state"`
	Mode         scan.Mode     `json:"mode,omitempty"`
	Interval     string        `json:"interval"`
	InitialDelay string        `json:"initial_delay"`
	NextRun      *time.Time    `json:"next_run,omitempty"`
	LastRun      *scan.Summary `json:"last_run,omitempty"`
	Runs         int           `json:"runs"`
}

type RulesSummary struct {
	Origin   string    `json:"origin"`
	Count    int       `json:"count"`
	LoadedAt time.Time `json:"loaded_at,omitzero"`
}

type HistorySummary struct {
	Runs int `json:"runs"`
}

func schedulerStatus(st engine.Status) SchedulerStatus {
	return SchedulerStatus{
		State:        st.State.String(),
		Mode:         st.Mode,
		Interval:     st.Interval.String(),
		InitialDelay: st.InitialDelay.String(),
		NextRun:      st.NextRun,
		LastRun:      st.LastRun,
		Runs:         st.Runs,
	}
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handler) status(c *gin.Context) {
	resp := StatusResponse{
		Version:   h.deps.Version,
		Scheduler: schedulerStatus(h.deps.Scheduler.Status()),
	}
	if rs := h.ruleSet(); rs != nil {
		resp.Rules = &RulesSummary{Origin: rs.Origin(), Count: rs.Len(), LoadedAt: rs.LoadedAt()}
	}
	if h.deps.History != nil {
		n, err := h.deps.History.Count()
		if err != nil {
			writeError(c, http.StatusInternalServerError, "HISTORY_UNAVAILABLE", err.Error())
			return
		}
		resp.History = &HistorySummary{Runs: n}
	}
	c.JSON(http.StatusOK, resp)
}

type startRequest struct {
	Mode scan.Mode `json:"mode"`
}

func (h *handler) startScheduler(c *gin.Context) {
	req := startRequest{Mode: scan.ModeForeground}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_INPUT", err.Error())
			return
		}
		if req.Mode == "" {
			req.Mode = scan.ModeForeground
		}
	}

	if err := h.deps.Scheduler.Start(req.Mode); err != nil {
		if errors.Is(err, engine.ErrStopped) {
			writeError(c, http.StatusConflict, "SCHEDULER_STOPPED", err.Error())
			return
		}
		writeError(c, http.StatusBadRequest, "INVALID_MODE", err.Error())
		return
	}
	c.JSON(http.StatusOK, schedulerStatus(h.deps.Scheduler.Status()))
}

func (h *handler) stopScheduler(c *gin.Context) {
	h.deps.Scheduler.Stop()
	c.JSON(http.StatusOK, schedulerStatus(h.deps.Scheduler.Status()))
}

func (h *handler) triggerScan(c *gin.Context) {
	if h.deps.Scheduler.TriggerImmediate() {
		c.JSON(http.StatusAccepted, gin.H{"started": true})
		return
	}
	if h.deps.Scheduler.Status().State == engine.StateStopped {
		writeError(c, http.StatusConflict, "SCHEDULER_STOPPED", engine.ErrStopped.Error())
		return
	}
	writeError(c, http.StatusConflict, "RUN_ACTIVE", "a scan run is already active")
}

func (h *handler) listScans(c *gin.Context) {
	if h.deps.History == nil {
		writeError(c, http.StatusServiceUnavailable, "HISTORY_DISABLED", "run history is disabled")
		return
	}
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}
	results, err := h.deps.History.Recent(limit)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "HISTORY_UNAVAILABLE", err.Error())
		return
	}
	scans := make([]scan.Summary, 0, len(results))
	for _, res := range results {
		scans = append(scans, res.Summary())
	}
	c.JSON(http.StatusOK, gin.H{"scans": scans, "count": len(scans)})
}

func parseLimit(raw string) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer, got %q", raw)
	}
	return min(n, maxListLimit), nil
}

func (h *handler) getScan(c *gin.Context) {
	if h.deps.History == nil {
		writeError(c, http.StatusServiceUnavailable, "HISTORY_DISABLED", "run history is disabled")
		return
	}
	id := c.Param("id")
	res, err := h.deps.History.Get(id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(c, http.StatusNotFound, "SCAN_NOT_FOUND", fmt.Sprintf("scan run %q not found", id))
		return
	}
	if err != nil {
		writeError(c, http.StatusInternalServerError, "HISTORY_UNAVAILABLE", err.Error())
		return
	}
	c.JSON(http.StatusOK, res)
}

type ruleView struct {
	rules.Definition
	Severity rules.Severity `json:"severity"`
}

func (h *handler) listRules(c *gin.Context) {
	rs := h.ruleSet()
	if rs == nil {
		writeError(c, http.StatusServiceUnavailable, "RULES_UNAVAILABLE", "no rule set loaded")
		return
	}
	views := make([]ruleView, 0, rs.Len())
	for _, r := range rs.Rules() {
		views = append(views, ruleView{Definition: r.Definition(), Severity: r.Severity()})
	}
	allow := rs.AllowList()
	ids := make([]string, 0, len(allow.Identifiers))
	for id := range allow.Identifiers {
		ids = append(ids, id)
	}
	c.JSON(http.StatusOK, gin.H{
		"origin":    rs.Origin(),
		"loaded_at": rs.LoadedAt(),
		"rules":     views,
		"allow": gin.H{
			"identifiers": ids,
			"patterns":    allow.Patterns,
		},
	})
}

func (h *handler) evaluate(c *gin.Context) {
	var rec artifact.Record
	if err := c.ShouldBindJSON(&rec); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}
	if strings.TrimSpace(rec.ID) == "" {
		writeError(c, http.StatusBadRequest, "INVALID_INPUT", "artifact id is required")
		return
	}
	rs := h.ruleSet()
	if rs == nil {
		writeError(c, http.StatusServiceUnavailable, "RULES_UNAVAILABLE", "no rule set loaded")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"artifact": rec,
		"verdict":  rs.Evaluate(rec),
	})
}

func (h *handler) ruleSet() *rules.RuleSet {
	if h.deps.Rules == nil {
		return nil
	}
	return h.deps.Rules.Current()
}
