// Package server exposes the scheduler control surface and run history over
// HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"scanwarden/internal/engine"
	"scanwarden/internal/rules"
	"scanwarden/internal/scan"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 10 * time.Second

// Scheduler is the part of *engine.Scheduler the API drives.
type Scheduler interface {
	Start(mode scan.Mode) error
	Stop()
	TriggerImmediate() bool
	Status() engine.Status
}

// History is the part of *store.Store the API reads. Get returns
// store.ErrNotFound for unknown IDs.
type History interface {
	Recent(limit int) ([]*scan.Result, error)
	Get(id string) (*scan.Result, error)
	Count() (int, error)
}

// RuleSource yields the active rule set.
type RuleSource interface {
	Current() *rules.RuleSet
}

// Deps wires the handlers. History may be nil when the store is disabled.
type Deps struct {
	Scheduler Scheduler
	History   History
	Rules     RuleSource
	Version   string
}

type Server struct {
	httpServer *http.Server
	logger     zerolog.Logger
}

func New(addr string, deps Deps) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(deps),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: log.With().Str("component", "server").Logger(),
	}
}

// Run serves until ctx is cancelled, then shuts the listener down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("control API listening")
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info().Msg("control API stopped")
	return nil
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(deps Deps) *gin.Engine {
	h := &handler{deps: deps}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log.With().Str("component", "server").Logger()))

	r.GET("/healthz", h.health)

	v1 := r.Group("/api/v1")
	v1.GET("/status", h.status)
	v1.POST("/scheduler/start", h.startScheduler)
	v1.POST("/scheduler/stop", h.stopScheduler)
	v1.POST("/scans", h.triggerScan)
	v1.GET("/scans", h.listScans)
	v1.GET("/scans/:id", h.getScan)
	v1.GET("/rules", h.listRules)
	v1.POST("/evaluate", h.evaluate)

	r.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, "ROUTE_NOT_FOUND", "no route for "+c.Request.Method+" "+c.Request.URL.Path)
	})
	return r
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("http request")
	}
}
