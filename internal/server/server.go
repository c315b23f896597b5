// Package server provides the HTTP API for mailcopd.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Cris-z123/mailCopilot-sub001/internal/config"
	"github.com/Cris-z123/mailCopilot-sub001/internal/extraction"
	"github.com/Cris-z123/mailCopilot-sub001/internal/modes"
	"github.com/Cris-z123/mailCopilot-sub001/internal/orchestrator"
	"github.com/Cris-z123/mailCopilot-sub001/internal/parser"
	"github.com/Cris-z123/mailCopilot-sub001/internal/store"
)

// BatchRunner is the orchestration collaborator.
type BatchRunner interface {
	ProcessBatch(ctx context.Context, req orchestrator.BatchRequest) (*orchestrator.BatchResult, error)
}

// ItemLister reads persisted items back out for a report date.
type ItemLister interface {
	ItemsByDate(ctx context.Context, reportDate string) ([]store.Item, error)
}

// Server provides the HTTP endpoints for mailcopd.
type Server struct {
	echo       *echo.Echo
	runner     BatchRunner
	items      ItemLister
	coord      *modes.Coordinator
	generators map[extraction.Mode]extraction.Generator
	gatherer   prometheus.Gatherer
	logger     *zap.Logger
	cfg        config.ServerConfig

	mu   sync.Mutex
	subs map[chan modes.Notification]struct{}
	stop chan struct{}
}

// New creates the HTTP server. gatherer may be nil to disable /metrics.
func New(
	runner BatchRunner,
	items ItemLister,
	coord *modes.Coordinator,
	generators map[extraction.Mode]extraction.Generator,
	gatherer prometheus.Gatherer,
	logger *zap.Logger,
	cfg config.ServerConfig,
) (*Server, error) {
	if runner == nil {
		return nil, fmt.Errorf("batch runner cannot be nil")
	}
	if coord == nil {
		return nil, fmt.Errorf("mode coordinator cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.ReadTimeout.Duration()
	e.Server.WriteTimeout = cfg.WriteTimeout.Duration()

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:       e,
		runner:     runner,
		items:      items,
		coord:      coord,
		generators: generators,
		gatherer:   gatherer,
		logger:     logger,
		cfg:        cfg,
		subs:       map[chan modes.Notification]struct{}{},
		stop:       make(chan struct{}),
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	if s.gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(
			promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	api := s.echo.Group("/api")
	api.POST("/batch", s.handleBatch)
	api.GET("/items", s.handleItems)
	api.GET("/mode", s.handleModeStatus)
	api.POST("/mode", s.handleModeSwitch)
	api.DELETE("/mode/pending", s.handleModeCancel)
	api.GET("/mode/events", s.handleModeEvents)
	api.POST("/backends/:mode/config", s.handleBackendConfig)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status       string          `json:"status"`
	Mode         extraction.Mode `json:"mode"`
	BackendReady bool            `json:"backendReady"`
}

func (s *Server) handleHealth(c echo.Context) error {
	mode := s.coord.Current()
	ready := false
	if gen, ok := s.generators[mode]; ok {
		ready = gen.CheckHealth(c.Request().Context())
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Mode: mode, BackendReady: ready})
}

// handleBatch runs one extraction batch. A batch already in flight is a
// conflict, not a queue entry.
func (s *Server) handleBatch(c echo.Context) error {
	var req orchestrator.BatchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Paths) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "paths field is required")
	}

	result, err := s.runner.ProcessBatch(c.Request().Context(), req)
	if err != nil {
		var uerr *parser.UnsupportedFormatError
		switch {
		case errors.Is(err, orchestrator.ErrBatchBusy):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		case errors.As(err, &uerr):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("batch rejected", zap.Error(err))
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleItems(c echo.Context) error {
	if s.items == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "item storage is disabled")
	}
	date := c.QueryParam("date")
	if date == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "date query parameter is required")
	}
	items, err := s.items.ItemsByDate(c.Request().Context(), date)
	if err != nil {
		s.logger.Error("item lookup failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "item lookup failed")
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleModeStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.coord.State())
}

// ModeSwitchRequest is the request body for POST /api/mode.
type ModeSwitchRequest struct {
	Mode extraction.Mode `json:"mode"`
}

func (s *Server) handleModeSwitch(c echo.Context) error {
	var req ModeSwitchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	switch req.Mode {
	case extraction.ModeLocal, extraction.ModeRemote:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown mode %q", req.Mode))
	}
	if _, ok := s.generators[req.Mode]; !ok {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("mode %q has no configured backend", req.Mode))
	}
	s.coord.RequestSwitch(req.Mode)
	return c.JSON(http.StatusOK, s.coord.State())
}

func (s *Server) handleModeCancel(c echo.Context) error {
	s.coord.CancelPending()
	return c.JSON(http.StatusOK, s.coord.State())
}

// handleModeEvents streams mode notifications as server-sent events.
func (s *Server) handleModeEvents(c echo.Context) error {
	sub := s.subscribe()
	defer s.unsubscribe(sub)

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.stop:
			return nil
		case note := <-sub:
			payload, err := json.Marshal(note)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", note.Type, payload); err != nil {
				return nil
			}
			res.Flush()
		}
	}
}

// BackendConfigRequest is the request body for POST /api/backends/:mode/config.
// Absent fields leave the current value untouched.
type BackendConfigRequest struct {
	BaseURL    *string `json:"baseUrl"`
	Model      *string `json:"model"`
	APIKey     *string `json:"apiKey"`
	TimeoutSec *int    `json:"timeoutSec"`
	MaxRetries *int    `json:"maxRetries"`
}

func (s *Server) handleBackendConfig(c echo.Context) error {
	mode := extraction.Mode(c.Param("mode"))
	gen, ok := s.generators[mode]
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("unknown backend %q", mode))
	}

	var req BackendConfigRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	patch := extraction.ConfigPatch{
		BaseURL:    req.BaseURL,
		Model:      req.Model,
		APIKey:     req.APIKey,
		MaxRetries: req.MaxRetries,
	}
	if req.TimeoutSec != nil {
		if *req.TimeoutSec <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "timeoutSec must be positive")
		}
		d := time.Duration(*req.TimeoutSec) * time.Second
		patch.Timeout = &d
	}
	gen.UpdateConfig(patch)

	// Config's APIKey never serializes, so echoing it back is safe.
	return c.JSON(http.StatusOK, gen.Config())
}

// Start runs the notification fan-out and serves HTTP. It blocks until
// Shutdown.
func (s *Server) Start(addr string) error {
	go s.fanOut()
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully stops the server and closes event streams.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	close(s.stop)
	return s.echo.Shutdown(ctx)
}

// fanOut forwards coordinator notifications to every SSE subscriber.
// A full subscriber buffer drops the event rather than stalling others.
func (s *Server) fanOut() {
	for {
		select {
		case <-s.stop:
			return
		case note := <-s.coord.Notifications():
			s.mu.Lock()
			for sub := range s.subs {
				select {
				case sub <- note:
				default:
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *Server) subscribe() chan modes.Notification {
	sub := make(chan modes.Notification, 16)
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()
	return sub
}

func (s *Server) unsubscribe(sub chan modes.Notification) {
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
}
