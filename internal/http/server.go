// Package http provides the HTTP API for ragcache.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/ragcache/internal/backend"
	"github.com/fyrsmithlabs/ragcache/internal/chat"
	"github.com/fyrsmithlabs/ragcache/internal/ingest"
	"github.com/fyrsmithlabs/ragcache/internal/logging"
	"github.com/fyrsmithlabs/ragcache/internal/proxy"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ChatStreamer answers a chat turn as an event stream.
type ChatStreamer interface {
	Stream(ctx context.Context, req chat.Request) <-chan chat.Event
}

// Ingester writes uploaded chunks to the index.
type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request) (ingest.Result, error)
}

// Server provides HTTP endpoints for ragcache.
type Server struct {
	echo     *echo.Echo
	chat     ChatStreamer
	ingester Ingester
	logger   *zap.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host         string
	Port         int
	ChatPath     string
	IngestPath   string
	MaxBodyBytes int64

	// Cache enables replay of cached answers on the chat path.
	Cache proxy.Cache
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 3000
	}
	if c.ChatPath == "" {
		c.ChatPath = "/api/chat"
	}
	if c.IngestPath == "" {
		c.IngestPath = "/api/ingest"
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 4 << 20
	}
}

// NewServer creates a new HTTP server.
func NewServer(chatter ChatStreamer, ingester Ingester, logger *zap.Logger, cfg *Config) (*Server, error) {
	if chatter == nil {
		return nil, fmt.Errorf("chat streamer cannot be nil")
	}
	if ingester == nil {
		return nil, fmt.Errorf("ingester cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.applyDefaults()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), requestID)))

			err := next(c)

			logger.Info("http request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", requestID),
				zap.String("cache_hit", c.Response().Header().Get(proxy.HeaderCacheHit)),
			)
			return err
		}
	})
	e.Use(newRequestMetrics(nil, logger).Middleware())
	e.Use(proxy.CacheIntercept(proxy.Config{
		ChatPath:     cfg.ChatPath,
		Cache:        cfg.Cache,
		Logger:       logging.Wrap(logger),
		MaxBodyBytes: cfg.MaxBodyBytes,
	}))

	s := &Server{
		echo:     e,
		chat:     chatter,
		ingester: ingester,
		logger:   logger,
		config:   cfg,
	}
	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.echo.POST(s.config.ChatPath, s.handleChat)
	s.echo.POST(s.config.IngestPath, s.handleIngest)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body of a rejected chat request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// IngestResponse is the response body for the ingest endpoint.
type IngestResponse struct {
	OK       bool           `json:"ok"`
	DocID    string         `json:"docId,omitempty"`
	Upserted *int           `json:"upserted,omitempty"`
	Error    string         `json:"error,omitempty"`
	Message  string         `json:"message,omitempty"`
	Issues   []ingest.Issue `json:"issues,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleChat streams a generated answer. Cached answers are served by the
// proxy middleware before this handler runs.
func (s *Server) handleChat(c echo.Context) error {
	raw, err := readBody(c.Request(), s.config.MaxBodyBytes)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	}
	body, err := chat.ParseBody(raw)
	if err != nil {
		s.logger.Warn("invalid chat request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}

	ctx := c.Request().Context()
	req := chat.Request{
		Query:    chat.ExtractQuery(body.Messages),
		Messages: chat.Conversation(body.Messages),
	}

	sw := chat.NewStreamWriter(c.Response())
	c.Response().WriteHeader(http.StatusOK)

	// Keep draining after a write error so the producer can finish.
	var writeErr error
	for ev := range s.chat.Stream(ctx, req) {
		if writeErr != nil {
			continue
		}
		writeErr = sw.Write(ev)
	}
	if writeErr == nil {
		writeErr = sw.Done()
	}
	if writeErr != nil {
		s.logger.Debug("chat stream aborted", zap.Error(writeErr))
	}
	return nil
}

func (s *Server) handleIngest(c echo.Context) error {
	raw, err := readBody(c.Request(), s.config.MaxBodyBytes)
	if err != nil {
		return c.JSON(http.StatusBadRequest, IngestResponse{Error: "Invalid payload", Message: err.Error()})
	}
	var req ingest.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return c.JSON(http.StatusBadRequest, IngestResponse{
			Error:  "Invalid payload",
			Issues: []ingest.Issue{{Rule: "json", Message: err.Error()}},
		})
	}

	res, err := s.ingester.Ingest(c.Request().Context(), req)
	var verr *ingest.ValidationError
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, IngestResponse{OK: true, DocID: res.DocID, Upserted: &res.Upserted})
	case errors.As(err, &verr):
		return c.JSON(http.StatusBadRequest, IngestResponse{Error: "Invalid payload", Issues: verr.Issues})
	case errors.Is(err, backend.ErrRateLimited):
		return c.JSON(http.StatusTooManyRequests, IngestResponse{
			Error:    "Rate limit exceeded",
			Message:  err.Error(),
			DocID:    res.DocID,
			Upserted: &res.Upserted,
		})
	default:
		s.logger.Error("ingest failed", zap.String("doc_id", res.DocID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, IngestResponse{
			Error:    err.Error(),
			DocID:    res.DocID,
			Upserted: &res.Upserted,
		})
	}
}

func readBody(req *http.Request, limit int64) ([]byte, error) {
	if req.Body == nil {
		return nil, errors.New("request body is empty")
	}
	raw, err := io.ReadAll(io.LimitReader(req.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if int64(len(raw)) > limit {
		return nil, fmt.Errorf("request body exceeds %d bytes", limit)
	}
	return raw, nil
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// Handler returns the routed handler, for serving without a listener.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server. It returns http.ErrServerClosed after
// Shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.Addr()))
	return s.echo.Start(s.Addr())
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
