// Package proxy short-circuits chat requests whose question has already
// been answered, replaying the cached answer instead of generating one.
package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/ragcache/internal/chat"
	"github.com/fyrsmithlabs/ragcache/internal/logging"
	"github.com/fyrsmithlabs/ragcache/internal/semcache"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Response headers.
const (
	HeaderCacheHit    = "X-Cache-Hit"
	HeaderResponse    = "X-Response-Time"
	HeaderCacheLookup = "X-Cache-Lookup-Time"
	HeaderKV          = "X-KV-Time"
)

// Cache is the read side of the semantic cache.
type Cache interface {
	Lookup(ctx context.Context, query string) (*semcache.Hit, error)
	Fetch(ctx context.Context, pointerKey string) (*semcache.Payload, error)
}

// Config configures CacheIntercept.
type Config struct {
	// ChatPath is the only path intercepted. Defaults to /api/chat.
	ChatPath string
	Cache    Cache
	Logger   *logging.Logger

	// MaxBodyBytes caps how much of the body is read. Larger bodies pass
	// through. Zero means 4 MiB.
	MaxBodyBytes int64
}

// Outcomes counts intercepted requests by outcome.
var Outcomes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ragcache",
		Subsystem: "proxy",
		Name:      "requests_total",
		Help:      "Chat requests seen by the cache intercept, by outcome",
	},
	[]string{"outcome"},
)

// CacheIntercept returns middleware that replays cached answers for POST
// requests to the chat path. Every failure falls through to the next
// handler.
func CacheIntercept(cfg Config) echo.MiddlewareFunc {
	if cfg.ChatPath == "" {
		cfg.ChatPath = "/api/chat"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 4 << 20
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	logger := cfg.Logger.Named("proxy")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Method != http.MethodPost || req.URL.Path != cfg.ChatPath {
				return next(c)
			}
			if cfg.Cache == nil {
				c.Response().Header().Set(HeaderCacheHit, "false")
				return next(c)
			}

			start := time.Now()
			ctx := req.Context()
			passThrough := func(outcome string, fields ...zap.Field) error {
				Outcomes.WithLabelValues(outcome).Inc()
				logger.Debug(ctx, "cache pass-through", append(fields, zap.String("outcome", outcome))...)
				c.Response().Header().Set(HeaderCacheHit, "false")
				return next(c)
			}

			raw, err := readAndRestore(req, cfg.MaxBodyBytes)
			if err != nil {
				return passThrough("unreadable_body", zap.Error(err))
			}
			body, err := chat.ParseBody(raw)
			if err != nil {
				return passThrough("invalid_body")
			}
			query := chat.ExtractQuery(body.Messages)
			if query == "" {
				return passThrough("empty_query")
			}

			lookupStart := time.Now()
			hit, err := cfg.Cache.Lookup(ctx, query)
			lookupTime := time.Since(lookupStart)
			if err != nil {
				logger.Warn(ctx, "cache lookup failed", zap.Error(err))
				return passThrough("lookup_error")
			}
			if hit == nil {
				return passThrough("miss", zap.Duration("lookup", lookupTime))
			}

			kvStart := time.Now()
			payload, err := cfg.Cache.Fetch(ctx, hit.PointerKey)
			kvTime := time.Since(kvStart)
			if err != nil {
				logger.Warn(ctx, "cached payload unusable",
					zap.String("pointer_key", hit.PointerKey),
					zap.Error(err),
				)
				return passThrough("payload_error")
			}

			Outcomes.WithLabelValues("hit").Inc()
			h := c.Response().Header()
			h.Set(HeaderCacheHit, "true")
			h.Set(HeaderResponse, millis(time.Since(start)))
			h.Set(HeaderCacheLookup, millis(lookupTime))
			h.Set(HeaderKV, millis(kvTime))

			logger.Info(ctx, "cache hit",
				zap.Float32("score", hit.Score),
				zap.String("pointer_key", hit.PointerKey),
				zap.Duration("lookup", lookupTime),
				zap.Duration("kv", kvTime),
			)

			c.Response().WriteHeader(http.StatusOK)
			return chat.NewStreamWriter(c.Response()).WriteAll(chat.ReplayEvents(payload.Text, payload.Citations))
		}
	}
}

// readAndRestore reads up to limit bytes and puts an identical body back
// on req. Bodies over the limit are an error but are still restored.
func readAndRestore(req *http.Request, limit int64) ([]byte, error) {
	if req.Body == nil {
		return nil, fmt.Errorf("empty body")
	}
	raw, err := io.ReadAll(io.LimitReader(req.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > limit {
		req.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(raw), req.Body), Closer: req.Body}
		return nil, fmt.Errorf("body exceeds %d bytes", limit)
	}
	_ = req.Body.Close()
	req.Body = io.NopCloser(bytes.NewReader(raw))
	return raw, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

// millis formats d as milliseconds with two decimals.
func millis(d time.Duration) string {
	return fmt.Sprintf("%.2f", float64(d.Microseconds())/1000)
}
