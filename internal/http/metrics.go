package http

import (
	"net/http"
	"time"

	"github.com/fyrsmithlabs/ragcache/internal/proxy"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/ragcache/internal/http"

// Values of the cache attribute on request metrics.
const (
	cacheHit  = "hit"
	cacheMiss = "miss"
	cacheNone = "none"
)

// requestMetrics records one set of instruments per served request. Chat
// requests carry the proxy's cache verdict so hit ratio and latency can be
// split by it.
type requestMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	size     metric.Int64Histogram
	inFlight metric.Int64UpDownCounter
}

// newRequestMetrics creates the instruments on meter, or on the global
// meter provider when meter is nil. Instruments that fail to register are
// left nil and skipped.
func newRequestMetrics(meter metric.Meter, logger *zap.Logger) *requestMetrics {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	warn := func(name string, err error) {
		if err != nil {
			logger.Warn("failed to create http instrument", zap.String("instrument", name), zap.Error(err))
		}
	}

	m := &requestMetrics{}
	var err error

	m.requests, err = meter.Int64Counter(
		"ragcache.http.requests_total",
		metric.WithDescription("HTTP requests by method, route, status and cache verdict"),
		metric.WithUnit("{request}"),
	)
	warn("requests_total", err)

	// Streamed chat answers are timed to the end of the stream.
	m.duration, err = meter.Float64Histogram(
		"ragcache.http.request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	warn("request_duration_seconds", err)

	m.size, err = meter.Int64Histogram(
		"ragcache.http.response_size_bytes",
		metric.WithDescription("HTTP response body size in bytes"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(100, 1000, 10000, 100000, 1000000),
	)
	warn("response_size_bytes", err)

	m.inFlight, err = meter.Int64UpDownCounter(
		"ragcache.http.in_flight_requests",
		metric.WithDescription("HTTP requests currently being served"),
		metric.WithUnit("{request}"),
	)
	warn("in_flight_requests", err)

	return m
}

// Middleware records the instruments after the inner handlers, including
// the cache intercept, have written the response.
func (m *requestMetrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			start := time.Now()
			if m.inFlight != nil {
				m.inFlight.Add(ctx, 1)
				defer m.inFlight.Add(ctx, -1)
			}

			err := next(c)

			res := c.Response()
			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("route", routeLabel(c.Path())),
				attribute.Int("status", res.Status),
				attribute.String("cache", cacheVerdict(res.Header())),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if m.size != nil {
				m.size.Record(ctx, res.Size, attrs)
			}
			return err
		}
	}
}

// routeLabel collapses requests that matched no route into one label.
func routeLabel(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}

// cacheVerdict reads the header set by the cache intercept. Requests the
// intercept does not handle have no verdict.
func cacheVerdict(h http.Header) string {
	switch h.Get(proxy.HeaderCacheHit) {
	case "true":
		return cacheHit
	case "false":
		return cacheMiss
	default:
		return cacheNone
	}
}
