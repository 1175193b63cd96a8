// Package logging provides structured logging with OpenTelemetry integration.
//
// The package wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - Dual output (stdout + OpenTelemetry log bridge)
//   - Automatic context field injection (trace_id, span_id, request.id, doc.id)
//   - Redaction of credential fields and bearer/api-key patterns
//   - Level-aware sampling (errors never sampled)
//
// Create a logger from config:
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, otelProvider)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
// Log with context:
//
//	ctx = logging.WithRequestID(ctx, c.Response().Header().Get(echo.HeaderXRequestID))
//	logger.Info(ctx, "cache hit", zap.Float64("score", hit.Score))
//
// Packages that only need a plain *zap.Logger (backend adapters, the HTTP
// server) receive Logger.Underlying().
//
// Tests use NewTestLogger, which records every entry through
// zaptest/observer.
package logging
