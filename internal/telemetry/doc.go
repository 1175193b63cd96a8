// Package telemetry provides OpenTelemetry instrumentation for ragcache.
//
// # Overview
//
// Traces and metrics are exported over OTLP (gRPC or HTTP/protobuf) to a
// collector. The chat pipeline opens one span per request and child spans
// for cache lookup, retrieval stages and generation.
//
// # Usage
//
//	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
//	err = telemetry.WithSpan(ctx, tel.Tracer("ragcache.chat"), "cache.lookup",
//	    func(ctx context.Context) error {
//	        return lookup(ctx)
//	    })
//
// # Error Handling
//
// Exporter failures never fail the process. The instance is marked degraded
// and Tracer/Meter fall back to the global (no-op) providers.
//
// # Testing
//
//	tt := telemetry.NewTestTelemetry()
//	_, span := tt.Tracer("test").Start(ctx, "stage")
//	span.End()
//	tt.AssertSpanExists(t, "stage")
package telemetry
