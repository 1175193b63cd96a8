package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/fyrsmithlabs/ragcache/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "bad format", mutate: func(c *Config) { c.Format = "xml" }, wantErr: "format"},
		{name: "no outputs", mutate: func(c *Config) { c.Output.Stdout = false }, wantErr: "at least one output"},
		{name: "zero tick", mutate: func(c *Config) { c.Sampling.Tick = 0 }, wantErr: "sampling tick"},
		{name: "bad pattern", mutate: func(c *Config) { c.Redaction.Patterns = []string{"("} }, wantErr: "invalid redaction pattern"},
		{name: "long pattern", mutate: func(c *Config) { c.Redaction.Patterns = []string{strings.Repeat("a", 201)} }, wantErr: "too long"},
		{name: "empty field value", mutate: func(c *Config) { c.Fields["env"] = "" }, wantErr: "empty value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFromSettings(t *testing.T) {
	cfg, err := FromSettings("trace", "console")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)

	_, err = FromSettings("loud", "json")
	assert.Error(t, err)
}

func TestLevelFromString(t *testing.T) {
	lvl, err := LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	lvl, err = LevelFromString("trace")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, lvl)
}

func TestContextFields(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithDocID(ctx, "paper.pdf")

	tl := NewTestLogger()
	tl.Info(ctx, "correlated")

	tl.AssertTraceCorrelation(t, "correlated")
	tl.AssertField(t, "correlated", "trace_id", "4bf92f3577b34da6a3ce929d0e0e4736")
	tl.AssertField(t, "correlated", "request.id", "req-1")
	tl.AssertField(t, "correlated", "doc.id", "paper.pdf")
	tl.AssertField(t, "correlated", "trace_sampled", true)
}

func TestWithRequestID_EmptyAndClamped(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, ctx, WithRequestID(ctx, ""))

	long := strings.Repeat("x", 300)
	assert.Len(t, RequestIDFromContext(WithRequestID(ctx, long)), maxIDLen)
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Warn(ctx, "from context")
	tl.AssertLogged(t, zapcore.WarnLevel, "from context")
}

func TestTraceLevelGating(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	l := Wrap(zap.New(core))

	l.Trace(context.Background(), "delta")
	l.Debug(context.Background(), "debug")

	assert.Equal(t, 0, observed.FilterMessage("delta").Len())
	assert.Equal(t, 1, observed.FilterMessage("debug").Len())
}

func TestSampledCore_ErrorsNeverDropped(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	sampled := newSampledCore(core, SamplingConfig{
		Enabled:    true,
		Tick:       config.Duration(60_000_000_000),
		Initial:    1,
		Thereafter: 1000,
	})
	l := zap.New(sampled)

	for i := 0; i < 10; i++ {
		l.Info("repeated")
		l.Error("failure")
	}

	assert.Equal(t, 1, observed.FilterMessage("repeated").Len())
	assert.Equal(t, 10, observed.FilterMessage("failure").Len())
}

func newRedactingLogger(t *testing.T, buf *bytes.Buffer) *zap.Logger {
	t.Helper()
	enc, err := NewRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)
	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(buf), zapcore.DebugLevel))
}

func TestRedactingEncoder_EntryFields(t *testing.T) {
	var buf bytes.Buffer
	l := newRedactingLogger(t, &buf)

	l.Info("calling llm",
		zap.String("api_key", "sk-live-123"),
		zap.String("header", "Bearer abc.def"),
		zap.String("model", "gemini-2.5-flash"),
	)

	out := buf.String()
	assert.NotContains(t, out, "sk-live-123")
	assert.NotContains(t, out, "abc.def")
	assert.Contains(t, out, `"api_key":"[REDACTED]"`)
	assert.Contains(t, out, `"header":"[REDACTED]:pattern"`)
	assert.Contains(t, out, "gemini-2.5-flash")
}

func TestRedactingEncoder_WithFields(t *testing.T) {
	var buf bytes.Buffer
	l := newRedactingLogger(t, &buf).With(zap.String("Authorization", "Basic Zm9v"))

	l.Info("proxying")

	assert.NotContains(t, buf.String(), "Zm9v")
	assert.Contains(t, buf.String(), `"Authorization":"[REDACTED]"`)
}

func TestRedactingEncoder_Disabled(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{})
	require.NoError(t, err)

	var buf bytes.Buffer
	zap.New(zapcore.NewCore(enc, zapcore.AddSync(&buf), zapcore.InfoLevel)).
		Info("plain", zap.String("token", "visible"))
	assert.Contains(t, buf.String(), "visible")
}

func TestSecretFields(t *testing.T) {
	var buf bytes.Buffer
	l := newRedactingLogger(t, &buf)

	l.Info("configured", Secret("gemini", config.Secret("abcdef")), RedactedString("qdrant", "xyz"))

	out := buf.String()
	assert.NotContains(t, out, "abcdef")
	assert.Contains(t, out, "[REDACTED:6]")
	assert.Contains(t, out, "[REDACTED:3]")
}

func TestTestLogger_AssertNoSecrets(t *testing.T) {
	tl := NewTestLogger()
	tl.Info(context.Background(), "ok", zap.String("api_key", "[REDACTED]"), zap.Int("hits", 3))
	tl.AssertNoSecrets(t)

	assert.Equal(t, 1, tl.Count(zapcore.InfoLevel))
	tl.Reset()
	assert.Empty(t, tl.All())
}
