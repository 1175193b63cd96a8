// internal/logging/testing.go
package logging

import (
	"reflect"
	"regexp"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger is a Logger backed by an in-memory observer core.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

// NewTestLogger records every entry at TraceLevel and above.
func NewTestLogger() *TestLogger {
	core, observed := observer.New(TraceLevel)
	return &TestLogger{
		Logger:   &Logger{zap: zap.New(core), config: NewDefaultConfig()},
		observed: observed,
	}
}

func (t *TestLogger) All() []observer.LoggedEntry {
	return t.observed.All()
}

func (t *TestLogger) FilterMessage(msg string) *observer.ObservedLogs {
	return t.observed.FilterMessage(msg)
}

// Count returns how many entries were logged at level.
func (t *TestLogger) Count(level zapcore.Level) int {
	return t.observed.FilterLevelExact(level).Len()
}

// Reset clears all logged entries.
func (t *TestLogger) Reset() {
	t.observed.TakeAll()
}

// AssertLogged fails tb unless an entry at level contains msgContains.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, msgContains string) {
	tb.Helper()
	for _, entry := range t.observed.All() {
		if entry.Level == level && strings.Contains(entry.Message, msgContains) {
			return
		}
	}
	tb.Errorf("expected log at %v containing %q, logs: %+v", level, msgContains, t.observed.All())
}

func (t *TestLogger) AssertNotLogged(tb testing.TB, level zapcore.Level, msgContains string) {
	tb.Helper()
	for _, entry := range t.observed.All() {
		if entry.Level == level && strings.Contains(entry.Message, msgContains) {
			tb.Errorf("unexpected log at %v containing %q", level, msgContains)
		}
	}
}

// AssertField fails tb unless an entry with message msg carries key=expected.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, expected interface{}) {
	tb.Helper()
	for _, entry := range t.observed.FilterMessage(msg).All() {
		if v, ok := entry.ContextMap()[key]; ok && reflect.DeepEqual(v, expected) {
			return
		}
	}
	tb.Errorf("field %q=%v not found in message %q", key, expected, msg)
}

// AssertNoSecrets checks recorded entries against the default redaction rules.
func (t *TestLogger) AssertNoSecrets(tb testing.TB) {
	tb.Helper()
	rules := NewDefaultConfig().Redaction
	patterns := make([]*regexp.Regexp, 0, len(rules.Patterns))
	for _, p := range rules.Patterns {
		patterns = append(patterns, regexp.MustCompile(p))
	}

	for _, entry := range t.observed.All() {
		for _, re := range patterns {
			if re.MatchString(entry.Message) {
				tb.Errorf("sensitive pattern in message: %q", entry.Message)
			}
		}
		for _, field := range entry.Context {
			if field.Type != zapcore.StringType || field.String == "" {
				continue
			}
			key := strings.ToLower(field.Key)
			for _, sensitive := range rules.Fields {
				if strings.Contains(key, sensitive) && !strings.Contains(field.String, "[REDACTED") {
					tb.Errorf("sensitive field %q not redacted: %q", field.Key, field.String)
				}
			}
			for _, re := range patterns {
				if re.MatchString(field.String) {
					tb.Errorf("sensitive pattern in field %q: %q", field.Key, field.String)
				}
			}
		}
	}
}

// AssertTraceCorrelation fails tb unless msg was logged with a trace_id.
func (t *TestLogger) AssertTraceCorrelation(tb testing.TB, msg string) {
	tb.Helper()
	for _, entry := range t.observed.FilterMessage(msg).All() {
		if _, ok := entry.ContextMap()["trace_id"]; ok {
			return
		}
	}
	tb.Errorf("message %q missing trace_id", msg)
}
