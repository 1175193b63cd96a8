package chat

import (
	"encoding/json"
	"strings"
	"testing"
)

// ParseStream decodes a UI message stream body into its events, stopping
// at the [DONE] terminator.
func ParseStream(tb testing.TB, body string) []map[string]any {
	tb.Helper()
	var events []map[string]any
	for _, block := range strings.Split(body, "\n\n") {
		data, ok := strings.CutPrefix(strings.TrimSpace(block), "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			break
		}
		var ev map[string]any
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			tb.Fatalf("invalid event %q: %v", data, err)
		}
		events = append(events, ev)
	}
	return events
}
