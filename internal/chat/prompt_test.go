package chat

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fyrsmithlabs/ragcache/internal/retrieval"
	"github.com/fyrsmithlabs/ragcache/internal/semcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(i int) *int { return &i }

func TestChunkHeader(t *testing.T) {
	assert.Equal(t, "[Chunk 1] source=paper.pdf page=3 (relevance: 0.812)",
		ChunkHeader(1, retrieval.Chunk{Source: "paper.pdf", Page: intPtr(3), Score: 0.8123}))
	assert.Equal(t, "[Chunk 2] source=unknown page=n/a (relevance: 0.500)",
		ChunkHeader(2, retrieval.Chunk{Score: 0.5}))
}

func TestSystemPrompt(t *testing.T) {
	prompt := SystemPrompt([]retrieval.Chunk{
		{ID: "a", Text: "first passage", Source: "a.pdf", Page: intPtr(1), Score: 0.9},
		{ID: "b", Text: "second passage", Score: 0.4},
	})
	assert.Contains(t, prompt, "Sources:")
	assert.Contains(t, prompt, "(source, page)")
	assert.Contains(t, prompt, "[Chunk 1] source=a.pdf page=1 (relevance: 0.900)\nfirst passage")
	assert.Contains(t, prompt, "[Chunk 2] source=unknown page=n/a (relevance: 0.400)\nsecond passage")
	assert.Less(t, strings.Index(prompt, "[Chunk 1]"), strings.Index(prompt, "[Chunk 2]"))
	assert.NotContains(t, prompt, noContextNote)

	empty := SystemPrompt(nil)
	assert.Contains(t, empty, noContextNote)
	assert.NotContains(t, empty, "[Chunk")
}

func TestCitations(t *testing.T) {
	got := Citations([]retrieval.Chunk{
		{ID: "doc:d:0", Score: 0.75, Text: "x", Source: "d.pdf", Page: intPtr(2)},
		{ID: "doc:d:1", Score: 0.5, Text: "y"},
	})
	raw, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"id":"doc:d:0","source":"d.pdf","page":2,"score":0.75},
		{"id":"doc:d:1","source":"unknown","page":null,"score":0.5}
	]`, string(raw))
}

func TestEventJSON(t *testing.T) {
	tests := []struct {
		ev   Event
		want string
	}{
		{Event{Type: EventStart}, `{"type":"start"}`},
		{Event{Type: EventCitations}, `{"type":"data-citations","id":"citations","data":{"sources":[]}}`},
		{
			Event{Type: EventCitations, Citations: []semcache.Citation{{ID: "c", Source: "s", Score: 1}}},
			`{"type":"data-citations","id":"citations","data":{"sources":[{"id":"c","source":"s","page":null,"score":1}]}}`,
		},
		{Event{Type: EventTextStart, ID: "t1"}, `{"type":"text-start","id":"t1"}`},
		{Event{Type: EventTextDelta, ID: "t1", Delta: "hi"}, `{"type":"text-delta","id":"t1","delta":"hi"}`},
		{Event{Type: EventTextEnd, ID: "t1"}, `{"type":"text-end","id":"t1"}`},
		{Event{Type: EventError, ErrorText: "bad"}, `{"type":"error","errorText":"bad"}`},
		{Event{Type: EventFinish}, `{"type":"finish"}`},
	}

	for _, tt := range tests {
		t.Run(string(tt.ev.Type), func(t *testing.T) {
			raw, err := json.Marshal(tt.ev)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(raw))
		})
	}
}

func TestStreamWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := NewStreamWriter(rec)
	require.NoError(t, sw.WriteAll(ReplayEvents("cached answer", nil)))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "v1", rec.Header().Get(StreamHeader))
	assert.True(t, rec.Flushed)

	events := ParseStream(t, rec.Body.String())
	require.Len(t, events, 6)
	assert.Equal(t, "start", events[0]["type"])
	assert.Equal(t, "data-citations", events[1]["type"])
	assert.Equal(t, "text-start", events[2]["type"])
	assert.Equal(t, "cached answer", events[3]["delta"])
	assert.Equal(t, "text-end", events[4]["type"])
	assert.Equal(t, "finish", events[5]["type"])
	assert.True(t, strings.HasSuffix(rec.Body.String(), "data: [DONE]\n\n"))
}
