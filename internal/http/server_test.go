package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fyrsmithlabs/ragcache/internal/backend"
	"github.com/fyrsmithlabs/ragcache/internal/chat"
	"github.com/fyrsmithlabs/ragcache/internal/ingest"
	"github.com/fyrsmithlabs/ragcache/internal/kvstore"
	"github.com/fyrsmithlabs/ragcache/internal/llm"
	"github.com/fyrsmithlabs/ragcache/internal/proxy"
	"github.com/fyrsmithlabs/ragcache/internal/retrieval"
	"github.com/fyrsmithlabs/ragcache/internal/semcache"
	"github.com/fyrsmithlabs/ragcache/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticRetriever struct {
	chunks []retrieval.Chunk
}

func (r staticRetriever) Retrieve(context.Context, string) ([]retrieval.Chunk, error) {
	return r.chunks, nil
}

type scriptedIngester struct {
	res ingest.Result
	err error
	got []ingest.Request
}

func (s *scriptedIngester) Ingest(_ context.Context, req ingest.Request) (ingest.Result, error) {
	s.got = append(s.got, req)
	return s.res, s.err
}

type fixedCache struct {
	payload *semcache.Payload
}

func (f fixedCache) Lookup(context.Context, string) (*semcache.Hit, error) {
	return &semcache.Hit{Score: 0.99, PointerKey: "cache:fixed"}, nil
}

func (f fixedCache) Fetch(context.Context, string) (*semcache.Payload, error) {
	return f.payload, nil
}

func setupTestServer(t *testing.T, gen *llm.StaticGenerator, ing Ingester, cache proxy.Cache) *Server {
	t.Helper()
	o := chat.NewOrchestrator(staticRetriever{chunks: []retrieval.Chunk{
		{ID: "doc:d:0", Score: 0.8, Text: "Returns are accepted for 30 days.", Source: "policy.pdf"},
	}}, gen, nil)
	if ing == nil {
		ing = &scriptedIngester{}
	}
	server, err := NewServer(o, ing, zap.NewNop(), &Config{Cache: cache})
	require.NoError(t, err)
	return server
}

func post(server *Server, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)
	return rec
}

const chatBody = `{"messages":[{"role":"user","parts":[{"type":"text","text":"what is the return policy"}]}]}`

func TestNewServer(t *testing.T) {
	o := chat.NewOrchestrator(staticRetriever{}, &llm.StaticGenerator{}, nil)
	ing := &scriptedIngester{}

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(o, ing, zap.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "0.0.0.0:3000", server.Addr())
		assert.Equal(t, "/api/chat", server.config.ChatPath)
		assert.Equal(t, "/api/ingest", server.config.IngestPath)
		assert.Equal(t, int64(4<<20), server.config.MaxBodyBytes)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(o, ing, nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when dependencies are nil", func(t *testing.T) {
		_, err := NewServer(nil, ing, zap.NewNop(), nil)
		assert.Error(t, err)
		_, err = NewServer(o, nil, zap.NewNop(), nil)
		assert.Error(t, err)
	})
}

func TestHandleHealth(t *testing.T) {
	server := setupTestServer(t, &llm.StaticGenerator{}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestMetricsEndpoint(t *testing.T) {
	server := setupTestServer(t, &llm.StaticGenerator{}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestHandleChat(t *testing.T) {
	t.Run("streams a generated answer", func(t *testing.T) {
		gen := &llm.StaticGenerator{Deltas: []string{"Within ", "30 days."}}
		server := setupTestServer(t, gen, nil, nil)

		rec := post(server, "/api/chat", chatBody)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
		assert.Equal(t, "v1", rec.Header().Get(chat.StreamHeader))
		assert.Equal(t, "false", rec.Header().Get(proxy.HeaderCacheHit))
		assert.True(t, strings.HasSuffix(rec.Body.String(), "data: [DONE]\n\n"))

		events := chat.ParseStream(t, rec.Body.String())
		var types []string
		var text strings.Builder
		for _, ev := range events {
			types = append(types, ev["type"].(string))
			if d, ok := ev["delta"].(string); ok {
				text.WriteString(d)
			}
		}
		assert.Equal(t, []string{"start", "data-citations", "text-start", "text-delta", "text-delta", "text-end", "finish"}, types)
		assert.Equal(t, "Within 30 days.", text.String())

		reqs := gen.Requests()
		require.Len(t, reqs, 1)
		assert.Contains(t, reqs[0].System, "Returns are accepted for 30 days.")
	})

	t.Run("invalid body is rejected", func(t *testing.T) {
		gen := &llm.StaticGenerator{}
		server := setupTestServer(t, gen, nil, nil)

		for _, body := range []string{`not json`, `{"messages":[]}`, `{}`} {
			rec := post(server, "/api/chat", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		}
		assert.Empty(t, gen.Requests())
	})

	t.Run("generator error ends the stream with an error event", func(t *testing.T) {
		gen := &llm.StaticGenerator{Err: errors.New("upstream exploded")}
		server := setupTestServer(t, gen, nil, nil)

		rec := post(server, "/api/chat", chatBody)

		events := chat.ParseStream(t, rec.Body.String())
		require.NotEmpty(t, events)
		last := events[len(events)-1]
		assert.Equal(t, "error", last["type"])
		assert.NotEmpty(t, last["errorText"])
	})

	t.Run("cached answer is replayed without generating", func(t *testing.T) {
		gen := &llm.StaticGenerator{Deltas: []string{"fresh"}}
		page := 2
		server := setupTestServer(t, gen, nil, fixedCache{payload: &semcache.Payload{
			Query:     "what is the return policy",
			Text:      "Cached: 30 days.",
			Citations: []semcache.Citation{{ID: "doc:d:0", Source: "policy.pdf", Page: &page, Score: 0.8}},
		}})

		rec := post(server, "/api/chat", chatBody)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "true", rec.Header().Get(proxy.HeaderCacheHit))
		assert.NotEmpty(t, rec.Header().Get(proxy.HeaderResponse))
		assert.Empty(t, gen.Requests())
		assert.Contains(t, rec.Body.String(), "Cached: 30 days.")
	})
}

func TestChat_CachesAndReplays(t *testing.T) {
	logger := zap.NewNop()
	vectors, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{InMemory: true}, vectorstore.NewHashEmbedder(64), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectors.Close() })
	kv, err := kvstore.NewBadgerStore(kvstore.BadgerConfig{InMemory: true}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	cache, err := semcache.New(vectors, kv, semcache.DefaultThreshold, nil)
	require.NoError(t, err)

	gen := &llm.StaticGenerator{Deltas: []string{"Returns are accepted ", "for 30 days."}}
	o := chat.NewOrchestrator(retrieval.New(vectors, retrieval.DefaultConfig(), nil), gen, nil, chat.WithCache(cache))
	ingester := ingest.NewService(vectors, ingest.Config{}, nil)
	server, err := NewServer(o, ingester, logger, &Config{Cache: cache})
	require.NoError(t, err)

	rec := post(server, "/api/ingest", `{"docId":"policy","chunks":[{"text":"Returns are accepted for 30 days.","page":1}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	first := post(server, "/api/chat", chatBody)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "false", first.Header().Get(proxy.HeaderCacheHit))
	o.Wait()

	second := post(server, "/api/chat", chatBody)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get(proxy.HeaderCacheHit))
	assert.Len(t, gen.Requests(), 1, "a cache hit must not call the generator")

	var replayed strings.Builder
	var sources []any
	for _, ev := range chat.ParseStream(t, second.Body.String()) {
		if d, ok := ev["delta"].(string); ok {
			replayed.WriteString(d)
		}
		if ev["type"] == "data-citations" {
			sources = ev["data"].(map[string]any)["sources"].([]any)
		}
	}
	assert.Equal(t, "Returns are accepted for 30 days.", replayed.String())
	require.Len(t, sources, 1)
	assert.Equal(t, "doc:policy:0", sources[0].(map[string]any)["id"])
}

func TestHandleIngest(t *testing.T) {
	valid := `{"docId":"d1","chunks":[{"text":"a"},{"text":"b"}]}`

	tests := []struct {
		name     string
		body     string
		res      ingest.Result
		err      error
		status   int
		contains []string
	}{
		{
			name:     "ok",
			body:     valid,
			res:      ingest.Result{DocID: "d1", Upserted: 2},
			status:   http.StatusOK,
			contains: []string{`"ok":true`, `"docId":"d1"`, `"upserted":2`},
		},
		{
			name:     "malformed json",
			body:     `{"chunks":`,
			status:   http.StatusBadRequest,
			contains: []string{`"ok":false`, `"error":"Invalid payload"`, `"rule":"json"`},
		},
		{
			name: "validation issues",
			body: valid,
			err: &ingest.ValidationError{Issues: []ingest.Issue{
				{Field: "chunks[0].text", Rule: "required", Message: "chunks[0].text is required"},
			}},
			status:   http.StatusBadRequest,
			contains: []string{`"error":"Invalid payload"`, `"field":"chunks[0].text"`},
		},
		{
			name:     "rate limited",
			body:     valid,
			res:      ingest.Result{DocID: "d1", Upserted: 50},
			err:      backend.Classify("upsert", errors.New("429 too many requests")),
			status:   http.StatusTooManyRequests,
			contains: []string{`"error":"Rate limit exceeded"`, `"upserted":50`, `"message":`},
		},
		{
			name:     "backend failure",
			body:     valid,
			res:      ingest.Result{DocID: "d1", Upserted: 0},
			err:      errors.New("disk full"),
			status:   http.StatusInternalServerError,
			contains: []string{`"ok":false`, `"upserted":0`, `disk full`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ing := &scriptedIngester{res: tt.res, err: tt.err}
			server := setupTestServer(t, &llm.StaticGenerator{}, ing, nil)

			rec := post(server, "/api/ingest", tt.body)

			assert.Equal(t, tt.status, rec.Code)
			for _, s := range tt.contains {
				assert.Contains(t, rec.Body.String(), s)
			}
		})
	}
}

func TestHandleIngest_DecodesPayload(t *testing.T) {
	ing := &scriptedIngester{}
	server := setupTestServer(t, &llm.StaticGenerator{}, ing, nil)

	rec := post(server, "/api/ingest", `{"source":"s.pdf","chunks":[{"text":"x","page":4}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, ing.got, 1)
	got := ing.got[0]
	assert.Nil(t, got.DocID)
	require.NotNil(t, got.Source)
	assert.Equal(t, "s.pdf", *got.Source)
	require.Len(t, got.Chunks, 1)
	assert.Equal(t, 4, *got.Chunks[0].Page)
}

func TestReadBody_Limit(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 11)))
	_, err := readBody(req, 10)
	require.Error(t, err)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 10)))
	raw, err := readBody(req, 10)
	require.NoError(t, err)
	assert.Len(t, raw, 10)
}
