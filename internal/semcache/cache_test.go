package semcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/fyrsmithlabs/ragcache/internal/backend"
	"github.com/fyrsmithlabs/ragcache/internal/kvstore"
	"github.com/fyrsmithlabs/ragcache/internal/logging"
	"github.com/fyrsmithlabs/ragcache/internal/vectorstore"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// fakeVectors returns canned hits and records every call.
type fakeVectors struct {
	mu        sync.Mutex
	hits      []vectorstore.Hit
	queryErr  error
	upsertErr error
	queries   []vectorstore.Query
	upserts   [][]vectorstore.Record
	calls     []string
}

func (f *fakeVectors) Upsert(_ context.Context, records []vectorstore.Record) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "upsert")
	f.upserts = append(f.upserts, records)
	if f.upsertErr != nil {
		return 0, f.upsertErr
	}
	return len(records), nil
}

func (f *fakeVectors) Query(_ context.Context, q vectorstore.Query) ([]vectorstore.Hit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.hits, nil
}

func (f *fakeVectors) Close() error { return nil }

// fakeKV is a map-backed kvstore.Store that shares its call log with
// fakeVectors to check write ordering.
type fakeKV struct {
	mu     sync.Mutex
	data   map[string][]byte
	setErr error
	calls  *[]string
}

func newFakeKV(calls *[]string) *fakeKV {
	return &fakeKV{data: map[string][]byte{}, calls: calls}
}

func (f *fakeKV) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return nil, kvstore.ErrNotFound
	}
	return v, nil
}

func (f *fakeKV) Set(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls != nil {
		*f.calls = append(*f.calls, "set")
	}
	if f.setErr != nil {
		return f.setErr
	}
	f.data[key] = value
	return nil
}

func (f *fakeKV) Close() error { return nil }

func cacheHit(score float32, pointer string) vectorstore.Hit {
	md := map[string]any{vectorstore.MetaKind: vectorstore.KindCache}
	if pointer != "" {
		md[vectorstore.MetaPointerKey] = pointer
	}
	return vectorstore.Hit{ID: pointer, Score: score, Metadata: md}
}

func newTestCache(t *testing.T, vectors vectorstore.Store, kv kvstore.Store) (*Cache, *logging.TestLogger) {
	t.Helper()
	logger := logging.NewTestLogger()
	c, err := New(vectors, kv, 0.95, logger.Logger)
	require.NoError(t, err)
	return c, logger
}

func TestNew(t *testing.T) {
	c, err := New(&fakeVectors{}, newFakeKV(nil), 0, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultThreshold, c.Threshold())

	_, err = New(&fakeVectors{}, newFakeKV(nil), 1.5, nil)
	assert.Error(t, err)

	_, err = New(nil, newFakeKV(nil), 0.9, nil)
	assert.Error(t, err)
}

func TestLookup_Threshold(t *testing.T) {
	tests := []struct {
		name    string
		hits    []vectorstore.Hit
		wantHit bool
	}{
		{"no records", nil, false},
		{"below threshold", []vectorstore.Hit{cacheHit(0.94, "cache:a")}, false},
		{"exactly threshold", []vectorstore.Hit{cacheHit(0.95, "cache:a")}, true},
		{"above threshold", []vectorstore.Hit{cacheHit(0.99, "cache:a")}, true},
		{"missing pointer key", []vectorstore.Hit{cacheHit(0.99, "")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vectors := &fakeVectors{hits: tt.hits}
			c, _ := newTestCache(t, vectors, newFakeKV(nil))

			hit, err := c.Lookup(context.Background(), "what is attention")
			require.NoError(t, err)
			if !tt.wantHit {
				assert.Nil(t, hit)
			} else {
				require.NotNil(t, hit)
				assert.Equal(t, "cache:a", hit.PointerKey)
				assert.Equal(t, tt.hits[0].Score, hit.Score)
			}

			require.Len(t, vectors.queries, 1)
			q := vectors.queries[0]
			assert.Equal(t, 1, q.TopK)
			assert.Equal(t, "what is attention", q.EmbedText)
			assert.Equal(t, vectorstore.CacheOnly(), q.Filter)
		})
	}
}

func TestLookup_ScoreEqualToThresholdHits(t *testing.T) {
	for _, threshold := range []float64{0.95, 0.9, 0.85, 0.7, 0.33, 1} {
		t.Run(fmt.Sprint(threshold), func(t *testing.T) {
			at := float32(threshold)
			below := math.Nextafter32(at, 0)

			c, err := New(&fakeVectors{hits: []vectorstore.Hit{cacheHit(at, "cache:a")}}, newFakeKV(nil), threshold, nil)
			require.NoError(t, err)
			hit, err := c.Lookup(context.Background(), "q")
			require.NoError(t, err)
			require.NotNil(t, hit, "score %v must hit threshold %v", at, threshold)

			c, err = New(&fakeVectors{hits: []vectorstore.Hit{cacheHit(below, "cache:a")}}, newFakeKV(nil), threshold, nil)
			require.NoError(t, err)
			hit, err = c.Lookup(context.Background(), "q")
			require.NoError(t, err)
			assert.Nil(t, hit, "score %v must miss threshold %v", below, threshold)
		})
	}
}

func TestLookup_MissingPointerLogged(t *testing.T) {
	c, logger := newTestCache(t, &fakeVectors{hits: []vectorstore.Hit{cacheHit(1, "")}}, newFakeKV(nil))

	hit, err := c.Lookup(context.Background(), "q")
	require.NoError(t, err)
	assert.Nil(t, hit)
	logger.AssertLogged(t, zapcore.WarnLevel, "without pointer key")
}

func TestLookup_BackendError(t *testing.T) {
	down := backend.Classify("query", errors.New("connection refused"))
	c, _ := newTestCache(t, &fakeVectors{queryErr: down}, newFakeKV(nil))

	before := testutil.ToFloat64(Lookups.WithLabelValues("error"))
	hit, err := c.Lookup(context.Background(), "q")
	assert.Nil(t, hit)
	assert.ErrorIs(t, err, backend.ErrBackendUnavailable)
	assert.Equal(t, before+1, testutil.ToFloat64(Lookups.WithLabelValues("error")))
}

func TestLookup_EmptyQuery(t *testing.T) {
	vectors := &fakeVectors{hits: []vectorstore.Hit{cacheHit(1, "cache:a")}}
	c, _ := newTestCache(t, vectors, newFakeKV(nil))

	hit, err := c.Lookup(context.Background(), "  ")
	require.NoError(t, err)
	assert.Nil(t, hit)
	assert.Empty(t, vectors.queries)
}

func TestFetch(t *testing.T) {
	kv := newFakeKV(nil)
	page := 2
	good, _ := json.Marshal(Payload{
		Query:     "q",
		Text:      "the answer",
		Citations: []Citation{{ID: "doc:x:0", Source: "x.pdf", Page: &page, Score: 0.8}},
	})
	kv.data["cache:good"] = good
	kv.data["cache:bad-json"] = []byte("{not json")
	kv.data["cache:empty-text"] = []byte(`{"query":"q","text":"","citations":[]}`)
	kv.data["cache:no-citations"] = []byte(`{"query":"q","text":"t"}`)

	c, _ := newTestCache(t, &fakeVectors{}, kv)
	ctx := context.Background()

	p, err := c.Fetch(ctx, "cache:good")
	require.NoError(t, err)
	assert.Equal(t, "the answer", p.Text)
	require.Len(t, p.Citations, 1)
	assert.Equal(t, 2, *p.Citations[0].Page)

	_, err = c.Fetch(ctx, "cache:absent")
	assert.ErrorIs(t, err, kvstore.ErrNotFound)

	_, err = c.Fetch(ctx, "cache:bad-json")
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = c.Fetch(ctx, "cache:empty-text")
	assert.ErrorIs(t, err, ErrMalformedPayload)

	p, err = c.Fetch(ctx, "cache:no-citations")
	require.NoError(t, err)
	assert.NotNil(t, p.Citations)
	assert.Empty(t, p.Citations)
}

func TestStore_WritesPayloadThenRecord(t *testing.T) {
	vectors := &fakeVectors{}
	kv := newFakeKV(&vectors.calls)
	c, _ := newTestCache(t, vectors, kv)

	citations := []Citation{{ID: "doc:x:0", Source: "x.pdf", Score: 0.7}}
	require.NoError(t, c.Store(context.Background(), "who wrote it", "Ada wrote it", citations))

	assert.Equal(t, []string{"set", "upsert"}, vectors.calls)

	require.Len(t, vectors.upserts, 1)
	require.Len(t, vectors.upserts[0], 1)
	rec := vectors.upserts[0][0]
	assert.Regexp(t, `^cache:[0-9a-f-]{36}$`, rec.ID)
	assert.Equal(t, "who wrote it", rec.EmbedText, "the query is embedded, not the answer")
	assert.Equal(t, vectorstore.KindCache, rec.Metadata[vectorstore.MetaKind])
	assert.Equal(t, rec.ID, rec.Metadata[vectorstore.MetaPointerKey])

	var stored Payload
	require.NoError(t, json.Unmarshal(kv.data[rec.ID], &stored))
	assert.Equal(t, Payload{Query: "who wrote it", Text: "Ada wrote it", Citations: citations}, stored)
}

func TestStore_NoDedup(t *testing.T) {
	vectors := &fakeVectors{}
	kv := newFakeKV(nil)
	c, _ := newTestCache(t, vectors, kv)

	require.NoError(t, c.Store(context.Background(), "q", "a", nil))
	require.NoError(t, c.Store(context.Background(), "q", "a", nil))

	require.Len(t, vectors.upserts, 2)
	assert.NotEqual(t, vectors.upserts[0][0].ID, vectors.upserts[1][0].ID)
	assert.Len(t, kv.data, 2)
}

func TestStore_KVFailureSkipsIndex(t *testing.T) {
	vectors := &fakeVectors{}
	kv := newFakeKV(nil)
	kv.setErr = backend.Classify("kv put", errors.New("nats: timeout"))
	c, _ := newTestCache(t, vectors, kv)

	err := c.Store(context.Background(), "q", "a", nil)
	assert.ErrorIs(t, err, backend.ErrBackendUnavailable)
	assert.Empty(t, vectors.upserts)
}

func TestStore_IndexFailureLeavesOrphan(t *testing.T) {
	vectors := &fakeVectors{upsertErr: backend.Classify("upsert", errors.New("qdrant down"))}
	kv := newFakeKV(nil)
	c, _ := newTestCache(t, vectors, kv)

	err := c.Store(context.Background(), "q", "a", nil)
	assert.ErrorIs(t, err, backend.ErrBackendUnavailable)
	assert.Len(t, kv.data, 1, "payload written before the failed upsert stays")
}

func TestStore_RequiresQueryAndText(t *testing.T) {
	c, _ := newTestCache(t, &fakeVectors{}, newFakeKV(nil))
	assert.Error(t, c.Store(context.Background(), "", "a", nil))
	assert.Error(t, c.Store(context.Background(), "q", "", nil))
}

// TestRoundTrip runs Store then Lookup and Fetch against the embedded
// backends.
func TestRoundTrip(t *testing.T) {
	vectors, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{InMemory: true, Collection: "cache"},
		vectorstore.NewHashEmbedder(64), zap.NewNop())
	require.NoError(t, err)
	kv, err := kvstore.NewBadgerStore(kvstore.BadgerConfig{InMemory: true}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	c, _ := newTestCache(t, vectors, kv)
	ctx := context.Background()

	// A document record must never be returned by a cache lookup.
	_, err = vectors.Upsert(ctx, []vectorstore.Record{{
		ID:        "doc:d:0",
		EmbedText: "who are the authors of the paper",
		Metadata:  map[string]any{vectorstore.MetaKind: vectorstore.KindDoc, vectorstore.MetaText: "x"},
	}})
	require.NoError(t, err)

	hit, err := c.Lookup(ctx, "who are the authors of the paper")
	require.NoError(t, err)
	assert.Nil(t, hit)

	require.NoError(t, c.Store(ctx, "who are the authors of the paper", "Vaswani et al.", nil))

	hit, err = c.Lookup(ctx, "who are the authors of the paper")
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.GreaterOrEqual(t, float64(hit.Score), DefaultThreshold)

	payload, err := c.Fetch(ctx, hit.PointerKey)
	require.NoError(t, err)
	assert.Equal(t, "Vaswani et al.", payload.Text)

	hit, err = c.Lookup(ctx, "completely unrelated question about cooking pasta")
	require.NoError(t, err)
	assert.Nil(t, hit)
}
