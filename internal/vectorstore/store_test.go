package vectorstore

import (
	"context"
	"errors"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetaInt(t *testing.T) {
	tests := []struct {
		name   string
		value  any
		want   int
		wantOK bool
	}{
		{name: "int", value: 3, want: 3, wantOK: true},
		{name: "int64", value: int64(4), want: 4, wantOK: true},
		{name: "whole float", value: float64(5), want: 5, wantOK: true},
		{name: "fractional float", value: 5.5},
		{name: "numeric string", value: "6", want: 6, wantOK: true},
		{name: "text", value: "six"},
		{name: "missing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md := map[string]any{}
			if tt.value != nil {
				md[MetaPage] = tt.value
			}
			got, ok := MetaInt(md, MetaPage)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMetaString(t *testing.T) {
	md := map[string]any{"s": "x", "n": int64(9)}
	assert.Equal(t, "x", MetaString(md, "s"))
	assert.Equal(t, "9", MetaString(md, "n"))
	assert.Equal(t, "", MetaString(md, "absent"))
	assert.Equal(t, "", MetaString(nil, "absent"))
}

func TestToStringMetadata_SkipsNil(t *testing.T) {
	var page *int
	out := toStringMetadata(map[string]any{"kind": "doc", "page": page, "none": nil, "n": 2})
	assert.Equal(t, map[string]string{"kind": "doc", "n": "2"}, out)
}

func TestQdrantPayloadRoundTrip(t *testing.T) {
	page := 3
	payload := toPayload(map[string]any{
		MetaKind:   KindDoc,
		MetaPage:   &page,
		"score":    0.5,
		"flag":     true,
		"nilValue": nil,
	})
	assert.NotContains(t, payload, "nilValue")

	md := fromPayload(payload)
	assert.Equal(t, KindDoc, md[MetaKind])
	assert.Equal(t, int64(3), md[MetaPage])
	assert.Equal(t, 0.5, md["score"])
	assert.Equal(t, true, md["flag"])
}

func TestQdrantFilter(t *testing.T) {
	assert.Nil(t, toFilter(nil))

	f := toFilter(CacheOnly())
	require.Len(t, f.Must, 1)
	field := f.Must[0].GetField()
	require.NotNil(t, field)
	assert.Equal(t, MetaKind, field.Key)
	assert.Equal(t, KindCache, field.Match.GetKeyword())
}

func TestPointID_Stable(t *testing.T) {
	a := pointID("doc:paper:0")
	b := pointID("doc:paper:0")
	c := pointID("doc:paper:1")
	assert.Equal(t, a.GetUuid(), b.GetUuid())
	assert.NotEqual(t, a.GetUuid(), c.GetUuid())
	assert.IsType(t, &qdrant.PointId{}, a)
}

func TestHashEmbedder(t *testing.T) {
	emb := NewHashEmbedder(4)
	assert.Equal(t, 8, emb.Dim)

	a, err := emb.EmbedQuery(context.Background(), "Attention is all you need")
	require.NoError(t, err)
	b, err := emb.EmbedQuery(context.Background(), "attention IS all you need!")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	empty, err := emb.EmbedQuery(context.Background(), "")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, empty[len(empty)-1], 1e-6)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = emb.EmbedQuery(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestValidateRecords(t *testing.T) {
	assert.NoError(t, validateRecords([]Record{{ID: "a", EmbedText: "b"}}))
	assert.ErrorIs(t, validateRecords([]Record{{ID: "a"}}), ErrInvalidRecord)
}

func TestUnavailable(t *testing.T) {
	cause := errors.New("qdrant host not configured")
	store := Unavailable(cause)

	_, err := store.Upsert(context.Background(), []Record{{ID: "a", EmbedText: "a"}})
	assert.ErrorIs(t, err, cause)
	hits, err := store.Query(context.Background(), Query{EmbedText: "a"})
	assert.ErrorIs(t, err, cause)
	assert.Nil(t, hits)
	assert.NoError(t, store.Close())
}
