package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// Metadata keys written by this system.
const (
	MetaKind       = "kind"
	MetaDocID      = "docId"
	MetaSource     = "source"
	MetaPage       = "page"
	MetaText       = "text"
	MetaPointerKey = "pointerKey"
)

// Record kinds.
const (
	KindDoc   = "doc"
	KindCache = "cache"
)

// ErrInvalidRecord indicates a record without an ID or text to embed.
var ErrInvalidRecord = errors.New("invalid record")

// Embedder generates vector embeddings from text.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Record is one entry to index. EmbedText is embedded; Metadata is stored
// alongside and returned on hits.
type Record struct {
	ID        string
	EmbedText string
	Metadata  map[string]any
}

// Query is a top-K similarity search. Filter is a conjunction of equality
// predicates over metadata.
type Query struct {
	EmbedText string
	TopK      int
	Filter    map[string]string
}

// Hit is one ranked result. Score is cosine similarity, higher is closer.
type Hit struct {
	ID       string
	Score    float32
	Metadata map[string]any
}

// Store is a similarity index.
type Store interface {
	// Upsert embeds and stores records, replacing records with the same ID.
	// It returns how many records were written.
	Upsert(ctx context.Context, records []Record) (int, error)

	// Query returns up to TopK hits sorted by descending score. No match is
	// an empty slice and a nil error.
	Query(ctx context.Context, q Query) ([]Hit, error)

	// Close releases connections and flushes state.
	Close() error
}

// Unavailable returns a Store that fails every call with err.
func Unavailable(err error) Store {
	return unavailableStore{err: err}
}

type unavailableStore struct {
	err error
}

func (u unavailableStore) Upsert(context.Context, []Record) (int, error) { return 0, u.err }

func (u unavailableStore) Query(context.Context, Query) ([]Hit, error) { return nil, u.err }

func (u unavailableStore) Close() error { return nil }

// DocsOnly filters document chunks.
func DocsOnly() map[string]string {
	return map[string]string{MetaKind: KindDoc}
}

// CacheOnly filters cached answers.
func CacheOnly() map[string]string {
	return map[string]string{MetaKind: KindCache}
}

// normalizeTopK treats non-positive K as 1.
func normalizeTopK(k int) int {
	if k <= 0 {
		return 1
	}
	return k
}

func validateRecords(records []Record) error {
	for i, r := range records {
		if r.ID == "" {
			return fmt.Errorf("%w: record %d: missing id", ErrInvalidRecord, i)
		}
		if r.EmbedText == "" {
			return fmt.Errorf("%w: record %d (%s): missing embed text", ErrInvalidRecord, i, r.ID)
		}
	}
	return nil
}

// MetaString returns the string stored under key, or "".
func MetaString(md map[string]any, key string) string {
	switch v := md[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return formatValue(v)
	}
}

// MetaInt returns the integer stored under key. Providers that keep
// metadata as strings round-trip numbers as text, so numeric strings are
// accepted.
func MetaInt(md map[string]any, key string) (int, bool) {
	switch v := md[key].(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		if v == math.Trunc(v) {
			return int(v), true
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n, true
		}
	}
	return 0, false
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case *int:
		if val == nil {
			return ""
		}
		return strconv.Itoa(*val)
	default:
		return fmt.Sprint(val)
	}
}
