// Package semcache is a similarity-keyed response cache.
//
// An answered query is embedded into the vector store as a cache record
// whose metadata points at a key-value entry holding the answer text and
// citations. A later query whose nearest cache record scores at or above
// the threshold is served from that entry.
package semcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/ragcache/internal/kvstore"
	"github.com/fyrsmithlabs/ragcache/internal/logging"
	"github.com/fyrsmithlabs/ragcache/internal/telemetry"
	"github.com/fyrsmithlabs/ragcache/internal/vectorstore"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// DefaultThreshold is the minimum similarity for a hit.
const DefaultThreshold = 0.95

// KeyPrefix prefixes every pointer key and cache record ID.
const KeyPrefix = "cache:"

// ErrMalformedPayload indicates a KV entry that does not decode to a
// usable answer.
var ErrMalformedPayload = errors.New("malformed cache payload")

var tracer = otel.Tracer("ragcache.semcache")

// Citation is the wire form of a retrieved chunk. Page is null when
// unknown.
type Citation struct {
	ID     string  `json:"id"`
	Source string  `json:"source"`
	Page   *int    `json:"page"`
	Score  float64 `json:"score"`
}

// Payload is the KV value stored under a pointer key.
type Payload struct {
	Query     string     `json:"query"`
	Text      string     `json:"text"`
	Citations []Citation `json:"citations"`
}

// Hit is a cache record that met the threshold.
type Hit struct {
	Score      float32
	PointerKey string
}

// Cache composes a vector store and a key-value store.
type Cache struct {
	vectors   vectorstore.Store
	kv        kvstore.Store
	threshold float64
	logger    *logging.Logger
}

// New creates a Cache. A zero threshold means DefaultThreshold.
func New(vectors vectorstore.Store, kv kvstore.Store, threshold float64, logger *logging.Logger) (*Cache, error) {
	if vectors == nil || kv == nil {
		return nil, errors.New("semcache: vector store and kv store are required")
	}
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("semcache: threshold must be in (0, 1], got %v", threshold)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Cache{vectors: vectors, kv: kv, threshold: threshold, logger: logger.Named("semcache")}, nil
}

// Threshold returns the configured hit threshold.
func (c *Cache) Threshold() float64 {
	return c.threshold
}

// Lookup returns the nearest cache record if it scores at or above the
// threshold. A miss is (nil, nil). Backend errors are returned.
func (c *Cache) Lookup(ctx context.Context, query string) (hit *Hit, err error) {
	defer func() { observeLookup(hit, err) }()

	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	err = telemetry.WithSpan(ctx, tracer, "semcache.Lookup", func(ctx context.Context) error {
		hits, err := c.vectors.Query(ctx, vectorstore.Query{
			EmbedText: query,
			TopK:      1,
			Filter:    vectorstore.CacheOnly(),
		})
		if err != nil {
			return err
		}
		if len(hits) == 0 {
			c.logger.Debug(ctx, "cache miss: no cache records")
			return nil
		}

		best := hits[0]
		// Scores are float32; widening them would put a score equal to
		// the threshold just below it.
		if best.Score < float32(c.threshold) {
			c.logger.Debug(ctx, "cache miss: below threshold",
				zap.Float32("score", best.Score),
				zap.Float64("threshold", c.threshold),
			)
			return nil
		}
		key := vectorstore.MetaString(best.Metadata, vectorstore.MetaPointerKey)
		if key == "" {
			c.logger.Warn(ctx, "cache record without pointer key", zap.String("id", best.ID))
			return nil
		}
		hit = &Hit{Score: best.Score, PointerKey: key}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hit, nil
}

// Fetch loads the payload for a pointer key. An absent entry is
// kvstore.ErrNotFound.
func (c *Cache) Fetch(ctx context.Context, pointerKey string) (*Payload, error) {
	var payload *Payload
	err := telemetry.WithSpan(ctx, tracer, "semcache.Fetch", func(ctx context.Context) error {
		raw, err := c.kv.Get(ctx, pointerKey)
		if err != nil {
			return err
		}
		var p Payload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		if p.Text == "" {
			return fmt.Errorf("%w: empty text", ErrMalformedPayload)
		}
		if p.Citations == nil {
			p.Citations = []Citation{}
		}
		payload = &p
		return nil
	}, attribute.String("pointer_key", pointerKey))
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// Store writes a new cache entry: the payload first, then the cache record
// that points at it. A failure between the two leaves an unreferenced
// payload.
func (c *Cache) Store(ctx context.Context, query, text string, citations []Citation) (err error) {
	defer func() { observeWrite(err) }()

	if strings.TrimSpace(query) == "" || text == "" {
		return errors.New("semcache: query and text are required")
	}
	if citations == nil {
		citations = []Citation{}
	}

	key := KeyPrefix + uuid.NewString()
	start := time.Now()

	return telemetry.WithSpan(ctx, tracer, "semcache.Store", func(ctx context.Context) error {
		raw, err := json.Marshal(Payload{Query: query, Text: text, Citations: citations})
		if err != nil {
			return fmt.Errorf("encoding payload: %w", err)
		}
		if err := c.kv.Set(ctx, key, raw); err != nil {
			return fmt.Errorf("writing payload: %w", err)
		}

		_, err = c.vectors.Upsert(ctx, []vectorstore.Record{{
			ID:        key,
			EmbedText: query,
			Metadata: map[string]any{
				vectorstore.MetaKind:       vectorstore.KindCache,
				vectorstore.MetaPointerKey: key,
			},
		}})
		if err != nil {
			return fmt.Errorf("indexing cache record: %w", err)
		}

		c.logger.Info(ctx, "cached answer",
			zap.String("pointer_key", key),
			zap.Int("citations", len(citations)),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}, attribute.String("pointer_key", key))
}
