package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fyrsmithlabs/ragcache/internal/backend"
	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const providerChromem = "chromem"

// ChromemConfig holds configuration for the embedded chromem-go database.
type ChromemConfig struct {
	// Path is the persistence directory. Ignored when InMemory is set.
	Path string

	// Compress enables gzip compression of persisted documents.
	Compress bool

	// InMemory keeps everything in process memory.
	InMemory bool

	// Collection holds both documents and cached answers.
	Collection string
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "~/.local/share/ragcache/vectors"
	}
	if c.Collection == "" {
		c.Collection = "ragcache"
	}
}

// ChromemStore implements Store on an embedded chromem-go database.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	embedder   Embedder
	config     ChromemConfig
	logger     *zap.Logger
}

// NewChromemStore opens (or creates) the database and its collection.
func NewChromemStore(config ChromemConfig, embedder Embedder, logger *zap.Logger) (*ChromemStore, error) {
	if embedder == nil {
		return nil, backend.Missing("embedder")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()

	var db *chromem.DB
	if config.InMemory {
		db = chromem.NewDB()
	} else {
		path, err := expandPath(config.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		db, err = chromem.NewPersistentDB(path, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
		config.Path = path
	}

	s := &ChromemStore{db: db, embedder: embedder, config: config, logger: logger}

	collection, err := db.GetOrCreateCollection(config.Collection, nil, s.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", config.Collection, err)
	}
	s.collection = collection

	logger.Info("chromem store initialized",
		zap.String("collection", config.Collection),
		zap.Bool("in_memory", config.InMemory),
		zap.String("path", config.Path),
		zap.Int("documents", collection.Count()),
	)

	return s, nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}

// embeddingFunc lets chromem embed on its own if a document arrives without
// a vector. Upsert always supplies one.
func (s *ChromemStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.EmbedQuery(ctx, text)
	}
}

// Upsert embeds records in one batch and writes them.
func (s *ChromemStore) Upsert(ctx context.Context, records []Record) (n int, err error) {
	ctx, span := tracer.Start(ctx, "ChromemStore.Upsert")
	defer span.End()
	span.SetAttributes(attribute.Int("record_count", len(records)))

	if len(records) == 0 {
		return 0, nil
	}
	if err := validateRecords(records); err != nil {
		return 0, err
	}

	start := time.Now()
	defer func() { observe(providerChromem, "upsert", start, err) }()

	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = r.EmbedText
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, backend.Classify("embedding records", err)
	}

	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		docs[i] = chromem.Document{
			ID:        r.ID,
			Content:   r.EmbedText,
			Metadata:  toStringMetadata(r.Metadata),
			Embedding: vectors[i],
		}
	}

	// Vectors are precomputed, so one goroutine is enough.
	if err := s.collection.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, backend.Classify("adding documents", err)
	}

	RecordsUpserted.WithLabelValues(providerChromem).Add(float64(len(docs)))
	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("upserted records", zap.Int("count", len(docs)))
	return len(docs), nil
}

// Query embeds the query text and searches the collection.
func (s *ChromemStore) Query(ctx context.Context, q Query) (hits []Hit, err error) {
	ctx, span := tracer.Start(ctx, "ChromemStore.Query")
	defer span.End()

	if q.EmbedText == "" {
		return []Hit{}, nil
	}
	k := normalizeTopK(q.TopK)
	span.SetAttributes(attribute.Int("k", k))

	start := time.Now()
	defer func() { observe(providerChromem, "query", start, err) }()

	// chromem rejects nResults greater than the collection size.
	count := s.collection.Count()
	if count == 0 {
		return []Hit{}, nil
	}
	if k > count {
		k = count
	}

	vector, err := s.embedder.EmbedQuery(ctx, q.EmbedText)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, backend.Classify("embedding query", err)
	}

	var where map[string]string
	if len(q.Filter) > 0 {
		where = q.Filter
	}
	results, err := s.collection.QueryEmbedding(ctx, vector, k, where, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, backend.Classify("querying collection", err)
	}

	hits = make([]Hit, len(results))
	for i, r := range results {
		hits[i] = Hit{
			ID:       r.ID,
			Score:    r.Similarity,
			Metadata: fromStringMetadata(r.Metadata),
		}
	}
	span.SetAttributes(attribute.Int("results_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

// Count returns the number of stored records.
func (s *ChromemStore) Count() int {
	return s.collection.Count()
}

// Close is a no-op: persistent databases write on every change.
func (s *ChromemStore) Close() error {
	s.logger.Info("chromem store closed")
	return nil
}

// toStringMetadata flattens metadata for chromem, which stores strings only.
func toStringMetadata(md map[string]any) map[string]string {
	if md == nil {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		if v == nil {
			continue
		}
		if p, ok := v.(*int); ok && p == nil {
			continue
		}
		out[k] = formatValue(v)
	}
	return out
}

func fromStringMetadata(md map[string]string) map[string]any {
	out := make(map[string]any, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}

var _ Store = (*ChromemStore)(nil)
