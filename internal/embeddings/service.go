package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/ragcache/internal/backend"
	"github.com/fyrsmithlabs/ragcache/internal/config"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

// ErrEmptyInput indicates empty or nil input texts.
var ErrEmptyInput = errors.New("empty or nil input texts")

// placeholderToken is sent to self-hosted endpoints that ignore auth; the
// openai client refuses to start without a token.
const placeholderToken = "unused"

// Embedder is satisfied by langchaingo embedders and by Service.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Config holds the embedding endpoint settings.
type Config struct {
	BaseURL   string
	Model     string
	APIKey    string
	BatchSize int
}

// FromSettings maps the embeddings section of the main configuration.
func FromSettings(s config.EmbeddingsConfig) Config {
	return Config{BaseURL: s.BaseURL, Model: s.Model, APIKey: s.APIKey.Value()}
}

// Validate reports missing endpoint settings as backend.ErrConfigMissing.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return backend.Missing("embeddings base URL")
	}
	if c.Model == "" {
		return backend.Missing("embeddings model")
	}
	return nil
}

// Service embeds text through an OpenAI-compatible endpoint and records
// duration, batch size and errors.
type Service struct {
	inner   Embedder
	model   string
	metrics *Metrics
	logger  *zap.Logger
}

// NewService creates a service backed by langchaingo's openai client.
func NewService(cfg Config, logger *zap.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	token := cfg.APIKey
	if token == "" {
		token = placeholderToken
	}

	client, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithToken(token),
	)
	if err != nil {
		return nil, fmt.Errorf("creating embeddings client: %w", err)
	}

	opts := []embeddings.Option{embeddings.WithStripNewLines(true)}
	if cfg.BatchSize > 0 {
		opts = append(opts, embeddings.WithBatchSize(cfg.BatchSize))
	}
	inner, err := embeddings.NewEmbedder(client, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	return NewServiceWithEmbedder(inner, cfg.Model, logger), nil
}

// NewServiceWithEmbedder wraps an existing embedder with metrics.
func NewServiceWithEmbedder(inner Embedder, model string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		inner:   inner,
		model:   model,
		metrics: NewMetrics(logger),
		logger:  logger,
	}
}

// EmbedDocuments embeds texts in order, one vector per input.
func (s *Service) EmbedDocuments(ctx context.Context, texts []string) (vectors [][]float32, err error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordGeneration(ctx, s.model, "embed_documents", time.Since(start), len(texts), err)
	}()

	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	vectors, err = s.inner.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, backend.Classify("embed documents", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embed documents: %w: got %d vectors for %d texts",
			backend.ErrBackendUnavailable, len(vectors), len(texts))
	}
	return vectors, nil
}

// EmbedQuery embeds a single query.
func (s *Service) EmbedQuery(ctx context.Context, text string) (vector []float32, err error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordGeneration(ctx, s.model, "embed_query", time.Since(start), 1, err)
	}()

	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}

	vector, err = s.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, backend.Classify("embed query", err)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("embed query: %w: empty vector", backend.ErrBackendUnavailable)
	}
	return vector, nil
}

var _ Embedder = (*Service)(nil)
