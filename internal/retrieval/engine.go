// Package retrieval finds document context for a question with a three
// stage fallback: an enhanced query, the raw query, then generic probes.
package retrieval

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/ragcache/internal/backend"
	"github.com/fyrsmithlabs/ragcache/internal/logging"
	"github.com/fyrsmithlabs/ragcache/internal/vectorstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Stage names, as recorded in StageUsed.
const (
	StageEnhanced = "enhanced"
	StageRaw      = "raw"
	StageProbe    = "probe"
	StageNone     = "none"
)

// enhanceSuffix is appended to questions about authorship or document
// metadata so they land near title pages and abstracts.
const enhanceSuffix = " authors names researchers contributors paper title abstract"

var enhancePattern = regexp.MustCompile(`(?i)author|writer|creator|researcher|paper|document|title|abstract`)

// Probes are tried in order when both query stages come back empty.
var Probes = []string{"document", "text content", "paper", "pdf content"}

// StageUsed counts which stage produced each result.
var StageUsed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ragcache",
		Subsystem: "retrieval",
		Name:      "stage_total",
		Help:      "Retrievals by the stage that produced the result",
	},
	[]string{"stage"},
)

var tracer = otel.Tracer("ragcache.retrieval")

// Chunk is a retrieved document passage.
type Chunk struct {
	ID     string
	Score  float32
	Text   string
	Source string
	Page   *int
}

// Config holds the top-K for each stage.
type Config struct {
	EnhancedTopK int
	RawTopK      int
	ProbeTopK    int
}

// DefaultConfig returns 8/10/10.
func DefaultConfig() Config {
	return Config{EnhancedTopK: 8, RawTopK: 10, ProbeTopK: 10}
}

// Engine runs the retrieval chain against a vector store.
type Engine struct {
	store  vectorstore.Store
	cfg    Config
	logger *logging.Logger
}

// New creates an Engine. Zero top-K values take their defaults.
func New(store vectorstore.Store, cfg Config, logger *logging.Logger) *Engine {
	def := DefaultConfig()
	if cfg.EnhancedTopK <= 0 {
		cfg.EnhancedTopK = def.EnhancedTopK
	}
	if cfg.RawTopK <= 0 {
		cfg.RawTopK = def.RawTopK
	}
	if cfg.ProbeTopK <= 0 {
		cfg.ProbeTopK = def.ProbeTopK
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Engine{store: store, cfg: cfg, logger: logger.Named("retrieval")}
}

// Enhance appends the metadata suffix when the query mentions authorship
// or document metadata.
func Enhance(query string) (string, bool) {
	if enhancePattern.MatchString(query) {
		return query + enhanceSuffix, true
	}
	return query, false
}

// Retrieve returns context chunks for query. Stages run strictly in order
// and the first non-empty stage wins. A failing stage counts as empty,
// except for missing configuration, which is returned.
func (e *Engine) Retrieve(ctx context.Context, query string) ([]Chunk, error) {
	if strings.TrimSpace(query) == "" {
		return []Chunk{}, nil
	}

	ctx, span := tracer.Start(ctx, "retrieval.Retrieve")
	defer span.End()

	enhanced, matched := Enhance(query)
	span.SetAttributes(attribute.Bool("retrieval.enhanced", matched))

	chunks, err := e.search(ctx, StageEnhanced, enhanced, e.cfg.EnhancedTopK)
	if err != nil || len(chunks) > 0 {
		return e.finish(ctx, span, StageEnhanced, chunks, err)
	}

	chunks, err = e.search(ctx, StageRaw, query, e.cfg.RawTopK)
	if err != nil || len(chunks) > 0 {
		return e.finish(ctx, span, StageRaw, chunks, err)
	}

	for _, probe := range Probes {
		chunks, err = e.search(ctx, StageProbe, probe, e.cfg.ProbeTopK)
		if err != nil || len(chunks) > 0 {
			return e.finish(ctx, span, StageProbe, chunks, err)
		}
	}

	return e.finish(ctx, span, StageNone, []Chunk{}, nil)
}

func (e *Engine) finish(ctx context.Context, span oteltrace.Span, stage string, chunks []Chunk, err error) ([]Chunk, error) {
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	StageUsed.WithLabelValues(stage).Inc()
	span.SetAttributes(
		attribute.String("retrieval.stage", stage),
		attribute.Int("retrieval.chunks", len(chunks)),
	)
	e.logger.Debug(ctx, "retrieved context",
		zap.String("stage", stage),
		zap.Int("chunks", len(chunks)),
	)
	return chunks, nil
}

// search runs one stage. Only missing configuration and cancellation
// surface as errors.
func (e *Engine) search(ctx context.Context, stage, text string, topK int) ([]Chunk, error) {
	hits, err := e.store.Query(ctx, vectorstore.Query{
		EmbedText: text,
		TopK:      topK,
		Filter:    vectorstore.DocsOnly(),
	})
	if err != nil {
		if errors.Is(err, backend.ErrConfigMissing) {
			return nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		e.logger.Warn(ctx, "retrieval stage failed",
			zap.String("stage", stage),
			zap.Error(err),
		)
		return nil, nil
	}
	return toChunks(hits), nil
}

// toChunks drops hits without text.
func toChunks(hits []vectorstore.Hit) []Chunk {
	chunks := make([]Chunk, 0, len(hits))
	for _, h := range hits {
		text := vectorstore.MetaString(h.Metadata, vectorstore.MetaText)
		if strings.TrimSpace(text) == "" {
			continue
		}
		c := Chunk{
			ID:     h.ID,
			Score:  h.Score,
			Text:   text,
			Source: vectorstore.MetaString(h.Metadata, vectorstore.MetaSource),
		}
		if page, ok := vectorstore.MetaInt(h.Metadata, vectorstore.MetaPage); ok {
			c.Page = &page
		}
		chunks = append(chunks, c)
	}
	return chunks
}
