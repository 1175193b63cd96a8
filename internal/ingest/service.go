// Package ingest writes uploaded document chunks to the vector store in
// batches.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/ragcache/internal/backend"
	"github.com/fyrsmithlabs/ragcache/internal/chunking"
	"github.com/fyrsmithlabs/ragcache/internal/logging"
	"github.com/fyrsmithlabs/ragcache/internal/vectorstore"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultBatchSize is the number of records per upsert.
const DefaultBatchSize = 50

var tracer = otel.Tracer("ragcache.ingest")

var (
	// RecordsIngested counts document records written.
	RecordsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ragcache",
		Subsystem: "ingest",
		Name:      "records_total",
		Help:      "Document records written to the vector store",
	})

	// Batches counts upsert batches by result (ok, rate_limited, error).
	Batches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragcache",
			Subsystem: "ingest",
			Name:      "batches_total",
			Help:      "Ingestion upsert batches by result",
		},
		[]string{"result"},
	)
)

// Config configures a Service.
type Config struct {
	// BatchSize defaults to 50.
	BatchSize int
	// RatePerSecond paces batches; zero means unlimited.
	RatePerSecond float64
}

// Result reports a finished or partially finished ingestion.
type Result struct {
	DocID    string `json:"docId"`
	Upserted int    `json:"upserted"`
}

// Service validates and ingests document chunks.
type Service struct {
	store     vectorstore.Store
	batchSize int
	limiter   *rate.Limiter
	validate  *validator.Validate
	logger    *logging.Logger
}

// NewService creates a Service.
func NewService(store vectorstore.Store, cfg Config, logger *logging.Logger) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Service{
		store:     store,
		batchSize: cfg.BatchSize,
		validate:  newValidator(),
		logger:    logger.Named("ingest"),
	}
	if cfg.RatePerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	return s
}

// Validate checks req without writing anything.
func (s *Service) Validate(req *Request) error {
	return Validate(s.validate, req)
}

// Ingest validates req and upserts its chunks in batches. Records are
// doc:{docId}:{i} with i the chunk's position in req. On failure the
// returned Result counts the records written before the failing batch and
// the remaining batches are not attempted.
func (s *Service) Ingest(ctx context.Context, req Request) (Result, error) {
	if err := s.Validate(&req); err != nil {
		return Result{}, err
	}

	docID := uuid.NewString()
	if req.DocID != nil {
		docID = *req.DocID
	}
	source := "doc:" + docID
	if req.Source != nil {
		source = *req.Source
	}
	res := Result{DocID: docID}

	ctx = logging.WithDocID(ctx, docID)
	ctx, span := tracer.Start(ctx, "ingest.Ingest")
	defer span.End()
	span.SetAttributes(
		attribute.String("doc.id", docID),
		attribute.Int("chunks.count", len(req.Chunks)),
	)

	start := time.Now()
	for offset := 0; offset < len(req.Chunks); offset += s.batchSize {
		end := min(offset+s.batchSize, len(req.Chunks))
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return res, err
			}
		}

		records := make([]vectorstore.Record, 0, end-offset)
		for i := offset; i < end; i++ {
			records = append(records, docRecord(docID, source, i, req.Chunks[i]))
		}

		n, err := s.store.Upsert(ctx, records)
		if err != nil {
			result := "error"
			if errors.Is(err, backend.ErrRateLimited) {
				result = "rate_limited"
			}
			Batches.WithLabelValues(result).Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, "batch upsert failed")
			s.logger.Warn(ctx, "ingest batch failed",
				zap.Int("offset", offset),
				zap.Int("upserted", res.Upserted),
				zap.Error(err),
			)
			return res, fmt.Errorf("upserting chunks %d-%d: %w", offset, end-1, err)
		}
		Batches.WithLabelValues("ok").Inc()
		RecordsIngested.Add(float64(n))
		res.Upserted += n
	}

	span.SetAttributes(attribute.Int("records.upserted", res.Upserted))
	s.logger.Info(ctx, "document ingested",
		zap.String("source", source),
		zap.Int("upserted", res.Upserted),
		zap.Duration("duration", time.Since(start)),
	)
	return res, nil
}

// RequestFromText chunks extracted document text into a Request. Pages
// are separated by form feeds.
func RequestFromText(text string, docID, source string, opts chunking.Options) (Request, error) {
	chunks, err := chunking.ChunkPages(text, opts)
	if err != nil {
		return Request{}, err
	}
	req := Request{Chunks: make([]Chunk, len(chunks))}
	for i, c := range chunks {
		req.Chunks[i] = Chunk{Text: c.Text, Page: c.Page}
	}
	if docID != "" {
		req.DocID = &docID
	}
	if source != "" {
		req.Source = &source
	}
	return req, nil
}

func docRecord(docID, source string, i int, c Chunk) vectorstore.Record {
	md := map[string]any{
		vectorstore.MetaKind:   vectorstore.KindDoc,
		vectorstore.MetaDocID:  docID,
		vectorstore.MetaSource: source,
		vectorstore.MetaText:   c.Text,
	}
	if c.Page != nil {
		md[vectorstore.MetaPage] = *c.Page
	}
	return vectorstore.Record{
		ID:        fmt.Sprintf("doc:%s:%d", docID, i),
		EmbedText: c.Text,
		Metadata:  md,
	}
}
