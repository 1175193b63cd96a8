package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/ragcache/internal/backend"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

const (
	providerQdrant = "qdrant"

	// payloadID keeps the caller's record ID; Qdrant point IDs must be UUIDs.
	payloadID = "_id"
)

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string

	// Port is the gRPC port (6334), not the REST port.
	Port int

	APIKey string
	UseTLS bool

	Collection string

	// VectorSize must match the embedder's output dimension.
	VectorSize uint64

	// MaxMessageSize bounds gRPC messages in both directions.
	MaxMessageSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "ragcache"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// Validate reports absent connection settings as backend.ErrConfigMissing.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return backend.Missing("qdrant host")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid qdrant port: %d", c.Port)
	}
	return nil
}

// QdrantStore implements Store on Qdrant's native gRPC client.
type QdrantStore struct {
	client   *qdrant.Client
	embedder Embedder
	config   QdrantConfig
	logger   *zap.Logger

	mu      sync.Mutex
	ensured bool
}

// NewQdrantStore creates the client. No request is made until first use.
func NewQdrantStore(config QdrantConfig, embedder Embedder, logger *zap.Logger) (*QdrantStore, error) {
	if embedder == nil {
		return nil, backend.Missing("embedder")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if !config.UseTLS {
		logger.Warn("qdrant gRPC using plaintext (TLS disabled)", zap.String("host", config.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, backend.Classify("connecting to qdrant", err)
	}

	return &QdrantStore{client: client, embedder: embedder, config: config, logger: logger}, nil
}

// ensureCollection creates the collection on first use. A failed attempt is
// retried by the next call.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured {
		return nil
	}

	exists, err := s.client.CollectionExists(ctx, s.config.Collection)
	if err != nil {
		return backend.Classify("checking collection", err)
	}
	if !exists {
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.config.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     s.config.VectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return backend.Classify("creating collection", err)
		}
		s.logger.Info("created qdrant collection",
			zap.String("collection", s.config.Collection),
			zap.Uint64("vector_size", s.config.VectorSize),
		)
	}
	s.ensured = true
	return nil
}

// pointID derives a stable UUID from a record ID so upserts replace.
func pointID(id string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(id)).String())
}

// Upsert embeds records and writes them as points.
func (s *QdrantStore) Upsert(ctx context.Context, records []Record) (n int, err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Upsert")
	defer span.End()
	span.SetAttributes(attribute.Int("record_count", len(records)))

	if len(records) == 0 {
		return 0, nil
	}
	if err := validateRecords(records); err != nil {
		return 0, err
	}

	start := time.Now()
	defer func() {
		observe(providerQdrant, "upsert", start, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if err := s.ensureCollection(ctx); err != nil {
		return 0, err
	}

	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = r.EmbedText
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, backend.Classify("embedding records", err)
	}

	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		payload := toPayload(r.Metadata)
		payload[payloadID] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: r.ID}}
		points[i] = &qdrant.PointStruct{
			Id:      pointID(r.ID),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: payload,
		}
	}

	wait := true
	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.config.Collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return 0, backend.Classify("upserting points", err)
	}

	RecordsUpserted.WithLabelValues(providerQdrant).Add(float64(len(points)))
	span.SetStatus(codes.Ok, "success")
	return len(points), nil
}

// Query embeds the query text and runs a filtered similarity search.
func (s *QdrantStore) Query(ctx context.Context, q Query) (hits []Hit, err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Query")
	defer span.End()

	if q.EmbedText == "" {
		return []Hit{}, nil
	}
	k := normalizeTopK(q.TopK)
	span.SetAttributes(attribute.Int("k", k))

	start := time.Now()
	defer func() {
		observe(providerQdrant, "query", start, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}

	vector, err := s.embedder.EmbedQuery(ctx, q.EmbedText)
	if err != nil {
		return nil, backend.Classify("embedding query", err)
	}

	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.config.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         toFilter(q.Filter),
	})
	if err != nil {
		return nil, backend.Classify("searching collection", err)
	}

	hits = make([]Hit, 0, len(results))
	for _, point := range results {
		md := fromPayload(point.Payload)
		id, _ := md[payloadID].(string)
		delete(md, payloadID)
		hits = append(hits, Hit{ID: id, Score: point.Score, Metadata: md})
	}
	span.SetAttributes(attribute.Int("results_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func toFilter(filter map[string]string) *qdrant.Filter {
	if len(filter) == 0 {
		return nil
	}
	conditions := make([]*qdrant.Condition, 0, len(filter))
	for k, v := range filter {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: k,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{Keyword: v},
					},
				},
			},
		})
	}
	return &qdrant.Filter{Must: conditions}
}

func toPayload(md map[string]any) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(md)+1)
	for k, v := range md {
		switch val := v.(type) {
		case nil:
		case string:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
		case int:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
		case int64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
		case *int:
			if val != nil {
				payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(*val)}}
			}
		case float64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
		case bool:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
		default:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: formatValue(val)}}
		}
	}
	return payload
}

func fromPayload(payload map[string]*qdrant.Value) map[string]any {
	md := make(map[string]any, len(payload))
	for k, v := range payload {
		switch val := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			md[k] = val.StringValue
		case *qdrant.Value_IntegerValue:
			md[k] = val.IntegerValue
		case *qdrant.Value_DoubleValue:
			md[k] = val.DoubleValue
		case *qdrant.Value_BoolValue:
			md[k] = val.BoolValue
		}
	}
	return md
}

var _ Store = (*QdrantStore)(nil)
