package vectorgrpc

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/fyrsmithlabs/ragcache/internal/backend"
	"github.com/fyrsmithlabs/ragcache/internal/vectorstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

var tracer = otel.Tracer("ragcache.vectorgrpc")

// Server serves a Store through the vector facade.
type Server struct {
	store  vectorstore.Store
	logger *zap.Logger
}

// NewServer creates a facade over store.
func NewServer(store vectorstore.Store, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{store: store, logger: logger}
}

// UpsertChunks implements VectorServiceServer.
func (s *Server) UpsertChunks(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ctx, span := tracer.Start(ctx, "VectorService.UpsertChunks")
	defer span.End()

	records, err := decodeRecords(req)
	if err != nil {
		return nil, status.Error(grpccodes.InvalidArgument, err.Error())
	}
	if len(records) == 0 {
		return structpb.NewStruct(map[string]any{"upserted": 0})
	}
	span.SetAttributes(attribute.Int("records.count", len(records)))

	n, err := s.store.Upsert(ctx, records)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upsert failed")
		return nil, s.toStatus("upsert", err)
	}
	return structpb.NewStruct(map[string]any{"upserted": n})
}

// QueryChunks implements VectorServiceServer.
func (s *Server) QueryChunks(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ctx, span := tracer.Start(ctx, "VectorService.QueryChunks")
	defer span.End()

	q, err := decodeQuery(req)
	if err != nil {
		return nil, status.Error(grpccodes.InvalidArgument, err.Error())
	}
	if strings.TrimSpace(q.EmbedText) == "" {
		return encodeHits(nil)
	}
	span.SetAttributes(attribute.Int("query.top_k", q.TopK))

	hits, err := s.store.Query(ctx, q)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return nil, s.toStatus("query", err)
	}
	span.SetAttributes(attribute.Int("query.hits", len(hits)))
	return encodeHits(hits)
}

func (s *Server) toStatus(op string, err error) error {
	if errors.Is(err, vectorstore.ErrInvalidRecord) {
		return status.Error(grpccodes.InvalidArgument, err.Error())
	}
	code := backend.GRPCCode(err)
	s.logger.Warn("vector facade call failed",
		zap.String("op", op),
		zap.String("code", code.String()),
		zap.Error(err),
	)
	return status.Error(code, err.Error())
}

// Serve registers the facade on a new grpc.Server and serves lis until ctx
// is canceled, then stops gracefully.
func Serve(ctx context.Context, lis net.Listener, srv *Server, opts ...grpc.ServerOption) error {
	gs := grpc.NewServer(opts...)
	RegisterVectorServiceServer(gs, srv)

	errCh := make(chan error, 1)
	go func() {
		srv.logger.Info("vector facade listening", zap.String("addr", lis.Addr().String()))
		errCh <- gs.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		gs.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}

var _ VectorServiceServer = (*Server)(nil)
