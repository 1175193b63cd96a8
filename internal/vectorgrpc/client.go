package vectorgrpc

import (
	"context"
	"strings"
	"time"

	"github.com/fyrsmithlabs/ragcache/internal/backend"
	"github.com/fyrsmithlabs/ragcache/internal/config"
	"github.com/fyrsmithlabs/ragcache/internal/vectorstore"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

const providerGRPC = "grpc"

func init() {
	vectorstore.Register(providerGRPC, func(cfg config.VectorConfig, _ vectorstore.Embedder, logger *zap.Logger) (vectorstore.Store, error) {
		return NewClient(cfg.GRPCAddr, logger)
	})
}

// Client implements vectorstore.Store against a remote facade. Embedding
// happens on the server, so the client holds no Embedder.
type Client struct {
	conn   *grpc.ClientConn
	logger *zap.Logger
}

// NewClient creates a client for addr. No connection is made until the
// first call.
func NewClient(addr string, logger *zap.Logger, opts ...grpc.DialOption) (*Client, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, backend.Missing("vector.grpc_addr")
	}
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, backend.Classify("creating vector facade client", err)
	}
	return NewClientFromConn(conn, logger), nil
}

// NewClientFromConn wraps an existing connection. Close closes conn.
func NewClientFromConn(conn *grpc.ClientConn, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{conn: conn, logger: logger}
}

// Upsert implements vectorstore.Store.
func (c *Client) Upsert(ctx context.Context, records []vectorstore.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	req, err := encodeRecords(records)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, upsertMethod, req, resp); err != nil {
		return 0, backend.FromGRPC("vector facade upsert", err)
	}
	n := int(resp.GetFields()["upserted"].GetNumberValue())
	c.logger.Debug("upserted via vector facade",
		zap.Int("count", n),
		zap.Duration("duration", time.Since(start)),
	)
	return n, nil
}

// Query implements vectorstore.Store.
func (c *Client) Query(ctx context.Context, q vectorstore.Query) ([]vectorstore.Hit, error) {
	if q.EmbedText == "" {
		return []vectorstore.Hit{}, nil
	}
	if q.TopK <= 0 {
		q.TopK = 1
	}
	req, err := encodeQuery(q, false)
	if err != nil {
		return nil, err
	}

	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, queryMethod, req, resp); err != nil {
		return nil, backend.FromGRPC("vector facade query", err)
	}
	return decodeHits(resp), nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

var _ vectorstore.Store = (*Client)(nil)
