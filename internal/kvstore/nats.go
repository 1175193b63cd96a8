package kvstore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/ragcache/internal/backend"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

const providerNATS = "nats"

// NATSConfig configures the JetStream KeyValue store.
type NATSConfig struct {
	URL    string
	Token  string
	Bucket string

	// TTL is applied bucket-wide; zero keeps entries forever.
	TTL time.Duration
}

// NATSStore implements Store on a JetStream KeyValue bucket.
type NATSStore struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	cfg    NATSConfig
	logger *zap.Logger

	mu sync.Mutex
	kv jetstream.KeyValue
}

// NewNATSStore connects to NATS. The connection retries in the background,
// and the bucket is created on first use.
func NewNATSStore(cfg NATSConfig, logger *zap.Logger) (*NATSStore, error) {
	if cfg.URL == "" {
		return nil, backend.Missing("nats url")
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "ragcache_answers"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []nats.Option{
		nats.Name("ragcache"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrlRedacted()))
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, backend.Classify("connecting to nats", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, backend.Classify("creating jetstream context", err)
	}

	return &NATSStore{nc: nc, js: js, cfg: cfg, logger: logger}, nil
}

// bucket returns the KeyValue handle, creating the bucket if needed. A
// failed attempt is retried by the next call.
func (s *NATSStore) bucket(ctx context.Context) (jetstream.KeyValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.kv != nil {
		return s.kv, nil
	}
	kv, err := s.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      s.cfg.Bucket,
		Description: "ragcache answer payloads",
		TTL:         s.cfg.TTL,
	})
	if err != nil {
		return nil, backend.Classify("opening kv bucket", err)
	}
	s.logger.Info("nats kv bucket ready", zap.String("bucket", s.cfg.Bucket))
	s.kv = kv
	return kv, nil
}

// natsKey maps pointer keys onto the KV key alphabet, which has no ':'.
func natsKey(key string) string {
	return strings.ReplaceAll(key, ":", ".")
}

func (s *NATSStore) Get(ctx context.Context, key string) (value []byte, err error) {
	start := time.Now()
	defer func() { observe(providerNATS, "get", start, err) }()

	kv, err := s.bucket(ctx)
	if err != nil {
		return nil, err
	}
	entry, err := kv.Get(ctx, natsKey(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, backend.Classify("kv get", err)
	}
	return entry.Value(), nil
}

func (s *NATSStore) Set(ctx context.Context, key string, value []byte) (err error) {
	start := time.Now()
	defer func() { observe(providerNATS, "set", start, err) }()

	kv, err := s.bucket(ctx)
	if err != nil {
		return err
	}
	if _, err := kv.Put(ctx, natsKey(key), value); err != nil {
		return backend.Classify("kv put", err)
	}
	return nil
}

// Close drains pending publishes and closes the connection.
func (s *NATSStore) Close() error {
	if err := s.nc.Drain(); err != nil {
		s.nc.Close()
		return err
	}
	return nil
}

var _ Store = (*NATSStore)(nil)
