package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/ragcache/internal/backend"
	"github.com/fyrsmithlabs/ragcache/internal/chat"
	"github.com/fyrsmithlabs/ragcache/internal/config"
	"github.com/fyrsmithlabs/ragcache/internal/embeddings"
	"github.com/fyrsmithlabs/ragcache/internal/kvstore"
	"github.com/fyrsmithlabs/ragcache/internal/llm"
	"github.com/fyrsmithlabs/ragcache/internal/logging"
	"github.com/fyrsmithlabs/ragcache/internal/retrieval"
	"github.com/fyrsmithlabs/ragcache/internal/semcache"
	"github.com/fyrsmithlabs/ragcache/internal/telemetry"
	"github.com/fyrsmithlabs/ragcache/internal/vectorstore"
	"go.uber.org/zap"

	// Registers the "grpc" vector provider.
	_ "github.com/fyrsmithlabs/ragcache/internal/vectorgrpc"
)

// app holds the clients shared by every command. Clients are created on
// first use and closed in reverse order. A client that is missing required
// settings is replaced by one that returns backend.ErrConfigMissing on
// every call, so the server still starts and each request reports it.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry

	vectors vectorstore.Store
	kv      kvstore.Store
	closers []func() error
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logCfg, err := logging.FromSettings(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return &app{cfg: cfg, logger: logger, telemetry: tel}, nil
}

func (a *app) zap() *zap.Logger {
	return a.logger.Underlying()
}

// vectorStore opens the configured similarity index.
func (a *app) vectorStore() (vectorstore.Store, error) {
	if a.vectors != nil {
		return a.vectors, nil
	}

	store, err := a.openVectorStore()
	if errors.Is(err, backend.ErrConfigMissing) {
		a.unconfigured("vector store", err)
		store = vectorstore.Unavailable(err)
	} else if err != nil {
		return nil, err
	}
	a.vectors = store
	a.closers = append(a.closers, store.Close)
	return store, nil
}

func (a *app) openVectorStore() (vectorstore.Store, error) {
	var embedder vectorstore.Embedder
	// The grpc provider embeds remotely.
	if a.cfg.Vector.Provider != "grpc" {
		svc, err := embeddings.NewService(embeddings.FromSettings(a.cfg.Embeddings), a.zap())
		if err != nil {
			return nil, fmt.Errorf("failed to create embedding service: %w", err)
		}
		embedder = svc
	}

	store, err := vectorstore.NewStore(a.cfg.Vector, embedder, a.zap())
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}
	return store, nil
}

func (a *app) unconfigured(client string, err error) {
	a.logger.Warn(context.Background(), "client not configured; requests that need it will fail",
		zap.String("client", client),
		zap.Error(err),
	)
}

func (a *app) kvStore() (kvstore.Store, error) {
	if a.kv != nil {
		return a.kv, nil
	}
	store, err := kvstore.NewStore(a.cfg.KV, a.zap())
	if errors.Is(err, backend.ErrConfigMissing) {
		a.unconfigured("kv store", err)
		store = kvstore.Unavailable(err)
	} else if err != nil {
		return nil, fmt.Errorf("failed to open kv store: %w", err)
	}
	a.kv = store
	a.closers = append(a.closers, store.Close)
	return store, nil
}

func (a *app) cache() (*semcache.Cache, error) {
	vectors, err := a.vectorStore()
	if err != nil {
		return nil, err
	}
	kv, err := a.kvStore()
	if err != nil {
		return nil, err
	}
	return semcache.New(vectors, kv, a.cfg.Cache.Threshold, a.logger)
}

// orchestrator wires retrieval, generation and cache writes.
func (a *app) orchestrator(ctx context.Context, cache *semcache.Cache) (*chat.Orchestrator, error) {
	vectors, err := a.vectorStore()
	if err != nil {
		return nil, err
	}
	generator, err := llm.New(ctx, llm.FromSettings(a.cfg.LLM), a.zap())
	if errors.Is(err, backend.ErrConfigMissing) {
		a.unconfigured("generator", err)
		generator = llm.Unavailable(err)
	} else if err != nil {
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}

	engine := retrieval.New(vectors, retrieval.Config{
		EnhancedTopK: a.cfg.Retrieval.EnhancedTopK,
		RawTopK:      a.cfg.Retrieval.RawTopK,
		ProbeTopK:    a.cfg.Retrieval.ProbeTopK,
	}, a.logger)

	opts := []chat.Option{chat.WithWriteTimeout(a.cfg.Cache.WriteTimeout.Duration())}
	if cache != nil {
		opts = append(opts, chat.WithCache(cache))
	}
	return chat.NewOrchestrator(engine, generator, a.logger, opts...), nil
}

// Close releases clients and flushes telemetry.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
