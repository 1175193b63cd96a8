package main

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"

	"github.com/fyrsmithlabs/ragcache/internal/chat"
	"github.com/fyrsmithlabs/ragcache/internal/http"
	"github.com/fyrsmithlabs/ragcache/internal/ingest"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat and ingestion HTTP server",
		Long: `Start the HTTP server. POST requests to the chat path are answered from
the semantic cache when a similar question was answered before, and by
retrieval plus generation otherwise.

Examples:
  ragcache serve
  ragcache serve --port 8080
  RAGCACHE_VECTOR_PROVIDER=qdrant ragcache serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if cmd.Flags().Changed("host") {
				a.cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}
			return runServe(cmd.Context(), a)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides server.http_host)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides server.http_port)")
	return cmd
}

// runServe blocks until ctx is canceled, then drains requests and pending
// cache writes.
func runServe(ctx context.Context, a *app) error {
	srv, orchestrator, err := buildServer(ctx, a)
	if err != nil {
		return err
	}

	a.logger.Info(ctx, "starting ragcache",
		zap.String("addr", srv.Addr()),
		zap.String("vector_provider", a.cfg.Vector.Provider),
		zap.String("kv_provider", a.cfg.KV.Provider),
		zap.String("llm_provider", a.cfg.LLM.Provider),
		zap.Float64("cache_threshold", a.cfg.Cache.Threshold),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, nethttp.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn(shutdownCtx, "http shutdown incomplete", zap.Error(err))
	}
	// No handler is running now, so no new cache writes can start.
	orchestrator.Wait()
	a.logger.Info(shutdownCtx, "server shutdown complete")
	return nil
}

// buildServer wires the chat and ingest handlers without listening.
func buildServer(ctx context.Context, a *app) (*http.Server, *chat.Orchestrator, error) {
	cache, err := a.cache()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create semantic cache: %w", err)
	}
	orchestrator, err := a.orchestrator(ctx, cache)
	if err != nil {
		return nil, nil, err
	}
	vectors, err := a.vectorStore()
	if err != nil {
		return nil, nil, err
	}
	ingester := ingest.NewService(vectors, ingest.Config{
		BatchSize:     a.cfg.Ingest.BatchSize,
		RatePerSecond: a.cfg.Ingest.RatePerSecond,
	}, a.logger)

	srv, err := http.NewServer(orchestrator, ingester, a.zap(), &http.Config{
		Host:         a.cfg.Server.Host,
		Port:         a.cfg.Server.Port,
		ChatPath:     a.cfg.Server.ChatPath,
		IngestPath:   a.cfg.Server.IngestPath,
		MaxBodyBytes: a.cfg.Server.MaxBodyBytes,
		Cache:        cache,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create http server: %w", err)
	}
	return srv, orchestrator, nil
}
