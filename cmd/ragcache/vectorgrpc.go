package main

import (
	"errors"
	"fmt"
	"net"

	"github.com/fyrsmithlabs/ragcache/internal/vectorgrpc"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newVectorGRPCCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "vector-grpc",
		Short: "Serve the configured vector store over gRPC",
		Long: `Expose the configured vector store as vector.VectorService so other
ragcache instances can use it with vector.provider=grpc.

Examples:
  ragcache vector-grpc
  RAGCACHE_VECTOR_PROVIDER=qdrant ragcache vector-grpc --listen :6000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if a.cfg.Vector.Provider == "grpc" {
				return errors.New("vector-grpc needs a local vector provider, not grpc")
			}
			if listen == "" {
				listen = a.cfg.Facade.ListenAddr
			}

			store, err := a.vectorStore()
			if err != nil {
				return err
			}
			lis, err := net.Listen("tcp", listen)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", listen, err)
			}

			a.logger.Info(cmd.Context(), "serving vector facade", zap.String("addr", lis.Addr().String()))
			return vectorgrpc.Serve(cmd.Context(), lis, vectorgrpc.NewServer(store, a.zap()))
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides facade.listen_addr)")
	return cmd
}
