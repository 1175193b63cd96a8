// Ragcache serves a cache-augmented retrieval chat API.
//
// Usage:
//
//	# Start the HTTP server
//	ragcache serve
//
//	# Index a text file (pages separated by form feeds)
//	ragcache ingest handbook.txt --source handbook.pdf
//
//	# Ask one question from the terminal
//	ragcache ask "what is the return policy?"
//
//	# Serve the vector store over gRPC
//	ragcache vector-grpc
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ragcache",
		Short: "Cache-augmented retrieval chat server",
		Long: `ragcache answers questions over ingested documents. Answers are streamed
as UI message events and cached by query similarity, so repeated questions
are replayed without calling the model.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, gitCommit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $XDG_CONFIG_HOME/ragcache/config.yaml)")
	root.AddCommand(newServeCmd())
	root.AddCommand(newIngestCmd())
	root.AddCommand(newAskCmd())
	root.AddCommand(newVectorGRPCCmd())
	return root
}
