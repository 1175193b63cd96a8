package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fyrsmithlabs/ragcache/internal/ingest"
	"github.com/spf13/cobra"
)

func newIngestCmd() *cobra.Command {
	var docID, source string
	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Chunk and index a text file",
		Long: `Chunk a text file and write it to the vector store. Pages are separated by
form feeds, as produced by pdftotext, and are recorded on each chunk.

Examples:
  pdftotext handbook.pdf handbook.txt
  ragcache ingest handbook.txt --source handbook.pdf
  ragcache ingest notes.txt --doc-id notes-2024`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read file %s: %w", args[0], err)
			}
			if source == "" {
				source = args[0]
			}

			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			req, err := ingest.RequestFromText(string(content), docID, source, a.cfg.Chunking)
			if err != nil {
				return err
			}
			if len(req.Chunks) == 0 {
				return fmt.Errorf("no text to ingest in %s", args[0])
			}

			vectors, err := a.vectorStore()
			if err != nil {
				return err
			}
			svc := ingest.NewService(vectors, ingest.Config{
				BatchSize:     a.cfg.Ingest.BatchSize,
				RatePerSecond: a.cfg.Ingest.RatePerSecond,
			}, a.logger)

			res, err := svc.Ingest(cmd.Context(), req)
			if err != nil {
				fmt.Fprintf(os.Stderr, "[ragcache] ingested %d of %d chunks\n", res.Upserted, len(req.Chunks))
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVar(&docID, "doc-id", "", "document id (default: random uuid)")
	cmd.Flags().StringVar(&source, "source", "", "source label stored on each chunk (default: file path)")
	return cmd
}
