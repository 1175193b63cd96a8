// Package vectorstore is the similarity index shared by document chunks and
// cached answers.
//
// Callers never see vectors: a Store owns its Embedder, embeds
// Record.EmbedText on Upsert and Query.EmbedText on Query, and returns hits
// ranked by descending similarity. Document and cache records live in the
// same collection and are told apart only by the "kind" metadata key.
//
// # Providers
//
//   - chromem: embedded chromem-go database, persisted to disk or in memory
//   - qdrant: hosted Qdrant over gRPC
//   - grpc: a remote ragcache vector facade, registered by package vectorgrpc
//
// NewStore picks the provider from configuration:
//
//	store, err := vectorstore.NewStore(cfg.Vector, embedder, logger)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	hits, err := store.Query(ctx, vectorstore.Query{
//	    EmbedText: "who wrote the paper",
//	    TopK:      8,
//	    Filter:    vectorstore.DocsOnly(),
//	})
//
// # Errors
//
// Constructors return backend.ErrConfigMissing before any network call when
// an endpoint or credential is absent. Network and backend failures are
// wrapped with backend.ErrBackendUnavailable (or backend.ErrRateLimited) and
// are never retried here.
package vectorstore
