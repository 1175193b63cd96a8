package vectorstore

import (
	"fmt"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/ragcache/internal/config"
	"go.uber.org/zap"
)

// Constructor builds a Store for one provider.
type Constructor func(cfg config.VectorConfig, embedder Embedder, logger *zap.Logger) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{
		providerChromem: newChromemFromSettings,
		providerQdrant:  newQdrantFromSettings,
	}
)

// Register adds a provider. Packages that depend on vectorstore (the gRPC
// facade client) register themselves from init to avoid an import cycle.
func Register(provider string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[provider] = ctor
}

// Providers lists registered provider names.
func Providers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewStore creates the Store named by cfg.Provider; empty means chromem.
func NewStore(cfg config.VectorConfig, embedder Embedder, logger *zap.Logger) (Store, error) {
	provider := cfg.Provider
	if provider == "" {
		provider = providerChromem
	}

	registryMu.RLock()
	ctor, ok := registry[provider]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported vector provider %q (registered: %v)", provider, Providers())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return ctor(cfg, embedder, logger.With(zap.String("provider", provider)))
}

func newChromemFromSettings(cfg config.VectorConfig, embedder Embedder, logger *zap.Logger) (Store, error) {
	return NewChromemStore(ChromemConfig{
		Path:       cfg.ChromemPath,
		Compress:   cfg.ChromemCompress,
		InMemory:   cfg.ChromemInMemory,
		Collection: cfg.Collection,
	}, embedder, logger)
}

func newQdrantFromSettings(cfg config.VectorConfig, embedder Embedder, logger *zap.Logger) (Store, error) {
	return NewQdrantStore(QdrantConfig{
		Host:       cfg.QdrantHost,
		Port:       cfg.QdrantPort,
		APIKey:     cfg.QdrantAPIKey.Value(),
		UseTLS:     cfg.QdrantUseTLS,
		Collection: cfg.Collection,
		VectorSize: uint64(cfg.VectorSize),
	}, embedder, logger)
}
