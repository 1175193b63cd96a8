package kvstore

import (
	"fmt"

	"github.com/fyrsmithlabs/ragcache/internal/config"
	"go.uber.org/zap"
)

// NewStore creates the Store named by cfg.Provider; empty means badger.
func NewStore(cfg config.KVConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Provider {
	case providerBadger, "":
		return NewBadgerStore(BadgerConfig{
			Path:     cfg.BadgerPath,
			InMemory: cfg.BadgerInMemory,
			TTL:      cfg.TTL.Duration(),
		}, logger.With(zap.String("provider", providerBadger)))
	case providerNATS:
		return NewNATSStore(NATSConfig{
			URL:    cfg.NATSURL,
			Token:  cfg.NATSToken.Value(),
			Bucket: cfg.Bucket,
			TTL:    cfg.TTL.Duration(),
		}, logger.With(zap.String("provider", providerNATS)))
	default:
		return nil, fmt.Errorf("unsupported kv provider %q (supported: badger, nats)", cfg.Provider)
	}
}
