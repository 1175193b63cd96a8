package kvstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fyrsmithlabs/ragcache/internal/backend"
	"go.uber.org/zap"
)

const providerBadger = "badger"

// BadgerConfig configures the embedded store.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path     string
	InMemory bool

	// TTL expires entries after the given duration; zero keeps them forever.
	TTL time.Duration
}

// BadgerStore implements Store on BadgerDB.
type BadgerStore struct {
	db     *badger.DB
	ttl    time.Duration
	logger *zap.Logger
}

// NewBadgerStore opens the database.
func NewBadgerStore(cfg BadgerConfig, logger *zap.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, backend.Missing("badger path")
		}
		path, err := expandPath(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		opts = badger.DefaultOptions(path)
		cfg.Path = path
	}
	opts = opts.WithLogger(&badgerLogger{sugar: logger.Named("badger").Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger database: %w", err)
	}

	logger.Info("badger store opened",
		zap.String("path", cfg.Path),
		zap.Bool("in_memory", cfg.InMemory),
		zap.Duration("ttl", cfg.TTL),
	)
	return &BadgerStore{db: db, ttl: cfg.TTL, logger: logger}, nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}

// Get returns a copy of the stored value.
func (s *BadgerStore) Get(ctx context.Context, key string) (value []byte, err error) {
	start := time.Now()
	defer func() { observe(providerBadger, "get", start, err) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger get %q: %w: %v", key, backend.ErrBackendUnavailable, err)
	}
	return value, nil
}

// Set writes value, applying the configured TTL.
func (s *BadgerStore) Set(ctx context.Context, key string, value []byte) (err error) {
	start := time.Now()
	defer func() { observe(providerBadger, "set", start, err) }()

	if err := ctx.Err(); err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value)
		if s.ttl > 0 {
			entry = entry.WithTTL(s.ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("badger set %q: %w: %v", key, backend.ErrBackendUnavailable, err)
	}
	return nil
}

// Close flushes and closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// badgerLogger routes badger's internal logging through zap. Info is
// demoted to debug; badger is chatty about compactions.
type badgerLogger struct {
	sugar *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.sugar.Errorf(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.sugar.Warnf(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.sugar.Debugf(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.sugar.Debugf(strings.TrimSpace(format), args...)
}

var (
	_ Store         = (*BadgerStore)(nil)
	_ badger.Logger = (*badgerLogger)(nil)
)
