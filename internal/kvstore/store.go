// Package kvstore holds cached answer payloads keyed by pointer key.
//
// Two providers are available: NATS JetStream KeyValue for shared
// deployments and BadgerDB for a single process (on disk or in memory).
package kvstore

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("key not found")

// Store is a byte-valued key-value store.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Close releases the underlying connection or database.
	Close() error
}

// Unavailable returns a Store that fails every call with err.
func Unavailable(err error) Store {
	return unavailableStore{err: err}
}

type unavailableStore struct {
	err error
}

func (u unavailableStore) Get(context.Context, string) ([]byte, error) { return nil, u.err }

func (u unavailableStore) Set(context.Context, string, []byte) error { return u.err }

func (u unavailableStore) Close() error { return nil }

// OperationDuration tracks KV latency.
// Labels: provider (badger, nats), op (get, set), result (ok, miss, error)
var OperationDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "ragcache",
		Subsystem: "kv",
		Name:      "operation_duration_seconds",
		Help:      "Duration of key-value store operations in seconds",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	},
	[]string{"provider", "op", "result"},
)

func observe(provider, op string, start time.Time, err error) {
	result := "ok"
	switch {
	case errors.Is(err, ErrNotFound):
		result = "miss"
	case err != nil:
		result = "error"
	}
	OperationDuration.WithLabelValues(provider, op, result).Observe(time.Since(start).Seconds())
}
