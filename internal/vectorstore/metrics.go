package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("ragcache.vectorstore")

var (
	// OperationDuration tracks backend call latency.
	// Labels: provider (chromem, qdrant, grpc), op (upsert, query), result (ok, error)
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragcache",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector store operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"provider", "op", "result"},
	)

	// RecordsUpserted counts records written.
	RecordsUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragcache",
			Subsystem: "vectorstore",
			Name:      "records_upserted_total",
			Help:      "Total records written to the vector store",
		},
		[]string{"provider"},
	)
)

// observe records the outcome of one operation started at start.
func observe(provider, op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	OperationDuration.WithLabelValues(provider, op, result).Observe(time.Since(start).Seconds())
}
