package semcache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Lookups counts cache lookups by result (hit, miss, error).
	Lookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragcache",
			Subsystem: "semcache",
			Name:      "lookups_total",
			Help:      "Semantic cache lookups by result",
		},
		[]string{"result"},
	)

	// Writes counts cache writes by result (ok, error).
	Writes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragcache",
			Subsystem: "semcache",
			Name:      "writes_total",
			Help:      "Semantic cache writes by result",
		},
		[]string{"result"},
	)
)

func observeLookup(hit *Hit, err error) {
	switch {
	case err != nil:
		Lookups.WithLabelValues("error").Inc()
	case hit != nil:
		Lookups.WithLabelValues("hit").Inc()
	default:
		Lookups.WithLabelValues("miss").Inc()
	}
}

func observeWrite(err error) {
	if err != nil {
		Writes.WithLabelValues("error").Inc()
		return
	}
	Writes.WithLabelValues("ok").Inc()
}
