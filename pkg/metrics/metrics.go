// Package metrics exposes prometheus counters for the ingest, recall
// and lifecycle paths, plus the HTTP request metrics served at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	IngestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cortex_ingests_total",
		Help: "Total ingest requests processed.",
	})

	RecallsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cortex_recalls_total",
		Help: "Total recall requests processed.",
	})

	MemoriesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cortex_memories_written_total",
		Help: "Memories inserted or smart-updated by the writer.",
	})

	DedupHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cortex_dedup_hits_total",
		Help: "Extractions skipped as exact duplicates.",
	})

	SmartUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cortex_smart_updates_total",
		Help: "Extractions that superseded an existing memory.",
	})

	LifecycleTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cortex_lifecycle_transitions_total",
		Help: "Memory layer transitions per lifecycle stage.",
	}, []string{"stage"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cortex_http_requests_total",
		Help: "HTTP requests by method, route pattern and status.",
	}, []string{"method", "path", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cortex_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern.",
		Buckets: prometheus.DefBuckets,
	}, []string{"path"})
)

// Handler serves the prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
