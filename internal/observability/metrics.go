package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cardscan",
		Name:      "scans_total",
		Help:      "Total number of identification attempts by verdict status",
	}, []string{"status"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cardscan",
		Name:      "stage_duration_seconds",
		Help:      "Duration of identification pipeline stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	CardsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cardscan",
		Name:      "cards_ingested_total",
		Help:      "Total number of printings upserted from the upstream catalog",
	}, []string{"set_code"})

	EmbeddingsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cardscan",
		Name:      "embeddings_generated_total",
		Help:      "Total number of printing embeddings generated",
	}, []string{"set_code"})

	ReconcilerCycles = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cardscan",
		Name:      "reconciler_cycles_total",
		Help:      "Total number of completed reconciliation cycles",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cardscan",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cardscan",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
