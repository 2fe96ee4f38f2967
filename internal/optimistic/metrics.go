package optimistic

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_optimistic_mutations_total",
			Help: "Optimistic mutations by entity, operation and outcome (confirmed, rolled_back, canceled)",
		},
		[]string{"entity", "op", "outcome"},
	)

	commitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storefront_optimistic_commit_duration_seconds",
			Help:    "Duration of the remote commit behind an optimistic mutation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"entity", "op"},
	)

	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "storefront_optimistic_pending",
			Help: "Projections waiting for their remote commit",
		},
		[]string{"entity"},
	)
)
