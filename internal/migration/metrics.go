package migration

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	outcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_migration_outcomes_total",
			Help: "Total number of cart migrations by outcome",
		},
		[]string{"outcome"},
	)

	attemptsHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "storefront_migration_attempts",
			Help:    "Number of cart fetches issued per migration",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
		},
	)
)
