package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_syncd_events_published_total",
			Help: "Engine events handed to Kafka, by topic.",
		},
		[]string{"topic"},
	)

	// Async writes report failures from the writer's completion callback.
	publishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_syncd_event_publish_errors_total",
			Help: "Engine events Kafka failed to accept, by topic.",
		},
		[]string{"topic"},
	)

	publishDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storefront_syncd_event_publish_duration_seconds",
			Help:    "Time spent handing one event to the Kafka writer.",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"topic"},
	)
)
