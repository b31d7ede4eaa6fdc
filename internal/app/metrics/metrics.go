package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Triage metrics
var (
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailtriage_runs_total",
			Help: "Total number of triage runs",
		},
		[]string{"result"},
	)

	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailtriage_messages_total",
			Help: "Total number of messages handled, by outcome",
		},
		[]string{"outcome"},
	)

	MovesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailtriage_moves_total",
			Help: "Total number of messages moved, by destination folder",
		},
		[]string{"folder"},
	)

	MoveFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailtriage_move_failures_total",
			Help: "Total number of failed moves, by the step that failed",
		},
		[]string{"stage"},
	)

	ClassifyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mailtriage_classify_duration_seconds",
			Help:    "Duration of classifier calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)
