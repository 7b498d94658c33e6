package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	journeysCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cardflow",
			Subsystem: "journey",
			Name:      "created_total",
			Help:      "Number of journeys created.",
		}, []string{"priority"},
	)
	stageTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cardflow",
			Subsystem: "journey",
			Name:      "transitions_total",
			Help:      "Number of applied stage transitions.",
		}, []string{"from", "to"},
	)
	transitionConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cardflow",
			Subsystem: "journey",
			Name:      "write_conflicts_total",
			Help:      "Number of optimistic write conflicts observed by advance.",
		},
	)
	stageDwell = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cardflow",
			Subsystem: "journey",
			Name:      "stage_dwell_minutes",
			Help:      "Observed dwell time per completed stage, in minutes.",
			Buckets:   []float64{15, 60, 240, 480, 960, 2880, 10080},
		}, []string{"stage"},
	)
	analysisRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cardflow",
			Subsystem: "analytics",
			Name:      "runs_total",
			Help:      "Number of bottleneck analysis runs by outcome.",
		}, []string{"outcome"},
	)
	analysisDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "cardflow",
			Subsystem: "analytics",
			Name:      "run_duration_seconds",
			Help:      "Wall time of one bottleneck analysis run.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	subscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cardflow",
			Subsystem: "fanout",
			Name:      "subscribers",
			Help:      "Currently attached notification subscribers.",
		},
	)
	broadcasts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cardflow",
			Subsystem: "fanout",
			Name:      "broadcasts_total",
			Help:      "Broadcast events by type.",
		}, []string{"type"},
	)
	broadcastDrops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cardflow",
			Subsystem: "fanout",
			Name:      "dropped_subscribers_total",
			Help:      "Subscribers removed after a failed or timed-out write.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		journeysCreated, stageTransitions, transitionConflicts, stageDwell,
		analysisRuns, analysisDuration, subscribers, broadcasts, broadcastDrops,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving Prometheus metrics for the
// DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncCreated(priority string) {
	if regOK.Load() {
		journeysCreated.WithLabelValues(priority).Inc()
	}
}

func IncTransition(from, to string) {
	if regOK.Load() {
		stageTransitions.WithLabelValues(from, to).Inc()
	}
}

func IncConflict() {
	if regOK.Load() {
		transitionConflicts.Inc()
	}
}

func ObserveDwell(stage string, minutes float64) {
	if regOK.Load() {
		stageDwell.WithLabelValues(stage).Observe(minutes)
	}
}

func IncAnalysisRun(outcome string) {
	if regOK.Load() {
		analysisRuns.WithLabelValues(outcome).Inc()
	}
}

func ObserveAnalysisDuration(seconds float64) {
	if regOK.Load() {
		analysisDuration.Observe(seconds)
	}
}

func SetSubscribers(n int) {
	if regOK.Load() {
		subscribers.Set(float64(n))
	}
}

func IncBroadcast(eventType string) {
	if regOK.Load() {
		broadcasts.WithLabelValues(eventType).Inc()
	}
}

func IncDroppedSubscriber() {
	if regOK.Load() {
		broadcastDrops.Inc()
	}
}
