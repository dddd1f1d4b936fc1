// Package metrics holds the Prometheus instrumentation of the service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "aicaptcha"

// Challenge outcomes.
const (
	OutcomeIssued       = "issued"
	OutcomeUnauthorized = "unauthorized"
	OutcomeInvalid      = "invalid"
	OutcomeError        = "error"
)

var (
	ChallengesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "challenges_total",
			Help:      "Challenge requests by outcome",
		},
		[]string{"outcome"},
	)

	ChallengeScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "challenge_score",
			Help:      "Distribution of issued risk scores",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	LabeledWritesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "labeled_writes_total",
			Help:      "Labeled record writes observed by the retrain counter",
		},
	)

	RetrainsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrains_total",
			Help:      "Retrain runs by result",
		},
		[]string{"result"},
	)

	RetrainDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrain_duration_seconds",
			Help:      "Duration of retrain runs in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	ModelLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_loaded",
			Help:      "1 when a classifier model is active, 0 when serving the fallback score",
		},
	)
)

// RecordChallenge counts one challenge and, when issued, its score.
func RecordChallenge(outcome string, score float64) {
	ChallengesTotal.WithLabelValues(outcome).Inc()
	if outcome == OutcomeIssued {
		ChallengeScore.Observe(score)
	}
}

// RecordRetrain records a finished retrain run.
func RecordRetrain(duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	RetrainsTotal.WithLabelValues(result).Inc()
	RetrainDuration.Observe(duration.Seconds())
}

// SetModelLoaded updates the model_loaded gauge.
func SetModelLoaded(loaded bool) {
	if loaded {
		ModelLoaded.Set(1)
		return
	}
	ModelLoaded.Set(0)
}
