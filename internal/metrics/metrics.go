package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/miradorstack/mirador-apnea/internal/models"
)

const (
	// OutcomeSuccess labels completed analyses.
	OutcomeSuccess = "success"
	// OutcomeInvalid labels analyses rejected for bad parameters.
	OutcomeInvalid = "invalid"
	// OutcomeStale labels results discarded because a newer job superseded them.
	OutcomeStale = "stale"
	// OutcomeError labels any other failure.
	OutcomeError = "error"
)

var (
	analysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_apnea",
			Name:      "analyses_total",
			Help:      "Total number of analyses handled, partitioned by algorithm and outcome.",
		},
		[]string{"algorithm", "outcome"},
	)

	analysisDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mirador_apnea",
			Name:      "analysis_seconds",
			Help:      "Analysis latency in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"algorithm"},
	)

	clustersFound = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mirador_apnea",
			Name:      "clusters_found",
			Help:      "Finalized clusters per analysis.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		},
		[]string{"algorithm"},
	)

	falseNegativesFound = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_apnea",
			Name:      "false_negatives_found",
			Help:      "False-negative candidates per analysis.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20},
		},
	)

	kmeansNonConvergedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_apnea",
			Name:      "kmeans_nonconverged_total",
			Help:      "K-means runs that hit the iteration cap before assignments settled.",
		},
	)

	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_apnea",
			Name:      "cache_lookups_total",
			Help:      "Result cache lookups, partitioned by hit or miss.",
		},
		[]string{"result"},
	)
)

// Register attaches mirador-apnea collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		analysesTotal,
		analysisDurationSeconds,
		clustersFound,
		falseNegativesFound,
		kmeansNonConvergedTotal,
		cacheLookupsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveAnalysis records an analysis duration and outcome.
func ObserveAnalysis(algorithm string, duration time.Duration, outcome string) {
	switch outcome {
	case OutcomeSuccess, OutcomeInvalid, OutcomeStale:
	default:
		outcome = OutcomeError
	}
	if algorithm == "" {
		algorithm = "unknown"
	}
	analysesTotal.WithLabelValues(algorithm, outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	analysisDurationSeconds.WithLabelValues(algorithm).Observe(duration.Seconds())
}

// ObserveResult records what a successful analysis found.
func ObserveResult(result models.AnalysisResult) {
	clustersFound.WithLabelValues(result.Algorithm).Observe(float64(len(result.Clusters)))
	falseNegativesFound.Observe(float64(len(result.FalseNegatives)))
	if result.KMeans != nil && result.KMeans.MaxIterationsReached {
		kmeansNonConvergedTotal.Inc()
	}
}

// ObserveCacheLookup counts a result cache hit or miss.
func ObserveCacheLookup(hit bool) {
	label := "miss"
	if hit {
		label = "hit"
	}
	cacheLookupsTotal.WithLabelValues(label).Inc()
}
