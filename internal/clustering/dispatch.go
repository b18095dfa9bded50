package clustering

import (
	"log/slog"

	"github.com/miradorstack/mirador-apnea/internal/models"
	"github.com/miradorstack/mirador-apnea/internal/utils"
)

type strategy func(events []models.ApneaEvent, samples []models.FlgSample, p Params) models.ClusterSet

var strategies = map[Algorithm]strategy{
	AlgorithmBridged: func(events []models.ApneaEvent, samples []models.FlgSample, p Params) models.ClusterSet {
		return models.ClusterSet{Clusters: Bridged(events, samples, p)}
	},
	AlgorithmKMeans: func(events []models.ApneaEvent, _ []models.FlgSample, p Params) models.ClusterSet {
		return KMeans(events, p)
	},
	AlgorithmAgglomerative: func(events []models.ApneaEvent, _ []models.FlgSample, p Params) models.ClusterSet {
		return models.ClusterSet{Clusters: Agglomerative(events, p)}
	},
}

// ClusterApneaEvents runs the selected strategy and annotates every produced cluster with
// metrics and severity. Invalid parameters fail before any clustering happens.
func ClusterApneaEvents(algorithm Algorithm, events []models.ApneaEvent, samples []models.FlgSample, p Params) (models.ClusterSet, error) {
	run, ok := strategies[algorithm]
	if !ok {
		return models.ClusterSet{}, utils.InvalidParameter("cluster apnea events", "unknown algorithm %q", algorithm)
	}
	if err := p.Validate(algorithm); err != nil {
		return models.ClusterSet{}, err
	}
	set := run(events, samples, p)
	Annotate(set.Clusters)
	return set, nil
}

// Engine wraps the dispatcher with developer-facing diagnostics.
type Engine struct {
	logger *slog.Logger
}

// NewEngine constructs an Engine.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// Cluster dispatches to the strategy and logs k-means convergence problems.
func (e *Engine) Cluster(algorithm Algorithm, events []models.ApneaEvent, samples []models.FlgSample, p Params) (models.ClusterSet, error) {
	set, err := ClusterApneaEvents(algorithm, events, samples, p)
	if err != nil {
		return set, err
	}
	if meta := set.Meta; meta != nil {
		if meta.MaxIterationsReached {
			e.logger.Warn("k-means stopped at iteration cap without converging",
				slog.Int("iterations", meta.Iterations),
				slog.Int("k", p.K),
				slog.Int("events", len(events)),
				slog.Float64("wcss", meta.WCSS))
		}
		if meta.KOverspecified {
			e.logger.Debug("k is large relative to event count", slog.Int("k", p.K), slog.Int("events", len(events)))
		}
	}
	return set, nil
}
