package clustering

import (
	"math"
	"strings"

	"github.com/miradorstack/mirador-apnea/internal/utils"
)

// Algorithm names a clustering strategy.
type Algorithm string

const (
	AlgorithmBridged       Algorithm = "bridged"
	AlgorithmKMeans        Algorithm = "kmeans"
	AlgorithmAgglomerative Algorithm = "agglomerative"
)

// DefaultMaxIterations caps Lloyd iterations when Params.MaxIterations is zero.
const DefaultMaxIterations = 100

// ParseAlgorithm resolves a strategy name. An empty name selects the bridging engine.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(name))) {
	case "", AlgorithmBridged:
		return AlgorithmBridged, nil
	case AlgorithmKMeans:
		return AlgorithmKMeans, nil
	case AlgorithmAgglomerative:
		return AlgorithmAgglomerative, nil
	default:
		return "", utils.InvalidParameter("parse algorithm", "unknown algorithm %q", name)
	}
}

// Params holds every tunable of the clustering strategies. Each strategy reads only its own fields.
type Params struct {
	// GapSec is the longest silent gap that keeps two consecutive events in one bridged cluster.
	GapSec float64 `yaml:"gapSec"`
	// BridgeThreshold is the FLG level that supports a gap.
	BridgeThreshold float64 `yaml:"bridgeThreshold"`
	// BridgeSec is the largest inter-sample gap inside one FLG run.
	BridgeSec float64 `yaml:"bridgeSec"`
	// EdgeEnter and EdgeExit are the hysteresis thresholds of the boundary edge detector.
	EdgeEnter float64 `yaml:"edgeEnter"`
	EdgeExit  float64 `yaml:"edgeExit"`
	// EdgeMinDurSec is the shortest high-FLG run accepted as a boundary anchor.
	EdgeMinDurSec float64 `yaml:"edgeMinDurSec"`
	// MinDensity drops bridged clusters below this many events per minute. Zero disables it.
	MinDensity float64 `yaml:"minDensity"`

	K             int `yaml:"k"`
	MaxIterations int `yaml:"maxIterations"`

	LinkageThresholdSec float64 `yaml:"linkageThresholdSec"`
}

// DefaultParams returns the application defaults.
func DefaultParams() Params {
	return Params{
		GapSec:              120,
		BridgeThreshold:     0.1,
		BridgeSec:           60,
		EdgeEnter:           0.5,
		EdgeExit:            0.3,
		EdgeMinDurSec:       10,
		K:                   3,
		MaxIterations:       DefaultMaxIterations,
		LinkageThresholdSec: 120,
	}
}

// Validate checks the fields used by algorithm.
func (p Params) Validate(algorithm Algorithm) error {
	const op = "validate params"
	switch algorithm {
	case AlgorithmBridged:
		if invalidSeconds(p.GapSec) {
			return utils.InvalidParameter(op, "gapSec must be a non-negative number, got %v", p.GapSec)
		}
		if invalidSeconds(p.BridgeSec) {
			return utils.InvalidParameter(op, "bridgeSec must be a non-negative number, got %v", p.BridgeSec)
		}
		if invalidSeconds(p.EdgeMinDurSec) {
			return utils.InvalidParameter(op, "edgeMinDurSec must be a non-negative number, got %v", p.EdgeMinDurSec)
		}
		if p.EdgeExit >= p.EdgeEnter {
			return utils.InvalidParameter(op, "edgeExit (%v) must be below edgeEnter (%v)", p.EdgeExit, p.EdgeEnter)
		}
		if p.MinDensity < 0 {
			return utils.InvalidParameter(op, "minDensity must not be negative, got %v", p.MinDensity)
		}
	case AlgorithmKMeans:
		if p.K < 1 {
			return utils.InvalidParameter(op, "k must be at least 1, got %d", p.K)
		}
		if p.MaxIterations < 0 {
			return utils.InvalidParameter(op, "maxIterations must not be negative, got %d", p.MaxIterations)
		}
	case AlgorithmAgglomerative:
		if invalidSeconds(p.LinkageThresholdSec) {
			return utils.InvalidParameter(op, "linkageThresholdSec must be a non-negative number, got %v", p.LinkageThresholdSec)
		}
	default:
		return utils.InvalidParameter(op, "unknown algorithm %q", algorithm)
	}
	return nil
}

func invalidSeconds(v float64) bool {
	return v < 0 || math.IsNaN(v) || math.IsInf(v, 0)
}
