package clustering

import "github.com/miradorstack/mirador-apnea/internal/models"

// Thresholds are the validity rules applied to annotated clusters.
type Thresholds struct {
	MinCount      int     `yaml:"minCount"`
	MinTotalSec   float64 `yaml:"minTotalSec"`
	MaxClusterSec float64 `yaml:"maxClusterSec"`
	// MinDensity in events per minute; zero disables the check.
	MinDensity float64 `yaml:"minDensity"`
}

// DefaultThresholds returns the application defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{MinCount: 3, MinTotalSec: 60, MaxClusterSec: 230}
}

// Finalize keeps clusters that satisfy every threshold, preserving order. Retained clusters
// are not modified.
func Finalize(clusters []models.Cluster, th Thresholds) []models.Cluster {
	kept := make([]models.Cluster, 0, len(clusters))
	for _, c := range clusters {
		if th.accepts(c) {
			kept = append(kept, c)
		}
	}
	return kept
}

func (th Thresholds) accepts(c models.Cluster) bool {
	if len(c.Events) < th.MinCount {
		return false
	}
	total := 0.0
	for _, ev := range c.Events {
		total += ev.DurationSec
	}
	if total < th.MinTotalSec {
		return false
	}
	if th.MaxClusterSec > 0 && c.DurationSec > th.MaxClusterSec {
		return false
	}
	if th.MinDensity > 0 && density(c.Count, c.Start, c.End) < th.MinDensity {
		return false
	}
	return true
}
