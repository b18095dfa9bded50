package engine

import (
	"sort"

	"github.com/miradorstack/mirador-apnea/internal/models"
)

// Severity band lower bounds.
const (
	mediumSeverity   = 6.0
	highSeverity     = 8.0
	criticalSeverity = 10.0
)

// SeverityBand buckets a severity score for display.
func SeverityBand(score float64) models.Severity {
	switch {
	case score >= criticalSeverity:
		return models.SeverityCritical
	case score >= highSeverity:
		return models.SeverityHigh
	case score >= mediumSeverity:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// Rank orders clusters by severity, highest first. Equal scores keep chronological order.
func Rank(clusters []models.Cluster) []models.RankedCluster {
	ranked := make([]models.RankedCluster, 0, len(clusters))
	for i, c := range clusters {
		ranked = append(ranked, models.RankedCluster{
			Index:    i,
			Severity: c.Severity,
			Band:     SeverityBand(c.Severity),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Severity > ranked[j].Severity
	})

	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}
