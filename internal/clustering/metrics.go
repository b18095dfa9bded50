package clustering

import (
	"math"
	"time"

	"github.com/miradorstack/mirador-apnea/internal/models"
	"github.com/miradorstack/mirador-apnea/internal/utils"
)

// SeverityWeights scales the log-compressed terms of the severity score. Every weight must be
// positive for the score to grow with each term.
type SeverityWeights struct {
	Duration        float64
	Density         float64
	WeightedDensity float64
	Extension       float64
}

// DefaultSeverityWeights favours total apnea time, then density, then boundary growth.
func DefaultSeverityWeights() SeverityWeights {
	return SeverityWeights{
		Duration:        1.0,
		Density:         0.75,
		WeightedDensity: 0.5,
		Extension:       0.25,
	}
}

// Annotate fills the derived fields of every cluster in place and returns the same slice.
func Annotate(clusters []models.Cluster) []models.Cluster {
	weights := DefaultSeverityWeights()
	for i := range clusters {
		annotate(&clusters[i], weights)
	}
	return clusters
}

func annotate(c *models.Cluster, w SeverityWeights) {
	c.Count = len(c.Events)
	c.DurationSec = utils.SecondsBetween(c.Start, c.End)
	c.TotalApneaDurationSec = 0
	for _, ev := range c.Events {
		c.TotalApneaDurationSec += ev.DurationSec
	}
	c.Density = density(c.Count, c.Start, c.End)
	c.WeightedDensity = density(1, c.Start, c.End) * c.TotalApneaDurationSec
	c.ExtensionSec = extension(*c)
	c.Severity = ScoreSeverity(*c, w)
}

// ScoreSeverity combines total apnea time, density, weighted density and boundary extension.
func ScoreSeverity(c models.Cluster, w SeverityWeights) float64 {
	return w.Duration*math.Log1p(nonNegative(c.TotalApneaDurationSec)) +
		w.Density*math.Log1p(nonNegative(c.Density)) +
		w.WeightedDensity*math.Log1p(nonNegative(c.WeightedDensity)) +
		w.Extension*math.Log1p(nonNegative(c.ExtensionSec))
}

// density returns count per minute of window; a zero-width window counts as one minute.
func density(count int, start, end time.Time) float64 {
	minutes := utils.DurationMinutes(start, end)
	if minutes <= 0 {
		return float64(count)
	}
	return float64(count) / minutes
}

// extension measures how far the window reaches beyond the first-event to last-end span.
func extension(c models.Cluster) float64 {
	if len(c.Events) == 0 {
		return 0
	}
	rawStart := c.Events[0].Timestamp
	rawEnd := c.Events[0].End()
	for _, ev := range c.Events[1:] {
		if ev.Timestamp.Before(rawStart) {
			rawStart = ev.Timestamp
		}
		if end := ev.End(); end.After(rawEnd) {
			rawEnd = end
		}
	}
	return nonNegative(utils.SecondsBetween(c.Start, rawStart)) + nonNegative(utils.SecondsBetween(rawEnd, c.End))
}

func nonNegative(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	return v
}
