package clustering

import (
	"time"

	"github.com/miradorstack/mirador-apnea/internal/models"
	"github.com/miradorstack/mirador-apnea/internal/utils"
)

// Bridged groups apnea events by silent gap, merges across longer gaps that an FLG run
// supports, and grows each window towards adjacent hysteresis-qualified FLG edges.
func Bridged(events []models.ApneaEvent, samples []models.FlgSample, p Params) []models.Cluster {
	if len(events) == 0 {
		return []models.Cluster{}
	}

	sorted := SortEvents(events)
	flg := SortSamples(samples)
	bridges := ThresholdRuns(flg, p.BridgeThreshold, p.BridgeSec)
	edges := EdgeRuns(flg, p.EdgeEnter, p.EdgeExit, p.BridgeSec, p.EdgeMinDurSec)

	groups := chainEvents(sorted, func(gapStart, gapEnd time.Time) bool {
		return utils.SecondsBetween(gapStart, gapEnd) <= p.GapSec || coversGap(bridges, gapStart, gapEnd)
	})
	clusters := buildClusters(groups)
	extendBoundaries(clusters, edges, p.GapSec)

	if p.MinDensity <= 0 {
		return clusters
	}
	kept := clusters[:0]
	for _, c := range clusters {
		if density(c.Count, c.Start, c.End) >= p.MinDensity {
			kept = append(kept, c)
		}
	}
	return kept
}

func coversGap(runs []Run, gapStart, gapEnd time.Time) bool {
	for _, run := range runs {
		if run.Start.After(gapEnd) {
			return false
		}
		if !run.End.Before(gapStart) {
			return true
		}
	}
	return false
}

// extendBoundaries moves each window start back to the nearest edge run ending at or before
// it, and each end forward to the nearest edge run starting at or after it, both within
// gapSec. Neighbouring windows are then clamped so they never overlap.
func extendBoundaries(clusters []models.Cluster, edges []Run, gapSec float64) {
	if len(edges) > 0 {
		for i := range clusters {
			c := &clusters[i]
			if run, ok := nearestRunBefore(edges, c.Start, gapSec); ok && run.Start.Before(c.Start) {
				c.Start = run.Start
			}
			if run, ok := nearestRunAfter(edges, c.End, gapSec); ok && run.End.After(c.End) {
				c.End = run.End
			}
		}
	}

	for i := 0; i+1 < len(clusters); i++ {
		cur, next := &clusters[i], &clusters[i+1]
		if first := next.Events[0].Timestamp; cur.End.After(first) {
			cur.End = first
		}
		if next.Start.Before(cur.End) {
			next.Start = cur.End
		}
	}
	for i := range clusters {
		clusters[i].DurationSec = utils.SecondsBetween(clusters[i].Start, clusters[i].End)
	}
}

func nearestRunBefore(runs []Run, at time.Time, withinSec float64) (Run, bool) {
	var (
		best  Run
		found bool
	)
	for _, run := range runs {
		if run.End.After(at) {
			break
		}
		if utils.SecondsBetween(run.End, at) <= withinSec {
			best, found = run, true
		}
	}
	return best, found
}

func nearestRunAfter(runs []Run, at time.Time, withinSec float64) (Run, bool) {
	for _, run := range runs {
		if run.Start.Before(at) {
			continue
		}
		if utils.SecondsBetween(at, run.Start) <= withinSec {
			return run, true
		}
		return Run{}, false
	}
	return Run{}, false
}
