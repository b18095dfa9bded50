package clustering

import (
	"sort"
	"time"

	"github.com/miradorstack/mirador-apnea/internal/models"
	"github.com/miradorstack/mirador-apnea/internal/utils"
)

// SortEvents returns a chronologically ordered copy of events.
func SortEvents(events []models.ApneaEvent) []models.ApneaEvent {
	sorted := append([]models.ApneaEvent(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return sorted
}

// SortSamples returns a chronologically ordered copy of samples.
func SortSamples(samples []models.FlgSample) []models.FlgSample {
	sorted := append([]models.FlgSample(nil), samples...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return sorted
}

// chainEvents walks sorted events and starts a new group whenever join rejects the silent gap
// between the running group end and the next event.
func chainEvents(sorted []models.ApneaEvent, join func(gapStart, gapEnd time.Time) bool) [][]models.ApneaEvent {
	if len(sorted) == 0 {
		return nil
	}
	groups := make([][]models.ApneaEvent, 0)
	current := []models.ApneaEvent{sorted[0]}
	currentEnd := sorted[0].End()
	for _, ev := range sorted[1:] {
		if !ev.Timestamp.After(currentEnd) || join(currentEnd, ev.Timestamp) {
			current = append(current, ev)
			if end := ev.End(); end.After(currentEnd) {
				currentEnd = end
			}
			continue
		}
		groups = append(groups, current)
		current = []models.ApneaEvent{ev}
		currentEnd = ev.End()
	}
	return append(groups, current)
}

// newCluster builds the raw window spanning the first event to the latest event end.
func newCluster(events []models.ApneaEvent) models.Cluster {
	c := models.Cluster{
		Start:  events[0].Timestamp,
		End:    events[0].End(),
		Count:  len(events),
		Events: append([]models.ApneaEvent(nil), events...),
	}
	for _, ev := range events {
		if end := ev.End(); end.After(c.End) {
			c.End = end
		}
		c.TotalApneaDurationSec += ev.DurationSec
	}
	c.DurationSec = utils.SecondsBetween(c.Start, c.End)
	return c
}

func buildClusters(groups [][]models.ApneaEvent) []models.Cluster {
	clusters := make([]models.Cluster, 0, len(groups))
	for _, group := range groups {
		clusters = append(clusters, newCluster(group))
	}
	return clusters
}
