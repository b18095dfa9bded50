package clustering

import (
	"time"

	"github.com/miradorstack/mirador-apnea/internal/models"
	"github.com/miradorstack/mirador-apnea/internal/utils"
)

// Agglomerative is single-linkage clustering over the chronological chain: adjacent events
// merge while the silent gap between them is at most p.LinkageThresholdSec.
func Agglomerative(events []models.ApneaEvent, p Params) []models.Cluster {
	if len(events) == 0 {
		return []models.Cluster{}
	}
	groups := chainEvents(SortEvents(events), func(gapStart, gapEnd time.Time) bool {
		return utils.SecondsBetween(gapStart, gapEnd) <= p.LinkageThresholdSec
	})
	return buildClusters(groups)
}
