package clustering

import (
	"time"

	"github.com/miradorstack/mirador-apnea/internal/models"
)

var night = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func at(sec float64) time.Time {
	return night.Add(models.SecondsToDuration(sec))
}

func apnea(sec, dur float64) models.ApneaEvent {
	return models.ApneaEvent{Timestamp: at(sec), DurationSec: dur, Kind: models.EventObstructive}
}

func flg(sec, level float64) models.FlgSample {
	return models.FlgSample{Timestamp: at(sec), Level: level}
}

func totalCount(clusters []models.Cluster) int {
	total := 0
	for _, c := range clusters {
		total += c.Count
	}
	return total
}

func mixedNight() []models.ApneaEvent {
	return []models.ApneaEvent{
		apnea(3600, 12), apnea(3620, 18), apnea(3700, 25), apnea(3790, 11),
		apnea(7200, 30),
		apnea(9000, 14), apnea(9060, 15), apnea(9100, 10),
		apnea(20000, 22), apnea(20050, 40), apnea(20200, 16),
	}
}
