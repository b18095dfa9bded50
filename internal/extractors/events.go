package extractors

import (
	"github.com/miradorstack/mirador-apnea/internal/clustering"
	"github.com/miradorstack/mirador-apnea/internal/models"
)

// RowExtractor splits parsed detail rows into scored apnea events and FLG samples.
type RowExtractor struct{}

// NewRowExtractor creates a row extractor.
func NewRowExtractor() *RowExtractor {
	return &RowExtractor{}
}

// Extraction holds the typed inputs of the clustering core, each sorted by time.
type Extraction struct {
	Events  []models.ApneaEvent
	Samples []models.FlgSample
	Skipped int
}

// Extract classifies every row. Hypopnea rows and unknown labels are skipped.
func (e *RowExtractor) Extract(rows []models.DetailRow) Extraction {
	out := Extraction{
		Events:  make([]models.ApneaEvent, 0),
		Samples: make([]models.FlgSample, 0),
	}
	for _, row := range rows {
		kind, ok := models.ParseEventKind(row.Event)
		switch {
		case ok && kind == models.EventFLG:
			out.Samples = append(out.Samples, models.FlgSample{Timestamp: row.DateTime, Level: row.Data})
		case ok && kind.IsApnea():
			duration := row.Data
			if duration < 0 {
				duration = 0
			}
			out.Events = append(out.Events, models.ApneaEvent{Timestamp: row.DateTime, DurationSec: duration, Kind: kind})
		default:
			out.Skipped++
		}
	}
	out.Events = clustering.SortEvents(out.Events)
	out.Samples = clustering.SortSamples(out.Samples)
	return out
}

// ExtractApneaEvents returns the scored apnea events of rows in chronological order.
func ExtractApneaEvents(rows []models.DetailRow) []models.ApneaEvent {
	return NewRowExtractor().Extract(rows).Events
}

// ExtractFLGSamples returns the FLG samples of rows in chronological order.
func ExtractFLGSamples(rows []models.DetailRow) []models.FlgSample {
	return NewRowExtractor().Extract(rows).Samples
}
