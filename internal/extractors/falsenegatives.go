package extractors

import (
	"math"
	"time"

	"github.com/miradorstack/mirador-apnea/internal/clustering"
	"github.com/miradorstack/mirador-apnea/internal/models"
	"github.com/miradorstack/mirador-apnea/internal/utils"
)

// DefaultAbsenceGuardSec widens each candidate window when looking for a scored apnea.
const DefaultAbsenceGuardSec = 5

// FalseNegativeOptions tunes the false-negative detector.
type FalseNegativeOptions struct {
	FLThreshold     float64 `yaml:"flThreshold"`
	PeakFLGLevelMin float64 `yaml:"peakFLGLevelMin"`
	GapSec          float64 `yaml:"gapSec"`
	MinDurationSec  float64 `yaml:"minDurationSec"`
	MaxDurationSec  float64 `yaml:"maxDurationSec"`
	AbsenceGuardSec float64 `yaml:"absenceGuardSec"`
}

// DefaultFalseNegativeOptions matches the balanced preset.
func DefaultFalseNegativeOptions() FalseNegativeOptions {
	return FalseNegativeOptions{
		FLThreshold:     0.5,
		PeakFLGLevelMin: 0.7,
		GapSec:          60,
		MinDurationSec:  20,
		MaxDurationSec:  600,
		AbsenceGuardSec: DefaultAbsenceGuardSec,
	}
}

// Validate rejects negative windows and an inverted duration range.
func (o FalseNegativeOptions) Validate() error {
	const op = "validate false-negative options"
	for name, v := range map[string]float64{
		"gapSec":          o.GapSec,
		"minDurationSec":  o.MinDurationSec,
		"maxDurationSec":  o.MaxDurationSec,
		"absenceGuardSec": o.AbsenceGuardSec,
	} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return utils.InvalidParameter(op, "%s must be a non-negative number, got %v", name, v)
		}
	}
	if o.MaxDurationSec < o.MinDurationSec {
		return utils.InvalidParameter(op, "maxDurationSec (%v) is below minDurationSec (%v)", o.MaxDurationSec, o.MinDurationSec)
	}
	return nil
}

// FalseNegativeDetector finds sustained flow limitation that the device did not score as an apnea.
type FalseNegativeDetector struct {
	opts FalseNegativeOptions
}

// NewFalseNegativeDetector creates a detector that uses opts as given; a zero absence guard
// only blocks on apneas overlapping the window itself. Callers validate opts first.
func NewFalseNegativeDetector(opts FalseNegativeOptions) *FalseNegativeDetector {
	return &FalseNegativeDetector{opts: opts}
}

// Options returns the effective options.
func (d *FalseNegativeDetector) Options() FalseNegativeOptions {
	return d.opts
}

// DetectRows extracts samples and scored apneas from rows and runs Detect.
func (d *FalseNegativeDetector) DetectRows(rows []models.DetailRow) []models.FalseNegativeCandidate {
	extraction := NewRowExtractor().Extract(rows)
	return d.Detect(extraction.Samples, extraction.Events)
}

// Detect groups high FLG samples by gap and keeps windows of plausible apnea length that
// contain no scored apnea and reach the confidence peak.
func (d *FalseNegativeDetector) Detect(samples []models.FlgSample, events []models.ApneaEvent) []models.FalseNegativeCandidate {
	candidates := make([]models.FalseNegativeCandidate, 0)

	high := make([]models.FlgSample, 0, len(samples))
	for _, s := range samples {
		if s.Level >= d.opts.FLThreshold {
			high = append(high, s)
		}
	}
	if len(high) == 0 {
		return candidates
	}
	high = clustering.SortSamples(high)

	scored := make([]models.ApneaEvent, 0, len(events))
	for _, ev := range events {
		if ev.Kind == "" || ev.Kind.IsApnea() {
			scored = append(scored, ev)
		}
	}

	for _, group := range groupSamples(high, d.opts.GapSec) {
		candidate := summarize(group)
		if candidate.DurationSec < d.opts.MinDurationSec || candidate.DurationSec > d.opts.MaxDurationSec {
			continue
		}
		if candidate.PeakFLGLevel < d.opts.PeakFLGLevelMin {
			continue
		}
		guard := models.SecondsToDuration(d.opts.AbsenceGuardSec)
		if apneaWithin(scored, candidate.Start.Add(-guard), candidate.End.Add(guard)) {
			continue
		}
		candidates = append(candidates, candidate)
	}
	return candidates
}

// DetectFalseNegatives validates opts and runs the detector over detail rows.
func DetectFalseNegatives(rows []models.DetailRow, opts FalseNegativeOptions) ([]models.FalseNegativeCandidate, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return NewFalseNegativeDetector(opts).DetectRows(rows), nil
}

func groupSamples(sorted []models.FlgSample, gapSec float64) [][]models.FlgSample {
	groups := make([][]models.FlgSample, 0)
	current := []models.FlgSample{sorted[0]}
	for _, s := range sorted[1:] {
		prev := current[len(current)-1]
		if utils.SecondsBetween(prev.Timestamp, s.Timestamp) <= gapSec {
			current = append(current, s)
			continue
		}
		groups = append(groups, current)
		current = []models.FlgSample{s}
	}
	return append(groups, current)
}

func summarize(group []models.FlgSample) models.FalseNegativeCandidate {
	start := group[0].Timestamp
	end := group[len(group)-1].Timestamp
	peak := group[0].Level
	for _, s := range group[1:] {
		if s.Level > peak {
			peak = s.Level
		}
	}
	return models.FalseNegativeCandidate{
		Start:        start,
		End:          end,
		DurationSec:  utils.SecondsBetween(start, end),
		PeakFLGLevel: peak,
	}
}

// apneaWithin reports whether any scored apnea overlaps [from, to].
func apneaWithin(events []models.ApneaEvent, from, to time.Time) bool {
	for _, ev := range events {
		if !ev.Timestamp.After(to) && !ev.End().Before(from) {
			return true
		}
	}
	return false
}
