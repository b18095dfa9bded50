package clustering

import (
	"time"

	"github.com/miradorstack/mirador-apnea/internal/models"
	"github.com/miradorstack/mirador-apnea/internal/utils"
)

// EdgeState is the position of the edge detector relative to its thresholds.
type EdgeState int

const (
	// StateBelow: no run open.
	StateBelow EdgeState = iota
	// StateRising: run open but shorter than the minimum duration.
	StateRising
	// StateSustained: run long enough and level at or above the enter threshold.
	StateSustained
	// StateFalling: run long enough, level inside the [exit, enter) band.
	StateFalling
)

func (s EdgeState) String() string {
	switch s {
	case StateRising:
		return "rising"
	case StateSustained:
		return "sustained"
	case StateFalling:
		return "falling"
	default:
		return "below"
	}
}

// Run is a contiguous stretch of FLG samples.
type Run struct {
	Start time.Time
	End   time.Time
	Peak  float64
}

// DurationSec returns the span of the run.
func (r Run) DurationSec() float64 {
	return utils.SecondsBetween(r.Start, r.End)
}

// EdgeDetector is a hysteresis state machine over chronologically ordered FLG samples.
// A run opens when the level reaches enter and survives dips while the level stays at or
// above exit. It closes on a drop below exit or when consecutive samples are more than
// maxGapSec apart, and is reported only if it lasted at least minDurSec.
type EdgeDetector struct {
	enter     float64
	exit      float64
	maxGapSec float64
	minDurSec float64

	state EdgeState
	run   Run
	last  time.Time
}

// NewEdgeDetector constructs a detector in StateBelow.
func NewEdgeDetector(enter, exit, maxGapSec, minDurSec float64) *EdgeDetector {
	return &EdgeDetector{enter: enter, exit: exit, maxGapSec: maxGapSec, minDurSec: minDurSec}
}

// State returns the current state.
func (d *EdgeDetector) State() EdgeState {
	return d.state
}

// Step feeds the next sample. When the sample closes a qualifying run, that run is returned.
func (d *EdgeDetector) Step(s models.FlgSample) (Run, bool) {
	if d.state == StateBelow {
		d.open(s)
		return Run{}, false
	}

	if utils.SecondsBetween(d.last, s.Timestamp) > d.maxGapSec {
		run, ok := d.close()
		d.open(s)
		return run, ok
	}
	if s.Level < d.exit {
		return d.close()
	}

	d.run.End = s.Timestamp
	d.last = s.Timestamp
	if s.Level > d.run.Peak {
		d.run.Peak = s.Level
	}
	d.state = d.classify(s.Level)
	return Run{}, false
}

// Flush closes any open run at the end of the signal.
func (d *EdgeDetector) Flush() (Run, bool) {
	return d.close()
}

func (d *EdgeDetector) open(s models.FlgSample) {
	if s.Level < d.enter {
		return
	}
	d.run = Run{Start: s.Timestamp, End: s.Timestamp, Peak: s.Level}
	d.last = s.Timestamp
	d.state = d.classify(s.Level)
}

func (d *EdgeDetector) close() (Run, bool) {
	if d.state == StateBelow {
		return Run{}, false
	}
	run := d.run
	qualified := run.DurationSec() >= d.minDurSec
	d.state = StateBelow
	d.run = Run{}
	return run, qualified
}

func (d *EdgeDetector) classify(level float64) EdgeState {
	switch {
	case d.run.DurationSec() < d.minDurSec:
		return StateRising
	case level >= d.enter:
		return StateSustained
	default:
		return StateFalling
	}
}

// EdgeRuns returns the qualifying hysteresis runs of chronologically sorted samples.
func EdgeRuns(sorted []models.FlgSample, enter, exit, maxGapSec, minDurSec float64) []Run {
	detector := NewEdgeDetector(enter, exit, maxGapSec, minDurSec)
	runs := make([]Run, 0)
	for _, s := range sorted {
		if run, ok := detector.Step(s); ok {
			runs = append(runs, run)
		}
	}
	if run, ok := detector.Flush(); ok {
		runs = append(runs, run)
	}
	return runs
}

// ThresholdRuns groups consecutive sorted samples with level >= threshold whose spacing stays
// within maxGapSec. Every run is returned regardless of its span.
func ThresholdRuns(sorted []models.FlgSample, threshold, maxGapSec float64) []Run {
	runs := make([]Run, 0)
	open := false
	var current Run
	for _, s := range sorted {
		if s.Level < threshold {
			if open {
				runs = append(runs, current)
				open = false
			}
			continue
		}
		if open && utils.SecondsBetween(current.End, s.Timestamp) <= maxGapSec {
			current.End = s.Timestamp
			if s.Level > current.Peak {
				current.Peak = s.Level
			}
			continue
		}
		if open {
			runs = append(runs, current)
		}
		current = Run{Start: s.Timestamp, End: s.Timestamp, Peak: s.Level}
		open = true
	}
	if open {
		runs = append(runs, current)
	}
	return runs
}
