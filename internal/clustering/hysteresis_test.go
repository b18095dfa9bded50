package clustering

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-apnea/internal/models"
)

func TestEdgeDetectorSurvivesDipAboveExit(t *testing.T) {
	d := NewEdgeDetector(0.5, 0.3, 60, 10)

	steps := []struct {
		sample models.FlgSample
		state  EdgeState
	}{
		{flg(0, 0.6), StateRising},
		{flg(5, 0.4), StateRising},
		{flg(10, 0.6), StateSustained},
		{flg(12, 0.35), StateFalling},
		{flg(14, 0.55), StateSustained},
	}
	for _, step := range steps {
		_, closed := d.Step(step.sample)
		require.False(t, closed)
		assert.Equal(t, step.state, d.State(), "after sample at %v", step.sample.Timestamp)
	}

	run, closed := d.Step(flg(16, 0.2))
	require.True(t, closed)
	assert.Equal(t, StateBelow, d.State())
	assert.True(t, run.Start.Equal(at(0)))
	assert.True(t, run.End.Equal(at(14)))
	assert.InDelta(t, 0.6, run.Peak, 1e-9)
}

func TestEdgeDetectorRequiresEnterToOpen(t *testing.T) {
	d := NewEdgeDetector(0.5, 0.3, 60, 10)
	d.Step(flg(0, 0.45))
	assert.Equal(t, StateBelow, d.State())
}

func TestEdgeDetectorDropsShortRuns(t *testing.T) {
	runs := EdgeRuns([]models.FlgSample{flg(0, 0.6), flg(5, 0.6), flg(6, 0.1)}, 0.5, 0.3, 60, 10)
	assert.Empty(t, runs)
}

func TestEdgeDetectorSplitsOnSampleGap(t *testing.T) {
	d := NewEdgeDetector(0.5, 0.3, 60, 10)
	for _, s := range []models.FlgSample{flg(0, 0.6), flg(5, 0.6), flg(10, 0.6)} {
		d.Step(s)
	}

	run, closed := d.Step(flg(100, 0.6))
	require.True(t, closed)
	assert.InDelta(t, 10.0, run.DurationSec(), 1e-9)
	assert.Equal(t, StateRising, d.State(), "the late sample opens a fresh run")

	_, qualified := d.Flush()
	assert.False(t, qualified)
}

func TestEdgeRunsCollectsEveryQualifyingRun(t *testing.T) {
	samples := []models.FlgSample{
		flg(0, 0.7), flg(20, 0.7),
		flg(30, 0.1),
		flg(40, 0.9), flg(55, 0.5),
	}
	runs := EdgeRuns(samples, 0.5, 0.3, 60, 10)
	require.Len(t, runs, 2)
	assert.True(t, runs[1].Start.Equal(at(40)))
	assert.True(t, runs[1].End.Equal(at(55)))
}

func TestThresholdRuns(t *testing.T) {
	samples := []models.FlgSample{
		flg(0, 0.2), flg(30, 0.15),
		flg(100, 0.3),
		flg(110, 0.05),
		flg(120, 0.4),
	}
	runs := ThresholdRuns(samples, 0.1, 60)
	require.Len(t, runs, 3)
	assert.True(t, runs[0].End.Equal(at(30)))
	assert.True(t, runs[1].Start.Equal(at(100)))
	assert.True(t, runs[2].Start.Equal(at(120)))
}

func TestEdgeStateString(t *testing.T) {
	assert.Equal(t, "below", StateBelow.String())
	assert.Equal(t, "falling", StateFalling.String())
}
