package engine

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-apnea/internal/clustering"
	"github.com/miradorstack/mirador-apnea/internal/models"
	"github.com/miradorstack/mirador-apnea/internal/utils"
)

var night = time.Date(2024, 5, 1, 22, 0, 0, 0, time.UTC)

func row(event string, sec, data float64) models.DetailRow {
	return models.DetailRow{Event: event, DateTime: night.Add(models.SecondsToDuration(sec)), Data: data}
}

// sessionRows holds one valid cluster, one lone event and one unscored FLG window.
func sessionRows() []models.DetailRow {
	return []models.DetailRow{
		row("Obstructive", 0, 20),
		row("Obstructive", 40, 20),
		row("Clear Airway", 80, 20),
		row("Hypopnea", 500, 12),
		row("Mixed", 3000, 10),
		row("FLG", 10000, 1.0),
		row("FLG", 10060, 1.0),
	}
}

func newTestPipeline(t *testing.T) (*Pipeline, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewPipeline(logger, nil, DefaultSettings()), &buf
}

func TestPipelineAnalyzeRows(t *testing.T) {
	pipeline, logs := newTestPipeline(t)

	result, err := pipeline.Analyze(context.Background(), models.AnalysisRequest{
		SessionID: "session-1",
		Rows:      sessionRows(),
	})
	require.NoError(t, err)

	assert.NotEmpty(t, result.AnalysisID)
	assert.Equal(t, "session-1", result.SessionID)
	assert.Equal(t, "bridged", result.Algorithm)
	assert.Nil(t, result.KMeans)

	require.Len(t, result.Clusters, 1)
	c := result.Clusters[0]
	assert.True(t, c.Start.Equal(night))
	assert.Equal(t, 3, c.Count)
	assert.Equal(t, 60.0, c.TotalApneaDurationSec)
	assert.Greater(t, c.Severity, 0.0)

	require.Len(t, result.Ranking, 1)
	assert.Equal(t, 1, result.Ranking[0].Rank)
	assert.Equal(t, SeverityBand(c.Severity), result.Ranking[0].Band)

	require.Len(t, result.FalseNegatives, 1)
	assert.Equal(t, 1.0, result.FalseNegatives[0].PeakFLGLevel)

	assert.Equal(t, models.AnalysisSummary{
		EventCount:          4,
		FLGSampleCount:      2,
		RawClusterCount:     2,
		ClusterCount:        1,
		ClusteredEventCount: 3,
		FalseNegativeCount:  1,
		MaxSeverity:         c.Severity,
	}, result.Summary)

	assert.Contains(t, logs.String(), "analysis completed")
	assert.Contains(t, logs.String(), "skipped detail rows")
}

func TestPipelineAnalyzeTypedInputsAndSkips(t *testing.T) {
	pipeline, _ := newTestPipeline(t)
	events := []models.ApneaEvent{
		{Timestamp: night.Add(3000 * time.Second), DurationSec: 10, Kind: models.EventMixed},
		{Timestamp: night, DurationSec: 20, Kind: models.EventObstructive},
	}

	result, err := pipeline.Analyze(context.Background(), models.AnalysisRequest{
		Events:             events,
		SkipFinalize:       true,
		SkipFalseNegatives: true,
	})
	require.NoError(t, err)
	require.Len(t, result.Clusters, 2)
	assert.True(t, result.Clusters[0].Start.Equal(night))
	assert.Empty(t, result.FalseNegatives)
	assert.Equal(t, 2, result.Summary.ClusteredEventCount)
}

func TestPipelineKMeansOverrides(t *testing.T) {
	pipeline, _ := newTestPipeline(t)
	k := 1
	minCount := 1

	result, err := pipeline.Analyze(context.Background(), models.AnalysisRequest{
		Algorithm:    "kmeans",
		Rows:         sessionRows(),
		Overrides:    models.ParamOverrides{K: &k, MinCount: &minCount},
		SkipFinalize: true,
	})
	require.NoError(t, err)
	require.NotNil(t, result.KMeans)
	assert.True(t, result.KMeans.Converged)
	require.Len(t, result.Clusters, 1)
	assert.Equal(t, 4, result.Clusters[0].Count)
}

func TestPipelineRejectsInvalidRequests(t *testing.T) {
	pipeline, _ := newTestPipeline(t)
	ctx := context.Background()

	_, err := pipeline.Analyze(ctx, models.AnalysisRequest{Algorithm: "dbscan", Rows: sessionRows()})
	assert.True(t, utils.IsInvalidParameter(err))

	exit := 0.9
	result, err := pipeline.Analyze(ctx, models.AnalysisRequest{
		Rows:      sessionRows(),
		Overrides: models.ParamOverrides{EdgeExit: &exit},
	})
	assert.True(t, utils.IsInvalidParameter(err))
	assert.Empty(t, result.Clusters)
	assert.Empty(t, result.AnalysisID)

	_, err = pipeline.Analyze(ctx, models.AnalysisRequest{Rows: sessionRows(), Preset: "paranoid"})
	assert.True(t, utils.IsInvalidParameter(err))
}

func TestPipelineHonoursCancellation(t *testing.T) {
	pipeline, _ := newTestPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := pipeline.Analyze(ctx, models.AnalysisRequest{Rows: sessionRows()})
	assert.ErrorIs(t, err, context.Canceled)

	_, err = pipeline.DetectFalseNegatives(ctx, models.AnalysisRequest{Rows: sessionRows()})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPipelineDetectFalseNegativesPresets(t *testing.T) {
	pipeline, _ := newTestPipeline(t)
	rows := []models.DetailRow{
		row("FLG", 0, 0.6),
		row("FLG", 15, 0.8),
		row("FLG", 25, 0.6),
	}

	// peak 0.8 over 25s: balanced and lenient accept it, strict needs 0.9 and 30s
	for preset, want := range map[string]int{"": 1, "balanced": 1, "lenient": 1, "strict": 0} {
		found, err := pipeline.DetectFalseNegatives(context.Background(), models.AnalysisRequest{Rows: rows, Preset: preset})
		require.NoError(t, err, preset)
		assert.Len(t, found, want, preset)
	}
}

func TestApplyOverrides(t *testing.T) {
	gap := 45.0
	k := 7
	maxSec := 0.0
	params, th := ApplyOverrides(clustering.DefaultParams(), clustering.DefaultThresholds(), models.ParamOverrides{
		GapSec:        &gap,
		K:             &k,
		MaxClusterSec: &maxSec,
	})
	assert.Equal(t, 45.0, params.GapSec)
	assert.Equal(t, 7, params.K)
	assert.Equal(t, clustering.DefaultParams().BridgeSec, params.BridgeSec)
	assert.Equal(t, 0.0, th.MaxClusterSec)
	assert.Equal(t, 3, th.MinCount)
}
