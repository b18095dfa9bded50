package services

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-apnea/internal/api"
	"github.com/miradorstack/mirador-apnea/internal/cache"
	"github.com/miradorstack/mirador-apnea/internal/engine"
	"github.com/miradorstack/mirador-apnea/internal/models"
)

func sessionPayload(t *testing.T, extra map[string]any) *structpb.Struct {
	t.Helper()
	payload := map[string]any{
		"session_id": "night-1",
		"rows": []any{
			map[string]any{"event": "Obstructive", "date_time": "2024-05-01T22:00:00Z", "data": 20},
			map[string]any{"event": "Obstructive", "date_time": "2024-05-01T22:00:40Z", "data": 20},
			map[string]any{"event": "Clear Airway", "date_time": "2024-05-01T22:01:20Z", "data": 20},
			map[string]any{"event": "FLG", "date_time": "2024-05-02T01:00:00Z", "data": 1.0},
			map[string]any{"event": "FLG", "date_time": "2024-05-02T01:01:00Z", "data": 1.0},
		},
	}
	for k, v := range extra {
		payload[k] = v
	}
	s, err := structpb.NewStruct(payload)
	require.NoError(t, err)
	return s
}

func newService(t *testing.T) *AnalysisService {
	t.Helper()
	provider, err := cache.NewMemoryProvider(cache.MemoryConfig{MaxCostBytes: 1 << 20, NumCounters: 1000})
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Close() })
	pipeline := engine.NewPipeline(nil, engine.NewPresetPack(), engine.DefaultSettings())
	return NewAnalysisService(nil, pipeline, provider, time.Minute)
}

func TestAnalyzeReturnsClustersAndCaches(t *testing.T) {
	service := newService(t)
	ctx := context.Background()

	out, err := service.Analyze(ctx, sessionPayload(t, nil))
	require.NoError(t, err)

	var first api.AnalysisResultDTO
	require.NoError(t, api.FromStruct(out, &first))
	assert.Equal(t, "bridged", first.Algorithm)
	assert.Equal(t, "night-1", first.SessionID)
	require.Len(t, first.Clusters, 1)
	assert.Equal(t, 3, first.Clusters[0].Count)
	assert.Len(t, first.FalseNegatives, 1)

	out, err = service.Analyze(ctx, sessionPayload(t, map[string]any{"session_id": "night-2"}))
	require.NoError(t, err)
	var second api.AnalysisResultDTO
	require.NoError(t, api.FromStruct(out, &second))
	assert.Equal(t, first.AnalysisID, second.AnalysisID, "identical input is served from cache")
	assert.Equal(t, "night-2", second.SessionID)
}

func TestAnalyzeMapsErrorsToStatus(t *testing.T) {
	service := newService(t)
	ctx := context.Background()

	_, err := service.Analyze(ctx, nil)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = service.Analyze(ctx, sessionPayload(t, map[string]any{"algorithm": "dbscan"}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = service.Analyze(ctx, sessionPayload(t, map[string]any{
		"algorithm": "kmeans",
		"overrides": map[string]any{"k": 0},
	}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = service.Analyze(ctx, sessionPayload(t, map[string]any{"unexpected": true}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = service.Analyze(cancelled, sessionPayload(t, map[string]any{"preset": "lenient"}))
	assert.Equal(t, codes.Canceled, status.Code(err))
}

func TestExportClusters(t *testing.T) {
	service := newService(t)

	out, err := service.ExportClusters(context.Background(), sessionPayload(t, nil))
	require.NoError(t, err)
	lines := strings.Split(out.GetValue(), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "index,start,end,durationSec,count,severity", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "1,2024-05-01T22:00:00.000Z,"))
}

func TestDetectFalseNegatives(t *testing.T) {
	service := newService(t)

	out, err := service.DetectFalseNegatives(context.Background(), sessionPayload(t, map[string]any{"preset": "strict"}))
	require.NoError(t, err)
	var dto api.FalseNegativesDTO
	require.NoError(t, api.FromStruct(out, &dto))
	require.Len(t, dto.Candidates, 1)
	assert.Equal(t, "2024-05-02T01:00:00.000Z", dto.Candidates[0].Start)

	_, err = service.DetectFalseNegatives(context.Background(), sessionPayload(t, map[string]any{"preset": "paranoid"}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestServiceWithoutPipeline(t *testing.T) {
	service := NewAnalysisService(nil, nil, nil, 0)
	_, err := service.Analyze(context.Background(), sessionPayload(t, nil))
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

// gatedAnalyzer blocks its first call until released.
type gatedAnalyzer struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (g *gatedAnalyzer) Analyze(context.Context, models.AnalysisRequest) (models.AnalysisResult, error) {
	if g.calls.Add(1) == 1 {
		close(g.started)
		<-g.release
	}
	return models.AnalysisResult{AnalysisID: "id", Algorithm: "bridged"}, nil
}

func (g *gatedAnalyzer) DetectFalseNegatives(context.Context, models.AnalysisRequest) ([]models.FalseNegativeCandidate, error) {
	return nil, nil
}

func TestRunDiscardsSupersededResults(t *testing.T) {
	analyzer := &gatedAnalyzer{started: make(chan struct{}), release: make(chan struct{})}
	service := NewAnalysisService(nil, analyzer, nil, 0)
	ctx := context.Background()

	first := make(chan error, 1)
	go func() {
		_, err := service.Run(ctx, models.AnalysisRequest{SessionID: "night-1", Algorithm: "bridged"})
		first <- err
	}()
	<-analyzer.started

	_, err := service.Run(ctx, models.AnalysisRequest{SessionID: "night-1", Algorithm: "kmeans"})
	require.NoError(t, err)

	close(analyzer.release)
	assert.Equal(t, codes.Aborted, status.Code(<-first))

	// other sessions are never stale
	_, err = service.Run(ctx, models.AnalysisRequest{SessionID: "night-2"})
	assert.NoError(t, err)
}

func TestFingerprintIgnoresSession(t *testing.T) {
	a, err := Fingerprint(models.AnalysisRequest{SessionID: "a", Algorithm: "kmeans"})
	require.NoError(t, err)
	b, err := Fingerprint(models.AnalysisRequest{SessionID: "b", Algorithm: "kmeans"})
	require.NoError(t, err)
	c, err := Fingerprint(models.AnalysisRequest{SessionID: "a", Algorithm: "bridged"})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.True(t, strings.HasPrefix(a, "analysis:"))
}
