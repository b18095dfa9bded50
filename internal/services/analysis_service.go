package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/miradorstack/mirador-apnea/internal/api"
	"github.com/miradorstack/mirador-apnea/internal/cache"
	"github.com/miradorstack/mirador-apnea/internal/engine"
	"github.com/miradorstack/mirador-apnea/internal/export"
	"github.com/miradorstack/mirador-apnea/internal/metrics"
	"github.com/miradorstack/mirador-apnea/internal/models"
	"github.com/miradorstack/mirador-apnea/internal/utils"
)

var _ api.AnalysisServer = (*AnalysisService)(nil)

// Analyzer runs analyses. *engine.Pipeline satisfies it.
type Analyzer interface {
	Analyze(ctx context.Context, req models.AnalysisRequest) (models.AnalysisResult, error)
	DetectFalseNegatives(ctx context.Context, req models.AnalysisRequest) ([]models.FalseNegativeCandidate, error)
}

var _ Analyzer = (*engine.Pipeline)(nil)

// AnalysisService implements the gRPC analysis service.
type AnalysisService struct {
	logger    *slog.Logger
	pipeline  Analyzer
	cache     cache.Provider
	cacheTTL  time.Duration
	jobs      *utils.JobTracker
	latencies *utils.LatencyTracker
}

// NewAnalysisService constructs the service facade. A nil provider disables result caching.
func NewAnalysisService(logger *slog.Logger, pipeline Analyzer, provider cache.Provider, cacheTTL time.Duration) *AnalysisService {
	if logger == nil {
		logger = slog.Default()
	}
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	return &AnalysisService{
		logger:    logger,
		pipeline:  pipeline,
		cache:     provider,
		cacheTTL:  cacheTTL,
		jobs:      utils.NewJobTracker(),
		latencies: utils.NewLatencyTracker(1024),
	}
}

// Analyze runs the full analysis for one request.
func (s *AnalysisService) Analyze(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := s.decode(in)
	if err != nil {
		return nil, err
	}
	result, err := s.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	out, err := api.ToStructAnalysisResult(result)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode result: %v", err))
	}
	return out, nil
}

// DetectFalseNegatives runs only the false-negative detector.
func (s *AnalysisService) DetectFalseNegatives(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := s.decode(in)
	if err != nil {
		return nil, err
	}
	if s.pipeline == nil {
		return nil, status.Error(codes.FailedPrecondition, "pipeline not configured")
	}
	candidates, err := s.pipeline.DetectFalseNegatives(ctx, req)
	if err != nil {
		return nil, s.statusFor("detect false negatives", err)
	}
	out, err := api.ToStructFalseNegatives(candidates)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode candidates: %v", err))
	}
	return out, nil
}

// ExportClusters analyses the request and returns the finalized clusters as CSV.
func (s *AnalysisService) ExportClusters(ctx context.Context, in *structpb.Struct) (*wrapperspb.StringValue, error) {
	req, err := s.decode(in)
	if err != nil {
		return nil, err
	}
	result, err := s.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	csv, err := export.ClustersToCSV(result.Clusters)
	if err != nil {
		s.logger.Error("cluster export failed", slog.Any("error", err))
		return nil, status.Error(codes.Internal, err.Error())
	}
	return wrapperspb.String(csv), nil
}

// Run executes the pipeline with caching and staleness tracking. Errors are gRPC statuses.
// A result superseded by a newer job for the same session is discarded with Aborted.
func (s *AnalysisService) Run(ctx context.Context, req models.AnalysisRequest) (models.AnalysisResult, error) {
	if s.pipeline == nil {
		return models.AnalysisResult{}, status.Error(codes.FailedPrecondition, "pipeline not configured")
	}

	job := s.jobs.Begin(req.SessionID)
	defer s.jobs.Finish(req.SessionID, job)

	key, err := Fingerprint(req)
	if err != nil {
		return models.AnalysisResult{}, status.Error(codes.Internal, fmt.Sprintf("fingerprint request: %v", err))
	}
	if cached, ok := s.lookup(ctx, key); ok {
		cached.SessionID = req.SessionID
		return cached, nil
	}

	s.logger.Debug("Analyze called", slog.String("session_id", req.SessionID), slog.String("algorithm", req.Algorithm))

	start := time.Now()
	result, err := s.pipeline.Analyze(ctx, req)
	duration := time.Since(start)
	algorithm := result.Algorithm
	if algorithm == "" {
		algorithm = req.Algorithm
	}
	if err != nil {
		outcome := metrics.OutcomeError
		if utils.IsInvalidParameter(err) {
			outcome = metrics.OutcomeInvalid
		}
		metrics.ObserveAnalysis(algorithm, duration, outcome)
		return models.AnalysisResult{}, s.statusFor("analysis", err)
	}

	if !s.jobs.Current(req.SessionID, job) {
		metrics.ObserveAnalysis(algorithm, duration, metrics.OutcomeStale)
		s.logger.Info("discarding superseded analysis", slog.String("session_id", req.SessionID), slog.String("analysis_id", result.AnalysisID))
		return models.AnalysisResult{}, status.Error(codes.Aborted, "analysis superseded by a newer request for the same session")
	}

	s.latencies.Observe(duration)
	metrics.ObserveAnalysis(algorithm, duration, metrics.OutcomeSuccess)
	metrics.ObserveResult(result)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		p95 := s.latencies.Percentile(95)
		s.logger.Info("analysis latency", slog.Duration("p95", p95), slog.Int("samples", count))
	}

	s.store(ctx, key, result)
	return result, nil
}

// LatencyP95 returns the current p95 analysis latency.
func (s *AnalysisService) LatencyP95() time.Duration {
	return s.latencies.Percentile(95)
}

func (s *AnalysisService) decode(in *structpb.Struct) (models.AnalysisRequest, error) {
	if in == nil {
		return models.AnalysisRequest{}, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	req, err := api.FromStructAnalysisRequest(in)
	if err != nil {
		return models.AnalysisRequest{}, status.Error(codes.InvalidArgument, err.Error())
	}
	return req, nil
}

func (s *AnalysisService) statusFor(op string, err error) error {
	switch {
	case utils.IsInvalidParameter(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		s.logger.Error(op+" failed", slog.Any("error", err))
		return status.Error(codes.Internal, fmt.Sprintf("%s failed: %v", op, err))
	}
}

func (s *AnalysisService) lookup(ctx context.Context, key string) (models.AnalysisResult, bool) {
	payload, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("result cache read failed", slog.Any("error", err))
		}
		metrics.ObserveCacheLookup(false)
		return models.AnalysisResult{}, false
	}
	var result models.AnalysisResult
	if err := json.Unmarshal(payload, &result); err != nil {
		s.logger.Warn("discarding undecodable cached result", slog.Any("error", err))
		_ = s.cache.Del(ctx, key)
		metrics.ObserveCacheLookup(false)
		return models.AnalysisResult{}, false
	}
	metrics.ObserveCacheLookup(true)
	return result, true
}

func (s *AnalysisService) store(ctx context.Context, key string, result models.AnalysisResult) {
	payload, err := json.Marshal(result)
	if err != nil {
		s.logger.Warn("result not cacheable", slog.Any("error", err))
		return
	}
	if err := s.cache.Set(ctx, key, payload, s.cacheTTL); err != nil {
		s.logger.Warn("result cache write failed", slog.Any("error", err))
	}
}

// Fingerprint hashes everything in req that influences the result. The session id is excluded
// so identical inputs from different sessions share a cache entry.
func Fingerprint(req models.AnalysisRequest) (string, error) {
	req.SessionID = ""
	raw, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return "analysis:" + hex.EncodeToString(sum[:]), nil
}
