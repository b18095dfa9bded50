package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-apnea/internal/clustering"
	"github.com/miradorstack/mirador-apnea/internal/extractors"
	"github.com/miradorstack/mirador-apnea/internal/models"
	"github.com/miradorstack/mirador-apnea/internal/utils"
)

// Settings are the configured defaults a request can override.
type Settings struct {
	Algorithm  clustering.Algorithm
	Params     clustering.Params
	Thresholds clustering.Thresholds
	Preset     string
}

// DefaultSettings returns the bridged strategy with application defaults.
func DefaultSettings() Settings {
	return Settings{
		Algorithm:  clustering.AlgorithmBridged,
		Params:     clustering.DefaultParams(),
		Thresholds: clustering.DefaultThresholds(),
	}
}

// Pipeline orchestrates one analysis: extraction, clustering, finalization, ranking and
// false-negative detection.
type Pipeline struct {
	logger    *slog.Logger
	clusterer *clustering.Engine
	rows      *extractors.RowExtractor
	presets   *PresetPack
	settings  Settings
	now       func() time.Time
}

// NewPipeline constructs a new analysis pipeline.
func NewPipeline(logger *slog.Logger, presets *PresetPack, settings Settings) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if presets == nil {
		presets = NewPresetPack()
	}
	if settings.Algorithm == "" {
		settings.Algorithm = clustering.AlgorithmBridged
	}

	return &Pipeline{
		logger:    logger,
		clusterer: clustering.NewEngine(logger),
		rows:      extractors.NewRowExtractor(),
		presets:   presets,
		settings:  settings,
		now:       time.Now,
	}
}

// Settings returns the configured defaults.
func (p *Pipeline) Settings() Settings {
	return p.settings
}

// Presets returns the preset pack used for false-negative detection.
func (p *Pipeline) Presets() *PresetPack {
	return p.presets
}

// Analyze runs the full flow for req. Invalid parameters fail before clustering and no
// partial result is returned on error.
func (p *Pipeline) Analyze(ctx context.Context, req models.AnalysisRequest) (models.AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return models.AnalysisResult{}, err
	}

	algorithm, err := p.resolveAlgorithm(req.Algorithm)
	if err != nil {
		return models.AnalysisResult{}, err
	}
	params, thresholds := ApplyOverrides(p.settings.Params, p.settings.Thresholds, req.Overrides)

	var fnOpts extractors.FalseNegativeOptions
	if !req.SkipFalseNegatives {
		if fnOpts, err = p.falseNegativeOptions(req.Preset); err != nil {
			return models.AnalysisResult{}, err
		}
	}

	events, samples := p.inputs(req)

	set, err := p.clusterer.Cluster(algorithm, events, samples, params)
	if err != nil {
		return models.AnalysisResult{}, utils.NewAppError("analyze", "cluster "+string(algorithm), err)
	}
	if err := ctx.Err(); err != nil {
		return models.AnalysisResult{}, err
	}

	clusters := set.Clusters
	if !req.SkipFinalize {
		clusters = clustering.Finalize(clusters, thresholds)
	}

	falseNegatives := make([]models.FalseNegativeCandidate, 0)
	if !req.SkipFalseNegatives {
		falseNegatives = extractors.NewFalseNegativeDetector(fnOpts).Detect(samples, events)
	}

	result := models.AnalysisResult{
		AnalysisID:     uuid.NewString(),
		SessionID:      req.SessionID,
		Algorithm:      string(algorithm),
		Clusters:       clusters,
		KMeans:         set.Meta,
		Ranking:        Rank(clusters),
		FalseNegatives: falseNegatives,
		Summary:        summarize(events, samples, set.Clusters, clusters, falseNegatives),
		CreatedAt:      p.now().UTC(),
	}

	p.logger.Info("analysis completed",
		slog.String("analysis_id", result.AnalysisID),
		slog.String("session_id", req.SessionID),
		slog.String("algorithm", result.Algorithm),
		slog.Int("events", result.Summary.EventCount),
		slog.Int("raw_clusters", result.Summary.RawClusterCount),
		slog.Int("clusters", result.Summary.ClusterCount),
		slog.Int("false_negatives", result.Summary.FalseNegativeCount))

	return result, nil
}

// DetectFalseNegatives runs only the false-negative detector with the requested preset.
func (p *Pipeline) DetectFalseNegatives(ctx context.Context, req models.AnalysisRequest) ([]models.FalseNegativeCandidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts, err := p.falseNegativeOptions(req.Preset)
	if err != nil {
		return nil, err
	}
	events, samples := p.inputs(req)
	return extractors.NewFalseNegativeDetector(opts).Detect(samples, events), nil
}

func (p *Pipeline) resolveAlgorithm(name string) (clustering.Algorithm, error) {
	if name == "" {
		return p.settings.Algorithm, nil
	}
	return clustering.ParseAlgorithm(name)
}

func (p *Pipeline) falseNegativeOptions(preset string) (extractors.FalseNegativeOptions, error) {
	if preset == "" {
		preset = p.settings.Preset
	}
	opts, err := p.presets.Lookup(preset)
	if err != nil {
		return opts, err
	}
	return opts, opts.Validate()
}

// inputs prefers raw rows over typed events and samples.
func (p *Pipeline) inputs(req models.AnalysisRequest) ([]models.ApneaEvent, []models.FlgSample) {
	if len(req.Rows) > 0 {
		extraction := p.rows.Extract(req.Rows)
		if extraction.Skipped > 0 {
			p.logger.Debug("skipped detail rows", slog.Int("rows", extraction.Skipped))
		}
		return extraction.Events, extraction.Samples
	}
	return clustering.SortEvents(req.Events), clustering.SortSamples(req.FLGSamples)
}

// ApplyOverrides copies the non-nil overrides onto the configured parameters.
func ApplyOverrides(params clustering.Params, th clustering.Thresholds, o models.ParamOverrides) (clustering.Params, clustering.Thresholds) {
	setFloat(&params.GapSec, o.GapSec)
	setFloat(&params.BridgeThreshold, o.BridgeThreshold)
	setFloat(&params.BridgeSec, o.BridgeSec)
	setFloat(&params.EdgeEnter, o.EdgeEnter)
	setFloat(&params.EdgeExit, o.EdgeExit)
	setFloat(&params.EdgeMinDurSec, o.EdgeMinDurSec)
	setFloat(&params.MinDensity, o.MinDensity)
	setInt(&params.K, o.K)
	setInt(&params.MaxIterations, o.MaxIterations)
	setFloat(&params.LinkageThresholdSec, o.LinkageThresholdSec)
	setInt(&th.MinCount, o.MinCount)
	setFloat(&th.MinTotalSec, o.MinTotalSec)
	setFloat(&th.MaxClusterSec, o.MaxClusterSec)
	return params, th
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func summarize(events []models.ApneaEvent, samples []models.FlgSample, raw, final []models.Cluster, falseNegatives []models.FalseNegativeCandidate) models.AnalysisSummary {
	summary := models.AnalysisSummary{
		EventCount:         len(events),
		FLGSampleCount:     len(samples),
		RawClusterCount:    len(raw),
		ClusterCount:       len(final),
		FalseNegativeCount: len(falseNegatives),
	}
	for _, c := range final {
		summary.ClusteredEventCount += c.Count
		if c.Severity > summary.MaxSeverity {
			summary.MaxSeverity = c.Severity
		}
	}
	return summary
}
