package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-apnea/internal/export"
	"github.com/miradorstack/mirador-apnea/internal/models"
	"github.com/miradorstack/mirador-apnea/internal/utils"
)

// AnalysisRequestDTO is the JSON payload carried in the request Struct.
type AnalysisRequestDTO struct {
	SessionID          string         `json:"session_id,omitempty"`
	Algorithm          string         `json:"algorithm,omitempty"`
	Rows               []DetailRowDTO `json:"rows,omitempty"`
	Events             []EventDTO     `json:"events,omitempty"`
	FLGSamples         []SampleDTO    `json:"flg_samples,omitempty"`
	Overrides          *OverridesDTO  `json:"overrides,omitempty"`
	Preset             string         `json:"preset,omitempty"`
	SkipFinalize       bool           `json:"skip_finalize,omitempty"`
	SkipFalseNegatives bool           `json:"skip_false_negatives,omitempty"`
}

// DetailRowDTO is one parsed therapy log row.
type DetailRowDTO struct {
	Event    string  `json:"event"`
	DateTime string  `json:"date_time"`
	Data     float64 `json:"data"`
}

// EventDTO is a scored apnea.
type EventDTO struct {
	Timestamp   string  `json:"timestamp"`
	DurationSec float64 `json:"duration_sec"`
	Kind        string  `json:"kind,omitempty"`
}

// SampleDTO is an FLG reading.
type SampleDTO struct {
	Timestamp string  `json:"timestamp"`
	Level     float64 `json:"level"`
}

// OverridesDTO carries optional parameter overrides.
type OverridesDTO struct {
	GapSec              *float64 `json:"gap_sec,omitempty"`
	BridgeThreshold     *float64 `json:"bridge_threshold,omitempty"`
	BridgeSec           *float64 `json:"bridge_sec,omitempty"`
	EdgeEnter           *float64 `json:"edge_enter,omitempty"`
	EdgeExit            *float64 `json:"edge_exit,omitempty"`
	EdgeMinDurSec       *float64 `json:"edge_min_dur_sec,omitempty"`
	MinDensity          *float64 `json:"min_density,omitempty"`
	K                   *int     `json:"k,omitempty"`
	MaxIterations       *int     `json:"max_iterations,omitempty"`
	LinkageThresholdSec *float64 `json:"linkage_threshold_sec,omitempty"`
	MinCount            *int     `json:"min_count,omitempty"`
	MinTotalSec         *float64 `json:"min_total_sec,omitempty"`
	MaxClusterSec       *float64 `json:"max_cluster_sec,omitempty"`
}

// AnalysisResultDTO is the JSON payload of an analysis response.
type AnalysisResultDTO struct {
	AnalysisID     string             `json:"analysis_id"`
	SessionID      string             `json:"session_id,omitempty"`
	Algorithm      string             `json:"algorithm"`
	Clusters       []ClusterDTO       `json:"clusters"`
	KMeans         *KMeansMetaDTO     `json:"kmeans,omitempty"`
	Ranking        []RankedClusterDTO `json:"ranking"`
	FalseNegatives []FalseNegativeDTO `json:"false_negatives"`
	Summary        SummaryDTO         `json:"summary"`
	CreatedAt      string             `json:"created_at"`
}

// ClusterDTO is an annotated cluster without its member events.
type ClusterDTO struct {
	Start                 string  `json:"start"`
	End                   string  `json:"end"`
	DurationSec           float64 `json:"duration_sec"`
	Count                 int     `json:"count"`
	Density               float64 `json:"density"`
	WeightedDensity       float64 `json:"weighted_density"`
	TotalApneaDurationSec float64 `json:"total_apnea_duration_sec"`
	ExtensionSec          float64 `json:"extension_sec"`
	Severity              float64 `json:"severity"`
}

// KMeansMetaDTO reports k-means convergence.
type KMeansMetaDTO struct {
	Converged            bool    `json:"converged"`
	Iterations           int     `json:"iterations"`
	MaxIterationsReached bool    `json:"max_iterations_reached"`
	WCSS                 float64 `json:"wcss"`
	KOverspecified       bool    `json:"k_overspecified"`
}

// RankedClusterDTO orders clusters by severity.
type RankedClusterDTO struct {
	Rank     int     `json:"rank"`
	Index    int     `json:"index"`
	Severity float64 `json:"severity"`
	Band     string  `json:"band"`
}

// FalseNegativeDTO is a candidate missed apnea.
type FalseNegativeDTO struct {
	Start        string  `json:"start"`
	End          string  `json:"end"`
	DurationSec  float64 `json:"duration_sec"`
	PeakFLGLevel float64 `json:"peak_flg_level"`
}

// SummaryDTO aggregates counts over one analysis.
type SummaryDTO struct {
	EventCount          int     `json:"event_count"`
	FLGSampleCount      int     `json:"flg_sample_count"`
	RawClusterCount     int     `json:"raw_cluster_count"`
	ClusterCount        int     `json:"cluster_count"`
	ClusteredEventCount int     `json:"clustered_event_count"`
	FalseNegativeCount  int     `json:"false_negative_count"`
	MaxSeverity         float64 `json:"max_severity"`
}

// FalseNegativesDTO is the DetectFalseNegatives response payload.
type FalseNegativesDTO struct {
	Candidates []FalseNegativeDTO `json:"candidates"`
}

// FromStructAnalysisRequest maps a request Struct into a domain AnalysisRequest.
func FromStructAnalysisRequest(in *structpb.Struct) (models.AnalysisRequest, error) {
	if in == nil {
		return models.AnalysisRequest{}, fmt.Errorf("request is nil")
	}
	raw, err := protojson.Marshal(in)
	if err != nil {
		return models.AnalysisRequest{}, fmt.Errorf("encode request: %w", err)
	}
	return DecodeAnalysisRequest(raw)
}

// DecodeAnalysisRequest parses the JSON request payload. Unknown fields are rejected.
func DecodeAnalysisRequest(raw []byte) (models.AnalysisRequest, error) {
	var dto AnalysisRequestDTO
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&dto); err != nil {
		return models.AnalysisRequest{}, fmt.Errorf("decode request: %w", err)
	}
	return dto.toModel()
}

func (dto AnalysisRequestDTO) toModel() (models.AnalysisRequest, error) {
	req := models.AnalysisRequest{
		SessionID:          dto.SessionID,
		Algorithm:          dto.Algorithm,
		Preset:             dto.Preset,
		SkipFinalize:       dto.SkipFinalize,
		SkipFalseNegatives: dto.SkipFalseNegatives,
	}

	for i, row := range dto.Rows {
		ts, err := utils.ParseRFC3339(row.DateTime)
		if err != nil {
			return models.AnalysisRequest{}, fmt.Errorf("rows[%d].date_time: %w", i, err)
		}
		req.Rows = append(req.Rows, models.DetailRow{Event: row.Event, DateTime: ts, Data: row.Data})
	}
	for i, ev := range dto.Events {
		ts, err := utils.ParseRFC3339(ev.Timestamp)
		if err != nil {
			return models.AnalysisRequest{}, fmt.Errorf("events[%d].timestamp: %w", i, err)
		}
		if ev.DurationSec < 0 {
			return models.AnalysisRequest{}, fmt.Errorf("events[%d].duration_sec must not be negative", i)
		}
		kind := models.EventKind("")
		if ev.Kind != "" {
			parsed, ok := models.ParseEventKind(ev.Kind)
			if !ok || !parsed.IsApnea() {
				return models.AnalysisRequest{}, fmt.Errorf("events[%d].kind %q is not a scored apnea", i, ev.Kind)
			}
			kind = parsed
		}
		req.Events = append(req.Events, models.ApneaEvent{Timestamp: ts, DurationSec: ev.DurationSec, Kind: kind})
	}
	for i, s := range dto.FLGSamples {
		ts, err := utils.ParseRFC3339(s.Timestamp)
		if err != nil {
			return models.AnalysisRequest{}, fmt.Errorf("flg_samples[%d].timestamp: %w", i, err)
		}
		req.FLGSamples = append(req.FLGSamples, models.FlgSample{Timestamp: ts, Level: s.Level})
	}

	if o := dto.Overrides; o != nil {
		req.Overrides = models.ParamOverrides{
			GapSec:              o.GapSec,
			BridgeThreshold:     o.BridgeThreshold,
			BridgeSec:           o.BridgeSec,
			EdgeEnter:           o.EdgeEnter,
			EdgeExit:            o.EdgeExit,
			EdgeMinDurSec:       o.EdgeMinDurSec,
			MinDensity:          o.MinDensity,
			K:                   o.K,
			MaxIterations:       o.MaxIterations,
			LinkageThresholdSec: o.LinkageThresholdSec,
			MinCount:            o.MinCount,
			MinTotalSec:         o.MinTotalSec,
			MaxClusterSec:       o.MaxClusterSec,
		}
	}
	return req, nil
}

// ToAnalysisResultDTO converts a domain result into its JSON representation.
func ToAnalysisResultDTO(res models.AnalysisResult) AnalysisResultDTO {
	dto := AnalysisResultDTO{
		AnalysisID:     res.AnalysisID,
		SessionID:      res.SessionID,
		Algorithm:      res.Algorithm,
		Clusters:       make([]ClusterDTO, 0, len(res.Clusters)),
		Ranking:        make([]RankedClusterDTO, 0, len(res.Ranking)),
		FalseNegatives: toFalseNegativeDTOs(res.FalseNegatives),
		Summary: SummaryDTO{
			EventCount:          res.Summary.EventCount,
			FLGSampleCount:      res.Summary.FLGSampleCount,
			RawClusterCount:     res.Summary.RawClusterCount,
			ClusterCount:        res.Summary.ClusterCount,
			ClusteredEventCount: res.Summary.ClusteredEventCount,
			FalseNegativeCount:  res.Summary.FalseNegativeCount,
			MaxSeverity:         res.Summary.MaxSeverity,
		},
		CreatedAt: res.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	for _, c := range res.Clusters {
		dto.Clusters = append(dto.Clusters, ClusterDTO{
			Start:                 export.FormatTimestamp(c.Start),
			End:                   export.FormatTimestamp(c.End),
			DurationSec:           c.DurationSec,
			Count:                 c.Count,
			Density:               c.Density,
			WeightedDensity:       c.WeightedDensity,
			TotalApneaDurationSec: c.TotalApneaDurationSec,
			ExtensionSec:          c.ExtensionSec,
			Severity:              c.Severity,
		})
	}
	if m := res.KMeans; m != nil {
		dto.KMeans = &KMeansMetaDTO{
			Converged:            m.Converged,
			Iterations:           m.Iterations,
			MaxIterationsReached: m.MaxIterationsReached,
			WCSS:                 m.WCSS,
			KOverspecified:       m.KOverspecified,
		}
	}
	for _, r := range res.Ranking {
		dto.Ranking = append(dto.Ranking, RankedClusterDTO{Rank: r.Rank, Index: r.Index, Severity: r.Severity, Band: string(r.Band)})
	}
	return dto
}

func toFalseNegativeDTOs(candidates []models.FalseNegativeCandidate) []FalseNegativeDTO {
	out := make([]FalseNegativeDTO, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, FalseNegativeDTO{
			Start:        export.FormatTimestamp(c.Start),
			End:          export.FormatTimestamp(c.End),
			DurationSec:  c.DurationSec,
			PeakFLGLevel: c.PeakFLGLevel,
		})
	}
	return out
}

// ToStructAnalysisResult converts a domain result into the response Struct.
func ToStructAnalysisResult(res models.AnalysisResult) (*structpb.Struct, error) {
	return toStruct(ToAnalysisResultDTO(res))
}

// ToStructFalseNegatives converts detector output into the response Struct.
func ToStructFalseNegatives(candidates []models.FalseNegativeCandidate) (*structpb.Struct, error) {
	return toStruct(FalseNegativesDTO{Candidates: toFalseNegativeDTOs(candidates)})
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, err
	}
	return out, nil
}

// FromStruct decodes a response Struct into dst, typically an *AnalysisResultDTO.
func FromStruct(in *structpb.Struct, dst any) error {
	raw, err := protojson.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
