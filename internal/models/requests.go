package models

import "time"

// AnalysisRequest represents one analysis call. When Rows is non-empty, events and samples are
// extracted from it and Events/FLGSamples are ignored.
type AnalysisRequest struct {
	SessionID          string
	Algorithm          string
	Rows               []DetailRow
	Events             []ApneaEvent
	FLGSamples         []FlgSample
	Overrides          ParamOverrides
	Preset             string
	SkipFinalize       bool
	SkipFalseNegatives bool
}

// ParamOverrides carries caller-supplied parameter tweaks. Nil fields keep the configured defaults.
type ParamOverrides struct {
	GapSec              *float64
	BridgeThreshold     *float64
	BridgeSec           *float64
	EdgeEnter           *float64
	EdgeExit            *float64
	EdgeMinDurSec       *float64
	MinDensity          *float64
	K                   *int
	MaxIterations       *int
	LinkageThresholdSec *float64
	MinCount            *int
	MinTotalSec         *float64
	MaxClusterSec       *float64
}

// AnalysisSummary aggregates counts over one analysis.
type AnalysisSummary struct {
	EventCount          int
	FLGSampleCount      int
	RawClusterCount     int
	ClusterCount        int
	ClusteredEventCount int
	FalseNegativeCount  int
	MaxSeverity         float64
}

// AnalysisResult summarises pipeline output.
type AnalysisResult struct {
	AnalysisID     string
	SessionID      string
	Algorithm      string
	Clusters       []Cluster
	KMeans         *KMeansMeta
	Ranking        []RankedCluster
	FalseNegatives []FalseNegativeCandidate
	Summary        AnalysisSummary
	CreatedAt      time.Time
}
