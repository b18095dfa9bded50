package models

import "time"

// Cluster groups chronologically close apnea events.
type Cluster struct {
	Start                 time.Time
	End                   time.Time
	DurationSec           float64
	Count                 int
	Events                []ApneaEvent
	Density               float64
	WeightedDensity       float64
	TotalApneaDurationSec float64
	ExtensionSec          float64
	Severity              float64
}

// KMeansMeta carries the convergence diagnostics of a k-means run.
type KMeansMeta struct {
	Converged            bool
	Iterations           int
	MaxIterationsReached bool
	WCSS                 float64
	KOverspecified       bool
}

// ClusterSet is the output of a clustering strategy. Meta is only set by k-means.
type ClusterSet struct {
	Clusters []Cluster
	Meta     *KMeansMeta
}

// FalseNegativeCandidate is a window of sustained flow limitation without a scored apnea.
type FalseNegativeCandidate struct {
	Start        time.Time
	End          time.Time
	DurationSec  float64
	PeakFLGLevel float64
}

// Severity captures impact levels used to band ranked clusters.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// RankedCluster points at a finalized cluster by index and orders it by severity.
type RankedCluster struct {
	Rank     int
	Index    int
	Severity float64
	Band     Severity
}
