package models

import (
	"time"

	"github.com/google/uuid"
)

// KPI assessment statuses derived from the fixed thresholds.
const (
	StatusHealthy          = "HEALTHY"
	StatusWarning          = "WARNING"
	StatusCritical         = "CRITICAL"
	StatusGood             = "GOOD"
	StatusFair             = "FAIR"
	StatusPoor             = "POOR"
	StatusAcceptable       = "ACCEPTABLE"
	StatusNeedsImprovement = "NEEDS IMPROVEMENT"
	StatusExcellent        = "EXCELLENT"
)

// ReconKPI is one computed KPI value with its assessment bucket.
type ReconKPI struct {
	Value  float64 `json:"value"`
	Status string  `json:"status"`
}

// ReconExecution is the aggregate result of one landing reconciliation run.
type ReconExecution struct {
	ExecutionID          uuid.UUID `json:"execution_id"`
	RulesetID            uuid.UUID `json:"ruleset_id"`
	Status               string    `json:"execution_status"`
	SourceStagingTable   string    `json:"source_staging_table"`
	TargetStagingTable   string    `json:"target_staging_table"`
	MatchedCount         int64     `json:"matched_count"`
	HighConfidenceCount  int64     `json:"high_confidence_count"`
	UnmatchedSourceCount int64     `json:"unmatched_source_count"`
	UnmatchedTargetCount int64     `json:"unmatched_target_count"`
	TotalSourceCount     int64     `json:"total_source_count"`
	TotalTargetCount     int64     `json:"total_target_count"`
	AvgConfidence        float64   `json:"avg_confidence"`
	RCR                  ReconKPI  `json:"rcr"`
	DQCS                 ReconKPI  `json:"dqcs"`
	REI                  ReconKPI  `json:"rei"`
	IRR                  ReconKPI  `json:"irr"`
	ExtractMs            int64     `json:"extract_ms"`
	ReconcileMs          int64     `json:"reconcile_ms"`
	ErrorMessage         *string   `json:"error_message,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}
