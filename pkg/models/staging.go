package models

import "time"

// Staging table roles.
const (
	StagingRoleSource = "source"
	StagingRoleTarget = "target"
)

// Staging table statuses.
const (
	StagingActive  = "active"
	StagingExpired = "expired"
	StagingDeleted = "deleted"
)

// StagingTableMetadata is one row of the landing DB's staging registry.
// TableName is globally unique and follows
// recon_stage_{execution_id}_{source|target}_{yyyyMMdd_HHmmss}.
type StagingTableMetadata struct {
	TableName      string    `json:"table_name"`
	ExecutionID    string    `json:"execution_id"`
	RulesetID      string    `json:"ruleset_id"`
	SourceOrTarget string    `json:"source_or_target"`
	RowCount       int64     `json:"row_count"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	Status         string    `json:"status"`
}

// ExtractStats summarizes one extraction into a staging table.
type ExtractStats struct {
	RowCount  int64 `json:"row_count"`
	SizeBytes int64 `json:"size_bytes"`
	ElapsedMs int64 `json:"elapsed_ms"`
}
