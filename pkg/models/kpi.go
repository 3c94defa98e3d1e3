package models

import (
	"time"

	"github.com/google/uuid"
)

// Execution statuses. Timeout and cancelled are distinct from failed.
const (
	ExecutionPending   = "pending"
	ExecutionQueued    = "queued"
	ExecutionRunning   = "running"
	ExecutionSuccess   = "success"
	ExecutionFailed    = "failed"
	ExecutionTimeout   = "timeout"
	ExecutionCancelled = "cancelled"
)

// KPIDefinition is a named NL-defined KPI with cache flags.
// IsSQLCached=true implies CachedSQL is non-nil.
type KPIDefinition struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	AliasName    string    `json:"alias_name,omitempty"`
	GroupName    string    `json:"group_name,omitempty"`
	Description  string    `json:"description,omitempty"`
	NLDefinition string    `json:"nl_definition"`
	CreatedBy    string    `json:"created_by,omitempty"`
	IsActive     bool      `json:"is_active"`
	IsAccept     bool      `json:"isAccept"`
	IsSQLCached  bool      `json:"isSQLCached"`
	CachedSQL    *string   `json:"cached_sql,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ExecutionParams are the request parameters recorded on an execution row.
type ExecutionParams struct {
	KGName         string   `json:"kg_name"`
	SelectSchema   string   `json:"select_schema,omitempty"`
	RulesetName    string   `json:"ruleset_name,omitempty"`
	DBType         string   `json:"db_type"`
	LimitRecords   int      `json:"limit_records"`
	UseLLM         bool     `json:"use_llm"`
	ExcludedFields []string `json:"excluded_fields,omitempty"`
}

// KPIExecution is one append-only execution history row.
// GeneratedSQL is persisted on every outcome, including failure.
type KPIExecution struct {
	ID              uuid.UUID       `json:"id"`
	KPIID           uuid.UUID       `json:"kpi_id"`
	Params          ExecutionParams `json:"params"`
	GeneratedSQL    *string         `json:"generated_sql,omitempty"`
	EnhancedSQL     *string         `json:"enhanced_sql,omitempty"`
	NumberOfRecords int64           `json:"number_of_records"`
	JoinedColumns   []string        `json:"joined_columns,omitempty"`
	SQLQueryType    string          `json:"sql_query_type,omitempty"`
	Operation       string          `json:"operation,omitempty"`
	ExecutionStatus string          `json:"execution_status"`
	ExecutionTime   time.Time       `json:"execution_timestamp"`
	ExecutionTimeMs int64           `json:"execution_time_ms"`
	ConfidenceScore float64         `json:"confidence_score"`
	ErrorMessage    *string         `json:"error_message,omitempty"`
	ResultData      []map[string]any `json:"result_data,omitempty"` // bounded sample
	SourceTable     string          `json:"source_table,omitempty"`
	TargetTable     string          `json:"target_table,omitempty"`
}

// KPIGroupSummary is one dashboard row: active KPIs of a group joined with
// their most recent execution.
type KPIGroupSummary struct {
	GroupName  string            `json:"group_name"`
	KPICount   int               `json:"kpi_count"`
	KPIs       []KPIGroupMember  `json:"kpis"`
}

// KPIGroupMember pairs a KPI with its latest execution outcome.
type KPIGroupMember struct {
	KPIID           uuid.UUID  `json:"kpi_id"`
	Name            string     `json:"name"`
	LatestStatus    string     `json:"latest_status,omitempty"`
	LatestRecords   int64      `json:"latest_records"`
	LatestTimestamp *time.Time `json:"latest_timestamp,omitempty"`
}

// KPI match categories for evidence drill-down.
const (
	KPICategoryMatchRate            = "MATCH_RATE"
	KPICategoryUnmatchedSourceCount = "UNMATCHED_SOURCE_COUNT"
	KPICategoryUnmatchedTargetCount = "UNMATCHED_TARGET_COUNT"
	KPICategoryInactiveRecordCount  = "INACTIVE_RECORD_COUNT"
	KPICategoryDataQualityScore     = "DATA_QUALITY_SCORE"
)
