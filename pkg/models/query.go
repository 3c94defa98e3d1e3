package models

// NL query types.
const (
	QueryTypeRelationship = "RELATIONSHIP"
	QueryTypeData         = "DATA_QUERY"
	QueryTypeFilter       = "FILTER_QUERY"
	QueryTypeComparison   = "COMPARISON_QUERY"
	QueryTypeAggregation  = "AGGREGATION_QUERY"
)

// NL query operations.
const (
	OperationNotIn     = "NOT_IN"
	OperationIn        = "IN"
	OperationEquals    = "EQUALS"
	OperationContains  = "CONTAINS"
	OperationAggregate = "AGGREGATE"
	OperationNone      = "NONE"
)

// Filter is one extracted predicate of an NL definition.
type Filter struct {
	Column string `json:"column"`
	Op     string `json:"op"` // =, !=, <, >, <=, >=, LIKE, BETWEEN
	Value  string `json:"value"`
	// Table owns the column when resolvable; empty means "attach per plan".
	Table string `json:"table,omitempty"`
}

// AdditionalColumn is a requested output column with its resolution path.
type AdditionalColumn struct {
	Column string `json:"column"`
	Table  string `json:"table"` // table from which the column is drawn
	Alias  string `json:"alias,omitempty"`
}

// JoinColumnPair is one resolved join hop with actual column names.
type JoinColumnPair struct {
	SourceTable  string  `json:"source_table"`
	SourceColumn string  `json:"source_column"`
	TargetTable  string  `json:"target_table"`
	TargetColumn string  `json:"target_column"`
	EdgeType     string  `json:"edge_type"`
	Confidence   float64 `json:"confidence"`
}

// QueryIntent is the parsed representation of an NL definition.
type QueryIntent struct {
	QueryType         string             `json:"query_type"`
	Operation         string             `json:"operation"`
	SourceTable       string             `json:"source_table,omitempty"`
	TargetTable       string             `json:"target_table,omitempty"`
	Filters           []Filter           `json:"filters,omitempty"`
	AdditionalColumns []AdditionalColumn `json:"additional_columns,omitempty"`
	JoinColumns       []JoinColumnPair   `json:"join_columns,omitempty"`
	Confidence        float64            `json:"confidence"`
	Reasoning         string             `json:"reasoning,omitempty"`
	Warnings          []string           `json:"warnings,omitempty"`
}

// QueryResult is the outcome of compiling and executing one NL definition.
type QueryResult struct {
	Definition      string           `json:"definition"`
	SQL             string           `json:"sql"`
	EnhancedSQL     string           `json:"enhanced_sql,omitempty"`
	RecordCount     int64            `json:"record_count"`
	JoinedColumns   []string         `json:"joined_columns,omitempty"`
	Confidence      float64          `json:"confidence"`
	ElapsedMs       int64            `json:"elapsed_ms"`
	SampleRows      []map[string]any `json:"sample_rows,omitempty"`
	QueryType       string           `json:"query_type"`
	Operation       string           `json:"operation"`
	SourceTable     string           `json:"source_table,omitempty"`
	TargetTable     string           `json:"target_table,omitempty"`
	ExecutionStatus string           `json:"execution_status"`
	ErrorMessage    string           `json:"error_message,omitempty"`
}

// NLQueryRequest carries one or more NL definitions compiled and executed in
// a single round-trip.
type NLQueryRequest struct {
	KGName        string   `json:"kg_name"`
	Schemas       []string `json:"schemas"`
	Definitions   []string `json:"definitions"`
	UseLLM        bool     `json:"use_llm"`
	MinConfidence float64  `json:"min_confidence"`
	Limit         int      `json:"limit"`
	DBType        string   `json:"db_type"`
}

// NLQueryResponse returns per-definition results plus aggregate statistics.
// Failure of one definition does not fail the batch.
type NLQueryResponse struct {
	Results          []QueryResult `json:"results"`
	TotalRecords     int64         `json:"total_records"`
	TotalElapsedMs   int64         `json:"total_elapsed_ms"`
	AvgConfidence    float64       `json:"avg_confidence"` // over successful queries
	SuccessfulCount  int           `json:"successful_count"`
	FailedCount      int           `json:"failed_count"`
}
