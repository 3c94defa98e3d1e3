package kpi

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/reconlab/recon-engine/pkg/apperrors"
	"github.com/reconlab/recon-engine/pkg/models"
	"github.com/reconlab/recon-engine/pkg/nlquery"
)

// EvidenceRequest asks for the rows behind a KPI value. MatchStatus overrides
// the category inferred from the KPI; Filter ANDs with the implicit one.
type EvidenceRequest struct {
	KPIID       uuid.UUID       `json:"kpi_id"`
	MatchStatus string          `json:"match_status,omitempty"`
	Filter      *models.Filter  `json:"filter,omitempty"`
	Limit       int             `json:"limit"`
	Offset      int             `json:"offset"`
	DB          models.DBConfig `json:"db_config"`
}

// Evidence is a page of rows supporting a KPI value.
type Evidence struct {
	KPIID     uuid.UUID        `json:"kpi_id"`
	Category  string           `json:"category"`
	SQL       string           `json:"sql"`
	Rows      []map[string]any `json:"rows"`
	ElapsedMs int64            `json:"elapsed_ms"`
}

var validCategories = map[string]bool{
	models.KPICategoryMatchRate:            true,
	models.KPICategoryUnmatchedSourceCount: true,
	models.KPICategoryUnmatchedTargetCount: true,
	models.KPICategoryInactiveRecordCount:  true,
	models.KPICategoryDataQualityScore:     true,
}

// Evidence recompiles the KPI's definition with the category's set operation
// applied, then pages the resulting rows. MATCH_RATE returns every row of the
// definition; UNMATCHED_* flip or reverse the comparison; INACTIVE flips an
// Active filter; DATA_QUALITY_SCORE returns the matched set.
func (s *Service) Evidence(ctx context.Context, req EvidenceRequest) (*Evidence, error) {
	def, err := s.repo.Get(ctx, req.KPIID)
	if err != nil {
		return nil, err
	}

	category := req.MatchStatus
	if category == "" {
		category = inferCategory(def)
	}
	if !validCategories[category] {
		return nil, fmt.Errorf("unknown match category %q: %w", category, apperrors.ErrInputInvalid)
	}

	// The compile parameters come from the execution that produced the value.
	latest, err := s.repo.LatestSuccessfulExecution(ctx, req.KPIID)
	if err != nil {
		return nil, err
	}

	intent, _, err := s.compiler.Compile(ctx, def.NLDefinition,
		latest.Params.KGName, latest.Params.DBType, 0, false)
	if err != nil {
		return nil, err
	}

	applyCategory(intent, category)
	if req.Filter != nil {
		if err := nlquery.ScreenFilters([]models.Filter{*req.Filter}); err != nil {
			return nil, err
		}
		intent.Filters = append(intent.Filters, *req.Filter)
	}

	generated, err := nlquery.Generate(intent, latest.Params.DBType, 0)
	if err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}
	paged := pageSQL(latest.Params.DBType, generated.SQL, req.Offset, limit)

	_, rows, elapsed, err := s.runner.Run(ctx, req.DB, paged, limit)
	if err != nil {
		return nil, err
	}
	return &Evidence{
		KPIID:     req.KPIID,
		Category:  category,
		SQL:       paged,
		Rows:      rows,
		ElapsedMs: elapsed,
	}, nil
}

// inferCategory reads the match category from the KPI's naming.
func inferCategory(def *models.KPIDefinition) string {
	text := strings.ToLower(def.Name + " " + def.AliasName + " " + def.GroupName)
	switch {
	case strings.Contains(text, "unmatched source"):
		return models.KPICategoryUnmatchedSourceCount
	case strings.Contains(text, "unmatched target"):
		return models.KPICategoryUnmatchedTargetCount
	case strings.Contains(text, "inactive"):
		return models.KPICategoryInactiveRecordCount
	case strings.Contains(text, "quality"):
		return models.KPICategoryDataQualityScore
	default:
		return models.KPICategoryMatchRate
	}
}

// applyCategory rewrites the comparison operation so the generated SQL
// returns the category's row set instead of the KPI's own.
func applyCategory(intent *models.QueryIntent, category string) {
	if intent.QueryType != models.QueryTypeComparison {
		if category == models.KPICategoryInactiveRecordCount {
			flipActiveFilter(intent)
		}
		return
	}

	switch category {
	case models.KPICategoryMatchRate:
		// All rows of the definition as written.
	case models.KPICategoryDataQualityScore:
		intent.Operation = models.OperationIn
	case models.KPICategoryUnmatchedSourceCount:
		intent.Operation = models.OperationNotIn
	case models.KPICategoryUnmatchedTargetCount:
		reverseComparison(intent)
		intent.Operation = models.OperationNotIn
	case models.KPICategoryInactiveRecordCount:
		intent.Operation = models.OperationIn
		flipActiveFilter(intent)
	}
}

// reverseComparison swaps source and target so unmatched-target rows become
// the driving side of the LEFT JOIN.
func reverseComparison(intent *models.QueryIntent) {
	intent.SourceTable, intent.TargetTable = intent.TargetTable, intent.SourceTable

	reversed := make([]models.JoinColumnPair, 0, len(intent.JoinColumns))
	for i := len(intent.JoinColumns) - 1; i >= 0; i-- {
		pair := intent.JoinColumns[i]
		reversed = append(reversed, models.JoinColumnPair{
			SourceTable:  pair.TargetTable,
			SourceColumn: pair.TargetColumn,
			TargetTable:  pair.SourceTable,
			TargetColumn: pair.SourceColumn,
			EdgeType:     pair.EdgeType,
			Confidence:   pair.Confidence,
		})
	}
	intent.JoinColumns = reversed
}

func flipActiveFilter(intent *models.QueryIntent) {
	for i, f := range intent.Filters {
		if strings.EqualFold(f.Value, "Active") {
			intent.Filters[i].Value = "Inactive"
		}
	}
}
