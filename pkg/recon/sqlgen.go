package recon

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/reconlab/recon-engine/pkg/landing"
	"github.com/reconlab/recon-engine/pkg/models"
	"github.com/reconlab/recon-engine/pkg/sqldialect"
)

// extractSelect builds the dialect SELECT that pulls one side's rows from the
// live database.
func extractSelect(dbType, table string, columns []landing.ColumnSpec, limit int) string {
	projected := make([]string, len(columns))
	for i, c := range columns {
		projected[i] = sqldialect.Quote(dbType, c.Name)
	}
	query := fmt.Sprintf("SELECT %s FROM %s",
		strings.Join(projected, ", "), sqldialect.Quote(dbType, table))
	return sqldialect.ApplyLimit(dbType, query, limit)
}

const highConfidenceFloor = 0.9

// transformPlaceholder matches the bare x placeholder inside transformation
// fragments such as UPPER(TRIM(x)).
var transformPlaceholder = regexp.MustCompile(`\bx\b`)

// rulePredicate renders one rule as a join predicate between aliases s and t.
// All staging SQL targets the landing database, so identifiers are
// double-quoted regardless of the original source dialect.
func rulePredicate(r models.ReconciliationRule) string {
	parts := make([]string, len(r.SourceColumns))
	for i := range r.SourceColumns {
		left := fmt.Sprintf(`s.%q`, r.SourceColumns[i])
		right := fmt.Sprintf(`t.%q`, r.TargetColumns[i])

		switch r.MatchType {
		case models.MatchTypeFuzzy:
			parts[i] = fmt.Sprintf("LEVENSHTEIN(%s, %s) < 3", left, right)
		case models.MatchTypeTransformation:
			if r.Transformation != "" {
				left = transformPlaceholder.ReplaceAllString(r.Transformation, left)
				right = transformPlaceholder.ReplaceAllString(r.Transformation, right)
			}
			parts[i] = fmt.Sprintf("%s = %s", left, right)
		default:
			parts[i] = fmt.Sprintf("%s = %s", left, right)
		}
	}
	return strings.Join(parts, " AND ")
}

// buildReconSQL emits the single statement computing every reconciliation
// count in one pass over the two staging tables. The count CTEs carry no
// LIMIT; per-rule matches are unioned and the best confidence per source row
// wins. inactivePredicate is an optional fragment over alias s.
func buildReconSQL(plan *executionPlan, sourceTable, targetTable, inactivePredicate string) string {
	var candidates []string
	var anyPreds []string
	for i, r := range plan.Rules {
		pred := rulePredicate(r)
		anyPreds = append(anyPreds, "("+pred+")")
		candidates = append(candidates, fmt.Sprintf(
			"    SELECT s.ctid AS src_row, %d AS rule_idx, %.4f::float8 AS confidence\n    FROM %s s\n    INNER JOIN %s t ON %s",
			i, r.Confidence, sourceTable, targetTable, pred))
	}
	anyPred := strings.Join(anyPreds, " OR ")

	inactiveExpr := "0::bigint"
	if inactivePredicate != "" {
		inactiveExpr = fmt.Sprintf("(SELECT COUNT(*) FROM %s s WHERE %s)", sourceTable, inactivePredicate)
	}

	var sb strings.Builder
	sb.WriteString("WITH candidates AS (\n")
	sb.WriteString(strings.Join(candidates, "\n  UNION ALL\n"))
	sb.WriteString("\n),\nmatched AS (\n")
	sb.WriteString("    SELECT src_row, MAX(confidence) AS confidence\n    FROM candidates\n    GROUP BY src_row\n)\n")
	fmt.Fprintf(&sb, `SELECT
    (SELECT COUNT(*) FROM matched) AS matched_count,
    COALESCE((SELECT AVG(confidence) FROM matched), 0) AS avg_confidence,
    (SELECT COUNT(*) FROM matched WHERE confidence >= %.2f) AS high_confidence_count,
    (SELECT COUNT(*) FROM %s s WHERE NOT EXISTS (SELECT 1 FROM %s t WHERE %s)) AS unmatched_source_count,
    (SELECT COUNT(*) FROM %s t WHERE NOT EXISTS (SELECT 1 FROM %s s WHERE %s)) AS unmatched_target_count,
    (SELECT COUNT(*) FROM %s) AS total_source_count,
    (SELECT COUNT(*) FROM %s) AS total_target_count,
    (SELECT COUNT(DISTINCT rule_idx) FROM candidates) AS rules_matched,
    %s AS inactive_source_count`,
		highConfidenceFloor,
		sourceTable, targetTable, anyPred,
		targetTable, sourceTable, anyPred,
		sourceTable, targetTable,
		inactiveExpr)
	return sb.String()
}
