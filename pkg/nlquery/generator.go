package nlquery

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/reconlab/recon-engine/pkg/apperrors"
	"github.com/reconlab/recon-engine/pkg/models"
	"github.com/reconlab/recon-engine/pkg/sqldialect"
)

// TableRef is one aliased table of a generated statement, in FROM order.
type TableRef struct {
	Alias string
	Table string
}

// Generated carries a statement plus its table aliases for later
// enhancement.
type Generated struct {
	SQL      string
	Tables   []TableRef
	Distinct bool
}

// Generate renders the intent as dialect SQL. A comparison without resolved
// join columns fails; nothing is executed for it.
func Generate(intent *models.QueryIntent, dbType string, limit int) (*Generated, error) {
	if intent.SourceTable == "" {
		return nil, fmt.Errorf("no source table resolved: %w", apperrors.ErrInputInvalid)
	}
	if intent.QueryType == models.QueryTypeComparison && len(intent.JoinColumns) == 0 {
		return nil, fmt.Errorf("comparison between %s and %s has no join path: %w",
			intent.SourceTable, intent.TargetTable, apperrors.ErrInputInvalid)
	}

	g := &Generated{Distinct: intent.QueryType != models.QueryTypeAggregation}
	aliases := assignAliases(intent)
	g.Tables = append(g.Tables, TableRef{Alias: "s", Table: intent.SourceTable})

	var joins []string
	var finalHop *models.JoinColumnPair
	coreDone := intent.TargetTable == ""
	for i := range intent.JoinColumns {
		pair := intent.JoinColumns[i]
		leftAlias := aliases[pair.SourceTable]
		rightAlias := aliases[pair.TargetTable]

		keyword := joinKeyword(intent, coreDone)
		joins = append(joins, fmt.Sprintf("%s JOIN %s %s ON %s = %s",
			keyword,
			sqldialect.Quote(dbType, pair.TargetTable), rightAlias,
			sqldialect.QuoteQualified(dbType, leftAlias, pair.SourceColumn),
			sqldialect.QuoteQualified(dbType, rightAlias, pair.TargetColumn)))
		g.Tables = append(g.Tables, TableRef{Alias: rightAlias, Table: pair.TargetTable})

		if pair.TargetTable == intent.TargetTable {
			finalHop = &intent.JoinColumns[i]
			coreDone = true
		}
	}

	where := buildWhere(intent, aliases, dbType, finalHop)
	projection := buildProjection(intent, aliases, dbType)

	var sb strings.Builder
	sb.WriteString("SELECT ")
	if g.Distinct {
		sb.WriteString("DISTINCT ")
	}
	sb.WriteString(projection)
	fmt.Fprintf(&sb, " FROM %s s", sqldialect.Quote(dbType, intent.SourceTable))
	for _, j := range joins {
		sb.WriteString(" " + j)
	}
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	if groupBy := buildGroupBy(intent, aliases, dbType); groupBy != "" {
		sb.WriteString(" GROUP BY " + groupBy)
	}

	g.SQL = sqldialect.ApplyLimit(dbType, sb.String(), limit)
	return g, nil
}

// assignAliases gives the source s, the target t, and every other table a
// numbered alias in join order.
func assignAliases(intent *models.QueryIntent) map[string]string {
	aliases := map[string]string{intent.SourceTable: "s"}
	if intent.TargetTable != "" {
		aliases[intent.TargetTable] = "t"
	}
	n := 2
	for _, pair := range intent.JoinColumns {
		for _, table := range []string{pair.SourceTable, pair.TargetTable} {
			if _, ok := aliases[table]; !ok {
				aliases[table] = fmt.Sprintf("t%d", n)
				n++
			}
		}
	}
	return aliases
}

// joinKeyword selects the JOIN type per hop. NOT_IN comparisons walk the
// whole core chain with LEFT; enrichment hops past the target are always
// LEFT so they cannot drop rows.
func joinKeyword(intent *models.QueryIntent, coreDone bool) string {
	if coreDone {
		return "LEFT"
	}
	if intent.QueryType == models.QueryTypeComparison && intent.Operation == models.OperationNotIn {
		return "LEFT"
	}
	return "INNER"
}

func buildWhere(intent *models.QueryIntent, aliases map[string]string, dbType string, finalHop *models.JoinColumnPair) []string {
	var where []string

	if intent.Operation == models.OperationNotIn && finalHop != nil {
		where = append(where, fmt.Sprintf("%s IS NULL",
			sqldialect.QuoteQualified(dbType, aliases[finalHop.TargetTable], finalHop.TargetColumn)))
	}

	for _, f := range intent.Filters {
		alias := aliases[f.Table]
		if alias == "" {
			// Per-plan attachment: target side of a two-table plan, source
			// otherwise.
			alias = "s"
			if intent.TargetTable != "" {
				alias = "t"
			}
		}
		where = append(where, fmt.Sprintf("%s %s %s",
			sqldialect.QuoteQualified(dbType, alias, f.Column), f.Op, sqlLiteral(f.Value)))
	}
	return where
}

func buildProjection(intent *models.QueryIntent, aliases map[string]string, dbType string) string {
	if intent.QueryType == models.QueryTypeAggregation {
		parts := make([]string, 0, len(intent.AdditionalColumns)+1)
		for _, col := range intent.AdditionalColumns {
			parts = append(parts, sqldialect.QuoteQualified(dbType, columnAlias(aliases, col), col.Column))
		}
		parts = append(parts, "COUNT(*) AS record_count")
		return strings.Join(parts, ", ")
	}

	parts := []string{"s.*"}
	for _, col := range intent.AdditionalColumns {
		alias := col.Alias
		if alias == "" {
			alias = strings.ToLower(col.Column)
		}
		parts = append(parts, fmt.Sprintf("%s AS %s",
			sqldialect.QuoteQualified(dbType, columnAlias(aliases, col), col.Column), alias))
	}
	return strings.Join(parts, ", ")
}

func buildGroupBy(intent *models.QueryIntent, aliases map[string]string, dbType string) string {
	if intent.QueryType != models.QueryTypeAggregation || len(intent.AdditionalColumns) == 0 {
		return ""
	}
	parts := make([]string, len(intent.AdditionalColumns))
	for i, col := range intent.AdditionalColumns {
		parts[i] = sqldialect.QuoteQualified(dbType, columnAlias(aliases, col), col.Column)
	}
	return strings.Join(parts, ", ")
}

func columnAlias(aliases map[string]string, col models.AdditionalColumn) string {
	if alias, ok := aliases[col.Table]; ok {
		return alias
	}
	return "s"
}

var numericLiteral = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

// sqlLiteral renders a filter value, quoting strings with doubled single
// quotes.
func sqlLiteral(v string) string {
	if numericLiteral.MatchString(v) {
		return v
	}
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

// opsPlannerColumn is projected for material-master tables per the planner
// enhancement rule.
const opsPlannerColumn = "OPS_PLANNER"

// Matches canonical material-master naming only; other OPS staging tables
// do not carry the column.
var materialMasterPattern = regexp.MustCompile(`(?i)material[_ ]?master`)

// EnhanceOpsPlanner appends <alias>.OPS_PLANNER AS ops_planner to the SELECT
// list when a material-master table participates in the statement and the
// column is not already projected. Returns the enhanced SQL and whether a
// change was made.
func EnhanceOpsPlanner(g *Generated, dbType string) (string, bool) {
	if strings.Contains(g.SQL, opsPlannerColumn) {
		return g.SQL, false
	}
	for _, ref := range g.Tables {
		if !materialMasterPattern.MatchString(ref.Table) {
			continue
		}
		fromIdx := strings.Index(g.SQL, " FROM ")
		if fromIdx < 0 {
			return g.SQL, false
		}
		projection := fmt.Sprintf(", %s AS ops_planner",
			sqldialect.QuoteQualified(dbType, ref.Alias, opsPlannerColumn))
		return g.SQL[:fromIdx] + projection + g.SQL[fromIdx:], true
	}
	return g.SQL, false
}
