package recon

import (
	"fmt"
	"sort"
	"strings"

	"github.com/reconlab/recon-engine/pkg/apperrors"
	"github.com/reconlab/recon-engine/pkg/landing"
	"github.com/reconlab/recon-engine/pkg/models"
)

// executionPlan is the resolved shape of one landing run: the source/target
// table pair carrying the most executable rules, the column specs to stage,
// and the join columns to index.
type executionPlan struct {
	SourceSchema string
	SourceTable  string
	TargetSchema string
	TargetTable  string

	// Rules on the chosen pair, in ruleset order. Drives the match CTEs and
	// the rule-utilization denominator.
	Rules []models.ReconciliationRule

	SourceColumns []landing.ColumnSpec
	TargetColumns []landing.ColumnSpec

	SourceJoinColumns []string
	TargetJoinColumns []string
}

// buildPlan selects the table pair covered by the most executable two-table
// rules. Composite rules are kept in the ruleset for audit but excluded from
// landing execution. Schemas may be nil when descriptors are unavailable; the
// plan then stages only the rule columns as strings.
func buildPlan(rs *models.Ruleset, schemas map[string]*models.Schema) (*executionPlan, error) {
	executable := rs.ExecutableRules()

	groups := make(map[string][]models.ReconciliationRule)
	for _, r := range executable {
		if r.IsComposite() {
			continue
		}
		key := r.SourceSchema + ":" + r.SourceTable + "->" + r.TargetSchema + ":" + r.TargetTable
		groups[key] = append(groups[key], r)
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("ruleset %s has no executable two-table rules: %w", rs.RulesetID, apperrors.ErrInputInvalid)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(groups[keys[i]]) != len(groups[keys[j]]) {
			return len(groups[keys[i]]) > len(groups[keys[j]])
		}
		return keys[i] < keys[j]
	})

	chosen := groups[keys[0]]
	first := chosen[0]

	plan := &executionPlan{
		SourceSchema: first.SourceSchema,
		SourceTable:  first.SourceTable,
		TargetSchema: first.TargetSchema,
		TargetTable:  first.TargetTable,
		Rules:        chosen,
	}

	for _, r := range chosen {
		plan.SourceJoinColumns = appendUnique(plan.SourceJoinColumns, r.SourceColumns...)
		plan.TargetJoinColumns = appendUnique(plan.TargetJoinColumns, r.TargetColumns...)
	}

	plan.SourceColumns = stagingColumns(schemas, plan.SourceSchema, plan.SourceTable, plan.SourceJoinColumns)
	plan.TargetColumns = stagingColumns(schemas, plan.TargetSchema, plan.TargetTable, plan.TargetJoinColumns)
	return plan, nil
}

// stagingColumns stages the full table when the schema descriptor is known,
// falling back to the join columns as untyped strings otherwise.
func stagingColumns(schemas map[string]*models.Schema, schemaName, tableName string, joinColumns []string) []landing.ColumnSpec {
	if s, ok := schemas[schemaName]; ok {
		if t, ok := s.Tables[tableName]; ok {
			specs := make([]landing.ColumnSpec, len(t.Columns))
			for i, c := range t.Columns {
				specs[i] = landing.ColumnSpec{Name: c.Name, Kind: columnKind(c.Type)}
			}
			return specs
		}
	}

	specs := make([]landing.ColumnSpec, len(joinColumns))
	for i, c := range joinColumns {
		specs[i] = landing.ColumnSpec{Name: c, Kind: landing.KindString}
	}
	return specs
}

// columnKind maps a source column type string onto a staging column kind.
func columnKind(sourceType string) landing.ColumnKind {
	t := strings.ToLower(sourceType)
	switch {
	case strings.Contains(t, "bigint"), strings.Contains(t, "smallint"),
		strings.Contains(t, "tinyint"), strings.Contains(t, "int"):
		return landing.KindInteger
	case strings.Contains(t, "decimal"), strings.Contains(t, "numeric"),
		strings.Contains(t, "float"), strings.Contains(t, "double"),
		strings.Contains(t, "real"), strings.Contains(t, "number"):
		return landing.KindNumeric
	case strings.Contains(t, "timestamp"), strings.Contains(t, "datetime"):
		return landing.KindDateTime
	case strings.Contains(t, "date"):
		return landing.KindDate
	default:
		return landing.KindString
	}
}

func appendUnique(dst []string, items ...string) []string {
	for _, item := range items {
		found := false
		for _, existing := range dst {
			if existing == item {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, item)
		}
	}
	return dst
}
