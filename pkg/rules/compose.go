package rules

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reconlab/recon-engine/pkg/models"
)

// composeMultiTable builds composite rules from field preferences. Tables
// sharing a join column are chained: priority-rich tables first with INNER
// hops, enrichment tables (no priority fields of their own) last with LEFT
// hops. Single-pair rules remain alongside the composites.
func (g *generator) composeMultiTable(schemas map[string]*models.Schema, prefs []models.FieldPreference) []models.ReconciliationRule {
	if len(prefs) < 2 {
		return nil
	}

	type member struct {
		table         string
		schemaName    string
		priorityCount int
	}

	prefByTable := make(map[string]models.FieldPreference, len(prefs))
	for _, p := range prefs {
		prefByTable[p.TableName] = p
	}

	// Join-column candidates: every priority field names a potential chain.
	candidateCols := make(map[string]bool)
	for _, p := range prefs {
		for _, f := range p.PriorityFields {
			candidateCols[f] = true
		}
	}
	cols := make([]string, 0, len(candidateCols))
	for c := range candidateCols {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	schemaNames := make([]string, 0, len(schemas))
	for name := range schemas {
		schemaNames = append(schemaNames, name)
	}
	sort.Strings(schemaNames)

	grouped := make(map[string]bool) // tables already consumed by a chain
	var out []models.ReconciliationRule

	for _, col := range cols {
		var members []member
		for _, p := range prefs {
			if grouped[p.TableName] {
				continue
			}
			schemaName, ok := findTableSchema(schemas, schemaNames, p.TableName, col)
			if !ok {
				continue
			}
			members = append(members, member{
				table:         p.TableName,
				schemaName:    schemaName,
				priorityCount: len(p.PriorityFields),
			})
		}
		if len(members) < 2 {
			continue
		}

		// Priority-rich tables lead the chain; enrichment tables trail.
		sort.Slice(members, func(i, j int) bool {
			if members[i].priorityCount != members[j].priorityCount {
				return members[i].priorityCount > members[j].priorityCount
			}
			return members[i].table < members[j].table
		})

		joinTables := make([]string, len(members))
		joinOrder := make([]string, len(members))
		for i, m := range members {
			joinTables[i] = m.table
			joinOrder[i] = m.table
			grouped[m.table] = true
		}

		conditions := make([]models.JoinCondition, 0, len(members)-1)
		joinTypes := make([]string, 0, len(members)-1)
		for i := 0; i < len(members)-1; i++ {
			conditions = append(conditions, models.JoinCondition{
				Left:  fmt.Sprintf("t%d.%s", i+1, col),
				Right: fmt.Sprintf("t%d.%s", i+2, col),
			})
			// A hop into a table with its own priority fields preserves
			// match fidelity; a hop into pure enrichment must not drop rows.
			if members[i+1].priorityCount > 0 {
				joinTypes = append(joinTypes, models.JoinInner)
			} else {
				joinTypes = append(joinTypes, models.JoinLeft)
			}
		}

		first, last := members[0], members[len(members)-1]
		out = append(out, models.ReconciliationRule{
			RuleID:           uuid.NewString(),
			RuleName:         fmt.Sprintf("composite_%s_%s", col, strings.Join(joinTables, "_")),
			SourceSchema:     first.schemaName,
			SourceTable:      first.table,
			SourceColumns:    []string{col},
			TargetSchema:     last.schemaName,
			TargetTable:      last.table,
			TargetColumns:    []string{col},
			MatchType:        models.MatchTypeComposite,
			Confidence:       confComposite,
			ValidationStatus: models.ValidationValid,
			CreatedAt:        time.Now(),
			JoinTables:       joinTables,
			JoinConditions:   conditions,
			JoinOrder:        joinOrder,
			JoinTypes:        joinTypes,
		})
	}
	return out
}

// findTableSchema locates the schema containing table with the given column.
func findTableSchema(schemas map[string]*models.Schema, ordered []string, table, column string) (string, bool) {
	for _, name := range ordered {
		if t, ok := schemas[name].Tables[table]; ok && t.HasColumn(column) {
			return name, true
		}
	}
	return "", false
}
