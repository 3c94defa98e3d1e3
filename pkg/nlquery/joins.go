package nlquery

import (
	"fmt"
	"sort"
	"strings"

	"github.com/reconlab/recon-engine/pkg/apperrors"
	"github.com/reconlab/recon-engine/pkg/graph"
	"github.com/reconlab/recon-engine/pkg/models"
)

// joinPairs converts a KG path into join hops carrying the actual column
// names on both sides. Placeholder conditions are never emitted: a hop whose
// columns cannot be resolved fails the conversion.
func joinPairs(kg *models.KnowledgeGraph, path []graph.PathEdge) ([]models.JoinColumnPair, error) {
	pairs := make([]models.JoinColumnPair, 0, len(path))
	for _, edge := range path {
		pair, err := resolveHop(kg, edge)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, pair)
	}
	return pairs, nil
}

func resolveHop(kg *models.KnowledgeGraph, edge graph.PathEdge) (models.JoinColumnPair, error) {
	rel := edge.Rel
	srcCol := rel.PropString("source_column")
	tgtCol := rel.PropString("target_column")

	switch rel.Type {
	case models.RelExplicitPair:
		// Endpoints are column nodes; ids carry the truth even when the
		// properties are missing.
		if srcCol == "" {
			srcCol = columnOfNodeID(rel.SourceID)
		}
		if tgtCol == "" {
			tgtCol = columnOfNodeID(rel.TargetID)
		}
	case models.RelReferences:
		if tgtCol == "" {
			tgtCol = primaryKeyOf(kg, graph.OwningTableID(rel.TargetID))
		}
	case models.RelCrossSchemaReference:
		if srcCol == "" {
			srcCol = rel.PropString("column_name")
		}
		if tgtCol == "" {
			tgtCol = primaryKeyOf(kg, graph.OwningTableID(rel.TargetID))
		}
	}

	if srcCol == "" || tgtCol == "" {
		return models.JoinColumnPair{}, fmt.Errorf(
			"join hop %s -> %s has unresolved columns: %w", edge.FromID, edge.ToID, apperrors.ErrInvariant)
	}

	pair := models.JoinColumnPair{
		SourceTable:  tableName(kg, graph.OwningTableID(rel.SourceID)),
		SourceColumn: srcCol,
		TargetTable:  tableName(kg, graph.OwningTableID(rel.TargetID)),
		TargetColumn: tgtCol,
		EdgeType:     rel.Type,
		Confidence:   rel.Confidence,
	}
	if edge.Reversed {
		pair.SourceTable, pair.TargetTable = pair.TargetTable, pair.SourceTable
		pair.SourceColumn, pair.TargetColumn = pair.TargetColumn, pair.SourceColumn
	}
	return pair, nil
}

// columnOfNodeID extracts the column part of a "schema:table.column" node id.
func columnOfNodeID(nodeID string) string {
	if dot := strings.IndexByte(nodeID, '.'); dot >= 0 {
		return nodeID[dot+1:]
	}
	return ""
}

// primaryKeyOf returns the first primary-key column node of a table, by
// sorted node id for determinism.
func primaryKeyOf(kg *models.KnowledgeGraph, tableID string) string {
	var candidates []string
	for _, n := range kg.Nodes {
		if n.Label != models.NodeLabelColumn || !strings.HasPrefix(n.ID, tableID+".") {
			continue
		}
		if pk, ok := n.Properties["primary_key"].(bool); ok && pk {
			candidates = append(candidates, n.Name)
		}
	}
	sort.Strings(candidates)
	if len(candidates) > 0 {
		return candidates[0]
	}
	return ""
}

// tableName returns the bare table name of a table node id.
func tableName(kg *models.KnowledgeGraph, tableID string) string {
	if n := kg.Node(tableID); n != nil {
		return n.Name
	}
	return tableID
}
