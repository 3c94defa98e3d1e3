package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/reconlab/recon-engine/pkg/apperrors"
	"github.com/reconlab/recon-engine/pkg/models"
)

// joinableTypes are the edge types usable as join hops, in priority order.
// Lower rank is preferred when comparing candidate paths.
var joinableTypes = map[string]int{
	models.RelExplicitPair:         0,
	models.RelForeignKey:           1,
	models.RelReferences:           2,
	models.RelCrossSchemaReference: 3,
}

// PathEdge is one hop of a join path, oriented in traversal direction.
// Reversed marks hops walked against the stored edge direction.
type PathEdge struct {
	Rel      models.GraphRelationship
	FromID   string
	ToID     string
	Reversed bool
}

// Neighbors returns the nodes directly connected to nodeID, sorted by id.
func Neighbors(kg *models.KnowledgeGraph, nodeID string) []models.GraphNode {
	seen := make(map[string]bool)
	var out []models.GraphNode

	for _, rel := range kg.Relationships {
		var otherID string
		switch nodeID {
		case rel.SourceID:
			otherID = rel.TargetID
		case rel.TargetID:
			otherID = rel.SourceID
		default:
			continue
		}
		if seen[otherID] {
			continue
		}
		seen[otherID] = true
		if n := kg.Node(otherID); n != nil {
			out = append(out, *n)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// EdgesBetweenTables returns every edge connecting the two tables in either
// direction. Table arguments may be bare names or qualified "schema:table" ids.
func EdgesBetweenTables(kg *models.KnowledgeGraph, tableA, tableB string) []models.GraphRelationship {
	var out []models.GraphRelationship
	for _, rel := range kg.Relationships {
		srcTable := OwningTableID(rel.SourceID)
		tgtTable := OwningTableID(rel.TargetID)
		if (matchesTable(kg, srcTable, tableA) && matchesTable(kg, tgtTable, tableB)) ||
			(matchesTable(kg, srcTable, tableB) && matchesTable(kg, tgtTable, tableA)) {
			out = append(out, rel)
		}
	}
	return out
}

// OwningTableID collapses a column node id to its table node id. Table node
// ids pass through unchanged.
func OwningTableID(nodeID string) string {
	if dot := strings.IndexByte(nodeID, '.'); dot >= 0 {
		return nodeID[:dot]
	}
	return nodeID
}

// matchesTable accepts either the full "schema:table" id or a bare table name.
func matchesTable(kg *models.KnowledgeGraph, tableID, want string) bool {
	if tableID == want {
		return true
	}
	if n := kg.Node(tableID); n != nil && n.Label == models.NodeLabelTable {
		return n.Name == want
	}
	return false
}

// ResolveTableID finds the table node id for a bare or qualified table name.
// Returns apperrors.ErrNotFound when no table node matches.
func ResolveTableID(kg *models.KnowledgeGraph, table string) (string, error) {
	if n := kg.Node(table); n != nil && n.Label == models.NodeLabelTable {
		return table, nil
	}
	for _, n := range kg.TableNodes() {
		if n.Name == table {
			return n.ID, nil
		}
	}
	return "", fmt.Errorf("table %q not in knowledge graph: %w", table, apperrors.ErrNotFound)
}

// FindJoinPath searches for a path between two tables of at most maxHops
// joinable edges. Candidate paths are compared first by edge-type priority
// (explicit pair, then foreign key, then reference, then cross-schema), then
// by lowest total (1 - confidence). Returns apperrors.ErrNotFound when the
// tables are not connected within the bound.
func FindJoinPath(kg *models.KnowledgeGraph, sourceTable, targetTable string, maxHops int) ([]PathEdge, error) {
	if maxHops <= 0 {
		maxHops = 3
	}

	srcID, err := ResolveTableID(kg, sourceTable)
	if err != nil {
		return nil, err
	}
	tgtID, err := ResolveTableID(kg, targetTable)
	if err != nil {
		return nil, err
	}
	if srcID == tgtID {
		return nil, fmt.Errorf("source and target are the same table %q: %w", sourceTable, apperrors.ErrInputInvalid)
	}

	// Table-level adjacency over joinable edges. Column-level edges are
	// collapsed onto their owning tables.
	adjacency := make(map[string][]PathEdge)
	for _, rel := range kg.Relationships {
		if _, ok := joinableTypes[rel.Type]; !ok {
			continue
		}
		from := OwningTableID(rel.SourceID)
		to := OwningTableID(rel.TargetID)
		if from == to {
			continue
		}
		adjacency[from] = append(adjacency[from], PathEdge{Rel: rel, FromID: from, ToID: to})
		adjacency[to] = append(adjacency[to], PathEdge{Rel: rel, FromID: to, ToID: from, Reversed: true})
	}

	// Deterministic expansion order.
	for id := range adjacency {
		edges := adjacency[id]
		sort.Slice(edges, func(i, j int) bool {
			if edges[i].ToID != edges[j].ToID {
				return edges[i].ToID < edges[j].ToID
			}
			return joinableTypes[edges[i].Rel.Type] < joinableTypes[edges[j].Rel.Type]
		})
		adjacency[id] = edges
	}

	var best []PathEdge
	var walk func(at string, visited map[string]bool, path []PathEdge)
	walk = func(at string, visited map[string]bool, path []PathEdge) {
		if at == tgtID {
			candidate := make([]PathEdge, len(path))
			copy(candidate, path)
			if best == nil || betterPath(candidate, best) {
				best = candidate
			}
			return
		}
		if len(path) >= maxHops {
			return
		}
		for _, edge := range adjacency[at] {
			if visited[edge.ToID] {
				continue
			}
			visited[edge.ToID] = true
			walk(edge.ToID, visited, append(path, edge))
			delete(visited, edge.ToID)
		}
	}
	walk(srcID, map[string]bool{srcID: true}, nil)

	if best == nil {
		return nil, fmt.Errorf("no join path from %q to %q within %d hops: %w",
			sourceTable, targetTable, maxHops, apperrors.ErrNotFound)
	}
	return best, nil
}

// betterPath orders candidates by summed type priority, then total
// (1 - confidence), then fewer hops.
func betterPath(a, b []PathEdge) bool {
	rankA, costA := pathScore(a)
	rankB, costB := pathScore(b)
	if rankA != rankB {
		return rankA < rankB
	}
	if costA != costB {
		return costA < costB
	}
	return len(a) < len(b)
}

func pathScore(path []PathEdge) (int, float64) {
	rank := 0
	cost := 0.0
	for _, e := range path {
		rank += joinableTypes[e.Rel.Type]
		cost += 1 - e.Rel.Confidence
	}
	return rank, cost
}
