package models

import (
	"fmt"
	"sort"

	"github.com/reconlab/recon-engine/pkg/apperrors"
)

// Node labels.
const (
	NodeLabelTable  = "TABLE"
	NodeLabelColumn = "COLUMN"
	NodeLabelEntity = "ENTITY"
)

// Relationship types form a closed set.
const (
	RelForeignKey           = "FOREIGN_KEY"
	RelReferences           = "REFERENCES"
	RelBelongsTo            = "BELONGS_TO"
	RelHas                  = "HAS"
	RelContains             = "CONTAINS"
	RelAssociatesWith       = "ASSOCIATES_WITH"
	RelInheritsFrom         = "INHERITS_FROM"
	RelTracks               = "TRACKS"
	RelCrossSchemaReference = "CROSS_SCHEMA_REFERENCE"
	RelSemanticReference    = "SEMANTIC_REFERENCE"
	RelBusinessLogic        = "BUSINESS_LOGIC"
	RelHierarchical         = "HIERARCHICAL"
	RelTemporal             = "TEMPORAL"
	RelLookup               = "LOOKUP"
	RelExplicitPair         = "EXPLICIT_PAIR"
)

// ValidRelationshipTypes contains every member of the closed type set.
var ValidRelationshipTypes = []string{
	RelForeignKey, RelReferences, RelBelongsTo, RelHas, RelContains,
	RelAssociatesWith, RelInheritsFrom, RelTracks, RelCrossSchemaReference,
	RelSemanticReference, RelBusinessLogic, RelHierarchical, RelTemporal,
	RelLookup, RelExplicitPair,
}

// IsValidRelationshipType checks membership in the closed type set.
func IsValidRelationshipType(t string) bool {
	for _, v := range ValidRelationshipTypes {
		if v == t {
			return true
		}
	}
	return false
}

// GraphNode is a node in the knowledge graph. IDs are stable within a KG
// name: "schema:table" for tables, "schema:table.column" for columns.
type GraphNode struct {
	ID         string         `json:"id"`
	Label      string         `json:"label"`
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties,omitempty"`
}

// GraphRelationship is a directed edge between two nodes.
// Properties may carry source_schema, target_schema, source_column,
// target_column, user_defined, bidirectional.
type GraphRelationship struct {
	SourceID   string         `json:"source_id"`
	TargetID   string         `json:"target_id"`
	Type       string         `json:"type"`
	Confidence float64        `json:"confidence"`
	Inferred   bool           `json:"inferred"`
	Reasoning  string         `json:"reasoning,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// PropString returns a string property, or "" when absent.
func (r *GraphRelationship) PropString(key string) string {
	if r.Properties == nil {
		return ""
	}
	if v, ok := r.Properties[key].(string); ok {
		return v
	}
	return ""
}

// KnowledgeGraph is the named container of nodes, relationships, and
// metadata. TableAliases maps fully-qualified table names to an ordered
// sequence of business-friendly aliases; it is persisted inside metadata.
type KnowledgeGraph struct {
	Name          string              `json:"name"`
	SchemaFile    string              `json:"schema_file"`
	Nodes         []GraphNode         `json:"nodes"`
	Relationships []GraphRelationship `json:"relationships"`
	Metadata      map[string]any      `json:"metadata,omitempty"`
	TableAliases  map[string][]string `json:"table_aliases,omitempty"`

	nodeIndex map[string]int
}

// NewKnowledgeGraph creates an empty graph with the given name.
func NewKnowledgeGraph(name string) *KnowledgeGraph {
	return &KnowledgeGraph{
		Name:         name,
		Metadata:     make(map[string]any),
		TableAliases: make(map[string][]string),
		nodeIndex:    make(map[string]int),
	}
}

// reindex rebuilds the node lookup after deserialization.
func (kg *KnowledgeGraph) reindex() {
	kg.nodeIndex = make(map[string]int, len(kg.Nodes))
	for i, n := range kg.Nodes {
		kg.nodeIndex[n.ID] = i
	}
}

// HasNode reports whether a node with the given id exists.
func (kg *KnowledgeGraph) HasNode(id string) bool {
	if kg.nodeIndex == nil || len(kg.nodeIndex) != len(kg.Nodes) {
		kg.reindex()
	}
	_, ok := kg.nodeIndex[id]
	return ok
}

// Node returns the node with the given id, or nil.
func (kg *KnowledgeGraph) Node(id string) *GraphNode {
	if !kg.HasNode(id) {
		return nil
	}
	return &kg.Nodes[kg.nodeIndex[id]]
}

// AddNode inserts a node; an existing node with the same id is left intact.
func (kg *KnowledgeGraph) AddNode(node GraphNode) {
	if kg.HasNode(node.ID) {
		return
	}
	kg.Nodes = append(kg.Nodes, node)
	kg.nodeIndex[node.ID] = len(kg.Nodes) - 1
}

// AddRelationship inserts an edge, enforcing endpoint presence, confidence
// bounds, and the (source, target, type) tie-break: higher confidence wins;
// on equal confidence the non-inferred edge wins.
func (kg *KnowledgeGraph) AddRelationship(rel GraphRelationship) error {
	if rel.Confidence < 0 || rel.Confidence > 1 {
		return fmt.Errorf("%w: confidence %f out of [0,1] for %s -> %s",
			apperrors.ErrInvariant, rel.Confidence, rel.SourceID, rel.TargetID)
	}
	if !IsValidRelationshipType(rel.Type) {
		return fmt.Errorf("%w: unknown relationship type %q", apperrors.ErrInvariant, rel.Type)
	}
	if !kg.HasNode(rel.SourceID) || !kg.HasNode(rel.TargetID) {
		return fmt.Errorf("%w: edge endpoint missing (%s -> %s)",
			apperrors.ErrInvariant, rel.SourceID, rel.TargetID)
	}

	for i := range kg.Relationships {
		existing := &kg.Relationships[i]
		if existing.SourceID == rel.SourceID && existing.TargetID == rel.TargetID && existing.Type == rel.Type {
			if rel.Confidence > existing.Confidence ||
				(rel.Confidence == existing.Confidence && !rel.Inferred && existing.Inferred) {
				*existing = rel
			}
			return nil
		}
	}

	kg.Relationships = append(kg.Relationships, rel)
	return nil
}

// Validate checks the graph invariants: endpoints present, confidences in
// range, types in the closed set.
func (kg *KnowledgeGraph) Validate() error {
	for _, rel := range kg.Relationships {
		if !kg.HasNode(rel.SourceID) || !kg.HasNode(rel.TargetID) {
			return fmt.Errorf("%w: edge %s -> %s references missing node",
				apperrors.ErrInvariant, rel.SourceID, rel.TargetID)
		}
		if rel.Confidence < 0 || rel.Confidence > 1 {
			return fmt.Errorf("%w: edge %s -> %s confidence %f",
				apperrors.ErrInvariant, rel.SourceID, rel.TargetID, rel.Confidence)
		}
		if !IsValidRelationshipType(rel.Type) {
			return fmt.Errorf("%w: edge type %q", apperrors.ErrInvariant, rel.Type)
		}
	}
	return nil
}

// TableNodes returns TABLE nodes sorted by id for deterministic iteration.
func (kg *KnowledgeGraph) TableNodes() []GraphNode {
	var tables []GraphNode
	for _, n := range kg.Nodes {
		if n.Label == NodeLabelTable {
			tables = append(tables, n)
		}
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].ID < tables[j].ID })
	return tables
}

// TableNodeID builds the stable node id for a table.
func TableNodeID(schema, table string) string {
	return schema + ":" + table
}

// ColumnNodeID builds the stable node id for a column.
func ColumnNodeID(schema, table, column string) string {
	return schema + ":" + table + "." + column
}
