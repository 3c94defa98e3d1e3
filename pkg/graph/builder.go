package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/reconlab/recon-engine/pkg/apperrors"
	"github.com/reconlab/recon-engine/pkg/llm"
	"github.com/reconlab/recon-engine/pkg/models"
	"github.com/reconlab/recon-engine/pkg/schema"
)

// Confidence levels assigned by the pattern passes.
const (
	confForeignKey  = 0.95
	confReferences  = 0.85
	confBelongsTo   = 1.0
	confCrossSchema = 0.75
)

// BuildRequest describes one knowledge-graph build. Single-schema builds are
// the N=1 case of the same flow.
type BuildRequest struct {
	KGName      string
	SchemaNames []string
	UseLLM      bool

	// Pairs are user-supplied explicit relationships. Pairs touching an
	// excluded field are dropped before anything else happens.
	Pairs []models.RelationshipPair

	// Preferences carry per-table priority/excluded/filter hints. Columns
	// named in a preference are promoted to COLUMN nodes.
	Preferences []models.FieldPreference
}

// Builder constructs knowledge graphs from schemas, explicit pairs, and
// optional LLM enhancement, persisting the result through the Store.
type Builder interface {
	Build(ctx context.Context, req BuildRequest) (*models.KnowledgeGraph, error)
}

type builder struct {
	loader         schema.Loader
	store          Store
	client         llm.ChatClient // nil when no LLM is configured
	excludedFields models.ExcludedFieldSet
	minConfidence  float64
	logger         *zap.Logger
}

// NewBuilder creates a Builder. client may be nil; LLM steps are then skipped.
func NewBuilder(loader schema.Loader, store Store, client llm.ChatClient, excluded models.ExcludedFieldSet, minConfidence float64, logger *zap.Logger) Builder {
	return &builder{
		loader:         loader,
		store:          store,
		client:         client,
		excludedFields: excluded,
		minConfidence:  minConfidence,
		logger:         logger.Named("graph-builder"),
	}
}

var _ Builder = (*builder)(nil)

func (b *builder) Build(ctx context.Context, req BuildRequest) (*models.KnowledgeGraph, error) {
	if req.KGName == "" {
		return nil, fmt.Errorf("kg name is required: %w", apperrors.ErrInputInvalid)
	}
	if len(req.SchemaNames) == 0 {
		return nil, fmt.Errorf("at least one schema is required: %w", apperrors.ErrInputInvalid)
	}

	// Schema loads are fatal. The loader already rejects zero-table schemas.
	schemas := make([]*models.Schema, 0, len(req.SchemaNames))
	for _, name := range req.SchemaNames {
		s, err := b.loader.Load(name)
		if err != nil {
			return nil, err
		}
		schemas = append(schemas, s)
	}

	pairs := b.filterPairs(req.Pairs)

	kg := models.NewKnowledgeGraph(req.KGName)
	kg.SchemaFile = strings.Join(req.SchemaNames, ",")
	kg.Metadata["schemas"] = req.SchemaNames

	b.createNodes(kg, schemas, pairs, req.Preferences)

	if err := b.addExplicitPairEdges(kg, schemas, pairs); err != nil {
		return nil, err
	}
	if err := b.addWithinSchemaEdges(kg, schemas); err != nil {
		return nil, err
	}
	if err := b.addCrossSchemaEdges(kg, schemas); err != nil {
		return nil, err
	}

	if req.UseLLM && b.client != nil {
		b.enhanceWithLLM(ctx, kg, schemas)
		b.extractTableAliases(ctx, kg, schemas)
	}

	if err := kg.Validate(); err != nil {
		return nil, err
	}
	if err := b.store.Put(ctx, kg); err != nil {
		return nil, err
	}

	b.logger.Info("Built knowledge graph",
		zap.String("kg", req.KGName),
		zap.Strings("schemas", req.SchemaNames),
		zap.Int("nodes", len(kg.Nodes)),
		zap.Int("relationships", len(kg.Relationships)),
		zap.Bool("llm", req.UseLLM && b.client != nil))
	return kg, nil
}

// filterPairs drops pairs touching an excluded field. Only explicit pairs go
// through this filter; pattern- and LLM-derived edges never do.
func (b *builder) filterPairs(pairs []models.RelationshipPair) []models.RelationshipPair {
	kept := make([]models.RelationshipPair, 0, len(pairs))
	filtered := 0
	for _, p := range pairs {
		if b.excludedFields.BlocksPair(p) {
			filtered++
			continue
		}
		kept = append(kept, p)
	}
	if filtered > 0 {
		b.logger.Info("Filtered explicit pairs on excluded fields", zap.Int("filtered", filtered))
	}
	return kept
}

// importantColumn reports whether a column should become its own node.
func importantColumn(table *models.Table, col *models.Column, promoted map[string]bool) bool {
	if col.PrimaryKey || table.IsPrimaryKey(col.Name) || table.IsForeignKey(col.Name) {
		return true
	}
	if promoted[col.Name] {
		return true
	}
	lower := strings.ToLower(col.Name)
	if strings.HasSuffix(lower, "_id") || strings.HasSuffix(lower, "_uid") {
		return true
	}
	for _, marker := range []string{"code", "key", "ref"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func (b *builder) createNodes(kg *models.KnowledgeGraph, schemas []*models.Schema, pairs []models.RelationshipPair, prefs []models.FieldPreference) {
	// Columns named in pairs or preferences are promoted per table.
	promoted := make(map[string]map[string]bool) // table -> column -> true
	promote := func(table, column string) {
		table = bareTableName(table)
		if promoted[table] == nil {
			promoted[table] = make(map[string]bool)
		}
		promoted[table][column] = true
	}
	for _, p := range pairs {
		promote(p.SourceTable, p.SourceColumn)
		promote(p.TargetTable, p.TargetColumn)
	}
	for _, pref := range prefs {
		for _, c := range pref.PriorityFields {
			promote(pref.TableName, c)
		}
	}

	for _, s := range schemas {
		for _, tname := range sortedTableNames(s) {
			table := s.Tables[tname]
			tableID := models.TableNodeID(s.Name, tname)

			var plainColumns []string
			var important []models.Column
			for i := range table.Columns {
				col := &table.Columns[i]
				if importantColumn(&table, col, promoted[tname]) {
					important = append(important, *col)
				} else {
					plainColumns = append(plainColumns, col.Name)
				}
			}

			kg.AddNode(models.GraphNode{
				ID:    tableID,
				Label: models.NodeLabelTable,
				Name:  tname,
				Properties: map[string]any{
					"schema":  s.Name,
					"columns": plainColumns,
				},
			})

			for _, col := range important {
				colID := models.ColumnNodeID(s.Name, tname, col.Name)
				kg.AddNode(models.GraphNode{
					ID:    colID,
					Label: models.NodeLabelColumn,
					Name:  col.Name,
					Properties: map[string]any{
						"schema":      s.Name,
						"table":       tname,
						"type":        col.Type,
						"primary_key": col.PrimaryKey || table.IsPrimaryKey(col.Name),
					},
				})
				// Errors impossible here: both endpoints were just added.
				_ = kg.AddRelationship(models.GraphRelationship{
					SourceID:   colID,
					TargetID:   tableID,
					Type:       models.RelBelongsTo,
					Confidence: confBelongsTo,
				})
			}
		}
	}
}

func (b *builder) addExplicitPairEdges(kg *models.KnowledgeGraph, schemas []*models.Schema, pairs []models.RelationshipPair) error {
	for _, p := range pairs {
		srcID, ok := b.resolveColumnNode(kg, schemas, p.SourceTable, p.SourceColumn)
		if !ok {
			b.logger.Warn("Dropping explicit pair with unknown endpoint",
				zap.String("table", p.SourceTable), zap.String("column", p.SourceColumn))
			continue
		}
		tgtID, ok := b.resolveColumnNode(kg, schemas, p.TargetTable, p.TargetColumn)
		if !ok {
			b.logger.Warn("Dropping explicit pair with unknown endpoint",
				zap.String("table", p.TargetTable), zap.String("column", p.TargetColumn))
			continue
		}

		props := map[string]any{
			"user_defined":  true,
			"source_column": p.SourceColumn,
			"target_column": p.TargetColumn,
		}
		if err := kg.AddRelationship(models.GraphRelationship{
			SourceID:   srcID,
			TargetID:   tgtID,
			Type:       models.RelExplicitPair,
			Confidence: 1.0,
			Properties: props,
		}); err != nil {
			return err
		}
		if p.Bidirectional {
			reverse := map[string]any{
				"user_defined":  true,
				"source_column": p.TargetColumn,
				"target_column": p.SourceColumn,
			}
			if err := kg.AddRelationship(models.GraphRelationship{
				SourceID:   tgtID,
				TargetID:   srcID,
				Type:       models.RelExplicitPair,
				Confidence: 1.0,
				Properties: reverse,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolveColumnNode finds the COLUMN node for a (table, column) reference.
// Table may be "schema.table" or a bare name searched across all schemas.
func (b *builder) resolveColumnNode(kg *models.KnowledgeGraph, schemas []*models.Schema, table, column string) (string, bool) {
	schemaName, tableName := splitQualifiedTable(table)
	for _, s := range schemas {
		if schemaName != "" && s.Name != schemaName {
			continue
		}
		if t, ok := s.Tables[tableName]; ok && t.HasColumn(column) {
			id := models.ColumnNodeID(s.Name, tableName, column)
			if kg.HasNode(id) {
				return id, true
			}
		}
	}
	return "", false
}

func (b *builder) addWithinSchemaEdges(kg *models.KnowledgeGraph, schemas []*models.Schema) error {
	for _, s := range schemas {
		for _, tname := range sortedTableNames(s) {
			table := s.Tables[tname]
			sourceID := models.TableNodeID(s.Name, tname)

			for _, fk := range table.ForeignKeys {
				if _, ok := s.Tables[fk.TargetTable]; !ok {
					continue
				}
				if err := kg.AddRelationship(models.GraphRelationship{
					SourceID:   sourceID,
					TargetID:   models.TableNodeID(s.Name, fk.TargetTable),
					Type:       models.RelForeignKey,
					Confidence: confForeignKey,
					Properties: map[string]any{
						"source_column": fk.SourceColumn,
						"target_column": fk.TargetColumn,
						"constraint":    fk.ConstraintName,
					},
				}); err != nil {
					return err
				}
			}

			for _, col := range table.Columns {
				if table.IsForeignKey(col.Name) {
					continue // already covered by the declared FK
				}
				target, ok := impliedTable(s, tname, col.Name)
				if !ok {
					continue
				}
				if err := kg.AddRelationship(models.GraphRelationship{
					SourceID:   sourceID,
					TargetID:   models.TableNodeID(s.Name, target),
					Type:       models.RelReferences,
					Confidence: confReferences,
					Inferred:   true,
					Properties: map[string]any{
						"source_column": col.Name,
					},
				}); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (b *builder) addCrossSchemaEdges(kg *models.KnowledgeGraph, schemas []*models.Schema) error {
	if len(schemas) < 2 {
		return nil
	}
	for _, s := range schemas {
		for _, tname := range sortedTableNames(s) {
			table := s.Tables[tname]
			sourceID := models.TableNodeID(s.Name, tname)

			for _, col := range table.Columns {
				stem, ok := referenceStem(col.Name)
				if !ok {
					continue
				}
				for _, other := range schemas {
					if other.Name == s.Name {
						continue
					}
					target, ok := tableForStem(other, stem)
					if !ok {
						continue
					}
					if err := kg.AddRelationship(models.GraphRelationship{
						SourceID:   sourceID,
						TargetID:   models.TableNodeID(other.Name, target),
						Type:       models.RelCrossSchemaReference,
						Confidence: confCrossSchema,
						Inferred:   true,
						Properties: map[string]any{
							"source_schema": s.Name,
							"target_schema": other.Name,
							"column_name":   col.Name,
						},
					}); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// referenceStem extracts the referenced entity from reference-pattern column
// names: customer_id -> customer, vendor_uid -> vendor, order_code -> order.
func referenceStem(column string) (string, bool) {
	lower := strings.ToLower(column)
	for _, suffix := range []string{"_id", "_uid", "_code", "_key", "_ref"} {
		if strings.HasSuffix(lower, suffix) && len(lower) > len(suffix) {
			return strings.TrimSuffix(lower, suffix), true
		}
	}
	return "", false
}

// impliedTable resolves a reference-pattern column to a same-schema table,
// trying the stem and its plural. The owning table never references itself.
func impliedTable(s *models.Schema, owningTable, column string) (string, bool) {
	stem, ok := referenceStem(column)
	if !ok {
		return "", false
	}
	target, ok := tableForStem(s, stem)
	if !ok || target == owningTable {
		return "", false
	}
	return target, true
}

// tableForStem matches a stem against table names case-insensitively, both
// singular and plural forms.
func tableForStem(s *models.Schema, stem string) (string, bool) {
	candidates := []string{stem, inflection.Plural(stem)}
	for _, tname := range sortedTableNames(s) {
		lower := strings.ToLower(tname)
		for _, c := range candidates {
			if lower == c {
				return tname, true
			}
		}
	}
	return "", false
}

func sortedTableNames(s *models.Schema) []string {
	names := make([]string, 0, len(s.Tables))
	for t := range s.Tables {
		names = append(names, t)
	}
	sort.Strings(names)
	return names
}

func bareTableName(table string) string {
	_, name := splitQualifiedTable(table)
	return name
}

func splitQualifiedTable(table string) (schemaName, tableName string) {
	if dot := strings.IndexByte(table, '.'); dot >= 0 {
		return table[:dot], table[dot+1:]
	}
	return "", table
}
