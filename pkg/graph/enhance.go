package graph

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/reconlab/recon-engine/pkg/llm"
	"github.com/reconlab/recon-engine/pkg/models"
)

// semanticCategories maps each enhancement pass to the edge type it emits.
// One LLM call is made per category.
var semanticCategories = []struct {
	name        string
	relType     string
	description string
}{
	{"semantic_equivalence", models.RelSemanticReference, "columns in different tables that carry the same business meaning under different names"},
	{"business_logic", models.RelBusinessLogic, "tables linked by a business process or workflow rather than a key"},
	{"hierarchical", models.RelHierarchical, "parent/child or rollup structures between tables"},
	{"temporal", models.RelTemporal, "tables related through time sequence, snapshots, or effective dating"},
	{"lookup", models.RelLookup, "reference or dimension tables that decode values in another table"},
}

const enhanceSystemMessage = "You are a database schema analyst. Answer with JSON only, no prose."

// suggestedEdge is the shape each enhancement call must return, one per
// discovered relationship.
type suggestedEdge struct {
	SourceTable string  `json:"source_table"`
	TargetTable string  `json:"target_table"`
	Confidence  float64 `json:"confidence"`
	Reasoning   string  `json:"reasoning"`
}

type suggestedEdges struct {
	Relationships []suggestedEdge `json:"relationships"`
}

func (s *suggestedEdges) Validate() error {
	for _, e := range s.Relationships {
		if e.SourceTable == "" || e.TargetTable == "" {
			return fmt.Errorf("relationship with empty table name")
		}
		if e.Confidence < 0 || e.Confidence > 1 {
			return fmt.Errorf("confidence %f out of [0,1]", e.Confidence)
		}
	}
	return nil
}

// enhanceWithLLM runs one call per semantic category. Failures degrade to
// the rule-based graph; they never fail the build.
func (b *builder) enhanceWithLLM(ctx context.Context, kg *models.KnowledgeGraph, schemas []*models.Schema) {
	structure := describeSchemas(schemas)
	found := describeRelationships(kg)

	for _, category := range semanticCategories {
		prompt := fmt.Sprintf(`Analyze these database schemas for %s relationships: %s.

Schemas:
%s

Relationships already found:
%s

Return JSON: {"relationships": [{"source_table": "schema:table", "target_table": "schema:table", "confidence": 0.0-1.0, "reasoning": "..."}]}
Only include relationships of this category that are not already listed. Return {"relationships": []} if there are none.`,
			category.name, category.description, structure, found)

		result, err := llm.Ask[suggestedEdges](ctx, b.client, b.logger, enhanceSystemMessage, prompt, llm.AskOptions{Temperature: 0.1})
		if err != nil {
			b.logger.Warn("LLM enhancement pass failed, continuing rule-based",
				zap.String("category", category.name), zap.Error(err))
			continue
		}

		accepted := 0
		for _, edge := range result.Relationships {
			if edge.Confidence < b.minConfidence {
				continue
			}
			if !kg.HasNode(edge.SourceTable) || !kg.HasNode(edge.TargetTable) {
				continue
			}
			if err := kg.AddRelationship(models.GraphRelationship{
				SourceID:   edge.SourceTable,
				TargetID:   edge.TargetTable,
				Type:       category.relType,
				Confidence: edge.Confidence,
				Inferred:   true,
				Reasoning:  edge.Reasoning,
			}); err != nil {
				b.logger.Warn("Rejected suggested relationship", zap.Error(err))
				continue
			}
			accepted++
		}
		b.logger.Debug("LLM enhancement pass complete",
			zap.String("category", category.name),
			zap.Int("suggested", len(result.Relationships)),
			zap.Int("accepted", accepted))
	}
}

type aliasResponse struct {
	Aliases []string `json:"aliases"`
}

// extractTableAliases asks the LLM for business aliases per table. A failed
// call leaves that table's alias list empty; the build still succeeds.
func (b *builder) extractTableAliases(ctx context.Context, kg *models.KnowledgeGraph, schemas []*models.Schema) {
	for _, s := range schemas {
		for _, tname := range sortedTableNames(s) {
			table := s.Tables[tname]
			qualified := models.TableNodeID(s.Name, tname)

			prompt := fmt.Sprintf(`Table %q has columns: %s.
List up to 5 short business-friendly aliases a user might call this table.
Return JSON: {"aliases": ["..."]}`,
				tname, strings.Join(table.ColumnNames(), ", "))

			result, err := llm.Ask[aliasResponse](ctx, b.client, b.logger, enhanceSystemMessage, prompt, llm.AskOptions{Temperature: 0.2})
			if err != nil {
				b.logger.Warn("Alias extraction failed for table",
					zap.String("table", qualified), zap.Error(err))
				continue
			}

			var kept []string
			for _, alias := range result.Aliases {
				alias = strings.TrimSpace(alias)
				if alias == "" || strings.EqualFold(alias, tname) {
					continue
				}
				kept = append(kept, alias)
			}
			if len(kept) > 0 {
				kg.TableAliases[qualified] = kept
			}
		}
	}
}

// describeSchemas renders a compact structure summary for prompts.
func describeSchemas(schemas []*models.Schema) string {
	var sb strings.Builder
	for _, s := range schemas {
		for _, tname := range sortedTableNames(s) {
			table := s.Tables[tname]
			fmt.Fprintf(&sb, "%s:%s(%s)\n", s.Name, tname, strings.Join(table.ColumnNames(), ", "))
		}
	}
	return sb.String()
}

func describeRelationships(kg *models.KnowledgeGraph) string {
	if len(kg.Relationships) == 0 {
		return "(none)"
	}
	var sb strings.Builder
	for _, rel := range kg.Relationships {
		if rel.Type == models.RelBelongsTo {
			continue
		}
		fmt.Fprintf(&sb, "%s -[%s]-> %s\n", rel.SourceID, rel.Type, rel.TargetID)
	}
	if sb.Len() == 0 {
		return "(none)"
	}
	return sb.String()
}
