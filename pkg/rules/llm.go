package rules

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reconlab/recon-engine/pkg/llm"
	"github.com/reconlab/recon-engine/pkg/models"
)

const ruleSystemMessage = "You are a data reconciliation analyst. Answer with JSON only, no prose."

// llmRule is the shape the rule-suggestion call must return.
type llmRule struct {
	SourceSchema   string   `json:"source_schema"`
	SourceTable    string   `json:"source_table"`
	SourceColumns  []string `json:"source_columns"`
	TargetSchema   string   `json:"target_schema"`
	TargetTable    string   `json:"target_table"`
	TargetColumns  []string `json:"target_columns"`
	MatchType      string   `json:"match_type"`
	Transformation string   `json:"transformation,omitempty"`
	Confidence     float64  `json:"confidence"`
	Reasoning      string   `json:"reasoning"`
}

type llmRuleSet struct {
	Rules []llmRule `json:"rules"`
}

func (s *llmRuleSet) Validate() error {
	for _, r := range s.Rules {
		if !models.IsValidMatchType(r.MatchType) {
			return fmt.Errorf("unknown match type %q", r.MatchType)
		}
		if len(r.SourceColumns) == 0 || len(r.SourceColumns) != len(r.TargetColumns) {
			return fmt.Errorf("column count mismatch on %s -> %s", r.SourceTable, r.TargetTable)
		}
		if r.Confidence < 0 || r.Confidence > 1 {
			return fmt.Errorf("confidence %f out of [0,1]", r.Confidence)
		}
	}
	return nil
}

// llmPass asks for additional rules, one call per schema pair. Failures skip
// the pair; rule generation continues with what the patterns found.
func (g *generator) llmPass(ctx context.Context, req GenerateRequest, schemas map[string]*models.Schema, existing []models.ReconciliationRule) []models.ReconciliationRule {
	names := make([]string, 0, len(schemas))
	for name := range schemas {
		names = append(names, name)
	}
	sort.Strings(names)

	var pairs [][2]string
	if len(names) == 1 {
		pairs = append(pairs, [2]string{names[0], names[0]})
	}
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			pairs = append(pairs, [2]string{names[i], names[j]})
		}
	}

	found := describeRules(existing)

	var out []models.ReconciliationRule
	for _, pair := range pairs {
		prompt := fmt.Sprintf(`Suggest reconciliation rules matching records between these schemas.

Schema %q:
%s
Schema %q:
%s

Rules already derived:
%s

Return JSON: {"rules": [{"source_schema": "...", "source_table": "...", "source_columns": ["..."], "target_schema": "...", "target_table": "...", "target_columns": ["..."], "match_type": "EXACT|FUZZY|TRANSFORMATION|SEMANTIC", "transformation": "", "confidence": 0.0-1.0, "reasoning": "..."}]}
Only suggest rules not already derived. Return {"rules": []} if there are none.`,
			pair[0], describeSchemaTables(schemas[pair[0]]),
			pair[1], describeSchemaTables(schemas[pair[1]]),
			found)

		result, err := llm.Ask[llmRuleSet](ctx, g.client, g.logger, ruleSystemMessage, prompt, llm.AskOptions{Temperature: 0.1})
		if err != nil {
			g.logger.Warn("LLM rule pass failed for schema pair, continuing pattern-based",
				zap.String("source", pair[0]), zap.String("target", pair[1]), zap.Error(err))
			continue
		}

		for _, r := range result.Rules {
			if r.Confidence < req.MinConfidence {
				continue
			}
			out = append(out, models.ReconciliationRule{
				RuleID:           uuid.NewString(),
				RuleName:         fmt.Sprintf("llm_%s_%s", r.SourceTable, strings.Join(r.SourceColumns, "_")),
				SourceSchema:     r.SourceSchema,
				SourceTable:      r.SourceTable,
				SourceColumns:    r.SourceColumns,
				TargetSchema:     r.TargetSchema,
				TargetTable:      r.TargetTable,
				TargetColumns:    r.TargetColumns,
				MatchType:        r.MatchType,
				Transformation:   r.Transformation,
				Confidence:       r.Confidence,
				Reasoning:        r.Reasoning,
				ValidationStatus: models.ValidationUncertain,
				LLMGenerated:     true,
				CreatedAt:        time.Now(),
			})
		}
	}
	return out
}

func describeSchemaTables(s *models.Schema) string {
	if s == nil {
		return "(unknown)"
	}
	var sb strings.Builder
	tables := make([]string, 0, len(s.Tables))
	for t := range s.Tables {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	for _, t := range tables {
		tbl := s.Tables[t]
		fmt.Fprintf(&sb, "%s(%s)\n", t, strings.Join(tbl.ColumnNames(), ", "))
	}
	return sb.String()
}

func describeRules(rules []models.ReconciliationRule) string {
	if len(rules) == 0 {
		return "(none)"
	}
	var sb strings.Builder
	for _, r := range rules {
		fmt.Fprintf(&sb, "%s.%s(%s) -[%s]-> %s.%s(%s)\n",
			r.SourceSchema, r.SourceTable, strings.Join(r.SourceColumns, ","),
			r.MatchType,
			r.TargetSchema, r.TargetTable, strings.Join(r.TargetColumns, ","))
	}
	return sb.String()
}
