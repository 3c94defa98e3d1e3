// Package nlquery compiles natural-language definitions into executable
// dialect SQL using the knowledge graph for join inference.
package nlquery

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/reconlab/recon-engine/pkg/llm"
	"github.com/reconlab/recon-engine/pkg/models"
)

// Classification is the first-stage read of a definition.
type Classification struct {
	QueryType  string  `json:"query_type"`
	Operation  string  `json:"operation"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// ambiguityThreshold triggers LLM disambiguation when rule confidence falls
// below it and an LLM is available.
const ambiguityThreshold = 0.7

var (
	notInPattern = regexp.MustCompile(`(?i)\b(not in|not present in|missing from|but not|which are not|except)\b`)
	inPattern    = regexp.MustCompile(`(?i)\b(which are in|that are in|present in|exist in|also in|in both)\b`)
	aggPattern   = regexp.MustCompile(`(?i)\b(count|how many|total|sum|average|avg|number of)\b`)
	relPattern   = regexp.MustCompile(`(?i)\b(related|relationship|connected|linked|association)\b`)
	filterHints  = regexp.MustCompile(`(?i)\b(active|inactive|status|where|with status|enabled|disabled)\b`)
)

// classify maps a definition onto a query type and operation with keyword
// and regex rules. Order matters: set comparisons outrank filter wording
// because "active OPS Excel" is a filter on a comparison, not a filter query.
func classify(definition string) Classification {
	switch {
	case notInPattern.MatchString(definition):
		return Classification{
			QueryType:  models.QueryTypeComparison,
			Operation:  models.OperationNotIn,
			Confidence: 0.9,
			Reasoning:  "negated set membership wording",
		}
	case inPattern.MatchString(definition):
		return Classification{
			QueryType:  models.QueryTypeComparison,
			Operation:  models.OperationIn,
			Confidence: 0.85,
			Reasoning:  "set membership wording",
		}
	case aggPattern.MatchString(definition):
		return Classification{
			QueryType:  models.QueryTypeAggregation,
			Operation:  models.OperationAggregate,
			Confidence: 0.85,
			Reasoning:  "aggregation wording",
		}
	case relPattern.MatchString(definition):
		return Classification{
			QueryType:  models.QueryTypeRelationship,
			Operation:  models.OperationNone,
			Confidence: 0.8,
			Reasoning:  "relationship wording",
		}
	case filterHints.MatchString(definition):
		return Classification{
			QueryType:  models.QueryTypeFilter,
			Operation:  models.OperationEquals,
			Confidence: 0.75,
			Reasoning:  "filter wording",
		}
	default:
		return Classification{
			QueryType:  models.QueryTypeData,
			Operation:  models.OperationNone,
			Confidence: 0.5,
			Reasoning:  "no classification keywords matched",
		}
	}
}

const classifySystemMessage = "You classify natural-language data questions. Answer with JSON only."

func (c *Classification) Validate() error {
	switch c.QueryType {
	case models.QueryTypeRelationship, models.QueryTypeData, models.QueryTypeFilter,
		models.QueryTypeComparison, models.QueryTypeAggregation:
	default:
		return fmt.Errorf("unknown query type %q", c.QueryType)
	}
	switch c.Operation {
	case models.OperationNotIn, models.OperationIn, models.OperationEquals,
		models.OperationContains, models.OperationAggregate, models.OperationNone:
	default:
		return fmt.Errorf("unknown operation %q", c.Operation)
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("confidence %f out of [0,1]", c.Confidence)
	}
	return nil
}

// llmClassify disambiguates a low-confidence rule classification with one
// LLM call. Failures keep the rule-based result.
func llmClassify(ctx context.Context, client llm.ChatClient, logger *zap.Logger, definition string, ruleBased Classification) Classification {
	prompt := fmt.Sprintf(`Classify this data question: %q

Query types: RELATIONSHIP, DATA_QUERY, FILTER_QUERY, COMPARISON_QUERY, AGGREGATION_QUERY.
Operations: NOT_IN, IN, EQUALS, CONTAINS, AGGREGATE, NONE.
A rule-based pass suggested %s/%s with low confidence.

Return JSON: {"query_type": "...", "operation": "...", "confidence": 0.0-1.0, "reasoning": "..."}`,
		definition, ruleBased.QueryType, ruleBased.Operation)

	result, err := llm.Ask[Classification](ctx, client, logger, classifySystemMessage, prompt, llm.AskOptions{})
	if err != nil {
		logger.Warn("LLM classification failed, keeping rule-based result", zap.Error(err))
		return ruleBased
	}
	if result.Confidence < ruleBased.Confidence {
		return ruleBased
	}
	return result
}

// normalizeText lowercases and strips punctuation for token matching.
func normalizeText(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == ' ':
			sb.WriteRune(r)
		default:
			sb.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}
