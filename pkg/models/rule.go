package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/reconlab/recon-engine/pkg/apperrors"
)

// Match types for reconciliation rules.
const (
	MatchTypeExact          = "EXACT"
	MatchTypeFuzzy          = "FUZZY"
	MatchTypeComposite      = "COMPOSITE"
	MatchTypeTransformation = "TRANSFORMATION"
	MatchTypeSemantic       = "SEMANTIC"
)

// ValidMatchTypes contains the closed match-type set.
var ValidMatchTypes = []string{
	MatchTypeExact, MatchTypeFuzzy, MatchTypeComposite,
	MatchTypeTransformation, MatchTypeSemantic,
}

// IsValidMatchType checks membership in the closed match-type set.
func IsValidMatchType(t string) bool {
	for _, v := range ValidMatchTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Validation statuses for reconciliation rules.
const (
	ValidationValid     = "VALID"
	ValidationLikely    = "LIKELY"
	ValidationUncertain = "UNCERTAIN"
	ValidationInvalid   = "INVALID"
)

// Join types per hop of a composite rule.
const (
	JoinInner = "INNER"
	JoinLeft  = "LEFT"
	JoinRight = "RIGHT"
	JoinFull  = "FULL"
)

// JoinCondition is one hop condition of a multi-table rule, expressed with
// actual resolved column names on both sides.
type JoinCondition struct {
	Left  string `json:"left"`  // alias.column
	Right string `json:"right"` // alias.column
}

// ReconciliationRule is a typed column-matching rule between a source and
// target table. SourceColumns and TargetColumns are ordered and of equal
// length. The multi-table fields are either all set or all empty.
type ReconciliationRule struct {
	RuleID           string          `json:"rule_id"`
	RuleName         string          `json:"rule_name"`
	SourceSchema     string          `json:"source_schema"`
	SourceTable      string          `json:"source_table"`
	SourceColumns    []string        `json:"source_columns"`
	TargetSchema     string          `json:"target_schema"`
	TargetTable      string          `json:"target_table"`
	TargetColumns    []string        `json:"target_columns"`
	MatchType        string          `json:"match_type"`
	Transformation   string          `json:"transformation,omitempty"` // dialect SQL fragment
	Confidence       float64         `json:"confidence"`
	Reasoning        string          `json:"reasoning,omitempty"`
	ValidationStatus string          `json:"validation_status"`
	LLMGenerated     bool            `json:"llm_generated"`
	CreatedAt        time.Time       `json:"created_at"`
	JoinTables       []string        `json:"join_tables,omitempty"`
	JoinConditions   []JoinCondition `json:"join_conditions,omitempty"`
	JoinOrder        []string        `json:"join_order,omitempty"`
	JoinTypes        []string        `json:"join_types,omitempty"` // one per hop
}

// IsComposite reports whether the multi-table fields are populated.
func (r *ReconciliationRule) IsComposite() bool {
	return len(r.JoinTables) > 0
}

// CheckStructure enforces the structural rule invariants.
func (r *ReconciliationRule) CheckStructure() error {
	if len(r.SourceColumns) == 0 || len(r.SourceColumns) != len(r.TargetColumns) {
		return fmt.Errorf("%w: rule %s column count mismatch (%d vs %d)",
			apperrors.ErrInvariant, r.RuleID, len(r.SourceColumns), len(r.TargetColumns))
	}
	if !IsValidMatchType(r.MatchType) {
		return fmt.Errorf("%w: rule %s match type %q", apperrors.ErrInvariant, r.RuleID, r.MatchType)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("%w: rule %s confidence %f", apperrors.ErrInvariant, r.RuleID, r.Confidence)
	}
	if r.IsComposite() {
		if len(r.JoinConditions) == 0 || len(r.JoinOrder) == 0 ||
			len(r.JoinTypes) != len(r.JoinConditions) {
			return fmt.Errorf("%w: rule %s has partial multi-table fields", apperrors.ErrInvariant, r.RuleID)
		}
	}
	return nil
}

// Ruleset is a persisted collection of rules generated from one KG snapshot.
// Rule ids are unique within a ruleset.
type Ruleset struct {
	RulesetID       uuid.UUID            `json:"ruleset_id"`
	RulesetName     string               `json:"ruleset_name"`
	Schemas         []string             `json:"schemas"`
	Rules           []ReconciliationRule `json:"rules"`
	GeneratedFromKG string               `json:"generated_from_kg"`
	CreatedAt       time.Time            `json:"created_at"`
}

// ExecutableRules returns rules eligible for execution (everything except
// INVALID, which stays in the set for auditing only).
func (rs *Ruleset) ExecutableRules() []ReconciliationRule {
	var out []ReconciliationRule
	for _, r := range rs.Rules {
		if r.ValidationStatus != ValidationInvalid {
			out = append(out, r)
		}
	}
	return out
}

// CheckRuleIDsUnique enforces ruleset-level rule id uniqueness.
func (rs *Ruleset) CheckRuleIDsUnique() error {
	seen := make(map[string]struct{}, len(rs.Rules))
	for _, r := range rs.Rules {
		if _, dup := seen[r.RuleID]; dup {
			return fmt.Errorf("%w: duplicate rule id %s in ruleset %s",
				apperrors.ErrInvariant, r.RuleID, rs.RulesetID)
		}
		seen[r.RuleID] = struct{}{}
	}
	return nil
}
