package rules

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reconlab/recon-engine/pkg/graph"
	"github.com/reconlab/recon-engine/pkg/llm"
	"github.com/reconlab/recon-engine/pkg/models"
	"github.com/reconlab/recon-engine/pkg/schema"
)

// Confidence assigned by the pattern passes.
const (
	confRefRuleMin  = 0.80
	confRefRuleMax  = 0.90
	confCodePattern = 0.75
	confNamePattern = 0.70
	confComposite   = 0.90
)

// GenerateRequest describes one ruleset derivation.
type GenerateRequest struct {
	KGName      string
	RulesetName string
	// Schemas restricts rule generation to edges whose endpoints both fall
	// in this set.
	Schemas       []string
	MinConfidence float64
	UseLLM        bool
	// MatchTypes restricts the output; empty allows every type.
	MatchTypes  []string
	Preferences []models.FieldPreference
}

// GenerationStats summarizes one generation run.
type GenerationStats struct {
	PatternRules   int   `json:"pattern_rules"`
	LLMRules       int   `json:"llm_rules"`
	CompositeRules int   `json:"composite_rules"`
	InvalidRules   int   `json:"invalid_rules"`
	ElapsedMs      int64 `json:"elapsed_ms"`
}

// Generator derives rulesets from knowledge graphs.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*models.Ruleset, *GenerationStats, error)
}

type generator struct {
	graphs graph.Store
	repo   Repository
	loader schema.Loader
	client llm.ChatClient // nil when no LLM is configured
	logger *zap.Logger
}

// NewGenerator creates a Generator. client may be nil; the LLM pass is then
// skipped regardless of the request flag.
func NewGenerator(graphs graph.Store, repo Repository, loader schema.Loader, client llm.ChatClient, logger *zap.Logger) Generator {
	return &generator{
		graphs: graphs,
		repo:   repo,
		loader: loader,
		client: client,
		logger: logger.Named("rule-generator"),
	}
}

var _ Generator = (*generator)(nil)

func (g *generator) Generate(ctx context.Context, req GenerateRequest) (*models.Ruleset, *GenerationStats, error) {
	start := time.Now()

	kg, err := g.graphs.Get(ctx, req.KGName)
	if err != nil {
		return nil, nil, err
	}

	schemaSet := make(map[string]bool, len(req.Schemas))
	schemas := make(map[string]*models.Schema, len(req.Schemas))
	for _, name := range req.Schemas {
		s, err := g.loader.Load(name)
		if err != nil {
			return nil, nil, err
		}
		schemaSet[name] = true
		schemas[name] = s
	}

	excluded := excludedByTable(req.Preferences)
	stats := &GenerationStats{}

	rules := g.patternPass(kg, schemaSet, schemas, excluded)
	stats.PatternRules = len(rules)

	if req.UseLLM && g.client != nil {
		llmRules := g.llmPass(ctx, req, schemas, rules)
		stats.LLMRules = len(llmRules)
		rules = append(rules, llmRules...)
	}

	composites := g.composeMultiTable(schemas, req.Preferences)
	stats.CompositeRules = len(composites)
	rules = append(rules, composites...)

	rules = g.validatePass(rules, schemas)
	rules = filterRules(rules, req.MinConfidence, req.MatchTypes)
	rules = dedupeRules(rules)
	sortRules(rules)

	for _, r := range rules {
		if r.ValidationStatus == models.ValidationInvalid {
			stats.InvalidRules++
		}
	}

	rs := &models.Ruleset{
		RulesetID:       uuid.New(),
		RulesetName:     req.RulesetName,
		Schemas:         req.Schemas,
		Rules:           rules,
		GeneratedFromKG: req.KGName,
		CreatedAt:       time.Now(),
	}
	if err := g.repo.Save(ctx, rs); err != nil {
		return nil, nil, err
	}

	stats.ElapsedMs = time.Since(start).Milliseconds()
	g.logger.Info("Generated ruleset",
		zap.String("ruleset", req.RulesetName),
		zap.String("kg", req.KGName),
		zap.Int("rules", len(rules)),
		zap.Int("invalid", stats.InvalidRules),
		zap.Int64("elapsed_ms", stats.ElapsedMs))
	return rs, stats, nil
}

// parseNodeID splits "schema:table" or "schema:table.column" ids.
func parseNodeID(id string) (schemaName, tableName, columnName string) {
	colon := strings.IndexByte(id, ':')
	if colon < 0 {
		return "", id, ""
	}
	schemaName = id[:colon]
	rest := id[colon+1:]
	if dot := strings.IndexByte(rest, '.'); dot >= 0 {
		return schemaName, rest[:dot], rest[dot+1:]
	}
	return schemaName, rest, ""
}

// uidPattern reports whether a column looks like an identifier or code key.
func uidPattern(column string) bool {
	lower := strings.ToLower(column)
	for _, suffix := range []string{"_id", "_uid", "_code", "_key", "_ref"} {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return lower == "id" || lower == "uid" || lower == "code"
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func excludedByTable(prefs []models.FieldPreference) map[string]map[string]bool {
	out := make(map[string]map[string]bool)
	for _, p := range prefs {
		if len(p.ExcludedFields) == 0 {
			continue
		}
		set := make(map[string]bool, len(p.ExcludedFields))
		for _, f := range p.ExcludedFields {
			set[f] = true
		}
		out[p.TableName] = set
	}
	return out
}

func (g *generator) patternPass(kg *models.KnowledgeGraph, schemaSet map[string]bool, schemas map[string]*models.Schema, excluded map[string]map[string]bool) []models.ReconciliationRule {
	var rules []models.ReconciliationRule

	add := func(r models.ReconciliationRule) {
		if touchesExcluded(&r, excluded) {
			return
		}
		r.RuleID = uuid.NewString()
		r.CreatedAt = time.Now()
		rules = append(rules, r)
	}

	for _, rel := range kg.Relationships {
		srcSchema, srcTable, srcCol := parseNodeID(rel.SourceID)
		tgtSchema, tgtTable, tgtCol := parseNodeID(rel.TargetID)
		if !schemaSet[srcSchema] || !schemaSet[tgtSchema] {
			continue
		}

		switch rel.Type {
		case models.RelForeignKey:
			add(models.ReconciliationRule{
				RuleName:         fmt.Sprintf("fk_%s_%s", srcTable, rel.PropString("source_column")),
				SourceSchema:     srcSchema,
				SourceTable:      srcTable,
				SourceColumns:    []string{rel.PropString("source_column")},
				TargetSchema:     tgtSchema,
				TargetTable:      tgtTable,
				TargetColumns:    []string{rel.PropString("target_column")},
				MatchType:        models.MatchTypeExact,
				Confidence:       clamp(rel.Confidence, 0, 0.95),
				ValidationStatus: models.ValidationValid,
			})

		case models.RelReferences, models.RelCrossSchemaReference:
			col := rel.PropString("source_column")
			if col == "" {
				col = rel.PropString("column_name")
			}
			if !uidPattern(col) {
				continue
			}
			target := primaryKeyColumn(schemas[tgtSchema], tgtTable)
			if target == "" {
				target = col
			}
			add(models.ReconciliationRule{
				RuleName:         fmt.Sprintf("ref_%s_%s", srcTable, col),
				SourceSchema:     srcSchema,
				SourceTable:      srcTable,
				SourceColumns:    []string{col},
				TargetSchema:     tgtSchema,
				TargetTable:      tgtTable,
				TargetColumns:    []string{target},
				MatchType:        models.MatchTypeExact,
				Confidence:       clamp(rel.Confidence, confRefRuleMin, confRefRuleMax),
				ValidationStatus: models.ValidationLikely,
				Reasoning:        rel.Reasoning,
			})

		case models.RelExplicitPair:
			if srcCol == "" || tgtCol == "" {
				continue
			}
			add(models.ReconciliationRule{
				RuleName:         fmt.Sprintf("pair_%s_%s", srcTable, srcCol),
				SourceSchema:     srcSchema,
				SourceTable:      srcTable,
				SourceColumns:    []string{srcCol},
				TargetSchema:     tgtSchema,
				TargetTable:      tgtTable,
				TargetColumns:    []string{tgtCol},
				MatchType:        models.MatchTypeExact,
				Confidence:       rel.Confidence,
				ValidationStatus: models.ValidationValid,
			})
		}
	}

	rules = append(rules, g.namePairPass(kg, schemaSet, schemas, excluded)...)
	return rules
}

// namePairPass scans table pairs already connected in the graph for
// code/name column patterns that a key-based rule would miss.
func (g *generator) namePairPass(kg *models.KnowledgeGraph, schemaSet map[string]bool, schemas map[string]*models.Schema, excluded map[string]map[string]bool) []models.ReconciliationRule {
	type tablePair struct{ src, tgt string } // qualified schema:table
	seen := make(map[tablePair]bool)
	var pairs []tablePair
	for _, rel := range kg.Relationships {
		srcSchema, srcTable, _ := parseNodeID(rel.SourceID)
		tgtSchema, tgtTable, _ := parseNodeID(rel.TargetID)
		if !schemaSet[srcSchema] || !schemaSet[tgtSchema] {
			continue
		}
		if srcSchema == tgtSchema && srcTable == tgtTable {
			continue
		}
		p := tablePair{srcSchema + ":" + srcTable, tgtSchema + ":" + tgtTable}
		if !seen[p] {
			seen[p] = true
			pairs = append(pairs, p)
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].src != pairs[j].src {
			return pairs[i].src < pairs[j].src
		}
		return pairs[i].tgt < pairs[j].tgt
	})

	var rules []models.ReconciliationRule
	add := func(r models.ReconciliationRule) {
		if touchesExcluded(&r, excluded) {
			return
		}
		r.RuleID = uuid.NewString()
		r.CreatedAt = time.Now()
		rules = append(rules, r)
	}

	for _, p := range pairs {
		srcSchema, srcTable, _ := parseNodeID(p.src)
		tgtSchema, tgtTable, _ := parseNodeID(p.tgt)
		srcCols := tableColumns(schemas[srcSchema], srcTable)
		tgtCols := tableColumns(schemas[tgtSchema], tgtTable)

		if sc, tc, ok := codeColumnPair(srcCols, tgtCols); ok {
			add(models.ReconciliationRule{
				RuleName:         fmt.Sprintf("code_%s_%s", srcTable, tgtTable),
				SourceSchema:     srcSchema,
				SourceTable:      srcTable,
				SourceColumns:    []string{sc},
				TargetSchema:     tgtSchema,
				TargetTable:      tgtTable,
				TargetColumns:    []string{tc},
				MatchType:        models.MatchTypeTransformation,
				Transformation:   "UPPER(TRIM(x))",
				Confidence:       confCodePattern,
				ValidationStatus: models.ValidationLikely,
			})
		}
		if sc, tc, ok := nameColumnPair(srcCols, tgtCols); ok {
			add(models.ReconciliationRule{
				RuleName:         fmt.Sprintf("name_%s_%s", srcTable, tgtTable),
				SourceSchema:     srcSchema,
				SourceTable:      srcTable,
				SourceColumns:    []string{sc},
				TargetSchema:     tgtSchema,
				TargetTable:      tgtTable,
				TargetColumns:    []string{tc},
				MatchType:        models.MatchTypeFuzzy,
				Transformation:   "LEVENSHTEIN(a,b) < 3",
				Confidence:       confNamePattern,
				ValidationStatus: models.ValidationLikely,
			})
		}
	}
	return rules
}

// codeColumnPair matches a bare "code" column against "*_code" variants.
func codeColumnPair(srcCols, tgtCols []string) (string, string, bool) {
	isCode := func(c string) bool {
		lower := strings.ToLower(c)
		return lower == "code" || strings.HasSuffix(lower, "_code")
	}
	for _, sc := range srcCols {
		if !isCode(sc) {
			continue
		}
		for _, tc := range tgtCols {
			if isCode(tc) && !strings.EqualFold(sc, tc) {
				return sc, tc, true
			}
		}
	}
	return "", "", false
}

// nameColumnPair matches name-ish columns for fuzzy comparison.
func nameColumnPair(srcCols, tgtCols []string) (string, string, bool) {
	isName := func(c string) bool {
		return strings.Contains(strings.ToLower(c), "name")
	}
	for _, sc := range srcCols {
		if !isName(sc) {
			continue
		}
		for _, tc := range tgtCols {
			if isName(tc) {
				return sc, tc, true
			}
		}
	}
	return "", "", false
}

func tableColumns(s *models.Schema, table string) []string {
	if s == nil {
		return nil
	}
	t, ok := s.Tables[table]
	if !ok {
		return nil
	}
	return t.ColumnNames()
}

func primaryKeyColumn(s *models.Schema, table string) string {
	if s == nil {
		return ""
	}
	t, ok := s.Tables[table]
	if !ok || len(t.PrimaryKeys) == 0 {
		return ""
	}
	return t.PrimaryKeys[0]
}

func touchesExcluded(r *models.ReconciliationRule, excluded map[string]map[string]bool) bool {
	if set := excluded[r.SourceTable]; set != nil {
		for _, c := range r.SourceColumns {
			if set[c] {
				return true
			}
		}
	}
	if set := excluded[r.TargetTable]; set != nil {
		for _, c := range r.TargetColumns {
			if set[c] {
				return true
			}
		}
	}
	return false
}

func (g *generator) validatePass(rules []models.ReconciliationRule, schemas map[string]*models.Schema) []models.ReconciliationRule {
	for i := range rules {
		r := &rules[i]
		if err := r.CheckStructure(); err != nil {
			r.ValidationStatus = models.ValidationInvalid
			r.Reasoning = strings.TrimSpace(r.Reasoning + " structural check failed")
			continue
		}
		if !columnsExist(schemas, r.SourceSchema, r.SourceTable, r.SourceColumns) ||
			!columnsExist(schemas, r.TargetSchema, r.TargetTable, r.TargetColumns) {
			r.ValidationStatus = models.ValidationInvalid
			r.Reasoning = strings.TrimSpace(r.Reasoning + " unknown table or column")
		}
	}
	return rules
}

func columnsExist(schemas map[string]*models.Schema, schemaName, table string, columns []string) bool {
	s, ok := schemas[schemaName]
	if !ok {
		return false
	}
	t, ok := s.Tables[table]
	if !ok {
		return false
	}
	for _, c := range columns {
		if !t.HasColumn(c) {
			return false
		}
	}
	return true
}

// filterRules drops executable rules below the confidence threshold or
// outside the allowed match types. INVALID rules stay for auditing.
func filterRules(rules []models.ReconciliationRule, minConfidence float64, matchTypes []string) []models.ReconciliationRule {
	allowed := make(map[string]bool, len(matchTypes))
	for _, t := range matchTypes {
		allowed[t] = true
	}

	out := rules[:0]
	for _, r := range rules {
		if r.ValidationStatus == models.ValidationInvalid {
			out = append(out, r)
			continue
		}
		if r.Confidence < minConfidence {
			continue
		}
		if len(allowed) > 0 && !allowed[r.MatchType] {
			continue
		}
		out = append(out, r)
	}
	return out
}

// dedupeRules keeps the higher-confidence rule per
// (source, columns, target, columns, match type) key.
func dedupeRules(rules []models.ReconciliationRule) []models.ReconciliationRule {
	best := make(map[string]int)
	var out []models.ReconciliationRule
	for _, r := range rules {
		key := strings.Join([]string{
			r.SourceSchema, r.SourceTable, strings.Join(r.SourceColumns, "|"),
			r.TargetSchema, r.TargetTable, strings.Join(r.TargetColumns, "|"),
			r.MatchType,
		}, "~")
		if idx, ok := best[key]; ok {
			if r.Confidence > out[idx].Confidence {
				out[idx] = r
			}
			continue
		}
		best[key] = len(out)
		out = append(out, r)
	}
	return out
}

func sortRules(rules []models.ReconciliationRule) {
	sort.Slice(rules, func(i, j int) bool {
		a, b := &rules[i], &rules[j]
		if a.SourceSchema != b.SourceSchema {
			return a.SourceSchema < b.SourceSchema
		}
		if a.SourceTable != b.SourceTable {
			return a.SourceTable < b.SourceTable
		}
		if a.TargetSchema != b.TargetSchema {
			return a.TargetSchema < b.TargetSchema
		}
		if a.TargetTable != b.TargetTable {
			return a.TargetTable < b.TargetTable
		}
		return a.RuleID < b.RuleID
	})
}
