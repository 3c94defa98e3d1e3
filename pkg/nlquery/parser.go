package nlquery

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/reconlab/recon-engine/pkg/graph"
	"github.com/reconlab/recon-engine/pkg/llm"
	"github.com/reconlab/recon-engine/pkg/models"
)

// defaultMaxJoinHops bounds KG path search for join inference.
const defaultMaxJoinHops = 3

// Parser turns a definition plus a knowledge graph into a QueryIntent.
type Parser struct {
	client  llm.ChatClient
	logger  *zap.Logger
	maxHops int
}

// NewParser creates a Parser. client may be nil; every LLM step then falls
// back to rules.
func NewParser(client llm.ChatClient, logger *zap.Logger) *Parser {
	return &Parser{client: client, logger: logger.Named("nl-parser"), maxHops: defaultMaxJoinHops}
}

// Parse resolves tables, filters, additional columns, and join columns.
// Unresolvable joins produce a warning, not an error; the generator decides
// whether the intent is executable.
func (p *Parser) Parse(ctx context.Context, definition string, kg *models.KnowledgeGraph, useLLM bool) (*models.QueryIntent, error) {
	cls := classify(definition)
	if cls.Confidence < ambiguityThreshold && useLLM && p.client != nil {
		cls = llmClassify(ctx, p.client, p.logger, definition, cls)
	}

	intent := &models.QueryIntent{
		QueryType:  cls.QueryType,
		Operation:  cls.Operation,
		Confidence: cls.Confidence,
		Reasoning:  cls.Reasoning,
	}

	matches := resolveTables(definition, kg)
	if len(matches) < 2 && useLLM && p.client != nil {
		matches = p.llmResolveTables(ctx, definition, kg, matches)
	}
	if len(matches) > 0 {
		intent.SourceTable = matches[0].name
	}
	if len(matches) > 1 {
		intent.TargetTable = matches[1].name
	}

	filterTable := intent.TargetTable
	if filterTable == "" {
		filterTable = intent.SourceTable
	}
	intent.Filters = p.extractFilters(ctx, definition, kg, filterTable, useLLM)
	intent.AdditionalColumns = additionalColumns(definition, kg, intent)

	p.inferJoins(kg, intent)
	return intent, nil
}

// tableMatch is one resolved table mention with its text position.
type tableMatch struct {
	nodeID string
	name   string
	pos    int
	alias  bool
}

// resolveTables finds table mentions by exact name first, then by learned
// aliases, ordered by first occurrence in the text.
func resolveTables(definition string, kg *models.KnowledgeGraph) []tableMatch {
	norm := " " + normalizeText(definition) + " "

	var matches []tableMatch
	for _, node := range kg.TableNodes() {
		best := tableMatch{nodeID: node.ID, name: node.Name, pos: -1}

		if pos := findPhrase(norm, node.Name); pos >= 0 {
			best.pos = pos
		} else {
			for _, alias := range kg.TableAliases[node.ID] {
				if pos := findPhrase(norm, alias); pos >= 0 && (best.pos < 0 || pos < best.pos) {
					best.pos = pos
					best.alias = true
				}
			}
		}

		if best.pos >= 0 {
			matches = append(matches, best)
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].pos != matches[j].pos {
			return matches[i].pos < matches[j].pos
		}
		return matches[i].name < matches[j].name
	})
	return matches
}

// findPhrase locates a normalized phrase on word boundaries, or -1.
func findPhrase(normalizedText, phrase string) int {
	needle := " " + normalizeText(phrase) + " "
	if needle == "  " {
		return -1
	}
	return strings.Index(normalizedText, needle)
}

type llmTableResponse struct {
	SourceTable string `json:"source_table"`
	TargetTable string `json:"target_table"`
}

// llmResolveTables asks for table suggestions restricted to the known names.
// Out-of-set answers are dropped.
func (p *Parser) llmResolveTables(ctx context.Context, definition string, kg *models.KnowledgeGraph, known []tableMatch) []tableMatch {
	byName := make(map[string]string)
	var names []string
	for _, node := range kg.TableNodes() {
		byName[node.Name] = node.ID
		names = append(names, node.Name)
	}
	sort.Strings(names)

	prompt := fmt.Sprintf(`Which tables does this question refer to? %q

Known tables (answer ONLY with these names): %s

Return JSON: {"source_table": "...", "target_table": ""}
Leave target_table empty for single-table questions.`,
		definition, strings.Join(names, ", "))

	result, err := llm.Ask[llmTableResponse](ctx, p.client, p.logger, classifySystemMessage, prompt, llm.AskOptions{})
	if err != nil {
		p.logger.Warn("LLM table resolution failed", zap.Error(err))
		return known
	}

	have := make(map[string]bool, len(known))
	for _, m := range known {
		have[m.name] = true
	}
	pos := 1 << 20 // suggestions rank after direct text matches
	for _, name := range []string{result.SourceTable, result.TargetTable} {
		id, ok := byName[name]
		if !ok || have[name] {
			continue
		}
		known = append(known, tableMatch{nodeID: id, name: name, pos: pos})
		have[name] = true
		pos++
	}
	sort.Slice(known, func(i, j int) bool { return known[i].pos < known[j].pos })
	return known
}

var allowedFilterOps = map[string]bool{
	"=": true, "!=": true, "<": true, ">": true, "<=": true, ">=": true,
	"LIKE": true, "BETWEEN": true,
}

type llmFilterResponse struct {
	Filters []models.Filter `json:"filters"`
}

func (f *llmFilterResponse) Validate() error {
	for _, flt := range f.Filters {
		if flt.Column == "" {
			return fmt.Errorf("filter with empty column")
		}
		if !allowedFilterOps[flt.Op] {
			return fmt.Errorf("unknown filter op %q", flt.Op)
		}
	}
	return nil
}

var datePattern = regexp.MustCompile(`(?i)\b(?:after|since)\s+(\d{4}(?:-\d{2}-\d{2})?)\b`)

// extractFilters prefers the LLM when available and falls back to rule-based
// matching of activity, status, and date wording.
func (p *Parser) extractFilters(ctx context.Context, definition string, kg *models.KnowledgeGraph, table string, useLLM bool) []models.Filter {
	if useLLM && p.client != nil {
		if filters, ok := p.llmFilters(ctx, definition, kg, table); ok {
			return filters
		}
	}
	return ruleFilters(definition, kg, table)
}

func (p *Parser) llmFilters(ctx context.Context, definition string, kg *models.KnowledgeGraph, table string) ([]models.Filter, bool) {
	allowed := tableColumns(kg, table)
	if len(allowed) == 0 {
		return nil, false
	}

	prompt := fmt.Sprintf(`Extract filter predicates from this question: %q

Allowed columns: %s
Ops: =, !=, <, >, <=, >=, LIKE, BETWEEN.

Return JSON: {"filters": [{"column": "...", "op": "=", "value": "..."}]}
Return {"filters": []} when there are none.`,
		definition, strings.Join(allowed, ", "))

	result, err := llm.Ask[llmFilterResponse](ctx, p.client, p.logger, classifySystemMessage, prompt, llm.AskOptions{})
	if err != nil {
		p.logger.Warn("LLM filter extraction failed, using rule-based filters", zap.Error(err))
		return nil, false
	}

	allowedSet := make(map[string]bool, len(allowed))
	for _, c := range allowed {
		allowedSet[c] = true
	}
	var out []models.Filter
	for _, f := range result.Filters {
		if !allowedSet[f.Column] {
			p.logger.Warn("Dropping filter on unknown column", zap.String("column", f.Column))
			continue
		}
		f.Table = table
		out = append(out, f)
	}
	return out, true
}

// ruleFilters covers the common activity/status/date phrasings.
func ruleFilters(definition string, kg *models.KnowledgeGraph, table string) []models.Filter {
	norm := " " + normalizeText(definition) + " "
	var out []models.Filter

	if col := activityColumn(kg, table); col != "" {
		if strings.Contains(norm, " inactive ") {
			out = append(out, models.Filter{Column: col, Op: "=", Value: "Inactive", Table: table})
		} else if strings.Contains(norm, " active ") {
			out = append(out, models.Filter{Column: col, Op: "=", Value: "Active", Table: table})
		}
	}

	if m := datePattern.FindStringSubmatch(definition); m != nil {
		if col := dateColumn(kg, table); col != "" {
			out = append(out, models.Filter{Column: col, Op: ">=", Value: m[1], Table: table})
		}
	}
	return out
}

// activityColumn finds the column carrying an active/inactive flag.
func activityColumn(kg *models.KnowledgeGraph, table string) string {
	for _, col := range tableColumns(kg, table) {
		lower := strings.ToLower(col)
		if strings.Contains(lower, "active") || strings.Contains(lower, "status") {
			return col
		}
	}
	return ""
}

func dateColumn(kg *models.KnowledgeGraph, table string) string {
	for _, col := range tableColumns(kg, table) {
		lower := strings.ToLower(col)
		if strings.Contains(lower, "date") || strings.HasSuffix(lower, "_at") {
			return col
		}
	}
	return ""
}

// tableColumns returns every known column of a table: promoted column nodes
// plus the plain columns stored on the table node.
func tableColumns(kg *models.KnowledgeGraph, table string) []string {
	tableID, err := graph.ResolveTableID(kg, table)
	if err != nil {
		return nil
	}

	var out []string
	for _, n := range kg.Nodes {
		if n.Label == models.NodeLabelColumn && strings.HasPrefix(n.ID, tableID+".") {
			out = append(out, n.Name)
		}
	}
	if node := kg.Node(tableID); node != nil {
		switch cols := node.Properties["columns"].(type) {
		case []string:
			out = append(out, cols...)
		case []any:
			for _, c := range cols {
				if s, ok := c.(string); ok {
					out = append(out, s)
				}
			}
		}
	}
	sort.Strings(out)
	return out
}

// additionalColumns finds column names mentioned verbatim that belong to
// known tables, recording the table each is drawn from.
func additionalColumns(definition string, kg *models.KnowledgeGraph, intent *models.QueryIntent) []models.AdditionalColumn {
	norm := " " + normalizeText(definition) + " "
	filtered := make(map[string]bool)
	for _, f := range intent.Filters {
		filtered[f.Column] = true
	}

	var out []models.AdditionalColumn
	seen := make(map[string]bool)
	for _, node := range kg.TableNodes() {
		for _, col := range tableColumns(kg, node.Name) {
			if filtered[col] || seen[col] {
				continue
			}
			if findPhrase(norm, col) < 0 {
				continue
			}
			seen[col] = true
			out = append(out, models.AdditionalColumn{
				Column: col,
				Table:  node.Name,
				Alias:  strings.ToLower(col),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Column < out[j].Column })
	return out
}

// inferJoins resolves the join path between source and target, extending it
// to reach tables contributing additional columns. A missing path leaves
// join_columns empty with a warning.
func (p *Parser) inferJoins(kg *models.KnowledgeGraph, intent *models.QueryIntent) {
	if intent.SourceTable == "" || intent.TargetTable == "" {
		return
	}

	path, err := graph.FindJoinPath(kg, intent.SourceTable, intent.TargetTable, p.maxHops)
	if err != nil {
		intent.Warnings = append(intent.Warnings,
			fmt.Sprintf("no join path between %s and %s", intent.SourceTable, intent.TargetTable))
		return
	}
	pairs, err := joinPairs(kg, path)
	if err != nil {
		intent.Warnings = append(intent.Warnings, err.Error())
		return
	}
	intent.JoinColumns = pairs

	reached := map[string]bool{intent.SourceTable: true}
	for _, pair := range pairs {
		reached[pair.SourceTable] = true
		reached[pair.TargetTable] = true
	}

	for _, extra := range intent.AdditionalColumns {
		if reached[extra.Table] {
			continue
		}
		extPath, err := graph.FindJoinPath(kg, intent.TargetTable, extra.Table, p.maxHops)
		if err != nil {
			intent.Warnings = append(intent.Warnings,
				fmt.Sprintf("column %s: no join path to %s", extra.Column, extra.Table))
			continue
		}
		extPairs, err := joinPairs(kg, extPath)
		if err != nil {
			intent.Warnings = append(intent.Warnings, err.Error())
			continue
		}
		for _, pair := range extPairs {
			if !reached[pair.TargetTable] {
				intent.JoinColumns = append(intent.JoinColumns, pair)
				reached[pair.TargetTable] = true
			}
		}
	}
}
