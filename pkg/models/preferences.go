package models

// RelationshipPair is a user-supplied explicit column-to-column relationship.
// Table names may be schema-qualified ("schema.table") or global.
type RelationshipPair struct {
	SourceTable   string `json:"source_table"`
	SourceColumn  string `json:"source_column"`
	TargetTable   string `json:"target_table"`
	TargetColumn  string `json:"target_column"`
	Bidirectional bool   `json:"bidirectional"`
}

// FieldPreference declares per-table priority/excluded columns and filter
// hints. Priority fields drive multi-table join composition; excluded fields
// apply only within rule generation.
type FieldPreference struct {
	TableName      string            `json:"table_name" yaml:"table_name"`
	PriorityFields []string          `json:"priority_fields,omitempty" yaml:"priority_fields"`
	ExcludedFields []string          `json:"excluded_fields,omitempty" yaml:"excluded_fields"`
	FilterHints    map[string]string `json:"filter_hints,omitempty" yaml:"filter_hints"`
}

// DefaultExcludedFields is the built-in set of administrative field names
// that must never appear as either endpoint of an explicit relationship
// pair. Comparison is exact on the supplied string.
var DefaultExcludedFields = []string{
	"Product_Line", "product_line", "PRODUCT_LINE", "Product Line",
	"Business_Unit", "business_unit", "BUSINESS_UNIT", "Business Unit",
	"[Business Unit]", "BUSINESS_UNIT_CODE", "business unit",
	"[Product Type]", "Product Type", "product_type", "PRODUCT_TYPE",
}

// ExcludedFieldSet is the process-wide set of excluded field names.
type ExcludedFieldSet map[string]struct{}

// NewExcludedFieldSet builds a set from the given names, falling back to the
// built-in list when names is empty.
func NewExcludedFieldSet(names []string) ExcludedFieldSet {
	if len(names) == 0 {
		names = DefaultExcludedFields
	}
	set := make(ExcludedFieldSet, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// Contains reports exact membership of the supplied string.
func (s ExcludedFieldSet) Contains(field string) bool {
	_, ok := s[field]
	return ok
}

// BlocksPair reports whether either endpoint column of the pair is excluded.
func (s ExcludedFieldSet) BlocksPair(p RelationshipPair) bool {
	return s.Contains(p.SourceColumn) || s.Contains(p.TargetColumn)
}
