package models

// Schema is a named relational schema descriptor loaded from a JSON file.
// Tables is keyed by table name; column order inside each table is
// significant and preserved.
type Schema struct {
	Name        string           `json:"-"` // descriptor name, set by the loader
	Database    string           `json:"database"`
	TotalTables int              `json:"total_tables"`
	Tables      map[string]Table `json:"tables"`
}

// Table describes a single table. Columns is an ordered sequence, never a
// mapping; all column access iterates or indexes it.
type Table struct {
	TableName   string       `json:"table_name"`
	Columns     []Column     `json:"columns"`
	PrimaryKeys []string     `json:"primary_keys"`
	ForeignKeys []ForeignKey `json:"foreign_keys"`
	Indexes     []IndexEntry `json:"indexes"`
}

// Column describes one column of a table.
type Column struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Nullable   bool    `json:"nullable"`
	Default    *string `json:"default,omitempty"`
	PrimaryKey bool    `json:"primary_key,omitempty"`
}

// ForeignKey is a declared FK constraint on a table.
type ForeignKey struct {
	SourceColumn   string `json:"source_column"`
	TargetTable    string `json:"target_table"`
	TargetColumn   string `json:"target_column"`
	ConstraintName string `json:"constraint_name,omitempty"`
}

// IndexEntry is an opaque index descriptor carried through unmodified.
type IndexEntry map[string]any

// HasColumn reports whether some element of Columns has a matching name.
// Comparison is case-sensitive per the descriptor contract.
func (t *Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

// ColumnNamed returns the column with the given name, or nil.
func (t *Table) ColumnNamed(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// ColumnNames returns column names in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// IsPrimaryKey reports whether the named column is part of the primary key,
// either via the primary_keys list or the per-column flag.
func (t *Table) IsPrimaryKey(name string) bool {
	for _, pk := range t.PrimaryKeys {
		if pk == name {
			return true
		}
	}
	if c := t.ColumnNamed(name); c != nil {
		return c.PrimaryKey
	}
	return false
}

// IsForeignKey reports whether the named column is the source of a declared
// FK constraint.
func (t *Table) IsForeignKey(name string) bool {
	for _, fk := range t.ForeignKeys {
		if fk.SourceColumn == name {
			return true
		}
	}
	return false
}
