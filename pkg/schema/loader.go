// Package schema loads and validates schema descriptors from a directory.
// One file per schema, file stem is the schema name; JSON and YAML
// descriptors are equivalent.
package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/reconlab/recon-engine/pkg/apperrors"
	"github.com/reconlab/recon-engine/pkg/models"
)

// descriptorExts are probed in order; a JSON descriptor shadows a YAML one
// of the same name.
var descriptorExts = []string{".json", ".yaml", ".yml"}

// Loader resolves schema names to validated schema descriptors.
type Loader interface {
	// List returns the names of all loadable schemas, sorted.
	List() ([]string, error)
	// Load returns the schema by name. Results are cached until the
	// underlying file's mtime changes.
	Load(name string) (*models.Schema, error)
	// LoadAll loads every schema in the directory, failing on the first
	// invalid descriptor.
	LoadAll() (map[string]*models.Schema, error)
	// TablesOf returns the table names of a schema, sorted.
	TablesOf(name string) ([]string, error)
	// ColumnsOf returns the column names of a table in declaration order.
	ColumnsOf(schemaName, tableName string) ([]string, error)
}

type cacheEntry struct {
	schema  *models.Schema
	modTime time.Time
}

type dirLoader struct {
	dir    string
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewDirLoader returns a Loader reading *.json and *.yaml descriptors
// from dir.
func NewDirLoader(dir string, logger *zap.Logger) Loader {
	return &dirLoader{
		dir:    dir,
		logger: logger.Named("schema-loader"),
		cache:  make(map[string]cacheEntry),
	}
}

var _ Loader = (*dirLoader)(nil)

func (l *dirLoader) List() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("reading schema directory %s: %w", l.dir, err)
	}

	seen := make(map[string]bool)
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if !isDescriptorExt(ext) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ext)
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func isDescriptorExt(ext string) bool {
	for _, e := range descriptorExts {
		if ext == e {
			return true
		}
	}
	return false
}

func (l *dirLoader) Load(name string) (*models.Schema, error) {
	path, info, err := l.resolve(name)
	if err != nil {
		return nil, err
	}

	l.mu.RLock()
	entry, ok := l.cache[name]
	l.mu.RUnlock()
	if ok && entry.modTime.Equal(info.ModTime()) {
		return entry.schema, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema %q: %w", name, err)
	}
	if ext := filepath.Ext(path); ext != ".json" {
		if data, err = yamlToJSON(data); err != nil {
			return nil, fmt.Errorf("schema %q: malformed YAML: %v: %w", name, err, apperrors.ErrSchemaInvalid)
		}
	}

	schema, err := parseSchema(name, data)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.cache[name] = cacheEntry{schema: schema, modTime: info.ModTime()}
	l.mu.Unlock()

	l.logger.Debug("Loaded schema",
		zap.String("schema", name),
		zap.Int("tables", len(schema.Tables)))
	return schema, nil
}

func (l *dirLoader) LoadAll() (map[string]*models.Schema, error) {
	names, err := l.List()
	if err != nil {
		return nil, err
	}

	schemas := make(map[string]*models.Schema, len(names))
	for _, name := range names {
		s, err := l.Load(name)
		if err != nil {
			return nil, err
		}
		schemas[name] = s
	}
	return schemas, nil
}

func (l *dirLoader) TablesOf(name string) ([]string, error) {
	s, err := l.Load(name)
	if err != nil {
		return nil, err
	}

	tables := make([]string, 0, len(s.Tables))
	for t := range s.Tables {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables, nil
}

func (l *dirLoader) ColumnsOf(schemaName, tableName string) ([]string, error) {
	s, err := l.Load(schemaName)
	if err != nil {
		return nil, err
	}

	table, ok := s.Tables[tableName]
	if !ok {
		return nil, fmt.Errorf("table %q in schema %q: %w", tableName, schemaName, apperrors.ErrNotFound)
	}
	return table.ColumnNames(), nil
}

// resolve finds the descriptor file for a schema name, probing the
// supported extensions in order.
func (l *dirLoader) resolve(name string) (string, os.FileInfo, error) {
	for _, ext := range descriptorExts {
		path := filepath.Join(l.dir, name+ext)
		info, err := os.Stat(path)
		if err == nil {
			return path, info, nil
		}
		if !os.IsNotExist(err) {
			return "", nil, fmt.Errorf("stat schema %q: %w", name, err)
		}
	}
	return "", nil, fmt.Errorf("schema %q: %w", name, apperrors.ErrNotFound)
}

// yamlToJSON re-encodes a YAML document as JSON so descriptor structs keep
// a single set of field tags.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

// parseSchema decodes and validates one descriptor. Validation failures
// collect every broken field so the caller can fix them in one pass.
func parseSchema(name string, data []byte) (*models.Schema, error) {
	var s models.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("schema %q: malformed JSON: %v: %w", name, err, apperrors.ErrSchemaInvalid)
	}
	s.Name = name

	if reasons := validate(&s); len(reasons) > 0 {
		return nil, fmt.Errorf("schema %q: %s: %w", name, strings.Join(reasons, "; "), apperrors.ErrSchemaInvalid)
	}
	return &s, nil
}

func validate(s *models.Schema) []string {
	var reasons []string

	if len(s.Tables) == 0 {
		reasons = append(reasons, "no tables defined")
	}

	tableNames := make([]string, 0, len(s.Tables))
	for t := range s.Tables {
		tableNames = append(tableNames, t)
	}
	sort.Strings(tableNames)

	for _, tname := range tableNames {
		table := s.Tables[tname]
		if len(table.Columns) == 0 {
			reasons = append(reasons, fmt.Sprintf("table %q has no columns", tname))
			continue
		}

		seen := make(map[string]bool, len(table.Columns))
		for i, col := range table.Columns {
			if col.Name == "" {
				reasons = append(reasons, fmt.Sprintf("table %q column %d has empty name", tname, i))
				continue
			}
			if seen[col.Name] {
				reasons = append(reasons, fmt.Sprintf("table %q has duplicate column %q", tname, col.Name))
			}
			seen[col.Name] = true
			if col.Type == "" {
				reasons = append(reasons, fmt.Sprintf("table %q column %q has empty type", tname, col.Name))
			}
		}

		for _, pk := range table.PrimaryKeys {
			if !table.HasColumn(pk) {
				reasons = append(reasons, fmt.Sprintf("table %q primary key %q is not a column", tname, pk))
			}
		}

		for _, fk := range table.ForeignKeys {
			if !table.HasColumn(fk.SourceColumn) {
				reasons = append(reasons, fmt.Sprintf("table %q foreign key source %q is not a column", tname, fk.SourceColumn))
			}
			if fk.TargetTable == "" || fk.TargetColumn == "" {
				reasons = append(reasons, fmt.Sprintf("table %q foreign key on %q has empty target", tname, fk.SourceColumn))
				continue
			}
			// Target validated only when it points inside this schema.
			if target, ok := s.Tables[fk.TargetTable]; ok && !target.HasColumn(fk.TargetColumn) {
				reasons = append(reasons, fmt.Sprintf("table %q foreign key target %s.%s is not a column", tname, fk.TargetTable, fk.TargetColumn))
			}
		}
	}

	return reasons
}
