package schema

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reconlab/recon-engine/pkg/apperrors"
)

const crmSchema = `{
	"database": "crm",
	"total_tables": 2,
	"tables": {
		"customers": {
			"table_name": "customers",
			"columns": [
				{"name": "id", "type": "bigint", "primary_key": true},
				{"name": "name", "type": "varchar(255)", "nullable": true}
			],
			"primary_keys": ["id"]
		},
		"orders": {
			"table_name": "orders",
			"columns": [
				{"name": "id", "type": "bigint", "primary_key": true},
				{"name": "customer_id", "type": "bigint"}
			],
			"primary_keys": ["id"],
			"foreign_keys": [
				{"source_column": "customer_id", "target_table": "customers", "target_column": "id"}
			]
		}
	}
}`

func writeSchema(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name+".json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Valid(t *testing.T) {
	dir := t.TempDir()
	writeSchema(t, dir, "crm", crmSchema)

	loader := NewDirLoader(dir, zap.NewNop())
	s, err := loader.Load("crm")
	require.NoError(t, err)
	assert.Equal(t, "crm", s.Name)
	assert.Len(t, s.Tables, 2)
	orders := s.Tables["orders"]
	assert.True(t, orders.IsForeignKey("customer_id"))
}

func TestLoad_NotFound(t *testing.T) {
	loader := NewDirLoader(t.TempDir(), zap.NewNop())
	_, err := loader.Load("missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestLoad_InvalidCollectsReasons(t *testing.T) {
	dir := t.TempDir()
	writeSchema(t, dir, "broken", `{
		"database": "broken",
		"tables": {
			"t1": {
				"table_name": "t1",
				"columns": [
					{"name": "id", "type": ""},
					{"name": "id", "type": "int"}
				],
				"primary_keys": ["nope"]
			}
		}
	}`)

	loader := NewDirLoader(dir, zap.NewNop())
	_, err := loader.Load("broken")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrSchemaInvalid)
	assert.Contains(t, err.Error(), "duplicate column")
	assert.Contains(t, err.Error(), "empty type")
	assert.Contains(t, err.Error(), `primary key "nope"`)
}

func TestLoad_MalformedJSON(t *testing.T) {
	dir := t.TempDir()
	writeSchema(t, dir, "bad", `{not json`)

	loader := NewDirLoader(dir, zap.NewNop())
	_, err := loader.Load("bad")
	assert.ErrorIs(t, err, apperrors.ErrSchemaInvalid)
}

func TestLoad_CacheInvalidatedOnModTime(t *testing.T) {
	dir := t.TempDir()
	path := writeSchema(t, dir, "crm", crmSchema)

	loader := NewDirLoader(dir, zap.NewNop())
	first, err := loader.Load("crm")
	require.NoError(t, err)

	// Unchanged mtime serves the cached pointer.
	again, err := loader.Load("crm")
	require.NoError(t, err)
	assert.Same(t, first, again)

	// Rewrite with a bumped mtime and one fewer table.
	updated := `{
		"database": "crm",
		"total_tables": 1,
		"tables": {
			"customers": {
				"table_name": "customers",
				"columns": [{"name": "id", "type": "bigint", "primary_key": true}],
				"primary_keys": ["id"]
			}
		}
	}`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	reloaded, err := loader.Load("crm")
	require.NoError(t, err)
	assert.Len(t, reloaded.Tables, 1)
}

func TestList_SortedDescriptorsOnly(t *testing.T) {
	dir := t.TempDir()
	writeSchema(t, dir, "zeta", crmSchema)
	writeSchema(t, dir, "alpha", crmSchema)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mid.yaml"), []byte("database: mid"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	loader := NewDirLoader(dir, zap.NewNop())
	names, err := loader.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)
}

func TestLoad_YAMLDescriptor(t *testing.T) {
	dir := t.TempDir()
	yamlSchema := `
database: crm
tables:
  customers:
    table_name: customers
    columns:
      - name: id
        type: bigint
        primary_key: true
      - name: name
        type: varchar(255)
        nullable: true
    primary_keys: [id]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "crm.yaml"), []byte(yamlSchema), 0o644))

	loader := NewDirLoader(dir, zap.NewNop())
	s, err := loader.Load("crm")
	require.NoError(t, err)
	assert.Len(t, s.Tables, 1)

	cols, err := loader.ColumnsOf("crm", "customers")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, cols)
}

func TestColumnsOf_DeclarationOrder(t *testing.T) {
	dir := t.TempDir()
	writeSchema(t, dir, "crm", crmSchema)

	loader := NewDirLoader(dir, zap.NewNop())
	cols, err := loader.ColumnsOf("crm", "orders")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "customer_id"}, cols)

	_, err = loader.ColumnsOf("crm", "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
