package graph

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reconlab/recon-engine/pkg/apperrors"
	"github.com/reconlab/recon-engine/pkg/llm"
	"github.com/reconlab/recon-engine/pkg/models"
	"github.com/reconlab/recon-engine/pkg/schema"
)

const crmSchema = `{
	"database": "crm",
	"tables": {
		"customers": {
			"table_name": "customers",
			"columns": [
				{"name": "id", "type": "bigint", "primary_key": true},
				{"name": "name", "type": "varchar(255)"},
				{"name": "region", "type": "varchar(64)"}
			],
			"primary_keys": ["id"]
		},
		"orders": {
			"table_name": "orders",
			"columns": [
				{"name": "id", "type": "bigint", "primary_key": true},
				{"name": "customer_id", "type": "bigint"},
				{"name": "vendor_id", "type": "bigint"},
				{"name": "amount", "type": "decimal(18,2)"}
			],
			"primary_keys": ["id"],
			"foreign_keys": [
				{"source_column": "customer_id", "target_table": "customers", "target_column": "id", "constraint_name": "fk_orders_customer"}
			]
		},
		"vendors": {
			"table_name": "vendors",
			"columns": [
				{"name": "id", "type": "bigint", "primary_key": true},
				{"name": "vendor_name", "type": "varchar(255)"}
			],
			"primary_keys": ["id"]
		}
	}
}`

const erpSchema = `{
	"database": "erp",
	"tables": {
		"customers": {
			"table_name": "customers",
			"columns": [
				{"name": "customer_code", "type": "varchar(32)", "primary_key": true},
				{"name": "legal_name", "type": "varchar(255)"}
			],
			"primary_keys": ["customer_code"]
		},
		"invoices": {
			"table_name": "invoices",
			"columns": [
				{"name": "invoice_no", "type": "varchar(32)", "primary_key": true},
				{"name": "customer_id", "type": "varchar(32)"},
				{"name": "total", "type": "decimal(18,2)"}
			],
			"primary_keys": ["invoice_no"]
		}
	}
}`

func testLoader(t *testing.T) schema.Loader {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "crm.json"), []byte(crmSchema), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "erp.json"), []byte(erpSchema), 0o644))
	return schema.NewDirLoader(dir, zap.NewNop())
}

func newTestBuilder(t *testing.T, client llm.ChatClient) (Builder, Store) {
	t.Helper()
	store := NewMemoryStore()
	b := NewBuilder(testLoader(t), store, client, models.NewExcludedFieldSet(nil), 0.7, zap.NewNop())
	return b, store
}

func findEdge(kg *models.KnowledgeGraph, source, target, relType string) *models.GraphRelationship {
	for i := range kg.Relationships {
		rel := &kg.Relationships[i]
		if rel.SourceID == source && rel.TargetID == target && rel.Type == relType {
			return rel
		}
	}
	return nil
}

func TestBuild_ForeignKeyEdges(t *testing.T) {
	b, _ := newTestBuilder(t, nil)
	kg, err := b.Build(context.Background(), BuildRequest{
		KGName: "test-kg", SchemaNames: []string{"crm"},
	})
	require.NoError(t, err)

	fk := findEdge(kg, "crm:orders", "crm:customers", models.RelForeignKey)
	require.NotNil(t, fk)
	assert.Equal(t, 0.95, fk.Confidence)
	assert.False(t, fk.Inferred)
	assert.Equal(t, "customer_id", fk.PropString("source_column"))
	assert.Equal(t, "id", fk.PropString("target_column"))
}

func TestBuild_ReferencePatternEdges(t *testing.T) {
	b, _ := newTestBuilder(t, nil)
	kg, err := b.Build(context.Background(), BuildRequest{
		KGName: "test-kg", SchemaNames: []string{"crm"},
	})
	require.NoError(t, err)

	// vendor_id has no declared FK; the vendors table exists in-schema.
	ref := findEdge(kg, "crm:orders", "crm:vendors", models.RelReferences)
	require.NotNil(t, ref)
	assert.Equal(t, 0.85, ref.Confidence)
	assert.True(t, ref.Inferred)

	// customer_id is covered by the declared FK and gets no REFERENCES twin.
	assert.Nil(t, findEdge(kg, "crm:orders", "crm:customers", models.RelReferences))
}

func TestBuild_BelongsToAndNodePromotion(t *testing.T) {
	b, _ := newTestBuilder(t, nil)
	kg, err := b.Build(context.Background(), BuildRequest{
		KGName: "test-kg", SchemaNames: []string{"crm"},
	})
	require.NoError(t, err)

	// Key columns become COLUMN nodes with BELONGS_TO edges.
	require.True(t, kg.HasNode("crm:orders.customer_id"))
	belongs := findEdge(kg, "crm:orders.customer_id", "crm:orders", models.RelBelongsTo)
	require.NotNil(t, belongs)
	assert.Equal(t, 1.0, belongs.Confidence)

	// Plain columns stay as table properties.
	assert.False(t, kg.HasNode("crm:orders.amount"))
	tableNode := kg.Node("crm:orders")
	require.NotNil(t, tableNode)
	assert.Contains(t, tableNode.Properties["columns"], "amount")
}

func TestBuild_CrossSchemaEdges(t *testing.T) {
	b, _ := newTestBuilder(t, nil)
	kg, err := b.Build(context.Background(), BuildRequest{
		KGName: "test-kg", SchemaNames: []string{"crm", "erp"},
	})
	require.NoError(t, err)

	// erp:invoices.customer_id implies a customers table, found in crm.
	cross := findEdge(kg, "erp:invoices", "crm:customers", models.RelCrossSchemaReference)
	require.NotNil(t, cross)
	assert.Equal(t, 0.75, cross.Confidence)
	assert.Equal(t, "erp", cross.PropString("source_schema"))
	assert.Equal(t, "crm", cross.PropString("target_schema"))
}

func TestBuild_ExplicitPairs(t *testing.T) {
	b, _ := newTestBuilder(t, nil)
	kg, err := b.Build(context.Background(), BuildRequest{
		KGName:      "test-kg",
		SchemaNames: []string{"crm", "erp"},
		Pairs: []models.RelationshipPair{
			{SourceTable: "crm.customers", SourceColumn: "name", TargetTable: "erp.customers", TargetColumn: "legal_name", Bidirectional: true},
			// Excluded field, dropped before resolution.
			{SourceTable: "crm.customers", SourceColumn: "Product_Line", TargetTable: "erp.customers", TargetColumn: "legal_name"},
			// Unknown table, dropped with a warning.
			{SourceTable: "crm.ghosts", SourceColumn: "id", TargetTable: "erp.customers", TargetColumn: "legal_name"},
		},
	})
	require.NoError(t, err)

	fwd := findEdge(kg, "crm:customers.name", "erp:customers.legal_name", models.RelExplicitPair)
	require.NotNil(t, fwd)
	assert.Equal(t, 1.0, fwd.Confidence)
	assert.Equal(t, true, fwd.Properties["user_defined"])

	rev := findEdge(kg, "erp:customers.legal_name", "crm:customers.name", models.RelExplicitPair)
	require.NotNil(t, rev)

	// Exactly one pair survived (as two directed edges).
	pairEdges := 0
	for _, rel := range kg.Relationships {
		if rel.Type == models.RelExplicitPair {
			pairEdges++
		}
	}
	assert.Equal(t, 2, pairEdges)
}

func TestBuild_UnknownSchemaFatal(t *testing.T) {
	b, _ := newTestBuilder(t, nil)
	_, err := b.Build(context.Background(), BuildRequest{
		KGName: "test-kg", SchemaNames: []string{"nope"},
	})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestBuild_DeterministicWithoutLLM(t *testing.T) {
	b, _ := newTestBuilder(t, nil)
	req := BuildRequest{KGName: "test-kg", SchemaNames: []string{"crm", "erp"}}

	first, err := b.Build(context.Background(), req)
	require.NoError(t, err)
	second, err := b.Build(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Nodes, second.Nodes)
	assert.Equal(t, first.Relationships, second.Relationships)
}

func TestBuild_PersistsThroughStore(t *testing.T) {
	b, store := newTestBuilder(t, nil)
	_, err := b.Build(context.Background(), BuildRequest{
		KGName: "persisted", SchemaNames: []string{"crm"},
	})
	require.NoError(t, err)

	loaded, err := store.Get(context.Background(), "persisted")
	require.NoError(t, err)
	assert.Equal(t, "persisted", loaded.Name)
	assert.NotEmpty(t, loaded.Nodes)
}

func TestBuild_LLMEnhancement(t *testing.T) {
	mock := llm.NewMockClient(
		`{"relationships": [
			{"source_table": "crm:customers", "target_table": "erp:customers", "confidence": 0.9, "reasoning": "same entity"},
			{"source_table": "crm:orders", "target_table": "erp:invoices", "confidence": 0.5, "reasoning": "weak hunch"}
		]}`,
		`{"relationships": []}`,
		`{"relationships": []}`,
		`{"relationships": []}`,
		`{"relationships": []}`,
		`{"aliases": []}`,
	)
	b, _ := newTestBuilder(t, mock)

	kg, err := b.Build(context.Background(), BuildRequest{
		KGName: "test-kg", SchemaNames: []string{"crm", "erp"}, UseLLM: true,
	})
	require.NoError(t, err)

	sem := findEdge(kg, "crm:customers", "erp:customers", models.RelSemanticReference)
	require.NotNil(t, sem)
	assert.Equal(t, 0.9, sem.Confidence)
	assert.True(t, sem.Inferred)
	assert.Equal(t, "same entity", sem.Reasoning)

	// The 0.5 suggestion is below min_confidence 0.7.
	assert.Nil(t, findEdge(kg, "crm:orders", "erp:invoices", models.RelSemanticReference))
}

func TestBuild_LLMFailureDegradesToRuleBased(t *testing.T) {
	mock := &llm.MockClient{
		Errs: []error{
			llm.NewError(llm.ErrorTypeAuth, "denied", false, nil),
		},
		Responses: []string{`{"relationships": []}`},
		Model:     "mock-model",
	}
	b, _ := newTestBuilder(t, mock)

	kg, err := b.Build(context.Background(), BuildRequest{
		KGName: "test-kg", SchemaNames: []string{"crm"}, UseLLM: true,
	})
	require.NoError(t, err)
	assert.NotNil(t, findEdge(kg, "crm:orders", "crm:customers", models.RelForeignKey))
}

func TestBuild_AliasExtractionDropsCanonicalName(t *testing.T) {
	mock := llm.NewMockClient(
		`{"relationships": []}`,
		`{"relationships": []}`,
		`{"relationships": []}`,
		`{"relationships": []}`,
		`{"relationships": []}`,
		`{"aliases": ["Customer Master", "CUSTOMERS", "clients"]}`,
	)
	b, _ := newTestBuilder(t, mock)

	kg, err := b.Build(context.Background(), BuildRequest{
		KGName: "test-kg", SchemaNames: []string{"crm"}, UseLLM: true,
	})
	require.NoError(t, err)

	aliases := kg.TableAliases["crm:customers"]
	assert.Contains(t, aliases, "Customer Master")
	assert.Contains(t, aliases, "clients")
	assert.NotContains(t, aliases, "CUSTOMERS")
}
