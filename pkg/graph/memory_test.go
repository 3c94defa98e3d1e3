package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reconlab/recon-engine/pkg/apperrors"
	"github.com/reconlab/recon-engine/pkg/models"
)

func storedGraph(t *testing.T, name string) *models.KnowledgeGraph {
	t.Helper()
	kg := models.NewKnowledgeGraph(name)
	kg.AddNode(models.GraphNode{ID: "s:a", Label: models.NodeLabelTable, Name: "a"})
	kg.AddNode(models.GraphNode{ID: "s:b", Label: models.NodeLabelTable, Name: "b"})
	require.NoError(t, kg.AddRelationship(models.GraphRelationship{
		SourceID: "s:a", TargetID: "s:b", Type: models.RelForeignKey, Confidence: 0.95,
	}))
	kg.TableAliases["s:a"] = []string{"alpha"}
	kg.Metadata["schemas"] = []string{"s"}
	return kg
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	kg := storedGraph(t, "rt")

	require.NoError(t, store.Put(ctx, kg))

	got, err := store.Get(ctx, "rt")
	require.NoError(t, err)
	assert.Equal(t, kg.Nodes, got.Nodes)
	assert.Equal(t, kg.Relationships, got.Relationships)
	assert.Equal(t, []string{"alpha"}, got.TableAliases["s:a"])
}

func TestMemoryStore_GetIsolatesCallers(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Put(ctx, storedGraph(t, "iso")))

	first, err := store.Get(ctx, "iso")
	require.NoError(t, err)
	first.Nodes[0].Name = "mutated"
	first.TableAliases["s:a"] = []string{"changed"}

	second, err := store.Get(ctx, "iso")
	require.NoError(t, err)
	assert.Equal(t, "a", second.Nodes[0].Name)
	assert.Equal(t, []string{"alpha"}, second.TableAliases["s:a"])
}

func TestMemoryStore_PutReplaces(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Put(ctx, storedGraph(t, "rep")))

	smaller := models.NewKnowledgeGraph("rep")
	smaller.AddNode(models.GraphNode{ID: "s:only", Label: models.NodeLabelTable, Name: "only"})
	require.NoError(t, store.Put(ctx, smaller))

	got, err := store.Get(ctx, "rep")
	require.NoError(t, err)
	assert.Len(t, got.Nodes, 1)
	assert.Empty(t, got.Relationships)
}

func TestMemoryStore_ListDeleteExists(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Put(ctx, storedGraph(t, "b-kg")))
	require.NoError(t, store.Put(ctx, storedGraph(t, "a-kg")))

	names, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a-kg", "b-kg"}, names)

	ok, err := store.Exists(ctx, "a-kg")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Delete(ctx, "a-kg"))
	assert.ErrorIs(t, store.Delete(ctx, "a-kg"), apperrors.ErrNotFound)

	_, err = store.Get(ctx, "a-kg")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestMemoryStore_RejectsInvalidGraph(t *testing.T) {
	store := NewMemoryStore()
	bad := &models.KnowledgeGraph{
		Name:  "bad",
		Nodes: []models.GraphNode{{ID: "s:a", Label: models.NodeLabelTable, Name: "a"}},
		Relationships: []models.GraphRelationship{
			{SourceID: "s:a", TargetID: "s:gone", Type: models.RelHas, Confidence: 0.5},
		},
	}
	assert.ErrorIs(t, store.Put(context.Background(), bad), apperrors.ErrInvariant)
}
