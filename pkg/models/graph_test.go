package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reconlab/recon-engine/pkg/apperrors"
)

func twoNodeGraph() *KnowledgeGraph {
	kg := NewKnowledgeGraph("test")
	kg.AddNode(GraphNode{ID: "s1:orders", Label: NodeLabelTable, Name: "orders"})
	kg.AddNode(GraphNode{ID: "s1:customers", Label: NodeLabelTable, Name: "customers"})
	return kg
}

func TestAddRelationship_RejectsMissingEndpoint(t *testing.T) {
	kg := twoNodeGraph()
	err := kg.AddRelationship(GraphRelationship{
		SourceID: "s1:orders", TargetID: "s1:missing", Type: RelForeignKey, Confidence: 0.95,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvariant)
}

func TestAddRelationship_RejectsBadConfidence(t *testing.T) {
	kg := twoNodeGraph()
	err := kg.AddRelationship(GraphRelationship{
		SourceID: "s1:orders", TargetID: "s1:customers", Type: RelForeignKey, Confidence: 1.2,
	})
	assert.ErrorIs(t, err, apperrors.ErrInvariant)
}

func TestAddRelationship_RejectsUnknownType(t *testing.T) {
	kg := twoNodeGraph()
	err := kg.AddRelationship(GraphRelationship{
		SourceID: "s1:orders", TargetID: "s1:customers", Type: "FRIENDS_WITH", Confidence: 0.5,
	})
	assert.ErrorIs(t, err, apperrors.ErrInvariant)
}

func TestAddRelationship_DedupeHigherConfidenceWins(t *testing.T) {
	kg := twoNodeGraph()
	require.NoError(t, kg.AddRelationship(GraphRelationship{
		SourceID: "s1:orders", TargetID: "s1:customers", Type: RelReferences,
		Confidence: 0.6, Inferred: true,
	}))
	require.NoError(t, kg.AddRelationship(GraphRelationship{
		SourceID: "s1:orders", TargetID: "s1:customers", Type: RelReferences,
		Confidence: 0.85, Inferred: true,
	}))
	require.Len(t, kg.Relationships, 1)
	assert.Equal(t, 0.85, kg.Relationships[0].Confidence)
}

func TestAddRelationship_TieBreakPrefersNonInferred(t *testing.T) {
	kg := twoNodeGraph()
	require.NoError(t, kg.AddRelationship(GraphRelationship{
		SourceID: "s1:orders", TargetID: "s1:customers", Type: RelForeignKey,
		Confidence: 0.95, Inferred: true,
	}))
	require.NoError(t, kg.AddRelationship(GraphRelationship{
		SourceID: "s1:orders", TargetID: "s1:customers", Type: RelForeignKey,
		Confidence: 0.95, Inferred: false,
	}))
	require.Len(t, kg.Relationships, 1)
	assert.False(t, kg.Relationships[0].Inferred)
}

func TestAddNode_Idempotent(t *testing.T) {
	kg := twoNodeGraph()
	kg.AddNode(GraphNode{ID: "s1:orders", Label: NodeLabelTable, Name: "orders_dup"})
	require.Len(t, kg.Nodes, 2)
	assert.Equal(t, "orders", kg.Node("s1:orders").Name)
}

func TestValidate_AfterDeserialization(t *testing.T) {
	// A graph reconstructed without AddNode/AddRelationship must still
	// validate endpoint presence.
	kg := &KnowledgeGraph{
		Name:  "raw",
		Nodes: []GraphNode{{ID: "a", Label: NodeLabelTable, Name: "a"}},
		Relationships: []GraphRelationship{
			{SourceID: "a", TargetID: "b", Type: RelHas, Confidence: 0.5},
		},
	}
	assert.ErrorIs(t, kg.Validate(), apperrors.ErrInvariant)
}

func TestNodeIDs(t *testing.T) {
	assert.Equal(t, "crm:orders", TableNodeID("crm", "orders"))
	assert.Equal(t, "crm:orders.customer_id", ColumnNodeID("crm", "orders", "customer_id"))
}
