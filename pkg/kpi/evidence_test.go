package kpi

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reconlab/recon-engine/pkg/apperrors"
	"github.com/reconlab/recon-engine/pkg/models"
)

func TestInferCategory(t *testing.T) {
	tests := []struct {
		name     string
		group    string
		expected string
	}{
		{"Unmatched Source Rows", "", models.KPICategoryUnmatchedSourceCount},
		{"Unmatched Target Rows", "", models.KPICategoryUnmatchedTargetCount},
		{"Inactive GPUs", "", models.KPICategoryInactiveRecordCount},
		{"Data Quality", "quality", models.KPICategoryDataQualityScore},
		{"RBP vs OPS", "gpu", models.KPICategoryMatchRate},
	}
	for _, tt := range tests {
		def := &models.KPIDefinition{Name: tt.name, GroupName: tt.group}
		assert.Equal(t, tt.expected, inferCategory(def), tt.name)
	}
}

func TestApplyCategory_ReversesUnmatchedTarget(t *testing.T) {
	intent := &models.QueryIntent{
		QueryType:   models.QueryTypeComparison,
		Operation:   models.OperationNotIn,
		SourceTable: "src",
		TargetTable: "tgt",
		JoinColumns: []models.JoinColumnPair{{
			SourceTable: "src", SourceColumn: "a",
			TargetTable: "tgt", TargetColumn: "b",
		}},
	}

	applyCategory(intent, models.KPICategoryUnmatchedTargetCount)

	assert.Equal(t, "tgt", intent.SourceTable)
	assert.Equal(t, "src", intent.TargetTable)
	assert.Equal(t, models.OperationNotIn, intent.Operation)
	require.Len(t, intent.JoinColumns, 1)
	assert.Equal(t, "tgt", intent.JoinColumns[0].SourceTable)
	assert.Equal(t, "b", intent.JoinColumns[0].SourceColumn)
	assert.Equal(t, "src", intent.JoinColumns[0].TargetTable)
	assert.Equal(t, "a", intent.JoinColumns[0].TargetColumn)
}

func TestApplyCategory_MatchedAndInactive(t *testing.T) {
	intent := &models.QueryIntent{
		QueryType: models.QueryTypeComparison,
		Operation: models.OperationNotIn,
		Filters:   []models.Filter{{Column: "Active_Inactive", Op: "=", Value: "Active"}},
	}

	applyCategory(intent, models.KPICategoryDataQualityScore)
	assert.Equal(t, models.OperationIn, intent.Operation)
	assert.Equal(t, "Active", intent.Filters[0].Value)

	applyCategory(intent, models.KPICategoryInactiveRecordCount)
	assert.Equal(t, models.OperationIn, intent.Operation)
	assert.Equal(t, "Inactive", intent.Filters[0].Value)
}

func TestEvidence_EndToEnd(t *testing.T) {
	repo := newMemoryRepo()
	compiler := &stubCompiler{sql: "SELECT DISTINCT s.* FROM [brz_lnd_RBP_GPU] s"}
	runner := &stubRunner{count: 2}
	svc := newTestService(repo, compiler, runner)
	def := seedKPI(t, repo, svc)

	_, err := svc.Execute(context.Background(), ExecuteRequest{KPIID: def.ID,
		Params: models.ExecutionParams{KGName: "KG_102", DBType: models.DBTypeSQLServer}})
	require.NoError(t, err)
	runner.sqls = nil

	ev, err := svc.Evidence(context.Background(), EvidenceRequest{
		KPIID:       def.ID,
		MatchStatus: models.KPICategoryUnmatchedSourceCount,
		Limit:       10,
	})
	require.NoError(t, err)

	assert.Equal(t, models.KPICategoryUnmatchedSourceCount, ev.Category)
	require.Len(t, runner.sqls, 1)
	assert.Contains(t, runner.sqls[0], "IS NULL")
	assert.Contains(t, runner.sqls[0], "OFFSET 0 ROWS FETCH NEXT 10 ROWS ONLY")
	assert.Len(t, ev.Rows, 1)
}

func TestEvidence_RejectsUnknownCategory(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, &stubCompiler{sql: "SELECT 1"}, &stubRunner{})
	def := seedKPI(t, repo, svc)

	_, err := svc.Evidence(context.Background(), EvidenceRequest{
		KPIID:       def.ID,
		MatchStatus: "SOMETHING_ELSE",
	})
	require.ErrorIs(t, err, apperrors.ErrInputInvalid)
}

func TestEvidence_RequiresExecution(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, &stubCompiler{sql: "SELECT 1"}, &stubRunner{})
	def := seedKPI(t, repo, svc)

	_, err := svc.Evidence(context.Background(), EvidenceRequest{KPIID: def.ID})
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}
