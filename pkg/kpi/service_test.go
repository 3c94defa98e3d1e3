package kpi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reconlab/recon-engine/pkg/apperrors"
	"github.com/reconlab/recon-engine/pkg/models"
	"github.com/reconlab/recon-engine/pkg/nlquery"
)

// memoryRepo is an in-memory Repository for service tests.
type memoryRepo struct {
	kpis       map[uuid.UUID]*models.KPIDefinition
	executions map[uuid.UUID]*models.KPIExecution

	// statusTrail records every status written through UpdateExecution.
	statusTrail []string
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		kpis:       make(map[uuid.UUID]*models.KPIDefinition),
		executions: make(map[uuid.UUID]*models.KPIExecution),
	}
}

func (m *memoryRepo) Create(_ context.Context, def *models.KPIDefinition) error {
	for _, existing := range m.kpis {
		if existing.Name == def.Name {
			return fmt.Errorf("kpi %q already exists: %w", def.Name, apperrors.ErrConflict)
		}
	}
	cp := *def
	m.kpis[def.ID] = &cp
	return nil
}

func (m *memoryRepo) Update(_ context.Context, def *models.KPIDefinition) error {
	stored, ok := m.kpis[def.ID]
	if !ok {
		return apperrors.ErrNotFound
	}
	cp := *def
	cp.IsAccept = stored.IsAccept
	cp.IsSQLCached = stored.IsSQLCached
	cp.CachedSQL = stored.CachedSQL
	m.kpis[def.ID] = &cp
	return nil
}

func (m *memoryRepo) Get(_ context.Context, id uuid.UUID) (*models.KPIDefinition, error) {
	def, ok := m.kpis[id]
	if !ok {
		return nil, fmt.Errorf("kpi %s: %w", id, apperrors.ErrNotFound)
	}
	cp := *def
	return &cp, nil
}

func (m *memoryRepo) GetByName(_ context.Context, name string) (*models.KPIDefinition, error) {
	for _, def := range m.kpis {
		if def.Name == name {
			cp := *def
			return &cp, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *memoryRepo) List(_ context.Context, includeInactive bool) ([]models.KPIDefinition, error) {
	var out []models.KPIDefinition
	for _, def := range m.kpis {
		if def.IsActive || includeInactive {
			out = append(out, *def)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memoryRepo) SoftDelete(_ context.Context, id uuid.UUID) error {
	def, ok := m.kpis[id]
	if !ok || !def.IsActive {
		return apperrors.ErrNotFound
	}
	def.IsActive = false
	return nil
}

func (m *memoryRepo) SetCacheFlags(_ context.Context, id uuid.UUID, isAccept, isSQLCached bool, cachedSQL *string, expectedUpdatedAt time.Time) error {
	def, ok := m.kpis[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	if !def.UpdatedAt.Equal(expectedUpdatedAt) {
		return apperrors.ErrConflict
	}
	def.IsAccept = isAccept
	def.IsSQLCached = isSQLCached
	def.CachedSQL = cachedSQL
	def.UpdatedAt = def.UpdatedAt.Add(time.Millisecond)
	return nil
}

func (m *memoryRepo) ClearCache(_ context.Context, id uuid.UUID) error {
	def, ok := m.kpis[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	def.IsAccept = false
	def.IsSQLCached = false
	def.CachedSQL = nil
	return nil
}

func (m *memoryRepo) CreateExecution(_ context.Context, exec *models.KPIExecution) error {
	cp := *exec
	m.executions[exec.ID] = &cp
	m.statusTrail = append(m.statusTrail, exec.ExecutionStatus)
	return nil
}

func (m *memoryRepo) UpdateExecution(_ context.Context, exec *models.KPIExecution) error {
	if _, ok := m.executions[exec.ID]; !ok {
		return apperrors.ErrNotFound
	}
	cp := *exec
	m.executions[exec.ID] = &cp
	m.statusTrail = append(m.statusTrail, exec.ExecutionStatus)
	return nil
}

func (m *memoryRepo) GetExecution(_ context.Context, id uuid.UUID) (*models.KPIExecution, error) {
	exec, ok := m.executions[id]
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", id, apperrors.ErrNotFound)
	}
	cp := *exec
	return &cp, nil
}

func (m *memoryRepo) ListExecutions(_ context.Context, kpiID uuid.UUID, filter ExecutionFilter) ([]models.KPIExecution, error) {
	var out []models.KPIExecution
	for _, exec := range m.executions {
		if exec.KPIID != kpiID {
			continue
		}
		if filter.Status != "" && exec.ExecutionStatus != filter.Status {
			continue
		}
		out = append(out, *exec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExecutionTime.After(out[j].ExecutionTime) })
	return out, nil
}

func (m *memoryRepo) LatestSuccessfulExecution(ctx context.Context, kpiID uuid.UUID) (*models.KPIExecution, error) {
	all, _ := m.ListExecutions(ctx, kpiID, ExecutionFilter{Status: models.ExecutionSuccess})
	if len(all) == 0 {
		return nil, fmt.Errorf("kpi %s has no successful execution: %w", kpiID, apperrors.ErrNotFound)
	}
	return &all[0], nil
}

func (m *memoryRepo) Dashboard(_ context.Context) ([]models.KPIGroupSummary, error) {
	return nil, nil
}

var _ Repository = (*memoryRepo)(nil)

// stubCompiler returns a canned intent and SQL, counting invocations.
type stubCompiler struct {
	calls int
	sql   string
	err   error
}

func (c *stubCompiler) Compile(_ context.Context, _, _, _ string, _ int, _ bool) (*models.QueryIntent, *nlquery.Generated, error) {
	c.calls++
	if c.err != nil {
		return &models.QueryIntent{QueryType: models.QueryTypeComparison}, nil, c.err
	}
	intent := &models.QueryIntent{
		QueryType:   models.QueryTypeComparison,
		Operation:   models.OperationNotIn,
		SourceTable: "brz_lnd_RBP_GPU",
		TargetTable: "brz_lnd_OPS_EXCEL_GPU",
		Confidence:  0.9,
		JoinColumns: []models.JoinColumnPair{{
			SourceTable: "brz_lnd_RBP_GPU", SourceColumn: "Material",
			TargetTable: "brz_lnd_OPS_EXCEL_GPU", TargetColumn: "PLANNING_SKU",
		}},
	}
	return intent, &nlquery.Generated{
		SQL: c.sql,
		Tables: []nlquery.TableRef{
			{Alias: "s", Table: "brz_lnd_RBP_GPU"},
			{Alias: "t", Table: "brz_lnd_OPS_EXCEL_GPU"},
		},
		Distinct: true,
	}, nil
}

// stubRunner records the SQL it was asked to run.
type stubRunner struct {
	sqls  []string
	count int64
	err   error
}

func (r *stubRunner) Run(_ context.Context, _ models.DBConfig, sqlText string, _ int) (int64, []map[string]any, int64, error) {
	r.sqls = append(r.sqls, sqlText)
	if r.err != nil {
		return 0, nil, 5, r.err
	}
	return r.count, []map[string]any{{"Material": "M-1"}}, 5, nil
}

func newTestService(repo Repository, c compiler, r sqlRunner) *Service {
	svc := NewService(repo, c, r, 0, zap.NewNop())
	svc.now = func() time.Time { return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC) }
	return svc
}

func seedKPI(t *testing.T, repo *memoryRepo, svc *Service) *models.KPIDefinition {
	t.Helper()
	def := &models.KPIDefinition{
		Name:         "rbp-not-in-ops",
		GroupName:    "gpu",
		NLDefinition: "Show me all products in RBP which are not in OPS Excel",
	}
	require.NoError(t, svc.Create(context.Background(), def))
	return repo.kpis[def.ID]
}

func TestCreate_Validation(t *testing.T) {
	svc := newTestService(newMemoryRepo(), &stubCompiler{}, &stubRunner{})

	err := svc.Create(context.Background(), &models.KPIDefinition{Name: "x"})
	require.ErrorIs(t, err, apperrors.ErrInputInvalid)

	err = svc.Create(context.Background(), &models.KPIDefinition{NLDefinition: "y"})
	require.ErrorIs(t, err, apperrors.ErrInputInvalid)
}

func TestCreate_Defaults(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, &stubCompiler{}, &stubRunner{})

	def := seedKPI(t, repo, svc)
	assert.NotEqual(t, uuid.Nil, def.ID)
	assert.True(t, def.IsActive)
	assert.False(t, def.IsSQLCached)
	assert.Nil(t, def.CachedSQL)
}

func TestSetCacheFlags_RequiresSuccessfulExecution(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, &stubCompiler{}, &stubRunner{})
	def := seedKPI(t, repo, svc)

	err := svc.SetCacheFlags(context.Background(), def.ID, true, true)
	require.ErrorIs(t, err, apperrors.ErrInputInvalid)
}

func TestSetCacheFlags_CopiesLatestSQL(t *testing.T) {
	repo := newMemoryRepo()
	compiler := &stubCompiler{sql: "SELECT DISTINCT s.* FROM [brz_lnd_RBP_GPU] s"}
	svc := newTestService(repo, compiler, &stubRunner{count: 3})
	def := seedKPI(t, repo, svc)

	_, err := svc.Execute(context.Background(), ExecuteRequest{
		KPIID:  def.ID,
		Params: models.ExecutionParams{KGName: "KG_102", DBType: models.DBTypeSQLServer},
	})
	require.NoError(t, err)

	require.NoError(t, svc.SetCacheFlags(context.Background(), def.ID, true, true))

	stored := repo.kpis[def.ID]
	assert.True(t, stored.IsAccept)
	assert.True(t, stored.IsSQLCached)
	require.NotNil(t, stored.CachedSQL)
	assert.Equal(t, compiler.sql, *stored.CachedSQL)
}

func TestSetCacheFlags_RejectsStaleExecution(t *testing.T) {
	repo := newMemoryRepo()
	compiler := &stubCompiler{sql: "SELECT 1"}
	svc := newTestService(repo, compiler, &stubRunner{})
	svc.stalenessDays = 7
	def := seedKPI(t, repo, svc)

	_, err := svc.Execute(context.Background(), ExecuteRequest{KPIID: def.ID,
		Params: models.ExecutionParams{DBType: models.DBTypePostgreSQL}})
	require.NoError(t, err)

	// Move "now" past the staleness window.
	svc.now = func() time.Time { return time.Date(2026, 9, 10, 12, 0, 0, 0, time.UTC) }
	err = svc.SetCacheFlags(context.Background(), def.ID, true, true)
	require.ErrorIs(t, err, apperrors.ErrInputInvalid)
}

func TestClearCache(t *testing.T) {
	repo := newMemoryRepo()
	compiler := &stubCompiler{sql: "SELECT 1"}
	svc := newTestService(repo, compiler, &stubRunner{})
	def := seedKPI(t, repo, svc)

	_, err := svc.Execute(context.Background(), ExecuteRequest{KPIID: def.ID,
		Params: models.ExecutionParams{DBType: models.DBTypePostgreSQL}})
	require.NoError(t, err)
	require.NoError(t, svc.SetCacheFlags(context.Background(), def.ID, true, true))

	require.NoError(t, svc.ClearCache(context.Background(), def.ID))
	stored := repo.kpis[def.ID]
	assert.False(t, stored.IsAccept)
	assert.False(t, stored.IsSQLCached)
	assert.Nil(t, stored.CachedSQL)
}

func TestExecute_CachedSQLSkipsCompiler(t *testing.T) {
	repo := newMemoryRepo()
	compiler := &stubCompiler{sql: "SELECT DISTINCT s.* FROM [brz_lnd_RBP_GPU] s"}
	runner := &stubRunner{count: 42}
	svc := newTestService(repo, compiler, runner)
	def := seedKPI(t, repo, svc)

	cached := "SELECT DISTINCT TOP 1000 s.* FROM [brz_lnd_RBP_GPU] s"
	stored := repo.kpis[def.ID]
	stored.IsSQLCached = true
	stored.CachedSQL = &cached

	exec, err := svc.Execute(context.Background(), ExecuteRequest{
		KPIID:  def.ID,
		Params: models.ExecutionParams{DBType: models.DBTypeSQLServer},
	})
	require.NoError(t, err)

	assert.Zero(t, compiler.calls)
	require.NotNil(t, exec.GeneratedSQL)
	assert.Equal(t, cached, *exec.GeneratedSQL)
	assert.Equal(t, []string{cached}, runner.sqls)
	assert.Equal(t, models.ExecutionSuccess, exec.ExecutionStatus)
	assert.Equal(t, int64(42), exec.NumberOfRecords)
}

func TestExecute_PersistsSQLBeforeRun(t *testing.T) {
	repo := newMemoryRepo()
	compiler := &stubCompiler{sql: "SELECT 1"}
	svc := newTestService(repo, compiler, &stubRunner{count: 1})
	def := seedKPI(t, repo, svc)

	exec, err := svc.Execute(context.Background(), ExecuteRequest{KPIID: def.ID,
		Params: models.ExecutionParams{DBType: models.DBTypePostgreSQL}})
	require.NoError(t, err)

	assert.Equal(t, []string{
		models.ExecutionPending,
		models.ExecutionRunning,
		models.ExecutionSuccess,
	}, repo.statusTrail)
	assert.Equal(t, models.QueryTypeComparison, exec.SQLQueryType)
	assert.Equal(t, models.OperationNotIn, exec.Operation)
	assert.Equal(t, []string{"brz_lnd_RBP_GPU.Material = brz_lnd_OPS_EXCEL_GPU.PLANNING_SKU"}, exec.JoinedColumns)
	assert.InDelta(t, 0.9, exec.ConfidenceScore, 1e-9)
}

func TestExecute_FailureKeepsSQL(t *testing.T) {
	repo := newMemoryRepo()
	compiler := &stubCompiler{sql: "SELECT 1"}
	runner := &stubRunner{err: errors.New("connection refused")}
	svc := newTestService(repo, compiler, runner)
	def := seedKPI(t, repo, svc)

	exec, err := svc.Execute(context.Background(), ExecuteRequest{KPIID: def.ID,
		Params: models.ExecutionParams{DBType: models.DBTypePostgreSQL}})
	require.Error(t, err)

	stored := repo.executions[exec.ID]
	assert.Equal(t, models.ExecutionFailed, stored.ExecutionStatus)
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, "connection refused")
	require.NotNil(t, stored.GeneratedSQL)
	assert.Equal(t, "SELECT 1", *stored.GeneratedSQL)
}

func TestExecute_CompileFailureRecorded(t *testing.T) {
	repo := newMemoryRepo()
	compiler := &stubCompiler{err: errors.New("no join path")}
	svc := newTestService(repo, compiler, &stubRunner{})
	def := seedKPI(t, repo, svc)

	exec, err := svc.Execute(context.Background(), ExecuteRequest{KPIID: def.ID,
		Params: models.ExecutionParams{DBType: models.DBTypePostgreSQL}})
	require.Error(t, err)

	stored := repo.executions[exec.ID]
	assert.Equal(t, models.ExecutionFailed, stored.ExecutionStatus)
	require.NotNil(t, stored.ErrorMessage)
}

func TestExecute_RejectsDeletedKPI(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, &stubCompiler{sql: "SELECT 1"}, &stubRunner{})
	def := seedKPI(t, repo, svc)
	require.NoError(t, svc.Delete(context.Background(), def.ID))

	_, err := svc.Execute(context.Background(), ExecuteRequest{KPIID: def.ID})
	require.ErrorIs(t, err, apperrors.ErrInputInvalid)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, models.ExecutionTimeout, statusFor(fmt.Errorf("query: %w", context.DeadlineExceeded)))
	assert.Equal(t, models.ExecutionCancelled, statusFor(context.Canceled))
	assert.Equal(t, models.ExecutionFailed, statusFor(errors.New("boom")))
}

func TestPageSQL(t *testing.T) {
	base := "SELECT s.* FROM t s"

	assert.Equal(t,
		"SELECT * FROM (SELECT s.* FROM t s) AS drill ORDER BY 1 LIMIT 50 OFFSET 100",
		pageSQL(models.DBTypePostgreSQL, base, 100, 50))
	assert.Equal(t,
		"SELECT * FROM (SELECT s.* FROM t s) drill ORDER BY 1 OFFSET 100 ROWS FETCH NEXT 50 ROWS ONLY",
		pageSQL(models.DBTypeSQLServer, base, 100, 50))
	assert.Equal(t,
		"SELECT * FROM (SELECT s.* FROM t s) drill ORDER BY 1 OFFSET 0 ROWS FETCH NEXT 25 ROWS ONLY",
		pageSQL(models.DBTypeOracle, base, 0, 25))
}

func TestDrilldown(t *testing.T) {
	repo := newMemoryRepo()
	runner := &stubRunner{count: 1}
	svc := newTestService(repo, &stubCompiler{sql: "SELECT 1"}, runner)
	def := seedKPI(t, repo, svc)

	exec, err := svc.Execute(context.Background(), ExecuteRequest{KPIID: def.ID,
		Params: models.ExecutionParams{DBType: models.DBTypeSQLServer}})
	require.NoError(t, err)
	runner.sqls = nil

	page, err := svc.Drilldown(context.Background(), exec.ID, 3, 20, models.DBConfig{})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Page)
	assert.Equal(t, 20, page.PageSize)
	require.Len(t, runner.sqls, 1)
	assert.Contains(t, runner.sqls[0], "OFFSET 40 ROWS FETCH NEXT 20 ROWS ONLY")
}

func TestUpdate_DefinitionChangeClearsCache(t *testing.T) {
	repo := newMemoryRepo()
	compiler := &stubCompiler{sql: "SELECT 1"}
	svc := newTestService(repo, compiler, &stubRunner{})
	def := seedKPI(t, repo, svc)

	_, err := svc.Execute(context.Background(), ExecuteRequest{KPIID: def.ID,
		Params: models.ExecutionParams{DBType: models.DBTypePostgreSQL}})
	require.NoError(t, err)
	require.NoError(t, svc.SetCacheFlags(context.Background(), def.ID, true, true))

	updated := *repo.kpis[def.ID]
	updated.NLDefinition = "Show me all products in RBP which are in OPS Excel"
	require.NoError(t, svc.Update(context.Background(), &updated))

	stored := repo.kpis[def.ID]
	assert.False(t, stored.IsSQLCached)
	assert.Nil(t, stored.CachedSQL)
}
