package kpi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reconlab/recon-engine/pkg/apperrors"
	"github.com/reconlab/recon-engine/pkg/models"
	"github.com/reconlab/recon-engine/pkg/nlquery"
)

// compiler turns an NL definition into an intent and dialect SQL.
type compiler interface {
	Compile(ctx context.Context, definition string, kgName, dbType string, limit int, useLLM bool) (*models.QueryIntent, *nlquery.Generated, error)
}

// sqlRunner executes SQL against a live source database.
type sqlRunner interface {
	Run(ctx context.Context, dbCfg models.DBConfig, sqlText string, limit int) (int64, []map[string]any, int64, error)
}

// Service owns KPI definitions and their execution lifecycle.
type Service struct {
	repo     Repository
	compiler compiler
	runner   sqlRunner
	logger   *zap.Logger

	// stalenessDays rejects caching SQL from a successful execution older
	// than this many days. 0 disables the check.
	stalenessDays int

	now func() time.Time
}

// NewService creates a KPI Service. compiler and runner are typically the
// nlquery Service and Executor.
func NewService(repo Repository, compiler compiler, runner sqlRunner, stalenessDays int, logger *zap.Logger) *Service {
	return &Service{
		repo:          repo,
		compiler:      compiler,
		runner:        runner,
		stalenessDays: stalenessDays,
		logger:        logger.Named("kpi"),
		now:           time.Now,
	}
}

// Create validates and stores a new KPI definition.
func (s *Service) Create(ctx context.Context, def *models.KPIDefinition) error {
	if def.Name == "" || def.NLDefinition == "" {
		return fmt.Errorf("kpi requires name and nl_definition: %w", apperrors.ErrInputInvalid)
	}
	if def.ID == uuid.Nil {
		def.ID = uuid.New()
	}
	def.IsActive = true
	def.IsAccept = false
	def.IsSQLCached = false
	def.CachedSQL = nil
	def.CreatedAt = s.now()
	def.UpdatedAt = def.CreatedAt
	return s.repo.Create(ctx, def)
}

// Update replaces the editable fields of a KPI. Cache state is managed only
// through SetCacheFlags and ClearCache.
func (s *Service) Update(ctx context.Context, def *models.KPIDefinition) error {
	if def.Name == "" || def.NLDefinition == "" {
		return fmt.Errorf("kpi requires name and nl_definition: %w", apperrors.ErrInputInvalid)
	}
	current, err := s.repo.Get(ctx, def.ID)
	if err != nil {
		return err
	}
	def.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, def); err != nil {
		return err
	}
	// Editing the definition invalidates any accepted SQL.
	if current.NLDefinition != def.NLDefinition && current.IsSQLCached {
		return s.repo.ClearCache(ctx, def.ID)
	}
	return nil
}

// Delete soft-deletes a KPI; executions are kept.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.SoftDelete(ctx, id)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.KPIDefinition, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, includeInactive bool) ([]models.KPIDefinition, error) {
	return s.repo.List(ctx, includeInactive)
}

// SetCacheFlags accepts or caches a KPI's SQL. Caching requires a prior
// successful execution; the cached SQL is copied from the most recent one.
func (s *Service) SetCacheFlags(ctx context.Context, id uuid.UUID, isAccept, isSQLCached bool) error {
	def, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	cachedSQL := def.CachedSQL
	if isSQLCached {
		latest, err := s.repo.LatestSuccessfulExecution(ctx, id)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return fmt.Errorf("caching SQL requires a successful execution: %w", apperrors.ErrInputInvalid)
			}
			return err
		}
		if s.stalenessDays > 0 {
			cutoff := s.now().AddDate(0, 0, -s.stalenessDays)
			if latest.ExecutionTime.Before(cutoff) {
				return fmt.Errorf("latest successful execution is older than %d days: %w",
					s.stalenessDays, apperrors.ErrInputInvalid)
			}
		}
		if latest.GeneratedSQL == nil {
			return fmt.Errorf("latest successful execution has no SQL: %w", apperrors.ErrInvariant)
		}
		cachedSQL = latest.GeneratedSQL
	}

	return s.repo.SetCacheFlags(ctx, id, isAccept, isSQLCached, cachedSQL, def.UpdatedAt)
}

// ClearCache nulls the cached SQL and clears both cache flags.
func (s *Service) ClearCache(ctx context.Context, id uuid.UUID) error {
	return s.repo.ClearCache(ctx, id)
}

// ExecuteRequest carries one KPI execution: the recorded parameters plus the
// connection the SQL runs against.
type ExecuteRequest struct {
	KPIID  uuid.UUID              `json:"kpi_id"`
	Params models.ExecutionParams `json:"params"`
	DB     models.DBConfig        `json:"db_config"`
}

// Execute runs a KPI end to end: a pending history row is created first, the
// SQL (cached or compiled) is persisted on it before execution, and the row
// is transitioned to a terminal status. The returned execution reflects the
// final state.
func (s *Service) Execute(ctx context.Context, req ExecuteRequest) (*models.KPIExecution, error) {
	def, err := s.repo.Get(ctx, req.KPIID)
	if err != nil {
		return nil, err
	}
	if !def.IsActive {
		return nil, fmt.Errorf("kpi %q is deleted: %w", def.Name, apperrors.ErrInputInvalid)
	}

	exec := &models.KPIExecution{
		ID:              uuid.New(),
		KPIID:           def.ID,
		Params:          req.Params,
		ExecutionStatus: models.ExecutionPending,
		ExecutionTime:   s.now(),
	}
	if err := s.repo.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}

	s.logger.Info("Executing KPI",
		zap.String("kpi", def.Name),
		zap.String("execution_id", exec.ID.String()),
		zap.Bool("cached", def.IsSQLCached))

	var execSQL, fallbackSQL string
	if def.IsSQLCached && def.CachedSQL != nil {
		sqlCopy := *def.CachedSQL
		exec.GeneratedSQL = &sqlCopy
		execSQL = sqlCopy
	} else {
		intent, generated, err := s.compiler.Compile(ctx, def.NLDefinition,
			req.Params.KGName, req.Params.DBType, req.Params.LimitRecords, req.Params.UseLLM)
		if intent != nil {
			exec.SQLQueryType = intent.QueryType
			exec.Operation = intent.Operation
			exec.SourceTable = intent.SourceTable
			exec.TargetTable = intent.TargetTable
			exec.ConfidenceScore = intent.Confidence
			for _, pair := range intent.JoinColumns {
				exec.JoinedColumns = append(exec.JoinedColumns,
					fmt.Sprintf("%s.%s = %s.%s", pair.SourceTable, pair.SourceColumn, pair.TargetTable, pair.TargetColumn))
			}
		}
		if err != nil {
			return exec, s.fail(ctx, exec, err)
		}
		exec.GeneratedSQL = &generated.SQL
		execSQL = generated.SQL
		if enhanced, changed := nlquery.EnhanceOpsPlanner(generated, req.Params.DBType); changed {
			exec.EnhancedSQL = &enhanced
			execSQL = enhanced
			fallbackSQL = generated.SQL
		}
	}

	// The SQL must be on the history row before anything runs.
	exec.ExecutionStatus = models.ExecutionRunning
	if err := s.repo.UpdateExecution(ctx, exec); err != nil {
		return exec, err
	}

	count, sample, elapsed, err := s.runner.Run(ctx, req.DB, execSQL, req.Params.LimitRecords)
	if err != nil && fallbackSQL != "" {
		s.logger.Warn("Enhanced statement failed, retrying generated SQL",
			zap.String("kpi", def.Name), zap.Error(err))
		count, sample, elapsed, err = s.runner.Run(ctx, req.DB, fallbackSQL, req.Params.LimitRecords)
	}
	exec.ExecutionTimeMs = elapsed
	if err != nil {
		return exec, s.fail(ctx, exec, err)
	}

	exec.NumberOfRecords = count
	exec.ResultData = sample
	exec.ExecutionStatus = models.ExecutionSuccess
	if err := s.repo.UpdateExecution(ctx, exec); err != nil {
		return exec, err
	}
	return exec, nil
}

// fail transitions the execution row to a terminal failure status, keeping
// whatever SQL was generated.
func (s *Service) fail(ctx context.Context, exec *models.KPIExecution, cause error) error {
	exec.ExecutionStatus = statusFor(cause)
	msg := cause.Error()
	exec.ErrorMessage = &msg

	persistCtx := context.WithoutCancel(ctx)
	if err := s.repo.UpdateExecution(persistCtx, exec); err != nil {
		s.logger.Error("Failed to persist failed execution",
			zap.String("execution_id", exec.ID.String()), zap.Error(err))
	}
	return cause
}

// statusFor maps a failure cause onto the execution status vocabulary.
func statusFor(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.ExecutionTimeout
	case errors.Is(err, context.Canceled):
		return models.ExecutionCancelled
	default:
		return models.ExecutionFailed
	}
}

func (s *Service) GetExecution(ctx context.Context, id uuid.UUID) (*models.KPIExecution, error) {
	return s.repo.GetExecution(ctx, id)
}

func (s *Service) ListExecutions(ctx context.Context, kpiID uuid.UUID, filter ExecutionFilter) ([]models.KPIExecution, error) {
	return s.repo.ListExecutions(ctx, kpiID, filter)
}

// Dashboard groups active KPIs by group name with their latest execution.
func (s *Service) Dashboard(ctx context.Context) ([]models.KPIGroupSummary, error) {
	return s.repo.Dashboard(ctx)
}

// DrilldownPage is one server-side page of an execution's result set.
type DrilldownPage struct {
	ExecutionID uuid.UUID        `json:"execution_id"`
	Page        int              `json:"page"`
	PageSize    int              `json:"page_size"`
	Rows        []map[string]any `json:"rows"`
	ElapsedMs   int64            `json:"elapsed_ms"`
}

// Drilldown re-executes an execution's SQL with a stable ORDER BY and
// OFFSET/FETCH pagination.
func (s *Service) Drilldown(ctx context.Context, executionID uuid.UUID, page, pageSize int, db models.DBConfig) (*DrilldownPage, error) {
	exec, err := s.repo.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	baseSQL := executionSQL(exec)
	if baseSQL == "" {
		return nil, fmt.Errorf("execution %s has no SQL to page: %w", executionID, apperrors.ErrInputInvalid)
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 50
	}

	paged := pageSQL(exec.Params.DBType, baseSQL, (page-1)*pageSize, pageSize)
	_, rows, elapsed, err := s.runner.Run(ctx, db, paged, pageSize)
	if err != nil {
		return nil, err
	}
	return &DrilldownPage{
		ExecutionID: executionID,
		Page:        page,
		PageSize:    pageSize,
		Rows:        rows,
		ElapsedMs:   elapsed,
	}, nil
}

// executionSQL prefers the enhanced statement when one was recorded.
func executionSQL(exec *models.KPIExecution) string {
	if exec.EnhancedSQL != nil {
		return *exec.EnhancedSQL
	}
	if exec.GeneratedSQL != nil {
		return *exec.GeneratedSQL
	}
	return ""
}

// pageSQL wraps a statement with deterministic first-column ordering and
// dialect pagination. The inner statement keeps its own row cap.
func pageSQL(dbType, baseSQL string, offset, limit int) string {
	switch strings.ToLower(dbType) {
	case models.DBTypeSQLServer, models.DBTypeOracle:
		return fmt.Sprintf("SELECT * FROM (%s) drill ORDER BY 1 OFFSET %d ROWS FETCH NEXT %d ROWS ONLY",
			baseSQL, offset, limit)
	default:
		return fmt.Sprintf("SELECT * FROM (%s) AS drill ORDER BY 1 LIMIT %d OFFSET %d",
			baseSQL, limit, offset)
	}
}
