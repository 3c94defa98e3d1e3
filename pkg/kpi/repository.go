// Package kpi manages KPI definitions, their cached SQL, and an append-only
// execution history, reusing the NL compiler for SQL generation.
package kpi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/reconlab/recon-engine/pkg/apperrors"
	"github.com/reconlab/recon-engine/pkg/database"
	"github.com/reconlab/recon-engine/pkg/models"
)

// ExecutionFilter narrows ListExecutions. Zero values mean "any".
type ExecutionFilter struct {
	Status string
	Since  time.Time
	Limit  int
}

// Repository persists KPI definitions and executions in the engine store.
// Executions are append-only; cached SQL is mutated on the parent KPI only.
type Repository interface {
	Create(ctx context.Context, def *models.KPIDefinition) error
	Update(ctx context.Context, def *models.KPIDefinition) error
	Get(ctx context.Context, id uuid.UUID) (*models.KPIDefinition, error)
	GetByName(ctx context.Context, name string) (*models.KPIDefinition, error)
	List(ctx context.Context, includeInactive bool) ([]models.KPIDefinition, error)
	SoftDelete(ctx context.Context, id uuid.UUID) error

	// SetCacheFlags is a compare-and-set on updated_at; a concurrent update
	// surfaces as ErrConflict.
	SetCacheFlags(ctx context.Context, id uuid.UUID, isAccept, isSQLCached bool, cachedSQL *string, expectedUpdatedAt time.Time) error
	ClearCache(ctx context.Context, id uuid.UUID) error

	CreateExecution(ctx context.Context, exec *models.KPIExecution) error
	UpdateExecution(ctx context.Context, exec *models.KPIExecution) error
	GetExecution(ctx context.Context, id uuid.UUID) (*models.KPIExecution, error)
	ListExecutions(ctx context.Context, kpiID uuid.UUID, filter ExecutionFilter) ([]models.KPIExecution, error)
	LatestSuccessfulExecution(ctx context.Context, kpiID uuid.UUID) (*models.KPIExecution, error)

	Dashboard(ctx context.Context) ([]models.KPIGroupSummary, error)
}

type kpiRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewRepository creates a KPI Repository on the engine database.
func NewRepository(db *database.DB, logger *zap.Logger) Repository {
	return &kpiRepository{db: db, logger: logger.Named("kpi-repo")}
}

var _ Repository = (*kpiRepository)(nil)

const kpiColumns = `id, name, alias_name, group_name, description, nl_definition,
	created_by, is_active, is_accept, is_sql_cached, cached_sql, created_at, updated_at`

func (r *kpiRepository) Create(ctx context.Context, def *models.KPIDefinition) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO engine_kpis (`+kpiColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		def.ID, def.Name, def.AliasName, def.GroupName, def.Description, def.NLDefinition,
		def.CreatedBy, def.IsActive, def.IsAccept, def.IsSQLCached, def.CachedSQL,
		def.CreatedAt, def.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("kpi %q already exists: %w", def.Name, apperrors.ErrConflict)
		}
		return fmt.Errorf("failed to create kpi %q: %w", def.Name, err)
	}
	return nil
}

func (r *kpiRepository) Update(ctx context.Context, def *models.KPIDefinition) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE engine_kpis SET
			name = $2, alias_name = $3, group_name = $4, description = $5,
			nl_definition = $6, created_by = $7, is_active = $8, updated_at = $9
		WHERE id = $1`,
		def.ID, def.Name, def.AliasName, def.GroupName, def.Description,
		def.NLDefinition, def.CreatedBy, def.IsActive, def.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update kpi %s: %w", def.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("kpi %s: %w", def.ID, apperrors.ErrNotFound)
	}
	return nil
}

func (r *kpiRepository) Get(ctx context.Context, id uuid.UUID) (*models.KPIDefinition, error) {
	return r.getOne(ctx, "id = $1", id)
}

func (r *kpiRepository) GetByName(ctx context.Context, name string) (*models.KPIDefinition, error) {
	return r.getOne(ctx, "name = $1", name)
}

func (r *kpiRepository) getOne(ctx context.Context, where string, arg any) (*models.KPIDefinition, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+kpiColumns+` FROM engine_kpis WHERE `+where, arg)

	def, err := scanKPI(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("kpi %v: %w", arg, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load kpi %v: %w", arg, err)
	}
	return def, nil
}

func (r *kpiRepository) List(ctx context.Context, includeInactive bool) ([]models.KPIDefinition, error) {
	query := `SELECT ` + kpiColumns + ` FROM engine_kpis`
	if !includeInactive {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY group_name, name`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list kpis: %w", err)
	}
	defer rows.Close()

	var out []models.KPIDefinition
	for rows.Next() {
		def, err := scanKPI(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan kpi: %w", err)
		}
		out = append(out, *def)
	}
	return out, rows.Err()
}

func (r *kpiRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE engine_kpis SET is_active = FALSE, updated_at = now()
		WHERE id = $1 AND is_active`, id)
	if err != nil {
		return fmt.Errorf("failed to delete kpi %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("kpi %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

func (r *kpiRepository) SetCacheFlags(ctx context.Context, id uuid.UUID, isAccept, isSQLCached bool, cachedSQL *string, expectedUpdatedAt time.Time) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE engine_kpis SET
			is_accept = $2, is_sql_cached = $3, cached_sql = $4, updated_at = now()
		WHERE id = $1 AND updated_at = $5`,
		id, isAccept, isSQLCached, cachedSQL, expectedUpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to set cache flags on kpi %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("kpi %s changed concurrently: %w", id, apperrors.ErrConflict)
	}
	return nil
}

func (r *kpiRepository) ClearCache(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE engine_kpis SET
			is_accept = FALSE, is_sql_cached = FALSE, cached_sql = NULL, updated_at = now()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to clear cache on kpi %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("kpi %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

const executionColumns = `id, kpi_id, kg_name, select_schema, ruleset_name, db_type,
	limit_records, use_llm, excluded_fields, generated_sql, enhanced_sql,
	number_of_records, joined_columns, sql_query_type, operation, execution_status,
	execution_timestamp, execution_time_ms, confidence_score, error_message,
	result_data, source_table, target_table`

func (r *kpiRepository) CreateExecution(ctx context.Context, exec *models.KPIExecution) error {
	excluded, joined, result, err := marshalExecutionJSON(exec)
	if err != nil {
		return err
	}
	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO engine_kpi_executions (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
		exec.ID, exec.KPIID,
		exec.Params.KGName, exec.Params.SelectSchema, exec.Params.RulesetName,
		exec.Params.DBType, exec.Params.LimitRecords, exec.Params.UseLLM, excluded,
		exec.GeneratedSQL, exec.EnhancedSQL, exec.NumberOfRecords, joined,
		exec.SQLQueryType, exec.Operation, exec.ExecutionStatus,
		exec.ExecutionTime, exec.ExecutionTimeMs, exec.ConfidenceScore,
		exec.ErrorMessage, result, exec.SourceTable, exec.TargetTable)
	if err != nil {
		return fmt.Errorf("failed to create execution %s: %w", exec.ID, err)
	}
	return nil
}

func (r *kpiRepository) UpdateExecution(ctx context.Context, exec *models.KPIExecution) error {
	excluded, joined, result, err := marshalExecutionJSON(exec)
	if err != nil {
		return err
	}
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE engine_kpi_executions SET
			kg_name = $2, select_schema = $3, ruleset_name = $4, db_type = $5,
			limit_records = $6, use_llm = $7, excluded_fields = $8,
			generated_sql = $9, enhanced_sql = $10, number_of_records = $11,
			joined_columns = $12, sql_query_type = $13, operation = $14,
			execution_status = $15, execution_timestamp = $16, execution_time_ms = $17,
			confidence_score = $18, error_message = $19, result_data = $20,
			source_table = $21, target_table = $22
		WHERE id = $1`,
		exec.ID,
		exec.Params.KGName, exec.Params.SelectSchema, exec.Params.RulesetName,
		exec.Params.DBType, exec.Params.LimitRecords, exec.Params.UseLLM, excluded,
		exec.GeneratedSQL, exec.EnhancedSQL, exec.NumberOfRecords, joined,
		exec.SQLQueryType, exec.Operation, exec.ExecutionStatus,
		exec.ExecutionTime, exec.ExecutionTimeMs, exec.ConfidenceScore,
		exec.ErrorMessage, result, exec.SourceTable, exec.TargetTable)
	if err != nil {
		return fmt.Errorf("failed to update execution %s: %w", exec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("execution %s: %w", exec.ID, apperrors.ErrNotFound)
	}
	return nil
}

func (r *kpiRepository) GetExecution(ctx context.Context, id uuid.UUID) (*models.KPIExecution, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM engine_kpi_executions WHERE id = $1`, id)

	exec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("execution %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load execution %s: %w", id, err)
	}
	return exec, nil
}

func (r *kpiRepository) ListExecutions(ctx context.Context, kpiID uuid.UUID, filter ExecutionFilter) ([]models.KPIExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM engine_kpi_executions WHERE kpi_id = $1`
	args := []any{kpiID}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND execution_status = $%d", len(args))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		query += fmt.Sprintf(" AND execution_timestamp >= $%d", len(args))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY execution_timestamp DESC, id DESC LIMIT $%d", len(args))

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var out []models.KPIExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		out = append(out, *exec)
	}
	return out, rows.Err()
}

func (r *kpiRepository) LatestSuccessfulExecution(ctx context.Context, kpiID uuid.UUID) (*models.KPIExecution, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT `+executionColumns+` FROM engine_kpi_executions
		WHERE kpi_id = $1 AND execution_status = $2
		ORDER BY execution_timestamp DESC, id DESC LIMIT 1`,
		kpiID, models.ExecutionSuccess)

	exec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("kpi %s has no successful execution: %w", kpiID, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load latest execution for kpi %s: %w", kpiID, err)
	}
	return exec, nil
}

func (r *kpiRepository) Dashboard(ctx context.Context) ([]models.KPIGroupSummary, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT k.group_name, k.id, k.name,
			COALESCE(e.execution_status, ''), COALESCE(e.number_of_records, 0),
			e.execution_timestamp
		FROM engine_kpis k
		LEFT JOIN LATERAL (
			SELECT execution_status, number_of_records, execution_timestamp
			FROM engine_kpi_executions
			WHERE kpi_id = k.id
			ORDER BY execution_timestamp DESC, id DESC
			LIMIT 1
		) e ON TRUE
		WHERE k.is_active
		ORDER BY k.group_name, k.name`)
	if err != nil {
		return nil, fmt.Errorf("failed to load dashboard: %w", err)
	}
	defer rows.Close()

	var out []models.KPIGroupSummary
	for rows.Next() {
		var groupName string
		var member models.KPIGroupMember
		if err := rows.Scan(&groupName, &member.KPIID, &member.Name,
			&member.LatestStatus, &member.LatestRecords, &member.LatestTimestamp); err != nil {
			return nil, fmt.Errorf("failed to scan dashboard row: %w", err)
		}
		if len(out) == 0 || out[len(out)-1].GroupName != groupName {
			out = append(out, models.KPIGroupSummary{GroupName: groupName})
		}
		group := &out[len(out)-1]
		group.KPIs = append(group.KPIs, member)
		group.KPICount++
	}
	return out, rows.Err()
}

func scanKPI(row pgx.Row) (*models.KPIDefinition, error) {
	var def models.KPIDefinition
	err := row.Scan(
		&def.ID, &def.Name, &def.AliasName, &def.GroupName, &def.Description,
		&def.NLDefinition, &def.CreatedBy, &def.IsActive, &def.IsAccept,
		&def.IsSQLCached, &def.CachedSQL, &def.CreatedAt, &def.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &def, nil
}

func scanExecution(row pgx.Row) (*models.KPIExecution, error) {
	var exec models.KPIExecution
	var excluded, joined, result []byte
	err := row.Scan(
		&exec.ID, &exec.KPIID,
		&exec.Params.KGName, &exec.Params.SelectSchema, &exec.Params.RulesetName,
		&exec.Params.DBType, &exec.Params.LimitRecords, &exec.Params.UseLLM, &excluded,
		&exec.GeneratedSQL, &exec.EnhancedSQL, &exec.NumberOfRecords, &joined,
		&exec.SQLQueryType, &exec.Operation, &exec.ExecutionStatus,
		&exec.ExecutionTime, &exec.ExecutionTimeMs, &exec.ConfidenceScore,
		&exec.ErrorMessage, &result, &exec.SourceTable, &exec.TargetTable)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(excluded, &exec.Params.ExcludedFields); err != nil {
		return nil, fmt.Errorf("corrupt excluded_fields: %w", err)
	}
	if err := json.Unmarshal(joined, &exec.JoinedColumns); err != nil {
		return nil, fmt.Errorf("corrupt joined_columns: %w", err)
	}
	if result != nil {
		if err := json.Unmarshal(result, &exec.ResultData); err != nil {
			return nil, fmt.Errorf("corrupt result_data: %w", err)
		}
	}
	return &exec, nil
}

func marshalExecutionJSON(exec *models.KPIExecution) (excluded, joined, result []byte, err error) {
	if excluded, err = json.Marshal(emptySlice(exec.Params.ExcludedFields)); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal excluded_fields: %w", err)
	}
	if joined, err = json.Marshal(emptySlice(exec.JoinedColumns)); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal joined_columns: %w", err)
	}
	if exec.ResultData != nil {
		if result, err = json.Marshal(exec.ResultData); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal result_data: %w", err)
		}
	}
	return excluded, joined, result, nil
}

// emptySlice keeps JSONB columns as [] instead of null.
func emptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// 23505 is unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
