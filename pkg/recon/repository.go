package recon

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/reconlab/recon-engine/pkg/apperrors"
	"github.com/reconlab/recon-engine/pkg/database"
	"github.com/reconlab/recon-engine/pkg/models"
)

// Repository persists reconciliation execution results in the engine store.
type Repository interface {
	Save(ctx context.Context, exec *models.ReconExecution) error
	Get(ctx context.Context, executionID uuid.UUID) (*models.ReconExecution, error)
	ListByRuleset(ctx context.Context, rulesetID uuid.UUID, limit int) ([]models.ReconExecution, error)
}

type resultRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewRepository creates a result Repository on the engine database.
func NewRepository(db *database.DB, logger *zap.Logger) Repository {
	return &resultRepository{db: db, logger: logger.Named("recon-repo")}
}

var _ Repository = (*resultRepository)(nil)

const resultColumns = `execution_id, ruleset_id, execution_status,
	source_staging_table, target_staging_table,
	matched_count, high_confidence_count, unmatched_source_count, unmatched_target_count,
	total_source_count, total_target_count, avg_confidence,
	rcr, rcr_status, dqcs, dqcs_status, rei, rei_status, irr, irr_status,
	extract_ms, reconcile_ms, error_message, created_at`

func (r *resultRepository) Save(ctx context.Context, exec *models.ReconExecution) error {
	query := `
		INSERT INTO engine_recon_results (` + resultColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
		ON CONFLICT (execution_id) DO UPDATE SET
			execution_status = EXCLUDED.execution_status,
			source_staging_table = EXCLUDED.source_staging_table,
			target_staging_table = EXCLUDED.target_staging_table,
			matched_count = EXCLUDED.matched_count,
			high_confidence_count = EXCLUDED.high_confidence_count,
			unmatched_source_count = EXCLUDED.unmatched_source_count,
			unmatched_target_count = EXCLUDED.unmatched_target_count,
			total_source_count = EXCLUDED.total_source_count,
			total_target_count = EXCLUDED.total_target_count,
			avg_confidence = EXCLUDED.avg_confidence,
			rcr = EXCLUDED.rcr, rcr_status = EXCLUDED.rcr_status,
			dqcs = EXCLUDED.dqcs, dqcs_status = EXCLUDED.dqcs_status,
			rei = EXCLUDED.rei, rei_status = EXCLUDED.rei_status,
			irr = EXCLUDED.irr, irr_status = EXCLUDED.irr_status,
			extract_ms = EXCLUDED.extract_ms,
			reconcile_ms = EXCLUDED.reconcile_ms,
			error_message = EXCLUDED.error_message`

	_, err := r.db.Pool.Exec(ctx, query,
		exec.ExecutionID, exec.RulesetID, exec.Status,
		exec.SourceStagingTable, exec.TargetStagingTable,
		exec.MatchedCount, exec.HighConfidenceCount, exec.UnmatchedSourceCount, exec.UnmatchedTargetCount,
		exec.TotalSourceCount, exec.TotalTargetCount, exec.AvgConfidence,
		exec.RCR.Value, exec.RCR.Status, exec.DQCS.Value, exec.DQCS.Status,
		exec.REI.Value, exec.REI.Status, exec.IRR.Value, exec.IRR.Status,
		exec.ExtractMs, exec.ReconcileMs, exec.ErrorMessage, exec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save execution %s: %w", exec.ExecutionID, err)
	}
	return nil
}

func (r *resultRepository) Get(ctx context.Context, executionID uuid.UUID) (*models.ReconExecution, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+resultColumns+` FROM engine_recon_results WHERE execution_id = $1`, executionID)

	exec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("execution %s: %w", executionID, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load execution %s: %w", executionID, err)
	}
	return exec, nil
}

func (r *resultRepository) ListByRuleset(ctx context.Context, rulesetID uuid.UUID, limit int) ([]models.ReconExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+resultColumns+` FROM engine_recon_results
		WHERE ruleset_id = $1 ORDER BY created_at DESC LIMIT $2`, rulesetID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var out []models.ReconExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		out = append(out, *exec)
	}
	return out, rows.Err()
}

func scanExecution(row pgx.Row) (*models.ReconExecution, error) {
	var exec models.ReconExecution
	err := row.Scan(
		&exec.ExecutionID, &exec.RulesetID, &exec.Status,
		&exec.SourceStagingTable, &exec.TargetStagingTable,
		&exec.MatchedCount, &exec.HighConfidenceCount, &exec.UnmatchedSourceCount, &exec.UnmatchedTargetCount,
		&exec.TotalSourceCount, &exec.TotalTargetCount, &exec.AvgConfidence,
		&exec.RCR.Value, &exec.RCR.Status, &exec.DQCS.Value, &exec.DQCS.Status,
		&exec.REI.Value, &exec.REI.Status, &exec.IRR.Value, &exec.IRR.Status,
		&exec.ExtractMs, &exec.ReconcileMs, &exec.ErrorMessage, &exec.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &exec, nil
}
