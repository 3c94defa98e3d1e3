// Package landing manages staging-table lifecycle on the landing database:
// creation with generated names, indexing, TTL cleanup, and the metadata
// registry backing it all.
package landing

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/reconlab/recon-engine/pkg/apperrors"
	"github.com/reconlab/recon-engine/pkg/models"
)

// ColumnKind classifies an incoming column for staging-table DDL.
type ColumnKind string

const (
	KindString   ColumnKind = "string"
	KindInteger  ColumnKind = "integer"
	KindNumeric  ColumnKind = "numeric"
	KindDate     ColumnKind = "date"
	KindDateTime ColumnKind = "datetime"
)

// maxVarcharLength caps sampled string widths.
const maxVarcharLength = 4000

// ColumnSpec describes one staging column. MaxLength is the sampled maximum
// string width; zero means unknown and falls back to the cap.
type ColumnSpec struct {
	Name      string
	Kind      ColumnKind
	MaxLength int
}

// Manager owns staging tables and their metadata on the landing database.
type Manager interface {
	// Bootstrap creates the metadata registry and its indexes if missing.
	Bootstrap(ctx context.Context) error
	// CreateStaging creates a staging table plus its metadata row in one
	// transaction and returns the generated table name.
	CreateStaging(ctx context.Context, executionID, rulesetID, role string, columns []ColumnSpec) (string, error)
	// CreateIndexes creates one single-column index per join column.
	CreateIndexes(ctx context.Context, tableName string, columns []string) error
	// DropStaging drops the table and marks its metadata row deleted.
	DropStaging(ctx context.Context, tableName string) error
	// CleanupExpired drops active tables past their TTL; returns the count.
	CleanupExpired(ctx context.Context) (int, error)
	// RecordRowCount updates the metadata row after a load completes.
	RecordRowCount(ctx context.Context, tableName string, rows int64) error
	// WithTx runs fn inside a single landing-DB transaction.
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	// Pool exposes the shared landing pool for query execution.
	Pool() *pgxpool.Pool
}

type manager struct {
	pool   *pgxpool.Pool
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewManager creates a Manager over an established landing-DB pool.
func NewManager(pool *pgxpool.Pool, ttl time.Duration, logger *zap.Logger) Manager {
	return &manager{
		pool:   pool,
		ttl:    ttl,
		logger: logger.Named("landing"),
		now:    time.Now,
	}
}

var _ Manager = (*manager)(nil)

// validStagingName guards DDL built by string interpolation. Generated names
// always satisfy it; anything else is rejected before reaching SQL.
var validStagingName = regexp.MustCompile(`^recon_stage_[A-Za-z0-9_]+_(source|target)_\d{8}_\d{6}$`)

// IsStagingName reports whether name matches the generated staging pattern.
// Callers interpolating a table name into SQL must check it first.
func IsStagingName(name string) bool {
	return validStagingName.MatchString(name)
}

// StagingTableName builds the canonical staging table name.
func StagingTableName(executionID, role string, at time.Time) string {
	return fmt.Sprintf("recon_stage_%s_%s_%s", sanitizeID(executionID), role, at.Format("20060102_150405"))
}

// sanitizeID strips characters that cannot appear in a table name.
func sanitizeID(id string) string {
	var sb strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			sb.WriteRune(r)
		case r == '-':
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

func (m *manager) Pool() *pgxpool.Pool {
	return m.pool
}

func (m *manager) Bootstrap(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS recon_staging_metadata (
			table_name VARCHAR(255) PRIMARY KEY,
			execution_id VARCHAR(255) NOT NULL,
			ruleset_id VARCHAR(255) NOT NULL,
			source_or_target VARCHAR(10) NOT NULL,
			row_count BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expires_at TIMESTAMPTZ NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'active'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_staging_metadata_expiry
			ON recon_staging_metadata (status, expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_staging_metadata_execution
			ON recon_staging_metadata (execution_id)`,
	}

	for _, stmt := range statements {
		if _, err := m.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to bootstrap landing metadata: %w", err)
		}
	}
	m.logger.Info("Landing metadata bootstrapped")
	return nil
}

func (m *manager) CreateStaging(ctx context.Context, executionID, rulesetID, role string, columns []ColumnSpec) (string, error) {
	if role != models.StagingRoleSource && role != models.StagingRoleTarget {
		return "", fmt.Errorf("staging role must be source or target, got %q: %w", role, apperrors.ErrInputInvalid)
	}
	if len(columns) == 0 {
		return "", fmt.Errorf("staging table needs at least one column: %w", apperrors.ErrInputInvalid)
	}

	now := m.now()
	tableName := StagingTableName(executionID, role, now)
	if !validStagingName.MatchString(tableName) {
		return "", fmt.Errorf("generated staging name %q is invalid: %w", tableName, apperrors.ErrInputInvalid)
	}

	colDefs := make([]string, 0, len(columns))
	for _, col := range columns {
		colDefs = append(colDefs, fmt.Sprintf("%s %s", quoteIdent(col.Name), columnDDL(col)))
	}
	createSQL := fmt.Sprintf("CREATE TABLE %s (%s)", tableName, strings.Join(colDefs, ", "))

	err := m.WithTx(ctx, func(tx pgx.Tx) error {
		// Name collision means two executions generated the same id and
		// second; the metadata PK turns that into an error instead of
		// silent reuse.
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM recon_staging_metadata WHERE table_name = $1)`, tableName).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check staging name: %w", err)
		}
		if exists {
			return fmt.Errorf("staging table name collision on %q: %w", tableName, apperrors.ErrConflict)
		}

		if _, err := tx.Exec(ctx, createSQL); err != nil {
			return fmt.Errorf("failed to create staging table %q: %w", tableName, err)
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO recon_staging_metadata (table_name, execution_id, ruleset_id, source_or_target, created_at, expires_at, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			tableName, executionID, rulesetID, role, now, now.Add(m.ttl), models.StagingActive)
		if err != nil {
			return fmt.Errorf("failed to record staging metadata for %q: %w", tableName, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	m.logger.Info("Created staging table",
		zap.String("table", tableName),
		zap.String("execution", executionID),
		zap.String("role", role),
		zap.Int("columns", len(columns)))
	return tableName, nil
}

// columnDDL maps a column spec to landing-DB DDL.
func columnDDL(col ColumnSpec) string {
	switch col.Kind {
	case KindInteger:
		return "BIGINT"
	case KindNumeric:
		return "DECIMAL(38,10)"
	case KindDate:
		return "DATE"
	case KindDateTime:
		return "TIMESTAMPTZ"
	default:
		n := col.MaxLength
		if n <= 0 || n > maxVarcharLength {
			n = maxVarcharLength
		}
		return fmt.Sprintf("VARCHAR(%d)", n)
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (m *manager) CreateIndexes(ctx context.Context, tableName string, columns []string) error {
	if !validStagingName.MatchString(tableName) {
		return fmt.Errorf("invalid staging table name %q: %w", tableName, apperrors.ErrInputInvalid)
	}
	for i, col := range columns {
		stmt := fmt.Sprintf("CREATE INDEX idx_%s_%d ON %s (%s)", tableName, i, tableName, quoteIdent(col))
		if _, err := m.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to index %s.%s: %w", tableName, col, err)
		}
	}
	return nil
}

func (m *manager) DropStaging(ctx context.Context, tableName string) error {
	if !validStagingName.MatchString(tableName) {
		return fmt.Errorf("invalid staging table name %q: %w", tableName, apperrors.ErrInputInvalid)
	}
	return m.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", tableName)); err != nil {
			return fmt.Errorf("failed to drop staging table %q: %w", tableName, err)
		}
		_, err := tx.Exec(ctx,
			`UPDATE recon_staging_metadata SET status = $2 WHERE table_name = $1`,
			tableName, models.StagingDeleted)
		if err != nil {
			return fmt.Errorf("failed to mark staging table %q deleted: %w", tableName, err)
		}
		return nil
	})
}

func (m *manager) CleanupExpired(ctx context.Context) (int, error) {
	rows, err := m.pool.Query(ctx,
		`SELECT table_name FROM recon_staging_metadata WHERE status = $1 AND expires_at < $2`,
		models.StagingActive, m.now())
	if err != nil {
		return 0, fmt.Errorf("failed to list expired staging tables: %w", err)
	}
	var expired []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan staging name: %w", err)
		}
		expired = append(expired, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	dropped := 0
	for _, name := range expired {
		if err := m.DropStaging(ctx, name); err != nil {
			m.logger.Warn("Failed to drop expired staging table",
				zap.String("table", name), zap.Error(err))
			continue
		}
		dropped++
	}
	if dropped > 0 {
		m.logger.Info("Cleaned up expired staging tables", zap.Int("dropped", dropped))
	}
	return dropped, nil
}

func (m *manager) RecordRowCount(ctx context.Context, tableName string, rowCount int64) error {
	tag, err := m.pool.Exec(ctx,
		`UPDATE recon_staging_metadata SET row_count = $2 WHERE table_name = $1`,
		tableName, rowCount)
	if err != nil {
		return fmt.Errorf("failed to record row count for %q: %w", tableName, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("staging table %q: %w", tableName, apperrors.ErrNotFound)
	}
	return nil
}

func (m *manager) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin landing transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit landing transaction: %w", err)
	}
	return nil
}
