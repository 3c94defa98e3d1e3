package nlquery

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/corazawaf/libinjection-go"
	"go.uber.org/zap"

	"github.com/reconlab/recon-engine/pkg/apperrors"
	"github.com/reconlab/recon-engine/pkg/config"
	"github.com/reconlab/recon-engine/pkg/extract"
	"github.com/reconlab/recon-engine/pkg/logging"
	"github.com/reconlab/recon-engine/pkg/models"
)

// sampleRowLimit bounds the rows materialized into a QueryResult.
const sampleRowLimit = 100

// ScreenFilters rejects filter values carrying SQL injection payloads.
// Values are interpolated as literals into generated SQL, so they are
// screened before generation.
func ScreenFilters(filters []models.Filter) error {
	for _, f := range filters {
		if injected, fingerprint := libinjection.IsSQLi(f.Value); injected {
			return fmt.Errorf("filter value on column %s rejected (fingerprint %s): %w",
				f.Column, fingerprint, apperrors.ErrInputInvalid)
		}
	}
	return nil
}

// Executor runs generated SQL against a live source database.
type Executor struct {
	connectTimeout time.Duration
	queryTimeout   time.Duration
	logger         *zap.Logger

	openDB func(driver, dsn string) (*sql.DB, error)
}

// NewExecutor creates an NL query Executor with the extract-layer timeouts.
func NewExecutor(cfg config.ExtractConfig, logger *zap.Logger) *Executor {
	return &Executor{
		connectTimeout: cfg.ConnectTimeout(),
		queryTimeout:   cfg.QueryTimeout(),
		logger:         logger.Named("nl-executor"),
		openDB:         sql.Open,
	}
}

// Run executes sqlText and returns the record count, a bounded row sample,
// and elapsed milliseconds. The limit is already baked into the SQL; Run
// additionally stops reading past it.
func (e *Executor) Run(ctx context.Context, dbCfg models.DBConfig, sqlText string, limit int) (int64, []map[string]any, int64, error) {
	driver, dsn, err := extract.DriverAndDSN(dbCfg, e.connectTimeout, e.queryTimeout)
	if err != nil {
		return 0, nil, 0, err
	}

	db, err := e.openDB(driver, dsn)
	if err != nil {
		return 0, nil, 0, fmt.Errorf("failed to open %s connection: %w", dbCfg.DBType, err)
	}
	defer db.Close() //nolint:errcheck

	pingCtx, cancel := context.WithTimeout(ctx, e.connectTimeout)
	err = db.PingContext(pingCtx)
	cancel()
	if err != nil {
		return 0, nil, 0, fmt.Errorf("failed to connect to %s at %s:%d: %w", dbCfg.DBType, dbCfg.Host, dbCfg.Port, err)
	}

	e.logger.Debug("Executing generated SQL",
		zap.String("db_type", dbCfg.DBType),
		zap.String("sql", logging.SanitizeSQL(sqlText)))

	started := time.Now()
	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return 0, nil, 0, fmt.Errorf("query execution failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return 0, nil, 0, fmt.Errorf("failed to read result columns: %w", err)
	}

	var count int64
	var sample []map[string]any
	scan := make([]any, len(columns))
	for rows.Next() {
		count++
		if limit > 0 && count > int64(limit) {
			count = int64(limit)
			break
		}
		if len(sample) >= sampleRowLimit {
			continue
		}
		values := make([]any, len(columns))
		for i := range values {
			scan[i] = &values[i]
		}
		if err := rows.Scan(scan...); err != nil {
			return count, sample, time.Since(started).Milliseconds(), fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				values[i] = string(b)
			}
			row[col] = values[i]
		}
		sample = append(sample, row)
	}
	if err := rows.Err(); err != nil {
		return count, sample, time.Since(started).Milliseconds(), fmt.Errorf("result stream failed: %w", err)
	}
	return count, sample, time.Since(started).Milliseconds(), nil
}
