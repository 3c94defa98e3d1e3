// Package extract pulls rows from arbitrary source and target databases and
// bulk-loads them into landing-DB staging tables.
package extract

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/microsoft/go-mssqldb"

	"github.com/reconlab/recon-engine/pkg/apperrors"
	"github.com/reconlab/recon-engine/pkg/config"
	"github.com/reconlab/recon-engine/pkg/landing"
	"github.com/reconlab/recon-engine/pkg/logging"
	"github.com/reconlab/recon-engine/pkg/models"
	"github.com/reconlab/recon-engine/pkg/retry"
)

// Extractor streams rows from a live database into a staging table.
type Extractor interface {
	// ExtractToLanding runs selectStatement against the database described
	// by dbCfg and loads every row into landingTable. On partial failure
	// the staging table is dropped and the error surfaced.
	ExtractToLanding(ctx context.Context, dbCfg models.DBConfig, selectStatement, landingTable string) (models.ExtractStats, error)
}

type extractor struct {
	landing        landing.Manager
	batchSize      int
	connectTimeout time.Duration
	queryTimeout   time.Duration
	bulkLoad       bool
	logger         *zap.Logger

	// openDB is swappable for tests.
	openDB func(driver, dsn string) (*sql.DB, error)
}

// NewExtractor creates an Extractor writing through the given landing manager.
func NewExtractor(mgr landing.Manager, cfg config.ExtractConfig, bulkLoad bool, logger *zap.Logger) Extractor {
	return &extractor{
		landing:        mgr,
		batchSize:      cfg.BatchSize,
		connectTimeout: cfg.ConnectTimeout(),
		queryTimeout:   cfg.QueryTimeout(),
		bulkLoad:       bulkLoad,
		logger:         logger.Named("extract"),
		openDB:         sql.Open,
	}
}

var _ Extractor = (*extractor)(nil)

func (e *extractor) ExtractToLanding(ctx context.Context, dbCfg models.DBConfig, selectStatement, landingTable string) (models.ExtractStats, error) {
	var stats models.ExtractStats
	if !landing.IsStagingName(landingTable) {
		return stats, fmt.Errorf("invalid landing table name %q: %w", landingTable, apperrors.ErrInputInvalid)
	}

	started := time.Now()

	db, err := e.connect(ctx, dbCfg)
	if err != nil {
		return stats, err
	}
	defer db.Close() //nolint:errcheck

	rows, err := db.QueryContext(ctx, selectStatement)
	if err != nil {
		return stats, fmt.Errorf("failed to run extract query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return stats, fmt.Errorf("failed to read result columns: %w", err)
	}

	ld := newLoader(e.landing, landingTable, columns, e.bulkLoad, e.logger)

	page := make([][]any, 0, e.batchSize)
	scan := make([]any, len(columns))
	for rows.Next() {
		values := make([]any, len(columns))
		for i := range values {
			scan[i] = &values[i]
		}
		if err := rows.Scan(scan...); err != nil {
			return stats, e.abort(ctx, landingTable, fmt.Errorf("failed to scan source row: %w", err))
		}
		for i, v := range values {
			values[i] = normalizeValue(v)
			stats.SizeBytes += valueSize(values[i])
		}
		page = append(page, values)
		stats.RowCount++

		if len(page) >= e.batchSize {
			if err := ld.flush(ctx, page); err != nil {
				return stats, e.abort(ctx, landingTable, err)
			}
			page = page[:0]
		}
	}
	if err := rows.Err(); err != nil {
		return stats, e.abort(ctx, landingTable, fmt.Errorf("extract query stream failed: %w", err))
	}
	if len(page) > 0 {
		if err := ld.flush(ctx, page); err != nil {
			return stats, e.abort(ctx, landingTable, err)
		}
	}

	if err := e.landing.RecordRowCount(ctx, landingTable, stats.RowCount); err != nil {
		return stats, e.abort(ctx, landingTable, err)
	}

	stats.ElapsedMs = time.Since(started).Milliseconds()
	e.logger.Info("Extract completed",
		zap.String("table", landingTable),
		zap.Int64("rows", stats.RowCount),
		zap.Int64("bytes", stats.SizeBytes),
		zap.Int64("elapsed_ms", stats.ElapsedMs))
	return stats, nil
}

// connect opens and pings the source. A transient connect failure is retried
// exactly once; anything else fails immediately.
func (e *extractor) connect(ctx context.Context, dbCfg models.DBConfig) (*sql.DB, error) {
	driver, dsn, err := DriverAndDSN(dbCfg, e.connectTimeout, e.queryTimeout)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("Connecting to source",
		zap.String("db_type", dbCfg.DBType),
		zap.String("dsn", logging.SanitizeDSN(dsn)))

	open := func() (*sql.DB, error) {
		db, err := e.openDB(driver, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s connection: %w", dbCfg.DBType, err)
		}
		db.SetConnMaxIdleTime(0)
		pingCtx, cancel := context.WithTimeout(ctx, e.connectTimeout)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			db.Close() //nolint:errcheck
			return nil, fmt.Errorf("failed to connect to %s at %s:%d: %w", dbCfg.DBType, dbCfg.Host, dbCfg.Port, err)
		}
		return db, nil
	}

	db, err := open()
	if err != nil && retry.IsRetryable(err) {
		e.logger.Warn("Transient connect failure, retrying once",
			zap.String("db_type", dbCfg.DBType),
			zap.String("error", logging.SanitizeError(err)))
		db, err = open()
	}
	return db, err
}

// abort drops the partially loaded staging table and surfaces the original
// extraction error.
func (e *extractor) abort(ctx context.Context, landingTable string, cause error) error {
	if err := e.landing.DropStaging(ctx, landingTable); err != nil {
		e.logger.Warn("Failed to drop staging table after extract failure",
			zap.String("table", landingTable), zap.Error(err))
	}
	return cause
}

// Load modes in preference order.
const (
	modeCopy = iota
	modeBatch
	modeRow
)

// loader writes pages into the staging table, degrading from bulk copy to
// batched INSERT to per-row INSERT as failures occur.
type loader struct {
	landing landing.Manager
	table   string
	columns []string
	mode    int
	logger  *zap.Logger
}

func newLoader(mgr landing.Manager, table string, columns []string, bulkLoad bool, logger *zap.Logger) *loader {
	mode := modeCopy
	if !bulkLoad {
		mode = modeBatch
	}
	return &loader{landing: mgr, table: table, columns: columns, mode: mode, logger: logger}
}

func (l *loader) flush(ctx context.Context, page [][]any) error {
	if l.mode == modeCopy {
		_, err := l.landing.Pool().CopyFrom(ctx, pgx.Identifier{l.table}, l.columns, pgx.CopyFromRows(page))
		if err == nil {
			return nil
		}
		l.logger.Warn("Bulk copy failed, falling back to batched INSERT",
			zap.String("table", l.table), zap.Error(err))
		l.mode = modeBatch
	}

	if l.mode == modeBatch {
		sqlText, args := batchInsert(l.table, l.columns, page)
		_, err := l.landing.Pool().Exec(ctx, sqlText, args...)
		if err == nil {
			return nil
		}
		l.logger.Warn("Batched INSERT failed, falling back to per-row INSERT",
			zap.String("table", l.table), zap.Error(err))
		l.mode = modeRow
	}

	single, _ := batchInsert(l.table, l.columns, nil)
	for _, row := range page {
		if _, err := l.landing.Pool().Exec(ctx, single, row...); err != nil {
			return fmt.Errorf("failed to load row into %s: %w", l.table, err)
		}
	}
	return nil
}

// batchInsert builds a multi-row INSERT with numbered placeholders. A nil
// page yields the single-row form.
func batchInsert(table string, columns []string, page [][]any) (string, []any) {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = `"` + strings.ReplaceAll(c, `"`, `""`) + `"`
	}

	rowCount := len(page)
	if rowCount == 0 {
		rowCount = 1
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", table, strings.Join(quoted, ", "))
	var args []any
	n := 1
	for r := 0; r < rowCount; r++ {
		if r > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for c := range columns {
			if c > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", n)
			n++
		}
		sb.WriteByte(')')
		if page != nil {
			args = append(args, page[r]...)
		}
	}
	return sb.String(), args
}

// normalizeValue converts driver-specific scan results into types the
// landing DB accepts. Byte slices become strings so VARCHAR columns load
// cleanly across drivers.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	default:
		return v
	}
}

// valueSize approximates the wire size of one value for extract stats.
func valueSize(v any) int64 {
	switch t := v.(type) {
	case nil:
		return 0
	case string:
		return int64(len(t))
	case bool:
		return 1
	case time.Time:
		return 8
	default:
		return 8
	}
}
