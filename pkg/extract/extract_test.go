package extract

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reconlab/recon-engine/pkg/models"
)

func TestDriverAndDSN_MySQL(t *testing.T) {
	driver, dsn, err := DriverAndDSN(models.DBConfig{
		DBType: models.DBTypeMySQL, Host: "db1", Port: 3306,
		User: "u", Password: "p", Database: "crm",
	}, 60*time.Second, 120*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "mysql", driver)
	assert.Contains(t, dsn, "tcp(db1:3306)")
	assert.Contains(t, dsn, "/crm")
	assert.Contains(t, dsn, "timeout=1m0s")
	assert.Contains(t, dsn, "readTimeout=2m0s")
}

func TestDriverAndDSN_PostgreSQL(t *testing.T) {
	driver, dsn, err := DriverAndDSN(models.DBConfig{
		DBType: models.DBTypePostgreSQL, Host: "pg", Port: 5432,
		User: "u", Password: "p", Database: "erp",
	}, 60*time.Second, 120*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "pgx", driver)
	assert.Contains(t, dsn, "host=pg port=5432")
	assert.Contains(t, dsn, "dbname=erp")
	assert.Contains(t, dsn, "connect_timeout=60")
}

func TestDriverAndDSN_SQLServer(t *testing.T) {
	driver, dsn, err := DriverAndDSN(models.DBConfig{
		DBType: models.DBTypeSQLServer, Host: "mssql", Port: 1433,
		User: "sa", Password: "p", Database: "ops",
	}, 60*time.Second, 120*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "sqlserver", driver)
	assert.True(t, strings.HasPrefix(dsn, "sqlserver://sa:p@mssql:1433"))
	assert.Contains(t, dsn, "database=ops")
	assert.Contains(t, dsn, "dial+timeout=60")
}

func TestDriverAndDSN_OracleUsesServiceFallback(t *testing.T) {
	driver, dsn, err := DriverAndDSN(models.DBConfig{
		DBType: models.DBTypeOracle, Host: "ora", Port: 1521,
		User: "u", Password: "p", Database: "XEPDB1",
	}, 60*time.Second, 120*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "oracle", driver)
	assert.Contains(t, dsn, "ora:1521")
	assert.Contains(t, dsn, "XEPDB1")
}

func TestDriverAndDSN_UnknownType(t *testing.T) {
	_, _, err := DriverAndDSN(models.DBConfig{DBType: "mongodb"}, time.Minute, 2*time.Minute)
	require.Error(t, err)
}

func TestBatchInsert_MultiRow(t *testing.T) {
	page := [][]any{
		{"a", int64(1)},
		{"b", int64(2)},
	}
	sqlText, args := batchInsert("recon_stage_x_source_20260101_000000", []string{"material", "qty"}, page)

	assert.Equal(t,
		`INSERT INTO recon_stage_x_source_20260101_000000 ("material", "qty") VALUES ($1, $2), ($3, $4)`,
		sqlText)
	assert.Equal(t, []any{"a", int64(1), "b", int64(2)}, args)
}

func TestBatchInsert_SingleRowForm(t *testing.T) {
	sqlText, args := batchInsert("t", []string{"a"}, nil)
	assert.Equal(t, `INSERT INTO t ("a") VALUES ($1)`, sqlText)
	assert.Empty(t, args)
}

func TestNormalizeValue(t *testing.T) {
	assert.Equal(t, "abc", normalizeValue([]byte("abc")))
	assert.Equal(t, int64(7), normalizeValue(int64(7)))
	assert.Nil(t, normalizeValue(nil))
}

func TestValueSize(t *testing.T) {
	assert.Equal(t, int64(0), valueSize(nil))
	assert.Equal(t, int64(5), valueSize("hello"))
	assert.Equal(t, int64(1), valueSize(true))
	assert.Equal(t, int64(8), valueSize(int64(42)))
	assert.Equal(t, int64(8), valueSize(time.Now()))
}
