package sqldialect

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reconlab/recon-engine/pkg/models"
)

func TestQuote(t *testing.T) {
	assert.Equal(t, "`Material`", Quote(models.DBTypeMySQL, "Material"))
	assert.Equal(t, "[Material]", Quote(models.DBTypeSQLServer, "Material"))
	assert.Equal(t, `"Material"`, Quote(models.DBTypePostgreSQL, "Material"))
	assert.Equal(t, `"Material"`, Quote(models.DBTypeOracle, "Material"))
}

func TestQuoteQualified(t *testing.T) {
	assert.Equal(t, "s.[Material]", QuoteQualified(models.DBTypeSQLServer, "s", "Material"))
	assert.Equal(t, "s.*", QuoteQualified(models.DBTypeSQLServer, "s", "*"))
}

func TestApplyLimit(t *testing.T) {
	base := `SELECT "a" FROM "t"`
	assert.Equal(t, base+" LIMIT 10", ApplyLimit(models.DBTypeMySQL, base, 10))
	assert.Equal(t, base+" LIMIT 10", ApplyLimit(models.DBTypePostgreSQL, base, 10))
	assert.Equal(t, base, ApplyLimit(models.DBTypePostgreSQL, base, 0))

	assert.Equal(t,
		"SELECT TOP 10 [a] FROM [t]",
		ApplyLimit(models.DBTypeSQLServer, "SELECT [a] FROM [t]", 10))
	assert.Equal(t,
		"SELECT DISTINCT TOP 10 [a] FROM [t]",
		ApplyLimit(models.DBTypeSQLServer, "SELECT DISTINCT [a] FROM [t]", 10))

	assert.Equal(t,
		`SELECT "a" FROM "t" WHERE ROWNUM <= 10`,
		ApplyLimit(models.DBTypeOracle, `SELECT "a" FROM "t"`, 10))
	assert.Equal(t,
		`SELECT "a" FROM "t" WHERE "x" = 1 AND ROWNUM <= 10`,
		ApplyLimit(models.DBTypeOracle, `SELECT "a" FROM "t" WHERE "x" = 1`, 10))
}

func TestApplyLimit_OracleGroupBy(t *testing.T) {
	assert.Equal(t,
		`SELECT s."r", COUNT(*) AS record_count FROM "t" s WHERE ROWNUM <= 10 GROUP BY s."r"`,
		ApplyLimit(models.DBTypeOracle,
			`SELECT s."r", COUNT(*) AS record_count FROM "t" s GROUP BY s."r"`, 10))
	assert.Equal(t,
		`SELECT s."r", COUNT(*) AS record_count FROM "t" s WHERE s."x" = 1 AND ROWNUM <= 10 GROUP BY s."r"`,
		ApplyLimit(models.DBTypeOracle,
			`SELECT s."r", COUNT(*) AS record_count FROM "t" s WHERE s."x" = 1 GROUP BY s."r"`, 10))
}
