package landing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStagingTableName_Pattern(t *testing.T) {
	at := time.Date(2026, 8, 24, 13, 45, 7, 0, time.UTC)

	name := StagingTableName("exec-42", "source", at)
	assert.Equal(t, "recon_stage_exec_42_source_20260824_134507", name)
	assert.True(t, validStagingName.MatchString(name))

	name = StagingTableName("a1b2c3", "target", at)
	assert.Equal(t, "recon_stage_a1b2c3_target_20260824_134507", name)
	assert.True(t, validStagingName.MatchString(name))
}

func TestStagingTableName_SanitizesExecutionID(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	name := StagingTableName("ex;DROP TABLE--", "source", at)
	assert.Equal(t, "recon_stage_exDROPTABLE_source_20260102_030405", name)
	assert.True(t, validStagingName.MatchString(name))
}

func TestValidStagingName_RejectsArbitraryTables(t *testing.T) {
	for _, bad := range []string{
		"users",
		"recon_stage_x_source_2026",
		"recon_stage_x_middle_20260101_000000",
		`recon_stage_x_source_20260101_000000; DROP TABLE users`,
	} {
		assert.False(t, validStagingName.MatchString(bad), bad)
	}
}

func TestColumnDDL_TypeMapping(t *testing.T) {
	tests := []struct {
		spec ColumnSpec
		want string
	}{
		{ColumnSpec{Name: "material", Kind: KindString, MaxLength: 64}, "VARCHAR(64)"},
		{ColumnSpec{Name: "notes", Kind: KindString, MaxLength: 9000}, "VARCHAR(4000)"},
		{ColumnSpec{Name: "notes", Kind: KindString}, "VARCHAR(4000)"},
		{ColumnSpec{Name: "qty", Kind: KindInteger}, "BIGINT"},
		{ColumnSpec{Name: "amount", Kind: KindNumeric}, "DECIMAL(38,10)"},
		{ColumnSpec{Name: "posted", Kind: KindDate}, "DATE"},
		{ColumnSpec{Name: "updated", Kind: KindDateTime}, "TIMESTAMPTZ"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, columnDDL(tt.spec))
	}
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"Material"`, quoteIdent("Material"))
	assert.Equal(t, `"odd""name"`, quoteIdent(`odd"name`))
}
