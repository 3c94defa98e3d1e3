// Package sqldialect renders identifiers and limit clauses for the supported
// source dialects: MySQL, PostgreSQL, SQL Server, and Oracle.
package sqldialect

import (
	"fmt"
	"strings"

	"github.com/reconlab/recon-engine/pkg/models"
)

// Quote wraps an identifier in the dialect's quoting characters.
// MySQL uses backticks, SQL Server brackets, PostgreSQL and Oracle
// double quotes.
func Quote(dbType, ident string) string {
	switch dbType {
	case models.DBTypeMySQL:
		return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
	case models.DBTypeSQLServer:
		return "[" + strings.ReplaceAll(ident, "]", "]]") + "]"
	default:
		return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
	}
}

// QuoteQualified quotes an alias.column reference, leaving the alias bare.
func QuoteQualified(dbType, alias, column string) string {
	if column == "*" {
		return alias + ".*"
	}
	return alias + "." + Quote(dbType, column)
}

// ApplyLimit attaches a row limit to a complete SELECT statement using the
// dialect's mechanism: LIMIT for MySQL/PostgreSQL, TOP for SQL Server,
// ROWNUM for Oracle. The ROWNUM predicate belongs to the WHERE clause, so
// it is spliced in ahead of any GROUP BY. A non-positive limit returns the
// statement unchanged.
func ApplyLimit(dbType, query string, limit int) string {
	if limit <= 0 {
		return query
	}
	switch dbType {
	case models.DBTypeSQLServer:
		for _, prefix := range []string{"SELECT DISTINCT ", "SELECT "} {
			if strings.HasPrefix(query, prefix) {
				return fmt.Sprintf("%sTOP %d %s", prefix, limit, query[len(prefix):])
			}
		}
		return query
	case models.DBTypeOracle:
		head, tail := query, ""
		if idx := strings.Index(query, " GROUP BY "); idx >= 0 {
			head, tail = query[:idx], query[idx:]
		}
		if strings.Contains(head, " WHERE ") {
			return fmt.Sprintf("%s AND ROWNUM <= %d%s", head, limit, tail)
		}
		return fmt.Sprintf("%s WHERE ROWNUM <= %d%s", head, limit, tail)
	default:
		return fmt.Sprintf("%s LIMIT %d", query, limit)
	}
}
