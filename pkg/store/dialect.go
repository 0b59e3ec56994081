package store

import (
	"strconv"
	"strings"
)

// Dialect abstracts driver-specific SQL syntax.
type Dialect interface {
	// Name returns the dialect name
	Name() string
	// QuoteIdent quotes an identifier for safe interpolation
	QuoteIdent(ident string) string
	// Placeholder returns the bind placeholder for the 1-based position n
	Placeholder(n int) string
	// TruncateStmt returns the statement that removes all rows from table
	TruncateStmt(table string) string
}

// dialectFor returns the Dialect for a configured driver id.
func dialectFor(driver string) Dialect {
	switch driver {
	case "postgres":
		return postgresDialect{}
	case "mysql":
		return mysqlDialect{}
	default:
		// sqlite and snowflake share ANSI quoting and ? placeholders
		return ansiDialect{driver: driver}
	}
}

type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }

func (postgresDialect) QuoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (postgresDialect) Placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

func (d postgresDialect) TruncateStmt(table string) string {
	return "TRUNCATE TABLE " + d.QuoteIdent(table)
}

type mysqlDialect struct{}

func (mysqlDialect) Name() string { return "mysql" }

func (mysqlDialect) QuoteIdent(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func (mysqlDialect) Placeholder(n int) string { return "?" }

func (d mysqlDialect) TruncateStmt(table string) string {
	return "TRUNCATE TABLE " + d.QuoteIdent(table)
}

type ansiDialect struct {
	driver string
}

func (d ansiDialect) Name() string { return d.driver }

func (ansiDialect) QuoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (ansiDialect) Placeholder(n int) string { return "?" }

// TruncateStmt falls back to DELETE for sqlite, which has no TRUNCATE.
func (d ansiDialect) TruncateStmt(table string) string {
	if d.driver == "sqlite" {
		return "DELETE FROM " + d.QuoteIdent(table)
	}
	return "TRUNCATE TABLE " + d.QuoteIdent(table)
}
