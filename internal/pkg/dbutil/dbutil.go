package dbutil

import (
	"errors"
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var limitRegex = regexp.MustCompile(`(?i)LIMIT\s+\?\s*,\s*\?`)

// Finalize rewrites a gendry-built query for the target driver: MySQL style
// "LIMIT ?,?" becomes "LIMIT ? OFFSET ?", backtick-quoted identifiers become
// ANSI double quotes and placeholders are rebound.
func Finalize(driver string, query string, args []interface{}) (string, []interface{}) {
	query = strings.ReplaceAll(query, "`", `"`)
	loc := limitRegex.FindStringIndex(query)
	if loc != nil {
		prefix := query[:loc[0]]
		qCount := strings.Count(prefix, "?")
		if qCount+1 < len(args) {
			args[qCount], args[qCount+1] = args[qCount+1], args[qCount]
			query = limitRegex.ReplaceAllString(query, "LIMIT ? OFFSET ?")
		}
	}
	return sqlx.Rebind(sqlx.BindType(driverName(driver)), query), args
}

func driverName(driver string) string {
	if driver == DriverSQLite {
		return "sqlite3"
	}
	return driver
}

func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pq.Error
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
