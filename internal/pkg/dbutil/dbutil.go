package dbutil

import (
	"database/sql"
	"regexp"
	"strings"

	"github.com/didi/gendry/builder"
	"github.com/jmoiron/sqlx"
)

var limitRegex = regexp.MustCompile(`(?i)LIMIT\s+\?\s*,\s*\?`)

// Finalize turns a gendry statement into Postgres form: "LIMIT ?,?" becomes
// "LIMIT ? OFFSET ?" and placeholders are rebound to $N.
func Finalize(query string, args []interface{}) (string, []interface{}) {
	loc := limitRegex.FindStringIndex(query)
	if loc != nil {
		prefix := query[:loc[0]]
		qCount := strings.Count(prefix, "?")
		if qCount+1 < len(args) {
			args[qCount], args[qCount+1] = args[qCount+1], args[qCount]
			query = limitRegex.ReplaceAllString(query, "LIMIT ? OFFSET ?")
		}
	}
	return sqlx.Rebind(sqlx.DOLLAR, query), args
}

func Select(table string, where map[string]interface{}, fields []string) (string, []interface{}, error) {
	sqlStr, args, err := builder.BuildSelect(table, where, fields)
	if err != nil {
		return "", nil, err
	}
	sqlStr, args = Finalize(sqlStr, args)
	return sqlStr, args, nil
}

func Update(table string, where, update map[string]interface{}) (string, []interface{}, error) {
	sqlStr, args, err := builder.BuildUpdate(table, where, update)
	if err != nil {
		return "", nil, err
	}
	sqlStr, args = Finalize(sqlStr, args)
	return sqlStr, args, nil
}

func Delete(table string, where map[string]interface{}) (string, []interface{}, error) {
	sqlStr, args, err := builder.BuildDelete(table, where)
	if err != nil {
		return "", nil, err
	}
	sqlStr, args = Finalize(sqlStr, args)
	return sqlStr, args, nil
}

// NullString maps "" to SQL NULL.
func NullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
