package printer

import (
	"regexp"
	"strings"

	"github.com/sqldef/schemadiff/schema"
)

var plainIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

// reservedWords must be quoted as identifiers in every supported dialect.
var reservedWords = map[string]bool{
	"all": true, "and": true, "as": true, "by": true, "check": true, "column": true,
	"constraint": true, "create": true, "default": true, "desc": true, "distinct": true,
	"drop": true, "from": true, "grant": true, "group": true, "index": true, "key": true,
	"not": true, "null": true, "on": true, "or": true, "order": true, "primary": true,
	"references": true, "select": true, "table": true, "to": true, "union": true,
	"unique": true, "user": true, "where": true, "with": true,
}

// QuoteIdentifier quotes name when the dialect would not read it back unchanged.
func QuoteIdentifier(dialect schema.Dialect, name string) string {
	needsQuote := !plainIdentifier.MatchString(name) || reservedWords[strings.ToLower(name)]
	if dialect == schema.DialectPostgres && strings.ToLower(name) != name {
		needsQuote = true
	}
	if !needsQuote {
		return name
	}

	switch dialect {
	case schema.DialectMysql:
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	case schema.DialectMssql:
		return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
	default:
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	}
}

// StringConstant renders s as a single-quoted SQL literal.
func StringConstant(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
