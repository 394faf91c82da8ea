package query

import (
	"fmt"
	"regexp"
	"strings"
)

// adminPattern matches statements that bypass introspection: procedure
// calls and extension management.
var adminPattern = regexp.MustCompile(`(?i)^(call|install|load)\b`)

// IsAdminStatement reports whether sql starts with an administrative verb.
func IsAdminStatement(sql string) bool {
	return adminPattern.MatchString(strings.TrimSpace(sql))
}

// trimStatement removes surrounding whitespace and any trailing semicolons.
func trimStatement(sql string) string {
	s := strings.TrimSpace(sql)
	for strings.HasSuffix(s, ";") {
		s = strings.TrimSpace(strings.TrimSuffix(s, ";"))
	}
	return s
}

// DescribeSQL wraps sql in a schema introspection statement. The statement
// sits on its own lines so a trailing line comment cannot swallow the paren.
func DescribeSQL(sql string) string {
	return fmt.Sprintf("DESCRIBE (\n%s\n)", trimStatement(sql))
}

// PageSQL wraps sql so that it returns one page of rows.
func PageSQL(sql string, limit, offset int) string {
	return fmt.Sprintf("SELECT * FROM (\n%s\n) LIMIT %d OFFSET %d", trimStatement(sql), limit, offset)
}
