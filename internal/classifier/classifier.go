// Package classifier maps SQL text to the permissions needed to run it.
//
// Classification is keyword based: each statement is judged by its leading
// keyword only. Anything unrecognised is treated as a write.
package classifier

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/charlesng35/dbwarden/internal/permissions"
)

var (
	lineComment  = regexp.MustCompile(`--[^\n]*`)
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

var keywordPermissions = map[string]string{
	"SELECT":   permissions.ExecuteSQLRead,
	"EXPLAIN":  permissions.ExecuteSQLRead,
	"SHOW":     permissions.ExecuteSQLRead,
	"DESCRIBE": permissions.ExecuteSQLRead,
	"PRAGMA":   permissions.ExecuteSQLRead,

	"INSERT":  permissions.ExecuteSQLWrite,
	"UPDATE":  permissions.ExecuteSQLWrite,
	"DELETE":  permissions.ExecuteSQLWrite,
	"REPLACE": permissions.ExecuteSQLWrite,
	"UPSERT":  permissions.ExecuteSQLWrite,

	"CREATE":   permissions.ExecuteSQLDDL,
	"ALTER":    permissions.ExecuteSQLDDL,
	"DROP":     permissions.ExecuteSQLDDL,
	"TRUNCATE": permissions.ExecuteSQLDDL,
	"GRANT":    permissions.ExecuteSQLDDL,
	"REVOKE":   permissions.ExecuteSQLDDL,
}

// Statements strips comments and returns the non-empty statements of a batch.
func Statements(sql string) []string {
	cleaned := blockComment.ReplaceAllString(sql, " ")
	cleaned = lineComment.ReplaceAllString(cleaned, "")

	var out []string
	for _, part := range strings.Split(cleaned, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// Required returns the permissions needed to run every statement in sql, in vocabulary order.
// An empty batch needs nothing.
func Required(sql string) []string {
	stmts := Statements(sql)
	if len(stmts) == 0 {
		return nil
	}

	needed := make(permissions.Set, 3)
	for _, stmt := range stmts {
		needed[ForStatement(stmt)] = struct{}{}
	}
	return needed.Slice()
}

// ForStatement classifies a single cleaned statement.
func ForStatement(stmt string) string {
	if perm, ok := keywordPermissions[LeadingKeyword(stmt)]; ok {
		return perm
	}
	return permissions.ExecuteSQLWrite
}

// LeadingKeyword returns the first word of stmt, uppercased.
func LeadingKeyword(stmt string) string {
	stmt = strings.TrimLeftFunc(stmt, func(r rune) bool {
		return unicode.IsSpace(r) || r == '('
	})
	end := strings.IndexFunc(stmt, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '_'
	})
	if end >= 0 {
		stmt = stmt[:end]
	}
	return strings.ToUpper(stmt)
}

// ReadOnly reports whether required consists solely of the read permission.
func ReadOnly(required []string) bool {
	return len(required) == 1 && required[0] == permissions.ExecuteSQLRead
}
