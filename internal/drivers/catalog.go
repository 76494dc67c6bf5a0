package drivers

import (
	"fmt"
	"strings"
)

// Catalog holds engine-specific introspection statements.
// Statements take the schema as their only bind parameter unless noted.
type Catalog struct {
	Schemas string
	Tables  string
	Views   string
	// Columns binds schema then table.
	Columns string
	// Quote quotes an identifier.
	Quote func(ident string) string
	// Preview builds a bounded SELECT over a qualified table.
	Preview func(qualified string, limit int) string
}

// CatalogFor returns the introspection catalog for kind.
func CatalogFor(kind Kind) (Catalog, bool) {
	switch kind {
	case KindPostgreSQL:
		return Catalog{
			Schemas: `SELECT schema_name FROM information_schema.schemata
				WHERE schema_name NOT IN ('pg_catalog', 'information_schema') AND schema_name NOT LIKE 'pg_toast%'
				ORDER BY schema_name`,
			Tables:  `SELECT table_name FROM information_schema.tables WHERE table_schema = $1 AND table_type = 'BASE TABLE' ORDER BY table_name`,
			Views:   `SELECT table_name FROM information_schema.views WHERE table_schema = $1 ORDER BY table_name`,
			Columns: `SELECT column_name, data_type, is_nullable FROM information_schema.columns WHERE table_schema = $1 AND table_name = $2 ORDER BY ordinal_position`,
			Quote:   doubleQuote,
			Preview: limitPreview,
		}, true
	case KindMySQL:
		return Catalog{
			Schemas: `SELECT schema_name FROM information_schema.schemata
				WHERE schema_name NOT IN ('mysql', 'information_schema', 'performance_schema', 'sys')
				ORDER BY schema_name`,
			Tables:  `SELECT table_name FROM information_schema.tables WHERE table_schema = ? AND table_type = 'BASE TABLE' ORDER BY table_name`,
			Views:   `SELECT table_name FROM information_schema.views WHERE table_schema = ? ORDER BY table_name`,
			Columns: `SELECT column_name, data_type, is_nullable FROM information_schema.columns WHERE table_schema = ? AND table_name = ? ORDER BY ordinal_position`,
			Quote:   func(ident string) string { return "`" + escape(ident, "`") + "`" },
			Preview: limitPreview,
		}, true
	case KindMSSQL:
		return Catalog{
			Schemas: `SELECT name FROM sys.schemas WHERE principal_id = 1 OR name = 'dbo' ORDER BY name`,
			Tables:  `SELECT table_name FROM information_schema.tables WHERE table_schema = @p1 AND table_type = 'BASE TABLE' ORDER BY table_name`,
			Views:   `SELECT table_name FROM information_schema.views WHERE table_schema = @p1 ORDER BY table_name`,
			Columns: `SELECT column_name, data_type, is_nullable FROM information_schema.columns WHERE table_schema = @p1 AND table_name = @p2 ORDER BY ordinal_position`,
			Quote:   func(ident string) string { return "[" + escape(ident, "]") + "]" },
			Preview: func(qualified string, limit int) string {
				return fmt.Sprintf("SELECT TOP %d * FROM %s", limit, qualified)
			},
		}, true
	case KindOracle:
		return Catalog{
			Schemas: `SELECT username FROM all_users ORDER BY username`,
			Tables:  `SELECT table_name FROM all_tables WHERE owner = :1 ORDER BY table_name`,
			Views:   `SELECT view_name FROM all_views WHERE owner = :1 ORDER BY view_name`,
			Columns: `SELECT column_name, data_type, nullable FROM all_tab_columns WHERE owner = :1 AND table_name = :2 ORDER BY column_id`,
			Quote:   doubleQuote,
			Preview: func(qualified string, limit int) string {
				return fmt.Sprintf("SELECT * FROM %s FETCH FIRST %d ROWS ONLY", qualified, limit)
			},
		}, true
	case KindSQLite:
		return Catalog{
			Schemas: `SELECT name FROM pragma_database_list ORDER BY seq`,
			Tables:  `SELECT name FROM pragma_table_list WHERE schema = ? AND type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`,
			Views:   `SELECT name FROM pragma_table_list WHERE schema = ? AND type = 'view' ORDER BY name`,
			Columns: `SELECT name, type, CASE "notnull" WHEN 1 THEN 'NO' ELSE 'YES' END FROM pragma_table_info(?2, ?1) ORDER BY cid`,
			Quote:   doubleQuote,
			Preview: limitPreview,
		}, true
	default:
		return Catalog{}, false
	}
}

// Qualified quotes and joins schema and table. An empty schema yields just the table.
func (c Catalog) Qualified(schema, table string) string {
	if schema == "" {
		return c.Quote(table)
	}
	return c.Quote(schema) + "." + c.Quote(table)
}

func limitPreview(qualified string, limit int) string {
	return fmt.Sprintf("SELECT * FROM %s LIMIT %d", qualified, limit)
}

func doubleQuote(ident string) string {
	return `"` + escape(ident, `"`) + `"`
}

func escape(ident, quote string) string {
	out := make([]byte, 0, len(ident))
	for i := 0; i < len(ident); i++ {
		if string(ident[i]) == quote {
			out = append(out, quote...)
		}
		out = append(out, ident[i])
	}
	return string(out)
}

// DefaultSchema returns the schema browsed when the caller names none.
func DefaultSchema(cfg Config) string {
	switch cfg.Kind {
	case KindPostgreSQL:
		return "public"
	case KindMySQL:
		return cfg.Fields.Database
	case KindMSSQL:
		return "dbo"
	case KindOracle:
		return strings.ToUpper(cfg.Fields.Username)
	case KindSQLite:
		return "main"
	default:
		return ""
	}
}
