package drivers

import (
	"strings"
	"time"
)

// Kind identifies a database engine.
type Kind string

const (
	KindPostgreSQL Kind = "postgresql"
	KindMySQL      Kind = "mysql"
	KindMSSQL      Kind = "mssql"
	KindOracle     Kind = "oracle"
	KindSQLite     Kind = "sqlite"
	// KindFolder groups connections in the UI and never opens a handle.
	KindFolder Kind = "folder"
)

// DefaultConnectTimeout bounds handle creation when no timeout is configured.
const DefaultConnectTimeout = 10 * time.Second

// Kinds lists every supported kind.
func Kinds() []Kind {
	return []Kind{KindPostgreSQL, KindMySQL, KindMSSQL, KindOracle, KindSQLite, KindFolder}
}

// ParseKind normalises s and reports whether it names a supported kind.
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindPostgreSQL, KindMySQL, KindMSSQL, KindOracle, KindSQLite, KindFolder:
		return k, true
	case "postgres":
		return KindPostgreSQL, true
	case "sqlserver":
		return KindMSSQL, true
	}
	return k, false
}

// IsFolder reports whether k is the folder pseudo-kind.
func (k Kind) IsFolder() bool { return k == KindFolder }

// DefaultPort returns the conventional port for network engines.
func (k Kind) DefaultPort() string {
	switch k {
	case KindPostgreSQL:
		return "5432"
	case KindMySQL:
		return "3306"
	case KindMSSQL:
		return "1433"
	case KindOracle:
		return "1521"
	default:
		return ""
	}
}

// DriverName returns the database/sql driver registered for k.
func (k Kind) DriverName() string {
	switch k {
	case KindPostgreSQL:
		return "pgx"
	case KindMySQL:
		return "mysql"
	case KindMSSQL:
		return "sqlserver"
	case KindOracle:
		return "oracle"
	case KindSQLite:
		return "sqlite3"
	default:
		return ""
	}
}
