package drivers

import (
	"net/url"
	"strings"
)

// BuildURL derives the connection URL for kind from fields.
// ok is false for unsupported kinds.
func BuildURL(kind Kind, f Fields) (string, bool) {
	switch kind {
	case KindPostgreSQL, KindMySQL, KindOracle:
		return networkURL(string(kind), kind, f, f.Database), true
	case KindMSSQL:
		u := networkURL("sqlserver", kind, f, "")
		if f.Database != "" {
			u += "?" + url.Values{"database": {f.Database}}.Encode()
		}
		return u, true
	case KindSQLite:
		path := f.FilePath
		if path == "" {
			path = "database.db"
		}
		return "sqlite:///" + path, true
	case KindFolder:
		return "folder://", true
	default:
		return "", false
	}
}

func networkURL(scheme string, kind Kind, f Fields, path string) string {
	host := strings.TrimSpace(f.Host)
	if host == "" {
		host = "localhost"
	}
	port := strings.TrimSpace(f.Port)
	if port == "" {
		port = kind.DefaultPort()
	}

	u := url.URL{Scheme: scheme, Host: host + ":" + port}
	if f.Username != "" {
		u.User = url.UserPassword(f.Username, f.Password)
	}
	if path != "" {
		u.Path = "/" + path
	}
	return u.String()
}
