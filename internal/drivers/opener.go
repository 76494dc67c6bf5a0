package drivers

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/microsoft/go-mssqldb"
	_ "github.com/sijms/go-ora/v2"
)

// MySQLCATLSConfig is the name the CA bundle is registered under with the mysql driver.
const MySQLCATLSConfig = "dbwarden-ca"

const (
	defaultMaxOpenConns    = 10
	defaultMaxIdleConns    = 2
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
)

var (
	// ErrFolder is returned when a handle is requested for a folder.
	ErrFolder = errors.New("drivers: folders have no live handle")
	// ErrUnsupportedKind signals an engine kind outside the supported set.
	ErrUnsupportedKind = errors.New("drivers: unsupported engine kind")
)

// Opener creates live handles for connection configs.
type Opener interface {
	Open(ctx context.Context, cfg Config) (*sql.DB, error)
}

// SQLOpener opens database/sql pools with transport security applied.
type SQLOpener struct {
	enforceSSL     bool
	caBundle       string
	connectTimeout time.Duration
	openFn         func(driverName, dsn string) (*sql.DB, error)

	tlsOnce sync.Once
	tlsErr  error
}

// OpenerOption configures a SQLOpener.
type OpenerOption func(*SQLOpener)

// WithEnforceSSL requires encrypted transport for postgresql and mysql.
func WithEnforceSSL(enabled bool) OpenerOption {
	return func(o *SQLOpener) { o.enforceSSL = enabled }
}

// WithCABundle points postgresql and mysql at a PEM CA bundle.
func WithCABundle(path string) OpenerOption {
	return func(o *SQLOpener) { o.caBundle = strings.TrimSpace(path) }
}

// WithConnectTimeout overrides DefaultConnectTimeout.
func WithConnectTimeout(d time.Duration) OpenerOption {
	return func(o *SQLOpener) {
		if d > 0 {
			o.connectTimeout = d
		}
	}
}

// WithSQLOpen replaces sql.Open, letting tests inspect the DSN or inject a mock.
func WithSQLOpen(fn func(driverName, dsn string) (*sql.DB, error)) OpenerOption {
	return func(o *SQLOpener) {
		if fn != nil {
			o.openFn = fn
		}
	}
}

// NewOpener constructs a SQLOpener.
func NewOpener(opts ...OpenerOption) *SQLOpener {
	o := &SQLOpener{
		connectTimeout: DefaultConnectTimeout,
		openFn:         sql.Open,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Open builds the driver DSN for cfg and returns a configured pool. It does not ping.
func (o *SQLOpener) Open(_ context.Context, cfg Config) (*sql.DB, error) {
	driverName, dsn, err := o.DSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := o.openFn(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("drivers: open %s: %w", cfg.Kind, err)
	}
	applyPool(db, cfg.Options)
	return db, nil
}

// Test opens a throwaway handle, pings it and closes it.
func (o *SQLOpener) Test(ctx context.Context, cfg Config) error {
	if cfg.Kind.IsFolder() {
		return nil
	}
	db, err := o.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	return Ping(ctx, db, o.connectTimeout)
}

// Ping checks db with a bounded timeout.
func Ping(ctx context.Context, db *sql.DB, timeout time.Duration) error {
	if db == nil {
		return errors.New("drivers: nil handle")
	}
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return db.PingContext(pingCtx)
}

// DSN returns the database/sql driver name and data source for cfg.
func (o *SQLOpener) DSN(cfg Config) (string, string, error) {
	raw := cfg.URL
	if raw == "" {
		built, ok := BuildURL(cfg.Kind, cfg.Fields)
		if !ok {
			return "", "", fmt.Errorf("%w: %q", ErrUnsupportedKind, cfg.Kind)
		}
		raw = built
	}
	args := cfg.Options.ConnectArgs()

	switch cfg.Kind {
	case KindPostgreSQL:
		dsn, err := o.postgresDSN(raw, args)
		return cfg.Kind.DriverName(), dsn, err
	case KindMySQL:
		dsn, err := o.mysqlDSN(raw, args)
		return cfg.Kind.DriverName(), dsn, err
	case KindMSSQL:
		dsn, err := withQuery(raw, args, "connection timeout", seconds(o.connectTimeout))
		return cfg.Kind.DriverName(), dsn, err
	case KindOracle:
		dsn, err := withQuery(raw, args, "CONNECTION TIMEOUT", seconds(o.connectTimeout))
		return cfg.Kind.DriverName(), dsn, err
	case KindSQLite:
		return cfg.Kind.DriverName(), sqliteDSN(raw, args), nil
	case KindFolder:
		return "", "", ErrFolder
	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedKind, cfg.Kind)
	}
}

func (o *SQLOpener) postgresDSN(raw string, args map[string]any) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("drivers: parse postgresql url: %w", err)
	}
	q := u.Query()
	for k, v := range args {
		q.Set(k, fmt.Sprint(v))
	}
	if q.Get("connect_timeout") == "" {
		q.Set("connect_timeout", seconds(o.connectTimeout))
	}
	if o.enforceSSL {
		switch q.Get("sslmode") {
		case "require", "verify-ca", "verify-full":
		default:
			q.Set("sslmode", "require")
		}
	}
	if o.caBundle != "" && q.Get("sslrootcert") == "" {
		q.Set("sslrootcert", o.caBundle)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (o *SQLOpener) mysqlDSN(raw string, args map[string]any) (string, error) {
	cfg, err := parseMySQL(raw)
	if err != nil {
		return "", err
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	if cfg.Timeout == 0 {
		cfg.Timeout = o.connectTimeout
	}

	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	for k, v := range args {
		if k == "tls" {
			cfg.TLSConfig = fmt.Sprint(v)
			continue
		}
		cfg.Params[k] = fmt.Sprint(v)
	}

	if o.enforceSSL && cfg.TLSConfig == "" {
		cfg.TLSConfig = "true"
	}
	if o.caBundle != "" {
		if err := o.registerMySQLCA(); err != nil {
			return "", err
		}
		cfg.TLSConfig = MySQLCATLSConfig
	}
	return cfg.FormatDSN(), nil
}

func (o *SQLOpener) registerMySQLCA() error {
	o.tlsOnce.Do(func() {
		pem, err := os.ReadFile(o.caBundle)
		if err != nil {
			o.tlsErr = fmt.Errorf("drivers: read ca bundle: %w", err)
			return
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			o.tlsErr = errors.New("drivers: ca bundle contains no certificates")
			return
		}
		o.tlsErr = mysql.RegisterTLSConfig(MySQLCATLSConfig, &tls.Config{
			RootCAs:    pool,
			MinVersion: tls.VersionTLS12,
		})
	})
	return o.tlsErr
}

// parseMySQL accepts either a mysql:// URL or a native go-sql-driver DSN.
func parseMySQL(raw string) (*mysql.Config, error) {
	if !strings.HasPrefix(raw, "mysql://") {
		cfg, err := mysql.ParseDSN(raw)
		if err != nil {
			return nil, fmt.Errorf("drivers: parse mysql dsn: %w", err)
		}
		return cfg, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("drivers: parse mysql url: %w", err)
	}
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = u.Host
	cfg.DBName = strings.TrimPrefix(u.Path, "/")
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Passwd, _ = u.User.Password()
	}
	if q := u.Query(); len(q) > 0 {
		cfg.Params = make(map[string]string, len(q))
		for k := range q {
			cfg.Params[k] = q.Get(k)
		}
	}
	return cfg, nil
}

func sqliteDSN(raw string, args map[string]any) string {
	path := strings.TrimPrefix(raw, "sqlite:///")
	if len(args) == 0 {
		return path
	}
	q := url.Values{}
	for k, v := range args {
		q.Set(k, fmt.Sprint(v))
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return "file:" + strings.TrimPrefix(path, "file:") + sep + q.Encode()
}

func withQuery(raw string, args map[string]any, timeoutKey, timeout string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("drivers: parse url: %w", err)
	}
	q := u.Query()
	for k, v := range args {
		q.Set(k, fmt.Sprint(v))
	}
	if q.Get(timeoutKey) == "" {
		q.Set(timeoutKey, timeout)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func applyPool(db *sql.DB, opts Options) {
	db.SetMaxOpenConns(intOption(opts, "max_open_conns", defaultMaxOpenConns))
	db.SetMaxIdleConns(intOption(opts, "max_idle_conns", defaultMaxIdleConns))
	db.SetConnMaxLifetime(durationOption(opts, "conn_max_lifetime", defaultConnMaxLifetime))
	db.SetConnMaxIdleTime(durationOption(opts, "conn_max_idle_time", defaultConnMaxIdleTime))
}

func intOption(opts Options, key string, fallback int) int {
	switch v := opts[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func durationOption(opts Options, key string, fallback time.Duration) time.Duration {
	switch v := opts[key].(type) {
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	case float64:
		return time.Duration(v) * time.Second
	}
	return fallback
}

func seconds(d time.Duration) string {
	return strconv.Itoa(int(d / time.Second))
}
