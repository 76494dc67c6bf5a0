package app

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the dbwarden service.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	DataDir     string            `mapstructure:"data_dir"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Vault       VaultConfig       `mapstructure:"vault"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Monitor     MonitorConfig     `mapstructure:"monitor"`
	Connections ConnectionsConfig `mapstructure:"connections"`
	Query       QueryConfig       `mapstructure:"query"`
	Audit       AuditConfig       `mapstructure:"audit"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MetricsEnabled  bool          `mapstructure:"metrics_enabled"`
}

// DatabaseConfig describes the control-plane database holding users, roles, grants and connections.
type DatabaseConfig struct {
	Driver   string            `mapstructure:"driver"`
	Path     string            `mapstructure:"path"`
	DSN      string            `mapstructure:"dsn"`
	Host     string            `mapstructure:"host"`
	Port     int               `mapstructure:"port"`
	Name     string            `mapstructure:"name"`
	User     string            `mapstructure:"user"`
	Password string            `mapstructure:"password"`
	Options  map[string]string `mapstructure:"options"`
}

// VaultConfig locates the credential vault secret.
type VaultConfig struct {
	EncryptionKey string `mapstructure:"encryption_key"`
	KeyFile       string `mapstructure:"key_file"`
}

// AuthConfig captures authentication settings.
type AuthConfig struct {
	JWT               JWTSettings `mapstructure:"jwt"`
	DefaultRole       string      `mapstructure:"default_role"`
	AllowRegistration bool        `mapstructure:"allow_registration"`
	// LoginRateLimit caps auth requests per client IP and minute; zero disables it.
	LoginRateLimit int `mapstructure:"login_rate_limit"`
}

// JWTSettings configures JWT access tokens.
type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"access_token_ttl"`
}

// MonitorConfig controls the background health loop.
type MonitorConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Interval     time.Duration `mapstructure:"interval"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

// ConnectionsConfig governs how external data source handles are opened and updated.
type ConnectionsConfig struct {
	EnforceSSL       bool          `mapstructure:"enforce_ssl"`
	SSLCABundle      string        `mapstructure:"ssl_ca_bundle"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	EmptyFieldPolicy string        `mapstructure:"empty_field_policy"`
}

// QueryConfig bounds ad-hoc statement execution.
type QueryConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	MaxRows int           `mapstructure:"max_rows"`
}

// AuditConfig controls audit retention.
type AuditConfig struct {
	RetentionDays int    `mapstructure:"retention_days"`
	CleanupSpec   string `mapstructure:"cleanup_spec"`
}

// RedisConfig enables cross-instance status fan-out.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// LoggingConfig configures the global zap logger.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Encoding   string `mapstructure:"encoding"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("DBWARDEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	config.resolvePaths()
	return &config, nil
}

// resolvePaths places file-backed artefacts under the data directory unless set explicitly.
func (c *Config) resolvePaths() {
	dir := strings.TrimSpace(c.DataDir)
	if dir == "" {
		dir = "./data"
		c.DataDir = dir
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		c.Database.Path = filepath.Join(dir, "dbwarden.sqlite")
	}
	if strings.TrimSpace(c.Vault.KeyFile) == "" {
		c.Vault.KeyFile = filepath.Join(dir, "secret.key")
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.metrics_enabled", true)

	v.SetDefault("data_dir", "./data")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "")

	v.SetDefault("vault.encryption_key", "")
	v.SetDefault("vault.key_file", "")

	v.SetDefault("auth.jwt.issuer", "dbwarden")
	v.SetDefault("auth.jwt.access_token_ttl", "12h")
	v.SetDefault("auth.default_role", "viewer")
	v.SetDefault("auth.allow_registration", true)
	v.SetDefault("auth.login_rate_limit", 20)

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.interval", "5s")
	v.SetDefault("monitor.probe_timeout", "5s")

	v.SetDefault("connections.enforce_ssl", false)
	v.SetDefault("connections.ssl_ca_bundle", "")
	v.SetDefault("connections.connect_timeout", "10s")
	v.SetDefault("connections.empty_field_policy", "clear")

	v.SetDefault("query.timeout", "30s")
	v.SetDefault("query.max_rows", 1000)

	v.SetDefault("audit.retention_days", 90)
	v.SetDefault("audit.cleanup_spec", "@daily")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "dbwarden:status")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "json")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
