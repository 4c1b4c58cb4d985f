package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/gin-gonic/gin"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Remote   RemoteConfig   `koanf:"remote"`
	Snapshot SnapshotConfig `koanf:"snapshot"`
	Log      LogConfig      `koanf:"log"`
	Auth     AuthConfig     `koanf:"auth"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host    string     `koanf:"host"`
	Port    int        `koanf:"port"`
	Mode    string     `koanf:"mode"`
	Timeout string     `koanf:"timeout"`
	CORS    CORSConfig `koanf:"cors"`
}

// CORSConfig holds CORS middleware settings. The API authenticates with
// Bearer tokens, so there is no credentials knob.
type CORSConfig struct {
	AllowOrigins []string `koanf:"allow_origins"`
	AllowMethods []string `koanf:"allow_methods"`
	AllowHeaders []string `koanf:"allow_headers"`
	MaxAge       string   `koanf:"max_age"`
}

// RemoteConfig holds the coordination backend connection settings and the
// synchronization policy knobs.
type RemoteConfig struct {
	BaseURL         string `koanf:"base_url"`
	FeedURL         string `koanf:"feed_url"`
	APIKey          string `koanf:"api_key"`
	Timeout         string `koanf:"timeout"`
	RetryCount      int    `koanf:"retry_count"`
	PageSize        int    `koanf:"page_size"`
	Freshness       string `koanf:"freshness"`
	SearchDebounce  string `koanf:"search_debounce"`
	MinSearchLength int    `koanf:"min_search_length"`
	RefetchOnUpdate bool   `koanf:"refetch_on_update"`
}

// SnapshotConfig holds the best-effort snapshot store settings.
type SnapshotConfig struct {
	Enabled  bool           `koanf:"enabled"`
	Driver   string         `koanf:"driver"`
	SQLite   SQLiteConfig   `koanf:"sqlite"`
	Postgres PostgresConfig `koanf:"postgres"`
	Pool     PoolConfig     `koanf:"pool"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	DBName   string `koanf:"dbname"`
	SSLMode  string `koanf:"sslmode"`
}

// PoolConfig holds database connection pool settings.
type PoolConfig struct {
	MaxIdleConns    int    `koanf:"max_idle_conns"`
	MaxOpenConns    int    `koanf:"max_open_conns"`
	ConnMaxLifetime string `koanf:"conn_max_lifetime"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level           string `koanf:"level"`
	Format          string `koanf:"format"`
	Color           *bool  `koanf:"color"`
	FilePath        string `koanf:"file_path"`
	MaxSizeMB       int    `koanf:"max_size_mb"`
	RetentionDays   int    `koanf:"retention_days"`
	MaxBackups      int    `koanf:"max_backups"`
	CompressRotated *bool  `koanf:"compress_rotated"`
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	Enabled     bool     `koanf:"enabled"`
	JWTSecret   string   `koanf:"jwt_secret"`
	PublicPaths []string `koanf:"public_paths"`
}

// Load reads configuration from a YAML file and overlays environment variables.
// Environment variables use the prefix "APP__" and double-underscore as the
// hierarchy separator. Single underscores are preserved as part of the key name.
// For example, APP__SERVER__PORT=9090 overrides server.port and
// APP__REMOTE__PAGE_SIZE=50 overrides remote.page_size.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	// Load YAML config file.
	if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
	}

	// Overlay environment variables with prefix APP__.
	// APP__SERVER__PORT -> server.port
	// APP__REMOTE__API_KEY -> remote.api_key
	if err := k.Load(env.Provider("APP__", ".", func(s string) string {
		key := strings.TrimPrefix(s, "APP__")
		key = strings.ToLower(key)
		key = strings.ReplaceAll(key, "__", ".")
		return key
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints and supported values.
func (c *Config) Validate() error {
	// Validate server.mode.
	mode := strings.TrimSpace(c.Server.Mode)
	switch mode {
	case gin.DebugMode, gin.ReleaseMode, gin.TestMode:
		c.Server.Mode = mode
	default:
		return fmt.Errorf("invalid server.mode %q: must be one of %q, %q, %q", c.Server.Mode, gin.DebugMode, gin.ReleaseMode, gin.TestMode)
	}

	// Validate server.port range.
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d: must be between 1 and 65535", c.Server.Port)
	}

	// Validate server.host.
	host := strings.TrimSpace(c.Server.Host)
	if host == "" {
		return fmt.Errorf("server.host is required")
	}
	c.Server.Host = host

	// Normalize optional duration fields: whitespace-only means unset.
	c.Server.Timeout = strings.TrimSpace(c.Server.Timeout)
	c.Server.CORS.MaxAge = strings.TrimSpace(c.Server.CORS.MaxAge)
	c.Remote.Timeout = strings.TrimSpace(c.Remote.Timeout)
	c.Remote.Freshness = strings.TrimSpace(c.Remote.Freshness)
	c.Remote.SearchDebounce = strings.TrimSpace(c.Remote.SearchDebounce)
	c.Snapshot.Pool.ConnMaxLifetime = strings.TrimSpace(c.Snapshot.Pool.ConnMaxLifetime)

	if err := validateOptionalDuration("server.timeout", c.Server.Timeout); err != nil {
		return err
	}
	if err := validateOptionalDuration("server.cors.max_age", c.Server.CORS.MaxAge); err != nil {
		return err
	}

	if err := c.validateRemote(); err != nil {
		return err
	}
	if err := c.validateSnapshot(); err != nil {
		return err
	}
	if err := c.validateAuth(); err != nil {
		return err
	}

	// Validate log.level.
	level := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Log.Level = level
	default:
		return fmt.Errorf("invalid log.level %q: must be one of %q, %q, %q, %q", c.Log.Level, "debug", "info", "warn", "error")
	}

	// Validate log.format.
	format := strings.ToLower(strings.TrimSpace(c.Log.Format))
	switch format {
	case "text", "json":
		c.Log.Format = format
	default:
		return fmt.Errorf("invalid log.format %q: must be one of %q, %q", c.Log.Format, "text", "json")
	}

	return nil
}

func (c *Config) validateRemote() error {
	baseURL := strings.TrimSpace(c.Remote.BaseURL)
	if baseURL == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid remote.base_url %q: %w", c.Remote.BaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid remote.base_url %q: scheme must be http or https", c.Remote.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid remote.base_url %q: host is required", c.Remote.BaseURL)
	}
	if c.Server.Mode == gin.ReleaseMode && u.Scheme != "https" {
		return fmt.Errorf("invalid remote.base_url %q for server.mode %q: must use https", c.Remote.BaseURL, gin.ReleaseMode)
	}
	c.Remote.BaseURL = strings.TrimRight(baseURL, "/")

	feedURL := strings.TrimSpace(c.Remote.FeedURL)
	if feedURL != "" {
		fu, err := url.Parse(feedURL)
		if err != nil {
			return fmt.Errorf("invalid remote.feed_url %q: %w", c.Remote.FeedURL, err)
		}
		if fu.Scheme != "ws" && fu.Scheme != "wss" {
			return fmt.Errorf("invalid remote.feed_url %q: scheme must be ws or wss", c.Remote.FeedURL)
		}
		if c.Server.Mode == gin.ReleaseMode && fu.Scheme != "wss" {
			return fmt.Errorf("invalid remote.feed_url %q for server.mode %q: must use wss", c.Remote.FeedURL, gin.ReleaseMode)
		}
	}
	c.Remote.FeedURL = feedURL

	apiKey := strings.TrimSpace(c.Remote.APIKey)
	if apiKey == "" {
		return fmt.Errorf("remote.api_key is required")
	}
	c.Remote.APIKey = apiKey

	if err := validateOptionalDuration("remote.timeout", c.Remote.Timeout); err != nil {
		return err
	}
	if err := validateOptionalDuration("remote.freshness", c.Remote.Freshness); err != nil {
		return err
	}
	if err := validateOptionalDuration("remote.search_debounce", c.Remote.SearchDebounce); err != nil {
		return err
	}

	if c.Remote.RetryCount < 0 {
		return fmt.Errorf("invalid remote.retry_count %d: must not be negative", c.Remote.RetryCount)
	}
	if c.Remote.PageSize < 0 || c.Remote.PageSize > 200 {
		return fmt.Errorf("invalid remote.page_size %d: must be between 0 and 200", c.Remote.PageSize)
	}
	if c.Remote.MinSearchLength < 0 || c.Remote.MinSearchLength > 10 {
		return fmt.Errorf("invalid remote.min_search_length %d: must be between 0 and 10", c.Remote.MinSearchLength)
	}

	return nil
}

func (c *Config) validateSnapshot() error {
	if !c.Snapshot.Enabled {
		return nil
	}

	switch c.Snapshot.Driver {
	case "sqlite", "postgres":
		// ok
	default:
		return fmt.Errorf("invalid snapshot.driver %q: must be one of %q, %q", c.Snapshot.Driver, "sqlite", "postgres")
	}

	if c.Snapshot.Driver == "sqlite" {
		sqlitePath := strings.TrimSpace(c.Snapshot.SQLite.Path)
		if sqlitePath == "" {
			return fmt.Errorf("snapshot.sqlite.path is required when driver is sqlite")
		}
		c.Snapshot.SQLite.Path = sqlitePath
	}

	if c.Snapshot.Driver == "postgres" {
		host := strings.TrimSpace(c.Snapshot.Postgres.Host)
		if host == "" {
			return fmt.Errorf("snapshot.postgres.host is required when driver is postgres")
		}
		if c.Snapshot.Postgres.Port < 1 || c.Snapshot.Postgres.Port > 65535 {
			return fmt.Errorf("invalid snapshot.postgres.port %d: must be between 1 and 65535", c.Snapshot.Postgres.Port)
		}
		user := strings.TrimSpace(c.Snapshot.Postgres.User)
		if user == "" {
			return fmt.Errorf("snapshot.postgres.user is required when driver is postgres")
		}
		dbName := strings.TrimSpace(c.Snapshot.Postgres.DBName)
		if dbName == "" {
			return fmt.Errorf("snapshot.postgres.dbname is required when driver is postgres")
		}
		sslMode := strings.TrimSpace(c.Snapshot.Postgres.SSLMode)

		switch sslMode {
		case "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
			// ok
		default:
			return fmt.Errorf("invalid snapshot.postgres.sslmode %q: must be one of %q, %q, %q, %q, %q, %q", c.Snapshot.Postgres.SSLMode, "disable", "allow", "prefer", "require", "verify-ca", "verify-full")
		}
		if c.Server.Mode == gin.ReleaseMode {
			switch sslMode {
			case "require", "verify-ca", "verify-full":
				// ok
			default:
				return fmt.Errorf("invalid snapshot.postgres.sslmode %q for server.mode %q: must be one of %q, %q, %q", c.Snapshot.Postgres.SSLMode, gin.ReleaseMode, "require", "verify-ca", "verify-full")
			}
		}

		c.Snapshot.Postgres.Host = host
		c.Snapshot.Postgres.User = user
		c.Snapshot.Postgres.DBName = dbName
		c.Snapshot.Postgres.SSLMode = sslMode
	}

	if err := validateOptionalDuration("snapshot.pool.conn_max_lifetime", c.Snapshot.Pool.ConnMaxLifetime); err != nil {
		return err
	}

	return nil
}

func (c *Config) validateAuth() error {
	if !c.Auth.Enabled {
		return nil
	}

	jwtSecret := strings.TrimSpace(c.Auth.JWTSecret)
	if jwtSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when auth is enabled")
	}
	if len(jwtSecret) < 32 {
		return fmt.Errorf("invalid auth.jwt_secret: must be at least 32 characters")
	}
	if c.Server.Mode == gin.ReleaseMode && CountSecretClasses(jwtSecret) < 3 {
		return fmt.Errorf("auth.jwt_secret must include at least 3 character classes (lowercase, uppercase, digit, symbol) in release mode")
	}
	c.Auth.JWTSecret = jwtSecret

	publicPaths := make([]string, 0, len(c.Auth.PublicPaths))
	seenPublicPaths := make(map[string]struct{}, len(c.Auth.PublicPaths))
	for idx, p := range c.Auth.PublicPaths {
		normalizedPath := strings.TrimSpace(p)
		if normalizedPath == "" {
			return fmt.Errorf("auth.public_paths[%d] cannot be empty when auth is enabled", idx)
		}
		if !strings.HasPrefix(normalizedPath, "/") {
			return fmt.Errorf("invalid auth.public_paths[%d] %q: must start with '/'", idx, p)
		}
		if _, exists := seenPublicPaths[normalizedPath]; exists {
			continue
		}
		seenPublicPaths[normalizedPath] = struct{}{}
		publicPaths = append(publicPaths, normalizedPath)
	}
	c.Auth.PublicPaths = publicPaths

	return nil
}

// validateOptionalDuration checks that v, when set, is a valid positive Go duration.
func validateOptionalDuration(name, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	if d <= 0 {
		return fmt.Errorf("invalid %s %q: must be greater than 0", name, v)
	}
	return nil
}

// Duration parses an already-validated duration string, returning fallback
// for the empty string.
func Duration(v string, fallback time.Duration) time.Duration {
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// CountSecretClasses counts how many character classes (lowercase, uppercase,
// digit, symbol) are present in the given secret string.
func CountSecretClasses(secret string) int {
	hasLower := false
	hasUpper := false
	hasDigit := false
	hasSymbol := false

	for _, r := range secret {
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSymbol = true
		}
	}

	classes := 0
	if hasLower {
		classes++
	}
	if hasUpper {
		classes++
	}
	if hasDigit {
		classes++
	}
	if hasSymbol {
		classes++
	}

	return classes
}
