// Package config handles loading application configuration from environment
// variables. All config is centralized here so no other package reads env
// vars directly. The returned Config is built once at startup, validated,
// and passed to constructors; nothing mutates it afterwards.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Runtime environments accepted in ENV.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// devSecretKey lets local development run without a .env file.
const devSecretKey = "dev-secret-key-do-not-use-in-production!!"

// Config holds all application configuration. Populated from environment
// variables at startup. Passed to other packages via dependency injection.
type Config struct {
	// Env is the runtime environment: development, staging or production.
	Env string

	// Port is the HTTP listen port (default: 8080).
	Port int

	// BaseURL is the public-facing URL used for redirects.
	BaseURL string

	// LogLevel controls log verbosity: "debug", "info", "warn", "error".
	LogLevel string

	// Database holds MariaDB connection settings.
	Database DatabaseConfig

	// Redis holds Redis connection settings.
	Redis RedisConfig

	// Auth holds token, session and account-creation settings.
	Auth AuthConfig

	// Providers holds credentials for the external identity providers.
	Providers ProvidersConfig

	// PluginAPI holds settings for the downstream plug-in API proxy.
	PluginAPI PluginAPIConfig
}

// DatabaseConfig holds MariaDB connection parameters. Individual fields
// (Host, User, Password, Name) are read from separate env vars so
// container orchestrators can manage each independently.
// If DATABASE_URL is set, it takes precedence over the individual fields.
type DatabaseConfig struct {
	// Host is the MariaDB address in host:port format (default: "localhost:3306").
	// If no port is specified, 3306 is appended automatically.
	Host string

	User     string
	Password string
	Name     string

	// dsnOverride is set when DATABASE_URL is provided, bypassing individual fields.
	dsnOverride string

	// MaxOpenConns is the maximum number of open connections in the pool.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections in the pool.
	MaxIdleConns int

	// ConnMaxLifetime is how long a connection can be reused.
	ConnMaxLifetime time.Duration

	// MigrationsPath is the directory holding golang-migrate SQL files.
	MigrationsPath string
}

// DSN returns the go-sql-driver/mysql connection string. If DATABASE_URL was
// set, it is returned as-is. Otherwise the DSN is built from the individual
// fields using the driver's Config.FormatDSN() to safely handle special
// characters in passwords.
func (d DatabaseConfig) DSN() string {
	if d.dsnOverride != "" {
		return d.dsnOverride
	}
	cfg := mysql.NewConfig()
	cfg.User = d.User
	cfg.Passwd = d.Password
	cfg.Net = "tcp"
	cfg.Addr = ensurePort(d.Host, "3306")
	cfg.DBName = d.Name
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

// ensurePort appends the default port if the host string doesn't include one.
func ensurePort(host, defaultPort string) string {
	_, _, err := net.SplitHostPort(host)
	if err != nil {
		return net.JoinHostPort(host, defaultPort)
	}
	return host
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379").
	URL string
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	// SecretKey signs access tokens. At least 32 characters in production.
	SecretKey string

	// Algorithm is the HMAC signing algorithm: HS256, HS384 or HS512.
	Algorithm string

	// Issuer is written to the iss claim when non-empty.
	Issuer string

	// AccessTokenTTL is the lifetime of access tokens (default: 24h).
	AccessTokenTTL time.Duration

	// RefreshSecretKey signs refresh tokens. Defaults to SecretKey.
	RefreshSecretKey string

	// RefreshTokenTTL is the lifetime of refresh tokens (default: 7 days).
	RefreshTokenTTL time.Duration

	// SessionTTL is how long a session record lives in Redis (default: 24h).
	SessionTTL time.Duration

	// AllowNewAccounts gates both local registration and first-time
	// provider logins.
	AllowNewAccounts bool

	// OAuthRefreshInterval is how often the provider token refresher runs.
	OAuthRefreshInterval time.Duration
}

// ProviderCredentials is the per-provider slice of configuration. Endpoint
// fields default to the provider's well-known URLs and exist so deployments
// (and tests) can point at a different host.
type ProviderCredentials struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string

	// BaseURL is required by self-hosted providers (PocketID).
	BaseURL string

	AuthorizeURL string
	TokenURL     string
	UserInfoURL  string
}

// ProvidersConfig holds credentials for every supported provider. A
// provider with empty credentials is simply disabled.
type ProvidersConfig struct {
	LinuxDo  ProviderCredentials
	GitHub   ProviderCredentials
	PocketID ProviderCredentials
}

// PluginAPIConfig holds settings for the downstream plug-in API.
type PluginAPIConfig struct {
	// BaseURL is where /v1 requests are forwarded (default: http://localhost:8045).
	BaseURL string

	// AdminKey authenticates administrative calls to the downstream API.
	AdminKey string

	// EncryptionKey derives the AES key used to store per-user credentials.
	EncryptionKey string

	// Timeout bounds each proxied request.
	Timeout time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
// Returns an error if required variables are missing or values are invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Env:      strings.ToLower(getEnv("ENV", EnvDevelopment)),
		Port:     getEnvInt("PORT", 8080),
		BaseURL:  getEnv("BASE_URL", "http://localhost:8080"),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost:3306"),
			User:            getEnv("DB_USER", "portcullis"),
			Password:        getEnv("DB_PASSWORD", "portcullis"),
			Name:            getEnv("DB_NAME", "portcullis"),
			dsnOverride:     getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsPath:  getEnv("MIGRATIONS_PATH", "db/migrations"),
		},

		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", "redis://localhost:6379"),
		},

		Auth: AuthConfig{
			SecretKey:            getEnv("JWT_SECRET_KEY", ""),
			Algorithm:            strings.ToUpper(getEnv("JWT_ALGORITHM", "HS256")),
			Issuer:               getEnv("JWT_ISSUER", ""),
			AccessTokenTTL:       time.Duration(getEnvInt("JWT_EXPIRE_HOURS", 24)) * time.Hour,
			RefreshSecretKey:     getEnv("REFRESH_TOKEN_SECRET_KEY", ""),
			RefreshTokenTTL:      time.Duration(getEnvInt("REFRESH_TOKEN_EXPIRE_DAYS", 7)) * 24 * time.Hour,
			SessionTTL:           getEnvDuration("SESSION_TTL", 24*time.Hour),
			AllowNewAccounts:     getEnvBool("ALLOW_NEW_ACCOUNT_CREATION", true),
			OAuthRefreshInterval: getEnvDuration("OAUTH_REFRESH_INTERVAL", time.Minute),
		},

		Providers: ProvidersConfig{
			LinuxDo: ProviderCredentials{
				ClientID:     getEnv("LINUXDO_CLIENT_ID", ""),
				ClientSecret: getEnv("LINUXDO_CLIENT_SECRET", ""),
				RedirectURI:  getEnv("LINUXDO_REDIRECT_URI", ""),
				AuthorizeURL: getEnv("LINUXDO_AUTHORIZE_URL", ""),
				TokenURL:     getEnv("LINUXDO_TOKEN_URL", ""),
				UserInfoURL:  getEnv("LINUXDO_USERINFO_URL", ""),
			},
			GitHub: ProviderCredentials{
				ClientID:     getEnv("GITHUB_CLIENT_ID", ""),
				ClientSecret: getEnv("GITHUB_CLIENT_SECRET", ""),
				RedirectURI:  getEnv("GITHUB_REDIRECT_URI", ""),
				AuthorizeURL: getEnv("GITHUB_AUTHORIZE_URL", ""),
				TokenURL:     getEnv("GITHUB_TOKEN_URL", ""),
				UserInfoURL:  getEnv("GITHUB_USERINFO_URL", ""),
			},
			PocketID: ProviderCredentials{
				ClientID:     getEnv("POCKETID_CLIENT_ID", ""),
				ClientSecret: getEnv("POCKETID_CLIENT_SECRET", ""),
				RedirectURI:  getEnv("POCKETID_REDIRECT_URI", ""),
				BaseURL:      getEnv("POCKETID_BASE_URL", ""),
				AuthorizeURL: getEnv("POCKETID_AUTHORIZE_URL", ""),
				TokenURL:     getEnv("POCKETID_TOKEN_URL", ""),
				UserInfoURL:  getEnv("POCKETID_USERINFO_URL", ""),
			},
		},

		PluginAPI: PluginAPIConfig{
			BaseURL:       getEnv("PLUGIN_API_BASE_URL", "http://localhost:8045"),
			AdminKey:      getEnv("PLUGIN_API_ADMIN_KEY", ""),
			EncryptionKey: getEnv("PLUGIN_API_ENCRYPTION_KEY", ""),
			Timeout:       getEnvDuration("PLUGIN_API_TIMEOUT", 5*time.Minute),
		},
	}

	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// finalize fills derived defaults and validates. Split out of Load so tests
// can exercise it on hand-built configs.
func (c *Config) finalize() error {
	switch c.Env {
	case "dev":
		c.Env = EnvDevelopment
	case "prod":
		c.Env = EnvProduction
	}
	switch c.Env {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		return fmt.Errorf("ENV must be one of development, staging, production (got %q)", c.Env)
	}

	if _, ok := ParseLogLevel(c.LogLevel); !ok {
		return fmt.Errorf("LOG_LEVEL %q is not recognized", c.LogLevel)
	}

	switch c.Auth.Algorithm {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("JWT_ALGORITHM must be HS256, HS384 or HS512 (got %q)", c.Auth.Algorithm)
	}

	if c.Auth.AccessTokenTTL <= 0 {
		return fmt.Errorf("JWT_EXPIRE_HOURS must be positive")
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		return fmt.Errorf("REFRESH_TOKEN_EXPIRE_DAYS must be positive")
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	if c.Auth.OAuthRefreshInterval <= 0 {
		return fmt.Errorf("OAUTH_REFRESH_INTERVAL must be positive")
	}

	if c.Env == EnvProduction {
		if c.Auth.SecretKey == "" {
			return fmt.Errorf("JWT_SECRET_KEY is required in production")
		}
		if len(c.Auth.SecretKey) < 32 {
			return fmt.Errorf("JWT_SECRET_KEY must be at least 32 characters in production")
		}
		if c.PluginAPI.EncryptionKey == "" {
			return fmt.Errorf("PLUGIN_API_ENCRYPTION_KEY is required in production")
		}
	}

	if c.Auth.SecretKey == "" {
		c.Auth.SecretKey = devSecretKey
	}
	if c.Auth.RefreshSecretKey == "" {
		c.Auth.RefreshSecretKey = c.Auth.SecretKey
	}
	if c.PluginAPI.EncryptionKey == "" {
		c.PluginAPI.EncryptionKey = c.Auth.SecretKey
	}

	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}

// ParseLogLevel maps LOG_LEVEL to a slog level. Accepts the slog names and
// the WARNING/CRITICAL spellings older deployments use.
func ParseLogLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error", "critical":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

// --- Helper functions for reading environment variables ---

// getEnv reads a string env var or returns the default.
func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvInt reads an integer env var or returns the default.
func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvBool reads a boolean env var ("true", "1", "false", ...) or returns the default.
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvDuration reads a duration env var (e.g., "24h") or returns the default.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
