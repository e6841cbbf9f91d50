package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the auth service, the gateway and authctl.
// Each binary reads the sections it needs.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Log          LogConfig          `mapstructure:"log"`
	Keys         KeysConfig         `mapstructure:"keys"`
	Tokens       TokenConfig        `mapstructure:"tokens"`
	Gateway      GatewayConfig      `mapstructure:"gateway"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns the listen address
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Name           string `mapstructure:"name"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"ssl_mode"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// DSN returns the PostgreSQL connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// URL returns the PostgreSQL connection URL used by the migrator
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// KeysConfig locates the RSA signing key pair of the auth service.
type KeysConfig struct {
	// PrivateKeyFile is a PEM encoded RSA private key (PKCS#1 or PKCS#8). Required.
	PrivateKeyFile string `mapstructure:"private_key_file"`

	// PublicKeyFile is optional. When set, GET /public-key serves this file
	// instead of deriving the PEM from the private key.
	PublicKeyFile string `mapstructure:"public_key_file"`
}

// TokenConfig holds JWT issuing configuration
type TokenConfig struct {
	TTL    time.Duration `mapstructure:"ttl"`
	Issuer string        `mapstructure:"issuer"`
}

// GatewayConfig holds the verifying gateway configuration
type GatewayConfig struct {
	Server ServerConfig `mapstructure:"server"`

	// PublicKeyURL is the Key Store endpoint, e.g. http://auth:8081/public-key
	PublicKeyURL string `mapstructure:"public_key_url"`

	// KeyFreshness is how long a fetched public key is served without a refresh attempt.
	KeyFreshness time.Duration `mapstructure:"key_freshness"`

	// KeyFetchTimeout bounds a single public key fetch.
	KeyFetchTimeout time.Duration `mapstructure:"key_fetch_timeout"`

	Breaker  BreakerConfig     `mapstructure:"breaker"`
	Backends map[string]string `mapstructure:"backends"`
	Routes   []RouteConfig     `mapstructure:"routes"`
	Proxy    ProxyConfig       `mapstructure:"proxy"`
}

// BreakerConfig configures the circuit breaker around the public key fetch.
type BreakerConfig struct {
	MaxFailures uint32        `mapstructure:"max_failures"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

// RouteConfig classifies a path prefix.
type RouteConfig struct {
	Prefix      string `mapstructure:"prefix"`
	Backend     string `mapstructure:"backend"`
	Access      string `mapstructure:"access"`
	StripPrefix bool   `mapstructure:"strip_prefix"`
}

// ProxyConfig holds upstream transport timeouts.
type ProxyConfig struct {
	DialTimeout           time.Duration `mapstructure:"dial_timeout"`
	ResponseHeaderTimeout time.Duration `mapstructure:"response_header_timeout"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	DefaultLimit  int           `mapstructure:"default_limit"`
	DefaultWindow time.Duration `mapstructure:"default_window"`
	LoginLimit    int           `mapstructure:"login_limit"`
	LoginWindow   time.Duration `mapstructure:"login_window"`

	// TrustedProxies lists addresses or CIDRs whose X-Forwarded-For and
	// X-Real-IP headers are believed. Empty means the connection's remote
	// address is always the client.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// TrustedProxyPrefixes parses TrustedProxies. Bare addresses become
// single-host prefixes.
func (c RateLimitingConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, raw := range c.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
		}
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/uts")

	setDefaults(v)

	// Config file is optional, defaults and env vars are enough to run
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("UTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints that defaults cannot express.
func (c *Config) Validate() error {
	for _, r := range c.Gateway.Routes {
		if !strings.HasPrefix(r.Prefix, "/") {
			return fmt.Errorf("route prefix %q must start with /", r.Prefix)
		}
		if _, ok := c.Gateway.Backends[r.Backend]; !ok {
			return fmt.Errorf("route %q references unknown backend %q", r.Prefix, r.Backend)
		}
	}
	if _, err := c.RateLimiting.TrustedProxyPrefixes(); err != nil {
		return fmt.Errorf("rate_limiting.trusted_proxies: %w", err)
	}
	if c.Gateway.KeyFreshness <= 0 {
		return fmt.Errorf("gateway.key_freshness must be positive")
	}
	if c.Gateway.KeyFetchTimeout <= 0 {
		return fmt.Errorf("gateway.key_fetch_timeout must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Auth service
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8081)

	// Database defaults
	v.SetDefault("database.enabled", true)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "uts")
	v.SetDefault("database.user", "uts")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Keys
	v.SetDefault("keys.private_key_file", "keys/private.pem")
	v.SetDefault("keys.public_key_file", "")

	// Tokens
	v.SetDefault("tokens.ttl", "24h")
	v.SetDefault("tokens.issuer", "uts-auth")

	// Gateway
	v.SetDefault("gateway.server.host", "0.0.0.0")
	v.SetDefault("gateway.server.port", 8080)
	v.SetDefault("gateway.public_key_url", "http://localhost:8081/public-key")
	v.SetDefault("gateway.key_freshness", "1h")
	v.SetDefault("gateway.key_fetch_timeout", "5s")
	v.SetDefault("gateway.breaker.max_failures", 3)
	v.SetDefault("gateway.breaker.open_timeout", "10s")
	v.SetDefault("gateway.proxy.dial_timeout", "5s")
	v.SetDefault("gateway.proxy.response_header_timeout", "30s")
	v.SetDefault("gateway.backends", map[string]string{
		"auth":    "http://localhost:8081",
		"users":   "http://localhost:8082",
		"teams":   "http://localhost:8083",
		"tasks":   "http://localhost:8084",
		"graphql": "http://localhost:8085",
	})
	v.SetDefault("gateway.routes", []map[string]interface{}{
		{"prefix": "/api/auth", "backend": "auth", "access": "public"},
		{"prefix": "/api/users", "backend": "users", "access": "protected"},
		{"prefix": "/api/teams", "backend": "teams", "access": "protected"},
		{"prefix": "/api/tasks", "backend": "tasks", "access": "protected"},
		{"prefix": "/graphql", "backend": "graphql", "access": "optional"},
	})

	v.SetDefault("rate_limiting.enabled", true)
	v.SetDefault("rate_limiting.default_limit", 100)
	v.SetDefault("rate_limiting.default_window", "1m")
	v.SetDefault("rate_limiting.login_limit", 5)
	v.SetDefault("rate_limiting.login_window", "15m")
	v.SetDefault("rate_limiting.trusted_proxies", []string{})
}
