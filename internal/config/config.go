package config

import (
	"context"
	"strings"
	"time"
)

// ListenerConfig holds the network/TLS settings for a single listener (main or management).
type ListenerConfig struct {
	Port              int
	EnablePlainText   bool
	EnableTLS         bool
	TLSCertFile       string
	TLSKeyFile        string
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

const (
	ModeProd    = "prod"
	ModeTesting = "testing"
)

// Config holds all configuration for the chat service.
type Config struct {
	// Mode controls security behavior: "prod" (default) or "testing".
	// In testing mode a bearer token that is a bare user id is accepted.
	Mode string

	// Database
	DBURL string

	// Datastore backend type
	DatastoreType string // "postgres", "sqlite", "mongo" or "memory"

	// Run datastore migrations on startup.
	DatastoreMigrateAtStart bool

	// Cache backend type
	CacheType string // "redis", "local", or "none"

	// Redis
	RedisURL string

	// TTL for cached conversation participant sets.
	CacheTTL time.Duration
	// Upper bound on entries held by the local cache.
	CacheMaxEntries int64

	// OIDC
	OIDCIssuer       string
	OIDCDiscoveryURL string // Internal URL for OIDC discovery (when issuer URL is not reachable)

	// JWTSecret enables HS256 bearer tokens signed with a shared secret.
	JWTSecret string
	// JWTIssuer, when set, must match the iss claim of HS256 tokens.
	JWTIssuer string

	// Comma-separated user ids treated as privileged regardless of stored flags.
	PrivilegedUsers string
	// OIDC role that marks a caller as privileged.
	PrivilegedOIDCRole string
	// Log every request served to a privileged caller.
	PrivilegedAudit bool

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	// Defaults to "service=chat-service".
	MetricsLabels string

	// Server
	Listener           ListenerConfig
	ManagementListener ListenerConfig
	// ManagementListenerEnabled is true when --management-port (or CHAT_SERVICE_MANAGEMENT_PORT)
	// was explicitly provided. When false, management endpoints are served on the main port.
	ManagementListenerEnabled bool
	// ManagementAccessLog enables HTTP access logging for management endpoints (/health, /ready, /metrics).
	ManagementAccessLog bool
	CORSEnabled         bool
	CORSOrigins         string

	// Body size limit (bytes)
	MaxBodySize int64

	// Maximum message body length in characters; 0 disables the check.
	MaxMessageLength int

	// Page sizes
	DefaultPageSize int
	MaxPageSize     int

	// Graceful shutdown drain timeout (seconds)
	DrainTimeout int

	// DB pool
	DBMaxOpenConns int
	DBMaxIdleConns int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:                    ModeProd,
		DatastoreType:           "postgres",
		DatastoreMigrateAtStart: true,
		CacheType:               "none",
		CacheTTL:                10 * time.Minute,
		CacheMaxEntries:         100_000,
		PrivilegedOIDCRole:      "admin",
		PrivilegedAudit:         true,
		Listener: ListenerConfig{
			Port:              8080,
			EnablePlainText:   true,
			EnableTLS:         true,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ManagementListener: ListenerConfig{
			EnablePlainText: true,
			EnableTLS:       true,
		},
		MaxBodySize:      1024 * 1024,
		MaxMessageLength: 10_000,
		DefaultPageSize:  20,
		MaxPageSize:      100,
		DrainTimeout:     30,
		DBMaxOpenConns:   25,
		DBMaxIdleConns:   5,
	}
}

// PrivilegedUserSet parses PrivilegedUsers into a lookup set.
func (c *Config) PrivilegedUserSet() map[string]bool {
	result := map[string]bool{}
	if c == nil {
		return result
	}
	for _, part := range strings.Split(c.PrivilegedUsers, ",") {
		item := strings.ToLower(strings.TrimSpace(part))
		if item == "" {
			continue
		}
		result[item] = true
	}
	return result
}
