package domain

import (
	"time"
)

// Knowledge-base sources accepted by KnowledgeBaseConfig.Source
const (
	SourceEmbedded = "embedded"
	SourceFile     = "file"
	SourcePostgres = "postgres"
	SourceSQLite   = "sqlite"
)

// Config represents the main application configuration
type Config struct {
	Environment   string              `mapstructure:"environment"`
	Server        ServerConfig        `mapstructure:"server"`
	KnowledgeBase KnowledgeBaseConfig `mapstructure:"knowledge_base"`
	Inference     InferenceConfig     `mapstructure:"inference"`
	Cache         CacheConfig         `mapstructure:"cache"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
	Database      DatabaseConfig      `mapstructure:"database"`
	SQLite        SQLiteConfig        `mapstructure:"sqlite"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	MCP           MCPConfig           `mapstructure:"mcp"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// KnowledgeBaseConfig says where the knowledge base is loaded from
type KnowledgeBaseConfig struct {
	Source            string        `mapstructure:"source"` // embedded, file, postgres, sqlite
	Path              string        `mapstructure:"path"`   // file path when source is file
	Name              string        `mapstructure:"name"`   // snapshot name for postgres/sqlite
	Watch             bool          `mapstructure:"watch"`  // reload file on change
	WatchDebounce     time.Duration `mapstructure:"watch_debounce"`
	DefaultConfidence float64       `mapstructure:"default_confidence"`
}

// InferenceConfig holds boundary policies around the engine
type InferenceConfig struct {
	DefaultMode             string `mapstructure:"default_mode"`
	TopK                    int    `mapstructure:"top_k"`
	ScorePrecision          int    `mapstructure:"score_precision"`
	InconclusivePlaceholder bool   `mapstructure:"inconclusive_placeholder"`
	IncludeMatches          bool   `mapstructure:"include_matches"`
}

// CacheConfig represents result cache configuration
type CacheConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxItems    int           `mapstructure:"max_items"`
	TTL         time.Duration `mapstructure:"ttl"`
	RedisURL    string        `mapstructure:"redis_url"`
	MaxRetries  int           `mapstructure:"max_retries"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`
	Breaker     BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig represents circuit breaker configuration for the Redis tier
type BreakerConfig struct {
	MaxRequests      uint32        `mapstructure:"max_requests"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
}

// RateLimitConfig represents per-client request limits
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// DatabaseConfig represents database connection configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SQLiteConfig locates the offline snapshot store
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MCPConfig represents MCP server configuration
type MCPConfig struct {
	ServerName    string `mapstructure:"server_name"`
	ServerVersion string `mapstructure:"server_version"`
}
