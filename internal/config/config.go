package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"

	"github.com/symptom-expert-server/internal/domain"
)

// EnvPrefix prefixes every environment override, e.g. SYMPTOM_EXPERT_SERVER_PORT.
const EnvPrefix = "SYMPTOM_EXPERT"

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	v          *viper.Viper
	configFile string
	config     *domain.Config
}

// NewManager creates a new configuration manager. configFile may be empty,
// in which case config.yaml is searched in the usual locations.
func NewManager(configFile string) (*Manager, error) {
	m := &Manager{configFile: configFile}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	v := viper.New()

	if m.configFile != "" {
		v.SetConfigFile(m.configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/symptom-expert/")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Config file is optional unless one was named explicitly
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if m.configFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.v = v
	m.config = config
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.request_timeout", "10s")

	// Knowledge base defaults
	v.SetDefault("knowledge_base.source", domain.SourceEmbedded)
	v.SetDefault("knowledge_base.path", "")
	v.SetDefault("knowledge_base.name", "default")
	v.SetDefault("knowledge_base.watch", false)
	v.SetDefault("knowledge_base.watch_debounce", "250ms")
	v.SetDefault("knowledge_base.default_confidence", 0.5)

	// Inference defaults
	v.SetDefault("inference.default_mode", string(domain.ModeForward))
	v.SetDefault("inference.top_k", 3)
	v.SetDefault("inference.score_precision", 3)
	v.SetDefault("inference.inconclusive_placeholder", true)
	v.SetDefault("inference.include_matches", true)

	// Cache defaults
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.max_items", 1000)
	v.SetDefault("cache.ttl", "10m")
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.max_retries", 3)
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.pool_timeout", "4s")
	v.SetDefault("cache.breaker.max_requests", 1)
	v.SetDefault("cache.breaker.interval", "60s")
	v.SetDefault("cache.breaker.timeout", "30s")
	v.SetDefault("cache.breaker.failure_threshold", 5)

	// Rate limit defaults
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 20.0)
	v.SetDefault("rate_limit.burst", 40)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "symptom_expert")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.conn_max_idle_time", "30m")
	v.SetDefault("database.migrations_path", "")

	// SQLite defaults
	v.SetDefault("sqlite.path", "symptom-expert.db")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// MCP defaults
	v.SetDefault("mcp.server_name", "symptom-expert")
	v.SetDefault("mcp.server_version", "1.0.0")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// GetKnowledgeBaseConfig returns knowledge base source configuration
func (m *Manager) GetKnowledgeBaseConfig() *domain.KnowledgeBaseConfig {
	return &m.config.KnowledgeBase
}

// GetInferenceConfig returns inference policy configuration
func (m *Manager) GetInferenceConfig() *domain.InferenceConfig {
	return &m.config.Inference
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	// Validate server configuration
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	// Validate knowledge base configuration
	switch config.KnowledgeBase.Source {
	case domain.SourceEmbedded:
	case domain.SourceFile:
		if config.KnowledgeBase.Path == "" {
			return fmt.Errorf("knowledge base path is required when source is %q", domain.SourceFile)
		}
	case domain.SourcePostgres, domain.SourceSQLite:
		if config.KnowledgeBase.Name == "" {
			return fmt.Errorf("knowledge base name is required when source is %q", config.KnowledgeBase.Source)
		}
	default:
		return fmt.Errorf("invalid knowledge base source: %s", config.KnowledgeBase.Source)
	}
	if config.KnowledgeBase.Watch && config.KnowledgeBase.Source != domain.SourceFile {
		return fmt.Errorf("knowledge base watch requires source %q", domain.SourceFile)
	}
	if c := config.KnowledgeBase.DefaultConfidence; c < 0 || c > 1 {
		return fmt.Errorf("invalid default confidence: %v", c)
	}

	// Validate inference configuration
	if _, err := domain.ParseInferenceMode(config.Inference.DefaultMode); err != nil {
		return fmt.Errorf("invalid default inference mode: %w", err)
	}
	if config.Inference.TopK < 1 {
		return fmt.Errorf("invalid top_k: %d", config.Inference.TopK)
	}
	if config.Inference.ScorePrecision < 0 || config.Inference.ScorePrecision > 10 {
		return fmt.Errorf("invalid score precision: %d", config.Inference.ScorePrecision)
	}

	// Validate cache configuration
	if config.Cache.MaxItems < 0 {
		return fmt.Errorf("invalid cache max_items: %d", config.Cache.MaxItems)
	}
	if config.Cache.TTL < 0 {
		return fmt.Errorf("invalid cache ttl: %s", config.Cache.TTL)
	}
	if config.Cache.RedisURL != "" {
		if _, err := url.Parse(config.Cache.RedisURL); err != nil {
			return fmt.Errorf("invalid Redis URL: %w", err)
		}
	}

	// Validate rate limit configuration
	if config.RateLimit.Enabled && (config.RateLimit.RequestsPerSecond <= 0 || config.RateLimit.Burst < 1) {
		return fmt.Errorf("invalid rate limit: %v req/s, burst %d", config.RateLimit.RequestsPerSecond, config.RateLimit.Burst)
	}

	// Validate database configuration
	if config.KnowledgeBase.Source == domain.SourcePostgres {
		if config.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if config.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if config.Database.Username == "" {
			return fmt.Errorf("database username is required")
		}
	}
	if config.KnowledgeBase.Source == domain.SourceSQLite && config.SQLite.Path == "" {
		return fmt.Errorf("sqlite path is required")
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}
	switch strings.ToLower(config.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", config.Logging.Format)
	}

	return nil
}

// GetDatabaseConnectionString returns a formatted database connection string
func (m *Manager) GetDatabaseConnectionString() string {
	db := m.config.Database
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}

// GetDatabaseURL returns the database as a URL, the form golang-migrate expects
func (m *Manager) GetDatabaseURL() string {
	db := m.config.Database
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(db.Username, db.Password),
		Host:     fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:     "/" + db.Database,
		RawQuery: url.Values{"sslmode": []string{db.SSLMode}}.Encode(),
	}
	return u.String()
}

// GetRedisConnectionString returns the Redis connection string
func (m *Manager) GetRedisConnectionString() string {
	return m.config.Cache.RedisURL
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.config.Environment) == "production"
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(m.config.Environment)
	return env == "development" || env == "dev" || env == ""
}
