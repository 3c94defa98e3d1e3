package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for recon-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values. Secrets (passwords, API
// keys) must only come from environment variables.
type Config struct {
	Env     string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version string `yaml:"-"` // Set at load time, not from config

	// Engine store (knowledge graphs, rulesets, KPIs, execution history)
	Store StoreConfig `yaml:"store"`

	// Landing database for staging tables and reconciliation queries
	Landing LandingConfig `yaml:"landing"`

	// LLM endpoint used for graph enhancement, rule suggestion, and NL parsing
	LLM LLMConfig `yaml:"llm"`

	// Extraction behavior for source/target pulls
	Extract ExtractConfig `yaml:"extract"`

	// SchemaDir is the directory holding schema descriptor files.
	SchemaDir string `yaml:"schema_dir" env:"SCHEMA_DIR" env-default:"./schemas"`

	// MinConfidence is the default threshold below which inferred
	// relationships and generated rules are discarded.
	MinConfidence float64 `yaml:"min_confidence" env:"MIN_CONFIDENCE" env-default:"0.7"`

	// ExcludedFieldsOverride replaces the built-in excluded-fields set when
	// non-empty. Comma-separated, compared case-sensitively.
	ExcludedFieldsOverride string `yaml:"excluded_fields_override" env:"EXCLUDED_FIELDS_OVERRIDE" env-default:""`

	// CacheStalenessDays rejects isSQLCached=true when the latest successful
	// execution is older than this many days. 0 disables the check.
	CacheStalenessDays int `yaml:"cache_staleness_days" env:"CACHE_STALENESS_DAYS" env-default:"0"`
}

// StoreConfig holds the engine-store PostgreSQL configuration.
type StoreConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"recon"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"recon_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// ConnectionString returns a PostgreSQL connection string.
func (c *StoreConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LandingConfig holds the landing database configuration. The landing DB
// hosts staging tables and runs the single-statement reconciliation queries.
type LandingConfig struct {
	Host           string `yaml:"host" env:"LANDING_HOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"LANDING_PORT" env-default:"5432"`
	User           string `yaml:"user" env:"LANDING_USER" env-default:"recon"`
	Password       string `yaml:"-" env:"LANDING_PASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"LANDING_DATABASE" env-default:"recon_landing"`
	MaxConnections int32  `yaml:"max_connections" env:"LANDING_MAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"LANDING_SSLMODE" env-default:"disable"`

	// StagingTTLHours is how long staging tables live before cleanup.
	StagingTTLHours int `yaml:"staging_ttl_hours" env:"STAGING_TTL_HOURS" env-default:"24"`

	// BulkLoadEnabled selects the server-side bulk-copy path when true;
	// batched INSERTs otherwise.
	BulkLoadEnabled bool `yaml:"bulk_load_enabled" env:"BULK_LOAD_ENABLED" env-default:"true"`
}

// ConnectionString returns a PostgreSQL connection string for the landing DB.
func (c *LandingConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// StagingTTL returns the staging retention as a duration.
func (c *LandingConfig) StagingTTL() time.Duration {
	return time.Duration(c.StagingTTLHours) * time.Hour
}

// Supported LLM providers.
const (
	LLMProviderOpenAI    = "openai"
	LLMProviderAnthropic = "anthropic"
)

// LLMConfig holds LLM endpoint configuration.
type LLMConfig struct {
	// Provider selects the client implementation: "openai" (any
	// OpenAI-compatible endpoint) or "anthropic".
	Provider string `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`
	Endpoint string `yaml:"endpoint" env:"LLM_ENDPOINT" env-default:""`
	Model    string `yaml:"model" env:"LLM_MODEL" env-default:""`
	APIKey   string `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML

	// TimeoutSeconds is the adapter's internal budget per call.
	TimeoutSeconds int `yaml:"timeout_seconds" env:"LLM_TIMEOUT_SECONDS" env-default:"60"`

	// MaxAttempts bounds transport-level retries per call.
	MaxAttempts int `yaml:"max_attempts" env:"LLM_MAX_ATTEMPTS" env-default:"3"`
}

// IsAvailable returns true if an LLM endpoint is configured.
func (c *LLMConfig) IsAvailable() bool {
	return c.Endpoint != "" && c.Model != ""
}

// Timeout returns the per-call budget as a duration.
func (c *LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ExtractConfig holds source/target extraction settings.
type ExtractConfig struct {
	// BatchSize is the page size for reads and bulk writes.
	BatchSize int `yaml:"batch_size" env:"EXTRACT_BATCH_SIZE" env-default:"10000"`

	// ConnectTimeoutSeconds is the source connect timeout. Hard minimum 60.
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds" env:"EXTRACT_CONNECT_TIMEOUT_SECONDS" env-default:"60"`

	// QueryTimeoutSeconds is the socket/query timeout. Hard minimum 120.
	QueryTimeoutSeconds int `yaml:"query_timeout_seconds" env:"EXTRACT_QUERY_TIMEOUT_SECONDS" env-default:"120"`
}

// ConnectTimeout returns the connect timeout as a duration.
func (c *ExtractConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

// QueryTimeout returns the query timeout as a duration.
func (c *ExtractConfig) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutSeconds) * time.Second
}

// Load reads configuration from config.yaml with environment variable
// overrides. The version parameter is injected at build time.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate enforces the hard timeout minimums and value ranges. Anything
// below the connect/query minimums is treated as misconfiguration.
func (c *Config) Validate() error {
	if c.Extract.ConnectTimeoutSeconds < 60 {
		return fmt.Errorf("extract.connect_timeout_seconds must be >= 60, got %d", c.Extract.ConnectTimeoutSeconds)
	}
	if c.Extract.QueryTimeoutSeconds < 120 {
		return fmt.Errorf("extract.query_timeout_seconds must be >= 120, got %d", c.Extract.QueryTimeoutSeconds)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be in [0,1], got %f", c.MinConfidence)
	}
	if c.Extract.BatchSize <= 0 {
		return fmt.Errorf("extract.batch_size must be positive, got %d", c.Extract.BatchSize)
	}
	if c.Landing.StagingTTLHours <= 0 {
		return fmt.Errorf("landing.staging_ttl_hours must be positive, got %d", c.Landing.StagingTTLHours)
	}
	if c.LLM.Provider != LLMProviderOpenAI && c.LLM.Provider != LLMProviderAnthropic {
		return fmt.Errorf("llm.provider must be %q or %q, got %q", LLMProviderOpenAI, LLMProviderAnthropic, c.LLM.Provider)
	}
	return nil
}

// ExcludedFields returns the override set parsed from configuration, or nil
// when the built-in set should be used.
func (c *Config) ExcludedFields() []string {
	if c.ExcludedFieldsOverride == "" {
		return nil
	}
	parts := strings.Split(c.ExcludedFieldsOverride, ",")
	fields := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			fields = append(fields, trimmed)
		}
	}
	return fields
}
