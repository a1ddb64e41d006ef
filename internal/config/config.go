// internal/config/config.go
package config

import (
	"fmt"
	"strings"
)

// Config is the top-level matchd configuration tree.
//
// Values are loaded from YAML (~/.config/matchd/config.yaml), overridden by
// environment variables, and filled in with defaults. See LoadWithFile.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
	Embedding     EmbeddingConfig     `koanf:"embedding"`
	Index         IndexConfig         `koanf:"index"`
	Scoring       ScoringConfig       `koanf:"scoring"`
	Explain       ExplainConfig       `koanf:"explain"`
	Fairness      FairnessConfig      `koanf:"fairness"`
	Audit         AuditConfig         `koanf:"audit"`
	Taxonomy      TaxonomyConfig      `koanf:"taxonomy"`
	Temporal      TemporalConfig      `koanf:"temporal"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds the user-facing logging knobs. The full logging
// pipeline (sampling, redaction patterns, OTEL bridge) is configured in the
// logging package; these fields select level and encoding.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json or console
}

// ObservabilityConfig controls telemetry export.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	Endpoint        string `koanf:"endpoint"` // OTLP collector endpoint (host:port)
}

// EmbeddingConfig holds embedding provider configuration.
type EmbeddingConfig struct {
	Provider     string          `koanf:"provider"` // hash, tei, fastembed
	Model        string          `koanf:"model"`
	BaseURL      string          `koanf:"base_url"` // TEI service URL
	APIKey       Secret          `koanf:"api_key"`
	Dimension    int             `koanf:"dimension"` // 0 = derive from model name
	ChunkSize    int             `koanf:"chunk_size"`
	ChunkOverlap int             `koanf:"chunk_overlap"`
	CacheDir     string          `koanf:"cache_dir"` // fastembed model cache
	Timeout      Duration        `koanf:"timeout"`
	RateLimit    RateLimitConfig `koanf:"rate_limit"`
	Retry        RetryConfig     `koanf:"retry"`
}

// RateLimitConfig throttles outbound requests to the embedding service.
type RateLimitConfig struct {
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Burst             int     `koanf:"burst"`
}

// RetryConfig controls retry behavior for transient failures.
type RetryConfig struct {
	MaxRetries        int      `koanf:"max_retries"`
	InitialBackoff    Duration `koanf:"initial_backoff"`
	MaxBackoff        Duration `koanf:"max_backoff"`
	BackoffMultiplier float64  `koanf:"backoff_multiplier"`
}

// IndexConfig selects and configures the vector index backend.
type IndexConfig struct {
	Provider string        `koanf:"provider"` // memory, chromem, qdrant
	Chromem  ChromemConfig `koanf:"chromem"`
	Qdrant   QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig holds embedded persistent index configuration.
type ChromemConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// QdrantConfig holds Qdrant gRPC connection configuration.
type QdrantConfig struct {
	Host             string `koanf:"host"`
	Port             int    `koanf:"port"`
	UseTLS           bool   `koanf:"use_tls"`
	APIKey           Secret `koanf:"api_key"`
	CollectionPrefix string `koanf:"collection_prefix"`
	MaxMessageSize   int    `koanf:"max_message_size"` // bytes, applied to send and receive
}

// ScoringConfig holds match scoring configuration.
//
// Weights is keyed by subscore name (semantic, skill_overlap, experience_fit,
// education_fit, keyword_match, location_fit). An empty map means the built-in
// default weights apply.
type ScoringConfig struct {
	Weights                  map[string]float64 `koanf:"weights"`
	ExperienceToleranceYears float64            `koanf:"experience_tolerance_years"`
	RemoteCredit             float64            `koanf:"remote_credit"`
	BatchParallelism         int                `koanf:"batch_parallelism"` // 0 = GOMAXPROCS
}

// ExplainConfig holds explanation strategy configuration.
type ExplainConfig struct {
	Strategy    string  `koanf:"strategy"` // local-surrogate, additive-decomposition
	Samples     int     `koanf:"samples"`
	KernelWidth float64 `koanf:"kernel_width"`
	Tolerance   float64 `koanf:"tolerance"` // max acceptable reconstruction residual
}

// FairnessConfig holds fairness audit thresholds.
type FairnessConfig struct {
	SelectionThreshold float64 `koanf:"selection_threshold"`
	DisparityThreshold float64 `koanf:"disparity_threshold"`
	MinGroupSample     int     `koanf:"min_group_sample"`
}

// AuditConfig holds audit log configuration.
type AuditConfig struct {
	Path          string      `koanf:"path"`
	RetentionDays int         `koanf:"retention_days"`
	Retry         RetryConfig `koanf:"retry"`
	NATS          NATSConfig  `koanf:"nats"`
}

// NATSConfig controls publishing decision events to NATS.
type NATSConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
	Credentials   Secret `koanf:"credentials"`
}

// TaxonomyConfig controls skill taxonomy overrides.
type TaxonomyConfig struct {
	OverridePaths []string `koanf:"override_paths"` // TOML files, merged in order
	Watch         bool     `koanf:"watch"`          // reload overrides on file change
}

// TemporalConfig controls the corpus refresh worker.
type TemporalConfig struct {
	Enabled         bool     `koanf:"enabled"`
	HostPort        string   `koanf:"host_port"`
	Namespace       string   `koanf:"namespace"`
	TaskQueue       string   `koanf:"task_queue"`
	RefreshInterval Duration `koanf:"refresh_interval"`
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.http_port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive")
	}

	// Logging
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}

	// Observability
	if c.Observability.EnableTelemetry {
		if c.Observability.ServiceName == "" {
			return fmt.Errorf("observability.service_name is required when telemetry is enabled")
		}
		if c.Observability.Endpoint == "" {
			return fmt.Errorf("observability.endpoint is required when telemetry is enabled")
		}
	}

	if err := c.validateEmbedding(); err != nil {
		return err
	}
	if err := c.validateIndex(); err != nil {
		return err
	}
	if err := c.validateScoring(); err != nil {
		return err
	}
	if err := c.validateExplain(); err != nil {
		return err
	}
	if err := c.validateFairness(); err != nil {
		return err
	}
	if err := c.validateAudit(); err != nil {
		return err
	}

	if c.Temporal.Enabled {
		if c.Temporal.HostPort == "" {
			return fmt.Errorf("temporal.host_port is required when temporal is enabled")
		}
		if c.Temporal.TaskQueue == "" {
			return fmt.Errorf("temporal.task_queue is required when temporal is enabled")
		}
		if c.Temporal.RefreshInterval.Duration() <= 0 {
			return fmt.Errorf("temporal.refresh_interval must be positive when temporal is enabled")
		}
	}

	return nil
}

func (c *Config) validateEmbedding() error {
	switch c.Embedding.Provider {
	case "hash", "fastembed":
	case "tei":
		if c.Embedding.BaseURL == "" {
			return fmt.Errorf("embedding.base_url is required for provider 'tei'")
		}
		if !strings.HasPrefix(c.Embedding.BaseURL, "http://") && !strings.HasPrefix(c.Embedding.BaseURL, "https://") {
			return fmt.Errorf("embedding.base_url must be an http(s) URL, got %q", c.Embedding.BaseURL)
		}
	default:
		return fmt.Errorf("embedding.provider must be hash, tei, or fastembed, got %q", c.Embedding.Provider)
	}

	if c.Embedding.Dimension < 0 {
		return fmt.Errorf("embedding.dimension must be >= 0, got %d", c.Embedding.Dimension)
	}
	if c.Embedding.ChunkSize < 1 {
		return fmt.Errorf("embedding.chunk_size must be >= 1, got %d", c.Embedding.ChunkSize)
	}
	if c.Embedding.ChunkOverlap < 0 {
		return fmt.Errorf("embedding.chunk_overlap must be >= 0, got %d", c.Embedding.ChunkOverlap)
	}
	if c.Embedding.ChunkOverlap >= c.Embedding.ChunkSize {
		return fmt.Errorf("embedding.chunk_overlap must be smaller than chunk_size (%d >= %d)",
			c.Embedding.ChunkOverlap, c.Embedding.ChunkSize)
	}
	if c.Embedding.Timeout.Duration() <= 0 {
		return fmt.Errorf("embedding.timeout must be positive")
	}
	if c.Embedding.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("embedding.rate_limit.requests_per_second must be >= 0")
	}
	if c.Embedding.RateLimit.RequestsPerSecond > 0 && c.Embedding.RateLimit.Burst < 1 {
		return fmt.Errorf("embedding.rate_limit.burst must be >= 1 when rate limiting is enabled")
	}
	return validateRetry("embedding.retry", c.Embedding.Retry)
}

func (c *Config) validateIndex() error {
	switch c.Index.Provider {
	case "memory":
	case "chromem":
		if c.Index.Chromem.Path == "" {
			return fmt.Errorf("index.chromem.path is required for provider 'chromem'")
		}
	case "qdrant":
		if c.Index.Qdrant.Host == "" {
			return fmt.Errorf("index.qdrant.host is required for provider 'qdrant'")
		}
		if c.Index.Qdrant.Port < 1 || c.Index.Qdrant.Port > 65535 {
			return fmt.Errorf("index.qdrant.port must be 1-65535, got %d", c.Index.Qdrant.Port)
		}
	default:
		return fmt.Errorf("index.provider must be memory, chromem, or qdrant, got %q", c.Index.Provider)
	}
	return nil
}

func (c *Config) validateScoring() error {
	sum := 0.0
	for name, w := range c.Scoring.Weights {
		if w < 0 {
			return fmt.Errorf("scoring.weights.%s must be >= 0, got %f", name, w)
		}
		sum += w
	}
	if len(c.Scoring.Weights) > 0 && sum == 0 {
		return fmt.Errorf("scoring.weights must not all be zero")
	}
	if c.Scoring.ExperienceToleranceYears < 0 {
		return fmt.Errorf("scoring.experience_tolerance_years must be >= 0")
	}
	if c.Scoring.RemoteCredit < 0 || c.Scoring.RemoteCredit > 1 {
		return fmt.Errorf("scoring.remote_credit must be between 0 and 1, got %f", c.Scoring.RemoteCredit)
	}
	if c.Scoring.BatchParallelism < 0 {
		return fmt.Errorf("scoring.batch_parallelism must be >= 0, got %d", c.Scoring.BatchParallelism)
	}
	return nil
}

func (c *Config) validateExplain() error {
	if c.Explain.Strategy != "local-surrogate" && c.Explain.Strategy != "additive-decomposition" {
		return fmt.Errorf("explain.strategy must be 'local-surrogate' or 'additive-decomposition', got %q", c.Explain.Strategy)
	}
	if c.Explain.Samples < 1 {
		return fmt.Errorf("explain.samples must be >= 1, got %d", c.Explain.Samples)
	}
	if c.Explain.KernelWidth <= 0 {
		return fmt.Errorf("explain.kernel_width must be positive, got %f", c.Explain.KernelWidth)
	}
	if c.Explain.Tolerance <= 0 || c.Explain.Tolerance > 1 {
		return fmt.Errorf("explain.tolerance must be in (0, 1], got %f", c.Explain.Tolerance)
	}
	return nil
}

func (c *Config) validateFairness() error {
	if c.Fairness.SelectionThreshold <= 0 || c.Fairness.SelectionThreshold > 1 {
		return fmt.Errorf("fairness.selection_threshold must be in (0, 1], got %f", c.Fairness.SelectionThreshold)
	}
	if c.Fairness.DisparityThreshold <= 0 || c.Fairness.DisparityThreshold > 1 {
		return fmt.Errorf("fairness.disparity_threshold must be in (0, 1], got %f", c.Fairness.DisparityThreshold)
	}
	if c.Fairness.MinGroupSample < 1 {
		return fmt.Errorf("fairness.min_group_sample must be >= 1, got %d", c.Fairness.MinGroupSample)
	}
	return nil
}

func (c *Config) validateAudit() error {
	if c.Audit.Path == "" {
		return fmt.Errorf("audit.path is required")
	}
	if c.Audit.RetentionDays < 0 {
		return fmt.Errorf("audit.retention_days must be >= 0, got %d", c.Audit.RetentionDays)
	}
	if err := validateRetry("audit.retry", c.Audit.Retry); err != nil {
		return err
	}
	if c.Audit.NATS.Enabled {
		if c.Audit.NATS.URL == "" {
			return fmt.Errorf("audit.nats.url is required when NATS publishing is enabled")
		}
		if c.Audit.NATS.SubjectPrefix == "" {
			return fmt.Errorf("audit.nats.subject_prefix is required when NATS publishing is enabled")
		}
	}
	return nil
}

func validateRetry(section string, r RetryConfig) error {
	if r.MaxRetries < 0 {
		return fmt.Errorf("%s.max_retries must be >= 0, got %d", section, r.MaxRetries)
	}
	if r.MaxRetries > 0 {
		if r.InitialBackoff.Duration() <= 0 {
			return fmt.Errorf("%s.initial_backoff must be positive", section)
		}
		if r.MaxBackoff.Duration() < r.InitialBackoff.Duration() {
			return fmt.Errorf("%s.max_backoff must be >= initial_backoff", section)
		}
		if r.BackoffMultiplier < 1 {
			return fmt.Errorf("%s.backoff_multiplier must be >= 1, got %f", section, r.BackoffMultiplier)
		}
	}
	return nil
}
