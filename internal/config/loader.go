// Package config provides configuration loading for matchd.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB
)

// LoadWithFile loads configuration from YAML file, then overrides with environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SERVER_HTTP_PORT, EMBEDDING_CHUNK_SIZE, etc.)
//  2. YAML config file (~/.config/matchd/config.yaml)
//  3. Hardcoded defaults
//
// The configPath parameter specifies the YAML file to load. If empty, uses default path.
// Default path: ~/.config/matchd/config.yaml
//
// # Security Considerations
//
// File Permissions: Configuration file MUST have 0600 permissions (owner read/write only).
// Files with weaker permissions (e.g., 0644 world-readable) will be rejected.
//
// Path Validation: Only configuration files in allowed directories can be loaded:
//   - ~/.config/matchd/ (user's config directory)
//   - /etc/matchd/ (system-wide config directory)
//
// Absolute paths outside these directories are rejected to prevent path traversal attacks.
//
// File Size Limit: Configuration files larger than 1MB are rejected to prevent
// resource exhaustion attacks.
//
// # Environment Variable Mapping
//
// Environment variables use underscore separator and are uppercased.
// The transformer maps environment variables to YAML field names:
//
//	SERVER_HTTP_PORT -> server.http_port
//	EMBEDDING_CHUNK_SIZE -> embedding.chunk_size
//	FAIRNESS_MIN_GROUP_SAMPLE -> fairness.min_group_sample
//
// Nested subsections (index.qdrant.*, audit.nats.*) are YAML-only.
//
// # Example
//
//	cfg, err := config.LoadWithFile("")  // Use default path
//	if err != nil {
//	    log.Fatal(err)
//	}
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	// Use default config path if not specified
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "matchd", "config.yaml")
	}

	// Validate config path (even if file doesn't exist)
	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}
	// Load from YAML file if it exists
	if _, err := os.Stat(configPath); err == nil {
		// Open file once and validate using file descriptor to avoid TOCTOU race
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		// Validate file properties using already-opened file descriptor
		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}

		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		// Read content from already-opened file
		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Use rawbytes provider to avoid re-opening the file
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Override with environment variables
	// Environment variables use underscore separator and are uppercased
	// Example: SERVER_HTTP_PORT -> server.http_port
	if err := k.Load(env.Provider("", ".", func(s string) string {
		// Split on first underscore only (section.field_name pattern)
		//
		// Examples:
		//   SERVER_HTTP_PORT -> server.http_port
		//   EMBEDDING_CHUNK_SIZE -> embedding.chunk_size
		//   SCORING_BATCH_PARALLELISM -> scoring.batch_parallelism
		lower := strings.ToLower(s)
		parts := strings.SplitN(lower, "_", 2)

		if len(parts) == 1 {
			// No underscore: simple field (unlikely for config)
			return lower
		}

		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Unmarshal into Config struct
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// EnsureConfigDir creates the matchd config directory if it doesn't exist.
// This is called during startup to ensure new users have the config directory ready.
// The directory is created with 0700 permissions (owner read/write/execute only).
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(home, ".config", "matchd")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}

	return nil
}

// ExpandPath expands a leading "~/" to the user's home directory.
// Paths without the prefix are returned unchanged.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, path[2:]), nil
}

// validateConfigPath checks if path is in allowed directories.
// This validation runs even if the file doesn't exist yet.
func validateConfigPath(path string) error {
	// Resolve to absolute path and follow symlinks to prevent path traversal
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	// Resolve symlinks to prevent attackers from using symlinks to escape allowed directories
	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		// If symlink evaluation fails, continue with absPath
		// This allows validation of paths that dont exist yet
		resolvedPath = absPath
	}

	// Check if path is in allowed directories
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", "matchd"),
		"/etc/matchd",
	}

	allowed := false
	for _, dir := range allowedDirs {
		if strings.HasPrefix(resolvedPath, dir) {
			allowed = true
			break
		}
	}

	if !allowed {
		return fmt.Errorf("config file must be in ~/.config/matchd/ or /etc/matchd/")
	}

	return nil
}

// validateConfigFileProperties checks file permissions and size.
// This validation only runs if the file exists.
// Takes FileInfo from an already-opened file descriptor to avoid TOCTOU race.
func validateConfigFileProperties(info os.FileInfo) error {
	// Check file permissions (must be 0600 or 0400)
	// Skip on Windows (different permission model)
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	// Check file size (max 1MB)
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8700
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	// Observability defaults
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "matchd"
	}
	if cfg.Observability.Endpoint == "" {
		cfg.Observability.Endpoint = "localhost:4317"
	}

	// Embedding defaults (hash is default - deterministic, no external deps)
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "hash"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embedding.BaseURL == "" && cfg.Embedding.Provider == "tei" {
		cfg.Embedding.BaseURL = "http://localhost:8080"
	}
	if cfg.Embedding.ChunkSize == 0 {
		cfg.Embedding.ChunkSize = 512
	}
	if cfg.Embedding.ChunkOverlap == 0 {
		cfg.Embedding.ChunkOverlap = 64
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = Duration(30 * time.Second)
	}
	if cfg.Embedding.RateLimit.RequestsPerSecond > 0 && cfg.Embedding.RateLimit.Burst == 0 {
		cfg.Embedding.RateLimit.Burst = int(cfg.Embedding.RateLimit.RequestsPerSecond) + 1
	}
	applyRetryDefaults(&cfg.Embedding.Retry)

	// Index defaults (memory is default - embedded, no persistence required)
	if cfg.Index.Provider == "" {
		cfg.Index.Provider = "memory"
	}
	if cfg.Index.Chromem.Path == "" {
		cfg.Index.Chromem.Path = "~/.config/matchd/index"
	}
	if cfg.Index.Qdrant.Host == "" {
		cfg.Index.Qdrant.Host = "localhost"
	}
	if cfg.Index.Qdrant.Port == 0 {
		cfg.Index.Qdrant.Port = 6334
	}
	if cfg.Index.Qdrant.CollectionPrefix == "" {
		cfg.Index.Qdrant.CollectionPrefix = "matchd"
	}
	if cfg.Index.Qdrant.MaxMessageSize == 0 {
		cfg.Index.Qdrant.MaxMessageSize = 100 * 1024 * 1024
	}

	// Scoring defaults (weights left empty - scorer applies built-in defaults)
	if cfg.Scoring.ExperienceToleranceYears == 0 {
		cfg.Scoring.ExperienceToleranceYears = 2.0
	}
	if cfg.Scoring.RemoteCredit == 0 {
		cfg.Scoring.RemoteCredit = 0.5
	}

	// Explain defaults
	if cfg.Explain.Strategy == "" {
		cfg.Explain.Strategy = "local-surrogate"
	}
	if cfg.Explain.Samples == 0 {
		cfg.Explain.Samples = 100
	}
	if cfg.Explain.KernelWidth == 0 {
		cfg.Explain.KernelWidth = 0.25
	}
	if cfg.Explain.Tolerance == 0 {
		cfg.Explain.Tolerance = 0.05
	}

	// Fairness defaults (four-fifths rule)
	if cfg.Fairness.SelectionThreshold == 0 {
		cfg.Fairness.SelectionThreshold = 0.7
	}
	if cfg.Fairness.DisparityThreshold == 0 {
		cfg.Fairness.DisparityThreshold = 0.8
	}
	if cfg.Fairness.MinGroupSample == 0 {
		cfg.Fairness.MinGroupSample = 30
	}

	// Audit defaults
	if cfg.Audit.Path == "" {
		cfg.Audit.Path = "~/.config/matchd/audit"
	}
	if cfg.Audit.RetentionDays == 0 {
		cfg.Audit.RetentionDays = 90
	}
	applyRetryDefaults(&cfg.Audit.Retry)
	if cfg.Audit.NATS.URL == "" {
		cfg.Audit.NATS.URL = "nats://127.0.0.1:4222"
	}
	if cfg.Audit.NATS.SubjectPrefix == "" {
		cfg.Audit.NATS.SubjectPrefix = "decisions"
	}

	// Temporal defaults
	if cfg.Temporal.HostPort == "" {
		cfg.Temporal.HostPort = "localhost:7233"
	}
	if cfg.Temporal.Namespace == "" {
		cfg.Temporal.Namespace = "default"
	}
	if cfg.Temporal.TaskQueue == "" {
		cfg.Temporal.TaskQueue = "matchd-corpus-refresh"
	}
	if cfg.Temporal.RefreshInterval == 0 {
		cfg.Temporal.RefreshInterval = Duration(24 * time.Hour)
	}
}

func applyRetryDefaults(r *RetryConfig) {
	if r.MaxRetries == 0 {
		r.MaxRetries = 3
	}
	if r.InitialBackoff == 0 {
		r.InitialBackoff = Duration(1 * time.Second)
	}
	if r.MaxBackoff == 0 {
		r.MaxBackoff = Duration(30 * time.Second)
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 2.0
	}
}
