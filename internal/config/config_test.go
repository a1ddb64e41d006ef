package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"
)

// validConfig returns a fully populated config that passes validation.
func validConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// TestValidate_Defaults verifies that the default configuration is valid.
func TestValidate_Defaults(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got: %v", err)
	}
}

// TestValidate_Errors exercises each validation branch with one bad value.
func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "port too low",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "http_port",
		},
		{
			name:    "port too high",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "http_port",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
		{
			name: "telemetry without endpoint",
			mutate: func(c *Config) {
				c.Observability.EnableTelemetry = true
				c.Observability.Endpoint = ""
			},
			wantErr: "observability.endpoint",
		},
		{
			name:    "unknown embedding provider",
			mutate:  func(c *Config) { c.Embedding.Provider = "bert" },
			wantErr: "embedding.provider",
		},
		{
			name: "tei without base url",
			mutate: func(c *Config) {
				c.Embedding.Provider = "tei"
				c.Embedding.BaseURL = ""
			},
			wantErr: "base_url",
		},
		{
			name: "tei with non-http base url",
			mutate: func(c *Config) {
				c.Embedding.Provider = "tei"
				c.Embedding.BaseURL = "grpc://localhost:8080"
			},
			wantErr: "base_url",
		},
		{
			name:    "zero chunk size",
			mutate:  func(c *Config) { c.Embedding.ChunkSize = 0 },
			wantErr: "chunk_size",
		},
		{
			name: "overlap not smaller than chunk size",
			mutate: func(c *Config) {
				c.Embedding.ChunkSize = 100
				c.Embedding.ChunkOverlap = 100
			},
			wantErr: "chunk_overlap",
		},
		{
			name:    "negative rate limit",
			mutate:  func(c *Config) { c.Embedding.RateLimit.RequestsPerSecond = -1 },
			wantErr: "requests_per_second",
		},
		{
			name: "retry multiplier below one",
			mutate: func(c *Config) {
				c.Embedding.Retry.BackoffMultiplier = 0.5
			},
			wantErr: "backoff_multiplier",
		},
		{
			name:    "unknown index provider",
			mutate:  func(c *Config) { c.Index.Provider = "weaviate" },
			wantErr: "index.provider",
		},
		{
			name: "chromem without path",
			mutate: func(c *Config) {
				c.Index.Provider = "chromem"
				c.Index.Chromem.Path = ""
			},
			wantErr: "chromem.path",
		},
		{
			name: "qdrant without host",
			mutate: func(c *Config) {
				c.Index.Provider = "qdrant"
				c.Index.Qdrant.Host = ""
			},
			wantErr: "qdrant.host",
		},
		{
			name:    "negative weight",
			mutate:  func(c *Config) { c.Scoring.Weights = map[string]float64{"semantic": -0.2} },
			wantErr: "weights",
		},
		{
			name:    "all-zero weights",
			mutate:  func(c *Config) { c.Scoring.Weights = map[string]float64{"semantic": 0, "skill_overlap": 0} },
			wantErr: "weights",
		},
		{
			name:    "remote credit above one",
			mutate:  func(c *Config) { c.Scoring.RemoteCredit = 1.5 },
			wantErr: "remote_credit",
		},
		{
			name:    "unknown explain strategy",
			mutate:  func(c *Config) { c.Explain.Strategy = "anchors" },
			wantErr: "explain.strategy",
		},
		{
			name:    "zero explain samples",
			mutate:  func(c *Config) { c.Explain.Samples = 0 },
			wantErr: "samples",
		},
		{
			name:    "selection threshold above one",
			mutate:  func(c *Config) { c.Fairness.SelectionThreshold = 2 },
			wantErr: "selection_threshold",
		},
		{
			name:    "zero min group sample",
			mutate:  func(c *Config) { c.Fairness.MinGroupSample = 0 },
			wantErr: "min_group_sample",
		},
		{
			name:    "empty audit path",
			mutate:  func(c *Config) { c.Audit.Path = "" },
			wantErr: "audit.path",
		},
		{
			name: "nats enabled without url",
			mutate: func(c *Config) {
				c.Audit.NATS.Enabled = true
				c.Audit.NATS.URL = ""
			},
			wantErr: "nats.url",
		},
		{
			name: "temporal enabled without host",
			mutate: func(c *Config) {
				c.Temporal.Enabled = true
				c.Temporal.HostPort = ""
			},
			wantErr: "temporal.host_port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

// TestValidate_ValidWeights verifies that partial weight maps are accepted.
func TestValidate_ValidWeights(t *testing.T) {
	cfg := validConfig()
	cfg.Scoring.Weights = map[string]float64{
		"semantic":      0.5,
		"skill_overlap": 0.5,
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil for valid weights", err)
	}
}

// TestApplyDefaults_Retry verifies retry defaults fill in unset fields only.
func TestApplyDefaults_Retry(t *testing.T) {
	r := RetryConfig{MaxRetries: 5}
	applyRetryDefaults(&r)

	if r.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5 (explicit value preserved)", r.MaxRetries)
	}
	if r.InitialBackoff.Duration() != time.Second {
		t.Errorf("InitialBackoff = %v, want 1s", r.InitialBackoff.Duration())
	}
	if r.MaxBackoff.Duration() != 30*time.Second {
		t.Errorf("MaxBackoff = %v, want 30s", r.MaxBackoff.Duration())
	}
	if r.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %f, want 2.0", r.BackoffMultiplier)
	}
}

// TestDuration_UnmarshalText tests duration parsing from config values.
func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("90s")); err != nil {
		t.Fatalf("UnmarshalText(90s) error = %v", err)
	}
	if d.Duration() != 90*time.Second {
		t.Errorf("Duration() = %v, want 90s", d.Duration())
	}

	if err := d.UnmarshalText([]byte("-5s")); err == nil {
		t.Error("UnmarshalText(-5s) should reject negative durations")
	}

	if err := d.UnmarshalText([]byte("not-a-duration")); err == nil {
		t.Error("UnmarshalText should reject invalid input")
	}
}

// TestSecret_Redaction verifies secrets never leak through formatting.
func TestSecret_Redaction(t *testing.T) {
	s := Secret("hunter2")

	if got := s.String(); got != "[REDACTED]" {
		t.Errorf("String() = %q, want [REDACTED]", got)
	}
	if got := fmt.Sprintf("%v", s); got != "[REDACTED]" {
		t.Errorf("Sprintf(%%v) = %q, want [REDACTED]", got)
	}
	if got := fmt.Sprintf("%#v", s); !strings.Contains(got, "REDACTED") {
		t.Errorf("Sprintf(%%#v) = %q, want redacted", got)
	}

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}
	if string(data) != `"[REDACTED]"` {
		t.Errorf("MarshalJSON = %s, want \"[REDACTED]\"", data)
	}

	if s.Value() != "hunter2" {
		t.Errorf("Value() = %q, want raw secret", s.Value())
	}

	// Empty secrets stay empty rather than advertising a redaction
	var empty Secret
	if empty.String() != "" {
		t.Errorf("empty String() = %q, want empty", empty.String())
	}
}

// TestSecret_Unmarshal verifies secrets accept raw values from config sources.
func TestSecret_Unmarshal(t *testing.T) {
	var s Secret
	if err := json.Unmarshal([]byte(`"api-key-123"`), &s); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}
	if s.Value() != "api-key-123" {
		t.Errorf("Value() = %q, want api-key-123", s.Value())
	}

	var ts Secret
	if err := ts.UnmarshalText([]byte("nats-creds")); err != nil {
		t.Fatalf("UnmarshalText error = %v", err)
	}
	if ts.Value() != "nats-creds" {
		t.Errorf("Value() = %q, want nats-creds", ts.Value())
	}
}
