package config

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// setupTestHome creates a temporary home directory for testing.
// Returns the home dir path and a cleanup function.
func setupTestHome(t *testing.T) (string, func()) {
	t.Helper()

	// Create temp dir for fake home
	tmpHome := t.TempDir()

	// Save original HOME
	originalHome := os.Getenv("HOME")

	// Set HOME to temp dir
	os.Setenv("HOME", tmpHome)

	// Return cleanup function
	cleanup := func() {
		if originalHome != "" {
			os.Setenv("HOME", originalHome)
		} else {
			os.Unsetenv("HOME")
		}
	}

	return tmpHome, cleanup
}

// writeTestConfig writes YAML content into the allowed config directory.
func writeTestConfig(t *testing.T, home, content string) string {
	t.Helper()

	configDir := filepath.Join(home, ".config", "matchd")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return configPath
}

// TestLoadWithFile_ValidYAML tests loading configuration from a valid YAML file.
func TestLoadWithFile_ValidYAML(t *testing.T) {
	home, cleanup := setupTestHome(t)
	defer cleanup()

	configPath := writeTestConfig(t, home, `server:
  http_port: 8701

embedding:
  provider: hash
  chunk_size: 256
  chunk_overlap: 32

fairness:
  min_group_sample: 50
`)

	cfg, err := LoadWithFile(configPath)
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v, want nil", err)
	}

	if cfg.Server.Port != 8701 {
		t.Errorf("Server.Port = %d, want 8701", cfg.Server.Port)
	}
	if cfg.Embedding.ChunkSize != 256 {
		t.Errorf("Embedding.ChunkSize = %d, want 256", cfg.Embedding.ChunkSize)
	}
	if cfg.Embedding.ChunkOverlap != 32 {
		t.Errorf("Embedding.ChunkOverlap = %d, want 32", cfg.Embedding.ChunkOverlap)
	}
	if cfg.Fairness.MinGroupSample != 50 {
		t.Errorf("Fairness.MinGroupSample = %d, want 50", cfg.Fairness.MinGroupSample)
	}
}

// TestLoadWithFile_EnvironmentOverride tests that environment variables override YAML.
func TestLoadWithFile_EnvironmentOverride(t *testing.T) {
	home, cleanup := setupTestHome(t)
	defer cleanup()

	configPath := writeTestConfig(t, home, `server:
  http_port: 8700

embedding:
  provider: hash
  chunk_size: 512
`)

	os.Setenv("SERVER_HTTP_PORT", "7777")
	os.Setenv("EMBEDDING_CHUNK_SIZE", "128")
	defer os.Unsetenv("SERVER_HTTP_PORT")
	defer os.Unsetenv("EMBEDDING_CHUNK_SIZE")

	cfg, err := LoadWithFile(configPath)
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v, want nil", err)
	}

	if cfg.Server.Port != 7777 {
		t.Errorf("Server.Port = %d, want 7777 (from env override)", cfg.Server.Port)
	}
	if cfg.Embedding.ChunkSize != 128 {
		t.Errorf("Embedding.ChunkSize = %d, want 128 (from env override)", cfg.Embedding.ChunkSize)
	}
}

// TestLoadWithFile_MissingFile tests that a missing config file yields defaults.
func TestLoadWithFile_MissingFile(t *testing.T) {
	home, cleanup := setupTestHome(t)
	defer cleanup()

	configPath := filepath.Join(home, ".config", "matchd", "config.yaml")

	cfg, err := LoadWithFile(configPath)
	if err != nil {
		t.Fatalf("LoadWithFile() should not error on missing file, got: %v", err)
	}

	if cfg.Server.Port != 8700 {
		t.Errorf("Server.Port = %d, want default 8700", cfg.Server.Port)
	}
	if cfg.Embedding.Provider != "hash" {
		t.Errorf("Embedding.Provider = %q, want default %q", cfg.Embedding.Provider, "hash")
	}
	if cfg.Index.Provider != "memory" {
		t.Errorf("Index.Provider = %q, want default %q", cfg.Index.Provider, "memory")
	}
	if cfg.Explain.Strategy != "local-surrogate" {
		t.Errorf("Explain.Strategy = %q, want default %q", cfg.Explain.Strategy, "local-surrogate")
	}
	if cfg.Fairness.DisparityThreshold != 0.8 {
		t.Errorf("Fairness.DisparityThreshold = %f, want default 0.8", cfg.Fairness.DisparityThreshold)
	}
	if cfg.Fairness.MinGroupSample != 30 {
		t.Errorf("Fairness.MinGroupSample = %d, want default 30", cfg.Fairness.MinGroupSample)
	}
	if cfg.Audit.RetentionDays != 90 {
		t.Errorf("Audit.RetentionDays = %d, want default 90", cfg.Audit.RetentionDays)
	}
}

// TestLoadWithFile_InvalidYAML tests handling of malformed YAML.
func TestLoadWithFile_InvalidYAML(t *testing.T) {
	home, cleanup := setupTestHome(t)
	defer cleanup()

	configPath := writeTestConfig(t, home, `server:
  http_port: not-a-number
  invalid syntax here
`)

	_, err := LoadWithFile(configPath)
	if err == nil {
		t.Error("LoadWithFile() should error on invalid YAML, got nil")
	}
}

// TestLoadWithFile_Validation tests configuration validation.
func TestLoadWithFile_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "invalid port",
			yaml: "server:\n  http_port: 99999\n",
		},
		{
			name: "unknown embedding provider",
			yaml: "embedding:\n  provider: word2vec\n",
		},
		{
			name: "chunk overlap exceeds chunk size",
			yaml: "embedding:\n  provider: hash\n  chunk_size: 64\n  chunk_overlap: 64\n",
		},
		{
			name: "negative scoring weight",
			yaml: "scoring:\n  weights:\n    semantic: -0.5\n",
		},
		{
			name: "all-zero scoring weights",
			yaml: "scoring:\n  weights:\n    semantic: 0\n    skill_overlap: 0\n",
		},
		{
			name: "unknown explain strategy",
			yaml: "explain:\n  strategy: counterfactual\n",
		},
		{
			name: "disparity threshold above one",
			yaml: "fairness:\n  disparity_threshold: 1.5\n",
		},
		{
			name: "unknown index provider",
			yaml: "index:\n  provider: pinecone\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			home, cleanup := setupTestHome(t)
			defer cleanup()

			configPath := writeTestConfig(t, home, tt.yaml)

			_, err := LoadWithFile(configPath)
			if err == nil {
				t.Error("LoadWithFile() should error on invalid config, got nil")
			}
		})
	}
}

// TestLoadWithFile_PathTraversal tests path traversal attack prevention.
func TestLoadWithFile_PathTraversal(t *testing.T) {
	_, cleanup := setupTestHome(t)
	defer cleanup()

	_, err := LoadWithFile("../../../../etc/passwd")
	if err == nil {
		t.Error("Expected error for path traversal, got nil")
	}
	if !strings.Contains(err.Error(), "must be in ~/.config/matchd/ or /etc/matchd/") {
		t.Errorf("Expected path validation error, got: %v", err)
	}
}

// TestLoadWithFile_InsecurePermissions tests file permission enforcement.
func TestLoadWithFile_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Skipping permission test on Windows")
	}

	home, cleanup := setupTestHome(t)
	defer cleanup()

	configDir := filepath.Join(home, ".config", "matchd")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")

	// Write with insecure permissions (0644 - world readable)
	if err := os.WriteFile(configPath, []byte("server:\n  http_port: 8700\n"), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := LoadWithFile(configPath)
	if err == nil {
		t.Error("Expected error for insecure permissions, got nil")
	}
	if !strings.Contains(err.Error(), "insecure") && !strings.Contains(err.Error(), "permissions") {
		t.Errorf("Expected 'insecure permissions' error, got: %v", err)
	}
}

// TestLoadWithFile_FileTooLarge tests file size limit enforcement.
func TestLoadWithFile_FileTooLarge(t *testing.T) {
	home, cleanup := setupTestHome(t)
	defer cleanup()

	configDir := filepath.Join(home, ".config", "matchd")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")

	// Create 2MB file (exceeds 1MB limit)
	largeContent := bytes.Repeat([]byte("# comment line\n"), 150000)
	if err := os.WriteFile(configPath, largeContent, 0600); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := LoadWithFile(configPath)
	if err == nil {
		t.Error("Expected error for large file, got nil")
	}
	if !strings.Contains(err.Error(), "too large") {
		t.Errorf("Expected 'too large' error, got: %v", err)
	}
}

// TestExpandPath tests home directory expansion.
func TestExpandPath(t *testing.T) {
	home, cleanup := setupTestHome(t)
	defer cleanup()

	expanded, err := ExpandPath("~/.config/matchd/audit")
	if err != nil {
		t.Fatalf("ExpandPath() error = %v", err)
	}
	want := filepath.Join(home, ".config", "matchd", "audit")
	if expanded != want {
		t.Errorf("ExpandPath() = %q, want %q", expanded, want)
	}

	// Absolute paths pass through unchanged
	abs, err := ExpandPath("/var/lib/matchd/audit")
	if err != nil {
		t.Fatalf("ExpandPath() error = %v", err)
	}
	if abs != "/var/lib/matchd/audit" {
		t.Errorf("ExpandPath() = %q, want unchanged path", abs)
	}
}
