// internal/logging/integration_test.go
package logging

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/fyrsmithlabs/matchd/internal/config"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestIntegration_FullLoggingPipeline(t *testing.T) {
	// Create config
	cfg := NewDefaultConfig()
	cfg.Level = TraceLevel
	cfg.Format = "json"
	cfg.Output.Stdout = true
	cfg.Output.OTEL = false
	cfg.Sampling.Enabled = false // Disable for predictable test

	// Create logger (no OTEL provider)
	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	defer func() {
		// Ignore sync errors on stdout/stderr (common on some systems)
		_ = logger.Sync()
	}()

	// Create test context
	ctx := WithActor(context.Background(), &Actor{Type: ActorTypeUser, ID: "recruiter-7"})
	ctx = WithBatchID(ctx, "batch_integration_123")
	ctx = WithRequestID(ctx, "req_456")

	// Log at all levels with various fields
	logger.Trace(ctx, "trace message", zap.String("detail", "ultra-verbose"))
	logger.Debug(ctx, "debug message", zap.String("cache", "hit"))
	logger.Info(ctx, "info message", zap.Duration("duration", 45*time.Millisecond))
	logger.Warn(ctx, "warn message", zap.Int("retry_attempt", 2))
	logger.Error(ctx, "error message", zap.Error(fmt.Errorf("test error")))

	// Test secret redaction
	logger.Info(ctx, "embedding client configured",
		zap.Object("tei", &testClientConfig{
			BaseURL: "http://localhost:8080",
			APIKey:  config.Secret("super-secret"),
		}),
	)

	// Test child logger
	child := logger.With(zap.String("component", "scoring"))
	child.Info(ctx, "child log")

	// Test named logger
	named := logger.Named("index")
	named.Info(ctx, "named log")

	// Sync may fail on stdout/stderr in some environments (e.g., CI, testing frameworks)
	// This is expected behavior - zap's Sync() attempts to fsync stdout which fails
	// when stdout is not a regular file. We just ensure no panic occurs.
	_ = logger.Sync()
}

// testClientConfig for testing Secret marshaling
type testClientConfig struct {
	BaseURL string
	APIKey  config.Secret
}

func (c *testClientConfig) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("base_url", c.BaseURL)
	// Use secretMarshaler for proper redaction
	if err := (&secretMarshaler{key: "api_key", val: c.APIKey}).MarshalLogObject(enc); err != nil {
		return err
	}
	return nil
}

func TestIntegration_ContextFieldInjection(t *testing.T) {
	tl := NewTestLogger()

	ctx := WithActor(context.Background(), &Actor{Type: ActorTypeSystem, ID: "matchd"})
	ctx = WithBatchID(ctx, "batch_123")

	tl.Info(ctx, "batch scored", zap.Int("candidates", 40))

	tl.AssertLogged(t, zapcore.InfoLevel, "batch scored")
	tl.AssertField(t, "batch scored", "actor.type", "system")
	tl.AssertField(t, "batch scored", "actor.id", "matchd")
	tl.AssertField(t, "batch scored", "batch.id", "batch_123")
}

func TestIntegration_SecretRedaction(t *testing.T) {
	tl := NewTestLogger()

	secret := config.Secret("my-secret-token")
	tl.Info(context.Background(), "auth",
		Secret("credentials", secret),
	)

	tl.AssertLogged(t, zapcore.InfoLevel, "auth")
	tl.AssertNoSecrets(t)
}

func TestIntegration_PIIRedactionHelpers(t *testing.T) {
	tl := NewTestLogger()

	tl.Info(context.Background(), "profile ingested",
		RedactedString("email", "jane.doe@example.com"),
		RedactedString("candidate_name", "Jane Doe"),
		zap.String("candidate_id", "cand-42"),
	)

	tl.AssertLogged(t, zapcore.InfoLevel, "profile ingested")
	tl.AssertField(t, "profile ingested", "candidate_id", "cand-42")
	tl.AssertNoPII(t)
}
