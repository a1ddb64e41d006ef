// Package logging provides structured logging with OpenTelemetry integration.
//
// # Overview
//
// Logging package wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - Dual output (stdout + OpenTelemetry)
//   - Automatic context field injection (trace_id, actor, batch, request)
//   - Defense-in-depth redaction of credentials and candidate PII
//   - Level-aware sampling (errors never sampled)
//
// # Usage
//
// Create logger from config:
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, otelProvider)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
// Log with context:
//
//	ctx := logging.WithActor(ctx, &logging.Actor{Type: logging.ActorTypeUser, ID: "recruiter-7"})
//	ctx = logging.WithBatchID(ctx, "batch_123")
//	logger.Info(ctx, "candidates scored", zap.Int("count", n))
//
// Output includes automatic correlation:
//
//	{
//	  "ts": "2026-08-23T10:15:30Z",
//	  "level": "info",
//	  "msg": "candidates scored",
//	  "trace_id": "abc123",
//	  "actor.type": "user",
//	  "actor.id": "recruiter-7",
//	  "batch.id": "batch_123",
//	  "count": 40
//	}
//
// # Configuration Precedence
//
// Configuration follows standard matchd precedence:
//  1. Defaults (NewDefaultConfig)
//  2. File (config.yaml)
//  3. Environment variables (LOGGING_*)
//
// # Redaction
//
// matchd processes candidate records. Names, emails, phone numbers, and
// protected group attributes must never appear in log output, and neither
// must service credentials. Redaction happens at multiple layers:
//  1. Domain primitives (config.Secret type)
//  2. Encoder-level field name filtering (email, phone, candidate_name, ...)
//  3. Encoder-level pattern matching (email and phone shaped values)
//
// Use helpers for manual redaction:
//
//	logger.Info(ctx, "profile ingested",
//	    logging.RedactedString("email", candidate.Email))
//
// # Sampling
//
// Level-aware sampling prevents log floods during bulk scoring:
//   - Trace: first 1 per second, drop rest
//   - Debug: first 10 per second, drop rest
//   - Info: first 100, then 1 every 10
//   - Warn: first 100, then 1 every 100
//   - Error+: never sampled
//
// Disable for debugging:
//
//	cfg.Sampling.Enabled = false
//
// # Testing
//
// Use TestLogger for test assertions:
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "test message", zap.String("key", "value"))
//	tl.AssertLogged(t, zapcore.InfoLevel, "test message")
//	tl.AssertField(t, "test message", "key", "value")
//	tl.AssertNoPII(t)
//
// # Concurrency Safety
//
// Logger is safe for concurrent use. Child loggers (With, Named) are
// independent and do not affect parent or siblings.
package logging
