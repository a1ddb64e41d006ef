// internal/logging/context.go
package logging

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 8)

	// Trace correlation (from OpenTelemetry)
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	// Actor context (who triggered the decision)
	if actor := ActorFromContext(ctx); actor != nil {
		fields = append(fields,
			zap.String("actor.type", actor.Type),
			zap.String("actor.id", actor.ID),
		)
	}

	// Batch context (bulk scoring runs)
	if batchID := BatchIDFromContext(ctx); batchID != "" {
		fields = append(fields, zap.String("batch.id", batchID))
	}

	// Request ID
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}

	return fields
}

// Context key types
type actorCtxKey struct{}
type batchCtxKey struct{}
type requestCtxKey struct{}

// Actor identity types. Every scoring decision is attributed to either a
// human operator or an automated process; the same taxonomy is recorded in
// the audit log.
const (
	ActorTypeUser   = "user"
	ActorTypeSystem = "system"
)

// Actor identifies who initiated an operation.
type Actor struct {
	Type string // user or system
	ID   string
}

// Validation constants
const (
	maxActorIDLen = 64
	maxIDLen      = 128
)

var (
	// actorIDPattern allows alphanumeric, hyphen, underscore
	actorIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	// idPattern allows alphanumeric, hyphen, underscore
	idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// validateActor validates actor type and identifier.
func validateActor(actor *Actor) error {
	if actor.Type != ActorTypeUser && actor.Type != ActorTypeSystem {
		return fmt.Errorf("actor.Type must be %q or %q, got %q", ActorTypeUser, ActorTypeSystem, actor.Type)
	}
	if actor.ID == "" {
		return fmt.Errorf("actor.ID cannot be empty")
	}
	if !utf8.ValidString(actor.ID) {
		return fmt.Errorf("actor.ID contains invalid UTF-8")
	}
	if len(actor.ID) > maxActorIDLen {
		return fmt.Errorf("actor.ID exceeds max length %d", maxActorIDLen)
	}
	if !actorIDPattern.MatchString(actor.ID) {
		return fmt.Errorf("actor.ID contains invalid characters (must be alphanumeric, hyphen, underscore)")
	}
	return nil
}

// validateID validates a batch or request ID.
func validateID(id, name string) error {
	if id == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%s contains invalid UTF-8", name)
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("%s exceeds max length %d", name, maxIDLen)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters (must be alphanumeric, hyphen, underscore)", name)
	}
	return nil
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) *Actor {
	if a, ok := ctx.Value(actorCtxKey{}).(*Actor); ok {
		return a
	}
	return nil
}

// WithActor adds the actor to context.
// Panics if actor is nil or invalid.
func WithActor(ctx context.Context, actor *Actor) context.Context {
	if actor == nil {
		panic("logging: actor cannot be nil")
	}
	if err := validateActor(actor); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, actorCtxKey{}, actor)
}

// SystemActor returns the actor used for unattended operations
// (scheduled corpus refresh, async re-embedding).
func SystemActor() *Actor {
	return &Actor{Type: ActorTypeSystem, ID: "matchd"}
}

// BatchIDFromContext extracts the batch ID from context.
func BatchIDFromContext(ctx context.Context) string {
	if b, ok := ctx.Value(batchCtxKey{}).(string); ok {
		return b
	}
	return ""
}

// WithBatchID adds a batch ID to context.
// Panics if batchID is empty or contains invalid characters.
func WithBatchID(ctx context.Context, batchID string) context.Context {
	if err := validateID(batchID, "batchID"); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, batchCtxKey{}, batchID)
}

// RequestIDFromContext extracts request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithRequestID adds request ID to context.
// Panics if requestID is empty or contains invalid characters.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if err := validateID(requestID, "requestID"); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// loggerCtxKey is the context key for Logger.
type loggerCtxKey struct{}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a default nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return &Logger{zap: zap.NewNop(), config: NewDefaultConfig()}
}
