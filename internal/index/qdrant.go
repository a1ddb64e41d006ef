package index

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/matchd/internal/normalize"
)

var qdrantTracer = otel.Tracer("matchd.index.qdrant")

var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// qdrant point ids must be UUIDs or unsigned ints, so entity ids are mapped
// to deterministic v5 UUIDs under this namespace. The real entity id rides
// in the payload.
var pointNamespace = uuid.MustParse("7d3f1a52-9c0b-4a8e-b6d4-2f81c5e0a913")

const payloadEntityID = "entity_id"

// QdrantConfig holds configuration for the remote gRPC backend.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	// Default: "localhost"
	Host string

	// Port is the Qdrant gRPC port (not the HTTP REST port).
	// Default: 6334
	Port int

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// APIKey is the optional API key for authentication.
	APIKey string

	// CollectionPrefix namespaces the per-kind collections,
	// e.g. "matchd" yields matchd_candidates and matchd_jobs.
	// Default: "matchd"
	CollectionPrefix string

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 100MB
	MaxMessageSize int

	// MaxRetries is the maximum number of retry attempts for transient
	// failures. Default: 3
	MaxRetries int

	// RetryBackoff is the initial backoff duration; it doubles per retry.
	// Default: 1 second
	RetryBackoff time.Duration

	// CircuitBreakerThreshold is the number of failures before the
	// circuit opens. Default: 5
	CircuitBreakerThreshold int

	// RequestTimeout bounds individual requests. Default: 30 seconds
	RequestTimeout time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.CollectionPrefix == "" {
		c.CollectionPrefix = "matchd"
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 100 * 1024 * 1024
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = 5
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	for _, kind := range []normalize.EntityKind{normalize.KindCandidate, normalize.KindJob} {
		name := c.collectionName(kind)
		if !collectionNamePattern.MatchString(name) {
			return fmt.Errorf("%w: collection name %q must match ^[a-z0-9_]{1,64}$", ErrInvalidConfig, name)
		}
	}
	return nil
}

func (c QdrantConfig) collectionName(kind normalize.EntityKind) string {
	return fmt.Sprintf("%s_%ss", c.CollectionPrefix, kind)
}

// IsTransientError reports whether a gRPC error should be retried.
// Network timeouts and temporary unavailability retry; invalid arguments,
// missing collections, and auth failures do not.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

func isNotFound(err error) bool {
	st, ok := status.FromError(err)
	return ok && st.Code() == grpccodes.NotFound
}

// QdrantIndex stores entity vectors in a remote Qdrant server over gRPC.
// Transient failures retry with exponential backoff behind a circuit
// breaker; permanent failures surface immediately.
type QdrantIndex struct {
	client *qdrant.Client
	config QdrantConfig
	logger *zap.Logger

	// mu serializes the write path so the version check and the point
	// replacement are atomic per entity.
	mu sync.Mutex

	// collections caches which collections have been verified to exist.
	collections sync.Map

	circuitBreaker struct {
		failures int
		lastFail time.Time
		mu       sync.Mutex
	}
}

// NewQdrantIndex connects to Qdrant and verifies the server is healthy.
func NewQdrantIndex(cfg QdrantConfig, logger *zap.Logger) (*QdrantIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	qdrantConfig := &qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		APIKey: cfg.APIKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	}
	if !cfg.UseTLS {
		qdrantConfig.GrpcOptions = append(qdrantConfig.GrpcOptions,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
		logger.Warn("qdrant gRPC using plaintext, enable TLS for production",
			zap.String("host", cfg.Host),
			zap.Int("port", cfg.Port),
		)
	}

	client, err := qdrant.NewClient(qdrantConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	idx := &QdrantIndex{client: client, config: cfg, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check failed: %v", ErrConnectionFailed, err)
	}

	logger.Info("qdrant index connected",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("collection_prefix", cfg.CollectionPrefix),
	)
	return idx, nil
}

// pointID derives the deterministic qdrant point id for an entity.
func pointID(kind normalize.EntityKind, id string) string {
	return uuid.NewSHA1(pointNamespace, []byte(string(kind)+"/"+id)).String()
}

// ensureCollection creates the kind's collection on first use.
func (q *QdrantIndex) ensureCollection(ctx context.Context, kind normalize.EntityKind, vectorSize int) (string, error) {
	name := q.config.collectionName(kind)
	if _, ok := q.collections.Load(name); ok {
		return name, nil
	}

	_, err := q.client.GetCollectionInfo(ctx, name)
	if err != nil {
		if !isNotFound(err) {
			return "", fmt.Errorf("checking collection %s: %w", name, err)
		}
		err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(vectorSize),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		// AlreadyExists means another writer won the race.
		if err != nil && status.Code(err) != grpccodes.AlreadyExists {
			return "", fmt.Errorf("creating collection %s: %w", name, err)
		}
		q.logger.Info("created qdrant collection",
			zap.String("collection", name),
			zap.Int("vector_size", vectorSize),
		)
	}

	q.collections.Store(name, true)
	return name, nil
}

// Upsert inserts or replaces the entry for its entity.
func (q *QdrantIndex) Upsert(ctx context.Context, entry Entry) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("kind", string(entry.Kind)),
		attribute.String("entity_id", entry.ID),
	)

	if entry.ID == "" {
		return fmt.Errorf("%w: entry has no id", ErrInvalidConfig)
	}
	if len(entry.Vector) == 0 {
		return fmt.Errorf("%w: entry %q has an empty vector", ErrInvalidConfig, entry.ID)
	}
	if !entry.Kind.Valid() {
		return fmt.Errorf("%w: unknown entity kind %q", ErrInvalidConfig, entry.Kind)
	}

	ctx, cancel := context.WithTimeout(ctx, q.config.RequestTimeout)
	defer cancel()

	q.mu.Lock()
	defer q.mu.Unlock()

	collection, err := q.ensureCollection(ctx, entry.Kind, len(entry.Vector))
	if err != nil {
		span.RecordError(err)
		return err
	}

	pid := pointID(entry.Kind, entry.ID)
	if prev, ok, err := q.committedVersion(ctx, collection, pid); err != nil {
		span.RecordError(err)
		return err
	} else if ok && entry.Version < prev {
		return fmt.Errorf("%w: entity %q version %d behind committed %d",
			ErrIndexInconsistent, entry.ID, entry.Version, prev)
	}

	point := &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(pid),
		Vectors: qdrant.NewVectors(entry.Vector...),
		Payload: map[string]*qdrant.Value{
			payloadEntityID:      {Kind: &qdrant.Value_StringValue{StringValue: entry.ID}},
			metadataModelVersion: {Kind: &qdrant.Value_StringValue{StringValue: entry.ModelVersion}},
			metadataVersion:      {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(entry.Version)}},
		},
	}

	err = q.retryOperation(ctx, "upsert", func() error {
		_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Points:         []*qdrant.PointStruct{point},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return err
	}

	q.logger.Debug("indexed entity vector",
		zap.String("kind", string(entry.Kind)),
		zap.String("entity_id", entry.ID),
		zap.Uint64("version", entry.Version),
	)
	return nil
}

// committedVersion reads the stored version for a point, if the point exists.
func (q *QdrantIndex) committedVersion(ctx context.Context, collection, pid string) (uint64, bool, error) {
	var points []*qdrant.RetrievedPoint
	err := q.retryOperation(ctx, "get", func() error {
		result, err := q.client.Get(ctx, &qdrant.GetPoints{
			CollectionName: collection,
			Ids:            []*qdrant.PointId{qdrant.NewIDUUID(pid)},
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		points = result
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	if len(points) == 0 {
		return 0, false, nil
	}
	v := points[0].Payload[metadataVersion]
	if v == nil {
		return 0, true, nil
	}
	return uint64(v.GetIntegerValue()), true, nil
}

// Remove deletes the entry for id. Removing an absent id is a no-op.
func (q *QdrantIndex) Remove(ctx context.Context, kind normalize.EntityKind, id string) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.Remove")
	defer span.End()

	if !kind.Valid() {
		return fmt.Errorf("%w: unknown entity kind %q", ErrInvalidConfig, kind)
	}

	ctx, cancel := context.WithTimeout(ctx, q.config.RequestTimeout)
	defer cancel()

	q.mu.Lock()
	defer q.mu.Unlock()

	collection := q.config.collectionName(kind)
	err := q.retryOperation(ctx, "delete", func() error {
		_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collection,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Points{
					Points: &qdrant.PointsIdsList{
						Ids: []*qdrant.PointId{qdrant.NewIDUUID(pointID(kind, id))},
					},
				},
			},
		})
		return err
	})
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		span.RecordError(err)
		return err
	}
	return nil
}

// Similarity returns the cosine similarity between two indexed entities.
// Vectors are fetched and compared locally so cross-kind pairs work.
func (q *QdrantIndex) Similarity(ctx context.Context, a, b Ref) (float64, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.Similarity")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, q.config.RequestTimeout)
	defer cancel()

	va, err := q.vector(ctx, a)
	if err != nil {
		return 0, err
	}
	vb, err := q.vector(ctx, b)
	if err != nil {
		return 0, err
	}
	return cosineSimilarity(va, vb), nil
}

func (q *QdrantIndex) vector(ctx context.Context, ref Ref) ([]float32, error) {
	if !ref.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown entity kind %q", ErrInvalidConfig, ref.Kind)
	}
	collection := q.config.collectionName(ref.Kind)

	var points []*qdrant.RetrievedPoint
	err := q.retryOperation(ctx, "get", func() error {
		result, err := q.client.Get(ctx, &qdrant.GetPoints{
			CollectionName: collection,
			Ids:            []*qdrant.PointId{qdrant.NewIDUUID(pointID(ref.Kind, ref.ID))},
			WithVectors:    qdrant.NewWithVectors(true),
		})
		if err != nil {
			return err
		}
		points = result
		return nil
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s %q", ErrNotFound, ref.Kind, ref.ID)
		}
		return nil, err
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: %s %q", ErrNotFound, ref.Kind, ref.ID)
	}

	vec := extractVector(points[0].Vectors)
	if vec == nil {
		return nil, fmt.Errorf("%w: %s %q has no vector payload", ErrNotFound, ref.Kind, ref.ID)
	}
	return vec, nil
}

// Vector returns the aggregate vector indexed for ref. The fetch is a
// fresh slice from the remote, so no copy is needed.
func (q *QdrantIndex) Vector(ctx context.Context, ref Ref) ([]float32, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.Vector")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, q.config.RequestTimeout)
	defer cancel()

	return q.vector(ctx, ref)
}

func extractVector(vectors *qdrant.VectorsOutput) []float32 {
	if vectors == nil {
		return nil
	}
	if vec := vectors.GetVector(); vec != nil {
		if dense := vec.GetDense(); dense != nil {
			return dense.GetData()
		}
	}
	return nil
}

// TopK returns the k most similar entries of the kind partition.
func (q *QdrantIndex) TopK(ctx context.Context, kind normalize.EntityKind, query []float32, k int) ([]Neighbor, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.TopK")
	defer span.End()
	span.SetAttributes(
		attribute.String("kind", string(kind)),
		attribute.Int("k", k),
	)

	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidConfig, k)
	}
	if len(query) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", ErrInvalidConfig)
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown entity kind %q", ErrInvalidConfig, kind)
	}

	ctx, cancel := context.WithTimeout(ctx, q.config.RequestTimeout)
	defer cancel()

	collection := q.config.collectionName(kind)
	var results []*qdrant.ScoredPoint
	err := q.retryOperation(ctx, "query", func() error {
		res, err := q.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: collection,
			Query:          qdrant.NewQuery(query...),
			Limit:          qdrant.PtrOf(uint64(k)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		if isNotFound(err) {
			return []Neighbor{}, nil
		}
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	neighbors := make([]Neighbor, 0, len(results))
	for _, r := range results {
		entityID := r.Payload[payloadEntityID].GetStringValue()
		if entityID == "" {
			continue
		}
		neighbors = append(neighbors, Neighbor{ID: entityID, Similarity: float64(r.Score)})
	}
	sortNeighbors(neighbors)
	span.SetAttributes(attribute.Int("results", len(neighbors)))
	return neighbors, nil
}

// Count returns the number of entries in the kind partition.
func (q *QdrantIndex) Count(ctx context.Context, kind normalize.EntityKind) (int, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("%w: unknown entity kind %q", ErrInvalidConfig, kind)
	}

	ctx, cancel := context.WithTimeout(ctx, q.config.RequestTimeout)
	defer cancel()

	collection := q.config.collectionName(kind)
	var count uint64
	err := q.retryOperation(ctx, "count", func() error {
		n, err := q.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: collection,
			Exact:          qdrant.PtrOf(true),
		})
		if err != nil {
			return err
		}
		count = n
		return nil
	})
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	return int(count), nil
}

// Close closes the gRPC connection.
func (q *QdrantIndex) Close() error {
	if q.client != nil {
		return q.client.Close()
	}
	return nil
}

// retryOperation retries an operation with exponential backoff. Transient
// errors retry up to MaxRetries; the circuit breaker short-circuits once
// failures pile up, and lets one probe through after a cooldown.
func (q *QdrantIndex) retryOperation(ctx context.Context, operationName string, operation func() error) error {
	backoff := q.config.RetryBackoff
	startTime := time.Now()

	for attempt := 0; attempt <= q.config.MaxRetries; attempt++ {
		err := operation()
		if err == nil {
			q.resetCircuitBreaker()
			if attempt > 0 {
				q.logger.Info("qdrant operation recovered after retries",
					zap.String("operation", operationName),
					zap.Int("attempts", attempt),
					zap.Duration("total_time", time.Since(startTime)),
				)
			}
			return nil
		}

		if q.isCircuitOpen() {
			return fmt.Errorf("%s: circuit breaker open", operationName)
		}

		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", operationName, err)
		}

		q.recordFailure()

		if attempt == q.config.MaxRetries {
			q.logger.Warn("qdrant operation failed after all retries exhausted",
				zap.String("operation", operationName),
				zap.Int("total_attempts", q.config.MaxRetries+1),
				zap.Duration("total_time", time.Since(startTime)),
				zap.Error(err),
			)
			return fmt.Errorf("%s failed after %d retries: %w", operationName, q.config.MaxRetries, err)
		}

		q.logger.Debug("retrying qdrant operation after transient error",
			zap.String("operation", operationName),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", q.config.MaxRetries),
			zap.Error(err),
			zap.Duration("backoff", backoff),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", operationName, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}

func (q *QdrantIndex) recordFailure() {
	q.circuitBreaker.mu.Lock()
	defer q.circuitBreaker.mu.Unlock()
	q.circuitBreaker.failures++
	q.circuitBreaker.lastFail = time.Now()
}

func (q *QdrantIndex) resetCircuitBreaker() {
	q.circuitBreaker.mu.Lock()
	defer q.circuitBreaker.mu.Unlock()
	q.circuitBreaker.failures = 0
}

func (q *QdrantIndex) isCircuitOpen() bool {
	q.circuitBreaker.mu.Lock()
	defer q.circuitBreaker.mu.Unlock()

	if q.circuitBreaker.failures >= q.config.CircuitBreakerThreshold {
		// Allow a probe after 30 seconds.
		if time.Since(q.circuitBreaker.lastFail) > 30*time.Second {
			q.circuitBreaker.failures = 0
			return false
		}
		return true
	}
	return false
}

var _ Index = (*QdrantIndex)(nil)
