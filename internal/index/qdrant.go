package index

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Tracer for OpenTelemetry instrumentation.
var tracer = otel.Tracer("ragd.index.qdrant")

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	// Default: "localhost"
	Host string

	// Port is the Qdrant gRPC port (NOT the HTTP REST port).
	// Default: 6334
	Port int

	// VectorSize is the dimensionality of embeddings.
	// MUST match the embedding provider's output dimension.
	VectorSize uint64

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// MaxRetries is the maximum number of retry attempts for transient
	// failures. Default: 3
	MaxRetries int

	// RetryBackoff is the initial backoff duration for retries.
	// Doubles on each retry. Default: 1 second
	RetryBackoff time.Duration

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 50MB
	MaxMessageSize int

	// ReadyAttempts bounds the readiness poll in EnsureReady.
	// Default: 30 attempts at ReadyInterval apart.
	ReadyAttempts int

	// ReadyInterval is the delay between readiness polls.
	// Default: 1 second
	ReadyInterval time.Duration

	// UpsertBatchSize caps points per Upsert call so large ingests stay
	// under MaxMessageSize. Default: 100
	UpsertBatchSize int
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return nil
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.ReadyAttempts == 0 {
		c.ReadyAttempts = 30
	}
	if c.ReadyInterval == 0 {
		c.ReadyInterval = time.Second
	}
	if c.UpsertBatchSize == 0 {
		c.UpsertBatchSize = 100
	}
}

// IsTransientError checks if an error is transient (should retry).
// Returns true for network timeouts and temporary unavailability.
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

// QdrantStore is a Store implementation using Qdrant's native gRPC client.
//
// Each namespace maps to its own Qdrant collection. Record string IDs are
// mapped to deterministic UUIDv5 point IDs so that upserts with the same
// record ID replace the existing point and Fetch/DeleteMany can address
// points directly. The original string ID is preserved in the payload.
type QdrantStore struct {
	client *qdrant.Client
	config QdrantConfig
	logger *zap.Logger

	// known caches namespaces already verified by EnsureReady.
	known sync.Map
}

// NewQdrantStore creates a QdrantStore and verifies connectivity with a
// health check.
func NewQdrantStore(config QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	store := &QdrantStore{
		client: client,
		config: config,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}

	return store, nil
}

// Close closes the Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// pointID derives the deterministic UUIDv5 point ID for a record ID.
func pointID(recordID string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(recordID)).String())
}

// retryOperation retries an operation with exponential backoff on
// transient gRPC errors.
func (s *QdrantStore) retryOperation(ctx context.Context, operationName string, operation func() error) error {
	backoff := s.config.RetryBackoff

	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}

		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", operationName, err)
		}

		if attempt == s.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", operationName, s.config.MaxRetries, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", operationName, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}

// EnsureReady creates the namespace collection if missing and polls until
// Qdrant reports it green. Readiness is best-effort: if the collection is
// still not green after the poll window, a warning is logged and the call
// succeeds so that later operations can surface the real failure.
func (s *QdrantStore) EnsureReady(ctx context.Context, namespace string) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.EnsureReady")
	defer span.End()

	span.SetAttributes(attribute.String("namespace", namespace))

	if err := ValidateNamespace(namespace); err != nil {
		return err
	}

	if _, ok := s.known.Load(namespace); ok {
		return nil
	}

	var exists bool
	err := s.retryOperation(ctx, "collection_exists", func() error {
		var err error
		exists, err = s.client.CollectionExists(ctx, namespace)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("checking collection %s: %w", namespace, err)
	}

	if !exists {
		err := s.retryOperation(ctx, "create_collection", func() error {
			return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
				CollectionName: namespace,
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
					Size:     s.config.VectorSize,
					Distance: qdrant.Distance_Cosine,
				}),
			})
		})
		if err != nil {
			// Concurrent EnsureReady calls can race on creation; an
			// already-exists failure is fine.
			if existsNow, checkErr := s.client.CollectionExists(ctx, namespace); checkErr != nil || !existsNow {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return fmt.Errorf("creating collection %s: %w", namespace, err)
			}
		}
	}

	for attempt := 0; attempt < s.config.ReadyAttempts; attempt++ {
		info, err := s.client.GetCollectionInfo(ctx, namespace)
		if err == nil && info.GetStatus() == qdrant.CollectionStatus_Green {
			s.known.Store(namespace, true)
			span.SetStatus(codes.Ok, "ready")
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for collection %s: %w", namespace, ctx.Err())
		case <-time.After(s.config.ReadyInterval):
		}
	}

	s.logger.Warn("collection not green after readiness poll, proceeding",
		zap.String("namespace", namespace),
		zap.Int("attempts", s.config.ReadyAttempts))
	s.known.Store(namespace, true)
	span.SetStatus(codes.Ok, "proceeding without green status")
	return nil
}

// Upsert writes records into the namespace collection.
func (s *QdrantStore) Upsert(ctx context.Context, namespace string, records []Record) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.Upsert")
	defer span.End()

	span.SetAttributes(
		attribute.String("namespace", namespace),
		attribute.Int("record_count", len(records)),
	)

	if err := ValidateNamespace(namespace); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(records))
	for i, rec := range records {
		if rec.ID == "" {
			return fmt.Errorf("record %d: ID required", i)
		}
		if len(rec.Vector) != int(s.config.VectorSize) {
			return fmt.Errorf("record %q: vector size %d, want %d", rec.ID, len(rec.Vector), s.config.VectorSize)
		}

		payload := make(map[string]*qdrant.Value, len(rec.Metadata)+1)
		payload["id"] = qdrant.NewValueString(rec.ID)
		for k, v := range rec.Metadata {
			switch val := v.(type) {
			case string:
				payload[k] = qdrant.NewValueString(val)
			case int:
				payload[k] = qdrant.NewValueInt(int64(val))
			case int64:
				payload[k] = qdrant.NewValueInt(val)
			case float64:
				payload[k] = qdrant.NewValueDouble(val)
			case bool:
				payload[k] = qdrant.NewValueBool(val)
			}
		}

		points[i] = &qdrant.PointStruct{
			Id:      pointID(rec.ID),
			Vectors: qdrant.NewVectors(rec.Vector...),
			Payload: payload,
		}
	}

	for _, batch := range upsertBatches(points, s.config.UpsertBatchSize) {
		err := s.retryOperation(ctx, "upsert", func() error {
			_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
				CollectionName: namespace,
				Points:         batch,
			})
			return err
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("upserting to %s: %w", namespace, err)
		}
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// upsertBatches slices points into writes of at most size, preserving
// order.
func upsertBatches(points []*qdrant.PointStruct, size int) [][]*qdrant.PointStruct {
	if size <= 0 {
		size = 100
	}
	var batches [][]*qdrant.PointStruct
	for start := 0; start < len(points); start += size {
		end := start + size
		if end > len(points) {
			end = len(points)
		}
		batches = append(batches, points[start:end])
	}
	return batches
}

// Query returns up to topK nearest matches for the vector.
func (s *QdrantStore) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]Match, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Query")
	defer span.End()

	span.SetAttributes(
		attribute.String("namespace", namespace),
		attribute.Int("top_k", topK),
	)

	if err := ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}

	var points []*qdrant.ScoredPoint
	err := s.retryOperation(ctx, "query", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: namespace,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(topK)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying %s: %w", namespace, err)
	}

	matches := make([]Match, len(points))
	for i, point := range points {
		m := Match{Score: point.Score}
		m.Metadata, m.ID = payloadToMetadata(point.Payload)
		matches[i] = m
	}

	span.SetAttributes(attribute.Int("match_count", len(matches)))
	span.SetStatus(codes.Ok, "success")
	return matches, nil
}

// Fetch returns the records with the given IDs, addressed by their
// deterministic point IDs. Missing IDs are omitted.
func (s *QdrantStore) Fetch(ctx context.Context, namespace string, ids []string) (map[string]Record, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Fetch")
	defer span.End()

	span.SetAttributes(
		attribute.String("namespace", namespace),
		attribute.Int("id_count", len(ids)),
	)

	if err := ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return map[string]Record{}, nil
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = pointID(id)
	}

	var points []*qdrant.RetrievedPoint
	err := s.retryOperation(ctx, "fetch", func() error {
		res, err := s.client.Get(ctx, &qdrant.GetPoints{
			CollectionName: namespace,
			Ids:            pointIDs,
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("fetching from %s: %w", namespace, err)
	}

	out := make(map[string]Record, len(points))
	for _, point := range points {
		metadata, id := payloadToMetadata(point.Payload)
		if id == "" {
			continue
		}
		rec := Record{ID: id, Metadata: metadata}
		if vo := point.GetVectors().GetVector(); vo != nil {
			rec.Vector = vo.GetData()
		}
		out[id] = rec
	}

	span.SetAttributes(attribute.Int("found_count", len(out)))
	span.SetStatus(codes.Ok, "success")
	return out, nil
}

// DeleteMany removes the records with the given IDs.
func (s *QdrantStore) DeleteMany(ctx context.Context, namespace string, ids []string) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.DeleteMany")
	defer span.End()

	span.SetAttributes(
		attribute.String("namespace", namespace),
		attribute.Int("id_count", len(ids)),
	)

	if err := ValidateNamespace(namespace); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = pointID(id)
	}

	err := s.retryOperation(ctx, "delete", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: namespace,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Points{
					Points: &qdrant.PointsIdsList{Ids: pointIDs},
				},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting from %s: %w", namespace, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// DeleteAll removes every record in the namespace. The collection itself
// survives, so Describe keeps working afterwards.
func (s *QdrantStore) DeleteAll(ctx context.Context, namespace string) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.DeleteAll")
	defer span.End()

	span.SetAttributes(attribute.String("namespace", namespace))

	if err := ValidateNamespace(namespace); err != nil {
		return err
	}

	// An empty filter matches all points.
	err := s.retryOperation(ctx, "delete_all", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: namespace,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
					Filter: &qdrant.Filter{},
				},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("clearing %s: %w", namespace, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Describe reports record count and dimension for the namespace.
func (s *QdrantStore) Describe(ctx context.Context, namespace string) (Stats, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Describe")
	defer span.End()

	span.SetAttributes(attribute.String("namespace", namespace))

	if err := ValidateNamespace(namespace); err != nil {
		return Stats{}, err
	}

	var stats Stats
	err := s.retryOperation(ctx, "describe", func() error {
		info, err := s.client.GetCollectionInfo(ctx, namespace)
		if err != nil {
			return err
		}
		stats = Stats{
			Namespace: namespace,
			Dimension: int(s.config.VectorSize),
		}
		if info.PointsCount != nil {
			stats.RecordCount = int(*info.PointsCount)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Stats{}, fmt.Errorf("describing %s: %w", namespace, err)
	}

	span.SetAttributes(attribute.Int("record_count", stats.RecordCount))
	span.SetStatus(codes.Ok, "success")
	return stats, nil
}

// payloadToMetadata converts a Qdrant payload back into record metadata,
// extracting the original string ID.
func payloadToMetadata(payload map[string]*qdrant.Value) (map[string]any, string) {
	if payload == nil {
		return nil, ""
	}
	var id string
	metadata := make(map[string]any, len(payload))
	for k, v := range payload {
		switch val := v.Kind.(type) {
		case *qdrant.Value_StringValue:
			if k == "id" {
				id = val.StringValue
				continue
			}
			metadata[k] = val.StringValue
		case *qdrant.Value_IntegerValue:
			metadata[k] = val.IntegerValue
		case *qdrant.Value_DoubleValue:
			metadata[k] = val.DoubleValue
		case *qdrant.Value_BoolValue:
			metadata[k] = val.BoolValue
		}
	}
	return metadata, id
}

// Ensure QdrantStore implements Store.
var _ Store = (*QdrantStore)(nil)
