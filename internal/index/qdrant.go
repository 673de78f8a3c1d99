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

// qdrantTracer for OpenTelemetry instrumentation.
var qdrantTracer = otel.Tracer("inboxd.index.qdrant")

// QdrantConfig holds configuration for the Qdrant gRPC backend.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	// Default: "localhost"
	Host string `koanf:"host"`

	// Port is the Qdrant gRPC port (NOT the HTTP REST port).
	// Default: 6334
	Port int `koanf:"port"`

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool `koanf:"use_tls"`

	// APIKey authenticates against Qdrant Cloud (optional).
	APIKey string `koanf:"api_key"`

	// MaxRetries is the maximum retry attempts for transient failures.
	// Default: 3
	MaxRetries int `koanf:"max_retries"`

	// RetryBackoff is the initial retry backoff, doubling per attempt.
	// Default: 1s
	RetryBackoff time.Duration `koanf:"retry_backoff"`

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 50MB
	MaxMessageSize int `koanf:"max_message_size"`

	// CircuitBreakerThreshold is the failure count before the circuit
	// opens. Default: 5
	CircuitBreakerThreshold int `koanf:"circuit_breaker_threshold"`
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
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = 5
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
	return nil
}

// IsTransientError checks if an error is transient (should retry).
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

// QdrantBackend implements Backend over Qdrant's native gRPC client.
//
// One namespace maps to one Qdrant collection. Vector IDs are strings
// in the {email_id}_chunk_{i} form, which Qdrant cannot use as point
// IDs; each record gets a deterministic UUIDv5 derived from its ID, and
// the original ID lives in the payload for filtered deletes. The same
// record always maps to the same point, so re-ingestion overwrites
// instead of duplicating.
type QdrantBackend struct {
	client *qdrant.Client
	config QdrantConfig
	logger *zap.Logger

	// namespaces caches namespace existence to avoid repeated checks.
	namespaces sync.Map

	circuitBreaker struct {
		failures int
		lastFail time.Time
		mu       sync.Mutex
	}
}

// NewQdrantBackend connects to Qdrant and verifies the connection.
func NewQdrantBackend(config QdrantConfig, logger *zap.Logger) (*QdrantBackend, error) {
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
		APIKey: config.APIKey,
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

	b := &QdrantBackend{
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

	return b, nil
}

// Close closes the gRPC connection.
func (b *QdrantBackend) Close() error {
	if b.client != nil {
		return b.client.Close()
	}
	return nil
}

// retryOperation retries an operation with exponential backoff.
func (b *QdrantBackend) retryOperation(ctx context.Context, operationName string, operation func() error) error {
	backoff := b.config.RetryBackoff

	for attempt := 0; attempt <= b.config.MaxRetries; attempt++ {
		err := operation()
		if err == nil {
			b.resetCircuitBreaker()
			return nil
		}

		if b.isCircuitOpen() {
			return fmt.Errorf("%s: circuit breaker open", operationName)
		}
		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", operationName, err)
		}

		b.recordFailure()

		if attempt == b.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", operationName, b.config.MaxRetries, err)
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

func (b *QdrantBackend) recordFailure() {
	b.circuitBreaker.mu.Lock()
	defer b.circuitBreaker.mu.Unlock()
	b.circuitBreaker.failures++
	b.circuitBreaker.lastFail = time.Now()
}

func (b *QdrantBackend) resetCircuitBreaker() {
	b.circuitBreaker.mu.Lock()
	defer b.circuitBreaker.mu.Unlock()
	b.circuitBreaker.failures = 0
}

func (b *QdrantBackend) isCircuitOpen() bool {
	b.circuitBreaker.mu.Lock()
	defer b.circuitBreaker.mu.Unlock()

	if b.circuitBreaker.failures >= b.config.CircuitBreakerThreshold {
		// Allow retry after 30 seconds.
		if time.Since(b.circuitBreaker.lastFail) > 30*time.Second {
			b.circuitBreaker.failures = 0
			return false
		}
		return true
	}
	return false
}

// pointID derives the deterministic Qdrant point ID for a record ID.
func pointID(recordID string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(recordID)).String())
}

// EnsureNamespace creates the collection if it does not exist.
func (b *QdrantBackend) EnsureNamespace(ctx context.Context, namespace string, dimension int) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantBackend.EnsureNamespace")
	defer span.End()
	span.SetAttributes(attribute.String("namespace", namespace))

	if err := ValidateNamespace(namespace); err != nil {
		return err
	}
	if _, ok := b.namespaces.Load(namespace); ok {
		return nil
	}

	var exists bool
	err := b.retryOperation(ctx, "collection_exists", func() error {
		ok, err := b.client.CollectionExists(ctx, namespace)
		if err != nil {
			return err
		}
		exists = ok
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("checking namespace %s: %w", namespace, err)
	}

	if !exists {
		err = b.retryOperation(ctx, "create_collection", func() error {
			return b.client.CreateCollection(ctx, &qdrant.CreateCollection{
				CollectionName: namespace,
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
					Size:     uint64(dimension),
					Distance: qdrant.Distance_Cosine,
				}),
			})
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("creating namespace %s: %w", namespace, err)
		}
		b.logger.Info("created qdrant collection",
			zap.String("namespace", namespace),
			zap.Int("dimension", dimension),
		)
	}

	b.namespaces.Store(namespace, true)
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Upsert writes records into the namespace.
func (b *QdrantBackend) Upsert(ctx context.Context, namespace string, records []Record) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantBackend.Upsert")
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
		payload := make(map[string]*qdrant.Value, len(rec.Metadata)+1)
		payload["id"] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: rec.ID}}
		for k, v := range rec.Metadata {
			switch val := v.(type) {
			case string:
				payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
			case int:
				payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
			case int64:
				payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
			case float64:
				payload[k] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
			case bool:
				payload[k] = &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
			}
		}

		points[i] = &qdrant.PointStruct{
			Id:      pointID(rec.ID),
			Vectors: qdrant.NewVectors(rec.Vector...),
			Payload: payload,
		}
	}

	err := b.retryOperation(ctx, "upsert", func() error {
		_, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: namespace,
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting points to %s: %w", namespace, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// buildQdrantFilter converts a Filter into Qdrant must-conditions.
// Equality on keyword fields, range on the numeric sent timestamp.
func buildQdrantFilter(filter Filter) *qdrant.Filter {
	conditions := make([]*qdrant.Condition, 0, 6)

	for key, value := range filter.EqualityConditions() {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: key,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{Keyword: value},
					},
				},
			},
		})
	}

	if filter.HasDateRange() {
		rng := &qdrant.Range{}
		if !filter.DateFrom.IsZero() {
			rng.Gte = qdrant.PtrOf(float64(filter.DateFrom.Unix()))
		}
		if !filter.DateTo.IsZero() {
			rng.Lte = qdrant.PtrOf(float64(filter.DateTo.Unix()))
		}
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   MetaSentAtTS,
					Range: rng,
				},
			},
		})
	}

	return &qdrant.Filter{Must: conditions}
}

// Query searches the namespace.
func (b *QdrantBackend) Query(ctx context.Context, namespace string, vector []float32, limit int, filter Filter) ([]Fragment, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantBackend.Query")
	defer span.End()
	span.SetAttributes(
		attribute.String("namespace", namespace),
		attribute.Int("limit", limit),
	)

	if err := ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	var results []*qdrant.ScoredPoint
	err := b.retryOperation(ctx, "query", func() error {
		res, err := b.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: namespace,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(limit)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         buildQdrantFilter(filter),
		})
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
			return nil, ErrNamespaceNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying %s: %w", namespace, err)
	}

	fragments := make([]Fragment, len(results))
	for i, point := range results {
		frag := Fragment{Score: point.Score}
		if point.Payload != nil {
			frag.Metadata = make(map[string]interface{}, len(point.Payload))
			for k, v := range point.Payload {
				switch val := v.Kind.(type) {
				case *qdrant.Value_StringValue:
					frag.Metadata[k] = val.StringValue
					if k == "id" {
						frag.ID = val.StringValue
					}
				case *qdrant.Value_IntegerValue:
					frag.Metadata[k] = val.IntegerValue
				case *qdrant.Value_DoubleValue:
					frag.Metadata[k] = val.DoubleValue
				case *qdrant.Value_BoolValue:
					frag.Metadata[k] = val.BoolValue
				}
			}
		}
		fragments[i] = frag
	}

	span.SetAttributes(attribute.Int("results_count", len(fragments)))
	span.SetStatus(codes.Ok, "success")
	return fragments, nil
}

// DeleteByIDs removes records by the original vector IDs stored in the
// payload.
func (b *QdrantBackend) DeleteByIDs(ctx context.Context, namespace string, ids []string) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantBackend.DeleteByIDs")
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

	err := b.retryOperation(ctx, "delete_by_ids", func() error {
		_, err := b.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: namespace,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
					Filter: &qdrant.Filter{
						Must: []*qdrant.Condition{
							{
								ConditionOneOf: &qdrant.Condition_Field{
									Field: &qdrant.FieldCondition{
										Key: "id",
										Match: &qdrant.Match{
											MatchValue: &qdrant.Match_Keywords{
												Keywords: &qdrant.RepeatedStrings{Strings: ids},
											},
										},
									},
								},
							},
						},
					},
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

// DeleteByFilter removes all records matching the filter.
func (b *QdrantBackend) DeleteByFilter(ctx context.Context, namespace string, filter Filter) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantBackend.DeleteByFilter")
	defer span.End()
	span.SetAttributes(attribute.String("namespace", namespace))

	if err := ValidateNamespace(namespace); err != nil {
		return err
	}
	if err := filter.Validate(); err != nil {
		return err
	}

	err := b.retryOperation(ctx, "delete_by_filter", func() error {
		_, err := b.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: namespace,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
					Filter: buildQdrantFilter(filter),
				},
			},
		})
		return err
	})
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
			return ErrNamespaceNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting by filter from %s: %w", namespace, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// DeleteNamespace removes the collection and all its points.
func (b *QdrantBackend) DeleteNamespace(ctx context.Context, namespace string) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantBackend.DeleteNamespace")
	defer span.End()
	span.SetAttributes(attribute.String("namespace", namespace))

	if err := ValidateNamespace(namespace); err != nil {
		return err
	}

	err := b.retryOperation(ctx, "delete_namespace", func() error {
		return b.client.DeleteCollection(ctx, namespace)
	})
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
			return ErrNamespaceNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting namespace %s: %w", namespace, err)
	}

	b.namespaces.Delete(namespace)
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Count returns the number of points in the namespace.
func (b *QdrantBackend) Count(ctx context.Context, namespace string) (int, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantBackend.Count")
	defer span.End()
	span.SetAttributes(attribute.String("namespace", namespace))

	if err := ValidateNamespace(namespace); err != nil {
		return 0, err
	}

	var count int
	err := b.retryOperation(ctx, "count", func() error {
		info, err := b.client.GetCollectionInfo(ctx, namespace)
		if err != nil {
			return err
		}
		if info.PointsCount != nil {
			count = int(*info.PointsCount)
		}
		return nil
	})
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
			return 0, ErrNamespaceNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("counting %s: %w", namespace, err)
	}

	span.SetAttributes(attribute.Int("vector_count", count))
	span.SetStatus(codes.Ok, "success")
	return count, nil
}

// Ensure QdrantBackend implements Backend.
var _ Backend = (*QdrantBackend)(nil)
