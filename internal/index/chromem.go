package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// chromemTracer for OpenTelemetry instrumentation.
var chromemTracer = otel.Tracer("inboxd.index.chromem")

// ChromemConfig holds configuration for the embedded chromem-go
// backend.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	// Default: "~/.config/inboxd/index"
	Path string `koanf:"path"`

	// Compress enables gzip compression for stored data.
	Compress bool `koanf:"compress"`
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "~/.config/inboxd/index"
	}
}

// ChromemBackend implements Backend using chromem-go.
//
// chromem-go is an embeddable vector database with zero third-party
// dependencies: no external service to run, persistence to gob files.
// The default backend for local and dev deployments.
//
// chromem only supports equality metadata filters, so date-range
// conditions are applied locally after the similarity query.
type ChromemBackend struct {
	db     *chromem.DB
	logger *zap.Logger
}

// NewChromemBackend opens (or creates) the persistent database.
func NewChromemBackend(config ChromemConfig, logger *zap.Logger) (*ChromemBackend, error) {
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	path, err := expandHomePath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}

	db, err := chromem.NewPersistentDB(path, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("opening chromem DB: %w", err)
	}

	logger.Info("chromem backend initialized",
		zap.String("path", path),
		zap.Bool("compress", config.Compress),
	)

	return &ChromemBackend{db: db, logger: logger}, nil
}

// expandHomePath expands ~ to the home directory.
func expandHomePath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// embeddingFunc is passed to chromem so it never falls back to its
// default OpenAI embedder. All vectors are precomputed; this func
// must never run.
func embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return nil, errors.New("vectors are precomputed; embedding inside the index is not supported")
	}
}

// EnsureNamespace creates the collection if it does not exist.
func (b *ChromemBackend) EnsureNamespace(ctx context.Context, namespace string, dimension int) error {
	_, span := chromemTracer.Start(ctx, "ChromemBackend.EnsureNamespace")
	defer span.End()
	span.SetAttributes(attribute.String("namespace", namespace))

	if err := ValidateNamespace(namespace); err != nil {
		return err
	}

	if _, err := b.db.GetOrCreateCollection(namespace, nil, embeddingFunc()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("getting/creating namespace %s: %w", namespace, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// collection returns the namespace collection or ErrNamespaceNotFound.
func (b *ChromemBackend) collection(namespace string) (*chromem.Collection, error) {
	if err := ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	coll := b.db.GetCollection(namespace, embeddingFunc())
	if coll == nil {
		return nil, ErrNamespaceNotFound
	}
	return coll, nil
}

// Upsert writes records into the namespace.
func (b *ChromemBackend) Upsert(ctx context.Context, namespace string, records []Record) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemBackend.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("namespace", namespace),
		attribute.Int("record_count", len(records)),
	)

	coll, err := b.collection(namespace)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if len(records) == 0 {
		return nil
	}

	docs := make([]chromem.Document, len(records))
	for i, rec := range records {
		docs[i] = chromem.Document{
			ID:        rec.ID,
			Content:   stringMetaValue(rec.Metadata, MetaPreview),
			Metadata:  metadataToString(rec.Metadata),
			Embedding: rec.Vector,
		}
	}

	// Concurrency 1: embeddings are precomputed, nothing to parallelize.
	if err := coll.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding documents to %s: %w", namespace, err)
	}

	b.logger.Debug("upserted records into chromem",
		zap.String("namespace", namespace),
		zap.Int("count", len(records)),
	)
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Query searches the namespace. Equality filters run inside chromem;
// date-range bounds are checked locally against the stored numeric
// timestamp.
func (b *ChromemBackend) Query(ctx context.Context, namespace string, vector []float32, limit int, filter Filter) ([]Fragment, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemBackend.Query")
	defer span.End()
	span.SetAttributes(
		attribute.String("namespace", namespace),
		attribute.Int("limit", limit),
	)

	coll, err := b.collection(namespace)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	// chromem requires nResults <= document count.
	count := coll.Count()
	if count == 0 {
		return nil, nil
	}
	if limit > count {
		limit = count
	}

	results, err := coll.QueryEmbedding(ctx, vector, limit, filter.EqualityConditions(), nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying %s: %w", namespace, err)
	}

	fragments := make([]Fragment, 0, len(results))
	for _, r := range results {
		if filter.HasDateRange() && !inDateRange(r.Metadata, filter) {
			continue
		}
		fragments = append(fragments, Fragment{
			ID:       r.ID,
			Score:    r.Similarity,
			Metadata: metadataFromString(r.Metadata),
		})
	}

	span.SetAttributes(attribute.Int("results_count", len(fragments)))
	span.SetStatus(codes.Ok, "success")
	return fragments, nil
}

// inDateRange checks the stored numeric sent timestamp against the
// filter's bounds.
func inDateRange(metadata map[string]string, filter Filter) bool {
	raw, ok := metadata[MetaSentAtTS]
	if !ok {
		return false
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false
	}
	if !filter.DateFrom.IsZero() && ts < filter.DateFrom.Unix() {
		return false
	}
	if !filter.DateTo.IsZero() && ts > filter.DateTo.Unix() {
		return false
	}
	return true
}

// DeleteByIDs removes records by their vector IDs.
func (b *ChromemBackend) DeleteByIDs(ctx context.Context, namespace string, ids []string) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemBackend.DeleteByIDs")
	defer span.End()
	span.SetAttributes(
		attribute.String("namespace", namespace),
		attribute.Int("id_count", len(ids)),
	)

	coll, err := b.collection(namespace)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	if err := coll.Delete(ctx, nil, nil, ids...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting from %s: %w", namespace, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// DeleteByFilter removes all records matching the filter's equality
// conditions. Date-range deletes are not supported by chromem.
func (b *ChromemBackend) DeleteByFilter(ctx context.Context, namespace string, filter Filter) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemBackend.DeleteByFilter")
	defer span.End()
	span.SetAttributes(attribute.String("namespace", namespace))

	coll, err := b.collection(namespace)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if err := filter.Validate(); err != nil {
		return err
	}
	if filter.HasDateRange() {
		return fmt.Errorf("chromem backend does not support date-range deletes")
	}

	if err := coll.Delete(ctx, filter.EqualityConditions(), nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting by filter from %s: %w", namespace, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// DeleteNamespace removes the collection and all its documents.
func (b *ChromemBackend) DeleteNamespace(ctx context.Context, namespace string) error {
	_, span := chromemTracer.Start(ctx, "ChromemBackend.DeleteNamespace")
	defer span.End()
	span.SetAttributes(attribute.String("namespace", namespace))

	if err := ValidateNamespace(namespace); err != nil {
		return err
	}

	if err := b.db.DeleteCollection(namespace); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting namespace %s: %w", namespace, err)
	}

	b.logger.Info("deleted chromem namespace", zap.String("namespace", namespace))
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Count returns the number of documents in the namespace.
func (b *ChromemBackend) Count(ctx context.Context, namespace string) (int, error) {
	_, span := chromemTracer.Start(ctx, "ChromemBackend.Count")
	defer span.End()
	span.SetAttributes(attribute.String("namespace", namespace))

	coll, err := b.collection(namespace)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	count := coll.Count()
	span.SetAttributes(attribute.Int("vector_count", count))
	span.SetStatus(codes.Ok, "success")
	return count, nil
}

// Close is a no-op; chromem persists on every write.
func (b *ChromemBackend) Close() error {
	return nil
}

// metadataToString converts payload values to chromem's string-only
// metadata.
func metadataToString(metadata map[string]interface{}) map[string]string {
	if metadata == nil {
		return nil
	}
	result := make(map[string]string, len(metadata))
	for k, v := range metadata {
		switch val := v.(type) {
		case string:
			result[k] = val
		case int:
			result[k] = strconv.Itoa(val)
		case int64:
			result[k] = strconv.FormatInt(val, 10)
		case float64:
			result[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			result[k] = strconv.FormatBool(val)
		default:
			result[k] = fmt.Sprintf("%v", val)
		}
	}
	return result
}

// metadataFromString lifts chromem metadata back to the payload shape.
func metadataFromString(metadata map[string]string) map[string]interface{} {
	if metadata == nil {
		return nil
	}
	result := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		result[k] = v
	}
	return result
}

func stringMetaValue(metadata map[string]interface{}, key string) string {
	if metadata == nil {
		return ""
	}
	if v, ok := metadata[key].(string); ok {
		return v
	}
	return ""
}

// Ensure ChromemBackend implements Backend.
var _ Backend = (*ChromemBackend)(nil)
