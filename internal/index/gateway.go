package index

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/inboxd/internal/tenant"
)

// gatewayTracer for OpenTelemetry instrumentation.
var gatewayTracer = otel.Tracer("inboxd.index.gateway")

// GatewayConfig holds gateway settings.
type GatewayConfig struct {
	// Dimension is the embedding dimension, used when auto-creating
	// namespaces.
	Dimension int `koanf:"dimension"`

	// BatchSize is the upsert batch size. Default: 100.
	BatchSize int `koanf:"batch_size"`

	// MinScore is the relevance floor applied to query results.
	// Applied locally, never delegated to the backend, so the cutoff
	// behaves identically across backends. Default: 0.7.
	MinScore float32 `koanf:"min_score"`
}

// ApplyDefaults sets default values for unset fields.
func (c *GatewayConfig) ApplyDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
	if c.MinScore == 0 {
		c.MinScore = 0.7
	}
}

// Validate validates the configuration.
func (c GatewayConfig) Validate() error {
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive", ErrInvalidConfig)
	}
	if c.MinScore < 0 || c.MinScore > 1 {
		return fmt.Errorf("%w: min score must be in [0,1]", ErrInvalidConfig)
	}
	return nil
}

// Gateway is the tenant-scoped entry point for all vector operations.
//
// Per-tenant isolation is enforced twice on every call path: the
// physical namespace is derived from the tenant (never caller-supplied)
// and the metadata filter always carries the tenant pair. Neither check
// is skippable from outside this package.
type Gateway struct {
	backend Backend
	config  GatewayConfig
	logger  *zap.Logger
}

// NewGateway creates a Gateway over the given backend.
func NewGateway(backend Backend, config GatewayConfig, logger *zap.Logger) (*Gateway, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if backend == nil {
		return nil, fmt.Errorf("%w: backend required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Gateway{
		backend: backend,
		config:  config,
		logger:  logger,
	}, nil
}

// MinScore returns the configured relevance floor.
func (g *Gateway) MinScore() float32 {
	return g.config.MinScore
}

// namespaceFor derives and validates the tenant's namespace.
func (g *Gateway) namespaceFor(tn tenant.Tenant) (string, error) {
	if err := tn.Validate(); err != nil {
		return "", err
	}
	ns := tn.Namespace()
	if err := ValidateNamespace(ns); err != nil {
		return "", err
	}
	return ns, nil
}

// Upsert writes records into the tenant's namespace in batches,
// creating the namespace on first use.
func (g *Gateway) Upsert(ctx context.Context, tn tenant.Tenant, records []Record) error {
	ctx, span := gatewayTracer.Start(ctx, "Gateway.Upsert")
	defer span.End()

	ns, err := g.namespaceFor(tn)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(
		attribute.String("namespace", ns),
		attribute.Int("record_count", len(records)),
	)

	if len(records) == 0 {
		return nil
	}

	if err := g.backend.EnsureNamespace(ctx, ns, g.config.Dimension); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("ensuring namespace %s: %w", ns, err)
	}

	for start := 0; start < len(records); start += g.config.BatchSize {
		end := start + g.config.BatchSize
		if end > len(records) {
			end = len(records)
		}
		if err := g.backend.Upsert(ctx, ns, records[start:end]); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("upserting batch [%d:%d] into %s: %w", start, end, ns, err)
		}
	}

	g.logger.Debug("upserted records",
		zap.String("namespace", ns),
		zap.Int("count", len(records)),
	)
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Query retrieves up to limit fragments similar to vector, restricted
// by the filter built from opts, then applies the relevance floor
// locally. Fewer than limit results (or zero) is a normal outcome, not
// an error.
func (g *Gateway) Query(ctx context.Context, tn tenant.Tenant, vector []float32, limit int, opts FilterOptions) ([]Fragment, error) {
	ctx, span := gatewayTracer.Start(ctx, "Gateway.Query")
	defer span.End()

	ns, err := g.namespaceFor(tn)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("namespace", ns),
		attribute.Int("limit", limit),
	)

	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	if len(vector) != g.config.Dimension {
		return nil, fmt.Errorf("query vector dimension %d does not match configured %d", len(vector), g.config.Dimension)
	}

	filter, err := BuildFilter(tn, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := filter.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	fragments, err := g.backend.Query(ctx, ns, vector, limit, filter)
	if err != nil {
		if errors.Is(err, ErrNamespaceNotFound) {
			// Nothing ingested yet for this tenant.
			span.SetStatus(codes.Ok, "namespace empty")
			return nil, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying %s: %w", ns, err)
	}

	// Relevance floor, applied after the fetch. Backends return their
	// top-limit hits; weak ones are dropped here rather than refetched.
	kept := fragments[:0]
	for _, f := range fragments {
		if f.Score >= g.config.MinScore {
			kept = append(kept, f)
		}
	}

	span.SetAttributes(
		attribute.Int("results_fetched", len(fragments)),
		attribute.Int("results_kept", len(kept)),
	)
	span.SetStatus(codes.Ok, "success")
	return kept, nil
}

// DeleteByIDs removes records by vector ID from the tenant's namespace.
func (g *Gateway) DeleteByIDs(ctx context.Context, tn tenant.Tenant, ids []string) error {
	ctx, span := gatewayTracer.Start(ctx, "Gateway.DeleteByIDs")
	defer span.End()

	ns, err := g.namespaceFor(tn)
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.String("namespace", ns), attribute.Int("id_count", len(ids)))

	if len(ids) == 0 {
		return nil
	}
	if err := g.backend.DeleteByIDs(ctx, ns, ids); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting %d records from %s: %w", len(ids), ns, err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// DeleteByFilter removes all records matching the filter built from
// opts within the tenant's namespace.
func (g *Gateway) DeleteByFilter(ctx context.Context, tn tenant.Tenant, opts FilterOptions) error {
	ctx, span := gatewayTracer.Start(ctx, "Gateway.DeleteByFilter")
	defer span.End()

	ns, err := g.namespaceFor(tn)
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.String("namespace", ns))

	filter, err := BuildFilter(tn, opts)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if err := filter.Validate(); err != nil {
		span.RecordError(err)
		return err
	}

	if err := g.backend.DeleteByFilter(ctx, ns, filter); err != nil {
		if errors.Is(err, ErrNamespaceNotFound) {
			return nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting by filter from %s: %w", ns, err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// DeleteNamespace removes the tenant's entire namespace. Used for
// tenant data erasure; destructive and not undoable.
func (g *Gateway) DeleteNamespace(ctx context.Context, tn tenant.Tenant) error {
	ctx, span := gatewayTracer.Start(ctx, "Gateway.DeleteNamespace")
	defer span.End()

	ns, err := g.namespaceFor(tn)
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.String("namespace", ns))

	if err := g.backend.DeleteNamespace(ctx, ns); err != nil {
		if errors.Is(err, ErrNamespaceNotFound) {
			return nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting namespace %s: %w", ns, err)
	}

	g.logger.Info("namespace deleted", zap.String("namespace", ns))
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Stats returns sizing for the tenant's namespace. A missing namespace
// reports zero vectors.
func (g *Gateway) Stats(ctx context.Context, tn tenant.Tenant) (NamespaceStats, error) {
	ctx, span := gatewayTracer.Start(ctx, "Gateway.Stats")
	defer span.End()

	ns, err := g.namespaceFor(tn)
	if err != nil {
		span.RecordError(err)
		return NamespaceStats{}, err
	}
	span.SetAttributes(attribute.String("namespace", ns))

	count, err := g.backend.Count(ctx, ns)
	if err != nil {
		if errors.Is(err, ErrNamespaceNotFound) {
			return NamespaceStats{Namespace: ns}, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return NamespaceStats{}, fmt.Errorf("counting %s: %w", ns, err)
	}

	span.SetAttributes(attribute.Int("vector_count", count))
	span.SetStatus(codes.Ok, "success")
	return NamespaceStats{Namespace: ns, VectorCount: count}, nil
}

// Close releases the underlying backend.
func (g *Gateway) Close() error {
	return g.backend.Close()
}
