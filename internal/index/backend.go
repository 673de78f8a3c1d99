package index

import "context"

// Backend is the storage interface behind the Gateway.
//
// Implementations are transport-specific (Qdrant over gRPC, chromem
// embedded) and map one namespace to one physical collection. They can
// assume the Gateway has already validated the namespace and filter;
// they re-validate anyway because the check is cheap and the invariant
// matters.
type Backend interface {
	// EnsureNamespace creates the namespace if it does not exist.
	EnsureNamespace(ctx context.Context, namespace string, dimension int) error

	// Upsert writes records into the namespace, overwriting existing
	// records with the same ID.
	Upsert(ctx context.Context, namespace string, records []Record) error

	// Query returns up to limit fragments most similar to vector,
	// restricted by filter. Results are ordered by score descending.
	Query(ctx context.Context, namespace string, vector []float32, limit int, filter Filter) ([]Fragment, error)

	// DeleteByIDs removes records by their vector IDs.
	DeleteByIDs(ctx context.Context, namespace string, ids []string) error

	// DeleteByFilter removes all records matching the filter.
	DeleteByFilter(ctx context.Context, namespace string, filter Filter) error

	// DeleteNamespace removes the namespace and everything in it.
	DeleteNamespace(ctx context.Context, namespace string) error

	// Count returns the number of vectors in the namespace.
	// Returns ErrNamespaceNotFound if the namespace does not exist.
	Count(ctx context.Context, namespace string) (int, error)

	// Close releases backend resources.
	Close() error
}
