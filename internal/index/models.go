// Package index provides the tenant-scoped vector index gateway and
// its backends.
//
// All vector operations flow through the Gateway, which derives the
// physical namespace from the tenant, validates filters before any
// backend call, and applies the relevance floor locally. Backends never
// see a request without a namespace and a tenant-complete filter.
package index

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Sentinel errors for index operations.
var (
	// ErrMissingNamespace is returned when an operation reaches the
	// gateway without a namespace. Checked before any backend call.
	ErrMissingNamespace = errors.New("namespace required for index operation")

	// ErrMissingTenantFilter is returned when a filter lacks the full
	// tenant pair. Fail closed: no filter, no query.
	ErrMissingTenantFilter = errors.New("filter missing tenant identifiers")

	// ErrInvalidNamespace indicates namespace name validation failure.
	ErrInvalidNamespace = errors.New("invalid namespace name")

	// ErrNamespaceNotFound is returned when a namespace does not exist.
	ErrNamespaceNotFound = errors.New("namespace not found")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConnectionFailed indicates backend connection issues.
	ErrConnectionFailed = errors.New("failed to connect to vector backend")
)

// Metadata keys stored with every vector. The tenant pair is
// denormalized into the payload even though namespaces already isolate
// tenants: defense in depth, and it makes every filter self-contained.
const (
	MetaOrgID      = "org_id"
	MetaUserID     = "user_id"
	MetaDocumentID = "email_id"
	MetaThreadID   = "thread_id"
	MetaMessageID  = "message_id"
	MetaSender     = "sender"
	MetaSenderName = "sender_name"
	MetaSubject    = "subject"
	MetaSentAt     = "sent_at"
	MetaSentAtTS   = "sent_at_ts"
	MetaChunkIndex = "chunk_index"
	MetaChunkCount = "chunk_token_count"
	MetaPreview    = "text_preview"
)

// namespacePattern validates namespace names.
// Lowercase letters, numbers, underscores, 1-64 characters.
var namespacePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateNamespace validates a namespace name against backend naming
// rules. Rejects uppercase, special chars, path traversal, spaces.
func ValidateNamespace(name string) error {
	if name == "" {
		return ErrMissingNamespace
	}
	if !namespacePattern.MatchString(name) {
		return fmt.Errorf("%w: must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidNamespace, name)
	}
	return nil
}

// VectorID derives the stable vector identifier for a document chunk:
// {documentID}_chunk_{index}. Re-ingesting a document overwrites the
// same IDs instead of duplicating points.
func VectorID(documentID string, chunkIndex int) string {
	return fmt.Sprintf("%s_chunk_%d", documentID, chunkIndex)
}

// Record is a vector plus its payload, ready for upsert.
type Record struct {
	// ID is the stable vector identifier (see VectorID).
	ID string

	// Vector is the embedding.
	Vector []float32

	// Metadata is the denormalized payload stored with the vector.
	Metadata map[string]interface{}
}

// Fragment is one retrieval hit: a stored chunk with its similarity
// score and payload.
type Fragment struct {
	// ID is the vector identifier.
	ID string

	// Score is the similarity score from the backend.
	Score float32

	// Metadata is the stored payload.
	Metadata map[string]interface{}
}

// DocumentID returns the owning document's identifier from metadata.
func (f Fragment) DocumentID() string {
	return f.stringMeta(MetaDocumentID)
}

// ThreadID returns the owning thread's identifier from metadata.
func (f Fragment) ThreadID() string {
	return f.stringMeta(MetaThreadID)
}

// Preview returns the stored text preview from metadata.
func (f Fragment) Preview() string {
	return f.stringMeta(MetaPreview)
}

// Sender returns the document sender address from metadata.
func (f Fragment) Sender() string {
	return f.stringMeta(MetaSender)
}

// Subject returns the document subject from metadata.
func (f Fragment) Subject() string {
	return f.stringMeta(MetaSubject)
}

// ChunkIndex returns the chunk position from metadata. Backends differ
// in how they round-trip numbers (qdrant keeps int64, chromem stores
// strings), so all shapes are handled.
func (f Fragment) ChunkIndex() int {
	if f.Metadata == nil {
		return 0
	}
	switch v := f.Metadata[MetaChunkIndex].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

// SentAt returns the document sent time from metadata, or the zero
// time when absent or unparsable.
func (f Fragment) SentAt() time.Time {
	raw := f.stringMeta(MetaSentAt)
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (f Fragment) stringMeta(key string) string {
	if f.Metadata == nil {
		return ""
	}
	if v, ok := f.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// NamespaceStats reports per-namespace sizing.
type NamespaceStats struct {
	// Namespace is the namespace name.
	Namespace string `json:"namespace"`

	// VectorCount is the number of stored vectors.
	VectorCount int `json:"vector_count"`
}
