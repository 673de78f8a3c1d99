// Package mail defines the email document model the rest of the
// system ingests and retrieves over.
package mail

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fyrsmithlabs/inboxd/internal/tenant"
)

// ErrNotFound indicates the requested document does not exist.
var ErrNotFound = errors.New("document not found")

// previewLimit bounds the stored text preview in bytes. Truncation
// never cuts inside a rune.
const previewLimit = 200

// Document is one email message owned by a tenant.
type Document struct {
	// ID is the stable document identifier used in vector IDs.
	ID string

	// OrgID and UserID name the owning tenant.
	OrgID  string
	UserID string

	// MessageID is the RFC 5322 Message-ID header value.
	MessageID string

	// ThreadID groups messages of one conversation.
	ThreadID string

	// Subject is the message subject line.
	Subject string

	// Sender is the From address; SenderName its display name.
	Sender     string
	SenderName string

	// SentAt is when the message was sent.
	SentAt time.Time

	// BodyText is the plain-text body used for chunking.
	BodyText string

	// IsEmbedded marks documents whose chunks are already in the
	// vector index. EmbeddedAt records when that happened.
	IsEmbedded bool
	EmbeddedAt time.Time
}

// Tenant returns the owning tenant.
func (d *Document) Tenant() tenant.Tenant {
	return tenant.Tenant{OrgID: d.OrgID, UserID: d.UserID}
}

// Metadata returns the payload stored alongside each of the
// document's vectors. Chunk-level keys are added by the ingestion
// coordinator.
func (d *Document) Metadata() map[string]interface{} {
	meta := map[string]interface{}{
		"org_id":     d.OrgID,
		"user_id":    d.UserID,
		"email_id":   d.ID,
		"message_id": d.MessageID,
		"thread_id":  d.ThreadID,
		"subject":    d.Subject,
		"sender":     d.Sender,
		"sent_at":    d.SentAt.UTC().Format(time.RFC3339),
		"sent_at_ts": d.SentAt.Unix(),
	}
	if d.SenderName != "" {
		meta["sender_name"] = d.SenderName
	}
	return meta
}

// Preview returns the opening of the body for display in citations.
func (d *Document) Preview() string {
	text := strings.TrimSpace(d.BodyText)
	if len(text) <= previewLimit {
		return text
	}
	cut := previewLimit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// Counts summarizes a tenant's documents in the store.
type Counts struct {
	Total    int
	Embedded int
}

// Pending reports documents not yet in the vector index.
func (c Counts) Pending() int {
	return c.Total - c.Embedded
}

// Store persists email documents.
type Store interface {
	// Insert saves a document, replacing any existing row with the
	// same ID.
	Insert(ctx context.Context, doc *Document) error

	// Get returns one document by ID, scoped to the tenant.
	Get(ctx context.Context, tn tenant.Tenant, id string) (*Document, error)

	// ListDocuments returns the tenant's documents. When pendingOnly
	// is set, only documents awaiting embedding are returned.
	ListDocuments(ctx context.Context, tn tenant.Tenant, pendingOnly bool) ([]*Document, error)

	// MarkEmbedded records that the document's chunks were indexed.
	MarkEmbedded(ctx context.Context, tn tenant.Tenant, id string, at time.Time) error

	// Counts returns document totals for the tenant.
	Counts(ctx context.Context, tn tenant.Tenant) (Counts, error)

	// Close releases store resources.
	Close() error
}
