// Package ingest coordinates chunking, embedding, and indexing of
// email documents.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/inboxd/internal/chunker"
	"github.com/fyrsmithlabs/inboxd/internal/index"
	"github.com/fyrsmithlabs/inboxd/internal/mail"
	"github.com/fyrsmithlabs/inboxd/internal/tenant"
)

const (
	// maxReportedErrors caps the error list in a run report. The run
	// itself continues past failing documents.
	maxReportedErrors = 50

	// chunkPreviewLimit bounds the text preview stored per vector, in
	// bytes, never cutting inside a rune.
	chunkPreviewLimit = 200

	// defaultDocumentBatch is how many documents one batch processes
	// when the caller does not say.
	defaultDocumentBatch = 50
)

// Embedder produces document embeddings.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore is the slice of the index gateway ingestion needs.
type VectorStore interface {
	Upsert(ctx context.Context, tn tenant.Tenant, records []index.Record) error
	DeleteByFilter(ctx context.Context, tn tenant.Tenant, opts index.FilterOptions) error
	DeleteNamespace(ctx context.Context, tn tenant.Tenant) error
	Stats(ctx context.Context, tn tenant.Tenant) (index.NamespaceStats, error)
}

// Report summarizes one vectorization run.
type Report struct {
	// VectorizedCount is the number of documents indexed this run.
	VectorizedCount int `json:"vectorized_count"`

	// SkippedCount is the number of documents skipped (already
	// embedded, or empty body).
	SkippedCount int `json:"skipped_count"`

	// TotalChunks is the number of vectors written.
	TotalChunks int `json:"total_chunks"`

	// Errors lists per-document failures, capped at 50 entries.
	Errors []string `json:"errors,omitempty"`

	// Duration is the wall time of the run.
	Duration time.Duration `json:"duration"`
}

// Status describes a tenant's vectorization state.
type Status struct {
	// Total, Embedded and Pending count documents in the mail store.
	Total    int `json:"total"`
	Embedded int `json:"embedded"`
	Pending  int `json:"pending"`

	// VectorCount is the number of vectors in the tenant's namespace.
	// Zero when the index is unreachable; the document counts above
	// are still valid then.
	VectorCount int `json:"vector_count"`

	// Ready reports whether every document is searchable.
	Ready bool `json:"ready"`
}

// Coordinator runs the ingestion flow for one tenant at a time.
type Coordinator struct {
	store    mail.Store
	splitter *chunker.Chunker
	embedder Embedder
	vectors  VectorStore
	logger   *zap.Logger
}

// NewCoordinator wires the ingestion dependencies.
func NewCoordinator(store mail.Store, splitter *chunker.Chunker, embedder Embedder, vectors VectorStore, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		store:    store,
		splitter: splitter,
		embedder: embedder,
		vectors:  vectors,
		logger:   logger,
	}
}

// Vectorize chunks, embeds, and indexes the tenant's documents in
// batches of batchSize (50 when not positive). By default only
// documents not yet embedded are processed; force reprocesses
// everything. A failing document is reported and skipped, never
// aborting the run.
func (c *Coordinator) Vectorize(ctx context.Context, tn tenant.Tenant, batchSize int, force bool) (*Report, error) {
	if err := tn.Validate(); err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = defaultDocumentBatch
	}

	started := time.Now()
	docs, err := c.store.ListDocuments(ctx, tn, !force)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}

	report := &Report{}
	for start := 0; start < len(docs); start += batchSize {
		end := start + batchSize
		if end > len(docs) {
			end = len(docs)
		}
		c.logger.Debug("processing document batch",
			zap.String("tenant", tn.String()),
			zap.Int("batch_start", start),
			zap.Int("batch_size", end-start))

		for _, doc := range docs[start:end] {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if strings.TrimSpace(doc.BodyText) == "" {
				report.SkippedCount++
				continue
			}

			chunks, err := c.vectorizeDocument(ctx, tn, doc)
			if err != nil {
				c.logger.Warn("document vectorization failed",
					zap.String("tenant", tn.String()),
					zap.String("document_id", doc.ID),
					zap.Error(err))
				if len(report.Errors) < maxReportedErrors {
					report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", doc.ID, err))
				}
				continue
			}

			report.VectorizedCount++
			report.TotalChunks += chunks
		}
	}

	report.Duration = time.Since(started)
	c.logger.Info("vectorization run complete",
		zap.String("tenant", tn.String()),
		zap.Int("vectorized", report.VectorizedCount),
		zap.Int("chunks", report.TotalChunks),
		zap.Int("errors", len(report.Errors)),
		zap.Duration("duration", report.Duration))
	return report, nil
}

// vectorizeDocument indexes one document and marks it embedded.
// Returns the number of chunks written.
func (c *Coordinator) vectorizeDocument(ctx context.Context, tn tenant.Tenant, doc *mail.Document) (int, error) {
	chunks := c.splitter.Split(doc.BodyText)
	if len(chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}

	vectors, err := c.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embedding: %w", err)
	}

	records := make([]index.Record, len(chunks))
	for i, ch := range chunks {
		meta := doc.Metadata()
		meta[index.MetaChunkIndex] = ch.Index
		meta[index.MetaChunkCount] = ch.TokenCount
		meta[index.MetaPreview] = chunkPreview(ch.Text)
		records[i] = index.Record{
			ID:       index.VectorID(doc.ID, ch.Index),
			Vector:   vectors[i],
			Metadata: meta,
		}
	}

	if err := c.vectors.Upsert(ctx, tn, records); err != nil {
		return 0, fmt.Errorf("indexing: %w", err)
	}

	if err := c.store.MarkEmbedded(ctx, tn, doc.ID, time.Now().UTC()); err != nil {
		return 0, fmt.Errorf("marking embedded: %w", err)
	}
	return len(records), nil
}

// Reindex removes a document's vectors and rebuilds them from the
// stored body.
func (c *Coordinator) Reindex(ctx context.Context, tn tenant.Tenant, documentID string) error {
	if err := tn.Validate(); err != nil {
		return err
	}

	doc, err := c.store.Get(ctx, tn, documentID)
	if err != nil {
		return err
	}

	if err := c.vectors.DeleteByFilter(ctx, tn, index.FilterOptions{DocumentID: documentID}); err != nil {
		return fmt.Errorf("removing existing vectors: %w", err)
	}

	if _, err := c.vectorizeDocument(ctx, tn, doc); err != nil {
		return err
	}
	return nil
}

// Erase removes the tenant's entire namespace from the vector index.
func (c *Coordinator) Erase(ctx context.Context, tn tenant.Tenant) error {
	if err := tn.Validate(); err != nil {
		return err
	}
	return c.vectors.DeleteNamespace(ctx, tn)
}

// Status reports vectorization progress. Index stats failures degrade
// to a zero vector count instead of failing the call.
func (c *Coordinator) Status(ctx context.Context, tn tenant.Tenant) (*Status, error) {
	if err := tn.Validate(); err != nil {
		return nil, err
	}

	counts, err := c.store.Counts(ctx, tn)
	if err != nil {
		return nil, fmt.Errorf("counting documents: %w", err)
	}

	status := &Status{
		Total:    counts.Total,
		Embedded: counts.Embedded,
		Pending:  counts.Pending(),
		Ready:    counts.Total > 0 && counts.Pending() == 0,
	}

	stats, err := c.vectors.Stats(ctx, tn)
	if err != nil {
		c.logger.Warn("index stats unavailable",
			zap.String("tenant", tn.String()),
			zap.Error(err))
		return status, nil
	}
	status.VectorCount = stats.VectorCount
	return status, nil
}

func chunkPreview(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= chunkPreviewLimit {
		return text
	}
	cut := chunkPreviewLimit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
