package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/inboxd/internal/chunker"
	"github.com/fyrsmithlabs/inboxd/internal/index"
	"github.com/fyrsmithlabs/inboxd/internal/mail"
	"github.com/fyrsmithlabs/inboxd/internal/tenant"
)

var testTenant = tenant.Tenant{OrgID: "acme", UserID: "u42"}

type fakeMailStore struct {
	docs        []*mail.Document
	pendingOnly bool
	marked      []string
	counts      mail.Counts
}

func (f *fakeMailStore) Insert(ctx context.Context, doc *mail.Document) error { return nil }

func (f *fakeMailStore) Get(ctx context.Context, tn tenant.Tenant, id string) (*mail.Document, error) {
	for _, doc := range f.docs {
		if doc.ID == id {
			return doc, nil
		}
	}
	return nil, mail.ErrNotFound
}

func (f *fakeMailStore) ListDocuments(ctx context.Context, tn tenant.Tenant, pendingOnly bool) ([]*mail.Document, error) {
	f.pendingOnly = pendingOnly
	if !pendingOnly {
		return f.docs, nil
	}
	var pending []*mail.Document
	for _, doc := range f.docs {
		if !doc.IsEmbedded {
			pending = append(pending, doc)
		}
	}
	return pending, nil
}

func (f *fakeMailStore) MarkEmbedded(ctx context.Context, tn tenant.Tenant, id string, at time.Time) error {
	f.marked = append(f.marked, id)
	for _, doc := range f.docs {
		if doc.ID == id {
			doc.IsEmbedded = true
			doc.EmbeddedAt = at
		}
	}
	return nil
}

func (f *fakeMailStore) Counts(ctx context.Context, tn tenant.Tenant) (mail.Counts, error) {
	return f.counts, nil
}

func (f *fakeMailStore) Close() error { return nil }

type fakeEmbedder struct {
	failOn string
	calls  int
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if f.failOn != "" && strings.Contains(text, f.failOn) {
			return nil, errors.New("embedding service unavailable")
		}
		vectors[i] = []float32{float32(len(text)), 0, 0, 0}
	}
	return vectors, nil
}

type fakeVectors struct {
	records    []index.Record
	upsertErr  error
	deletedOpt *index.FilterOptions
	erased     bool
	stats      index.NamespaceStats
	statsErr   error
}

func (f *fakeVectors) Upsert(ctx context.Context, tn tenant.Tenant, records []index.Record) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.records = append(f.records, records...)
	return nil
}

func (f *fakeVectors) DeleteByFilter(ctx context.Context, tn tenant.Tenant, opts index.FilterOptions) error {
	f.deletedOpt = &opts
	return nil
}

func (f *fakeVectors) DeleteNamespace(ctx context.Context, tn tenant.Tenant) error {
	f.erased = true
	return nil
}

func (f *fakeVectors) Stats(ctx context.Context, tn tenant.Tenant) (index.NamespaceStats, error) {
	return f.stats, f.statsErr
}

func doc(id, body string, embedded bool) *mail.Document {
	return &mail.Document{
		ID:         id,
		OrgID:      testTenant.OrgID,
		UserID:     testTenant.UserID,
		ThreadID:   "thr-1",
		Sender:     "cfo@acme.test",
		SentAt:     time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		BodyText:   body,
		IsEmbedded: embedded,
	}
}

func newTestCoordinator(t *testing.T, store *fakeMailStore, embedder *fakeEmbedder, vectors *fakeVectors) *Coordinator {
	t.Helper()
	splitter, err := chunker.New(chunker.Config{}, nil)
	require.NoError(t, err)
	return NewCoordinator(store, splitter, embedder, vectors, nil)
}

func TestVectorizePendingDocuments(t *testing.T) {
	store := &fakeMailStore{docs: []*mail.Document{
		doc("msg-1", "The budget was approved. Funds arrive Friday.", false),
		doc("msg-2", "Old news.", true),
	}}
	vectors := &fakeVectors{}
	c := newTestCoordinator(t, store, &fakeEmbedder{}, vectors)

	report, err := c.Vectorize(context.Background(), testTenant, 0, false)
	require.NoError(t, err)

	assert.True(t, store.pendingOnly)
	assert.Equal(t, 1, report.VectorizedCount)
	assert.Empty(t, report.Errors)
	assert.Equal(t, []string{"msg-1"}, store.marked)

	require.NotEmpty(t, vectors.records)
	rec := vectors.records[0]
	assert.Equal(t, "msg-1_chunk_0", rec.ID)
	assert.Equal(t, "acme", rec.Metadata[index.MetaOrgID])
	assert.Equal(t, 0, rec.Metadata[index.MetaChunkIndex])
	assert.NotEmpty(t, rec.Metadata[index.MetaPreview])
	assert.NotNil(t, rec.Metadata[index.MetaChunkCount])
}

func TestVectorizeForceIncludesEmbedded(t *testing.T) {
	store := &fakeMailStore{docs: []*mail.Document{
		doc("msg-1", "Already indexed once.", true),
	}}
	c := newTestCoordinator(t, store, &fakeEmbedder{}, &fakeVectors{})

	report, err := c.Vectorize(context.Background(), testTenant, 0, true)
	require.NoError(t, err)

	assert.False(t, store.pendingOnly)
	assert.Equal(t, 1, report.VectorizedCount)
}

func TestVectorizeSkipsEmptyBodies(t *testing.T) {
	store := &fakeMailStore{docs: []*mail.Document{
		doc("msg-1", "   ", false),
		doc("msg-2", "Real content here.", false),
	}}
	c := newTestCoordinator(t, store, &fakeEmbedder{}, &fakeVectors{})

	report, err := c.Vectorize(context.Background(), testTenant, 0, false)
	require.NoError(t, err)

	assert.Equal(t, 1, report.SkippedCount)
	assert.Equal(t, 1, report.VectorizedCount)
	assert.Equal(t, []string{"msg-2"}, store.marked)
}

func TestVectorizeContinuesPastFailingDocument(t *testing.T) {
	store := &fakeMailStore{docs: []*mail.Document{
		doc("msg-1", "poison content that fails.", false),
		doc("msg-2", "Healthy content.", false),
	}}
	c := newTestCoordinator(t, store, &fakeEmbedder{failOn: "poison"}, &fakeVectors{})

	report, err := c.Vectorize(context.Background(), testTenant, 0, false)
	require.NoError(t, err, "a failing document never aborts the run")

	assert.Equal(t, 1, report.VectorizedCount)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "msg-1")
	assert.Equal(t, []string{"msg-2"}, store.marked)
}

func TestVectorizeRejectsInvalidTenant(t *testing.T) {
	c := newTestCoordinator(t, &fakeMailStore{}, &fakeEmbedder{}, &fakeVectors{})

	_, err := c.Vectorize(context.Background(), tenant.Tenant{}, 0, false)
	assert.ErrorIs(t, err, tenant.ErrInvalidTenant)
}

func TestVectorizeSecondRunIsNoOp(t *testing.T) {
	store := &fakeMailStore{docs: []*mail.Document{
		doc("msg-1", "The budget was approved. Funds arrive Friday.", false),
		doc("msg-2", "Renewal signed on Tuesday.", false),
	}}
	vectors := &fakeVectors{}
	c := newTestCoordinator(t, store, &fakeEmbedder{}, vectors)

	first, err := c.Vectorize(context.Background(), testTenant, 0, false)
	require.NoError(t, err)
	require.Equal(t, 2, first.VectorizedCount)
	written := len(vectors.records)

	second, err := c.Vectorize(context.Background(), testTenant, 0, false)
	require.NoError(t, err)

	assert.Zero(t, second.VectorizedCount, "embedded documents are not reprocessed")
	assert.Zero(t, second.TotalChunks)
	assert.Len(t, vectors.records, written, "no new vectors written on the second run")
}

func TestVectorizeSmallBatchesCoverAllDocuments(t *testing.T) {
	var docs []*mail.Document
	for _, id := range []string{"msg-1", "msg-2", "msg-3", "msg-4", "msg-5"} {
		docs = append(docs, doc(id, "Body for "+id+".", false))
	}
	store := &fakeMailStore{docs: docs}
	c := newTestCoordinator(t, store, &fakeEmbedder{}, &fakeVectors{})

	report, err := c.Vectorize(context.Background(), testTenant, 2, false)
	require.NoError(t, err)

	assert.Equal(t, 5, report.VectorizedCount)
	assert.Len(t, store.marked, 5)
}

func TestChunkPreviewNeverSplitsRunes(t *testing.T) {
	// A two-byte rune straddling the byte limit is dropped whole
	// instead of leaving half a rune in the preview.
	text := strings.Repeat("a", chunkPreviewLimit-1) + "é and plenty of text past the limit"
	preview := chunkPreview(text)

	assert.True(t, utf8.ValidString(preview))
	assert.LessOrEqual(t, len(preview), chunkPreviewLimit)
	assert.Equal(t, strings.Repeat("a", chunkPreviewLimit-1), preview)
}

func TestReindex(t *testing.T) {
	store := &fakeMailStore{docs: []*mail.Document{
		doc("msg-1", "Rebuild me please.", true),
	}}
	vectors := &fakeVectors{}
	c := newTestCoordinator(t, store, &fakeEmbedder{}, vectors)

	require.NoError(t, c.Reindex(context.Background(), testTenant, "msg-1"))

	require.NotNil(t, vectors.deletedOpt)
	assert.Equal(t, "msg-1", vectors.deletedOpt.DocumentID)
	assert.NotEmpty(t, vectors.records, "vectors rebuilt after deletion")
	assert.Equal(t, []string{"msg-1"}, store.marked)
}

func TestReindexMissingDocument(t *testing.T) {
	c := newTestCoordinator(t, &fakeMailStore{}, &fakeEmbedder{}, &fakeVectors{})

	err := c.Reindex(context.Background(), testTenant, "nope")
	assert.ErrorIs(t, err, mail.ErrNotFound)
}

func TestErase(t *testing.T) {
	vectors := &fakeVectors{}
	c := newTestCoordinator(t, &fakeMailStore{}, &fakeEmbedder{}, vectors)

	require.NoError(t, c.Erase(context.Background(), testTenant))
	assert.True(t, vectors.erased)
}

func TestStatus(t *testing.T) {
	store := &fakeMailStore{counts: mail.Counts{Total: 10, Embedded: 10}}
	vectors := &fakeVectors{stats: index.NamespaceStats{VectorCount: 42}}
	c := newTestCoordinator(t, store, &fakeEmbedder{}, vectors)

	status, err := c.Status(context.Background(), testTenant)
	require.NoError(t, err)

	assert.Equal(t, 10, status.Total)
	assert.Equal(t, 10, status.Embedded)
	assert.Zero(t, status.Pending)
	assert.Equal(t, 42, status.VectorCount)
	assert.True(t, status.Ready)
}

func TestStatusNotReadyWhilePending(t *testing.T) {
	store := &fakeMailStore{counts: mail.Counts{Total: 10, Embedded: 7}}
	c := newTestCoordinator(t, store, &fakeEmbedder{}, &fakeVectors{})

	status, err := c.Status(context.Background(), testTenant)
	require.NoError(t, err)

	assert.Equal(t, 3, status.Pending)
	assert.False(t, status.Ready)
}

func TestStatusDegradesWhenIndexUnavailable(t *testing.T) {
	store := &fakeMailStore{counts: mail.Counts{Total: 2, Embedded: 2}}
	vectors := &fakeVectors{statsErr: errors.New("backend down")}
	c := newTestCoordinator(t, store, &fakeEmbedder{}, vectors)

	status, err := c.Status(context.Background(), testTenant)
	require.NoError(t, err, "stats failure degrades, it does not fail the call")
	assert.Zero(t, status.VectorCount)
	assert.Equal(t, 2, status.Total)
}

func TestStatusEmptyMailboxNotReady(t *testing.T) {
	c := newTestCoordinator(t, &fakeMailStore{}, &fakeEmbedder{}, &fakeVectors{})

	status, err := c.Status(context.Background(), testTenant)
	require.NoError(t, err)
	assert.False(t, status.Ready)
}
