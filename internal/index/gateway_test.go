package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/inboxd/internal/tenant"
)

// fakeBackend records calls for gateway behavior tests.
type fakeBackend struct {
	ensured     []string
	upserts     [][]Record
	upsertNS    []string
	queryNS     string
	queryFilter Filter
	queryLimit  int
	fragments   []Fragment
	queryErr    error
	deletedIDs  []string
	deletedNS   string
	counts      map[string]int
	countErr    error
}

func (f *fakeBackend) EnsureNamespace(ctx context.Context, ns string, dim int) error {
	f.ensured = append(f.ensured, ns)
	return nil
}

func (f *fakeBackend) Upsert(ctx context.Context, ns string, records []Record) error {
	f.upsertNS = append(f.upsertNS, ns)
	batch := make([]Record, len(records))
	copy(batch, records)
	f.upserts = append(f.upserts, batch)
	return nil
}

func (f *fakeBackend) Query(ctx context.Context, ns string, vector []float32, limit int, filter Filter) ([]Fragment, error) {
	f.queryNS = ns
	f.queryFilter = filter
	f.queryLimit = limit
	return f.fragments, f.queryErr
}

func (f *fakeBackend) DeleteByIDs(ctx context.Context, ns string, ids []string) error {
	f.deletedNS = ns
	f.deletedIDs = append(f.deletedIDs, ids...)
	return nil
}

func (f *fakeBackend) DeleteByFilter(ctx context.Context, ns string, filter Filter) error {
	f.deletedNS = ns
	f.queryFilter = filter
	return nil
}

func (f *fakeBackend) DeleteNamespace(ctx context.Context, ns string) error {
	f.deletedNS = ns
	return nil
}

func (f *fakeBackend) Count(ctx context.Context, ns string) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.counts[ns], nil
}

func (f *fakeBackend) Close() error { return nil }

func newTestGateway(t *testing.T, backend Backend) *Gateway {
	t.Helper()
	g, err := NewGateway(backend, GatewayConfig{Dimension: 4, BatchSize: 100, MinScore: 0.7}, nil)
	require.NoError(t, err)
	return g
}

func vec(v float32) []float32 { return []float32{v, 0, 0, 0} }

func TestGatewayUpsertBatches(t *testing.T) {
	backend := &fakeBackend{}
	g, err := NewGateway(backend, GatewayConfig{Dimension: 4, BatchSize: 100, MinScore: 0.7}, nil)
	require.NoError(t, err)

	records := make([]Record, 250)
	for i := range records {
		records[i] = Record{ID: VectorID("doc", i), Vector: vec(1)}
	}

	require.NoError(t, g.Upsert(context.Background(), testTenant, records))

	require.Len(t, backend.upserts, 3)
	assert.Len(t, backend.upserts[0], 100)
	assert.Len(t, backend.upserts[1], 100)
	assert.Len(t, backend.upserts[2], 50)
	assert.Equal(t, []string{"org_acme_user_u42"}, backend.ensured)
}

func TestGatewayUpsertRejectsInvalidTenant(t *testing.T) {
	backend := &fakeBackend{}
	g := newTestGateway(t, backend)

	err := g.Upsert(context.Background(), tenant.Tenant{}, []Record{{ID: "x", Vector: vec(1)}})
	assert.ErrorIs(t, err, tenant.ErrInvalidTenant)
	assert.Empty(t, backend.upserts, "backend must not be reached without a valid tenant")
}

func TestGatewayQueryScopesNamespaceAndFilter(t *testing.T) {
	backend := &fakeBackend{}
	g := newTestGateway(t, backend)

	_, err := g.Query(context.Background(), testTenant, vec(1), 20, FilterOptions{Sender: "cfo@acme.test"})
	require.NoError(t, err)

	assert.Equal(t, "org_acme_user_u42", backend.queryNS)
	assert.Equal(t, "acme", backend.queryFilter.OrgID)
	assert.Equal(t, "u42", backend.queryFilter.UserID)
	assert.Equal(t, "cfo@acme.test", backend.queryFilter.Sender)
	assert.Equal(t, 20, backend.queryLimit)
}

func TestGatewayQueryAppliesRelevanceFloor(t *testing.T) {
	backend := &fakeBackend{fragments: []Fragment{
		{ID: "a", Score: 0.95},
		{ID: "b", Score: 0.70},
		{ID: "c", Score: 0.69},
		{ID: "d", Score: 0.40},
	}}
	g := newTestGateway(t, backend)

	got, err := g.Query(context.Background(), testTenant, vec(1), 20, FilterOptions{})
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID, "floor is inclusive")
}

func TestGatewayQueryZeroResultsIsNotAnError(t *testing.T) {
	backend := &fakeBackend{fragments: []Fragment{{ID: "weak", Score: 0.2}}}
	g := newTestGateway(t, backend)

	got, err := g.Query(context.Background(), testTenant, vec(1), 20, FilterOptions{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGatewayQueryMissingNamespaceYieldsEmpty(t *testing.T) {
	backend := &fakeBackend{queryErr: ErrNamespaceNotFound}
	g := newTestGateway(t, backend)

	got, err := g.Query(context.Background(), testTenant, vec(1), 20, FilterOptions{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGatewayQueryRejectsBadInput(t *testing.T) {
	g := newTestGateway(t, &fakeBackend{})

	_, err := g.Query(context.Background(), testTenant, vec(1), 0, FilterOptions{})
	assert.Error(t, err)

	_, err = g.Query(context.Background(), testTenant, []float32{1, 2}, 10, FilterOptions{})
	assert.Error(t, err, "dimension mismatch must be rejected")

	_, err = g.Query(context.Background(), tenant.Tenant{OrgID: "acme"}, vec(1), 10, FilterOptions{})
	assert.ErrorIs(t, err, tenant.ErrInvalidTenant)
}

func TestGatewayTenantNamespacesAreDisjoint(t *testing.T) {
	backend := &fakeBackend{}
	g := newTestGateway(t, backend)

	other := tenant.Tenant{OrgID: "acme", UserID: "u2"}

	_, err := g.Query(context.Background(), testTenant, vec(1), 10, FilterOptions{})
	require.NoError(t, err)
	nsA := backend.queryNS

	_, err = g.Query(context.Background(), other, vec(1), 10, FilterOptions{})
	require.NoError(t, err)
	nsB := backend.queryNS

	assert.NotEqual(t, nsA, nsB)
}

func TestGatewayDeleteByIDs(t *testing.T) {
	backend := &fakeBackend{}
	g := newTestGateway(t, backend)

	require.NoError(t, g.DeleteByIDs(context.Background(), testTenant, []string{"doc_chunk_0", "doc_chunk_1"}))
	assert.Equal(t, "org_acme_user_u42", backend.deletedNS)
	assert.Equal(t, []string{"doc_chunk_0", "doc_chunk_1"}, backend.deletedIDs)
}

func TestGatewayDeleteByFilterCarriesTenant(t *testing.T) {
	backend := &fakeBackend{}
	g := newTestGateway(t, backend)

	require.NoError(t, g.DeleteByFilter(context.Background(), testTenant, FilterOptions{DocumentID: "doc-1"}))
	assert.Equal(t, "acme", backend.queryFilter.OrgID)
	assert.Equal(t, "u42", backend.queryFilter.UserID)
	assert.Equal(t, "doc-1", backend.queryFilter.DocumentID)
}

func TestGatewayStats(t *testing.T) {
	backend := &fakeBackend{counts: map[string]int{"org_acme_user_u42": 37}}
	g := newTestGateway(t, backend)

	stats, err := g.Stats(context.Background(), testTenant)
	require.NoError(t, err)
	assert.Equal(t, 37, stats.VectorCount)
	assert.Equal(t, "org_acme_user_u42", stats.Namespace)
}

func TestGatewayStatsMissingNamespace(t *testing.T) {
	backend := &fakeBackend{countErr: ErrNamespaceNotFound}
	g := newTestGateway(t, backend)

	stats, err := g.Stats(context.Background(), testTenant)
	require.NoError(t, err)
	assert.Zero(t, stats.VectorCount)
}
