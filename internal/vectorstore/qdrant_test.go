package vectorstore

import (
	"context"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/lexcounsel/memengine/internal/retry"
)

type fakeQdrant struct {
	info     *qdrant.CollectionInfo
	infoErr  error
	created  *qdrant.CreateCollection
	fieldIdx *qdrant.CreateFieldIndexCollection
	upserts  []*qdrant.UpsertPoints
	queries  []*qdrant.QueryPoints
	queryRes []*qdrant.ScoredPoint
	gets     []*qdrant.GetPoints
	getRes   []*qdrant.RetrievedPoint
	deletes  []*qdrant.DeletePoints
	count    uint64
	opErr    error
	closed   bool
}

func (f *fakeQdrant) GetCollectionInfo(_ context.Context, _ string) (*qdrant.CollectionInfo, error) {
	return f.info, f.infoErr
}

func (f *fakeQdrant) CreateCollection(_ context.Context, r *qdrant.CreateCollection) error {
	f.created = r
	return f.opErr
}

func (f *fakeQdrant) CreateFieldIndex(_ context.Context, r *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error) {
	f.fieldIdx = r
	return &qdrant.UpdateResult{}, f.opErr
}

func (f *fakeQdrant) Upsert(_ context.Context, r *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	f.upserts = append(f.upserts, r)
	return &qdrant.UpdateResult{}, f.opErr
}

func (f *fakeQdrant) Query(_ context.Context, r *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	f.queries = append(f.queries, r)
	return f.queryRes, f.opErr
}

func (f *fakeQdrant) Get(_ context.Context, r *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error) {
	f.gets = append(f.gets, r)
	return f.getRes, f.opErr
}

func (f *fakeQdrant) Delete(_ context.Context, r *qdrant.DeletePoints) (*qdrant.UpdateResult, error) {
	f.deletes = append(f.deletes, r)
	return &qdrant.UpdateResult{}, f.opErr
}

func (f *fakeQdrant) Count(_ context.Context, _ *qdrant.CountPoints) (uint64, error) {
	return f.count, f.opErr
}

func (f *fakeQdrant) Close() error {
	f.closed = true
	return nil
}

func collectionInfo(size uint64, d qdrant.Distance) *qdrant.CollectionInfo {
	return &qdrant.CollectionInfo{
		Config: &qdrant.CollectionConfig{
			Params: &qdrant.CollectionParams{
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{Size: size, Distance: d}),
			},
		},
	}
}

func payload(ns, id string, extra map[string]any) map[string]*qdrant.Value {
	p := map[string]*qdrant.Value{
		payloadNamespace: toQdrantValue(ns),
		payloadRecordID:  toQdrantValue(id),
	}
	for k, v := range extra {
		p[k] = toQdrantValue(v)
	}
	return p
}

func fieldKey(c *qdrant.Condition) string {
	return c.GetField().GetKey()
}

func TestQdrantBackend_DescribeIndex(t *testing.T) {
	ctx := context.Background()
	f := &fakeQdrant{info: collectionInfo(1536, qdrant.Distance_Cosine)}
	b := newQdrantBackend(f, nil)

	h, err := b.DescribeIndex(ctx, "legal-memories")
	require.NoError(t, err)
	assert.Equal(t, &IndexHandle{Name: "legal-memories", Dimension: 1536, Metric: MetricCosine}, h)

	f.infoErr = status.Error(codes.NotFound, "collection not found")
	_, err = b.DescribeIndex(ctx, "legal-memories")
	assert.ErrorIs(t, err, ErrIndexNotFound)
	_, retryable := retry.StatusCode(err)
	assert.False(t, retryable, "missing index carries no retryable status")
}

func TestQdrantBackend_CreateIndexIndexesNamespace(t *testing.T) {
	f := &fakeQdrant{}
	b := newQdrantBackend(f, nil)

	require.NoError(t, b.CreateIndex(context.Background(), "idx", 8, MetricCosine))
	require.NotNil(t, f.created)
	assert.Equal(t, uint64(8), f.created.GetVectorsConfig().GetParams().GetSize())
	assert.Equal(t, qdrant.Distance_Cosine, f.created.GetVectorsConfig().GetParams().GetDistance())
	require.NotNil(t, f.fieldIdx)
	assert.Equal(t, payloadNamespace, f.fieldIdx.GetFieldName())

	assert.Error(t, b.CreateIndex(context.Background(), "idx", 8, "manhattan"))
}

func TestQdrantBackend_UpsertTagsNamespace(t *testing.T) {
	f := &fakeQdrant{}
	b := newQdrantBackend(f, nil)

	err := b.Upsert(context.Background(), "idx", "tenant_a_1", []Record{{
		ID:       "m1",
		Values:   []float32{1, 0},
		Metadata: Metadata{"category": "fact", "tags": []string{"x", "y"}},
	}})
	require.NoError(t, err)
	require.Len(t, f.upserts, 1)

	pt := f.upserts[0].GetPoints()[0]
	assert.Equal(t, pointID("tenant_a_1", "m1"), pt.GetId().GetUuid())
	assert.Equal(t, "tenant_a_1", pt.GetPayload()[payloadNamespace].GetStringValue())
	assert.Equal(t, "m1", pt.GetPayload()[payloadRecordID].GetStringValue())
	assert.Len(t, pt.GetPayload()["tags"].GetListValue().GetValues(), 2)
	assert.True(t, f.upserts[0].GetWait())
}

func TestPointID_ScopedByNamespace(t *testing.T) {
	assert.Equal(t, pointID("ns1", "m"), pointID("ns1", "m"))
	assert.NotEqual(t, pointID("ns1", "m"), pointID("ns2", "m"))
}

func TestQdrantBackend_QueryScopesAndDropsForeignPoints(t *testing.T) {
	f := &fakeQdrant{queryRes: []*qdrant.ScoredPoint{
		{Score: 0.9, Payload: payload("tenant_a_1", "m1", map[string]any{"category": "fact", "importance": 0.8})},
		{Score: 0.8, Payload: payload("tenant_b_2", "leak", nil)},
	}}
	b := newQdrantBackend(f, nil)

	filter := NewFilter(Eq("category", "fact"), In("area", "tax", "ip"))
	require.NoError(t, filter.Validate())
	matches, err := b.Query(context.Background(), "idx", "tenant_a_1", []float32{1, 0}, 5, filter)
	require.NoError(t, err)

	require.Len(t, matches, 1)
	assert.Equal(t, "m1", matches[0].ID)
	assert.Equal(t, float32(0.9), matches[0].Score)
	assert.Equal(t, Metadata{"category": "fact", "importance": 0.8}, matches[0].Metadata)

	must := f.queries[0].GetFilter().GetMust()
	require.Len(t, must, 3)
	assert.Equal(t, payloadNamespace, fieldKey(must[0]))
	assert.Equal(t, "tenant_a_1", must[0].GetField().GetMatch().GetKeyword())
	assert.Equal(t, "category", fieldKey(must[1]))
	assert.Equal(t, []string{"tax", "ip"}, must[2].GetField().GetMatch().GetKeywords().GetStrings())
	assert.Equal(t, uint64(5), f.queries[0].GetLimit())
}

func TestQdrantBackend_FetchDropsForeignPoints(t *testing.T) {
	f := &fakeQdrant{getRes: []*qdrant.RetrievedPoint{
		{Payload: payload("tenant_a_1", "m1", nil)},
		{Payload: payload("tenant_b_2", "m2", nil)},
	}}
	b := newQdrantBackend(f, nil)

	got, err := b.Fetch(context.Background(), "idx", "tenant_a_1", []string{"m1", "m2"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Contains(t, got, "m1")
	assert.Len(t, f.gets[0].GetIds(), 2)
}

func TestQdrantBackend_DeleteNamespaceUsesFilter(t *testing.T) {
	f := &fakeQdrant{}
	b := newQdrantBackend(f, nil)

	require.NoError(t, b.DeleteNamespace(context.Background(), "idx", "tenant_a_1"))
	must := f.deletes[0].GetPoints().GetFilter().GetMust()
	require.Len(t, must, 1)
	assert.Equal(t, "tenant_a_1", must[0].GetField().GetMatch().GetKeyword())

	require.NoError(t, b.Delete(context.Background(), "idx", "tenant_a_1", []string{"m1"}))
	must = f.deletes[1].GetPoints().GetFilter().GetMust()
	require.Len(t, must, 2)
	assert.Equal(t, pointID("tenant_a_1", "m1"), must[1].GetHasId().GetHasId()[0].GetUuid())
}

func TestQdrantBackend_TransientErrorsAreRetryable(t *testing.T) {
	f := &fakeQdrant{opErr: status.Error(codes.Unavailable, "down")}
	b := newQdrantBackend(f, nil)

	err := b.Upsert(context.Background(), "idx", "ns", []Record{{ID: "a", Values: []float32{1}}})
	require.Error(t, err)
	assert.True(t, retry.Retryable(err))
}

func TestQdrantBackend_Stats(t *testing.T) {
	f := &fakeQdrant{info: collectionInfo(4, qdrant.Distance_Cosine), count: 42}
	b := newQdrantBackend(f, nil)

	stats, err := b.Stats(context.Background(), "idx")
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Dimension)
	assert.Equal(t, int64(42), stats.TotalCount)
	assert.Nil(t, stats.Namespaces)

	require.NoError(t, b.Close())
	assert.True(t, f.closed)
}

func TestToQdrantCondition(t *testing.T) {
	c := toQdrantCondition(Condition{Key: "sensitive", Op: OpEq, Values: []any{true}})
	assert.True(t, c.GetField().GetMatch().GetBoolean())

	c = toQdrantCondition(Condition{Key: "year", Op: OpEq, Values: []any{int64(2024)}})
	assert.Equal(t, int64(2024), c.GetField().GetMatch().GetInteger())

	c = toQdrantCondition(Condition{Key: "year", Op: OpIn, Values: []any{int64(1), int64(2)}})
	assert.Equal(t, []int64{1, 2}, c.GetField().GetMatch().GetIntegers().GetIntegers())

	c = toQdrantCondition(Condition{Key: "mixed", Op: OpIn, Values: []any{"a", int64(1)}})
	assert.Len(t, c.GetFilter().GetShould(), 2)
}

func TestQdrantValueRoundTrip(t *testing.T) {
	for _, v := range []any{"s", int64(3), 2.5, true, []string{"a", "b"}} {
		assert.Equal(t, v, fromQdrantValue(toQdrantValue(v)))
	}
	assert.Nil(t, fromQdrantValue(nil))
}
