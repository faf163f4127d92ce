package vectorstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChromemBackend_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	b, err := NewChromemBackend(ChromemConfig{Path: dir}, nil)
	require.NoError(t, err)
	require.NoError(t, b.CreateIndex(ctx, testIndex, testDim, ""))
	require.NoError(t, b.Upsert(ctx, testIndex, "tenant_t1_000000000000", []Record{{
		ID:     "m1",
		Values: []float32{0, 3, 4},
		Metadata: Metadata{
			"category":   "fact",
			"importance": 0.75,
			"count":      int64(2),
			"sensitive":  false,
			"tags":       []string{"lease"},
		},
	}}))
	require.NoError(t, b.Close())

	reopened, err := NewChromemBackend(ChromemConfig{Path: dir}, nil)
	require.NoError(t, err)

	h, err := reopened.DescribeIndex(ctx, testIndex)
	require.NoError(t, err)
	assert.Equal(t, testDim, h.Dimension)
	assert.Equal(t, MetricCosine, h.Metric)

	got, err := reopened.Fetch(ctx, testIndex, "tenant_t1_000000000000", []string{"m1"})
	require.NoError(t, err)
	require.Contains(t, got, "m1")
	md := got["m1"].Metadata
	assert.Equal(t, "fact", md["category"])
	assert.Equal(t, 0.75, md["importance"])
	assert.Equal(t, int64(2), md["count"])
	assert.Equal(t, false, md["sensitive"])
	assert.Equal(t, []string{"lease"}, md["tags"])
	assert.InDeltaSlice(t, []float32{0, 0.6, 0.8}, got["m1"].Values, 1e-6)
}

func TestChromemBackend_IndexLifecycle(t *testing.T) {
	ctx := context.Background()
	b, err := NewChromemBackend(ChromemConfig{}, nil)
	require.NoError(t, err)

	_, err = b.DescribeIndex(ctx, "absent")
	assert.ErrorIs(t, err, ErrIndexNotFound)
	assert.ErrorIs(t, b.Upsert(ctx, "absent", "ns", []Record{{ID: "a", Values: []float32{1}}}), ErrIndexNotFound)
	_, err = b.Stats(ctx, "absent")
	assert.ErrorIs(t, err, ErrIndexNotFound)

	assert.Error(t, b.CreateIndex(ctx, "i", 0, MetricCosine))
	assert.Error(t, b.CreateIndex(ctx, "i", 3, "euclidean"))
	require.NoError(t, b.CreateIndex(ctx, "i", 3, MetricCosine))
	assert.Error(t, b.CreateIndex(ctx, "i", 3, MetricCosine), "duplicate create fails")

	_, err = b.Query(ctx, "i", "never_written", []float32{1, 0, 0}, 3, nil)
	assert.ErrorIs(t, err, ErrNamespaceNotFound)
	assert.ErrorIs(t, b.DeleteNamespace(ctx, "i", "never_written"), ErrNamespaceNotFound)
}

func TestOpenResilientDB_QuarantinesCorruptCollection(t *testing.T) {
	dir := t.TempDir()
	corrupt := filepath.Join(dir, "deadbeef")
	require.NoError(t, os.MkdirAll(corrupt, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(corrupt, "1234abcd.gob"), []byte("junk"), 0o600))

	found, err := findCorruptCollections(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"deadbeef"}, found)
}

func TestDecodeValue(t *testing.T) {
	assert.Equal(t, "x", decodeValue(`"x"`))
	assert.Equal(t, int64(12), decodeValue(`12`))
	assert.Equal(t, 1.5, decodeValue(`1.5`))
	assert.Equal(t, true, decodeValue(`true`))
	assert.Equal(t, []string{"a", "b"}, decodeValue(`["a","b"]`))
	assert.Equal(t, "not json", decodeValue("not json"))
}

func TestNormalized(t *testing.T) {
	assert.InDeltaSlice(t, []float32{0.6, 0.8}, normalized([]float32{3, 4}), 1e-6)
	assert.Equal(t, []float32{0, 0}, normalized([]float32{0, 0}))
}
