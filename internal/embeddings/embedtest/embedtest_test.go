package embedtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float32 {
	var dot float32
	for i := range a {
		dot += a[i] * b[i]
	}
	return dot
}

func TestWords(t *testing.T) {
	assert.Equal(t, []string{"case", "number"}, Words("what is the case number"))
	assert.Equal(t, []string{"case", "number"}, Words("case_number CR-2024-0099"))
	assert.Empty(t, Words("a an 12"))
}

func TestKeyword_SharedWordsEmbedIdentically(t *testing.T) {
	ctx := context.Background()
	a, k := NewAdapter(64)

	q, err := a.Embed(ctx, "what is the case number")
	require.NoError(t, err)
	d, err := a.Embed(ctx, "case_number CR-2024-0099")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, cosine(q, d), 1e-5)

	other, err := a.Embed(ctx, "client prefers email")
	require.NoError(t, err)
	assert.Less(t, cosine(q, other), float32(0.7))
	assert.Equal(t, 3, k.Calls())
}
