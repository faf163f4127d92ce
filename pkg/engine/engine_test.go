package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/lexcounsel/memengine/internal/config"
	"github.com/lexcounsel/memengine/internal/embeddings/embedtest"
	"github.com/lexcounsel/memengine/internal/logging"
	"github.com/lexcounsel/memengine/internal/memory"
	"github.com/lexcounsel/memengine/internal/vectorstore"
)

const testDim = 64

func testConfig() *config.Config {
	return &config.Config{
		VectorStore: config.VectorStoreConfig{
			Provider:  "chromem",
			IndexName: "legal-memories",
			Dimension: testDim,
		},
		Embeddings: config.EmbeddingsConfig{Provider: "openai", Dimension: testDim},
		Retry: config.RetryConfig{
			MaxRetries:   3,
			InitialDelay: config.Duration(time.Millisecond),
			MaxDelay:     config.Duration(10 * time.Millisecond),
		},
		Memory: config.MemoryConfig{
			DefaultLimit: 5,
			MinScore:     0.7,
			BatchDelay:   config.Duration(100 * time.Millisecond),
			MaxTextChars: 1000,
			ScrubSecrets: true,
		},
		Context: config.ContextConfig{MaxChars: 4000},
	}
}

type harness struct {
	eng     *Engine
	backend *vectorstore.ChromemBackend
	embed   *embedtest.Keyword
	logger  *logging.TestLogger
}

func newHarness(t *testing.T, createIndex bool) *harness {
	t.Helper()
	ctx := context.Background()

	backend, err := vectorstore.NewChromemBackend(vectorstore.ChromemConfig{}, nil)
	require.NoError(t, err)
	if createIndex {
		require.NoError(t, backend.CreateIndex(ctx, "legal-memories", testDim, vectorstore.MetricCosine))
	}
	adapter, kw := embedtest.NewAdapter(testDim)
	logger := logging.NewTestLogger()

	eng, err := New(ctx, testConfig(), Deps{
		Backend:  backend,
		Embedder: adapter,
		Logger:   logger.Logger,
		Sleep:    func(context.Context, time.Duration) error { return nil },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return &harness{eng: eng, backend: backend, embed: kw, logger: logger}
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(context.Background(), nil, Deps{})
	assert.Error(t, err)
}

func TestNew_DimensionMismatch(t *testing.T) {
	adapter, _ := embedtest.NewAdapter(8)
	_, err := New(context.Background(), testConfig(), Deps{Embedder: adapter})
	assert.Error(t, err)
}

func TestNewBackend(t *testing.T) {
	b, err := NewBackend(config.VectorStoreConfig{Provider: "chromem"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &vectorstore.ChromemBackend{}, b)

	_, err = NewBackend(config.VectorStoreConfig{Provider: "pinecone"}, nil)
	assert.Error(t, err)
}

func TestInit_MissingIndex(t *testing.T) {
	h := newHarness(t, false)
	err := h.eng.Init(context.Background())

	var notFound *vectorstore.IndexNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.ErrorIs(t, err, vectorstore.ErrIndexNotFound)
	assert.Contains(t, notFound.Command(), "--name legal-memories --dimension 64 --metric cosine")
	assert.False(t, h.eng.Ready())

	require.NoError(t, h.eng.CreateIndex(context.Background(), ""))
	require.NoError(t, h.eng.Init(context.Background()))
	assert.True(t, h.eng.Ready())
}

func TestEndToEndFactRecall(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	require.NoError(t, h.eng.Init(ctx))

	id, err := h.eng.RememberFact(ctx, "t1", memory.Record{
		Type: memory.TypeFact, KeyText: "case_number", ValueText: "CR-2024-0099",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	res, err := h.eng.Recall(ctx, "t1", "what is the case number", nil)
	require.NoError(t, err)
	assert.Equal(t, "CASE FACTS:\n- case_number: CR-2024-0099", res.ContextText)
	assert.True(t, res.HasRelevantContext)
	require.Len(t, res.Memories, 1)
	assert.Equal(t, id, res.Memories[0].ID)

	other, err := h.eng.Recall(ctx, "t2", "what is the case number", nil)
	require.NoError(t, err)
	assert.Equal(t, "", other.ContextText)
	assert.False(t, other.HasRelevantContext)
	assert.Empty(t, other.Memories)
}

func TestRecall_MarkAccessed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	require.NoError(t, h.eng.Init(ctx))

	id, err := h.eng.RememberFact(ctx, "t1", memory.Record{
		Type: memory.TypeFact, KeyText: "case_number", ValueText: "CR-2024-0099",
	})
	require.NoError(t, err)

	_, err = h.eng.Recall(ctx, "t1", "case number", &RecallOptions{MarkAccessed: true})
	require.NoError(t, err)

	res, err := h.eng.Recall(ctx, "t1", "case number", nil)
	require.NoError(t, err)
	require.Len(t, res.Memories, 1)
	assert.Equal(t, id, res.Memories[0].ID)
	assert.Equal(t, 2, res.Memories[0].Frequency)
	assert.False(t, res.Memories[0].LastAccessed.IsZero())
}

func TestRecall_DegradesGracefully(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	require.NoError(t, h.eng.Init(ctx))

	h.embed.Err = errors.New("provider down")
	res, err := h.eng.Recall(ctx, "t1", "case number", nil)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Empty(t, res.Memories)
	assert.NotNil(t, res.Memories)
	assert.Equal(t, "", res.ContextText)
	assert.False(t, res.HasRelevantContext)
	h.logger.AssertLogged(t, zapcore.WarnLevel, "recall failed")
}

func TestForget(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	require.NoError(t, h.eng.Init(ctx))

	id, err := h.eng.RememberFact(ctx, "t1", memory.Record{Type: memory.TypePreference, KeyText: "salutation", ValueText: "formal"})
	require.NoError(t, err)

	assert.ErrorIs(t, h.eng.Forget(ctx, "t2", id), memory.ErrOwnershipMismatch)
	require.NoError(t, h.eng.Forget(ctx, "t1", id))
	assert.ErrorIs(t, h.eng.Forget(ctx, "t1", id), memory.ErrMemoryNotFound)
}

func TestRememberFactsAndForgetAll(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	require.NoError(t, h.eng.Init(ctx))

	ids, err := h.eng.RememberFacts(ctx, "t1", []memory.Record{
		{Type: memory.TypeFact, KeyText: "court", ValueText: "SDNY"},
		{Type: memory.TypeFact, KeyText: "judge", ValueText: "Hon. Smith"},
	})
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	_, err = h.eng.ChunkAndEmbedDocument(ctx, "t1", "lease-7", "Rent is due on the 1st. Late fees apply after the 5th.", nil)
	require.NoError(t, err)
	_, err = h.eng.RememberFact(ctx, "t2", memory.Record{Type: memory.TypeFact, KeyText: "court", ValueText: "EDNY"})
	require.NoError(t, err)

	stats, err := h.eng.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.TotalCount)
	assert.Equal(t, testDim, stats.Dimension)

	require.NoError(t, h.eng.ForgetAll(ctx, "t1"))
	stats, err = h.eng.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalCount)

	chunks, err := h.eng.SearchDocument(ctx, "t1", "lease-7", "late fees", 3)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunkAndEmbedDocument(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	require.NoError(t, h.eng.Init(ctx))

	chunks, err := h.eng.ChunkAndEmbedDocument(ctx, "t1", "lease-7",
		"Rent is due on the 1st. Late fees apply after the 5th.", &memory.DocumentMetadata{Title: "Lease"})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Lease", chunks[0].Metadata[memory.KeyTitle])

	got, err := h.eng.SearchDocument(ctx, "t1", "lease-7", "late fees", 3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "lease-7", got[0].DocumentID)
}

func TestChunkAndEmbedDocument_TokenBudget(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	require.NoError(t, h.eng.Init(ctx))

	lease := "Rent is due on the 1st. Late fees apply after the 5th. Contact the office for exceptions."
	chunks, err := h.eng.ChunkAndEmbedDocument(ctx, "t1", "lease-7", lease, &memory.DocumentMetadata{TokenBudget: 12})
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "Rent is due on the 1st.", chunks[0].Content)
	for _, c := range chunks {
		assert.True(t, strings.HasSuffix(c.Content, "."), c.Content)
	}

	// Without a budget the chunker default keeps the lease in one chunk.
	chunks, err = h.eng.ChunkAndEmbedDocument(ctx, "t1", "lease-8", lease, nil)
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}
