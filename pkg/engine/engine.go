package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lexcounsel/memengine/internal/config"
	"github.com/lexcounsel/memengine/internal/contextblock"
	"github.com/lexcounsel/memengine/internal/embeddings"
	"github.com/lexcounsel/memengine/internal/logging"
	"github.com/lexcounsel/memengine/internal/memory"
	"github.com/lexcounsel/memengine/internal/retry"
	"github.com/lexcounsel/memengine/internal/secrets"
	"github.com/lexcounsel/memengine/internal/vectorstore"
)

// Deps overrides the components New would otherwise build from config.
// Zero fields are built from config.
type Deps struct {
	Backend  vectorstore.Backend
	Embedder embeddings.Embedder
	Scrubber secrets.Scrubber
	Logger   *logging.Logger

	// Clock and Sleep replace time.Now and real waits in tests. Sleep
	// applies to retry backoff and to pauses between batches.
	Clock func() time.Time
	Sleep retry.SleepFunc
}

// Engine is the tenant-scoped memory facade.
type Engine struct {
	client   *vectorstore.Client
	repo     *memory.Repository
	logger   *logging.Logger
	maxChars int
}

// New wires an Engine from cfg. It does not contact the vector service;
// call Init for that.
func New(ctx context.Context, cfg *config.Config, deps Deps) (_ *Engine, err error) {
	if cfg == nil {
		return nil, errors.New("engine: config is required")
	}
	logger := logging.OrNop(deps.Logger)

	backend := deps.Backend
	if backend == nil {
		b, err := NewBackend(cfg.VectorStore, logger)
		if err != nil {
			return nil, err
		}
		backend = b
		defer func() {
			if err != nil {
				_ = b.Close()
			}
		}()
	}

	embedder := deps.Embedder
	if embedder == nil {
		a, err := embeddings.NewProvider(embeddings.ProviderConfig{
			Provider:  cfg.Embeddings.Provider,
			Model:     cfg.Embeddings.Model,
			BaseURL:   cfg.Embeddings.BaseURL,
			APIKey:    cfg.Embeddings.APIKey.Value(),
			Dimension: cfg.VectorStore.Dimension,
			RPS:       cfg.Embeddings.RPS,
			Timeout:   cfg.Embeddings.Timeout.Duration(),
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("engine: embeddings: %w", err)
		}
		embedder = a
	}

	ropts := retry.Options{
		MaxRetries:   cfg.Retry.MaxRetries,
		InitialDelay: cfg.Retry.InitialDelay.Duration(),
		MaxDelay:     cfg.Retry.MaxDelay.Duration(),
		Sleep:        deps.Sleep,
	}
	client, err := vectorstore.NewClient(backend, vectorstore.ClientConfig{
		IndexName: cfg.VectorStore.IndexName,
		Dimension: cfg.VectorStore.Dimension,
		Retry:     ropts,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	scrubber := deps.Scrubber
	if scrubber == nil && cfg.Memory.ScrubSecrets {
		s, err := secrets.New(secrets.DefaultConfig())
		if err != nil {
			return nil, fmt.Errorf("engine: secrets: %w", err)
		}
		scrubber = s
	}

	opts := []memory.Option{
		memory.WithLogger(logger),
		memory.WithScrubber(scrubber),
		memory.WithDefaults(cfg.Memory.DefaultLimit, cfg.Memory.MinScore),
		memory.WithBatchDelay(cfg.Memory.BatchDelay.Duration()),
		memory.WithMaxTextChars(cfg.Memory.MaxTextChars),
		memory.WithClock(deps.Clock),
		memory.WithSleep(deps.Sleep),
	}
	repo, err := memory.NewRepository(client, embedder, opts...)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	logger.Debug(ctx, "engine configured",
		zap.String("provider", cfg.VectorStore.Provider),
		zap.String("index", cfg.VectorStore.IndexName),
		zap.Int("dimension", cfg.VectorStore.Dimension),
	)
	return &Engine{
		client:   client,
		repo:     repo,
		logger:   logger.Named("engine"),
		maxChars: cfg.Context.MaxChars,
	}, nil
}

// NewBackend builds the vector backend named by cfg.Provider.
func NewBackend(cfg config.VectorStoreConfig, logger *logging.Logger) (vectorstore.Backend, error) {
	switch cfg.Provider {
	case "qdrant":
		return vectorstore.NewQdrantBackend(vectorstore.QdrantConfig{
			Host:   cfg.QdrantHost,
			Port:   cfg.QdrantPort,
			UseTLS: cfg.QdrantTLS,
			APIKey: cfg.QdrantAPIKey.Value(),
		}, logger)
	case "chromem", "":
		return vectorstore.NewChromemBackend(vectorstore.ChromemConfig{
			Path:     cfg.ChromemPath,
			Compress: cfg.ChromemCompress,
		}, logger)
	default:
		return nil, fmt.Errorf("engine: unknown vectorstore provider %q", cfg.Provider)
	}
}

// Init verifies the configured index exists with the expected dimension.
// A missing index yields a *vectorstore.IndexNotFoundError carrying the
// command that creates it.
func (e *Engine) Init(ctx context.Context) error {
	return e.client.Init(ctx)
}

// Ready reports whether Init has succeeded.
func (e *Engine) Ready() bool {
	return e.client.Ready()
}

// Close releases the vector client.
func (e *Engine) Close() error {
	return e.client.Close()
}

// ChunkAndEmbedDocument splits text into sentence-aligned chunks, embeds
// and stores them under tenantID. meta may be nil; meta.TokenBudget sizes
// the chunks.
func (e *Engine) ChunkAndEmbedDocument(ctx context.Context, tenantID, documentID, text string, meta *memory.DocumentMetadata) ([]memory.DocumentChunk, error) {
	var m memory.DocumentMetadata
	if meta != nil {
		m = *meta
	}
	return e.repo.StoreDocument(ctx, tenantID, documentID, text, m, m.TokenBudget)
}

// SearchDocument returns the chunks of one document most similar to query.
func (e *Engine) SearchDocument(ctx context.Context, tenantID, documentID, query string, limit int) ([]memory.ScoredChunk, error) {
	return e.repo.SearchDocument(ctx, tenantID, documentID, query, limit)
}

// RememberFact stores one memory for tenantID and returns its id.
func (e *Engine) RememberFact(ctx context.Context, tenantID string, rec memory.Record) (string, error) {
	return e.repo.Store(ctx, tenantID, rec)
}

// RememberFacts stores memories in batches. On failure the ids already
// committed are returned with the error.
func (e *Engine) RememberFacts(ctx context.Context, tenantID string, recs []memory.Record) ([]string, error) {
	return e.repo.StoreBatch(ctx, tenantID, recs)
}

// RecallOptions narrows Recall. A nil *RecallOptions selects defaults.
type RecallOptions struct {
	Limit    int
	MinScore *float64
	Types    []memory.Type
	Filter   map[string]any
	// MarkAccessed records a reference on every returned memory.
	MarkAccessed bool
}

// RecallResult is the outcome of Recall.
type RecallResult struct {
	Memories           []memory.ScoredRecord
	ContextText        string
	HasRelevantContext bool
	Truncated          bool
}

// Recall retrieves tenantID's memories relevant to query and renders them
// as a context block. On failure it returns an empty, usable result along
// with the error, so callers may proceed without context.
func (e *Engine) Recall(ctx context.Context, tenantID, query string, opts *RecallOptions) (*RecallResult, error) {
	var o RecallOptions
	if opts != nil {
		o = *opts
	}
	empty := &RecallResult{Memories: []memory.ScoredRecord{}}

	matches, err := e.repo.Retrieve(ctx, tenantID, query, memory.RetrieveOptions{
		Limit:    o.Limit,
		MinScore: o.MinScore,
		Types:    o.Types,
		Filter:   o.Filter,
	})
	if err != nil {
		e.logger.Warn(logging.WithTenant(ctx, tenantID), "recall failed, continuing without context", zap.Error(err))
		return empty, err
	}

	block := contextblock.AssembleWithLimit(matches, e.maxChars)
	if o.MarkAccessed {
		e.markAccessed(ctx, tenantID, matches)
	}
	return &RecallResult{
		Memories:           matches,
		ContextText:        block.Text,
		HasRelevantContext: block.HasRelevantContext,
		Truncated:          block.Truncated,
	}, nil
}

// markAccessed is best effort; failures are logged and skipped.
func (e *Engine) markAccessed(ctx context.Context, tenantID string, matches []memory.ScoredRecord) {
	for _, m := range matches {
		if err := e.repo.UpdateAccess(ctx, tenantID, m.ID); err != nil {
			e.logger.Warn(logging.WithTenant(ctx, tenantID), "failed to record memory access",
				zap.String("memory_id", m.ID), zap.Error(err))
		}
	}
}

// Forget deletes one memory owned by tenantID.
func (e *Engine) Forget(ctx context.Context, tenantID, memoryID string) error {
	return e.repo.Delete(ctx, tenantID, memoryID)
}

// ForgetAll deletes every memory and document chunk of tenantID.
func (e *Engine) ForgetAll(ctx context.Context, tenantID string) error {
	return e.repo.Purge(ctx, tenantID)
}

// Stats reports index-wide counts.
func (e *Engine) Stats(ctx context.Context) (*vectorstore.IndexStats, error) {
	return e.client.DescribeIndexStats(ctx)
}

// CreateIndex creates the index the engine is configured for.
func (e *Engine) CreateIndex(ctx context.Context, metric string) error {
	return e.client.CreateIndex(ctx, e.client.Index(), e.client.Dimension(), metric)
}
