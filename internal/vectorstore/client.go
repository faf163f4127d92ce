package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/lexcounsel/memengine/internal/logging"
	"github.com/lexcounsel/memengine/internal/retry"
)

// MaxTopK bounds a single query.
const MaxTopK = 10000

// ClientConfig configures a Client.
type ClientConfig struct {
	IndexName string
	Dimension int
	Retry     retry.Options
}

// Client is the engine's handle on the vector index.
type Client struct {
	backend   Backend
	index     string
	dimension int
	retry     retry.Options
	logger    *logging.Logger

	mu     sync.RWMutex
	handle *IndexHandle
}

// NewClient wraps backend. Call Init before use.
func NewClient(backend Backend, cfg ClientConfig, logger *logging.Logger) (*Client, error) {
	if backend == nil {
		return nil, errors.New("vectorstore: backend is required")
	}
	if cfg.IndexName == "" {
		return nil, errors.New("vectorstore: index name is required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("vectorstore: dimension must be > 0, got %d", cfg.Dimension)
	}
	logger = logging.OrNop(logger).Named("vectorstore")
	r := cfg.Retry
	if r.Logger == nil {
		r.Logger = logger
	}
	return &Client{
		backend:   backend,
		index:     cfg.IndexName,
		dimension: cfg.Dimension,
		retry:     r,
		logger:    logger,
	}, nil
}

// Index returns the configured index name.
func (c *Client) Index() string { return c.index }

// Dimension returns the configured vector dimension.
func (c *Client) Dimension() int { return c.dimension }

// Init checks that the configured index exists with the configured
// dimension. It fails fast with *IndexNotFoundError when it does not.
func (c *Client) Init(ctx context.Context) error {
	h, err := c.EnsureIndexReady(ctx, c.index)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.handle = h
	c.mu.Unlock()
	return nil
}

// EnsureIndexReady describes name and verifies its dimension.
func (c *Client) EnsureIndexReady(ctx context.Context, name string) (*IndexHandle, error) {
	h, err := retry.Do(ctx, func(ctx context.Context) (*IndexHandle, error) {
		return c.backend.DescribeIndex(ctx, name)
	}, c.retry.Named("vectorstore.describe_index"))
	if err != nil {
		if errors.Is(err, ErrIndexNotFound) {
			nf := &IndexNotFoundError{Index: name, Dimension: c.dimension, Metric: MetricCosine}
			c.logger.Error(ctx, "vector index not found",
				zap.String("index", name),
				zap.String("create_command", nf.Command()),
			)
			return nil, nf
		}
		return nil, fmt.Errorf("describing index %s: %w", name, err)
	}
	if h.Dimension != c.dimension {
		return nil, fmt.Errorf("%w: index %s has dimension %d, engine is configured for %d",
			ErrDimensionMismatch, name, h.Dimension, c.dimension)
	}
	c.logger.Info(ctx, "vector index ready",
		zap.String("index", name),
		zap.Int("dimension", h.Dimension),
		zap.String("metric", h.Metric),
	)
	return h, nil
}

// Ready reports whether Init has succeeded.
func (c *Client) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handle != nil
}

// CreateIndex provisions the index. Used by the operator CLI only.
func (c *Client) CreateIndex(ctx context.Context, name string, dimension int, metric string) error {
	if metric == "" {
		metric = MetricCosine
	}
	return retry.DoErr(ctx, func(ctx context.Context) error {
		return c.backend.CreateIndex(ctx, name, dimension, metric)
	}, c.retry.Named("vectorstore.create_index"))
}

// Upsert writes records into namespace. Re-upserting an id replaces it.
func (c *Client) Upsert(ctx context.Context, namespace string, records []Record) error {
	if err := validateNamespace(namespace); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	limit := MaxVectorBatch
	for _, r := range records {
		if r.hasText() {
			limit = MaxTextBatch
			break
		}
	}
	if len(records) > limit {
		return fmt.Errorf("%w: %d records, limit %d", ErrBatchTooLarge, len(records), limit)
	}

	for i, r := range records {
		if err := c.validateRecord(r); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}

	err := retry.DoErr(ctx, func(ctx context.Context) error {
		return c.backend.Upsert(ctx, c.index, namespace, records)
	}, c.retry.Named("vectorstore.upsert"))
	if err != nil {
		return fmt.Errorf("upserting %d records: %w", len(records), err)
	}
	c.logger.Debug(ctx, "upserted records",
		zap.String("namespace", namespace),
		zap.Int("count", len(records)),
	)
	return nil
}

func (c *Client) validateRecord(r Record) error {
	if r.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidRecord)
	}
	if err := c.validateVector(r.Values); err != nil {
		return err
	}
	if err := ValidateFlat(r.Metadata); err != nil {
		return err
	}
	size, err := metadataSize(r.Metadata)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMetadataNotFlat, err)
	}
	if size > MaxMetadataBytes {
		return fmt.Errorf("%w: %d bytes for %s, limit %d", ErrMetadataTooLarge, size, r.ID, MaxMetadataBytes)
	}
	return nil
}

func (c *Client) validateVector(v []float32) error {
	if len(v) != c.dimension {
		return fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(v), c.dimension)
	}
	for _, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return fmt.Errorf("%w: vector has non-finite component", ErrInvalidRecord)
		}
	}
	return nil
}

// Query returns up to topK matches in namespace, best first. A namespace
// that has never been written returns no matches.
func (c *Client) Query(ctx context.Context, namespace string, vector []float32, topK int, filter *Filter) ([]Match, error) {
	if err := validateNamespace(namespace); err != nil {
		return nil, err
	}
	if err := c.validateVector(vector); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return []Match{}, nil
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	matches, err := retry.Do(ctx, func(ctx context.Context) ([]Match, error) {
		return c.backend.Query(ctx, c.index, namespace, vector, topK, filter)
	}, c.retry.Named("vectorstore.query"))
	if err != nil {
		if errors.Is(err, ErrNamespaceNotFound) {
			return []Match{}, nil
		}
		return nil, fmt.Errorf("querying namespace %s: %w", namespace, err)
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Fetch returns the records with the given ids that exist in namespace.
func (c *Client) Fetch(ctx context.Context, namespace string, ids []string) (map[string]Record, error) {
	if err := validateNamespace(namespace); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return map[string]Record{}, nil
	}
	recs, err := retry.Do(ctx, func(ctx context.Context) (map[string]Record, error) {
		return c.backend.Fetch(ctx, c.index, namespace, ids)
	}, c.retry.Named("vectorstore.fetch"))
	if err != nil {
		if errors.Is(err, ErrNamespaceNotFound) {
			return map[string]Record{}, nil
		}
		return nil, fmt.Errorf("fetching from namespace %s: %w", namespace, err)
	}
	if recs == nil {
		recs = map[string]Record{}
	}
	return recs, nil
}

// DeleteOne removes id from namespace. Deleting a missing id succeeds.
func (c *Client) DeleteOne(ctx context.Context, namespace, id string) error {
	if err := validateNamespace(namespace); err != nil {
		return err
	}
	err := retry.DoErr(ctx, func(ctx context.Context) error {
		return c.backend.Delete(ctx, c.index, namespace, []string{id})
	}, c.retry.Named("vectorstore.delete"))
	if err != nil && !errors.Is(err, ErrNamespaceNotFound) {
		return fmt.Errorf("deleting %s: %w", id, err)
	}
	return nil
}

// DeleteAll removes every record in namespace.
func (c *Client) DeleteAll(ctx context.Context, namespace string) error {
	if err := validateNamespace(namespace); err != nil {
		return err
	}
	err := retry.DoErr(ctx, func(ctx context.Context) error {
		return c.backend.DeleteNamespace(ctx, c.index, namespace)
	}, c.retry.Named("vectorstore.delete_namespace"))
	if err != nil && !errors.Is(err, ErrNamespaceNotFound) {
		return fmt.Errorf("deleting namespace %s: %w", namespace, err)
	}
	c.logger.Info(ctx, "namespace purged", zap.String("namespace", namespace))
	return nil
}

// DescribeIndexStats reports index counts.
func (c *Client) DescribeIndexStats(ctx context.Context) (*IndexStats, error) {
	stats, err := retry.Do(ctx, func(ctx context.Context) (*IndexStats, error) {
		return c.backend.Stats(ctx, c.index)
	}, c.retry.Named("vectorstore.stats"))
	if err != nil {
		if errors.Is(err, ErrIndexNotFound) {
			return nil, &IndexNotFoundError{Index: c.index, Dimension: c.dimension, Metric: MetricCosine}
		}
		return nil, fmt.Errorf("describing index stats: %w", err)
	}
	return stats, nil
}

// Close releases the backend.
func (c *Client) Close() error {
	return c.backend.Close()
}
