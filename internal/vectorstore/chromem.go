package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/lexcounsel/memengine/internal/logging"
)

const (
	// indexMarkerPrefix names the collection that records an index's
	// dimension and metric.
	indexMarkerPrefix = "__index_"
	indexMarkerDocID  = "index"
	// namespaceSep joins index and namespace into a collection name.
	namespaceSep = ":"
)

// errEmbeddingDisabled is returned if chromem is ever asked to embed text.
// Vectors always arrive precomputed.
var errEmbeddingDisabled = errors.New("chromem backend does not embed text")

// ChromemConfig configures the embedded chromem-go backend.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps everything in memory.
	Path string
	// Compress enables gzip compression of persisted files.
	Compress bool
}

// ChromemBackend is an embedded Backend on chromem-go. Each namespace is a
// separate collection, so namespaces share nothing but the process.
type ChromemBackend struct {
	db     *chromem.DB
	logger *logging.Logger
}

// NewChromemBackend opens the chromem database described by cfg.
func NewChromemBackend(cfg ChromemConfig, logger *logging.Logger) (*ChromemBackend, error) {
	logger = logging.OrNop(logger).Named("chromem")

	if cfg.Path == "" {
		logger.Info(context.Background(), "chromem backend initialized in memory")
		return &ChromemBackend{db: chromem.NewDB(), logger: logger}, nil
	}

	path, err := expandPath(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}
	db, err := openResilientDB(path, cfg.Compress, logger)
	if err != nil {
		return nil, fmt.Errorf("opening chromem DB: %w", err)
	}
	logger.Info(context.Background(), "chromem backend initialized",
		zap.String("path", path),
		zap.Bool("compress", cfg.Compress),
	)
	return &ChromemBackend{db: db, logger: logger}, nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errEmbeddingDisabled
}

func collectionName(index, namespace string) string {
	return index + namespaceSep + namespace
}

func (b *ChromemBackend) marker(index string) *chromem.Collection {
	return b.db.GetCollection(indexMarkerPrefix+index, noEmbedding)
}

// DescribeIndex implements Backend.
func (b *ChromemBackend) DescribeIndex(ctx context.Context, index string) (h *IndexHandle, err error) {
	ctx, span := startSpan(ctx, "ChromemBackend.DescribeIndex", index)
	defer func() { endSpan(span, err) }()

	m := b.marker(index)
	if m == nil {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, index)
	}
	doc, err := m.GetByID(ctx, indexMarkerDocID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s has no descriptor", ErrIndexNotFound, index)
	}
	dim, err := strconv.Atoi(doc.Metadata["dimension"])
	if err != nil {
		return nil, fmt.Errorf("index %s descriptor: invalid dimension: %w", index, err)
	}
	return &IndexHandle{Name: index, Dimension: dim, Metric: doc.Metadata["metric"]}, nil
}

// CreateIndex implements Backend.
func (b *ChromemBackend) CreateIndex(ctx context.Context, index string, dimension int, metric string) (err error) {
	ctx, span := startSpan(ctx, "ChromemBackend.CreateIndex", index)
	defer func() { endSpan(span, err) }()

	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be > 0", ErrInvalidRecord)
	}
	if metric == "" {
		metric = MetricCosine
	}
	if metric != MetricCosine {
		return fmt.Errorf("chromem supports only the %s metric, got %q", MetricCosine, metric)
	}
	if b.marker(index) != nil {
		return fmt.Errorf("index %s already exists", index)
	}

	m, err := b.db.CreateCollection(indexMarkerPrefix+index, nil, noEmbedding)
	if err != nil {
		return fmt.Errorf("creating index %s: %w", index, err)
	}
	return m.AddDocument(ctx, chromem.Document{
		ID: indexMarkerDocID,
		Metadata: map[string]string{
			"dimension": strconv.Itoa(dimension),
			"metric":    metric,
		},
		Embedding: []float32{1},
	})
}

func (b *ChromemBackend) requireIndex(index string) error {
	if b.marker(index) == nil {
		return fmt.Errorf("%w: %s", ErrIndexNotFound, index)
	}
	return nil
}

// Upsert implements Backend.
func (b *ChromemBackend) Upsert(ctx context.Context, index, namespace string, records []Record) (err error) {
	ctx, span := startSpan(ctx, "ChromemBackend.Upsert", index)
	span.SetAttributes(attribute.Int("count", len(records)))
	defer func() { endSpan(span, err) }()

	if err := b.requireIndex(index); err != nil {
		return err
	}
	coll, err := b.db.GetOrCreateCollection(collectionName(index, namespace), nil, noEmbedding)
	if err != nil {
		return fmt.Errorf("opening namespace %s: %w", namespace, err)
	}

	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		md, err := encodeMetadata(r.Metadata)
		if err != nil {
			return fmt.Errorf("encoding metadata for %s: %w", r.ID, err)
		}
		docs[i] = chromem.Document{
			ID:        r.ID,
			Metadata:  md,
			Embedding: normalized(r.Values),
		}
	}

	// Re-adding an id overwrites the stored document.
	if err := coll.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("adding records: %w", err)
	}
	return nil
}

func (b *ChromemBackend) existing(ctx context.Context, coll *chromem.Collection, ids []string) []string {
	var out []string
	for _, id := range ids {
		if _, err := coll.GetByID(ctx, id); err == nil {
			out = append(out, id)
		}
	}
	return out
}

// Query implements Backend. chromem's where clause only does string
// equality, so the filter is applied here against decoded metadata.
func (b *ChromemBackend) Query(ctx context.Context, index, namespace string, vector []float32, topK int, filter *Filter) (_ []Match, err error) {
	ctx, span := startSpan(ctx, "ChromemBackend.Query", index)
	span.SetAttributes(attribute.Int("top_k", topK))
	defer func() { endSpan(span, err) }()

	if err := b.requireIndex(index); err != nil {
		return nil, err
	}
	coll := b.db.GetCollection(collectionName(index, namespace), noEmbedding)
	if coll == nil {
		return nil, ErrNamespaceNotFound
	}
	n := coll.Count()
	if n == 0 {
		return []Match{}, nil
	}

	results, err := coll.QueryEmbedding(ctx, normalized(vector), n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying namespace %s: %w", namespace, err)
	}

	matches := make([]Match, 0, topK)
	for _, r := range results {
		md := decodeMetadata(r.Metadata)
		if !filter.Matches(md) {
			continue
		}
		matches = append(matches, Match{ID: r.ID, Score: r.Similarity, Metadata: md})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Fetch implements Backend.
func (b *ChromemBackend) Fetch(ctx context.Context, index, namespace string, ids []string) (_ map[string]Record, err error) {
	ctx, span := startSpan(ctx, "ChromemBackend.Fetch", index)
	defer func() { endSpan(span, err) }()

	if err := b.requireIndex(index); err != nil {
		return nil, err
	}
	coll := b.db.GetCollection(collectionName(index, namespace), noEmbedding)
	if coll == nil {
		return nil, ErrNamespaceNotFound
	}
	out := make(map[string]Record, len(ids))
	for _, id := range ids {
		doc, err := coll.GetByID(ctx, id)
		if err != nil {
			continue
		}
		out[id] = Record{ID: doc.ID, Values: doc.Embedding, Metadata: decodeMetadata(doc.Metadata)}
	}
	return out, nil
}

// Delete implements Backend.
func (b *ChromemBackend) Delete(ctx context.Context, index, namespace string, ids []string) (err error) {
	ctx, span := startSpan(ctx, "ChromemBackend.Delete", index)
	defer func() { endSpan(span, err) }()

	if err := b.requireIndex(index); err != nil {
		return err
	}
	coll := b.db.GetCollection(collectionName(index, namespace), noEmbedding)
	if coll == nil {
		return ErrNamespaceNotFound
	}
	existing := b.existing(ctx, coll, ids)
	if len(existing) == 0 {
		return nil
	}
	return coll.Delete(ctx, nil, nil, existing...)
}

// DeleteNamespace implements Backend.
func (b *ChromemBackend) DeleteNamespace(ctx context.Context, index, namespace string) (err error) {
	_, span := startSpan(ctx, "ChromemBackend.DeleteNamespace", index)
	defer func() { endSpan(span, err) }()

	if err := b.requireIndex(index); err != nil {
		return err
	}
	name := collectionName(index, namespace)
	if b.db.GetCollection(name, noEmbedding) == nil {
		return ErrNamespaceNotFound
	}
	return b.db.DeleteCollection(name)
}

// Stats implements Backend.
func (b *ChromemBackend) Stats(ctx context.Context, index string) (_ *IndexStats, err error) {
	ctx, span := startSpan(ctx, "ChromemBackend.Stats", index)
	defer func() { endSpan(span, err) }()

	h, err := b.DescribeIndex(ctx, index)
	if err != nil {
		return nil, err
	}
	stats := &IndexStats{Dimension: h.Dimension, Namespaces: map[string]int64{}}
	prefix := index + namespaceSep
	for name, coll := range b.db.ListCollections() {
		ns, ok := strings.CutPrefix(name, prefix)
		if !ok {
			continue
		}
		n := int64(coll.Count())
		stats.Namespaces[ns] = n
		stats.TotalCount += n
	}
	return stats, nil
}

// Close implements Backend. Persistence is written through, so there is
// nothing to flush.
func (b *ChromemBackend) Close() error {
	return nil
}

func normalized(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		copy(out, v)
		return out
	}
	norm := float32(math.Sqrt(sum))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// encodeMetadata stores each value as JSON so types survive chromem's
// string-only metadata.
func encodeMetadata(m Metadata) (map[string]string, error) {
	out := make(map[string]string, len(m))
	for k, v := range m {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		out[k] = string(b)
	}
	return out, nil
}

func decodeMetadata(m map[string]string) Metadata {
	out := make(Metadata, len(m))
	for k, raw := range m {
		out[k] = decodeValue(raw)
	}
	return out
}

func decodeValue(raw string) any {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return raw
	}
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case []any:
		ss := make([]string, 0, len(x))
		for _, item := range x {
			if s, ok := item.(string); ok {
				ss = append(ss, s)
			}
		}
		return ss
	case string, bool:
		return x
	case nil:
		return nil
	}
	return raw
}

var _ Backend = (*ChromemBackend)(nil)
