package vectorstore

import "context"

// Distance metric names.
const MetricCosine = "cosine"

// Backend is a vector service. Implementations confine every operation to
// the given namespace and report a missing index with ErrIndexNotFound and
// a missing namespace with ErrNamespaceNotFound. Errors that should be
// retried carry a status code (see retry.StatusCode).
type Backend interface {
	// DescribeIndex returns the index dimension and metric.
	DescribeIndex(ctx context.Context, index string) (*IndexHandle, error)
	// CreateIndex provisions an index. Operator use only.
	CreateIndex(ctx context.Context, index string, dimension int, metric string) error

	Upsert(ctx context.Context, index, namespace string, records []Record) error
	Query(ctx context.Context, index, namespace string, vector []float32, topK int, filter *Filter) ([]Match, error)
	Fetch(ctx context.Context, index, namespace string, ids []string) (map[string]Record, error)
	Delete(ctx context.Context, index, namespace string, ids []string) error
	DeleteNamespace(ctx context.Context, index, namespace string) error
	Stats(ctx context.Context, index string) (*IndexStats, error)

	Close() error
}
