package vectorstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/lexcounsel/memengine/internal/logging"
)

var tracer = otel.Tracer("memengine/vectorstore")

// Reserved payload keys. They are stripped from returned metadata.
const (
	payloadNamespace = "_namespace"
	payloadRecordID  = "_record_id"
)

// pointIDSpace seeds the UUIDv5 point ids derived from (namespace, id).
var pointIDSpace = uuid.MustParse("6f1c7c1e-52f4-4b8e-9a55-3d0e1f6a2b10")

// qdrantAPI is the subset of *qdrant.Client used by QdrantBackend.
type qdrantAPI interface {
	GetCollectionInfo(ctx context.Context, collectionName string) (*qdrant.CollectionInfo, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	CreateFieldIndex(ctx context.Context, request *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error)
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Get(ctx context.Context, request *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error)
	Delete(ctx context.Context, request *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	Count(ctx context.Context, request *qdrant.CountPoints) (uint64, error)
	Close() error
}

// QdrantConfig configures the Qdrant gRPC connection.
type QdrantConfig struct {
	// Host is the Qdrant server hostname. Default: "localhost".
	Host string
	// Port is the gRPC port, not the REST port. Default: 6334.
	Port   int
	UseTLS bool
	APIKey string
	// MaxMessageSize bounds gRPC messages. Default: 50MB.
	MaxMessageSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// QdrantBackend stores every namespace of an index in one Qdrant
// collection. Each point carries its namespace in the payload and every
// request is filtered on it.
type QdrantBackend struct {
	client qdrantAPI
	logger *logging.Logger
}

// NewQdrantBackend dials Qdrant. The connection is lazy; the first request
// reports an unreachable server.
func NewQdrantBackend(cfg QdrantConfig, logger *logging.Logger) (*QdrantBackend, error) {
	cfg.ApplyDefaults()
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid qdrant port: %d (must be 1-65535)", cfg.Port)
	}

	qcfg := &qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		APIKey: cfg.APIKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	}
	if !cfg.UseTLS {
		qcfg.GrpcOptions = append(qcfg.GrpcOptions,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
	}

	client, err := qdrant.NewClient(qcfg)
	if err != nil {
		return nil, fmt.Errorf("creating qdrant client: %w", err)
	}

	logger = logging.OrNop(logger).Named("qdrant")
	if !cfg.UseTLS {
		logger.Warn(context.Background(), "qdrant gRPC using plaintext, TLS disabled",
			zap.String("host", cfg.Host), zap.Int("port", cfg.Port))
	}
	return newQdrantBackend(client, logger), nil
}

func newQdrantBackend(client qdrantAPI, logger *logging.Logger) *QdrantBackend {
	return &QdrantBackend{client: client, logger: logging.OrNop(logger)}
}

func startSpan(ctx context.Context, name, index string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attribute.String("index", index)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
	} else {
		span.SetStatus(otelcodes.Ok, "")
	}
	span.End()
}

// DescribeIndex implements Backend.
func (b *QdrantBackend) DescribeIndex(ctx context.Context, index string) (h *IndexHandle, err error) {
	ctx, span := startSpan(ctx, "QdrantBackend.DescribeIndex", index)
	defer func() { endSpan(span, err) }()

	info, err := b.client.GetCollectionInfo(ctx, index)
	if err != nil {
		return nil, qdrantErr(err)
	}
	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	if params == nil {
		return nil, fmt.Errorf("collection %s has no single dense vector config", index)
	}
	return &IndexHandle{
		Name:      index,
		Dimension: int(params.GetSize()),
		Metric:    distanceName(params.GetDistance()),
	}, nil
}

// CreateIndex implements Backend.
func (b *QdrantBackend) CreateIndex(ctx context.Context, index string, dimension int, metric string) (err error) {
	ctx, span := startSpan(ctx, "QdrantBackend.CreateIndex", index)
	defer func() { endSpan(span, err) }()

	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be > 0", ErrInvalidRecord)
	}
	distance, err := parseDistance(metric)
	if err != nil {
		return err
	}
	if err := b.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: index,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: distance,
		}),
	}); err != nil {
		return fmt.Errorf("creating collection %s: %w", index, qdrantErr(err))
	}
	if _, err := b.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: index,
		FieldName:      payloadNamespace,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		Wait:           qdrant.PtrOf(true),
	}); err != nil {
		return fmt.Errorf("indexing namespace field on %s: %w", index, qdrantErr(err))
	}
	b.logger.Info(ctx, "qdrant collection created",
		zap.String("index", index), zap.Int("dimension", dimension), zap.String("metric", metric))
	return nil
}

// Upsert implements Backend.
func (b *QdrantBackend) Upsert(ctx context.Context, index, namespace string, records []Record) (err error) {
	ctx, span := startSpan(ctx, "QdrantBackend.Upsert", index)
	span.SetAttributes(attribute.Int("count", len(records)))
	defer func() { endSpan(span, err) }()

	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		payload := make(map[string]*qdrant.Value, len(r.Metadata)+2)
		for k, v := range r.Metadata {
			payload[k] = toQdrantValue(v)
		}
		payload[payloadNamespace] = toQdrantValue(namespace)
		payload[payloadRecordID] = toQdrantValue(r.ID)
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(namespace, r.ID)),
			Vectors: qdrant.NewVectors(r.Values...),
			Payload: payload,
		}
	}

	_, err = b.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: index,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	return qdrantErr(err)
}

// Query implements Backend.
func (b *QdrantBackend) Query(ctx context.Context, index, namespace string, vector []float32, topK int, filter *Filter) (_ []Match, err error) {
	ctx, span := startSpan(ctx, "QdrantBackend.Query", index)
	span.SetAttributes(attribute.Int("top_k", topK))
	defer func() { endSpan(span, err) }()

	res, err := b.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: index,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		Filter:         toQdrantFilter(namespace, filter),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, qdrantErr(err)
	}

	matches := make([]Match, 0, len(res))
	for _, p := range res {
		ns, id, md := splitPayload(p.GetPayload())
		if ns != namespace {
			continue
		}
		matches = append(matches, Match{ID: id, Score: p.GetScore(), Metadata: md})
	}
	return matches, nil
}

// Fetch implements Backend.
func (b *QdrantBackend) Fetch(ctx context.Context, index, namespace string, ids []string) (_ map[string]Record, err error) {
	ctx, span := startSpan(ctx, "QdrantBackend.Fetch", index)
	defer func() { endSpan(span, err) }()

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(pointID(namespace, id))
	}
	res, err := b.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: index,
		Ids:            pointIDs,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, qdrantErr(err)
	}

	out := make(map[string]Record, len(res))
	for _, p := range res {
		ns, id, md := splitPayload(p.GetPayload())
		if ns != namespace {
			continue
		}
		out[id] = Record{ID: id, Values: denseVector(p.GetVectors()), Metadata: md}
	}
	return out, nil
}

// Delete implements Backend.
func (b *QdrantBackend) Delete(ctx context.Context, index, namespace string, ids []string) (err error) {
	ctx, span := startSpan(ctx, "QdrantBackend.Delete", index)
	defer func() { endSpan(span, err) }()

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(pointID(namespace, id))
	}
	// Ids are namespace-derived; the filter guards against hash collisions.
	_, err = b.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: index,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{
						keywordCondition(payloadNamespace, namespace),
						{ConditionOneOf: &qdrant.Condition_HasId{HasId: &qdrant.HasIdCondition{HasId: pointIDs}}},
					},
				},
			},
		},
	})
	return qdrantErr(err)
}

// DeleteNamespace implements Backend.
func (b *QdrantBackend) DeleteNamespace(ctx context.Context, index, namespace string) (err error) {
	ctx, span := startSpan(ctx, "QdrantBackend.DeleteNamespace", index)
	defer func() { endSpan(span, err) }()

	_, err = b.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: index,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{Must: []*qdrant.Condition{keywordCondition(payloadNamespace, namespace)}},
			},
		},
	})
	return qdrantErr(err)
}

// Stats implements Backend. Qdrant does not enumerate namespaces, so only
// the total is reported.
func (b *QdrantBackend) Stats(ctx context.Context, index string) (_ *IndexStats, err error) {
	ctx, span := startSpan(ctx, "QdrantBackend.Stats", index)
	defer func() { endSpan(span, err) }()

	h, err := b.DescribeIndex(ctx, index)
	if err != nil {
		return nil, err
	}
	total, err := b.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: index,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return nil, qdrantErr(err)
	}
	return &IndexStats{Dimension: h.Dimension, TotalCount: int64(total)}, nil
}

// Close implements Backend.
func (b *QdrantBackend) Close() error {
	return b.client.Close()
}

func pointID(namespace, id string) string {
	return uuid.NewSHA1(pointIDSpace, []byte(namespace+":"+id)).String()
}

// qdrantErr maps a missing collection to ErrIndexNotFound. Other gRPC
// errors pass through; retry classifies them by status code.
func qdrantErr(err error) error {
	if err == nil {
		return nil
	}
	if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
		return fmt.Errorf("%w: %s", ErrIndexNotFound, st.Message())
	}
	return err
}

func parseDistance(metric string) (qdrant.Distance, error) {
	switch metric {
	case "", MetricCosine:
		return qdrant.Distance_Cosine, nil
	case "dotproduct":
		return qdrant.Distance_Dot, nil
	case "euclidean":
		return qdrant.Distance_Euclid, nil
	}
	return 0, fmt.Errorf("unsupported metric %q", metric)
}

func distanceName(d qdrant.Distance) string {
	switch d {
	case qdrant.Distance_Cosine:
		return MetricCosine
	case qdrant.Distance_Dot:
		return "dotproduct"
	case qdrant.Distance_Euclid:
		return "euclidean"
	}
	return d.String()
}

func keywordCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   key,
				Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: value}},
			},
		},
	}
}

// toQdrantFilter scopes filter to namespace. filter must be validated.
func toQdrantFilter(namespace string, filter *Filter) *qdrant.Filter {
	must := []*qdrant.Condition{keywordCondition(payloadNamespace, namespace)}
	if filter == nil {
		return &qdrant.Filter{Must: must}
	}
	for _, c := range filter.Must {
		if cond := toQdrantCondition(c); cond != nil {
			must = append(must, cond)
		}
	}
	return &qdrant.Filter{Must: must}
}

func toQdrantCondition(c Condition) *qdrant.Condition {
	field := func(m *qdrant.Match) *qdrant.Condition {
		return &qdrant.Condition{ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{Key: c.Key, Match: m},
		}}
	}

	if len(c.Values) == 1 {
		switch v := c.Values[0].(type) {
		case string:
			return field(&qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: v}})
		case bool:
			return field(&qdrant.Match{MatchValue: &qdrant.Match_Boolean{Boolean: v}})
		case int64:
			return field(&qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: v}})
		}
		return nil
	}

	var kws []string
	var ints []int64
	for _, v := range c.Values {
		switch x := v.(type) {
		case string:
			kws = append(kws, x)
		case int64:
			ints = append(ints, x)
		}
	}
	switch {
	case len(kws) > 0 && len(ints) == 0:
		return field(&qdrant.Match{MatchValue: &qdrant.Match_Keywords{Keywords: &qdrant.RepeatedStrings{Strings: kws}}})
	case len(ints) > 0 && len(kws) == 0:
		return field(&qdrant.Match{MatchValue: &qdrant.Match_Integers{Integers: &qdrant.RepeatedIntegers{Integers: ints}}})
	}

	// Mixed membership: any of the values.
	should := make([]*qdrant.Condition, 0, len(c.Values))
	for _, v := range c.Values {
		if cond := toQdrantCondition(Condition{Key: c.Key, Op: OpEq, Values: []any{v}}); cond != nil {
			should = append(should, cond)
		}
	}
	return &qdrant.Condition{ConditionOneOf: &qdrant.Condition_Filter{Filter: &qdrant.Filter{Should: should}}}
}

func toQdrantValue(v any) *qdrant.Value {
	switch val := v.(type) {
	case string:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
	case int64:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
	case float64:
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
	case bool:
		return &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
	case []string:
		values := make([]*qdrant.Value, len(val))
		for i, s := range val {
			values[i] = toQdrantValue(s)
		}
		return &qdrant.Value{Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: values}}}
	default:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: fmt.Sprintf("%v", val)}}
	}
}

func fromQdrantValue(v *qdrant.Value) any {
	if v == nil {
		return nil
	}
	switch val := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return val.StringValue
	case *qdrant.Value_IntegerValue:
		return val.IntegerValue
	case *qdrant.Value_DoubleValue:
		return val.DoubleValue
	case *qdrant.Value_BoolValue:
		return val.BoolValue
	case *qdrant.Value_ListValue:
		items := val.ListValue.GetValues()
		out := make([]string, 0, len(items))
		for _, item := range items {
			if s, ok := item.GetKind().(*qdrant.Value_StringValue); ok {
				out = append(out, s.StringValue)
			}
		}
		return out
	}
	return nil
}

// splitPayload separates the reserved keys from caller metadata.
func splitPayload(payload map[string]*qdrant.Value) (namespace, id string, md Metadata) {
	md = make(Metadata, len(payload))
	for k, v := range payload {
		switch k {
		case payloadNamespace:
			namespace, _ = fromQdrantValue(v).(string)
		case payloadRecordID:
			id, _ = fromQdrantValue(v).(string)
		default:
			if x := fromQdrantValue(v); x != nil {
				md[k] = x
			}
		}
	}
	return namespace, id, md
}

func denseVector(vectors *qdrant.VectorsOutput) []float32 {
	if vec := vectors.GetVector(); vec != nil {
		if dense := vec.GetDense(); dense != nil {
			return dense.GetData()
		}
		return vec.GetData() //nolint:staticcheck // servers before 1.13 fill only Data
	}
	return nil
}

var _ Backend = (*QdrantBackend)(nil)
