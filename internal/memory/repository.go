package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lexcounsel/memengine/internal/embeddings"
	"github.com/lexcounsel/memengine/internal/logging"
	"github.com/lexcounsel/memengine/internal/retry"
	"github.com/lexcounsel/memengine/internal/secrets"
	"github.com/lexcounsel/memengine/internal/vectorstore"
)

// Retrieval defaults.
const (
	DefaultLimit      = 5
	DefaultMinScore   = 0.7
	DefaultBatchDelay = 100 * time.Millisecond
)

// Repository stores and retrieves tenant memories.
type Repository struct {
	client   *vectorstore.Client
	embedder embeddings.Embedder
	scrubber secrets.Scrubber
	logger   *logging.Logger

	defaultLimit    int
	defaultMinScore float64
	batchDelay      time.Duration
	maxTextChars    int

	now   func() time.Time
	sleep retry.SleepFunc
}

// Option configures a Repository.
type Option func(*Repository)

// WithScrubber redacts credentials from text fields before storage.
func WithScrubber(s secrets.Scrubber) Option {
	return func(r *Repository) {
		if s != nil {
			r.scrubber = s
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Repository) { r.logger = logging.OrNop(l).Named("memory") }
}

// WithDefaults overrides the retrieval defaults.
func WithDefaults(limit int, minScore float64) Option {
	return func(r *Repository) {
		if limit > 0 {
			r.defaultLimit = limit
		}
		if minScore >= 0 && minScore <= 1 {
			r.defaultMinScore = minScore
		}
	}
}

// WithBatchDelay sets the pause between StoreBatch batches.
func WithBatchDelay(d time.Duration) Option {
	return func(r *Repository) {
		if d >= 0 {
			r.batchDelay = d
		}
	}
}

// WithMaxTextChars sets the text truncation cap in runes.
func WithMaxTextChars(n int) Option {
	return func(r *Repository) {
		if n > 0 {
			r.maxTextChars = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		if now != nil {
			r.now = now
		}
	}
}

// WithSleep replaces the inter-batch wait.
func WithSleep(sleep retry.SleepFunc) Option {
	return func(r *Repository) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// NewRepository returns a Repository over client and embedder.
func NewRepository(client *vectorstore.Client, embedder embeddings.Embedder, opts ...Option) (*Repository, error) {
	if client == nil {
		return nil, errors.New("memory: vector client is required")
	}
	if embedder == nil {
		return nil, errors.New("memory: embedder is required")
	}
	if embedder.Dimension() != client.Dimension() {
		return nil, fmt.Errorf("memory: embedder dimension %d does not match index dimension %d",
			embedder.Dimension(), client.Dimension())
	}
	r := &Repository{
		client:          client,
		embedder:        embedder,
		scrubber:        secrets.Noop{},
		logger:          logging.NewNop(),
		defaultLimit:    DefaultLimit,
		defaultMinScore: DefaultMinScore,
		batchDelay:      DefaultBatchDelay,
		maxTextChars:    MaxTextChars,
		now:             time.Now,
		sleep:           sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// prepare validates rec for tenantID and applies scrubbing, truncation,
// defaults and id generation.
func (r *Repository) prepare(tenantID string, rec Record) (Record, error) {
	if rec.TenantID != "" && rec.TenantID != tenantID {
		return Record{}, fmt.Errorf("%w: record tenant %q, caller %q", ErrOwnershipMismatch, rec.TenantID, tenantID)
	}
	rec.TenantID = tenantID
	rec = rec.withDefaults()
	// Access counters belong to UpdateAccess; a write never sets them.
	rec.Frequency = DefaultFrequency
	rec.LastAccessed = time.Time{}
	if err := rec.Validate(); err != nil {
		return Record{}, err
	}

	rec.KeyText = truncateRunes(r.scrub(rec.KeyText), r.maxTextChars)
	rec.ValueText = truncateRunes(r.scrub(rec.ValueText), r.maxTextChars)
	rec.Context = truncateRunes(r.scrub(rec.Context), r.maxTextChars)

	now := r.now()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = now
	}
	if rec.ID == "" {
		id, err := NewID(tenantID, now)
		if err != nil {
			return Record{}, err
		}
		rec.ID = id
	}
	return rec, nil
}

// carryAccess copies frequency and lastAccessed from already-stored
// records onto recs, so replacing a memory keeps its access history.
func (r *Repository) carryAccess(ctx context.Context, ns, tenantID string, recs []Record) error {
	ids := make([]string, len(recs))
	for i, rec := range recs {
		ids[i] = rec.ID
	}
	stored, err := r.client.Fetch(ctx, ns, ids)
	if err != nil {
		return fmt.Errorf("reading access history: %w", err)
	}
	for i := range recs {
		prev, ok := stored[recs[i].ID]
		if !ok || !ownedBy(prev.Metadata, tenantID) {
			continue
		}
		old := fromPayload(prev.ID, nil, prev.Metadata)
		if old.Frequency > 0 {
			recs[i].Frequency = old.Frequency
		}
		recs[i].LastAccessed = old.LastAccessed
	}
	return nil
}

func (r *Repository) scrub(text string) string {
	if text == "" || !r.scrubber.Enabled() {
		return text
	}
	res := r.scrubber.Scrub(text)
	if res.HasFindings() {
		secretsRedacted.Add(float64(res.Total))
	}
	return res.Text
}

// vectorRecord embeds rec and builds its vector record.
func (r *Repository) vectorRecord(ctx context.Context, rec Record, namespace string) (vectorstore.Record, error) {
	vec, err := r.embedder.Embed(ctx, rec.EmbeddingText())
	if err != nil {
		return vectorstore.Record{}, fmt.Errorf("embedding memory %s: %w", rec.ID, err)
	}
	md, err := toPayload(rec, namespace)
	if err != nil {
		return vectorstore.Record{}, err
	}
	return vectorstore.Record{ID: rec.ID, Values: vec, Metadata: md}, nil
}

// Store writes one memory for tenantID and returns its id. Storing an
// explicit id again replaces the earlier record but keeps its frequency
// and lastAccessed; rec's own values for those are ignored.
func (r *Repository) Store(ctx context.Context, tenantID string, rec Record) (string, error) {
	ns, err := vectorstore.ResolveNamespace(tenantID)
	if err != nil {
		return "", err
	}
	rec, err = r.prepare(tenantID, rec)
	if err != nil {
		return "", err
	}
	one := []Record{rec}
	if err := r.carryAccess(ctx, ns, tenantID, one); err != nil {
		return "", err
	}
	rec = one[0]
	vr, err := r.vectorRecord(ctx, rec, ns)
	if err != nil {
		return "", err
	}
	if err := r.client.Upsert(ctx, ns, []vectorstore.Record{vr}); err != nil {
		return "", fmt.Errorf("storing memory: %w", err)
	}

	ctx = logging.WithTenant(ctx, tenantID)
	r.logger.Debug(ctx, "memory stored",
		zap.String("memory_id", rec.ID),
		zap.String("memory_type", string(rec.Type)),
		logging.TextLen("key_text", rec.KeyText),
		logging.TextLen("value_text", rec.ValueText),
	)
	return rec.ID, nil
}

// RetrieveOptions narrows Retrieve. Zero values select the repository
// defaults.
type RetrieveOptions struct {
	Limit int
	// MinScore, when set, overrides the default threshold.
	MinScore *float64
	Types    []Type
	// Filter adds equality clauses on caller metadata. Tenant keys are
	// rejected with ErrReservedFilterKey.
	Filter map[string]any
}

// Threshold returns a MinScore value.
func Threshold(v float64) *float64 { return &v }

// Retrieve returns tenantID's memories most similar to query, best first.
func (r *Repository) Retrieve(ctx context.Context, tenantID, query string, opts RetrieveOptions) ([]ScoredRecord, error) {
	ns, err := vectorstore.ResolveNamespace(tenantID)
	if err != nil {
		return nil, err
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = r.defaultLimit
	}
	minScore := r.defaultMinScore
	if opts.MinScore != nil {
		minScore = *opts.MinScore
	}

	filter, err := memoryFilter(tenantID, opts)
	if err != nil {
		return nil, err
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	matches, err := r.client.Query(ctx, ns, vec, 2*limit, filter)
	if err != nil {
		return nil, fmt.Errorf("querying memories: %w", err)
	}

	ctx = logging.WithTenant(ctx, tenantID)
	out := r.confine(ctx, "retrieve", tenantID, matches, minScore)
	if len(out) > limit {
		out = out[:limit]
	}
	r.logger.Debug(ctx, "memories retrieved",
		zap.Int("candidates", len(matches)),
		zap.Int("returned", len(out)),
	)
	return out, nil
}

// confine re-checks tenant ownership and the score threshold on every
// match, then sorts by descending score.
func (r *Repository) confine(ctx context.Context, op, tenantID string, matches []vectorstore.Match, minScore float64) []ScoredRecord {
	out := make([]ScoredRecord, 0, len(matches))
	for _, m := range matches {
		if !ownedBy(m.Metadata, tenantID) {
			isolationViolations.WithLabelValues(op).Inc()
			r.logger.Warn(ctx, "security: discarded match owned by another tenant",
				zap.String("operation", op),
				zap.String("memory_id", m.ID),
			)
			continue
		}
		if float64(m.Score) < minScore {
			continue
		}
		out = append(out, ScoredRecord{Record: fromPayload(m.ID, nil, m.Metadata), Score: m.Score})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func memoryFilter(tenantID string, opts RetrieveOptions) (*vectorstore.Filter, error) {
	f := vectorstore.NewFilter(
		vectorstore.Eq(KeyTenantID, tenantID),
		vectorstore.Eq(KeyKind, KindMemory),
	)
	if len(opts.Types) > 0 {
		types := make([]string, len(opts.Types))
		for i, t := range opts.Types {
			if !t.Valid() {
				return nil, fmt.Errorf("%w: %q", ErrInvalidMemoryType, t)
			}
			types[i] = string(t)
		}
		f = f.And(vectorstore.In(KeyMemoryType, types...))
	}
	keys := make([]string, 0, len(opts.Filter))
	for k := range opts.Filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if tenantKeys[k] {
			return nil, fmt.Errorf("%w: %q", ErrReservedFilterKey, k)
		}
		f = f.And(vectorstore.Eq(k, opts.Filter[k]))
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// load fetches id from tenantID's namespace and verifies ownership.
func (r *Repository) load(ctx context.Context, tenantID, id string) (string, vectorstore.Record, error) {
	ns, err := vectorstore.ResolveNamespace(tenantID)
	if err != nil {
		return "", vectorstore.Record{}, err
	}
	if strings.TrimSpace(id) == "" {
		return "", vectorstore.Record{}, fmt.Errorf("%w: empty id", ErrMemoryNotFound)
	}
	recs, err := r.client.Fetch(ctx, ns, []string{id})
	if err != nil {
		return "", vectorstore.Record{}, fmt.Errorf("fetching memory %s: %w", id, err)
	}
	rec, ok := recs[id]
	if !ok {
		// A generated id names its owner; report a foreign id as such.
		if owner, generated := idOwner(id); generated && owner != tenantID {
			r.logger.Warn(logging.WithTenant(ctx, tenantID), "security: access to another tenant's memory refused",
				zap.String("memory_id", id))
			return "", vectorstore.Record{}, fmt.Errorf("%w: %s", ErrOwnershipMismatch, id)
		}
		return "", vectorstore.Record{}, fmt.Errorf("%w: %s", ErrMemoryNotFound, id)
	}
	if !ownedBy(rec.Metadata, tenantID) {
		isolationViolations.WithLabelValues("load").Inc()
		r.logger.Warn(logging.WithTenant(ctx, tenantID), "security: stored memory owned by another tenant",
			zap.String("memory_id", id))
		return "", vectorstore.Record{}, fmt.Errorf("%w: %s", ErrOwnershipMismatch, id)
	}
	return ns, rec, nil
}

// Get returns one memory owned by tenantID.
func (r *Repository) Get(ctx context.Context, tenantID, id string) (Record, error) {
	_, rec, err := r.load(ctx, tenantID, id)
	if err != nil {
		return Record{}, err
	}
	return fromPayload(rec.ID, rec.Values, rec.Metadata), nil
}

// UpdateAccess increments the record's frequency and refreshes
// lastAccessed. The stored vector is written back unchanged.
func (r *Repository) UpdateAccess(ctx context.Context, tenantID, id string) error {
	ns, rec, err := r.load(ctx, tenantID, id)
	if err != nil {
		return err
	}
	md := rec.Metadata.Copy()
	freq, _ := md.Int(KeyFrequency)
	md[KeyFrequency] = freq + 1
	md[KeyLastAccessed] = formatTime(r.now())

	if err := r.client.Upsert(ctx, ns, []vectorstore.Record{{ID: id, Values: rec.Values, Metadata: md}}); err != nil {
		return fmt.Errorf("updating access for %s: %w", id, err)
	}
	return nil
}

// Delete removes one memory owned by tenantID.
func (r *Repository) Delete(ctx context.Context, tenantID, id string) error {
	ns, _, err := r.load(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if err := r.client.DeleteOne(ctx, ns, id); err != nil {
		return fmt.Errorf("deleting memory %s: %w", id, err)
	}
	r.logger.Info(logging.WithTenant(ctx, tenantID), "memory deleted", zap.String("memory_id", id))
	return nil
}

// StoreBatch stores recs in sequential batches with a pause between them.
// Every record is validated before anything is written. A failing batch
// stops the call; ids from earlier batches are returned with the error and
// those batches stay committed.
func (r *Repository) StoreBatch(ctx context.Context, tenantID string, recs []Record) ([]string, error) {
	ns, err := vectorstore.ResolveNamespace(tenantID)
	if err != nil {
		return nil, err
	}
	prepared := make([]Record, len(recs))
	for i, rec := range recs {
		p, err := r.prepare(tenantID, rec)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		prepared[i] = p
	}

	ctx = logging.WithTenant(ctx, tenantID)
	ids := make([]string, 0, len(prepared))
	for start := 0; start < len(prepared); start += vectorstore.MaxTextBatch {
		if start > 0 && r.batchDelay > 0 {
			if err := r.sleep(ctx, r.batchDelay); err != nil {
				return ids, err
			}
		}
		end := min(start+vectorstore.MaxTextBatch, len(prepared))
		if err := r.carryAccess(ctx, ns, tenantID, prepared[start:end]); err != nil {
			return ids, err
		}

		batch := make([]vectorstore.Record, 0, end-start)
		for _, rec := range prepared[start:end] {
			vr, err := r.vectorRecord(ctx, rec, ns)
			if err != nil {
				return ids, err
			}
			batch = append(batch, vr)
		}
		if err := r.client.Upsert(ctx, ns, batch); err != nil {
			r.logger.Warn(ctx, "memory batch failed",
				zap.Int("committed", len(ids)),
				zap.Int("remaining", len(prepared)-start),
				zap.Error(err),
			)
			return ids, fmt.Errorf("storing batch at %d: %w", start, err)
		}
		for _, rec := range prepared[start:end] {
			ids = append(ids, rec.ID)
		}
	}
	r.logger.Info(ctx, "memory batch stored", zap.Int("count", len(ids)))
	return ids, nil
}

// Purge deletes every memory and document chunk of tenantID.
func (r *Repository) Purge(ctx context.Context, tenantID string) error {
	ns, err := vectorstore.ResolveNamespace(tenantID)
	if err != nil {
		return err
	}
	if err := r.client.DeleteAll(ctx, ns); err != nil {
		return fmt.Errorf("purging tenant: %w", err)
	}
	r.logger.Info(logging.WithTenant(ctx, tenantID), "tenant memories purged")
	return nil
}
