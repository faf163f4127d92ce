package memory

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lexcounsel/memengine/internal/chunker"
	"github.com/lexcounsel/memengine/internal/logging"
	"github.com/lexcounsel/memengine/internal/vectorstore"
)

// StoreDocument chunks text on sentence boundaries, embeds every chunk and
// stores the chunks in tenantID's namespace as "{documentID}-chunk-{i}".
// Re-ingesting a document overwrites chunks with the same index.
func (r *Repository) StoreDocument(ctx context.Context, tenantID, documentID, text string, meta DocumentMetadata, budget int) ([]DocumentChunk, error) {
	ns, err := vectorstore.ResolveNamespace(tenantID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(documentID) == "" {
		return nil, fmt.Errorf("%w: document id is required", ErrInvalidDocument)
	}
	pieces, err := chunker.ChunkStrict(text, budget)
	if err != nil {
		return nil, err
	}

	extra, err := callerMetadata(meta.Extra)
	if err != nil {
		return nil, err
	}

	ctx = logging.WithTenant(ctx, tenantID)
	chunks := make([]DocumentChunk, 0, len(pieces))
	for start := 0; start < len(pieces); start += vectorstore.MaxTextBatch {
		end := min(start+vectorstore.MaxTextBatch, len(pieces))
		batch := make([]vectorstore.Record, 0, end-start)
		batchChunks := make([]DocumentChunk, 0, end-start)

		for i := start; i < end; i++ {
			content := truncateRunes(r.scrub(pieces[i]), maxChunkRunes)
			vec, err := r.embedder.Embed(ctx, content)
			if err != nil {
				return chunks, fmt.Errorf("embedding chunk %d of %s: %w", i, documentID, err)
			}
			md := extra.Copy()
			md[KeyTenantID] = tenantID
			md[KeyUserID] = tenantID
			md[KeyNamespace] = ns
			md[KeyKind] = KindDocumentChunk
			md[KeyDocumentID] = documentID
			md[KeyChunkIndex] = int64(i)
			md[KeyContent] = content
			md[KeyTimestamp] = formatTime(r.now())
			if meta.Title != "" {
				md[KeyTitle] = meta.Title
			}
			if meta.Page > 0 {
				md[KeyPage] = int64(meta.Page)
			}

			id := ChunkID(documentID, i)
			batch = append(batch, vectorstore.Record{ID: id, Values: vec, Metadata: md})
			batchChunks = append(batchChunks, DocumentChunk{
				DocumentID: documentID,
				ChunkIndex: i,
				Content:    content,
				Embedding:  vec,
				Metadata:   map[string]any(md),
			})
		}

		if err := r.client.Upsert(ctx, ns, batch); err != nil {
			return chunks, fmt.Errorf("storing chunks of %s: %w", documentID, err)
		}
		chunks = append(chunks, batchChunks...)
	}

	r.logger.Info(ctx, "document ingested",
		zap.String("document_id", documentID),
		zap.Int("chunks", len(chunks)),
	)
	return chunks, nil
}

// maxChunkRunes keeps a full chunk payload under the metadata size limit.
const maxChunkRunes = 8000

// ScoredChunk is a retrieved document chunk with its similarity score.
type ScoredChunk struct {
	DocumentChunk
	Score float32
}

// SearchDocument returns the chunks of one document most similar to query.
// No score threshold is applied.
func (r *Repository) SearchDocument(ctx context.Context, tenantID, documentID, query string, limit int) ([]ScoredChunk, error) {
	ns, err := vectorstore.ResolveNamespace(tenantID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = r.defaultLimit
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	filter := vectorstore.NewFilter(
		vectorstore.Eq(KeyTenantID, tenantID),
		vectorstore.Eq(KeyKind, KindDocumentChunk),
		vectorstore.Eq(KeyDocumentID, documentID),
	)
	matches, err := r.client.Query(ctx, ns, vec, limit, filter)
	if err != nil {
		return nil, fmt.Errorf("searching document %s: %w", documentID, err)
	}

	ctx = logging.WithTenant(ctx, tenantID)
	out := make([]ScoredChunk, 0, len(matches))
	for _, m := range matches {
		if !ownedBy(m.Metadata, tenantID) || m.Metadata.String(KeyDocumentID) != documentID {
			isolationViolations.WithLabelValues("search_document").Inc()
			r.logger.Warn(ctx, "security: discarded chunk outside the requested document",
				zap.String("chunk_id", m.ID))
			continue
		}
		idx, _ := m.Metadata.Int(KeyChunkIndex)
		out = append(out, ScoredChunk{
			DocumentChunk: DocumentChunk{
				DocumentID: documentID,
				ChunkIndex: int(idx),
				Content:    m.Metadata.String(KeyContent),
				Metadata:   map[string]any(m.Metadata),
			},
			Score: m.Score,
		})
	}
	return out, nil
}
