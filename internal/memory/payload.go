package memory

import (
	"time"

	"github.com/lexcounsel/memengine/internal/vectorstore"
)

// Canonical payload keys.
const (
	KeyTenantID     = "tenantId"
	KeyUserID       = "userId"
	KeyMemoryType   = "memoryType"
	KeyCategory     = "category"
	KeyKeyText      = "keyText"
	KeyValueText    = "valueText"
	KeyContext      = "context"
	KeyConfidence   = "confidenceScore"
	KeySource       = "source"
	KeyFrequency    = "frequency"
	KeyTimestamp    = "timestamp"
	KeyLastAccessed = "lastAccessed"
	KeyRecordID     = "recordId"
	KeyNamespace    = "namespace"
	KeyKind         = "kind"

	KeyDocumentID = "documentId"
	KeyChunkIndex = "chunkIndex"
	KeyContent    = "content"
	KeyPage       = "page"
	KeyTitle      = "title"
)

// Values of KeyKind.
const (
	KindMemory        = "memory"
	KindDocumentChunk = "document_chunk"
)

// reservedKeys are written by the repository and override caller metadata.
var reservedKeys = map[string]bool{
	KeyTenantID: true, KeyUserID: true, KeyMemoryType: true, KeyCategory: true,
	KeyKeyText: true, KeyValueText: true, KeyContext: true, KeyConfidence: true,
	KeySource: true, KeyFrequency: true, KeyTimestamp: true, KeyLastAccessed: true,
	KeyRecordID: true, KeyNamespace: true, KeyKind: true,
	KeyDocumentID: true, KeyChunkIndex: true, KeyContent: true, KeyPage: true, KeyTitle: true,
}

// tenantKeys may never appear in a caller filter.
var tenantKeys = map[string]bool{KeyTenantID: true, KeyUserID: true, KeyNamespace: true}

// IsReservedKey reports whether key is written by the repository.
func IsReservedKey(key string) bool { return reservedKeys[key] }

func callerMetadata(in map[string]any) (vectorstore.Metadata, error) {
	md, err := vectorstore.FlattenMetadata(in)
	if err != nil {
		return nil, err
	}
	for k := range md {
		if reservedKeys[k] {
			delete(md, k)
		}
	}
	return md, nil
}

// toPayload builds the stored metadata for r in namespace.
func toPayload(r Record, namespace string) (vectorstore.Metadata, error) {
	md, err := callerMetadata(r.Metadata)
	if err != nil {
		return nil, err
	}
	md[KeyTenantID] = r.TenantID
	md[KeyUserID] = r.TenantID
	md[KeyNamespace] = namespace
	md[KeyKind] = KindMemory
	md[KeyRecordID] = r.ID
	md[KeyMemoryType] = string(r.Type)
	md[KeyKeyText] = r.KeyText
	md[KeyConfidence] = r.Confidence
	md[KeySource] = r.Source
	md[KeyFrequency] = int64(r.Frequency)
	md[KeyTimestamp] = formatTime(r.Timestamp)
	if r.Category != "" {
		md[KeyCategory] = r.Category
	}
	if r.ValueText != "" {
		md[KeyValueText] = r.ValueText
	}
	if r.Context != "" {
		md[KeyContext] = r.Context
	}
	if !r.LastAccessed.IsZero() {
		md[KeyLastAccessed] = formatTime(r.LastAccessed)
	}
	return md, nil
}

// fromPayload rebuilds a Record from stored metadata.
func fromPayload(id string, values []float32, md vectorstore.Metadata) Record {
	r := Record{
		ID:        id,
		TenantID:  md.String(KeyTenantID),
		Type:      Type(md.String(KeyMemoryType)),
		Category:  md.String(KeyCategory),
		KeyText:   md.String(KeyKeyText),
		ValueText: md.String(KeyValueText),
		Context:   md.String(KeyContext),
		Source:    md.String(KeySource),
		Embedding: values,
		Metadata:  map[string]any{},
	}
	if c, ok := md.Float(KeyConfidence); ok {
		r.Confidence = c
	}
	if f, ok := md.Int(KeyFrequency); ok {
		r.Frequency = int(f)
	}
	r.Timestamp = parseTime(md.String(KeyTimestamp))
	r.LastAccessed = parseTime(md.String(KeyLastAccessed))
	for k, v := range md {
		if !reservedKeys[k] {
			r.Metadata[k] = v
		}
	}
	return r
}

// formatTime renders stored instants as RFC 3339 in UTC.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime reads a stored instant; absent or malformed values are zero.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ownedBy is the read-side tenant check applied to every stored payload.
func ownedBy(md vectorstore.Metadata, tenantID string) bool {
	if md.String(KeyTenantID) != tenantID {
		return false
	}
	if u, ok := md[KeyUserID]; ok && u != tenantID {
		return false
	}
	return true
}
