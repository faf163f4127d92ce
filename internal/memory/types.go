// Package memory is the domain layer between the engine and the vector
// store: typed memory records, tenant-confined reads and writes, and
// document chunk ingestion.
package memory

import (
	"fmt"
	"strings"
	"time"
)

// Type classifies a memory record. The set is closed.
type Type string

const (
	TypePreference         Type = "preference"
	TypeFact               Type = "fact"
	TypePattern            Type = "pattern"
	TypeCaseContext        Type = "case_context"
	TypeCommunicationStyle Type = "communication_style"
	TypeConversation       Type = "conversation"
)

// Types lists every memory type in context block order.
var Types = []Type{
	TypePreference,
	TypeFact,
	TypeCaseContext,
	TypePattern,
	TypeCommunicationStyle,
	TypeConversation,
}

// ParseType returns the Type named s.
func ParseType(s string) (Type, error) {
	t := Type(strings.TrimSpace(s))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidMemoryType, s)
	}
	return t, nil
}

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

func (t Type) String() string { return string(t) }

// Defaults applied by NewRecord and Store.
const (
	DefaultConfidence = 1.0
	DefaultSource     = "chat"
	DefaultFrequency  = 1

	// MaxTextChars caps KeyText, ValueText and Context, in runes.
	MaxTextChars = 1000
)

// Record is one learned fact, preference or pattern about a tenant.
type Record struct {
	ID       string
	TenantID string
	Type     Type
	Category string

	KeyText   string
	ValueText string
	Context   string

	// Confidence is in [0,1].
	Confidence float64
	Source     string
	// Frequency counts accesses. Only UpdateAccess changes it.
	Frequency int

	Timestamp    time.Time
	LastAccessed time.Time

	// Embedding is populated on records read back from the store.
	Embedding []float32
	// Metadata holds caller fields. Nested values are stored as JSON
	// strings under "<key>_flat".
	Metadata map[string]any
}

// NewRecord returns a validated record with defaults applied.
func NewRecord(tenantID string, typ Type, keyText, valueText string) (Record, error) {
	r := Record{
		TenantID:   tenantID,
		Type:       typ,
		KeyText:    keyText,
		ValueText:  valueText,
		Confidence: DefaultConfidence,
		Source:     DefaultSource,
		Frequency:  DefaultFrequency,
	}
	if err := r.Validate(); err != nil {
		return Record{}, err
	}
	return r, nil
}

// Validate checks the record shape.
func (r Record) Validate() error {
	if strings.TrimSpace(r.TenantID) == "" {
		return fmt.Errorf("%w: tenant id is required", ErrInvalidRecord)
	}
	if !r.Type.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrInvalidRecord, ErrInvalidMemoryType, r.Type)
	}
	if strings.TrimSpace(r.KeyText) == "" {
		return fmt.Errorf("%w: key text is required", ErrInvalidRecord)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidRecord, r.Confidence)
	}
	if r.Frequency < 0 {
		return fmt.Errorf("%w: negative frequency", ErrInvalidRecord)
	}
	return nil
}

// withDefaults fills zero-valued optional fields. A zero Confidence counts
// as unset.
func (r Record) withDefaults() Record {
	if r.Confidence == 0 {
		r.Confidence = DefaultConfidence
	}
	if r.Source == "" {
		r.Source = DefaultSource
	}
	if r.Frequency == 0 {
		r.Frequency = DefaultFrequency
	}
	return r
}

// EmbeddingText is the text a record is embedded from: key, value and
// context joined by spaces, skipping empty parts.
func (r Record) EmbeddingText() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{r.KeyText, r.ValueText, r.Context} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// ScoredRecord is a retrieved record with its similarity score.
type ScoredRecord struct {
	Record
	Score float32
}

// DocumentMetadata describes an ingested document.
type DocumentMetadata struct {
	Title string
	Page  int
	// TokenBudget sizes chunks at ingest; non-positive selects the
	// chunker default.
	TokenBudget int
	// Extra is stored alongside each chunk, flattened like record metadata.
	Extra map[string]any
}

// DocumentChunk is one stored slice of a document.
type DocumentChunk struct {
	DocumentID string
	ChunkIndex int
	Content    string
	Embedding  []float32
	Metadata   map[string]any
}

// ChunkID returns the vector id of a document chunk.
func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s-chunk-%d", documentID, index)
}
