// Package embedtest provides a deterministic embedder for tests.
//
// Keyword hashes the significant words of a text into a fixed number of
// buckets. Texts sharing their significant words embed identically, so
// similarity scores in tests are predictable without a model.
package embedtest

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/lexcounsel/memengine/internal/embeddings"
)

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "what": true, "are": true,
	"was": true, "who": true, "how": true, "with": true, "this": true,
	"that": true, "does": true, "about": true,
}

// Keyword is a langchaingo-compatible embedder.
type Keyword struct {
	Dim int

	mu    sync.Mutex
	calls int
	// Err, when set, is returned by every call.
	Err error
}

// New returns a Keyword embedder with dim buckets.
func New(dim int) *Keyword {
	return &Keyword{Dim: dim}
}

// NewAdapter wraps a Keyword embedder in an embeddings.Adapter. It panics
// if dim is not positive.
func NewAdapter(dim int) (*embeddings.Adapter, *Keyword) {
	k := New(dim)
	a, err := embeddings.NewAdapter(k, "keyword", "test", dim)
	if err != nil {
		panic(err)
	}
	return a, k
}

// Calls reports how many texts were embedded.
func (k *Keyword) Calls() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.calls
}

// EmbedQuery implements langchaingo embeddings.Embedder.
func (k *Keyword) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	k.mu.Lock()
	k.calls++
	err := k.Err
	k.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return k.vector(text), nil
}

// EmbedDocuments implements langchaingo embeddings.Embedder.
func (k *Keyword) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := k.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Words returns the significant words of text: lowercase alphabetic runs
// of at least three letters that are not stop words.
func Words(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	words := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < 3 || stopWords[f] {
			continue
		}
		words = append(words, f)
	}
	return words
}

func (k *Keyword) vector(text string) []float32 {
	v := make([]float32, k.Dim)
	words := Words(text)
	if len(words) == 0 {
		// Constant direction so empty-ish text still has a unit vector.
		v[0] = 1
		return v
	}
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[int(h.Sum32()%uint32(k.Dim))]++
	}
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}
