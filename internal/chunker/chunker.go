// Package chunker splits document text into sentence-aligned chunks sized
// to an approximate token budget.
package chunker

import (
	"errors"
	"strings"
)

// DefaultTokenBudget is used when a non-positive budget is given.
const DefaultTokenBudget = 1000

// ErrChunkingInputInvalid is returned by ChunkStrict for empty or
// whitespace-only input.
var ErrChunkingInputInvalid = errors.New("chunking input is empty")

// EstimateTokens approximates the token count of s as ceil(len(s)/4).
// It is a byte-length heuristic, not a tokenizer.
func EstimateTokens(s string) int {
	return estimateLen(len(s))
}

func estimateLen(n int) int {
	return (n + 3) / 4
}

// Chunk greedily packs sentences into chunks whose estimated token count
// stays within targetTokenBudget. A sentence that alone exceeds the budget
// becomes its own chunk; sentences are never split. Sentences within a
// chunk are joined by a single space.
//
// Empty or whitespace-only text yields an empty, non-nil slice.
func Chunk(text string, targetTokenBudget int) []string {
	if targetTokenBudget <= 0 {
		targetTokenBudget = DefaultTokenBudget
	}

	chunks := []string{}
	var buf strings.Builder

	for _, sentence := range Sentences(text) {
		if buf.Len() > 0 && estimateLen(buf.Len()+1+len(sentence)) > targetTokenBudget {
			chunks = append(chunks, buf.String())
			buf.Reset()
		}
		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(sentence)
	}
	if buf.Len() > 0 {
		chunks = append(chunks, buf.String())
	}
	return chunks
}

// ChunkStrict is Chunk for callers that require at least one chunk.
func ChunkStrict(text string, targetTokenBudget int) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrChunkingInputInvalid
	}
	return Chunk(text, targetTokenBudget), nil
}

// Sentences splits text on '.', '!' and '?', keeping runs of terminal
// punctuation (such as "?!" or "...") attached to their sentence, along
// with any closing quotes or brackets that directly follow them. Empty
// fragments are dropped and surrounding whitespace is trimmed. A trailing
// fragment with no terminal punctuation is kept and terminated with '.'.
func Sentences(text string) []string {
	var out []string
	start := 0
	i := 0
	for i < len(text) {
		if !isTerminal(text[i]) {
			i++
			continue
		}
		for i < len(text) && isTerminal(text[i]) {
			i++
		}
		for i < len(text) && isCloser(text[i]) {
			i++
		}
		if s := strings.TrimSpace(text[start:i]); s != "" && !onlyPunctuation(s) {
			out = append(out, s)
		}
		start = i
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s+".")
	}
	return out
}

func isTerminal(b byte) bool {
	return b == '.' || b == '!' || b == '?'
}

func isCloser(b byte) bool {
	return b == '"' || b == '\'' || b == ')' || b == ']'
}

func onlyPunctuation(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isTerminal(s[i]) && !isCloser(s[i]) {
			return false
		}
	}
	return true
}
