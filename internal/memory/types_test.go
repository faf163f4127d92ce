package memory

import (
	"regexp"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	for _, typ := range Types {
		got, err := ParseType(string(typ))
		require.NoError(t, err)
		assert.Equal(t, typ, got)
	}
	_, err := ParseType("opinion")
	assert.ErrorIs(t, err, ErrInvalidMemoryType)
}

func TestNewRecord(t *testing.T) {
	r, err := NewRecord("t1", TypeFact, "case_number", "CR-2024-0099")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfidence, r.Confidence)
	assert.Equal(t, DefaultSource, r.Source)
	assert.Equal(t, DefaultFrequency, r.Frequency)
	assert.Equal(t, "case_number CR-2024-0099", r.EmbeddingText())
}

func TestRecordValidate(t *testing.T) {
	valid := Record{TenantID: "t1", Type: TypeFact, KeyText: "k", Confidence: 0.5}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Record)
	}{
		{"missing tenant", func(r *Record) { r.TenantID = " " }},
		{"unknown type", func(r *Record) { r.Type = "opinion" }},
		{"missing key", func(r *Record) { r.KeyText = "" }},
		{"confidence above one", func(r *Record) { r.Confidence = 1.5 }},
		{"negative confidence", func(r *Record) { r.Confidence = -0.1 }},
		{"negative frequency", func(r *Record) { r.Frequency = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			assert.ErrorIs(t, r.Validate(), ErrInvalidRecord)
		})
	}

	r := valid
	r.Type = "opinion"
	assert.ErrorIs(t, r.Validate(), ErrInvalidMemoryType)
}

func TestEmbeddingText_SkipsEmptyParts(t *testing.T) {
	r := Record{KeyText: "salutation", Context: "  formal letters "}
	assert.Equal(t, "salutation formal letters", r.EmbeddingText())
}

func TestNewID(t *testing.T) {
	now := time.UnixMilli(1740910530000)
	id, err := NewID("tenant-42", now)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^tenant-42-1740910530000-[0-9a-z]{9}$`), id)

	other, err := NewID("tenant-42", now)
	require.NoError(t, err)
	assert.NotEqual(t, id, other)

	owner, ok := idOwner(id)
	assert.True(t, ok)
	assert.Equal(t, "tenant-42", owner)

	_, ok = idOwner("custom-id")
	assert.False(t, ok)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "abc", truncateRunes("abc", 5))
	assert.Equal(t, "ab", truncateRunes("abc", 2))

	accented := strings.Repeat("é", 1500)
	got := truncateRunes(accented, MaxTextChars)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, MaxTextChars, utf8.RuneCountInString(got))

	assert.Equal(t, "日本", truncateRunes("日本語", 2))
}

func TestChunkID(t *testing.T) {
	assert.Equal(t, "lease-7-chunk-2", ChunkID("lease-7", 2))
}
