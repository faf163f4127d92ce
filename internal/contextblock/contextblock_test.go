package contextblock

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcounsel/memengine/internal/memory"
)

func scored(typ memory.Type, key, value string, score float32) memory.ScoredRecord {
	return memory.ScoredRecord{
		Record: memory.Record{Type: typ, KeyText: key, ValueText: value},
		Score:  score,
	}
}

func TestAssemble_Empty(t *testing.T) {
	b := Assemble(nil)
	assert.Equal(t, "", b.Text)
	assert.False(t, b.HasRelevantContext)
	assert.Empty(t, b.Sections)
	assert.False(t, b.Truncated)
}

func TestAssemble_SingleFact(t *testing.T) {
	b := Assemble([]memory.ScoredRecord{scored(memory.TypeFact, "case_number", "CR-2024-0099", 0.93)})
	assert.Equal(t, "CASE FACTS:\n- case_number: CR-2024-0099", b.Text)
	assert.True(t, b.HasRelevantContext)
	require.Len(t, b.Sections, 1)
	assert.Equal(t, "CASE FACTS", b.Sections[0].Heading)
}

func TestAssemble_SectionOrder(t *testing.T) {
	matches := []memory.ScoredRecord{
		scored(memory.TypeConversation, "last_call", "discussed settlement", 0.95),
		scored(memory.TypeFact, "court", "SDNY", 0.9),
		scored(memory.TypePreference, "salutation", "", 0.85),
		scored(memory.TypeFact, "judge", "Hon. Smith", 0.8),
		scored(memory.TypePattern, "reviews", "asks for redlines", 0.75),
		scored(memory.TypeCaseContext, "posture", "motion to dismiss pending", 0.74),
		scored(memory.TypeCommunicationStyle, "tone", "formal", 0.72),
	}
	want := strings.Join([]string{
		"USER PREFERENCES:\n- salutation",
		"CASE FACTS:\n- court: SDNY\n- judge: Hon. Smith",
		"CASE CONTEXT:\n- posture: motion to dismiss pending",
		"BEHAVIORAL PATTERNS:\n- reviews: asks for redlines",
		"COMMUNICATION STYLE:\n- tone: formal",
		"PRIOR CONVERSATION EXCERPTS:\n- last_call: discussed settlement",
	}, "\n\n")

	b := Assemble(matches)
	assert.Equal(t, want, b.Text)
	assert.Len(t, b.Sections, 6)
	assert.False(t, b.Truncated)
}

func TestAssemble_SkipsUnknownTypes(t *testing.T) {
	b := Assemble([]memory.ScoredRecord{scored("opinion", "k", "v", 0.9)})
	assert.False(t, b.HasRelevantContext)
}

func TestAssemble_KeepsLinesSingle(t *testing.T) {
	b := Assemble([]memory.ScoredRecord{scored(memory.TypeFact, "note", "first line\nsecond  line", 0.9)})
	assert.Equal(t, "CASE FACTS:\n- note: first line second line", b.Text)
}

func TestAssembleWithLimit_Truncates(t *testing.T) {
	matches := []memory.ScoredRecord{
		scored(memory.TypeFact, "court", "SDNY", 0.9),
		scored(memory.TypeFact, "judge", "Hon. Smith", 0.8),
		scored(memory.TypePattern, "reviews", "asks for redlines", 0.75),
	}
	first := "CASE FACTS:\n- court: SDNY"

	b := AssembleWithLimit(matches, utf8.RuneCountInString(first)+3)
	assert.Equal(t, first, b.Text)
	assert.True(t, b.Truncated)
	require.Len(t, b.Sections, 1)
	assert.Equal(t, []string{"- court: SDNY"}, b.Sections[0].Lines)

	b = AssembleWithLimit(matches, 5)
	assert.Equal(t, "", b.Text)
	assert.False(t, b.HasRelevantContext)
	assert.True(t, b.Truncated)

	b = AssembleWithLimit(matches, 0)
	assert.False(t, b.Truncated)
	assert.Len(t, b.Sections, 2)
}

func TestAssemble_DefaultLimit(t *testing.T) {
	var matches []memory.ScoredRecord
	for i := 0; i < 200; i++ {
		matches = append(matches, scored(memory.TypeFact, "exhibit", strings.Repeat("x", 40), 0.9))
	}
	b := Assemble(matches)
	assert.True(t, b.Truncated)
	assert.LessOrEqual(t, utf8.RuneCountInString(b.Text), DefaultMaxChars)
}

func TestHeading(t *testing.T) {
	assert.Equal(t, "CASE CONTEXT", Heading(memory.TypeCaseContext))
	assert.Equal(t, "", Heading("opinion"))
}
