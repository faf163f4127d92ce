// Package contextblock renders retrieved memories into a plain-text block
// for prompt augmentation.
package contextblock

import (
	"strings"
	"unicode/utf8"

	"github.com/lexcounsel/memengine/internal/memory"
)

// DefaultMaxChars bounds a block when no limit is given.
const DefaultMaxChars = 4000

// headings maps each memory type to its section heading, in render order.
var headings = []struct {
	typ     memory.Type
	heading string
}{
	{memory.TypePreference, "USER PREFERENCES"},
	{memory.TypeFact, "CASE FACTS"},
	{memory.TypeCaseContext, "CASE CONTEXT"},
	{memory.TypePattern, "BEHAVIORAL PATTERNS"},
	{memory.TypeCommunicationStyle, "COMMUNICATION STYLE"},
	{memory.TypeConversation, "PRIOR CONVERSATION EXCERPTS"},
}

// Heading returns the section heading for t, or "" for an unknown type.
func Heading(t memory.Type) string {
	for _, h := range headings {
		if h.typ == t {
			return h.heading
		}
	}
	return ""
}

// Section is one rendered group of memories.
type Section struct {
	Type    memory.Type
	Heading string
	Lines   []string
}

// Block is the assembled context.
type Block struct {
	Text               string
	HasRelevantContext bool
	Sections           []Section
	// Truncated is set when lines were dropped to respect the limit.
	Truncated bool
}

// Assemble renders matches with DefaultMaxChars.
func Assemble(matches []memory.ScoredRecord) Block {
	return AssembleWithLimit(matches, DefaultMaxChars)
}

// AssembleWithLimit renders matches grouped by type. Each section is
//
//	HEADING:
//	- key: value
//
// with sections separated by a blank line and empty sections omitted.
// Within a section, lines keep the order of matches. Once the next line
// would push the block past maxChars runes, it and every later line are
// dropped. maxChars <= 0 disables the bound.
func AssembleWithLimit(matches []memory.ScoredRecord, maxChars int) Block {
	grouped := make(map[memory.Type][]string, len(headings))
	for _, m := range matches {
		if Heading(m.Type) == "" {
			continue
		}
		grouped[m.Type] = append(grouped[m.Type], line(m.Record))
	}

	var (
		b     strings.Builder
		block Block
		used  int
	)
	for _, h := range headings {
		lines := grouped[h.typ]
		if len(lines) == 0 || block.Truncated {
			continue
		}
		sec := Section{Type: h.typ, Heading: h.heading}
		for _, l := range lines {
			var piece string
			if len(sec.Lines) == 0 {
				if len(block.Sections) > 0 {
					piece = "\n\n"
				}
				piece += h.heading + ":\n" + l
			} else {
				piece = "\n" + l
			}
			n := utf8.RuneCountInString(piece)
			if maxChars > 0 && used+n > maxChars {
				block.Truncated = true
				break
			}
			b.WriteString(piece)
			used += n
			sec.Lines = append(sec.Lines, l)
		}
		if len(sec.Lines) > 0 {
			block.Sections = append(block.Sections, sec)
		}
	}

	block.Text = b.String()
	block.HasRelevantContext = block.Text != ""
	return block
}

func line(r memory.Record) string {
	key := flatten(r.KeyText)
	if v := flatten(r.ValueText); v != "" {
		return "- " + key + ": " + v
	}
	return "- " + key
}

// flatten keeps each memory on a single line.
func flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
