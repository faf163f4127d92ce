// Package secrets redacts credentials from memory text before it is
// embedded and stored. Findings carry rule ids and counts, never values.
package secrets

import (
	"fmt"
	"regexp"
	"sort"
)

// DefaultRedaction replaces every detected secret.
const DefaultRedaction = "[REDACTED]"

// Config configures a Scrubber.
type Config struct {
	Enabled   bool     `koanf:"enabled"`
	Rules     []Rule   `koanf:"rules"`
	Redaction string   `koanf:"redaction"`
	AllowList []string `koanf:"allow_list"`
}

// DefaultConfig enables DefaultRules.
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Rules:     DefaultRules(),
		Redaction: DefaultRedaction,
	}
}

// Result is the outcome of scrubbing one text.
type Result struct {
	Text   string
	ByRule map[string]int
	Total  int
}

// HasFindings reports whether anything was redacted.
func (r Result) HasFindings() bool { return r.Total > 0 }

// Scrubber redacts secrets from text.
type Scrubber interface {
	Scrub(text string) Result
	Enabled() bool
}

type scrubber struct {
	rules     []*compiledRule
	allow     []*regexp.Regexp
	redaction string
}

type span struct{ start, end int }

// New compiles cfg into a Scrubber. A nil cfg uses DefaultConfig; a
// disabled cfg yields a scrubber that returns text unchanged.
func New(cfg *Config) (Scrubber, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if !cfg.Enabled {
		return Noop{}, nil
	}

	s := &scrubber{redaction: cfg.Redaction}
	if s.redaction == "" {
		s.redaction = DefaultRedaction
	}
	for _, r := range cfg.Rules {
		cr, err := r.compile()
		if err != nil {
			return nil, err
		}
		s.rules = append(s.rules, cr)
	}
	for i, p := range cfg.AllowList {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("allow_list %d: invalid pattern: %w", i, err)
		}
		s.allow = append(s.allow, re)
	}
	return s, nil
}

// MustNew is New that panics on an invalid config.
func MustNew(cfg *Config) Scrubber {
	s, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *scrubber) Enabled() bool { return true }

func (s *scrubber) Scrub(text string) Result {
	res := Result{Text: text, ByRule: map[string]int{}}
	if text == "" {
		return res
	}

	var spans []span
	for _, rule := range s.rules {
		if !rule.applies(text) {
			continue
		}
		for _, m := range rule.pattern.FindAllStringIndex(text, -1) {
			if s.allowed(text[m[0]:m[1]]) {
				continue
			}
			spans = append(spans, span{m[0], m[1]})
			res.ByRule[rule.id]++
			res.Total++
		}
	}
	if len(spans) == 0 {
		return res
	}

	merged := mergeSpans(spans)
	out := make([]byte, 0, len(text))
	prev := 0
	for _, sp := range merged {
		out = append(out, text[prev:sp.start]...)
		out = append(out, s.redaction...)
		prev = sp.end
	}
	out = append(out, text[prev:]...)
	res.Text = string(out)
	return res
}

func (s *scrubber) allowed(match string) bool {
	for _, re := range s.allow {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}

// mergeSpans sorts spans and merges overlapping or touching ones.
func mergeSpans(spans []span) []span {
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	merged := []span{spans[0]}
	for _, cur := range spans[1:] {
		last := &merged[len(merged)-1]
		if cur.start <= last.end {
			if cur.end > last.end {
				last.end = cur.end
			}
			continue
		}
		merged = append(merged, cur)
	}
	return merged
}

// Noop returns text unchanged.
type Noop struct{}

func (Noop) Scrub(text string) Result {
	return Result{Text: text, ByRule: map[string]int{}}
}

func (Noop) Enabled() bool { return false }

var (
	_ Scrubber = (*scrubber)(nil)
	_ Scrubber = Noop{}
)
