package logging

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below Debug and carries per-vector and per-chunk detail.
const TraceLevel = zapcore.Level(-2)

// maxPatternLen bounds operator-supplied redaction expressions.
const maxPatternLen = 200

// Config describes how a Logger encodes and filters entries.
type Config struct {
	Level  zapcore.Level     `koanf:"level"`
	Format string            `koanf:"format"` // json | console
	Caller bool              `koanf:"caller"`
	Fields map[string]string `koanf:"fields"`

	// Sampling keeps the first SampleInitial entries per message each
	// second, then every SampleThereafter-th. Error and above bypass it.
	Sampling         bool `koanf:"sampling"`
	SampleInitial    int  `koanf:"sample_initial"`
	SampleThereafter int  `koanf:"sample_thereafter"`

	// RedactKeys are field names whose values never reach the output.
	// RedactPatterns mask any string value they match.
	RedactKeys     []string `koanf:"redact_keys"`
	RedactPatterns []string `koanf:"redact_patterns"`
}

// NewDefaultConfig returns the production configuration: JSON at info with
// credentials and raw memory text masked.
func NewDefaultConfig() *Config {
	return &Config{
		Level:            zapcore.InfoLevel,
		Format:           "json",
		Caller:           true,
		Fields:           map[string]string{"service": "memengine"},
		Sampling:         true,
		SampleInitial:    100,
		SampleThereafter: 10,
		RedactKeys: []string{
			"password", "secret", "token", "api_key", "authorization", "credential",
			"key_text", "value_text", "content", "query",
		},
		RedactPatterns: []string{
			`(?i)bearer\s+\S+`,
			`(?i)api[_-]?key[=:]\s*\S+`,
			`sk-[A-Za-z0-9_-]{20,}`,
		},
	}
}

// Validate reports every problem in c.
func (c *Config) Validate() error {
	var errs []error
	if c.Format != "json" && c.Format != "console" {
		errs = append(errs, fmt.Errorf("format must be json or console, got %q", c.Format))
	}
	if c.Sampling && (c.SampleInitial <= 0 || c.SampleThereafter <= 0) {
		errs = append(errs, errors.New("sampling requires sample_initial and sample_thereafter > 0"))
	}
	if _, err := compilePatterns(c.RedactPatterns); err != nil {
		errs = append(errs, err)
	}
	for k, v := range c.Fields {
		if k == "" || v == "" {
			errs = append(errs, fmt.Errorf("constant field %q=%q: key and value must be non-empty", k, v))
		}
	}
	return errors.Join(errs...)
}

// LevelFromString parses a zap level name or "trace", case-insensitively.
func LevelFromString(level string) (zapcore.Level, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "trace" {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if len(p) > maxPatternLen {
			return nil, fmt.Errorf("redaction pattern longer than %d chars: %q", maxPatternLen, p)
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("redaction pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}
