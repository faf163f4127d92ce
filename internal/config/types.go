package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Duration decodes from Go duration strings ("250ms", "1m30s"). An empty
// string or "0" is zero; negative values are rejected.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" || s == "0" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	if parsed < 0 {
		return fmt.Errorf("duration %q: must not be negative", s)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

// Duration returns d as a time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Secret is a credential read from config or the environment. Every
// formatting and encoding path prints a mask; only Value returns the text.
type Secret string

const mask = "[REDACTED]"

// Value returns the raw credential.
func (s Secret) Value() string { return string(s) }

// IsSet reports whether a credential was configured.
func (s Secret) IsSet() bool { return s != "" }

func (s Secret) masked() string {
	if s == "" {
		return ""
	}
	return mask
}

func (s Secret) String() string { return s.masked() }

// Format covers every fmt verb, %#v and %q included.
func (s Secret) Format(f fmt.State, verb rune) {
	switch verb {
	case 'q':
		fmt.Fprintf(f, "%q", s.masked())
	default:
		if verb == 'v' && f.Flag('#') {
			fmt.Fprint(f, "config.Secret("+mask+")")
			return
		}
		fmt.Fprint(f, s.masked())
	}
}

func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(s.masked()) }

func (s Secret) MarshalText() ([]byte, error) { return []byte(s.masked()), nil }

func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(strings.TrimSpace(string(text)))
	return nil
}
