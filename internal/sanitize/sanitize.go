// Package sanitize provides identifier sanitization for vector store
// namespaces and validation of caller-supplied tenant ids.
//
// Namespace names must match ^[a-z0-9_]{1,64}$ in every supported backend.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxIdentifierLength is the maximum length of a namespace name.
	MaxIdentifierLength = 64

	// hashSuffixLength is len("_") + 8 hex chars.
	hashSuffixLength = 9

	// DefaultIdentifier is used when sanitization produces an empty result.
	DefaultIdentifier = "default"

	// MaxTenantIDLength bounds raw tenant ids accepted at the boundary.
	MaxTenantIDLength = 256
)

// ErrInvalidTenantID indicates the tenant id cannot be used.
var ErrInvalidTenantID = errors.New("invalid tenant ID")

var identifierPattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// Identifier lowercases s, replaces anything outside [a-z0-9_] with an
// underscore, collapses and trims underscores, and bounds the result to
// max bytes (MaxIdentifierLength when max is out of range). Over-long
// results are truncated with a hash suffix so distinct inputs stay distinct.
//
//	"Acme Legal LLP"   -> "acme_legal_llp"
//	"user@example.com" -> "user_example_com"
//	"" or "!!!"        -> "default"
func Identifier(s string, max int) string {
	if max <= hashSuffixLength || max > MaxIdentifierLength {
		max = MaxIdentifierLength
	}
	if s == "" {
		return DefaultIdentifier
	}

	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}

	sanitized := strings.Trim(b.String(), "_")
	if sanitized == "" {
		return DefaultIdentifier
	}
	if len(sanitized) > max {
		sanitized = truncateWithHash(sanitized, max)
	}
	return sanitized
}

// truncateWithHash returns <prefix>_<8 hex sha256> of total length <= max.
func truncateWithHash(s string, max int) string {
	sum := sha256.Sum256([]byte(s))
	suffix := "_" + hex.EncodeToString(sum[:])[:8]
	base := strings.TrimRight(s[:max-hashSuffixLength], "_")
	return base + suffix
}

// IsIdentifier reports whether s is a valid namespace name.
func IsIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// ValidateTenantID checks a raw tenant id before it is used to derive a
// namespace or filter. Tenant ids are opaque strings: any printable UTF-8
// is accepted.
func ValidateTenantID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTenantID)
	}
	if len(id) > MaxTenantIDLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidTenantID, MaxTenantIDLength)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidTenantID)
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: contains control characters", ErrInvalidTenantID)
		}
	}
	return nil
}
