package memory

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"
)

const (
	idRandomLen = 9
	base36      = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// generatedIDSuffix matches the "-<unixMillis>-<random>" tail of NewID.
var generatedIDSuffix = regexp.MustCompile(`-[0-9]+-[0-9a-z]{9}$`)

// NewID returns "{tenantID}-{unixMillis}-{9 random base36 chars}".
func NewID(tenantID string, now time.Time) (string, error) {
	var b strings.Builder
	b.Grow(idRandomLen)
	max := big.NewInt(int64(len(base36)))
	for i := 0; i < idRandomLen; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generating memory id: %w", err)
		}
		b.WriteByte(base36[n.Int64()])
	}
	return fmt.Sprintf("%s-%d-%s", tenantID, now.UnixMilli(), b.String()), nil
}

// idOwner returns the tenant encoded in a generated id.
func idOwner(id string) (string, bool) {
	loc := generatedIDSuffix.FindStringIndex(id)
	if loc == nil || loc[0] == 0 {
		return "", false
	}
	return id[:loc[0]], true
}

// truncateRunes cuts s to at most max runes without splitting a UTF-8
// sequence.
func truncateRunes(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
