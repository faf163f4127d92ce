package vectorstore

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var namespacePattern = regexp.MustCompile(`^tenant_[a-z0-9_]{1,40}_[0-9a-f]{12}$`)

func TestResolveNamespace(t *testing.T) {
	tests := []struct {
		name     string
		tenant   string
		readable string
	}{
		{"simple", "acme", "acme"},
		{"mixed case and punctuation", "Acme Legal, LLP", "acme_legal_llp"},
		{"email", "ops@firm.example", "ops_firm_example"},
		{"unicode", "Müller & Söhne", "m_ller_s_hne"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ns, err := ResolveNamespace(tt.tenant)
			require.NoError(t, err)
			assert.Regexp(t, namespacePattern, ns)
			assert.Contains(t, ns, "tenant_"+tt.readable+"_")
			assert.LessOrEqual(t, len(ns), 64)

			again, err := ResolveNamespace(tt.tenant)
			require.NoError(t, err)
			assert.Equal(t, ns, again, "namespace must be deterministic")
		})
	}
}

func TestResolveNamespace_CollidingSanitizationStaysDistinct(t *testing.T) {
	a, err := ResolveNamespace("Acme-Legal")
	require.NoError(t, err)
	b, err := ResolveNamespace("acme legal")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Equal(t, a[:len(a)-12], b[:len(b)-12], "readable prefix is shared")
}

func TestResolveNamespace_LongTenant(t *testing.T) {
	long := "tenant-with-a-very-long-identifier-that-keeps-going-and-going-forever"
	ns, err := ResolveNamespace(long)
	require.NoError(t, err)
	assert.Regexp(t, namespacePattern, ns)
	assert.LessOrEqual(t, len(ns), 64)
}

func TestResolveNamespace_Invalid(t *testing.T) {
	for _, tenant := range []string{"", "   ", "bad\x00tenant"} {
		_, err := ResolveNamespace(tenant)
		assert.ErrorIs(t, err, ErrInvalidTenant, "tenant %q", tenant)
	}
}
