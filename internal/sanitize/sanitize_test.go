package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentifier(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"simple", "t1", 40, "t1"},
		{"uppercase and spaces", "Acme Legal LLP", 40, "acme_legal_llp"},
		{"email", "user@example.com", 40, "user_example_com"},
		{"collapses runs", "a--__--b", 40, "a_b"},
		{"trims", "__x__", 40, "x"},
		{"empty", "", 40, DefaultIdentifier},
		{"only symbols", "!!!", 40, DefaultIdentifier},
		{"unicode", "café", 40, "caf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Identifier(tt.in, tt.max))
		})
	}
}

func TestIdentifier_Truncation(t *testing.T) {
	a := Identifier(strings.Repeat("a", 100)+"x", 40)
	b := Identifier(strings.Repeat("a", 100)+"y", 40)

	assert.LessOrEqual(t, len(a), 40)
	assert.LessOrEqual(t, len(b), 40)
	assert.NotEqual(t, a, b)
	assert.True(t, IsIdentifier(a))
}

func TestIdentifier_MaxOutOfRange(t *testing.T) {
	got := Identifier(strings.Repeat("z", 200), 0)
	assert.Len(t, got, MaxIdentifierLength)
	assert.True(t, IsIdentifier(got))
}

func TestValidateTenantID(t *testing.T) {
	require.NoError(t, ValidateTenantID("t1"))
	require.NoError(t, ValidateTenantID("Firm/Partner: Smith & Co"))

	for _, bad := range []string{"", "   ", "a\x00b", strings.Repeat("x", MaxTenantIDLength+1), "\xff\xfe"} {
		err := ValidateTenantID(bad)
		require.Error(t, err, "%q", bad)
		assert.ErrorIs(t, err, ErrInvalidTenantID)
	}
}
