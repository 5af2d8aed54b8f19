package institution

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultMatcher(t *testing.T) *Matcher {
	t.Helper()
	reg, err := NewRegistry(DefaultNames)
	require.NoError(t, err)
	return NewMatcher(reg, DefaultThreshold, DefaultSubstringBonus)
}

func TestTokenSetRatio(t *testing.T) {
	assert.Equal(t, 100.0, TokenSetRatio("fuzzy was a bear", "fuzzy fuzzy was a bear"))
	assert.Equal(t, 100.0, TokenSetRatio("jntu hyderabad", "jntu hyderabad name ravi kumar"))
	assert.Equal(t, 100.0, TokenSetRatio("bear was fuzzy", "fuzzy was bear"))
	assert.Zero(t, TokenSetRatio("", "anything"))
	assert.Zero(t, TokenSetRatio("anything", "   "))
	assert.InDelta(t, 66.6667, TokenSetRatio("abc", "abd"), 1e-3)
	// Shared "jntu"; differences "hyderabad" vs "hyd".
	assert.InDelta(t, 72.7273, TokenSetRatio("jntu hyderabad", "jntu hyd"), 1e-3)
}

func TestTokenSetRatioIsSymmetric(t *testing.T) {
	pairs := [][2]string{
		{"nit warangal", "iit bombay"},
		{"jntu hyderabad", "jntu hyd"},
		{"indian institute", "institute of technology bombay"},
	}
	for _, p := range pairs {
		assert.InDelta(t, TokenSetRatio(p[0], p[1]), TokenSetRatio(p[1], p[0]), 1e-9, p)
	}
}

func TestIndelDistance(t *testing.T) {
	assert.Equal(t, 0, indelDistance("same", "same"))
	assert.Equal(t, 2, indelDistance("abc", "abd"))
	assert.Equal(t, 6, indelDistance("hyderabad", "hyd"))
	assert.Equal(t, 4, indelDistance("", "abcd"))
}

func TestMatchFullCardText(t *testing.T) {
	m := defaultMatcher(t).Match("jntu hyderabad name ravi kumar roll no 21b81a0512 btech cse")
	assert.True(t, m.Found)
	assert.Equal(t, "JNTU Hyderabad", m.Name)
}

func TestMatchTruncatedCaptureGetsBonus(t *testing.T) {
	m := defaultMatcher(t).Match("  JNTU Hyd ")
	require.True(t, m.Found)
	assert.Equal(t, "JNTU Hyderabad", m.Name)
	assert.InDelta(t, 82.7273, m.Score, 1e-3)
}

func TestMatchNotFound(t *testing.T) {
	m := defaultMatcher(t).Match("state bank of india debit card")
	assert.False(t, m.Found)
	assert.Empty(t, m.Name)
}

func TestMatchTiesKeepFirstEntry(t *testing.T) {
	reg, err := NewRegistry([]string{"Alpha College", "Beta College"})
	require.NoError(t, err)
	m := NewMatcher(reg, 50, 0).Match("college")
	require.True(t, m.Found)
	assert.Equal(t, "Alpha College", m.Name)
}

func TestNewRegistryDedupes(t *testing.T) {
	reg, err := NewRegistry([]string{"IIT Bombay", " iit bombay ", "", "NIT Warangal"})
	require.NoError(t, err)
	assert.Equal(t, []string{"IIT Bombay", "NIT Warangal"}, reg.Names())

	_, err = NewRegistry([]string{" "})
	assert.Error(t, err)
}

func TestLoadRegistryFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "institutions.yaml")
	require.NoError(t, os.WriteFile(path, []byte("institutions:\n  - Osmania University\n  - IIT Bombay\n"), 0o600))

	reg, err := LoadRegistryFile(path, []string{"IIT Bombay"})
	require.NoError(t, err)
	assert.Equal(t, []string{"IIT Bombay", "Osmania University"}, reg.Names())

	_, err = LoadRegistryFile(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}
