package presets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"admission-gateway/middleware/ratelimit/domain"
)

func TestRegistry_BuiltIns(t *testing.T) {
	r := NewRegistry()

	cases := map[string]domain.Quota{
		"standard": {MaxRequests: 60, WindowMs: 60_000},
		"strict":   {MaxRequests: 10, WindowMs: 60_000},
		"public":   {MaxRequests: 100, WindowMs: 60_000},
		"webhook":  {MaxRequests: 1000, WindowMs: 60_000},
	}
	for name, want := range cases {
		got, err := r.Get(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	assert.Equal(t, []string{"public", "standard", "strict", "webhook"}, r.Names())
	assert.Equal(t, Strict, r.MustGet(" STRICT "))
}

func TestRegistry_Unknown(t *testing.T) {
	r := NewRegistry()

	_, err := r.Get("nope")
	assert.ErrorIs(t, err, ErrUnknownPreset)
	assert.Panics(t, func() { r.MustGet("nope") })
}

func TestRegistry_RegisterValidates(t *testing.T) {
	r := NewRegistry()

	assert.ErrorIs(t, r.Register("bad", domain.Quota{MaxRequests: 0, WindowMs: 1}), domain.ErrInvalidQuota)
	assert.Error(t, r.Register("  ", domain.Quota{MaxRequests: 1, WindowMs: 1}))

	require.NoError(t, r.Register("Login", domain.Quota{MaxRequests: 5, WindowMs: 900_000}))
	assert.Equal(t, domain.Quota{MaxRequests: 5, WindowMs: 900_000}, r.MustGet("login"))
}

func TestRegistry_LoadYAML(t *testing.T) {
	r := NewRegistry()
	doc := `
strict:
  maxRequests: 5
  windowMs: 30000
uploads:
  maxRequests: 2
  windowMs: 1000
`
	require.NoError(t, r.LoadYAML(strings.NewReader(doc)))

	assert.Equal(t, domain.Quota{MaxRequests: 5, WindowMs: 30_000}, r.MustGet("strict"))
	assert.Equal(t, domain.Quota{MaxRequests: 2, WindowMs: 1000}, r.MustGet("uploads"))
	assert.Equal(t, Standard, r.MustGet("standard"))
}

func TestRegistry_LoadYAMLIsAllOrNothing(t *testing.T) {
	r := NewRegistry()
	doc := `
aaa:
  maxRequests: 1
  windowMs: 1000
strict:
  maxRequests: 0
  windowMs: 1000
`
	err := r.LoadYAML(strings.NewReader(doc))
	assert.ErrorIs(t, err, domain.ErrInvalidQuota)

	_, err = r.Get("aaa")
	assert.ErrorIs(t, err, ErrUnknownPreset)
	assert.Equal(t, Strict, r.MustGet("strict"))
}

func TestRegistry_LoadYAMLEmpty(t *testing.T) {
	assert.NoError(t, NewRegistry().LoadYAML(strings.NewReader("")))
}

func TestRegistry_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.yaml")
	require.NoError(t, os.WriteFile(path, []byte("public: {maxRequests: 7, windowMs: 7000}\n"), 0o600))

	r := NewRegistry()
	require.NoError(t, r.LoadFile(path))
	assert.Equal(t, domain.Quota{MaxRequests: 7, WindowMs: 7000}, r.MustGet("public"))

	assert.Error(t, r.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")))
}
