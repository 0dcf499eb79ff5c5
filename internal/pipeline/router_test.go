package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterResolvesAndFallsBack(t *testing.T) {
	r := NewRouter(map[string]string{"openai": "a", "http": "b"}, "openai")

	got, err := r.Route("http")
	require.NoError(t, err)
	assert.Equal(t, "b", got)

	got, err = r.Route("unknown")
	require.NoError(t, err)
	assert.Equal(t, "a", got)

	assert.True(t, r.Has("http"))
	assert.False(t, r.Has("unknown"))
	assert.Equal(t, []string{"http", "openai"}, r.Engines())
}

func TestRouterWithoutFallback(t *testing.T) {
	r := NewRouter[string](nil, "missing")

	_, err := r.Route("x")
	assert.ErrorIs(t, err, ErrNoBackend)
	assert.Empty(t, r.Engines())
}
