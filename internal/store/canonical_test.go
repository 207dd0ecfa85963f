package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases scheme and host", "HTTPS://Blog.Test/Soup", "https://blog.test/Soup"},
		{"strips trailing slash", "https://blog.test/soup/", "https://blog.test/soup"},
		{"strips default https port", "https://blog.test:443/soup", "https://blog.test/soup"},
		{"strips default http port", "http://blog.test:80/soup", "http://blog.test/soup"},
		{"keeps explicit port", "https://blog.test:8443/soup", "https://blog.test:8443/soup"},
		{"drops fragment", "https://blog.test/soup#comments", "https://blog.test/soup"},
		{"drops utm params", "https://blog.test/soup?utm_source=x&utm_medium=y", "https://blog.test/soup"},
		{"drops tracking params", "https://blog.test/soup?fbclid=abc&gclid=def", "https://blog.test/soup"},
		{"keeps real params sorted", "https://blog.test/soup?b=2&a=1&utm_campaign=z", "https://blog.test/soup?a=1&b=2"},
		{"trims whitespace", "  https://blog.test/soup  ", "https://blog.test/soup"},
		{"bare host", "https://blog.test/", "https://blog.test"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonicalize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanonicalizeEquivalentFormsCollide(t *testing.T) {
	a, err := Canonicalize("https://Blog.Test/soup/?utm_source=feed")
	require.NoError(t, err)
	b, err := Canonicalize("https://blog.test/soup")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCanonicalizeErrors(t *testing.T) {
	_, err := Canonicalize("/relative/path")
	require.Error(t, err)

	_, err = Canonicalize("http://bad url\x7f")
	require.Error(t, err)
}
