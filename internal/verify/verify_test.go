package verify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dredger/internal/config"
)

func newTestVerifier() *Verifier {
	return New(config.Default().Verify.PluginClasses)
}

func TestVerifyJSONLDRawProbe(t *testing.T) {
	body := []byte(`<html><head><script type="application/ld+json">
		{"@context":"https://schema.org","@type":"Recipe","name":"Pho"}
	</script></head><body></body></html>`)

	res, err := newTestVerifier().Verify(body)
	require.NoError(t, err)
	assert.True(t, res.IsRecipe)
	assert.Equal(t, "json-ld", res.Signal)
}

func TestVerifyJSONLDGraph(t *testing.T) {
	// No verbatim `"@type":"Recipe"` token: spacing defeats the raw probe,
	// so this exercises the parsed JSON-LD walk through @graph.
	body := []byte(`<html><head><script type="application/ld+json">
	{
		"@context": "https://schema.org",
		"@graph": [
			{"@type" : "WebPage", "name": "Pho"},
			{"@type" : ["Recipe", "Article"], "name": "Pho"}
		]
	}
	</script></head><body></body></html>`)

	res, err := newTestVerifier().Verify(body)
	require.NoError(t, err)
	assert.True(t, res.IsRecipe)
	assert.Equal(t, "json-ld", res.Signal)
}

func TestVerifyMicrodata(t *testing.T) {
	body := []byte(`<html><body>
		<div itemscope itemtype="https://schema.org/Recipe"><h1>Pho</h1></div>
	</body></html>`)

	res, err := newTestVerifier().Verify(body)
	require.NoError(t, err)
	assert.True(t, res.IsRecipe)
	assert.Equal(t, "microdata", res.Signal)
}

func TestVerifyPluginClass(t *testing.T) {
	body := []byte(`<html><body>
		<div class="wprm-container wp-recipe-maker">Ingredients</div>
	</body></html>`)

	res, err := newTestVerifier().Verify(body)
	require.NoError(t, err)
	assert.True(t, res.IsRecipe)
	assert.Equal(t, "plugin:wp-recipe-maker", res.Signal)
}

func TestVerifyRejectsNonRecipePage(t *testing.T) {
	body := []byte(`<html><head><script type="application/ld+json">
	{"@type" : "Article", "headline": "My trip to Rome"}
	</script></head><body><div class="entry-content"><p>words</p></div></body></html>`)

	res, err := newTestVerifier().Verify(body)
	require.NoError(t, err)
	assert.False(t, res.IsRecipe)
	assert.Empty(t, res.Signal)
}

func TestVerifyIgnoresMalformedJSONLD(t *testing.T) {
	body := []byte(`<html><head><script type="application/ld+json">
	{"@type" : "Recipe", broken
	</script></head><body></body></html>`)

	res, err := newTestVerifier().Verify(body)
	require.NoError(t, err)
	assert.False(t, res.IsRecipe)
}
