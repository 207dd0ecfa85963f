package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dredger/internal/config"
)

func newTestRules(t *testing.T) *Rules {
	t.Helper()
	rules, err := NewRules(config.Default().Filter)
	require.NoError(t, err)
	return rules
}

func TestRejectTable(t *testing.T) {
	rules := newTestRules(t)

	tests := []struct {
		url    string
		reject bool
		detail string
	}{
		// Plausible single recipes pass.
		{"https://blog.test/thai-green-curry", false, ""},
		{"https://blog.test/recipes/braised-short-ribs/", false, ""},
		{"https://blog.test/best-ever-banana-bread", false, ""},

		// Listicles and roundups.
		{"https://blog.test/10-best-soups-for-winter", true, "listicle"},
		{"https://blog.test/best-10-soups", true, "listicle"},
		{"https://blog.test/25-easy-weeknight-dinners", true, "listicle"},
		{"https://blog.test/holiday-cookie-roundup", true, "keyword"},
		{"https://blog.test/stand-mixer-review", true, "keyword"},
		{"https://blog.test/spring-giveaway", true, "keyword"},

		// Site sections.
		{"https://blog.test/travel/paris-food-tour", true, "section"},
		{"https://blog.test/travel-to-rome", true, "section"},
		{"https://blog.test/about", true, "section"},
		{"https://blog.test/press/awards", true, "section"},
		{"https://blog.test/pressure-cooker-stew", false, ""},

		// Taxonomy and pagination paths.
		{"https://blog.test/tag/dessert/", true, "taxonomy"},
		{"https://blog.test/category/mains/lasagna", true, "taxonomy"},
		{"https://blog.test/page/4/", true, "taxonomy"},
		{"https://blog.test/author/jane", true, "taxonomy"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			detail, rejected := rules.Reject(tt.url)
			assert.Equal(t, tt.reject, rejected, "detail: %s", detail)
			if tt.reject {
				assert.Contains(t, detail, tt.detail)
			}
		})
	}
}

func TestRejectIsCaseInsensitive(t *testing.T) {
	rules := newTestRules(t)

	_, rejected := rules.Reject("https://blog.test/10-BEST-Soups")
	assert.True(t, rejected)

	_, rejected = rules.Reject("https://blog.test/Travel/rome")
	assert.True(t, rejected)
}

func TestRejectUnparseableURL(t *testing.T) {
	rules := newTestRules(t)
	detail, rejected := rules.Reject("http://bad url\x7f")
	assert.True(t, rejected)
	assert.Equal(t, "unparseable url", detail)
}

func TestNewRulesBadPattern(t *testing.T) {
	_, err := NewRules(config.FilterConfig{ListiclePatterns: []string{"("}})
	require.Error(t, err)
}

func TestEmptyRulesAcceptEverything(t *testing.T) {
	rules, err := NewRules(config.FilterConfig{})
	require.NoError(t, err)
	_, rejected := rules.Reject("https://blog.test/10-best-soups")
	assert.False(t, rejected)
}
