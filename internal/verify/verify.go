// Package verify classifies fetched pages as recipes by inspecting their
// markup. It never fetches; the orchestrator hands it page bodies.
package verify

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Result reports the verification outcome and which signal matched.
type Result struct {
	IsRecipe bool
	Signal   string
}

// Verifier inspects page bodies for recipe signals: Schema.org Recipe
// markup in JSON-LD or microdata form, or known recipe-plugin class names.
type Verifier struct {
	pluginClasses []string
}

// New constructs a verifier accepting the given plugin class signatures.
func New(pluginClasses []string) *Verifier {
	return &Verifier{pluginClasses: pluginClasses}
}

var rawProbes = [][]byte{
	[]byte(`"@type":"Recipe"`),
	[]byte(`"@type": "Recipe"`),
}

// Verify inspects body and returns on the first matching signal. A parse
// failure yields an error the caller records as a verify-error rejection.
func (v *Verifier) Verify(body []byte) (Result, error) {
	// Raw byte probe first: most recipe pages embed JSON-LD verbatim, so
	// this answers without a DOM parse.
	for _, probe := range rawProbes {
		if bytes.Contains(body, probe) {
			return Result{IsRecipe: true, Signal: "json-ld"}, nil
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}

	found := false
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if jsonLDHasRecipe(s.Text()) {
			found = true
			return false
		}
		return true
	})
	if found {
		return Result{IsRecipe: true, Signal: "json-ld"}, nil
	}

	if doc.Find(`[itemtype*="schema.org/Recipe"]`).Length() > 0 {
		return Result{IsRecipe: true, Signal: "microdata"}, nil
	}

	signal := ""
	doc.Find("[class]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		class, _ := s.Attr("class")
		for _, plugin := range v.pluginClasses {
			if strings.Contains(class, plugin) {
				signal = "plugin:" + plugin
				return false
			}
		}
		return true
	})
	if signal != "" {
		return Result{IsRecipe: true, Signal: signal}, nil
	}

	return Result{}, nil
}

// jsonLDHasRecipe decodes a JSON-LD block and walks it for a Recipe
// @type, covering plain objects, arrays, and @graph containers.
func jsonLDHasRecipe(raw string) bool {
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return false
	}
	return hasRecipeType(decoded)
}

func hasRecipeType(node any) bool {
	switch v := node.(type) {
	case []any:
		for _, item := range v {
			if hasRecipeType(item) {
				return true
			}
		}
	case map[string]any:
		if typeIsRecipe(v["@type"]) {
			return true
		}
		if graph, ok := v["@graph"]; ok {
			return hasRecipeType(graph)
		}
	}
	return false
}

func typeIsRecipe(t any) bool {
	switch v := t.(type) {
	case string:
		return v == "Recipe"
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s == "Recipe" {
				return true
			}
		}
	}
	return false
}
