// Package filter implements the paranoid-mode quick reject: cheap,
// network-free URL heuristics that eliminate obvious non-recipe pages
// before any fetch.
package filter

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"dredger/internal/config"
)

// Rules holds the compiled rejection tables.
type Rules struct {
	listicle []*regexp.Regexp
	keywords []string
	sections []string
	taxonomy []string
}

// NewRules compiles the configured rule tables.
func NewRules(cfg config.FilterConfig) (*Rules, error) {
	listicle := make([]*regexp.Regexp, 0, len(cfg.ListiclePatterns))
	for _, raw := range cfg.ListiclePatterns {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		pat, err := regexp.Compile("(?i)" + raw)
		if err != nil {
			return nil, fmt.Errorf("invalid listicle pattern %q: %w", raw, err)
		}
		listicle = append(listicle, pat)
	}
	return &Rules{
		listicle: listicle,
		keywords: cfg.BadKeywords,
		sections: cfg.SkipSections,
		taxonomy: cfg.TaxonomyPaths,
	}, nil
}

// Reject reports whether the URL should be skipped without fetching, and
// a short detail string for logging. Pure and synchronous.
func (r *Rules) Reject(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "unparseable url", true
	}
	path := strings.ToLower(u.Path)
	slug := lastSegment(path)

	for _, pat := range r.listicle {
		if pat.MatchString(slug) {
			return "listicle: " + slug, true
		}
	}
	for _, kw := range r.keywords {
		if strings.Contains(slug, kw) {
			return "keyword: " + kw, true
		}
	}
	for _, section := range r.sections {
		if pathHasSegment(path, section) || slug == section || strings.HasPrefix(slug, section+"-") {
			return "section: " + section, true
		}
	}
	for _, prefix := range r.taxonomy {
		if strings.Contains(path, prefix) {
			return "taxonomy: " + prefix, true
		}
	}
	return "", false
}

func lastSegment(path string) string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return ""
	}
	parts := strings.Split(trimmed, "/")
	return parts[len(parts)-1]
}

// pathHasSegment matches a whole path segment, so "press" rejects
// /press/awards but not /pressure-cooker-stew.
func pathHasSegment(path, segment string) bool {
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		if part == segment {
			return true
		}
	}
	return false
}
