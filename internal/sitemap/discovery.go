package sitemap

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/temoto/robotstxt"

	"dredger/internal/fetcher"
	"dredger/pkg/types"
)

// ErrNoSitemap reports that no sitemap could be located for a site. The
// caller skips the site; the run continues.
var ErrNoSitemap = errors.New("no sitemap located")

// Fetcher is the subset of the resilient fetch client discovery needs.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, kind fetcher.Kind) ([]byte, int, error)
}

// Options bounds discovery. MaxDocuments caps the total sitemap documents
// visited per site so a circular or exploding sitemap index terminates.
type Options struct {
	UserAgent string
	// HonorDelay installs robots.txt Crawl-delay directives as per-host
	// politeness overrides.
	HonorDelay    bool
	MaxDepth      int
	MaxDocuments  int
	MaxChildren   int
	FallbackPaths []string
	JunkExts      []string
	JunkFragments []string
}

// Discovery resolves a site's sitemap and yields candidate URLs ordered
// by recency.
type Discovery struct {
	fetch   Fetcher
	limiter *fetcher.HostLimiter
	opts    Options
	logger  *slog.Logger
}

// New constructs a Discovery. The limiter may be nil in tests.
func New(f Fetcher, limiter *fetcher.HostLimiter, opts Options, logger *slog.Logger) *Discovery {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 2
	}
	if opts.MaxDocuments <= 0 {
		opts.MaxDocuments = 24
	}
	if opts.MaxChildren <= 0 {
		opts.MaxChildren = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Discovery{fetch: f, limiter: limiter, opts: opts, logger: logger}
}

// Stream is a restartable finite sequence of sitemap entries. Each call to
// Discover produces a fresh Stream starting from the most recent entries.
type Stream struct {
	entries []types.SitemapEntry
	pos     int
}

// Next yields the next entry, or false when the stream is exhausted.
func (s *Stream) Next() (types.SitemapEntry, bool) {
	if s == nil || s.pos >= len(s.entries) {
		return types.SitemapEntry{}, false
	}
	e := s.entries[s.pos]
	s.pos++
	return e, true
}

// Len reports how many entries remain in total.
func (s *Stream) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Discover resolves the site's sitemap location, expands any sitemap
// indexes, and returns entries sorted by last-modified descending, capped
// at limit. Entries without a timestamp sort oldest.
func (d *Discovery) Discover(ctx context.Context, site types.SiteSource, limit int) (*Stream, error) {
	base, err := url.Parse(site.URL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("site %q: invalid base URL", site.URL)
	}

	walk := &walkState{
		visited: make(map[string]struct{}),
		budget:  d.opts.MaxDocuments,
	}

	declared, fallbacks := d.locations(ctx, base)

	// Every robots-declared sitemap is walked; conventional paths are
	// probed one at a time only when the declarations yield nothing.
	var entries []types.SitemapEntry
	for _, loc := range declared {
		entries = append(entries, d.expand(ctx, loc, 0, walk)...)
	}
	if len(entries) == 0 {
		for _, loc := range fallbacks {
			entries = d.expand(ctx, loc, 0, walk)
			if len(entries) > 0 {
				break
			}
		}
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("site %s: %w", site.URL, ErrNoSitemap)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].LastMod.After(entries[j].LastMod)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return &Stream{entries: entries}, nil
}

// locations resolves candidate sitemap URLs: robots.txt declarations plus
// the conventional fallback paths.
func (d *Discovery) locations(ctx context.Context, base *url.URL) (declared, fallbacks []string) {
	robotsURL := base.Scheme + "://" + base.Host + "/robots.txt"
	d.wait(ctx, base.Hostname())
	body, _, err := d.fetch.Fetch(ctx, robotsURL, fetcher.KindSitemap)
	if err == nil {
		if data, perr := robotstxt.FromBytes(body); perr == nil {
			declared = append(declared, data.Sitemaps...)
			d.applyCrawlDelay(base.Hostname(), data)
		}
	} else {
		d.logger.Debug("robots.txt unavailable", "url", robotsURL, "error", err)
	}

	for _, path := range d.opts.FallbackPaths {
		fallbacks = append(fallbacks, base.Scheme+"://"+base.Host+path)
	}
	return declared, fallbacks
}

func (d *Discovery) applyCrawlDelay(host string, data *robotstxt.RobotsData) {
	if d.limiter == nil || !d.opts.HonorDelay {
		return
	}
	group := data.FindGroup(d.opts.UserAgent)
	if group == nil {
		group = data.FindGroup("*")
	}
	if group != nil && group.CrawlDelay > 0 {
		d.limiter.SetDelay(host, group.CrawlDelay)
	}
}

type walkState struct {
	visited map[string]struct{}
	budget  int
}

// take consumes one document from the walk budget, refusing revisits.
func (w *walkState) take(loc string) bool {
	if w.budget <= 0 {
		return false
	}
	if _, seen := w.visited[loc]; seen {
		return false
	}
	w.visited[loc] = struct{}{}
	w.budget--
	return true
}

// expand fetches one sitemap document, recursing into index children.
func (d *Discovery) expand(ctx context.Context, loc string, depth int, walk *walkState) []types.SitemapEntry {
	if ctx.Err() != nil || depth > d.opts.MaxDepth {
		return nil
	}
	loc = strings.TrimSpace(loc)
	if loc == "" || !walk.take(loc) {
		return nil
	}

	parsed, err := url.Parse(loc)
	if err != nil {
		return nil
	}
	d.wait(ctx, parsed.Hostname())

	body, _, err := d.fetch.Fetch(ctx, loc, fetcher.KindSitemap)
	if err != nil {
		d.logger.Debug("sitemap fetch failed", "url", loc, "error", err)
		return nil
	}

	if children, ok := parseIndex(body); ok {
		var entries []types.SitemapEntry
		for _, child := range selectChildren(children, d.opts.MaxChildren) {
			entries = append(entries, d.expand(ctx, child, depth+1, walk)...)
		}
		return entries
	}

	leaves, ok := parseURLSet(body)
	if !ok {
		d.logger.Debug("unparseable sitemap document", "url", loc)
		return nil
	}
	return d.clean(leaves)
}

// clean drops binary assets and infrastructure paths that can never be
// recipe pages.
func (d *Discovery) clean(entries []types.SitemapEntry) []types.SitemapEntry {
	kept := entries[:0]
	for _, e := range entries {
		lower := strings.ToLower(e.URL)
		if hasAnySuffix(lower, d.opts.JunkExts) {
			continue
		}
		if containsAny(lower, d.opts.JunkFragments) {
			continue
		}
		kept = append(kept, e)
	}
	return kept
}

// selectChildren prefers post and recipe sub-sitemaps, falling back to
// document order, capped at max.
func selectChildren(children []string, max int) []string {
	preferred := make([]string, 0, len(children))
	for _, c := range children {
		lower := strings.ToLower(c)
		if strings.Contains(lower, "post") || strings.Contains(lower, "recipe") {
			preferred = append(preferred, c)
		}
	}
	if len(preferred) == 0 {
		preferred = children
	}
	if len(preferred) > max {
		preferred = preferred[:max]
	}
	return preferred
}

func (d *Discovery) wait(ctx context.Context, host string) {
	if d.limiter != nil {
		_ = d.limiter.Wait(ctx, host)
	}
}

type sitemapIndexXML struct {
	XMLName  xml.Name `xml:"sitemapindex"`
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

type urlsetXML struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []struct {
		Loc     string `xml:"loc"`
		LastMod string `xml:"lastmod"`
	} `xml:"url"`
}

func parseIndex(body []byte) ([]string, bool) {
	var idx sitemapIndexXML
	if err := xml.Unmarshal(body, &idx); err != nil {
		return nil, false
	}
	children := make([]string, 0, len(idx.Sitemaps))
	for _, s := range idx.Sitemaps {
		if loc := strings.TrimSpace(s.Loc); loc != "" {
			children = append(children, loc)
		}
	}
	return children, true
}

func parseURLSet(body []byte) ([]types.SitemapEntry, bool) {
	var set urlsetXML
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, false
	}
	entries := make([]types.SitemapEntry, 0, len(set.URLs))
	for _, u := range set.URLs {
		loc := strings.TrimSpace(u.Loc)
		if loc == "" {
			continue
		}
		entries = append(entries, types.SitemapEntry{
			URL:     loc,
			LastMod: parseLastMod(u.LastMod),
		})
	}
	return entries, true
}

var lastModLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02",
}

func parseLastMod(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range lastModLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}

func containsAny(s string, fragments []string) bool {
	for _, f := range fragments {
		if f != "" && strings.Contains(s, f) {
			return true
		}
	}
	return false
}
