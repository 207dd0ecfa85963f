package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Version is reported in the default user agent and the CLI.
const Version = "1.0.0"

// TokenEnv names the environment variable consulted for the library
// credential when the config file leaves it empty.
const TokenEnv = "DREDGER_LIBRARY_TOKEN"

// Config captures everything required to run a dredge cycle.
type Config struct {
	Library LibraryConfig `yaml:"library"`
	Run     RunConfig     `yaml:"run"`
	Fetch   FetchConfig   `yaml:"fetch"`
	Sitemap SitemapConfig `yaml:"sitemap"`
	Filter  FilterConfig  `yaml:"filter"`
	Verify  VerifyConfig  `yaml:"verify"`
	Store   StoreConfig   `yaml:"store"`
	Notify  NotifyConfig  `yaml:"notify"`
	Logging LoggingConfig `yaml:"logging"`
	Sites   []SiteConfig  `yaml:"sites"`
}

// SiteConfig declares one curated blog to scan.
type SiteConfig struct {
	URL  string   `yaml:"url"`
	Tags []string `yaml:"tags"`
}

// LibraryConfig describes the target recipe-library service.
type LibraryConfig struct {
	BaseURL  string   `yaml:"base_url"`
	Token    string   `yaml:"token"`
	Timeout  Duration `yaml:"timeout"`
	Sync     bool     `yaml:"sync"`
	PageSize int      `yaml:"page_size"`
}

// RunConfig bounds a dredge cycle.
type RunConfig struct {
	DryRun        bool `yaml:"dry_run"`
	TargetPerSite int  `yaml:"target_per_site"`
	ScanDepth     int  `yaml:"scan_depth"`
	Concurrency   int  `yaml:"concurrency"`
}

// FetchConfig controls the resilient HTTP layer.
type FetchConfig struct {
	UserAgent         string   `yaml:"user_agent"`
	PageTimeout       Duration `yaml:"page_timeout"`
	SitemapTimeout    Duration `yaml:"sitemap_timeout"`
	MaxBodyBytes      int64    `yaml:"max_body_bytes"`
	MaxAttempts       int      `yaml:"max_attempts"`
	RetryBaseDelay    Duration `yaml:"retry_base_delay"`
	PerHostDelay      Duration `yaml:"per_host_delay"`
	RespectCrawlDelay bool     `yaml:"respect_crawl_delay"`
	MaxCrawlDelay     Duration `yaml:"max_crawl_delay"`
}

// SitemapConfig bounds sitemap discovery and index recursion.
type SitemapConfig struct {
	MaxDepth      int      `yaml:"max_depth"`
	MaxDocuments  int      `yaml:"max_documents"`
	MaxChildren   int      `yaml:"max_children"`
	FallbackPaths []string `yaml:"fallback_paths"`
	JunkExts      []string `yaml:"junk_extensions"`
	JunkFragments []string `yaml:"junk_fragments"`
}

// FilterConfig holds the paranoid-mode rule tables. Every table is
// data-driven so individual entries can be extended and tested entry-by-entry.
type FilterConfig struct {
	ListiclePatterns []string `yaml:"listicle_patterns"`
	BadKeywords      []string `yaml:"bad_keywords"`
	SkipSections     []string `yaml:"skip_sections"`
	TaxonomyPaths    []string `yaml:"taxonomy_paths"`
}

// VerifyConfig lists recipe-plugin DOM signatures accepted as proof of
// recipe-ness when no structured markup is present.
type VerifyConfig struct {
	PluginClasses []string `yaml:"plugin_classes"`
}

// StoreConfig selects the persistent memory backend.
type StoreConfig struct {
	// Backend is "file" (default) or "sql".
	Backend string `yaml:"backend"`
	Dir     string `yaml:"dir"`
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
}

// NotifyConfig configures the optional run-summary webhook.
type NotifyConfig struct {
	WebhookURL string   `yaml:"webhook_url"`
	Timeout    Duration `yaml:"timeout"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Structured bool   `yaml:"structured"`
}

// Default returns a Config populated with the stock dredger behaviour.
func Default() Config {
	return Config{
		Library: LibraryConfig{
			BaseURL:  "http://localhost:9000",
			Timeout:  DurationFrom(20 * time.Second),
			Sync:     true,
			PageSize: 100,
		},
		Run: RunConfig{
			DryRun:        true,
			TargetPerSite: 50,
			ScanDepth:     1000,
			Concurrency:   1,
		},
		Fetch: FetchConfig{
			UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) RecipeDredger/" + Version,
			PageTimeout:       DurationFrom(10 * time.Second),
			SitemapTimeout:    DurationFrom(10 * time.Second),
			MaxBodyBytes:      6 * 1024 * 1024,
			MaxAttempts:       5,
			RetryBaseDelay:    DurationFrom(time.Second),
			PerHostDelay:      DurationFrom(2 * time.Second),
			RespectCrawlDelay: true,
			MaxCrawlDelay:     DurationFrom(30 * time.Second),
		},
		Sitemap: SitemapConfig{
			MaxDepth:     2,
			MaxDocuments: 24,
			MaxChildren:  3,
			FallbackPaths: []string{
				"/sitemap_index.xml",
				"/sitemap.xml",
				"/wp-sitemap.xml",
				"/post-sitemap.xml",
				"/recipe-sitemap.xml",
			},
			JunkExts: []string{
				".jpg", ".jpeg", ".png", ".gif", ".webp", ".pdf", ".zip",
			},
			JunkFragments: []string{
				"/wp-content/", "/cdn-cgi/", "/wp-json/",
			},
		},
		Filter: FilterConfig{
			ListiclePatterns: []string{
				`(\d+)-(best|top|must|favorite|easy|healthy|quick|ways|things)`,
				`(best|top)-(\d+)`,
			},
			BadKeywords: []string{
				"roundup", "collection", "guide", "review",
				"giveaway", "shop", "store", "product",
			},
			SkipSections: []string{
				"travel", "lifestyle", "about", "contact",
				"privacy", "privacy-policy", "login", "press",
			},
			TaxonomyPaths: []string{
				"/tag/", "/category/", "/page/", "/author/", "/archive/",
			},
		},
		Verify: VerifyConfig{
			PluginClasses: []string{
				"wp-recipe-maker", "tasty-recipes", "mv-create-card", "recipe-card",
			},
		},
		Store: StoreConfig{
			Backend: "file",
			Dir:     "data",
		},
		Notify: NotifyConfig{
			Timeout: DurationFrom(5 * time.Second),
		},
		Logging: LoggingConfig{
			Level:      "info",
			Structured: false,
		},
	}
}

// Load reads, merges, and validates configuration from a YAML file.
func Load(path string) (*Config, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()
	return LoadFromReader(fh)
}

// LoadFromReader decodes configuration from an arbitrary reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadSites reads a standalone site list from a JSON file. Both accepted
// shapes work: a bare array of URLs, or an object with a "sites" array.
func LoadSites(path string) ([]SiteConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sites file: %w", err)
	}

	var urls []string
	if err := json.Unmarshal(raw, &urls); err != nil {
		var wrapped struct {
			Sites []string `json:"sites"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, fmt.Errorf("parse sites file %s: expected array or object with %q key", path, "sites")
		}
		urls = wrapped.Sites
	}

	sites := make([]SiteConfig, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if !strings.HasPrefix(u, "http") {
			continue
		}
		sites = append(sites, SiteConfig{URL: strings.TrimRight(u, "/")})
	}
	if len(sites) == 0 {
		return nil, fmt.Errorf("sites file %s contains no usable URLs", path)
	}
	return sites, nil
}

// Validate enforces required invariants before a run starts.
func (c Config) Validate() error {
	if len(c.Sites) == 0 {
		return errors.New("at least one site must be configured")
	}
	for i := range c.Sites {
		if c.Sites[i].URL == "" {
			return fmt.Errorf("site %d has empty url", i)
		}
	}
	if strings.TrimSpace(c.Library.BaseURL) == "" {
		return errors.New("library.base_url must be set")
	}
	if c.Library.PageSize <= 0 {
		return fmt.Errorf("library.page_size must be > 0 (got %d)", c.Library.PageSize)
	}
	if c.Run.TargetPerSite <= 0 {
		return fmt.Errorf("run.target_per_site must be > 0 (got %d)", c.Run.TargetPerSite)
	}
	if c.Run.ScanDepth <= 0 {
		return fmt.Errorf("run.scan_depth must be > 0 (got %d)", c.Run.ScanDepth)
	}
	if c.Run.Concurrency <= 0 {
		return fmt.Errorf("run.concurrency must be > 0 (got %d)", c.Run.Concurrency)
	}
	if strings.TrimSpace(c.Fetch.UserAgent) == "" {
		return errors.New("fetch.user_agent must be set")
	}
	if c.Fetch.MaxAttempts <= 0 {
		return fmt.Errorf("fetch.max_attempts must be > 0 (got %d)", c.Fetch.MaxAttempts)
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		return fmt.Errorf("fetch.max_body_bytes must be > 0 (got %d)", c.Fetch.MaxBodyBytes)
	}
	if c.Sitemap.MaxDepth < 0 {
		return fmt.Errorf("sitemap.max_depth must be >= 0 (got %d)", c.Sitemap.MaxDepth)
	}
	if c.Sitemap.MaxDocuments <= 0 {
		return fmt.Errorf("sitemap.max_documents must be > 0 (got %d)", c.Sitemap.MaxDocuments)
	}
	switch c.Store.Backend {
	case "file":
		if strings.TrimSpace(c.Store.Dir) == "" {
			return errors.New("store.dir must be set for the file backend")
		}
	case "sql":
		if c.Store.Driver == "" || c.Store.DSN == "" {
			return errors.New("store.driver and store.dsn must be set for the sql backend")
		}
	default:
		return fmt.Errorf("unsupported store backend %q", c.Store.Backend)
	}
	return nil
}

func (c *Config) normalise() {
	c.Library.BaseURL = strings.TrimRight(strings.TrimSpace(c.Library.BaseURL), "/")
	if c.Library.Token == "" {
		c.Library.Token = strings.TrimSpace(os.Getenv(TokenEnv))
	}
	c.Fetch.UserAgent = strings.TrimSpace(c.Fetch.UserAgent)
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend == "" {
		c.Store.Backend = "file"
	}
	c.Notify.WebhookURL = strings.TrimSpace(c.Notify.WebhookURL)

	for i := range c.Sites {
		c.Sites[i].URL = strings.TrimRight(strings.TrimSpace(c.Sites[i].URL), "/")
	}
	c.Filter.BadKeywords = dedupeLower(c.Filter.BadKeywords)
	c.Filter.SkipSections = dedupeLower(c.Filter.SkipSections)
	c.Sitemap.JunkExts = dedupeLower(c.Sitemap.JunkExts)
}

func dedupeLower(values []string) []string {
	if len(values) == 0 {
		return values
	}
	unique := make(map[string]struct{}, len(values))
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := unique[v]; ok {
			continue
		}
		unique[v] = struct{}{}
		cleaned = append(cleaned, v)
	}
	sort.Strings(cleaned)
	return cleaned
}
