package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromReaderDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(`
sites:
  - url: "https://example.com/"
`))
	require.NoError(t, err)

	assert.True(t, cfg.Run.DryRun)
	assert.Equal(t, 50, cfg.Run.TargetPerSite)
	assert.Equal(t, 1000, cfg.Run.ScanDepth)
	assert.Equal(t, 1, cfg.Run.Concurrency)
	assert.Equal(t, 5, cfg.Fetch.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Fetch.PerHostDelay.Duration)
	assert.Equal(t, "file", cfg.Store.Backend)
	assert.Contains(t, cfg.Fetch.UserAgent, "RecipeDredger/")

	// Trailing slash trimmed during normalisation.
	assert.Equal(t, "https://example.com", cfg.Sites[0].URL)
}

func TestLoadFromReaderOverrides(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(`
run:
  dry_run: false
  target_per_site: 5
  scan_depth: 100
fetch:
  per_host_delay: 500ms
  max_attempts: 3
library:
  base_url: "https://mealie.local/"
  token: "abc"
sites:
  - url: "https://blog.test"
    tags: [thai, curry]
`))
	require.NoError(t, err)

	assert.False(t, cfg.Run.DryRun)
	assert.Equal(t, 5, cfg.Run.TargetPerSite)
	assert.Equal(t, 100, cfg.Run.ScanDepth)
	assert.Equal(t, 500*time.Millisecond, cfg.Fetch.PerHostDelay.Duration)
	assert.Equal(t, 3, cfg.Fetch.MaxAttempts)
	assert.Equal(t, "https://mealie.local", cfg.Library.BaseURL)
	assert.Equal(t, []string{"thai", "curry"}, cfg.Sites[0].Tags)
}

func TestDurationAcceptsNumericSeconds(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(`
fetch:
  per_host_delay: 3
sites:
  - url: "https://blog.test"
`))
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.Fetch.PerHostDelay.Duration)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader(`
crawl:
  max_depth: 3
sites:
  - url: "https://blog.test"
`))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no sites", func(c *Config) { c.Sites = nil }, "at least one site"},
		{"empty site url", func(c *Config) { c.Sites = []SiteConfig{{}} }, "empty url"},
		{"zero target", func(c *Config) { c.Run.TargetPerSite = 0 }, "target_per_site"},
		{"zero depth", func(c *Config) { c.Run.ScanDepth = 0 }, "scan_depth"},
		{"zero attempts", func(c *Config) { c.Fetch.MaxAttempts = 0 }, "max_attempts"},
		{"blank user agent", func(c *Config) { c.Fetch.UserAgent = " " }, "user_agent"},
		{"bad backend", func(c *Config) { c.Store.Backend = "etcd" }, "store backend"},
		{"sql without dsn", func(c *Config) { c.Store.Backend = "sql" }, "store.driver"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Sites = []SiteConfig{{URL: "https://blog.test"}}
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestTokenFromEnvironment(t *testing.T) {
	t.Setenv(TokenEnv, "env-token")
	cfg, err := LoadFromReader(strings.NewReader(`
sites:
  - url: "https://blog.test"
`))
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Library.Token)
}

func TestLoadSites(t *testing.T) {
	dir := t.TempDir()

	bare := filepath.Join(dir, "bare.json")
	require.NoError(t, os.WriteFile(bare, []byte(`["https://a.test/", "ftp://nope", "https://b.test"]`), 0o644))
	sites, err := LoadSites(bare)
	require.NoError(t, err)
	require.Len(t, sites, 2)
	assert.Equal(t, "https://a.test", sites[0].URL)

	wrapped := filepath.Join(dir, "wrapped.json")
	require.NoError(t, os.WriteFile(wrapped, []byte(`{"sites": ["https://c.test"]}`), 0o644))
	sites, err = LoadSites(wrapped)
	require.NoError(t, err)
	require.Len(t, sites, 1)
	assert.Equal(t, "https://c.test", sites[0].URL)

	garbage := filepath.Join(dir, "garbage.json")
	require.NoError(t, os.WriteFile(garbage, []byte(`{"urls": []}`), 0o644))
	_, err = LoadSites(garbage)
	require.Error(t, err)
}
