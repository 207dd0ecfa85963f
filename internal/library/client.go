// Package library talks to the target recipe-library service. The service
// is a black box to the dredger: it answers which recipe URLs it already
// holds and accepts new recipes by URL.
package library

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ImportError reports a failed import call.
type ImportError struct {
	URL    string
	Status int
	Err    error
}

func (e *ImportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("import %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("import %s: status %d", e.URL, e.Status)
}

func (e *ImportError) Unwrap() error { return e.Err }

// createEndpoints are tried in order; newer library versions moved the
// URL-import route, so the first endpoint that answers is cached.
var createEndpoints = []string{
	"/api/recipes/create/url",
	"/api/recipes/create-url",
}

// Options configures the library client.
type Options struct {
	BaseURL  string
	Token    string
	Timeout  time.Duration
	PageSize int
}

// Client is an HTTP client for a Mealie-compatible recipe library.
type Client struct {
	http     *http.Client
	baseURL  string
	token    string
	pageSize int
	logger   *slog.Logger

	mu       sync.Mutex
	endpoint string
}

// New constructs a library client.
func New(opts Options, logger *slog.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("library base URL is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http:     &http.Client{Timeout: opts.Timeout},
		baseURL:  base,
		token:    opts.Token,
		pageSize: opts.PageSize,
		logger:   logger,
	}, nil
}

// Ping verifies connectivity and credentials before a live run starts.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/api/recipes?page=1&perPage=1", nil)
	if err != nil {
		return fmt.Errorf("library unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("library rejected credentials (status %d)", resp.StatusCode)
	default:
		// Non-auth failures are tolerated; the run proceeds and individual
		// calls surface their own errors.
		c.logger.Warn("library ping returned unexpected status", "status", resp.StatusCode)
		return nil
	}
}

type recipePage struct {
	Items []struct {
		OrgURL      string `json:"orgURL"`
		OriginalURL string `json:"originalURL"`
	} `json:"items"`
}

// ListExistingRecipeURLs pages through the library and returns the source
// URLs of every recipe it already holds.
func (c *Client) ListExistingRecipeURLs(ctx context.Context) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	for page := 1; ; page++ {
		path := fmt.Sprintf("/api/recipes?page=%d&perPage=%d", page, c.pageSize)
		resp, err := c.do(ctx, http.MethodGet, path, nil)
		if err != nil {
			return existing, fmt.Errorf("list recipes page %d: %w", page, err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return existing, fmt.Errorf("list recipes page %d: status %d", page, resp.StatusCode)
		}

		var parsed recipePage
		err = json.NewDecoder(resp.Body).Decode(&parsed)
		resp.Body.Close()
		if err != nil {
			return existing, fmt.Errorf("decode recipes page %d: %w", page, err)
		}
		if len(parsed.Items) == 0 {
			return existing, nil
		}
		for _, item := range parsed.Items {
			u := item.OrgURL
			if u == "" {
				u = item.OriginalURL
			}
			if strings.HasPrefix(u, "http") {
				existing[u] = struct{}{}
			}
		}
	}
}

// ImportFromURL asks the library to scrape and store the recipe at url,
// returning the identifier the library assigned. A duplicate response is
// treated as success with an empty identifier.
func (c *Client) ImportFromURL(ctx context.Context, url string) (string, error) {
	endpoints := createEndpoints
	c.mu.Lock()
	if c.endpoint != "" {
		endpoints = []string{c.endpoint}
	}
	c.mu.Unlock()

	payload, _ := json.Marshal(map[string]string{"url": url})
	var lastErr error

	for _, endpoint := range endpoints {
		resp, err := c.do(ctx, http.MethodPost, endpoint, payload)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = err
			continue
		}

		// 404/405 means this library version uses the other route.
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusMethodNotAllowed {
			resp.Body.Close()
			lastErr = fmt.Errorf("endpoint %s: status %d", endpoint, resp.StatusCode)
			continue
		}

		c.mu.Lock()
		if c.endpoint == "" {
			c.endpoint = endpoint
			c.logger.Debug("detected library import endpoint", "endpoint", endpoint)
		}
		c.mu.Unlock()

		switch {
		case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
			id := decodeRecipeID(resp)
			resp.Body.Close()
			return id, nil
		case resp.StatusCode == http.StatusConflict:
			resp.Body.Close()
			c.logger.Debug("library already holds recipe", "url", url)
			return "", nil
		default:
			resp.Body.Close()
			return "", &ImportError{URL: url, Status: resp.StatusCode}
		}
	}
	return "", &ImportError{URL: url, Err: lastErr}
}

// decodeRecipeID handles both response shapes: a bare JSON string slug and
// an object carrying slug or id.
func decodeRecipeID(resp *http.Response) string {
	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return ""
	}
	var slug string
	if err := json.Unmarshal(raw, &slug); err == nil {
		return slug
	}
	var obj struct {
		Slug string `json:"slug"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Slug != "" {
			return obj.Slug
		}
		return obj.ID
	}
	return ""
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}
