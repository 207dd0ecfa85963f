package fetcher

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
)

// Kind selects per-request behaviour for the two resource classes the
// dredger retrieves.
type Kind int

const (
	KindPage Kind = iota
	KindSitemap
)

// FetchError is returned for any non-successful retrieval. Transient errors
// were retried up to the attempt ceiling before being reported; permanent
// errors are reported after a single attempt.
type FetchError struct {
	URL       string
	Status    int
	Attempts  int
	Transient bool
	Err       error
}

func (e *FetchError) Error() string {
	class := "permanent"
	if e.Transient {
		class = "transient"
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s failure after %d attempt(s): %v", e.URL, class, e.Attempts, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s failure after %d attempt(s): status %d", e.URL, class, e.Attempts, e.Status)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Options controls the resilient HTTP client.
type Options struct {
	UserAgent      string
	PageTimeout    time.Duration
	SitemapTimeout time.Duration
	MaxBodyBytes   int64
	MaxAttempts    int
	RetryBaseDelay time.Duration
}

// Client performs HTTP retrieval with connection reuse, content decoding,
// and exponential-backoff retry of transient failures.
type Client struct {
	http           *http.Client
	userAgent      string
	pageTimeout    time.Duration
	sitemapTimeout time.Duration
	maxBodyBytes   int64
	maxAttempts    int
	baseDelay      time.Duration
	logger         *slog.Logger
}

// NewClient constructs a fetch client. The underlying transport keeps
// per-host connections alive so repeated requests to the same blog reuse
// a session.
func NewClient(opts Options, logger *slog.Logger) *Client {
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = 10 * time.Second
	}
	if opts.SitemapTimeout <= 0 {
		opts.SitemapTimeout = opts.PageTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 6 * 1024 * 1024
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Client{
		http:           &http.Client{Transport: transport},
		userAgent:      opts.UserAgent,
		pageTimeout:    opts.PageTimeout,
		sitemapTimeout: opts.SitemapTimeout,
		maxBodyBytes:   opts.MaxBodyBytes,
		maxAttempts:    opts.MaxAttempts,
		baseDelay:      opts.RetryBaseDelay,
		logger:         logger,
	}
}

// Fetch retrieves a URL. Transient failures (connection errors, timeouts,
// 429, 5xx) are retried with a doubling backoff up to the attempt ceiling;
// other 4xx responses and malformed bodies fail immediately. Context
// cancellation is returned as-is and never retried.
func (c *Client) Fetch(ctx context.Context, rawURL string, kind Kind) ([]byte, int, error) {
	delay := c.baseDelay
	var last *FetchError

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, 0, ctx.Err()
			}
			delay *= 2
		}

		body, status, err := c.attempt(ctx, rawURL, kind)
		if err == nil {
			return body, status, nil
		}
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}

		var fe *FetchError
		if !errors.As(err, &fe) {
			return nil, status, err
		}
		fe.Attempts = attempt
		if !fe.Transient {
			return nil, fe.Status, fe
		}
		last = fe
		c.logger.Debug("transient fetch failure",
			"url", rawURL, "attempt", attempt, "status", fe.Status, "error", fe.Err)
	}

	return nil, last.Status, last
}

func (c *Client) attempt(ctx context.Context, rawURL string, kind Kind) ([]byte, int, error) {
	timeout := c.pageTimeout
	if kind == KindSitemap {
		timeout = c.sitemapTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, &FetchError{URL: rawURL, Err: fmt.Errorf("build request: %w", err)}
	}

	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if kind == KindSitemap {
		req.Header.Set("Accept", "application/xml,text/xml,text/plain;q=0.9,*/*;q=0.8")
	} else {
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	}
	req.Header.Set("Accept-Language", "en-US,en;q=0.8")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		// Connection resets and per-attempt timeouts land here.
		return nil, 0, &FetchError{URL: rawURL, Transient: true, Err: err}
	}

	if retryable(resp.StatusCode) {
		drain(resp.Body)
		return nil, resp.StatusCode, &FetchError{URL: rawURL, Status: resp.StatusCode, Transient: true}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		drain(resp.Body)
		return nil, resp.StatusCode, &FetchError{URL: rawURL, Status: resp.StatusCode}
	}

	body, err := c.readBody(resp)
	if err != nil {
		// A 2xx with an undecodable or oversized body is a malformed
		// response, not worth retrying.
		return nil, resp.StatusCode, &FetchError{URL: rawURL, Status: resp.StatusCode, Err: err}
	}
	return body, resp.StatusCode, nil
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func (c *Client) readBody(resp *http.Response) ([]byte, error) {
	reader := io.Reader(resp.Body)
	closers := []io.Closer{resp.Body}

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			drain(resp.Body)
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		reader = gz
		closers = append(closers, gz)
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		reader = fl
		closers = append(closers, fl)
	}

	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	limited := io.LimitReader(reader, c.maxBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > c.maxBodyBytes {
		return nil, fmt.Errorf("response body exceeds limit of %d bytes", c.maxBodyBytes)
	}
	return body, nil
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
	_ = body.Close()
}
