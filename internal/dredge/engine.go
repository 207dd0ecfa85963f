// Package dredge drives the discovery-filter-verify-dedupe pipeline across
// the configured sites.
package dredge

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"dredger/internal/config"
	"dredger/internal/fetcher"
	"dredger/internal/filter"
	"dredger/internal/library"
	"dredger/internal/sitemap"
	"dredger/internal/store"
	"dredger/internal/verify"
	"dredger/pkg/types"
)

// Library is the import target. Both operations are treated as idempotent,
// but the engine dedupes before calling ImportFromURL anyway.
type Library interface {
	Ping(ctx context.Context) error
	ListExistingRecipeURLs(ctx context.Context) (map[string]struct{}, error)
	ImportFromURL(ctx context.Context, url string) (string, error)
}

// Discoverer yields a site's candidate URLs, most recent first.
type Discoverer interface {
	Discover(ctx context.Context, site types.SiteSource, limit int) (*sitemap.Stream, error)
}

// Fetcher retrieves page bodies.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, kind fetcher.Kind) ([]byte, int, error)
}

// Verifier classifies a page body.
type Verifier interface {
	Verify(body []byte) (verify.Result, error)
}

// Engine orchestrates scanning, filtering, verification, dedup, and import.
type Engine struct {
	cfg       config.Config
	store     store.Store
	library   Library
	discovery Discoverer
	fetcher   Fetcher
	limiter   *fetcher.HostLimiter
	rules     *filter.Rules
	verifier  Verifier
	logger    *slog.Logger
}

// NewEngine wires the pipeline from configuration. The store is passed in
// explicitly so tests can substitute an in-memory directory.
func NewEngine(cfg config.Config, st store.Store, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client := fetcher.NewClient(fetcher.Options{
		UserAgent:      cfg.Fetch.UserAgent,
		PageTimeout:    cfg.Fetch.PageTimeout.Duration,
		SitemapTimeout: cfg.Fetch.SitemapTimeout.Duration,
		MaxBodyBytes:   cfg.Fetch.MaxBodyBytes,
		MaxAttempts:    cfg.Fetch.MaxAttempts,
		RetryBaseDelay: cfg.Fetch.RetryBaseDelay.Duration,
	}, logger)

	limiter := fetcher.NewHostLimiter(cfg.Fetch.PerHostDelay.Duration, cfg.Fetch.MaxCrawlDelay.Duration)

	discovery := sitemap.New(client, limiter, sitemap.Options{
		UserAgent:     cfg.Fetch.UserAgent,
		HonorDelay:    cfg.Fetch.RespectCrawlDelay,
		MaxDepth:      cfg.Sitemap.MaxDepth,
		MaxDocuments:  cfg.Sitemap.MaxDocuments,
		MaxChildren:   cfg.Sitemap.MaxChildren,
		FallbackPaths: cfg.Sitemap.FallbackPaths,
		JunkExts:      cfg.Sitemap.JunkExts,
		JunkFragments: cfg.Sitemap.JunkFragments,
	}, logger)

	rules, err := filter.NewRules(cfg.Filter)
	if err != nil {
		return nil, err
	}

	lib, err := library.New(library.Options{
		BaseURL:  cfg.Library.BaseURL,
		Token:    cfg.Library.Token,
		Timeout:  cfg.Library.Timeout.Duration,
		PageSize: cfg.Library.PageSize,
	}, logger)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:       cfg,
		store:     st,
		library:   lib,
		discovery: discovery,
		fetcher:   client,
		limiter:   limiter,
		rules:     rules,
		verifier:  verify.New(cfg.Verify.PluginClasses),
		logger:    logger,
	}, nil
}

// Ping checks library connectivity. Dry runs never touch the library, so
// the caller skips this for them.
func (e *Engine) Ping(ctx context.Context) error {
	return e.library.Ping(ctx)
}

// Run executes a full dredge cycle and returns its report. Cancellation
// stops the scan between entries; the store is flushed either way.
func (e *Engine) Run(ctx context.Context) (*types.RunReport, error) {
	report := &types.RunReport{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
	}
	logger := e.logger.With("run_id", report.RunID)
	logger.Info("dredge cycle starting",
		"sites", len(e.cfg.Sites),
		"dry_run", e.cfg.Run.DryRun,
		"target_per_site", e.cfg.Run.TargetPerSite,
		"scan_depth", e.cfg.Run.ScanDepth)

	existing := e.syncLibrary(ctx, logger)

	sites := make([]types.SiteSource, 0, len(e.cfg.Sites))
	for _, s := range e.cfg.Sites {
		sites = append(sites, types.SiteSource{URL: s.URL, Tags: s.Tags})
	}

	var mu sync.Mutex
	eachSite(ctx, sites, e.cfg.Run.Concurrency, func(ctx context.Context, site types.SiteSource) {
		rep := e.runSite(ctx, site, existing, logger)
		if err := e.store.SaveStats(ctx, rep.Stats(time.Now())); err != nil {
			logger.Warn("stats not persisted", "site", site.URL, "error", err)
		}
		mu.Lock()
		report.Sites = append(report.Sites, rep)
		mu.Unlock()
	})

	if err := e.store.Flush(); err != nil {
		logger.Warn("store flush failed", "error", err)
	}

	report.FinishedAt = time.Now()
	logger.Info("dredge cycle finished",
		"examined", report.TotalExamined(),
		"imported", report.TotalImported(),
		"rejected", report.TotalRejected(),
		"elapsed", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))

	e.notify(ctx, report)

	return report, ctx.Err()
}

// syncLibrary loads the target library's existing URL set, canonicalized
// for dedup. Dry runs and sync-disabled configs start from an empty set.
func (e *Engine) syncLibrary(ctx context.Context, logger *slog.Logger) map[string]struct{} {
	existing := make(map[string]struct{})
	if !e.cfg.Library.Sync || e.cfg.Run.DryRun {
		return existing
	}
	urls, err := e.library.ListExistingRecipeURLs(ctx)
	if err != nil {
		logger.Warn("library sync incomplete", "synced", len(urls), "error", err)
	}
	for u := range urls {
		canonical, err := store.Canonicalize(u)
		if err != nil {
			continue
		}
		existing[canonical] = struct{}{}
	}
	if len(existing) > 0 {
		logger.Info("synced existing library URLs", "count", len(existing))
	}
	return existing
}

// runSite scans one site until its quota or the scan depth is reached.
func (e *Engine) runSite(ctx context.Context, site types.SiteSource, existing map[string]struct{}, logger *slog.Logger) types.SiteReport {
	rep := types.SiteReport{
		Site:     site.URL,
		Rejected: make(map[types.RejectReason]int),
	}
	logger = logger.With("site", site.URL)

	stream, err := e.discovery.Discover(ctx, site, e.cfg.Run.ScanDepth)
	if err != nil {
		if errors.Is(err, sitemap.ErrNoSitemap) {
			logger.Warn("site skipped: no sitemap located")
		} else {
			logger.Warn("site skipped: discovery failed", "error", err)
		}
		rep.Error = err.Error()
		return rep
	}
	logger.Info("scanning site", "candidates", stream.Len())

	for rep.Found < e.cfg.Run.TargetPerSite && rep.Examined < e.cfg.Run.ScanDepth {
		if ctx.Err() != nil {
			break
		}
		entry, ok := stream.Next()
		if !ok {
			break
		}
		rep.Examined++
		e.processEntry(ctx, entry, existing, &rep, logger)
	}

	logger.Info("site scan complete",
		"examined", rep.Examined,
		"imported", rep.Imported,
		"rejected", rep.TotalRejected(),
		"skipped", rep.Skipped)
	return rep
}

// processEntry runs one sitemap entry through the pipeline:
// dedup, quick filter, fetch, verify, import.
func (e *Engine) processEntry(ctx context.Context, entry types.SitemapEntry, existing map[string]struct{}, rep *types.SiteReport, logger *slog.Logger) {
	canonical, err := store.Canonicalize(entry.URL)
	if err != nil {
		logger.Debug("unusable candidate URL", "url", entry.URL, "error", err)
		return
	}

	// Dedup before any other work: library holdings and prior
	// classifications never cost a fetch.
	if _, held := existing[canonical]; held {
		rep.Skipped++
		return
	}
	if e.store.IsImported(ctx, canonical) || e.store.IsRejected(ctx, canonical) {
		rep.Skipped++
		return
	}

	if detail, rejected := e.rules.Reject(entry.URL); rejected {
		e.reject(ctx, canonical, types.ReasonFiltered, rep)
		logger.Debug("quick reject", "url", entry.URL, "detail", detail)
		return
	}

	host := hostOf(entry.URL)
	if err := e.limiter.Wait(ctx, host); err != nil {
		return
	}

	body, _, err := e.fetcher.Fetch(ctx, entry.URL, fetcher.KindPage)
	if err != nil {
		var fe *fetcher.FetchError
		if errors.As(err, &fe) && !fe.Transient {
			e.reject(ctx, canonical, types.ReasonFetchFailed, rep)
			logger.Debug("permanent fetch failure", "url", entry.URL, "status", fe.Status)
			return
		}
		if ctx.Err() != nil {
			return
		}
		// Transient exhaustion stays unrecorded so a future run retries.
		rep.TransientSkips++
		logger.Debug("transient fetch failure, will retry next run", "url", entry.URL, "error", err)
		return
	}

	result, err := e.verifier.Verify(body)
	if err != nil {
		e.reject(ctx, canonical, types.ReasonVerifyError, rep)
		logger.Debug("verification error", "url", entry.URL, "error", err)
		return
	}
	if !result.IsRecipe {
		e.reject(ctx, canonical, types.ReasonNotARecipe, rep)
		return
	}

	if e.cfg.Run.DryRun {
		if err := e.store.RecordImported(ctx, canonical, ""); err != nil {
			logger.Warn("record imported failed", "url", entry.URL, "error", err)
		}
		rep.Found++
		rep.Imported++
		logger.Info("would import recipe", "url", entry.URL, "signal", result.Signal)
		return
	}

	id, err := e.library.ImportFromURL(ctx, entry.URL)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		e.reject(ctx, canonical, types.ReasonImportFailed, rep)
		logger.Warn("import failed", "url", entry.URL, "error", err)
		return
	}
	if err := e.store.RecordImported(ctx, canonical, id); err != nil {
		logger.Warn("record imported failed", "url", entry.URL, "error", err)
	}
	rep.Found++
	rep.Imported++
	logger.Info("imported recipe", "url", entry.URL, "library_id", id, "signal", result.Signal)
}

func (e *Engine) reject(ctx context.Context, canonical string, reason types.RejectReason, rep *types.SiteReport) {
	if err := e.store.RecordReject(ctx, canonical, reason); err != nil {
		e.logger.Warn("record reject failed", "url", canonical, "error", err)
	}
	rep.Rejected[reason]++
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
