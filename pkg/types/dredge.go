package types

import "time"

// SiteSource is one configured food blog to scan. Immutable, supplied by
// configuration; tags are free-form labels (cuisine, category) carried
// through to reports.
type SiteSource struct {
	URL  string
	Tags []string
}

// SitemapEntry is a candidate page URL yielded by sitemap discovery.
// LastMod is the zero time when the sitemap carried no <lastmod>.
type SitemapEntry struct {
	URL     string
	LastMod time.Time
}

// RejectReason classifies why a URL was permanently rejected.
type RejectReason string

const (
	ReasonFiltered     RejectReason = "filtered"
	ReasonNotARecipe   RejectReason = "not-a-recipe"
	ReasonVerifyError  RejectReason = "verify-error"
	ReasonFetchFailed  RejectReason = "fetch-failed"
	ReasonImportFailed RejectReason = "import-failed"
)

// RejectRecord marks a URL as permanently unusable. Written once and never
// overwritten; a rejected URL is skipped on every future run.
type RejectRecord struct {
	URL        string       `json:"url"`
	Reason     RejectReason `json:"reason"`
	RecordedAt time.Time    `json:"recorded_at"`
}

// ImportedRecord marks a URL as imported into the target library. In dry-run
// mode LibraryID is empty and the record reflects a simulated import.
type ImportedRecord struct {
	URL        string    `json:"url"`
	LibraryID  string    `json:"library_id,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// SiteStats are the persisted per-site counters from the most recent scan.
type SiteStats struct {
	Site     string    `json:"site"`
	Examined int       `json:"examined"`
	Imported int       `json:"imported"`
	Rejected int       `json:"rejected"`
	Skipped  int       `json:"skipped"`
	LastRun  time.Time `json:"last_run"`
}

// SiteReport summarises a single site's scan.
type SiteReport struct {
	Site     string
	Examined int
	// Found counts verified recipes, Imported those actually recorded as
	// imported. The two only diverge when an import call fails.
	Found          int
	Imported       int
	Skipped        int
	TransientSkips int
	Rejected       map[RejectReason]int
	Error          string
}

// TotalRejected sums rejections across all reasons.
func (s SiteReport) TotalRejected() int {
	total := 0
	for _, n := range s.Rejected {
		total += n
	}
	return total
}

// Stats converts the report into its persisted form.
func (s SiteReport) Stats(at time.Time) SiteStats {
	return SiteStats{
		Site:     s.Site,
		Examined: s.Examined,
		Imported: s.Imported,
		Rejected: s.TotalRejected(),
		Skipped:  s.Skipped,
		LastRun:  at,
	}
}

// RunReport aggregates a full dredge run across all sites.
type RunReport struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Sites      []SiteReport
}

// TotalExamined counts sitemap entries examined across all sites.
func (r *RunReport) TotalExamined() int {
	total := 0
	for _, s := range r.Sites {
		total += s.Examined
	}
	return total
}

// TotalImported counts recipes imported (or simulated) across all sites.
func (r *RunReport) TotalImported() int {
	total := 0
	for _, s := range r.Sites {
		total += s.Imported
	}
	return total
}

// TotalRejected counts permanent rejections across all sites.
func (r *RunReport) TotalRejected() int {
	total := 0
	for _, s := range r.Sites {
		total += s.TotalRejected()
	}
	return total
}
