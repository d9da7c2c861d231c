package crawler

import (
	"strings"
	"time"
)

// DocType classifies an extracted resource.
type DocType string

// Document types produced by the content extractor.
const (
	DocTypeHTML DocType = "html"
	DocTypePDF  DocType = "pdf"
)

// LinkClass classifies a discovered link.
type LinkClass string

// Link classes emitted by the link discoverer.
const (
	LinkClassPage LinkClass = "page"
	LinkClassFile LinkClass = "file"
)

// FetchResult is produced once per attempted URL and never mutated afterwards.
type FetchResult struct {
	URL         string        `json:"url"`
	OK          bool          `json:"ok"`
	StatusCode  int           `json:"status_code,omitempty"`
	ContentType string        `json:"content_type,omitempty"`
	Body        []byte        `json:"-"`
	Err         string        `json:"error,omitempty"`
	Attempts    int           `json:"attempts"`
	Duration    time.Duration `json:"duration"`
}

// IsPDF reports whether the result looks like a PDF by content type or URL suffix.
func (r FetchResult) IsPDF() bool {
	return strings.Contains(strings.ToLower(r.ContentType), "pdf") ||
		strings.HasSuffix(strings.ToLower(r.URL), ".pdf")
}

// IsHTML reports whether the result was served as HTML.
func (r FetchResult) IsHTML() bool {
	return strings.Contains(strings.ToLower(r.ContentType), "html")
}

// FetchResponse is what a single-attempt Fetcher returns on success.
type FetchResponse struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
	Duration    time.Duration
}

// LinkCandidate is a normalized outbound link found on a fetched page.
type LinkCandidate struct {
	URL        string    `json:"url"`
	Class      LinkClass `json:"class"`
	OriginPage string    `json:"origin_page"`
}

// Discovery holds the deduplicated candidates found on one page.
type Discovery struct {
	Pages []LinkCandidate
	Files []LinkCandidate
}

// Document is the plain-text rendition of one fetched resource.
// Text may be empty only when Type is DocTypePDF.
type Document struct {
	URL  string  `json:"url"`
	Type DocType `json:"type"`
	Text string  `json:"text"`
}

// CrawlRequest parameterizes one bounded discovery cycle.
type CrawlRequest struct {
	Seeds       []string
	MaxHTML     int
	MaxPDF      int
	IncludePDFs bool
	// Exclude lists URLs already attempted earlier in the same pipeline run.
	Exclude []string
}

// CrawlStats summarizes how the fetch budget was spent.
type CrawlStats struct {
	Seeds          int `json:"seeds"`
	PageCandidates int `json:"page_candidates"`
	FileCandidates int `json:"file_candidates"`
	SecondaryLinks int `json:"secondary_links"`
	Attempted      int `json:"attempted"`
	Failed         int `json:"failed"`
}

// CrawlResult is the bounded, deduplicated output of a crawl.
type CrawlResult struct {
	// Results holds successful fetches in wave order.
	Results []FetchResult
	// Attempted lists every normalized URL fetched, successful or not.
	Attempted []string
	Stats     CrawlStats
}
