package crawler

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultPageHints are URL/anchor-text substrings that mark a financially
// interesting page worth one further hop.
var DefaultPageHints = []string{
	".pdf", "report", "financial", "results", "result", "quarter", "q1", "q2", "q3", "q4",
	"unaudited", "disclosure", "notice", "press", "news", "investor", "presentation",
	"earnings", "call", "shareholder",
}

// DefaultFileKeywords mark download-style paths that usually serve a document.
var DefaultFileKeywords = []string{"download", "attachment", "file", "document", "doc", "view"}

// DefaultDocumentExtensions are suffixes treated as direct document links.
var DefaultDocumentExtensions = []string{".pdf"}

var literalPDFLink = regexp.MustCompile(`(?i)https?://[^\s"'<>]+\.pdf\b`)

// LinkDiscoverer classifies the outbound links of one HTML page into page and
// file candidates under a TrustPolicy.
type LinkDiscoverer struct {
	trust        *TrustPolicy
	pageHints    []string
	fileKeywords []string
	extensions   []string
}

// NewLinkDiscoverer builds a discoverer with the default keyword lists.
func NewLinkDiscoverer(trust *TrustPolicy) *LinkDiscoverer {
	return &LinkDiscoverer{
		trust:        trust,
		pageHints:    DefaultPageHints,
		fileKeywords: DefaultFileKeywords,
		extensions:   DefaultDocumentExtensions,
	}
}

// Discover parses body as HTML and returns deduplicated page and file
// candidates. Unparseable input yields an empty Discovery.
func (d *LinkDiscoverer) Discover(pageURL string, body []byte) Discovery {
	var out Discovery
	base, err := url.Parse(pageURL)
	if err != nil {
		return out
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return out
	}
	base = documentBase(doc, base)
	seedHost := strings.ToLower(base.Hostname())

	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		abs, err := resolveHref(base, href)
		if err != nil {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		switch d.classify(abs, sel.Text(), seedHost) {
		case LinkClassFile:
			seen[abs] = struct{}{}
			out.Files = append(out.Files, LinkCandidate{URL: abs, Class: LinkClassFile, OriginPage: pageURL})
		case LinkClassPage:
			seen[abs] = struct{}{}
			out.Pages = append(out.Pages, LinkCandidate{URL: abs, Class: LinkClassPage, OriginPage: pageURL})
		}
	})
	return out
}

// classify returns the link class, or "" when the link is discarded.
func (d *LinkDiscoverer) classify(abs, anchorText, seedHost string) LinkClass {
	u, err := url.Parse(abs)
	if err != nil {
		return ""
	}
	lowerPath := strings.ToLower(u.EscapedPath())
	for _, ext := range d.extensions {
		if strings.HasSuffix(lowerPath, ext) {
			return LinkClassFile
		}
	}
	pathAndQuery := lowerPath + "?" + strings.ToLower(u.RawQuery)
	if containsAny(pathAndQuery, d.fileKeywords) {
		return LinkClassFile
	}
	if !d.trust.AllowsPage(seedHost, u.Hostname()) {
		return ""
	}
	if containsAny(strings.ToLower(abs), d.pageHints) || containsAny(strings.ToLower(anchorText), d.pageHints) {
		return LinkClassPage
	}
	return ""
}

// ScanDocumentLinks finds document links in raw HTML that anchor parsing may
// miss: .pdf anchors plus literal absolute .pdf URLs inside scripts or broken
// markup. Results are normalized and deduplicated in first-seen order.
func ScanDocumentLinks(pageURL string, body []byte) []string {
	if len(body) == 0 {
		return nil
	}
	var found []string
	if base, err := url.Parse(pageURL); err == nil {
		if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
			base = documentBase(doc, base)
			doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
				href, _ := sel.Attr("href")
				if !strings.HasSuffix(strings.ToLower(strings.TrimSpace(href)), ".pdf") {
					return
				}
				if abs, err := resolveHref(base, href); err == nil {
					found = append(found, abs)
				}
			})
		}
	}
	for _, raw := range literalPDFLink.FindAll(body, -1) {
		if abs, err := NormalizeURL(string(raw)); err == nil {
			found = append(found, abs)
		}
	}
	return dedupe(found)
}

func documentBase(doc *goquery.Document, fallback *url.URL) *url.URL {
	href, ok := doc.Find("base[href]").First().Attr("href")
	if !ok {
		return fallback
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return fallback
	}
	return fallback.ResolveReference(ref)
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
