// Package extract converts raw fetch results into plain-text documents.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/disclosure-miner/internal/crawler"
	"github.com/JakeFAU/disclosure-miner/internal/ocr"
)

// Config tunes extraction.
type Config struct {
	// MinPDFText is the text-layer length in characters below which a PDF is
	// treated as scanned.
	MinPDFText  int
	Concurrency int
}

// Extractor turns fetch results into Documents. It never fails: decode and
// OCR errors are logged and yield empty text.
type Extractor struct {
	cfg    Config
	ocr    ocr.Capability
	logger *zap.Logger
}

// New builds an Extractor.
func New(cfg Config, capability ocr.Capability, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinPDFText <= 0 {
		cfg.MinPDFText = 40
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Extractor{cfg: cfg, ocr: capability, logger: logger}
}

// ExtractAll extracts every result concurrently, preserving input order.
// Results with no body and HTML pages with no text are omitted.
func (e *Extractor) ExtractAll(ctx context.Context, results []crawler.FetchResult) []crawler.Document {
	docs := make([]crawler.Document, len(results))
	keep := make([]bool, len(results))
	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for i, r := range results {
		g.Go(func() error {
			docs[i], keep[i] = e.Extract(ctx, r)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]crawler.Document, 0, len(results))
	for i, doc := range docs {
		if keep[i] {
			out = append(out, doc)
		}
	}
	return out
}

// Extract converts one result. The boolean is false when nothing usable was
// produced; PDFs are always kept, even with empty text.
func (e *Extractor) Extract(ctx context.Context, r crawler.FetchResult) (crawler.Document, bool) {
	if !r.OK || len(r.Body) == 0 {
		return crawler.Document{}, false
	}
	if r.IsPDF() {
		return crawler.Document{URL: r.URL, Type: crawler.DocTypePDF, Text: e.pdfText(ctx, r.URL, r.Body)}, true
	}
	text, err := HTMLText(r.Body)
	if err != nil {
		e.logger.Warn("html extraction failed", zap.String("url", r.URL), zap.String("stage", "extract"), zap.Error(err))
		return crawler.Document{}, false
	}
	if text == "" {
		return crawler.Document{}, false
	}
	return crawler.Document{URL: r.URL, Type: crawler.DocTypeHTML, Text: text}, true
}

func (e *Extractor) pdfText(ctx context.Context, url string, body []byte) string {
	text, err := PDFText(body)
	if err != nil {
		e.logger.Warn("pdf text layer extraction failed", zap.String("url", url), zap.String("stage", "extract"), zap.Error(err))
	}
	return e.withOCR(ctx, url, text, body)
}

// withOCR runs OCR when the text layer is shorter than MinPDFText characters
// and returns whichever text has more characters.
func (e *Extractor) withOCR(ctx context.Context, url, text string, body []byte) string {
	if utf8.RuneCountInString(text) >= e.cfg.MinPDFText || !e.ocr.Available {
		return text
	}
	scanned, err := e.ocr.Engine.Recognize(ctx, body)
	if err != nil {
		e.logger.Warn("ocr failed", zap.String("url", url), zap.String("stage", "extract"), zap.Error(err))
	}
	if utf8.RuneCountInString(scanned) > utf8.RuneCountInString(text) {
		return scanned
	}
	return text
}

var strippedElements = map[string]struct{}{"script": {}, "style": {}, "noscript": {}}

// HTMLText returns the visible text of an HTML page with script, style, and
// noscript content removed and whitespace collapsed.
func HTMLText(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if _, skip := strippedElements[n.Data]; skip {
				return
			}
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range doc.Nodes {
		walk(n)
	}
	return collapse(sb.String()), nil
}

// PDFText reads the PDF text layer. Malformed documents can panic inside the
// parser; that is reported as an error.
func PDFText(body []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("panic during pdf extraction: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, pageErr := page.GetPlainText(nil)
		if pageErr != nil {
			continue
		}
		sb.WriteString(pageText)
		sb.WriteByte(' ')
	}
	return collapse(sb.String()), nil
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
