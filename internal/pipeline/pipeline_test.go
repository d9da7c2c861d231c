package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/disclosure-miner/internal/cache"
	"github.com/JakeFAU/disclosure-miner/internal/clock/system"
	"github.com/JakeFAU/disclosure-miner/internal/crawler"
	"github.com/JakeFAU/disclosure-miner/internal/finmetrics"
	"github.com/JakeFAU/disclosure-miner/internal/hash/sha256"
	"github.com/JakeFAU/disclosure-miner/internal/id/uuid"
	"github.com/JakeFAU/disclosure-miner/internal/lexicon"
	publishermemory "github.com/JakeFAU/disclosure-miner/internal/publisher/memory"
	"github.com/JakeFAU/disclosure-miner/internal/registry"
	"github.com/JakeFAU/disclosure-miner/internal/relevance"
	"github.com/JakeFAU/disclosure-miner/internal/storage"
	storagememory "github.com/JakeFAU/disclosure-miner/internal/storage/memory"
)

const (
	seedURL   = "https://bank.example/investor-relations"
	pdfURL    = "https://bank.example/reports/q3-unaudited.pdf"
	newsURL   = "https://bank.example/news-and-events/picnic"
	bootURL   = "https://bank.example/files/annual-financials.pdf"
	question  = "Example Bank net profit"
	htmlType  = "text/html; charset=utf-8"
	pdfMedium = "application/pdf"
)

var irText = "Example Bank quarterly update. Net profit NPR 1,234.5 million. Revenue NPR 5,000 million. " +
	strings.Repeat("Investors can review unaudited financial statements and quarterly disclosures here. ", 3)

type fakeCrawler struct {
	mu       sync.Mutex
	bySeed   map[string]crawler.CrawlResult
	requests []crawler.CrawlRequest
}

func (f *fakeCrawler) Crawl(_ context.Context, req crawler.CrawlRequest) crawler.CrawlResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(req.Seeds) == 0 {
		return crawler.CrawlResult{}
	}
	return f.bySeed[req.Seeds[0]]
}

func (f *fakeCrawler) calls() []crawler.CrawlRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]crawler.CrawlRequest(nil), f.requests...)
}

type fakeExtractor map[string]crawler.Document

func (f fakeExtractor) ExtractAll(_ context.Context, results []crawler.FetchResult) []crawler.Document {
	var out []crawler.Document
	for _, r := range results {
		if doc, ok := f[r.URL]; ok {
			out = append(out, doc)
		}
	}
	return out
}

type failingIndex struct{}

func (failingIndex) Index(context.Context, string, []crawler.Document) (int, int, error) {
	return 0, 0, errors.New("index offline")
}

func (failingIndex) Retrieve(context.Context, string, string, int) ([]storage.Hit, error) {
	return nil, errors.New("index offline")
}

func (failingIndex) Reset(context.Context, string) error { return nil }

func ok(url, contentType, body string) crawler.FetchResult {
	return crawler.FetchResult{URL: url, OK: true, StatusCode: 200, ContentType: contentType, Body: []byte(body), Attempts: 1}
}

func testRegistry(t *testing.T, boot string) *registry.Registry {
	t.Helper()
	reg, err := registry.New([]registry.Company{
		{Name: "Example Bank", Ticker: "EXB", Sector: "banking", Seeds: []string{seedURL}, BootstrapPDF: boot},
		{Name: "Other Co", Seeds: []string{"https://other.example/"}},
	})
	require.NoError(t, err)
	return reg
}

type harness struct {
	svc     *Service
	crawler *fakeCrawler
	index   *storagememory.ChunkIndex
	blobs   *storagememory.BlobStore
	pub     *publishermemory.Publisher
	cache   *cache.Memory
}

func newHarness(t *testing.T, crawls map[string]crawler.CrawlResult, docs fakeExtractor, boot string, mutate func(*Deps)) *harness {
	t.Helper()
	h := &harness{
		crawler: &fakeCrawler{bySeed: crawls},
		index:   storagememory.NewChunkIndex(0),
		blobs:   storagememory.NewBlobStore(),
		pub:     publishermemory.New(),
		cache:   cache.NewMemory(cache.DefaultTTL, cache.DefaultMaxEntries),
	}
	deps := Deps{
		Crawler:   h.crawler,
		Extractor: docs,
		Filter:    relevance.New(relevance.Config{}, nil, zap.NewNop()),
		Index:     h.index,
		Metrics:   finmetrics.New(nil),
		Registry:  testRegistry(t, boot),
		Cache:     h.cache,
		Archive:   h.blobs,
		Publisher: h.pub,
		Hasher:    sha256.New(),
		Clock:     system.New(),
		IDs:       uuid.New(),
		Logger:    zap.NewNop(),
	}
	if mutate != nil {
		mutate(&deps)
	}
	svc, err := New(Config{}, deps)
	require.NoError(t, err)
	h.svc = svc
	return h
}

func happyCrawl() (map[string]crawler.CrawlResult, fakeExtractor) {
	crawls := map[string]crawler.CrawlResult{
		seedURL: {
			Results: []crawler.FetchResult{
				ok(seedURL, htmlType, "<html>ir</html>"),
				ok(pdfURL, pdfMedium, "%PDF-1.4 fake"),
				ok(newsURL, htmlType, "<html>news</html>"),
			},
			Attempted: []string{seedURL, pdfURL, newsURL},
			Stats:     crawler.CrawlStats{Seeds: 1, Attempted: 3},
		},
	}
	docs := fakeExtractor{
		seedURL: {URL: seedURL, Type: crawler.DocTypeHTML, Text: irText},
		pdfURL: {
			URL:  pdfURL,
			Type: crawler.DocTypePDF,
			Text: "Statement of profit and loss (NPR in millions). Net profit 1,234.5 for the quarter.",
		},
		newsURL: {URL: newsURL, Type: crawler.DocTypeHTML, Text: irText},
	}
	return crawls, docs
}

func TestAnswerHappyPath(t *testing.T) {
	t.Parallel()

	crawls, docs := happyCrawl()
	h := newHarness(t, crawls, docs, bootURL, nil)

	res := h.svc.Answer(context.Background(), question)

	require.Empty(t, res.Degraded)
	require.False(t, res.Cached)
	require.NotEmpty(t, res.RunID)
	require.Equal(t, ModeAnswer, res.Mode)
	require.Equal(t, "Example Bank", res.Company.Name)
	require.Equal(t, "Example_Bank", res.Company.Collection)
	require.True(t, res.Company.Matched)

	require.Equal(t, TypeCounts{Total: 3, HTML: 2, PDF: 1}, res.Counts.Fetched)
	require.Equal(t, TypeCounts{Total: 2, HTML: 1, PDF: 1}, res.Counts.Kept)
	require.Equal(t, TypeCounts{Total: 1, HTML: 1}, res.Counts.Dropped)
	require.Equal(t, 1, res.HTMLCount)
	require.Equal(t, 1, res.PDFCount)
	require.False(t, res.Bootstrapped)

	require.Equal(t, []string{pdfURL, seedURL}, res.KeptURLs, "pdf ranks above the html page")
	require.Equal(t, []string{seedURL, pdfURL}, res.Citations, "citations follow retrieval order")
	require.Equal(t, 2, res.AddedChunks)
	require.Equal(t, 2, res.VectorCount)
	require.Equal(t, 2, res.Retrieved)

	require.Equal(t, []float64{1234500000}, res.Metrics[lexicon.NetProfit])
	require.Contains(t, res.Metrics[lexicon.Revenue], 5000000000.0)
	require.Contains(t, res.Answer, "Fetched 3 page(s)")
	require.Contains(t, res.Answer, "kept 2, dropped 1")
	require.Contains(t, res.Answer, "Net Profit: ~1,234,500,000")

	require.Len(t, res.Archived, 1)
	paths := h.blobs.Paths()
	require.Len(t, paths, 1)
	require.True(t, strings.HasPrefix(paths[0], "documents/Example_Bank/"))
	require.True(t, strings.HasSuffix(paths[0], ".pdf"))

	msgs := h.pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, EventRunCompleted, msgs[0].Event)
	event, isEvent := msgs[0].Payload.(RunEvent)
	require.True(t, isEvent)
	require.Equal(t, res.RunID, event.RunID)
	require.Equal(t, "Example_Bank", event.Collection)
	require.Equal(t, 2, event.Citations)
	require.False(t, event.FinishedAt.IsZero())

	require.Equal(t, 1, h.cache.Len())
	require.GreaterOrEqual(t, res.Timings.Total, res.Timings.Fetch)
}

func TestAnswerServesCache(t *testing.T) {
	t.Parallel()

	crawls, docs := happyCrawl()
	h := newHarness(t, crawls, docs, "", nil)
	ctx := context.Background()

	first := h.svc.Answer(ctx, question)
	second := h.svc.Answer(ctx, "  EXAMPLE bank   net profit ")

	require.False(t, first.Cached)
	require.True(t, second.Cached)
	require.Equal(t, first.RunID, second.RunID)
	require.Equal(t, first.Citations, second.Citations)
	require.Len(t, h.crawler.calls(), 1)
}

func TestAnswerBootstrapsMissingPDF(t *testing.T) {
	t.Parallel()

	crawls := map[string]crawler.CrawlResult{
		seedURL: {
			Results:   []crawler.FetchResult{ok(seedURL, htmlType, "<html>ir</html>")},
			Attempted: []string{seedURL, "https://bank.example/broken"},
			Stats:     crawler.CrawlStats{Seeds: 1, Attempted: 2, Failed: 1},
		},
		bootURL: {
			Results:   []crawler.FetchResult{ok(bootURL, pdfMedium, "%PDF-scan")},
			Attempted: []string{bootURL},
		},
	}
	docs := fakeExtractor{
		seedURL: {URL: seedURL, Type: crawler.DocTypeHTML, Text: irText},
		bootURL: {URL: bootURL, Type: crawler.DocTypePDF},
	}
	h := newHarness(t, crawls, docs, bootURL, nil)

	res := h.svc.Answer(context.Background(), question)

	calls := h.crawler.calls()
	require.Len(t, calls, 2)
	require.Equal(t, crawler.CrawlRequest{Seeds: []string{seedURL}, MaxHTML: 30, MaxPDF: 12, IncludePDFs: true}, calls[0])
	require.Equal(t, crawler.CrawlRequest{
		Seeds:       []string{bootURL},
		MaxHTML:     0,
		MaxPDF:      2,
		IncludePDFs: true,
		Exclude:     []string{seedURL, "https://bank.example/broken"},
	}, calls[1])

	require.True(t, res.Bootstrapped)
	require.Equal(t, []string{seedURL, bootURL}, res.KeptURLs)
	require.Equal(t, 1, res.PDFCount)
	require.Equal(t, 2, res.AddedChunks, "a scanned pdf still yields one chunk")
	require.Equal(t, TypeCounts{Total: 2, HTML: 1, PDF: 1}, res.Counts.Fetched)
	require.Len(t, res.Archived, 1)
}

func TestAnswerWithoutResults(t *testing.T) {
	t.Parallel()

	crawls := map[string]crawler.CrawlResult{
		seedURL: {Attempted: []string{seedURL}, Stats: crawler.CrawlStats{Seeds: 1, Attempted: 1, Failed: 1}},
	}
	h := newHarness(t, crawls, fakeExtractor{}, "", nil)

	res := h.svc.Answer(context.Background(), question)

	require.Empty(t, res.Degraded)
	require.Empty(t, res.Citations)
	require.Empty(t, res.KeptURLs)
	require.Zero(t, res.AddedChunks)
	require.True(t, res.Metrics.Empty())
	require.Equal(t, 1, res.Crawl.Failed)
	require.True(t, strings.HasPrefix(res.Answer, "Fetched 0 page(s)"))
	require.NotContains(t, res.Answer, "Key metrics")
	require.Empty(t, h.blobs.Paths())
}

func TestAnswerDegradesOnIndexFailure(t *testing.T) {
	t.Parallel()

	crawls, docs := happyCrawl()
	h := newHarness(t, crawls, docs, "", func(d *Deps) { d.Index = failingIndex{} })

	res := h.svc.Answer(context.Background(), question)

	require.True(t, res.IsDegraded())
	stages := make([]Stage, 0, len(res.Degraded))
	for _, d := range res.Degraded {
		stages = append(stages, d.Stage)
	}
	require.Equal(t, []Stage{StageIndex, StageRetrieve}, stages)
	require.Equal(t, "index offline", res.Degraded[0].Message)
	require.Equal(t, []string{pdfURL, seedURL}, res.Citations, "falls back to kept documents")
	require.Zero(t, res.Retrieved)
	require.True(t, res.Metrics.Empty())
	require.Zero(t, h.cache.Len(), "degraded answers are not cached")

	msgs := h.pub.Messages()
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Payload.(RunEvent).Degraded, 2)
}

func TestReindexUsesLargerCapsAndDropsCache(t *testing.T) {
	t.Parallel()

	crawls, docs := happyCrawl()
	h := newHarness(t, crawls, docs, "", nil)
	ctx := context.Background()

	h.svc.Answer(ctx, question)
	require.Equal(t, 1, h.cache.Len())

	summary := h.svc.Reindex(ctx, "reindex EXB please")

	require.Zero(t, h.cache.Len())
	calls := h.crawler.calls()
	require.Len(t, calls, 2)
	require.Equal(t, 40, calls[1].MaxHTML)
	require.Equal(t, 14, calls[1].MaxPDF)
	require.Equal(t, "Example Bank", summary.Company)
	require.Equal(t, "Example_Bank", summary.Collection)
	require.Zero(t, summary.AddedChunks, "chunks are already indexed")
	require.Equal(t, 2, summary.VectorCount)
	require.Equal(t, []string{pdfURL, seedURL}, summary.KeptURLs)
	require.Empty(t, summary.Degraded)

	msgs := h.pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, ModeReindex, msgs[1].Payload.(RunEvent).Mode)
}

func TestResetByTicker(t *testing.T) {
	t.Parallel()

	crawls, docs := happyCrawl()
	h := newHarness(t, crawls, docs, "", nil)
	ctx := context.Background()

	h.svc.Answer(ctx, question)
	require.Equal(t, 2, h.index.Count("Example_Bank"))

	collection, err := h.svc.Reset(ctx, "exb")
	require.NoError(t, err)
	require.Equal(t, "Example_Bank", collection)
	require.Zero(t, h.index.Count("Example_Bank"))
	require.Zero(t, h.cache.Len())

	collection, err = h.svc.Reset(ctx, "Unknown Holdings")
	require.NoError(t, err)
	require.Equal(t, "Unknown_Holdings", collection)
}

func TestUnmatchedQuestionFallsBackToFirstCompany(t *testing.T) {
	t.Parallel()

	crawls, docs := happyCrawl()
	h := newHarness(t, crawls, docs, "", func(d *Deps) { d.Archive, d.Publisher = nil, nil })

	res := h.svc.Answer(context.Background(), "what were the latest profits?")

	require.Equal(t, "Example Bank", res.Company.Name)
	require.False(t, res.Company.Matched)
	require.Empty(t, res.Archived)
	require.Empty(t, h.pub.Messages())
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, Deps{})
	require.ErrorContains(t, err, "crawler is required")

	crawls, docs := happyCrawl()
	_, err = New(Config{}, Deps{Crawler: &fakeCrawler{bySeed: crawls}, Extractor: docs})
	require.ErrorContains(t, err, "relevance filter is required")
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{TopK: 3, ArchivePrefix: "pdfs"}.withDefaults()
	require.Equal(t, Caps{MaxHTML: 30, MaxPDF: 12}, cfg.AnswerCaps)
	require.Equal(t, Caps{MaxHTML: 40, MaxPDF: 14}, cfg.ReindexCaps)
	require.Equal(t, 3, cfg.TopK)
	require.Equal(t, 12, cfg.CitationLimit)
	require.Equal(t, 20, cfg.KeptURLLimit)
	require.Equal(t, 2, cfg.BootstrapMaxPDF)
	require.Equal(t, "pdfs", cfg.ArchivePrefix)
}

func TestCitationsDeduplicateAndCap(t *testing.T) {
	t.Parallel()

	hits := []storage.Hit{{URL: "a"}, {URL: "b"}, {URL: "a"}, {URL: "c"}}
	require.Equal(t, []string{"a", "b"}, citations(hits, nil, 2))
	require.Equal(t, []string{"k1", "k2"}, citations(nil, []crawler.Document{{URL: "k1"}, {URL: "k2"}, {URL: "k1"}}, 12))
}

func TestSecondsRounds(t *testing.T) {
	t.Parallel()

	require.InDelta(t, 1.235, Seconds(1234567890), 1e-9)
	require.Zero(t, Seconds(0))
}
