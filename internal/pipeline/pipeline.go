// Package pipeline sequences crawl, extraction, relevance filtering,
// indexing, retrieval, and metric mining for one company, and assembles the
// answer returned to callers.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/JakeFAU/disclosure-miner/internal/cache"
	"github.com/JakeFAU/disclosure-miner/internal/crawler"
	"github.com/JakeFAU/disclosure-miner/internal/finmetrics"
	"github.com/JakeFAU/disclosure-miner/internal/lexicon"
	"github.com/JakeFAU/disclosure-miner/internal/metrics"
	"github.com/JakeFAU/disclosure-miner/internal/registry"
	"github.com/JakeFAU/disclosure-miner/internal/relevance"
	"github.com/JakeFAU/disclosure-miner/internal/storage"
)

// EventRunCompleted is the event name of published run summaries.
const EventRunCompleted = "run.completed"

// Crawler runs one bounded discovery cycle.
type Crawler interface {
	Crawl(ctx context.Context, req crawler.CrawlRequest) crawler.CrawlResult
}

// Extractor converts fetch results into documents.
type Extractor interface {
	ExtractAll(ctx context.Context, results []crawler.FetchResult) []crawler.Document
}

// Filter partitions documents by relevance.
type Filter interface {
	Partition(docs []crawler.Document) (kept, dropped []relevance.FilteredDocument)
}

// MetricExtractor mines metric values from retrieved chunks.
type MetricExtractor interface {
	Extract(chunks []finmetrics.Chunk) finmetrics.MetricBag
}

// Resolver maps questions and names to registry companies.
type Resolver interface {
	Resolve(question string) (registry.Company, bool)
	Lookup(nameOrTicker string) (registry.Company, bool)
}

// Config holds caps and limits. Zero values take the defaults noted per field.
type Config struct {
	AnswerCaps  Caps // 30 pages, 12 files
	ReindexCaps Caps // 40 pages, 14 files
	// ExcludePDFs turns off file candidates and the secondary scan.
	ExcludePDFs     bool
	TopK            int // 12
	CitationLimit   int // 12
	KeptURLLimit    int // 20
	BootstrapMaxPDF int // 2
	ArchivePrefix   string
}

func (c Config) withDefaults() Config {
	if c.AnswerCaps == (Caps{}) {
		c.AnswerCaps = Caps{MaxHTML: 30, MaxPDF: 12}
	}
	if c.ReindexCaps == (Caps{}) {
		c.ReindexCaps = Caps{MaxHTML: 40, MaxPDF: 14}
	}
	if c.TopK <= 0 {
		c.TopK = 12
	}
	if c.CitationLimit <= 0 {
		c.CitationLimit = 12
	}
	if c.KeptURLLimit <= 0 {
		c.KeptURLLimit = 20
	}
	if c.BootstrapMaxPDF <= 0 {
		c.BootstrapMaxPDF = 2
	}
	if c.ArchivePrefix == "" {
		c.ArchivePrefix = "documents"
	}
	return c
}

// Deps are the collaborators of a Service. Cache, Archive, and Publisher are
// optional.
type Deps struct {
	Crawler   Crawler
	Extractor Extractor
	Filter    Filter
	Index     storage.ChunkIndex
	Metrics   MetricExtractor
	Registry  Resolver
	Ranker    *Ranker
	Cache     cache.Cache
	Archive   crawler.BlobStore
	Publisher crawler.Publisher
	Hasher    crawler.Hasher
	Clock     crawler.Clock
	IDs       crawler.IDGenerator
	Logger    *zap.Logger
}

// Service runs the pipeline. It is safe for concurrent use when its
// collaborators are.
type Service struct {
	cfg  Config
	deps Deps
	log  *zap.Logger
}

// New validates the required collaborators and builds a Service.
func New(cfg Config, deps Deps) (*Service, error) {
	switch {
	case deps.Crawler == nil:
		return nil, fmt.Errorf("crawler is required")
	case deps.Extractor == nil:
		return nil, fmt.Errorf("extractor is required")
	case deps.Filter == nil:
		return nil, fmt.Errorf("relevance filter is required")
	case deps.Index == nil:
		return nil, fmt.Errorf("chunk index is required")
	case deps.Metrics == nil:
		return nil, fmt.Errorf("metric extractor is required")
	case deps.Registry == nil:
		return nil, fmt.Errorf("registry is required")
	case deps.Hasher == nil || deps.Clock == nil || deps.IDs == nil:
		return nil, fmt.Errorf("hasher, clock, and id generator are required")
	}
	if deps.Ranker == nil {
		deps.Ranker = NewRanker(nil)
	}
	if deps.Cache == nil {
		deps.Cache = cache.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Service{cfg: cfg.withDefaults(), deps: deps, log: deps.Logger.Named("pipeline")}, nil
}

// Answer resolves the company named in the question and answers it with the
// answer caps, serving and filling the cache.
func (s *Service) Answer(ctx context.Context, question string) Result {
	company, matched := s.deps.Registry.Resolve(question)
	caps := s.cfg.AnswerCaps
	key := cache.Key{
		Collection: storage.CollectionName(company.Name),
		Question:   question,
		MaxHTML:    caps.MaxHTML,
		MaxPDF:     caps.MaxPDF,
	}

	cached, ok, err := s.deps.Cache.Get(ctx, key)
	if err != nil {
		s.log.Warn("cache lookup failed", zap.String("stage", string(StageCache)), zap.Error(err))
	}
	if ok {
		var res Result
		if err := json.Unmarshal(cached, &res); err == nil {
			metrics.ObserveCacheLookup(true)
			res.Cached = true
			return res
		}
		s.log.Warn("discarding undecodable cache entry", zap.String("key", key.String()))
	}
	metrics.ObserveCacheLookup(false)

	res := s.Run(ctx, company, matched, question, caps, ModeAnswer)
	if !res.IsDegraded() {
		if err := s.store(ctx, key, res); err != nil {
			s.log.Warn("cache store failed", zap.String("stage", string(StageCache)), zap.Error(err))
		}
	}
	return res
}

// Reindex crawls with the larger reindex caps, drops the company's cached
// answers, and returns the reduced summary.
func (s *Service) Reindex(ctx context.Context, question string) ReindexSummary {
	company, matched := s.deps.Registry.Resolve(question)
	collection := storage.CollectionName(company.Name)
	var cacheErr error
	if err := s.deps.Cache.Invalidate(ctx, collection); err != nil {
		s.log.Warn("cache invalidation failed", zap.String("collection", collection), zap.Error(err))
		cacheErr = err
	}
	res := s.Run(ctx, company, matched, question, s.cfg.ReindexCaps, ModeReindex)
	if cacheErr != nil {
		res.Degraded = append(res.Degraded, newStageError(StageCache, cacheErr))
	}
	return res.Summary()
}

// Reset drops a company's collection and cached answers. The argument may be
// a registry name or ticker, or any other name, which is sanitized as is.
func (s *Service) Reset(ctx context.Context, company string) (string, error) {
	name := company
	if c, ok := s.deps.Registry.Lookup(company); ok {
		name = c.Name
	}
	collection := storage.CollectionName(name)
	if err := s.deps.Index.Reset(ctx, collection); err != nil {
		return collection, fmt.Errorf("reset collection %q: %w", collection, err)
	}
	if err := s.deps.Cache.Invalidate(ctx, collection); err != nil {
		return collection, fmt.Errorf("invalidate cache for %q: %w", collection, err)
	}
	s.log.Info("collection reset", zap.String("collection", collection))
	return collection, nil
}

// Run executes every stage for one company. It never fails: collaborator
// errors are logged and reported in Result.Degraded.
func (s *Service) Run(
	ctx context.Context,
	company registry.Company,
	matched bool,
	question string,
	caps Caps,
	mode string,
) Result {
	start := time.Now()
	collection := storage.CollectionName(company.Name)
	res := Result{
		Mode: mode,
		Company: CompanyInfo{
			Name:       company.Name,
			Ticker:     company.Ticker,
			Sector:     company.Sector,
			Collection: collection,
			Matched:    matched,
		},
		Question: question,
		Intent:   "metrics",
	}
	runID, err := s.deps.IDs.NewID()
	if err != nil {
		s.log.Warn("run id generation failed", zap.Error(err))
	}
	res.RunID = runID
	log := s.log.With(zap.String("run_id", runID), zap.String("collection", collection), zap.String("mode", mode))

	// fetch
	stageStart := time.Now()
	crawl := s.deps.Crawler.Crawl(ctx, crawler.CrawlRequest{
		Seeds:       company.Seeds,
		MaxHTML:     caps.MaxHTML,
		MaxPDF:      caps.MaxPDF,
		IncludePDFs: !s.cfg.ExcludePDFs,
	})
	fetchDur := time.Since(stageStart)

	// extract, filter, rank
	stageStart = time.Now()
	docs := s.deps.Extractor.ExtractAll(ctx, crawl.Results)
	kept, dropped := s.deps.Filter.Partition(docs)
	ranked := s.deps.Ranker.Rank(kept)
	extractDur := time.Since(stageStart)

	fetched := crawl.Results
	if !hasPDF(ranked) && company.BootstrapPDF != "" {
		extra, bootFetch, bootExtract := s.bootstrap(ctx, company.BootstrapPDF, crawl.Attempted)
		fetchDur += bootFetch
		extractDur += bootExtract
		fetched = append(fetched, extra.Results...)
		if len(extra.docs) > 0 {
			res.Bootstrapped = true
			docs = append(docs, extra.docs...)
			ranked = append(ranked, extra.docs...)
			log.Info("bootstrap document injected", zap.String("url", company.BootstrapPDF))
		}
	}

	res.Crawl = crawl.Stats
	res.Counts = Counts{
		Fetched:   countResults(fetched),
		Extracted: countTypes(docs),
		Kept:      countTypes(ranked),
		Dropped:   countTypes(filteredDocs(dropped)),
	}
	res.HTMLCount, res.PDFCount = res.Counts.Kept.HTML, res.Counts.Kept.PDF

	if s.deps.Archive != nil {
		uris, err := s.archive(ctx, collection, fetched)
		res.Archived = uris
		if err != nil {
			log.Warn("archive failed", zap.String("stage", string(StageArchive)), zap.Error(err))
			res.Degraded = append(res.Degraded, newStageError(StageArchive, err))
		}
	}

	// index
	stageStart = time.Now()
	added, total, err := s.deps.Index.Index(ctx, collection, ranked)
	if err != nil {
		log.Warn("index failed", zap.String("stage", string(StageIndex)), zap.Error(err))
		res.Degraded = append(res.Degraded, newStageError(StageIndex, err))
	}
	res.AddedChunks, res.VectorCount = added, total
	indexDur := time.Since(stageStart)

	// retrieve
	stageStart = time.Now()
	hits, err := s.deps.Index.Retrieve(ctx, collection, question, s.cfg.TopK)
	if err != nil {
		log.Warn("retrieve failed", zap.String("stage", string(StageRetrieve)), zap.Error(err))
		res.Degraded = append(res.Degraded, newStageError(StageRetrieve, err))
		hits = nil
	}
	res.Retrieved = len(hits)
	retrieveDur := time.Since(stageStart)

	// metrics
	stageStart = time.Now()
	chunks := make([]finmetrics.Chunk, 0, len(hits))
	for _, h := range hits {
		chunks = append(chunks, finmetrics.Chunk{URL: h.URL, Text: h.Text})
	}
	res.Metrics = s.deps.Metrics.Extract(chunks)
	for kind, values := range res.Metrics {
		metrics.ObserveMetricValues(string(kind), len(values))
	}
	metricsDur := time.Since(stageStart)

	res.Citations = citations(hits, ranked, s.cfg.CitationLimit)
	res.KeptURLs = keptURLs(ranked, s.cfg.KeptURLLimit)
	res.Answer = summarize(res)
	res.Timings = Timings{
		Fetch:    Seconds(fetchDur),
		Extract:  Seconds(extractDur),
		Index:    Seconds(indexDur),
		Retrieve: Seconds(retrieveDur),
		Metrics:  Seconds(metricsDur),
		Total:    Seconds(time.Since(start)),
	}
	for stage, d := range map[Stage]time.Duration{
		StageFetch: fetchDur, StageExtract: extractDur, StageIndex: indexDur,
		StageRetrieve: retrieveDur, StageMetrics: metricsDur,
	} {
		metrics.ObserveStage(string(stage), d)
	}

	if s.deps.Publisher != nil {
		if err := s.publish(ctx, res); err != nil {
			log.Warn("publish failed", zap.String("stage", string(StagePublish)), zap.Error(err))
			res.Degraded = append(res.Degraded, newStageError(StagePublish, err))
		}
	}
	metrics.ObservePipelineRun(mode, res.IsDegraded())
	log.Info("pipeline run finished",
		zap.Int("fetched", res.Counts.Fetched.Total),
		zap.Int("kept", res.Counts.Kept.Total),
		zap.Int("dropped", res.Counts.Dropped.Total),
		zap.Int("added_chunks", res.AddedChunks),
		zap.Int("retrieved", res.Retrieved),
		zap.Bool("bootstrapped", res.Bootstrapped),
		zap.Int("degraded", len(res.Degraded)),
		zap.Float64("total_s", res.Timings.Total),
	)
	return res
}

type bootstrapResult struct {
	crawler.CrawlResult
	docs []crawler.Document
}

// bootstrap fetches the company's known PDF through a second bounded crawl
// that excludes everything attempted so far. Its documents skip the filter.
func (s *Service) bootstrap(
	ctx context.Context,
	pdfURL string,
	attempted []string,
) (bootstrapResult, time.Duration, time.Duration) {
	start := time.Now()
	crawl := s.deps.Crawler.Crawl(ctx, crawler.CrawlRequest{
		Seeds:       []string{pdfURL},
		MaxHTML:     0,
		MaxPDF:      s.cfg.BootstrapMaxPDF,
		IncludePDFs: true,
		Exclude:     attempted,
	})
	fetchDur := time.Since(start)
	start = time.Now()
	docs := s.deps.Extractor.ExtractAll(ctx, crawl.Results)
	return bootstrapResult{CrawlResult: crawl, docs: docs}, fetchDur, time.Since(start)
}

// archive stores every fetched PDF under <prefix>/<collection>/<sha256>.pdf.
// It keeps going after a failure and reports the first error.
func (s *Service) archive(ctx context.Context, collection string, results []crawler.FetchResult) ([]string, error) {
	var (
		uris     []string
		firstErr error
	)
	prefix := strings.Trim(s.cfg.ArchivePrefix, "/")
	for _, r := range results {
		if !r.OK || !r.IsPDF() || len(r.Body) == 0 {
			continue
		}
		hash, err := s.deps.Hasher.Hash(r.Body)
		if err != nil {
			firstErr = firstError(firstErr, fmt.Errorf("hash %s: %w", r.URL, err))
			continue
		}
		path := fmt.Sprintf("%s/%s/%s.pdf", prefix, collection, hash)
		uri, err := s.deps.Archive.PutObject(ctx, path, "application/pdf", bytes.NewReader(r.Body))
		if err != nil {
			firstErr = firstError(firstErr, fmt.Errorf("put %s: %w", r.URL, err))
			continue
		}
		uris = append(uris, uri)
	}
	return uris, firstErr
}

func (s *Service) publish(ctx context.Context, res Result) error {
	event := RunEvent{
		RunID:       res.RunID,
		Mode:        res.Mode,
		Company:     res.Company.Name,
		Collection:  res.Company.Collection,
		Counts:      res.Counts,
		AddedChunks: res.AddedChunks,
		VectorCount: res.VectorCount,
		Citations:   len(res.Citations),
		Timings:     res.Timings,
		Degraded:    res.Degraded,
		FinishedAt:  s.deps.Clock.Now(),
	}
	if _, err := s.deps.Publisher.Publish(ctx, EventRunCompleted, event); err != nil {
		return fmt.Errorf("publish run event: %w", err)
	}
	return nil
}

func (s *Service) store(ctx context.Context, key cache.Key, res Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	return s.deps.Cache.Set(ctx, key, data)
}

// citations lists distinct retrieved URLs in rank order, falling back to
// the kept documents when retrieval returned nothing.
func citations(hits []storage.Hit, kept []crawler.Document, limit int) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, limit)
	add := func(u string) {
		if u == "" || len(out) >= limit {
			return
		}
		if _, dup := seen[u]; dup {
			return
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	for _, h := range hits {
		add(h.URL)
	}
	if len(out) == 0 {
		for _, d := range kept {
			add(d.URL)
		}
	}
	return out
}

func keptURLs(docs []crawler.Document, limit int) []string {
	out := make([]string, 0, min(len(docs), limit))
	for _, d := range docs {
		if len(out) == limit {
			break
		}
		out = append(out, d.URL)
	}
	return out
}

var summaryPrinter = message.NewPrinter(language.English)

// summaryKinds are the metric kinds quoted in the answer text, in order.
var summaryKinds = []struct {
	kind  lexicon.Kind
	label string
}{
	{lexicon.Revenue, "Revenue"},
	{lexicon.NetProfit, "Net Profit"},
	{lexicon.Expenses, "Expenses"},
	{lexicon.Debt, "Debt"},
}

func summarize(res Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Fetched %d page(s) → extracted %d doc(s) (kept %d, dropped %d), html=%d, pdf=%d; ",
		res.Counts.Fetched.Total, res.Counts.Extracted.Total, res.Counts.Kept.Total, res.Counts.Dropped.Total,
		res.HTMLCount, res.PDFCount)
	fmt.Fprintf(&b, "indexed %d chunk(s), retrieved %d relevant chunk(s).", res.AddedChunks, res.Retrieved)

	var bits []string
	for _, sk := range summaryKinds {
		if values := res.Metrics[sk.kind]; len(values) > 0 {
			bits = append(bits, summaryPrinter.Sprintf("%s: ~%.0f", sk.label, values[0]))
		}
	}
	if len(bits) > 0 {
		b.WriteString(" Key metrics detected — " + strings.Join(bits, "; ") + ".")
	}
	return b.String()
}

func hasPDF(docs []crawler.Document) bool {
	for _, d := range docs {
		if d.Type == crawler.DocTypePDF {
			return true
		}
	}
	return false
}

func filteredDocs(fds []relevance.FilteredDocument) []crawler.Document {
	out := make([]crawler.Document, len(fds))
	for i, fd := range fds {
		out[i] = fd.Document
	}
	return out
}

func firstError(current, next error) error {
	if current != nil {
		return current
	}
	return next
}
