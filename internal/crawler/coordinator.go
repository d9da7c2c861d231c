package crawler

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Coordinator drives one bounded discovery cycle: a seed wave, a discovery
// wave over the candidates found on the seeds, and a secondary wave for
// document links embedded in fetched HTML. It never recurses further.
type Coordinator struct {
	batch      *BatchFetcher
	discoverer *LinkDiscoverer
	logger     *zap.Logger
}

// NewCoordinator wires a coordinator from its collaborators.
func NewCoordinator(batch *BatchFetcher, discoverer *LinkDiscoverer, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{batch: batch, discoverer: discoverer, logger: logger}
}

// crawlState tracks the first-seen-wins dedup set across waves.
type crawlState struct {
	attempted map[string]struct{}
	order     []string
	ok        []FetchResult
	stats     CrawlStats
}

func newCrawlState(exclude []string) *crawlState {
	s := &crawlState{attempted: make(map[string]struct{}, len(exclude))}
	for _, raw := range exclude {
		if u, err := NormalizeURL(raw); err == nil {
			s.attempted[u] = struct{}{}
		}
	}
	return s
}

// claim filters urls down to those never attempted, marking them attempted.
func (s *crawlState) claim(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, seen := s.attempted[u]; seen {
			continue
		}
		s.attempted[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

func (s *crawlState) record(results []FetchResult) []FetchResult {
	okWave := make([]FetchResult, 0, len(results))
	for _, r := range results {
		s.order = append(s.order, r.URL)
		s.stats.Attempted++
		if !r.OK {
			s.stats.Failed++
			continue
		}
		okWave = append(okWave, r)
	}
	s.ok = append(s.ok, okWave...)
	return okWave
}

// Crawl runs the discovery cycle. It is total: network failures only shrink
// the result, they are never returned.
func (c *Coordinator) Crawl(ctx context.Context, req CrawlRequest) CrawlResult {
	state := newCrawlState(req.Exclude)

	seeds := make([]string, 0, len(req.Seeds))
	for _, raw := range req.Seeds {
		u, err := NormalizeURL(raw)
		if err != nil {
			c.logger.Warn("skipping invalid seed", zap.String("url", raw), zap.Error(err))
			continue
		}
		seeds = append(seeds, u)
	}
	seeds = state.claim(seeds)
	state.stats.Seeds = len(seeds)
	if len(seeds) == 0 {
		return state.result()
	}

	// Wave 1: seeds.
	okSeeds := state.record(c.batch.FetchAll(ctx, seeds))

	// Discovery over successfully fetched HTML seeds.
	discoveries := c.discoverAll(okSeeds)
	var pagePool, filePool []string
	for _, d := range discoveries {
		for _, cand := range d.Pages {
			pagePool = append(pagePool, cand.URL)
		}
		for _, cand := range d.Files {
			filePool = append(filePool, cand.URL)
		}
	}
	pages := truncate(unseen(state, dedupe(pagePool)), req.MaxHTML)
	files := unseen(state, dedupe(filePool))
	if !req.IncludePDFs {
		files = nil
	}
	files = truncate(excluding(files, pages), req.MaxPDF)
	state.stats.PageCandidates = len(pages)
	state.stats.FileCandidates = len(files)

	// Wave 2: page candidates then file candidates.
	wave := state.claim(append(append([]string{}, pages...), files...))
	if len(wave) > 0 {
		state.record(c.batch.FetchAll(ctx, wave))
	}

	// Wave 3: document links embedded in any fetched HTML.
	if req.IncludePDFs {
		c.secondaryWave(ctx, state, req.MaxPDF)
	}

	c.logger.Info("crawl complete",
		zap.Int("seeds", state.stats.Seeds),
		zap.Int("attempted", state.stats.Attempted),
		zap.Int("failed", state.stats.Failed),
		zap.Int("ok", len(state.ok)),
	)
	return state.result()
}

func (c *Coordinator) discoverAll(results []FetchResult) []Discovery {
	out := make([]Discovery, len(results))
	var wg sync.WaitGroup
	for i, r := range results {
		if r.IsPDF() || len(r.Body) == 0 {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			out[i] = c.discoverer.Discover(r.URL, r.Body)
		}()
	}
	wg.Wait()
	return out
}

func (c *Coordinator) secondaryWave(ctx context.Context, state *crawlState, maxPDF int) {
	var links []string
	pdfs := 0
	for _, r := range state.ok {
		if r.IsPDF() {
			pdfs++
			continue
		}
		if r.IsHTML() {
			links = append(links, ScanDocumentLinks(r.URL, r.Body)...)
		}
	}
	slots := maxPDF - pdfs
	if slots <= 0 {
		return
	}
	links = truncate(unseen(state, dedupe(links)), slots)
	state.stats.SecondaryLinks = len(links)
	links = state.claim(links)
	if len(links) == 0 {
		return
	}
	state.record(c.batch.FetchAll(ctx, links))
}

func (s *crawlState) result() CrawlResult {
	return CrawlResult{Results: s.ok, Attempted: s.order, Stats: s.stats}
}

func unseen(state *crawlState, urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := state.attempted[u]; !ok {
			out = append(out, u)
		}
	}
	return out
}

func excluding(urls, taken []string) []string {
	if len(taken) == 0 {
		return urls
	}
	skip := make(map[string]struct{}, len(taken))
	for _, u := range taken {
		skip[u] = struct{}{}
	}
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := skip[u]; !ok {
			out = append(out, u)
		}
	}
	return out
}

func truncate(urls []string, limit int) []string {
	if limit <= 0 {
		return nil
	}
	if len(urls) > limit {
		return urls[:limit]
	}
	return urls
}
