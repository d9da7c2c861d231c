package crawler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/disclosure-miner/internal/metrics"
)

// BatchFetcher fans a set of URLs out to a single-attempt Fetcher, applying the
// backoff policy per URL. It is total over its input: every URL yields exactly
// one FetchResult and errors never escape.
type BatchFetcher struct {
	fetcher     Fetcher
	policy      BackoffPolicy
	concurrency int
	logger      *zap.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewBatchFetcher constructs a BatchFetcher. concurrency <= 0 means unbounded.
func NewBatchFetcher(fetcher Fetcher, policy BackoffPolicy, concurrency int, logger *zap.Logger) *BatchFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchFetcher{
		fetcher:     fetcher,
		policy:      policy,
		concurrency: concurrency,
		logger:      logger,
		sleep:       sleepContext,
	}
}

// FetchAll fetches every URL concurrently and returns results index-aligned with urls.
func (b *BatchFetcher) FetchAll(ctx context.Context, urls []string) []FetchResult {
	results := make([]FetchResult, len(urls))
	if len(urls) == 0 {
		return results
	}
	var g errgroup.Group
	if b.concurrency > 0 {
		g.SetLimit(b.concurrency)
	}
	for i, u := range urls {
		g.Go(func() error {
			results[i] = b.fetchOne(ctx, u)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (b *BatchFetcher) fetchOne(ctx context.Context, rawURL string) FetchResult {
	start := time.Now()
	var (
		lastErr  error
		attempts int
	)
	for attempt := 0; ; attempt++ {
		attempts = attempt + 1
		resp, err := b.fetcher.Fetch(ctx, rawURL)
		if err == nil {
			metrics.ObserveFetch(rawURL, metrics.OutcomeSuccess, len(resp.Body))
			return FetchResult{
				URL:         rawURL,
				OK:          true,
				StatusCode:  resp.StatusCode,
				ContentType: resp.ContentType,
				Body:        resp.Body,
				Attempts:    attempts,
				Duration:    time.Since(start),
			}
		}
		lastErr = err
		if !b.policy.ShouldRetry(err, attempt) {
			break
		}
		metrics.ObserveFetch(rawURL, metrics.OutcomeRetry, 0)
		if serr := b.sleep(ctx, b.policy.Backoff(attempt)); serr != nil {
			lastErr = serr
			break
		}
	}
	metrics.ObserveFetch(rawURL, metrics.OutcomeFailure, 0)
	b.logger.Warn("fetch failed", zap.String("url", rawURL), zap.Error(lastErr))
	return FetchResult{
		URL:      rawURL,
		OK:       false,
		Err:      lastErr.Error(),
		Attempts: attempts,
		Duration: time.Since(start),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
