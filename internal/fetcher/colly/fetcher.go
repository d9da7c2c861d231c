// Package collyfetcher implements a single-attempt crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/disclosure-miner/internal/crawler"
	"github.com/JakeFAU/disclosure-miner/internal/metrics"
)

// ErrPoolTimeout is returned when no connection slot frees up within PoolTimeout.
var ErrPoolTimeout = errors.New("connection pool acquire timed out")

// Config controls collector behavior. Zero timeouts fall back to defaults.
type Config struct {
	UserAgent string
	// ConnectTimeout bounds TCP dial.
	ConnectTimeout time.Duration
	// ReadTimeout bounds the wait for response headers after the request is written.
	ReadTimeout time.Duration
	// WriteTimeout bounds the TLS handshake and the expect-continue wait.
	WriteTimeout time.Duration
	// PoolTimeout bounds the wait for a free connection slot.
	PoolTimeout    time.Duration
	MaxConnections int
	MaxBodyBytes   int
}

// RateLimiter delays an attempt before it is sent.
type RateLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	slots         *semaphore.Weighted
	limiter       RateLimiter
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithRateLimiter applies limiter before each attempt.
func WithRateLimiter(limiter RateLimiter) Option {
	return func(f *Fetcher) { f.limiter = limiter }
}

// WithTransport overrides the HTTP transport (tests).
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Fetcher) { f.transport = rt }
}

// New builds a Fetcher.
func New(cfg Config, opts ...Option) *Fetcher {
	cfg = withDefaults(cfg)
	f := &Fetcher{
		cfg:   cfg,
		slots: semaphore.NewWeighted(int64(cfg.MaxConnections)),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.transport == nil {
		f.transport = newHTTPTransport(cfg)
	}

	c := colly.NewCollector(colly.Async(false))
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.IgnoreRobotsTxt = true
	// Clones share the visited store; retries must be able to revisit.
	c.AllowURLRevisit = true
	c.MaxBodySize = cfg.MaxBodyBytes
	c.WithTransport(f.transport)
	c.SetRequestTimeout(cfg.ConnectTimeout + cfg.WriteTimeout + cfg.ReadTimeout)
	f.baseCollector = c
	return f
}

func withDefaults(cfg Config) Config {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PoolTimeout <= 0 {
		cfg.PoolTimeout = 5 * time.Second
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 16
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 32 << 20
	}
	return cfg
}

// Fetch executes a single HTTP GET using Colly. Non-2xx statuses are errors
// wrapping crawler.ErrNonSuccessStatus.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (crawler.FetchResponse, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, rawURL); err != nil {
			return crawler.FetchResponse{}, err
		}
	}
	if err := f.acquire(ctx); err != nil {
		return crawler.FetchResponse{}, err
	}
	defer f.slots.Release(1)

	var (
		result   crawler.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(start, &result, &fetchErr)
	if err := f.runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return crawler.FetchResponse{}, err
	}
	return result, nil
}

func (f *Fetcher) acquire(ctx context.Context) error {
	acquireCtx, cancel := context.WithTimeout(ctx, f.cfg.PoolTimeout)
	defer cancel()
	if err := f.slots.Acquire(acquireCtx, 1); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
		}
		metrics.ObservePoolTimeout()
		return ErrPoolTimeout
	}
	return nil
}

func (f *Fetcher) buildCollector(start time.Time, result *crawler.FetchResponse, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	f.configureCollectorHooks(collector, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *crawler.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/pdf;q=0.9,*/*;q=0.8")
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = crawler.FetchResponse{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: contentType(r.Headers),
			Body:        append([]byte(nil), r.Body...),
			Duration:    time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && (r.StatusCode < 200 || r.StatusCode > 299) && r.StatusCode != 0 {
			*fetchErr = fmt.Errorf("%w: %d", crawler.ErrNonSuccessStatus, r.StatusCode)
			return
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

// contentType returns the lowercased media type without parameters.
func contentType(h *http.Header) string {
	if h == nil {
		return ""
	}
	ct, _, _ := strings.Cut(h.Get("Content-Type"), ";")
	return strings.ToLower(strings.TrimSpace(ct))
}

func newHTTPTransport(cfg Config) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   cfg.WriteTimeout,
		ExpectContinueTimeout: time.Second,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		MaxIdleConns:          100,
		MaxConnsPerHost:       cfg.MaxConnections,
		IdleConnTimeout:       90 * time.Second,
	}
}
