package crawler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type scriptedFetcher struct {
	mu       sync.Mutex
	calls    map[string]int
	failures map[string]int
	bodies   map[string]string
	types    map[string]string
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{
		calls:    make(map[string]int),
		failures: make(map[string]int),
		bodies:   make(map[string]string),
		types:    make(map[string]string),
	}
}

func (f *scriptedFetcher) page(url, contentType, body string) *scriptedFetcher {
	f.bodies[url] = body
	f.types[url] = contentType
	return f
}

func (f *scriptedFetcher) Fetch(_ context.Context, rawURL string) (FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[rawURL]++
	if f.calls[rawURL] <= f.failures[rawURL] {
		return FetchResponse{}, fmt.Errorf("transient failure %d", f.calls[rawURL])
	}
	body, ok := f.bodies[rawURL]
	if !ok {
		return FetchResponse{}, fmt.Errorf("%w: 404", ErrNonSuccessStatus)
	}
	return FetchResponse{URL: rawURL, StatusCode: 200, ContentType: f.types[rawURL], Body: []byte(body)}, nil
}

func (f *scriptedFetcher) callCount(rawURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[rawURL]
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestBatch(f Fetcher, retries int) *BatchFetcher {
	b := NewBatchFetcher(f, NewBackoffPolicy(retries, time.Millisecond, time.Millisecond, 2), 4, nil)
	b.sleep = noSleep
	return b
}

func TestBatchFetcherRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	f := newScriptedFetcher().page("https://a.test/", "text/html", "<p>ok</p>")
	f.failures["https://a.test/"] = 1

	results := newTestBatch(f, 1).FetchAll(context.Background(), []string{"https://a.test/"})
	require.Len(t, results, 1)
	require.True(t, results[0].OK)
	require.Equal(t, 2, results[0].Attempts)
	require.Equal(t, "<p>ok</p>", string(results[0].Body))
}

func TestBatchFetcherIsTotal(t *testing.T) {
	t.Parallel()

	f := newScriptedFetcher().page("https://ok.test/", "text/html", "fine")
	urls := []string{"https://missing.test/", "https://ok.test/", "https://also-missing.test/"}

	results := newTestBatch(f, 2).FetchAll(context.Background(), urls)
	require.Len(t, results, len(urls))
	for i, r := range results {
		require.Equal(t, urls[i], r.URL, "results are index-aligned")
	}
	require.False(t, results[0].OK)
	require.Contains(t, results[0].Err, "404")
	require.Equal(t, 3, results[0].Attempts)
	require.Equal(t, 3, f.callCount("https://missing.test/"))
	require.True(t, results[1].OK)
	require.False(t, results[2].OK)
}

func TestBatchFetcherStopsOnCancelledSleep(t *testing.T) {
	t.Parallel()

	f := newScriptedFetcher()
	b := newTestBatch(f, 5)
	b.sleep = func(context.Context, time.Duration) error { return context.Canceled }

	results := b.FetchAll(context.Background(), []string{"https://down.test/"})
	require.False(t, results[0].OK)
	require.Equal(t, 1, results[0].Attempts)
	require.Equal(t, context.Canceled.Error(), results[0].Err)
}

func TestBatchFetcherEmpty(t *testing.T) {
	t.Parallel()

	require.Empty(t, newTestBatch(newScriptedFetcher(), 0).FetchAll(context.Background(), nil))
}

func TestSleepContext(t *testing.T) {
	t.Parallel()

	require.NoError(t, sleepContext(context.Background(), 0))
	require.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
