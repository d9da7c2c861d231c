// Package crawler implements the bounded discovery engine: URL normalization,
// the batch fetcher with its backoff policy, the link discoverer with its
// domain trust policy, and the two-wave crawl coordinator.
package crawler
