package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/disclosure-miner/internal/crawler"
)

func TestChunkIndexIndexAndRetrieve(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	idx := NewChunkIndex(0)
	docs := []crawler.Document{
		{URL: "https://bank.example/news", Type: crawler.DocTypeHTML, Text: "branch opening ceremony"},
		{URL: "https://bank.example/q3.pdf", Type: crawler.DocTypePDF, Text: "net profit rose in the third quarter"},
		{URL: "https://bank.example/scan.pdf", Type: crawler.DocTypePDF},
		{URL: "https://bank.example/empty", Type: crawler.DocTypeHTML},
	}

	added, total, err := idx.Index(ctx, "nabil", docs)
	require.NoError(t, err)
	require.Equal(t, 3, added)
	require.Equal(t, 3, total)

	added, total, err = idx.Index(ctx, "nabil", docs[:2])
	require.NoError(t, err)
	require.Zero(t, added)
	require.Equal(t, 3, total)

	hits, err := idx.Retrieve(ctx, "nabil", "net profit figures", 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	require.Equal(t, "https://bank.example/q3.pdf", hits[0].URL)
	require.InDelta(t, 1-2.0/3.0, hits[0].Distance, 1e-9)
	require.Equal(t, "https://bank.example/news", hits[1].URL)
	require.InDelta(t, 1.0, hits[1].Distance, 1e-9)
}

func TestChunkIndexCollectionsAreIsolated(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	idx := NewChunkIndex(50)
	_, _, err := idx.Index(ctx, "alpha", []crawler.Document{{URL: "https://a.example/", Type: crawler.DocTypeHTML, Text: "revenue"}})
	require.NoError(t, err)

	hits, err := idx.Retrieve(ctx, "beta", "revenue", 5)
	require.NoError(t, err)
	require.Empty(t, hits)

	require.Equal(t, 1, idx.Count("alpha"))
	require.NoError(t, idx.Reset(ctx, "alpha"))
	require.Zero(t, idx.Count("alpha"))
	hits, err = idx.Retrieve(ctx, "alpha", "revenue", 5)
	require.NoError(t, err)
	require.Empty(t, hits)
}
