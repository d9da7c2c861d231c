package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/disclosure-miner/internal/crawler"
	"github.com/JakeFAU/disclosure-miner/internal/storage"
)

// ChunkIndex keeps chunks per collection in memory and ranks them by query
// term overlap. Distance is 1 minus the fraction of distinct query terms a
// chunk contains.
type ChunkIndex struct {
	mu          sync.RWMutex
	words       int
	collections map[string]*collection
}

type collection struct {
	ids    map[string]struct{}
	chunks []indexedChunk
}

type indexedChunk struct {
	chunk storage.Chunk
	terms map[string]struct{}
}

// NewChunkIndex constructs a ChunkIndex that splits documents into chunks of
// words words (storage.DefaultChunkWords when non-positive).
func NewChunkIndex(words int) *ChunkIndex {
	if words <= 0 {
		words = storage.DefaultChunkWords
	}
	return &ChunkIndex{
		words:       words,
		collections: make(map[string]*collection),
	}
}

// Index stores the documents' chunks, skipping IDs already present.
func (c *ChunkIndex) Index(_ context.Context, name string, docs []crawler.Document) (int, int, error) {
	chunks := storage.SplitDocuments(docs, c.words)

	c.mu.Lock()
	defer c.mu.Unlock()
	col, ok := c.collections[name]
	if !ok {
		col = &collection{ids: make(map[string]struct{})}
		c.collections[name] = col
	}
	added := 0
	for _, ch := range chunks {
		if _, dup := col.ids[ch.ID]; dup {
			continue
		}
		col.ids[ch.ID] = struct{}{}
		col.chunks = append(col.chunks, indexedChunk{chunk: ch, terms: termSet(ch.Text)})
		added++
	}
	return added, len(col.chunks), nil
}

// Retrieve ranks the collection against the query. Ties keep insertion order.
func (c *ChunkIndex) Retrieve(_ context.Context, name string, query string, k int) ([]storage.Hit, error) {
	k = storage.ClampK(k)
	queryTerms := termSet(query)

	c.mu.RLock()
	defer c.mu.RUnlock()
	col, ok := c.collections[name]
	if !ok || len(col.chunks) == 0 {
		return nil, nil
	}
	hits := make([]storage.Hit, 0, len(col.chunks))
	for _, ic := range col.chunks {
		hits = append(hits, storage.Hit{
			URL:      ic.chunk.URL,
			Type:     ic.chunk.Type,
			Text:     ic.chunk.Text,
			Distance: 1 - overlap(queryTerms, ic.terms),
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Reset drops the collection.
func (c *ChunkIndex) Reset(_ context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.collections, name)
	return nil
}

// Count reports how many chunks a collection holds.
func (c *ChunkIndex) Count(name string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if col, ok := c.collections[name]; ok {
		return len(col.chunks)
	}
	return 0
}

func termSet(text string) map[string]struct{} {
	terms := storage.Terms(text)
	set := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		set[t] = struct{}{}
	}
	return set
}

func overlap(query, chunk map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	shared := 0
	for t := range query {
		if _, ok := chunk[t]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(query))
}
