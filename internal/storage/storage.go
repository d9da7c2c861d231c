// Package storage defines the chunk index contract shared by the memory and
// postgres backends, plus the chunking and naming rules every backend applies.
package storage

import (
	"context"
	"crypto/sha1" //nolint:gosec // chunk IDs are content addresses, not security tokens
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/JakeFAU/disclosure-miner/internal/crawler"
)

// DefaultChunkWords is the number of whitespace-separated words per chunk.
const DefaultChunkWords = 200

// Collection names are clamped to this range after sanitizing.
const (
	minCollectionLen = 3
	maxCollectionLen = 128
)

var collectionInvalid = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Chunk is one indexed slice of a document.
type Chunk struct {
	ID      string          `json:"id"`
	URL     string          `json:"url"`
	Type    crawler.DocType `json:"type"`
	Ordinal int             `json:"ordinal"`
	Text    string          `json:"text"`
}

// Hit is a retrieved chunk. Lower distance means closer to the query.
type Hit struct {
	URL      string          `json:"url"`
	Type     crawler.DocType `json:"type"`
	Text     string          `json:"text"`
	Distance float64         `json:"distance"`
}

// ChunkIndex persists document chunks per collection and ranks them against a query.
type ChunkIndex interface {
	// Index adds the documents' chunks and reports how many were new and the
	// collection's size afterwards. Chunks with an existing ID are ignored.
	Index(ctx context.Context, collection string, docs []crawler.Document) (added int, total int, err error)
	// Retrieve returns at most k hits ordered by ascending distance.
	Retrieve(ctx context.Context, collection string, query string, k int) ([]Hit, error)
	// Reset drops every chunk in the collection.
	Reset(ctx context.Context, collection string) error
}

// CollectionName sanitizes a company name into a collection name made of
// [A-Za-z0-9._-] with a length between 3 and 128.
func CollectionName(company string) string {
	s := strings.TrimSpace(company)
	if s == "" {
		s = "default"
	}
	s = strings.ReplaceAll(s, " ", "_")
	s = collectionInvalid.ReplaceAllString(s, "-")
	s = strings.Trim(s, "._-")
	if len(s) < minCollectionLen {
		s = (s + "-col")[:minCollectionLen]
	}
	if len(s) > maxCollectionLen {
		s = s[:maxCollectionLen]
	}
	return s
}

// SplitDocument cuts a document into chunks of at most words words.
// HTML documents without text yield nothing; a PDF without text yields one
// empty chunk so scanned reports stay citable.
func SplitDocument(doc crawler.Document, words int) []Chunk {
	if words <= 0 {
		words = DefaultChunkWords
	}
	fields := strings.FieldsFunc(doc.Text, unicode.IsSpace)
	if len(fields) == 0 {
		if doc.Type != crawler.DocTypePDF {
			return nil
		}
		return []Chunk{newChunk(doc, 0, "")}
	}
	chunks := make([]Chunk, 0, (len(fields)+words-1)/words)
	for start := 0; start < len(fields); start += words {
		end := min(start+words, len(fields))
		chunks = append(chunks, newChunk(doc, len(chunks), strings.Join(fields[start:end], " ")))
	}
	return chunks
}

// SplitDocuments chunks every document in order.
func SplitDocuments(docs []crawler.Document, words int) []Chunk {
	var out []Chunk
	for _, doc := range docs {
		out = append(out, SplitDocument(doc, words)...)
	}
	return out
}

// ChunkID derives the stable chunk identifier sha1(url::ordinal::sha1(text)).
func ChunkID(url string, ordinal int, text string) string {
	inner := sha1.Sum([]byte(text)) //nolint:gosec
	raw := url + "::" + strconv.Itoa(ordinal) + "::" + hex.EncodeToString(inner[:])
	outer := sha1.Sum([]byte(raw)) //nolint:gosec
	return hex.EncodeToString(outer[:])
}

func newChunk(doc crawler.Document, ordinal int, text string) Chunk {
	typ := doc.Type
	if typ == "" {
		typ = crawler.DocTypeHTML
	}
	return Chunk{
		ID:      ChunkID(doc.URL, ordinal, text),
		URL:     doc.URL,
		Type:    typ,
		Ordinal: ordinal,
		Text:    text,
	}
}

// Terms lowercases text and splits it into letter/digit runs, dropping
// single-rune tokens. Both index backends rank on these terms.
func Terms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.In(r, unicode.Mn, unicode.Mc)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) > 1 {
			out = append(out, f)
		}
	}
	return out
}

// ClampK bounds a requested result count to at least one.
func ClampK(k int) int {
	return max(1, k)
}
