// Package cache holds pipeline answers keyed by collection, question, and
// fetch caps. Entries expire after a fixed TTL; the memory backend evicts the
// least recently used entry once it holds MaxEntries, while redis relies on
// key expiry alone.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Defaults applied when a backend is built with zero values.
const (
	DefaultTTL        = time.Hour
	DefaultMaxEntries = 256
)

const keyPrefix = "miner:answer:v1:"

// Key identifies one cached answer.
type Key struct {
	Collection string
	Question   string
	MaxHTML    int
	MaxPDF     int
}

// String renders the key as miner:answer:v1:<collection>:<html>:<pdf>:<digest>,
// where digest hashes the normalized question.
func (k Key) String() string {
	sum := sha256.Sum256([]byte(NormalizeQuestion(k.Question)))
	return CollectionPrefix(k.Collection) +
		strconv.Itoa(k.MaxHTML) + ":" + strconv.Itoa(k.MaxPDF) + ":" +
		hex.EncodeToString(sum[:16])
}

// CollectionPrefix is the prefix shared by every key of a collection.
func CollectionPrefix(collection string) string {
	return keyPrefix + collection + ":"
}

// NormalizeQuestion lowercases and collapses whitespace so trivially
// different phrasings share an entry.
func NormalizeQuestion(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// Cache stores serialized answers. A miss is (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, key Key) ([]byte, bool, error)
	Set(ctx context.Context, key Key, value []byte) error
	// Invalidate drops every entry of a collection.
	Invalidate(ctx context.Context, collection string) error
}

// Nop never stores anything.
type Nop struct{}

// Get always misses.
func (Nop) Get(context.Context, Key) ([]byte, bool, error) { return nil, false, nil }

// Set discards the value.
func (Nop) Set(context.Context, Key, []byte) error { return nil }

// Invalidate does nothing.
func (Nop) Invalidate(context.Context, string) error { return nil }
