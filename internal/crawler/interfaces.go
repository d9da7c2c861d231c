package crawler

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNonSuccessStatus marks a response whose status code was outside 2xx.
var ErrNonSuccessStatus = errors.New("non-success status")

// Fetcher performs a single HTTP GET attempt. Implementations return an error
// for transport failures and for any non-2xx status.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (FetchResponse, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher emits run events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, event string, payload any) (string, error)
}

// Hasher computes digests for chunk IDs and archive paths.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
