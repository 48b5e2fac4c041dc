// Package cache implements the service call cache: a memoization layer in
// front of paid recognition and completion services. Calls are keyed by a
// fingerprint of the service identifier, the exact request content, and the
// request parameters, so repeated analysis of unchanged documents costs
// nothing and concurrent identical requests collapse into a single call.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// Cache errors.
var (
	// ErrInconsistent is returned when a persisted entry does not match the
	// key it is filed under. The cache contents can no longer be trusted and
	// the run must stop rather than risk serving wrong analysis results.
	ErrInconsistent = errors.New("cache entry inconsistent with its key")

	// ErrClosed is returned when the store has been closed.
	ErrClosed = errors.New("cache store closed")
)

// Key identifies one external service call.
type Key struct {
	// Service names the collaborator and operation, e.g. "vision/text".
	Service string

	// ContentHash is the SHA-256 of the exact bytes sent to the service.
	ContentHash string

	// Params captures the request parameters that influence the response,
	// in a canonical string form (model name, feature list, language hints).
	Params string
}

// Fingerprint derives the stable cache key string. Two calls share a
// fingerprint exactly when service, content and parameters all match.
func (k Key) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(k.Service))
	h.Write([]byte{0})
	h.Write([]byte(k.ContentHash))
	h.Write([]byte{0})
	h.Write([]byte(k.Params))
	return hex.EncodeToString(h.Sum(nil))
}

// HashBytes returns the hex SHA-256 of data, for use as a Key.ContentHash.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Entry is a stored service response.
type Entry struct {
	// Payload is the serialized service response.
	Payload []byte

	// CreatedAt is when the response was first obtained.
	CreatedAt time.Time
}

// Store persists cache entries. Implementations must be safe for concurrent
// use. Lookup returns found=false for a clean miss; any error other than nil
// means the store itself is unhealthy and the caller should abort.
type Store interface {
	Lookup(ctx context.Context, key Key) (entry Entry, found bool, err error)
	Store(ctx context.Context, key Key, entry Entry) error
	Close() error
}
