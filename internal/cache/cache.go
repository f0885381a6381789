// Package cache is the disposable response and content-hash store used by the
// fetcher and the cheap validator. Losing it costs only refetches.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/rotisserie/eris"
)

// DefaultTTL applies when Set is called with a non-positive ttl.
const DefaultTTL = 24 * time.Hour

// HashTTL is how long a recorded content hash survives. It outlives the
// longest re-check interval so drift is detected across runs.
const HashTTL = 120 * 24 * time.Hour

// PartialHashRunes is how much page text PartialHash considers.
const PartialHashRunes = 5000

// Entry is one cached value.
type Entry struct {
	Key         string    `json:"key"`
	Value       []byte    `json:"value"`
	ContentHash string    `json:"content_hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the entry is past its expiry at now.
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Stats summarizes cache occupancy.
type Stats struct {
	Backend string `json:"backend"`
	Total   int    `json:"total"`
	Expired int    `json:"expired"`
	Valid   int    `json:"valid"`
}

// Cache is a TTL key-value store with content-hash change detection.
// Implementations are safe for concurrent use; Set is last-writer-wins.
type Cache interface {
	// Get returns the entry for key, or nil when missing or expired.
	Get(ctx context.Context, key string) (*Entry, error)
	// Set stores value under key for ttl (DefaultTTL when ttl <= 0).
	Set(ctx context.Context, key string, value []byte, contentHash string, ttl time.Duration) error
	// HasHashChanged compares newHash with the hash last recorded under key,
	// reporting true when there is none, and records newHash.
	HasHashChanged(ctx context.Context, key, newHash string) (bool, error)
	// CompareHash is HasHashChanged that also reports whether a hash had
	// been recorded under key before this call.
	CompareHash(ctx context.Context, key, newHash string) (changed, known bool, err error)
	Cleanup(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// ContentHash returns the hex SHA-256 digest of b.
func ContentHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// PartialHash hashes the first PartialHashRunes characters of text. Page
// chrome further down (footers, counters) is ignored.
func PartialHash(text string) string {
	r := []rune(text)
	if len(r) > PartialHashRunes {
		r = r[:PartialHashRunes]
	}
	return ContentHash([]byte(string(r)))
}

// ttlOrDefault normalizes a Set ttl.
func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

func checkKey(key string) error {
	if key == "" {
		return eris.New("cache: empty key")
	}
	return nil
}
