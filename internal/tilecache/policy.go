// Package tilecache implements the two cache tiers in front of the
// elevation data sources: a volatile in-process tier keyed by layer
// revision + tile address + scheme signature, and a durable sqlite tier
// keyed by string cache key and gated by a read/write/expiration
// policy. It also owns the payload codec and the cache database schema.
package tilecache

import "time"

// Policy gates access to the persistent tier.
type Policy struct {
	Readable  bool
	Writable  bool
	CacheOnly bool          // never query the source backend; cache or nothing
	MaxAge    time.Duration // 0 = entries never expire
}

// DefaultPolicy reads and writes with no expiration.
func DefaultPolicy() Policy {
	return Policy{Readable: true, Writable: true}
}

// Expired reports whether an entry written at lastModified is past the
// policy's maximum age.
func (p Policy) Expired(lastModified, now time.Time) bool {
	if p.MaxAge <= 0 {
		return false
	}
	return now.Sub(lastModified) > p.MaxAge
}
