// Package state holds the immutable scrape snapshot and the atomic
// slot it is published through. The slot carries all scraped data from
// the scraper to the HTTP handlers: one writer (the scraper) swaps it,
// any number of HTTP handlers read it without locking.
package state

import (
	"sync/atomic"
	"time"
)

// Shard is one pre-rendered output partition. Both bodies are written
// once at build time and served by reference afterwards.
type Shard struct {
	Text     []byte
	Gzip     []byte
	Series   int
	Families int
}

// Size returns the uncompressed body size in bytes.
func (s *Shard) Size() int { return len(s.Text) }

// SourceResult records the outcome of one source in one scrape cycle.
type SourceResult struct {
	URL      string
	Success  bool
	Duration time.Duration
	Families int
	Err      string
}

// Snapshot is one fully computed scrape result. It must never be
// mutated after Publish; every field is read concurrently.
type Snapshot struct {
	Shards     []Shard
	Sources    []SourceResult
	LastScrape time.Time
	NumShards  uint32
}

// AnySourceSucceeded reports whether at least one source produced data.
func (s *Snapshot) AnySourceSucceeded() bool {
	for _, src := range s.Sources {
		if src.Success {
			return true
		}
	}
	return false
}

// Publisher is the single slot readers load snapshots from. The zero
// value is ready to use; Load returns nil until the first Publish.
type Publisher struct {
	current atomic.Pointer[Snapshot]
}

// NewPublisher returns an empty publisher. Readers treat a nil snapshot
// as "not ready".
func NewPublisher() *Publisher {
	return &Publisher{}
}

// Load returns the current snapshot, or nil before the first publish.
// Lock-free; the returned snapshot stays valid for as long as the
// caller holds it, even across later publishes.
func (p *Publisher) Load() *Snapshot {
	return p.current.Load()
}

// Publish installs s as the current snapshot and reports whether the
// swap happened. Empty snapshots and snapshots whose sources all failed
// are refused so stale data stays visible instead.
func (p *Publisher) Publish(s *Snapshot) bool {
	if s == nil || len(s.Shards) == 0 || !s.AnySourceSucceeded() {
		return false
	}
	p.current.Store(s)
	return true
}
