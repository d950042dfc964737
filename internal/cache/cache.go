// Package cache stores analysis results keyed by a fingerprint of the
// analyzed requirement text.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/reqlens/internal/model"
)

// Entry is a cached analysis result.
type Entry struct {
	Fingerprint string
	Record      *model.AnalysisRecord
	CreatedAt   time.Time
}

// Store persists cache entries across processes. Errors are logged, never
// returned to cache callers.
type Store interface {
	SaveCacheEntry(e Entry) error
	DeleteCacheEntry(fingerprint string) error
	ClearCacheEntries() error
}

// LatencySource reports the most recent backend latency. It feeds the
// time-saved estimate on cache hits.
type LatencySource interface {
	LastLatency() time.Duration
}

// Stats are cumulative cache statistics.
//
// TotalTimeSaved is an estimate: every hit adds the backend latency that
// was last observed when the hit happened, not a measured duration.
type Stats struct {
	TotalRequests  int           `json:"total_requests" yaml:"total_requests"`
	CacheHits      int           `json:"cache_hits" yaml:"cache_hits"`
	Misses         int           `json:"misses" yaml:"misses"`
	HitRate        float64       `json:"hit_rate" yaml:"hit_rate"`
	TotalTimeSaved time.Duration `json:"total_time_saved" yaml:"total_time_saved"`
	Invalidations  int           `json:"invalidations" yaml:"invalidations"`
	Clears         int           `json:"clears" yaml:"clears"`
	Entries        int           `json:"entries" yaml:"entries"`
}

// Options configures capacity and expiry. Zero values mean unbounded and
// never expiring.
type Options struct {
	MaxEntries int
	TTL        time.Duration
	Store      Store
	Latency    LatencySource
}

// Cache is a fingerprint-keyed analysis cache. It is safe for concurrent use.
type Cache struct {
	entries *expirable.LRU[string, Entry]
	store   Store
	latency LatencySource

	mu    sync.Mutex
	stats Stats
}

// New creates a cache.
func New(opts Options) *Cache {
	return &Cache{
		entries: expirable.NewLRU[string, Entry](opts.MaxEntries, nil, opts.TTL),
		store:   opts.Store,
		latency: opts.Latency,
	}
}

// Fingerprint derives the cache key for a piece of analyzable text.
// Whitespace runs are collapsed so reformatting alone does not miss.
func Fingerprint(text string) string {
	normalized := strings.Join(strings.Fields(text), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// FingerprintRequirement returns the fingerprint of a requirement's current text.
func FingerprintRequirement(r *model.Requirement) string {
	return Fingerprint(r.AnalyzableText())
}

// Get looks up a record. It performs no I/O.
func (c *Cache) Get(fingerprint string) (*model.AnalysisRecord, bool) {
	entry, ok := c.entries.Get(fingerprint)
	if ok && entry.Fingerprint != fingerprint {
		// Never serve an entry stored under a different fingerprint.
		logrus.Warnf("cache entry fingerprint mismatch for %s, dropping", short(fingerprint))
		c.entries.Remove(fingerprint)
		ok = false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.TotalRequests++
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	c.stats.CacheHits++
	if c.latency != nil {
		c.stats.TotalTimeSaved += c.latency.LastLatency()
	}
	return entry.Record.Clone(), true
}

// Peek is Get without statistics.
func (c *Cache) Peek(fingerprint string) (*model.AnalysisRecord, bool) {
	entry, ok := c.entries.Peek(fingerprint)
	if !ok || entry.Fingerprint != fingerprint {
		return nil, false
	}
	return entry.Record.Clone(), true
}

// Put stores a successful analysis. Failed records are ignored.
func (c *Cache) Put(fingerprint string, record *model.AnalysisRecord) {
	if record == nil || !record.IsAnalyzed {
		return
	}
	entry := Entry{
		Fingerprint: fingerprint,
		Record:      record.Clone(),
		CreatedAt:   time.Now().UTC(),
	}
	c.entries.Add(fingerprint, entry)

	if c.store != nil {
		if err := c.store.SaveCacheEntry(entry); err != nil {
			logrus.Warnf("persisting cache entry %s: %v", short(fingerprint), err)
		}
	}
}

// Invalidate removes a single entry and reports whether it existed.
func (c *Cache) Invalidate(fingerprint string) bool {
	removed := c.entries.Remove(fingerprint)

	c.mu.Lock()
	c.stats.Invalidations++
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.DeleteCacheEntry(fingerprint); err != nil {
			logrus.Warnf("deleting cache entry %s: %v", short(fingerprint), err)
		}
	}
	return removed
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.entries.Purge()

	c.mu.Lock()
	c.stats.Clears++
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.ClearCacheEntries(); err != nil {
			logrus.Warnf("clearing persisted cache: %v", err)
		}
	}
}

// Warm loads previously persisted entries without touching statistics.
func (c *Cache) Warm(entries []Entry) int {
	loaded := 0
	for _, e := range entries {
		if e.Record == nil || !e.Record.IsAnalyzed || e.Fingerprint == "" {
			continue
		}
		c.entries.Add(e.Fingerprint, e)
		loaded++
	}
	return loaded
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Statistics returns a snapshot of the cache statistics.
func (c *Cache) Statistics() Stats {
	c.mu.Lock()
	s := c.stats
	c.mu.Unlock()

	s.Entries = c.entries.Len()
	if s.TotalRequests > 0 {
		s.HitRate = float64(s.CacheHits) / float64(s.TotalRequests)
	}
	return s
}

func short(fingerprint string) string {
	if len(fingerprint) > 12 {
		return fingerprint[:12]
	}
	return fingerprint
}
