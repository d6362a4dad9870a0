// Package cache keeps a rolling window of precomputed ephemeris snapshots.
//
// The cache holds snapshots for [now, now+horizon] at step-aligned
// timestamps. A background loop generates the leading edge, evicts entries
// older than the buffer, and rebuilds the whole window when the element
// dataset in the store is replaced. Reads are never blocked by a rebuild.
package cache

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/star/ephemgo/internal/elements"
	"github.com/star/ephemgo/internal/metrics"
	"github.com/star/ephemgo/internal/propagation"
)

// Config holds cache configuration loaded from environment variables.
type Config struct {
	Step    time.Duration // Snapshot interval (default: 1h)
	Horizon time.Duration // How far ahead to cache (default: 24h)
	Buffer  time.Duration // Keep entries this long past expiration (default: 1h)
}

// Entry wraps a snapshot with generation metadata.
type Entry struct {
	Snapshot    *propagation.Snapshot
	GeneratedAt time.Time
}

// datasetKey identifies the dataset a window was built from.
type datasetKey struct {
	source    string
	fetchedAt time.Time
}

func keyOf(ds *elements.Dataset) datasetKey {
	return datasetKey{source: ds.Source, fetchedAt: ds.FetchedAt}
}

func (k datasetKey) equal(o datasetKey) bool {
	return k.source == o.source && k.fetchedAt.Equal(o.fetchedAt)
}

// SnapshotCache is an in-memory cache of snapshots with a rolling window.
// Safe for concurrent use by multiple goroutines.
type SnapshotCache struct {
	mu      sync.RWMutex
	entries map[time.Time]*Entry

	config Config
	prop   *propagation.Propagator
	store  *elements.Store
	logger *slog.Logger
	now    func() time.Time

	// Dataset the current window was built from. Only touched by the
	// maintenance goroutine.
	built datasetKey

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	rebuilding atomic.Bool
}

// NewSnapshotCache creates a new snapshot cache.
func NewSnapshotCache(config Config, prop *propagation.Propagator, store *elements.Store, logger *slog.Logger) *SnapshotCache {
	logger.Info("cache initialized",
		"step", config.Step.String(),
		"horizon", config.Horizon.String(),
		"buffer", config.Buffer.String(),
	)

	return &SnapshotCache{
		entries: make(map[time.Time]*Entry),
		config:  config,
		prop:    prop,
		store:   store,
		logger:  logger,
		now:     time.Now,
	}
}

// RoundToStep rounds a timestamp down to the nearest step boundary in UTC.
func (c *SnapshotCache) RoundToStep(t time.Time) time.Time {
	return t.UTC().Truncate(c.config.Step)
}

// Get returns the snapshot for the step containing t, or nil if not cached.
func (c *SnapshotCache) Get(t time.Time) *propagation.Snapshot {
	key := c.RoundToStep(t)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if ok {
		c.recordHit()
		return entry.Snapshot
	}
	c.recordMiss()
	return nil
}

// GetLatest returns the newest snapshot at or before the current time,
// looking back at most a few steps.
func (c *SnapshotCache) GetLatest() *propagation.Snapshot {
	now := c.RoundToStep(c.now())

	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := 0; i < 4; i++ {
		key := now.Add(-time.Duration(i) * c.config.Step)
		if entry, ok := c.entries[key]; ok {
			c.recordHit()
			return entry.Snapshot
		}
	}
	c.recordMiss()
	return nil
}

func (c *SnapshotCache) recordHit() {
	c.hits.Add(1)
	metrics.IncCacheHits()
}

func (c *SnapshotCache) recordMiss() {
	c.misses.Add(1)
	metrics.IncCacheMisses()
}

// put stores a snapshot in the cache. Caller must not hold mu.
func (c *SnapshotCache) put(snap *propagation.Snapshot) {
	key := c.RoundToStep(snap.Timestamp)

	c.mu.Lock()
	c.entries[key] = &Entry{Snapshot: snap, GeneratedAt: c.now()}
	c.mu.Unlock()

	c.updateMetrics()
}

// evictExpired removes entries older than now - buffer.
func (c *SnapshotCache) evictExpired() int {
	cutoff := c.RoundToStep(c.now()).Add(-c.config.Buffer)
	var removed int

	c.mu.Lock()
	for ts := range c.entries {
		if ts.Before(cutoff) {
			delete(c.entries, ts)
			removed++
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		c.evictions.Add(int64(removed))
		metrics.AddCacheEvictions(removed)
		c.updateMetrics()
		c.logger.Debug("cache eviction", "entries_removed", removed)
	}
	return removed
}

// replaceAll swaps in a freshly built window.
func (c *SnapshotCache) replaceAll(entries map[time.Time]*Entry) {
	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
	c.updateMetrics()
}

// Stats holds cache statistics for the stats endpoint.
type Stats struct {
	Entries         int       `json:"entries"`
	SizeBytes       int64     `json:"size_bytes"`
	OldestTimestamp time.Time `json:"oldest_timestamp"`
	NewestTimestamp time.Time `json:"newest_timestamp"`
	Hits            int64     `json:"hits"`
	Misses          int64     `json:"misses"`
	Evictions       int64     `json:"evictions"`
	Rebuilding      bool      `json:"rebuilding"`
}

// Stats returns current cache statistics.
func (c *SnapshotCache) Stats() Stats {
	c.mu.RLock()
	count := len(c.entries)
	var oldest, newest time.Time
	for ts := range c.entries {
		if oldest.IsZero() || ts.Before(oldest) {
			oldest = ts
		}
		if newest.IsZero() || ts.After(newest) {
			newest = ts
		}
	}
	c.mu.RUnlock()

	return Stats{
		Entries:         count,
		SizeBytes:       c.estimateSizeBytes(),
		OldestTimestamp: oldest,
		NewestTimestamp: newest,
		Hits:            c.hits.Load(),
		Misses:          c.misses.Load(),
		Evictions:       c.evictions.Load(),
		Rebuilding:      c.rebuilding.Load(),
	}
}

// estimateSizeBytes returns a rough estimate of the cache memory footprint.
func (c *SnapshotCache) estimateSizeBytes() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	bodySize := int64(unsafe.Sizeof(propagation.BodyPosition{}))
	failureSize := int64(unsafe.Sizeof(propagation.BodyFailure{}))
	snapOverhead := int64(unsafe.Sizeof(propagation.Snapshot{}))
	entryOverhead := int64(unsafe.Sizeof(Entry{}))

	var total int64
	for _, entry := range c.entries {
		if entry.Snapshot == nil {
			continue
		}
		total += int64(len(entry.Snapshot.Bodies))*bodySize +
			int64(len(entry.Snapshot.Failures))*failureSize +
			snapOverhead + entryOverhead
	}
	// Map bucket overhead, roughly.
	total += int64(len(c.entries)) * 8
	return total
}

// updateMetrics publishes current cache size to Prometheus.
func (c *SnapshotCache) updateMetrics() {
	c.mu.RLock()
	count := len(c.entries)
	c.mu.RUnlock()

	metrics.SetCacheEntries(count)
	metrics.SetCacheSizeBytes(c.estimateSizeBytes())
}
