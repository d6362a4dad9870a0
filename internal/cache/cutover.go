package cache

import (
	"context"
	"time"

	"github.com/star/ephemgo/internal/metrics"
)

// datasetChanged reports whether the store holds a different dataset than
// the one the window was built from.
func (c *SnapshotCache) datasetChanged() bool {
	ds := c.store.Get()
	if ds == nil {
		return false
	}
	return !keyOf(ds).equal(c.built)
}

// performCutover rebuilds the whole window from the new dataset. The old
// entries keep serving reads until the new map is swapped in. A cancelled
// rebuild leaves the old window in place.
func (c *SnapshotCache) performCutover(ctx context.Context) {
	ds := c.store.Get()
	if ds == nil {
		return
	}

	c.logger.Info("dataset cutover starting",
		"old_source", c.built.source,
		"new_source", ds.Source,
		"new_fetched_at", ds.FetchedAt.UTC().Format(time.RFC3339),
	)

	c.rebuilding.Store(true)
	metrics.SetCacheGracePeriodActive(true)
	defer func() {
		c.rebuilding.Store(false)
		metrics.SetCacheGracePeriodActive(false)
	}()

	start := time.Now()
	entries, ok := c.buildWindow(ctx, "cutover")
	if !ok {
		c.logger.Warn("cutover cancelled by context")
		return
	}

	c.replaceAll(entries)
	c.built = keyOf(ds)

	duration := time.Since(start)
	metrics.ObserveCacheRegenerationDuration(duration)
	c.logger.Info("dataset cutover complete",
		"entries_replaced", len(entries),
		"duration_ms", duration.Milliseconds(),
	)
}
