package cache

import (
	"context"
	"time"

	"github.com/star/ephemgo/internal/metrics"
	"github.com/star/ephemgo/internal/propagation"
)

// Start runs the cache maintenance loop: wait for a dataset, fill the window,
// then on every step generate the leading edge, evict the trailing edge and
// rebuild when the dataset changes. Blocks until ctx is cancelled.
func (c *SnapshotCache) Start(ctx context.Context) {
	if !c.waitForDataset(ctx) {
		return
	}

	c.warmup(ctx)

	ticker := time.NewTicker(c.config.Step)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("cache generator stopped")
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

// waitForDataset blocks until the store holds a dataset, polling every
// second. Returns false if ctx is cancelled first.
func (c *SnapshotCache) waitForDataset(ctx context.Context) bool {
	if c.store.Get() != nil {
		return true
	}

	c.logger.Info("cache waiting for element data")
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if c.store.Get() != nil {
				c.logger.Info("element data available, starting cache warmup")
				return true
			}
		}
	}
}

// buildWindow computes every snapshot in [now, now+horizon]. Failed steps
// are logged and skipped. Returns nil, false if ctx is cancelled.
func (c *SnapshotCache) buildWindow(ctx context.Context, phase string) (map[time.Time]*Entry, bool) {
	now := c.RoundToStep(c.now())
	numFrames := int(c.config.Horizon/c.config.Step) + 1
	entries := make(map[time.Time]*Entry, numFrames)

	for i := 0; i < numFrames; i++ {
		select {
		case <-ctx.Done():
			return nil, false
		default:
		}

		target := now.Add(time.Duration(i) * c.config.Step)
		snap, err := c.prop.PropagateToTime(ctx, target)
		if err != nil {
			c.logger.Warn(phase+" propagation failed",
				"timestamp", target.Format(time.RFC3339),
				"error", err,
			)
			metrics.IncCacheRegenerationErrors()
			continue
		}
		entries[target] = &Entry{Snapshot: snap, GeneratedAt: c.now()}
	}
	return entries, true
}

// warmup fills the cache for [now, now+horizon].
func (c *SnapshotCache) warmup(ctx context.Context) {
	ds := c.store.Get()
	if ds == nil {
		return
	}

	start := time.Now()
	entries, ok := c.buildWindow(ctx, "warmup")
	if !ok {
		return
	}
	c.replaceAll(entries)
	c.built = keyOf(ds)

	c.logger.Info("cache warmup complete",
		"generated", len(entries),
		"dataset_source", ds.Source,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// tick runs one iteration of the maintenance loop.
func (c *SnapshotCache) tick(ctx context.Context) {
	if c.datasetChanged() {
		c.performCutover(ctx)
		return
	}
	c.generateLeadingEdge(ctx)
	c.evictExpired()
}

// generateLeadingEdge computes the snapshot at now+horizon if missing.
func (c *SnapshotCache) generateLeadingEdge(ctx context.Context) {
	target := c.RoundToStep(c.now().Add(c.config.Horizon))

	c.mu.RLock()
	_, cached := c.entries[target]
	c.mu.RUnlock()
	if cached {
		return
	}

	start := time.Now()
	snap, err := c.prop.PropagateToTime(ctx, target)
	duration := time.Since(start)
	if err != nil {
		c.logger.Warn("leading edge generation failed",
			"timestamp", target.Format(time.RFC3339),
			"error", err,
		)
		metrics.IncCacheRegenerationErrors()
		return
	}

	c.put(snap)
	metrics.ObserveCacheRegenerationDuration(duration)
	c.logger.Debug("leading edge generated",
		"timestamp", target.Format(time.RFC3339),
		"failures", len(snap.Failures),
	)
}

// Prime stores an externally computed snapshot if it falls on a step boundary.
func (c *SnapshotCache) Prime(snap *propagation.Snapshot) bool {
	if snap == nil || !snap.Timestamp.Equal(c.RoundToStep(snap.Timestamp)) {
		return false
	}
	c.put(snap)
	return true
}
