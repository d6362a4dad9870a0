// Package stream implements Server-Sent Events (SSE) streaming of body
// positions. Clients connect via GET /api/v1/stream/positions and receive one
// heliocentric snapshot per interval until they disconnect.
//
// The first event always describes the element table:
//
//	event: metadata
//	data: {"type":"metadata","dataset_source":"embedded","dataset_fetched_at":"...","dataset_age_seconds":1800,"bodies":9}
//
// followed by snapshot events whose id is the snapshot instant:
//
//	event: snapshot
//	id: 2026-02-06T04:00:00Z
//	data: {"type":"snapshot","t":"2026-02-06T04:00:00Z","jd":2461077.666667,"frame":"ecliptic_j2000","cached":true,"bodies":[...]}
//
// By default snapshots come from the rolling cache and are only sent when the
// cached step advances; a reconnecting client's Last-Event-ID suppresses the
// step it already has. With live=true every tick is propagated to the current
// instant. Keep-alive comments (:\n\n) are sent every KeepaliveInterval.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/star/ephemgo/internal/cache"
	"github.com/star/ephemgo/internal/elements"
	"github.com/star/ephemgo/internal/httputil"
	"github.com/star/ephemgo/internal/metrics"
	"github.com/star/ephemgo/internal/propagation"
	"github.com/star/ephemgo/internal/transform"
)

// Config holds streaming configuration loaded from environment variables.
type Config struct {
	MaxConcurrentPerIP int           // Max concurrent streams per IP (default: 10).
	MaxTotal           int           // Max concurrent streams server-wide (default: 1000).
	KeepaliveInterval  time.Duration // Keep-alive ping interval (default: 30s).
	Interval           time.Duration // Default tick between snapshots (default: 10s).
	TrustProxy         bool
}

// Handler manages SSE streaming connections.
type Handler struct {
	cache   *cache.SnapshotCache // nil means every tick is live
	prop    *propagation.Propagator
	store   *elements.Store
	config  Config
	limiter *streamLimiter
	logger  *slog.Logger
	now     func() time.Time
}

// NewHandler creates a new streaming handler. snapCache may be nil.
func NewHandler(snapCache *cache.SnapshotCache, prop *propagation.Propagator, store *elements.Store, config Config, logger *slog.Logger) *Handler {
	if config.KeepaliveInterval <= 0 {
		config.KeepaliveInterval = 30 * time.Second
	}
	if config.Interval <= 0 {
		config.Interval = 10 * time.Second
	}
	return &Handler{
		cache:   snapCache,
		prop:    prop,
		store:   store,
		config:  config,
		limiter: newStreamLimiter(config.MaxConcurrentPerIP, config.MaxTotal),
		logger:  logger,
		now:     time.Now,
	}
}

// HandlePositions serves the SSE position stream.
// GET /api/v1/stream/positions?interval=10&relative_to=Earth&live=true
func (h *Handler) HandlePositions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	interval := h.config.Interval
	if v := q.Get("interval"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 3600 {
			writeError(w, http.StatusBadRequest, "invalid interval parameter, must be 1-3600 seconds")
			return
		}
		interval = time.Duration(n) * time.Second
	}

	live := h.cache == nil
	if v := q.Get("live"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid live parameter")
			return
		}
		live = live || b
	}

	ds := h.store.Get()
	if ds == nil {
		writeError(w, http.StatusServiceUnavailable, propagation.ErrNoDataset.Error())
		return
	}
	ref := q.Get("relative_to")
	if ref != "" {
		if _, ok := ds.Lookup(ref); !ok {
			writeError(w, http.StatusNotFound, fmt.Sprintf("%v: %q", transform.ErrReferenceNotFound, ref))
			return
		}
	}

	// Enforce the concurrent stream limit per IP.
	ip := httputil.ClientIP(r, h.config.TrustProxy)
	if err := h.limiter.acquire(ip); err != nil {
		metrics.IncStreamErrors("rate_limit")
		h.logger.Warn("stream rate limit exceeded",
			"remote_ip", ip,
			"ip_count", h.limiter.count(ip),
			"total_count", h.limiter.total(),
			"error", err,
		)
		w.Header().Set("Retry-After", "30")
		writeError(w, http.StatusTooManyRequests, err.Error())
		return
	}

	metrics.IncStreamConnections("connect")
	metrics.IncStreamsActive()

	var ew *eventWriter
	startTime := h.now()
	h.logger.Info("stream connected",
		"remote_ip", ip,
		"user_agent", r.Header.Get("User-Agent"),
		"interval", interval.String(),
		"relative_to", ref,
		"live", live,
	)

	defer func() {
		h.limiter.release(ip)
		metrics.IncStreamConnections("disconnect")
		metrics.DecStreamsActive()
		attrs := []any{"remote_ip", ip, "duration_seconds", int(h.now().Sub(startTime).Seconds())}
		if ew != nil {
			attrs = append(attrs, "events_sent", ew.events, "bytes_sent", ew.bytes)
		}
		h.logger.Info("stream disconnected", attrs...)
	}()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Long-lived streams must not inherit the server's WriteTimeout.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "error", err)
	}

	ew = &eventWriter{
		w:       w,
		flusher: flusher,
		rc:      rc,
		logger:  h.logger,
	}

	// Jittered retry (3-7s) spreads reconnects after a server restart.
	if err := ew.retry(time.Duration(3000+rand.Intn(4000)) * time.Millisecond); err != nil {
		metrics.IncStreamErrors("send_error")
		h.logger.Warn("stream send error (retry)", "remote_ip", ip, "error", err)
		return
	}

	meta := metadataMessage{
		Type:             "metadata",
		DatasetSource:    ds.Source,
		DatasetFetchedAt: ds.FetchedAt.UTC().Format(time.RFC3339),
		DatasetAge:       int(h.now().Sub(ds.FetchedAt).Seconds()),
		Bodies:           len(ds.Bodies),
	}
	if err := ew.metadata(meta); err != nil {
		metrics.IncStreamErrors("send_error")
		h.logger.Warn("stream send error (metadata)", "remote_ip", ip, "error", err)
		return
	}

	ctx := r.Context()
	var last time.Time
	if id := r.Header.Get("Last-Event-ID"); id != "" {
		if t, err := time.Parse(time.RFC3339, id); err == nil {
			last = t
		}
	}
	emit := func() error {
		snap, cached, err := h.next(ctx, live)
		if err != nil {
			metrics.IncStreamErrors("propagation")
			h.logger.Debug("stream snapshot unavailable", "remote_ip", ip, "error", err)
			return nil
		}
		if cached && snap.Timestamp.Equal(last) {
			return nil
		}
		msg, err := buildSnapshotMessage(snap, ref, cached)
		if err != nil {
			metrics.IncStreamErrors("relative")
			h.logger.Debug("stream snapshot skipped", "remote_ip", ip, "error", err)
			return nil
		}
		if err := ew.snapshot(msg); err != nil {
			return err
		}
		last = snap.Timestamp
		return nil
	}

	if err := emit(); err != nil {
		metrics.IncStreamErrors("send_error")
		h.logger.Warn("stream send error", "remote_ip", ip, "error", err)
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	keepaliveTicker := time.NewTicker(h.config.KeepaliveInterval)
	defer keepaliveTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			sent := ew.events
			if err := emit(); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream send error", "remote_ip", ip, "error", err)
				return
			}
			if ew.events > sent {
				keepaliveTicker.Reset(h.config.KeepaliveInterval)
			}

		case <-keepaliveTicker.C:
			if err := ew.keepalive(); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream keepalive error", "remote_ip", ip, "error", err)
				return
			}
		}
	}
}

// next returns the snapshot for the current tick, preferring the cache unless
// live is set.
func (h *Handler) next(ctx context.Context, live bool) (*propagation.Snapshot, bool, error) {
	if !live {
		if snap := h.cache.GetLatest(); snap != nil {
			return snap, true, nil
		}
		metrics.IncStreamErrors("cache_miss")
	}
	snap, err := h.prop.PropagateToTime(ctx, h.now())
	return snap, false, err
}

// buildSnapshotMessage formats a snapshot into the SSE payload. With ref set,
// the reference body is omitted and every other body is re-centred on it.
func buildSnapshotMessage(snap *propagation.Snapshot, ref string, cached bool) (snapshotMessage, error) {
	var rel map[string]transform.Position
	if ref != "" {
		var err error
		if rel, err = snap.RelativeTo(ref); err != nil {
			return snapshotMessage{}, err
		}
	}

	bodies := make([]bodyPayload, 0, len(snap.Bodies))
	for _, b := range snap.Bodies {
		v := b.Position
		if rel != nil {
			p, ok := rel[b.Body]
			if !ok {
				continue
			}
			v = p.Vector
		}
		bp := bodyPayload{Name: b.Body, P: [3]float64{v.X, v.Y, v.Z}, R: v.Norm()}
		if !b.Converged() {
			bp.Outcome = b.Outcome.String()
		}
		bodies = append(bodies, bp)
	}

	var failed []string
	for _, f := range snap.Failures {
		failed = append(failed, f.Body)
	}

	return snapshotMessage{
		Type:       "snapshot",
		T:          snap.Timestamp.UTC().Format(time.RFC3339),
		JD:         transform.JulianDate(snap.Timestamp),
		Frame:      "ecliptic_j2000",
		RelativeTo: ref,
		Cached:     cached,
		Bodies:     bodies,
		Failed:     failed,
	}, nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// SSE message payload types.

type metadataMessage struct {
	Type             string `json:"type"`
	DatasetSource    string `json:"dataset_source"`
	DatasetFetchedAt string `json:"dataset_fetched_at"`
	DatasetAge       int    `json:"dataset_age_seconds"`
	Bodies           int    `json:"bodies"`
}

type snapshotMessage struct {
	Type       string        `json:"type"`
	T          string        `json:"t"`
	JD         float64       `json:"jd"`
	Frame      string        `json:"frame"`
	RelativeTo string        `json:"relative_to,omitempty"`
	Cached     bool          `json:"cached"`
	Bodies     []bodyPayload `json:"bodies"`
	Failed     []string      `json:"failed,omitempty"`
}

type bodyPayload struct {
	Name    string     `json:"name"`
	P       [3]float64 `json:"p"` // AU
	R       float64    `json:"r"`
	Outcome string     `json:"outcome,omitempty"` // set only for best-effort solves
}
