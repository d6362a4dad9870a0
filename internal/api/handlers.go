package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/star/ephemgo/internal/cache"
	"github.com/star/ephemgo/internal/elements"
	"github.com/star/ephemgo/internal/kepler"
	"github.com/star/ephemgo/internal/metrics"
	"github.com/star/ephemgo/internal/propagation"
	"github.com/star/ephemgo/internal/transform"
)

const (
	// maxTrackPoints bounds the work a single track request can demand.
	maxTrackPoints   = 10000
	defaultTrackSpan = 30 * 24 * time.Hour
	defaultTrackStep = 24 * time.Hour
	fetchTimeout     = 30 * time.Second
)

// parseTime reads an optional instant query parameter. Accepts RFC3339,
// "J2000" or "JD<julian date>".
func parseTime(r *http.Request, key string, def time.Time) (time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	t, err := elements.ParseEpoch(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: %w", key, err)
	}
	return t, nil
}

// statusFor maps propagation errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, propagation.ErrNoDataset):
		return http.StatusServiceUnavailable
	case errors.Is(err, propagation.ErrUnknownBody), errors.Is(err, transform.ErrReferenceNotFound):
		return http.StatusNotFound
	case errors.Is(err, kepler.ErrStalled), errors.Is(err, kepler.ErrBudgetExhausted),
		errors.Is(err, elements.ErrOutOfDomain), errors.Is(err, propagation.ErrNonFinite):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func elementsHandler(store *elements.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ds := store.Get()
		if ds == nil {
			writeError(w, http.StatusServiceUnavailable, propagation.ErrNoDataset.Error())
			return
		}
		writeJSON(w, http.StatusOK, toDatasetJSON(ds, true))
	}
}

func fetchHandler(logger *slog.Logger, store *elements.Store, cfg ElementsConfig, fetcher *elements.Fetcher, diskCache *elements.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !cfg.EnableFetch {
			writeError(w, http.StatusForbidden, "element fetch is disabled")
			return
		}

		store.Lock()
		defer store.Unlock()

		ctx, cancel := context.WithTimeout(r.Context(), fetchTimeout)
		defer cancel()

		data, err := fetcher.Fetch(ctx)
		if err != nil {
			logger.Warn("element fetch failed", "source_url", fetcher.SourceURL(), "error", err)
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}

		now := time.Now()
		ds, err := elements.Load(data, fetcher.SourceURL(), now, logger)
		if err != nil {
			logger.Warn("fetched element table rejected", "error", err)
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}

		store.Set(ds)
		metrics.SetElementsDatasetCount(len(ds.Bodies))
		metrics.SetElementsDatasetAge(0)

		if cfg.CacheDir != "" {
			if err := diskCache.Write(data, now); err != nil {
				logger.Warn("element cache write failed", "dir", cfg.CacheDir, "error", err)
			}
		}

		logger.Info("element dataset updated", "source", ds.Source, "count", len(ds.Bodies))
		writeJSON(w, http.StatusOK, toDatasetJSON(ds, false))
	}
}

func positionsHandler(logger *slog.Logger, prop *propagation.Propagator, snapCache *cache.SnapshotCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		explicit := r.URL.Query().Has("at")
		at, err := parseTime(r, "at", time.Now())
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		var snap *propagation.Snapshot
		cached := false
		if snapCache != nil {
			switch {
			case !explicit:
				snap = snapCache.GetLatest()
			case at.Equal(snapCache.RoundToStep(at)):
				snap = snapCache.Get(at)
			}
			cached = snap != nil
		}
		if snap == nil {
			snap, err = prop.PropagateToTime(r.Context(), at)
			if err != nil {
				logger.Warn("snapshot failed", "at", at.UTC().Format(time.RFC3339), "error", err)
				writeError(w, statusFor(err), err.Error())
				return
			}
		}

		ref := r.URL.Query().Get("relative_to")
		var rel map[string]transform.Position
		if ref != "" {
			rel, err = snap.RelativeTo(ref)
			if err != nil {
				writeError(w, statusFor(err), err.Error())
				return
			}
		}

		writeJSON(w, http.StatusOK, toSnapshotJSON(snap, ref, rel, cached))
	}
}

func bodyHandler(prop *propagation.Propagator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		at, err := parseTime(r, "at", time.Now())
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		bp, err := prop.Body(r.Context(), r.PathValue("body"), at)
		if err != nil {
			status := statusFor(err)
			if status == http.StatusUnprocessableEntity {
				writeJSON(w, status, map[string]any{
					"error":      err.Error(),
					"body":       bp.Body,
					"outcome":    bp.Outcome.String(),
					"iterations": bp.Iterations,
					"epsilon":    bp.Epsilon,
				})
				return
			}
			writeError(w, status, err.Error())
			return
		}

		writeJSON(w, http.StatusOK, struct {
			Timestamp  time.Time `json:"timestamp"`
			JulianDate float64   `json:"julian_date"`
			bodyJSON
		}{at.UTC(), transform.JulianDate(at), toBodyJSON(bp, bp.Position)})
	}
}

type trackPointJSON struct {
	Timestamp time.Time  `json:"timestamp"`
	Position  vectorJSON `json:"position"`
	Converged bool       `json:"converged"`
}

func trackHandler(prop *propagation.Propagator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().UTC()
		from, err := parseTime(r, "from", now)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		to, err := parseTime(r, "to", from.Add(defaultTrackSpan))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		step := defaultTrackStep
		if v := r.URL.Query().Get("step"); v != "" {
			step, err = time.ParseDuration(v)
			if err != nil || step <= 0 {
				writeError(w, http.StatusBadRequest, "step must be a positive duration such as 6h")
				return
			}
		}
		if to.Before(from) {
			writeError(w, http.StatusBadRequest, "to must not be before from")
			return
		}

		points, ok := trackPoints(from, to, step)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":      fmt.Sprintf("track from %s to %s every %s exceeds limit", from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339), step),
				"max_points": maxTrackPoints,
			})
			return
		}

		name := r.PathValue("body")
		track := make([]trackPointJSON, 0, points)
		// Stepping one interval at a time keeps multi-century spans clear of
		// Duration overflow.
		ts := from
		for i := 0; i < points; i, ts = i+1, ts.Add(step) {
			if err := r.Context().Err(); err != nil {
				writeError(w, statusFor(err), err.Error())
				return
			}
			bp, err := prop.Body(r.Context(), name, ts)
			if err != nil {
				writeError(w, statusFor(err), fmt.Sprintf("at %s: %v", ts.UTC().Format(time.RFC3339), err))
				return
			}
			track = append(track, trackPointJSON{Timestamp: ts.UTC(), Position: toVectorJSON(bp.Position), Converged: bp.Converged()})
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"body":   name,
			"step":   step.String(),
			"points": track,
		})
	}
}

// trackPoints counts the samples from..to at step. The span is measured in
// Julian days because time.Time.Sub saturates past ~292 years. ok is false
// when the count exceeds maxTrackPoints.
func trackPoints(from, to time.Time, step time.Duration) (int, bool) {
	spanDays := transform.JulianDate(to) - transform.JulianDate(from)
	stepDays := step.Hours() / 24
	// Tolerate float noise on spans that are exact multiples of step.
	n := math.Floor(spanDays/stepDays+1e-9) + 1
	if !(n <= maxTrackPoints) {
		return 0, false
	}
	return int(n), true
}

func cacheStatsHandler(snapCache *cache.SnapshotCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if snapCache == nil {
			writeError(w, http.StatusNotFound, "snapshot cache disabled")
			return
		}
		writeJSON(w, http.StatusOK, snapCache.Stats())
	}
}
