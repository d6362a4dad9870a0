package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ephemgo_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ephemgo_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	httpRateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ephemgo_http_rate_limited_total",
			Help: "Requests rejected by the per-client rate limiter.",
		},
	)

	propagationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ephemgo_propagation_duration_seconds",
			Help:    "Time to compute one snapshot of all bodies.",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
	)

	propagationBodiesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ephemgo_propagation_bodies_total",
			Help: "Bodies propagated, by result.",
		},
		[]string{"result"},
	)

	propagationWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ephemgo_propagation_workers",
			Help: "Configured propagation worker pool size.",
		},
	)

	solverIterations = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ephemgo_kepler_iterations",
			Help:    "Halley iterations used per Kepler solve.",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 8, 13, 21, 50, 100},
		},
	)

	solverOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ephemgo_kepler_outcomes_total",
			Help: "Kepler solves by outcome (converged, stalled, budget_exhausted).",
		},
		[]string{"outcome"},
	)

	elementsDatasetBodies = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ephemgo_elements_dataset_bodies",
			Help: "Number of bodies in the current element dataset.",
		},
	)

	elementsDatasetAgeSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ephemgo_elements_dataset_age_seconds",
			Help: "Seconds since the current element dataset was loaded.",
		},
	)

	cacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ephemgo_cache_hits_total",
		Help: "Snapshot cache hits.",
	})
	cacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ephemgo_cache_misses_total",
		Help: "Snapshot cache misses.",
	})
	cacheEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ephemgo_cache_evictions_total",
		Help: "Snapshot cache entries evicted.",
	})
	cacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ephemgo_cache_entries",
		Help: "Snapshots currently cached.",
	})
	cacheSizeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ephemgo_cache_size_bytes",
		Help: "Estimated snapshot cache memory footprint.",
	})
	cacheGracePeriodActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ephemgo_cache_grace_period_active",
		Help: "1 while the cache is rebuilding after a dataset change.",
	})
	cacheRegenerationErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ephemgo_cache_regeneration_errors_total",
		Help: "Snapshot generations that failed.",
	})
	cacheRegenerationDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ephemgo_cache_regeneration_duration_seconds",
		Help:    "Duration of leading-edge generation and cutover rebuilds.",
		Buckets: prometheus.DefBuckets,
	})

	streamConnectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ephemgo_stream_connections_total",
		Help: "SSE stream connect and disconnect events.",
	}, []string{"event"})
	streamsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ephemgo_streams_active",
		Help: "Currently open SSE streams.",
	})
	streamMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ephemgo_stream_messages_total",
		Help: "SSE data messages sent.",
	})
	streamBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ephemgo_stream_bytes_total",
		Help: "Bytes written to SSE streams, keep-alives included.",
	})
	streamErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ephemgo_stream_errors_total",
		Help: "SSE stream errors by reason.",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		httpRateLimitedTotal,
		propagationDurationSeconds,
		propagationBodiesTotal,
		propagationWorkers,
		solverIterations,
		solverOutcomesTotal,
		elementsDatasetBodies,
		elementsDatasetAgeSeconds,
		cacheHitsTotal,
		cacheMissesTotal,
		cacheEvictionsTotal,
		cacheEntries,
		cacheSizeBytes,
		cacheGracePeriodActive,
		cacheRegenerationErrorsTotal,
		cacheRegenerationDurationSeconds,
		streamConnectionsTotal,
		streamsActive,
		streamMessagesTotal,
		streamBytesTotal,
		streamErrorsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordPropagation records one snapshot computation.
func RecordPropagation(d time.Duration, success, failed int) {
	propagationDurationSeconds.Observe(d.Seconds())
	propagationBodiesTotal.WithLabelValues("ok").Add(float64(success))
	propagationBodiesTotal.WithLabelValues("failed").Add(float64(failed))
}

// ObserveSolve records the outcome and iteration count of one Kepler solve.
func ObserveSolve(outcome string, iterations int) {
	solverOutcomesTotal.WithLabelValues(outcome).Inc()
	solverIterations.Observe(float64(iterations))
}

func SetPropagationWorkersActive(n int) { propagationWorkers.Set(float64(n)) }
func SetElementsDatasetCount(n int)     { elementsDatasetBodies.Set(float64(n)) }
func SetElementsDatasetAge(sec float64) { elementsDatasetAgeSeconds.Set(sec) }
func IncRateLimited()                   { httpRateLimitedTotal.Inc() }
func IncCacheHits()                     { cacheHitsTotal.Inc() }
func IncCacheMisses()                   { cacheMissesTotal.Inc() }
func AddCacheEvictions(n int)           { cacheEvictionsTotal.Add(float64(n)) }
func SetCacheEntries(n int)             { cacheEntries.Set(float64(n)) }
func SetCacheSizeBytes(n int64)         { cacheSizeBytes.Set(float64(n)) }
func IncCacheRegenerationErrors()       { cacheRegenerationErrorsTotal.Inc() }

func ObserveCacheRegenerationDuration(d time.Duration) {
	cacheRegenerationDurationSeconds.Observe(d.Seconds())
}

// SetCacheGracePeriodActive flips the cutover gauge.
func SetCacheGracePeriodActive(active bool) {
	if active {
		cacheGracePeriodActive.Set(1)
		return
	}
	cacheGracePeriodActive.Set(0)
}

func IncStreamConnections(event string) { streamConnectionsTotal.WithLabelValues(event).Inc() }
func IncStreamsActive()                 { streamsActive.Inc() }
func DecStreamsActive()                 { streamsActive.Dec() }
func IncStreamMessages()                { streamMessagesTotal.Inc() }
func AddStreamBytes(n int64)            { streamBytesTotal.Add(float64(n)) }
func IncStreamErrors(reason string)     { streamErrorsTotal.WithLabelValues(reason).Inc() }

// knownRoutes are exact paths reported under their own label.
var knownRoutes = map[string]bool{
	"/":                        true,
	"/healthz":                 true,
	"/readyz":                  true,
	"/metrics":                 true,
	"/api/v1/elements":         true,
	"/api/v1/elements/fetch":   true,
	"/api/v1/positions":        true,
	"/api/v1/cache/stats":      true,
	"/api/v1/stream/positions": true,
}

const bodyRoutePrefix = "/api/v1/positions/"

// normalizeRoute maps a request path to a bounded set of metric labels so
// per-body paths and bot traffic cannot blow up label cardinality.
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	rest, ok := strings.CutPrefix(path, bodyRoutePrefix)
	if !ok {
		return "other"
	}
	body, sub, nested := strings.Cut(rest, "/")
	switch {
	case body == "":
		return "other"
	case !nested:
		return bodyRoutePrefix + "{body}"
	case sub == "track":
		return bodyRoutePrefix + "{body}/track"
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush passes through to the underlying writer so SSE streams work behind
// the middleware.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		route := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(duration)
	})
}
