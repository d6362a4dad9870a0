package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/star/ephemgo/internal/auth"
	"github.com/star/ephemgo/internal/cache"
	"github.com/star/ephemgo/internal/elements"
	"github.com/star/ephemgo/internal/health"
	"github.com/star/ephemgo/internal/httputil"
	"github.com/star/ephemgo/internal/metrics"
	"github.com/star/ephemgo/internal/propagation"
	"github.com/star/ephemgo/internal/stream"
)

// ElementsConfig controls where element tables are fetched from and cached.
type ElementsConfig struct {
	EnableFetch     bool
	SourceURL       string
	ExtraSourceURLs []string
	CacheDir        string
	MaxFiles        int
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server. snapCache may be nil, in which
// case every position request is computed live. streamHandler may be nil to
// disable the SSE endpoint.
func NewServer(
	addr string,
	logger *slog.Logger,
	authCfg auth.Config,
	limitCfg RateLimitConfig,
	store *elements.Store,
	elemCfg ElementsConfig,
	prop *propagation.Propagator,
	snapCache *cache.SnapshotCache,
	streamHandler *stream.Handler,
) *Server {
	fetcher := elements.NewFetcher(elemCfg.SourceURL, logger, elemCfg.ExtraSourceURLs...)
	diskCache := elements.NewCache(elemCfg.CacheDir, elemCfg.MaxFiles)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(store))
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /api/v1/elements", elementsHandler(store))
	mux.HandleFunc("POST /api/v1/elements/fetch", fetchHandler(logger, store, elemCfg, fetcher, diskCache))
	mux.HandleFunc("GET /api/v1/positions", positionsHandler(logger, prop, snapCache))
	mux.HandleFunc("GET /api/v1/positions/{body}", bodyHandler(prop))
	mux.HandleFunc("GET /api/v1/positions/{body}/track", trackHandler(prop))
	mux.HandleFunc("GET /api/v1/cache/stats", cacheStatsHandler(snapCache))
	if streamHandler != nil {
		mux.HandleFunc("GET /api/v1/stream/positions", streamHandler.HandlePositions)
	}

	// Build middleware chain: metrics -> logging -> rate limit -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(authCfg)(handler)
	handler = rateLimitMiddleware(limitCfg, logger)(handler)
	handler = loggingMiddleware(logger, limitCfg.TrustProxy)(handler)
	handler = metrics.Middleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the full middleware chain.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func loggingMiddleware(logger *slog.Logger, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_ip", httputil.ClientIP(r, trustProxy),
			)
		})
	}
}
