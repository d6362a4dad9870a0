package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/star/ephemgo/internal/cache"
	"github.com/star/ephemgo/internal/elements"
	"github.com/star/ephemgo/internal/kepler"
	"github.com/star/ephemgo/internal/propagation"
	"github.com/star/ephemgo/internal/transform"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

func testStore(t *testing.T) *elements.Store {
	t.Helper()
	ds, err := elements.Default(testLogger())
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	store := elements.NewStore()
	store.Set(ds)
	return store
}

func testConfig() Config {
	return Config{
		MaxConcurrentPerIP: 10,
		KeepaliveInterval:  30 * time.Second,
		Interval:           time.Second,
	}
}

func testHandler(t *testing.T, cfg Config, withCache bool) *Handler {
	t.Helper()
	store := testStore(t)
	prop := propagation.NewPropagator(store, propagation.PropConfig{Workers: 2}, testLogger())
	var snapCache *cache.SnapshotCache
	if withCache {
		snapCache = cache.NewSnapshotCache(cache.Config{Step: time.Hour, Horizon: 2 * time.Hour, Buffer: time.Hour}, prop, store, testLogger())
	}
	return NewHandler(snapCache, prop, store, cfg, testLogger())
}

// serve runs one stream request until timeout and returns the recorder.
func serve(h *Handler, target string, timeout time.Duration) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", target, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	ctx, cancel := context.WithTimeout(req.Context(), timeout)
	defer cancel()
	w := httptest.NewRecorder()
	h.HandlePositions(w, req.WithContext(ctx))
	return w
}

// dataMessages decodes every "data:" line of an SSE body.
func dataMessages(t *testing.T, body string) []map[string]any {
	t.Helper()
	var out []map[string]any
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var msg map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &msg); err != nil {
			t.Errorf("invalid JSON in SSE data line: %v", err)
			continue
		}
		out = append(out, msg)
	}
	return out
}

type sseEvent struct {
	event, id, data string
}

// parseEvents splits an SSE body into its events, skipping comments and
// retry-only blocks.
func parseEvents(body string) []sseEvent {
	var out []sseEvent
	for _, block := range strings.Split(body, "\n\n") {
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "id: "):
				ev.id = strings.TrimPrefix(line, "id: ")
			case strings.HasPrefix(line, "data: "):
				ev.data = strings.TrimPrefix(line, "data: ")
			}
		}
		if ev.data != "" {
			out = append(out, ev)
		}
	}
	return out
}

func testSnapshot() *propagation.Snapshot {
	return &propagation.Snapshot{
		Timestamp: time.Date(2026, 2, 6, 4, 0, 0, 0, time.UTC),
		Bodies: []propagation.BodyPosition{
			{Body: "Sun", Position: transform.Vector{}, Outcome: kepler.Converged},
			{Body: "Earth", Position: transform.Vector{X: 1}, Outcome: kepler.Converged},
			{Body: "Mars", Position: transform.Vector{X: 1.5, Y: 0.2}, Outcome: kepler.BudgetExhausted},
		},
		Failures: []propagation.BodyFailure{{Body: "Comet", Err: elements.ErrOutOfDomain}},
	}
}

func TestBuildSnapshotMessage(t *testing.T) {
	msg, err := buildSnapshotMessage(testSnapshot(), "", true)
	if err != nil {
		t.Fatal(err)
	}

	if msg.Type != "snapshot" {
		t.Errorf("type = %q, want snapshot", msg.Type)
	}
	if msg.Frame != "ecliptic_j2000" {
		t.Errorf("frame = %q, want ecliptic_j2000", msg.Frame)
	}
	if msg.T != "2026-02-06T04:00:00Z" {
		t.Errorf("t = %q, want 2026-02-06T04:00:00Z", msg.T)
	}
	if !msg.Cached {
		t.Error("cached = false, want true")
	}
	if len(msg.Bodies) != 3 {
		t.Fatalf("body count = %d, want 3", len(msg.Bodies))
	}
	if msg.Bodies[1].P != [3]float64{1, 0, 0} || msg.Bodies[1].R != 1 {
		t.Errorf("Earth payload = %+v", msg.Bodies[1])
	}
	if msg.Bodies[1].Outcome != "" {
		t.Errorf("converged body carries outcome %q", msg.Bodies[1].Outcome)
	}
	if msg.Bodies[2].Outcome != kepler.BudgetExhausted.String() {
		t.Errorf("Mars outcome = %q, want %q", msg.Bodies[2].Outcome, kepler.BudgetExhausted.String())
	}
	if len(msg.Failed) != 1 || msg.Failed[0] != "Comet" {
		t.Errorf("failed = %v, want [Comet]", msg.Failed)
	}
}

func TestBuildSnapshotMessageRelative(t *testing.T) {
	msg, err := buildSnapshotMessage(testSnapshot(), "Earth", false)
	if err != nil {
		t.Fatal(err)
	}
	if msg.RelativeTo != "Earth" {
		t.Errorf("relative_to = %q, want Earth", msg.RelativeTo)
	}
	for _, b := range msg.Bodies {
		switch b.Name {
		case "Sun":
			if b.P != [3]float64{-1, 0, 0} {
				t.Errorf("Sun relative to Earth = %v, want [-1 0 0]", b.P)
			}
		case "Mars":
			if b.P[0] != 0.5 || b.P[1] != 0.2 {
				t.Errorf("Mars relative to Earth = %v, want [0.5 0.2 0]", b.P)
			}
		}
	}

	if _, err := buildSnapshotMessage(testSnapshot(), "Pluto", false); err == nil {
		t.Error("expected error for reference missing from snapshot")
	}
}

// TestSSEMessageFormat verifies the SSE wire format: typed events carrying one
// JSON data line each.
func TestSSEMessageFormat(t *testing.T) {
	h := testHandler(t, testConfig(), false)
	w := serve(h, "/api/v1/stream/positions", 300*time.Millisecond)

	resp := w.Result()
	if resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", resp.Header.Get("Content-Type"))
	}
	if resp.Header.Get("Cache-Control") != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", resp.Header.Get("Cache-Control"))
	}

	body := w.Body.String()
	msgs := dataMessages(t, body)
	if len(msgs) < 2 {
		t.Fatalf("got %d data messages, want metadata and a snapshot", len(msgs))
	}
	if msgs[0]["type"] != "metadata" {
		t.Errorf("first message type = %v, want metadata", msgs[0]["type"])
	}
	for _, key := range []string{"dataset_source", "dataset_fetched_at", "dataset_age_seconds", "bodies"} {
		if _, ok := msgs[0][key]; !ok {
			t.Errorf("metadata missing %s", key)
		}
	}
	if msgs[1]["type"] != "snapshot" {
		t.Errorf("second message type = %v, want snapshot", msgs[1]["type"])
	}
	if msgs[1]["cached"] != false {
		t.Errorf("cached = %v, want false without a cache", msgs[1]["cached"])
	}

	for _, line := range strings.Split(body, "\n") {
		if line == "" || line == ":" {
			continue
		}
		known := false
		for _, field := range []string{"event: ", "id: ", "data: ", "retry: "} {
			known = known || strings.HasPrefix(line, field)
		}
		if !known {
			t.Errorf("unexpected SSE line: %q", line)
		}
	}
}

func TestSSEEventTypesAndIDs(t *testing.T) {
	h := testHandler(t, testConfig(), false)
	w := serve(h, "/api/v1/stream/positions", 300*time.Millisecond)

	events := parseEvents(w.Body.String())
	if len(events) < 2 {
		t.Fatalf("got %d events, want metadata and a snapshot", len(events))
	}
	if events[0].event != "metadata" || events[0].id != "" {
		t.Errorf("first event = %q id %q, want metadata without id", events[0].event, events[0].id)
	}
	for _, ev := range events[1:] {
		if ev.event != "snapshot" {
			t.Errorf("event = %q, want snapshot", ev.event)
			continue
		}
		var msg snapshotMessage
		if err := json.Unmarshal([]byte(ev.data), &msg); err != nil {
			t.Fatalf("decode snapshot: %v", err)
		}
		if ev.id != msg.T {
			t.Errorf("id = %q, want snapshot instant %q", ev.id, msg.T)
		}
		if _, err := time.Parse(time.RFC3339, ev.id); err != nil {
			t.Errorf("id %q is not RFC3339: %v", ev.id, err)
		}
	}
}

func TestStreamResumesFromLastEventID(t *testing.T) {
	h := testHandler(t, testConfig(), true)
	snap, err := h.prop.PropagateToTime(context.Background(), h.cache.RoundToStep(time.Now()))
	if err != nil {
		t.Fatal(err)
	}
	if !h.cache.Prime(snap) {
		t.Fatal("Prime rejected an aligned snapshot")
	}
	id := snap.Timestamp.UTC().Format(time.RFC3339)

	tests := []struct {
		name        string
		lastEventID string
		want        int
	}{
		{"fresh connection", "", 1},
		{"already has the cached step", id, 0},
		{"older step", snap.Timestamp.Add(-time.Hour).UTC().Format(time.RFC3339), 1},
		{"unparseable id ignored", "yesterday", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/stream/positions", nil)
			req.RemoteAddr = "127.0.0.1:12345"
			if tt.lastEventID != "" {
				req.Header.Set("Last-Event-ID", tt.lastEventID)
			}
			ctx, cancel := context.WithTimeout(req.Context(), 300*time.Millisecond)
			defer cancel()
			w := httptest.NewRecorder()
			h.HandlePositions(w, req.WithContext(ctx))

			var snaps int
			for _, ev := range parseEvents(w.Body.String()) {
				if ev.event == "snapshot" {
					snaps++
					if ev.id != id {
						t.Errorf("id = %q, want %q", ev.id, id)
					}
				}
			}
			if snaps != tt.want {
				t.Errorf("snapshot events = %d, want %d", snaps, tt.want)
			}
		})
	}
}

func TestStreamFallsBackToLiveOnCacheMiss(t *testing.T) {
	// Cache never started, so every lookup misses.
	h := testHandler(t, testConfig(), true)
	w := serve(h, "/api/v1/stream/positions", 200*time.Millisecond)

	msgs := dataMessages(t, w.Body.String())
	if len(msgs) < 2 {
		t.Fatalf("got %d data messages, want at least 2", len(msgs))
	}
	if msgs[1]["cached"] != false {
		t.Errorf("cached = %v, want false on miss", msgs[1]["cached"])
	}
}

func TestStreamServesCachedSnapshotOnce(t *testing.T) {
	h := testHandler(t, testConfig(), true)
	snap, err := h.prop.PropagateToTime(context.Background(), h.cache.RoundToStep(time.Now()))
	if err != nil {
		t.Fatal(err)
	}
	if !h.cache.Prime(snap) {
		t.Fatal("Prime rejected an aligned snapshot")
	}

	// Several ticks elapse, but the cached step does not change.
	w := serve(h, "/api/v1/stream/positions?interval=1", 2500*time.Millisecond)

	var snaps int
	for _, m := range dataMessages(t, w.Body.String()) {
		if m["type"] == "snapshot" {
			snaps++
			if m["cached"] != true {
				t.Errorf("cached = %v, want true", m["cached"])
			}
		}
	}
	if snaps != 1 {
		t.Errorf("snapshot messages = %d, want 1", snaps)
	}
}

// TestRateLimiting verifies per-IP concurrent stream limits.
func TestRateLimiting(t *testing.T) {
	limiter := newStreamLimiter(3, 0)

	for i := 0; i < 3; i++ {
		if err := limiter.acquire("10.0.0.1"); err != nil {
			t.Fatalf("acquire %d: %v", i+1, err)
		}
	}

	if err := limiter.acquire("10.0.0.1"); !errors.Is(err, errIPLimit) {
		t.Errorf("acquire beyond limit = %v, want errIPLimit", err)
	}

	if err := limiter.acquire("10.0.0.2"); err != nil {
		t.Errorf("different IP should not be rate limited: %v", err)
	}

	limiter.release("10.0.0.1")
	if err := limiter.acquire("10.0.0.1"); err != nil {
		t.Errorf("acquire after release: %v", err)
	}

	if c := limiter.count("10.0.0.1"); c != 3 {
		t.Errorf("count = %d, want 3", c)
	}
	if c := limiter.count("10.0.0.2"); c != 1 {
		t.Errorf("count = %d, want 1", c)
	}
	if n := limiter.total(); n != 4 {
		t.Errorf("total = %d, want 4", n)
	}
}

func TestRateLimitingGlobalCap(t *testing.T) {
	limiter := newStreamLimiter(5, 2)

	if err := limiter.acquire("10.0.0.1"); err != nil {
		t.Fatal(err)
	}
	if err := limiter.acquire("10.0.0.2"); err != nil {
		t.Fatal(err)
	}
	if err := limiter.acquire("10.0.0.3"); !errors.Is(err, errGlobalLimit) {
		t.Errorf("third stream = %v, want errGlobalLimit", err)
	}

	limiter.release("10.0.0.2")
	if err := limiter.acquire("10.0.0.3"); err != nil {
		t.Errorf("acquire after release: %v", err)
	}
	if n := limiter.total(); n != 2 {
		t.Errorf("total = %d, want 2", n)
	}
}

func TestStreamLimiterDefaults(t *testing.T) {
	limiter := newStreamLimiter(0, -1)
	if limiter.maxPerIP != defaultMaxPerIP || limiter.maxTotal != defaultMaxTotal {
		t.Errorf("limits = %d/%d, want %d/%d", limiter.maxPerIP, limiter.maxTotal, defaultMaxPerIP, defaultMaxTotal)
	}
}

// TestRateLimitingConcurrent verifies rate limiter thread safety.
func TestRateLimitingConcurrent(t *testing.T) {
	limiter := newStreamLimiter(100, 0)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.acquire("10.0.0.1") == nil {
				defer limiter.release("10.0.0.1")
				time.Sleep(10 * time.Millisecond)
			}
		}()
	}
	wg.Wait()

	if c := limiter.count("10.0.0.1"); c != 0 {
		t.Errorf("count after all released = %d, want 0", c)
	}
}

// TestRateLimitHTTPResponse verifies 429 response when limit exceeded.
func TestRateLimitHTTPResponse(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentPerIP = 1
	h := testHandler(t, cfg, false)

	ready := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		req := httptest.NewRequest("GET", "/api/v1/stream/positions", nil)
		req.RemoteAddr = "10.0.0.1:12345"
		ctx, cancel := context.WithCancel(req.Context())
		req = req.WithContext(ctx)
		w := httptest.NewRecorder()

		go func() {
			time.Sleep(50 * time.Millisecond)
			close(ready)
			time.Sleep(200 * time.Millisecond)
			cancel()
		}()

		h.HandlePositions(w, req)
	}()

	<-ready

	req := httptest.NewRequest("GET", "/api/v1/stream/positions", nil)
	req.RemoteAddr = "10.0.0.1:54321"
	w := httptest.NewRecorder()
	h.HandlePositions(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}

	<-done
}

func TestGlobalCapHTTPResponse(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTotal = 1
	h := testHandler(t, cfg, false)
	if err := h.limiter.acquire("10.0.0.9"); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("GET", "/api/v1/stream/positions", nil)
	req.RemoteAddr = "10.0.0.1:54321"
	w := httptest.NewRecorder()
	h.HandlePositions(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["error"] != errGlobalLimit.Error() {
		t.Errorf("error = %q, want %q", body["error"], errGlobalLimit.Error())
	}
}

func TestInvalidQueryParams(t *testing.T) {
	h := testHandler(t, testConfig(), false)

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"interval zero", "?interval=0", http.StatusBadRequest},
		{"interval too large", "?interval=3601", http.StatusBadRequest},
		{"interval non-numeric", "?interval=abc", http.StatusBadRequest},
		{"live not a bool", "?live=maybe", http.StatusBadRequest},
		{"unknown reference", "?relative_to=Vulcan", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/stream/positions"+tt.query, nil)
			req.RemoteAddr = "127.0.0.1:12345"
			w := httptest.NewRecorder()
			h.HandlePositions(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestNoDataset(t *testing.T) {
	store := elements.NewStore()
	prop := propagation.NewPropagator(store, propagation.PropConfig{Workers: 1}, testLogger())
	h := NewHandler(nil, prop, store, testConfig(), testLogger())

	req := httptest.NewRequest("GET", "/api/v1/stream/positions", nil)
	w := httptest.NewRecorder()
	h.HandlePositions(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}
