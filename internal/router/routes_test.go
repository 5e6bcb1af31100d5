package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/jrelva/stashd/internal/data"
	"github.com/jrelva/stashd/internal/metrics"
)

// fakeScheduler is a stub to satisfy v1.Scheduler in router tests.
type fakeScheduler struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeScheduler) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeScheduler) Create(name string, files []string, password string, autostart bool) (*data.Download, error) {
	f.record("create")
	return &data.Download{Name: name, Files: files, State: data.StateIdle}, nil
}
func (f *fakeScheduler) Start(name string) error { f.record("start"); return nil }
func (f *fakeScheduler) StartAll() int           { f.record("start-all"); return 0 }
func (f *fakeScheduler) Stop(name string) error  { f.record("stop"); return nil }
func (f *fakeScheduler) StopAll() int            { f.record("stop-all"); return 0 }

func (f *fakeScheduler) Delete(name string) error {
	f.record("delete")
	return nil
}

func (f *fakeScheduler) Downloads() data.Downloads { return nil }

func (f *fakeScheduler) Get(name string) (*data.Download, error) {
	return &data.Download{Name: name, State: data.StateIdle}, nil
}

func (f *fakeScheduler) Bandwidth() []float64 { return []float64{1, 2} }
func (f *fakeScheduler) SetConcurrency(n int) { f.record("set-concurrency") }
func (f *fakeScheduler) Concurrency() int     { return 2 }

type fakePinger struct{ err error }

func (f *fakePinger) Ping(ctx context.Context) error { return f.err }

func newRouter(ready Pinger) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(logger, "", &fakeScheduler{}, nil, ready, nil)
}

func TestHealthzOK(t *testing.T) {
	r := newRouter(nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := w.Body.String(); got != "ok" {
		t.Fatalf("expected body 'ok', got %q", got)
	}
}

func TestReadyzSuccess(t *testing.T) {
	r := newRouter(&fakePinger{})
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestReadyzFailure(t *testing.T) {
	r := newRouter(&fakePinger{err: errors.New("nope")})
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestMetricsEndpointEmitsFamilies(t *testing.T) {
	metrics.Register()
	metrics.StateTransitions.WithLabelValues(string(data.StateQueued)).Inc()
	metrics.ActiveDownloads.Set(2)

	r := newRouter(nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "stashd_state_transitions_total") {
		t.Fatalf("missing state_transitions_total in metrics: %s", body)
	}
	if !strings.Contains(body, "stashd_active_downloads") {
		t.Fatalf("missing active_downloads gauge in metrics: %s", body)
	}
}

func TestAuthGuardsAPIRoutes(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := New(logger, "sekrit", &fakeScheduler{}, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/downloads", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/downloads", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", w.Code)
	}
}

func TestCommandRoutesDispatch(t *testing.T) {
	sched := &fakeScheduler{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := New(logger, "", sched, nil, nil, nil)

	routes := []struct {
		method, path, want string
	}{
		{http.MethodPost, "/v1/downloads/Movie/start", "start"},
		{http.MethodPost, "/v1/downloads/Movie/stop", "stop"},
		{http.MethodPost, "/v1/downloads/start-all", "start-all"},
		{http.MethodPost, "/v1/downloads/stop-all", "stop-all"},
		{http.MethodDelete, "/v1/downloads/Movie", "delete"},
	}
	for _, rt := range routes {
		req := httptest.NewRequest(rt.method, rt.path, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code >= 400 {
			t.Fatalf("%s %s: status %d", rt.method, rt.path, w.Code)
		}
	}

	sched.mu.Lock()
	defer sched.mu.Unlock()
	for i, rt := range routes {
		if i >= len(sched.calls) || sched.calls[i] != rt.want {
			t.Fatalf("call %d: expected %q got %v", i, rt.want, sched.calls)
		}
	}
}
