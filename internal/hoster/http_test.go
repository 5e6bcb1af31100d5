package hoster

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeHoster struct {
	logins      int
	validTokens map[string]bool
	nextToken   string
	infoStatus  int
	ignoreRange bool
}

func newFakeHoster(t *testing.T) (*fakeHoster, *httptest.Server) {
	t.Helper()
	f := &fakeHoster{validTokens: map[string]bool{}, nextToken: "tok-1"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/login":
			f.logins++
			f.validTokens[f.nextToken] = true
			_ = json.NewEncoder(w).Encode(map[string]string{"token": f.nextToken})
		case "/api/files/info":
			if !f.validTokens[bearer(r)] {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if f.infoStatus != 0 {
				w.WriteHeader(f.infoStatus)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "f1", "name": "movie.rar", "size": 1234})
		case "/api/files/f1/content":
			if !f.validTokens[bearer(r)] {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if r.Header.Get("Range") != "" && !f.ignoreRange {
				w.WriteHeader(http.StatusPartialContent)
				_, _ = w.Write([]byte("world"))
				return
			}
			_, _ = w.Write([]byte("hello world"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func bearer(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) {
		return h[len(prefix):]
	}
	return ""
}

func newTestClient(t *testing.T, url string) *HTTPClient {
	t.Helper()
	c, err := NewHTTPClient(url, "user", "pass", time.Second)
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	return c
}

func TestGetFileInfo(t *testing.T) {
	f, srv := newFakeHoster(t)
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	info, err := c.GetFileInfo(ctx, "https://host/f1")
	if err != nil {
		t.Fatalf("GetFileInfo: %v", err)
	}
	if info.ID != "f1" || info.Name != "movie.rar" || info.Size != 1234 {
		t.Fatalf("unexpected info: %#v", info)
	}
	if f.logins != 1 {
		t.Fatalf("expected 1 login got %d", f.logins)
	}

	// second call reuses the cached token
	if _, err := c.GetFileInfo(ctx, "https://host/f1"); err != nil {
		t.Fatalf("GetFileInfo: %v", err)
	}
	if f.logins != 1 {
		t.Fatalf("token not cached, %d logins", f.logins)
	}
}

func TestGetFileInfoReloginOnExpiry(t *testing.T) {
	f, srv := newFakeHoster(t)
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	if _, err := c.GetFileInfo(ctx, "https://host/f1"); err != nil {
		t.Fatalf("GetFileInfo: %v", err)
	}

	// expire the session server-side
	f.validTokens = map[string]bool{}
	f.nextToken = "tok-2"

	if _, err := c.GetFileInfo(ctx, "https://host/f1"); err != nil {
		t.Fatalf("GetFileInfo after expiry: %v", err)
	}
	if f.logins != 2 {
		t.Fatalf("expected a single re-login, got %d logins", f.logins)
	}
}

func TestGetFileInfoErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"missing", http.StatusNotFound, ErrFileMissing},
		{"gone", http.StatusGone, ErrFileMissing},
		{"quota", http.StatusTooManyRequests, ErrQuotaExceeded},
		{"unsupported", http.StatusUnprocessableEntity, ErrUnsupportedLink},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, srv := newFakeHoster(t)
			f.infoStatus = tt.status
			c := newTestClient(t, srv.URL)
			_, err := c.GetFileInfo(context.Background(), "https://host/f1")
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v got %v", tt.want, err)
			}
		})
	}

	t.Run("server error is transient", func(t *testing.T) {
		f, srv := newFakeHoster(t)
		f.infoStatus = http.StatusInternalServerError
		c := newTestClient(t, srv.URL)
		_, err := c.GetFileInfo(context.Background(), "https://host/f1")
		if !IsTransient(err) {
			t.Fatalf("expected transient error got %v", err)
		}
	})

	t.Run("non-http link unsupported", func(t *testing.T) {
		_, srv := newFakeHoster(t)
		c := newTestClient(t, srv.URL)
		_, err := c.GetFileInfo(context.Background(), "ftp://host/f1")
		if !errors.Is(err, ErrUnsupportedLink) {
			t.Fatalf("expected ErrUnsupportedLink got %v", err)
		}
	})
}

func TestOpenStream(t *testing.T) {
	f, srv := newFakeHoster(t)
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	t.Run("from start", func(t *testing.T) {
		rc, err := c.OpenStream(ctx, "f1", 0)
		if err != nil {
			t.Fatalf("OpenStream: %v", err)
		}
		defer rc.Close()
		b, _ := io.ReadAll(rc)
		if string(b) != "hello world" {
			t.Fatalf("unexpected body %q", b)
		}
	})

	t.Run("resume offset", func(t *testing.T) {
		rc, err := c.OpenStream(ctx, "f1", 6)
		if err != nil {
			t.Fatalf("OpenStream: %v", err)
		}
		defer rc.Close()
		b, _ := io.ReadAll(rc)
		if string(b) != "world" {
			t.Fatalf("unexpected body %q", b)
		}
	})

	t.Run("range ignored", func(t *testing.T) {
		f.ignoreRange = true
		defer func() { f.ignoreRange = false }()

		_, err := c.OpenStream(ctx, "f1", 6)
		if !errors.Is(err, ErrResumeUnsupported) {
			t.Fatalf("expected ErrResumeUnsupported got %v", err)
		}
	})
}

func TestOpenStreamUnreachableIsTransient(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1")
	// login happens lazily inside OpenStream
	_, err := c.OpenStream(context.Background(), "f1", 0)
	if !IsTransient(err) {
		t.Fatalf("expected transient error got %v", err)
	}
}
