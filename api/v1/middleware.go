package v1

import (
	"context"
	"net/http"
	"time"
)

const maxBodyBytes = 1 << 20

// MiddlewareCreateValidation decodes and validates the create payload before
// the handler runs.
func MiddlewareCreateValidation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body createBody
		if err := decodeJSONStrict(w, r, &body, maxBodyBytes); err != nil {
			markErr(w, err)
			if err == ErrContentType {
				http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
				return
			}
			http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}

		if len(body.Files) == 0 {
			markErr(w, ErrFilesRequired)
			http.Error(w, ErrFilesRequired.Error(), http.StatusBadRequest)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyCreate{}, body)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// MiddlewareSettingsValidation decodes and validates the settings patch.
func MiddlewareSettingsValidation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body settingsBody
		if err := decodeJSONStrict(w, r, &body, maxBodyBytes); err != nil {
			markErr(w, err)
			if err == ErrContentType {
				http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
				return
			}
			http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}

		if body.ConcurrentDownloads < 1 {
			markErr(w, ErrConcurrency)
			http.Error(w, ErrConcurrency.Error(), http.StatusBadRequest)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeySettings{}, body)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (dh *DownloadHandler) Log(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		rw := &rwLogger{ResponseWriter: w}
		next.ServeHTTP(rw, r)
		if rw.status == 0 {
			rw.status = http.StatusOK
		}
		timeElapsed := time.Since(startTime)
		hErr := rw.err
		if hErr != nil {
			dh.l.Error(hErr.Error(),
				"method", r.Method,
				"url", r.URL.Path,
				"status", rw.status,
				"remote", r.RemoteAddr,
				"ua", r.UserAgent(),
				"dur_ms", timeElapsed.Milliseconds(),
				"bytes", rw.bytes)
			return
		}

		dh.l.Info("", "method", r.Method,
			"url", r.URL.Path,
			"status", rw.status,
			"remote", r.RemoteAddr,
			"ua", r.UserAgent(),
			"dur_ms", timeElapsed.Milliseconds(),
			"bytes", rw.bytes)
	})
}
