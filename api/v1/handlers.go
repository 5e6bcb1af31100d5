package v1

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/jrelva/stashd/internal/data"
	"github.com/jrelva/stashd/internal/history"
)

// Scheduler is the surface the HTTP layer drives.
type Scheduler interface {
	Create(name string, files []string, password string, autostart bool) (*data.Download, error)
	Start(name string) error
	StartAll() int
	Stop(name string) error
	StopAll() int
	Delete(name string) error
	Downloads() data.Downloads
	Get(name string) (*data.Download, error)
	Bandwidth() []float64
	SetConcurrency(n int)
	Concurrency() int
}

// HistoryReader serves the optional audit ledger. May be nil.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
}

type DownloadHandler struct {
	l       *slog.Logger
	svc     Scheduler
	history HistoryReader
}

type createBody struct {
	Name      string   `json:"name"`
	Files     []string `json:"files"`
	Password  string   `json:"password"`
	Autostart bool     `json:"autostart"`
}

type settingsBody struct {
	ConcurrentDownloads int `json:"concurrentDownloads"`
}

type countResponse struct {
	Affected int `json:"affected"`
}

type rwLogger struct {
	http.ResponseWriter
	status int
	bytes  int
	err    error
}

func (w *rwLogger) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *rwLogger) SetErr(err error) {
	w.err = err
}

func (w *rwLogger) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}

	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

type errorSetter interface {
	SetErr(error)
}

func markErr(w http.ResponseWriter, err error) {
	if es, ok := w.(errorSetter); ok {
		es.SetErr(err)
	}
}

// context keys
type ctxKeyCreate struct{}
type ctxKeySettings struct{}

func NewDownloadHandler(l *slog.Logger, svc Scheduler, history HistoryReader) *DownloadHandler {
	return &DownloadHandler{l: l, svc: svc, history: history}
}

// writeErr maps domain sentinels onto HTTP statuses.
func writeErr(w http.ResponseWriter, err error) {
	markErr(w, err)
	switch {
	case errors.Is(err, data.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, data.ErrCommandNotAllowed), errors.Is(err, data.ErrDuplicate):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, data.ErrEmptyFiles), errors.Is(err, data.ErrBadName):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (dh *DownloadHandler) GetDownloads(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := dh.svc.Downloads().ToJSON(w); err != nil {
		markErr(w, err)
		http.Error(w, "Unable to marshal json", http.StatusInternalServerError)
	}
}

func (dh *DownloadHandler) GetDownload(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	dl, err := dh.svc.Get(name)
	if err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = dl.ToJSON(w)
}

func (dh *DownloadHandler) AddDownload(w http.ResponseWriter, r *http.Request) {
	v := r.Context().Value(ctxKeyCreate{})
	body, ok := v.(createBody)
	if !ok {
		markErr(w, ErrCreateCtx)
		http.Error(w, ErrCreateCtx.Error(), http.StatusInternalServerError)
		return
	}

	dl, err := dh.svc.Create(body.Name, body.Files, body.Password, body.Autostart)
	if err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = dl.ToJSON(w)
}

func (dh *DownloadHandler) StartDownload(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := dh.svc.Start(name); err != nil {
		writeErr(w, err)
		return
	}
	dh.respondWith(w, name)
}

func (dh *DownloadHandler) StopDownload(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := dh.svc.Stop(name); err != nil {
		writeErr(w, err)
		return
	}
	dh.respondWith(w, name)
}

func (dh *DownloadHandler) StartAll(w http.ResponseWriter, r *http.Request) {
	n := dh.svc.StartAll()
	writeJSON(w, http.StatusOK, countResponse{Affected: n})
}

func (dh *DownloadHandler) StopAll(w http.ResponseWriter, r *http.Request) {
	n := dh.svc.StopAll()
	writeJSON(w, http.StatusOK, countResponse{Affected: n})
}

func (dh *DownloadHandler) DeleteDownload(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := dh.svc.Delete(name); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (dh *DownloadHandler) GetBandwidth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, dh.svc.Bandwidth())
}

func (dh *DownloadHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	v := r.Context().Value(ctxKeySettings{})
	body, ok := v.(settingsBody)
	if !ok {
		markErr(w, ErrSettingsCtx)
		http.Error(w, ErrSettingsCtx.Error(), http.StatusInternalServerError)
		return
	}

	dh.svc.SetConcurrency(body.ConcurrentDownloads)
	writeJSON(w, http.StatusOK, settingsBody{ConcurrentDownloads: dh.svc.Concurrency()})
}

func (dh *DownloadHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	if dh.history == nil {
		http.Error(w, "history not configured", http.StatusNotFound)
		return
	}
	entries, err := dh.history.Recent(r.Context(), 50)
	if err != nil {
		markErr(w, err)
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// respondWith echoes the record's current snapshot after a command.
func (dh *DownloadHandler) respondWith(w http.ResponseWriter, name string) {
	dl, err := dh.svc.Get(name)
	if err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = dl.ToJSON(w)
}
