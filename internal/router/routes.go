package router

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	v1 "github.com/jrelva/stashd/api/v1"
	"github.com/jrelva/stashd/internal/auth"
)

// Pinger reports readiness of an external dependency. May be nil.
type Pinger interface {
	Ping(ctx context.Context) error
}

// New sets up the application routes and required middleware.
func New(logger *slog.Logger, apiToken string, sched v1.Scheduler, hist v1.HistoryReader, ready Pinger, ws http.Handler) *mux.Router {

	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			logger.Error("write healthz response", "err", err)
		}
	}).Methods("GET")

	r.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ready.Ping(ctx); err != nil {
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	}).Methods("GET")

	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	downloadHandler := v1.NewDownloadHandler(logger, sched, hist)

	r.Use(v1.RequestID)
	r.Use(downloadHandler.Log)
	r.Use(auth.Middleware(apiToken))

	if ws != nil {
		r.Handle("/ws", ws).Methods("GET")
	}

	api := r.PathPrefix("/v1").Subrouter()

	// GETs
	get := api.Methods("GET").Subrouter()
	get.HandleFunc("/downloads", downloadHandler.GetDownloads)
	get.HandleFunc("/downloads/{name}", downloadHandler.GetDownload)
	get.HandleFunc("/bandwidth", downloadHandler.GetBandwidth)
	get.HandleFunc("/history", downloadHandler.GetHistory)

	// POSTs; the create payload is validated before the handler runs, the
	// command routes carry no body
	api.Handle("/downloads",
		v1.MiddlewareCreateValidation(http.HandlerFunc(downloadHandler.AddDownload))).Methods("POST")

	command := api.Methods("POST").Subrouter()
	command.HandleFunc("/downloads/start-all", downloadHandler.StartAll)
	command.HandleFunc("/downloads/stop-all", downloadHandler.StopAll)
	command.HandleFunc("/downloads/{name}/start", downloadHandler.StartDownload)
	command.HandleFunc("/downloads/{name}/stop", downloadHandler.StopDownload)

	// PATCHes
	api.Handle("/settings",
		v1.MiddlewareSettingsValidation(http.HandlerFunc(downloadHandler.UpdateSettings))).Methods("PATCH")

	// DELETEs
	api.HandleFunc("/downloads/{name}", downloadHandler.DeleteDownload).Methods("DELETE")

	return r
}
