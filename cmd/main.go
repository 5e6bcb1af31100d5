package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"gopkg.in/natefinch/lumberjack.v2"

	v1 "github.com/jrelva/stashd/api/v1"
	"github.com/jrelva/stashd/internal/broadcast"
	"github.com/jrelva/stashd/internal/cache"
	"github.com/jrelva/stashd/internal/config"
	"github.com/jrelva/stashd/internal/extract"
	"github.com/jrelva/stashd/internal/fetch"
	"github.com/jrelva/stashd/internal/history"
	"github.com/jrelva/stashd/internal/hoster"
	"github.com/jrelva/stashd/internal/metrics"
	"github.com/jrelva/stashd/internal/repo"
	"github.com/jrelva/stashd/internal/router"
	"github.com/jrelva/stashd/internal/scheduler"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	var logOut io.Writer = os.Stdout
	if cfg.LogFile != "" {
		logOut = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
		})
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	metrics.Register()

	hub := broadcast.New(logger.With("component", "broadcast"))
	defer hub.Close()

	fs := afero.NewOsFs()
	store := cache.NewStore(fs, cfg.DownloadDirectory)

	client, err := hoster.NewHTTPClient(cfg.HosterBaseURL, cfg.HosterUsername, cfg.HosterPassword, cfg.HosterTimeout)
	if err != nil {
		logger.Error("hoster client", "err", err)
		os.Exit(1)
	}

	var ledger *history.Ledger
	if cfg.HistoryDSN != "" {
		ledger, err = history.Open(cfg.HistoryDSN)
		if err != nil {
			logger.Error("open history ledger", "err", err)
			os.Exit(1)
		}
		defer ledger.Close()
	}

	sched := scheduler.New(
		logger.With("component", "scheduler"),
		repo.NewInMemoryDownloadRepo(hub),
		store,
		nil, // pipeline set below; it reports back into the scheduler
		hub,
		recorderOrNil(ledger),
		cfg.ConcurrentDownloads,
		cfg.InternetConnectionMbits,
	)
	pipeline := fetch.NewPipeline(
		fs,
		client,
		extract.NewRarExtractor(),
		sched,
		store,
		logger.With("component", "fetch"),
		cfg.IsExtractingEnabled,
		cfg.ExtractingDirectory,
		int(cfg.RetryAttempts),
		cfg.RetryDelay,
	)
	sched.SetPipeline(pipeline)

	restoreManifests(logger, store, sched)

	sched.Run()
	defer sched.Shutdown()

	var ready router.Pinger
	if ledger != nil {
		ready = ledger
	}
	r := router.New(logger.With("component", "http"), cfg.APIToken, sched, historyOrNil(ledger), ready, hub)

	server := &http.Server{
		Addr:         cfg.Web.BindAddress,
		Handler:      r,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
	}

	go func() {
		logger.Info("starting stashd", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("received terminate, graceful shutdown", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown", "err", err)
	}
}

// restoreManifests re-registers every cached manifest so the repository
// reflects what is on disk after a restart. Nothing is autostarted.
func restoreManifests(logger *slog.Logger, store *cache.Store, sched *scheduler.Scheduler) {
	manifests, err := store.ListManifests()
	if err != nil {
		logger.Error("scan manifests", "err", err)
		return
	}
	for _, m := range manifests {
		if _, err := sched.Create(m.Name, m.Files, m.Password, false); err != nil {
			logger.Error("restore manifest", "download", m.Name, "err", err)
			continue
		}
		logger.Info("restored download", "download", m.Name, "files", len(m.Files))
	}
}

// recorderOrNil keeps the scheduler's nil check working: a nil *Ledger inside
// a non-nil interface would not compare equal to nil.
func recorderOrNil(l *history.Ledger) scheduler.Recorder {
	if l == nil {
		return nil
	}
	return l
}

func historyOrNil(l *history.Ledger) v1.HistoryReader {
	if l == nil {
		return nil
	}
	return l
}
