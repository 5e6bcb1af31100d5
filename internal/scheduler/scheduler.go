// Package scheduler is the orchestrator of the download lifecycle: it owns
// the repository and its lock, the worker pool, per-download monitors and
// the bandwidth history, and it is the only component that mutates records.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jrelva/stashd/internal/cache"
	"github.com/jrelva/stashd/internal/data"
	"github.com/jrelva/stashd/internal/fp"
	"github.com/jrelva/stashd/internal/hoster"
	"github.com/jrelva/stashd/internal/metrics"
	"github.com/jrelva/stashd/internal/monitor"
	"github.com/jrelva/stashd/internal/repo"
)

// Sink receives scheduler-originated events that are not repository change
// notifications. Implementations must not block.
type Sink interface {
	NotifyBandwidth(samples []float64)
	Alert(name string, err error)
}

// Pipeline executes the fetch/extract work for one download.
type Pipeline interface {
	Run(ctx context.Context, d *data.Download) error
}

// Recorder persists terminal transitions for audit. May be nil.
type Recorder interface {
	Record(ctx context.Context, name string, state data.State, lastError string) error
}

type Scheduler struct {
	// mu is the context lock: every repository access, read or write, and
	// every multi-step operation that must appear atomic happens under it.
	// It is never held across blocking I/O.
	mu sync.RWMutex

	repo     repo.DownloadRepo
	store    *cache.Store
	pipeline Pipeline
	sink     Sink
	history  Recorder
	log      *slog.Logger

	pool      *Pool
	monitors  map[string]*monitor.Monitor
	bandwidth *monitor.BandwidthHistory

	stop chan struct{}
	wg   sync.WaitGroup
}

func New(
	log *slog.Logger,
	dlRepo repo.DownloadRepo,
	store *cache.Store,
	pipeline Pipeline,
	sink Sink,
	history Recorder,
	concurrentDownloads int,
	connectionMbits int,
) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	s := &Scheduler{
		repo:      dlRepo,
		store:     store,
		pipeline:  pipeline,
		sink:      sink,
		history:   history,
		log:       log,
		monitors:  make(map[string]*monitor.Monitor),
		bandwidth: monitor.NewBandwidthHistory(connectionMbits),
		stop:      make(chan struct{}),
	}
	s.pool = NewPool(concurrentDownloads, log, s.runWorker)
	return s
}

// SetPipeline installs the fetch pipeline. The pipeline reports back into
// the scheduler, so the two are constructed in sequence; call before Run.
func (s *Scheduler) SetPipeline(p Pipeline) {
	s.pipeline = p
}

// Run starts the worker pool and the per-second progress tick.
func (s *Scheduler) Run() {
	s.log = s.log.With("operation_id", uuid.NewString())
	s.pool.Start()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

// Shutdown stops every running download, the tick loop and the pool, and
// waits for in-flight work to unwind.
func (s *Scheduler) Shutdown() {
	_ = s.StopAll()
	// Workers first: their terminal callbacks may still spawn tracked
	// goroutines, which must precede the final Wait.
	s.pool.Stop()
	close(s.stop)
	s.wg.Wait()
}

// Create validates and registers a new download group. The manifest is
// written before the record becomes visible; a manifest write failure is
// reported through the sink but does not roll back the in-memory add.
func (s *Scheduler) Create(name string, files []string, password string, autostart bool) (*data.Download, error) {
	if len(files) == 0 {
		return nil, data.ErrEmptyFiles
	}
	clean, err := data.SanitizeName(name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	unique, err := s.resolveNameLocked(clean, files, password)
	if err != nil {
		return nil, err
	}

	if err := s.store.WriteManifest(unique, files, password); err != nil {
		metrics.ManifestErrors.Inc()
		s.log.Error("manifest write failed", "download", unique, "err", err)
		s.sink.Alert(unique, err)
	}

	rec := &data.Download{
		Name:      unique,
		Files:     append([]string(nil), files...),
		Password:  password,
		State:     data.StateIdle,
		CreatedAt: time.Now(),
	}
	if err := s.repo.Add(rec); err != nil {
		return nil, err
	}
	metrics.StateTransitions.WithLabelValues(string(data.StateIdle)).Inc()
	s.log.Info("download created", "download", unique, "files", len(files), "autostart", autostart)

	if autostart {
		if err := s.enqueueLocked(rec); err != nil {
			return nil, err
		}
		rec, err = s.repo.Find(unique)
		if err != nil {
			return nil, err
		}
		return rec, nil
	}
	return rec.Clone(), nil
}

// resolveNameLocked applies the " 2", " 3", … collision suffix. Exact
// resubmission of the same file set and password is an error, not a new
// record.
func (s *Scheduler) resolveNameLocked(name string, files []string, password string) (string, error) {
	print := fp.Fingerprint(files, password)
	candidate := name
	for n := 2; ; n++ {
		existing := s.repo.FindOrDefault(candidate)
		if existing == nil {
			return candidate, nil
		}
		if fp.Fingerprint(existing.Files, existing.Password) == print {
			return "", fmt.Errorf("create %q: %w", candidate, data.ErrDuplicate)
		}
		candidate = fmt.Sprintf("%s %d", name, n)
	}
}

// Start enqueues the download. Legal from Idle, Canceled, Failed and
// Completed.
func (s *Scheduler) Start(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.repo.Find(name)
	if err != nil {
		return err
	}
	if !startable[d.State] {
		return fmt.Errorf("start %q from %s: %w", name, d.State, data.ErrCommandNotAllowed)
	}
	return s.enqueueLocked(d)
}

// StartAll enqueues every record in Idle, Canceled or Failed and returns how
// many it started.
func (s *Scheduler) StartAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var started int
	for _, d := range s.repo.All() {
		switch d.State {
		case data.StateIdle, data.StateCanceled, data.StateFailed:
			if err := s.enqueueLocked(d); err != nil {
				s.log.Error("start all", "download", d.Name, "err", err)
				continue
			}
			started++
		}
	}
	return started
}

// Stop takes a Queued record back to Idle, or signals cancellation on a
// Running one; the worker's unwind then drives the Canceled transition.
func (s *Scheduler) Stop(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked(name)
}

// StopAll stops every Queued or Running record and returns how many it
// touched.
func (s *Scheduler) StopAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stopped int
	for _, d := range s.repo.All() {
		if !stoppable[d.State] {
			continue
		}
		if err := s.stopLocked(d.Name); err != nil {
			s.log.Error("stop all", "download", d.Name, "err", err)
			continue
		}
		stopped++
	}
	return stopped
}

func (s *Scheduler) stopLocked(name string) error {
	d, err := s.repo.Find(name)
	if err != nil {
		return err
	}
	switch d.State {
	case data.StateQueued:
		// The queue entry stays behind; the dequeuing worker skips it
		// because the record is no longer Queued.
		return s.applyLocked(next(d, data.StateIdle))
	case data.StateRunning:
		d.Cancel()
		return s.applyLocked(next(d, data.StateStopping))
	default:
		return fmt.Errorf("stop %q from %s: %w", name, d.State, data.ErrCommandNotAllowed)
	}
}

// Delete transitions to Deleting and removes on-disk artifacts
// asynchronously. A cleanup failure leaves the record Failed so the user can
// retry the delete.
func (s *Scheduler) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.repo.Find(name)
	if err != nil {
		return err
	}
	if !deletable[d.State] {
		return fmt.Errorf("delete %q from %s: %w", name, d.State, data.ErrCommandNotAllowed)
	}
	if err := s.applyLocked(next(d, data.StateDeleting)); err != nil {
		return err
	}

	s.wg.Add(1)
	go s.finishDelete(name)
	return nil
}

func (s *Scheduler) finishDelete(name string) {
	defer s.wg.Done()

	var g errgroup.Group
	g.Go(func() error { return s.store.DeleteOutputFolder(name) })
	g.Go(func() error { return s.store.DeleteManifest(name) })
	cleanupErr := g.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.repo.Find(name)
	if err != nil {
		s.log.Error("delete finish: record vanished", "download", name, "err", err)
		return
	}
	if cleanupErr != nil {
		s.log.Error("delete failed", "download", name, "err", cleanupErr)
		upd := next(d, data.StateFailed)
		upd.LastError = "DeleteFailed"
		if err := s.applyLocked(upd); err != nil {
			s.log.Error("delete failure transition", "download", name, "err", err)
		}
		s.sink.Alert(name, cleanupErr)
		return
	}

	if err := s.repo.Remove(name); err != nil {
		s.log.Error("delete remove", "download", name, "err", err)
		return
	}
	delete(s.monitors, name)
	s.log.Info("download deleted", "download", name)
	s.recordHistory(name, data.StateDeleting, "")
}

// Downloads returns a point-in-time snapshot of all records.
func (s *Scheduler) Downloads() data.Downloads {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repo.All()
}

// Get returns one record by name.
func (s *Scheduler) Get(name string) (*data.Download, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repo.Find(name)
}

// Bandwidth returns the utilization history, oldest first.
func (s *Scheduler) Bandwidth() []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bandwidth.Samples()
}

// SetConcurrency resizes the worker pool; observed live by the workers.
func (s *Scheduler) SetConcurrency(n int) {
	s.pool.Resize(n)
}

// Concurrency returns the worker pool's current target size.
func (s *Scheduler) Concurrency() int {
	return s.pool.Size()
}

// enqueueLocked transitions to Queued and appends the name to the work
// queue. Caller holds the write lock.
func (s *Scheduler) enqueueLocked(d *data.Download) error {
	if err := s.applyLocked(next(d, data.StateQueued)); err != nil {
		return err
	}
	if err := s.pool.Enqueue(d.Name); err != nil {
		// roll the state back so the record is not stuck Queued forever
		if rerr := s.applyLocked(next(d, data.StateIdle)); rerr != nil {
			s.log.Error("enqueue rollback", "download", d.Name, "err", rerr)
		}
		return fmt.Errorf("enqueue %q: %w", d.Name, err)
	}
	return nil
}

// applyLocked swaps the fully-computed record value into the repository.
// Caller holds the write lock.
func (s *Scheduler) applyLocked(d *data.Download) error {
	if err := s.repo.Update(d); err != nil {
		return err
	}
	metrics.StateTransitions.WithLabelValues(string(d.State)).Inc()
	return nil
}

// runWorker executes one dequeued name end-to-end. All pipeline errors are
// translated into exactly one terminal callback; nothing escapes to crash
// the worker.
func (s *Scheduler) runWorker(name string) {
	d, ctx, ok := s.beginWork(name)
	if !ok {
		return
	}
	defer d.Cancel()

	err := s.pipeline.Run(ctx, d)
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil:
		s.onCanceled(name)
	case err == nil:
		s.onCompleted(name)
	default:
		s.onFailed(name, err)
	}
}

// beginWork atomically claims a dequeued name. A record that is no longer
// Queued (stopped, deleted, restarted elsewhere) is skipped silently.
func (s *Scheduler) beginWork(name string) (*data.Download, context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.repo.Find(name)
	if err != nil || d.State != data.StateQueued {
		return nil, nil, false
	}

	ctx, cancel := context.WithCancel(context.Background())
	upd := next(d, data.StateRunning)
	upd.SubStage = data.SubStageCheckStatus
	upd.Cancel = cancel
	if err := s.applyLocked(upd); err != nil {
		cancel()
		s.log.Error("begin work", "download", name, "err", err)
		return nil, nil, false
	}
	metrics.ActiveDownloads.Inc()
	return upd.Clone(), ctx, true
}

func (s *Scheduler) onCompleted(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.repo.Find(name)
	if err != nil {
		s.log.Error("completion for unknown download", "download", name, "err", err)
		return
	}
	switch d.State {
	case data.StateRunning:
		s.finishLocked(d, data.StateCompleted, "")
	case data.StateStopping:
		// Stop won the race: a success observed after a stop request is
		// still a cancellation.
		s.finishLocked(d, data.StateCanceled, "")
	default:
		s.log.Warn("stale completion", "download", name, "state", d.State)
	}
}

func (s *Scheduler) onCanceled(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.repo.Find(name)
	if err != nil {
		s.log.Error("cancellation for unknown download", "download", name, "err", err)
		return
	}
	switch d.State {
	case data.StateRunning, data.StateStopping:
		s.finishLocked(d, data.StateCanceled, "")
	default:
		s.log.Warn("stale cancellation", "download", name, "state", d.State)
	}
}

func (s *Scheduler) onFailed(name string, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.repo.Find(name)
	if err != nil {
		s.log.Error("failure for unknown download", "download", name, "err", err)
		return
	}
	switch d.State {
	case data.StateStopping:
		s.finishLocked(d, data.StateCanceled, "")
	case data.StateRunning:
		to := data.StateFailed
		if errors.Is(cause, hoster.ErrUnsupportedLink) {
			to = data.StateUnsupported
		}
		s.log.Error("download failed", "download", name, "err", cause)
		s.finishLocked(d, to, classify(cause))
	default:
		s.log.Warn("stale failure", "download", name, "state", d.State)
	}
}

// finishLocked applies a terminal transition. Caller holds the write lock.
func (s *Scheduler) finishLocked(d *data.Download, to data.State, lastError string) {
	upd := next(d, to)
	upd.LastError = lastError
	if err := s.applyLocked(upd); err != nil {
		s.log.Error("terminal transition", "download", d.Name, "state", to, "err", err)
		return
	}
	delete(s.monitors, d.Name)
	metrics.ActiveDownloads.Dec()
	s.recordHistory(d.Name, to, lastError)
}

// recordHistory appends to the audit ledger without holding up the caller.
func (s *Scheduler) recordHistory(name string, state data.State, lastError string) {
	if s.history == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.history.Record(ctx, name, state, lastError); err != nil {
			s.log.Error("history record", "download", name, "err", err)
		}
	}()
}

// StartTracking swaps in a fresh monitor for the download. Implements
// fetch.Tracker.
func (s *Scheduler) StartTracking(name string, totalBytes, alreadyDownloaded int64) *monitor.Monitor {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := monitor.New(totalBytes, alreadyDownloaded)
	s.monitors[name] = m
	return m
}

// SetSubStage updates the Running record's substage. Implements
// fetch.Tracker. Progress fields are left as the tick last computed them.
func (s *Scheduler) SetSubStage(name string, stage data.SubStage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.repo.Find(name)
	if err != nil || d.State != data.StateRunning || d.SubStage == stage {
		return
	}
	d.SubStage = stage
	if err := s.repo.Update(d); err != nil {
		s.log.Error("substage update", "download", name, "err", err)
	}
}

// tick drains every active monitor, refreshes the Running records' progress
// fields and appends one bandwidth sample. Runs once per second.
func (s *Scheduler) tick() {
	s.mu.Lock()

	var drained int64
	for name, mon := range s.monitors {
		drained += mon.Update()

		d, err := s.repo.Find(name)
		if err != nil || d.State != data.StateRunning {
			continue
		}
		bps, eta, pct, etaKnown := mon.Snapshot()
		d.BytesPerSecond = &bps
		d.PercentComplete = &pct
		if etaKnown {
			d.SecondsToComplete = &eta
		} else {
			d.SecondsToComplete = nil
		}
		if err := s.repo.Update(d); err != nil {
			s.log.Error("progress update", "download", name, "err", err)
		}
	}
	s.bandwidth.Record(drained)
	samples := s.bandwidth.Samples()

	s.mu.Unlock()

	s.sink.NotifyBandwidth(samples)
}
