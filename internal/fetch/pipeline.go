// Package fetch runs the per-download pipeline: resolve remote metadata,
// stream every file to disk with resume support, then extract archives.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"

	"github.com/jrelva/stashd/internal/cache"
	"github.com/jrelva/stashd/internal/data"
	"github.com/jrelva/stashd/internal/extract"
	"github.com/jrelva/stashd/internal/hoster"
	"github.com/jrelva/stashd/internal/metrics"
	"github.com/jrelva/stashd/internal/monitor"
)

const copyBufSize = 32 * 1024

// Tracker is the scheduler-side surface the pipeline reports into.
type Tracker interface {
	// StartTracking swaps in a fresh monitor for the download, scoped to
	// the given totals.
	StartTracking(name string, totalBytes, alreadyDownloaded int64) *monitor.Monitor
	SetSubStage(name string, stage data.SubStage)
}

type Pipeline struct {
	fs        afero.Fs
	client    hoster.Client
	extractor extract.Extractor
	tracker   Tracker
	store     *cache.Store
	log       *slog.Logger

	extractingEnabled bool
	extractingDir     string
	retryAttempts     uint64
	retryDelay        time.Duration
}

func NewPipeline(
	fs afero.Fs,
	client hoster.Client,
	extractor extract.Extractor,
	tracker Tracker,
	store *cache.Store,
	log *slog.Logger,
	extractingEnabled bool,
	extractingDir string,
	retryAttempts int,
	retryDelay time.Duration,
) *Pipeline {
	if retryAttempts < 1 {
		retryAttempts = 1
	}
	return &Pipeline{
		fs:                fs,
		client:            client,
		extractor:         extractor,
		tracker:           tracker,
		store:             store,
		log:               log,
		extractingEnabled: extractingEnabled,
		extractingDir:     extractingDir,
		retryAttempts:     uint64(retryAttempts),
		retryDelay:        retryDelay,
	}
}

// Run executes the fetch pipeline for one download. It returns nil only when
// every file was fetched (and extracted, when enabled) and the context is
// still live: a success that raced a cancellation reports the cancellation.
func (p *Pipeline) Run(ctx context.Context, d *data.Download) error {
	outDir := p.store.OutputFolder(d.Name)
	if err := p.fs.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output folder: %w", err)
	}

	infos := make([]*hoster.FileInfo, 0, len(d.Files))
	var total, already int64
	for _, link := range d.Files {
		if err := ctx.Err(); err != nil {
			return err
		}
		info, err := p.fileInfo(ctx, d.Name, link)
		if err != nil {
			return err
		}
		infos = append(infos, info)
		total += info.Size
		if fi, err := p.fs.Stat(filepath.Join(outDir, info.Name)); err == nil && fi.Size() <= info.Size {
			already += fi.Size()
		}
	}

	mon := p.tracker.StartTracking(d.Name, total, already)
	p.tracker.SetSubStage(d.Name, data.SubStageDownloading)

	for _, info := range infos {
		if err := p.fetchFile(ctx, d.Name, mon, info, filepath.Join(outDir, info.Name)); err != nil {
			return err
		}
	}

	if p.extractingEnabled {
		names := make([]string, len(infos))
		for i, info := range infos {
			names[i] = info.Name
		}
		if extract.IsArchive(names) {
			if err := p.extractArchive(ctx, d, names, outDir); err != nil {
				return err
			}
		}
	}

	return ctx.Err()
}

// fileInfo resolves a link's remote metadata, retrying transient failures.
func (p *Pipeline) fileInfo(ctx context.Context, name, link string) (*hoster.FileInfo, error) {
	var info *hoster.FileInfo
	op := func() error {
		var err error
		info, err = p.client.GetFileInfo(ctx, link)
		if err != nil && !hoster.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := p.retry(ctx, name, "file_info", op); err != nil {
		return nil, err
	}
	return info, nil
}

// fetchFile streams one remote file to its local path, resuming from however
// many bytes a previous attempt already wrote.
func (p *Pipeline) fetchFile(ctx context.Context, name string, mon *monitor.Monitor, info *hoster.FileInfo, path string) error {
	p.log.Info("fetching file",
		"download", name,
		"file", info.Name,
		"size", humanize.Bytes(uint64(info.Size)))

	op := func() error {
		p.tracker.SetSubStage(name, data.SubStageDownloading)
		err := p.fetchOnce(ctx, mon, info, path)
		if err != nil && !hoster.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return p.retry(ctx, name, info.Name, op)
}

func (p *Pipeline) fetchOnce(ctx context.Context, mon *monitor.Monitor, info *hoster.FileInfo, path string) error {
	f, err := p.fs.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open local file: %w", err)
	}
	defer func() { _ = f.Close() }()

	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat local file: %w", err)
	}
	offset := fi.Size()
	if offset > info.Size {
		// local file longer than the remote one: stale leftovers, refetch
		if err := f.Truncate(0); err != nil {
			return fmt.Errorf("truncate local file: %w", err)
		}
		offset = 0
	}
	if offset == info.Size {
		return nil
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek local file: %w", err)
	}

	rc, err := p.client.OpenStream(ctx, info.ID, offset)
	if offset > 0 && errors.Is(err, hoster.ErrResumeUnsupported) {
		// the server only serves whole files; drop the partial local copy
		// and take the stream from byte zero
		if err := f.Truncate(0); err != nil {
			return fmt.Errorf("truncate local file: %w", err)
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("seek local file: %w", err)
		}
		offset = 0
		rc, err = p.client.OpenStream(ctx, info.ID, 0)
	}
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	written := offset
	buf := make([]byte, copyBufSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := rc.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return fmt.Errorf("write local file: %w", werr)
			}
			written += int64(n)
			mon.Report(int64(n))
			metrics.DownloadedBytes.Add(float64(n))
		}
		if errors.Is(rerr, io.EOF) {
			// a short stream must re-enter the retry/resume policy, not
			// complete the file
			if written != info.Size {
				return &hoster.TransientError{
					Op:  "read_stream",
					Err: fmt.Errorf("stream ended at %d of %d bytes", written, info.Size),
				}
			}
			return nil
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &hoster.TransientError{Op: "read_stream", Err: rerr}
		}
	}
}

func (p *Pipeline) extractArchive(ctx context.Context, d *data.Download, names []string, outDir string) error {
	p.tracker.SetSubStage(d.Name, data.SubStageExtracting)

	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(outDir, n)
	}
	arch, err := p.extractor.Open(paths, d.Password)
	if err != nil {
		return err
	}
	defer func() { _ = arch.Close() }()

	mon := p.tracker.StartTracking(d.Name, arch.TotalSize(), 0)
	destRoot := filepath.Join(p.extractingDir, d.Name)

	p.log.Info("extracting archive",
		"download", d.Name,
		"size", humanize.Bytes(uint64(arch.TotalSize())),
		"dest", destRoot)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		entry, err := arch.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := p.writeEntry(ctx, mon, arch, entry, destRoot); err != nil {
			return err
		}
	}
}

func (p *Pipeline) writeEntry(ctx context.Context, mon *monitor.Monitor, r io.Reader, entry *extract.Entry, destRoot string) error {
	dest := filepath.Join(destRoot, filepath.FromSlash(entry.Name))
	if !strings.HasPrefix(dest, filepath.Clean(destRoot)+string(os.PathSeparator)) {
		return &extract.CorruptArchiveError{Err: fmt.Errorf("entry %q escapes destination", entry.Name)}
	}
	if entry.IsDir {
		return p.fs.MkdirAll(dest, 0o755)
	}
	if err := p.fs.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create entry dir: %w", err)
	}

	out, err := p.fs.Create(dest)
	if err != nil {
		return fmt.Errorf("create entry file: %w", err)
	}
	defer func() { _ = out.Close() }()

	buf := make([]byte, copyBufSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return fmt.Errorf("write entry file: %w", werr)
			}
			mon.Report(int64(n))
		}
		if errors.Is(rerr, io.EOF) {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

// retry runs op under the bounded constant-delay retry policy. The substage
// flips to Retrying for the duration of each backoff wait; cancellation
// aborts the wait immediately.
func (p *Pipeline) retry(ctx context.Context, name, what string, op backoff.Operation) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.retryDelay), p.retryAttempts-1),
		ctx,
	)
	err := backoff.RetryNotify(op, policy, func(err error, _ time.Duration) {
		metrics.FetchRetries.Inc()
		p.log.Warn("transient fetch failure, will retry",
			"download", name,
			"file", what,
			"err", err)
		p.tracker.SetSubStage(name, data.SubStageRetrying)
	})
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
