package scheduler

import (
	"errors"

	"github.com/jrelva/stashd/internal/data"
	"github.com/jrelva/stashd/internal/extract"
	"github.com/jrelva/stashd/internal/hoster"
)

// Legal source states per user-invocable command. Worker callbacks are not
// listed; they validate against the record's current state directly.
var (
	startable = map[data.State]bool{
		data.StateIdle:      true,
		data.StateCanceled:  true,
		data.StateFailed:    true,
		data.StateCompleted: true,
	}
	stoppable = map[data.State]bool{
		data.StateQueued:  true,
		data.StateRunning: true,
	}
	deletable = map[data.State]bool{
		data.StateIdle:      true,
		data.StateCanceled:  true,
		data.StateFailed:    true,
		data.StateCompleted: true,
	}
)

// next builds the record value for a transition: a fresh copy with every
// transient field cleared, so nothing stale survives into the destination
// state. Callers set destination-specific fields afterwards.
func next(d *data.Download, to data.State) *data.Download {
	c := d.Clone()
	c.State = to
	c.SubStage = ""
	c.BytesPerSecond = nil
	c.SecondsToComplete = nil
	c.PercentComplete = nil
	c.LastError = ""
	c.Cancel = nil
	return c
}

// classify maps a pipeline error to the classification stored in LastError
// and shown to clients.
func classify(err error) string {
	var corrupt *extract.CorruptArchiveError
	switch {
	case errors.Is(err, hoster.ErrAuthExpired):
		return "AuthExpired"
	case errors.Is(err, hoster.ErrFileMissing):
		return "FileMissing"
	case errors.Is(err, hoster.ErrQuotaExceeded):
		return "QuotaExceeded"
	case errors.Is(err, hoster.ErrUnsupportedLink):
		return "UnsupportedLink"
	case errors.Is(err, extract.ErrBadPassword):
		return "BadPassword"
	case errors.As(err, &corrupt):
		return "CorruptArchive"
	case hoster.IsTransient(err):
		return "Transient"
	default:
		return "IO"
	}
}
