package repo

import (
	"github.com/jrelva/stashd/internal/data"
)

// EventKind classifies a repository change notification.
type EventKind string

const (
	EventAdded   EventKind = "Added"
	EventRemoved EventKind = "Removed"
	EventChanged EventKind = "Changed"
)

// Notifier receives exactly one event per repository mutation, emitted after
// the mutation is applied and before the mutating call returns. It must not
// block the caller beyond a bounded time.
type Notifier interface {
	Notify(kind EventKind, d *data.Download)
}

// DownloadRepo is the in-memory record store. Implementations perform no
// locking of their own: the Scheduler serializes all access, reads included,
// through its context lock.
type DownloadRepo interface {
	Add(d *data.Download) error
	// Update replaces the record with the same name. A missing name returns
	// data.ErrNotFound rather than panicking, so callers can detect races.
	Update(d *data.Download) error
	Remove(name string) error
	Find(name string) (*data.Download, error)
	FindOrDefault(name string) *data.Download
	Contains(name string) bool
	// All returns a point-in-time snapshot.
	All() data.Downloads
}
