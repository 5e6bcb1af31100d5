package repo

import (
	"fmt"
	"sort"

	"github.com/jrelva/stashd/internal/data"
)

// InMemoryDownloadRepo keeps records in a map keyed by download name. It is
// deliberately unsynchronized; the owning Scheduler holds its reader/writer
// lock around every call.
type InMemoryDownloadRepo struct {
	downloads map[string]*data.Download
	notifier  Notifier
}

func NewInMemoryDownloadRepo(n Notifier) *InMemoryDownloadRepo {
	return &InMemoryDownloadRepo{
		downloads: make(map[string]*data.Download),
		notifier:  n,
	}
}

func (r *InMemoryDownloadRepo) Add(d *data.Download) error {
	if _, ok := r.downloads[d.Name]; ok {
		return fmt.Errorf("add %q: %w", d.Name, data.ErrDuplicate)
	}
	r.downloads[d.Name] = d
	r.notify(EventAdded, d)
	return nil
}

func (r *InMemoryDownloadRepo) Update(d *data.Download) error {
	if _, ok := r.downloads[d.Name]; !ok {
		return fmt.Errorf("update %q: %w", d.Name, data.ErrNotFound)
	}
	r.downloads[d.Name] = d
	r.notify(EventChanged, d)
	return nil
}

func (r *InMemoryDownloadRepo) Remove(name string) error {
	d, ok := r.downloads[name]
	if !ok {
		return fmt.Errorf("remove %q: %w", name, data.ErrNotFound)
	}
	delete(r.downloads, name)
	r.notify(EventRemoved, d)
	return nil
}

func (r *InMemoryDownloadRepo) Find(name string) (*data.Download, error) {
	d, ok := r.downloads[name]
	if !ok {
		return nil, fmt.Errorf("find %q: %w", name, data.ErrNotFound)
	}
	return d.Clone(), nil
}

func (r *InMemoryDownloadRepo) FindOrDefault(name string) *data.Download {
	return r.downloads[name].Clone()
}

func (r *InMemoryDownloadRepo) Contains(name string) bool {
	_, ok := r.downloads[name]
	return ok
}

func (r *InMemoryDownloadRepo) All() data.Downloads {
	out := make(data.Downloads, 0, len(r.downloads))
	for _, d := range r.downloads {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *InMemoryDownloadRepo) notify(kind EventKind, d *data.Download) {
	if r.notifier != nil {
		r.notifier.Notify(kind, d.Clone())
	}
}
