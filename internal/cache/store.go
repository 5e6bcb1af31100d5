// Package cache persists each download's link list so pending work survives
// a restart.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

const manifestSuffix = ".stash.json"

// Manifest is the durable form of a download group.
type Manifest struct {
	Name     string   `json:"name"`
	Files    []string `json:"files"`
	Password string   `json:"password,omitempty"`
}

// Store writes per-download manifests and owns the on-disk layout of the
// download directory: one manifest file and one output folder per download,
// both named after the sanitized download name.
type Store struct {
	fs  afero.Fs
	dir string
}

func NewStore(fs afero.Fs, downloadDir string) *Store {
	return &Store{fs: fs, dir: downloadDir}
}

func (s *Store) WriteManifest(name string, files []string, password string) error {
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}
	b, err := json.Marshal(Manifest{Name: name, Files: files, Password: password})
	if err != nil {
		return fmt.Errorf("encode manifest %q: %w", name, err)
	}
	if err := afero.WriteFile(s.fs, s.manifestPath(name), b, 0o644); err != nil {
		return fmt.Errorf("write manifest %q: %w", name, err)
	}
	return nil
}

func (s *Store) DeleteManifest(name string) error {
	err := s.fs.Remove(s.manifestPath(name))
	if err != nil && !isNotExist(err) {
		return fmt.Errorf("delete manifest %q: %w", name, err)
	}
	return nil
}

func (s *Store) DeleteOutputFolder(name string) error {
	if err := s.fs.RemoveAll(s.OutputFolder(name)); err != nil {
		return fmt.Errorf("delete output folder %q: %w", name, err)
	}
	return nil
}

// ListManifests returns every manifest in the download directory. Unreadable
// or malformed files are skipped, not fatal: a half-written manifest from a
// crash must not block startup.
func (s *Store) ListManifests() ([]Manifest, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		if isNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read download dir: %w", err)
	}

	var out []Manifest
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), manifestSuffix) {
			continue
		}
		b, err := afero.ReadFile(s.fs, filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		var m Manifest
		if err := json.Unmarshal(b, &m); err != nil || m.Name == "" || len(m.Files) == 0 {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// OutputFolder is where the download's fetched files are written.
func (s *Store) OutputFolder(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *Store) manifestPath(name string) string {
	return filepath.Join(s.dir, name+manifestSuffix)
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
