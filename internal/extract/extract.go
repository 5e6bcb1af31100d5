// Package extract defines the archive extraction capability used after a
// download group finishes fetching.
package extract

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var (
	ErrBadPassword = errors.New("extract: bad password")
	ErrNotArchive  = errors.New("extract: no archive volume among files")
)

// CorruptArchiveError wraps decoder failures on damaged or truncated
// archives.
type CorruptArchiveError struct {
	Err error
}

func (e *CorruptArchiveError) Error() string { return fmt.Sprintf("extract: corrupt archive: %v", e.Err) }

func (e *CorruptArchiveError) Unwrap() error { return e.Err }

// Entry is one file or directory inside an archive.
type Entry struct {
	Name  string
	Size  int64
	IsDir bool
}

// Archive iterates archive entries. After Next returns an entry, the
// Archive's Read method yields that entry's decompressed bytes until the
// next call to Next. Next returns io.EOF when the archive is exhausted.
type Archive interface {
	io.Reader
	TotalSize() int64
	Next() (*Entry, error)
	Close() error
}

// Extractor opens the archive spanning the given local files.
type Extractor interface {
	Open(files []string, password string) (Archive, error)
}

var partRe = regexp.MustCompile(`(?i)\.part0*1\.rar$`)
var anyPartRe = regexp.MustCompile(`(?i)\.part\d+\.rar$`)

// FirstVolume picks the archive volume extraction must start from. Returns
// false when the file set contains no RAR volume.
func FirstVolume(files []string) (string, bool) {
	var rars []string
	for _, f := range files {
		low := strings.ToLower(f)
		if partRe.MatchString(low) {
			return f, true
		}
		if strings.HasSuffix(low, ".rar") {
			rars = append(rars, f)
		}
	}
	if len(rars) == 0 {
		return "", false
	}
	// Single .rar, or old-style volume naming (.rar + .r00 + .r01 ...):
	// the plain .rar is the head either way. Multiple .partN volumes with
	// part1 missing is a broken set; pick the lexicographically first so
	// the decoder surfaces the real error.
	sort.Strings(rars)
	for _, f := range rars {
		if !anyPartRe.MatchString(strings.ToLower(f)) {
			return f, true
		}
	}
	return rars[0], true
}

// IsArchive reports whether the downloaded file names look like a RAR set.
func IsArchive(files []string) bool {
	for _, f := range files {
		if strings.EqualFold(filepath.Ext(f), ".rar") {
			return true
		}
	}
	return false
}
