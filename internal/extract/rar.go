package extract

import (
	"errors"
	"io"

	"github.com/nwaples/rardecode/v2"
)

// RarExtractor opens multi-volume RAR archives with rardecode. Follow-up
// volumes are located automatically next to the first one.
type RarExtractor struct{}

func NewRarExtractor() *RarExtractor { return &RarExtractor{} }

var _ Extractor = (*RarExtractor)(nil)

func (e *RarExtractor) Open(files []string, password string) (Archive, error) {
	first, ok := FirstVolume(files)
	if !ok {
		return nil, ErrNotArchive
	}

	var opts []rardecode.Option
	if password != "" {
		opts = append(opts, rardecode.Password(password))
	}

	// One scan pass to size the whole archive so extraction progress can be
	// reported against a known total.
	total, err := scanTotal(first, opts)
	if err != nil {
		return nil, err
	}

	rc, err := rardecode.OpenReader(first, opts...)
	if err != nil {
		return nil, mapDecodeError(err)
	}
	return &rarArchive{rc: rc, total: total}, nil
}

func scanTotal(first string, opts []rardecode.Option) (int64, error) {
	rc, err := rardecode.OpenReader(first, opts...)
	if err != nil {
		return 0, mapDecodeError(err)
	}
	defer func() { _ = rc.Close() }()

	var total int64
	for {
		hdr, err := rc.Next()
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return 0, mapDecodeError(err)
		}
		if !hdr.IsDir && hdr.UnPackedSize > 0 {
			total += hdr.UnPackedSize
		}
	}
}

type rarArchive struct {
	rc    *rardecode.ReadCloser
	total int64
}

func (a *rarArchive) TotalSize() int64 { return a.total }

func (a *rarArchive) Next() (*Entry, error) {
	hdr, err := a.rc.Next()
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if err != nil {
		return nil, mapDecodeError(err)
	}
	size := hdr.UnPackedSize
	if size < 0 {
		size = 0
	}
	return &Entry{Name: hdr.Name, Size: size, IsDir: hdr.IsDir}, nil
}

func (a *rarArchive) Read(p []byte) (int, error) {
	n, err := a.rc.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, mapDecodeError(err)
	}
	return n, err
}

func (a *rarArchive) Close() error { return a.rc.Close() }

func mapDecodeError(err error) error {
	if errors.Is(err, rardecode.ErrBadPassword) {
		return ErrBadPassword
	}
	return &CorruptArchiveError{Err: err}
}
