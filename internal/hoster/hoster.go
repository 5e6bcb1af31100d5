// Package hoster defines the sharehoster file API the fetch pipeline
// consumes, and an HTTP implementation of it.
package hoster

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// FileInfo is the remote metadata for a single link.
type FileInfo struct {
	ID   string
	Name string
	Size int64
}

// Client is the sharehoster capability consumed by the core.
type Client interface {
	// GetFileInfo resolves a link to its remote id, display name and size.
	GetFileInfo(ctx context.Context, link string) (*FileInfo, error)
	// OpenStream opens the remote file for reading starting at offset.
	OpenStream(ctx context.Context, fileID string, offset int64) (io.ReadCloser, error)
}

var (
	// ErrAuthExpired means the session token was rejected even after a
	// re-login attempt.
	ErrAuthExpired = errors.New("hoster: auth expired")
	// ErrFileMissing means the remote file is gone.
	ErrFileMissing = errors.New("hoster: file missing")
	// ErrQuotaExceeded means the account's traffic quota is used up.
	ErrQuotaExceeded = errors.New("hoster: quota exceeded")
	// ErrUnsupportedLink means the link does not belong to this hoster.
	ErrUnsupportedLink = errors.New("hoster: unsupported link")
	// ErrResumeUnsupported means the server ignored a Range request and
	// answered with the whole file. Callers must restart from byte zero.
	ErrResumeUnsupported = errors.New("hoster: resume unsupported")
)

// TransientError wraps network-level failures that are worth retrying.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("hoster: transient failure during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err should go through the retry policy.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
