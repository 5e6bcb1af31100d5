package data

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"
)

// State is the lifecycle stage of a download.
type State string

const (
	StateIdle        State = "Idle"
	StateQueued      State = "Queued"
	StateRunning     State = "Running"
	StateStopping    State = "Stopping"
	StateCanceled    State = "Canceled"
	StateFailed      State = "Failed"
	StateCompleted   State = "Completed"
	StateDeleting    State = "Deleting"
	StateUnsupported State = "Unsupported"
)

// SubStage describes what the active worker is doing. It is meaningful only
// while State is Running.
type SubStage string

const (
	SubStageCheckStatus SubStage = "CheckStatus"
	SubStageDownloading SubStage = "Downloading"
	SubStageRetrying    SubStage = "Retrying"
	SubStageExtracting  SubStage = "Extracting"
)

var (
	ErrNotFound          = errors.New("download not found")
	ErrCommandNotAllowed = errors.New("command not allowed in current state")
	ErrDuplicate         = errors.New("duplicate download")
	ErrEmptyFiles        = errors.New("files must not be empty")
	ErrBadName           = errors.New("invalid download name")
)

// Download is a named group of source links treated as one unit of work.
// Records are treated as immutable values: every state transition constructs
// a fresh record and swaps it into the repository.
type Download struct {
	Name     string   `json:"name"`
	Files    []string `json:"files"`
	Password string   `json:"-"`
	State    State    `json:"state"`
	SubStage SubStage `json:"subStage,omitempty"`

	// Transient progress fields, set only while Running.
	BytesPerSecond    *int64 `json:"bytesPerSecond,omitempty"`
	SecondsToComplete *int64 `json:"secondsToComplete,omitempty"`
	PercentComplete   *int   `json:"percentComplete,omitempty"`

	// LastError is the error classification, set only in Failed and
	// Unsupported states.
	LastError string `json:"lastError,omitempty"`

	CreatedAt time.Time `json:"createdAt"`

	// Cancel aborts the active worker. Non-nil if and only if State is
	// Running.
	Cancel context.CancelFunc `json:"-"`
}

type Downloads []*Download

func (d *Download) Clone() *Download {
	if d == nil {
		return nil
	}
	c := *d
	c.Files = make([]string, len(d.Files))
	copy(c.Files, d.Files)
	if d.BytesPerSecond != nil {
		v := *d.BytesPerSecond
		c.BytesPerSecond = &v
	}
	if d.SecondsToComplete != nil {
		v := *d.SecondsToComplete
		c.SecondsToComplete = &v
	}
	if d.PercentComplete != nil {
		v := *d.PercentComplete
		c.PercentComplete = &v
	}
	return &c
}

func (d Downloads) Clone() Downloads {
	out := make(Downloads, len(d))
	for i, dl := range d {
		out[i] = dl.Clone()
	}
	return out
}

func (d *Download) ToJSON(w io.Writer) error { return json.NewEncoder(w).Encode(d) }

func (d Downloads) ToJSON(w io.Writer) error { return json.NewEncoder(w).Encode(d) }

// SanitizeName maps an arbitrary submitted name to a filesystem-safe one.
// Path separators, reserved punctuation and control characters become
// underscores; surrounding whitespace and dots are trimmed. An empty result
// is rejected with ErrBadName.
func SanitizeName(name string) (string, error) {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < 0x20 || r == 0x7f:
			b.WriteRune('_')
		case strings.ContainsRune(`/\:*?"<>|`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	s := strings.Trim(b.String(), " .")
	if s == "" {
		return "", ErrBadName
	}
	return s, nil
}
