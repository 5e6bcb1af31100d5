package v1

import "errors"

var (
	ErrCreateCtx     = errors.New("create request missing in context")
	ErrSettingsCtx   = errors.New("settings request missing in context")
	ErrFilesRequired = errors.New("files is required")
	ErrConcurrency   = errors.New("concurrentDownloads must be at least 1")
	ErrContentType   = errors.New("Content-Type must be application/json")
)
