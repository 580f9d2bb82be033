package model

import "errors"

var (
	// ErrDirectoryUnavailable means the recipient set could not be resolved.
	ErrDirectoryUnavailable = errors.New("recipient directory unavailable")
	// ErrTransport is a per-recipient send failure.
	ErrTransport = errors.New("transport failure")
	// ErrTemplateRender means subject or body could not be rendered.
	ErrTemplateRender = errors.New("template render failed")
	// ErrQuery is an entity deadline source failure.
	ErrQuery = errors.New("deadline query failed")
	// ErrPersistence means a log or schedule store write or read failed.
	ErrPersistence = errors.New("persistence failure")

	ErrNotFound          = errors.New("not found")
	ErrInvalidKind       = errors.New("invalid notification kind")
	ErrInvalidTarget     = errors.New("invalid target")
	ErrInvalidSchedule   = errors.New("invalid schedule request")
	ErrRecipientRequired = errors.New("kind requires an explicit recipient")
	ErrJobRunning        = errors.New("job already running")
	ErrShuttingDown      = errors.New("notifier is shutting down")
)
