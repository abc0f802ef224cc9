package models

import "errors"

// Error taxonomy shared across the pipeline. Transport failures from AI
// providers are ordinary wrapped errors and stay inside the vision retry
// machine; refusals are a classification, not an error.
var (
	// ErrSourceUnreadable means the media file cannot be opened or contains
	// no readable frames. Fatal: the job fails immediately.
	ErrSourceUnreadable = errors.New("media source unreadable")

	// ErrDecodeFailed means a single frame's pixels could not be decoded.
	// Non-fatal: the frame is treated as automatically unique.
	ErrDecodeFailed = errors.New("frame decode failed")

	// ErrPersistence means the external store rejected a write. Fatal: the
	// job fails, but the temp directory is still cleaned.
	ErrPersistence = errors.New("persistence rejected write")
)
