package rag

import (
	"errors"
	"fmt"
)

// UnsupportedFormatError reports a document whose file extension has no
// registered decoder.
type UnsupportedFormatError struct {
	// Path is the file that was rejected.
	Path string
	// Ext is the unrecognized extension (lowercase, including the dot).
	Ext string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported file format %q: %s", e.Ext, e.Path)
}

// LoadError reports a decode or read failure for a specific document.
type LoadError struct {
	// Path identifies the file that failed to load.
	Path string
	// Err is the underlying cause.
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying cause.
func (e *LoadError) Unwrap() error { return e.Err }

// ProviderUnavailableError reports an unreachable or failing model backend
// (embedding or completion).
type ProviderUnavailableError struct {
	// Provider names the backend ("ollama", "openai", ...).
	Provider string
	// Op is the operation that failed ("embed", "complete").
	Op string
	// Err is the underlying cause.
	Err error
}

func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("provider %s unavailable during %s: %v", e.Provider, e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ProviderUnavailableError) Unwrap() error { return e.Err }

// IndexCorruptError reports an unreadable on-disk tenant index.
type IndexCorruptError struct {
	// UserID owns the unreadable index.
	UserID string
	// Err is the underlying cause.
	Err error
}

func (e *IndexCorruptError) Error() string {
	return fmt.Sprintf("tenant index for user %s is corrupt: %v", e.UserID, e.Err)
}

// Unwrap returns the underlying cause.
func (e *IndexCorruptError) Unwrap() error { return e.Err }

// OpError annotates a failure with the user and engine operation it occurred
// in, so the excluded API layer can log without parsing messages.
type OpError struct {
	// UserID is the tenant the operation ran for.
	UserID string
	// Op is the engine operation ("ingest", "query", "clear").
	Op string
	// Err is the underlying cause.
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s for user %s: %v", e.Op, e.UserID, e.Err)
}

// Unwrap returns the underlying cause.
func (e *OpError) Unwrap() error { return e.Err }

// IsProviderUnavailable reports whether err wraps a ProviderUnavailableError.
func IsProviderUnavailable(err error) bool {
	var pe *ProviderUnavailableError
	return errors.As(err, &pe)
}

// IsUnsupportedFormat reports whether err wraps an UnsupportedFormatError.
func IsUnsupportedFormat(err error) bool {
	var ue *UnsupportedFormatError
	return errors.As(err, &ue)
}
