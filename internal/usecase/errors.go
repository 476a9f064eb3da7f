package usecase

import "fmt"

// Failure classes callers branch on. Each wraps the underlying cause so
// errors.Is/As keep working through the pipeline boundary.

// InputError means the video file or its transcript could not be used as
// given: missing file, unreadable media, malformed segments.
type InputError struct{ Err error }

func (e *InputError) Error() string { return fmt.Sprintf("input: %v", e.Err) }
func (e *InputError) Unwrap() error { return e.Err }

// ExtractionError covers audio extraction and transcription failures.
type ExtractionError struct{ Err error }

func (e *ExtractionError) Error() string { return fmt.Sprintf("extraction: %v", e.Err) }
func (e *ExtractionError) Unwrap() error { return e.Err }

// DuplicateResolutionError covers corpus index construction and annotation
// copying. Frame and scene state is still valid when it occurs.
type DuplicateResolutionError struct{ Err error }

func (e *DuplicateResolutionError) Error() string { return fmt.Sprintf("duplicate resolution: %v", e.Err) }
func (e *DuplicateResolutionError) Unwrap() error { return e.Err }

// PersistenceError covers store failures. Replace transactions guarantee the
// previous derived rows survive it.
type PersistenceError struct{ Err error }

func (e *PersistenceError) Error() string { return fmt.Sprintf("persistence: %v", e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

// TimeoutError marks a run aborted by a deadline rather than a broken input.
// Per-frame timeouts never produce it; they only skip the frame.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("%s timed out: %v", e.Op, e.Err) }
func (e *TimeoutError) Unwrap() error { return e.Err }
