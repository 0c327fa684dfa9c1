package solar

import (
	"errors"
	"fmt"
)

var (
	// ErrNotSequence is returned when the records field of a response is not a JSON array.
	ErrNotSequence = errors.New("telemetry records are not a sequence")
	// ErrMalformedTimestamp marks a record whose timestamp does not match its mode's layout.
	ErrMalformedTimestamp = errors.New("malformed record timestamp")
)

// FetchError ends a run: auth, transport or envelope failure from the telemetry API.
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// UploadError ends a run without data reaching PVOutput. The next scheduled
// run supersedes it.
type UploadError struct {
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload status: %v", e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// LookupError wraps an ambient temperature failure. It is never surfaced
// past the orchestrator.
type LookupError struct {
	Err error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("temperature lookup: %v", e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }
