package media

import (
	"errors"
	"fmt"
)

var (
	// ErrNoResults is returned when a search produced no output.
	ErrNoResults = errors.New("no results found")
	// ErrMalformedResponse is returned when the downloader output is not usable metadata.
	ErrMalformedResponse = errors.New("malformed metadata response")
	// ErrInvalidScheme is returned when a stream URL is not http(s).
	ErrInvalidScheme = errors.New("URL must start with http: or https:")
	// ErrStartTimeout is returned when the downloader produced no audio in time.
	ErrStartTimeout = errors.New("downloader produced no output before the start timeout")
)

// ToolFailureError reports that the downloader could not be run or exited non-zero
// while fetching metadata.
type ToolFailureError struct {
	Message string
}

func (e *ToolFailureError) Error() string {
	return e.Message
}

// ProcessFailedError reports that the download process exited before producing
// any audio.
type ProcessFailedError struct {
	ExitCode int
	Stderr   string
}

func (e *ProcessFailedError) Error() string {
	return fmt.Sprintf("subprocess exited with code %d: %s", e.ExitCode, e.Stderr)
}
