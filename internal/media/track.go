// Package media talks to the external downloader: it resolves user input into
// track metadata, opens audio byte streams and keeps the downloader updated.
package media

import (
	"fmt"
	"strings"
)

// maxDisplayLen keeps replies under the Discord message limit.
const maxDisplayLen = 1950

// TrackRequest is a single user request to play something.
type TrackRequest struct {
	RawQuery string
}

// TrackMetadata describes a playable item. It is immutable once resolved.
type TrackMetadata struct {
	SourceURL       string
	Title           string
	DurationSeconds float64
}

// Duration renders the track length as HH:MM:SS.
func (t TrackMetadata) Duration() string {
	return FormatDuration(t.DurationSeconds)
}

// FormatDuration formats seconds as zero-padded hours:minutes:seconds.
// Fractions are truncated and negative values render as zero.
func FormatDuration(seconds float64) string {
	total := int(seconds)
	if total < 0 {
		total = 0
	}
	hours := total / 3600
	minutes := (total % 3600) / 60
	secs := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, secs)
}

// Truncate cuts s to at most maxDisplayLen runes.
func Truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= maxDisplayLen {
		return s
	}
	return strings.TrimSpace(string(runes[:maxDisplayLen]))
}

// DisplayText turns an error into text safe to send back to the chat platform.
func DisplayText(err error) string {
	if err == nil {
		return ""
	}
	return Truncate(err.Error())
}
