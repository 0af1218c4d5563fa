package models

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
)

var (
	// ErrDecode marks a corrupt or undecodable file
	ErrDecode = errors.New("decode failure")
	// ErrUnsupported marks a file whose extension is not a recognized media type
	ErrUnsupported = errors.New("unsupported media type")
	// ErrNoAudioTrack is non-fatal: the video is still compared visually
	ErrNoAudioTrack = errors.New("no audio track")
	// ErrTimeout marks a file whose fingerprinting exceeded the per-file cap
	ErrTimeout = errors.New("fingerprint timed out")
	// ErrCancelledScan is returned when a scan is aborted; no groups are produced
	ErrCancelledScan = errors.New("scan cancelled")
	// ErrInvalidConfig is the only error that aborts a scan before it starts
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrScanInProgress is returned when a second scan is started on a busy engine
	ErrScanInProgress = errors.New("scan already in progress")
)

// ErrorKind classifies a per-file failure
type ErrorKind string

const (
	ErrorUnreadable  ErrorKind = "unreadable"
	ErrorUnsupported ErrorKind = "unsupported"
	ErrorDecode      ErrorKind = "decode_failure"
	ErrorNoAudio     ErrorKind = "no_audio"
	ErrorTimeout     ErrorKind = "timeout"
)

// FileError is a per-file failure reported alongside scan results
type FileError struct {
	Path   string    `json:"path"`
	Kind   ErrorKind `json:"kind"`
	Reason string    `json:"reason"`
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Path, e.Kind, e.Reason)
}

// Fatal reports whether the file was excluded from grouping
func (e FileError) Fatal() bool {
	return e.Kind != ErrorNoAudio
}

// NewFileError classifies err for path
func NewFileError(path string, err error) FileError {
	return FileError{Path: path, Kind: ErrorKindOf(err), Reason: err.Error()}
}

// ErrorKindOf maps a wrapped error onto the per-file error taxonomy
func ErrorKindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrUnsupported):
		return ErrorUnsupported
	case errors.Is(err, ErrNoAudioTrack):
		return ErrorNoAudio
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrorTimeout
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
		return ErrorUnreadable
	default:
		return ErrorDecode
	}
}

// SortFileErrors orders errs by path, then kind
func SortFileErrors(errs []FileError) {
	sort.Slice(errs, func(i, j int) bool {
		if errs[i].Path != errs[j].Path {
			return errs[i].Path < errs[j].Path
		}
		return errs[i].Kind < errs[j].Kind
	})
}
