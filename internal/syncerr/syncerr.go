// Package syncerr holds the failure taxonomy of the catalog sync pipeline.
// Stages wrap one of the sentinels below so callers can classify a failure
// with errors.Is without matching on strings.
package syncerr

import (
	"context"
	"errors"
	"net"
	"os"
)

var (
	// ErrDownload covers network failures, non-success HTTP statuses,
	// digest mismatches and decompression failures.
	ErrDownload = errors.New("download failed")
	// ErrStoreOpen means a local snapshot file is missing or malformed.
	ErrStoreOpen = errors.New("snapshot store open failed")
	// ErrMissingInfo means the primary store has no info row.
	ErrMissingInfo = errors.New("catalog info row missing")
	// ErrExtraction is an I/O or read failure during bulk image extraction.
	ErrExtraction = errors.New("image extraction failed")
	// ErrIO is a generic local filesystem failure.
	ErrIO = errors.New("local I/O failed")
)

// Code is a coarse failure category used in logs and API responses.
type Code string

const (
	CodeUnknown     Code = "unknown"
	CodeDownload    Code = "download"
	CodeStoreOpen   Code = "store_open"
	CodeMissingInfo Code = "missing_info"
	CodeExtraction  Code = "extraction"
	CodeIO          Code = "io"
	CodeCancel      Code = "cancel"
	CodeNetwork     Code = "network"
)

// Classify maps an error to its Code. Cancellation wins over everything else
// because a cancelled download also wraps ErrDownload.
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	switch {
	case errors.Is(err, ErrMissingInfo):
		return CodeMissingInfo
	case errors.Is(err, ErrStoreOpen):
		return CodeStoreOpen
	case errors.Is(err, ErrExtraction):
		return CodeExtraction
	case errors.Is(err, ErrDownload):
		return CodeDownload
	case errors.Is(err, ErrIO):
		return CodeIO
	}
	var perr *os.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return CodeNetwork
	}
	return CodeUnknown
}
