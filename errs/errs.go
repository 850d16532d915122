// Package errs defines the error classes shared by the RT-DC packages.
//
// Every error returned by config, dataset, writer and export matches exactly
// one of the sentinels below with errors.Is. Engine errors from the hdf5
// package are wrapped, not reclassified.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrFormat reports malformed configuration text.
	ErrFormat = errors.New("format error")

	// ErrContract reports a violated calling contract: unknown vocabulary,
	// a missing required section, a bad write mode or mismatched lengths.
	ErrContract = errors.New("contract violation")

	// ErrNotImplemented reports an operation a dataset variant does not
	// support, such as inheriting a non-column feature in a hierarchy.
	ErrNotImplemented = errors.New("not implemented")
)

// Formatf returns an ErrFormat with a formatted message.
func Formatf(format string, args ...any) error {
	return wrap(ErrFormat, format, args...)
}

// Contractf returns an ErrContract with a formatted message.
func Contractf(format string, args ...any) error {
	return wrap(ErrContract, format, args...)
}

// NotImplementedf returns an ErrNotImplemented with a formatted message.
func NotImplementedf(format string, args ...any) error {
	return wrap(ErrNotImplemented, format, args...)
}

func wrap(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), sentinel)
}

// Class returns "format", "contract" or "not implemented" for errors of the
// corresponding class, "" for nil and "other" for anything else.
func Class(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrFormat):
		return "format"
	case errors.Is(err, ErrContract):
		return "contract"
	case errors.Is(err, ErrNotImplemented):
		return "not implemented"
	default:
		return "other"
	}
}
