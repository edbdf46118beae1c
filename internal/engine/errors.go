package engine

import (
	"errors"
	"fmt"
)

// Exit codes distinguishable by an automated caller without parsing
// text.
const (
	ExitOK         = 0
	ExitInternal   = 1
	ExitValidation = 2
	ExitData       = 3
	ExitUpstream   = 4
)

// ValidationError marks bad operator input or violated policy
// preconditions. Raised before any fetch is attempted.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return "validation: " + e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// DataError marks data that exists but is unusable: zero valid
// samples, a gap run over tolerance, or a strict-final gap. Retrying
// the same request will not help without a later wall clock.
type DataError struct {
	Err error
}

func (e *DataError) Error() string { return "data: " + e.Err.Error() }
func (e *DataError) Unwrap() error { return e.Err }

// UpstreamError surfaces an exhausted fetch from a source adapter
// unchanged; the engine never retries on its own.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string { return "upstream: " + e.Err.Error() }
func (e *UpstreamError) Unwrap() error { return e.Err }

func validationf(format string, args ...any) error {
	return &ValidationError{Err: fmt.Errorf(format, args...)}
}

func dataf(format string, args ...any) error {
	return &DataError{Err: fmt.Errorf(format, args...)}
}

// ExitCode maps an error to its terminal code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ExitValidation
	}
	var de *DataError
	if errors.As(err, &de) {
		return ExitData
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ExitUpstream
	}
	return ExitInternal
}
