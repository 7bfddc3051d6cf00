package resilience

import (
	"errors"
	"strings"
)

// TransientError wraps an error the caller should retry: a failure of the
// target system that is expected to clear on its own (connection refused,
// timeout, 5xx response).
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	if e.Op == "" {
		return "transient: " + e.Err.Error()
	}
	return "transient: " + e.Op + ": " + e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps an error the caller must not retry: the operation is
// malformed or unauthorized and retrying would only repeat the failure
// (validation error, 4xx response, authorization failure, schema mismatch).
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string {
	if e.Op == "" {
		return "permanent: " + e.Err.Error()
	}
	return "permanent: " + e.Op + ": " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError. A nil err returns nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// Permanent wraps err as a PermanentError. A nil err returns nil.
func Permanent(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Op: op, Err: err}
}

// IsTransient reports whether err (or something it wraps) is a TransientError.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsPermanent reports whether err (or something it wraps) is a PermanentError.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// authErrorIndicators flags adapter responses that must never be retried
// even though they may look like transient network failures on the wire.
var authErrorIndicators = []string{
	"unauthorized",
	"forbidden",
	"invalid credentials",
	"authentication failed",
	"401",
	"403",
}

// schemaErrorIndicators flags adapter responses indicating the payload does
// not match the target's expected shape — a permanent, non-retryable defect.
var schemaErrorIndicators = []string{
	"schema mismatch",
	"unknown column",
	"unknown field",
	"type mismatch",
	"constraint violation",
}

// ClassifyAdapterError extends classifyError with adapter-specific
// authorization and schema detection: an error that looks network-transient
// but carries an auth or schema indicator is classified permanent instead.
func ClassifyAdapterError(err error) error {
	if err == nil {
		return nil
	}
	if IsTransient(err) || IsPermanent(err) {
		return err
	}

	msg := strings.ToLower(err.Error())
	for _, ind := range authErrorIndicators {
		if strings.Contains(msg, ind) {
			return Permanent("adapter", err)
		}
	}
	for _, ind := range schemaErrorIndicators {
		if strings.Contains(msg, ind) {
			return Permanent("adapter", err)
		}
	}

	checker := &DefaultErrorChecker{}
	if checker.IsRetryable(err) {
		return Transient("adapter", err)
	}
	return Permanent("adapter", err)
}
