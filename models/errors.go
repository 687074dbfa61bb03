package models

import (
	"errors"
	"fmt"
)

var (
	ErrValidation            = errors.New("validation failed")
	ErrExtraction            = errors.New("text extraction failed")
	ErrClassifierUnavailable = errors.New("classifier unavailable")
	ErrParse                 = errors.New("classifier output unparsable")
)

// ValidationError rejects a request before it reaches any dependency.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ExtractionError is an OCR engine failure.
type ExtractionError struct {
	Engine string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction: %s: %v", e.Engine, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

func (e *ExtractionError) Is(target error) bool { return target == ErrExtraction }

// ClassifierUnavailableError is a transport failure, timeout or non-2xx
// response from the remote classifier.
type ClassifierUnavailableError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ClassifierUnavailableError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("classifier %s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("classifier %s: %v", e.Provider, e.Err)
}

func (e *ClassifierUnavailableError) Unwrap() error { return e.Err }

func (e *ClassifierUnavailableError) Is(target error) bool {
	return target == ErrClassifierUnavailable
}

// Retryable is false for 4xx responses other than 408 and 429, which will
// not change on a second attempt.
func (e *ClassifierUnavailableError) Retryable() bool {
	if e.StatusCode >= 400 && e.StatusCode < 500 {
		return e.StatusCode == 408 || e.StatusCode == 429
	}
	return true
}

// ParseError describes malformed classifier output. It never leaves the
// parser as an error value; it is reported alongside the fallback verdict.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse: %s: %v", e.Reason, e.Err)
	}
	return "parse: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrParse }
