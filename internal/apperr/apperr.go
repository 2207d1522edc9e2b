// Package apperr defines the error taxonomy shared by the pipeline services and
// the HTTP boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors; wrap them with fmt.Errorf("...: %w", ErrX) to add context.
var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrInvalidState      = errors.New("invalid state")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrProcessing        = errors.New("processing error")
	ErrTransient         = errors.New("transient infrastructure error")
)

// Kind names used in logs and metric labels
const (
	KindValidation        = "validation"
	KindNotFound          = "not_found"
	KindInvalidState      = "invalid_state"
	KindInvalidTransition = "invalid_transition"
	KindProcessing        = "processing"
	KindTransient         = "transient"
	KindInternal          = "internal"
)

// Validation returns a validation error with the formatted message
func Validation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound returns a not-found error for the given entity and id
func NotFound(entity, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, entity, id)
}

// InvalidState returns an invalid-state error with the formatted message
func InvalidState(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

// InvalidTransition returns an error describing a rejected state change
func InvalidTransition(from, to string) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() []error {
	return []error{ErrTransient, e.err}
}

// Transient marks err as an infrastructure failure such as storage being unavailable
func Transient(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransient) {
		return err
	}
	return &transientError{err: err}
}

type processingError struct {
	err error
}

func (e *processingError) Error() string { return e.err.Error() }
func (e *processingError) Unwrap() []error {
	return []error{ErrProcessing, e.err}
}

// Processing marks err as a job handler failure. Errors that already carry
// a kind keep it.
func Processing(err error) error {
	if err == nil {
		return nil
	}
	if Kind(err) != KindInternal {
		return err
	}
	return &processingError{err: err}
}

// Kind classifies err into one of the Kind constants
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrTransient):
		return KindTransient
	case errors.Is(err, ErrProcessing):
		return KindProcessing
	}
	return KindInternal
}

// HTTPStatus maps err to the status code returned at the API boundary
func HTTPStatus(err error) int {
	switch Kind(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidState, KindInvalidTransition:
		return http.StatusConflict
	case KindTransient:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
