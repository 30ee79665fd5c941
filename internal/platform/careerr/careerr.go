// Package careerr defines the error categories shared by the scheduling
// engine, the repositories and the HTTP layer.
//
// Every constructor wraps both a category sentinel and (where present) the
// underlying cause, so callers can test either with errors.Is.
package careerr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidArgument marks malformed input: bad periods, non-positive
	// counts, invalid dates. Never retried.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrFetchFailure marks a failed read from the persistence collaborator.
	ErrFetchFailure = errors.New("fetch failure")
	// ErrAggregationFailed marks a report that could not be assembled because
	// one of its sub-computations failed.
	ErrAggregationFailed = errors.New("aggregation failed")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
)

// InvalidArgument returns an ErrInvalidArgument with a formatted detail.
func InvalidArgument(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// FetchFailure wraps a persistence error raised while performing op.
func FetchFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrFetchFailure, op, err)
}

// AggregationFailed wraps the failure of the named report part.
func AggregationFailed(part string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrAggregationFailed, part, err)
}

// NotFound returns an ErrNotFound naming the missing entity.
func NotFound(entity string) error {
	return fmt.Errorf("%s %w", entity, ErrNotFound)
}

// Conflict returns an ErrConflict with a formatted detail.
func Conflict(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// HTTPStatus maps an error to the status code the API reports for it.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrAggregationFailed), errors.Is(err, ErrFetchFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
