package rest

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotModified      = errors.New("not modified")
	ErrBadRequest       = errors.New("bad request")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrNotFound         = errors.New("not found")
	ErrMethodNotAllowed = errors.New("method not allowed")
	ErrMaxRetries       = errors.New("maximum amount of retries reached")
)

// classifyStatus maps a response status to its sentinel kind. A nil
// return means the status has no dedicated kind and falls through to
// the retry ladder.
func classifyStatus(status int) error {
	switch status {
	case http.StatusNotModified:
		return ErrNotModified
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusMethodNotAllowed:
		return ErrMethodNotAllowed
	default:
		return nil
	}
}

// StatusError is a fresh value per failed request; it wraps the
// sentinel kind so callers can match with errors.Is.
type StatusError struct {
	Kind    error
	Status  int
	Route   string
	Message string
}

func newStatusError(kind error, status int, route string, message string) *StatusError {
	return &StatusError{Kind: kind, Status: status, Route: route, Message: message}
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %v (status %d)", e.Route, e.Kind, e.Status)
	}
	return fmt.Sprintf("%s: %v (status %d): %s", e.Route, e.Kind, e.Status, e.Message)
}

func (e *StatusError) Unwrap() error {
	return e.Kind
}
