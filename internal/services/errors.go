package services

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrConnection is wrapped by errors caused by the remote service being unreachable.
	ErrConnection = errors.New("connection error")
	// ErrThreadNotFound is returned for operations on a thread the store doesn't know.
	ErrThreadNotFound = errors.New("thread not found")
)

// StatusError is returned when the remote service answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("unexpected status %d %s: %s", e.Code, http.StatusText(e.Code), e.Body)
}
