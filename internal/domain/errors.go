/**
 * @description
 * Error taxonomy shared by the prize distribution packages.
 * Callers wrap these sentinels with fmt.Errorf("...: %w", ...) and classify
 * with errors.Is / errors.As.
 */
package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrConfiguration means a required secret or integration credential is missing.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotFound means a referenced challenge, host, or assignment does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation means a request payload is malformed or incomplete.
	ErrValidation = errors.New("validation error")
	// ErrUnexpected is used for recovered panics and other unclassified failures.
	ErrUnexpected = errors.New("unexpected error")
)

// UpstreamError is returned when the funds mover or the notification provider
// answers with a non-2xx status.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s returned status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// IsClassified reports whether err belongs to one of the expected failure
// kinds (validation, not found, upstream, configuration).
func IsClassified(err error) bool {
	var upstream *UpstreamError
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConfiguration) ||
		errors.As(err, &upstream)
}

// HTTPStatus maps an error onto the status code surfaced by the HTTP layer.
func HTTPStatus(err error) int {
	var upstream *UpstreamError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &upstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
