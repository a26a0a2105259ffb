// Package apperr is the client's error taxonomy.
//
// Every collaborator call returns either nil or an error that matches one of
// the sentinels below with errors.Is. Unauthorized is special: whoever sees
// it must hand it to the session so the credential is invalidated.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrPayloadTooLarge    = errors.New("payload too large")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMalformed          = errors.New("malformed payload")
	ErrTransportLost      = errors.New("live updates lost")
	ErrGeneric            = errors.New("request failed")
)

// APIError is a non-2xx response from the backend.
//
// Detail is the server-provided text (FastAPI's "detail" or the
// echostream-style "error" field) so it can be shown to the user as is.
type APIError struct {
	Status int
	Detail string
	Kind   error
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%v (status %d)", e.Kind, e.Status)
	}
	return fmt.Sprintf("%v (status %d): %s", e.Kind, e.Status, e.Detail)
}

func (e *APIError) Unwrap() error {
	return e.Kind
}

// KindForStatus maps an HTTP status to its sentinel.
func KindForStatus(status int) error {
	switch status {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusRequestEntityTooLarge:
		return ErrPayloadTooLarge
	default:
		return ErrGeneric
	}
}

// Detail returns the server-provided detail text carried by err, if any.
func Detail(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Detail
	}
	return ""
}

// IsUnauthorized is shorthand used at every call site that must trigger
// session invalidation.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsNoAccess reports the "not a member / no such channel" family.
func IsNoAccess(err error) bool {
	return errors.Is(err, ErrForbidden) || errors.Is(err, ErrNotFound)
}
