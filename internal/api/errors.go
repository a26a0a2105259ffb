package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/lalith-99/echoclient/internal/apperr"
	"github.com/lalith-99/echoclient/internal/engine"
	"github.com/lalith-99/echoclient/internal/session"
)

// statusFor maps a core error to the bridge's HTTP status. Local engine
// rejections are checked before backend kinds because some of them wrap one
// (an unavailable attachment wraps the Forbidden that caused it).
func statusFor(err error) int {
	var validationErrs validator.ValidationErrors

	switch {
	case errors.Is(err, engine.ErrEmptyMessage),
		errors.Is(err, engine.ErrNoFile),
		errors.Is(err, engine.ErrNotAFile),
		errors.As(err, &validationErrs):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrNotActive),
		errors.Is(err, engine.ErrNotConnected),
		errors.Is(err, engine.ErrUploadInFlight),
		errors.Is(err, engine.ErrAttachmentPending),
		errors.Is(err, session.ErrAlreadyAuthenticated):
		return http.StatusConflict
	case errors.Is(err, engine.ErrUnknownMessage):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrAttachmentUnavailable):
		return http.StatusGone

	case errors.Is(err, apperr.ErrUnauthorized),
		errors.Is(err, apperr.ErrInvalidCredentials),
		errors.Is(err, session.ErrSessionExpired):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	}

	// Other client errors from the backend (e.g. 400 "owner cannot leave")
	// pass through as is.
	var apiErr *apperr.APIError
	if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
		return apiErr.Status
	}
	// The backend (or the path to it) failed.
	return http.StatusBadGateway
}

// abortWithError writes {"error": ..., "detail": ...}. detail is the
// backend's own text when it sent one.
func abortWithError(c *gin.Context, err error) {
	body := gin.H{"error": err.Error()}
	if d := apperr.Detail(err); d != "" {
		body["detail"] = d
	}
	c.AbortWithStatusJSON(statusFor(err), body)
}
