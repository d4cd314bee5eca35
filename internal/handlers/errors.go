package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/cafemeet/internal/apperr"
	"github.com/4xmen/cafemeet/internal/auth"
	"github.com/4xmen/cafemeet/pkg/i18n"
)

// statusFor maps a failure kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, apperr.ErrNoSession):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}

	switch apperr.Kind(err) {
	case apperr.ErrRadioDisabled, apperr.ErrScanInProgress, apperr.ErrInvalidState:
		return http.StatusConflict
	case apperr.ErrNotFound:
		return http.StatusNotFound
	case apperr.ErrInvalidInput:
		return http.StatusBadRequest
	case apperr.ErrCollaboratorFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// language returns the caller's preferred language: the profile language for
// signed-in users, Accept-Language otherwise.
func language(c *gin.Context) string {
	if lang := c.GetString("language"); lang != "" {
		return lang
	}
	return i18n.Normalize(c.GetHeader("Accept-Language"))
}

func abortWith(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": i18n.Translate(language(c), message)})
}

// fail writes err as a translated JSON error. Unclassified errors are logged
// and reported as internal.
func fail(c *gin.Context, logger *slog.Logger, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		logger.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "user", c.GetString("user_id"), "error", err)
	}
	abortWith(c, status, apperr.Message(err))
}

func badRequest(c *gin.Context) {
	abortWith(c, http.StatusBadRequest, "invalid request")
}
