package httpapi

import (
	"errors"
	"net/http"

	"authgate.org/internal/auth"
	"authgate.org/internal/obs"
)

// translateAuthError maps a core error onto an HTTP status and a safe
// message. This is the single boundary between the typed taxonomy and the
// wire: internal detail is logged here and never returned to the caller.
func translateAuthError(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, auth.ErrTokenExpired):
		return http.StatusUnauthorized, "token expired"
	case errors.Is(err, auth.ErrTokenRevoked):
		return http.StatusUnauthorized, "token revoked"
	case errors.Is(err, auth.ErrTokenMalformed),
		errors.Is(err, auth.ErrSignatureMismatch),
		errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, auth.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, auth.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, auth.ErrUnavailable):
		return http.StatusServiceUnavailable, "service unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func failureReason(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	default:
		return "other"
	}
}

// respondAuthError logs the full error and writes the translated response.
func respondAuthError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := translateAuthError(err)
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		obs.CountAuthFailure(failureReason(status))
	}
	obs.LogRequest(map[string]any{
		"ts":     nowRFC3339(),
		"level":  "warn",
		"msg":    "auth failure",
		"method": r.Method,
		"path":   r.URL.Path,
		"status": status,
		"error":  err.Error(),
	})
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="authgate"`)
	}
	writeError(w, status, msg)
}
