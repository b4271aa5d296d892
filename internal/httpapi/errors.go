package httpapi

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"warden.dev/internal/auth"
)

type errorBody struct {
	Error     string            `json:"error"`
	Code      string            `json:"code"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, errorBody{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	})
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="warden"`)
	writeError(w, r, http.StatusUnauthorized, "unauthorized", msg)
}

// writeServiceError maps service errors to statuses. Credential and token
// failures share one body so callers cannot tell a replayed refresh token
// from an unknown one, or a wrong password from an unknown email.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *auth.ValidationError
	switch {
	case errors.Is(err, auth.ErrInvalidCredential):
		unauthorized(w, r, "invalid credentials")
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrTokenExpired),
		errors.Is(err, auth.ErrTokenReuseDetected):
		unauthorized(w, r, "invalid token")
	case errors.Is(err, auth.ErrAccountInactive):
		writeError(w, r, http.StatusForbidden, "account_inactive", "account is inactive")
	case errors.Is(err, auth.ErrMustChangePassword):
		writeError(w, r, http.StatusForbidden, "password_change_required", "password change required")
	case errors.Is(err, auth.ErrPermissionDenied):
		writeError(w, r, http.StatusForbidden, "forbidden", "permission denied")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, "conflict", "resource already exists or changed concurrently")
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{
			Error:     "invalid input",
			Code:      "invalid_input",
			Fields:    verr.Fields,
			RequestID: RequestIDFromContext(r.Context()),
		})
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusUnprocessableEntity, "invalid_input", "invalid input")
	case errors.Is(err, auth.ErrTransactionFailure):
		a.log.Warn("transaction failure", zap.String("path", r.URL.Path), zap.Error(err))
		w.Header().Set("Retry-After", "1")
		writeError(w, r, http.StatusServiceUnavailable, "unavailable", "temporarily unavailable, retry")
	default:
		a.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal", "internal error")
	}
}

func badRequest(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
}
