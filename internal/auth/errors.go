package auth

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrInvalidCredential  = errors.New("auth: invalid credentials")
	ErrAccountInactive    = errors.New("auth: account inactive")
	ErrMustChangePassword = errors.New("auth: password change required")

	ErrInvalidToken       = errors.New("auth: invalid token")
	ErrTokenMalformed     = fmt.Errorf("%w: malformed", ErrInvalidToken)
	ErrTokenSignature     = fmt.Errorf("%w: signature mismatch", ErrInvalidToken)
	ErrTokenExpired       = errors.New("auth: token expired")
	ErrTokenReuseDetected = errors.New("auth: refresh token reuse detected")

	ErrPermissionDenied   = errors.New("auth: permission denied")
	ErrNotFound           = errors.New("auth: not found")
	ErrConflict           = errors.New("auth: conflict")
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrTransactionFailure = errors.New("auth: transaction failure")
	ErrNestedUnitOfWork   = errors.New("auth: nested unit of work")
)

// ValidationError carries per-field messages for rejected input.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrInvalidInput.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return ErrInvalidInput.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

func invalidField(field, msg string) error {
	return &ValidationError{Fields: map[string]string{field: msg}}
}
