package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"warden.dev/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// authenticate verifies the bearer access token and stores the principal in
// the request context. Restricted principals pass; guards decide what they
// may reach.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			unauthorized(w, r, err.Error())
			return
		}
		principal, err := a.svc.Authenticate(r.Context(), token)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequirePermissions rejects requests whose principal does not satisfy codes
// under mode. With no codes it only rejects restricted principals.
func RequirePermissions(mode auth.Mode, codes ...string) func(http.Handler) http.Handler {
	required := append([]string(nil), codes...)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				unauthorized(w, r, "missing bearer token")
				return
			}
			if p.Restricted {
				writeError(w, r, http.StatusForbidden, "password_change_required", "password change required")
				return
			}
			if !p.Superuser && !auth.Authorize(p.Permissions, required, mode) {
				writeError(w, r, http.StatusForbidden, "forbidden", "permission denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// guard chains authentication with a permission requirement.
func (a *API) guard(mode auth.Mode, codes ...string) func(http.HandlerFunc) http.Handler {
	require := RequirePermissions(mode, codes...)
	return func(h http.HandlerFunc) http.Handler {
		return a.authenticate(require(h))
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func principalOf(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFromContext(r.Context())
	return p
}
