package httpapi

import (
	"errors"
	"net/http"
	"time"

	"warden.dev/internal/auth"
)

const (
	refreshCookieName = "warden_refresh"
	refreshCookiePath = "/v1/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type clientTokenRequest struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type changeEmailRequest struct {
	Password string `json:"password"`
	Email    string `json:"email"`
}

type principalView struct {
	ID          string   `json:"id"`
	Kind        string   `json:"kind"`
	Superuser   bool     `json:"is_superuser"`
	Permissions []string `json:"permissions"`
	Restricted  bool     `json:"restricted,omitempty"`
}

type sessionResponse struct {
	AccessToken            string        `json:"access_token"`
	TokenType              string        `json:"token_type"`
	ExpiresIn              int64         `json:"expires_in"`
	AccessExpiresAt        time.Time     `json:"access_expires_at"`
	RefreshToken           string        `json:"refresh_token,omitempty"`
	RefreshExpiresAt       *time.Time    `json:"refresh_expires_at,omitempty"`
	Scope                  string        `json:"scope,omitempty"`
	PasswordChangeRequired bool          `json:"password_change_required,omitempty"`
	Principal              principalView `json:"principal"`
}

type sessionView struct {
	ID         string     `json:"id"`
	FamilyID   string     `json:"family_id"`
	IssuedAt   time.Time  `json:"issued_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	IP         string     `json:"ip,omitempty"`
	UserAgent  string     `json:"user_agent,omitempty"`
}

func (a *API) authRoutes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/auth/register", a.handleRegister)
	mux.HandleFunc("POST /v1/auth/login", a.handleLogin)
	mux.HandleFunc("POST /v1/auth/token", a.handleClientToken)
	mux.HandleFunc("POST /v1/auth/refresh", a.handleRefresh)
	mux.HandleFunc("POST /v1/auth/logout", a.handleLogout)

	signedIn := a.guard(auth.MatchAll)
	mux.Handle("POST /v1/auth/logout-all", signedIn(a.handleLogoutAll))
	mux.Handle("POST /v1/auth/email", signedIn(a.handleChangeEmail))
	mux.Handle("GET /v1/auth/sessions", signedIn(a.handleListOwnSessions))
	mux.Handle("DELETE /v1/auth/sessions/{id}", signedIn(a.handleRevokeOwnSession))

	// Restricted principals reach these two.
	mux.Handle("POST /v1/auth/password", a.authenticate(http.HandlerFunc(a.handleChangePassword)))
	mux.Handle("GET /v1/auth/me", a.authenticate(http.HandlerFunc(a.handleMe)))

	mux.HandleFunc("/v1/auth/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
	})
	return mux
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	id, err := a.svc.Register(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/admin/users/"+id)
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	sess, err := a.svc.Login(r.Context(), auth.LoginRequest{
		Identifier: req.Email,
		Secret:     req.Password,
		Kind:       auth.KindUser,
		ClientMeta: a.clientMeta(r),
	})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	a.writeSession(w, sess, true)
}

// handleClientToken is the client-credentials grant. Credentials come from
// HTTP Basic auth or the JSON body.
func (a *API) handleClientToken(w http.ResponseWriter, r *http.Request) {
	var req clientTokenRequest
	if id, secret, ok := r.BasicAuth(); ok {
		req.ClientID, req.ClientSecret = id, secret
		req.GrantType = "client_credentials"
		if r.ContentLength > 0 {
			var body clientTokenRequest
			if err := decodeJSON(r, &body); err != nil {
				badRequest(w, r, err)
				return
			}
			if body.GrantType != "" {
				req.GrantType = body.GrantType
			}
		}
	} else if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if req.GrantType != "" && req.GrantType != "client_credentials" {
		writeError(w, r, http.StatusBadRequest, "unsupported_grant_type", "only client_credentials is supported")
		return
	}
	sess, err := a.svc.Login(r.Context(), auth.LoginRequest{
		Identifier: req.ClientID,
		Secret:     req.ClientSecret,
		Kind:       auth.KindClient,
		ClientMeta: a.clientMeta(r),
	})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	a.writeSession(w, sess, false)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token, err := a.presentedRefreshToken(r)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	sess, err := a.svc.Refresh(r.Context(), auth.RefreshRequest{Token: token, ClientMeta: a.clientMeta(r)})
	if err != nil {
		a.clearRefreshCookie(w)
		a.writeServiceError(w, r, err)
		return
	}
	a.writeSession(w, sess, sess.Principal.Kind == auth.KindUser)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, err := a.presentedRefreshToken(r)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	a.clearRefreshCookie(w)
	if err := a.svc.Logout(r.Context(), token); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	n, err := a.svc.LogoutAllDevices(r.Context(), principalOf(r).Ref())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	a.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, map[string]int64{"revoked": n})
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	p := principalOf(r)
	if p.Kind != auth.KindUser {
		writeError(w, r, http.StatusForbidden, "forbidden", "only users have passwords")
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if err := a.svc.ChangePassword(r.Context(), p.ID, req.CurrentPassword, req.NewPassword); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	a.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleChangeEmail(w http.ResponseWriter, r *http.Request) {
	p := principalOf(r)
	if p.Kind != auth.KindUser {
		writeError(w, r, http.StatusForbidden, "forbidden", "only users have an email")
		return
	}
	var req changeEmailRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if err := a.svc.ChangeEmail(r.Context(), p.ID, req.Password, req.Email); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	p := principalOf(r)
	out := map[string]any{"principal": viewPrincipal(p)}
	if !p.Restricted {
		switch p.Kind {
		case auth.KindUser:
			u, err := a.admin.GetUser(r.Context(), p.ID)
			if err != nil {
				a.writeServiceError(w, r, err)
				return
			}
			out["user"] = viewUser(u)
		case auth.KindClient:
			c, err := a.admin.GetClient(r.Context(), p.ID)
			if err != nil {
				a.writeServiceError(w, r, err)
				return
			}
			out["client"] = viewClient(c)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleListOwnSessions(w http.ResponseWriter, r *http.Request) {
	rows, err := a.svc.Sessions().Sessions(r.Context(), principalOf(r).Ref())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": viewSessions(rows)})
}

func (a *API) handleRevokeOwnSession(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.Sessions().RevokeSession(r.Context(), principalOf(r).Ref(), r.PathValue("id")); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- session transport ---

func (a *API) clientMeta(r *http.Request) auth.ClientMeta {
	return auth.ClientMeta{IP: clientIP(r, a.opts.TrustProxy), UserAgent: r.UserAgent()}
}

// presentedRefreshToken reads the token from the JSON body, falling back to
// the refresh cookie when the body is empty.
func (a *API) presentedRefreshToken(r *http.Request) (string, error) {
	var req refreshRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
			return "", err
		}
	}
	if req.RefreshToken != "" {
		return req.RefreshToken, nil
	}
	if a.opts.RefreshCookie {
		if c, err := r.Cookie(refreshCookieName); err == nil && c.Value != "" {
			return c.Value, nil
		}
	}
	return "", errors.New("refresh_token is required")
}

func (a *API) writeSession(w http.ResponseWriter, s auth.Session, cookie bool) {
	resp := sessionResponse{
		AccessToken:            s.AccessToken,
		TokenType:              "Bearer",
		ExpiresIn:              int64(time.Until(s.AccessExpiresAt).Round(time.Second) / time.Second),
		AccessExpiresAt:        s.AccessExpiresAt,
		RefreshToken:           s.RefreshToken,
		PasswordChangeRequired: s.Restricted,
		Principal:              viewPrincipal(s.Principal),
	}
	if resp.ExpiresIn < 0 {
		resp.ExpiresIn = 0
	}
	if s.Restricted {
		resp.Scope = auth.ScopePasswordChange
	}
	if s.RefreshToken != "" {
		exp := s.RefreshExpiresAt
		resp.RefreshExpiresAt = &exp
		if cookie && a.opts.RefreshCookie {
			http.SetCookie(w, &http.Cookie{
				Name:     refreshCookieName,
				Value:    s.RefreshToken,
				Path:     refreshCookiePath,
				Expires:  s.RefreshExpiresAt,
				HttpOnly: true,
				Secure:   a.opts.CookieSecure,
				SameSite: http.SameSiteStrictMode,
			})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) clearRefreshCookie(w http.ResponseWriter) {
	if !a.opts.RefreshCookie {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.opts.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func viewPrincipal(p auth.Principal) principalView {
	perms := p.Permissions.Codes()
	if perms == nil {
		perms = []string{}
	}
	return principalView{
		ID:          p.ID,
		Kind:        string(p.Kind),
		Superuser:   p.Superuser,
		Permissions: perms,
		Restricted:  p.Restricted,
	}
}

func viewSessions(rows []*auth.RefreshToken) []sessionView {
	out := make([]sessionView, 0, len(rows))
	for _, t := range rows {
		out = append(out, sessionView{
			ID:         t.ID,
			FamilyID:   t.FamilyID,
			IssuedAt:   t.IssuedAt,
			ExpiresAt:  t.ExpiresAt,
			LastUsedAt: t.LastUsedAt,
			IP:         t.IP,
			UserAgent:  t.UserAgent,
		})
	}
	return out
}
