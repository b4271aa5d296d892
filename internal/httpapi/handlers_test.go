package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"warden.dev/internal/auth"
	"warden.dev/internal/password"
	"warden.dev/internal/store/memory"
)

const (
	testSecret   = "0123456789abcdef0123456789abcdef"
	goodPassword = "Sup3r-Secret-Pass"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	svc     *auth.Service
	admin   *auth.AdminService
	t       *testing.T
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("db down") }

func newTestAPI(t *testing.T, opts Options, probe ReadyProbe) *apiClient {
	t.Helper()

	store := memory.New()
	hasher, err := password.NewHasher(password.Config{
		Algorithm:  password.Argon2id,
		Argon2id:   password.Argon2idParams{MemoryKiB: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32},
		BcryptCost: 4,
	})
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenConfig{Issuer: "warden-test", Algorithm: "HS256", Secret: []byte(testSecret)})
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	svc, err := auth.NewService(store, hasher, issuer, auth.ServiceConfig{})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	admin := auth.NewAdminService(store, hasher, password.DefaultPolicy())
	if _, err := admin.EnsurePermissions(context.Background(), auth.BuiltinPermissions); err != nil {
		t.Fatalf("EnsurePermissions: %v", err)
	}

	if opts.RateLimit == 0 {
		opts.RateLimit, opts.RateBurst = 1000, 1000
	}
	api := New(svc, admin, probe, opts)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{baseURL: srv.URL, client: srv.Client(), svc: svc, admin: admin, t: t}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path, token string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodGet, path, nil, bearerHeader(token))
}

func bearerHeader(token string) map[string]string {
	if token == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func (c *apiClient) register(email string) string {
	c.t.Helper()
	resp := c.post("/v1/auth/register", map[string]string{"email": email, "password": goodPassword, "full_name": "Test User"}, nil)
	expectStatus(c.t, resp, http.StatusCreated)
	return decode[map[string]string](c.t, resp)["id"]
}

func (c *apiClient) login(email, pw string) sessionResponse {
	c.t.Helper()
	resp := c.post("/v1/auth/login", map[string]string{"email": email, "password": pw}, nil)
	expectStatus(c.t, resp, http.StatusOK)
	return decode[sessionResponse](c.t, resp)
}

func (c *apiClient) superuser(email string) string {
	c.t.Helper()
	id := c.register(email)
	if err := c.admin.SetSuperuser(context.Background(), id, true); err != nil {
		c.t.Fatalf("SetSuperuser: %v", err)
	}
	return c.login(email, goodPassword).AccessToken
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		t.Fatalf("expected status %d, got %d (%v)", want, resp.StatusCode, body)
	}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHealthReadyAndHeaders(t *testing.T) {
	api := newTestAPI(t, Options{Version: "1.2.3"}, ReadyProbe{})

	resp := api.get("/healthz", "")
	expectStatus(t, resp, http.StatusOK)
	if resp.Header.Get("X-Request-ID") == "" || resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing middleware headers: %v", resp.Header)
	}
	if body := decode[map[string]any](t, resp); body["version"] != "1.2.3" {
		t.Fatalf("unexpected health body %v", body)
	}

	resp = api.get("/readyz", "")
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	down := newTestAPI(t, Options{}, ReadyProbe{DB: failingPinger{}})
	resp = down.get("/readyz", "")
	expectStatus(t, resp, http.StatusServiceUnavailable)
	resp.Body.Close()

	resp = api.get("/nope", "")
	expectStatus(t, resp, http.StatusNotFound)
	if body := decode[errorBody](t, resp); body.Code != "not_found" || body.RequestID == "" {
		t.Fatalf("unexpected 404 body %+v", body)
	}
}

func TestLoginRefreshReplayOverHTTP(t *testing.T) {
	api := newTestAPI(t, Options{}, ReadyProbe{})
	api.register("ann@example.com")

	first := api.login("ANN@example.com", goodPassword)
	if first.AccessToken == "" || first.RefreshToken == "" || first.TokenType != "Bearer" || first.ExpiresIn <= 0 {
		t.Fatalf("unexpected session %+v", first)
	}

	resp := api.get("/v1/auth/me", first.AccessToken)
	expectStatus(t, resp, http.StatusOK)
	me := decode[map[string]map[string]any](t, resp)
	if me["user"]["email"] != "ann@example.com" || me["principal"]["kind"] != "user" {
		t.Fatalf("unexpected me %v", me)
	}

	resp = api.post("/v1/auth/refresh", map[string]string{"refresh_token": first.RefreshToken}, nil)
	expectStatus(t, resp, http.StatusOK)
	second := decode[sessionResponse](t, resp)
	if second.RefreshToken == first.RefreshToken {
		t.Fatalf("refresh token was not rotated")
	}

	// Replay of the rotated token looks like any invalid token.
	resp = api.post("/v1/auth/refresh", map[string]string{"refresh_token": first.RefreshToken}, nil)
	expectStatus(t, resp, http.StatusUnauthorized)
	replay := decode[errorBody](t, resp)

	resp = api.post("/v1/auth/refresh", map[string]string{"refresh_token": "never-issued"}, nil)
	expectStatus(t, resp, http.StatusUnauthorized)
	unknown := decode[errorBody](t, resp)
	if replay.Error != unknown.Error || replay.Code != unknown.Code {
		t.Fatalf("reuse must not be distinguishable: %+v vs %+v", replay, unknown)
	}

	// The whole family died with the replay.
	resp = api.post("/v1/auth/refresh", map[string]string{"refresh_token": second.RefreshToken}, nil)
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}

func TestLoginFailuresAreUniform(t *testing.T) {
	api := newTestAPI(t, Options{}, ReadyProbe{})
	api.register("bob@example.com")

	resp := api.post("/v1/auth/login", map[string]string{"email": "bob@example.com", "password": "Wrong-Passw0rd!"}, nil)
	expectStatus(t, resp, http.StatusUnauthorized)
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatalf("expected WWW-Authenticate")
	}
	wrong := decode[errorBody](t, resp)

	resp = api.post("/v1/auth/login", map[string]string{"email": "nobody@example.com", "password": goodPassword}, nil)
	expectStatus(t, resp, http.StatusUnauthorized)
	missing := decode[errorBody](t, resp)
	if wrong.Error != missing.Error {
		t.Fatalf("bodies differ: %q vs %q", wrong.Error, missing.Error)
	}

	resp = api.post("/v1/auth/login", map[string]any{"email": "bob@example.com", "password": goodPassword, "extra": 1}, nil)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestRegisterValidationAndConflict(t *testing.T) {
	api := newTestAPI(t, Options{}, ReadyProbe{})

	resp := api.post("/v1/auth/register", map[string]string{"email": "not-an-email", "password": goodPassword}, nil)
	expectStatus(t, resp, http.StatusUnprocessableEntity)
	body := decode[errorBody](t, resp)
	if body.Code != "invalid_input" || body.Fields["email"] == "" {
		t.Fatalf("unexpected validation body %+v", body)
	}

	resp = api.post("/v1/auth/register", map[string]string{"email": "weak@example.com", "password": "short"}, nil)
	expectStatus(t, resp, http.StatusUnprocessableEntity)
	if body := decode[errorBody](t, resp); body.Fields["password"] == "" {
		t.Fatalf("expected password field error, got %+v", body)
	}

	api.register("dup@example.com")
	resp = api.post("/v1/auth/register", map[string]string{"email": "Dup@Example.com", "password": goodPassword}, nil)
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()
}

func TestAdminEndpointsAreGuarded(t *testing.T) {
	api := newTestAPI(t, Options{}, ReadyProbe{})
	api.register("plain@example.com")
	plain := api.login("plain@example.com", goodPassword).AccessToken

	resp := api.get("/v1/admin/users", "")
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = api.get("/v1/admin/users", "garbage")
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = api.get("/v1/admin/users", plain)
	expectStatus(t, resp, http.StatusForbidden)
	if body := decode[errorBody](t, resp); body.Code != "forbidden" {
		t.Fatalf("unexpected body %+v", body)
	}

	root := api.superuser("root@example.com")
	resp = api.get("/v1/admin/users?limit=10", root)
	expectStatus(t, resp, http.StatusOK)
	if items := decode[map[string][]userView](t, resp)["items"]; len(items) != 2 {
		t.Fatalf("expected 2 users, got %d", len(items))
	}

	resp = api.get("/v1/admin/users?limit=0", root)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestRoleGrantsOpenAdminEndpoints(t *testing.T) {
	api := newTestAPI(t, Options{}, ReadyProbe{})
	root := api.superuser("root@example.com")
	opID := api.register("ops@example.com")
	h := bearerHeader(root)

	resp := api.post("/v1/admin/roles", auth.RoleInput{Name: "auditor"}, h)
	expectStatus(t, resp, http.StatusCreated)
	role := decode[roleView](t, resp)

	resp = api.do(http.MethodPut, "/v1/admin/roles/"+role.ID+"/permissions",
		setRolePermissionsRequest{Permissions: []string{auth.PermUsersRead, auth.PermRolesRead}}, h)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = api.post("/v1/admin/users/"+opID+"/roles", assignRoleRequest{RoleID: role.ID}, h)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	ops := api.login("ops@example.com", goodPassword).AccessToken
	resp = api.get("/v1/admin/users/"+opID, ops)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = api.get("/v1/admin/users/"+opID+"/permissions", root)
	expectStatus(t, resp, http.StatusOK)
	perms := decode[map[string]any](t, resp)
	if codes, _ := perms["permissions"].([]any); len(codes) != 2 {
		t.Fatalf("unexpected effective permissions %v", perms)
	}

	resp = api.post("/v1/admin/roles", auth.RoleInput{Name: "nope"}, bearerHeader(ops))
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	// Only superusers may elevate.
	resp = api.do(http.MethodPut, "/v1/admin/users/"+opID+"/superuser", superuserRequest{Superuser: true}, bearerHeader(ops))
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = api.do(http.MethodDelete, "/v1/admin/users/"+opID+"/sessions", nil, h)
	expectStatus(t, resp, http.StatusOK)
	if n := decode[map[string]int64](t, resp)["revoked"]; n != 1 {
		t.Fatalf("expected one revoked session, got %d", n)
	}
}

func TestMustChangePasswordOverHTTP(t *testing.T) {
	api := newTestAPI(t, Options{}, ReadyProbe{})
	root := api.superuser("root@example.com")

	resp := api.post("/v1/admin/users", auth.CreateUserRequest{Email: "new@example.com", Password: goodPassword}, bearerHeader(root))
	expectStatus(t, resp, http.StatusCreated)
	if u := decode[userView](t, resp); !u.MustChangePassword {
		t.Fatalf("admin-created users must change their password")
	}

	restricted := api.login("new@example.com", goodPassword)
	if !restricted.PasswordChangeRequired || restricted.RefreshToken != "" || restricted.Scope != auth.ScopePasswordChange {
		t.Fatalf("expected restricted session, got %+v", restricted)
	}

	resp = api.post("/v1/auth/logout-all", nil, bearerHeader(restricted.AccessToken))
	expectStatus(t, resp, http.StatusForbidden)
	if body := decode[errorBody](t, resp); body.Code != "password_change_required" {
		t.Fatalf("unexpected body %+v", body)
	}

	next := "An0ther-Secret-Pass"
	resp = api.post("/v1/auth/password", changePasswordRequest{CurrentPassword: goodPassword, NewPassword: next}, bearerHeader(restricted.AccessToken))
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	full := api.login("new@example.com", next)
	if full.PasswordChangeRequired || full.RefreshToken == "" {
		t.Fatalf("expected a full session, got %+v", full)
	}
}

func TestClientCredentialsOverHTTP(t *testing.T) {
	api := newTestAPI(t, Options{}, ReadyProbe{})
	root := api.superuser("root@example.com")
	h := bearerHeader(root)

	resp := api.post("/v1/admin/clients", auth.ClientInput{Name: "billing"}, h)
	expectStatus(t, resp, http.StatusCreated)
	client := decode[clientView](t, resp)
	if client.Secret == "" {
		t.Fatalf("secret must be returned on creation")
	}

	resp = api.get("/v1/admin/permissions?codes="+auth.PermClientsRead, root)
	expectStatus(t, resp, http.StatusOK)
	perms := decode[map[string][]permissionView](t, resp)["items"]
	if len(perms) != 1 {
		t.Fatalf("expected one permission, got %v", perms)
	}
	resp = api.post("/v1/admin/clients/"+client.ID+"/permissions", grantPermissionRequest{PermissionID: perms[0].ID}, h)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodPost, api.baseURL+"/v1/auth/token", nil)
	req.SetBasicAuth(client.ID, client.Secret)
	resp, err := api.client.Do(req)
	if err != nil {
		t.Fatalf("token request: %v", err)
	}
	expectStatus(t, resp, http.StatusOK)
	sess := decode[sessionResponse](t, resp)
	if sess.Principal.Kind != "client" || len(sess.Principal.Permissions) != 1 {
		t.Fatalf("unexpected client session %+v", sess)
	}

	resp = api.get("/v1/admin/clients/"+client.ID, sess.AccessToken)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = api.post("/v1/auth/token", clientTokenRequest{GrantType: "password", ClientID: client.ID, ClientSecret: client.Secret}, nil)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = api.post("/v1/auth/token", clientTokenRequest{ClientID: client.ID, ClientSecret: "wrong"}, nil)
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}

func TestRefreshCookieTransport(t *testing.T) {
	api := newTestAPI(t, Options{RefreshCookie: true}, ReadyProbe{})
	api.register("cookie@example.com")

	resp := api.post("/v1/auth/login", map[string]string{"email": "cookie@example.com", "password": goodPassword}, nil)
	expectStatus(t, resp, http.StatusOK)
	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == refreshCookieName {
			cookie = c
		}
	}
	resp.Body.Close()
	if cookie == nil || !cookie.HttpOnly || cookie.Path != refreshCookiePath {
		t.Fatalf("expected an HttpOnly refresh cookie, got %+v", cookie)
	}

	req, _ := http.NewRequest(http.MethodPost, api.baseURL+"/v1/auth/refresh", nil)
	req.AddCookie(cookie)
	resp, err := api.client.Do(req)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = api.post("/v1/auth/refresh", nil, nil)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestLogoutAndSessions(t *testing.T) {
	api := newTestAPI(t, Options{}, ReadyProbe{})
	api.register("multi@example.com")
	a := api.login("multi@example.com", goodPassword)
	b := api.login("multi@example.com", goodPassword)

	resp := api.get("/v1/auth/sessions", a.AccessToken)
	expectStatus(t, resp, http.StatusOK)
	if items := decode[map[string][]sessionView](t, resp)["items"]; len(items) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(items))
	}

	resp = api.post("/v1/auth/logout", refreshRequest{RefreshToken: a.RefreshToken}, nil)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = api.post("/v1/auth/logout-all", nil, bearerHeader(b.AccessToken))
	expectStatus(t, resp, http.StatusOK)
	if n := decode[map[string]int64](t, resp)["revoked"]; n != 1 {
		t.Fatalf("expected 1 revoked, got %d", n)
	}

	resp = api.post("/v1/auth/refresh", refreshRequest{RefreshToken: b.RefreshToken}, nil)
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = api.post("/v1/auth/logout", refreshRequest{RefreshToken: "unknown"}, nil)
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}
