package auth_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"warden.dev/internal/auth"
	"warden.dev/internal/password"
)

func TestPermissionUnionAcrossRoles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, code := range []string{"a", "b", "c", "d"} {
		f.permission(t, code)
	}
	ra := f.role(t, "ra", "a", "b")
	rb := f.role(t, "rb", "b", "c")
	id := f.register(t, "ann@example.com")
	for _, r := range []*auth.Role{ra, rb} {
		if err := f.admin.AssignRole(ctx, id, r.ID); err != nil {
			t.Fatalf("assign %s: %v", r.Name, err)
		}
	}

	set, err := f.svc.Resolver().EffectivePermissions(ctx, auth.PrincipalRef{Kind: auth.KindUser, ID: id})
	if err != nil {
		t.Fatalf("effective permissions: %v", err)
	}
	if got := set.Codes(); len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("expected [a b c], got %v", got)
	}

	s := f.login(t, "ann@example.com")
	p, err := f.svc.Authenticate(ctx, s.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	cases := []struct {
		required []string
		mode     auth.Mode
		want     bool
	}{
		{[]string{"a", "c"}, auth.MatchAll, true},
		{[]string{"a", "d"}, auth.MatchAll, false},
		{[]string{"d", "c"}, auth.MatchAny, true},
		{[]string{"d", "e"}, auth.MatchAny, false},
		{nil, auth.MatchAll, true},
	}
	for _, tc := range cases {
		if got := f.svc.Authorize(p, tc.required, tc.mode); got != tc.want {
			t.Fatalf("Authorize(%v, %s) = %v, want %v", tc.required, tc.mode, got, tc.want)
		}
	}
	if err := f.svc.Require(p, []string{"d"}, auth.MatchAll); !errors.Is(err, auth.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestSuperuserBypassesChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.register(t, "root@example.com")
	if err := f.admin.SetSuperuser(ctx, id, true); err != nil {
		t.Fatalf("set superuser: %v", err)
	}
	s := f.login(t, "root@example.com")
	p, err := f.svc.Authenticate(ctx, s.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if !p.Superuser {
		t.Fatalf("expected superuser principal")
	}
	if !f.svc.Authorize(p, []string{"never.created", "also.missing"}, auth.MatchAll) {
		t.Fatalf("superuser must pass any check")
	}
	ok, err := f.svc.Resolver().Authorize(ctx, p.Ref(), []string{"never.created"}, auth.MatchAll)
	if err != nil || !ok {
		t.Fatalf("resolver authorize: ok=%v err=%v", ok, err)
	}
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "ann@example.com")

	if _, err := f.svc.Register(ctx, auth.RegisterRequest{Email: "ANN@example.com ", Password: goodPassword}); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("duplicate email: expected ErrConflict, got %v", err)
	}

	_, err := f.svc.Register(ctx, auth.RegisterRequest{Email: "bob@example.com", Password: "short"})
	var verr *auth.ValidationError
	if !errors.As(err, &verr) || verr.Fields["password"] == "" {
		t.Fatalf("weak password: expected field error, got %v", err)
	}
	if !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("validation errors must match ErrInvalidInput")
	}

	_, err = f.svc.Register(ctx, auth.RegisterRequest{Email: "not-an-email", Password: goodPassword})
	if !errors.As(err, &verr) || verr.Fields["email"] == "" {
		t.Fatalf("bad email: expected field error, got %v", err)
	}
}

func TestMustChangePasswordFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, err := f.admin.CreateUser(ctx, auth.CreateUserRequest{Email: "new@example.com", Password: goodPassword})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	s := f.login(t, "new@example.com")
	if !s.Restricted || s.RefreshToken != "" || s.FamilyID != "" {
		t.Fatalf("expected restricted session without refresh token: %+v", s)
	}
	p, err := f.svc.Authenticate(ctx, s.AccessToken)
	if err != nil {
		t.Fatalf("authenticate restricted token: %v", err)
	}
	if !p.Restricted || p.HasPermission("anything") {
		t.Fatalf("restricted principal must not hold permissions: %+v", p)
	}
	if err := f.svc.Require(p, nil, auth.MatchAll); !errors.Is(err, auth.ErrMustChangePassword) {
		t.Fatalf("expected ErrMustChangePassword, got %v", err)
	}

	const next = "An0ther-Secret-Pass"
	if err := f.svc.ChangePassword(ctx, u.ID, "Wrong-Passw0rd!", next); !errors.Is(err, auth.ErrInvalidCredential) {
		t.Fatalf("wrong current password: expected ErrInvalidCredential, got %v", err)
	}
	if err := f.svc.ChangePassword(ctx, u.ID, goodPassword, goodPassword); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("unchanged password: expected ErrInvalidInput, got %v", err)
	}
	if err := f.svc.ChangePassword(ctx, u.ID, goodPassword, next); err != nil {
		t.Fatalf("change password: %v", err)
	}

	full, err := f.svc.Login(ctx, auth.LoginRequest{Identifier: "new@example.com", Secret: next})
	if err != nil {
		t.Fatalf("login with new password: %v", err)
	}
	if full.Restricted || full.RefreshToken == "" {
		t.Fatalf("expected full session: %+v", full)
	}
	if _, err := f.svc.Login(ctx, auth.LoginRequest{Identifier: "new@example.com", Secret: goodPassword}); !errors.Is(err, auth.ErrInvalidCredential) {
		t.Fatalf("old password must stop working, got %v", err)
	}
}

func TestChangePasswordEndsSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.register(t, "ann@example.com")
	s := f.login(t, "ann@example.com")
	if err := f.svc.ChangePassword(ctx, id, goodPassword, "An0ther-Secret-Pass"); err != nil {
		t.Fatalf("change password: %v", err)
	}
	rows := f.familyRows(t, s.FamilyID)
	if rows[0].RevokeReason == nil || *rows[0].RevokeReason != auth.ReasonPasswordChanged {
		t.Fatalf("expected password_changed revocation: %+v", rows[0])
	}
}

func TestResetPasswordForcesChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.register(t, "ann@example.com")
	s := f.login(t, "ann@example.com")

	const temp = "Temp0rary-Secret!"
	if err := f.admin.ResetPassword(ctx, id, temp); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := f.refresh(s.RefreshToken); !errors.Is(err, auth.ErrTokenReuseDetected) {
		t.Fatalf("sessions must end on reset, got %v", err)
	}
	restricted, err := f.svc.Login(ctx, auth.LoginRequest{Identifier: "ann@example.com", Secret: temp})
	if err != nil || !restricted.Restricted {
		t.Fatalf("expected restricted login after reset: %+v err=%v", restricted, err)
	}
}

func TestChangeEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.register(t, "ann@example.com")
	f.register(t, "bob@example.com")

	if err := f.svc.ChangeEmail(ctx, id, goodPassword, "bob@example.com"); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("taken email: expected ErrConflict, got %v", err)
	}
	if err := f.svc.ChangeEmail(ctx, id, "Wrong-Passw0rd", "ann2@example.com"); !errors.Is(err, auth.ErrInvalidCredential) {
		t.Fatalf("wrong password: expected ErrInvalidCredential, got %v", err)
	}
	if err := f.svc.ChangeEmail(ctx, id, goodPassword, " Ann2@Example.com"); err != nil {
		t.Fatalf("change email: %v", err)
	}
	f.login(t, "ann2@example.com")
}

func TestClientCredentialsFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	perm := f.permission(t, "reports.read")
	c, secret, err := f.admin.CreateClient(ctx, auth.ClientInput{Name: "reporting"})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	if secret == "" || c.SecretHash == secret {
		t.Fatalf("secret must be returned once and stored hashed")
	}
	if err := f.admin.GrantClientPermission(ctx, c.ID, perm.ID); err != nil {
		t.Fatalf("grant: %v", err)
	}

	login := auth.LoginRequest{Kind: auth.KindClient, Identifier: c.ID, Secret: secret}
	s, err := f.svc.Login(ctx, login)
	if err != nil {
		t.Fatalf("client login: %v", err)
	}
	if s.Principal.Kind != auth.KindClient || !s.Principal.HasPermission("reports.read") {
		t.Fatalf("unexpected client principal: %+v", s.Principal)
	}
	s2, err := f.refresh(s.RefreshToken)
	if err != nil {
		t.Fatalf("client refresh: %v", err)
	}

	fresh, err := f.admin.RotateClientSecret(ctx, c.ID)
	if err != nil {
		t.Fatalf("rotate secret: %v", err)
	}
	if _, err := f.svc.Login(ctx, login); !errors.Is(err, auth.ErrInvalidCredential) {
		t.Fatalf("old secret must fail, got %v", err)
	}
	if _, err := f.refresh(s2.RefreshToken); !errors.Is(err, auth.ErrTokenReuseDetected) {
		t.Fatalf("sessions must end on rotation, got %v", err)
	}
	login.Secret = fresh
	if _, err := f.svc.Login(ctx, login); err != nil {
		t.Fatalf("new secret: %v", err)
	}

	if err := f.admin.SetClientActive(ctx, c.ID, false); err != nil {
		t.Fatalf("deactivate client: %v", err)
	}
	if _, err := f.svc.Login(ctx, login); !errors.Is(err, auth.ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}
}

func TestSnapshotVersusPerRequestVerification(t *testing.T) {
	for _, perRequest := range []bool{false, true} {
		f := newFixtureWith(t, nil, auth.ServiceConfig{VerifyClaimsPerRequest: perRequest})
		ctx := context.Background()
		f.permission(t, "reports.read")
		r := f.role(t, "reader", "reports.read")
		id := f.register(t, "ann@example.com")
		if err := f.admin.AssignRole(ctx, id, r.ID); err != nil {
			t.Fatalf("assign: %v", err)
		}
		s := f.login(t, "ann@example.com")

		if err := f.admin.RemoveRole(ctx, id, r.ID); err != nil {
			t.Fatalf("remove role: %v", err)
		}
		p, err := f.svc.Authenticate(ctx, s.AccessToken)
		if err != nil {
			t.Fatalf("perRequest=%v authenticate: %v", perRequest, err)
		}
		// A snapshot keeps the grant until expiry; per-request sees the removal.
		if got := p.HasPermission("reports.read"); got == perRequest {
			t.Fatalf("perRequest=%v: HasPermission = %v", perRequest, got)
		}

		inactive := false
		if _, err := f.admin.UpdateUser(ctx, id, auth.UpdateUserRequest{Active: &inactive}); err != nil {
			t.Fatalf("deactivate: %v", err)
		}
		_, err = f.svc.Authenticate(ctx, s.AccessToken)
		if perRequest && !errors.Is(err, auth.ErrAccountInactive) {
			t.Fatalf("per-request verification must see deactivation, got %v", err)
		}
		if !perRequest && err != nil {
			t.Fatalf("snapshot verification must not touch storage, got %v", err)
		}
	}
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "ann@example.com")
	s := f.login(t, "ann@example.com")

	if _, err := f.svc.Authenticate(ctx, s.AccessToken+"x"); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("tampered: expected ErrInvalidToken, got %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, ""); !errors.Is(err, auth.ErrTokenMalformed) {
		t.Fatalf("empty: expected ErrTokenMalformed, got %v", err)
	}
	f.clock.Advance(s.AccessExpiresAt.Sub(f.clock.Now()) + 1)
	if _, err := f.svc.Authenticate(ctx, s.AccessToken); !errors.Is(err, auth.ErrTokenExpired) {
		t.Fatalf("expired: expected ErrTokenExpired, got %v", err)
	}
}

func TestEnsurePermissionsIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	n, err := f.admin.EnsurePermissions(ctx, auth.BuiltinPermissions)
	if err != nil || n != len(auth.BuiltinPermissions) {
		t.Fatalf("first seed: n=%d err=%v", n, err)
	}
	n, err = f.admin.EnsurePermissions(ctx, auth.BuiltinPermissions)
	if err != nil || n != 0 {
		t.Fatalf("second seed: n=%d err=%v", n, err)
	}
	all, err := f.admin.ListPermissions(ctx, auth.PermissionFilter{})
	if err != nil || len(all) != len(auth.BuiltinPermissions) {
		t.Fatalf("list: n=%d err=%v", len(all), err)
	}
	if _, err := f.admin.EnsurePermissions(ctx, []auth.PermissionInput{{Code: "Not Valid"}}); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestSetRolePermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, code := range []string{"a", "b", "c"} {
		f.permission(t, code)
	}
	r := f.role(t, "editor", "a", "b")

	if err := f.admin.SetRolePermissions(ctx, r.ID, []string{"b", "c"}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	perms, err := f.admin.RolePermissions(ctx, r.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(perms) != 2 || perms[0].Code != "b" || perms[1].Code != "c" {
		t.Fatalf("unexpected grants: %+v", perms)
	}
	if err := f.admin.SetRolePermissions(ctx, r.ID, []string{"b", "missing"}); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("unknown code: expected ErrNotFound, got %v", err)
	}
	perms, _ = f.admin.RolePermissions(ctx, r.ID)
	if len(perms) != 2 {
		t.Fatalf("failed replacement must not change grants: %+v", perms)
	}
}

func TestDeleteUserRemovesSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.register(t, "ann@example.com")
	s := f.login(t, "ann@example.com")

	if err := f.admin.DeleteUser(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if rows := f.familyRows(t, s.FamilyID); len(rows) != 0 {
		t.Fatalf("refresh rows must be removed with the user: %+v", rows)
	}
	if _, err := f.refresh(s.RefreshToken); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("refresh after delete: expected ErrInvalidToken, got %v", err)
	}
	if _, err := f.admin.GetUser(ctx, id); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := f.svc.Login(ctx, auth.LoginRequest{Identifier: "ann@example.com", Secret: goodPassword}); !errors.Is(err, auth.ErrInvalidCredential) {
		t.Fatalf("deleted user login: expected ErrInvalidCredential, got %v", err)
	}
}

func TestNewServiceRequiresCollaborators(t *testing.T) {
	issuer, err := auth.NewTokenIssuer(auth.TokenConfig{Secret: []byte(testSecret)})
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	if _, err := auth.NewService(nil, nil, issuer, auth.ServiceConfig{}); err == nil {
		t.Fatalf("expected error without unit of work")
	}
}

func TestBcryptPrimaryRejectsOverlongPasswords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hasher, err := password.NewHasher(cheapHashConfig(password.Bcrypt))
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenConfig{Issuer: "warden-test", Secret: []byte(testSecret)})
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	svc, err := auth.NewService(f.store, hasher, issuer, auth.ServiceConfig{})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	admin := auth.NewAdminService(f.store, hasher, password.DefaultPolicy())

	long := goodPassword + strings.Repeat("x", 80)
	_, err = svc.Register(ctx, auth.RegisterRequest{Email: "ann@example.com", Password: long})
	var verr *auth.ValidationError
	if !errors.Is(err, auth.ErrInvalidInput) || !errors.As(err, &verr) || verr.Fields["password"] == "" {
		t.Fatalf("register: expected a password field error, got %v", err)
	}
	if _, err := admin.CreateUser(ctx, auth.CreateUserRequest{Email: "bob@example.com", Password: long}); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("create user: expected ErrInvalidInput, got %v", err)
	}

	id, err := svc.Register(ctx, auth.RegisterRequest{Email: "ann@example.com", Password: goodPassword})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	err = svc.ChangePassword(ctx, id, goodPassword, long)
	if !errors.As(err, &verr) || verr.Fields["new_password"] == "" {
		t.Fatalf("change password: expected a new_password field error, got %v", err)
	}
}
