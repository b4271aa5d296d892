package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"warden.dev/internal/auth"
	"warden.dev/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	t.Setenv("WARDEN_TOKEN_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("WARDEN_HASH_ARGON2_MEMORY_KIB", "1024")
	t.Setenv("WARDEN_HASH_ARGON2_ITERATIONS", "1")
	t.Setenv("WARDEN_HASH_ARGON2_PARALLELISM", "1")
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	return cfg
}

func TestNewSeedsBuiltinPermissions(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if a.DB() != nil {
		t.Fatalf("memory store must not expose a pinger")
	}
	perms, err := a.Admin.ListPermissions(ctx, auth.PermissionFilter{Page: auth.Page{Limit: 500}})
	if err != nil {
		t.Fatalf("ListPermissions: %v", err)
	}
	if len(perms) != len(auth.BuiltinPermissions) {
		t.Fatalf("expected %d permissions, got %d", len(auth.BuiltinPermissions), len(perms))
	}
}

func TestEnsureAdminIsIdempotent(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	id, created, err := a.EnsureAdmin(ctx, " Admin@Example.com ", "Sup3r-Secret-Pass", "Admin")
	if err != nil || !created {
		t.Fatalf("EnsureAdmin: created=%v err=%v", created, err)
	}
	again, created, err := a.EnsureAdmin(ctx, "admin@example.com", "Sup3r-Secret-Pass", "Admin")
	if err != nil || created || again != id {
		t.Fatalf("second EnsureAdmin: id=%s created=%v err=%v", again, created, err)
	}

	u, err := a.Admin.GetUser(ctx, id)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if !u.Superuser || !u.MustChangePassword {
		t.Fatalf("admin must be a superuser that changes its password, got %+v", u)
	}

	_, err = a.Service.Login(ctx, auth.LoginRequest{Identifier: "admin@example.com", Secret: "Sup3r-Secret-Pass", Kind: auth.KindUser})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
}

func TestPurgeOnceHonoursRetention(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := a.Service.Register(ctx, auth.RegisterRequest{Email: "p@example.com", Password: "Sup3r-Secret-Pass"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	sess, err := a.Service.Login(ctx, auth.LoginRequest{Identifier: "p@example.com", Secret: "Sup3r-Secret-Pass", Kind: auth.KindUser})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := a.Service.Logout(ctx, sess.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	n, err := a.PurgeOnce(ctx, time.Now().UTC())
	if err != nil || n != 0 {
		t.Fatalf("rows inside the retention window must survive: n=%d err=%v", n, err)
	}
	n, err = a.PurgeOnce(ctx, time.Now().UTC().Add(a.Config.Housekeeping.Retention+time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("expected one purged row, got n=%d err=%v", n, err)
	}
}

func TestLoadPermissionsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "perms.json")
	if err := os.WriteFile(path, []byte(`{"reports.read":"Read reports","billing.write":"Change billing"}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	perms, err := LoadPermissionsFile(path)
	if err != nil {
		t.Fatalf("LoadPermissionsFile: %v", err)
	}
	if len(perms) != 2 || perms[0].Code != "billing.write" || perms[1].Description != "Read reports" {
		t.Fatalf("unexpected catalog %+v", perms)
	}

	if _, err := LoadPermissionsFile(filepath.Join(dir, "missing.json")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
