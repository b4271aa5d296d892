package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"warden.dev/internal/auth"
	"warden.dev/internal/password"
	"warden.dev/internal/store/memory"
)

const testSecret = "0123456789abcdef0123456789abcdef"

const goodPassword = "Sup3r-Secret-Pass"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func cheapHashConfig(alg password.Algorithm) password.Config {
	return password.Config{
		Algorithm: alg,
		Argon2id: password.Argon2idParams{
			MemoryKiB:   1024,
			Iterations:  1,
			Parallelism: 1,
			SaltLength:  16,
			KeyLength:   32,
		},
		BcryptCost: 4,
	}
}

type fixture struct {
	store  *memory.Store
	uow    auth.UnitOfWork
	svc    *auth.Service
	admin  *auth.AdminService
	hasher *password.Hasher
	clock  *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, nil, auth.ServiceConfig{})
}

// newFixtureWith builds the services over wrap(store) when wrap is non-nil.
func newFixtureWith(t *testing.T, wrap func(auth.UnitOfWork) auth.UnitOfWork, cfg auth.ServiceConfig) *fixture {
	t.Helper()
	store := memory.New()
	var uow auth.UnitOfWork = store
	if wrap != nil {
		uow = wrap(store)
	}
	hasher, err := password.NewHasher(cheapHashConfig(password.Argon2id))
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	clk := newClock()
	issuer, err := auth.NewTokenIssuer(auth.TokenConfig{Issuer: "warden-test", Secret: []byte(testSecret)})
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	svc, err := auth.NewService(uow, hasher, issuer, cfg, auth.WithClock(clk.Now))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &fixture{
		store:  store,
		uow:    uow,
		svc:    svc,
		admin:  auth.NewAdminService(uow, hasher, password.DefaultPolicy(), auth.WithClock(clk.Now)),
		hasher: hasher,
		clock:  clk,
	}
}

func (f *fixture) register(t *testing.T, email string) string {
	t.Helper()
	id, err := f.svc.Register(context.Background(), auth.RegisterRequest{Email: email, Password: goodPassword})
	if err != nil {
		t.Fatalf("Register(%s): %v", email, err)
	}
	return id
}

func (f *fixture) login(t *testing.T, email string) auth.Session {
	t.Helper()
	s, err := f.svc.Login(context.Background(), auth.LoginRequest{Identifier: email, Secret: goodPassword})
	if err != nil {
		t.Fatalf("Login(%s): %v", email, err)
	}
	return s
}

func (f *fixture) refresh(token string) (auth.Session, error) {
	return f.svc.Refresh(context.Background(), auth.RefreshRequest{Token: token})
}

func (f *fixture) familyRows(t *testing.T, familyID string) []*auth.RefreshToken {
	t.Helper()
	var rows []*auth.RefreshToken
	err := f.store.Run(context.Background(), func(ctx context.Context, r auth.Repositories) error {
		var err error
		rows, err = r.RefreshTokens().List(ctx, auth.RefreshTokenFilter{FamilyID: familyID})
		return err
	})
	if err != nil {
		t.Fatalf("list family: %v", err)
	}
	return rows
}

func (f *fixture) permission(t *testing.T, code string) *auth.Permission {
	t.Helper()
	p, err := f.admin.CreatePermission(context.Background(), auth.PermissionInput{Code: code})
	if err != nil {
		t.Fatalf("CreatePermission(%s): %v", code, err)
	}
	return p
}

func (f *fixture) role(t *testing.T, name string, codes ...string) *auth.Role {
	t.Helper()
	ctx := context.Background()
	r, err := f.admin.CreateRole(ctx, auth.RoleInput{Name: name})
	if err != nil {
		t.Fatalf("CreateRole(%s): %v", name, err)
	}
	if err := f.admin.SetRolePermissions(ctx, r.ID, codes); err != nil {
		t.Fatalf("SetRolePermissions(%s): %v", name, err)
	}
	return r
}

var errInjected = errors.New("injected failure")

// faultyUnitOfWork fails RefreshTokens().Create while armed.
type faultyUnitOfWork struct {
	inner auth.UnitOfWork
	armed bool
}

func (f *faultyUnitOfWork) Run(ctx context.Context, fn func(context.Context, auth.Repositories) error) error {
	return f.inner.Run(ctx, func(ctx context.Context, r auth.Repositories) error {
		return fn(ctx, faultyRepos{Repositories: r, armed: f.armed})
	})
}

type faultyRepos struct {
	auth.Repositories
	armed bool
}

func (r faultyRepos) RefreshTokens() auth.RefreshTokenRepository {
	return faultyTokens{RefreshTokenRepository: r.Repositories.RefreshTokens(), armed: r.armed}
}

type faultyTokens struct {
	auth.RefreshTokenRepository
	armed bool
}

func (t faultyTokens) Create(ctx context.Context, row *auth.RefreshToken) error {
	if t.armed {
		return errInjected
	}
	return t.RefreshTokenRepository.Create(ctx, row)
}
