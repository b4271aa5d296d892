// Package app assembles the session core from configuration. The API server
// and the bootstrap command share it.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"warden.dev/internal/audit"
	"warden.dev/internal/auth"
	"warden.dev/internal/config"
	"warden.dev/internal/migrate"
	"warden.dev/internal/obs"
	"warden.dev/internal/password"
	"warden.dev/internal/store/memory"
	"warden.dev/internal/store/pg"
)

// App holds the wired components of one process.
type App struct {
	Config  config.Config
	Log     *zap.Logger
	Store   auth.UnitOfWork
	Service *auth.Service
	Admin   *auth.AdminService

	db *pg.Store
}

// New opens storage, builds the hasher and token issuer and seeds the builtin
// permission catalog when configured to.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{Config: cfg, Log: log}

	if cfg.DB.DSN == "" {
		log.Warn("no database configured, using the in-memory store")
		a.Store = memory.New()
	} else {
		db, err := openDB(ctx, cfg.DB, log)
		if err != nil {
			return nil, err
		}
		a.db = db
		a.Store = db
	}

	hasher, err := password.NewHasher(cfg.HashConfig())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("password hasher: %w", err)
	}
	tc, err := cfg.TokenConfig()
	if err != nil {
		a.Close()
		return nil, err
	}
	issuer, err := auth.NewTokenIssuer(tc)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("token issuer: %w", err)
	}

	opts := []auth.Option{
		auth.WithLogger(obs.Component(log, "auth")),
		auth.WithAuditor(audit.New(log)),
	}
	a.Service, err = auth.NewService(a.Store, hasher, issuer, cfg.ServiceConfig(), opts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Admin = auth.NewAdminService(a.Store, hasher, cfg.Policy(), opts...)

	if cfg.Bootstrap.SeedPermissions {
		n, err := a.Admin.EnsurePermissions(ctx, auth.BuiltinPermissions)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("seed permissions: %w", err)
		}
		if n > 0 {
			log.Info("builtin permissions seeded", zap.Int("created", n))
		}
	}
	return a, nil
}

func openDB(ctx context.Context, cfg config.DB, log *zap.Logger) (*pg.Store, error) {
	db, err := pg.Open(cfg.DSN, pg.PoolConfig{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.Ping(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if cfg.MigrateOnStart {
		applied, err := migrate.NewManager(db.DB(), nil).Up(ctx)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		log.Info("migrations applied", zap.Strings("files", applied))
	}
	return db, nil
}

// Pinger is what the readiness probes need.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DB returns the database pinger, or nil for the in-memory store.
func (a *App) DB() Pinger {
	if a.db == nil {
		return nil
	}
	return a.db
}

// Close releases the database handle.
func (a *App) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.Log.Warn("close database", zap.Error(err))
		}
	}
}

// PurgeOnce deletes refresh rows that have been expired or revoked for longer
// than the retention window.
func (a *App) PurgeOnce(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-a.Config.Housekeeping.Retention)
	n, err := a.Service.Sessions().PurgeExpired(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	obs.RecordPurged(n)
	return n, nil
}

// RunHousekeeping purges on every interval tick until ctx is done.
func (a *App) RunHousekeeping(ctx context.Context) {
	interval := a.Config.Housekeeping.Interval
	log := obs.Component(a.Log, "housekeeping")
	log.Info("housekeeping started",
		zap.Duration("interval", interval),
		zap.Duration("retention", a.Config.Housekeeping.Retention))
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := a.PurgeOnce(ctx, now.UTC())
			if err != nil {
				log.Error("purge failed", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Info("purged refresh tokens", zap.Int64("deleted", n))
			}
		}
	}
}

// LoadPermissionsFile reads a JSON object mapping permission codes to
// descriptions.
func LoadPermissionsFile(path string) ([]auth.PermissionInput, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read permissions file: %w", err)
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse permissions file %s: %w", path, err)
	}
	out := make([]auth.PermissionInput, 0, len(m))
	for code, desc := range m {
		out = append(out, auth.PermissionInput{Code: strings.TrimSpace(code), Description: desc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// EnsureAdmin creates the initial superuser unless a user with that email
// exists. The account must change its password on first login.
func (a *App) EnsureAdmin(ctx context.Context, email, pw, fullName string) (id string, created bool, err error) {
	want := strings.ToLower(strings.TrimSpace(email))
	users, err := a.Admin.ListUsers(ctx, auth.UserFilter{EmailContains: want, Page: auth.Page{Limit: 50}})
	if err != nil {
		return "", false, err
	}
	for _, u := range users {
		if u.Email == want {
			return u.ID, false, nil
		}
	}
	u, err := a.Admin.CreateUser(ctx, auth.CreateUserRequest{
		Email:     want,
		Password:  pw,
		FullName:  fullName,
		Superuser: true,
	})
	if err != nil {
		return "", false, err
	}
	return u.ID, true, nil
}
