// Command bootstrap prepares a fresh deployment: it seeds the permission
// catalog and creates the first superuser, who must change the password on
// first login.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"warden.dev/internal/app"
	"warden.dev/internal/auth"
	"warden.dev/internal/config"
	"warden.dev/internal/obs"
)

func main() {
	var (
		configPath = flag.String("config", os.Getenv("WARDEN_CONFIG"), "Path to YAML config (optional)")
		permsFile  = flag.String("permissions", "", "JSON object of extra permission codes to descriptions")
		email      = flag.String("admin-email", "", "Initial superuser email (overrides config)")
		timeout    = flag.Duration("timeout", 60*time.Second, "Overall timeout")
	)
	flag.Parse()

	cfg := config.MustLoad(*configPath)
	logger, err := obs.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if *permsFile != "" {
		cfg.Bootstrap.PermissionsFile = *permsFile
	}
	if *email != "" {
		cfg.Bootstrap.AdminEmail = *email
	}
	// The catalog is seeded below together with the extra codes.
	cfg.Bootstrap.SeedPermissions = false

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("bootstrap failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if cfg.DB.DSN == "" {
		return fmt.Errorf("bootstrap needs a database: set WARDEN_DB_DSN")
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	catalog := append([]auth.PermissionInput(nil), auth.BuiltinPermissions...)
	if path := cfg.Bootstrap.PermissionsFile; path != "" {
		extra, err := app.LoadPermissionsFile(path)
		if err != nil {
			return err
		}
		catalog = append(catalog, extra...)
	}
	n, err := a.Admin.EnsurePermissions(ctx, catalog)
	if err != nil {
		return fmt.Errorf("seed permissions: %w", err)
	}
	logger.Info("permission catalog ensured", zap.Int("known", len(catalog)), zap.Int("created", n))

	if cfg.Bootstrap.AdminEmail == "" {
		logger.Info("no admin email configured, skipping superuser")
		return nil
	}
	if cfg.Bootstrap.AdminPassword == "" {
		return fmt.Errorf("admin password is required: set WARDEN_BOOTSTRAP_ADMIN_PASSWORD")
	}
	id, created, err := a.EnsureAdmin(ctx, cfg.Bootstrap.AdminEmail, cfg.Bootstrap.AdminPassword, cfg.Bootstrap.AdminFullName)
	if err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	if created {
		logger.Info("superuser created", zap.String("user_id", id), zap.String("email", cfg.Bootstrap.AdminEmail))
	} else {
		logger.Info("superuser already exists", zap.String("user_id", id))
	}
	return nil
}
