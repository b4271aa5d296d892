package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"warden.dev/internal/migrate"
	"warden.dev/internal/obs"
)

func main() {
	var (
		dsn     = flag.String("dsn", os.Getenv("WARDEN_DB_DSN"), "PostgreSQL DSN")
		dir     = flag.String("dir", "", "Read migrations/ and seeds/ from this directory instead of the embedded set")
		timeout = flag.Duration("timeout", 60*time.Second, "Overall timeout")
	)
	flag.Parse()

	logger, err := obs.NewLogger("info", "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if *dsn == "" {
		logger.Fatal("missing DSN: provide via -dsn or WARDEN_DB_DSN")
	}
	if flag.NArg() == 0 {
		logger.Fatal("usage: migrate [up|down|status|pending|seed]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sqlx.Open("pgx", *dsn)
	if err != nil {
		logger.Fatal("open db", zap.Error(err))
	}
	defer db.Close()

	mgr := migrate.NewManager(db.DB, nil)
	if *dir != "" {
		mgr = migrate.NewManager(db.DB, os.DirFS(*dir), migrate.WithDirs("migrations", "seeds"))
	}

	cmd := flag.Arg(0)
	var names []string
	switch cmd {
	case "up":
		names, err = mgr.Up(ctx)
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if errors.Is(err, migrate.ErrNothingApplied) {
			logger.Info("nothing to roll back")
			return
		}
		if name != "" {
			names = []string{name}
		}
	case "seed":
		names, err = mgr.Seed(ctx)
	case "status":
		names, err = mgr.Status(ctx)
	case "pending":
		names, err = mgr.Pending(ctx)
	default:
		logger.Fatal("unknown command", zap.String("command", cmd))
	}
	if err != nil {
		logger.Fatal("migrate failed", zap.String("command", cmd), zap.Error(err))
	}
	logger.Info("migrate done", zap.String("command", cmd), zap.Int("count", len(names)))
	for _, n := range names {
		fmt.Println(n)
	}
}
