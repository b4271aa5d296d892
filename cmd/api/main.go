package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"warden.dev/internal/app"
	"warden.dev/internal/config"
	"warden.dev/internal/grpcapi"
	"warden.dev/internal/httpapi"
	"warden.dev/internal/obs"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", os.Getenv("WARDEN_CONFIG"), "Path to YAML config (optional)")
	flag.Parse()

	cfg := config.MustLoad(*configPath)
	logger, err := obs.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("warden stopped with error", zap.Error(err))
	}
	logger.Info("stopped")
}

func run(cfg config.Config, logger *zap.Logger) error {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	api := httpapi.New(a.Service, a.Admin, httpapi.ReadyProbe{DB: a.DB()}, httpapi.Options{
		Version:       version,
		Logger:        logger,
		MaxBodyBytes:  cfg.HTTP.MaxBodyBytes,
		CORSOrigins:   cfg.HTTP.CORSOrigins,
		RateLimit:     cfg.HTTP.RateLimit,
		RateBurst:     cfg.HTTP.RateBurst,
		TrustProxy:    cfg.HTTP.TrustedProxies,
		RefreshCookie: cfg.HTTP.RefreshCookie,
		CookieSecure:  cfg.HTTP.CookieSecure,
	})
	srv := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	errc := make(chan error, 2)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http: %w", err)
		}
	}()

	var gs *grpcapi.Server
	if cfg.GRPC.Enabled {
		gs = grpcapi.New(a.Service, a.DB(), grpcapi.Options{Logger: logger, Reflection: cfg.GRPC.Reflection})
		lis, err := net.Listen("tcp", cfg.GRPC.Address)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		go func() {
			if err := gs.Serve(lis); err != nil {
				errc <- fmt.Errorf("grpc: %w", err)
			}
		}()
		go gs.WatchReadiness(ctx, 10*time.Second)
	}

	if cfg.Housekeeping.Enabled {
		go a.RunHousekeeping(ctx)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-errc:
		logger.Error("server failed, shutting down", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if gs != nil {
		gs.Shutdown(shutdownCtx)
	}
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("http shutdown", zap.Error(serr))
	}
	return err
}
