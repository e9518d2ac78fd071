package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"civicreport/internal/config"
	"civicreport/internal/devbackend"
	"civicreport/internal/logging"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to YAML config (optional)")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("warning: loading .env: %v", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, closer, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer closer.Close()

	if err := run(context.Background(), cfg, logger); err != nil {
		logger.Error("devserver stopped", "error", err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		otps    devbackend.OTPStore
		revoked devbackend.RevocationStore
		cleanup = func() {}
	)
	if cfg.RedisURL != "" {
		client, err := devbackend.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		rs := devbackend.NewRedisStore(client)
		otps, revoked = rs, rs
		cleanup = func() { _ = client.Close() }
		logger.Info("using redis otp store")
	} else {
		mem := devbackend.NewMemoryStore()
		otps, revoked = mem, mem
	}
	defer cleanup()

	if cfg.JWTSecret == config.Defaults().JWTSecret {
		logger.Warn("using the built-in jwt secret, set CIVIC_JWT_SECRET outside local testing")
	}
	srv := devbackend.NewServer(devbackend.Config{
		JWTSecret:       cfg.JWTSecret,
		AccessTokenTTL:  cfg.AccessTokenTTL,
		RefreshTokenTTL: cfg.RefreshTokenTTL,
		OTPTTL:          cfg.OTPTTL,
	}, otps, revoked, logger)

	httpServer := &http.Server{
		Addr:              cfg.DevAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", "addr", cfg.DevAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	return runErr
}
