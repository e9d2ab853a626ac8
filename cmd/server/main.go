package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/soaringjerry/labreport/internal/api"
	"github.com/soaringjerry/labreport/internal/config"
	"github.com/soaringjerry/labreport/internal/logging"
	"github.com/soaringjerry/labreport/internal/services"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "labreport: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if len(os.Args) > 1 && os.Args[1] == "contact-key" {
		return writeContactKey(context.Background(), os.Stdout, cfg.Cipher)
	}
	logger, _, err := logging.New(logging.ParseEnvironment(cfg.Env), cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, sqliteDB, err := openStore(ctx, cfg.SQLitePath, cfg.MigrationsDir, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sqliteDB.Close(); cerr != nil {
			logger.Warn("close sqlite", zap.Error(cerr))
		}
	}()

	rt, err := api.NewRouter(store, api.Options{
		Cipher:     cfg.Cipher,
		SessionTTL: cfg.SessionTTL,
		Summary: services.SummaryConfig{
			BaseURL: cfg.LLM.BaseURL,
			APIKey:  cfg.LLM.APIKey,
			Model:   cfg.LLM.Model,
			Timeout: cfg.LLM.Timeout,
		},
		JWTSecret:   cfg.JWTSecret,
		CORSOrigins: cfg.CORSOrigins,
		StaticDir:   cfg.StaticDir,
		ContactKey:  cfg.ContactKey,
		Commit:      cfg.Commit,
		BuildTime:   cfg.BuildTime,
	}, logger)
	if err != nil {
		return err
	}

	if n, err := rt.Sessions().WarmSeen(ctx); err != nil {
		logger.Warn("warm returning-submitter filter", zap.Error(err))
	} else {
		logger.Info("returning-submitter filter warmed", zap.Int("records", n))
	}
	if auth := rt.Auth(); auth != nil && cfg.AdminEmail != "" {
		created, err := auth.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword)
		if err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
		if created {
			logger.Info("admin account created")
		}
	} else if auth == nil {
		logger.Info("admin routes disabled, no jwt secret configured")
	}

	go sweep(ctx, rt, cfg.SweepInterval, logger)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           rt.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("labreport server listening", zap.String("addr", cfg.Addr), zap.String("cipher", cfg.Cipher))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// sweep ends idle sessions and purges records whose keys were lost.
func sweep(ctx context.Context, rt *api.Router, every time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := rt.Sweep(ctx)
			if err != nil {
				logger.Warn("session sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("expired sessions cleared", zap.Int("count", n))
			}
		}
	}
}
