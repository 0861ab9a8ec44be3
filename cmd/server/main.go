package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"studyconnect/internal/config"
	"studyconnect/internal/database"
	"studyconnect/internal/group"
	"studyconnect/internal/handler"
	"studyconnect/internal/jwtauth"
	"studyconnect/internal/logging"
	"studyconnect/internal/membership"
	"studyconnect/internal/task"
	"studyconnect/internal/user"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("error closing database connection", zap.Error(err))
		}
	}()
	logger.Info("database connection established")

	migrationsPath := getMigrationsPath(cfg.MigrationsPath)
	state, err := db.MigrateUp(migrationsPath)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if state.Dirty {
		logger.Warn("database is in dirty state, a previous migration failed and manual intervention is required",
			zap.Uint("version", state.Version))
	} else {
		logger.Info("database migrations complete",
			zap.Uint("version", state.Version), zap.Bool("applied", state.Applied), zap.String("path", migrationsPath))
	}

	verifier, err := jwtauth.NewVerifier(jwtauth.Config{
		IssuerURL: cfg.Keycloak.IssuerURL,
		Audience:  cfg.Keycloak.Audience,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize token verifier: %w", err)
	}

	router := handler.NewRouter(handler.Deps{
		Config:   cfg,
		DB:       db,
		Verifier: verifier,
		Users:    user.NewManager(user.NewDatastore(db.DB), logger),
		Members:  membership.NewManager(db.DB),
		Tasks:    task.NewManager(db.DB, logger),
		Groups:   group.NewManager(db.DB, logger),
		Logger:   logger,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Channel to listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("StudyConnect server starting",
			zap.String("addr", server.Addr), zap.String("env", cfg.Environment))
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		logger.Info("initiating graceful shutdown", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		logger.Info("waiting for in-flight requests to complete")
		if err := server.Shutdown(ctx); err != nil {
			logger.Warn("graceful shutdown failed, forcing shutdown", zap.Error(err))
			if err := server.Close(); err != nil {
				return fmt.Errorf("forced shutdown failed: %w", err)
			}
		}
		logger.Info("server shutdown complete")
	}
	return nil
}

// getMigrationsPath resolves the migrations directory: the configured path,
// then ./migrations, then next to the executable, then the container default.
func getMigrationsPath(configured string) string {
	if configured != "" {
		return configured
	}

	if _, err := os.Stat("migrations"); err == nil {
		if abs, err := filepath.Abs("migrations"); err == nil {
			return abs
		}
	}

	if execPath, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(execPath), "migrations")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	return "/app/migrations"
}
