package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nexthire/backend/internal/models"
	"nexthire/backend/pkg/config"
	"nexthire/backend/pkg/di"
	"nexthire/backend/pkg/logger"
	"nexthire/backend/pkg/router"
	"nexthire/backend/pkg/secrets"
	"nexthire/backend/shared/observability"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg := config.New()

	logConfig := logger.DefaultConfig()
	logConfig.Level = cfg.Logging.Level
	logConfig.JSON = cfg.Logging.Format != "text"
	log := logger.New(logConfig)
	logger.SetGlobal(log)

	log.Info("Starting chat backend", "version", os.Getenv("APP_VERSION"), "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := initSecrets(cfg, log); err != nil {
		log.LogError(err, "Failed to initialize secrets manager")
		os.Exit(1)
	}
	cfg.Database.Password = secrets.GetSecretWithDefault(ctx, secrets.KeyDBPassword, cfg.Database.Password)

	var shutdowns []observability.ShutdownFunc
	if cfg.Telemetry.TracingEnabled {
		shutdown, err := observability.SetupTracing(cfg.Telemetry.ServiceName)
		if err != nil {
			log.LogError(err, "Failed to set up tracing")
			os.Exit(1)
		}
		shutdowns = append(shutdowns, shutdown)
	}
	if cfg.Telemetry.MetricsEnabled {
		mp, err := observability.SetupMetrics(cfg.Telemetry.ServiceName, prometheus.DefaultRegisterer)
		if err != nil {
			log.LogError(err, "Failed to set up metrics")
			os.Exit(1)
		}
		shutdowns = append(shutdowns, mp.Shutdown)
	}

	db, err := config.NewDB(cfg)
	if err != nil {
		log.LogError(err, "Failed to initialize database")
		os.Exit(1)
	}

	if err := db.AutoMigrate(&models.User{}, &models.Message{}); err != nil {
		log.LogError(err, "Failed to migrate database")
		os.Exit(1)
	}

	container, err := di.New(ctx, cfg, db, log)
	if err != nil {
		log.LogError(err, "Failed to initialize dependency container")
		os.Exit(1)
	}
	container.Start(ctx)

	r := router.New(container)
	r.SetupRoutes()
	r.Start(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.LogError(err, "Server failed to start")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.Timeout)
	defer cancel()

	// hijacked websocket connections are not tracked by Shutdown; the container closes them
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.LogError(err, "Server forced to shutdown")
	}
	if err := container.Close(); err != nil {
		log.LogError(err, "Failed to release resources")
	}
	if err := observability.Shutdown(shutdownCtx, shutdowns...); err != nil {
		log.LogError(err, "Failed to flush telemetry")
	}

	log.Info("Server exited gracefully")
}

func initSecrets(cfg *config.Config, log *logger.Logger) error {
	if !cfg.Vault.Enabled {
		secrets.SetManager(secrets.NewEnvManager())
		return nil
	}

	manager, err := secrets.NewVaultManager(secrets.VaultConfig{
		Address:     cfg.Vault.Address,
		Token:       cfg.Vault.Token,
		Namespace:   cfg.Vault.Namespace,
		SecretsPath: cfg.Vault.SecretsPath,
	}, log)
	if err != nil {
		return err
	}
	secrets.SetManager(manager)
	log.Info("Reading secrets from Vault", "path", cfg.Vault.SecretsPath)
	return nil
}
