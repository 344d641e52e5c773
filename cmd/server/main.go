package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"

	"github.com/PerformanceSuite/CommandCenter-sub018/internal/api"
	"github.com/PerformanceSuite/CommandCenter-sub018/internal/auth"
	"github.com/PerformanceSuite/CommandCenter-sub018/internal/bus"
	"github.com/PerformanceSuite/CommandCenter-sub018/internal/config"
	"github.com/PerformanceSuite/CommandCenter-sub018/internal/executor"
	"github.com/PerformanceSuite/CommandCenter-sub018/internal/ledger"
	"github.com/PerformanceSuite/CommandCenter-sub018/internal/logging"
	"github.com/PerformanceSuite/CommandCenter-sub018/internal/repository"
	"github.com/PerformanceSuite/CommandCenter-sub018/internal/runner"
	"github.com/PerformanceSuite/CommandCenter-sub018/internal/services"
	"github.com/PerformanceSuite/CommandCenter-sub018/internal/tls"
	"github.com/PerformanceSuite/CommandCenter-sub018/pkg/models"
)

func main() {
	ctx := context.Background()

	logger := logging.NewLogger()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		log.Fatalf("Configuration loading failed: %v", err)
	}

	logger.Info("Starting workflow hub",
		"service", cfg.Service.ID,
		"instance", cfg.Service.Instance,
		"version", cfg.Service.Version,
		"environment", cfg.Environment,
	)

	dbPool, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize database", "error", err)
		log.Fatalf("Database initialization failed: %v", err)
	}
	defer dbPool.Close()

	store := repository.NewPostgresStore(dbPool)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Error("Failed to apply schema", "error", err)
		log.Fatalf("Schema migration failed: %v", err)
	}
	logger.Info("Database connected")

	// Bus bridge + event ledger.
	bridge := bus.NewBridge(logger, cfg.Bus.BufferSize)
	defer bridge.Close()
	lg := ledger.New(store, bridge, logger, cfg.Service.ID, cfg.Service.Instance)

	// Log every run-level transition that crosses the bridge.
	_, err = bridge.Register(cfg.Service.ID+".workflow.>", "workflow transition log",
		func(ctx context.Context, ev models.Event) error {
			logger.Debug("bus event", "subject", ev.Subject, "correlation_id", ev.CorrelationID)
			return nil
		})
	if err != nil {
		logger.Error("failed to register routing rule", "error", err)
	}

	// Sandbox executor and the run scheduler.
	execClient := executor.NewHTTPClient(cfg.Executor.URL, time.Duration(cfg.Executor.TimeoutSec)*time.Second)
	sched := runner.New(store, execClient, lg,
		runner.WithLogger(logger),
		runner.WithTracer(otel.Tracer("workflow-runner")),
		runner.WithMaxParallel(cfg.Executor.MaxParallel),
		runner.WithGlobalWorkers(cfg.Executor.GlobalWorkers),
	)
	svc := services.NewWorkflowService(store, sched, logger)
	logger.Info("Service layer initialized")

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware(cfg.Service.ID))

	authz, err := auth.New(ctx, cfg, store, logger)
	if err != nil {
		logger.Error("failed to initialize auth", "error", err)
		log.Fatalf("auth initialization failed: %v", err)
	}

	e.GET("/login", echo.WrapHandler(http.HandlerFunc(authz.LoginHandler)))
	e.GET("/auth/callback", echo.WrapHandler(http.HandlerFunc(authz.CallbackHandler)))
	e.GET("/logout", echo.WrapHandler(http.HandlerFunc(authz.LogoutHandler)))

	apiGroup := e.Group("/api/v1")
	apiGroup.Use(echo.WrapMiddleware(authz.RequireAuth))
	srv := api.NewServer(svc, lg, bridge, store, logger, cfg.Service.ID, cfg.Service.Version)
	srv.RegisterRoutes(e, apiGroup)
	logger.Info("REST and RPC handlers mounted")

	addr := cfg.Server.Addr
	if cfg.TLS.Enable {
		addr = ":8443"
	}
	server := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", addr, "tls", cfg.TLS.Enable)
		if cfg.TLS.Enable {
			if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
				logger.Error("TLS enabled but cert/key file not provided")
				serverErrors <- server.ListenAndServe()
				return
			}
			if _, err := os.Stat(cfg.TLS.CertFile); os.IsNotExist(err) {
				if len(cfg.TLS.Hostnames) > 0 {
					if err := tls.GenerateSelfSignedCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames); err != nil {
						logger.Error("failed to generate self-signed cert", "error", err)
					}
				}
			}
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serverErrors <- server.ListenAndServe()
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			logger.Error("Server error", "error", err)
			log.Fatalf("Server error: %v", err)
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				logger.Error("Server close error", "error", err)
			}
		}

		logger.Info("Server stopped gracefully")
	}
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection")

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
