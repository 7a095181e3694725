package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"billbook-backend/internal/config"
	"billbook-backend/internal/handlers"
	"billbook-backend/internal/health"
	h "billbook-backend/internal/http"
	"billbook-backend/internal/logger"
	"billbook-backend/internal/middleware"
	"billbook-backend/internal/monitoring"
	"billbook-backend/internal/repositories"
	"billbook-backend/internal/services"
	"billbook-backend/internal/storage"
)

// remoteRepository builds the configured remote backend. "offline" means no
// remote at all.
func remoteRepository(cfg *config.Config, log *logger.Logger) repositories.BillRepository {
	switch cfg.Storage.Backend {
	case repositories.BackendPostgres:
		return repositories.NewPostgresBillRepository(cfg.Database, log)
	case repositories.BackendRedis:
		return repositories.NewRedisBillRepository(cfg.Redis, log)
	case repositories.BackendObjectStore:
		return repositories.NewObjectBillRepository(cfg.ObjectStore, log)
	default:
		return nil
	}
}

func storageOptions(cfg *config.Config) storage.Options {
	return storage.Options{
		InitRetries:      cfg.Storage.InitRetries,
		InitTimeout:      time.Duration(cfg.Storage.InitTimeoutSeconds) * time.Second,
		OperationTimeout: time.Duration(cfg.Storage.OperationTimeoutSeconds) * time.Second,
	}
}

// migrate initializes the remote backend once (schema, bucket check, ping)
// and reports the outcome.
func migrate(cfg *config.Config, log *logger.Logger) int {
	remote := remoteRepository(cfg, log)
	if remote == nil {
		log.Infow("offline backend selected, nothing to set up")
		return 0
	}
	defer remote.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Storage.InitTimeoutSeconds)*time.Second)
	defer cancel()
	if err := remote.Initialize(ctx); err != nil {
		log.Errorw("backend setup failed", "backend", remote.Name(), "error", err)
		return 1
	}
	log.Infow("backend ready", "backend", remote.Name())
	return 0
}

func main() {
	configFile := flag.String("config", "", "Path to config.yaml (default configs/config.yaml)")
	backend := flag.String("backend", "", "Storage backend: postgres, objectstore, redis or offline (overrides config)")
	port := flag.Int("port", 0, "Server port (overrides config)")
	migrateOnly := flag.Bool("migrate-only", false, "Initialize the storage backend and exit")
	flag.Parse()

	if *backend != "" {
		os.Setenv("STORAGE_BACKEND", *backend)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if *migrateOnly {
		os.Exit(migrate(cfg, log))
	}

	// Storage: remote backend with the local file as fallback
	offline := repositories.NewLocalBillRepository(cfg.Storage.OfflineDir)
	orch := storage.New(remoteRepository(cfg, log), offline, storageOptions(cfg), log)
	defer func() {
		if err := orch.Close(); err != nil {
			log.Warnw("closing storage", "error", err)
		}
	}()

	// Live feed
	hub := monitoring.NewHub(func() monitoring.Event {
		return monitoring.Event{Type: monitoring.EventStatus, Data: orch.Status(), Timestamp: time.Now()}
	}, log)
	orch.OnStatusChange(func(st storage.Status) {
		hub.Publish(monitoring.EventStatus, st)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go hub.Run(ctx)

	billing := services.NewBillingService(orch, hub, log)
	status := billing.Start(ctx)
	log.Infow("storage initialized", "state", status.State, "backend", status.Backend, "message", status.Message)

	pdf := services.NewBillPDFService(services.ShopDetails{
		Name:         cfg.Shop.Name,
		AddressLines: cfg.Shop.AddressLines,
		Phone:        cfg.Shop.Phone,
	}, log)

	apiLogging := middleware.NewAPILoggingMiddleware(log)
	router := h.NewRouter(
		cfg,
		handlers.NewBillHandler(billing, pdf),
		handlers.NewHealthHandler(health.NewHealthChecker(orch, cfg.Storage.OfflineDir)),
		hub,
		apiLogging,
		log,
	)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infow("server running", "addr", addr, "backend", cfg.Storage.Backend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("graceful shutdown failed", "error", err)
	}
	apiLogging.Close()
}
