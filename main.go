package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"time"

	"fusionbridge/internal/audit"
	"fusionbridge/internal/auth"
	"fusionbridge/internal/config"
	"fusionbridge/internal/dashboard"
	dashboardhttp "fusionbridge/internal/dashboard/interfaces/http"
	"fusionbridge/internal/fusionsolar"
	"fusionbridge/internal/health"
	healthpg "fusionbridge/internal/health/infrastructure/postgres"
	masterdatarepo "fusionbridge/internal/masterdata/infrastructure/postgres"
	"fusionbridge/internal/observability/metrics"
	"fusionbridge/internal/reporting"
	"fusionbridge/internal/syncengine"
	synchttp "fusionbridge/internal/syncengine/interfaces/http"
	telemetryrepo "fusionbridge/internal/telemetry/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := log.New(os.Stdout, "", log.LstdFlags)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)
	auditRepo := audit.NewRepository(db)

	stationRepo := masterdatarepo.NewStationRepository(db)
	sampleRepo := telemetryrepo.NewSampleRepository(db)
	paramStore := healthpg.NewParamStore(db)

	client, err := fusionsolar.NewClient(cfg.API.BaseURL, cfg.API.Username, cfg.API.SystemCode,
		fusionsolar.WithLogger(logger))
	if err != nil {
		logger.Fatalf("fusionsolar client error: %v", err)
	}
	api, err := fusionsolar.NewBreakerCaller(client, logger)
	if err != nil {
		logger.Fatalf("fusionsolar breaker error: %v", err)
	}

	triggers := health.NewTriggerSet()
	guard, err := health.NewGuard(paramStore, triggers, logger,
		health.WithMaxAuthErrors(cfg.Sync.MaxAuthErrors),
		health.WithFrequencyHold(cfg.Sync.FrequencyHold))
	if err != nil {
		logger.Fatalf("health guard error: %v", err)
	}

	registry, err := syncengine.NewRegistry(stationRepo, logger)
	if err != nil {
		logger.Fatalf("registry error: %v", err)
	}
	batches, err := syncengine.NewBatchScheduler(api, stationRepo, sampleRepo, logger,
		syncengine.WithBatchSize(cfg.Sync.BatchSize),
		syncengine.WithRequestDelay(cfg.Sync.RequestDelay),
		syncengine.WithDeviceFallback(cfg.Sync.DeviceFallback, cfg.Sync.DeviceRequestDelay))
	if err != nil {
		logger.Fatalf("batch scheduler error: %v", err)
	}
	orchestrator, err := syncengine.NewOrchestrator(api, guard, registry, batches, stationRepo, logger,
		syncengine.WithPageSize(cfg.Sync.PageSize))
	if err != nil {
		logger.Fatalf("orchestrator error: %v", err)
	}
	syncService, err := syncengine.NewService(orchestrator, stationRepo, sampleRepo, logger,
		syncengine.WithRetentionDays(cfg.Sync.RetentionDays),
		syncengine.WithIncrementalWindow(cfg.Sync.IncrementalWindow))
	if err != nil {
		logger.Fatalf("sync service error: %v", err)
	}

	if !cfg.Sync.DisablePeriodicRuns {
		trigger, err := syncengine.NewPeriodicTrigger("periodic-sync", syncService, syncengine.ModeFull, cfg.Sync.Interval, logger)
		if err != nil {
			logger.Fatalf("periodic trigger error: %v", err)
		}
		triggers.Add(trigger)
		trigger.Start(context.Background())
		defer trigger.Stop()
	}

	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if _, err := syncService.CleanupOldSamples(context.Background()); err != nil {
				logger.Printf("retention cleanup error: %v", err)
			}
		}
	}()
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if _, err := syncService.MonitorHealth(context.Background()); err != nil {
				logger.Printf("health monitor error: %v", err)
			}
		}
	}()

	dashboardService, err := dashboard.NewService(stationRepo, sampleRepo, logger)
	if err != nil {
		logger.Fatalf("dashboard service error: %v", err)
	}
	exporter, err := reporting.NewExporter(stationRepo, dashboardService, logger)
	if err != nil {
		logger.Fatalf("reporting exporter error: %v", err)
	}

	syncHandler, err := synchttp.NewSyncHandler(syncService, guard, auditRepo, logger)
	if err != nil {
		logger.Fatalf("sync handler error: %v", err)
	}
	dashboardHandler, err := dashboardhttp.NewDashboardHandler(dashboardService, exporter, logger)
	if err != nil {
		logger.Fatalf("dashboard handler error: %v", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	mux := http.NewServeMux()
	syncHandler.Register(mux)
	dashboardHandler.Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}
