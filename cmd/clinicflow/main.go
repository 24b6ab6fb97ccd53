package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/careops/clinicflow/internal/config"
	v1 "github.com/careops/clinicflow/internal/handler/v1"
	"github.com/careops/clinicflow/internal/repository/postgres"
	"github.com/careops/clinicflow/internal/service"
	"github.com/careops/clinicflow/pkg/auth"
	"github.com/careops/clinicflow/pkg/database"
	"github.com/careops/clinicflow/pkg/logger"
	"github.com/careops/clinicflow/pkg/metrics"
	"github.com/careops/clinicflow/pkg/tracer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("failed to load configuration", zap.Error(err))
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		zap.NewExample().Fatal("failed to build logger", zap.Error(err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting clinicflow",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	tp, err := tracer.Init(cfg.Tracing)
	if err != nil {
		log.Fatal("failed to initialize tracing", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = tp.Shutdown(ctx)
	}()

	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	if err := database.Migrate(db, log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Decided once at startup; the completion saga never re-probes.
	txCapable := database.ProbeTxSupport(db, cfg.Database, log)

	collector := metrics.NewCollector("clinicflow")
	jwtManager := auth.NewJWTManager(cfg.JWT)

	visitRepo := postgres.NewVisitRepository(db)
	counterRepo := postgres.NewCounterRepository(db)
	prescriptionRepo := postgres.NewPrescriptionRepository(db)
	invoiceRepo := postgres.NewInvoiceRepository(db)
	patientRepo := postgres.NewPatientRepository(db)
	appointmentRepo := postgres.NewAppointmentRepository(db)
	inventoryRepo := postgres.NewInventoryRepository(db)
	feeRepo := postgres.NewFeeRepository(db)
	auditRepo := postgres.NewAuditRepository(db)
	alertRepo := postgres.NewAlertRepository(db)
	userRepo := postgres.NewUserRepository(db)
	txManager := postgres.NewTxManager(db)

	auditSvc := service.NewAuditService(auditRepo, log)
	alertSvc := service.NewAlertService(alertRepo, log)
	minter := service.NewSequenceMinter(counterRepo)
	authSvc := service.NewAuthService(userRepo, jwtManager, log)
	inventorySvc := service.NewInventoryService(inventoryRepo, log)
	billingSvc := service.NewBillingService(
		invoiceRepo, visitRepo, prescriptionRepo, counterRepo, feeRepo,
		cfg.Billing, cfg.Completion.LookupTimeout, collector, log,
	)
	visitSvc := service.NewVisitService(
		visitRepo, minter, auditSvc, collector,
		cfg.Completion.LockTTL, cfg.Completion.SweepInterval, log,
	)
	completionSvc := service.NewCompletionService(
		visitRepo, prescriptionRepo, appointmentRepo, patientRepo,
		minter, billingSvc, inventorySvc, alertSvc, auditSvc, collector,
		txManager, txCapable, cfg.Completion.LookupTimeout, log,
	)

	visitSvc.StartLockSweeper()

	router := v1.NewRouter(v1.RouterDeps{
		JWTManager: jwtManager,
		Metrics:    collector,
		Log:        log,
		Auth:       v1.NewAuthHandler(authSvc),
		Visits:     v1.NewVisitHandler(visitSvc, completionSvc),
		Alerts:     v1.NewAlertHandler(alertSvc),
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("http server listening", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("http server shutdown failed", zap.Error(err))
	}
	visitSvc.StopLockSweeper()
	auditSvc.Shutdown()

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info("shutdown complete")
}
