package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"

	_ "github.com/channelworks/partner-sync-api/api/swagger"
	"github.com/channelworks/partner-sync-api/internal/handler"
	"github.com/channelworks/partner-sync-api/internal/remote"
	"github.com/channelworks/partner-sync-api/internal/repository"
	"github.com/channelworks/partner-sync-api/internal/service"
	"github.com/channelworks/partner-sync-api/pkg/cache"
	"github.com/channelworks/partner-sync-api/pkg/config"
	"github.com/channelworks/partner-sync-api/pkg/database"
	"github.com/channelworks/partner-sync-api/pkg/jobs"
	"github.com/channelworks/partner-sync-api/pkg/logger"
)

// @title Partner Sync API
// @version 1.0.0
// @description Reconciliation engine between the PRM, the LMS, and the local database
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	metricsSvc := service.NewMetricsService()

	prmHealth := remote.NewHealthMonitor(cfg.Sync.BreakerThreshold)
	lmsHealth := remote.NewHealthMonitor(cfg.Sync.BreakerThreshold)
	prmClient := remote.NewPRMClient(cfg.PRM, prmHealth, metricsSvc.RecordRemoteCall, logr)
	lmsClient := remote.NewLMSClient(cfg.LMS, lmsHealth, metricsSvc.RecordRemoteCall, logr)

	partnerRepo := repository.NewPartnerRepository(db)
	contactRepo := repository.NewContactRepository(db)
	lmsUserRepo := repository.NewLmsUserRepository(db)
	lmsGroupRepo := repository.NewLmsGroupRepository(db)
	membershipRepo := repository.NewMembershipRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	syncRunRepo := repository.NewSyncRunRepository(db)
	lockRepo := repository.NewLockRepository(redisClient)

	progress := service.NewProgressBroadcaster()
	filter := service.NewEligibilityFilter(cfg.Sync)
	partnerMatcher := service.NewPartnerMatcher(partnerRepo)
	contactMatcher := service.NewContactMatcher(contactRepo)

	offboardingSvc := service.NewOffboardingService(contactRepo, lmsGroupRepo, membershipRepo, lmsClient, metricsSvc, logr)
	partnerSyncSvc := service.NewPartnerSyncService(prmClient, partnerRepo, syncRunRepo, partnerMatcher, filter, offboardingSvc, metricsSvc, progress, logr)
	contactSyncSvc := service.NewContactSyncService(prmClient, contactRepo, partnerRepo, lmsUserRepo, syncRunRepo, contactMatcher, filter, offboardingSvc, metricsSvc, progress, logr)
	lmsSyncSvc := service.NewLmsSyncService(lmsClient, lmsUserRepo, lmsGroupRepo, membershipRepo, partnerRepo, syncRunRepo, cfg.Sync, metricsSvc, progress, logr)
	enrollmentSyncSvc := service.NewEnrollmentSyncService(lmsClient, lmsUserRepo, enrollmentRepo, courseRepo, syncRunRepo, cfg.Sync, metricsSvc, progress, logr)
	syncSvc := service.NewSyncService(partnerSyncSvc, contactSyncSvc, lmsSyncSvc, enrollmentSyncSvc, syncRunRepo, partnerRepo, lockRepo, prmHealth, lmsHealth, cfg.Sync, metricsSvc, logr)

	queue := jobs.NewQueue("sync", func(ctx context.Context, job jobs.Job) error {
		payload, ok := job.Payload.(handler.SyncPayload)
		if !ok {
			return fmt.Errorf("unexpected payload type for job %s", job.ID)
		}
		_, err := syncSvc.Run(ctx, payload.Types, payload.Mode)
		return err
	}, jobs.QueueConfig{Workers: 1, BufferSize: 8, Logger: logr})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queue.Start(ctx)

	var scheduler *service.SchedulerService
	if cfg.Scheduler.Enabled {
		scheduler = service.NewSchedulerService(syncSvc, cfg.Scheduler, logr)
		if err := scheduler.Start(ctx); err != nil {
			logr.Sugar().Fatalw("failed to start scheduler", "error", err)
		}
	}

	validate := validator.New()
	syncHandler := handler.NewSyncHandler(syncSvc, queue, validate)
	offboardingHandler := handler.NewOffboardingHandler(offboardingSvc, validate)

	router := handler.NewRouter(handler.RouterDeps{
		Config:      cfg,
		Logger:      logr,
		Metrics:     metricsSvc,
		Sync:        syncHandler,
		Offboarding: offboardingHandler,
		Ready: func() error {
			if err := db.Ping(); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			if err := redisClient.Ping(context.Background()).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			return nil
		},
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("server shutdown failed", "error", err)
	}
	if scheduler != nil {
		scheduler.Stop()
	}
	queue.Stop()
	logr.Sugar().Infow("stopped")
}
