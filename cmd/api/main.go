package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"clinic_funnel_backend/internal/channels"
	"clinic_funnel_backend/internal/leads/debounce"
	"clinic_funnel_backend/internal/leads/ingest"
	"clinic_funnel_backend/internal/leads/repository"
	"clinic_funnel_backend/internal/scheduler"
	"clinic_funnel_backend/internal/storage"
	"clinic_funnel_backend/internal/vision"
	"clinic_funnel_backend/internal/webhook"
	"clinic_funnel_backend/platform/config"
	"clinic_funnel_backend/platform/db"
	"clinic_funnel_backend/platform/events"
	"clinic_funnel_backend/platform/logger"
	"clinic_funnel_backend/platform/validator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting api", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, cfg, getEnvStr("MIGRATIONS_DIR", "migrations")); err != nil {
		log.Error("failed to run migrations", "error", err)
		panic("failed to run migrations: " + err.Error())
	}

	repo := repository.New(pool)
	eventBus := events.NewInMemoryBus(log)
	registry := registerChannels(cfg, log)
	visionClient := vision.NewClient(cfg, log)

	if !cfg.IsMinIOEnabled() {
		panic("MINIO_ENDPOINT is required: lead photos cannot be stored without object storage")
	}
	photos, err := storage.NewMinIOStore(cfg)
	if err != nil {
		log.Error("failed to initialize photo storage", "error", err)
		panic("failed to initialize photo storage: " + err.Error())
	}
	if err := withRetry(ctx, log, "ensure lead photo bucket", 5, 2*time.Second, func() error {
		return photos.EnsureBucket(ctx)
	}); err != nil {
		log.Error("failed to ensure photo bucket", "error", err)
		panic("failed to ensure photo bucket: " + err.Error())
	}

	queue, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize queue client", "error", err)
		panic("failed to initialize queue client: " + err.Error())
	}
	defer func() { _ = queue.Close() }()

	debounceReg := debounce.NewRegistry(cfg.GetPhotoDebounceWindow(), func(leadID, conversationID, lastMessageID uuid.UUID, count int) {
		payload := scheduler.AIAnalyzePayload{
			LeadID:         leadID.String(),
			ConversationID: conversationID.String(),
			MessageID:      lastMessageID.String(),
			Trigger:        scheduler.TriggerPhotoBurst,
			BurstSize:      count,
		}
		if err := queue.EnqueueAnalysis(context.WithoutCancel(ctx), payload); err != nil {
			log.Error("failed to enqueue photo burst analysis", "leadId", leadID, "error", err)
		}
	}, log)
	defer debounceReg.Stop()

	pipeline := ingest.NewPipeline(repo, registry, visionClient, photos, queue, debounceReg, eventBus, cfg, cfg, log)
	handler := webhook.NewHandler(pipeline, validator.New())
	engine := webhook.NewRouter(handler, cfg, cfg, log)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: engine}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("webhook ingress listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		panic("server error: " + err.Error())
	}
}

func registerChannels(cfg *config.Config, log *logger.Logger) *channels.Registry {
	registry := channels.NewRegistry()
	if cfg.GetTelegramBotToken() != "" {
		registry.Register(channels.NewTelegramAdapter(cfg, log))
	}
	if cfg.GetWhatsAppURL() != "" {
		registry.Register(channels.NewWhatsAppAdapter(cfg, log))
	}
	if cfg.GetWebChannelURL() != "" {
		registry.Register(channels.NewWebAdapter(cfg, log))
	}
	return registry
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}

func getEnvStr(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}
