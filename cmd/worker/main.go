package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"clinic_funnel_backend/internal/ai"
	"clinic_funnel_backend/internal/channels"
	"clinic_funnel_backend/internal/leads/apply"
	"clinic_funnel_backend/internal/leads/delivery"
	"clinic_funnel_backend/internal/leads/repository"
	"clinic_funnel_backend/internal/scheduler"
	"clinic_funnel_backend/platform/config"
	"clinic_funnel_backend/platform/db"
	"clinic_funnel_backend/platform/events"
	"clinic_funnel_backend/platform/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting worker", "env", cfg.Env)

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

	repo := repository.New(pool)
	eventBus := events.NewInMemoryBus(log)
	registry := registerChannels(cfg, log)

	aiClient, err := ai.NewClient(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize ai client", "error", err)
		panic("failed to initialize ai client: " + err.Error())
	}

	queue, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize queue client", "error", err)
		panic("failed to initialize queue client: " + err.Error())
	}
	defer func() { _ = queue.Close() }()

	deliverer := delivery.NewScheduler(repo, queue, log)
	applier := apply.New(repo, aiClient, deliverer, eventBus, cfg, cfg, log)

	worker, err := scheduler.NewWorker(cfg, cfg, applier, registry, log)
	if err != nil {
		log.Error("failed to initialize worker", "error", err)
		panic("failed to initialize worker: " + err.Error())
	}

	worker.Run(ctx)
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
