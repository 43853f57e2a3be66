package scheduler

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"golang.org/x/time/rate"

	"clinic_funnel_backend/internal/channels"
	"clinic_funnel_backend/platform/config"
	"clinic_funnel_backend/platform/logger"
)

// AnalysisHandler consumes AI analysis tasks. The applier implements it.
type AnalysisHandler interface {
	HandleAnalysis(ctx context.Context, payload AIAnalyzePayload) error
}

// Worker consumes the funnel queues. Sends share one rate limiter across
// channels so a burst of delayed parts never trips provider limits.
type Worker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	analysis AnalysisHandler
	registry *channels.Registry
	limiter  *rate.Limiter
	log      *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, channelCfg config.ChannelConfig, analysis AnalysisHandler, registry *channels.Registry, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	sendRate := channelCfg.GetSendRatePerSecond()
	if sendRate <= 0 {
		sendRate = 5
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueAI:      6,
			QueueSend:    3,
			QueueDefault: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:   server,
		mux:      mux,
		analysis: analysis,
		registry: registry,
		limiter:  rate.NewLimiter(rate.Limit(sendRate), 1),
		log:      log,
	}

	mux.HandleFunc(TaskAIAnalyze, w.handleAIAnalyze)
	mux.HandleFunc(TaskChannelSend, w.handleChannelSend)

	return w, nil
}

func (w *Worker) handleAIAnalyze(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseAIAnalyzePayload(task)
	if err != nil {
		return err
	}
	return w.analysis.HandleAnalysis(ctx, payload)
}

func (w *Worker) handleChannelSend(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseChannelSendPayload(task)
	if err != nil {
		return err
	}

	adapter, err := w.registry.Get(payload.Channel)
	if err != nil {
		// No adapter means misconfiguration, not a transient failure.
		w.log.ChannelSendFailed(payload.Channel, payload.ChannelUserID, err)
		return fmt.Errorf("%w: %w", asynq.SkipRetry, err)
	}

	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}

	switch payload.Kind {
	case SendKindConsentPrompt:
		err = adapter.SendConsentPrompt(ctx, payload.ChannelUserID, payload.Language, payload.LinkURL)
	case SendKindFlowPrompt:
		err = adapter.SendFlowSelectionPrompt(ctx, payload.ChannelUserID, payload.Language, payload.LinkURL)
	default:
		err = adapter.SendMessage(ctx, payload.ChannelUserID, payload.Content, nil)
	}
	if err != nil {
		w.log.ChannelSendFailed(payload.Channel, payload.ChannelUserID, err)
		return err
	}

	return nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}
