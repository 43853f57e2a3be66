package scheduler

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"clinic_funnel_backend/platform/config"
)

// Queue names. AI analysis outranks sends so a backlog of delayed message
// parts never starves a waiting patient of a reply decision.
const (
	QueueAI      = "ai"
	QueueSend    = "send"
	QueueDefault = "default"
)

// Enqueuer is the queue surface the orchestration core depends on.
type Enqueuer interface {
	EnqueueAnalysis(ctx context.Context, payload AIAnalyzePayload) error
	EnqueueSend(ctx context.Context, payload ChannelSendPayload, delay time.Duration) error
}

type Client struct {
	client *asynq.Client
}

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	return &Client{client: asynq.NewClient(opt)}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// EnqueueAnalysis queues one AI analysis run for a lead's conversation.
func (c *Client) EnqueueAnalysis(ctx context.Context, payload AIAnalyzePayload) error {
	if c == nil || c.client == nil {
		return nil
	}

	task, err := NewAIAnalyzeTask(payload)
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueAI),
		asynq.MaxRetry(3),
		asynq.Timeout(2*time.Minute),
	)
	return err
}

// EnqueueSend queues one outbound message part, delayed so the reply reads
// like a human typed it.
func (c *Client) EnqueueSend(ctx context.Context, payload ChannelSendPayload, delay time.Duration) error {
	if c == nil || c.client == nil {
		return nil
	}

	task, err := NewChannelSendTask(payload)
	if err != nil {
		return err
	}

	opts := []asynq.Option{
		asynq.Queue(QueueSend),
		asynq.MaxRetry(5),
		asynq.Timeout(30 * time.Second),
	}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}

	_, err = c.client.EnqueueContext(ctx, task, opts...)
	return err
}

func redisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		tlsConfig = clone
	} else if tlsInsecure {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}
