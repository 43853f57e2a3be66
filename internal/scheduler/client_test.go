package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
)

type testSchedulerConfig struct {
	redisURL string
}

func (c testSchedulerConfig) GetRedisURL() string       { return c.redisURL }
func (c testSchedulerConfig) GetRedisTLSInsecure() bool { return false }
func (c testSchedulerConfig) GetAsynqConcurrency() int  { return 1 }

func newTestClient(t *testing.T) (*Client, *asynq.Inspector) {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := testSchedulerConfig{redisURL: "redis://" + mr.Addr()}
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { _ = inspector.Close() })
	return client, inspector
}

func TestClientRequiresRedisURL(t *testing.T) {
	if _, err := NewClient(testSchedulerConfig{}); err == nil {
		t.Fatal("expected error for empty redis url")
	}
}

func TestEnqueueAnalysisLandsOnAIQueue(t *testing.T) {
	client, inspector := newTestClient(t)

	payload := AIAnalyzePayload{
		LeadID:         "lead-1",
		ConversationID: "conv-1",
		MessageID:      "msg-1",
		Trigger:        TriggerPhotoBurst,
		BurstSize:      3,
	}
	if err := client.EnqueueAnalysis(context.Background(), payload); err != nil {
		t.Fatalf("EnqueueAnalysis: %v", err)
	}

	tasks, err := inspector.ListPendingTasks(QueueAI)
	if err != nil {
		t.Fatalf("ListPendingTasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("pending ai tasks = %d, want 1", len(tasks))
	}
	if tasks[0].Type != TaskAIAnalyze {
		t.Fatalf("task type = %q", tasks[0].Type)
	}

	decoded, err := ParseAIAnalyzePayload(asynq.NewTask(tasks[0].Type, tasks[0].Payload))
	if err != nil {
		t.Fatalf("ParseAIAnalyzePayload: %v", err)
	}
	if decoded != payload {
		t.Fatalf("payload roundtrip: got %+v, want %+v", decoded, payload)
	}
}

func TestEnqueueSendWithDelayIsScheduled(t *testing.T) {
	client, inspector := newTestClient(t)

	payload := ChannelSendPayload{
		LeadID:        "lead-1",
		Channel:       "telegram",
		ChannelUserID: "42",
		Language:      "tr",
		Kind:          SendKindMessage,
		Content:       "part two",
		Part:          1,
		Parts:         2,
	}
	if err := client.EnqueueSend(context.Background(), payload, 5*time.Second); err != nil {
		t.Fatalf("EnqueueSend: %v", err)
	}

	scheduled, err := inspector.ListScheduledTasks(QueueSend)
	if err != nil {
		t.Fatalf("ListScheduledTasks: %v", err)
	}
	if len(scheduled) != 1 {
		t.Fatalf("scheduled send tasks = %d, want 1", len(scheduled))
	}
	if scheduled[0].Type != TaskChannelSend {
		t.Fatalf("task type = %q", scheduled[0].Type)
	}
}

func TestEnqueueSendWithoutDelayIsPending(t *testing.T) {
	client, inspector := newTestClient(t)

	payload := ChannelSendPayload{
		LeadID:        "lead-1",
		Channel:       "web",
		ChannelUserID: "sess-1",
		Kind:          SendKindConsentPrompt,
		LinkURL:       "https://clinic.test/consent",
	}
	if err := client.EnqueueSend(context.Background(), payload, 0); err != nil {
		t.Fatalf("EnqueueSend: %v", err)
	}

	pending, err := inspector.ListPendingTasks(QueueSend)
	if err != nil {
		t.Fatalf("ListPendingTasks: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending send tasks = %d, want 1", len(pending))
	}
}
