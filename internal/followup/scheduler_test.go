package followup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"clinic_funnel_backend/internal/ai"
	"clinic_funnel_backend/internal/leads/domain"
	"clinic_funnel_backend/internal/leads/repository"
	"clinic_funnel_backend/internal/leads/repository/repotest"
	platformevents "clinic_funnel_backend/platform/events"
	"clinic_funnel_backend/platform/logger"
)

type stubAnalyzer struct {
	mu       sync.Mutex
	calls    int
	decision ai.FollowupDecision
	block    chan struct{} // when set, AnalyzeFollowup blocks until closed
}

func (s *stubAnalyzer) AnalyzeFollowup(_ context.Context, _ ai.FollowupInput) (ai.FollowupDecision, error) {
	s.mu.Lock()
	s.calls++
	block := s.block
	s.mu.Unlock()
	if block != nil {
		<-block
	}
	return s.decision, nil
}

func (s *stubAnalyzer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordDeliverer struct {
	mu       sync.Mutex
	messages []string
	fail     bool
}

func (r *recordDeliverer) DeliverReply(_ context.Context, _ repository.Lead, _ uuid.UUID, reply string, _ *uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("channel rejected send")
	}
	r.messages = append(r.messages, reply)
	return nil
}

type testFunnelConfig struct{}

func (testFunnelConfig) GetPhotoDebounceWindow() time.Duration { return time.Second }
func (testFunnelConfig) GetFollowupIntervals() []time.Duration {
	return []time.Duration{24 * time.Hour, 72 * time.Hour, 168 * time.Hour}
}
func (testFunnelConfig) GetMaxFollowupAttempts() int { return 3 }
func (testFunnelConfig) GetSendWindowStartHour() int { return 9 }
func (testFunnelConfig) GetSendWindowEndHour() int   { return 21 }
func (testFunnelConfig) GetRequiredPhotoCount() int  { return 4 }

func newTestScheduler(decision ai.FollowupDecision) (*Scheduler, *repotest.MemStore, *stubAnalyzer, *recordDeliverer) {
	store := repotest.NewMemStore()
	analyzer := &stubAnalyzer{decision: decision}
	deliverer := &recordDeliverer{}
	log := logger.New("test")
	bus := platformevents.NewInMemoryBus(log)
	sched := New(store, analyzer, deliverer, bus, testFunnelConfig{}, log)
	// A Tuesday afternoon in Istanbul: comfortably inside the window.
	sched.now = func() time.Time {
		return time.Date(2024, 6, 11, 11, 0, 0, 0, time.UTC)
	}
	return sched, store, analyzer, deliverer
}

func seedDueFollowup(store *repotest.MemStore, status domain.Status, attempt int) (repository.Lead, repository.Followup) {
	lead := &repository.Lead{
		ID:             uuid.New(),
		Channel:        "telegram",
		ChannelUserID:  "42",
		Language:       "en",
		Country:        "TR",
		Status:         status,
		ConsentGranted: true,
		Tags:           []string{},
	}
	store.Leads[lead.ID] = lead
	conv := &repository.Conversation{ID: uuid.New(), LeadID: lead.ID, Channel: "telegram", IsActive: true}
	store.Conversations[conv.ID] = conv
	followup, _ := store.CreateFollowup(context.Background(), repository.CreateFollowupParams{
		LeadID:         lead.ID,
		ConversationID: conv.ID,
		Attempt:        attempt,
		ScheduledAt:    time.Date(2024, 6, 11, 10, 0, 0, 0, time.UTC),
	})
	return *lead, followup
}

func TestImmediateNudgeSendsAndSchedulesNext(t *testing.T) {
	sched, store, _, deliverer := newTestScheduler(ai.FollowupDecision{
		Strategy: ai.FollowupSendNow,
		Message:  "Still interested?",
	})
	lead, _ := seedDueFollowup(store, domain.StatusQualifying, 1)

	if err := sched.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if len(deliverer.messages) != 1 || deliverer.messages[0] != "Still interested?" {
		t.Fatalf("messages = %v", deliverer.messages)
	}
	counts := store.FollowupStatuses(lead.ID)
	if counts[repository.FollowupSent] != 1 || counts[repository.FollowupPending] != 1 {
		t.Fatalf("followups = %v", counts)
	}
	if got := store.Leads[lead.ID].Status; got != domain.StatusWaitingForUser {
		t.Fatalf("status = %s, want WAITING_FOR_USER", got)
	}
	for _, f := range store.Followups {
		if f.Status != repository.FollowupPending {
			continue
		}
		if f.Attempt != 2 {
			t.Fatalf("next attempt = %d, want 2", f.Attempt)
		}
		want := sched.now().Add(72 * time.Hour)
		if !f.ScheduledAt.Equal(want) {
			t.Fatalf("next scheduled at %v, want %v", f.ScheduledAt, want)
		}
	}
}

func TestEmptyAIMessageFallsBackToTemplate(t *testing.T) {
	sched, store, _, deliverer := newTestScheduler(ai.FollowupDecision{Strategy: ai.FollowupSendNow})
	seedDueFollowup(store, domain.StatusQualifying, 2)

	if err := sched.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(deliverer.messages) != 1 || deliverer.messages[0] != nudgeText("en", 2) {
		t.Fatalf("messages = %v", deliverer.messages)
	}
}

func TestFinalAttemptParksLeadDormant(t *testing.T) {
	sched, store, _, deliverer := newTestScheduler(ai.FollowupDecision{
		Strategy: ai.FollowupSendNow,
		Message:  "Last check-in from us.",
	})
	lead, _ := seedDueFollowup(store, domain.StatusWaitingForUser, 3)

	if err := sched.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if len(deliverer.messages) != 1 {
		t.Fatalf("messages = %v", deliverer.messages)
	}
	if got := store.Leads[lead.ID].Status; got != domain.StatusDormant {
		t.Fatalf("status = %s, want DORMANT", got)
	}
	if counts := store.FollowupStatuses(lead.ID); counts[repository.FollowupPending] != 0 {
		t.Fatalf("no further nudges expected, got %v", counts)
	}
}

type disabledAIConfig struct{}

func (disabledAIConfig) GetGeminiAPIKey() string     { return "" }
func (disabledAIConfig) GetGeminiModel() string      { return "gemini-2.0-flash" }
func (disabledAIConfig) GetAITimeout() time.Duration { return time.Second }
func (disabledAIConfig) IsAIEnabled() bool           { return false }

// With the model down, the final attempt must still go out as a goodbye
// before the lead is parked, not be silently abandoned.
func TestFinalAttemptWithModelDownSendsGoodbye(t *testing.T) {
	store := repotest.NewMemStore()
	log := logger.New("test")
	client, err := ai.NewClient(context.Background(), disabledAIConfig{}, log)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	deliverer := &recordDeliverer{}
	sched := New(store, client, deliverer, platformevents.NewInMemoryBus(log), testFunnelConfig{}, log)
	sched.now = func() time.Time {
		return time.Date(2024, 6, 11, 11, 0, 0, 0, time.UTC)
	}
	lead, _ := seedDueFollowup(store, domain.StatusWaitingForUser, 3)

	if err := sched.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if len(deliverer.messages) != 1 || deliverer.messages[0] == "" {
		t.Fatalf("messages = %v, want one goodbye", deliverer.messages)
	}
	counts := store.FollowupStatuses(lead.ID)
	if counts[repository.FollowupSent] != 1 || counts[repository.FollowupCancelled] != 0 {
		t.Fatalf("followups = %v, want the final nudge marked sent", counts)
	}
	if got := store.Leads[lead.ID].Status; got != domain.StatusDormant {
		t.Fatalf("status = %s, want DORMANT", got)
	}
}

func TestScheduledNextCarriesDecisionDetails(t *testing.T) {
	sched, store, _, _ := newTestScheduler(ai.FollowupDecision{
		Strategy:   ai.FollowupSendNow,
		Tone:       "gentle_urgency",
		Message:    "Shall we pick this back up?",
		Reasoning:  "lead was close to booking",
		Confidence: 0.8,
	})
	lead, _ := seedDueFollowup(store, domain.StatusQualifying, 1)

	if err := sched.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	var next *repository.Followup
	for _, f := range store.Followups {
		if f.LeadID == lead.ID && f.Status == repository.FollowupPending {
			next = f
		}
	}
	if next == nil {
		t.Fatal("no pending next followup")
	}
	if next.Tone == nil || *next.Tone != "gentle_urgency" {
		t.Fatalf("tone = %v", next.Tone)
	}
	if next.SuggestedMessage == nil || *next.SuggestedMessage != "Shall we pick this back up?" {
		t.Fatalf("suggested message = %v", next.SuggestedMessage)
	}
	if next.Reasoning == nil || *next.Reasoning != "lead was close to booking" {
		t.Fatalf("reasoning = %v", next.Reasoning)
	}
	if next.Confidence == nil || *next.Confidence != 0.8 {
		t.Fatalf("confidence = %v", next.Confidence)
	}
}

func TestSendUsesStoredSuggestionWhenModelReturnsNone(t *testing.T) {
	sched, store, _, deliverer := newTestScheduler(ai.FollowupDecision{Strategy: ai.FollowupSendNow})
	_, followup := seedDueFollowup(store, domain.StatusQualifying, 2)
	stored := "We kept your assessment open, want to continue?"
	store.Followups[followup.ID].SuggestedMessage = &stored

	if err := sched.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(deliverer.messages) != 1 || deliverer.messages[0] != stored {
		t.Fatalf("messages = %v, want the stored suggestion", deliverer.messages)
	}
}

func TestTerminalLeadCancelsWithoutAICall(t *testing.T) {
	sched, store, analyzer, deliverer := newTestScheduler(ai.FollowupDecision{Strategy: ai.FollowupSendNow})
	lead, _ := seedDueFollowup(store, domain.StatusConverted, 1)

	if err := sched.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if analyzer.callCount() != 0 {
		t.Fatalf("AI calls = %d, want 0", analyzer.callCount())
	}
	if len(deliverer.messages) != 0 {
		t.Fatalf("messages = %v", deliverer.messages)
	}
	if counts := store.FollowupStatuses(lead.ID); counts[repository.FollowupCancelled] != 1 {
		t.Fatalf("followups = %v", counts)
	}
}

func TestClosedWindowDefersInsteadOfSending(t *testing.T) {
	sched, store, _, deliverer := newTestScheduler(ai.FollowupDecision{
		Strategy: ai.FollowupSendNow,
		Message:  "Quick hello!",
	})
	lead, _ := seedDueFollowup(store, domain.StatusQualifying, 1)
	// 02:00 in Istanbul: well before the 09:00 window opens.
	sched.now = func() time.Time {
		return time.Date(2024, 6, 11, 23, 0, 0, 0, time.UTC)
	}

	if err := sched.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(deliverer.messages) != 0 {
		t.Fatalf("nothing should go out at night, got %v", deliverer.messages)
	}
	counts := store.FollowupStatuses(lead.ID)
	if counts[repository.FollowupCancelled] != 1 || counts[repository.FollowupPending] != 1 {
		t.Fatalf("followups = %v", counts)
	}
	// The rescheduled nudge keeps the same attempt number.
	for _, f := range store.Followups {
		if f.Status == repository.FollowupPending && f.Attempt != 1 {
			t.Fatalf("deferred attempt = %d, want 1", f.Attempt)
		}
	}
}

func TestGiveUpParksLeadDormant(t *testing.T) {
	sched, store, _, deliverer := newTestScheduler(ai.FollowupDecision{Strategy: ai.FollowupGiveUp})
	lead, _ := seedDueFollowup(store, domain.StatusQualifying, 2)

	if err := sched.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(deliverer.messages) != 0 {
		t.Fatalf("messages = %v", deliverer.messages)
	}
	if got := store.Leads[lead.ID].Status; got != domain.StatusDormant {
		t.Fatalf("status = %s, want DORMANT", got)
	}
	if counts := store.FollowupStatuses(lead.ID); counts[repository.FollowupCancelled] != 1 {
		t.Fatalf("followups = %v", counts)
	}
}

func TestEscalateCreatesHandoff(t *testing.T) {
	sched, store, _, _ := newTestScheduler(ai.FollowupDecision{
		Strategy:  ai.FollowupEscalate,
		Reasoning: "lead asked for a phone call twice",
	})
	lead, _ := seedDueFollowup(store, domain.StatusQualifying, 1)

	if err := sched.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(store.Handoffs) != 1 || store.Handoffs[0].Reason != "followup_escalation" {
		t.Fatalf("handoffs = %+v", store.Handoffs)
	}
	if got := store.Leads[lead.ID].Status; got != domain.StatusHandoffHuman {
		t.Fatalf("status = %s, want HANDOFF_HUMAN", got)
	}
}

func TestSendFailureMarksFailedAndStops(t *testing.T) {
	sched, store, _, deliverer := newTestScheduler(ai.FollowupDecision{
		Strategy: ai.FollowupSendNow,
		Message:  "Hello?",
	})
	deliverer.fail = true
	lead, _ := seedDueFollowup(store, domain.StatusQualifying, 1)

	_ = sched.Sweep(context.Background())

	counts := store.FollowupStatuses(lead.ID)
	if counts[repository.FollowupFailed] != 1 {
		t.Fatalf("followups = %v", counts)
	}
	if counts[repository.FollowupPending] != 0 {
		t.Fatalf("a failed send must not schedule a next attempt, got %v", counts)
	}
	if got := store.Leads[lead.ID].Status; got != domain.StatusQualifying {
		t.Fatalf("status = %s, want unchanged QUALIFYING", got)
	}
}

func TestConcurrentSweepsRunSingleFlight(t *testing.T) {
	sched, store, analyzer, _ := newTestScheduler(ai.FollowupDecision{Strategy: ai.FollowupGiveUp})
	seedDueFollowup(store, domain.StatusQualifying, 1)

	block := make(chan struct{})
	analyzer.block = block

	done := make(chan struct{})
	go func() {
		_ = sched.Sweep(context.Background())
		close(done)
	}()

	// Wait for the first sweep to reach the blocking AI call.
	deadline := time.After(2 * time.Second)
	for analyzer.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("first sweep never reached the analyzer")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	// The overlapping sweep must bail out immediately.
	if err := sched.Sweep(context.Background()); err != nil {
		t.Fatalf("overlapping Sweep: %v", err)
	}
	if got := analyzer.callCount(); got != 1 {
		t.Fatalf("AI calls = %d, want 1", got)
	}

	close(block)
	<-done
}
