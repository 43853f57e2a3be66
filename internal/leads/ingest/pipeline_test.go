package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"clinic_funnel_backend/internal/channels"
	"clinic_funnel_backend/internal/events"
	"clinic_funnel_backend/internal/leads/debounce"
	"clinic_funnel_backend/internal/leads/domain"
	"clinic_funnel_backend/internal/leads/repository"
	"clinic_funnel_backend/internal/leads/repository/repotest"
	"clinic_funnel_backend/internal/scheduler"
	"clinic_funnel_backend/internal/storage"
	"clinic_funnel_backend/internal/vision"
	"clinic_funnel_backend/platform/logger"
)

type fakeEnqueuer struct {
	mu       sync.Mutex
	analyses []scheduler.AIAnalyzePayload
	sends    []scheduler.ChannelSendPayload
}

func (f *fakeEnqueuer) EnqueueAnalysis(_ context.Context, payload scheduler.AIAnalyzePayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyses = append(f.analyses, payload)
	return nil
}

func (f *fakeEnqueuer) EnqueueSend(_ context.Context, payload scheduler.ChannelSendPayload, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, payload)
	return nil
}

func (f *fakeEnqueuer) analysisCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.analyses)
}

func (f *fakeEnqueuer) sendKinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	kinds := make([]string, 0, len(f.sends))
	for _, s := range f.sends {
		kinds = append(kinds, s.Kind)
	}
	return kinds
}

type fakeAdapter struct {
	name  string
	media []byte
}

func (a *fakeAdapter) Name() string { return a.name }
func (a *fakeAdapter) SendMessage(context.Context, string, string, *channels.Media) error {
	return nil
}
func (a *fakeAdapter) SendConsentPrompt(context.Context, string, string, string) error { return nil }
func (a *fakeAdapter) SendFlowSelectionPrompt(context.Context, string, string, string) error {
	return nil
}
func (a *fakeAdapter) DownloadMedia(context.Context, string) ([]byte, string, error) {
	return a.media, "image/jpeg", nil
}

type fakePhotoStore struct {
	mu   sync.Mutex
	keys []string
}

func (s *fakePhotoStore) StorePhoto(_ context.Context, leadID uuid.UUID, _ []byte, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := leadID.String() + "/photo"
	s.keys = append(s.keys, key)
	return key, nil
}

func (s *fakePhotoStore) PhotoURL(_ context.Context, key string) (string, error) {
	return "https://photos.test/" + key, nil
}

var _ storage.PhotoStore = (*fakePhotoStore)(nil)

type testFunnelConfig struct{}

func (testFunnelConfig) GetPhotoDebounceWindow() time.Duration { return 30 * time.Millisecond }
func (testFunnelConfig) GetFollowupIntervals() []time.Duration {
	return []time.Duration{24 * time.Hour, 72 * time.Hour, 168 * time.Hour}
}
func (testFunnelConfig) GetMaxFollowupAttempts() int { return 3 }
func (testFunnelConfig) GetSendWindowStartHour() int { return 9 }
func (testFunnelConfig) GetSendWindowEndHour() int   { return 21 }
func (testFunnelConfig) GetRequiredPhotoCount() int  { return 4 }

type testChannelConfig struct{}

func (testChannelConfig) GetTelegramBotToken() string   { return "" }
func (testChannelConfig) GetWhatsAppURL() string        { return "" }
func (testChannelConfig) GetWhatsAppKey() string        { return "" }
func (testChannelConfig) GetWebChannelURL() string      { return "" }
func (testChannelConfig) GetWebChannelKey() string      { return "" }
func (testChannelConfig) GetConsentLinkURL() string     { return "https://clinic.test/consent" }
func (testChannelConfig) GetFlowFormURL() string        { return "https://clinic.test/form" }
func (testChannelConfig) GetSendRatePerSecond() float64 { return 5 }

type testVisionConfig struct{}

func (testVisionConfig) GetVisionURL() string    { return "" }
func (testVisionConfig) GetVisionAPIKey() string { return "" }
func (testVisionConfig) IsVisionEnabled() bool   { return false }

func newTestPipeline(t *testing.T) (*Pipeline, *repotest.MemStore, *fakeEnqueuer, *debounce.Registry) {
	t.Helper()
	log := logger.New("test")
	store := repotest.NewMemStore()
	enqueuer := &fakeEnqueuer{}

	registry := channels.NewRegistry()
	registry.Register(&fakeAdapter{name: channels.ChannelTelegram, media: []byte("jpeg-bytes")})

	debounceReg := debounce.NewRegistry(30*time.Millisecond, func(leadID, conversationID, lastMessageID uuid.UUID, count int) {
		_ = enqueuer.EnqueueAnalysis(context.Background(), scheduler.AIAnalyzePayload{
			LeadID:         leadID.String(),
			ConversationID: conversationID.String(),
			MessageID:      lastMessageID.String(),
			Trigger:        scheduler.TriggerPhotoBurst,
			BurstSize:      count,
		})
	}, log)
	t.Cleanup(debounceReg.Stop)

	pipeline := NewPipeline(
		store,
		registry,
		vision.NewClient(testVisionConfig{}, log),
		&fakePhotoStore{},
		enqueuer,
		debounceReg,
		events.NewInMemoryBus(log),
		testFunnelConfig{},
		testChannelConfig{},
		log,
	)
	return pipeline, store, enqueuer, debounceReg
}

func inbound(userID, messageID, content string) InboundMessage {
	return InboundMessage{
		Channel:          channels.ChannelTelegram,
		ChannelUserID:    userID,
		ChannelMessageID: messageID,
		Content:          content,
		Language:         "en",
	}
}

// consentedLead drives a fresh lead through the consent gate so later steps
// can be tested in isolation.
func consentedLead(t *testing.T, p *Pipeline, userID string) {
	t.Helper()
	ctx := context.Background()
	if err := p.Process(ctx, inbound(userID, userID+"-hello", "hello")); err != nil {
		t.Fatalf("first message: %v", err)
	}
	if err := p.Process(ctx, inbound(userID, userID+"-yes", "yes")); err != nil {
		t.Fatalf("consent message: %v", err)
	}
}

func TestDuplicateChannelMessageIsNoOp(t *testing.T) {
	p, store, _, _ := newTestPipeline(t)
	ctx := context.Background()

	msg := inbound("user-1", "msg-1", "hello")
	if err := p.Process(ctx, msg); err != nil {
		t.Fatalf("first process: %v", err)
	}
	if err := p.Process(ctx, msg); err != nil {
		t.Fatalf("duplicate process: %v", err)
	}

	if got := len(store.Messages); got != 1 {
		t.Errorf("expected exactly 1 persisted message, got %d", got)
	}
}

func TestNewLeadIsParkedBehindConsentGate(t *testing.T) {
	p, store, enqueuer, _ := newTestPipeline(t)
	ctx := context.Background()

	if err := p.Process(ctx, inbound("user-2", "msg-2", "hi, I want a hair transplant")); err != nil {
		t.Fatalf("process: %v", err)
	}

	lead, err := store.GetLeadByChannelUser(ctx, channels.ChannelTelegram, "user-2")
	if err != nil {
		t.Fatalf("lead not created: %v", err)
	}
	if lead.Status != domain.StatusWaitingConsent {
		t.Errorf("expected WAITING_CONSENT, got %s", lead.Status)
	}
	if enqueuer.analysisCount() != 0 {
		t.Error("no AI dispatch may happen before consent")
	}
	kinds := enqueuer.sendKinds()
	if len(kinds) != 1 || kinds[0] != scheduler.SendKindConsentPrompt {
		t.Errorf("expected exactly one consent prompt, got %v", kinds)
	}
}

func TestAffirmativeConsentMovesToQualifyingOnce(t *testing.T) {
	p, store, enqueuer, _ := newTestPipeline(t)
	ctx := context.Background()

	if err := p.Process(ctx, inbound("user-3", "m-1", "merhaba")); err != nil {
		t.Fatal(err)
	}
	if err := p.Process(ctx, inbound("user-3", "m-2", "evet")); err != nil {
		t.Fatal(err)
	}

	lead, _ := store.GetLeadByChannelUser(ctx, channels.ChannelTelegram, "user-3")
	if lead.Status != domain.StatusQualifying {
		t.Fatalf("expected QUALIFYING after consent, got %s", lead.Status)
	}
	if !lead.ConsentGranted {
		t.Error("consent should be recorded")
	}
	if lead.AgentName == nil {
		t.Fatal("persona should be assigned on consent")
	}
	firstPersona := *lead.AgentName

	// A repeated affirmation must not reshuffle the persona.
	if err := p.Process(ctx, inbound("user-3", "m-3", "evet evet")); err != nil {
		t.Fatal(err)
	}
	lead, _ = store.GetLeadByChannelUser(ctx, channels.ChannelTelegram, "user-3")
	if *lead.AgentName != firstPersona {
		t.Errorf("persona changed from %s to %s", firstPersona, *lead.AgentName)
	}
	if store.AgentNameWrites[lead.ID] != 1 {
		t.Errorf("persona must be written exactly once, got %d writes", store.AgentNameWrites[lead.ID])
	}
	if enqueuer.analysisCount() == 0 {
		t.Error("consented messages should reach AI dispatch")
	}
}

func TestUnrecognizedReplySendsConsentReminder(t *testing.T) {
	p, store, enqueuer, _ := newTestPipeline(t)
	ctx := context.Background()

	if err := p.Process(ctx, inbound("user-4", "m-1", "hello")); err != nil {
		t.Fatal(err)
	}
	if err := p.Process(ctx, inbound("user-4", "m-2", "what is this about?")); err != nil {
		t.Fatal(err)
	}

	lead, _ := store.GetLeadByChannelUser(ctx, channels.ChannelTelegram, "user-4")
	if lead.Status != domain.StatusWaitingConsent {
		t.Errorf("lead should stay in WAITING_CONSENT, got %s", lead.Status)
	}
	kinds := enqueuer.sendKinds()
	if len(kinds) != 2 {
		t.Fatalf("expected initial prompt plus reminder, got %v", kinds)
	}
	if enqueuer.analysisCount() != 0 {
		t.Error("no AI dispatch without consent")
	}
}

func TestNegativeConsentClosesLead(t *testing.T) {
	p, store, _, _ := newTestPipeline(t)
	ctx := context.Background()

	if err := p.Process(ctx, inbound("user-5", "m-1", "hi")); err != nil {
		t.Fatal(err)
	}
	if err := p.Process(ctx, inbound("user-5", "m-2", "no, I refuse")); err != nil {
		t.Fatal(err)
	}

	lead, _ := store.GetLeadByChannelUser(ctx, channels.ChannelTelegram, "user-5")
	if lead.Status != domain.StatusClosed {
		t.Errorf("expected CLOSED after declined consent, got %s", lead.Status)
	}
	if lead.ConsentGranted {
		t.Error("consent must not be recorded as granted")
	}
}

func TestInboundMessageCancelsPendingFollowups(t *testing.T) {
	p, store, _, _ := newTestPipeline(t)
	ctx := context.Background()

	consentedLead(t, p, "user-6")
	lead, _ := store.GetLeadByChannelUser(ctx, channels.ChannelTelegram, "user-6")
	conv, _ := store.GetActiveConversation(ctx, lead.ID)

	for i := 1; i <= 2; i++ {
		if _, err := store.CreateFollowup(ctx, repository.CreateFollowupParams{
			LeadID:         lead.ID,
			ConversationID: conv.ID,
			Attempt:        i,
			ScheduledAt:    time.Now().Add(time.Hour),
		}); err != nil {
			t.Fatal(err)
		}
	}

	if err := p.Process(ctx, inbound("user-6", "m-reply", "I am back")); err != nil {
		t.Fatal(err)
	}

	statuses := store.FollowupStatuses(lead.ID)
	if statuses[repository.FollowupPending] != 0 {
		t.Errorf("pending follow-ups must be cancelled, got %v", statuses)
	}
	if statuses[repository.FollowupCancelled] != 2 {
		t.Errorf("expected 2 cancelled follow-ups, got %v", statuses)
	}
}

func TestPhotoBurstProducesOneAnalysis(t *testing.T) {
	p, store, enqueuer, _ := newTestPipeline(t)
	ctx := context.Background()

	consentedLead(t, p, "user-7")
	baseline := enqueuer.analysisCount()

	for i := 0; i < 3; i++ {
		msg := inbound("user-7", uuid.NewString(), "")
		msg.MediaID = uuid.NewString()
		msg.MediaContentType = "image/jpeg"
		if err := p.Process(ctx, msg); err != nil {
			t.Fatal(err)
		}
	}

	deadline := time.Now().Add(time.Second)
	for enqueuer.analysisCount() == baseline && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	enqueuer.mu.Lock()
	burst := enqueuer.analyses[len(enqueuer.analyses)-1]
	total := len(enqueuer.analyses)
	enqueuer.mu.Unlock()

	if total != baseline+1 {
		t.Fatalf("expected exactly 1 burst analysis, got %d extra", total-baseline)
	}
	if burst.Trigger != scheduler.TriggerPhotoBurst {
		t.Errorf("expected photo_burst trigger, got %s", burst.Trigger)
	}
	if burst.BurstSize != 3 {
		t.Errorf("expected burst size 3, got %d", burst.BurstSize)
	}

	lead, _ := store.GetLeadByChannelUser(ctx, channels.ChannelTelegram, "user-7")
	msgs := store.MessagesFor(lead.ID)
	last := msgs[len(msgs)-1]
	if burst.MessageID != last.ID.String() {
		t.Errorf("burst should reference the last message id")
	}
	if len(store.Photos) != 3 {
		t.Errorf("expected 3 stored photos, got %d", len(store.Photos))
	}
}

func TestStaleConversationIsSuperseded(t *testing.T) {
	p, store, _, _ := newTestPipeline(t)
	ctx := context.Background()

	consentedLead(t, p, "user-9")
	lead, _ := store.GetLeadByChannelUser(ctx, channels.ChannelTelegram, "user-9")
	old, _ := store.GetActiveConversation(ctx, lead.ID)
	store.Conversations[old.ID].UpdatedAt = time.Now().UTC().Add(-40 * 24 * time.Hour)

	if err := p.Process(ctx, inbound("user-9", "m-later", "hello again after a while")); err != nil {
		t.Fatal(err)
	}

	if closed := store.Conversations[old.ID]; closed.IsActive || closed.StateLabel != "closed" {
		t.Errorf("stale conversation should be closed, got active=%v label=%s", closed.IsActive, closed.StateLabel)
	}
	fresh, err := store.GetActiveConversation(ctx, lead.ID)
	if err != nil {
		t.Fatalf("no fresh conversation: %v", err)
	}
	if fresh.ID == old.ID {
		t.Fatal("expected a new conversation to supersede the stale one")
	}
	msgs := store.MessagesFor(lead.ID)
	if last := msgs[len(msgs)-1]; last.ConversationID != fresh.ID {
		t.Errorf("new message should land in the fresh conversation")
	}
}

func TestLanguagePropagatesBeforeConsentCopy(t *testing.T) {
	p, store, _, _ := newTestPipeline(t)
	ctx := context.Background()

	msg := inbound("user-8", "m-1", "merhaba")
	msg.Language = "tr"
	if err := p.Process(ctx, msg); err != nil {
		t.Fatal(err)
	}

	lead, _ := store.GetLeadByChannelUser(ctx, channels.ChannelTelegram, "user-8")
	if lead.Language != "tr" {
		t.Errorf("expected language tr, got %s", lead.Language)
	}
}

func TestConsentKeywordTables(t *testing.T) {
	cases := []struct {
		language string
		content  string
		want     ConsentDecision
	}{
		{"en", "yes", ConsentAffirmative},
		{"en", "Yes please!", ConsentAffirmative},
		{"en", "I agree to the terms", ConsentAffirmative},
		{"tr", "evet", ConsentAffirmative},
		{"tr", "kabul ediyorum", ConsentAffirmative},
		{"tr", "kabul etmiyorum", ConsentNegative},
		{"de", "ja", ConsentAffirmative},
		{"de", "nein", ConsentNegative},
		{"en", "no", ConsentNegative},
		{"en", "maybe later", ConsentNone},
		{"en", "canyon", ConsentNone},
		{"xx", "yes", ConsentAffirmative}, // unknown locale falls back to English
	}

	for _, tc := range cases {
		if got := MatchConsent(tc.language, tc.content); got != tc.want {
			t.Errorf("MatchConsent(%q, %q) = %v, want %v", tc.language, tc.content, got, tc.want)
		}
	}
}
