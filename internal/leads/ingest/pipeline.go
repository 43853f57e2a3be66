// Package ingest turns a normalized inbound channel message into persisted
// funnel state and an AI dispatch. The pipeline is the single entry point
// for everything a patient sends us, across all channels.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"

	"clinic_funnel_backend/internal/channels"
	"clinic_funnel_backend/internal/events"
	"clinic_funnel_backend/internal/leads/debounce"
	"clinic_funnel_backend/internal/leads/domain"
	"clinic_funnel_backend/internal/leads/repository"
	"clinic_funnel_backend/internal/scheduler"
	"clinic_funnel_backend/internal/storage"
	"clinic_funnel_backend/internal/vision"
	"clinic_funnel_backend/platform/config"
	"clinic_funnel_backend/platform/logger"
	"clinic_funnel_backend/platform/phone"
)

// agentPersonas are the coordinator names a lead may be assigned. The pick
// is stable per lead and written exactly once.
var agentPersonas = []string{"Elif", "Selin", "Deniz", "Meryem", "Zeynep"}

// InboundMessage is the channel-normalized input to the pipeline.
type InboundMessage struct {
	Channel          string
	ChannelUserID    string
	ChannelMessageID string
	Content          string
	MediaID          string
	MediaContentType string
	Language         string
	Country          string
	SenderName       string
	SenderPhone      string
}

// HasMedia reports whether the message carries a downloadable image.
func (m InboundMessage) HasMedia() bool {
	return m.MediaID != ""
}

type Pipeline struct {
	store    repository.Store
	registry *channels.Registry
	vision   *vision.Client
	photos   storage.PhotoStore
	enqueue  scheduler.Enqueuer
	debounce *debounce.Registry
	bus      events.Bus
	cfg      config.FunnelConfig
	channel  config.ChannelConfig
	log      *logger.Logger
}

func NewPipeline(
	store repository.Store,
	registry *channels.Registry,
	visionClient *vision.Client,
	photos storage.PhotoStore,
	enqueue scheduler.Enqueuer,
	debounceRegistry *debounce.Registry,
	bus events.Bus,
	cfg config.FunnelConfig,
	channelCfg config.ChannelConfig,
	log *logger.Logger,
) *Pipeline {
	return &Pipeline{
		store:    store,
		registry: registry,
		vision:   visionClient,
		photos:   photos,
		enqueue:  enqueue,
		debounce: debounceRegistry,
		bus:      bus,
		cfg:      cfg,
		channel:  channelCfg,
		log:      log,
	}
}

// Process runs the full ingestion sequence for one inbound message.
// A duplicate channel message id is a success no-op, never an error.
func (p *Pipeline) Process(ctx context.Context, msg InboundMessage) error {
	log := p.log.WithContext(ctx)

	// 1. Idempotency gate.
	if msg.ChannelMessageID != "" {
		_, err := p.store.GetMessageByChannelMessageID(ctx, msg.Channel, msg.ChannelMessageID)
		if err == nil {
			log.Debug("duplicate channel message, skipping", "channel", msg.Channel, "channelMessageId", msg.ChannelMessageID)
			return nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("idempotency lookup: %w", err)
		}
	}

	// 2. Lead resolution. A reply from an existing lead overrides any
	// scheduled nudge, so pending follow-ups are cancelled before anything
	// else happens.
	lead, created, err := p.resolveLead(ctx, msg)
	if err != nil {
		return err
	}
	if !created {
		if cancelled, err := p.store.CancelPendingFollowups(ctx, lead.ID); err != nil {
			log.DatabaseError("cancel_pending_followups", err)
		} else if cancelled > 0 {
			log.Info("cancelled pending follow-ups on inbound message", "leadId", lead.ID, "count", cancelled)
		}
	}
	log = log.WithLead(lead.ID.String())

	// 3. Conversation resolution.
	conversation, err := p.resolveConversation(ctx, lead)
	if err != nil {
		return err
	}

	// 4. Persist the message, then run the photo side path. Photo failures
	// never abort ingestion.
	message, err := p.persistMessage(ctx, lead, conversation, msg)
	if err != nil {
		return err
	}
	if msg.HasMedia() {
		if err := p.capturePhoto(ctx, lead, message, msg.MediaID, msg.MediaContentType); err != nil {
			log.ExternalCallFailed("photo_pipeline", "capture", err)
		}
	}

	// 5. Eager language propagation, so the consent copy below already uses
	// the detected locale.
	if msg.Language != "" && msg.Language != lead.Language {
		if err := p.store.UpdateLeadLanguage(ctx, lead.ID, msg.Language); err != nil {
			log.DatabaseError("update_lead_language", err)
		} else {
			lead.Language = msg.Language
		}
	}

	// 6. Consent gate.
	proceed, err := p.consentGate(ctx, &lead, msg)
	if err != nil {
		return err
	}
	if !proceed {
		return nil
	}

	// 7. State transition via simplified event derivation.
	p.applyIngestTransition(ctx, &lead, msg)

	// 8. AI dispatch. Photos route through the debounce registry so a burst
	// produces exactly one analysis.
	if msg.HasMedia() {
		p.debounce.OnPhoto(lead.ID, conversation.ID, message.ID)
		return nil
	}
	return p.enqueue.EnqueueAnalysis(ctx, scheduler.AIAnalyzePayload{
		LeadID:         lead.ID.String(),
		ConversationID: conversation.ID.String(),
		MessageID:      message.ID.String(),
		Trigger:        scheduler.TriggerMessage,
	})
}

func (p *Pipeline) resolveLead(ctx context.Context, msg InboundMessage) (repository.Lead, bool, error) {
	lead, err := p.store.GetLeadByChannelUser(ctx, msg.Channel, msg.ChannelUserID)
	if err == nil {
		return lead, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return repository.Lead{}, false, fmt.Errorf("lead lookup: %w", err)
	}

	language := msg.Language
	if language == "" {
		language = "en"
	}
	lead, err = p.store.CreateLead(ctx, repository.CreateLeadParams{
		Channel:       msg.Channel,
		ChannelUserID: msg.ChannelUserID,
		Language:      language,
		Country:       msg.Country,
	})
	if err != nil {
		return repository.Lead{}, false, fmt.Errorf("create lead: %w", err)
	}

	// Seed the profile with whatever identity the channel handed us.
	patch := repository.ProfilePatch{}
	if msg.SenderName != "" {
		patch.FullName = &msg.SenderName
	}
	if msg.SenderPhone != "" {
		normalized := phone.NormalizeE164(msg.SenderPhone)
		patch.Phone = &normalized
	}
	if !patch.IsEmpty() {
		if _, err := p.store.UpsertProfile(ctx, lead.ID, patch); err != nil {
			p.log.DatabaseError("seed_profile", err)
		}
	}

	p.bus.Publish(ctx, events.LeadCreated{
		BaseEvent:     events.NewBaseEvent(),
		LeadID:        lead.ID,
		Channel:       lead.Channel,
		ChannelUserID: lead.ChannelUserID,
		Language:      lead.Language,
	})
	return lead, true, nil
}

// conversationStaleAfter is how long a thread may sit idle before an inbound
// message supersedes it with a fresh conversation.
const conversationStaleAfter = 30 * 24 * time.Hour

func (p *Pipeline) resolveConversation(ctx context.Context, lead repository.Lead) (repository.Conversation, error) {
	conversation, err := p.store.GetActiveConversation(ctx, lead.ID)
	switch {
	case err == nil:
		if time.Since(conversation.UpdatedAt) < conversationStaleAfter {
			return conversation, nil
		}
		// A thread silent this long reads as a fresh contact, not a
		// continuation.
		if err := p.store.CloseConversation(ctx, conversation.ID); err != nil {
			return repository.Conversation{}, fmt.Errorf("close stale conversation: %w", err)
		}
		p.log.Info("superseded stale conversation", "leadId", lead.ID, "conversationId", conversation.ID)
	case !errors.Is(err, repository.ErrNotFound):
		return repository.Conversation{}, fmt.Errorf("conversation lookup: %w", err)
	}

	conversation, err = p.store.CreateConversation(ctx, lead.ID, lead.Channel)
	if err != nil {
		return repository.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conversation, nil
}

func (p *Pipeline) persistMessage(ctx context.Context, lead repository.Lead, conversation repository.Conversation, msg InboundMessage) (repository.Message, error) {
	params := repository.CreateMessageParams{
		ConversationID: conversation.ID,
		LeadID:         lead.ID,
		Direction:      repository.DirectionIn,
		SenderType:     repository.SenderPatient,
		Content:        msg.Content,
	}
	if msg.ChannelMessageID != "" {
		params.ChannelMessageID = &msg.ChannelMessageID
	}
	if msg.MediaID != "" {
		params.MediaKey = &msg.MediaID
	}

	message, err := p.store.CreateMessage(ctx, params)
	if err != nil {
		return repository.Message{}, fmt.Errorf("persist message: %w", err)
	}
	if err := p.store.IncrementConversationCounter(ctx, conversation.ID, true); err != nil {
		p.log.DatabaseError("increment_conversation_counter", err)
	}
	return message, nil
}

// consentGate returns false when processing must stop for this message.
func (p *Pipeline) consentGate(ctx context.Context, lead *repository.Lead, msg InboundMessage) (bool, error) {
	switch {
	case lead.Status == domain.StatusNew && !lead.ConsentGranted:
		// First contact: ask for consent and park the lead. No AI dispatch.
		if err := p.sendConsentPrompt(ctx, *lead); err != nil {
			return false, err
		}
		if err := p.store.UpdateLeadStatus(ctx, lead.ID, domain.StatusWaitingConsent); err != nil {
			return false, err
		}
		p.publishStatusChange(ctx, lead.ID, lead.Status, domain.StatusWaitingConsent, "consent")
		lead.Status = domain.StatusWaitingConsent
		return false, nil

	case lead.Status == domain.StatusWaitingConsent:
		switch MatchConsent(lead.Language, msg.Content) {
		case ConsentAffirmative:
			return p.grantConsent(ctx, lead)
		case ConsentNegative:
			return false, p.declineConsent(ctx, lead)
		default:
			// Neither yes nor no: remind and stop.
			if err := p.sendConsentPrompt(ctx, *lead); err != nil {
				return false, err
			}
			return false, nil
		}
	}
	return true, nil
}

func (p *Pipeline) grantConsent(ctx context.Context, lead *repository.Lead) (bool, error) {
	now := time.Now().UTC()
	if err := p.store.SetLeadConsent(ctx, lead.ID, true, now); err != nil {
		return false, err
	}
	accepted := true
	if _, err := p.store.UpsertProfile(ctx, lead.ID, repository.ProfilePatch{
		ConsentAccepted:   &accepted,
		ConsentAcceptedAt: &now,
	}); err != nil {
		p.log.DatabaseError("consent_profile_patch", err)
	}

	// The persona is assigned exactly once, even across repeated "yes".
	persona := personaFor(lead.ID)
	if assigned, err := p.store.SetLeadAgentName(ctx, lead.ID, persona); err != nil {
		p.log.DatabaseError("set_agent_name", err)
	} else if assigned {
		lead.AgentName = &persona
	}

	if err := p.store.UpdateLeadStatus(ctx, lead.ID, domain.StatusQualifying); err != nil {
		return false, err
	}
	p.publishStatusChange(ctx, lead.ID, lead.Status, domain.StatusQualifying, "consent")
	lead.Status = domain.StatusQualifying
	lead.ConsentGranted = true
	return true, nil
}

func (p *Pipeline) declineConsent(ctx context.Context, lead *repository.Lead) error {
	if err := p.store.SetLeadConsent(ctx, lead.ID, false, time.Now().UTC()); err != nil {
		return err
	}
	next, err := domain.Transition(lead.Status, domain.EventClosedByUser, domain.Context{})
	if err != nil {
		return err
	}
	if err := p.store.UpdateLeadStatus(ctx, lead.ID, next); err != nil {
		return err
	}
	p.publishStatusChange(ctx, lead.ID, lead.Status, next, "consent")
	lead.Status = next
	p.log.Info("lead declined consent", "leadId", lead.ID)
	return nil
}

func (p *Pipeline) sendConsentPrompt(ctx context.Context, lead repository.Lead) error {
	return p.enqueue.EnqueueSend(ctx, scheduler.ChannelSendPayload{
		LeadID:        lead.ID.String(),
		Channel:       lead.Channel,
		ChannelUserID: lead.ChannelUserID,
		Language:      lead.Language,
		Kind:          scheduler.SendKindConsentPrompt,
		LinkURL:       p.channel.GetConsentLinkURL(),
		Parts:         1,
	}, 0)
}

// applyIngestTransition derives the simplified ingest event and persists the
// resulting status when it changes. A rejected transition keeps the status.
func (p *Pipeline) applyIngestTransition(ctx context.Context, lead *repository.Lead, msg InboundMessage) {
	event := domain.EventMessageReceived
	if msg.HasMedia() {
		event = domain.EventPhotoReceived
	}

	next, err := domain.Transition(lead.Status, event, p.transitionContext(ctx, *lead))
	if err != nil {
		var noTransition *domain.ErrNoTransition
		if errors.As(err, &noTransition) {
			return
		}
		p.log.Error("transition failed", "leadId", lead.ID, "error", err)
		return
	}
	if next == lead.Status {
		return
	}

	if err := p.store.UpdateLeadStatus(ctx, lead.ID, next); err != nil {
		p.log.DatabaseError("update_lead_status", err)
		return
	}
	p.publishStatusChange(ctx, lead.ID, lead.Status, next, "ingest")
	lead.Status = next
}

func (p *Pipeline) transitionContext(ctx context.Context, lead repository.Lead) domain.Context {
	dCtx := domain.Context{
		ConsentGranted: lead.ConsentGranted,
		TreatmentKnown: lead.TreatmentCategory != nil && *lead.TreatmentCategory != "",
		RequiredPhotos: p.cfg.GetRequiredPhotoCount(),
	}
	if profile, err := p.store.GetProfile(ctx, lead.ID); err == nil {
		dCtx.MedicalComplete = profile.HasMinimumInfo()
	}
	if count, err := p.store.CountUsablePhotos(ctx, lead.ID); err == nil {
		dCtx.UploadedPhotos = count
	}
	return dCtx
}

func (p *Pipeline) publishStatusChange(ctx context.Context, leadID uuid.UUID, from, to domain.Status, trigger string) {
	p.bus.Publish(ctx, events.LeadStatusChanged{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    leadID,
		OldStatus: string(from),
		NewStatus: string(to),
		Trigger:   trigger,
	})
}

// personaFor picks a stable coordinator persona for a lead.
func personaFor(leadID uuid.UUID) string {
	h := fnv.New32a()
	_, _ = h.Write(leadID[:])
	return agentPersonas[h.Sum32()%uint32(len(agentPersonas))]
}
