// Package apply consumes the AI service's structured verdict for one
// conversation turn and turns it into funnel mutations: profile merges,
// state transitions, escalations, photo-template gating, and finally the
// paced delivery of the drafted reply.
package apply

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"clinic_funnel_backend/internal/ai"
	"clinic_funnel_backend/internal/events"
	"clinic_funnel_backend/internal/leads/domain"
	"clinic_funnel_backend/internal/leads/repository"
	"clinic_funnel_backend/internal/scheduler"
	"clinic_funnel_backend/platform/config"
	"clinic_funnel_backend/platform/logger"
)

// Analyzer is the AI surface the applier depends on.
type Analyzer interface {
	AnalyzeConversation(ctx context.Context, input ai.ConversationInput) (ai.ConversationAnalysis, error)
}

// ReplyDeliverer paces outbound replies. delivery.Scheduler implements it.
type ReplyDeliverer interface {
	DeliverReply(ctx context.Context, lead repository.Lead, conversationID uuid.UUID, reply string, analysisID *uuid.UUID) error
	SendPrompt(ctx context.Context, lead repository.Lead, kind, linkURL string) error
}

const historyWindow = 20

type Applier struct {
	store    repository.Store
	analyzer Analyzer
	delivery ReplyDeliverer
	bus      events.Bus
	cfg      config.FunnelConfig
	channel  config.ChannelConfig
	log      *logger.Logger
}

func New(
	store repository.Store,
	analyzer Analyzer,
	deliverer ReplyDeliverer,
	bus events.Bus,
	cfg config.FunnelConfig,
	channelCfg config.ChannelConfig,
	log *logger.Logger,
) *Applier {
	return &Applier{
		store:    store,
		analyzer: analyzer,
		delivery: deliverer,
		bus:      bus,
		cfg:      cfg,
		channel:  channelCfg,
		log:      log,
	}
}

// HandleAnalysis runs one AI turn for a lead: analyze, apply, reply.
// It implements the scheduler's AnalysisHandler.
func (a *Applier) HandleAnalysis(ctx context.Context, payload scheduler.AIAnalyzePayload) error {
	leadID, err := uuid.Parse(payload.LeadID)
	if err != nil {
		return err
	}
	conversationID, err := uuid.Parse(payload.ConversationID)
	if err != nil {
		return err
	}

	lead, err := a.store.GetLeadByID(ctx, leadID)
	if err != nil {
		return err
	}
	if domain.IsTerminal(lead.Status) {
		a.log.Debug("skipping analysis for terminal lead", "leadId", leadID, "status", lead.Status)
		return nil
	}
	log := a.log.WithLead(leadID.String())

	analysis, err := a.analyzer.AnalyzeConversation(ctx, a.buildInput(ctx, lead, conversationID, payload.BurstSize))
	if err != nil {
		return err
	}

	if analysis.Language != "" && analysis.Language != lead.Language {
		if err := a.store.UpdateLeadLanguage(ctx, lead.ID, analysis.Language); err != nil {
			log.DatabaseError("update_lead_language", err)
		} else {
			lead.Language = analysis.Language
		}
	}

	// 1. Safety short-circuit. Nothing else runs, including the follow-up
	// rescheduling at the bottom.
	if analysis.Toxicity || analysis.NeedsHandoff {
		return a.escalate(ctx, lead, conversationID, analysis)
	}
	if analysis.Sentiment == "negative" || analysis.Sentiment == "angry" {
		if err := a.store.AddLeadTag(ctx, lead.ID, "angry"); err != nil {
			log.DatabaseError("add_lead_tag", err)
		}
	}

	// 2. Consent / flow-selection callbacks.
	if analysis.ConsentGranted && !lead.ConsentGranted {
		if err := a.applyConsent(ctx, &lead); err != nil {
			return err
		}
	}
	if analysis.FlowFormRequested {
		if err := a.delivery.SendPrompt(ctx, lead, scheduler.SendKindFlowPrompt, a.channel.GetFlowFormURL()); err != nil {
			return err
		}
		return a.rescheduleFollowup(ctx, lead, conversationID)
	}

	// 3. Field merge.
	patch := BuildProfilePatch(analysis.Extraction, time.Now().UTC())
	if !patch.IsEmpty() {
		if _, err := a.store.UpsertProfile(ctx, lead.ID, patch); err != nil {
			return fmt.Errorf("profile merge: %w", err)
		}
	}
	if analysis.DesireScore > 0 {
		if err := a.store.UpdateLeadDesireScore(ctx, lead.ID, analysis.DesireScore); err != nil {
			log.DatabaseError("update_desire_score", err)
		}
	}
	if analysis.TreatmentCategory != "" && analysis.TreatmentCategory != "unknown" {
		if err := a.store.UpdateLeadTreatmentCategory(ctx, lead.ID, analysis.TreatmentCategory); err != nil {
			log.DatabaseError("update_treatment_category", err)
		} else {
			lead.TreatmentCategory = &analysis.TreatmentCategory
		}
	}

	// 4. Medical-risk branch runs independently of everything below.
	if analysis.MedicalRisk || (patch.HighMedicalRisk != nil && *patch.HighMedicalRisk) {
		a.flagMedicalRisk(ctx, lead, analysis.MedicalRiskReason)
	}

	// 5. Readiness and funnel-event branches.
	a.applyFunnelEvents(ctx, &lead, analysis, payload)

	// 6. Photo-template gating. May suppress the AI reply entirely.
	delivered, err := a.gatePhotoTemplate(ctx, &lead, conversationID, analysis)
	if err != nil {
		return err
	}

	// 7. Otherwise deliver the drafted reply.
	if !delivered && analysis.Reply != "" {
		if err := a.delivery.DeliverReply(ctx, lead, conversationID, analysis.Reply, nil); err != nil {
			return err
		}
	}

	// 8. A fresh AI turn always resets the nudge clock.
	return a.rescheduleFollowup(ctx, lead, conversationID)
}

func (a *Applier) buildInput(ctx context.Context, lead repository.Lead, conversationID uuid.UUID, burstSize int) ai.ConversationInput {
	input := ai.ConversationInput{
		LeadStatus:     string(lead.Status),
		Language:       lead.Language,
		Country:        lead.Country,
		ConsentGranted: lead.ConsentGranted,
		RequiredPhotos: a.cfg.GetRequiredPhotoCount(),
		BurstSize:      burstSize,
	}
	if lead.AgentName != nil {
		input.AgentName = *lead.AgentName
	}
	if lead.TreatmentCategory != nil {
		input.TreatmentCategory = *lead.TreatmentCategory
	}

	if count, err := a.store.CountUsablePhotos(ctx, lead.ID); err == nil {
		input.PhotoCount = count
	}
	if profile, err := a.store.GetProfile(ctx, lead.ID); err == nil {
		input.Profile = profileFacts(profile)
	}
	if messages, err := a.store.ListRecentMessages(ctx, conversationID, historyWindow); err == nil {
		for _, msg := range messages {
			input.History = append(input.History, ai.HistoryMessage{
				Direction: msg.Direction,
				Content:   msg.Content,
				SentAt:    msg.CreatedAt,
			})
		}
	}
	return input
}

func (a *Applier) escalate(ctx context.Context, lead repository.Lead, conversationID uuid.UUID, analysis ai.ConversationAnalysis) error {
	reason := analysis.HandoffReason
	if reason == "" {
		if analysis.Toxicity {
			reason = "toxic_content"
		} else {
			reason = "handoff_requested"
		}
	}

	handoff, err := a.store.CreateHandoff(ctx, repository.CreateHandoffParams{
		LeadID:         lead.ID,
		ConversationID: &conversationID,
		Reason:         reason,
	})
	if err != nil {
		return err
	}

	next, err := domain.Transition(lead.Status, domain.EventHandoffRequested, domain.Context{})
	if err != nil {
		// Already handed off or closed; the record above is still useful.
		a.log.Warn("handoff transition rejected", "leadId", lead.ID, "status", lead.Status)
	} else if err := a.store.UpdateLeadStatus(ctx, lead.ID, next); err != nil {
		return err
	} else {
		a.publishStatusChange(ctx, lead.ID, lead.Status, next)
	}

	a.bus.Publish(ctx, events.HandoffCreated{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    lead.ID,
		HandoffID: handoff.ID,
		Reason:    reason,
	})

	return a.delivery.DeliverReply(ctx, lead, conversationID, handoffNoticeText(lead.Language), nil)
}

// applyConsent mirrors the ingest consent path for button-callback consent
// arriving through the AI payload. The persona is still assigned at most once.
func (a *Applier) applyConsent(ctx context.Context, lead *repository.Lead) error {
	now := time.Now().UTC()
	if err := a.store.SetLeadConsent(ctx, lead.ID, true, now); err != nil {
		return err
	}
	accepted := true
	if _, err := a.store.UpsertProfile(ctx, lead.ID, repository.ProfilePatch{
		ConsentAccepted:   &accepted,
		ConsentAcceptedAt: &now,
	}); err != nil {
		a.log.DatabaseError("consent_profile_patch", err)
	}
	lead.ConsentGranted = true

	if lead.Status == domain.StatusWaitingConsent || lead.Status == domain.StatusNew {
		if err := a.store.UpdateLeadStatus(ctx, lead.ID, domain.StatusQualifying); err != nil {
			return err
		}
		a.publishStatusChange(ctx, lead.ID, lead.Status, domain.StatusQualifying)
		lead.Status = domain.StatusQualifying
	}
	return nil
}

func (a *Applier) flagMedicalRisk(ctx context.Context, lead repository.Lead, reason string) {
	risk := true
	if _, err := a.store.UpsertProfile(ctx, lead.ID, repository.ProfilePatch{HighMedicalRisk: &risk}); err != nil {
		a.log.DatabaseError("medical_risk_profile_patch", err)
	}
	if err := a.store.AddLeadTag(ctx, lead.ID, "medical-risk"); err != nil {
		a.log.DatabaseError("add_lead_tag", err)
	}

	summary := reason
	if summary == "" {
		summary = "High medical risk signals detected in conversation."
	}
	if _, err := a.store.CreateTimelineEvent(ctx, repository.CreateTimelineEventParams{
		LeadID:    lead.ID,
		ActorType: "AI",
		ActorName: "responder",
		EventType: "alert",
		Title:     "Medical risk flagged",
		Summary:   &summary,
	}); err != nil {
		a.log.DatabaseError("create_timeline_event", err)
	}
	a.log.Warn("medical risk flagged for clinical review", "leadId", lead.ID, "reason", reason)
}

// applyFunnelEvents maps the AI's funnel flags onto state-machine events.
// Rejected transitions are left alone; the table is the authority.
func (a *Applier) applyFunnelEvents(ctx context.Context, lead *repository.Lead, analysis ai.ConversationAnalysis, payload scheduler.AIAnalyzePayload) {
	dCtx := a.transitionContext(ctx, *lead)

	if analysis.PhotosDeclined {
		a.tryTransition(ctx, lead, domain.EventPhotosDeclined, dCtx)
	}

	if payload.Trigger == scheduler.TriggerPhotoBurst {
		a.tryTransition(ctx, lead, domain.EventPhotosComplete, dCtx)
	}

	if analysis.QualificationDone {
		if !a.tryTransition(ctx, lead, domain.EventQualifyingComplete, dCtx) {
			a.tryTransition(ctx, lead, domain.EventMedicalComplete, dCtx)
		}
	}

	if analysis.ReadyForDoctor && lead.Status != domain.StatusReadyForDoctor {
		if !a.tryTransition(ctx, lead, domain.EventPhotosComplete, dCtx) {
			// The readiness flag overrides the photo-count guard, but the
			// incomplete set stays visible to the doctor queue.
			if err := a.store.AddLeadTag(ctx, lead.ID, "photo-set-incomplete"); err != nil {
				a.log.DatabaseError("add_lead_tag", err)
			}
			if err := a.store.UpdateLeadStatus(ctx, lead.ID, domain.StatusReadyForDoctor); err != nil {
				a.log.DatabaseError("update_lead_status", err)
				return
			}
			a.publishStatusChange(ctx, lead.ID, lead.Status, domain.StatusReadyForDoctor)
			lead.Status = domain.StatusReadyForDoctor
		}
	}
}

func (a *Applier) tryTransition(ctx context.Context, lead *repository.Lead, event domain.EventType, dCtx domain.Context) bool {
	next, err := domain.Transition(lead.Status, event, dCtx)
	if err != nil {
		var noTransition *domain.ErrNoTransition
		if !errors.As(err, &noTransition) {
			a.log.Error("transition failed", "leadId", lead.ID, "event", event, "error", err)
		}
		return false
	}
	if next == lead.Status {
		return true
	}
	if err := a.store.UpdateLeadStatus(ctx, lead.ID, next); err != nil {
		a.log.DatabaseError("update_lead_status", err)
		return false
	}
	a.publishStatusChange(ctx, lead.ID, lead.Status, next)
	lead.Status = next
	return true
}

func (a *Applier) transitionContext(ctx context.Context, lead repository.Lead) domain.Context {
	dCtx := domain.Context{
		ConsentGranted: lead.ConsentGranted,
		TreatmentKnown: lead.TreatmentCategory != nil && *lead.TreatmentCategory != "",
		RequiredPhotos: a.cfg.GetRequiredPhotoCount(),
	}
	if profile, err := a.store.GetProfile(ctx, lead.ID); err == nil {
		dCtx.MedicalComplete = profile.HasMinimumInfo()
	}
	if count, err := a.store.CountUsablePhotos(ctx, lead.ID); err == nil {
		dCtx.UploadedPhotos = count
	}
	return dCtx
}

// gatePhotoTemplate intercepts AI replies that ask for photos. Returns true
// when the reply has been handled (template sent or text suppressed).
func (a *Applier) gatePhotoTemplate(ctx context.Context, lead *repository.Lead, conversationID uuid.UUID, analysis ai.ConversationAnalysis) (bool, error) {
	if !isPhotoRequest(analysis.Reply, lead.Language) {
		return false, nil
	}
	treatmentKnown := lead.TreatmentCategory != nil && *lead.TreatmentCategory != ""
	if !treatmentKnown {
		return false, nil
	}

	profile, err := a.store.GetProfile(ctx, lead.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return false, err
	}
	if !profile.HasMinimumInfo() {
		// Too early to ask for photos; keep gathering medical history.
		summary := "Photo request suppressed: profile lacks name or medical answers."
		if _, err := a.store.CreateTimelineEvent(ctx, repository.CreateTimelineEventParams{
			LeadID:    lead.ID,
			ActorType: "System",
			ActorName: "photo_gate",
			EventType: "note",
			Title:     "Photo request suppressed",
			Summary:   &summary,
		}); err != nil {
			a.log.DatabaseError("create_timeline_event", err)
		}
		a.log.Info("photo request suppressed, profile incomplete", "leadId", lead.ID)
		return true, nil
	}

	if lead.PhotoTemplateSent {
		// The structured ask already went out once; don't nag.
		a.log.Debug("redundant photo request suppressed", "leadId", lead.ID)
		return true, nil
	}

	// Send the structured template instead of the AI's organic ask.
	if err := a.delivery.DeliverReply(ctx, *lead, conversationID, photoTemplateText(lead.Language), nil); err != nil {
		return false, err
	}
	if err := a.store.MarkPhotoTemplateSent(ctx, lead.ID); err != nil {
		a.log.DatabaseError("mark_photo_template_sent", err)
	}
	lead.PhotoTemplateSent = true

	if lead.Status != domain.StatusPhotoRequested {
		a.tryTransition(ctx, lead, domain.EventQualifyingComplete, a.transitionContext(ctx, *lead))
		if lead.Status != domain.StatusPhotoRequested && lead.Status != domain.StatusPhotoCollecting {
			if err := a.store.UpdateLeadStatus(ctx, lead.ID, domain.StatusPhotoRequested); err != nil {
				a.log.DatabaseError("update_lead_status", err)
			} else {
				a.publishStatusChange(ctx, lead.ID, lead.Status, domain.StatusPhotoRequested)
				lead.Status = domain.StatusPhotoRequested
			}
		}
	}
	return true, nil
}

// rescheduleFollowup resets the nudge ladder: pending follow-ups go away and
// a fresh attempt-1 nudge lands one interval out.
func (a *Applier) rescheduleFollowup(ctx context.Context, lead repository.Lead, conversationID uuid.UUID) error {
	if domain.IsTerminal(lead.Status) {
		return nil
	}
	if _, err := a.store.CancelPendingFollowups(ctx, lead.ID); err != nil {
		return err
	}

	intervals := a.cfg.GetFollowupIntervals()
	if len(intervals) == 0 {
		return nil
	}
	followup, err := a.store.CreateFollowup(ctx, repository.CreateFollowupParams{
		LeadID:         lead.ID,
		ConversationID: conversationID,
		Attempt:        1,
		ScheduledAt:    time.Now().UTC().Add(intervals[0]),
	})
	if err != nil {
		return err
	}

	a.bus.Publish(ctx, events.FollowupScheduled{
		BaseEvent:  events.NewBaseEvent(),
		LeadID:     lead.ID,
		FollowupID: followup.ID,
		Attempt:    followup.Attempt,
	})
	return nil
}

func (a *Applier) publishStatusChange(ctx context.Context, leadID uuid.UUID, from, to domain.Status) {
	a.bus.Publish(ctx, events.LeadStatusChanged{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    leadID,
		OldStatus: string(from),
		NewStatus: string(to),
		Trigger:   "applier",
	})
}
