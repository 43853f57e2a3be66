// Package followup sweeps due nudges for leads that went silent. Each due
// follow-up is checked against the lead's local messaging window, handed to
// the AI for a strategy decision, and either sent, deferred, escalated, or
// abandoned.
package followup

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"clinic_funnel_backend/internal/ai"
	"clinic_funnel_backend/internal/events"
	"clinic_funnel_backend/internal/leads/domain"
	"clinic_funnel_backend/internal/leads/repository"
	"clinic_funnel_backend/internal/timezone"
	"clinic_funnel_backend/platform/config"
	"clinic_funnel_backend/platform/logger"
)

// Analyzer is the AI surface for follow-up decisions.
type Analyzer interface {
	AnalyzeFollowup(ctx context.Context, input ai.FollowupInput) (ai.FollowupDecision, error)
}

// Deliverer paces outbound nudges. delivery.Scheduler implements it.
type Deliverer interface {
	DeliverReply(ctx context.Context, lead repository.Lead, conversationID uuid.UUID, reply string, analysisID *uuid.UUID) error
}

const historyWindow = 10

type Scheduler struct {
	store    repository.Store
	analyzer Analyzer
	delivery Deliverer
	bus      events.Bus
	cfg      config.FunnelConfig
	log      *logger.Logger

	sweeping atomic.Bool
	now      func() time.Time
}

func New(
	store repository.Store,
	analyzer Analyzer,
	deliverer Deliverer,
	bus events.Bus,
	cfg config.FunnelConfig,
	log *logger.Logger,
) *Scheduler {
	return &Scheduler{
		store:    store,
		analyzer: analyzer,
		delivery: deliverer,
		bus:      bus,
		cfg:      cfg,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info("followup scheduler started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("followup scheduler stopped")
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.log.Error("followup sweep failed", "error", err)
			}
		}
	}
}

// Sweep processes every due follow-up once. Overlapping sweeps are skipped;
// a slow AI call must not cause the same nudge to go out twice.
func (s *Scheduler) Sweep(ctx context.Context) error {
	if !s.sweeping.CompareAndSwap(false, true) {
		s.log.Debug("sweep already in progress, skipping")
		return nil
	}
	defer s.sweeping.Store(false)

	due, err := s.store.ListDueFollowups(ctx, s.now())
	if err != nil {
		return err
	}
	for _, followup := range due {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.process(ctx, followup); err != nil {
			s.log.Error("followup processing failed", "followupId", followup.ID, "leadId", followup.LeadID, "error", err)
		}
	}
	return nil
}

func (s *Scheduler) process(ctx context.Context, followup repository.Followup) error {
	lead, err := s.store.GetLeadByID(ctx, followup.LeadID)
	if err != nil {
		return err
	}
	log := s.log.WithLead(lead.ID.String())

	// A lead that converted, closed, or escalated since scheduling gets no
	// automated outreach, ever.
	if domain.IsTerminal(lead.Status) {
		log.Debug("cancelling followup for terminal lead", "status", lead.Status)
		return s.store.MarkFollowupCancelled(ctx, followup.ID)
	}

	now := s.now()
	window := timezone.MessagingWindowStatus(lead.Country, now, s.cfg.GetSendWindowStartHour(), s.cfg.GetSendWindowEndHour())

	decision, err := s.analyzer.AnalyzeFollowup(ctx, s.buildInput(ctx, lead, followup, now, window))
	if err != nil {
		return err
	}

	// A closed window overrides whatever the AI wants to send now.
	if !window.CanSend && decision.Strategy == ai.FollowupSendNow {
		decision.Strategy = ai.FollowupWait
		decision.WaitHours = window.WaitHours
		log.Debug("deferring nudge outside messaging window", "reason", window.Reason, "waitHours", window.WaitHours)
	}

	switch decision.Strategy {
	case ai.FollowupGiveUp:
		return s.giveUp(ctx, lead, followup)
	case ai.FollowupEscalate:
		return s.escalate(ctx, lead, followup, decision)
	case ai.FollowupWait:
		return s.deferNudge(ctx, lead, followup, decision, now)
	default:
		return s.send(ctx, lead, followup, decision, now)
	}
}

func (s *Scheduler) buildInput(ctx context.Context, lead repository.Lead, followup repository.Followup, now time.Time, window timezone.WindowStatus) ai.FollowupInput {
	input := ai.FollowupInput{
		LeadStatus:  string(lead.Status),
		Language:    lead.Language,
		Attempt:     followup.Attempt,
		MaxAttempts: s.cfg.GetMaxFollowupAttempts(),
		LocalTime:   window.LocalTime,
		CanSendNow:  window.CanSend,
		WaitHours:   window.WaitHours,
	}
	if lead.AgentName != nil {
		input.AgentName = *lead.AgentName
	}
	if last, err := s.store.LastInboundAt(ctx, lead.ID); err == nil && last != nil {
		input.SilentFor = now.Sub(*last)
	}
	if messages, err := s.store.ListRecentMessages(ctx, followup.ConversationID, historyWindow); err == nil {
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

func (s *Scheduler) send(ctx context.Context, lead repository.Lead, followup repository.Followup, decision ai.FollowupDecision, now time.Time) error {
	message := decision.Message
	if message == "" && followup.SuggestedMessage != nil {
		message = *followup.SuggestedMessage
	}
	if message == "" {
		message = nudgeText(lead.Language, followup.Attempt)
	}

	if err := s.delivery.DeliverReply(ctx, lead, followup.ConversationID, message, nil); err != nil {
		// A lead whose channel rejects us is unreachable; retrying the same
		// send on the next sweep would just burn the attempt budget.
		if markErr := s.store.MarkFollowupFailed(ctx, followup.ID); markErr != nil {
			s.log.DatabaseError("mark_followup_failed", markErr)
		}
		return err
	}
	if err := s.store.MarkFollowupSent(ctx, followup.ID, now); err != nil {
		return err
	}

	if followup.Attempt >= s.cfg.GetMaxFollowupAttempts() {
		s.transition(ctx, &lead, domain.EventMaxFollowupsReached)
		return nil
	}

	s.transition(ctx, &lead, domain.EventFollowupSent)
	return s.scheduleNext(ctx, lead, followup, decision, now)
}

func (s *Scheduler) scheduleNext(ctx context.Context, lead repository.Lead, followup repository.Followup, decision ai.FollowupDecision, now time.Time) error {
	intervals := s.cfg.GetFollowupIntervals()
	if len(intervals) == 0 {
		return nil
	}
	// Attempt is 1-based; the last interval repeats for attempts past the
	// configured ladder.
	idx := followup.Attempt
	if idx >= len(intervals) {
		idx = len(intervals) - 1
	}

	strategy := decision.Strategy
	next, err := s.store.CreateFollowup(ctx, repository.CreateFollowupParams{
		LeadID:           lead.ID,
		ConversationID:   followup.ConversationID,
		Attempt:          followup.Attempt + 1,
		ScheduledAt:      now.Add(intervals[idx]),
		Strategy:         &strategy,
		Tone:             optional(decision.Tone),
		SuggestedMessage: optional(decision.Message),
		Reasoning:        optional(decision.Reasoning),
		Confidence:       optionalFloat(decision.Confidence),
	})
	if err != nil {
		return err
	}

	s.bus.Publish(ctx, events.FollowupScheduled{
		BaseEvent:  events.NewBaseEvent(),
		LeadID:     lead.ID,
		FollowupID: next.ID,
		Attempt:    next.Attempt,
		Strategy:   strategy,
	})
	return nil
}

func (s *Scheduler) deferNudge(ctx context.Context, lead repository.Lead, followup repository.Followup, decision ai.FollowupDecision, now time.Time) error {
	wait := time.Duration(decision.WaitHours * float64(time.Hour))
	if wait <= 0 {
		wait = time.Hour
	}
	if err := s.store.MarkFollowupCancelled(ctx, followup.ID); err != nil {
		return err
	}
	// Deferral keeps the attempt and whatever suggestion is already stored;
	// a fresh decision refines it.
	strategy := ai.FollowupWait
	tone := followup.Tone
	if decision.Tone != "" {
		tone = &decision.Tone
	}
	suggested := followup.SuggestedMessage
	if decision.Message != "" {
		suggested = &decision.Message
	}
	reasoning := followup.Reasoning
	if decision.Reasoning != "" {
		reasoning = &decision.Reasoning
	}
	confidence := followup.Confidence
	if decision.Confidence > 0 {
		confidence = &decision.Confidence
	}
	_, err := s.store.CreateFollowup(ctx, repository.CreateFollowupParams{
		LeadID:           lead.ID,
		ConversationID:   followup.ConversationID,
		Attempt:          followup.Attempt,
		ScheduledAt:      now.Add(wait),
		Strategy:         &strategy,
		Tone:             tone,
		SuggestedMessage: suggested,
		Reasoning:        reasoning,
		Confidence:       confidence,
	})
	return err
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optionalFloat(f float64) *float64 {
	if f == 0 {
		return nil
	}
	return &f
}

func (s *Scheduler) giveUp(ctx context.Context, lead repository.Lead, followup repository.Followup) error {
	if err := s.store.MarkFollowupCancelled(ctx, followup.ID); err != nil {
		return err
	}
	s.transition(ctx, &lead, domain.EventMaxFollowupsReached)
	return nil
}

func (s *Scheduler) escalate(ctx context.Context, lead repository.Lead, followup repository.Followup, decision ai.FollowupDecision) error {
	if err := s.store.MarkFollowupCancelled(ctx, followup.ID); err != nil {
		return err
	}

	reason := "followup_escalation"
	var detail *string
	if decision.Reasoning != "" {
		detail = &decision.Reasoning
	}
	handoff, err := s.store.CreateHandoff(ctx, repository.CreateHandoffParams{
		LeadID:         lead.ID,
		ConversationID: &followup.ConversationID,
		Reason:         reason,
		Detail:         detail,
	})
	if err != nil {
		return err
	}

	s.transition(ctx, &lead, domain.EventHandoffRequested)
	s.bus.Publish(ctx, events.HandoffCreated{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    lead.ID,
		HandoffID: handoff.ID,
		Reason:    reason,
	})
	return nil
}

func (s *Scheduler) transition(ctx context.Context, lead *repository.Lead, event domain.EventType) {
	next, err := domain.Transition(lead.Status, event, domain.Context{})
	if err != nil {
		return
	}
	if next == lead.Status {
		return
	}
	if err := s.store.UpdateLeadStatus(ctx, lead.ID, next); err != nil {
		s.log.DatabaseError("update_lead_status", err)
		return
	}
	s.bus.Publish(ctx, events.LeadStatusChanged{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    lead.ID,
		OldStatus: string(lead.Status),
		NewStatus: string(next),
		Trigger:   "followup",
	})
	lead.Status = next
}

// nudgeText is the template ladder used when the AI returns no message.
func nudgeText(language string, attempt int) string {
	switch language {
	case "tr":
		switch {
		case attempt <= 1:
			return "Merhaba! Saç ekimi hakkında konuşmamıza devam etmek ister misiniz? Sorularınız varsa buradayım."
		case attempt == 2:
			return "Tekrar merhaba! Değerlendirmenizi tamamlamak için birkaç adım kaldı. Müsait olduğunuzda yazmanız yeterli."
		default:
			return "Son bir hatırlatma: dosyanız hâlâ açık. Devam etmek isterseniz bana yazabilirsiniz, iyi günler dilerim!"
		}
	case "de":
		switch {
		case attempt <= 1:
			return "Hallo! Möchten Sie unser Gespräch über die Haartransplantation fortsetzen? Ich bin gerne für Ihre Fragen da."
		case attempt == 2:
			return "Hallo nochmal! Es fehlen nur noch wenige Schritte bis zu Ihrer Einschätzung. Melden Sie sich einfach, wenn es passt."
		default:
			return "Eine letzte Erinnerung: Ihre Anfrage ist noch offen. Schreiben Sie mir gerne, wenn Sie fortfahren möchten. Alles Gute!"
		}
	default:
		switch {
		case attempt <= 1:
			return "Hi! Would you like to continue our conversation about your hair transplant? I'm here if you have questions."
		case attempt == 2:
			return "Hello again! You're just a few steps away from your assessment. Just reply whenever you're ready."
		default:
			return "One last reminder: your file is still open. Feel free to message me if you'd like to continue. All the best!"
		}
	}
}
