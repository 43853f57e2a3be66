// Package delivery paces outbound replies. The AI drafts one reply with
// "|||" separators; we persist it once, then enqueue each part with a delay
// proportional to its length so the conversation reads like a human typing.
package delivery

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"clinic_funnel_backend/internal/leads/repository"
	"clinic_funnel_backend/internal/scheduler"
	"clinic_funnel_backend/platform/logger"
)

const (
	// PartSeparator splits an AI reply into chat-sized messages.
	PartSeparator = "|||"

	minPartDelay  = 2 * time.Second
	maxPartDelay  = 15 * time.Second
	baseDelay     = 1200 * time.Millisecond
	perCharDelay  = 35 * time.Millisecond
	longPartBonus = 2 * time.Second
	longPartChars = 100
	jitterRatio   = 0.2
)

type Scheduler struct {
	store   repository.Store
	enqueue scheduler.Enqueuer
	log     *logger.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

func NewScheduler(store repository.Store, enqueue scheduler.Enqueuer, log *logger.Logger) *Scheduler {
	return &Scheduler{
		store:   store,
		enqueue: enqueue,
		log:     log,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SplitReply breaks a drafted reply into trimmed, non-empty parts.
func SplitReply(reply string) []string {
	raw := strings.Split(reply, PartSeparator)
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// DeliverReply persists the full reply as one outbound message and enqueues
// each part with its cumulative delay. The first part goes out immediately.
func (s *Scheduler) DeliverReply(ctx context.Context, lead repository.Lead, conversationID uuid.UUID, reply string, analysisID *uuid.UUID) error {
	parts := SplitReply(reply)
	if len(parts) == 0 {
		return nil
	}

	_, err := s.store.CreateMessage(ctx, repository.CreateMessageParams{
		ConversationID: conversationID,
		LeadID:         lead.ID,
		Direction:      repository.DirectionOut,
		SenderType:     repository.SenderAI,
		Content:        strings.Join(parts, "\n"),
		AnalysisID:     analysisID,
	})
	if err != nil {
		return err
	}
	if err := s.store.IncrementConversationCounter(ctx, conversationID, false); err != nil {
		s.log.DatabaseError("increment_conversation_counter", err)
	}

	delays := s.partDelays(parts)
	for i, part := range parts {
		payload := scheduler.ChannelSendPayload{
			LeadID:        lead.ID.String(),
			Channel:       lead.Channel,
			ChannelUserID: lead.ChannelUserID,
			Language:      lead.Language,
			Kind:          scheduler.SendKindMessage,
			Content:       part,
			Part:          i,
			Parts:         len(parts),
		}
		if err := s.enqueue.EnqueueSend(ctx, payload, delays[i]); err != nil {
			return err
		}
	}

	s.log.Debug("reply scheduled",
		"leadId", lead.ID,
		"parts", len(parts),
		"totalDelay", delays[len(delays)-1].String(),
	)
	return nil
}

// SendPrompt enqueues a consent or flow prompt with no delay.
func (s *Scheduler) SendPrompt(ctx context.Context, lead repository.Lead, kind, linkURL string) error {
	return s.enqueue.EnqueueSend(ctx, scheduler.ChannelSendPayload{
		LeadID:        lead.ID.String(),
		Channel:       lead.Channel,
		ChannelUserID: lead.ChannelUserID,
		Language:      lead.Language,
		Kind:          kind,
		LinkURL:       linkURL,
		Parts:         1,
	}, 0)
}

// partDelays returns the cumulative delay per part. Index 0 is always zero.
func (s *Scheduler) partDelays(parts []string) []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cumulativeDelays(parts, s.rng)
}

func cumulativeDelays(parts []string, rng *rand.Rand) []time.Duration {
	delays := make([]time.Duration, len(parts))
	var total time.Duration
	for i, part := range parts {
		if i == 0 {
			continue
		}
		total += partDelay(part, rng)
		delays[i] = total
	}
	return delays
}

// partDelay simulates typing time for one part: base plus per-character
// cost, jittered, with a pause bonus for long parts, clamped to bounds.
func partDelay(part string, rng *rand.Rand) time.Duration {
	chars := len([]rune(part))
	d := baseDelay + time.Duration(chars)*perCharDelay

	jitter := 1 + (rng.Float64()*2-1)*jitterRatio
	d = time.Duration(float64(d) * jitter)

	if chars > longPartChars {
		d += longPartBonus
	}

	if d < minPartDelay {
		d = minPartDelay
	}
	if d > maxPartDelay {
		d = maxPartDelay
	}
	return d
}
