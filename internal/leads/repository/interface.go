package repository

import (
	"context"
	"time"

	"clinic_funnel_backend/internal/leads/domain"

	"github.com/google/uuid"
)

// Store is the persistence surface the orchestration core depends on.
// *Repository is the pgx implementation; tests substitute in-memory fakes.
type Store interface {
	// Leads
	GetLeadByID(ctx context.Context, id uuid.UUID) (Lead, error)
	GetLeadByChannelUser(ctx context.Context, channel, channelUserID string) (Lead, error)
	CreateLead(ctx context.Context, params CreateLeadParams) (Lead, error)
	UpdateLeadStatus(ctx context.Context, id uuid.UUID, status domain.Status) error
	UpdateLeadLanguage(ctx context.Context, id uuid.UUID, language string) error
	UpdateLeadDesireScore(ctx context.Context, id uuid.UUID, score int) error
	UpdateLeadTreatmentCategory(ctx context.Context, id uuid.UUID, category string) error
	AddLeadTag(ctx context.Context, id uuid.UUID, tag string) error
	SetLeadAgentName(ctx context.Context, id uuid.UUID, name string) (bool, error)
	SetLeadConsent(ctx context.Context, id uuid.UUID, granted bool, at time.Time) error
	MarkPhotoTemplateSent(ctx context.Context, id uuid.UUID) error

	// Conversations
	GetActiveConversation(ctx context.Context, leadID uuid.UUID) (Conversation, error)
	CreateConversation(ctx context.Context, leadID uuid.UUID, channel string) (Conversation, error)
	IncrementConversationCounter(ctx context.Context, id uuid.UUID, inbound bool) error
	CloseConversation(ctx context.Context, id uuid.UUID) error

	// Messages
	GetMessageByChannelMessageID(ctx context.Context, channel, channelMessageID string) (Message, error)
	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error)
	ListRecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]Message, error)
	LastInboundAt(ctx context.Context, leadID uuid.UUID) (*time.Time, error)

	// Profiles
	GetProfile(ctx context.Context, leadID uuid.UUID) (LeadProfile, error)
	UpsertProfile(ctx context.Context, leadID uuid.UUID, patch ProfilePatch) (LeadProfile, error)

	// Follow-ups
	CreateFollowup(ctx context.Context, params CreateFollowupParams) (Followup, error)
	ListDueFollowups(ctx context.Context, now time.Time) ([]Followup, error)
	CancelPendingFollowups(ctx context.Context, leadID uuid.UUID) (int64, error)
	MarkFollowupSent(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFollowupFailed(ctx context.Context, id uuid.UUID) error
	MarkFollowupCancelled(ctx context.Context, id uuid.UUID) error

	// Handoffs
	CreateHandoff(ctx context.Context, params CreateHandoffParams) (Handoff, error)

	// Photos
	CreateLeadPhoto(ctx context.Context, params CreateLeadPhotoParams) (LeadPhoto, error)
	CountUsablePhotos(ctx context.Context, leadID uuid.UUID) (int, error)

	// Timeline
	CreateTimelineEvent(ctx context.Context, params CreateTimelineEventParams) (TimelineEvent, error)
}

var _ Store = (*Repository)(nil)
