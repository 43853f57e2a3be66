// Package repotest provides an in-memory Store for unit tests of the
// orchestration packages. Behavior mirrors the pgx repository closely enough
// for pipeline-level assertions; it is not a database.
package repotest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"clinic_funnel_backend/internal/leads/domain"
	"clinic_funnel_backend/internal/leads/repository"
)

type MemStore struct {
	mu sync.Mutex

	Leads         map[uuid.UUID]*repository.Lead
	Conversations map[uuid.UUID]*repository.Conversation
	Messages      []*repository.Message
	Profiles      map[uuid.UUID]*repository.LeadProfile
	Followups     map[uuid.UUID]*repository.Followup
	Handoffs      []*repository.Handoff
	Photos        []*repository.LeadPhoto
	Timeline      []*repository.TimelineEvent

	// AgentNameWrites counts successful (first-time) persona assignments.
	AgentNameWrites map[uuid.UUID]int
}

var _ repository.Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		Leads:           make(map[uuid.UUID]*repository.Lead),
		Conversations:   make(map[uuid.UUID]*repository.Conversation),
		Profiles:        make(map[uuid.UUID]*repository.LeadProfile),
		Followups:       make(map[uuid.UUID]*repository.Followup),
		AgentNameWrites: make(map[uuid.UUID]int),
	}
}

// Leads

func (s *MemStore) GetLeadByID(_ context.Context, id uuid.UUID) (repository.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lead, ok := s.Leads[id]
	if !ok {
		return repository.Lead{}, repository.ErrNotFound
	}
	return *lead, nil
}

func (s *MemStore) GetLeadByChannelUser(_ context.Context, channel, channelUserID string) (repository.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, lead := range s.Leads {
		if lead.Channel == channel && lead.ChannelUserID == channelUserID {
			return *lead, nil
		}
	}
	return repository.Lead{}, repository.ErrNotFound
}

func (s *MemStore) CreateLead(_ context.Context, params repository.CreateLeadParams) (repository.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lead := &repository.Lead{
		ID:            uuid.New(),
		Channel:       params.Channel,
		ChannelUserID: params.ChannelUserID,
		Language:      params.Language,
		Country:       params.Country,
		Status:        domain.StatusNew,
		Tags:          []string{},
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	s.Leads[lead.ID] = lead
	return *lead, nil
}

func (s *MemStore) UpdateLeadStatus(_ context.Context, id uuid.UUID, status domain.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lead, ok := s.Leads[id]
	if !ok {
		return repository.ErrNotFound
	}
	lead.Status = status
	lead.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemStore) UpdateLeadLanguage(_ context.Context, id uuid.UUID, language string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lead, ok := s.Leads[id]; ok {
		lead.Language = language
	}
	return nil
}

func (s *MemStore) UpdateLeadDesireScore(_ context.Context, id uuid.UUID, score int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lead, ok := s.Leads[id]; ok {
		lead.DesireScore = &score
	}
	return nil
}

func (s *MemStore) UpdateLeadTreatmentCategory(_ context.Context, id uuid.UUID, category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lead, ok := s.Leads[id]; ok {
		lead.TreatmentCategory = &category
	}
	return nil
}

func (s *MemStore) AddLeadTag(_ context.Context, id uuid.UUID, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lead, ok := s.Leads[id]
	if !ok {
		return repository.ErrNotFound
	}
	for _, existing := range lead.Tags {
		if existing == tag {
			return nil
		}
	}
	lead.Tags = append(lead.Tags, tag)
	return nil
}

func (s *MemStore) SetLeadAgentName(_ context.Context, id uuid.UUID, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lead, ok := s.Leads[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if lead.AgentName != nil {
		return false, nil
	}
	lead.AgentName = &name
	s.AgentNameWrites[id]++
	return true, nil
}

func (s *MemStore) SetLeadConsent(_ context.Context, id uuid.UUID, granted bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lead, ok := s.Leads[id]
	if !ok {
		return repository.ErrNotFound
	}
	lead.ConsentGranted = granted
	lead.ConsentAt = &at
	return nil
}

func (s *MemStore) MarkPhotoTemplateSent(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lead, ok := s.Leads[id]; ok {
		lead.PhotoTemplateSent = true
	}
	return nil
}

// Conversations

func (s *MemStore) GetActiveConversation(_ context.Context, leadID uuid.UUID) (repository.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conv := range s.Conversations {
		if conv.LeadID == leadID && conv.IsActive {
			return *conv, nil
		}
	}
	return repository.Conversation{}, repository.ErrNotFound
}

func (s *MemStore) CreateConversation(_ context.Context, leadID uuid.UUID, channel string) (repository.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conv := range s.Conversations {
		if conv.LeadID == leadID && conv.IsActive {
			conv.IsActive = false
		}
	}
	conv := &repository.Conversation{
		ID:         uuid.New(),
		LeadID:     leadID,
		Channel:    channel,
		IsActive:   true,
		StateLabel: "open",
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	s.Conversations[conv.ID] = conv
	return *conv, nil
}

func (s *MemStore) IncrementConversationCounter(_ context.Context, id uuid.UUID, inbound bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.Conversations[id]
	if !ok {
		return repository.ErrNotFound
	}
	if inbound {
		conv.InboundCount++
	} else {
		conv.OutboundCount++
	}
	conv.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemStore) CloseConversation(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.Conversations[id]; ok {
		conv.IsActive = false
		conv.StateLabel = "closed"
	}
	return nil
}

// Messages

func (s *MemStore) GetMessageByChannelMessageID(_ context.Context, channel, channelMessageID string) (repository.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range s.Messages {
		if msg.ChannelMessageID == nil || *msg.ChannelMessageID != channelMessageID {
			continue
		}
		if lead, ok := s.Leads[msg.LeadID]; ok && lead.Channel == channel {
			return *msg, nil
		}
	}
	return repository.Message{}, repository.ErrNotFound
}

func (s *MemStore) CreateMessage(_ context.Context, params repository.CreateMessageParams) (repository.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := &repository.Message{
		ID:               uuid.New(),
		ConversationID:   params.ConversationID,
		LeadID:           params.LeadID,
		Direction:        params.Direction,
		SenderType:       params.SenderType,
		Content:          params.Content,
		MediaKey:         params.MediaKey,
		ChannelMessageID: params.ChannelMessageID,
		AnalysisID:       params.AnalysisID,
		CreatedAt:        time.Now().UTC(),
	}
	s.Messages = append(s.Messages, msg)
	return *msg, nil
}

func (s *MemStore) ListRecentMessages(_ context.Context, conversationID uuid.UUID, limit int) ([]repository.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 20
	}
	out := make([]repository.Message, 0)
	for _, msg := range s.Messages {
		if msg.ConversationID == conversationID {
			out = append(out, *msg)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *MemStore) LastInboundAt(_ context.Context, leadID uuid.UUID) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *time.Time
	for _, msg := range s.Messages {
		if msg.LeadID == leadID && msg.Direction == repository.DirectionIn {
			at := msg.CreatedAt
			if latest == nil || at.After(*latest) {
				latest = &at
			}
		}
	}
	return latest, nil
}

// Profiles

func (s *MemStore) GetProfile(_ context.Context, leadID uuid.UUID) (repository.LeadProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	profile, ok := s.Profiles[leadID]
	if !ok {
		return repository.LeadProfile{}, repository.ErrNotFound
	}
	return *profile, nil
}

func (s *MemStore) UpsertProfile(_ context.Context, leadID uuid.UUID, patch repository.ProfilePatch) (repository.LeadProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	profile, ok := s.Profiles[leadID]
	if !ok {
		profile = &repository.LeadProfile{LeadID: leadID}
		s.Profiles[leadID] = profile
	}
	mergeString := func(dst **string, src *string) {
		if src != nil {
			*dst = src
		}
	}
	mergeBool := func(dst **bool, src *bool) {
		if src != nil {
			*dst = src
		}
	}
	mergeString(&profile.FullName, patch.FullName)
	mergeString(&profile.Phone, patch.Phone)
	if patch.Age != nil {
		profile.Age = patch.Age
	}
	mergeString(&profile.Gender, patch.Gender)
	mergeString(&profile.City, patch.City)
	mergeString(&profile.HairLossDuration, patch.HairLossDuration)
	mergeString(&profile.MedicalConditions, patch.MedicalConditions)
	mergeString(&profile.Medications, patch.Medications)
	mergeString(&profile.Allergies, patch.Allergies)
	mergeBool(&profile.PreviousTransplant, patch.PreviousTransplant)
	mergeBool(&profile.ChronicIllness, patch.ChronicIllness)
	mergeBool(&profile.Smoking, patch.Smoking)
	mergeBool(&profile.HighMedicalRisk, patch.HighMedicalRisk)
	mergeBool(&profile.PhotoSetComplete, patch.PhotoSetComplete)
	mergeBool(&profile.ConsentAccepted, patch.ConsentAccepted)
	if patch.ConsentAcceptedAt != nil {
		profile.ConsentAcceptedAt = patch.ConsentAcceptedAt
	}
	profile.UpdatedAt = time.Now().UTC()
	return *profile, nil
}

// Follow-ups

func (s *MemStore) CreateFollowup(_ context.Context, params repository.CreateFollowupParams) (repository.Followup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := &repository.Followup{
		ID:               uuid.New(),
		LeadID:           params.LeadID,
		ConversationID:   params.ConversationID,
		Attempt:          params.Attempt,
		ScheduledAt:      params.ScheduledAt,
		Status:           repository.FollowupPending,
		Strategy:         params.Strategy,
		Tone:             params.Tone,
		SuggestedMessage: params.SuggestedMessage,
		Reasoning:        params.Reasoning,
		Confidence:       params.Confidence,
		CreatedAt:        time.Now().UTC(),
	}
	s.Followups[f.ID] = f
	return *f, nil
}

func (s *MemStore) ListDueFollowups(_ context.Context, now time.Time) ([]repository.Followup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	due := make([]repository.Followup, 0)
	for _, f := range s.Followups {
		if f.Status == repository.FollowupPending && !f.ScheduledAt.After(now) {
			due = append(due, *f)
		}
	}
	return due, nil
}

func (s *MemStore) CancelPendingFollowups(_ context.Context, leadID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cancelled int64
	for _, f := range s.Followups {
		if f.LeadID != leadID {
			continue
		}
		switch f.Status {
		case repository.FollowupPending:
			f.Status = repository.FollowupCancelled
			cancelled++
		case repository.FollowupSent:
			f.Status = repository.FollowupResponded
		}
	}
	return cancelled, nil
}

func (s *MemStore) MarkFollowupSent(_ context.Context, id uuid.UUID, at time.Time) error {
	return s.setFollowupStatus(id, repository.FollowupSent, &at)
}

func (s *MemStore) MarkFollowupFailed(_ context.Context, id uuid.UUID) error {
	return s.setFollowupStatus(id, repository.FollowupFailed, nil)
}

func (s *MemStore) MarkFollowupCancelled(_ context.Context, id uuid.UUID) error {
	return s.setFollowupStatus(id, repository.FollowupCancelled, nil)
}

func (s *MemStore) setFollowupStatus(id uuid.UUID, status string, sentAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.Followups[id]
	if !ok {
		return repository.ErrNotFound
	}
	f.Status = status
	if sentAt != nil {
		f.SentAt = sentAt
	}
	return nil
}

// Handoffs

func (s *MemStore) CreateHandoff(_ context.Context, params repository.CreateHandoffParams) (repository.Handoff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := &repository.Handoff{
		ID:             uuid.New(),
		LeadID:         params.LeadID,
		ConversationID: params.ConversationID,
		Reason:         params.Reason,
		Detail:         params.Detail,
		CreatedAt:      time.Now().UTC(),
	}
	s.Handoffs = append(s.Handoffs, h)
	return *h, nil
}

// Photos

func (s *MemStore) CreateLeadPhoto(_ context.Context, params repository.CreateLeadPhotoParams) (repository.LeadPhoto, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	photo := &repository.LeadPhoto{
		ID:           uuid.New(),
		LeadID:       params.LeadID,
		MessageID:    params.MessageID,
		StorageKey:   params.StorageKey,
		Slot:         params.Slot,
		Confidence:   params.Confidence,
		QualityScore: params.QualityScore,
		Usable:       params.Usable,
		Issues:       params.Issues,
		TakenAt:      params.TakenAt,
		CreatedAt:    time.Now().UTC(),
	}
	s.Photos = append(s.Photos, photo)
	return *photo, nil
}

func (s *MemStore) CountUsablePhotos(_ context.Context, leadID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, photo := range s.Photos {
		if photo.LeadID == leadID && photo.Usable {
			count++
		}
	}
	return count, nil
}

// Timeline

func (s *MemStore) CreateTimelineEvent(_ context.Context, params repository.CreateTimelineEventParams) (repository.TimelineEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evt := &repository.TimelineEvent{
		ID:        uuid.New(),
		LeadID:    params.LeadID,
		ActorType: params.ActorType,
		ActorName: params.ActorName,
		EventType: params.EventType,
		Title:     params.Title,
		Summary:   params.Summary,
		Metadata:  params.Metadata,
		CreatedAt: time.Now().UTC(),
	}
	s.Timeline = append(s.Timeline, evt)
	return *evt, nil
}

// Helpers for assertions

// MessagesFor returns a lead's messages in insertion order.
func (s *MemStore) MessagesFor(leadID uuid.UUID) []repository.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]repository.Message, 0)
	for _, msg := range s.Messages {
		if msg.LeadID == leadID {
			out = append(out, *msg)
		}
	}
	return out
}

// FollowupStatuses returns status counts for a lead's follow-ups.
func (s *MemStore) FollowupStatuses(leadID uuid.UUID) map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int)
	for _, f := range s.Followups {
		if f.LeadID == leadID {
			counts[f.Status]++
		}
	}
	return counts
}
