// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"clinic_funnel_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// LeadCreated is published when a first inbound message creates a lead.
type LeadCreated struct {
	BaseEvent
	LeadID        uuid.UUID `json:"leadId"`
	Channel       string    `json:"channel"`
	ChannelUserID string    `json:"channelUserId"`
	Language      string    `json:"language"`
}

func (e LeadCreated) EventName() string { return "funnel.lead.created" }

// LeadStatusChanged is published after a persisted state-machine transition.
type LeadStatusChanged struct {
	BaseEvent
	LeadID    uuid.UUID `json:"leadId"`
	OldStatus string    `json:"oldStatus"`
	NewStatus string    `json:"newStatus"`
	Trigger   string    `json:"trigger"` // "ingest", "applier", "followup", "consent"
}

func (e LeadStatusChanged) EventName() string { return "funnel.lead.status_changed" }

// HandoffCreated is published when a conversation escalates to a human.
type HandoffCreated struct {
	BaseEvent
	LeadID    uuid.UUID `json:"leadId"`
	HandoffID uuid.UUID `json:"handoffId"`
	Reason    string    `json:"reason"`
}

func (e HandoffCreated) EventName() string { return "funnel.handoff.created" }

// FollowupScheduled is published when a nudge is put on the calendar.
type FollowupScheduled struct {
	BaseEvent
	LeadID     uuid.UUID `json:"leadId"`
	FollowupID uuid.UUID `json:"followupId"`
	Attempt    int       `json:"attempt"`
	Strategy   string    `json:"strategy,omitempty"`
}

func (e FollowupScheduled) EventName() string { return "funnel.followup.scheduled" }
