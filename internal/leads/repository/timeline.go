package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TimelineEvent is an operator-facing audit entry on a lead: state changes,
// clinical alerts, template skips. Never read by the pipeline itself.
type TimelineEvent struct {
	ID        uuid.UUID
	LeadID    uuid.UUID
	ActorType string // "System", "AI", "Human"
	ActorName string
	EventType string // "state_change", "alert", "note"
	Title     string
	Summary   *string
	Metadata  map[string]any
	CreatedAt time.Time
}

type CreateTimelineEventParams struct {
	LeadID    uuid.UUID
	ActorType string
	ActorName string
	EventType string
	Title     string
	Summary   *string
	Metadata  map[string]any
}

func (r *Repository) CreateTimelineEvent(ctx context.Context, params CreateTimelineEventParams) (TimelineEvent, error) {
	metadata := params.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return TimelineEvent{}, err
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO lead_timeline_events (lead_id, actor_type, actor_name, event_type, title, summary, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, lead_id, actor_type, actor_name, event_type, title, summary, metadata, created_at
	`, params.LeadID, params.ActorType, params.ActorName, params.EventType, params.Title, params.Summary, raw)

	var evt TimelineEvent
	var rawOut []byte
	if err := row.Scan(&evt.ID, &evt.LeadID, &evt.ActorType, &evt.ActorName, &evt.EventType, &evt.Title, &evt.Summary, &rawOut, &evt.CreatedAt); err != nil {
		return TimelineEvent{}, err
	}
	if len(rawOut) > 0 {
		_ = json.Unmarshal(rawOut, &evt.Metadata)
	}
	return evt, nil
}
