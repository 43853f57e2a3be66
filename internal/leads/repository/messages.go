package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Message directions and sender types.
const (
	DirectionIn  = "in"
	DirectionOut = "out"

	SenderPatient = "patient"
	SenderAI      = "ai"
	SenderSystem  = "system"
	SenderHuman   = "human"
)

// Message is one immutable inbound or outbound unit.
type Message struct {
	ID               uuid.UUID
	ConversationID   uuid.UUID
	LeadID           uuid.UUID
	Direction        string // "in" or "out"
	SenderType       string // "patient", "ai", "system", "human"
	Content          string
	MediaKey         *string
	ChannelMessageID *string
	AnalysisID       *uuid.UUID
	CreatedAt        time.Time
}

const messageColumns = `id, conversation_id, lead_id, direction, sender_type, content, media_key, channel_message_id, analysis_id, created_at`

func scanMessage(row pgx.Row) (Message, error) {
	var msg Message
	err := row.Scan(
		&msg.ID, &msg.ConversationID, &msg.LeadID, &msg.Direction, &msg.SenderType,
		&msg.Content, &msg.MediaKey, &msg.ChannelMessageID, &msg.AnalysisID, &msg.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	return msg, err
}

// GetMessageByChannelMessageID is the idempotency gate lookup. ErrNotFound
// means the channel-native message id has not been seen before.
func (r *Repository) GetMessageByChannelMessageID(ctx context.Context, channel, channelMessageID string) (Message, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT m.id, m.conversation_id, m.lead_id, m.direction, m.sender_type,
			m.content, m.media_key, m.channel_message_id, m.analysis_id, m.created_at
		FROM messages m
		JOIN leads l ON l.id = m.lead_id
		WHERE l.channel = $1 AND m.channel_message_id = $2
	`, channel, channelMessageID)
	return scanMessage(row)
}

type CreateMessageParams struct {
	ConversationID   uuid.UUID
	LeadID           uuid.UUID
	Direction        string
	SenderType       string
	Content          string
	MediaKey         *string
	ChannelMessageID *string
	AnalysisID       *uuid.UUID
}

func (r *Repository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO messages (conversation_id, lead_id, direction, sender_type, content, media_key, channel_message_id, analysis_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+messageColumns,
		params.ConversationID, params.LeadID, params.Direction, params.SenderType,
		params.Content, params.MediaKey, params.ChannelMessageID, params.AnalysisID,
	)
	return scanMessage(row)
}

// ListRecentMessages returns the newest messages for a conversation in
// chronological order, capped at limit. This is the history window handed to
// the AI service.
func (r *Repository) ListRecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
		SELECT * FROM (
			SELECT `+messageColumns+`
			FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent ORDER BY created_at ASC
	`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]Message, 0, limit)
	for rows.Next() {
		var msg Message
		if err := rows.Scan(
			&msg.ID, &msg.ConversationID, &msg.LeadID, &msg.Direction, &msg.SenderType,
			&msg.Content, &msg.MediaKey, &msg.ChannelMessageID, &msg.AnalysisID, &msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// LastInboundAt returns when the lead last wrote to us.
func (r *Repository) LastInboundAt(ctx context.Context, leadID uuid.UUID) (*time.Time, error) {
	var at *time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT max(created_at) FROM messages WHERE lead_id = $1 AND direction = 'in'
	`, leadID).Scan(&at)
	if err != nil {
		return nil, err
	}
	return at, nil
}
