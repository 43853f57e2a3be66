package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type Conversation struct {
	ID           uuid.UUID
	LeadID       uuid.UUID
	Channel      string
	IsActive     bool
	StateLabel   string
	InboundCount int
	OutboundCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

const conversationColumns = `id, lead_id, channel, is_active, state_label, inbound_count, outbound_count, created_at, updated_at`

func scanConversation(row pgx.Row) (Conversation, error) {
	var conv Conversation
	err := row.Scan(
		&conv.ID, &conv.LeadID, &conv.Channel, &conv.IsActive, &conv.StateLabel,
		&conv.InboundCount, &conv.OutboundCount, &conv.CreatedAt, &conv.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	return conv, err
}

// GetActiveConversation returns the single active conversation for a lead.
func (r *Repository) GetActiveConversation(ctx context.Context, leadID uuid.UUID) (Conversation, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE lead_id = $1 AND is_active = true
		ORDER BY created_at DESC
		LIMIT 1
	`, leadID)
	return scanConversation(row)
}

// CreateConversation opens a new active conversation, closing any prior
// active one first so the one-active-conversation invariant holds.
func (r *Repository) CreateConversation(ctx context.Context, leadID uuid.UUID, channel string) (Conversation, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Conversation{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		UPDATE conversations SET is_active = false, updated_at = now()
		WHERE lead_id = $1 AND is_active = true
	`, leadID); err != nil {
		return Conversation{}, err
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO conversations (lead_id, channel, is_active, state_label)
		VALUES ($1, $2, true, 'open')
		RETURNING `+conversationColumns,
		leadID, channel,
	)
	conv, err := scanConversation(row)
	if err != nil {
		return Conversation{}, err
	}

	return conv, tx.Commit(ctx)
}

func (r *Repository) IncrementConversationCounter(ctx context.Context, id uuid.UUID, inbound bool) error {
	column := "outbound_count"
	if inbound {
		column = "inbound_count"
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE conversations SET `+column+` = `+column+` + 1, updated_at = now() WHERE id = $1
	`, id)
	return err
}

func (r *Repository) CloseConversation(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE conversations SET is_active = false, state_label = 'closed', updated_at = now()
		WHERE id = $1
	`, id)
	return err
}
