package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Handoff is an escalation record handed to human operators. Rows are created
// once per escalation; resolution fields are owned by the human-ops tooling.
type Handoff struct {
	ID             uuid.UUID
	LeadID         uuid.UUID
	ConversationID *uuid.UUID
	Reason         string
	Detail         *string
	ResolvedAt     *time.Time
	ResolvedBy     *string
	CreatedAt      time.Time
}

const handoffColumns = `id, lead_id, conversation_id, reason, detail, resolved_at, resolved_by, created_at`

type CreateHandoffParams struct {
	LeadID         uuid.UUID
	ConversationID *uuid.UUID
	Reason         string
	Detail         *string
}

func (r *Repository) CreateHandoff(ctx context.Context, params CreateHandoffParams) (Handoff, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO handoffs (lead_id, conversation_id, reason, detail)
		VALUES ($1, $2, $3, $4)
		RETURNING `+handoffColumns,
		params.LeadID, params.ConversationID, params.Reason, params.Detail,
	)

	var h Handoff
	err := row.Scan(&h.ID, &h.LeadID, &h.ConversationID, &h.Reason, &h.Detail, &h.ResolvedAt, &h.ResolvedBy, &h.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Handoff{}, ErrNotFound
	}
	return h, err
}
