package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Followup statuses.
const (
	FollowupPending   = "pending"
	FollowupSent      = "sent"
	FollowupResponded = "responded"
	FollowupCancelled = "cancelled"
	FollowupFailed    = "failed"
)

type Followup struct {
	ID               uuid.UUID
	LeadID           uuid.UUID
	ConversationID   uuid.UUID
	Attempt          int
	ScheduledAt      time.Time
	Status           string
	Strategy         *string
	Tone             *string
	SuggestedMessage *string
	Reasoning        *string
	Confidence       *float64
	SentAt           *time.Time
	CreatedAt        time.Time
}

const followupColumns = `id, lead_id, conversation_id, attempt, scheduled_at, status,
	strategy, tone, suggested_message, reasoning, confidence, sent_at, created_at`

func scanFollowup(row pgx.Row) (Followup, error) {
	var f Followup
	err := row.Scan(
		&f.ID, &f.LeadID, &f.ConversationID, &f.Attempt, &f.ScheduledAt, &f.Status,
		&f.Strategy, &f.Tone, &f.SuggestedMessage, &f.Reasoning, &f.Confidence,
		&f.SentAt, &f.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Followup{}, ErrNotFound
	}
	return f, err
}

type CreateFollowupParams struct {
	LeadID           uuid.UUID
	ConversationID   uuid.UUID
	Attempt          int
	ScheduledAt      time.Time
	Strategy         *string
	Tone             *string
	SuggestedMessage *string
	Reasoning        *string
	Confidence       *float64
}

func (r *Repository) CreateFollowup(ctx context.Context, params CreateFollowupParams) (Followup, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO followups (lead_id, conversation_id, attempt, scheduled_at, status,
			strategy, tone, suggested_message, reasoning, confidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+followupColumns,
		params.LeadID, params.ConversationID, params.Attempt, params.ScheduledAt, FollowupPending,
		params.Strategy, params.Tone, params.SuggestedMessage, params.Reasoning, params.Confidence,
	)
	return scanFollowup(row)
}

// ListDueFollowups returns pending follow-ups whose scheduled time has
// passed, oldest first.
func (r *Repository) ListDueFollowups(ctx context.Context, now time.Time) ([]Followup, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+followupColumns+`
		FROM followups
		WHERE status = $1 AND scheduled_at <= $2
		ORDER BY scheduled_at ASC
	`, FollowupPending, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	followups := make([]Followup, 0)
	for rows.Next() {
		var f Followup
		if err := rows.Scan(
			&f.ID, &f.LeadID, &f.ConversationID, &f.Attempt, &f.ScheduledAt, &f.Status,
			&f.Strategy, &f.Tone, &f.SuggestedMessage, &f.Reasoning, &f.Confidence,
			&f.SentAt, &f.CreatedAt,
		); err != nil {
			return nil, err
		}
		followups = append(followups, f)
	}

	return followups, rows.Err()
}

// CancelPendingFollowups bulk-cancels a lead's scheduled nudges and marks
// already-sent ones as responded. Called whenever the lead writes to us; the
// user responding always overrides a planned nudge.
func (r *Repository) CancelPendingFollowups(ctx context.Context, leadID uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE followups SET status = $2 WHERE lead_id = $1 AND status = $3
	`, leadID, FollowupCancelled, FollowupPending)
	if err != nil {
		return 0, err
	}
	cancelled := tag.RowsAffected()

	_, err = r.pool.Exec(ctx, `
		UPDATE followups SET status = $2 WHERE lead_id = $1 AND status = $3
	`, leadID, FollowupResponded, FollowupSent)
	return cancelled, err
}

func (r *Repository) MarkFollowupSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE followups SET status = $2, sent_at = $3 WHERE id = $1
	`, id, FollowupSent, at)
	return err
}

func (r *Repository) MarkFollowupFailed(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE followups SET status = $2 WHERE id = $1
	`, id, FollowupFailed)
	return err
}

func (r *Repository) MarkFollowupCancelled(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE followups SET status = $2 WHERE id = $1
	`, id, FollowupCancelled)
	return err
}
