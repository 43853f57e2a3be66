package repository

import (
	"context"
	"errors"
	"time"

	"clinic_funnel_backend/internal/leads/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("not found")

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type Lead struct {
	ID                uuid.UUID
	Channel           string
	ChannelUserID     string
	Language          string
	Country           string
	Status            domain.Status
	DesireScore       *int
	TreatmentCategory *string
	Tags              []string
	AgentName         *string
	ConsentGranted    bool
	ConsentAt         *time.Time
	PhotoTemplateSent bool
	PricingApproved   bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

const leadColumns = `id, channel, channel_user_id, language, country, status, desire_score,
	treatment_category, tags, agent_name, consent_granted, consent_at,
	photo_template_sent, pricing_approved, created_at, updated_at`

func scanLead(row pgx.Row) (Lead, error) {
	var lead Lead
	err := row.Scan(
		&lead.ID, &lead.Channel, &lead.ChannelUserID, &lead.Language, &lead.Country,
		&lead.Status, &lead.DesireScore, &lead.TreatmentCategory, &lead.Tags,
		&lead.AgentName, &lead.ConsentGranted, &lead.ConsentAt,
		&lead.PhotoTemplateSent, &lead.PricingApproved, &lead.CreatedAt, &lead.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	return lead, err
}

func (r *Repository) GetLeadByID(ctx context.Context, id uuid.UUID) (Lead, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id)
	return scanLead(row)
}

// GetLeadByChannelUser resolves a lead by its channel identity. This is the
// lookup the ingestion pipeline uses to decide create-vs-reuse.
func (r *Repository) GetLeadByChannelUser(ctx context.Context, channel, channelUserID string) (Lead, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE channel = $1 AND channel_user_id = $2
	`, channel, channelUserID)
	return scanLead(row)
}

type CreateLeadParams struct {
	Channel       string
	ChannelUserID string
	Language      string
	Country       string
}

func (r *Repository) CreateLead(ctx context.Context, params CreateLeadParams) (Lead, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO leads (channel, channel_user_id, language, country, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+leadColumns,
		params.Channel, params.ChannelUserID, params.Language, params.Country, domain.StatusNew,
	)
	return scanLead(row)
}

func (r *Repository) UpdateLeadStatus(ctx context.Context, id uuid.UUID, status domain.Status) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads SET status = $2, updated_at = now() WHERE id = $1
	`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) UpdateLeadLanguage(ctx context.Context, id uuid.UUID, language string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE leads SET language = $2, updated_at = now() WHERE id = $1
	`, id, language)
	return err
}

func (r *Repository) UpdateLeadDesireScore(ctx context.Context, id uuid.UUID, score int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE leads SET desire_score = $2, updated_at = now() WHERE id = $1
	`, id, score)
	return err
}

func (r *Repository) UpdateLeadTreatmentCategory(ctx context.Context, id uuid.UUID, category string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE leads SET treatment_category = $2, updated_at = now() WHERE id = $1
	`, id, category)
	return err
}

// AddLeadTag appends a tag unless it is already present.
func (r *Repository) AddLeadTag(ctx context.Context, id uuid.UUID, tag string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET tags = array_append(tags, $2), updated_at = now()
		WHERE id = $1 AND NOT ($2 = ANY(tags))
	`, id, tag)
	return err
}

// SetLeadAgentName assigns the persona name exactly once; a second call is a
// no-op so re-consent never reshuffles the assigned agent.
func (r *Repository) SetLeadAgentName(ctx context.Context, id uuid.UUID, name string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads SET agent_name = $2, updated_at = now()
		WHERE id = $1 AND agent_name IS NULL
	`, id, name)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) SetLeadConsent(ctx context.Context, id uuid.UUID, granted bool, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE leads SET consent_granted = $2, consent_at = $3, updated_at = now() WHERE id = $1
	`, id, granted, at)
	return err
}

func (r *Repository) MarkPhotoTemplateSent(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE leads SET photo_template_sent = true, updated_at = now() WHERE id = $1
	`, id)
	return err
}
