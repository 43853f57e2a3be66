package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// LeadPhoto is one stored treatment photo with its vision verdict.
type LeadPhoto struct {
	ID           uuid.UUID
	LeadID       uuid.UUID
	MessageID    uuid.UUID
	StorageKey   string
	Slot         string
	Confidence   float64
	QualityScore float64
	Usable       bool
	Issues       []string
	TakenAt      *time.Time
	CreatedAt    time.Time
}

type CreateLeadPhotoParams struct {
	LeadID       uuid.UUID
	MessageID    uuid.UUID
	StorageKey   string
	Slot         string
	Confidence   float64
	QualityScore float64
	Usable       bool
	Issues       []string
	TakenAt      *time.Time
}

func (r *Repository) CreateLeadPhoto(ctx context.Context, params CreateLeadPhotoParams) (LeadPhoto, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO lead_photos (lead_id, message_id, storage_key, slot, confidence, quality_score, usable, issues, taken_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, lead_id, message_id, storage_key, slot, confidence, quality_score, usable, issues, taken_at, created_at
	`,
		params.LeadID, params.MessageID, params.StorageKey, params.Slot, params.Confidence,
		params.QualityScore, params.Usable, params.Issues, params.TakenAt,
	)

	var photo LeadPhoto
	err := row.Scan(
		&photo.ID, &photo.LeadID, &photo.MessageID, &photo.StorageKey, &photo.Slot,
		&photo.Confidence, &photo.QualityScore, &photo.Usable, &photo.Issues,
		&photo.TakenAt, &photo.CreatedAt,
	)
	return photo, err
}

// CountUsablePhotos returns how many usable photos a lead has uploaded,
// which the photo-completion guard compares against the required set size.
func (r *Repository) CountUsablePhotos(ctx context.Context, leadID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM lead_photos WHERE lead_id = $1 AND usable = true
	`, leadID).Scan(&count)
	return count, err
}
