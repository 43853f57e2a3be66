package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// LeadProfile is the one-to-one structured-facts extension of a lead. All
// fields except the key are nullable: absence means "not yet extracted",
// never "false" or "empty".
type LeadProfile struct {
	LeadID             uuid.UUID
	FullName           *string
	Phone              *string
	Age                *int
	Gender             *string
	City               *string
	HairLossDuration   *string
	MedicalConditions  *string
	Medications        *string
	Allergies          *string
	PreviousTransplant *bool
	ChronicIllness     *bool
	Smoking            *bool
	HighMedicalRisk    *bool
	PhotoSetComplete   *bool
	ConsentAccepted    *bool
	ConsentAcceptedAt  *time.Time
	UpdatedAt          time.Time
}

// HasMinimumInfo reports whether the profile carries enough to justify a
// photo request: a name plus at least one answered medical question.
func (p LeadProfile) HasMinimumInfo() bool {
	if p.FullName == nil || *p.FullName == "" {
		return false
	}
	return p.MedicalConditions != nil ||
		p.Medications != nil ||
		p.Allergies != nil ||
		p.PreviousTransplant != nil ||
		p.ChronicIllness != nil ||
		p.Smoking != nil
}

// ProfilePatch is a merge-upsert payload. Nil fields are no-ops; set fields
// overwrite. Booleans only appear here after explicit yes/no extraction.
type ProfilePatch struct {
	FullName           *string
	Phone              *string
	Age                *int
	Gender             *string
	City               *string
	HairLossDuration   *string
	MedicalConditions  *string
	Medications        *string
	Allergies          *string
	PreviousTransplant *bool
	ChronicIllness     *bool
	Smoking            *bool
	HighMedicalRisk    *bool
	PhotoSetComplete   *bool
	ConsentAccepted    *bool
	ConsentAcceptedAt  *time.Time
}

// IsEmpty reports whether the patch would change nothing.
func (p ProfilePatch) IsEmpty() bool {
	return p.FullName == nil && p.Phone == nil && p.Age == nil && p.Gender == nil &&
		p.City == nil && p.HairLossDuration == nil && p.MedicalConditions == nil &&
		p.Medications == nil && p.Allergies == nil && p.PreviousTransplant == nil &&
		p.ChronicIllness == nil && p.Smoking == nil && p.HighMedicalRisk == nil &&
		p.PhotoSetComplete == nil && p.ConsentAccepted == nil && p.ConsentAcceptedAt == nil
}

const profileColumns = `lead_id, full_name, phone, age, gender, city, hair_loss_duration,
	medical_conditions, medications, allergies, previous_transplant, chronic_illness,
	smoking, high_medical_risk, photo_set_complete, consent_accepted, consent_accepted_at, updated_at`

func scanProfile(row pgx.Row) (LeadProfile, error) {
	var p LeadProfile
	err := row.Scan(
		&p.LeadID, &p.FullName, &p.Phone, &p.Age, &p.Gender, &p.City, &p.HairLossDuration,
		&p.MedicalConditions, &p.Medications, &p.Allergies, &p.PreviousTransplant,
		&p.ChronicIllness, &p.Smoking, &p.HighMedicalRisk, &p.PhotoSetComplete,
		&p.ConsentAccepted, &p.ConsentAcceptedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return LeadProfile{}, ErrNotFound
	}
	return p, err
}

func (r *Repository) GetProfile(ctx context.Context, leadID uuid.UUID) (LeadProfile, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM lead_profiles WHERE lead_id = $1`, leadID)
	return scanProfile(row)
}

// UpsertProfile patches the profile field-by-field. COALESCE($n, column)
// keeps the stored value whenever the patch field is nil, so the row is
// never overwritten wholesale.
func (r *Repository) UpsertProfile(ctx context.Context, leadID uuid.UUID, patch ProfilePatch) (LeadProfile, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO lead_profiles (
			lead_id, full_name, phone, age, gender, city, hair_loss_duration,
			medical_conditions, medications, allergies, previous_transplant,
			chronic_illness, smoking, high_medical_risk, photo_set_complete,
			consent_accepted, consent_accepted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (lead_id) DO UPDATE SET
			full_name           = COALESCE($2, lead_profiles.full_name),
			phone               = COALESCE($3, lead_profiles.phone),
			age                 = COALESCE($4, lead_profiles.age),
			gender              = COALESCE($5, lead_profiles.gender),
			city                = COALESCE($6, lead_profiles.city),
			hair_loss_duration  = COALESCE($7, lead_profiles.hair_loss_duration),
			medical_conditions  = COALESCE($8, lead_profiles.medical_conditions),
			medications         = COALESCE($9, lead_profiles.medications),
			allergies           = COALESCE($10, lead_profiles.allergies),
			previous_transplant = COALESCE($11, lead_profiles.previous_transplant),
			chronic_illness     = COALESCE($12, lead_profiles.chronic_illness),
			smoking             = COALESCE($13, lead_profiles.smoking),
			high_medical_risk   = COALESCE($14, lead_profiles.high_medical_risk),
			photo_set_complete  = COALESCE($15, lead_profiles.photo_set_complete),
			consent_accepted    = COALESCE($16, lead_profiles.consent_accepted),
			consent_accepted_at = COALESCE($17, lead_profiles.consent_accepted_at),
			updated_at          = now()
		RETURNING `+profileColumns,
		leadID, patch.FullName, patch.Phone, patch.Age, patch.Gender, patch.City,
		patch.HairLossDuration, patch.MedicalConditions, patch.Medications, patch.Allergies,
		patch.PreviousTransplant, patch.ChronicIllness, patch.Smoking, patch.HighMedicalRisk,
		patch.PhotoSetComplete, patch.ConsentAccepted, patch.ConsentAcceptedAt,
	)
	return scanProfile(row)
}
