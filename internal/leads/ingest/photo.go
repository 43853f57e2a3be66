package ingest

import (
	"bytes"
	"context"
	"time"

	"github.com/rwcarlsen/goexif/exif"

	"clinic_funnel_backend/internal/leads/repository"
)

// capturePhoto runs the photo side path: download from the channel, read
// EXIF, grade via the vision service, store the bytes and persist the row.
// Failures here are isolated; message ingestion continues regardless.
func (p *Pipeline) capturePhoto(ctx context.Context, lead repository.Lead, message repository.Message, mediaID, contentType string) error {
	adapter, err := p.registry.Get(lead.Channel)
	if err != nil {
		return err
	}

	data, downloadedType, err := adapter.DownloadMedia(ctx, mediaID)
	if err != nil {
		return err
	}
	if downloadedType != "" {
		contentType = downloadedType
	}

	takenAt := exifTakenAt(data)
	analysis := p.vision.AnalyzePhoto(ctx, data, contentType)

	storageKey, err := p.photos.StorePhoto(ctx, lead.ID, data, contentType)
	if err != nil {
		return err
	}

	_, err = p.store.CreateLeadPhoto(ctx, repository.CreateLeadPhotoParams{
		LeadID:       lead.ID,
		MessageID:    message.ID,
		StorageKey:   storageKey,
		Slot:         analysis.Slot,
		Confidence:   analysis.Confidence,
		QualityScore: analysis.QualityScore,
		Usable:       analysis.Usable,
		Issues:       analysis.Issues,
		TakenAt:      takenAt,
	})
	return err
}

// exifTakenAt extracts the capture timestamp when the photo carries EXIF.
// Screenshots and forwarded images usually don't; that's fine.
func exifTakenAt(data []byte) *time.Time {
	meta, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	taken, err := meta.DateTime()
	if err != nil {
		return nil
	}
	return &taken
}
