package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"gate-service/internal/domain/gate"
	"gate-service/internal/metrics"
	"gate-service/internal/notify"
	"gate-service/internal/repository"
	"gate-service/internal/storage"
	"gate-service/internal/utils"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

type EntryService struct {
	repo      *repository.EntryRepository
	artifacts storage.ArtifactStore
	publisher notify.Publisher
	metrics   *metrics.GateMetrics
	gateID    string
	log       zerolog.Logger
}

func NewEntryService(
	repo *repository.EntryRepository,
	artifacts storage.ArtifactStore,
	publisher notify.Publisher,
	gateMetrics *metrics.GateMetrics,
	gateID string,
	log zerolog.Logger,
) *EntryService {
	if publisher == nil {
		publisher = notify.NopPublisher{}
	}
	if gateMetrics == nil {
		gateMetrics, _ = metrics.NewGateMetrics(prometheus.NewRegistry())
	}
	return &EntryService{
		repo:      repo,
		artifacts: artifacts,
		publisher: publisher,
		metrics:   gateMetrics,
		gateID:    gateID,
		log:       log,
	}
}

// Register stores an active entry for a recognized vehicle. Both a readable
// plate and a face embedding are required; crops are kept as artifacts when
// an artifact store is configured.
func (s *EntryService) Register(ctx context.Context, rec *gate.Recognition) (uuid.UUID, error) {
	if !rec.HasPlate() {
		return uuid.Nil, fmt.Errorf("%w: no plate read", ErrInvalidInput)
	}
	if !rec.HasFace() {
		return uuid.Nil, fmt.Errorf("%w: no face encoded", ErrInvalidInput)
	}

	existing, err := s.repo.LookupActiveByPlate(ctx, rec.PlateText)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to check active entry: %w", err)
	}
	if existing != nil {
		s.log.Warn().
			Str("plate", rec.PlateText).
			Str("previous_id", existing.ID.String()).
			Time("previous_entry_time", existing.EntryTime).
			Msg("plate already has an active entry, newest will take precedence")
	}

	key := uuid.New().String()
	entry := gate.NewEntry{
		PlateText:       rec.PlateText,
		PlateConfidence: rec.PlateConfidence,
		FaceVector:      rec.FaceVector,
		PlateImageRef:   s.saveCrop(ctx, "plates/"+key+".jpg", rec.PlateCrop),
		FaceImageRef:    s.saveCrop(ctx, "faces/"+key+".jpg", rec.FaceCrop),
	}

	id, err := s.repo.Insert(ctx, entry)
	if err != nil {
		s.log.Error().Err(err).Str("plate", rec.PlateText).Msg("failed to create entry")
		return uuid.Nil, fmt.Errorf("failed to create entry: %w", err)
	}

	s.metrics.IncEntriesCreated()
	s.log.Info().
		Str("entry_id", id.String()).
		Str("plate", rec.PlateText).
		Float64("plate_confidence", rec.PlateConfidence).
		Int("face_dim", len(rec.FaceVector)).
		Msg("entry registered")

	if err := s.publisher.Publish(ctx, gate.Event{
		Type:       notify.EventEntry,
		Gate:       s.gateID,
		Plate:      rec.PlateText,
		RecordID:   &id,
		OccurredAt: time.Now().UTC(),
	}); err != nil {
		s.log.Debug().Err(err).Msg("entry event not published")
	}

	return id, nil
}

// saveCrop is best effort: a lost artifact must not block registration.
func (s *EntryService) saveCrop(ctx context.Context, key string, crop image.Image) string {
	if s.artifacts == nil || crop == nil {
		return ""
	}
	ref, err := storage.SaveJPEG(ctx, s.artifacts, key, crop)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("failed to store artifact")
		return ""
	}
	return ref
}

func (s *EntryService) ListEntries(ctx context.Context, plateQuery, status, from, to *string, limit, offset int) ([]EntryInfo, error) {
	filter, err := buildFilter(plateQuery, status, from, to, limit, offset)
	if err != nil {
		return nil, err
	}

	records, err := s.repo.FindEntries(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find entries: %w", err)
	}

	result := make([]EntryInfo, 0, len(records))
	for _, r := range records {
		result = append(result, toEntryInfo(r))
	}
	return result, nil
}

func (s *EntryService) GetEntry(ctx context.Context, rawID string) (*EntryInfo, error) {
	id, err := uuid.Parse(strings.TrimSpace(rawID))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid entry id", ErrInvalidInput)
	}

	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}
	if record == nil {
		return nil, fmt.Errorf("%w: entry %s", ErrNotFound, id)
	}

	info := toEntryInfo(*record)
	return &info, nil
}

// CleanupExited deletes exited entries whose exit is older than days.
func (s *EntryService) CleanupExited(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, fmt.Errorf("%w: days must be positive", ErrInvalidInput)
	}

	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
	deleted, err := s.repo.DeleteExitedBefore(ctx, cutoff)
	if err != nil {
		s.log.Error().Err(err).Int("days", days).Msg("failed to cleanup exited entries")
		return 0, err
	}
	if deleted > 0 {
		s.log.Info().Int64("deleted_count", deleted).Int("days", days).Msg("cleaned up exited entries")
	}
	return deleted, nil
}

func buildFilter(plateQuery, status, from, to *string, limit, offset int) (repository.EntryFilter, error) {
	var filter repository.EntryFilter

	if plateQuery != nil {
		normalized := utils.NormalizePlate(*plateQuery)
		if normalized != "" {
			filter.Plate = &normalized
		}
	}

	if status != nil && *status != "" {
		st := gate.EntryStatus(strings.ToLower(strings.TrimSpace(*status)))
		if st != gate.StatusActive && st != gate.StatusExited {
			return filter, fmt.Errorf("%w: status must be active or exited", ErrInvalidInput)
		}
		filter.Status = &st
	}

	if from != nil && *from != "" {
		t, err := time.Parse(time.RFC3339, *from)
		if err != nil {
			return filter, fmt.Errorf("%w: invalid from time format", ErrInvalidInput)
		}
		filter.From = &t
	}
	if to != nil && *to != "" {
		t, err := time.Parse(time.RFC3339, *to)
		if err != nil {
			return filter, fmt.Errorf("%w: invalid to time format", ErrInvalidInput)
		}
		filter.To = &t
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return filter, fmt.Errorf("%w: to is before from", ErrInvalidInput)
	}

	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	filter.Limit = limit
	filter.Offset = offset

	return filter, nil
}

type EntryInfo struct {
	ID              string     `json:"id"`
	PlateText       string     `json:"plate_text"`
	PlateConfidence float64    `json:"plate_confidence"`
	FaceDimension   int        `json:"face_dimension"`
	PlateImageRef   *string    `json:"plate_image_ref,omitempty"`
	FaceImageRef    *string    `json:"face_image_ref,omitempty"`
	EntryTime       time.Time  `json:"entry_time"`
	ExitTime        *time.Time `json:"exit_time,omitempty"`
	Status          string     `json:"status"`
}

func toEntryInfo(r gate.EntryRecord) EntryInfo {
	info := EntryInfo{
		ID:              r.ID.String(),
		PlateText:       r.PlateText,
		PlateConfidence: r.PlateConfidence,
		FaceDimension:   len(r.FaceVector),
		EntryTime:       r.EntryTime,
		ExitTime:        r.ExitTime,
		Status:          string(r.Status),
	}
	if r.PlateImageRef != "" {
		ref := r.PlateImageRef
		info.PlateImageRef = &ref
	}
	if r.FaceImageRef != "" {
		ref := r.FaceImageRef
		info.FaceImageRef = &ref
	}
	return info
}
