package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"gate-service/internal/domain/gate"
)

const maxPageSize = 100

type EntryRepository struct {
	db *gorm.DB
}

func NewEntryRepository(db *gorm.DB) *EntryRepository {
	return &EntryRepository{db: db}
}

func (Entry) TableName() string {
	return "gate_entries"
}

// Entry mirrors the gate_entries DDL in internal/db, including its constraint
// and index names.
type Entry struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey"`
	PlateText       string         `gorm:"not null;index:idx_gate_entries_active_plate,priority:1,where:status = 'active'"`
	PlateConfidence float64        `gorm:"type:double precision;not null;default:0"`
	FaceVector      datatypes.JSON `gorm:"not null"`
	PlateImageRef   *string
	FaceImageRef    *string
	EntryTime       time.Time  `gorm:"not null;index:idx_gate_entries_active_plate,priority:2,sort:desc;index:idx_gate_entries_entry_time"`
	ExitTime        *time.Time
	Status          string `gorm:"not null;default:active;index:idx_gate_entries_status;check:gate_entries_status_check,status IN ('active','exited')"`
}

type EntryFilter struct {
	Plate  *string
	Status *gate.EntryStatus
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

// EnsureSchema creates the entries table from the model. Postgres deployments
// get the table from the migrations in internal/db; this is for databases
// that DDL cannot run on. Safe to call repeatedly.
func (r *EntryRepository) EnsureSchema(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&Entry{}); err != nil {
		return fmt.Errorf("migrate gate_entries: %w", err)
	}
	return nil
}

func (r *EntryRepository) Insert(ctx context.Context, entry gate.NewEntry) (uuid.UUID, error) {
	vector, err := json.Marshal(entry.FaceVector)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal face vector: %w", err)
	}

	row := Entry{
		ID:              uuid.New(),
		PlateText:       entry.PlateText,
		PlateConfidence: entry.PlateConfidence,
		FaceVector:      datatypes.JSON(vector),
		EntryTime:       time.Now(),
		Status:          string(gate.StatusActive),
	}
	if entry.PlateImageRef != "" {
		row.PlateImageRef = &entry.PlateImageRef
	}
	if entry.FaceImageRef != "" {
		row.FaceImageRef = &entry.FaceImageRef
	}

	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return uuid.Nil, fmt.Errorf("failed to create entry in database: %w", err)
	}
	return row.ID, nil
}

// LookupActiveByPlate returns the most recent active entry for the exact
// plate string, or nil when there is none.
func (r *EntryRepository) LookupActiveByPlate(ctx context.Context, plate string) (*gate.EntryRecord, error) {
	var row Entry
	err := r.db.WithContext(ctx).
		Where("plate_text = ? AND status = ?", plate, string(gate.StatusActive)).
		Order("entry_time DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup active entry: %w", err)
	}
	return row.toRecord()
}

// MarkExited closes an active entry. It reports 0 when the entry is unknown
// or already exited, so the loser of two concurrent exits sees 0.
func (r *EntryRepository) MarkExited(ctx context.Context, id uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&Entry{}).
		Where("id = ? AND status = ?", id, string(gate.StatusActive)).
		Updates(map[string]interface{}{
			"status":    string(gate.StatusExited),
			"exit_time": time.Now(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("mark entry exited: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *EntryRepository) GetByID(ctx context.Context, id uuid.UUID) (*gate.EntryRecord, error) {
	var row Entry
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toRecord()
}

func (r *EntryRepository) FindEntries(ctx context.Context, filter EntryFilter) ([]gate.EntryRecord, error) {
	query := r.db.WithContext(ctx).Model(&Entry{})

	if filter.Plate != nil {
		query = query.Where("plate_text = ?", *filter.Plate)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", string(*filter.Status))
	}
	if filter.From != nil {
		query = query.Where("entry_time >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("entry_time <= ?", *filter.To)
	}

	query = query.Order("entry_time DESC")

	if filter.Limit > 0 {
		limit := filter.Limit
		if limit > maxPageSize {
			limit = maxPageSize
		}
		query = query.Limit(limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var rows []Entry
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	records := make([]gate.EntryRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}

// DeleteExitedBefore removes closed entries whose exit happened before cutoff.
// Active entries are never touched.
func (r *EntryRepository) DeleteExitedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status = ? AND exit_time < ?", string(gate.StatusExited), cutoff).
		Delete(&Entry{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (e Entry) toRecord() (*gate.EntryRecord, error) {
	var vector []float64
	if len(e.FaceVector) > 0 {
		if err := json.Unmarshal(e.FaceVector, &vector); err != nil {
			return nil, fmt.Errorf("decode face vector of entry %s: %w", e.ID, err)
		}
	}

	rec := &gate.EntryRecord{
		ID:              e.ID,
		PlateText:       e.PlateText,
		PlateConfidence: e.PlateConfidence,
		FaceVector:      vector,
		EntryTime:       e.EntryTime,
		ExitTime:        e.ExitTime,
		Status:          gate.EntryStatus(e.Status),
	}
	if e.PlateImageRef != nil {
		rec.PlateImageRef = *e.PlateImageRef
	}
	if e.FaceImageRef != nil {
		rec.FaceImageRef = *e.FaceImageRef
	}
	return rec, nil
}
