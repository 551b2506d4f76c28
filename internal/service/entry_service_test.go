package service

import (
	"context"
	"errors"
	"image"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"gate-service/internal/domain/gate"
	"gate-service/internal/metrics"
	"gate-service/internal/notify"
	"gate-service/internal/repository"
	"gate-service/internal/storage"
)

type entryFixture struct {
	svc       *EntryService
	repo      *repository.EntryRepository
	db        *gorm.DB
	publisher *recordingPublisher
	metrics   *metrics.GateMetrics
}

func setupEntryService(t *testing.T, withArtifacts bool) *entryFixture {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err, "failed to initialize test database")
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	repo := repository.NewEntryRepository(db)
	require.NoError(t, repo.EnsureSchema(context.Background()))

	var artifacts storage.ArtifactStore
	if withArtifacts {
		local, err := storage.NewLocalStore(t.TempDir())
		require.NoError(t, err)
		artifacts = local
	}

	gateMetrics, err := metrics.NewGateMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	publisher := &recordingPublisher{}
	return &entryFixture{
		svc:       NewEntryService(repo, artifacts, publisher, gateMetrics, "gate-1", zerolog.Nop()),
		repo:      repo,
		db:        db,
		publisher: publisher,
		metrics:   gateMetrics,
	}
}

func TestEntryService_Register(t *testing.T) {
	f := setupEntryService(t, true)
	ctx := context.Background()

	rec := recognition(registeredPlate, []float64{0.1, 0.2, 0.3})
	rec.PlateCrop = image.NewRGBA(image.Rect(0, 0, 16, 8))
	rec.FaceCrop = image.NewRGBA(image.Rect(0, 0, 8, 8))

	id, err := f.svc.Register(ctx, rec)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)

	stored, err := f.repo.LookupActiveByPlate(ctx, registeredPlate)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, id, stored.ID)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, stored.FaceVector)
	assert.InDelta(t, 0.9, stored.PlateConfidence, 1e-9)

	require.NotEmpty(t, stored.PlateImageRef)
	require.NotEmpty(t, stored.FaceImageRef)
	_, err = os.Stat(stored.PlateImageRef)
	assert.NoError(t, err)
	_, err = os.Stat(stored.FaceImageRef)
	assert.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.EntriesCreated))
	assert.Equal(t, []string{notify.EventEntry}, f.publisher.types())
}

func TestEntryService_RegisterWithoutArtifactStore(t *testing.T) {
	f := setupEntryService(t, false)

	rec := recognition(registeredPlate, []float64{1, 0, 0})
	rec.PlateCrop = image.NewRGBA(image.Rect(0, 0, 16, 8))

	id, err := f.svc.Register(context.Background(), rec)
	require.NoError(t, err)

	info, err := f.svc.GetEntry(context.Background(), id.String())
	require.NoError(t, err)
	assert.Nil(t, info.PlateImageRef)
	assert.Nil(t, info.FaceImageRef)
}

func TestEntryService_RegisterRejectsIncompleteRecognition(t *testing.T) {
	tests := []struct {
		name string
		rec  *gate.Recognition
	}{
		{"nil", nil},
		{"no plate", recognition("", []float64{1, 0, 0})},
		{"unknown plate", recognition(gate.UnknownPlate, []float64{1, 0, 0})},
		{"no face", recognition(registeredPlate, nil)},
	}

	f := setupEntryService(t, false)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Register(context.Background(), tt.rec)
			assert.True(t, errors.Is(err, ErrInvalidInput), "got %v", err)
		})
	}

	records, err := f.repo.FindEntries(context.Background(), repository.EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestEntryService_RegisterDuplicateActivePlate(t *testing.T) {
	f := setupEntryService(t, false)
	ctx := context.Background()

	first, err := f.svc.Register(ctx, recognition(registeredPlate, []float64{1, 0, 0}))
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	second, err := f.svc.Register(ctx, recognition(registeredPlate, []float64{0, 1, 0}))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	stored, err := f.repo.LookupActiveByPlate(ctx, registeredPlate)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, second, stored.ID, "newest entry takes precedence")
}

func TestEntryService_ListEntries(t *testing.T) {
	f := setupEntryService(t, false)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, recognition(registeredPlate, []float64{1, 0, 0}))
	require.NoError(t, err)
	other, err := f.svc.Register(ctx, recognition("D5678AB", []float64{1, 0, 0}))
	require.NoError(t, err)
	_, err = f.repo.MarkExited(ctx, other)
	require.NoError(t, err)

	str := func(s string) *string { return &s }

	t.Run("all", func(t *testing.T) {
		entries, err := f.svc.ListEntries(ctx, nil, nil, nil, nil, 0, 0)
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("plate query is normalized", func(t *testing.T) {
		entries, err := f.svc.ListEntries(ctx, str("b 1234-xyz"), nil, nil, nil, 0, 0)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, registeredPlate, entries[0].PlateText)
		assert.Equal(t, 3, entries[0].FaceDimension)
	})

	t.Run("status", func(t *testing.T) {
		entries, err := f.svc.ListEntries(ctx, nil, str("Exited"), nil, nil, 0, 0)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, other.String(), entries[0].ID)
		assert.NotNil(t, entries[0].ExitTime)
	})

	t.Run("time window", func(t *testing.T) {
		from := time.Now().Add(-time.Hour).Format(time.RFC3339)
		to := time.Now().Add(time.Hour).Format(time.RFC3339)
		entries, err := f.svc.ListEntries(ctx, nil, nil, &from, &to, 0, 0)
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	invalid := []struct {
		name             string
		status, from, to *string
	}{
		{"unknown status", str("parked"), nil, nil},
		{"bad from", nil, str("yesterday"), nil},
		{"bad to", nil, nil, str("2024-13-01")},
		{"to before from", nil, str("2024-02-01T00:00:00Z"), str("2024-01-01T00:00:00Z")},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.ListEntries(ctx, nil, tt.status, tt.from, tt.to, 0, 0)
			assert.True(t, errors.Is(err, ErrInvalidInput), "got %v", err)
		})
	}
}

func TestBuildFilter_Paging(t *testing.T) {
	tests := []struct {
		limit, offset         int
		wantLimit, wantOffset int
	}{
		{0, 0, 50, 0},
		{-3, -1, 50, 0},
		{20, 40, 20, 40},
		{500, 0, 100, 0},
	}
	for _, tt := range tests {
		filter, err := buildFilter(nil, nil, nil, nil, tt.limit, tt.offset)
		require.NoError(t, err)
		assert.Equal(t, tt.wantLimit, filter.Limit)
		assert.Equal(t, tt.wantOffset, filter.Offset)
	}
}

func TestEntryService_GetEntry(t *testing.T) {
	f := setupEntryService(t, false)
	ctx := context.Background()

	id, err := f.svc.Register(ctx, recognition(registeredPlate, []float64{1, 0, 0}))
	require.NoError(t, err)

	info, err := f.svc.GetEntry(ctx, " "+id.String()+" ")
	require.NoError(t, err)
	assert.Equal(t, id.String(), info.ID)
	assert.Equal(t, string(gate.StatusActive), info.Status)

	_, err = f.svc.GetEntry(ctx, "not-a-uuid")
	assert.True(t, errors.Is(err, ErrInvalidInput))

	_, err = f.svc.GetEntry(ctx, uuid.NewString())
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestEntryService_CleanupExited(t *testing.T) {
	f := setupEntryService(t, false)
	ctx := context.Background()

	_, err := f.svc.CleanupExited(ctx, 0)
	assert.True(t, errors.Is(err, ErrInvalidInput))

	oldExit, err := f.svc.Register(ctx, recognition("OLD1", []float64{1, 0, 0}))
	require.NoError(t, err)
	recentExit, err := f.svc.Register(ctx, recognition("NEW1", []float64{1, 0, 0}))
	require.NoError(t, err)
	active, err := f.svc.Register(ctx, recognition("ACT1", []float64{1, 0, 0}))
	require.NoError(t, err)

	for _, id := range []uuid.UUID{oldExit, recentExit} {
		_, err := f.repo.MarkExited(ctx, id)
		require.NoError(t, err)
	}
	require.NoError(t, f.db.Model(&repository.Entry{}).
		Where("id = ?", oldExit).
		Update("exit_time", time.Now().Add(-10*24*time.Hour)).Error)

	deleted, err := f.svc.CleanupExited(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	for _, id := range []uuid.UUID{recentExit, active} {
		_, err := f.svc.GetEntry(ctx, id.String())
		assert.NoError(t, err)
	}
	_, err = f.svc.GetEntry(ctx, oldExit.String())
	assert.True(t, errors.Is(err, ErrNotFound))
}
