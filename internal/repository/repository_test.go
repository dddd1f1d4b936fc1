package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"aicaptcha/internal/models"
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := NewDB(DriverSQLite, filepath.Join(t.TempDir(), "data", "interactions.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func label(v float64) *float64 { return &v }

func sampleRecord() *models.InteractionRecord {
	return &models.InteractionRecord{
		SessionID:       "session-1",
		InteractionData: []byte(`{"mouseMovements":[{"x":1,"y":2,"time":3}]}`),
		Duration:        1500,
		UserAgent: models.UserAgentSummary{
			Browser: "Firefox", BrowserVersion: "126.0", OS: "Linux", Device: "Other",
		},
		Viewport:      models.Viewport{Width: 1920, Height: 1080},
		LoadTimestamp: 1717243200000,
	}
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewInteractionRepository(newTestDB(t), zap.NewNop())

	rec := sampleRecord()
	require.NoError(t, repo.Create(ctx, rec))
	require.NotEmpty(t, rec.InteractionID)
	require.False(t, rec.Timestamp.IsZero())

	got, err := repo.Get(ctx, rec.InteractionID)
	require.NoError(t, err)
	assert.Equal(t, rec.InteractionID, got.InteractionID)
	assert.Equal(t, "session-1", got.SessionID)
	assert.JSONEq(t, string(rec.InteractionData), string(got.InteractionData))
	assert.Equal(t, rec.UserAgent, got.UserAgent)
	assert.Equal(t, rec.Viewport, got.Viewport)
	assert.Equal(t, 1500.0, got.Duration)
	assert.Equal(t, 1717243200000.0, got.LoadTimestamp)
	assert.Nil(t, got.Label)
	assert.WithinDuration(t, rec.Timestamp, got.Timestamp, time.Second)
}

func TestGetNotFound(t *testing.T) {
	repo := NewInteractionRepository(newTestDB(t), zap.NewNop())
	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateLabel(t *testing.T) {
	ctx := context.Background()
	repo := NewInteractionRepository(newTestDB(t), zap.NewNop())

	rec := sampleRecord()
	rec.Label = label(0.3)
	require.NoError(t, repo.Create(ctx, rec))

	require.NoError(t, repo.UpdateLabel(ctx, rec.InteractionID, 1))
	once, err := repo.Get(ctx, rec.InteractionID)
	require.NoError(t, err)
	require.NotNil(t, once.Label)
	assert.Equal(t, 1.0, *once.Label)

	// same label again leaves the record identical
	require.NoError(t, repo.UpdateLabel(ctx, rec.InteractionID, 1))
	twice, err := repo.Get(ctx, rec.InteractionID)
	require.NoError(t, err)
	assert.Equal(t, once, twice)

	assert.Equal(t, rec.SessionID, twice.SessionID)
	assert.JSONEq(t, string(rec.InteractionData), string(twice.InteractionData))

	assert.ErrorIs(t, repo.UpdateLabel(ctx, "missing", 1), ErrNotFound)
}

func TestConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	repo := NewInteractionRepository(newTestDB(t), zap.NewNop())

	rec := sampleRecord()
	require.NoError(t, repo.Create(ctx, rec))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(v float64) {
			defer wg.Done()
			assert.NoError(t, repo.UpdateLabel(ctx, rec.InteractionID, v))
		}(float64(i % 2))
	}
	wg.Wait()

	got, err := repo.Get(ctx, rec.InteractionID)
	require.NoError(t, err)
	require.NotNil(t, got.Label)
	assert.Contains(t, []float64{0, 1}, *got.Label)
	assert.Equal(t, rec.UserAgent, got.UserAgent)
}

func TestLabelCountsAndListLabeled(t *testing.T) {
	ctx := context.Background()
	repo := NewInteractionRepository(newTestDB(t), zap.NewNop())

	for i, l := range []*float64{label(1), label(0), label(1), nil, label(0.5), nil} {
		rec := sampleRecord()
		rec.SessionID = fmt.Sprintf("s-%d", i)
		rec.Label = l
		require.NoError(t, repo.Create(ctx, rec))
	}

	counts, unlabeled, err := repo.LabelCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.LabelCount{
		{Label: 0, Count: 1},
		{Label: 0.5, Count: 1},
		{Label: 1, Count: 2},
	}, counts)
	assert.Equal(t, 2, unlabeled)

	labeled, err := repo.ListLabeled(ctx)
	require.NoError(t, err)
	assert.Len(t, labeled, 4)
	for _, rec := range labeled {
		assert.NotNil(t, rec.Label)
	}

	all, err := repo.List(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestCounterRepository(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	counters := NewCounterRepository(db)

	v, err := counters.Load(ctx, "request_counter")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	require.NoError(t, counters.Store(ctx, "request_counter", 41))
	require.NoError(t, counters.Store(ctx, "request_counter", 42))

	v, err = NewCounterRepository(db).Load(ctx, "request_counter")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
}

func TestNewDBReopensExistingFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "interactions.db")

	db, err := NewDB(DriverSQLite, path, zap.NewNop())
	require.NoError(t, err)
	rec := sampleRecord()
	require.NoError(t, NewInteractionRepository(db, zap.NewNop()).Create(ctx, rec))
	require.NoError(t, NewCounterRepository(db).Store(ctx, "request_counter", 7))
	require.NoError(t, db.Close())

	reopened, err := NewDB(DriverSQLite, path, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()

	_, err = NewInteractionRepository(reopened, zap.NewNop()).Get(ctx, rec.InteractionID)
	require.NoError(t, err)
	v, err := NewCounterRepository(reopened).Load(ctx, "request_counter")
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)
}

func TestNewDBRejectsUnknownDriver(t *testing.T) {
	_, err := NewDB("mysql", "whatever", zap.NewNop())
	assert.Error(t, err)
}
