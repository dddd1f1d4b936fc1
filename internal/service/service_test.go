package service

import (
	"context"
	"encoding/base64"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"aicaptcha/internal/classifier"
	"aicaptcha/internal/repository"
	"aicaptcha/internal/signing"
)

const payload = `{
	"interactions": {
		"mouseMovements": [{"x": 0, "y": 0, "time": 0}, {"x": 30, "y": 40, "time": 10}],
		"keyPresses": [{"key": "h", "time": 0}, {"key": "i", "time": 120}],
		"mouseClicks": [{"type": "down", "time": 50}, {"type": "up", "time": 140}]
	},
	"duration": 2500,
	"viewport": {"width": 390, "height": 844},
	"loadTimestamp": 1717243200000,
	"deviceType": "mobile"
}`

const iphoneUA = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1"

type countingObserver struct{ n atomic.Int64 }

func (o *countingObserver) RecordLabeledWrite(context.Context) { o.n.Add(1) }

type fixture struct {
	repo      *repository.InteractionRepository
	authority *signing.Authority
	observer  *countingObserver
	challenge *ChallengeService
	records   *RecordService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	db, err := repository.NewDB(repository.DriverSQLite, filepath.Join(dir, "interactions.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	authority, err := signing.LoadOrGenerate(filepath.Join(dir, "keys"), 2048, zap.NewNop())
	require.NoError(t, err)

	f := &fixture{
		repo:      repository.NewInteractionRepository(db, zap.NewNop()),
		authority: authority,
		observer:  &countingObserver{},
	}
	model := classifier.New(classifier.DefaultFallbackScore, zap.NewNop())
	f.challenge = NewChallengeService(f.repo, model, authority, f.observer, zap.NewNop())
	f.records = NewRecordService(f.repo, f.observer, zap.NewNop())
	return f
}

func TestChallengeWithoutSave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.challenge.Challenge(ctx, ChallengeRequest{Data: []byte(payload), UserAgent: iphoneUA})
	require.NoError(t, err)
	assert.Equal(t, 0.5, res.Score)
	assert.False(t, res.Saved)
	_, err = uuid.Parse(res.SessionID)
	assert.NoError(t, err)

	claims, err := f.authority.Verify(res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.InteractionID, claims.InteractionID)
	assert.Equal(t, 0.5, claims.Score)

	_, err = f.repo.Get(ctx, res.InteractionID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Equal(t, int64(0), f.observer.n.Load())
}

func TestChallengeReusesSession(t *testing.T) {
	f := newFixture(t)
	encoded := base64.StdEncoding.EncodeToString([]byte(payload))

	res, err := f.challenge.Challenge(context.Background(), ChallengeRequest{
		Data:      []byte(`"` + encoded + `"`),
		SessionID: "existing-session",
	})
	require.NoError(t, err)
	assert.Equal(t, "existing-session", res.SessionID)
}

func TestChallengeWithSave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.challenge.Challenge(ctx, ChallengeRequest{Data: []byte(payload), Save: true, UserAgent: iphoneUA})
	require.NoError(t, err)
	assert.True(t, res.Saved)
	assert.Equal(t, int64(1), f.observer.n.Load())

	rec, err := f.repo.Get(ctx, res.InteractionID)
	require.NoError(t, err)
	require.NotNil(t, rec.Label)
	assert.Equal(t, res.Score, *rec.Label)
	assert.Equal(t, res.SessionID, rec.SessionID)
	assert.Equal(t, "iPhone", rec.UserAgent.Device)
	assert.Equal(t, 2500.0, rec.Duration)
	assert.Contains(t, string(rec.InteractionData), "mouseMovements")
}

func TestChallengeRejectsInvalidPayload(t *testing.T) {
	f := newFixture(t)

	for _, data := range []string{
		`{"interactions": {}, "viewport": {}, "loadTimestamp": 1}`,
		`{"interactions": {"keyPresses": [{"key": "a", "time": "soon"}]}, "duration": 1, "viewport": {}, "loadTimestamp": 1}`,
		`"%%%"`,
		`[]`,
	} {
		_, err := f.challenge.Challenge(context.Background(), ChallengeRequest{Data: []byte(data), Save: true})
		assert.ErrorIs(t, err, ErrInvalidPayload, data)
	}
	assert.Equal(t, int64(0), f.observer.n.Load())

	summary, err := f.records.Labels(context.Background())
	require.NoError(t, err)
	assert.Empty(t, summary.Labels)
	assert.Equal(t, 0, summary.Unlabeled)
}

func TestStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	encoded := base64.StdEncoding.EncodeToString([]byte(payload))

	human := 0.0
	rec, err := f.records.Store(ctx, StoreRequest{Data: encoded, Label: &human, SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "s1", rec.SessionID)
	assert.Equal(t, int64(1), f.observer.n.Load())

	withInnerLabel := base64.StdEncoding.EncodeToString([]byte(`{"interactions": {}, "duration": 1, "viewport": {}, "loadTimestamp": 1, "label": 1}`))
	rec, err = f.records.Store(ctx, StoreRequest{Data: withInnerLabel})
	require.NoError(t, err)
	require.NotNil(t, rec.Label)
	assert.Equal(t, 1.0, *rec.Label)
	assert.NotEmpty(t, rec.SessionID)
	assert.Equal(t, int64(2), f.observer.n.Load())

	_, err = f.records.Store(ctx, StoreRequest{Data: encoded})
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.observer.n.Load(), "unlabeled writes are not counted")

	_, err = f.records.Store(ctx, StoreRequest{Data: "not base64!"})
	assert.ErrorIs(t, err, ErrInvalidPayload)

	summary, err := f.records.Labels(ctx)
	require.NoError(t, err)
	assert.Len(t, summary.Labels, 2)
	assert.Equal(t, 1, summary.Unlabeled)
}

func TestUpdateLabel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	encoded := base64.StdEncoding.EncodeToString([]byte(payload))

	rec, err := f.records.Store(ctx, StoreRequest{Data: encoded})
	require.NoError(t, err)

	require.NoError(t, f.records.UpdateLabel(ctx, rec.InteractionID, 1))
	assert.Equal(t, int64(1), f.observer.n.Load())

	got, err := f.records.Get(ctx, rec.InteractionID)
	require.NoError(t, err)
	require.NotNil(t, got.Label)
	assert.Equal(t, 1.0, *got.Label)

	assert.ErrorIs(t, f.records.UpdateLabel(ctx, "unknown", 1), ErrNotFound)
	assert.Equal(t, int64(1), f.observer.n.Load())

	_, err = f.records.Get(ctx, "unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}
