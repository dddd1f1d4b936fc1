package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"aicaptcha/internal/features"
	"aicaptcha/internal/models"
	"aicaptcha/internal/repository"
	"aicaptcha/internal/useragent"
)

var (
	// ErrNotFound is returned for an unknown interaction id.
	ErrNotFound = errors.New("interaction not found")
	// ErrInvalidPayload wraps every payload decoding or schema failure.
	ErrInvalidPayload = models.ErrInvalidPayload
)

// RecordStore is the persistence the services need.
type RecordStore interface {
	Create(ctx context.Context, rec *models.InteractionRecord) error
	Get(ctx context.Context, id string) (*models.InteractionRecord, error)
	UpdateLabel(ctx context.Context, id string, label float64) error
	LabelCounts(ctx context.Context) ([]models.LabelCount, int, error)
}

// Scorer turns a feature vector into a bot probability.
type Scorer interface {
	Score(v features.Vector, deviceFamily string) float64
}

// Signer issues attestation tokens.
type Signer interface {
	Sign(score float64, interactionID string) (string, error)
}

// LabelObserver is told about every labeled write.
type LabelObserver interface {
	RecordLabeledWrite(ctx context.Context)
}

// ChallengeRequest is an authorized challenge submission.
type ChallengeRequest struct {
	Data      json.RawMessage
	Save      bool
	SessionID string // from the session cookie, may be empty
	UserAgent string // User-Agent header
}

// ChallengeResult is what the client receives.
type ChallengeResult struct {
	Token         string
	InteractionID string
	SessionID     string
	Score         float64
	Saved         bool
}

// ChallengeService scores a client session and signs the result.
type ChallengeService struct {
	store    RecordStore
	scorer   Scorer
	signer   Signer
	observer LabelObserver
	logger   *zap.Logger
}

// NewChallengeService creates a new challenge service
func NewChallengeService(store RecordStore, scorer Scorer, signer Signer, observer LabelObserver, logger *zap.Logger) *ChallengeService {
	return &ChallengeService{
		store:    store,
		scorer:   scorer,
		signer:   signer,
		observer: observer,
		logger:   logger,
	}
}

// Challenge validates the payload, extracts features, scores them with the
// device family of the User-Agent header, optionally stores the interaction
// labeled with its score, and signs {score, interaction_id}.
func (s *ChallengeService) Challenge(ctx context.Context, req ChallengeRequest) (*ChallengeResult, error) {
	payload, err := models.DecodeChallengeData(req.Data)
	if err != nil {
		return nil, err
	}

	session := payload.Session()
	ua := useragent.Parse(req.UserAgent)
	score := s.scorer.Score(features.Extract(session), ua.Device)

	result := &ChallengeResult{
		InteractionID: uuid.NewString(),
		SessionID:     req.SessionID,
		Score:         score,
	}
	if result.SessionID == "" {
		result.SessionID = uuid.NewString()
	}

	if req.Save {
		label := score
		rec := &models.InteractionRecord{
			InteractionID:   result.InteractionID,
			SessionID:       result.SessionID,
			Timestamp:       time.Now().UTC(),
			InteractionData: payload.Interactions,
			Duration:        session.Duration,
			Label:           &label,
			UserAgent:       ua,
			Viewport:        session.Viewport,
			LoadTimestamp:   session.LoadTimestamp,
		}
		if err := s.store.Create(ctx, rec); err != nil {
			return nil, fmt.Errorf("failed to save interaction: %w", err)
		}
		result.Saved = true
		s.observer.RecordLabeledWrite(ctx)
	}

	token, err := s.signer.Sign(score, result.InteractionID)
	if err != nil {
		return nil, err
	}
	result.Token = token

	s.logger.Info("Challenge issued",
		zap.String("interaction_id", result.InteractionID),
		zap.String("session_id", result.SessionID),
		zap.String("device", ua.Device),
		zap.Float64("score", score),
		zap.Bool("saved", result.Saved))
	return result, nil
}

func mapStoreError(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
