package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"aicaptcha/internal/models"
	"aicaptcha/internal/useragent"
)

// StoreRequest stores a base64 encoded payload. Label takes precedence over
// a label inside the payload.
type StoreRequest struct {
	Data      string
	SessionID string
	Label     *float64
	UserAgent string
}

// LabelSummary is the label histogram of the store.
type LabelSummary struct {
	Labels    []models.LabelCount `json:"labels"`
	Unlabeled int                 `json:"unlabeled"`
}

// RecordService stores and labels interactions outside the challenge flow.
type RecordService struct {
	store    RecordStore
	observer LabelObserver
	logger   *zap.Logger
}

func NewRecordService(store RecordStore, observer LabelObserver, logger *zap.Logger) *RecordService {
	return &RecordService{
		store:    store,
		observer: observer,
		logger:   logger,
	}
}

// Store decodes and validates the payload and writes a new record.
func (s *RecordService) Store(ctx context.Context, req StoreRequest) (*models.InteractionRecord, error) {
	payload, err := models.DecodeBase64Payload(req.Data)
	if err != nil {
		return nil, err
	}
	session := payload.Session()

	label := req.Label
	if label == nil {
		label = payload.Label
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	rec := &models.InteractionRecord{
		InteractionID:   uuid.NewString(),
		SessionID:       sessionID,
		Timestamp:       time.Now().UTC(),
		InteractionData: payload.Interactions,
		Duration:        session.Duration,
		Label:           label,
		UserAgent:       useragent.Parse(req.UserAgent),
		Viewport:        session.Viewport,
		LoadTimestamp:   session.LoadTimestamp,
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to save interaction: %w", err)
	}
	if label != nil {
		s.observer.RecordLabeledWrite(ctx)
	}

	s.logger.Info("Interaction stored",
		zap.String("interaction_id", rec.InteractionID),
		zap.Bool("labeled", label != nil))
	return rec, nil
}

// UpdateLabel overwrites the label of an existing record.
func (s *RecordService) UpdateLabel(ctx context.Context, id string, label float64) error {
	if err := s.store.UpdateLabel(ctx, id, label); err != nil {
		return mapStoreError(err)
	}
	s.observer.RecordLabeledWrite(ctx)

	s.logger.Info("Label updated", zap.String("interaction_id", id), zap.Float64("label", label))
	return nil
}

// Get returns one record.
func (s *RecordService) Get(ctx context.Context, id string) (*models.InteractionRecord, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return rec, nil
}

// Labels returns the label histogram.
func (s *RecordService) Labels(ctx context.Context) (*LabelSummary, error) {
	counts, unlabeled, err := s.store.LabelCounts(ctx)
	if err != nil {
		return nil, err
	}
	return &LabelSummary{Labels: counts, Unlabeled: unlabeled}, nil
}
