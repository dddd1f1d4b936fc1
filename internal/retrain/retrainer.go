package retrain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"aicaptcha/internal/classifier"
	"aicaptcha/internal/metrics"
	"aicaptcha/internal/models"
	"aicaptcha/internal/trainer"
)

// ErrNoTrainer is returned by RetrainNow when no trainer is configured.
var ErrNoTrainer = errors.New("no trainer configured")

// CorpusSource lists the labeled records a retrain learns from.
type CorpusSource interface {
	ListLabeled(ctx context.Context) ([]models.InteractionRecord, error)
}

// ModelSwapper publishes a new model.
type ModelSwapper interface {
	Swap(a *classifier.Artifact) error
}

// Retrainer runs retrains on a single worker goroutine. Requests made while
// a retrain is running coalesce into one follow-up run.
type Retrainer struct {
	source       CorpusSource
	trainer      trainer.Trainer
	model        ModelSwapper
	artifactPath string
	timeout      time.Duration
	requests     chan string
	logger       *zap.Logger
}

// NewRetrainer creates a retrainer. tr may be nil, in which case requests are
// logged and skipped.
func NewRetrainer(source CorpusSource, tr trainer.Trainer, model ModelSwapper, artifactPath string, timeout time.Duration, logger *zap.Logger) *Retrainer {
	return &Retrainer{
		source:       source,
		trainer:      tr,
		model:        model,
		artifactPath: artifactPath,
		timeout:      timeout,
		requests:     make(chan string, 1),
		logger:       logger,
	}
}

// Request queues a retrain and never blocks. It reports false when a retrain
// was already queued.
func (r *Retrainer) Request(reason string) bool {
	select {
	case r.requests <- reason:
		r.logger.Info("Retrain requested", zap.String("reason", reason))
		return true
	default:
		r.logger.Info("Retrain already queued", zap.String("reason", reason))
		return false
	}
}

// Run serves retrain requests until ctx is done. A retrain in progress when
// ctx is cancelled runs to completion first.
func (r *Retrainer) Run(ctx context.Context) {
	r.logger.Info("Retrain worker started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Retrain worker stopped")
			return
		case reason := <-r.requests:
			if _, err := r.RetrainNow(context.Background()); err != nil {
				r.logger.Error("Retrain failed, keeping the current model",
					zap.String("reason", reason), zap.Error(err))
			}
		}
	}
}

// RetrainNow trains on the current corpus, swaps the model and persists the
// artifact. On any failure the active model is left unchanged.
func (r *Retrainer) RetrainNow(ctx context.Context) (*classifier.Artifact, error) {
	if r.trainer == nil {
		r.logger.Warn("Retrain skipped: no trainer configured")
		return nil, ErrNoTrainer
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	artifact, err := r.train(ctx)
	metrics.RecordRetrain(time.Since(start), err)
	if err != nil {
		return nil, err
	}

	r.logger.Info("Retrain completed",
		zap.String("version", artifact.Version),
		zap.Duration("took", time.Since(start)))
	return artifact, nil
}

func (r *Retrainer) train(ctx context.Context) (*classifier.Artifact, error) {
	records, err := r.source.ListLabeled(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load corpus: %w", err)
	}
	corpus := trainer.BuildCorpus(records, r.logger)
	r.logger.Info("Starting retrain", zap.Int("rows", len(corpus.Rows)))

	artifact, err := r.trainer.Train(ctx, corpus)
	if err != nil {
		return nil, err
	}
	if artifact == nil {
		return nil, fmt.Errorf("%w: no artifact", trainer.ErrTrainerFailed)
	}
	if artifact.Version == "" {
		artifact.Version = time.Now().UTC().Format("20060102T150405Z")
	}
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now().UTC()
	}

	if err := r.model.Swap(artifact); err != nil {
		return nil, fmt.Errorf("trained artifact rejected: %w", err)
	}

	if r.artifactPath != "" {
		if err := artifact.Save(r.artifactPath); err != nil {
			r.logger.Error("Failed to persist model artifact",
				zap.String("path", r.artifactPath), zap.Error(err))
		}
	}
	return artifact, nil
}
