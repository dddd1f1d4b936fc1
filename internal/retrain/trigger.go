package retrain

import (
	"context"

	"go.uber.org/zap"

	"aicaptcha/internal/metrics"
)

// Requester queues a retrain.
type Requester interface {
	Request(reason string) bool
}

// Trigger is the single entry point for labeled writes.
type Trigger struct {
	counter   Counter
	retrainer Requester
	logger    *zap.Logger
}

func NewTrigger(counter Counter, retrainer Requester, logger *zap.Logger) *Trigger {
	return &Trigger{
		counter:   counter,
		retrainer: retrainer,
		logger:    logger,
	}
}

// RecordLabeledWrite counts one labeled write and queues a retrain when the
// threshold is reached. Counter errors are logged, never returned: a labeled
// write that has already been stored must not fail because of them.
func (t *Trigger) RecordLabeledWrite(ctx context.Context) {
	metrics.LabeledWritesTotal.Inc()

	fired, err := t.counter.Increment(ctx)
	if err != nil {
		t.logger.Error("Failed to update request counter", zap.Error(err))
	}
	if fired {
		t.logger.Info("Request counter reached threshold, retraining")
		t.retrainer.Request("threshold")
	}
}
