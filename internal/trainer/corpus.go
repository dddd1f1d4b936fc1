// Package trainer hands the labeled corpus to an out-of-process model trainer
// and loads the artifact it produces.
package trainer

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"aicaptcha/internal/classifier"
	"aicaptcha/internal/features"
	"aicaptcha/internal/models"
)

// ErrTrainerFailed wraps every failure of an external trainer.
var ErrTrainerFailed = errors.New("trainer failed")

// Trainer produces a model artifact from a corpus.
type Trainer interface {
	Train(ctx context.Context, corpus *Corpus) (*classifier.Artifact, error)
}

// Row is one labeled training example.
type Row struct {
	InteractionID string    `json:"interaction_id"`
	Features      []float64 `json:"features"`
	Device        string    `json:"device"`
	Label         float64   `json:"label"`
}

// Corpus is the document handed to a trainer.
type Corpus struct {
	FeatureNames []string `json:"feature_names"`
	Rows         []Row    `json:"rows"`
}

// BuildCorpus re-extracts features from the stored raw data of every labeled
// record. Unlabeled or unreadable records are skipped.
func BuildCorpus(records []models.InteractionRecord, logger *zap.Logger) *Corpus {
	c := &Corpus{
		FeatureNames: features.Names[:],
		Rows:         make([]Row, 0, len(records)),
	}
	for _, rec := range records {
		if rec.Label == nil {
			continue
		}
		in, err := models.DecodeInteractions(rec.InteractionData)
		if err != nil {
			logger.Warn("Skipping record with unreadable interaction data",
				zap.String("interaction_id", rec.InteractionID), zap.Error(err))
			continue
		}
		v := features.Extract(models.InteractionSession{Interactions: in, Duration: rec.Duration})
		c.Rows = append(c.Rows, Row{
			InteractionID: rec.InteractionID,
			Features:      v.Slice(),
			Device:        rec.UserAgent.Device,
			Label:         *rec.Label,
		})
	}
	return c
}
