// Package classifier scores feature vectors with the currently loaded model
// artifact and supports atomic replacement of that artifact.
package classifier

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sync/atomic"

	"go.uber.org/zap"

	"aicaptcha/internal/features"
	"aicaptcha/internal/metrics"
)

// DefaultFallbackScore is returned while no model is loaded.
const DefaultFallbackScore = 0.5

// Classifier is safe for concurrent use. Score reads the active artifact
// through a single atomic load, so a concurrent Swap is observed either
// entirely or not at all.
type Classifier struct {
	active   atomic.Pointer[Artifact]
	fallback float64
	logger   *zap.Logger
}

func New(fallback float64, logger *zap.Logger) *Classifier {
	return &Classifier{
		fallback: fallback,
		logger:   logger,
	}
}

// LoadFile activates the artifact at path. A missing file is not an error:
// the classifier keeps serving the fallback score.
func (c *Classifier) LoadFile(path string) error {
	a, err := LoadArtifact(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("No model artifact found, serving fallback score",
				zap.String("path", path),
				zap.Float64("fallback", c.fallback))
			return nil
		}
		return err
	}
	return c.Swap(a)
}

// Swap validates a and publishes it as the active model.
func (c *Classifier) Swap(a *Artifact) error {
	if a == nil {
		return fmt.Errorf("%w: nil artifact", ErrInvalidArtifact)
	}
	if err := a.Validate(); err != nil {
		return err
	}

	prev := c.active.Swap(a)
	metrics.SetModelLoaded(true)

	fields := []zap.Field{
		zap.String("version", a.Version),
		zap.Int("input_size", a.InputSize),
		zap.Int("device_families", len(a.DeviceFamilies)),
	}
	if prev != nil {
		fields = append(fields, zap.String("previous_version", prev.Version))
	}
	c.logger.Info("Model activated", fields...)
	return nil
}

// Current returns the active artifact, or nil.
func (c *Classifier) Current() *Artifact {
	return c.active.Load()
}

// Score returns the bot probability of v for a client of the given device
// family, in [0,1].
func (c *Classifier) Score(v features.Vector, deviceFamily string) float64 {
	a := c.active.Load()
	if a == nil {
		return c.fallback
	}

	input := append(v.Slice(), a.Encoder().Encode(deviceFamily)...)
	p := a.Predict(input)
	if math.IsNaN(p) || math.IsInf(p, 0) {
		c.logger.Warn("Model produced a non-finite score, using fallback", zap.String("version", a.Version))
		return c.fallback
	}
	return math.Min(1, math.Max(0, p))
}
