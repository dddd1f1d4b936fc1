package classifier

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"aicaptcha/internal/features"
)

// ErrInvalidArtifact is returned when a model document is malformed or its
// shapes are inconsistent.
var ErrInvalidArtifact = errors.New("invalid model artifact")

// Activation names the non-linearity applied after a layer.
type Activation string

const (
	ReLU    Activation = "relu"
	Sigmoid Activation = "sigmoid"
	Linear  Activation = "linear"
)

// Layer is one dense layer. Weights are indexed [output][input].
type Layer struct {
	Weights    [][]float64 `json:"weights"`
	Biases     []float64   `json:"biases"`
	Activation Activation  `json:"activation"`
}

// Artifact is a trained model together with the device family encoder it was
// trained with. The two are versioned and swapped as one unit.
type Artifact struct {
	Version        string    `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	InputSize      int       `json:"input_size"`
	Layers         []Layer   `json:"layers"`
	DeviceFamilies []string  `json:"device_families"`

	encoder *Encoder
}

// DecodeArtifact parses and validates a model document.
func DecodeArtifact(data []byte) (*Artifact, error) {
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// LoadArtifact reads a model document from disk.
func LoadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model artifact: %w", err)
	}
	return DecodeArtifact(data)
}

// Save writes the artifact to path via a temporary file and rename, so a
// reader never sees a partial document.
func (a *Artifact) Save(path string) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode model artifact: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".model-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write model artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write model artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace model artifact: %w", err)
	}
	return nil
}

// Validate checks layer shapes against the declared input size and builds
// the encoder.
func (a *Artifact) Validate() error {
	enc := NewEncoder(a.DeviceFamilies)

	if want := features.Size + enc.Width(); a.InputSize != want {
		return fmt.Errorf("%w: input_size %d, expected %d for %d device families",
			ErrInvalidArtifact, a.InputSize, want, len(a.DeviceFamilies))
	}
	if len(a.Layers) == 0 {
		return fmt.Errorf("%w: no layers", ErrInvalidArtifact)
	}

	in := a.InputSize
	for i, l := range a.Layers {
		switch l.Activation {
		case ReLU, Sigmoid, Linear:
		default:
			return fmt.Errorf("%w: layer %d: unknown activation %q", ErrInvalidArtifact, i, l.Activation)
		}
		if len(l.Weights) == 0 || len(l.Biases) != len(l.Weights) {
			return fmt.Errorf("%w: layer %d: %d weight rows, %d biases", ErrInvalidArtifact, i, len(l.Weights), len(l.Biases))
		}
		for j, row := range l.Weights {
			if len(row) != in {
				return fmt.Errorf("%w: layer %d row %d: %d inputs, expected %d", ErrInvalidArtifact, i, j, len(row), in)
			}
		}
		in = len(l.Weights)
	}
	if in != 1 {
		return fmt.Errorf("%w: output layer has %d units", ErrInvalidArtifact, in)
	}

	if a.encoder == nil {
		a.encoder = enc
	}
	return nil
}

// Encoder returns the device family encoder of the artifact.
func (a *Artifact) Encoder() *Encoder {
	if a.encoder == nil {
		a.encoder = NewEncoder(a.DeviceFamilies)
	}
	return a.encoder
}

// Predict runs the network over the full input vector.
func (a *Artifact) Predict(input []float64) float64 {
	x := fit(input, a.InputSize)
	for _, l := range a.Layers {
		x = l.forward(x)
	}
	return x[0]
}

func (l Layer) forward(in []float64) []float64 {
	out := make([]float64, len(l.Weights))
	for i, row := range l.Weights {
		sum := l.Biases[i]
		for j, w := range row {
			sum += w * in[j]
		}
		out[i] = l.Activation.apply(sum)
	}
	return out
}

func (act Activation) apply(v float64) float64 {
	switch act {
	case ReLU:
		return math.Max(0, v)
	case Sigmoid:
		return 1 / (1 + math.Exp(-v))
	default:
		return v
	}
}

// fit zero-pads or truncates v to n elements.
func fit(v []float64, n int) []float64 {
	if len(v) == n {
		return v
	}
	out := make([]float64, n)
	copy(out, v)
	return out
}
