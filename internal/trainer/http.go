package trainer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"aicaptcha/internal/classifier"
)

// HTTPTrainer posts the corpus to a training service.
type HTTPTrainer struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPTrainer creates a client for the training service at baseURL.
func NewHTTPTrainer(baseURL string, timeout time.Duration) *HTTPTrainer {
	return &HTTPTrainer{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Train sends the corpus to POST /api/v1/train and decodes the artifact
// returned in the response body.
func (t *HTTPTrainer) Train(ctx context.Context, corpus *Corpus) (*classifier.Artifact, error) {
	jsonData, err := json.Marshal(corpus)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal corpus: %v", ErrTrainerFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/api/v1/train", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", ErrTrainerFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to send request: %v", ErrTrainerFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrTrainerFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: training service returned status %d: %s", ErrTrainerFailed, resp.StatusCode, tail(string(body), 512))
	}

	artifact, err := classifier.DecodeArtifact(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTrainerFailed, err)
	}
	return artifact, nil
}
