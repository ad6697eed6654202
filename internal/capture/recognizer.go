package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/adam-mcguinness/sup-linux/internal/embedding"
)

const (
	defaultRecognizerURL = "http://127.0.0.1:8721"
	maxRecognizerBody    = 1 << 20
)

// Recognizer asks the camera-and-model sidecar for one embedded frame. The
// sidecar owns the camera and the inference model; this client only speaks
// its HTTP surface and never sees pixel data.
type Recognizer struct {
	baseURL string
	client  *http.Client
	now     func() time.Time
}

// NewRecognizer creates a client for the recognizer sidecar.
func NewRecognizer(baseURL string) *Recognizer {
	if baseURL == "" {
		baseURL = defaultRecognizerURL
	}
	return &Recognizer{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{},
		now:     time.Now,
	}
}

// captureResponse is the sidecar's answer for one frame.
type captureResponse struct {
	Status    string    `json:"status"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	Quality   float32   `json:"quality"`
}

// Capture requests one frame capture and embedding from the sidecar.
func (r *Recognizer) Capture(ctx context.Context) (*Sample, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/capture", nil)
	if err != nil {
		return nil, fmt.Errorf("creating capture request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("capture request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRecognizerBody))
	if err != nil {
		return nil, fmt.Errorf("reading capture response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("recognizer error (status %d): %s", resp.StatusCode, string(body))
	}

	var cr captureResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, fmt.Errorf("parsing capture response: %w", err)
	}

	if cr.Status == "no_face" {
		return nil, ErrNoFace
	}
	if len(cr.Embedding) == 0 {
		return nil, errors.New("recognizer returned an empty embedding")
	}

	return &Sample{
		Embedding:  embedding.Vector(cr.Embedding),
		Quality:    cr.Quality,
		CapturedAt: r.now(),
	}, nil
}

// Describe names the source for diagnostics.
func (r *Recognizer) Describe() string {
	return "recognizer " + r.baseURL
}
