// Package capture isolates the embedding service from where samples come
// from. A source owns the camera pipeline (or a fixture file) and reports
// one sample per call; it never sees nonces, keys or the enrollment store.
package capture

import (
	"context"
	"errors"
	"time"

	"github.com/adam-mcguinness/sup-linux/internal/embedding"
)

// ErrNoFace reports a frame with no usable face. Benign; callers keep
// polling until their budget runs out.
var ErrNoFace = errors.New("no face detected")

// Sample is one captured embedding with its quality score.
type Sample struct {
	Embedding  embedding.Vector
	Quality    float32
	CapturedAt time.Time
}

// Source produces embedding samples.
type Source interface {
	// Capture grabs one frame and embeds it. Returns ErrNoFace when the
	// frame holds no usable face.
	Capture(ctx context.Context) (*Sample, error)
	// Describe names the source for diagnostics.
	Describe() string
}
