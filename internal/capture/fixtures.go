package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/adam-mcguinness/sup-linux/internal/embedding"
)

// Fixtures replays canned samples from a JSON file in order, wrapping
// around at the end. Dev mode and tests run the full stack against it
// without a camera.
type Fixtures struct {
	path string
	now  func() time.Time

	mu      sync.Mutex
	samples []fixtureSample
	next    int
}

type fixtureSample struct {
	Embedding []float32 `json:"embedding"`
	Quality   float32   `json:"quality"`
	NoFace    bool      `json:"no_face,omitempty"`
}

// NewFixtures loads a fixture file: a JSON array of
// {embedding, quality, no_face} entries.
func NewFixtures(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixtures %s: %w", path, err)
	}
	var samples []fixtureSample
	if err := json.Unmarshal(data, &samples); err != nil {
		return nil, fmt.Errorf("parsing fixtures %s: %w", path, err)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("fixtures %s hold no samples", path)
	}
	return &Fixtures{path: path, now: time.Now, samples: samples}, nil
}

// Capture returns the next fixture entry.
func (f *Fixtures) Capture(ctx context.Context) (*Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	s := f.samples[f.next%len(f.samples)]
	f.next++
	f.mu.Unlock()

	if s.NoFace {
		return nil, ErrNoFace
	}
	return &Sample{
		Embedding:  embedding.Vector(s.Embedding),
		Quality:    s.Quality,
		CapturedAt: f.now(),
	}, nil
}

// Describe names the source for diagnostics.
func (f *Fixtures) Describe() string {
	return "fixtures " + f.path
}
