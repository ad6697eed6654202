// Package audit writes the append-only decision trail. Every
// authentication session, attempt, security violation and verdict is
// recorded as one JSON line so an operator can reconstruct why access
// was granted or refused.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/segmentio/ksuid"

	"github.com/adam-mcguinness/sup-linux/internal/match"
)

// Event kinds.
const (
	KindSessionStart      = "session_start"
	KindAttempt           = "attempt"
	KindSecurityViolation = "security_violation"
	KindVerdict           = "verdict"
	KindEnrollment        = "enrollment"
)

// Event is a single audit record. Fields that do not apply to a kind
// are left at their zero value and omitted from the JSON line.
type Event struct {
	ID          string             `json:"id"`
	Time        time.Time          `json:"time"`
	Kind        string             `json:"kind"`
	SessionID   string             `json:"session_id,omitempty"`
	Username    string             `json:"username,omitempty"`
	Attempt     int                `json:"attempt,omitempty"`
	Outcome     string             `json:"outcome,omitempty"`
	Reason      string             `json:"reason,omitempty"`
	Score       float64            `json:"score,omitempty"`
	Threshold   float64            `json:"threshold,omitempty"`
	Quality     float32            `json:"quality,omitempty"`
	Comparisons []match.Comparison `json:"comparisons,omitempty"`
	ElapsedMS   int64              `json:"elapsed_ms,omitempty"`
	Detail      string             `json:"detail,omitempty"`
}

// Writer serializes events to a destination, one JSON object per line.
// It is safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
	now    func() time.Time
}

// NewWriter opens a rotating audit log under dir. Files are named by
// day and a stable symlink points at the current one. Logs older than
// maxAgeDays are purged on rotation; zero keeps them forever.
func NewWriter(dir string, maxAgeDays int) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}

	opts := []rotatelogs.Option{
		rotatelogs.WithLinkName(filepath.Join(dir, "audit.jsonl")),
		rotatelogs.WithRotationTime(24 * time.Hour),
	}
	if maxAgeDays > 0 {
		opts = append(opts, rotatelogs.WithMaxAge(time.Duration(maxAgeDays)*24*time.Hour))
	}

	rl, err := rotatelogs.New(filepath.Join(dir, "audit-%Y%m%d.jsonl"), opts...)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	w := NewWriterTo(rl)
	w.closer = rl
	return w, nil
}

// NewWriterTo writes events to an arbitrary destination.
func NewWriterTo(out io.Writer) *Writer {
	return &Writer{
		enc: json.NewEncoder(out),
		now: time.Now,
	}
}

// Emit records one event, assigning an ID and timestamp when the
// caller left them empty.
func (w *Writer) Emit(e Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if e.ID == "" {
		e.ID = ksuid.New().String()
	}
	if e.Time.IsZero() {
		e.Time = w.now().UTC()
	}
	if err := w.enc.Encode(e); err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}
	return nil
}

// Close releases the underlying log file, if any.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closer == nil {
		return nil
	}
	return w.closer.Close()
}
