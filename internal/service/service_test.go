package service

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/adam-mcguinness/sup-linux/internal/capture"
	"github.com/adam-mcguinness/sup-linux/internal/embedding"
	"github.com/adam-mcguinness/sup-linux/internal/keyring"
	"github.com/adam-mcguinness/sup-linux/internal/protocol"
)

type fakeSource struct {
	sample *capture.Sample
	err    error
	calls  int
}

func (f *fakeSource) Capture(ctx context.Context) (*capture.Sample, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.sample, nil
}

func (f *fakeSource) Describe() string { return "fake" }

func testKeyring(t *testing.T) *keyring.Keyring {
	t.Helper()
	master := make([]byte, keyring.KeySize)
	if _, err := rand.Read(master); err != nil {
		t.Fatalf("reading random master key: %v", err)
	}
	keys, err := keyring.New(master)
	if err != nil {
		t.Fatalf("keyring.New() error = %v", err)
	}
	return keys
}

func testNonce(t *testing.T) []byte {
	t.Helper()
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		t.Fatalf("reading random nonce: %v", err)
	}
	return nonce
}

func newTestService(t *testing.T, source capture.Source, keys *keyring.Keyring) *Service {
	t.Helper()
	s := New(source, keys, zap.NewNop(), Options{
		Dim:            4,
		CaptureTimeout: 50 * time.Millisecond,
		CapturePoll:    5 * time.Millisecond,
	})
	return s
}

func TestHandleEmbedding_SignsCapture(t *testing.T) {
	keys := testKeyring(t)
	capturedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	source := &fakeSource{sample: &capture.Sample{
		Embedding:  embedding.Vector{0.1, 0.2, 0.3, 0.4},
		Quality:    0.88,
		CapturedAt: capturedAt,
	}}
	s := newTestService(t, source, keys)

	nonce := testNonce(t)
	resp := s.HandleEmbedding(context.Background(), protocol.EmbeddingRequest{
		Nonce:      nonce,
		IssuedAt:   s.now(),
		ValidityMS: 5000,
	})

	if resp.Status != protocol.StatusOK {
		t.Fatalf("status = %q (%s), want ok", resp.Status, resp.Error)
	}
	if !bytes.Equal(resp.Nonce, nonce) {
		t.Error("response nonce does not echo the request nonce")
	}
	if resp.Quality != 0.88 {
		t.Errorf("quality = %v, want 0.88", resp.Quality)
	}
	if !resp.CapturedAt.Equal(capturedAt) {
		t.Errorf("captured_at = %v, want %v", resp.CapturedAt, capturedAt)
	}

	payload := protocol.SignaturePayload(nonce, resp.Embedding, resp.CapturedAt)
	if err := keys.Verify(nonce, payload, resp.Signature); err != nil {
		t.Errorf("signature does not verify: %v", err)
	}
}

func TestHandleEmbedding_BurnsNonce(t *testing.T) {
	keys := testKeyring(t)
	source := &fakeSource{sample: &capture.Sample{
		Embedding:  embedding.Vector{1, 0, 0, 0},
		Quality:    0.9,
		CapturedAt: time.Now(),
	}}
	s := newTestService(t, source, keys)

	req := protocol.EmbeddingRequest{
		Nonce:      testNonce(t),
		IssuedAt:   s.now(),
		ValidityMS: 5000,
	}

	first := s.HandleEmbedding(context.Background(), req)
	if first.Status != protocol.StatusOK {
		t.Fatalf("first status = %q, want ok", first.Status)
	}

	second := s.HandleEmbedding(context.Background(), req)
	if second.Status != protocol.StatusError || second.ErrorCode != protocol.CodeChallengeReplayed {
		t.Errorf("second answer = (%q, %q), want (error, challenge_replayed)",
			second.Status, second.ErrorCode)
	}
}

func TestHandleEmbedding_NoFaceBurnsNonceToo(t *testing.T) {
	keys := testKeyring(t)
	source := &fakeSource{err: capture.ErrNoFace}
	s := newTestService(t, source, keys)

	req := protocol.EmbeddingRequest{
		Nonce:      testNonce(t),
		IssuedAt:   s.now(),
		ValidityMS: 5000,
	}

	first := s.HandleEmbedding(context.Background(), req)
	if first.Status != protocol.StatusNoFace {
		t.Fatalf("first status = %q, want no_face", first.Status)
	}
	if source.calls < 2 {
		t.Errorf("capture polled %d times, want at least 2", source.calls)
	}

	second := s.HandleEmbedding(context.Background(), req)
	if second.ErrorCode != protocol.CodeChallengeReplayed {
		t.Errorf("second answer code = %q, want challenge_replayed", second.ErrorCode)
	}
}

func TestHandleEmbedding_RejectsExpired(t *testing.T) {
	keys := testKeyring(t)
	source := &fakeSource{sample: &capture.Sample{Embedding: embedding.Vector{1, 0, 0, 0}}}
	s := newTestService(t, source, keys)

	tests := []struct {
		name     string
		issuedAt time.Time
	}{
		{"long expired", s.now().Add(-time.Minute)},
		{"issued in the future", s.now().Add(time.Minute)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.HandleEmbedding(context.Background(), protocol.EmbeddingRequest{
				Nonce:      testNonce(t),
				IssuedAt:   tt.issuedAt,
				ValidityMS: 5000,
			})
			if resp.Status != protocol.StatusError || resp.ErrorCode != protocol.CodeChallengeExpired {
				t.Errorf("response = (%q, %q), want (error, challenge_expired)",
					resp.Status, resp.ErrorCode)
			}
			if source.calls != 0 {
				t.Error("capture ran for an expired challenge")
			}
		})
	}
}

func TestHandleEmbedding_RejectsShortNonce(t *testing.T) {
	keys := testKeyring(t)
	source := &fakeSource{}
	s := newTestService(t, source, keys)

	resp := s.HandleEmbedding(context.Background(), protocol.EmbeddingRequest{
		Nonce:      []byte{1, 2, 3},
		IssuedAt:   s.now(),
		ValidityMS: 5000,
	})

	if resp.ErrorCode != protocol.CodeBadRequest {
		t.Errorf("code = %q, want bad_request", resp.ErrorCode)
	}
	if source.calls != 0 {
		t.Error("capture ran for a malformed request")
	}
}

func TestHandleEmbedding_WrongDimensionFailsCapture(t *testing.T) {
	keys := testKeyring(t)
	source := &fakeSource{sample: &capture.Sample{
		Embedding:  embedding.Vector{1, 0},
		CapturedAt: time.Now(),
	}}
	s := newTestService(t, source, keys)

	resp := s.HandleEmbedding(context.Background(), protocol.EmbeddingRequest{
		Nonce:      testNonce(t),
		IssuedAt:   s.now(),
		ValidityMS: 5000,
	})

	if resp.ErrorCode != protocol.CodeCaptureFailed {
		t.Errorf("code = %q, want capture_failed", resp.ErrorCode)
	}
	if len(resp.Signature) != 0 {
		t.Error("wrong-dimension capture must not be signed")
	}
}

func TestHandleEmbedding_SourceError(t *testing.T) {
	keys := testKeyring(t)
	source := &fakeSource{err: errors.New("device disappeared")}
	s := newTestService(t, source, keys)

	resp := s.HandleEmbedding(context.Background(), protocol.EmbeddingRequest{
		Nonce:      testNonce(t),
		IssuedAt:   s.now(),
		ValidityMS: 5000,
	})

	if resp.Status != protocol.StatusError || resp.ErrorCode != protocol.CodeCaptureFailed {
		t.Errorf("response = (%q, %q), want (error, capture_failed)", resp.Status, resp.ErrorCode)
	}
}

func TestInfo(t *testing.T) {
	keys := testKeyring(t)
	s := newTestService(t, &fakeSource{}, keys)

	info := s.Info()
	if info.Dim != 4 {
		t.Errorf("dim = %d, want 4", info.Dim)
	}
	if info.Source != "fake" {
		t.Errorf("source = %q, want fake", info.Source)
	}
	if info.StartedAt.IsZero() {
		t.Error("started_at is zero")
	}
}
