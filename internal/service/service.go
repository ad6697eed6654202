// Package service implements the unprivileged half of the challenge
// protocol. It owns the capture device, answers each nonce at most
// once, and signs whatever it saw with a key derived for that nonce.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/adam-mcguinness/sup-linux/internal/capture"
	"github.com/adam-mcguinness/sup-linux/internal/challenge"
	"github.com/adam-mcguinness/sup-linux/internal/keyring"
	"github.com/adam-mcguinness/sup-linux/internal/protocol"
)

// maxChallengeValidity caps the validity a caller can claim for its
// challenge so replay-cache entries cannot be made to live forever.
const maxChallengeValidity = time.Minute

// Options configures a Service.
type Options struct {
	Dim            int
	CaptureTimeout time.Duration
	CapturePoll    time.Duration
}

// Service answers embedding challenges from one capture source.
type Service struct {
	source capture.Source
	keys   *keyring.Keyring
	log    *zap.Logger

	dim            int
	captureTimeout time.Duration
	pollEvery      time.Duration

	// captureMu serializes camera sessions.
	captureMu sync.Mutex

	// mu guards answered, the set of nonces already burned. Entries
	// are swept once their challenge window has passed.
	mu       sync.Mutex
	answered map[string]time.Time

	now       func() time.Time
	startedAt time.Time
}

// New builds a Service around a capture source and signing keys.
func New(source capture.Source, keys *keyring.Keyring, log *zap.Logger, opts Options) *Service {
	if opts.CaptureTimeout <= 0 {
		opts.CaptureTimeout = 5 * time.Second
	}
	if opts.CapturePoll <= 0 {
		opts.CapturePoll = 150 * time.Millisecond
	}

	s := &Service{
		source:         source,
		keys:           keys,
		log:            log,
		dim:            opts.Dim,
		captureTimeout: opts.CaptureTimeout,
		pollEvery:      opts.CapturePoll,
		answered:       make(map[string]time.Time),
		now:            time.Now,
	}
	s.startedAt = s.now()
	return s
}

// HandleEmbedding answers one challenge. The nonce is burned before
// the capture starts, so even a challenge that ends in no_face cannot
// be answered twice.
func (s *Service) HandleEmbedding(ctx context.Context, req protocol.EmbeddingRequest) protocol.EmbeddingResponse {
	resp := protocol.EmbeddingResponse{Nonce: req.Nonce}

	if len(req.Nonce) < challenge.MinNonceSize {
		s.log.Warn("rejecting short nonce", zap.Int("bytes", len(req.Nonce)))
		return errorResponse(resp, protocol.CodeBadRequest, "nonce too short")
	}

	validity := time.Duration(req.ValidityMS) * time.Millisecond
	if validity <= 0 || validity > maxChallengeValidity {
		validity = maxChallengeValidity
	}
	ch := challenge.Challenge{Nonce: req.Nonce, IssuedAt: req.IssuedAt, Validity: validity}

	now := s.now()
	if err := ch.FreshAt(now); err != nil {
		s.log.Warn("rejecting challenge outside validity window",
			zap.Time("issued_at", req.IssuedAt),
			zap.Duration("validity", validity))
		return errorResponse(resp, protocol.CodeChallengeExpired, "challenge outside validity window")
	}

	if !s.claim(ch, now) {
		s.log.Warn("rejecting replayed challenge", zap.String("nonce", ch.Key()))
		return errorResponse(resp, protocol.CodeChallengeReplayed, "challenge already answered")
	}

	sample, err := s.capture(ctx, now)
	if err != nil {
		if errors.Is(err, capture.ErrNoFace) {
			s.log.Info("no face within capture window")
			resp.Status = protocol.StatusNoFace
			return resp
		}
		s.log.Error("capture failed", zap.Error(err))
		return errorResponse(resp, protocol.CodeCaptureFailed, err.Error())
	}

	if len(sample.Embedding) != s.dim {
		s.log.Error("capture produced unexpected dimension",
			zap.Int("got", len(sample.Embedding)),
			zap.Int("want", s.dim))
		return errorResponse(resp, protocol.CodeCaptureFailed, "unexpected embedding dimension")
	}

	payload := protocol.SignaturePayload(req.Nonce, sample.Embedding, sample.CapturedAt)
	sig, err := s.keys.Sign(req.Nonce, payload)
	if err != nil {
		s.log.Error("signing capture failed", zap.Error(err))
		return errorResponse(resp, protocol.CodeCaptureFailed, "signing failed")
	}

	s.log.Info("challenge answered",
		zap.String("nonce", ch.Key()),
		zap.Float32("quality", sample.Quality))

	resp.Status = protocol.StatusOK
	resp.Embedding = sample.Embedding
	resp.Quality = sample.Quality
	resp.CapturedAt = sample.CapturedAt
	resp.Signature = sig
	return resp
}

// Health reports liveness.
func (s *Service) Health() protocol.HealthResponse {
	return protocol.HealthResponse{Status: "ok"}
}

// Info reports what this service instance is serving.
func (s *Service) Info() protocol.InfoResponse {
	return protocol.InfoResponse{
		Dim:       s.dim,
		Source:    s.source.Describe(),
		StartedAt: s.startedAt,
	}
}

// claim burns a nonce. It returns false when the nonce was already
// answered inside its validity window.
func (s *Service) claim(ch challenge.Challenge, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, expires := range s.answered {
		if now.After(expires) {
			delete(s.answered, key)
		}
	}

	key := ch.Key()
	if _, seen := s.answered[key]; seen {
		return false
	}
	s.answered[key] = ch.ExpiresAt()
	return true
}

// capture polls the source until a face shows up or the capture window
// closes. The window runs from when the challenge was accepted, so
// time spent waiting on another capture session counts against it.
func (s *Service) capture(ctx context.Context, started time.Time) (*capture.Sample, error) {
	s.captureMu.Lock()
	defer s.captureMu.Unlock()

	deadline := started.Add(s.captureTimeout)
	for {
		sample, err := s.source.Capture(ctx)
		if err == nil {
			return sample, nil
		}
		if !errors.Is(err, capture.ErrNoFace) {
			return nil, err
		}
		if !s.now().Before(deadline) {
			return nil, capture.ErrNoFace
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.pollEvery):
		}
	}
}

func errorResponse(resp protocol.EmbeddingResponse, code, msg string) protocol.EmbeddingResponse {
	resp.Status = protocol.StatusError
	resp.ErrorCode = code
	resp.Error = msg
	return resp
}
