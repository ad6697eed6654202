// Package engine implements the privileged decision side of the system.
// It drives the challenge-response exchange against the embedding
// service and folds a stream of noisy biometric samples into a single
// timed Allow/Deny/Error verdict.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adam-mcguinness/sup-linux/internal/audit"
	"github.com/adam-mcguinness/sup-linux/internal/challenge"
	"github.com/adam-mcguinness/sup-linux/internal/config"
	"github.com/adam-mcguinness/sup-linux/internal/embedding"
	"github.com/adam-mcguinness/sup-linux/internal/keyring"
	"github.com/adam-mcguinness/sup-linux/internal/match"
	"github.com/adam-mcguinness/sup-linux/internal/protocol"
	"github.com/adam-mcguinness/sup-linux/internal/store"
)

// ErrReplayDetected marks a nonce presented twice within one session.
var ErrReplayDetected = errors.New("challenge nonce replayed")

// errInternal tags failures of the engine itself, as opposed to the
// transport; the two map to different Error kinds.
var errInternal = errors.New("internal engine failure")

// ProfileStore is the slice of the enrollment store the engine needs.
// Authentication reads templates and settles lockout counters; it never
// writes enrollment data.
type ProfileStore interface {
	GetUser(ctx context.Context, username string) (*store.UserProfile, error)
	Lockout(ctx context.Context, username string) (store.LockoutState, error)
	RecordFailure(ctx context.Context, username string, maxFailures int, duration time.Duration) (store.LockoutState, error)
	ClearFailures(ctx context.Context, username string) error
}

// EmbeddingClient is the transport boundary to the embedding service.
type EmbeddingClient interface {
	RequestEmbedding(ctx context.Context, req protocol.EmbeddingRequest) (*protocol.EmbeddingResponse, error)
}

// Engine renders authentication verdicts. It is stateless between
// calls; all session state lives in the call frame.
type Engine struct {
	cfg    *config.Config
	store  ProfileStore
	client EmbeddingClient
	keys   *keyring.Keyring
	audit  *audit.Writer
	log    *zap.Logger
	now    func() time.Time
}

// New builds an Engine. The keyring must hold the same master secret
// the embedding service signs with.
func New(cfg *config.Config, st ProfileStore, client EmbeddingClient, keys *keyring.Keyring, auditW *audit.Writer, log *zap.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		store:  st,
		client: client,
		keys:   keys,
		audit:  auditW,
		log:    log,
		now:    time.Now,
	}
}

// session is the per-call match state. It is destroyed with the call
// frame and never persisted.
type session struct {
	id        string
	username  string
	templates []embedding.Vector
	average   embedding.Vector
	threshold float64
	buffer    *match.RollingBuffer
	consumed  map[string]struct{}
	deadline  time.Time
}

// Authenticate runs one K-of-N session for username and always returns
// a terminal Result; it never panics outward. Lockout is checked before
// the service is contacted at all.
func (e *Engine) Authenticate(ctx context.Context, username string) Result {
	started := e.now()
	username = store.NormalizeUsername(username)

	res := Result{
		SessionID: uuid.New().String(),
		Username:  username,
		Outcome:   Error,
		ErrorKind: ErrorInternal,
	}

	log := e.log.With(
		zap.String("session_id", res.SessionID),
		zap.String("username", username),
	)

	e.emit(log, audit.Event{
		Kind:      audit.KindSessionStart,
		SessionID: res.SessionID,
		Username:  username,
	})

	lock, err := e.store.Lockout(ctx, username)
	if err != nil {
		log.Error("reading lockout state", zap.Error(err))
		return e.finish(log, started, res)
	}
	if lock.ActiveAt(e.now()) {
		log.Warn("user locked out", zap.Time("locked_until", lock.LockedUntil))
		res.Outcome = Deny
		res.DenyReason = DenyLockedOut
		res.ErrorKind = ""
		return e.finish(log, started, res)
	}

	profile, err := e.store.GetUser(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			log.Info("user has no enrollment")
			res.Outcome = Deny
			res.DenyReason = DenyUserNotEnrolled
			res.ErrorKind = ""
			return e.finish(log, started, res)
		}
		log.Error("loading user profile", zap.Error(err))
		return e.finish(log, started, res)
	}
	if len(profile.Embeddings) == 0 {
		log.Info("user has no templates")
		res.Outcome = Deny
		res.DenyReason = DenyUserNotEnrolled
		res.ErrorKind = ""
		return e.finish(log, started, res)
	}

	s := &session{
		id:        res.SessionID,
		username:  username,
		templates: profile.TemplateVectors(),
		average:   profile.Average,
		threshold: match.EffectiveThreshold(
			e.cfg.Auth.SimilarityThreshold,
			e.cfg.Auth.QualityWeight,
			profile.Qualities()),
		buffer:   match.NewRollingBuffer(e.cfg.Auth.EmbeddingBufferSize),
		consumed: make(map[string]struct{}),
		deadline: started.Add(e.cfg.Auth.SessionTimeout()),
	}
	res.Threshold = s.threshold

	sessionCtx, cancel := context.WithDeadline(ctx, s.deadline)
	defer cancel()

	k := e.cfg.Auth.KRequiredMatches
	n := e.cfg.Auth.NTotalAttempts
	bestScore := math.Inf(-1)
	scored := 0
	noFace := 0
	deadlineHit := false

	for number := 1; number <= n && res.Successes < k; number++ {
		now := e.now()
		if !now.Before(s.deadline) {
			deadlineHit = true
			break
		}

		rec, err := e.runAttempt(sessionCtx, log, s, number, s.deadline.Sub(now))
		res.Attempts = append(res.Attempts, rec)

		if err != nil {
			kind := ErrorTransport
			if errors.Is(err, errInternal) {
				kind = ErrorInternal
			}
			log.Error("session aborted", zap.Int("attempt", number), zap.Error(err))
			res.Outcome = Error
			res.ErrorKind = kind
			return e.finish(log, started, res)
		}

		if rec.Matched {
			res.Successes++
		}
		if rec.NoFace {
			noFace++
		}
		if len(rec.Comparisons) > 0 {
			scored++
			if rec.Score > bestScore {
				bestScore = rec.Score
			}
		}
	}

	if scored > 0 {
		res.BestScore = bestScore
	}

	res.ErrorKind = ""
	if res.Successes >= k {
		res.Outcome = Allow
	} else {
		res.Outcome = Deny
		switch {
		case noFace > 0 && noFace == len(res.Attempts):
			res.DenyReason = DenyNoFace
		case deadlineHit || sessionCtx.Err() != nil:
			res.DenyReason = DenyTimeout
		default:
			res.DenyReason = DenyInsufficientMatches
		}
	}

	return e.finish(log, started, res)
}

// runAttempt runs one challenge-response round. A non-nil error aborts
// the whole session; everything else is folded into the record.
func (e *Engine) runAttempt(ctx context.Context, log *zap.Logger, s *session, number int, remaining time.Duration) (AttemptRecord, error) {
	rec := AttemptRecord{Number: number, State: StateIdle}

	ch, err := challenge.New(e.cfg.Auth.NonceSize, e.cfg.Auth.ChallengeValidity(), e.now())
	if err != nil {
		return rec, fmt.Errorf("%w: generating challenge: %v", errInternal, err)
	}
	rec.State = StateChallengeIssued

	timeout := e.cfg.Auth.AttemptTimeout()
	if timeout > remaining {
		timeout = remaining
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rec.State = StateAwaitingResponse
	resp, err := e.client.RequestEmbedding(attemptCtx, protocol.EmbeddingRequest{
		Nonce:      ch.Nonce,
		IssuedAt:   ch.IssuedAt,
		ValidityMS: int(ch.Validity / time.Millisecond),
	})
	if err != nil {
		if attemptCtx.Err() != nil {
			// The attempt or session budget ran out mid-exchange. A late
			// response is dropped here; its nonce is no longer pending.
			rec.State = StateTimedOut
			rec.Reason = "attempt timed out"
			log.Warn("attempt timed out", zap.Int("attempt", number))
			e.auditAttempt(log, s, rec)
			return rec, nil
		}
		return rec, fmt.Errorf("requesting embedding: %w", err)
	}

	// The echoed nonce must be this attempt's pending challenge, and a
	// nonce is consumed exactly once per session.
	if !bytes.Equal(resp.Nonce, ch.Nonce) {
		return e.violation(log, s, rec, "response nonce does not match pending challenge"), nil
	}
	if _, seen := s.consumed[ch.Key()]; seen {
		return e.violation(log, s, rec, ErrReplayDetected.Error()), nil
	}
	s.consumed[ch.Key()] = struct{}{}

	switch resp.Status {
	case protocol.StatusNoFace:
		rec.State = StateRejected
		rec.NoFace = true
		rec.Reason = "no face detected"
		log.Info("no face detected", zap.Int("attempt", number))
		e.auditAttempt(log, s, rec)
		return rec, nil

	case protocol.StatusError:
		switch resp.ErrorCode {
		case protocol.CodeChallengeExpired, protocol.CodeChallengeReplayed:
			return e.violation(log, s, rec, "service refused challenge: "+resp.ErrorCode), nil
		}
		rec.State = StateRejected
		rec.Reason = "service error: " + resp.ErrorCode
		log.Warn("service reported capture error",
			zap.Int("attempt", number),
			zap.String("code", resp.ErrorCode),
			zap.String("detail", resp.Error))
		e.auditAttempt(log, s, rec)
		return rec, nil

	case protocol.StatusOK:
		// verified below

	default:
		return e.violation(log, s, rec, fmt.Sprintf("unknown response status %q", resp.Status)), nil
	}

	if err := ch.FreshAt(e.now()); err != nil {
		return e.violation(log, s, rec, "response arrived outside the challenge validity window"), nil
	}
	if len(resp.Embedding) != e.cfg.Embedding.Dim {
		return e.violation(log, s, rec,
			fmt.Sprintf("embedding dimension %d, want %d", len(resp.Embedding), e.cfg.Embedding.Dim)), nil
	}
	payload := protocol.SignaturePayload(resp.Nonce, resp.Embedding, resp.CapturedAt)
	if err := e.keys.Verify(resp.Nonce, payload, resp.Signature); err != nil {
		return e.violation(log, s, rec, "signature verification failed"), nil
	}

	rec.Quality = resp.Quality

	// Score against the buffer mean as it stood before this sample.
	var bufferMean embedding.Vector
	if e.cfg.Auth.UseEmbeddingFusion {
		bufferMean = s.buffer.Mean()
	}
	sc := match.ScoreSample(resp.Embedding, s.templates, s.average, bufferMean)
	rec.Score = sc.Best
	rec.Comparisons = sc.Comparisons

	if e.cfg.Auth.UseEmbeddingFusion {
		if float64(resp.Quality) >= e.cfg.Auth.MinSampleQuality {
			s.buffer.Push(resp.Embedding)
		} else {
			log.Debug("sample below quality floor, not fused",
				zap.Float32("quality", resp.Quality))
		}
	}

	if sc.Best >= s.threshold {
		rec.State = StateVerified
		rec.Matched = true
	} else {
		rec.State = StateRejected
		rec.Reason = "similarity below threshold"
	}

	log.Info("attempt scored",
		zap.Int("attempt", number),
		zap.Float64("score", sc.Best),
		zap.Float64("threshold", s.threshold),
		zap.Bool("matched", rec.Matched))
	e.auditAttempt(log, s, rec)
	return rec, nil
}

// violation marks an attempt failed for a security reason. The sample,
// if any, is never scored and never reaches the rolling buffer.
func (e *Engine) violation(log *zap.Logger, s *session, rec AttemptRecord, reason string) AttemptRecord {
	rec.State = StateRejected
	rec.SecurityViolation = true
	rec.Reason = reason

	log.Error("security violation",
		zap.Int("attempt", rec.Number),
		zap.String("reason", reason))
	e.emit(log, audit.Event{
		Kind:      audit.KindSecurityViolation,
		SessionID: s.id,
		Username:  s.username,
		Attempt:   rec.Number,
		Reason:    reason,
	})
	return rec
}

func (e *Engine) auditAttempt(log *zap.Logger, s *session, rec AttemptRecord) {
	e.emit(log, audit.Event{
		Kind:        audit.KindAttempt,
		SessionID:   s.id,
		Username:    s.username,
		Attempt:     rec.Number,
		Outcome:     rec.State.String(),
		Reason:      rec.Reason,
		Score:       rec.Score,
		Threshold:   s.threshold,
		Quality:     rec.Quality,
		Comparisons: rec.Comparisons,
	})
}

// emit writes an audit event. Audit trouble is logged but never fails
// the session; login availability does not hang on the audit disk.
func (e *Engine) emit(log *zap.Logger, event audit.Event) {
	if err := e.audit.Emit(event); err != nil {
		log.Warn("writing audit event", zap.Error(err))
	}
}

// finish stamps the elapsed time, settles the failure counter and
// writes the verdict. Bookkeeping runs on a fresh context so it still
// happens when the session deadline killed the caller's.
func (e *Engine) finish(log *zap.Logger, started time.Time, res Result) Result {
	res.Elapsed = e.now().Sub(started)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	switch res.Outcome {
	case Allow:
		if err := e.store.ClearFailures(ctx, res.Username); err != nil {
			log.Warn("clearing failure counter", zap.Error(err))
		}
	case Deny:
		switch res.DenyReason {
		case DenyInsufficientMatches, DenyTimeout, DenyNoFace:
			state, err := e.store.RecordFailure(ctx, res.Username,
				e.cfg.Lockout.MaxFailures, e.cfg.Lockout.Duration())
			if err != nil {
				log.Warn("recording failure", zap.Error(err))
			} else if state.ActiveAt(e.now()) {
				log.Warn("lockout armed",
					zap.Int("failures", state.Failures),
					zap.Time("locked_until", state.LockedUntil))
			}
		}
	}

	reason := string(res.DenyReason)
	if res.Outcome == Error {
		reason = string(res.ErrorKind)
	}

	e.emit(log, audit.Event{
		Kind:      audit.KindVerdict,
		SessionID: res.SessionID,
		Username:  res.Username,
		Outcome:   res.Outcome.String(),
		Reason:    reason,
		Score:     res.BestScore,
		Threshold: res.Threshold,
		Attempt:   len(res.Attempts),
		ElapsedMS: res.Elapsed.Milliseconds(),
	})

	log.Info("session verdict",
		zap.String("outcome", res.Outcome.String()),
		zap.String("reason", reason),
		zap.Int("attempts", len(res.Attempts)),
		zap.Int("successes", res.Successes),
		zap.Duration("elapsed", res.Elapsed))

	return res
}
