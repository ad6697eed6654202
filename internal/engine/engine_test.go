package engine

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/adam-mcguinness/sup-linux/internal/audit"
	"github.com/adam-mcguinness/sup-linux/internal/config"
	"github.com/adam-mcguinness/sup-linux/internal/embedding"
	"github.com/adam-mcguinness/sup-linux/internal/keyring"
	"github.com/adam-mcguinness/sup-linux/internal/protocol"
	"github.com/adam-mcguinness/sup-linux/internal/store"
)

type stubStore struct {
	profile  *store.UserProfile
	getErr   error
	lock     store.LockoutState
	lockErr  error
	failures []string
	clears   []string
}

func (s *stubStore) GetUser(_ context.Context, username string) (*store.UserProfile, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	if s.profile == nil {
		return nil, fmt.Errorf("%w: %s", store.ErrUserNotFound, username)
	}
	return s.profile, nil
}

func (s *stubStore) Lockout(context.Context, string) (store.LockoutState, error) {
	return s.lock, s.lockErr
}

func (s *stubStore) RecordFailure(_ context.Context, username string, _ int, _ time.Duration) (store.LockoutState, error) {
	s.failures = append(s.failures, username)
	return store.LockoutState{Username: username, Failures: len(s.failures)}, nil
}

func (s *stubStore) ClearFailures(_ context.Context, username string) error {
	s.clears = append(s.clears, username)
	return nil
}

type scriptFunc func(ctx context.Context, req protocol.EmbeddingRequest) (*protocol.EmbeddingResponse, error)

type scriptedClient struct {
	t       *testing.T
	scripts []scriptFunc
	calls   int
}

func (c *scriptedClient) RequestEmbedding(ctx context.Context, req protocol.EmbeddingRequest) (*protocol.EmbeddingResponse, error) {
	if c.calls >= len(c.scripts) {
		c.t.Fatalf("unexpected embedding request %d", c.calls+1)
	}
	script := c.scripts[c.calls]
	c.calls++
	return script(ctx, req)
}

// blockingClient never answers; it waits out the attempt context.
type blockingClient struct {
	calls int
}

func (c *blockingClient) RequestEmbedding(ctx context.Context, _ protocol.EmbeddingRequest) (*protocol.EmbeddingResponse, error) {
	c.calls++
	<-ctx.Done()
	return nil, fmt.Errorf("request failed: %w", ctx.Err())
}

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

func testConfig() *config.Config {
	return &config.Config{
		Auth: config.AuthConfig{
			SimilarityThreshold:   0.6,
			KRequiredMatches:      2,
			NTotalAttempts:        3,
			EmbeddingBufferSize:   3,
			UseEmbeddingFusion:    false,
			TimeoutSeconds:        5,
			AttemptTimeoutSeconds: 2,
			ChallengeValidityMS:   5000,
			NonceSize:             32,
			MinSampleQuality:      0.30,
			QualityWeight:         0,
		},
		Lockout:   config.LockoutConfig{MaxFailures: 5, DurationSeconds: 300},
		Embedding: config.EmbeddingConfig{Dim: 4},
	}
}

// enrolledProfile has a single unit template along the first axis, so a
// sample built by vecAt scores exactly its planned similarity.
func enrolledProfile() *store.UserProfile {
	tpl := embedding.Vector{1, 0, 0, 0}
	return &store.UserProfile{
		ID:       1,
		Username: "alice",
		Embeddings: []store.StoredEmbedding{
			{ID: 1, Vector: tpl, Quality: 0.9, Label: "front"},
		},
		Average: tpl,
	}
}

// vecAt builds a unit vector whose cosine similarity against the
// enrolled template is sim.
func vecAt(sim float64) embedding.Vector {
	return embedding.Vector{float32(sim), float32(math.Sqrt(1 - sim*sim)), 0, 0}
}

func signedResponse(t *testing.T, keys *keyring.Keyring, req protocol.EmbeddingRequest, vec embedding.Vector, quality float32) *protocol.EmbeddingResponse {
	t.Helper()
	capturedAt := time.Now()
	payload := protocol.SignaturePayload(req.Nonce, vec, capturedAt)
	sig, err := keys.Sign(req.Nonce, payload)
	if err != nil {
		t.Fatalf("signing response: %v", err)
	}
	return &protocol.EmbeddingResponse{
		Nonce:      req.Nonce,
		Status:     protocol.StatusOK,
		Embedding:  vec,
		Quality:    quality,
		CapturedAt: capturedAt,
		Signature:  sig,
	}
}

func okScript(t *testing.T, keys *keyring.Keyring, vec embedding.Vector, quality float32) scriptFunc {
	return func(_ context.Context, req protocol.EmbeddingRequest) (*protocol.EmbeddingResponse, error) {
		return signedResponse(t, keys, req, vec, quality), nil
	}
}

func noFaceScript() scriptFunc {
	return func(_ context.Context, req protocol.EmbeddingRequest) (*protocol.EmbeddingResponse, error) {
		return &protocol.EmbeddingResponse{Nonce: req.Nonce, Status: protocol.StatusNoFace}, nil
	}
}

func newTestEngine(cfg *config.Config, st *stubStore, client EmbeddingClient, keys *keyring.Keyring) *Engine {
	return New(cfg, st, client, keys, audit.NewWriterTo(io.Discard), zap.NewNop())
}

func TestAuthenticate_KOfNAllow(t *testing.T) {
	keys := testKeyring(t)
	st := &stubStore{profile: enrolledProfile()}
	client := &scriptedClient{t: t, scripts: []scriptFunc{
		okScript(t, keys, vecAt(0.65), 0.9),
		okScript(t, keys, vecAt(0.50), 0.9),
		okScript(t, keys, vecAt(0.70), 0.9),
	}}
	e := newTestEngine(testConfig(), st, client, keys)

	res := e.Authenticate(context.Background(), "alice")

	if res.Outcome != Allow {
		t.Fatalf("outcome = %v (%s), want allow", res.Outcome, res.DenyReason)
	}
	if res.Successes != 2 || len(res.Attempts) != 3 {
		t.Errorf("successes = %d attempts = %d, want 2 of 3", res.Successes, len(res.Attempts))
	}
	wantStates := []AttemptState{StateVerified, StateRejected, StateVerified}
	for i, want := range wantStates {
		if res.Attempts[i].State != want {
			t.Errorf("attempt %d state = %v, want %v", i+1, res.Attempts[i].State, want)
		}
	}
	if math.Abs(res.Threshold-0.6) > 0.0001 {
		t.Errorf("threshold = %v, want 0.6", res.Threshold)
	}
	if math.Abs(res.BestScore-0.70) > 0.01 {
		t.Errorf("best score = %v, want about 0.70", res.BestScore)
	}
	if res.ExitCode() != ExitAllow {
		t.Errorf("exit code = %d, want 0", res.ExitCode())
	}
	if len(st.clears) != 1 || len(st.failures) != 0 {
		t.Errorf("counter calls = clear %d fail %d, want 1 and 0", len(st.clears), len(st.failures))
	}
}

func TestAuthenticate_AllAttemptsRunWithoutEarlyAbort(t *testing.T) {
	keys := testKeyring(t)
	st := &stubStore{profile: enrolledProfile()}
	client := &scriptedClient{t: t, scripts: []scriptFunc{
		okScript(t, keys, vecAt(0.50), 0.9),
		okScript(t, keys, vecAt(0.55), 0.9),
		okScript(t, keys, vecAt(0.58), 0.9),
	}}
	e := newTestEngine(testConfig(), st, client, keys)

	res := e.Authenticate(context.Background(), "alice")

	if res.Outcome != Deny || res.DenyReason != DenyInsufficientMatches {
		t.Fatalf("verdict = %v/%s, want deny/insufficient_matches", res.Outcome, res.DenyReason)
	}
	if client.calls != 3 {
		t.Errorf("attempts made = %d, want all 3 even when K is unreachable", client.calls)
	}
	if res.Successes != 0 {
		t.Errorf("successes = %d, want 0", res.Successes)
	}
	if math.Abs(res.BestScore-0.58) > 0.01 {
		t.Errorf("best score = %v, want about 0.58", res.BestScore)
	}
	if res.ExitCode() != ExitDeny {
		t.Errorf("exit code = %d, want 1", res.ExitCode())
	}
	if len(st.failures) != 1 {
		t.Errorf("failure recorded %d times, want 1", len(st.failures))
	}
}

func TestAuthenticate_BadSignatureFailsAttemptOnly(t *testing.T) {
	keys := testKeyring(t)
	st := &stubStore{profile: enrolledProfile()}

	tampered := func(_ context.Context, req protocol.EmbeddingRequest) (*protocol.EmbeddingResponse, error) {
		resp := signedResponse(t, keys, req, vecAt(0.9), 0.9)
		resp.Signature[0] ^= 0xff
		return resp, nil
	}

	client := &scriptedClient{t: t, scripts: []scriptFunc{
		tampered,
		okScript(t, keys, vecAt(0.70), 0.9),
		okScript(t, keys, vecAt(0.70), 0.9),
	}}
	e := newTestEngine(testConfig(), st, client, keys)

	res := e.Authenticate(context.Background(), "alice")

	if res.Outcome != Allow {
		t.Fatalf("outcome = %v, want allow after recovering from violation", res.Outcome)
	}
	first := res.Attempts[0]
	if !first.SecurityViolation || first.State != StateRejected {
		t.Errorf("attempt 1 = %+v, want rejected security violation", first)
	}
	if first.Score != 0 || len(first.Comparisons) != 0 {
		t.Error("tampered sample must not be scored")
	}
}

func TestAuthenticate_AllNoFace(t *testing.T) {
	keys := testKeyring(t)
	st := &stubStore{profile: enrolledProfile()}
	client := &scriptedClient{t: t, scripts: []scriptFunc{
		noFaceScript(), noFaceScript(), noFaceScript(),
	}}
	e := newTestEngine(testConfig(), st, client, keys)

	res := e.Authenticate(context.Background(), "alice")

	if res.Outcome != Deny || res.DenyReason != DenyNoFace {
		t.Fatalf("verdict = %v/%s, want deny/no_face", res.Outcome, res.DenyReason)
	}
	for i, rec := range res.Attempts {
		if !rec.NoFace {
			t.Errorf("attempt %d NoFace = false, want true", i+1)
		}
	}
	if res.ExitCode() != ExitDeny {
		t.Errorf("exit code = %d, want 1 (indistinguishable from other denials)", res.ExitCode())
	}
}

func TestAuthenticate_LockoutShortCircuits(t *testing.T) {
	keys := testKeyring(t)
	st := &stubStore{
		profile: enrolledProfile(),
		lock: store.LockoutState{
			Username:    "alice",
			Failures:    5,
			LockedUntil: time.Now().Add(time.Minute),
		},
	}
	client := &scriptedClient{t: t} // any request would fail the test
	e := newTestEngine(testConfig(), st, client, keys)

	res := e.Authenticate(context.Background(), "alice")

	if res.Outcome != Deny || res.DenyReason != DenyLockedOut {
		t.Fatalf("verdict = %v/%s, want deny/locked_out", res.Outcome, res.DenyReason)
	}
	if client.calls != 0 {
		t.Error("service contacted for a locked-out user")
	}
	if len(st.failures) != 0 {
		t.Error("failure recorded during active lockout")
	}
}

func TestAuthenticate_UserNotEnrolled(t *testing.T) {
	keys := testKeyring(t)
	st := &stubStore{}
	client := &scriptedClient{t: t}
	e := newTestEngine(testConfig(), st, client, keys)

	res := e.Authenticate(context.Background(), "nobody")

	if res.Outcome != Deny || res.DenyReason != DenyUserNotEnrolled {
		t.Fatalf("verdict = %v/%s, want deny/user_not_enrolled", res.Outcome, res.DenyReason)
	}
	if client.calls != 0 {
		t.Error("service contacted for an unenrolled user")
	}
	if res.ExitCode() != ExitDeny {
		t.Errorf("exit code = %d, want 1", res.ExitCode())
	}
}

func TestAuthenticate_TransportFailureIsImmediateError(t *testing.T) {
	keys := testKeyring(t)
	st := &stubStore{profile: enrolledProfile()}
	client := &scriptedClient{t: t, scripts: []scriptFunc{
		func(context.Context, protocol.EmbeddingRequest) (*protocol.EmbeddingResponse, error) {
			return nil, errors.New("dial unix: connection refused")
		},
	}}
	e := newTestEngine(testConfig(), st, client, keys)

	res := e.Authenticate(context.Background(), "alice")

	if res.Outcome != Error || res.ErrorKind != ErrorTransport {
		t.Fatalf("verdict = %v/%s, want error/transport", res.Outcome, res.ErrorKind)
	}
	if client.calls != 1 {
		t.Errorf("attempts after transport failure = %d, want 1", client.calls)
	}
	if res.ExitCode() != ExitError {
		t.Errorf("exit code = %d, want 2", res.ExitCode())
	}
	if len(st.failures) != 0 {
		t.Error("system fault recorded as a user failure")
	}
}

func TestAuthenticate_StoreErrorIsInternal(t *testing.T) {
	keys := testKeyring(t)
	st := &stubStore{lockErr: errors.New("database locked")}
	e := newTestEngine(testConfig(), st, &scriptedClient{t: t}, keys)

	res := e.Authenticate(context.Background(), "alice")

	if res.Outcome != Error || res.ErrorKind != ErrorInternal {
		t.Fatalf("verdict = %v/%s, want error/internal", res.Outcome, res.ErrorKind)
	}
}

func TestAuthenticate_ViolationsDoNotPoisonSession(t *testing.T) {
	keys := testKeyring(t)
	st := &stubStore{profile: enrolledProfile()}

	wrongNonce := func(_ context.Context, req protocol.EmbeddingRequest) (*protocol.EmbeddingResponse, error) {
		other := bytes.Repeat([]byte{0xAB}, len(req.Nonce))
		resp := signedResponse(t, keys, protocol.EmbeddingRequest{Nonce: other}, vecAt(0.9), 0.9)
		return resp, nil
	}
	serviceRefusal := func(_ context.Context, req protocol.EmbeddingRequest) (*protocol.EmbeddingResponse, error) {
		return &protocol.EmbeddingResponse{
			Nonce:     req.Nonce,
			Status:    protocol.StatusError,
			ErrorCode: protocol.CodeChallengeReplayed,
		}, nil
	}

	client := &scriptedClient{t: t, scripts: []scriptFunc{
		wrongNonce,
		serviceRefusal,
		okScript(t, keys, vecAt(0.70), 0.9),
	}}
	e := newTestEngine(testConfig(), st, client, keys)

	res := e.Authenticate(context.Background(), "alice")

	if res.Outcome != Deny || res.DenyReason != DenyInsufficientMatches {
		t.Fatalf("verdict = %v/%s, want deny/insufficient_matches", res.Outcome, res.DenyReason)
	}
	if !res.Attempts[0].SecurityViolation || !res.Attempts[1].SecurityViolation {
		t.Error("attempts 1 and 2 should be security violations")
	}
	if res.Attempts[2].State != StateVerified {
		t.Errorf("attempt 3 state = %v, want verified", res.Attempts[2].State)
	}
	if res.Successes != 1 {
		t.Errorf("successes = %d, want 1", res.Successes)
	}
}

func TestAuthenticate_WrongDimensionIsViolation(t *testing.T) {
	keys := testKeyring(t)
	st := &stubStore{profile: enrolledProfile()}

	shortVec := func(_ context.Context, req protocol.EmbeddingRequest) (*protocol.EmbeddingResponse, error) {
		return signedResponse(t, keys, req, embedding.Vector{1, 0}, 0.9), nil
	}
	client := &scriptedClient{t: t, scripts: []scriptFunc{
		shortVec,
		okScript(t, keys, vecAt(0.70), 0.9),
		okScript(t, keys, vecAt(0.70), 0.9),
	}}
	e := newTestEngine(testConfig(), st, client, keys)

	res := e.Authenticate(context.Background(), "alice")

	if res.Outcome != Allow {
		t.Fatalf("outcome = %v, want allow", res.Outcome)
	}
	if !res.Attempts[0].SecurityViolation {
		t.Error("dimension mismatch not flagged as security violation")
	}
}

func TestAuthenticate_FusionMatchesAgainstBufferMean(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.UseEmbeddingFusion = true

	keys := testKeyring(t)
	st := &stubStore{profile: enrolledProfile()}

	// The second sample is far from the template but close to the
	// first, so only the buffer comparison can push it over.
	client := &scriptedClient{t: t, scripts: []scriptFunc{
		okScript(t, keys, vecAt(0.65), 0.9),
		okScript(t, keys, vecAt(0.30), 0.9),
	}}
	e := newTestEngine(cfg, st, client, keys)

	res := e.Authenticate(context.Background(), "alice")

	if res.Outcome != Allow {
		t.Fatalf("outcome = %v (%s), want allow via fusion", res.Outcome, res.DenyReason)
	}
	if len(res.Attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(res.Attempts))
	}

	// First attempt scores before anything is buffered.
	for _, cmp := range res.Attempts[0].Comparisons {
		if cmp.Target == "buffer_mean" {
			t.Error("attempt 1 compared against a buffer mean before any sample was pushed")
		}
	}

	second := res.Attempts[1]
	if !second.Matched {
		t.Fatal("attempt 2 did not match")
	}
	var sawBuffer bool
	for _, cmp := range second.Comparisons {
		if cmp.Target == "buffer_mean" {
			sawBuffer = true
			if cmp.Score < res.Threshold {
				t.Errorf("buffer comparison = %v, expected it to carry the match", cmp.Score)
			}
		}
		if cmp.Target == "template[0]" && cmp.Score >= res.Threshold {
			t.Errorf("template comparison = %v, expected below threshold", cmp.Score)
		}
	}
	if !sawBuffer {
		t.Error("attempt 2 has no buffer_mean comparison")
	}
}

func TestAuthenticate_LowQualitySampleNotFused(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.UseEmbeddingFusion = true

	keys := testKeyring(t)
	st := &stubStore{profile: enrolledProfile()}

	// Attempt 1 matches but its quality is below the floor, so nothing
	// is buffered and attempt 2 cannot ride a buffer comparison.
	client := &scriptedClient{t: t, scripts: []scriptFunc{
		okScript(t, keys, vecAt(0.65), 0.1),
		okScript(t, keys, vecAt(0.30), 0.9),
		okScript(t, keys, vecAt(0.70), 0.9),
	}}
	e := newTestEngine(cfg, st, client, keys)

	res := e.Authenticate(context.Background(), "alice")

	if res.Outcome != Allow {
		t.Fatalf("outcome = %v (%s), want allow", res.Outcome, res.DenyReason)
	}
	second := res.Attempts[1]
	if second.Matched {
		t.Error("attempt 2 matched, but no buffer mean should have existed")
	}
	for _, cmp := range second.Comparisons {
		if cmp.Target == "buffer_mean" {
			t.Error("low-quality sample leaked into the rolling buffer")
		}
	}
}

func TestAuthenticate_SessionTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.TimeoutSeconds = 0.05
	cfg.Auth.AttemptTimeoutSeconds = 0.02
	cfg.Auth.NTotalAttempts = 10

	keys := testKeyring(t)
	st := &stubStore{profile: enrolledProfile()}
	client := &blockingClient{}
	e := newTestEngine(cfg, st, client, keys)

	res := e.Authenticate(context.Background(), "alice")

	if res.Outcome != Deny || res.DenyReason != DenyTimeout {
		t.Fatalf("verdict = %v/%s, want deny/timeout", res.Outcome, res.DenyReason)
	}
	if len(res.Attempts) == 0 || len(res.Attempts) >= 10 {
		t.Errorf("attempts = %d, want a few bounded by the session budget", len(res.Attempts))
	}
	for i, rec := range res.Attempts {
		if rec.State != StateTimedOut {
			t.Errorf("attempt %d state = %v, want timed_out", i+1, rec.State)
		}
		if rec.Matched || len(rec.Comparisons) != 0 {
			t.Errorf("attempt %d mutated match state after timing out", i+1)
		}
	}
	if res.Elapsed < 50*time.Millisecond {
		t.Errorf("elapsed = %v, want at least the session budget", res.Elapsed)
	}
	if res.Successes != 0 {
		t.Errorf("successes = %d, want 0", res.Successes)
	}
}

func TestAuthenticate_AuditTrail(t *testing.T) {
	keys := testKeyring(t)
	st := &stubStore{profile: enrolledProfile()}
	client := &scriptedClient{t: t, scripts: []scriptFunc{
		okScript(t, keys, vecAt(0.50), 0.9),
		okScript(t, keys, vecAt(0.55), 0.9),
		okScript(t, keys, vecAt(0.58), 0.9),
	}}

	var buf bytes.Buffer
	e := New(testConfig(), st, client, keys, audit.NewWriterTo(&buf), zap.NewNop())

	res := e.Authenticate(context.Background(), "alice")
	if res.Outcome != Deny {
		t.Fatalf("outcome = %v, want deny", res.Outcome)
	}

	var kinds []string
	var last audit.Event
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var ev audit.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			t.Fatalf("bad audit line %q: %v", line, err)
		}
		kinds = append(kinds, ev.Kind)
		last = ev
	}

	want := []string{
		audit.KindSessionStart,
		audit.KindAttempt, audit.KindAttempt, audit.KindAttempt,
		audit.KindVerdict,
	}
	if len(kinds) != len(want) {
		t.Fatalf("audit kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("audit event %d = %s, want %s", i, kinds[i], want[i])
		}
	}
	if last.Outcome != "deny" || last.Reason != string(DenyInsufficientMatches) {
		t.Errorf("verdict event = %s/%s, want deny/insufficient_matches", last.Outcome, last.Reason)
	}
	if last.SessionID != res.SessionID {
		t.Error("verdict event carries a different session ID")
	}
}

func TestAuthenticate_SecurityViolationAudited(t *testing.T) {
	keys := testKeyring(t)
	st := &stubStore{profile: enrolledProfile()}

	tampered := func(_ context.Context, req protocol.EmbeddingRequest) (*protocol.EmbeddingResponse, error) {
		resp := signedResponse(t, keys, req, vecAt(0.9), 0.9)
		resp.Signature[0] ^= 0xff
		return resp, nil
	}
	client := &scriptedClient{t: t, scripts: []scriptFunc{
		tampered,
		noFaceScript(),
		noFaceScript(),
	}}

	var buf bytes.Buffer
	e := New(testConfig(), st, client, keys, audit.NewWriterTo(&buf), zap.NewNop())
	e.Authenticate(context.Background(), "alice")

	var violations int
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var ev audit.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			t.Fatalf("bad audit line: %v", err)
		}
		if ev.Kind == audit.KindSecurityViolation {
			violations++
		}
	}
	if violations != 1 {
		t.Errorf("security_violation events = %d, want 1", violations)
	}
}

func TestExitCodes(t *testing.T) {
	tests := []struct {
		name string
		res  Result
		want int
	}{
		{"allow", Result{Outcome: Allow}, 0},
		{"deny insufficient", Result{Outcome: Deny, DenyReason: DenyInsufficientMatches}, 1},
		{"deny timeout", Result{Outcome: Deny, DenyReason: DenyTimeout}, 1},
		{"deny no face", Result{Outcome: Deny, DenyReason: DenyNoFace}, 1},
		{"deny locked out", Result{Outcome: Deny, DenyReason: DenyLockedOut}, 1},
		{"deny not enrolled", Result{Outcome: Deny, DenyReason: DenyUserNotEnrolled}, 1},
		{"transport error", Result{Outcome: Error, ErrorKind: ErrorTransport}, 2},
		{"internal error", Result{Outcome: Error, ErrorKind: ErrorInternal}, 2},
		{"zero value fails safe", Result{}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.res.ExitCode(); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}
