// Package protocol defines the wire messages exchanged between the decision
// engine and the embedding service, and the canonical byte layout both sides
// MAC. JSON does the framing; []byte fields travel as base64.
package protocol

import (
	"encoding/binary"
	"time"

	"github.com/adam-mcguinness/sup-linux/internal/embedding"
)

// DefaultSocketPath is where a packaged install listens.
const DefaultSocketPath = "/run/sup-linux/embedding.sock"

// MaxBodyBytes caps request and response bodies on both sides.
const MaxBodyBytes = 1 << 20

// Routes served over the unix socket.
const (
	RouteEmbedding = "/v1/embedding"
	RouteHealth    = "/v1/health"
	RouteInfo      = "/v1/info"
)

// Statuses an EmbeddingResponse can carry.
const (
	StatusOK     = "ok"
	StatusNoFace = "no_face"
	StatusError  = "error"
)

// Error codes carried when Status is StatusError.
const (
	CodeChallengeReplayed = "challenge_replayed"
	CodeChallengeExpired  = "challenge_expired"
	CodeCaptureFailed     = "capture_failed"
	CodeBadRequest        = "bad_request"
)

// EmbeddingRequest asks the service to answer one challenge with one signed
// capture.
type EmbeddingRequest struct {
	Nonce      []byte    `json:"nonce"`
	IssuedAt   time.Time `json:"issued_at"`
	ValidityMS int       `json:"validity_ms"`
}

// EmbeddingResponse is the service's single answer to a challenge. The
// embedding, quality, capture time and signature are only meaningful when
// Status is StatusOK.
type EmbeddingResponse struct {
	Nonce      []byte           `json:"nonce"`
	Status     string           `json:"status"`
	Embedding  embedding.Vector `json:"embedding,omitempty"`
	Quality    float32          `json:"quality,omitempty"`
	CapturedAt time.Time        `json:"captured_at"`
	Signature  []byte           `json:"signature,omitempty"`
	ErrorCode  string           `json:"error_code,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// HealthResponse answers RouteHealth.
type HealthResponse struct {
	Status string `json:"status"`
}

// InfoResponse answers RouteInfo with service diagnostics.
type InfoResponse struct {
	Dim       int       `json:"dim"`
	Source    string    `json:"source"`
	StartedAt time.Time `json:"started_at"`
}

// SignaturePayload is the canonical byte string both sides MAC: the nonce,
// the little-endian float32 embedding, then the capture time in unix
// nanoseconds. Binding the nonce into the payload as well as the derived
// key leaves no byte of the response malleable.
func SignaturePayload(nonce []byte, emb embedding.Vector, capturedAt time.Time) []byte {
	buf := make([]byte, 0, len(nonce)+4*len(emb)+8)
	buf = append(buf, nonce...)
	buf = append(buf, embedding.EncodeBlob(emb)...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(capturedAt.UnixNano()))
	return buf
}
