// Package challenge issues and validates the single-use nonces that bind an
// embedding capture to one authentication attempt.
package challenge

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// MinNonceSize is the smallest nonce the protocol accepts, in bytes.
const MinNonceSize = 16

// ErrExpired marks a challenge outside its freshness window.
var ErrExpired = errors.New("challenge expired")

// Challenge is a single-use random nonce with a bounded lifetime. The engine
// issues one per attempt and never accepts it twice; the service answers
// each at most once.
type Challenge struct {
	Nonce    []byte
	IssuedAt time.Time
	Validity time.Duration
}

// New draws size random bytes and stamps them with issuedAt. The caller
// supplies the clock so sessions under test stay deterministic.
func New(size int, validity time.Duration, issuedAt time.Time) (Challenge, error) {
	if size < MinNonceSize {
		return Challenge{}, fmt.Errorf("nonce size %d below minimum %d", size, MinNonceSize)
	}
	nonce := make([]byte, size)
	if _, err := rand.Read(nonce); err != nil {
		return Challenge{}, fmt.Errorf("generating nonce: %w", err)
	}
	return Challenge{Nonce: nonce, IssuedAt: issuedAt, Validity: validity}, nil
}

// ExpiresAt is the end of the freshness window.
func (c Challenge) ExpiresAt() time.Time {
	return c.IssuedAt.Add(c.Validity)
}

// FreshAt reports whether now falls inside the challenge window. A challenge
// issued in the future counts as expired; clock skew must never widen the
// window.
func (c Challenge) FreshAt(now time.Time) error {
	if now.Before(c.IssuedAt) || now.After(c.ExpiresAt()) {
		return ErrExpired
	}
	return nil
}

// Key is the nonce in map-key form.
func (c Challenge) Key() string {
	return hex.EncodeToString(c.Nonce)
}
