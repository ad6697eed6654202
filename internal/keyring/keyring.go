// Package keyring holds the shared secret that binds embedding responses to
// their challenges. Every challenge gets its own MAC key derived from the
// master secret, so a response signed for one nonce can never satisfy
// another, and the master secret itself never touches a MAC.
package keyring

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the master secret and derived key length in bytes.
const KeySize = 32

// hkdfInfo pins derived keys to this protocol version.
const hkdfInfo = "sup-linux/embedding/v1"

var (
	// ErrSignatureInvalid marks a response whose MAC failed verification.
	ErrSignatureInvalid = errors.New("signature invalid")

	// ErrKeyTooShort marks a master secret below KeySize.
	ErrKeyTooShort = errors.New("master key too short")
)

// Keyring derives per-challenge MAC keys from a shared master secret.
type Keyring struct {
	master []byte
}

// New wraps a master secret. The secret must be at least KeySize bytes.
func New(master []byte) (*Keyring, error) {
	if len(master) < KeySize {
		return nil, fmt.Errorf("%w: got %d bytes, need %d", ErrKeyTooShort, len(master), KeySize)
	}
	k := &Keyring{master: make([]byte, len(master))}
	copy(k.master, master)
	return k, nil
}

// Load reads the hex-encoded master secret from path. World-accessible key
// files are refused; group access stays allowed so the privileged engine and
// the unprivileged service can share one file.
func Load(path string) (*Keyring, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading key file %s: %w", path, err)
	}
	if info.Mode().Perm()&0o007 != 0 {
		return nil, fmt.Errorf("key file %s is world-accessible (mode %04o)", path, info.Mode().Perm())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key file %s: %w", path, err)
	}
	master, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("decoding key file %s: %w", path, err)
	}
	return New(master)
}

// Generate writes a fresh random master secret to path, hex-encoded, with
// mode 0600. An existing file is overwritten; callers guard against that.
func Generate(path string) error {
	master := make([]byte, KeySize)
	if _, err := rand.Read(master); err != nil {
		return fmt.Errorf("generating key: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating key directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(master)+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing key file %s: %w", path, err)
	}
	return nil
}

// deriveKey expands the master secret into a key bound to one nonce.
func (k *Keyring) deriveKey(nonce []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, k.master, nonce, []byte(hkdfInfo))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving challenge key: %w", err)
	}
	return key, nil
}

// Sign MACs payload under the key derived for nonce.
func (k *Keyring) Sign(nonce, payload []byte) ([]byte, error) {
	key, err := k.deriveKey(nonce)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return mac.Sum(nil), nil
}

// Verify checks signature against payload under the key derived for nonce.
func (k *Keyring) Verify(nonce, payload, signature []byte) error {
	want, err := k.Sign(nonce, payload)
	if err != nil {
		return err
	}
	if !hmac.Equal(want, signature) {
		return ErrSignatureInvalid
	}
	return nil
}
