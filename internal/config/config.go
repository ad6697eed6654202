// Package config resolves sup-linux configuration from embedded defaults,
// an optional YAML file and SUP_* environment overrides, in that order.
// Invalid configuration is fatal at startup; nothing revalidates mid-session.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// DefaultPath is the system-wide configuration file location.
const DefaultPath = "/etc/sup-linux/config.yaml"

// Capture source names accepted by service.source.
const (
	SourceRecognizer = "recognizer"
	SourceFixtures   = "fixtures"
)

// ErrInvalid marks configuration that failed range validation.
var ErrInvalid = errors.New("invalid configuration")

// Config is the full configuration tree for both the decision engine
// and the embedding service.
type Config struct {
	Auth       AuthConfig       `yaml:"auth"`
	Lockout    LockoutConfig    `yaml:"lockout"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Service    ServiceConfig    `yaml:"service"`
	Enrollment EnrollmentConfig `yaml:"enrollment"`
	Keyring    KeyringConfig    `yaml:"keyring"`
	Storage    StorageConfig    `yaml:"storage"`
	Audit      AuditConfig      `yaml:"audit"`
	Log        LogConfig        `yaml:"log"`
}

// AuthConfig drives the K-of-N decision loop.
type AuthConfig struct {
	SimilarityThreshold   float64 `yaml:"similarity_threshold" env:"SUP_AUTH_SIMILARITY_THRESHOLD"`
	KRequiredMatches      int     `yaml:"k_required_matches" env:"SUP_AUTH_K_REQUIRED_MATCHES"`
	NTotalAttempts        int     `yaml:"n_total_attempts" env:"SUP_AUTH_N_TOTAL_ATTEMPTS"`
	EmbeddingBufferSize   int     `yaml:"embedding_buffer_size" env:"SUP_AUTH_EMBEDDING_BUFFER_SIZE"`
	UseEmbeddingFusion    bool    `yaml:"use_embedding_fusion" env:"SUP_AUTH_USE_EMBEDDING_FUSION"`
	TimeoutSeconds        float64 `yaml:"timeout_seconds" env:"SUP_AUTH_TIMEOUT_SECONDS"`
	AttemptTimeoutSeconds float64 `yaml:"attempt_timeout_seconds" env:"SUP_AUTH_ATTEMPT_TIMEOUT_SECONDS"`
	ChallengeValidityMS   int     `yaml:"challenge_validity_ms" env:"SUP_AUTH_CHALLENGE_VALIDITY_MS"`
	NonceSize             int     `yaml:"nonce_size" env:"SUP_AUTH_NONCE_SIZE"`
	MinSampleQuality      float64 `yaml:"min_sample_quality" env:"SUP_AUTH_MIN_SAMPLE_QUALITY"`
	QualityWeight         float64 `yaml:"quality_weight" env:"SUP_AUTH_QUALITY_WEIGHT"`
}

// SessionTimeout is the total wall-clock budget for one authentication.
func (a AuthConfig) SessionTimeout() time.Duration {
	return time.Duration(a.TimeoutSeconds * float64(time.Second))
}

// AttemptTimeout is the per-attempt budget; the engine bounds it further
// by whatever remains of the session budget.
func (a AuthConfig) AttemptTimeout() time.Duration {
	return time.Duration(a.AttemptTimeoutSeconds * float64(time.Second))
}

// ChallengeValidity is how long an issued nonce stays acceptable.
func (a AuthConfig) ChallengeValidity() time.Duration {
	return time.Duration(a.ChallengeValidityMS) * time.Millisecond
}

// LockoutConfig caps consecutive denials per user.
type LockoutConfig struct {
	MaxFailures     int `yaml:"max_failures" env:"SUP_LOCKOUT_MAX_FAILURES"`
	DurationSeconds int `yaml:"duration_seconds" env:"SUP_LOCKOUT_DURATION_SECONDS"`
}

func (l LockoutConfig) Duration() time.Duration {
	return time.Duration(l.DurationSeconds) * time.Second
}

// EmbeddingConfig pins the vector dimension both sides must agree on.
type EmbeddingConfig struct {
	Dim int `yaml:"dim" env:"SUP_EMBEDDING_DIM"`
}

// ServiceConfig configures the unprivileged embedding service.
type ServiceConfig struct {
	SocketPath            string  `yaml:"socket_path" env:"SUP_SERVICE_SOCKET_PATH"`
	CaptureTimeoutSeconds float64 `yaml:"capture_timeout_seconds" env:"SUP_SERVICE_CAPTURE_TIMEOUT_SECONDS"`
	CapturePollMS         int     `yaml:"capture_poll_ms" env:"SUP_SERVICE_CAPTURE_POLL_MS"`
	Source                string  `yaml:"source" env:"SUP_SERVICE_SOURCE"`
	RecognizerURL         string  `yaml:"recognizer_url" env:"SUP_SERVICE_RECOGNIZER_URL"`
	FixturesPath          string  `yaml:"fixtures_path" env:"SUP_SERVICE_FIXTURES_PATH"`
}

func (s ServiceConfig) CaptureTimeout() time.Duration {
	return time.Duration(s.CaptureTimeoutSeconds * float64(time.Second))
}

func (s ServiceConfig) CapturePoll() time.Duration {
	return time.Duration(s.CapturePollMS) * time.Millisecond
}

// EnrollmentConfig gates template captures.
type EnrollmentConfig struct {
	MinQuality float64 `yaml:"min_quality" env:"SUP_ENROLLMENT_MIN_QUALITY"`
	Captures   int     `yaml:"captures" env:"SUP_ENROLLMENT_CAPTURES"`
}

// KeyringConfig locates the shared MAC secret.
type KeyringConfig struct {
	KeyPath string `yaml:"key_path" env:"SUP_KEYRING_KEY_PATH"`
}

// StorageConfig locates the enrollment database.
type StorageConfig struct {
	DBPath string `yaml:"db_path" env:"SUP_STORAGE_DB_PATH"`
}

// AuditConfig controls the JSONL audit trail.
type AuditConfig struct {
	Dir        string `yaml:"dir" env:"SUP_AUDIT_DIR"`
	MaxAgeDays int    `yaml:"max_age_days" env:"SUP_AUDIT_MAX_AGE_DAYS"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level string `yaml:"level" env:"SUP_LOG_LEVEL"`
}

// Load resolves the configuration for the given file path. A missing file
// is only tolerated at the default path, where embedded defaults plus
// environment overrides carry a fresh install.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	case os.IsNotExist(err) && path == DefaultPath:
		// no system file yet
	default:
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parsing environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the ranges every consumer assumes. It reports the first
// violation wrapped in ErrInvalid.
func (c *Config) Validate() error {
	checks := []struct {
		ok  bool
		msg string
	}{
		{c.Auth.SimilarityThreshold > 0 && c.Auth.SimilarityThreshold <= 1,
			"auth.similarity_threshold must be in (0, 1]"},
		{c.Auth.KRequiredMatches >= 1,
			"auth.k_required_matches must be at least 1"},
		{c.Auth.NTotalAttempts >= c.Auth.KRequiredMatches,
			"auth.n_total_attempts must be at least k_required_matches"},
		{c.Auth.EmbeddingBufferSize >= 1,
			"auth.embedding_buffer_size must be at least 1"},
		{c.Auth.TimeoutSeconds >= 1 && c.Auth.TimeoutSeconds <= 60,
			"auth.timeout_seconds must be in [1, 60]"},
		{c.Auth.AttemptTimeoutSeconds > 0 && c.Auth.AttemptTimeoutSeconds <= c.Auth.TimeoutSeconds,
			"auth.attempt_timeout_seconds must be positive and within timeout_seconds"},
		{c.Auth.ChallengeValidityMS >= 100 && c.Auth.ChallengeValidityMS <= 60000,
			"auth.challenge_validity_ms must be in [100, 60000]"},
		{c.Auth.NonceSize >= 16,
			"auth.nonce_size must be at least 16"},
		{c.Auth.MinSampleQuality >= 0 && c.Auth.MinSampleQuality <= 1,
			"auth.min_sample_quality must be in [0, 1]"},
		{c.Auth.QualityWeight >= 0 && c.Auth.QualityWeight <= 1,
			"auth.quality_weight must be in [0, 1]"},
		{c.Lockout.MaxFailures >= 1,
			"lockout.max_failures must be at least 1"},
		{c.Lockout.DurationSeconds >= 1,
			"lockout.duration_seconds must be at least 1"},
		{c.Embedding.Dim >= 1,
			"embedding.dim must be at least 1"},
		{c.Service.SocketPath != "",
			"service.socket_path must be set"},
		{c.Service.CaptureTimeoutSeconds > 0,
			"service.capture_timeout_seconds must be positive"},
		{c.Service.CapturePollMS >= 10,
			"service.capture_poll_ms must be at least 10"},
		{c.Service.Source == SourceRecognizer || c.Service.Source == SourceFixtures,
			"service.source must be recognizer or fixtures"},
		{c.Service.Source != SourceRecognizer || c.Service.RecognizerURL != "",
			"service.recognizer_url must be set for the recognizer source"},
		{c.Service.Source != SourceFixtures || c.Service.FixturesPath != "",
			"service.fixtures_path must be set for the fixtures source"},
		{c.Enrollment.MinQuality >= 0 && c.Enrollment.MinQuality <= 1,
			"enrollment.min_quality must be in [0, 1]"},
		{c.Enrollment.Captures >= 3,
			"enrollment.captures must be at least 3"},
		{c.Keyring.KeyPath != "",
			"keyring.key_path must be set"},
		{c.Storage.DBPath != "",
			"storage.db_path must be set"},
		{c.Audit.Dir != "",
			"audit.dir must be set"},
		{c.Audit.MaxAgeDays >= 1,
			"audit.max_age_days must be at least 1"},
		{validLogLevel(c.Log.Level),
			"log.level must be one of debug, info, warn, error"},
	}

	for _, check := range checks {
		if !check.ok {
			return fmt.Errorf("%w: %s", ErrInvalid, check.msg)
		}
	}
	return nil
}

func validLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

// ApplyDevMode rewrites every system path to a local development layout so
// the full stack runs without root, a camera or a packaged socket dir. The
// socket prefers XDG_RUNTIME_DIR; everything else lives under ./dev_data.
func (c *Config) ApplyDevMode() {
	const root = "dev_data"

	run := os.Getenv("XDG_RUNTIME_DIR")
	if run != "" {
		run = filepath.Join(run, "sup-linux")
	} else {
		run = root
	}

	c.Service.SocketPath = filepath.Join(run, "embedding.sock")
	c.Service.Source = SourceFixtures
	if c.Service.FixturesPath == "" {
		c.Service.FixturesPath = filepath.Join(root, "fixtures.json")
	}
	c.Keyring.KeyPath = filepath.Join(root, "shared.key")
	c.Storage.DBPath = filepath.Join(root, "sup-linux.db")
	c.Audit.Dir = filepath.Join(root, "audit")
	c.Log.Level = "debug"
}
