package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/adam-mcguinness/sup-linux/internal/audit"
	"github.com/adam-mcguinness/sup-linux/internal/capture"
	"github.com/adam-mcguinness/sup-linux/internal/challenge"
	"github.com/adam-mcguinness/sup-linux/internal/config"
	"github.com/adam-mcguinness/sup-linux/internal/engine"
	"github.com/adam-mcguinness/sup-linux/internal/keyring"
	"github.com/adam-mcguinness/sup-linux/internal/logging"
	"github.com/adam-mcguinness/sup-linux/internal/protocol"
	"github.com/adam-mcguinness/sup-linux/internal/store"
	"github.com/adam-mcguinness/sup-linux/internal/transport"
)

// buildEngine wires the store, keyring, audit trail and service client
// into a decision engine. The returned cleanup closes everything the
// engine holds open.
func buildEngine(cfg *config.Config) (*engine.Engine, func(), error) {
	log, err := logging.New(cfg.Log.Level, devMode)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	keys, err := keyring.Load(cfg.Keyring.KeyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load shared key: %w", err)
	}

	st, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open enrollment store: %w", err)
	}

	auditW, err := audit.NewWriter(cfg.Audit.Dir, cfg.Audit.MaxAgeDays)
	if err != nil {
		_ = st.Close()
		return nil, nil, fmt.Errorf("failed to open audit trail: %w", err)
	}

	client := transport.NewClient(cfg.Service.SocketPath, 0)
	eng := engine.New(cfg, st, client, keys, auditW, log)

	cleanup := func() {
		_ = auditW.Close()
		_ = st.Close()
		_ = log.Sync()
	}
	return eng, cleanup, nil
}

// requestVerifiedSample runs one challenge round against the embedding
// service and verifies the signed response before trusting the sample.
// Enrollment commands use this so stored templates pass through the same
// verification as authentication captures.
func requestVerifiedSample(ctx context.Context, cfg *config.Config, client *transport.Client, keys *keyring.Keyring) (*capture.Sample, error) {
	ch, err := challenge.New(cfg.Auth.NonceSize, cfg.Auth.ChallengeValidity(), time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to create challenge: %w", err)
	}

	resp, err := client.RequestEmbedding(ctx, protocol.EmbeddingRequest{
		Nonce:      ch.Nonce,
		IssuedAt:   ch.IssuedAt,
		ValidityMS: int(ch.Validity / time.Millisecond),
	})
	if err != nil {
		return nil, err
	}

	switch resp.Status {
	case protocol.StatusOK:
	case protocol.StatusNoFace:
		return nil, capture.ErrNoFace
	default:
		if resp.Error != "" {
			return nil, fmt.Errorf("service refused capture: %s (%s)", resp.ErrorCode, resp.Error)
		}
		return nil, fmt.Errorf("service refused capture: %s", resp.ErrorCode)
	}

	if !bytes.Equal(resp.Nonce, ch.Nonce) {
		return nil, fmt.Errorf("response nonce does not match challenge")
	}
	if err := ch.FreshAt(time.Now()); err != nil {
		return nil, fmt.Errorf("response arrived too late: %w", err)
	}
	if len(resp.Embedding) != cfg.Embedding.Dim {
		return nil, fmt.Errorf("embedding has %d dimensions, expected %d", len(resp.Embedding), cfg.Embedding.Dim)
	}

	payload := protocol.SignaturePayload(resp.Nonce, resp.Embedding, resp.CapturedAt)
	if err := keys.Verify(resp.Nonce, payload, resp.Signature); err != nil {
		return nil, fmt.Errorf("signature check failed: %w", err)
	}

	return &capture.Sample{
		Embedding:  resp.Embedding,
		Quality:    resp.Quality,
		CapturedAt: resp.CapturedAt,
	}, nil
}

// quietLogger builds a logger for interactive commands where zap output
// would garble progress bars. Errors still reach stderr.
func quietLogger() *zap.Logger {
	log, err := logging.New("error", false)
	if err != nil {
		return zap.NewNop()
	}
	return log
}

// captureGap spaces out enrollment captures so consecutive templates are
// not near-duplicates of the same frame.
const captureGap = 500 * time.Millisecond

// collectTemplates gathers the requested number of verified, quality-gated
// captures from the service, driving a progress bar. Faceless frames and
// low-quality captures are skipped; the round budget keeps a bad camera
// setup from looping forever.
func collectTemplates(ctx context.Context, cfg *config.Config, client *transport.Client, keys *keyring.Keyring, captures int, label, description string) ([]store.NewTemplate, error) {
	bar := progressbar.NewOptions(captures,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("captures"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)

	var templates []store.NewTemplate
	var noFace, lowQuality int
	maxRounds := captures * 6

	for round := 0; len(templates) < captures && round < maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		captureCtx, cancel := context.WithTimeout(ctx, cfg.Auth.ChallengeValidity())
		sample, err := requestVerifiedSample(captureCtx, cfg, client, keys)
		cancel()
		if errors.Is(err, capture.ErrNoFace) {
			noFace++
			continue
		}
		if err != nil {
			fmt.Println()
			return nil, err
		}

		if float64(sample.Quality) < cfg.Enrollment.MinQuality {
			lowQuality++
			continue
		}

		templates = append(templates, store.NewTemplate{
			Vector:  sample.Embedding,
			Quality: sample.Quality,
			Label:   label,
		})
		bar.Add(1)

		if len(templates) < captures {
			time.Sleep(captureGap)
		}
	}
	fmt.Println()

	if len(templates) < captures {
		return nil, fmt.Errorf("collected %d of %d captures (%d without a face, %d below quality %.2f); adjust lighting and retry",
			len(templates), captures, noFace, lowQuality, cfg.Enrollment.MinQuality)
	}
	if noFace > 0 || lowQuality > 0 {
		fmt.Printf("Skipped %d capture(s) without a face and %d below quality %.2f\n",
			noFace, lowQuality, cfg.Enrollment.MinQuality)
	}
	return templates, nil
}

// captureWithRetry takes one verified sample, riding out a few faceless
// frames before giving up.
func captureWithRetry(cmd *cobra.Command, cfg *config.Config, client *transport.Client, keys *keyring.Keyring) (*capture.Sample, error) {
	const rounds = 5
	for round := 1; round <= rounds; round++ {
		captureCtx, cancel := context.WithTimeout(cmd.Context(), cfg.Auth.ChallengeValidity())
		sample, err := requestVerifiedSample(captureCtx, cfg, client, keys)
		cancel()
		if err == nil {
			return sample, nil
		}
		if !errors.Is(err, capture.ErrNoFace) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("no face detected in %d captures", rounds)
}

// meanQuality averages template quality for enrollment summaries.
func meanQuality(templates []store.NewTemplate) float64 {
	if len(templates) == 0 {
		return 0
	}
	var sum float64
	for _, t := range templates {
		sum += float64(t.Quality)
	}
	return sum / float64(len(templates))
}
