package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/adam-mcguinness/sup-linux/internal/capture"
	"github.com/adam-mcguinness/sup-linux/internal/config"
	"github.com/adam-mcguinness/sup-linux/internal/keyring"
	"github.com/adam-mcguinness/sup-linux/internal/logging"
	"github.com/adam-mcguinness/sup-linux/internal/service"
	"github.com/adam-mcguinness/sup-linux/internal/transport"
)

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Run the embedding service",
	Long: `Runs the unprivileged embedding service. It listens on a local socket,
answers challenges from the decision engine with signed captures, and
talks to the configured capture source. It never touches the enrollment
store.`,
	RunE: runService,
}

func init() {
	rootCmd.AddCommand(serviceCmd)
}

// buildSource picks the capture backend from configuration.
func buildSource(cfg *config.Config) (capture.Source, error) {
	switch cfg.Service.Source {
	case config.SourceRecognizer:
		return capture.NewRecognizer(cfg.Service.RecognizerURL), nil
	case config.SourceFixtures:
		return capture.NewFixtures(cfg.Service.FixturesPath)
	default:
		return nil, fmt.Errorf("unknown capture source %q", cfg.Service.Source)
	}
}

func runService(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.Log.Level, devMode)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer func() { _ = log.Sync() }()

	keys, err := keyring.Load(cfg.Keyring.KeyPath)
	if err != nil {
		return fmt.Errorf("failed to load shared key: %w", err)
	}

	source, err := buildSource(cfg)
	if err != nil {
		return err
	}

	svc := service.New(source, keys, log, service.Options{
		Dim:            cfg.Embedding.Dim,
		CaptureTimeout: cfg.Service.CaptureTimeout(),
		CapturePoll:    cfg.Service.CapturePoll(),
	})
	server := transport.NewServer(cfg.Service.SocketPath, svc, log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting embedding service on %s\n", cfg.Service.SocketPath)
	fmt.Printf("Capture source: %s\n", source.Describe())
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting service: %w", err)
	}
	return nil
}
