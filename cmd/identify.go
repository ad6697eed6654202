package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/adam-mcguinness/sup-linux/internal/keyring"
	"github.com/adam-mcguinness/sup-linux/internal/store"
	"github.com/adam-mcguinness/sup-linux/internal/transport"
)

var identifyCmd = &cobra.Command{
	Use:   "identify",
	Short: "Identify whoever is in front of the camera",
	Long: `Takes one verified capture and searches every enrolled template for the
nearest users. This is a diagnostic, not an authentication path; it
never grants anything.`,
	Args: cobra.NoArgs,
	RunE: runIdentify,
}

func init() {
	rootCmd.AddCommand(identifyCmd)
	identifyCmd.Flags().Int("top", 3, "Number of candidates to show")
	identifyCmd.Flags().Float64("min-similarity", 0.0, "Hide candidates below this similarity")
}

func runIdentify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	top := mustGetInt(cmd, "top")
	if top <= 0 {
		top = 3
	}
	minSimilarity := mustGetFloat64(cmd, "min-similarity")

	st, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open enrollment store: %w", err)
	}
	defer st.Close()

	index, err := st.BuildIdentifyIndex(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to build identify index: %w", err)
	}
	if index.Count() == 0 {
		return fmt.Errorf("no users enrolled")
	}

	keys, err := keyring.Load(cfg.Keyring.KeyPath)
	if err != nil {
		return fmt.Errorf("failed to load shared key: %w", err)
	}

	client := transport.NewClient(cfg.Service.SocketPath, 0)
	if _, err := client.Health(cmd.Context()); err != nil {
		return fmt.Errorf("embedding service is not reachable at %s: %w", cfg.Service.SocketPath, err)
	}

	fmt.Println("Look at the camera...")
	sample, err := captureWithRetry(cmd, cfg, client, keys)
	if err != nil {
		return err
	}

	matches := index.Search(sample.Embedding, top)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USERNAME\tLABEL\tSIMILARITY")
	fmt.Fprintln(w, "--------\t-----\t----------")
	shown := 0
	for _, m := range matches {
		if m.Similarity < minSimilarity {
			continue
		}
		label := m.Label
		if label == "" {
			label = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%.4f\n", m.Username, label, m.Similarity)
		shown++
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write match table: %w", err)
	}

	fmt.Printf("\nTotal: %d candidate(s) over %d enrolled template(s), capture quality %.2f\n",
		shown, index.Count(), sample.Quality)
	return nil
}
