package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/adam-mcguinness/sup-linux/internal/keyring"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate the shared signing key",
	Long: `Writes a new random key to the configured key path with mode 0600.
The decision engine and the embedding service both read this file, so
restart the service after rotating it.`,
	Args: cobra.NoArgs,
	RunE: runKeygen,
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().Bool("force", false, "Overwrite an existing key")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path := cfg.Keyring.KeyPath

	if !mustGetBool(cmd, "force") {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("key already exists at %s (use --force to rotate it)", path)
		}
	}

	if err := keyring.Generate(path); err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}

	fmt.Printf("Wrote new %d-byte key to %s\n", keyring.KeySize, path)
	fmt.Println("Restart the embedding service so it picks up the new key.")
	return nil
}
