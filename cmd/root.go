package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/adam-mcguinness/sup-linux/internal/config"
)

var (
	cfgFile string
	devMode bool
)

var rootCmd = &cobra.Command{
	Use:   "sup-linux",
	Short: "Face authentication for Linux login and privilege elevation",
	Long: `sup-linux authenticates users by face. A privileged decision engine
challenges an unprivileged embedding service over a local socket,
verifies the signed captures it gets back, and renders a timed
allow/deny verdict against the user's enrolled templates.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultPath, "Path to the configuration file")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "Use local dev paths and verbose logging")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// loadConfig reads the configuration file and applies the --dev overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if devMode {
		cfg.ApplyDevMode()
	}
	return cfg, nil
}
