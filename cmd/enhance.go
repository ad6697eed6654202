package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adam-mcguinness/sup-linux/internal/keyring"
	"github.com/adam-mcguinness/sup-linux/internal/store"
	"github.com/adam-mcguinness/sup-linux/internal/transport"
)

var enhanceCmd = &cobra.Command{
	Use:   "enhance [username]",
	Short: "Add face templates to an existing enrollment",
	Long: `Captures additional templates for an already enrolled user. By default
new templates are appended; with --replace-weak each new capture swaps
out the weakest stored template when its quality is higher, keeping the
template count stable.`,
	Args: cobra.ExactArgs(1),
	RunE: runEnhance,
}

func init() {
	rootCmd.AddCommand(enhanceCmd)
	enhanceCmd.Flags().Int("captures", 1, "Number of templates to capture")
	enhanceCmd.Flags().String("label", "", "Label stored with each new template")
	enhanceCmd.Flags().Bool("replace-weak", false, "Replace the weakest stored templates instead of appending")
}

func runEnhance(cmd *cobra.Command, args []string) error {
	username := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	captures := mustGetInt(cmd, "captures")
	if captures <= 0 {
		captures = 1
	}
	label := mustGetString(cmd, "label")
	replaceWeak := mustGetBool(cmd, "replace-weak")

	st, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open enrollment store: %w", err)
	}
	defer st.Close()

	profile, err := st.GetUser(cmd.Context(), username)
	if err != nil {
		return fmt.Errorf("failed to load enrollment: %w", err)
	}

	keys, err := keyring.Load(cfg.Keyring.KeyPath)
	if err != nil {
		return fmt.Errorf("failed to load shared key: %w", err)
	}

	client := transport.NewClient(cfg.Service.SocketPath, 0)
	if _, err := client.Health(cmd.Context()); err != nil {
		return fmt.Errorf("embedding service is not reachable at %s: %w", cfg.Service.SocketPath, err)
	}

	fmt.Printf("Enhancing %s (%d stored template(s)): capturing %d more...\n",
		profile.Username, len(profile.Embeddings), captures)

	templates, err := collectTemplates(cmd.Context(), cfg, client, keys, captures, label, "Capturing")
	if err != nil {
		return err
	}

	result, err := st.MergeEmbeddings(cmd.Context(), username, templates, replaceWeak)
	if err != nil {
		return fmt.Errorf("failed to merge templates: %w", err)
	}

	auditEnrollment(cfg, profile.Username, "enhanced",
		fmt.Sprintf("added %d, replaced %d, total %d", result.Added, result.Replaced, result.Total),
		meanQuality(templates))

	fmt.Printf("\nDone! Added %d and replaced %d template(s); %s now has %d\n",
		result.Added, result.Replaced, profile.Username, result.Total)
	return nil
}
