package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adam-mcguinness/sup-linux/internal/store"
)

var removeCmd = &cobra.Command{
	Use:   "remove [username]",
	Short: "Remove a user's enrollment",
	Long: `Deletes every stored template and lockout counter for the user. The
user can no longer authenticate by face until re-enrolled.`,
	Args: cobra.ExactArgs(1),
	RunE: runRemove,
}

func init() {
	rootCmd.AddCommand(removeCmd)
	removeCmd.Flags().Bool("yes", false, "Skip confirmation prompt")
}

func confirmAction(prompt string) bool {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	response, _ := reader.ReadString('\n')
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}

func runRemove(cmd *cobra.Command, args []string) error {
	username := args[0]
	skipConfirm := mustGetBool(cmd, "yes")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open enrollment store: %w", err)
	}
	defer st.Close()

	profile, err := st.GetUser(cmd.Context(), username)
	if err != nil {
		return fmt.Errorf("failed to load enrollment: %w", err)
	}

	if !skipConfirm && !confirmAction(fmt.Sprintf("Remove %s and all %d template(s)? [y/N]: ", profile.Username, len(profile.Embeddings))) {
		fmt.Println("Cancelled.")
		return nil
	}

	if err := st.DeleteUser(cmd.Context(), username); err != nil {
		return fmt.Errorf("failed to remove user: %w", err)
	}

	auditEnrollment(cfg, profile.Username, "removed",
		fmt.Sprintf("%d templates deleted", len(profile.Embeddings)), 0)

	fmt.Printf("Removed %s\n", profile.Username)
	return nil
}
