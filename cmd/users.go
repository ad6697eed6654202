package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/adam-mcguinness/sup-linux/internal/store"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List enrolled users",
	Long:  `Displays every enrolled user with template counts and quality.`,
	Args:  cobra.NoArgs,
	RunE:  runUsers,
}

func init() {
	rootCmd.AddCommand(usersCmd)
}

func runUsers(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open enrollment store: %w", err)
	}
	defer st.Close()

	users, err := st.ListUsers(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USERNAME\tTEMPLATES\tMEAN QUALITY\tENROLLED\tUPDATED")
	fmt.Fprintln(w, "--------\t---------\t------------\t--------\t-------")
	for _, u := range users {
		fmt.Fprintf(w, "%s\t%d\t%.2f\t%s\t%s\n",
			u.Username, u.Templates, u.MeanQuality,
			u.CreatedAt.Format("2006-01-02"),
			u.UpdatedAt.Format("2006-01-02"))
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write user table: %w", err)
	}

	fmt.Printf("\nTotal: %d user(s)\n", len(users))
	return nil
}
