package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/adam-mcguinness/sup-linux/internal/store"
	"github.com/adam-mcguinness/sup-linux/internal/transport"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show service and store status",
	Long:  `Checks the embedding service, the enrollment store and active lockouts.`,
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client := transport.NewClient(cfg.Service.SocketPath, 3*time.Second)
	if _, err := client.Health(cmd.Context()); err != nil {
		fmt.Printf("Service:  unreachable (%v)\n", err)
	} else if info, err := client.Info(cmd.Context()); err != nil {
		fmt.Printf("Service:  up, info unavailable (%v)\n", err)
	} else {
		fmt.Printf("Service:  up on %s\n", cfg.Service.SocketPath)
		fmt.Printf("Source:   %s (dim %d)\n", info.Source, info.Dim)
		fmt.Printf("Started:  %s\n", info.StartedAt.Local().Format("2006-01-02 15:04:05"))
	}

	st, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open enrollment store: %w", err)
	}
	defer st.Close()

	users, templates, err := st.Counts(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to count enrollments: %w", err)
	}
	fmt.Printf("Store:    %d user(s), %d template(s) in %s\n", users, templates, cfg.Storage.DBPath)

	lockouts, err := st.ActiveLockouts(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list lockouts: %w", err)
	}
	if len(lockouts) == 0 {
		fmt.Println("Lockouts: none")
		return nil
	}

	fmt.Println("\nActive lockouts:")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USERNAME\tFAILURES\tLOCKED UNTIL")
	fmt.Fprintln(w, "--------\t--------\t------------")
	for _, l := range lockouts {
		fmt.Fprintf(w, "%s\t%d\t%s\n", l.Username, l.Failures,
			l.LockedUntil.Local().Format("2006-01-02 15:04:05"))
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write lockout table: %w", err)
	}
	return nil
}
