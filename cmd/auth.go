package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/adam-mcguinness/sup-linux/internal/engine"
)

var authCmd = &cobra.Command{
	Use:   "auth [username]",
	Short: "Authenticate a user by face",
	Long: `Runs one authentication session for the given user and reports the
verdict through the exit code: 0 allow, 1 deny, 2 error. Printed output
stays generic on purpose so callers cannot distinguish denial reasons;
the audit trail and logs record the details.`,
	Args: cobra.ExactArgs(1),
	Run:  runAuth,
}

func init() {
	rootCmd.AddCommand(authCmd)
}

func runAuth(cmd *cobra.Command, args []string) {
	username := args[0]

	cfg, err := loadConfig()
	if err != nil {
		failAuthSetup(err)
	}

	eng, cleanup, err := buildEngine(cfg)
	if err != nil {
		failAuthSetup(err)
	}

	result := eng.Authenticate(cmd.Context(), username)
	cleanup()

	switch result.Outcome {
	case engine.Allow:
		fmt.Println("authentication succeeded")
	case engine.Deny:
		fmt.Println("authentication failed")
	default:
		fmt.Println("authentication error")
	}
	os.Exit(result.ExitCode())
}

// failAuthSetup reports a setup failure without leaking the cause into
// the printed verdict. The cause goes to the log; the caller only sees
// the error exit.
func failAuthSetup(err error) {
	log := quietLogger()
	log.Error("authentication setup failed", zap.Error(err))
	_ = log.Sync()
	fmt.Println("authentication error")
	os.Exit(engine.ExitError)
}
