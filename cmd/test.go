package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/adam-mcguinness/sup-linux/internal/engine"
)

var testCmd = &cobra.Command{
	Use:   "test [username]",
	Short: "Run a verbose authentication session",
	Long: `Runs one authentication session like auth does, but prints the full
attempt-by-attempt breakdown instead of a generic verdict. Use this to
tune thresholds and diagnose enrollments; it is not meant to gate
anything.`,
	Args: cobra.ExactArgs(1),
	RunE: runTest,
}

func init() {
	rootCmd.AddCommand(testCmd)
}

func runTest(cmd *cobra.Command, args []string) error {
	username := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	eng, cleanup, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	result := eng.Authenticate(cmd.Context(), username)

	fmt.Printf("Session:   %s\n", result.SessionID)
	fmt.Printf("User:      %s\n", result.Username)
	fmt.Printf("Threshold: %.4f\n", result.Threshold)
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ATTEMPT\tSTATE\tSCORE\tQUALITY\tNOTE")
	fmt.Fprintln(w, "-------\t-----\t-----\t-------\t----")
	for _, a := range result.Attempts {
		score := "-"
		if len(a.Comparisons) > 0 {
			score = fmt.Sprintf("%.4f", a.Score)
		}
		note := a.Reason
		if a.SecurityViolation {
			note = "SECURITY VIOLATION: " + note
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%.2f\t%s\n", a.Number, a.State, score, a.Quality, note)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write attempt table: %w", err)
	}

	for _, a := range result.Attempts {
		if len(a.Comparisons) == 0 {
			continue
		}
		fmt.Printf("\nAttempt %d comparisons:\n", a.Number)
		for _, c := range a.Comparisons {
			marker := " "
			if c.Score >= result.Threshold {
				marker = "*"
			}
			fmt.Printf("  %s %-14s %.4f\n", marker, c.Target, c.Score)
		}
	}

	fmt.Printf("\nVerdict: %s", result.Outcome)
	switch {
	case result.DenyReason != "":
		fmt.Printf(" (%s)", result.DenyReason)
	case result.ErrorKind != "":
		fmt.Printf(" (%s)", result.ErrorKind)
	}
	fmt.Println()
	fmt.Printf("Matched %d of %d attempts, needed %d, in %s\n",
		result.Successes, len(result.Attempts), cfg.Auth.KRequiredMatches,
		result.Elapsed.Round(time.Millisecond))
	if result.BestScore > 0 {
		fmt.Printf("Best score: %.4f\n", result.BestScore)
	}
	fmt.Printf("Exit code would be: %d\n", result.ExitCode())

	if result.Outcome == engine.Error {
		return fmt.Errorf("session ended in error (%s), check the logs", result.ErrorKind)
	}
	return nil
}
