package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adam-mcguinness/sup-linux/internal/audit"
	"github.com/adam-mcguinness/sup-linux/internal/config"
	"github.com/adam-mcguinness/sup-linux/internal/embedding"
	"github.com/adam-mcguinness/sup-linux/internal/keyring"
	"github.com/adam-mcguinness/sup-linux/internal/match"
	"github.com/adam-mcguinness/sup-linux/internal/store"
	"github.com/adam-mcguinness/sup-linux/internal/transport"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll [username]",
	Short: "Enroll a user's face templates",
	Long: `Captures face templates for a new user through the running embedding
service. Every capture is challenge-verified the same way authentication
captures are, then gated on enrollment quality before it is stored.`,
	Args: cobra.ExactArgs(1),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)
	enrollCmd.Flags().Int("captures", 0, "Number of templates to capture (default from config)")
	enrollCmd.Flags().String("label", "", "Label stored with each template, e.g. 'glasses'")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	username := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	captures := mustGetInt(cmd, "captures")
	if captures <= 0 {
		captures = cfg.Enrollment.Captures
	}
	label := mustGetString(cmd, "label")

	st, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open enrollment store: %w", err)
	}
	defer st.Close()

	if _, err := st.GetUser(cmd.Context(), username); err == nil {
		return fmt.Errorf("user %q is already enrolled; use 'enhance' to add templates or 'remove' first", username)
	} else if !errors.Is(err, store.ErrUserNotFound) {
		return fmt.Errorf("failed to check existing enrollment: %w", err)
	}

	keys, err := keyring.Load(cfg.Keyring.KeyPath)
	if err != nil {
		return fmt.Errorf("failed to load shared key: %w", err)
	}

	client := transport.NewClient(cfg.Service.SocketPath, 0)
	if _, err := client.Health(cmd.Context()); err != nil {
		return fmt.Errorf("embedding service is not reachable at %s: %w", cfg.Service.SocketPath, err)
	}

	fmt.Printf("Enrolling %s: capturing %d template(s), look at the camera...\n", username, captures)

	templates, err := collectTemplates(cmd.Context(), cfg, client, keys, captures, label, "Enrolling")
	if err != nil {
		return err
	}

	vectors := make([]embedding.Vector, len(templates))
	for i, t := range templates {
		vectors[i] = t.Vector
	}
	consistency := match.EnrollmentConsistency(vectors)
	if consistency < 0.7 {
		fmt.Printf("Warning: captures vary widely (consistency %.2f); re-enroll in steadier conditions if authentication is unreliable\n", consistency)
	}

	profile, err := st.PutProfile(cmd.Context(), username, templates)
	if err != nil {
		return fmt.Errorf("failed to store profile: %w", err)
	}

	auditEnrollment(cfg, profile.Username, "enrolled",
		fmt.Sprintf("%d templates, consistency %.2f", len(templates), consistency),
		meanQuality(templates))

	fmt.Printf("\nDone! Enrolled %s with %d template(s), mean quality %.2f\n",
		profile.Username, len(profile.Embeddings), meanQuality(templates))
	return nil
}

// auditEnrollment records enrollment-shaped events. Audit problems are
// reported but never fail the command that already changed the store.
func auditEnrollment(cfg *config.Config, username, outcome, detail string, quality float64) {
	w, err := audit.NewWriter(cfg.Audit.Dir, cfg.Audit.MaxAgeDays)
	if err != nil {
		fmt.Printf("Warning: audit trail unavailable: %v\n", err)
		return
	}
	defer w.Close()

	err = w.Emit(audit.Event{
		Kind:     audit.KindEnrollment,
		Username: username,
		Outcome:  outcome,
		Quality:  float32(quality),
		Detail:   detail,
	})
	if err != nil {
		fmt.Printf("Warning: failed to write audit event: %v\n", err)
	}
}
