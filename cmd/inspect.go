package cmd

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/adam-mcguinness/sup-linux/internal/embedding"
	"github.com/adam-mcguinness/sup-linux/internal/match"
	"github.com/adam-mcguinness/sup-linux/internal/store"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [username]",
	Short: "Inspect a user's enrolled templates",
	Long: `Shows how a user's stored templates relate to each other: pairwise
similarities, per-template quality and summary statistics. High
off-diagonal similarity means redundant captures; low similarity means
the enrollment mixes very different conditions.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().Bool("csv", false, "Dump raw template vectors as CSV instead of tables")
}

func runInspect(cmd *cobra.Command, args []string) error {
	username := args[0]

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

	if mustGetBool(cmd, "csv") {
		return writeTemplatesCSV(os.Stdout, profile)
	}

	fmt.Printf("User:      %s\n", profile.Username)
	fmt.Printf("Templates: %d\n", len(profile.Embeddings))
	fmt.Printf("Created:   %s\n", profile.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Updated:   %s\n", profile.UpdatedAt.Format("2006-01-02 15:04:05"))

	vectors := profile.TemplateVectors()
	fmt.Printf("Consistency: %.2f\n", match.EnrollmentConsistency(vectors))
	fmt.Printf("Effective threshold: %.4f (base %.4f)\n",
		match.EffectiveThreshold(cfg.Auth.SimilarityThreshold, cfg.Auth.QualityWeight, profile.Qualities()),
		cfg.Auth.SimilarityThreshold)

	fmt.Println("\nTemplates:")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tLABEL\tQUALITY\tVS AVERAGE\tCREATED")
	fmt.Fprintln(w, "--\t-----\t-------\t----------\t-------")
	for i, e := range profile.Embeddings {
		label := e.Label
		if label == "" {
			label = "-"
		}
		fmt.Fprintf(w, "T%d\t%s\t%.2f\t%.4f\t%s\n",
			i+1, label, e.Quality,
			embedding.CosineSimilarity(e.Vector, profile.Average),
			e.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write template table: %w", err)
	}

	fmt.Println("\nPairwise similarity:")
	mw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	header := ""
	for i := range vectors {
		header += fmt.Sprintf("\tT%d", i+1)
	}
	fmt.Fprintln(mw, header)
	for i, a := range vectors {
		row := fmt.Sprintf("T%d", i+1)
		for j, b := range vectors {
			if i == j {
				row += "\t."
				continue
			}
			row += fmt.Sprintf("\t%.4f", embedding.CosineSimilarity(a, b))
		}
		fmt.Fprintln(mw, row)
	}
	if err := mw.Flush(); err != nil {
		return fmt.Errorf("failed to write similarity matrix: %w", err)
	}

	stats := embedding.Describe(profile.Average)
	fmt.Printf("\nAverage vector: dim %d, mean %.4f, stddev %.4f, range [%.4f, %.4f], L2 %.4f\n",
		len(profile.Average), stats.Mean, stats.StdDev, stats.Min, stats.Max, stats.L2Norm)
	return nil
}

// writeTemplatesCSV dumps each stored template as one CSV row for
// external analysis. Columns: id, label, quality, created_at, then the
// raw vector components.
func writeTemplatesCSV(out *os.File, profile *store.UserProfile) error {
	cw := csv.NewWriter(out)
	defer cw.Flush()

	if len(profile.Embeddings) == 0 {
		return fmt.Errorf("no templates stored")
	}

	header := []string{"id", "label", "quality", "created_at"}
	for i := range profile.Embeddings[0].Vector {
		header = append(header, fmt.Sprintf("v%d", i))
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, e := range profile.Embeddings {
		row := []string{
			strconv.FormatInt(e.ID, 10),
			e.Label,
			strconv.FormatFloat(float64(e.Quality), 'f', 4, 32),
			e.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		}
		for _, v := range e.Vector {
			row = append(row, strconv.FormatFloat(float64(v), 'f', -1, 32))
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	return nil
}
