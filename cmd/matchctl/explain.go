package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/matchd/internal/match"
	"github.com/fyrsmithlabs/matchd/internal/server"
)

var explainStrategy string

func init() {
	explainCmd.Flags().StringVar(&explainStrategy, "strategy", "", "Explanation strategy: local-surrogate or additive-decomposition (default: server config)")
}

var explainCmd = &cobra.Command{
	Use:   "explain <candidate-id> <job-id>",
	Short: "Explain a candidate-job score",
	Long: `Explain why a candidate scored the way it did against a job.

The explanation attributes the overall score to its sub-score features,
largest contribution first. Both strategies report a fidelity figure;
explanations below the fidelity floor are flagged.

Examples:
  # Explain with the server's default strategy
  matchctl explain cand-42 job-7

  # Force the exact additive decomposition
  matchctl explain cand-42 job-7 --strategy additive-decomposition

  # Raw JSON output
  matchctl explain cand-42 job-7 --json`,
	Args: cobra.ExactArgs(2),
	RunE: runExplain,
}

func runExplain(cmd *cobra.Command, args []string) error {
	req := server.ExplainRequest{
		CandidateID: args[0],
		JobID:       args[1],
		Strategy:    explainStrategy,
	}

	var explained match.Explained
	if err := postJSON("/api/v1/explain", req, &explained); err != nil {
		return err
	}

	if jsonOutput {
		return outputJSON(explained)
	}

	fmt.Printf("Candidate: %s\n", explained.Score.CandidateID)
	fmt.Printf("Job: %s\n", explained.Score.JobID)
	fmt.Printf("Overall: %.4f\n", explained.Score.Overall)
	fmt.Printf("Strategy: %s\n", explained.Explanation.Strategy)
	fmt.Printf("Fidelity: %.4f\n", explained.Explanation.Fidelity)
	if explained.Explanation.LowFidelity {
		fmt.Printf("Warning: fidelity is below the configured floor; treat feature attributions as approximate\n")
	}
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FEATURE\tVALUE\tWEIGHT\tCONTRIBUTION")
	for _, c := range explained.Explanation.Contributions {
		fmt.Fprintf(w, "%s\t%.4f\t%.4f\t%+.4f\n", c.Feature, c.Value, c.Weight, c.Contribution)
	}
	w.Flush()

	return nil
}
