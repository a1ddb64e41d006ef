package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/matchd/internal/fairness"
	"github.com/fyrsmithlabs/matchd/internal/server"
)

var (
	// fairness command flags
	fairnessAttribute string
	fairnessBatchID   string
)

func init() {
	fairnessCmd.Flags().StringVar(&fairnessAttribute, "attribute", "", "Protected attribute to audit (overrides the file)")
	fairnessCmd.Flags().StringVar(&fairnessBatchID, "batch-id", "", "Batch identifier (overrides the file; server generates one when empty)")
}

var fairnessCmd = &cobra.Command{
	Use:   "fairness [file]",
	Short: "Run a fairness report over a score batch",
	Long: `Run a fairness report over a batch of match scores.

The input is a JSON file (or stdin) carrying the scored batch and the
group membership of each candidate under one protected attribute:

  {
    "attribute": "gender",
    "scores": [ ...match scores... ],
    "groups": { "cand-1": "a", "cand-2": "b" }
  }

The report never blocks or rewrites scores; it surfaces disparate
impact and score gaps for human review.

Examples:
  # Report over a saved batch
  matchctl fairness batch.json

  # Audit a different attribute than the file names
  matchctl fairness batch.json --attribute age_band

  # Raw JSON output
  matchctl fairness batch.json --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFairness,
}

func runFairness(cmd *cobra.Command, args []string) error {
	content, err := readInput(args)
	if err != nil {
		return err
	}
	if len(content) == 0 {
		return fmt.Errorf("no batch to audit")
	}

	var req server.FairnessRequest
	if err := json.Unmarshal(content, &req); err != nil {
		return fmt.Errorf("invalid batch file: %w", err)
	}
	if fairnessAttribute != "" {
		req.Attribute = fairnessAttribute
	}
	if fairnessBatchID != "" {
		req.BatchID = fairnessBatchID
	}
	if req.Attribute == "" {
		return fmt.Errorf("an attribute is required (in the file or via --attribute)")
	}

	var report fairness.Report
	if err := postJSON("/api/v1/fairness/report", req, &report); err != nil {
		return err
	}

	if jsonOutput {
		return outputJSON(report)
	}

	fmt.Printf("Batch: %s\n", report.BatchID)
	fmt.Printf("Attribute: %s\n", report.Attribute)
	fmt.Printf("Status: %s\n", report.Status)
	if report.DisparityRatio != nil {
		fmt.Printf("Disparity Ratio: %.4f\n", *report.DisparityRatio)
	}
	fmt.Printf("Score Gap: %.4f\n", report.ScoreGap)
	fmt.Println()

	if len(report.Groups) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "GROUP\tSIZE\tSELECTED\tRATE\tMEAN SCORE")
		for _, g := range report.Groups {
			fmt.Fprintf(w, "%s\t%d\t%d\t%.4f\t%.4f\n",
				g.Group, g.Size, g.Selected, g.SelectionRate, g.MeanScore)
		}
		w.Flush()
	}

	for _, f := range report.Findings {
		fmt.Printf("\nFinding: %s\n", f)
	}

	return nil
}
