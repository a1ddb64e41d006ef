package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/matchd/internal/match"
	"github.com/fyrsmithlabs/matchd/internal/scoring"
	"github.com/fyrsmithlabs/matchd/internal/server"
)

var (
	// match command flags
	rankK       int
	matchWeight string
)

func init() {
	scoreCmd.Flags().StringVar(&matchWeight, "weights", "", `Sub-score weights as JSON (e.g. '{"skills":0.5,"semantic":0.5}')`)
	rankCmd.Flags().IntVar(&rankK, "k", 0, "Maximum number of candidates to return (0 = server default)")
	rankCmd.Flags().StringVar(&matchWeight, "weights", "", `Sub-score weights as JSON (e.g. '{"skills":0.5,"semantic":0.5}')`)
}

var scoreCmd = &cobra.Command{
	Use:   "score <candidate-id> <job-id>",
	Short: "Score one candidate against one job",
	Long: `Score a single candidate-job pair and show the overall score with its
sub-score breakdown.

Examples:
  # Score with the server's configured weights
  matchctl score cand-42 job-7

  # Score with a one-off weight override
  matchctl score cand-42 job-7 --weights '{"skills":0.7,"semantic":0.3}'

  # Raw JSON output
  matchctl score cand-42 job-7 --json`,
	Args: cobra.ExactArgs(2),
	RunE: runScore,
}

var rankCmd = &cobra.Command{
	Use:   "rank <job-id>",
	Short: "Rank candidates for a job",
	Long: `Rank the best-matching candidates for a job, highest score first.

Candidates that could not be scored are listed as exclusions with the
reason, never silently dropped.

Examples:
  # Top candidates with the server's defaults
  matchctl rank job-7

  # Limit to the top 5
  matchctl rank job-7 --k 5

  # Rank with a one-off weight override
  matchctl rank job-7 --weights '{"skills":0.6,"experience":0.4}'`,
	Args: cobra.ExactArgs(1),
	RunE: runRank,
}

func runScore(cmd *cobra.Command, args []string) error {
	weights, err := parseWeights(matchWeight)
	if err != nil {
		return err
	}

	req := server.ScoreRequest{
		CandidateID: args[0],
		JobID:       args[1],
		Weights:     weights,
	}

	var score scoring.MatchScore
	if err := postJSON("/api/v1/match/score", req, &score); err != nil {
		return err
	}

	if jsonOutput {
		return outputJSON(score)
	}

	printScore(score)
	return nil
}

func runRank(cmd *cobra.Command, args []string) error {
	weights, err := parseWeights(matchWeight)
	if err != nil {
		return err
	}

	req := server.RankRequest{
		JobID:   args[0],
		K:       rankK,
		Weights: weights,
	}

	var result match.MatchResult
	if err := postJSON("/api/v1/match/rank", req, &result); err != nil {
		return err
	}

	if jsonOutput {
		return outputJSON(result)
	}

	if len(result.Scores) == 0 {
		fmt.Printf("No candidates matched job %s\n", result.JobID)
	} else {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "RANK\tCANDIDATE\tOVERALL\tTOP FEATURE")
		for i, score := range result.Scores {
			fmt.Fprintf(w, "%d\t%s\t%.4f\t%s\n",
				i+1,
				truncate(score.CandidateID, 24),
				score.Overall,
				topFeature(score),
			)
		}
		w.Flush()
	}

	for _, ex := range result.Exclusions {
		fmt.Fprintf(os.Stderr, "excluded %s: %s\n", ex.CandidateID, ex.Reason)
	}

	return nil
}

// parseWeights decodes the --weights flag. An empty flag means the
// server's configured weights.
func parseWeights(raw string) (scoring.Weights, error) {
	if raw == "" {
		return nil, nil
	}
	var weights scoring.Weights
	if err := json.Unmarshal([]byte(raw), &weights); err != nil {
		return nil, fmt.Errorf("invalid --weights: %w", err)
	}
	return weights, nil
}

// topFeature returns the name of the highest weighted-value sub-score.
func topFeature(score scoring.MatchScore) string {
	best := ""
	bestVal := 0.0
	for _, s := range score.SubScores {
		if v := s.Value * s.Weight; best == "" || v > bestVal {
			best = s.Name
			bestVal = v
		}
	}
	return best
}

func printScore(score scoring.MatchScore) {
	fmt.Printf("Candidate: %s\n", score.CandidateID)
	fmt.Printf("Job: %s\n", score.JobID)
	fmt.Printf("Overall: %.4f\n", score.Overall)
	fmt.Printf("Weights Version: %s\n", score.WeightsVersion)
	if score.ModelVersion != "" {
		fmt.Printf("Model Version: %s\n", score.ModelVersion)
	}
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FEATURE\tVALUE\tWEIGHT")
	for _, s := range score.SubScores {
		fmt.Fprintf(w, "%s\t%.4f\t%.4f\n", s.Name, s.Value, s.Weight)
	}
	w.Flush()
}
