package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/matchd/internal/server"
)

func init() {
	ingestCmd.AddCommand(ingestCandidateCmd)
	ingestCmd.AddCommand(ingestJobCmd)
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest candidates and jobs",
	Long: `Ingest candidate profiles and job requirements into the matchd index.

The input is a JSON record read from a file or stdin. Skills and keywords
are canonicalized against the skill taxonomy before indexing; the response
shows the attributes matching will actually use.

Examples:
  # Ingest a candidate profile
  matchctl ingest candidate profile.json

  # Ingest a job from stdin
  cat posting.json | matchctl ingest job -`,
}

var ingestCandidateCmd = &cobra.Command{
	Use:   "candidate [file]",
	Short: "Ingest a candidate profile",
	Long: `Ingest a candidate profile from a file or stdin.

Examples:
  # Ingest from a file
  matchctl ingest candidate profile.json

  # Ingest from stdin
  cat profile.json | matchctl ingest candidate -

  # Show the canonicalized record as JSON
  matchctl ingest candidate profile.json --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest("/api/v1/candidates", args)
	},
}

var ingestJobCmd = &cobra.Command{
	Use:   "job [file]",
	Short: "Ingest a job requirement",
	Long: `Ingest a job requirement from a file or stdin.

Examples:
  # Ingest from a file
  matchctl ingest job posting.json

  # Ingest from stdin
  cat posting.json | matchctl ingest job -`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest("/api/v1/jobs", args)
	},
}

func runIngest(path string, args []string) error {
	content, err := readInput(args)
	if err != nil {
		return err
	}
	if len(content) == 0 {
		return fmt.Errorf("no record to ingest")
	}

	// Parse locally first so malformed records fail before the round trip.
	var req server.IngestRequest
	if err := json.Unmarshal(content, &req); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}
	if req.ID == "" {
		return fmt.Errorf("record must carry an id")
	}

	var resp server.IngestResponse
	if err := postJSON(path, req, &resp); err != nil {
		return err
	}

	if jsonOutput {
		return outputJSON(resp)
	}

	fmt.Printf("Indexed %s %s\n", resp.Kind, resp.ID)
	fmt.Printf("Skills: %s\n", strings.Join(resp.Skills, ", "))
	if len(resp.Keywords) > 0 {
		fmt.Printf("Keywords: %s\n", strings.Join(resp.Keywords, ", "))
	}
	if resp.Education != "" {
		fmt.Printf("Education: %s\n", resp.Education)
	}
	if resp.Kind == "candidate" {
		fmt.Printf("Experience: %.1f years\n", resp.ExperienceYears)
	} else if resp.ExperienceMin > 0 || resp.ExperienceMax > 0 {
		fmt.Printf("Experience Range: %.1f-%.1f years\n", resp.ExperienceMin, resp.ExperienceMax)
	}
	if resp.City != "" || resp.Country != "" {
		fmt.Printf("Location: %s\n", formatLocation(resp.City, resp.Region, resp.Country))
	}
	if resp.RemoteOK {
		fmt.Printf("Remote: yes\n")
	}

	return nil
}

func formatLocation(city, region, country string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{city, region, country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
