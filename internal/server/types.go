package server

import (
	"time"

	"github.com/fyrsmithlabs/matchd/internal/audit"
	"github.com/fyrsmithlabs/matchd/internal/normalize"
	"github.com/fyrsmithlabs/matchd/internal/scoring"
)

// IngestRequest is the request body for POST /api/v1/candidates and
// POST /api/v1/jobs. Fields mirror the raw intake record; skills and
// keywords are canonicalized before indexing.
type IngestRequest struct {
	ID              string            `json:"id"`
	Skills          []string          `json:"skills"`
	Summary         string            `json:"summary,omitempty"`
	Keywords        []string          `json:"keywords,omitempty"`
	Education       string            `json:"education,omitempty"`
	ExperienceYears float64           `json:"experience_years,omitempty"`
	Experience      []ExperienceEntry `json:"experience,omitempty"`
	ExperienceMin   float64           `json:"experience_min,omitempty"`
	ExperienceMax   float64           `json:"experience_max,omitempty"`
	City            string            `json:"city,omitempty"`
	Region          string            `json:"region,omitempty"`
	Country         string            `json:"country,omitempty"`
	RemoteOK        bool              `json:"remote_ok,omitempty"`
	SourceRef       string            `json:"source_ref,omitempty"`
}

// ExperienceEntry is one dated work-history span in an ingest request.
type ExperienceEntry struct {
	Title string    `json:"title"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (r IngestRequest) toRaw() normalize.RawRecord {
	raw := normalize.RawRecord{
		ID:              r.ID,
		Skills:          r.Skills,
		Summary:         r.Summary,
		Keywords:        r.Keywords,
		Education:       r.Education,
		ExperienceYears: r.ExperienceYears,
		ExperienceMin:   r.ExperienceMin,
		ExperienceMax:   r.ExperienceMax,
		City:            r.City,
		Region:          r.Region,
		Country:         r.Country,
		RemoteOK:        r.RemoteOK,
		SourceRef:       r.SourceRef,
	}
	for _, span := range r.Experience {
		raw.Experience = append(raw.Experience, normalize.RawExperience{
			Title: span.Title,
			Start: span.Start,
			End:   span.End,
		})
	}
	return raw
}

// IngestResponse echoes the canonical attribute set an ingest produced.
type IngestResponse struct {
	ID              string   `json:"id"`
	Kind            string   `json:"kind"`
	Skills          []string `json:"skills"`
	Keywords        []string `json:"keywords,omitempty"`
	Education       string   `json:"education"`
	ExperienceYears float64  `json:"experience_years"`
	ExperienceMin   float64  `json:"experience_min,omitempty"`
	ExperienceMax   float64  `json:"experience_max,omitempty"`
	City            string   `json:"city,omitempty"`
	Region          string   `json:"region,omitempty"`
	Country         string   `json:"country,omitempty"`
	RemoteOK        bool     `json:"remote_ok"`
}

func newIngestResponse(attrs *normalize.AttributeSet) IngestResponse {
	return IngestResponse{
		ID:              attrs.ID,
		Kind:            string(attrs.Kind),
		Skills:          attrs.Skills,
		Keywords:        attrs.Keywords,
		Education:       attrs.Education.String(),
		ExperienceYears: attrs.ExperienceYears,
		ExperienceMin:   attrs.ExperienceMin,
		ExperienceMax:   attrs.ExperienceMax,
		City:            attrs.Location.City,
		Region:          attrs.Location.Region,
		Country:         attrs.Location.Country,
		RemoteOK:        attrs.Location.RemoteOK,
	}
}

// ScoreRequest is the request body for POST /api/v1/match/score.
// Empty weights use the configured defaults.
type ScoreRequest struct {
	CandidateID string          `json:"candidate_id"`
	JobID       string          `json:"job_id"`
	Weights     scoring.Weights `json:"weights,omitempty"`
}

// RankRequest is the request body for POST /api/v1/match/rank.
// A zero k falls back to the default batch size.
type RankRequest struct {
	JobID   string          `json:"job_id"`
	K       int             `json:"k,omitempty"`
	Weights scoring.Weights `json:"weights,omitempty"`
}

// ExplainRequest is the request body for POST /api/v1/explain. An empty
// strategy uses the configured default explainer.
type ExplainRequest struct {
	CandidateID string `json:"candidate_id"`
	JobID       string `json:"job_id"`
	Strategy    string `json:"strategy,omitempty"`
}

// FairnessRequest is the request body for POST /api/v1/fairness/report.
// Groups maps candidate id to protected attribute value.
type FairnessRequest struct {
	BatchID   string               `json:"batch_id,omitempty"`
	Attribute string               `json:"attribute"`
	Scores    []scoring.MatchScore `json:"scores"`
	Groups    map[string]string    `json:"groups"`
}

// AuditEntriesResponse is the response body for GET /api/v1/audit/entries.
type AuditEntriesResponse struct {
	Entries []audit.Entry `json:"entries"`
}

// HealthResponse is the response body for GET /health. Counts are -1
// when the index cannot be reached.
type HealthResponse struct {
	Status     string `json:"status"`
	Service    string `json:"service"`
	Candidates int    `json:"candidates"`
	Jobs       int    `json:"jobs"`
}
