package scoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/matchd/internal/config"
	"github.com/fyrsmithlabs/matchd/internal/normalize"
)

func testScorer(t *testing.T, cfg config.ScoringConfig) *Scorer {
	t.Helper()
	s, err := NewScorer(cfg, nil)
	require.NoError(t, err)
	return s
}

func candidateAttrs(id string, skills ...string) *normalize.AttributeSet {
	return &normalize.AttributeSet{
		ID:     id,
		Kind:   normalize.KindCandidate,
		Skills: skills,
	}
}

func jobAttrs(id string, skills ...string) *normalize.AttributeSet {
	return &normalize.AttributeSet{
		ID:     id,
		Kind:   normalize.KindJob,
		Skills: skills,
	}
}

func TestScorer_Score_WeightedBlend(t *testing.T) {
	s := testScorer(t, config.ScoringConfig{})

	// Skill slices are written pre-sorted, matching the canonical order
	// normalize guarantees.
	candidate := candidateAttrs("cand-1", "python", "sql")
	job := jobAttrs("job-1", "python", "spark", "sql")

	weights := Weights{
		SubscoreSemantic:     0.5,
		SubscoreSkillOverlap: 0.5,
	}

	// Cosine 0.6 rescales to 0.8; two of three required skills match.
	score, err := s.Score(context.Background(), candidate, job, 0.6, weights)
	require.NoError(t, err)

	assert.Equal(t, "cand-1", score.CandidateID)
	assert.Equal(t, "job-1", score.JobID)
	assert.InDelta(t, 0.5*0.8+0.5*2.0/3.0, score.Overall, 1e-9)

	semantic, ok := score.SubScore(SubscoreSemantic)
	require.True(t, ok)
	assert.InDelta(t, 0.8, semantic, 1e-9)

	overlap, ok := score.SubScore(SubscoreSkillOverlap)
	require.True(t, ok)
	assert.InDelta(t, 2.0/3.0, overlap, 1e-9)

	// Only the enabled sub-scores appear, in fixed order.
	require.Len(t, score.SubScores, 2)
	assert.Equal(t, SubscoreSemantic, score.SubScores[0].Name)
	assert.Equal(t, SubscoreSkillOverlap, score.SubScores[1].Name)

	assert.NotEmpty(t, score.WeightsVersion)
	assert.False(t, score.ComputedAt.IsZero())
	assert.Equal(t, time.UTC, score.ComputedAt.Location())
}

func TestScorer_Score_Deterministic(t *testing.T) {
	s := testScorer(t, config.ScoringConfig{ExperienceToleranceYears: 2})
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	candidate := candidateAttrs("cand-1", "go", "postgresql")
	candidate.ExperienceYears = 4
	candidate.Summary = "backend engineer with go and postgresql"
	job := jobAttrs("job-1", "go", "kubernetes")
	job.ExperienceMin = 3
	job.Keywords = []string{"go", "grpc"}

	first, err := s.Score(context.Background(), candidate, job, 0.42, nil)
	require.NoError(t, err)
	second, err := s.Score(context.Background(), candidate, job, 0.42, nil)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, fixed, first.ComputedAt)
}

func TestScorer_Score_DefaultWeights(t *testing.T) {
	s := testScorer(t, config.ScoringConfig{})

	candidate := candidateAttrs("cand-1", "go")
	job := jobAttrs("job-1", "go")

	score, err := s.Score(context.Background(), candidate, job, 1.0, nil)
	require.NoError(t, err)

	// The default set enables five sub-scores; location stays out.
	require.Len(t, score.SubScores, 5)
	_, hasLocation := score.SubScore(SubscoreLocationFit)
	assert.False(t, hasLocation)
	assert.Equal(t, DefaultWeights().Version(), score.WeightsVersion)

	// Full marks everywhere: matching skill, no experience or education
	// requirement, no keywords, cosine 1.
	assert.InDelta(t, 1.0, score.Overall, 1e-9)
}

func TestScorer_Score_ConfiguredWeightsWin(t *testing.T) {
	s := testScorer(t, config.ScoringConfig{
		Weights: map[string]float64{SubscoreSemantic: 1},
	})

	score, err := s.Score(context.Background(), candidateAttrs("c"), jobAttrs("j", "go"), 0, nil)
	require.NoError(t, err)

	// Only semantic is enabled, so the missing skill does not matter.
	require.Len(t, score.SubScores, 1)
	assert.InDelta(t, 0.5, score.Overall, 1e-9)
}

func TestScorer_Score_EntityValidation(t *testing.T) {
	s := testScorer(t, config.ScoringConfig{})
	ctx := context.Background()

	_, err := s.Score(ctx, nil, jobAttrs("j"), 0, nil)
	assert.ErrorIs(t, err, ErrInvalidEntity)

	_, err = s.Score(ctx, candidateAttrs("c"), nil, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidEntity)

	// Swapped kinds are rejected even with both sides present.
	_, err = s.Score(ctx, jobAttrs("j"), candidateAttrs("c"), 0, nil)
	assert.ErrorIs(t, err, ErrInvalidEntity)
}

func TestWeights_Validate(t *testing.T) {
	tests := []struct {
		name    string
		weights Weights
		wantErr bool
	}{
		{name: "defaults", weights: DefaultWeights()},
		{name: "single", weights: Weights{SubscoreSemantic: 1}},
		{name: "empty", weights: Weights{}, wantErr: true},
		{name: "unknown name", weights: Weights{"charisma": 1}, wantErr: true},
		{name: "negative", weights: Weights{SubscoreSemantic: -0.1}, wantErr: true},
		{name: "all zero", weights: Weights{SubscoreSemantic: 0, SubscoreSkillOverlap: 0}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.weights.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidWeight)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWeights_Version(t *testing.T) {
	a := Weights{SubscoreSemantic: 0.5, SubscoreSkillOverlap: 0.5}
	b := Weights{SubscoreSkillOverlap: 0.5, SubscoreSemantic: 0.5}
	c := Weights{SubscoreSemantic: 0.6, SubscoreSkillOverlap: 0.4}

	assert.Equal(t, a.Version(), b.Version(), "map order must not affect the version")
	assert.NotEqual(t, a.Version(), c.Version())
}

func TestNewScorer_RejectsBadConfiguredWeights(t *testing.T) {
	_, err := NewScorer(config.ScoringConfig{
		Weights: map[string]float64{"charisma": 1},
	}, nil)
	assert.ErrorIs(t, err, ErrInvalidWeight)
}

func TestScorer_Score_InvalidWeights(t *testing.T) {
	s := testScorer(t, config.ScoringConfig{})

	_, err := s.Score(context.Background(), candidateAttrs("c"), jobAttrs("j"), 0, Weights{SubscoreSemantic: -1})
	assert.ErrorIs(t, err, ErrInvalidWeight)
}

func TestSemanticScore(t *testing.T) {
	assert.InDelta(t, 1.0, semanticScore(1), 1e-9)
	assert.InDelta(t, 0.5, semanticScore(0), 1e-9)
	assert.InDelta(t, 0.0, semanticScore(-1), 1e-9)
	assert.InDelta(t, 0.8, semanticScore(0.6), 1e-9)

	// Out-of-range cosines clamp instead of escaping [0,1].
	assert.InDelta(t, 1.0, semanticScore(1.2), 1e-9)
	assert.InDelta(t, 0.0, semanticScore(-1.2), 1e-9)
}

func TestSkillOverlap(t *testing.T) {
	tests := []struct {
		name      string
		candidate []string
		required  []string
		want      float64
	}{
		{name: "partial", candidate: []string{"python", "sql"}, required: []string{"python", "spark", "sql"}, want: 2.0 / 3.0},
		{name: "full", candidate: []string{"go", "sql"}, required: []string{"go", "sql"}, want: 1},
		{name: "none", candidate: []string{"go"}, required: []string{"rust"}, want: 0},
		{name: "job lists nothing", candidate: []string{"go"}, required: nil, want: 1},
		{name: "empty candidate", candidate: nil, required: []string{"go"}, want: 0},
		{name: "extra candidate skills ignored", candidate: []string{"c", "go", "rust", "zig"}, required: []string{"go"}, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, skillOverlap(tt.candidate, tt.required), 1e-9)
		})
	}
}

func TestExperienceFit(t *testing.T) {
	tests := []struct {
		name      string
		years     float64
		min, max  float64
		tolerance float64
		want      float64
	}{
		{name: "inside range", years: 5, min: 3, max: 8, tolerance: 2, want: 1},
		{name: "at lower bound", years: 3, min: 3, max: 8, tolerance: 2, want: 1},
		{name: "below within tolerance", years: 2, min: 3, max: 8, tolerance: 2, want: 0.5},
		{name: "below beyond tolerance", years: 0, min: 3, max: 8, tolerance: 2, want: 0},
		{name: "above within tolerance", years: 9, min: 3, max: 8, tolerance: 2, want: 0.5},
		{name: "above beyond tolerance", years: 12, min: 3, max: 8, tolerance: 2, want: 0},
		{name: "open upper bound", years: 30, min: 3, max: 0, tolerance: 2, want: 1},
		{name: "no requirement", years: 0, min: 0, max: 0, tolerance: 2, want: 1},
		{name: "zero tolerance hard cutoff", years: 2.5, min: 3, max: 8, tolerance: 0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, experienceFit(tt.years, tt.min, tt.max, tt.tolerance), 1e-9)
		})
	}
}

func TestEducationFit(t *testing.T) {
	tests := []struct {
		name      string
		candidate normalize.EducationLevel
		required  normalize.EducationLevel
		want      float64
	}{
		{name: "no requirement", candidate: normalize.EducationUnknown, required: normalize.EducationUnknown, want: 1},
		{name: "meets", candidate: normalize.EducationBachelor, required: normalize.EducationBachelor, want: 1},
		{name: "exceeds", candidate: normalize.EducationDoctorate, required: normalize.EducationMaster, want: 1},
		{name: "proportional below", candidate: normalize.EducationBachelor, required: normalize.EducationMaster, want: 4.0 / 5.0},
		{name: "far below", candidate: normalize.EducationHighSchool, required: normalize.EducationDoctorate, want: 1.0 / 6.0},
		{name: "unknown candidate", candidate: normalize.EducationUnknown, required: normalize.EducationBachelor, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, educationFit(tt.candidate, tt.required), 1e-9)
		})
	}
}

func TestLocationFit(t *testing.T) {
	tests := []struct {
		name      string
		candidate normalize.Location
		job       normalize.Location
		credit    float64
		want      float64
	}{
		{
			name:      "city match",
			candidate: normalize.Location{City: "berlin", Country: "de"},
			job:       normalize.Location{City: "berlin", Country: "de"},
			want:      1,
		},
		{
			name:      "region match",
			candidate: normalize.Location{City: "galway", Region: "connacht"},
			job:       normalize.Location{Region: "connacht"},
			want:      1,
		},
		{
			name:      "remote credit",
			candidate: normalize.Location{City: "lisbon"},
			job:       normalize.Location{City: "berlin", RemoteOK: true},
			credit:    0.5,
			want:      0.5,
		},
		{
			name:      "mismatch no remote",
			candidate: normalize.Location{City: "lisbon"},
			job:       normalize.Location{City: "berlin"},
			credit:    0.5,
			want:      0,
		},
		{
			name: "job has no location requirement",
			job:  normalize.Location{RemoteOK: true},
			want: 1,
		},
		{
			name:   "credit clamped",
			job:    normalize.Location{City: "berlin", RemoteOK: true},
			credit: 1.5,
			want:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, locationFit(tt.candidate, tt.job, tt.credit), 1e-9)
		})
	}
}

func TestKeywordMatch(t *testing.T) {
	candidate := &normalize.AttributeSet{
		ID:       "cand-1",
		Kind:     normalize.KindCandidate,
		Summary:  "Seasoned Kubernetes operator, shipped gRPC services in Go.",
		Keywords: []string{"terraform"},
	}

	job := func(keywords ...string) *normalize.AttributeSet {
		return &normalize.AttributeSet{ID: "job-1", Kind: normalize.KindJob, Keywords: keywords}
	}

	// Summary matching is case-insensitive substring containment.
	assert.InDelta(t, 1, keywordMatch(candidate, job("kubernetes")), 1e-9)
	assert.InDelta(t, 1, keywordMatch(candidate, job("grpc")), 1e-9)
	assert.InDelta(t, 1, keywordMatch(candidate, job("terraform")), 1e-9)
	assert.InDelta(t, 0.5, keywordMatch(candidate, job("kubernetes", "erlang")), 1e-9)
	assert.InDelta(t, 0, keywordMatch(candidate, job("erlang")), 1e-9)
	assert.InDelta(t, 1, keywordMatch(candidate, job()), 1e-9)
}

func TestLevelOf(t *testing.T) {
	tests := []struct {
		score float64
		want  Level
	}{
		{score: 0.95, want: LevelExcellent},
		{score: 0.85, want: LevelExcellent},
		{score: 0.84, want: LevelGood},
		{score: 0.70, want: LevelGood},
		{score: 0.69, want: LevelFair},
		{score: 0.50, want: LevelFair},
		{score: 0.49, want: LevelPoor},
		{score: 0.30, want: LevelPoor},
		{score: 0.29, want: LevelUnsuitable},
		{score: 0, want: LevelUnsuitable},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelOf(tt.score), "score %.2f", tt.score)
	}

	m := MatchScore{Overall: 0.72}
	assert.Equal(t, LevelGood, m.Level())
}
