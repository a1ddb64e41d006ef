package scoring

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/matchd/internal/config"
)

func TestScoreBatch_InputOrderPreserved(t *testing.T) {
	s := testScorer(t, config.ScoringConfig{BatchParallelism: 4})
	s.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	job := jobAttrs("job-1", "go")
	var candidates []BatchCandidate
	for i := 0; i < 50; i++ {
		candidates = append(candidates, BatchCandidate{
			Attrs:    candidateAttrs(fmt.Sprintf("cand-%02d", i), "go"),
			Semantic: float64(i) / 50,
		})
	}

	result, err := s.ScoreBatch(context.Background(), job, candidates, nil)
	require.NoError(t, err)
	require.Len(t, result.Scores, 50)
	assert.Empty(t, result.Exclusions)

	// Concurrent scoring must not reorder results or mix up pairings.
	for i, score := range result.Scores {
		assert.Equal(t, fmt.Sprintf("cand-%02d", i), score.CandidateID)

		want, err := s.Score(context.Background(), candidates[i].Attrs, job, candidates[i].Semantic, nil)
		require.NoError(t, err)
		assert.Equal(t, want, score)
	}
}

func TestScoreBatch_ExclusionDoesNotAbort(t *testing.T) {
	s := testScorer(t, config.ScoringConfig{})

	job := jobAttrs("job-1", "go")
	candidates := []BatchCandidate{
		{Attrs: candidateAttrs("cand-a", "go"), Semantic: 0.9},
		{Attrs: jobAttrs("not-a-candidate", "go"), Semantic: 0.9},
		{Attrs: nil, Semantic: 0.5},
		{Attrs: candidateAttrs("cand-b", "go"), Semantic: 0.3},
	}

	result, err := s.ScoreBatch(context.Background(), job, candidates, nil)
	require.NoError(t, err)

	require.Len(t, result.Scores, 2)
	assert.Equal(t, "cand-a", result.Scores[0].CandidateID)
	assert.Equal(t, "cand-b", result.Scores[1].CandidateID)

	require.Len(t, result.Exclusions, 2)
	assert.Equal(t, "not-a-candidate", result.Exclusions[0].CandidateID)
	assert.Contains(t, result.Exclusions[0].Reason, "candidate")
	assert.Empty(t, result.Exclusions[1].CandidateID)
}

func TestScoreBatch_InvalidWeightsFailWholeBatch(t *testing.T) {
	s := testScorer(t, config.ScoringConfig{})

	_, err := s.ScoreBatch(context.Background(), jobAttrs("job-1"), []BatchCandidate{
		{Attrs: candidateAttrs("cand-a")},
	}, Weights{"charisma": 1})
	assert.ErrorIs(t, err, ErrInvalidWeight)
}

func TestScoreBatch_RequiresJob(t *testing.T) {
	s := testScorer(t, config.ScoringConfig{})

	_, err := s.ScoreBatch(context.Background(), nil, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidEntity)

	_, err = s.ScoreBatch(context.Background(), candidateAttrs("cand-a"), nil, nil)
	assert.ErrorIs(t, err, ErrInvalidEntity)
}

func TestScoreBatch_EmptyBatch(t *testing.T) {
	s := testScorer(t, config.ScoringConfig{})

	result, err := s.ScoreBatch(context.Background(), jobAttrs("job-1"), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Scores)
	assert.Empty(t, result.Exclusions)
}

func TestScoreBatch_Cancellation(t *testing.T) {
	s := testScorer(t, config.ScoringConfig{BatchParallelism: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var candidates []BatchCandidate
	for i := 0; i < 10; i++ {
		candidates = append(candidates, BatchCandidate{Attrs: candidateAttrs(fmt.Sprintf("cand-%d", i))})
	}

	_, err := s.ScoreBatch(ctx, jobAttrs("job-1"), candidates, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRank_TotalOrder(t *testing.T) {
	withOverlap := func(id string, overall, overlap float64) MatchScore {
		return MatchScore{
			CandidateID: id,
			JobID:       "job-1",
			Overall:     overall,
			SubScores:   []SubScore{{Name: SubscoreSkillOverlap, Value: overlap, Weight: 1}},
		}
	}

	scores := []MatchScore{
		withOverlap("cand-c", 0.70, 0.60),
		withOverlap("cand-a", 0.70, 0.80),
		withOverlap("cand-d", 0.90, 0.10),
		withOverlap("cand-b", 0.70, 0.80),
		withOverlap("cand-e", 0.20, 1.00),
	}

	Rank(scores)

	var ids []string
	for _, score := range scores {
		ids = append(ids, score.CandidateID)
	}
	// Overall first; at 0.70 skill overlap breaks the tie; at equal
	// overlap the candidate ID does.
	assert.Equal(t, []string{"cand-d", "cand-a", "cand-b", "cand-c", "cand-e"}, ids)
}

func TestRank_WithoutSkillOverlapSubscore(t *testing.T) {
	scores := []MatchScore{
		{CandidateID: "cand-b", Overall: 0.5},
		{CandidateID: "cand-a", Overall: 0.5},
	}

	// Scores produced without a skill_overlap weight still rank
	// deterministically via the ID fallback.
	Rank(scores)
	assert.Equal(t, "cand-a", scores[0].CandidateID)
	assert.Equal(t, "cand-b", scores[1].CandidateID)
}

func TestRank_Deterministic(t *testing.T) {
	build := func() []MatchScore {
		return []MatchScore{
			{CandidateID: "x", Overall: 0.4},
			{CandidateID: "m", Overall: 0.8},
			{CandidateID: "a", Overall: 0.4},
			{CandidateID: "k", Overall: 0.8},
		}
	}

	first := build()
	second := build()
	// Different starting permutation, same final order.
	second[0], second[3] = second[3], second[0]

	Rank(first)
	Rank(second)
	assert.Equal(t, first, second)

	var ids []string
	for _, score := range first {
		ids = append(ids, score.CandidateID)
	}
	assert.Equal(t, []string{"k", "m", "a", "x"}, ids)
}
