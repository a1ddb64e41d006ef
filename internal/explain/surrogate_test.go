package explain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/matchd/internal/config"
	"github.com/fyrsmithlabs/matchd/internal/logging"
	"github.com/fyrsmithlabs/matchd/internal/scoring"
)

func newSurrogate(t *testing.T) Explainer {
	t.Helper()
	explainer, err := New(config.ExplainConfig{Strategy: StrategyLocalSurrogate}, nil)
	require.NoError(t, err)
	return explainer
}

func TestLocalSurrogate_Deterministic(t *testing.T) {
	explainer := newSurrogate(t)
	score := typicalScore()

	first, err := explainer.Explain(context.Background(), score)
	require.NoError(t, err)
	second, err := explainer.Explain(context.Background(), score)
	require.NoError(t, err)

	// The sampler is seeded from the score key, so repeat runs are
	// bit-identical.
	assert.Equal(t, first, second)
}

func TestLocalSurrogate_RecoversLinearBlend(t *testing.T) {
	explainer := newSurrogate(t)
	score := typicalScore()

	exp, err := explainer.Explain(context.Background(), score)
	require.NoError(t, err)

	// The blend is linear in the sub-scores, so the surrogate should
	// recover each feature's true share almost exactly.
	var weightSum float64
	for _, sub := range score.SubScores {
		weightSum += sub.Weight
	}
	for _, sub := range score.SubScores {
		contribution, ok := contributionFor(exp, sub.Name)
		require.True(t, ok, sub.Name)
		want := sub.Weight / weightSum * (sub.Value - 0.5)
		assert.InDelta(t, want, contribution, 1e-3, sub.Name)
	}

	assert.GreaterOrEqual(t, exp.Fidelity, 0.99)
	assert.False(t, exp.LowFidelity)
}

func TestLocalSurrogate_SingleFeature(t *testing.T) {
	explainer := newSurrogate(t)
	score := testScore(scoring.SubScore{Name: scoring.SubscoreSemantic, Value: 0.9, Weight: 1})

	exp, err := explainer.Explain(context.Background(), score)
	require.NoError(t, err)

	require.Len(t, exp.Contributions, 1)
	assert.InDelta(t, 0.4, exp.Contributions[0].Contribution, 1e-3)
	assert.False(t, exp.LowFidelity)
}

func TestLocalSurrogate_ZeroWeightFeatureContributesNothing(t *testing.T) {
	explainer := newSurrogate(t)
	score := testScore(
		scoring.SubScore{Name: scoring.SubscoreSemantic, Value: 0.9, Weight: 1},
		scoring.SubScore{Name: scoring.SubscoreKeywordMatch, Value: 0.9, Weight: 0},
	)

	exp, err := explainer.Explain(context.Background(), score)
	require.NoError(t, err)

	contribution, ok := contributionFor(exp, scoring.SubscoreKeywordMatch)
	require.True(t, ok)
	assert.InDelta(t, 0, contribution, 1e-3)
}

func TestLocalSurrogate_InconsistentScoreFlagsLowFidelity(t *testing.T) {
	testLogger := logging.NewTestLogger()
	explainer, err := New(config.ExplainConfig{Strategy: StrategyLocalSurrogate}, testLogger.Underlying())
	require.NoError(t, err)

	// An overall that disagrees with its own sub-scores cannot be
	// reconstructed; that flags the explanation instead of failing it.
	score := scoring.MatchScore{
		CandidateID: "cand-1",
		JobID:       "job-1",
		Overall:     0.9,
		SubScores:   []scoring.SubScore{{Name: scoring.SubscoreSemantic, Value: 0.2, Weight: 1}},
	}

	exp, err := explainer.Explain(context.Background(), score)
	require.NoError(t, err)
	assert.True(t, exp.LowFidelity)
	assert.GreaterOrEqual(t, exp.Fidelity, 0.0)
	assert.LessOrEqual(t, exp.Fidelity, 1.0)
	testLogger.AssertLogged(t, zapcore.WarnLevel, "surrogate reconstruction outside tolerance")
}

func TestLocalSurrogate_ContextCanceled(t *testing.T) {
	explainer := newSurrogate(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := explainer.Explain(ctx, typicalScore())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSolveLinear(t *testing.T) {
	solution, err := solveLinear(
		[][]float64{{2, 1}, {1, 3}},
		[]float64{5, 10},
	)
	require.NoError(t, err)
	assert.InDelta(t, 1, solution[0], 1e-12)
	assert.InDelta(t, 3, solution[1], 1e-12)

	_, err = solveLinear(
		[][]float64{{1, 2}, {2, 4}},
		[]float64{1, 2},
	)
	assert.Error(t, err)
}

func contributionFor(exp Explanation, feature string) (float64, bool) {
	for _, c := range exp.Contributions {
		if c.Feature == feature {
			return c.Contribution, true
		}
	}
	return 0, false
}
