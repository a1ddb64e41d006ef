package explain

import (
	"context"
	"math"
	"math/bits"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/matchd/internal/scoring"
)

// additiveDecomposition explains a score with exact Shapley values over
// the sub-score features against a fixed no-information baseline.
// Contributions are additive by construction: their sum equals the
// prediction minus the expected value up to float error, so fidelity is
// one minus the normalized reconstruction residual.
type additiveDecomposition struct {
	tolerance float64
	logger    *zap.Logger
}

func (d *additiveDecomposition) Name() string { return StrategyAdditiveDecomposition }

func (d *additiveDecomposition) Explain(ctx context.Context, score scoring.MatchScore) (Explanation, error) {
	if err := ctx.Err(); err != nil {
		return Explanation{}, err
	}
	features, err := featuresOf(score)
	if err != nil {
		return Explanation{}, err
	}

	contributions := shapleyValues(features)
	expected := coalitionValue(features, 0)

	var sum float64
	for _, c := range contributions {
		sum += c
	}
	residual := math.Abs(score.Overall - expected - sum)
	fidelity := 1 - residual/math.Max(math.Abs(score.Overall-expected), fidelityEpsilon)

	out := buildExplanation(StrategyAdditiveDecomposition, score, features, contributions, fidelity, expected, d.tolerance)
	if out.LowFidelity {
		d.logger.Warn("decomposition reconstruction outside tolerance",
			zap.String("candidate_id", score.CandidateID),
			zap.String("job_id", score.JobID),
			zap.Float64("fidelity", out.Fidelity))
	}
	return out, nil
}

// shapleyValues enumerates every feature coalition. With at most six
// sub-scores that is at most 64 blend evaluations, so the exact
// computation is cheaper than any sampling approximation.
func shapleyValues(features []feature) []float64 {
	n := len(features)

	values := make([]float64, 1<<n)
	for mask := range values {
		values[mask] = coalitionValue(features, mask)
	}

	factorial := make([]float64, n+1)
	factorial[0] = 1
	for i := 1; i <= n; i++ {
		factorial[i] = factorial[i-1] * float64(i)
	}

	out := make([]float64, n)
	for i := 0; i < n; i++ {
		bit := 1 << i
		for mask := 0; mask < 1<<n; mask++ {
			if mask&bit != 0 {
				continue
			}
			size := bits.OnesCount(uint(mask))
			weight := factorial[size] * factorial[n-size-1] / factorial[n]
			out[i] += weight * (values[mask|bit] - values[mask])
		}
	}
	return out
}

// coalitionValue evaluates the blend with coalition members at their
// actual value and everyone else at the baseline.
func coalitionValue(features []feature, mask int) float64 {
	var weighted, weightSum float64
	for i, f := range features {
		v := featureBaseline
		if mask&(1<<i) != 0 {
			v = f.value
		}
		weighted += f.weight * v
		weightSum += f.weight
	}
	return weighted / weightSum
}
