package explain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/matchd/internal/scoring"
)

// localSurrogate explains a score by sampling the neighborhood of its
// sub-score vector and fitting a kernel-weighted linear model to the
// blend's responses. The fitted coefficients, taken against the
// no-information baseline, become the contributions; fidelity is the
// fit's weighted R-squared.
type localSurrogate struct {
	samples     int
	kernelWidth float64
	tolerance   float64
	logger      *zap.Logger
}

func (s *localSurrogate) Name() string { return StrategyLocalSurrogate }

func (s *localSurrogate) Explain(ctx context.Context, score scoring.MatchScore) (Explanation, error) {
	if err := ctx.Err(); err != nil {
		return Explanation{}, err
	}
	features, err := featuresOf(score)
	if err != nil {
		return Explanation{}, err
	}

	dims := len(features)
	anchor := make([]float64, dims)
	for i, f := range features {
		anchor[i] = f.value
	}

	// The first sample is the anchor itself; the rest perturb it with
	// seeded gaussian noise clipped back into [0,1].
	rng := rand.New(rand.NewSource(scoreSeed(score)))
	rows := make([][]float64, s.samples)
	responses := make([]float64, s.samples)
	kernels := make([]float64, s.samples)
	point := make([]float64, dims)
	for j := 0; j < s.samples; j++ {
		copy(point, anchor)
		if j > 0 {
			for i := range point {
				point[i] = clamp01(anchor[i] + perturbSigma*rng.NormFloat64())
			}
		}

		row := make([]float64, dims+1)
		row[0] = 1
		copy(row[1:], point)
		rows[j] = row
		responses[j] = blendAt(features, point)
		kernels[j] = math.Exp(-squaredDistance(point, anchor) / (s.kernelWidth * s.kernelWidth))
	}

	coeffs, err := weightedRidge(rows, responses, kernels, ridgeLambda)
	if err != nil {
		return Explanation{}, fmt.Errorf("fitting local surrogate for %s/%s: %w", score.CandidateID, score.JobID, err)
	}

	contributions := make([]float64, dims)
	for i := range features {
		contributions[i] = coeffs[i+1] * (anchor[i] - featureBaseline)
	}

	baseline := make([]float64, dims)
	for i := range baseline {
		baseline[i] = featureBaseline
	}
	expected := blendAt(features, baseline)

	out := buildExplanation(StrategyLocalSurrogate, score, features, contributions, weightedRSquared(rows, responses, kernels, coeffs), expected, s.tolerance)
	if out.LowFidelity {
		s.logger.Warn("surrogate reconstruction outside tolerance",
			zap.String("candidate_id", score.CandidateID),
			zap.String("job_id", score.JobID),
			zap.Float64("fidelity", out.Fidelity))
	}
	return out, nil
}

func squaredDistance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// weightedRidge solves the kernel-weighted least squares problem with a
// small ridge term on the non-intercept coefficients.
func weightedRidge(rows [][]float64, responses, kernels []float64, lambda float64) ([]float64, error) {
	cols := len(rows[0])
	normal := make([][]float64, cols)
	for i := range normal {
		normal[i] = make([]float64, cols)
	}
	rhs := make([]float64, cols)

	for j, row := range rows {
		k := kernels[j]
		for p := 0; p < cols; p++ {
			rhs[p] += k * row[p] * responses[j]
			for q := p; q < cols; q++ {
				normal[p][q] += k * row[p] * row[q]
			}
		}
	}
	// Mirror the upper triangle; the intercept stays unpenalized.
	for p := 0; p < cols; p++ {
		for q := 0; q < p; q++ {
			normal[p][q] = normal[q][p]
		}
	}
	for p := 1; p < cols; p++ {
		normal[p][p] += lambda
	}

	return solveLinear(normal, rhs)
}

// solveLinear solves a small dense system in place with partial
// pivoting. The explain systems are at most 7x7.
func solveLinear(a [][]float64, b []float64) ([]float64, error) {
	n := len(b)
	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return nil, errors.New("singular normal equations")
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]

		for r := col + 1; r < n; r++ {
			factor := a[r][col] / a[col][col]
			for c := col; c < n; c++ {
				a[r][c] -= factor * a[col][c]
			}
			b[r] -= factor * b[col]
		}
	}

	out := make([]float64, n)
	for r := n - 1; r >= 0; r-- {
		sum := b[r]
		for c := r + 1; c < n; c++ {
			sum -= a[r][c] * out[c]
		}
		out[r] = sum / a[r][r]
	}
	return out, nil
}

// weightedRSquared measures how much of the kernel-weighted response
// variance the fitted model captures.
func weightedRSquared(rows [][]float64, responses, kernels []float64, coeffs []float64) float64 {
	var kernelSum, mean float64
	for j, y := range responses {
		kernelSum += kernels[j]
		mean += kernels[j] * y
	}
	mean /= kernelSum

	var residual, total float64
	for j, row := range rows {
		var fitted float64
		for p, c := range coeffs {
			fitted += c * row[p]
		}
		residual += kernels[j] * (responses[j] - fitted) * (responses[j] - fitted)
		total += kernels[j] * (responses[j] - mean) * (responses[j] - mean)
	}

	if total < fidelityEpsilon {
		// A flat response surface: perfect fit unless the model still
		// misses it.
		if residual < fidelityEpsilon {
			return 1
		}
		return 0
	}
	return 1 - residual/total
}
