// Package explain produces local feature attributions for match scores.
//
// Two interchangeable strategies implement one capability: a
// local-surrogate fit (perturb the sub-score vector, fit a weighted
// linear model around the scored point) and an additive decomposition
// (exact Shapley values against a fixed baseline). Both emit the same
// contract: contributions ordered by absolute magnitude whose sum
// reconstructs prediction minus expected value within a bounded
// residual, plus a fidelity metric. Exceeding the residual tolerance
// sets a low-fidelity flag, never an error.
//
// Strategies are re-entrant and side-effect-free. For a fixed score they
// are deterministic: the surrogate's sampler is seeded from the score
// key, not the clock.
package explain

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/matchd/internal/config"
	"github.com/fyrsmithlabs/matchd/internal/scoring"
)

var (
	// ErrUnknownStrategy indicates an unrecognized strategy name
	ErrUnknownStrategy = errors.New("unknown explanation strategy")

	// ErrInvalidScore indicates a score that cannot be explained
	ErrInvalidScore = errors.New("invalid score for explanation")
)

// Strategy names accepted by New and reported by Name.
const (
	StrategyLocalSurrogate        = "local-surrogate"
	StrategyAdditiveDecomposition = "additive-decomposition"
)

const (
	// perturbSigma is the gaussian noise scale for surrogate sampling.
	perturbSigma = 0.2

	// ridgeLambda keeps the surrogate's normal equations well conditioned.
	ridgeLambda = 1e-6

	// featureBaseline is the no-information value per sub-score feature.
	featureBaseline = 0.5

	fidelityEpsilon = 1e-9
)

// Contribution is one feature's signed share of the explained score.
type Contribution struct {
	Feature      string  `json:"feature"`
	Value        float64 `json:"value"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// Explanation attributes a match score to its sub-score features.
// Contributions are ordered by absolute magnitude, largest first, and
// sum to Prediction minus Expected up to the reconstruction residual.
type Explanation struct {
	CandidateID   string         `json:"candidate_id"`
	JobID         string         `json:"job_id"`
	Strategy      string         `json:"strategy"`
	Contributions []Contribution `json:"contributions"`
	Fidelity      float64        `json:"fidelity"`
	LowFidelity   bool           `json:"low_fidelity,omitempty"`
	Expected      float64        `json:"expected"`
	Prediction    float64        `json:"prediction"`
}

// Explainer is the capability both strategies implement.
type Explainer interface {
	Explain(ctx context.Context, score scoring.MatchScore) (Explanation, error)
	Name() string
}

// New selects a strategy by configuration. An empty strategy selects the
// local surrogate. Zero-valued tuning fields fall back to the defaults
// the loader would have applied.
func New(cfg config.ExplainConfig, logger *zap.Logger) (Explainer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Samples <= 0 {
		cfg.Samples = 100
	}
	if cfg.KernelWidth <= 0 {
		cfg.KernelWidth = 0.25
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = 0.05
	}

	switch cfg.Strategy {
	case StrategyLocalSurrogate, "":
		return &localSurrogate{
			samples:     cfg.Samples,
			kernelWidth: cfg.KernelWidth,
			tolerance:   cfg.Tolerance,
			logger:      logger,
		}, nil
	case StrategyAdditiveDecomposition:
		return &additiveDecomposition{
			tolerance: cfg.Tolerance,
			logger:    logger,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, cfg.Strategy)
	}
}

// feature is a sub-score viewed as an explainable input dimension.
type feature struct {
	name   string
	value  float64
	weight float64
}

// featuresOf validates a score and extracts its feature vector.
func featuresOf(score scoring.MatchScore) ([]feature, error) {
	if score.CandidateID == "" || score.JobID == "" {
		return nil, fmt.Errorf("%w: missing candidate or job id", ErrInvalidScore)
	}
	if len(score.SubScores) == 0 {
		return nil, fmt.Errorf("%w: no sub-scores", ErrInvalidScore)
	}

	features := make([]feature, len(score.SubScores))
	var weightSum float64
	for i, sub := range score.SubScores {
		features[i] = feature{name: sub.Name, value: sub.Value, weight: sub.Weight}
		weightSum += sub.Weight
	}
	if weightSum <= 0 {
		return nil, fmt.Errorf("%w: sub-score weights sum to zero", ErrInvalidScore)
	}
	return features, nil
}

// blendAt evaluates the scoring blend at an arbitrary feature vector,
// holding the score's weight set fixed.
func blendAt(features []feature, values []float64) float64 {
	var weighted, weightSum float64
	for i, f := range features {
		weighted += f.weight * values[i]
		weightSum += f.weight
	}
	return weighted / weightSum
}

// scoreSeed derives the deterministic sampler seed from the score key.
func scoreSeed(score scoring.MatchScore) int64 {
	h := fnv.New64a()
	io.WriteString(h, score.CandidateID)
	h.Write([]byte{0})
	io.WriteString(h, score.JobID)
	return int64(h.Sum64())
}

// buildExplanation assembles the shared output contract: sorted
// contributions and the residual-driven low-fidelity flag.
func buildExplanation(strategy string, score scoring.MatchScore, features []feature, contributions []float64, fidelity, expected, tolerance float64) Explanation {
	out := Explanation{
		CandidateID: score.CandidateID,
		JobID:       score.JobID,
		Strategy:    strategy,
		Fidelity:    clamp01(fidelity),
		Expected:    expected,
		Prediction:  score.Overall,
	}

	var sum float64
	out.Contributions = asContributions(features, contributions)
	for _, c := range out.Contributions {
		sum += c.Contribution
	}

	sort.SliceStable(out.Contributions, func(i, j int) bool {
		ai := math.Abs(out.Contributions[i].Contribution)
		aj := math.Abs(out.Contributions[j].Contribution)
		if ai != aj {
			return ai > aj
		}
		return out.Contributions[i].Feature < out.Contributions[j].Feature
	})

	residual := math.Abs(score.Overall - expected - sum)
	limit := tolerance * math.Max(math.Abs(score.Overall), fidelityEpsilon)
	out.LowFidelity = residual > limit
	return out
}

func asContributions(features []feature, contributions []float64) []Contribution {
	out := make([]Contribution, len(features))
	for i, f := range features {
		out[i] = Contribution{
			Feature:      f.name,
			Value:        f.value,
			Weight:       f.weight,
			Contribution: contributions[i],
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
