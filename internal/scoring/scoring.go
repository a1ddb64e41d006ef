// Package scoring combines semantic similarity and rule-based sub-scores
// into one weighted match score per candidate-job pair.
//
// Scoring is pure: the same entities, semantic similarity, and weights
// always produce bit-identical sub-scores and overall value, so re-scoring
// is idempotent and rankings are reproducible. Sub-scores live in [0,1];
// the overall score is the weight-normalized sum of the enabled
// sub-scores.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/matchd/internal/config"
	"github.com/fyrsmithlabs/matchd/internal/normalize"
)

var (
	// ErrInvalidWeight indicates a negative, unknown, or all-zero weight set
	ErrInvalidWeight = errors.New("invalid weight configuration")

	// ErrInvalidEntity indicates the wrong entity kind on either side
	ErrInvalidEntity = errors.New("invalid entity for scoring")
)

// Sub-score names. Weights are keyed by these.
const (
	SubscoreSemantic      = "semantic"
	SubscoreSkillOverlap  = "skill_overlap"
	SubscoreExperienceFit = "experience_fit"
	SubscoreEducationFit  = "education_fit"
	SubscoreLocationFit   = "location_fit"
	SubscoreKeywordMatch  = "keyword_match"
)

// subscoreOrder fixes the order sub-scores appear in a MatchScore.
var subscoreOrder = []string{
	SubscoreSemantic,
	SubscoreSkillOverlap,
	SubscoreExperienceFit,
	SubscoreEducationFit,
	SubscoreLocationFit,
	SubscoreKeywordMatch,
}

// Weights maps sub-score names to non-negative weights.
type Weights map[string]float64

// DefaultWeights returns the production default weight set. Location fit
// is excluded by default; enable it by assigning it a weight.
func DefaultWeights() Weights {
	return Weights{
		SubscoreSkillOverlap:  0.35,
		SubscoreExperienceFit: 0.25,
		SubscoreEducationFit:  0.15,
		SubscoreSemantic:      0.20,
		SubscoreKeywordMatch:  0.05,
	}
}

// Validate reports whether the weight set can produce a score. A weight
// set never falls back silently: unknown names, negative or non-finite
// values, and an all-zero sum are errors.
func (w Weights) Validate() error {
	if len(w) == 0 {
		return fmt.Errorf("%w: empty weight set", ErrInvalidWeight)
	}
	var sum float64
	for name, weight := range w {
		if !knownSubscore(name) {
			return fmt.Errorf("%w: unknown sub-score %q", ErrInvalidWeight, name)
		}
		if weight < 0 {
			return fmt.Errorf("%w: %s is negative (%g)", ErrInvalidWeight, name, weight)
		}
		if math.IsNaN(weight) || math.IsInf(weight, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrInvalidWeight, name)
		}
		sum += weight
	}
	if sum == 0 {
		return fmt.Errorf("%w: weights sum to zero", ErrInvalidWeight)
	}
	return nil
}

// Version returns a deterministic tag for the weight set, stamped on
// every MatchScore so stored scores can be traced to the weights that
// produced them.
func (w Weights) Version() string {
	names := make([]string, 0, len(w))
	for name := range w {
		names = append(names, name)
	}
	sort.Strings(names)

	h := fnv.New64a()
	for _, name := range names {
		fmt.Fprintf(h, "%s=%g;", name, w[name])
	}
	return fmt.Sprintf("w-%016x", h.Sum64())
}

func knownSubscore(name string) bool {
	for _, known := range subscoreOrder {
		if name == known {
			return true
		}
	}
	return false
}

// SubScore is one named component of a match score.
type SubScore struct {
	Name   string  `json:"name"`
	Value  float64 `json:"value"`
	Weight float64 `json:"weight"`
}

// MatchScore is the scored pairing of one candidate and one job.
// SubScores holds the enabled sub-scores in a fixed order.
type MatchScore struct {
	CandidateID    string     `json:"candidate_id"`
	JobID          string     `json:"job_id"`
	Overall        float64    `json:"overall"`
	SubScores      []SubScore `json:"sub_scores"`
	ModelVersion   string     `json:"model_version,omitempty"`
	WeightsVersion string     `json:"weights_version"`
	ComputedAt     time.Time  `json:"computed_at"`
}

// SubScore returns the value of the named sub-score.
func (m MatchScore) SubScore(name string) (float64, bool) {
	for _, s := range m.SubScores {
		if s.Name == name {
			return s.Value, true
		}
	}
	return 0, false
}

// Level buckets the overall score.
func (m MatchScore) Level() Level {
	return LevelOf(m.Overall)
}

// Level is a categorical reading of an overall score.
type Level string

const (
	LevelExcellent  Level = "excellent"
	LevelGood       Level = "good"
	LevelFair       Level = "fair"
	LevelPoor       Level = "poor"
	LevelUnsuitable Level = "unsuitable"
)

// LevelOf converts a numeric overall score to a level.
func LevelOf(score float64) Level {
	switch {
	case score >= 0.85:
		return LevelExcellent
	case score >= 0.70:
		return LevelGood
	case score >= 0.50:
		return LevelFair
	case score >= 0.30:
		return LevelPoor
	default:
		return LevelUnsuitable
	}
}

// Scorer computes match scores. Safe for concurrent use; it holds no
// per-call state.
type Scorer struct {
	config config.ScoringConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewScorer creates a scorer. Configured weights are validated eagerly
// so a bad deployment fails at startup, not per request.
func NewScorer(cfg config.ScoringConfig, logger *zap.Logger) (*Scorer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Weights) > 0 {
		if err := Weights(cfg.Weights).Validate(); err != nil {
			return nil, fmt.Errorf("configured weights: %w", err)
		}
	}
	return &Scorer{
		config: cfg,
		logger: logger,
		now:    time.Now,
	}, nil
}

// effectiveWeights resolves the weight set for a call: explicit weights
// win, then configured weights, then the defaults.
func (s *Scorer) effectiveWeights(weights Weights) Weights {
	if len(weights) > 0 {
		return weights
	}
	if len(s.config.Weights) > 0 {
		return Weights(s.config.Weights)
	}
	return DefaultWeights()
}

// Score computes the match score for one candidate-job pair. semantic is
// the cosine similarity from the index in [-1,1]; it is rescaled to [0,1]
// before weighting. A nil or empty weights map selects the configured or
// default weights; an invalid weight set is ErrInvalidWeight.
func (s *Scorer) Score(ctx context.Context, candidate, job *normalize.AttributeSet, semantic float64, weights Weights) (MatchScore, error) {
	if candidate == nil || candidate.Kind != normalize.KindCandidate {
		return MatchScore{}, fmt.Errorf("%w: left side must be a candidate", ErrInvalidEntity)
	}
	if job == nil || job.Kind != normalize.KindJob {
		return MatchScore{}, fmt.Errorf("%w: right side must be a job", ErrInvalidEntity)
	}

	effective := s.effectiveWeights(weights)
	if err := effective.Validate(); err != nil {
		return MatchScore{}, err
	}

	values := map[string]float64{
		SubscoreSemantic:      semanticScore(semantic),
		SubscoreSkillOverlap:  skillOverlap(candidate.Skills, job.Skills),
		SubscoreExperienceFit: experienceFit(candidate.ExperienceYears, job.ExperienceMin, job.ExperienceMax, s.config.ExperienceToleranceYears),
		SubscoreEducationFit:  educationFit(candidate.Education, job.Education),
		SubscoreLocationFit:   locationFit(candidate.Location, job.Location, s.config.RemoteCredit),
		SubscoreKeywordMatch:  keywordMatch(candidate, job),
	}

	var weighted, weightSum float64
	subScores := make([]SubScore, 0, len(effective))
	for _, name := range subscoreOrder {
		weight, enabled := effective[name]
		if !enabled {
			continue
		}
		value := values[name]
		subScores = append(subScores, SubScore{Name: name, Value: value, Weight: weight})
		weighted += weight * value
		weightSum += weight
	}

	return MatchScore{
		CandidateID:    candidate.ID,
		JobID:          job.ID,
		Overall:        weighted / weightSum,
		SubScores:      subScores,
		WeightsVersion: effective.Version(),
		ComputedAt:     s.now().UTC(),
	}, nil
}

// semanticScore rescales cosine similarity from [-1,1] to [0,1].
func semanticScore(cosine float64) float64 {
	return clamp01((cosine + 1) / 2)
}

// skillOverlap is the fraction of the job's required skills the candidate
// has. A job listing no skills imposes no constraint. Both slices are
// canonical and sorted, so the intersection walks them once.
func skillOverlap(candidate, required []string) float64 {
	if len(required) == 0 {
		return 1
	}
	matched := 0
	i, j := 0, 0
	for i < len(candidate) && j < len(required) {
		switch {
		case candidate[i] == required[j]:
			matched++
			i++
			j++
		case candidate[i] < required[j]:
			i++
		default:
			j++
		}
	}
	return float64(matched) / float64(len(required))
}

// experienceFit saturates at 1 inside the job's required range and decays
// linearly outside it, reaching 0 at the configured tolerance. A zero max
// leaves the range open-ended upward; a non-positive tolerance makes the
// range a hard cutoff.
func experienceFit(years, requiredMin, requiredMax, tolerance float64) float64 {
	if requiredMin <= 0 && requiredMax <= 0 {
		return 1
	}

	var gap float64
	switch {
	case years < requiredMin:
		gap = requiredMin - years
	case requiredMax > 0 && years > requiredMax:
		gap = years - requiredMax
	default:
		return 1
	}

	if tolerance <= 0 {
		return 0
	}
	return clamp01(1 - gap/tolerance)
}

// educationFit compares ordinal education levels. Meeting or exceeding
// the requirement is a full match; below it, credit is proportional.
func educationFit(candidate, required normalize.EducationLevel) float64 {
	if required == normalize.EducationUnknown {
		return 1
	}
	if candidate >= required {
		return 1
	}
	return float64(candidate) / float64(required)
}

// locationFit gives full credit for an exact city or region match,
// partial credit when the job is remote-eligible, and zero otherwise.
// A job without any location requirement constrains nobody.
func locationFit(candidate, job normalize.Location, remoteCredit float64) float64 {
	if job.City == "" && job.Region == "" {
		return 1
	}
	if job.City != "" && candidate.City == job.City {
		return 1
	}
	if job.Region != "" && candidate.Region == job.Region {
		return 1
	}
	if job.RemoteOK {
		return clamp01(remoteCredit)
	}
	return 0
}

// keywordMatch is the fraction of the job's keywords present in the
// candidate's summary or keyword set. A job listing no keywords imposes
// no constraint.
func keywordMatch(candidate, job *normalize.AttributeSet) float64 {
	if len(job.Keywords) == 0 {
		return 1
	}

	haystack := strings.ToLower(candidate.Summary)
	if len(candidate.Keywords) > 0 {
		haystack += " " + strings.Join(candidate.Keywords, " ")
	}

	matched := 0
	for _, keyword := range job.Keywords {
		if strings.Contains(haystack, keyword) {
			matched++
		}
	}
	return float64(matched) / float64(len(job.Keywords))
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
