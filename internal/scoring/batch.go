package scoring

import (
	"context"
	"runtime"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/matchd/internal/normalize"
)

// BatchCandidate pairs a candidate with its semantic similarity to the
// job being scored.
type BatchCandidate struct {
	Attrs    *normalize.AttributeSet
	Semantic float64
}

// Exclusion records a candidate that could not be scored and why.
type Exclusion struct {
	CandidateID string `json:"candidate_id"`
	Reason      string `json:"reason"`
}

// BatchResult holds the scores of a batch in input order plus the
// candidates that were excluded.
type BatchResult struct {
	Scores     []MatchScore `json:"scores"`
	Exclusions []Exclusion  `json:"exclusions,omitempty"`
}

// ScoreBatch scores every candidate against one job concurrently.
// Weights are resolved and validated once; an invalid set fails the whole
// batch. Per-candidate failures become exclusions and never abort the
// rest. Scores come back in input order, unranked.
func (s *Scorer) ScoreBatch(ctx context.Context, job *normalize.AttributeSet, candidates []BatchCandidate, weights Weights) (BatchResult, error) {
	if job == nil || job.Kind != normalize.KindJob {
		return BatchResult{}, ErrInvalidEntity
	}

	effective := s.effectiveWeights(weights)
	if err := effective.Validate(); err != nil {
		return BatchResult{}, err
	}

	parallelism := s.config.BatchParallelism
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}

	scores := make([]*MatchScore, len(candidates))
	exclusions := make([]*Exclusion, len(candidates))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, candidate := range candidates {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			score, err := s.Score(ctx, candidate.Attrs, job, candidate.Semantic, effective)
			if err != nil {
				id := ""
				if candidate.Attrs != nil {
					id = candidate.Attrs.ID
				}
				exclusions[i] = &Exclusion{CandidateID: id, Reason: err.Error()}
				return nil
			}
			scores[i] = &score
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BatchResult{}, err
	}

	result := BatchResult{Scores: make([]MatchScore, 0, len(candidates))}
	for i := range candidates {
		if scores[i] != nil {
			result.Scores = append(result.Scores, *scores[i])
		}
		if exclusions[i] != nil {
			result.Exclusions = append(result.Exclusions, *exclusions[i])
		}
	}

	s.logger.Debug("batch scored",
		zap.String("job_id", job.ID),
		zap.Int("candidates", len(candidates)),
		zap.Int("scored", len(result.Scores)),
		zap.Int("excluded", len(result.Exclusions)))

	return result, nil
}

// Rank sorts scores in place into a total order: overall descending,
// then skill overlap descending, then candidate ID ascending. The final
// ID comparison makes equal inputs produce identical rankings on every
// run.
func Rank(scores []MatchScore) {
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Overall != scores[j].Overall {
			return scores[i].Overall > scores[j].Overall
		}
		si, _ := scores[i].SubScore(SubscoreSkillOverlap)
		sj, _ := scores[j].SubScore(SubscoreSkillOverlap)
		if si != sj {
			return si > sj
		}
		return scores[i].CandidateID < scores[j].CandidateID
	})
}
