// Package match wires the scoring pipeline end to end: canonicalize a
// raw record, embed it, index the vector, score candidates against
// jobs, explain the results, and leave an audit trail for every
// decision.
//
// The Service is the single entry point the HTTP API and the corpus
// refresh workflow build on. It holds no locks of its own; the
// repository, index, and audit log each serialize internally, so no
// lock is ever held across an embedding or index call.
package match

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/matchd/internal/audit"
	"github.com/fyrsmithlabs/matchd/internal/config"
	"github.com/fyrsmithlabs/matchd/internal/embedding"
	"github.com/fyrsmithlabs/matchd/internal/explain"
	"github.com/fyrsmithlabs/matchd/internal/fairness"
	"github.com/fyrsmithlabs/matchd/internal/index"
	"github.com/fyrsmithlabs/matchd/internal/normalize"
	"github.com/fyrsmithlabs/matchd/internal/scoring"
)

var (
	// ErrNotFound indicates an entity id with no stored attribute set.
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidRequest indicates a request that fails validation.
	ErrInvalidRequest = errors.New("invalid match request")
)

// DefaultTopK is the ranking depth used when a request leaves k unset.
const DefaultTopK = 10

// systemActor marks entries the engine writes on its own behalf.
var systemActor = audit.Actor{ID: "matchd", Type: audit.ActorSystem}

// Options configures the match service with its collaborators.
type Options struct {
	Repository Repository
	Normalizer *normalize.Normalizer
	Embedder   *embedding.Engine
	Index      index.Index
	Scorer     *scoring.Scorer
	Auditor    *fairness.Auditor
	Audit      *audit.Log

	// Explain selects the default explanation strategy and its
	// parameters. Requests may override the strategy per call.
	Explain config.ExplainConfig

	Logger *zap.Logger
}

// Service orchestrates matching, ranking, explanation, and auditing.
type Service struct {
	repo       Repository
	normalizer *normalize.Normalizer
	embedder   *embedding.Engine
	index      index.Index
	scorer     *scoring.Scorer
	auditor    *fairness.Auditor
	audit      *audit.Log
	explainer  explain.Explainer
	explainCfg config.ExplainConfig
	logger     *zap.Logger
}

// NewService creates the match service. All collaborators except the
// logger are required.
func NewService(opts Options) (*Service, error) {
	if opts.Repository == nil {
		return nil, fmt.Errorf("repository cannot be nil")
	}
	if opts.Normalizer == nil {
		return nil, fmt.Errorf("normalizer cannot be nil")
	}
	if opts.Embedder == nil {
		return nil, fmt.Errorf("embedder cannot be nil")
	}
	if opts.Index == nil {
		return nil, fmt.Errorf("index cannot be nil")
	}
	if opts.Scorer == nil {
		return nil, fmt.Errorf("scorer cannot be nil")
	}
	if opts.Auditor == nil {
		return nil, fmt.Errorf("fairness auditor cannot be nil")
	}
	if opts.Audit == nil {
		return nil, fmt.Errorf("audit log cannot be nil")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	explainer, err := explain.New(opts.Explain, logger)
	if err != nil {
		return nil, fmt.Errorf("building explainer: %w", err)
	}

	return &Service{
		repo:       opts.Repository,
		normalizer: opts.Normalizer,
		embedder:   opts.Embedder,
		index:      opts.Index,
		scorer:     opts.Scorer,
		auditor:    opts.Auditor,
		audit:      opts.Audit,
		explainer:  explainer,
		explainCfg: opts.Explain,
		logger:     logger,
	}, nil
}

// IndexCandidate canonicalizes, stores, embeds, and indexes one raw
// candidate record, then records a candidate_added audit entry.
func (s *Service) IndexCandidate(ctx context.Context, raw normalize.RawRecord) (*normalize.AttributeSet, error) {
	return s.indexEntity(ctx, raw, normalize.KindCandidate, audit.ActionCandidateAdded)
}

// IndexJob canonicalizes, stores, embeds, and indexes one raw job
// record, then records a job_created audit entry.
func (s *Service) IndexJob(ctx context.Context, raw normalize.RawRecord) (*normalize.AttributeSet, error) {
	return s.indexEntity(ctx, raw, normalize.KindJob, audit.ActionJobCreated)
}

func (s *Service) indexEntity(ctx context.Context, raw normalize.RawRecord, kind normalize.EntityKind, action audit.Action) (*normalize.AttributeSet, error) {
	attrs, err := s.normalizer.Normalize(raw, kind)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Put(ctx, attrs); err != nil {
		return nil, fmt.Errorf("storing %s %q: %w", kind, attrs.ID, err)
	}

	_, err = s.embedder.EmbedAndStore(ctx, attrs, s.index)
	if errors.Is(err, index.ErrIndexInconsistent) {
		// A concurrent write committed a newer version first. Re-embed
		// at a fresh version so this record's latest state wins.
		s.logger.Warn("index version conflict, re-embedding",
			zap.String("kind", string(kind)),
			zap.String("entity_id", attrs.ID))
		_, err = s.embedder.EmbedAndStore(ctx, attrs, s.index)
	}
	if err != nil {
		return nil, err
	}

	if _, err := s.audit.Append(ctx, audit.Entry{
		Action:   action,
		Actor:    systemActor,
		EntityID: attrs.ID,
		Detail:   fmt.Sprintf("indexed with %d skills, %.1f years experience", len(attrs.Skills), attrs.ExperienceYears),
	}); err != nil {
		return nil, fmt.Errorf("recording %s: %w", action, err)
	}

	s.logger.Info("entity indexed",
		zap.String("kind", string(kind)),
		zap.String("entity_id", attrs.ID),
		zap.Int("skills", len(attrs.Skills)))
	return attrs, nil
}

// MatchRequest asks for the top candidates for one job. A zero K ranks
// DefaultTopK candidates; empty Weights use the configured defaults.
type MatchRequest struct {
	JobID   string
	K       int
	Weights scoring.Weights
}

// MatchResult is a ranked batch with its exclusions.
type MatchResult struct {
	JobID      string               `json:"job_id"`
	Scores     []scoring.MatchScore `json:"scores"`
	Exclusions []scoring.Exclusion  `json:"exclusions,omitempty"`
}

// MatchCandidates retrieves the k candidates nearest the job's vector,
// scores them as one batch, ranks the results, and records a
// candidate_ranked audit entry for the batch. Candidates that cannot
// be scored are excluded and reported, never scored zero.
func (s *Service) MatchCandidates(ctx context.Context, req MatchRequest) (*MatchResult, error) {
	if req.JobID == "" {
		return nil, fmt.Errorf("%w: job id is required", ErrInvalidRequest)
	}
	k := req.K
	if k <= 0 {
		k = DefaultTopK
	}

	job, err := s.repo.Get(ctx, normalize.KindJob, req.JobID)
	if err != nil {
		return nil, err
	}
	query, err := s.index.Vector(ctx, index.Ref{Kind: normalize.KindJob, ID: req.JobID})
	if err != nil {
		return nil, fmt.Errorf("loading job vector: %w", err)
	}
	neighbors, err := s.index.TopK(ctx, normalize.KindCandidate, query, k)
	if err != nil {
		return nil, fmt.Errorf("querying candidate index: %w", err)
	}

	batch := make([]scoring.BatchCandidate, 0, len(neighbors))
	var exclusions []scoring.Exclusion
	for _, n := range neighbors {
		attrs, err := s.repo.Get(ctx, normalize.KindCandidate, n.ID)
		if err != nil {
			// Indexed but not stored: the index entry is stale.
			s.logger.Warn("indexed candidate missing from repository",
				zap.String("candidate_id", n.ID),
				zap.Error(err))
			exclusions = append(exclusions, scoring.Exclusion{
				CandidateID: n.ID,
				Reason:      "indexed but not in repository",
			})
			continue
		}
		batch = append(batch, scoring.BatchCandidate{Attrs: attrs, Semantic: n.Similarity})
	}

	result, err := s.scorer.ScoreBatch(ctx, job, batch, req.Weights)
	if err != nil {
		return nil, err
	}
	scoring.Rank(result.Scores)
	exclusions = append(exclusions, result.Exclusions...)

	if _, err := s.audit.Append(ctx, audit.Entry{
		Action:   audit.ActionCandidateRanked,
		Actor:    systemActor,
		EntityID: req.JobID,
		Detail:   fmt.Sprintf("ranked %d of %d retrieved candidates (%d excluded)", len(result.Scores), len(neighbors), len(exclusions)),
	}); err != nil {
		return nil, fmt.Errorf("recording ranking: %w", err)
	}

	s.logger.Info("candidates ranked",
		zap.String("job_id", req.JobID),
		zap.Int("requested", k),
		zap.Int("scored", len(result.Scores)),
		zap.Int("excluded", len(exclusions)))

	return &MatchResult{
		JobID:      req.JobID,
		Scores:     result.Scores,
		Exclusions: exclusions,
	}, nil
}

// ScorePair scores one candidate against one job using the indexed
// vectors for the semantic component, and records a candidate_scored
// audit entry carrying the full score.
func (s *Service) ScorePair(ctx context.Context, candidateID, jobID string, weights scoring.Weights) (*scoring.MatchScore, error) {
	score, err := s.scorePair(ctx, candidateID, jobID, weights)
	if err != nil {
		return nil, err
	}

	if _, err := s.audit.Append(ctx, audit.Entry{
		Action: audit.ActionCandidateScored,
		Actor:  systemActor,
		Score:  score,
		Detail: fmt.Sprintf("scored %.2f (%s) for job %q", score.Overall, score.Level(), jobID),
	}); err != nil {
		return nil, fmt.Errorf("recording score: %w", err)
	}
	return score, nil
}

func (s *Service) scorePair(ctx context.Context, candidateID, jobID string, weights scoring.Weights) (*scoring.MatchScore, error) {
	if candidateID == "" || jobID == "" {
		return nil, fmt.Errorf("%w: candidate and job ids are required", ErrInvalidRequest)
	}

	candidate, err := s.repo.Get(ctx, normalize.KindCandidate, candidateID)
	if err != nil {
		return nil, err
	}
	job, err := s.repo.Get(ctx, normalize.KindJob, jobID)
	if err != nil {
		return nil, err
	}

	semantic, err := s.index.Similarity(ctx,
		index.Ref{Kind: normalize.KindCandidate, ID: candidateID},
		index.Ref{Kind: normalize.KindJob, ID: jobID},
	)
	if err != nil {
		return nil, fmt.Errorf("computing semantic similarity: %w", err)
	}

	score, err := s.scorer.Score(ctx, candidate, job, semantic, weights)
	if err != nil {
		return nil, err
	}
	return &score, nil
}

// Explained pairs a match score with its explanation.
type Explained struct {
	Score       scoring.MatchScore  `json:"score"`
	Explanation explain.Explanation `json:"explanation"`
}

// ExplainPair recomputes the score for a pair at the configured weights
// and explains it. An empty strategy uses the configured default. The
// explained decision is recorded as a candidate_scored entry carrying
// both score and explanation.
func (s *Service) ExplainPair(ctx context.Context, candidateID, jobID, strategy string) (*Explained, error) {
	score, err := s.scorePair(ctx, candidateID, jobID, nil)
	if err != nil {
		return nil, err
	}

	explainer, err := s.explainerFor(strategy)
	if err != nil {
		return nil, err
	}
	explanation, err := explainer.Explain(ctx, *score)
	if err != nil {
		return nil, fmt.Errorf("explaining %q against %q: %w", candidateID, jobID, err)
	}

	if _, err := s.audit.Append(ctx, audit.Entry{
		Action:      audit.ActionCandidateScored,
		Actor:       systemActor,
		Score:       score,
		Explanation: &explanation,
		Detail:      fmt.Sprintf("scored %.2f (%s) for job %q, explained via %s", score.Overall, score.Level(), jobID, explanation.Strategy),
	}); err != nil {
		return nil, fmt.Errorf("recording explained score: %w", err)
	}

	return &Explained{Score: *score, Explanation: explanation}, nil
}

// explainerFor returns the default explainer, or a one-off built for a
// per-request strategy override.
func (s *Service) explainerFor(strategy string) (explain.Explainer, error) {
	if strategy == "" || strategy == s.explainer.Name() {
		return s.explainer, nil
	}
	cfg := s.explainCfg
	cfg.Strategy = strategy
	return explain.New(cfg, s.logger)
}

// AuditBatch runs a fairness audit over a scored batch and records a
// report_generated entry. A violation additionally writes a
// bias_detected entry carrying the findings.
func (s *Service) AuditBatch(ctx context.Context, batchID, attribute string, scores []scoring.MatchScore, groups map[string]string) (*fairness.Report, error) {
	report, err := s.auditor.Audit(ctx, batchID, attribute, scores, groups)
	if err != nil {
		return nil, err
	}

	if _, err := s.audit.Append(ctx, audit.Entry{
		Action:   audit.ActionReportGenerated,
		Actor:    systemActor,
		ReportID: report.BatchID,
		Detail:   fmt.Sprintf("fairness report over %q: %s", attribute, report.Status),
	}); err != nil {
		return nil, fmt.Errorf("recording fairness report: %w", err)
	}

	if report.Status == fairness.StatusViolation {
		if _, err := s.audit.Append(ctx, audit.Entry{
			Action:   audit.ActionBiasDetected,
			Actor:    systemActor,
			ReportID: report.BatchID,
			Detail:   strings.Join(report.Findings, "; "),
		}); err != nil {
			return nil, fmt.Errorf("recording bias detection: %w", err)
		}
	}

	return &report, nil
}

// AuditEntries replays verified audit entries starting at fromSeq.
func (s *Service) AuditEntries(ctx context.Context, fromSeq uint64) ([]audit.Entry, error) {
	return s.audit.Entries(ctx, fromSeq)
}

// ListEntities returns the stored entity ids of one kind, sorted.
func (s *Service) ListEntities(ctx context.Context, kind normalize.EntityKind) ([]string, error) {
	return s.repo.List(ctx, kind)
}

// RefreshEmbedding re-embeds one stored entity and replaces its index
// entry at a fresh version. Used by the corpus refresh workflow after a
// model change.
func (s *Service) RefreshEmbedding(ctx context.Context, kind normalize.EntityKind, id string) error {
	attrs, err := s.repo.Get(ctx, kind, id)
	if err != nil {
		return err
	}
	if _, err := s.embedder.EmbedAndStore(ctx, attrs, s.index); err != nil {
		return fmt.Errorf("refreshing %s %q: %w", kind, id, err)
	}
	return nil
}

// IndexedCount returns the number of indexed entities of one kind.
func (s *Service) IndexedCount(ctx context.Context, kind normalize.EntityKind) (int, error) {
	return s.index.Count(ctx, kind)
}

// Close releases the embedding provider, the index backend, and the
// audit log.
func (s *Service) Close() error {
	return errors.Join(
		s.embedder.Close(),
		s.index.Close(),
		s.audit.Close(),
	)
}
