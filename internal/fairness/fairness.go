// Package fairness audits score batches for selection-rate disparity
// across a grouping attribute.
//
// The auditor applies the four-fifths rule: the lowest group selection
// rate divided by the highest must stay above the configured disparity
// threshold. Groups below the minimum sample size suppress the ratio
// entirely rather than report a misleading one. Reports are snapshots:
// the auditor copies its inputs, never mutates scores, and a report is
// immutable once returned.
package fairness

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/matchd/internal/config"
	"github.com/fyrsmithlabs/matchd/internal/scoring"
)

// UnspecifiedGroup collects candidates with no group label so they are
// counted rather than dropped.
const UnspecifiedGroup = "unspecified"

// Status classifies a fairness report.
type Status string

const (
	StatusOK               Status = "ok"
	StatusViolation        Status = "violation"
	StatusInsufficientData Status = "insufficient_data"
)

// GroupStats aggregates one group's outcomes within a batch.
type GroupStats struct {
	Group         string  `json:"group"`
	Size          int     `json:"size"`
	Selected      int     `json:"selected"`
	SelectionRate float64 `json:"selection_rate"`
	MeanScore     float64 `json:"mean_score"`
	StdDev        float64 `json:"std_dev"`
}

// Violation names the group pair whose selection rates breached the
// disparity threshold.
type Violation struct {
	Kind      string  `json:"kind"`
	LowGroup  string  `json:"low_group"`
	HighGroup string  `json:"high_group"`
	Ratio     float64 `json:"ratio"`
	Threshold float64 `json:"threshold"`
}

// ViolationSelectionRate is the only violation kind currently emitted.
const ViolationSelectionRate = "selection_rate_disparity"

// Report is the immutable outcome of one fairness audit. DisparityRatio
// is nil when any group is below the minimum sample size.
type Report struct {
	BatchID        string       `json:"batch_id"`
	Attribute      string       `json:"attribute"`
	Groups         []GroupStats `json:"groups"`
	DisparityRatio *float64     `json:"disparity_ratio,omitempty"`
	Status         Status       `json:"status"`
	Violations     []Violation  `json:"violations,omitempty"`
	ScoreGap       float64      `json:"score_gap"`
	Findings       []string     `json:"findings,omitempty"`
	GeneratedAt    time.Time    `json:"generated_at"`
}

// Auditor runs fairness audits. Safe for concurrent use.
type Auditor struct {
	cfg    config.FairnessConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewAuditor creates an auditor. Zero-valued thresholds fall back to the
// defaults the loader would have applied: selection 0.7, disparity 0.8
// (four-fifths rule), minimum group sample 30.
func NewAuditor(cfg config.FairnessConfig, logger *zap.Logger) *Auditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SelectionThreshold <= 0 {
		cfg.SelectionThreshold = 0.7
	}
	if cfg.DisparityThreshold <= 0 {
		cfg.DisparityThreshold = 0.8
	}
	if cfg.MinGroupSample <= 0 {
		cfg.MinGroupSample = 30
	}
	return &Auditor{cfg: cfg, logger: logger, now: time.Now}
}

// Audit evaluates one scored batch against the grouping attribute.
// groups maps candidate id to group value; unlabeled candidates land in
// the unspecified group. batchID may be empty, in which case one is
// generated.
func (a *Auditor) Audit(ctx context.Context, batchID, attribute string, batch []scoring.MatchScore, groups map[string]string) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}
	if batchID == "" {
		batchID = uuid.NewString()
	}

	// Work on a snapshot so a caller mutating the batch mid-audit
	// cannot skew the report.
	snapshot := make([]scoring.MatchScore, len(batch))
	copy(snapshot, batch)

	report := Report{
		BatchID:     batchID,
		Attribute:   attribute,
		Status:      StatusOK,
		GeneratedAt: a.now().UTC(),
	}

	if len(snapshot) == 0 {
		report.Status = StatusInsufficientData
		report.Findings = append(report.Findings, "batch contains no scores")
		return report, nil
	}

	byGroup := make(map[string][]float64)
	for _, score := range snapshot {
		group, ok := groups[score.CandidateID]
		if !ok || group == "" {
			group = UnspecifiedGroup
		}
		byGroup[group] = append(byGroup[group], score.Overall)
	}

	names := make([]string, 0, len(byGroup))
	for name := range byGroup {
		names = append(names, name)
	}
	sort.Strings(names)

	undersized := false
	for _, name := range names {
		stats := summarize(name, byGroup[name], a.cfg.SelectionThreshold)
		report.Groups = append(report.Groups, stats)
		if stats.Size < a.cfg.MinGroupSample {
			undersized = true
			report.Findings = append(report.Findings,
				fmt.Sprintf("group %q has %d candidates, below the minimum sample of %d", name, stats.Size, a.cfg.MinGroupSample))
		}
	}

	lowMean, highMean := report.Groups[0], report.Groups[0]
	for _, g := range report.Groups[1:] {
		if g.MeanScore < lowMean.MeanScore {
			lowMean = g
		}
		if g.MeanScore > highMean.MeanScore {
			highMean = g
		}
	}
	report.ScoreGap = highMean.MeanScore - lowMean.MeanScore

	if undersized {
		// No ratio over undersized groups.
		report.Status = StatusInsufficientData
		return report, nil
	}

	low, high := report.Groups[0], report.Groups[0]
	for _, g := range report.Groups[1:] {
		if g.SelectionRate < low.SelectionRate {
			low = g
		}
		if g.SelectionRate > high.SelectionRate {
			high = g
		}
	}

	ratio := 1.0
	if high.SelectionRate > 0 {
		ratio = low.SelectionRate / high.SelectionRate
	} else {
		report.Findings = append(report.Findings, "no candidates selected in any group")
	}
	report.DisparityRatio = &ratio

	if ratio < a.cfg.DisparityThreshold {
		report.Status = StatusViolation
		report.Violations = append(report.Violations, Violation{
			Kind:      ViolationSelectionRate,
			LowGroup:  low.Group,
			HighGroup: high.Group,
			Ratio:     ratio,
			Threshold: a.cfg.DisparityThreshold,
		})
		report.Findings = append(report.Findings,
			fmt.Sprintf("selection rate for group %q (%.2f) is %.0f%% of group %q (%.2f), below the threshold of %.2f",
				low.Group, low.SelectionRate, ratio*100, high.Group, high.SelectionRate, a.cfg.DisparityThreshold))

		a.logger.Warn("fairness violation detected",
			zap.String("batch_id", batchID),
			zap.String("attribute", attribute),
			zap.String("low_group", low.Group),
			zap.String("high_group", high.Group),
			zap.Float64("ratio", ratio))
	}

	return report, nil
}

// summarize computes one group's stats. Standard deviation is the
// population form.
func summarize(name string, overalls []float64, selectionThreshold float64) GroupStats {
	stats := GroupStats{Group: name, Size: len(overalls)}

	var sum float64
	for _, v := range overalls {
		if v >= selectionThreshold {
			stats.Selected++
		}
		sum += v
	}
	stats.SelectionRate = float64(stats.Selected) / float64(stats.Size)
	stats.MeanScore = sum / float64(stats.Size)

	var variance float64
	for _, v := range overalls {
		d := v - stats.MeanScore
		variance += d * d
	}
	stats.StdDev = math.Sqrt(variance / float64(stats.Size))

	return stats
}
