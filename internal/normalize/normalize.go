// Package normalize converts raw, field-extracted candidate and job records
// into canonical attribute sets.
//
// Canonicalization makes downstream overlap computation order- and
// case-insensitive: skill tokens are trimmed, lower-cased, whitespace-folded,
// folded through a synonym taxonomy, de-duplicated, and sorted. Education is
// parsed from free-form degree text onto an ordinal scale. Experience is taken
// from an explicit total or summed from non-overlapping spans.
package normalize

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

// ErrValidation indicates a malformed input record. Fatal to that record;
// batch callers log and skip, they do not retry.
var ErrValidation = errors.New("validation failed")

// EntityKind distinguishes the two sides of a match.
type EntityKind string

const (
	KindCandidate EntityKind = "candidate"
	KindJob       EntityKind = "job"
)

// Valid reports whether k is a known entity kind.
func (k EntityKind) Valid() bool {
	return k == KindCandidate || k == KindJob
}

// Opposite returns the other side of a match. Candidates search jobs and
// jobs search candidates.
func (k EntityKind) Opposite() EntityKind {
	if k == KindCandidate {
		return KindJob
	}
	return KindCandidate
}

// RawRecord is a field-extracted record before canonicalization. Upstream
// document extraction is assumed to have already produced structured fields.
type RawRecord struct {
	ID              string
	Skills          []string
	Summary         string
	Keywords        []string
	Education       string // free-form degree text ("MSc Computer Science")
	ExperienceYears float64
	Experience      []RawExperience
	ExperienceMin   float64 // jobs: required range lower bound (0 = none)
	ExperienceMax   float64 // jobs: required range upper bound (0 = open)
	City            string
	Region          string
	Country         string
	RemoteOK        bool
	SourceRef       string
}

// RawExperience is one work-history span. A zero End means the role is
// current.
type RawExperience struct {
	Title string
	Start time.Time
	End   time.Time
}

// AttributeSet is the canonical form of an entity. Slices are owned by the
// set and never shared with the input record.
type AttributeSet struct {
	ID              string
	Kind            EntityKind
	Skills          []string // canonical, sorted
	Experience      []ExperienceSpan
	ExperienceYears float64
	ExperienceMin   float64 // jobs only
	ExperienceMax   float64 // jobs only
	Education       EducationLevel
	Location        Location
	Summary         string
	Keywords        []string // canonical, sorted
	SourceRef       string
}

// ExperienceSpan is a canonicalized work-history span.
type ExperienceSpan struct {
	Title string
	Start time.Time
	End   time.Time
	Years float64
}

// Location holds canonicalized (lower-cased) location fields.
type Location struct {
	City     string
	Region   string
	Country  string
	RemoteOK bool
}

// Normalizer canonicalizes raw records. Safe for concurrent use; the
// taxonomy table is swapped atomically on override reload.
type Normalizer struct {
	taxonomy atomic.Pointer[Taxonomy]
	now      func() time.Time
}

// New creates a Normalizer. A nil taxonomy uses the built-in groups.
func New(taxonomy *Taxonomy) *Normalizer {
	if taxonomy == nil {
		taxonomy = NewTaxonomy(nil)
	}
	n := &Normalizer{now: time.Now}
	n.taxonomy.Store(taxonomy)
	return n
}

// SetTaxonomy atomically replaces the synonym table. In-flight Normalize
// calls keep the table they started with.
func (n *Normalizer) SetTaxonomy(t *Taxonomy) {
	if t != nil {
		n.taxonomy.Store(t)
	}
}

// Taxonomy returns the current synonym table.
func (n *Normalizer) Taxonomy() *Taxonomy {
	return n.taxonomy.Load()
}

// Normalize converts a raw record into a canonical attribute set.
//
// Returns ErrValidation when the identifier is missing, when both skills and
// summary are absent, or when numeric fields are out of range. Normalize does
// not mutate the input record.
func (n *Normalizer) Normalize(raw RawRecord, kind EntityKind) (*AttributeSet, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown entity kind %q", ErrValidation, kind)
	}

	id := strings.TrimSpace(raw.ID)
	if id == "" {
		return nil, fmt.Errorf("%w: record has no identifier", ErrValidation)
	}

	summary := strings.TrimSpace(raw.Summary)
	skills := n.Taxonomy().FoldAll(raw.Skills)
	if len(skills) == 0 && summary == "" {
		return nil, fmt.Errorf("%w: record %q has neither skills nor summary", ErrValidation, id)
	}

	if raw.ExperienceYears < 0 {
		return nil, fmt.Errorf("%w: record %q has negative experience years", ErrValidation, id)
	}
	if raw.ExperienceMin < 0 || raw.ExperienceMax < 0 {
		return nil, fmt.Errorf("%w: record %q has negative experience bounds", ErrValidation, id)
	}
	if raw.ExperienceMax > 0 && raw.ExperienceMin > raw.ExperienceMax {
		return nil, fmt.Errorf("%w: record %q experience range inverted (%.1f > %.1f)",
			ErrValidation, id, raw.ExperienceMin, raw.ExperienceMax)
	}

	spans, err := n.canonicalSpans(id, raw.Experience)
	if err != nil {
		return nil, err
	}

	years := raw.ExperienceYears
	if years == 0 {
		years = totalYears(spans)
	}

	return &AttributeSet{
		ID:              id,
		Kind:            kind,
		Skills:          skills,
		Experience:      spans,
		ExperienceYears: years,
		ExperienceMin:   raw.ExperienceMin,
		ExperienceMax:   raw.ExperienceMax,
		Education:       ParseEducationLevel(raw.Education),
		Location: Location{
			City:     canonicalToken(raw.City),
			Region:   canonicalToken(raw.Region),
			Country:  canonicalToken(raw.Country),
			RemoteOK: raw.RemoteOK,
		},
		Summary:   summary,
		Keywords:  canonicalTokens(raw.Keywords),
		SourceRef: raw.SourceRef,
	}, nil
}

// canonicalSpans validates and copies work-history spans. A zero End is
// clamped to the current time.
func (n *Normalizer) canonicalSpans(id string, raw []RawExperience) ([]ExperienceSpan, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	now := n.now()
	spans := make([]ExperienceSpan, 0, len(raw))
	for _, r := range raw {
		if r.Start.IsZero() {
			return nil, fmt.Errorf("%w: record %q has experience span without start date", ErrValidation, id)
		}
		end := r.End
		if end.IsZero() {
			end = now
		}
		if end.Before(r.Start) {
			return nil, fmt.Errorf("%w: record %q has experience span ending before it starts", ErrValidation, id)
		}
		spans = append(spans, ExperienceSpan{
			Title: strings.TrimSpace(r.Title),
			Start: r.Start,
			End:   end,
			Years: end.Sub(r.Start).Hours() / hoursPerYear,
		})
	}

	sort.Slice(spans, func(i, j int) bool {
		if !spans[i].Start.Equal(spans[j].Start) {
			return spans[i].Start.Before(spans[j].Start)
		}
		return spans[i].End.Before(spans[j].End)
	})

	return spans, nil
}

const hoursPerYear = 24 * 365.25

// totalYears sums span durations after merging overlaps, so concurrent
// roles are not double-counted. Spans must be sorted by start time.
func totalYears(spans []ExperienceSpan) float64 {
	if len(spans) == 0 {
		return 0
	}

	var total float64
	curStart, curEnd := spans[0].Start, spans[0].End
	for _, s := range spans[1:] {
		if s.Start.After(curEnd) {
			total += curEnd.Sub(curStart).Hours()
			curStart, curEnd = s.Start, s.End
			continue
		}
		if s.End.After(curEnd) {
			curEnd = s.End
		}
	}
	total += curEnd.Sub(curStart).Hours()

	return total / hoursPerYear
}

// canonicalToken trims, lower-cases, and collapses interior whitespace.
func canonicalToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	return strings.Join(strings.Fields(s), " ")
}

// canonicalTokens canonicalizes, de-duplicates, and sorts a token list
// without synonym folding.
func canonicalTokens(tokens []string) []string {
	if len(tokens) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		tok := canonicalToken(t)
		if tok == "" {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	if len(out) == 0 {
		return nil
	}

	sort.Strings(out)
	return out
}
