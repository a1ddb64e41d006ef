package embedding

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/fyrsmithlabs/matchd/internal/normalize"
)

// Chunker splits an entity's summary into embedding-sized chunks.
// Splitting is deterministic: the same text with the same size and
// overlap always yields the same boundaries, so re-embedding an
// unchanged entity reproduces its vectors exactly.
type Chunker struct {
	splitter textsplitter.RecursiveCharacter
}

// NewChunker creates a chunker with the given chunk size and overlap
// (both in characters).
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 512
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = 0
	}
	return &Chunker{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
		),
	}
}

// Chunks returns the texts to embed for an entity. An empty summary
// falls back to a single synthetic chunk built from the structured
// attributes, so every entity yields at least one chunk.
func (c *Chunker) Chunks(attrs *normalize.AttributeSet) ([]string, error) {
	text := strings.TrimSpace(attrs.Summary)
	if text == "" {
		text = syntheticSummary(attrs)
	}

	parts, err := c.splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("splitting summary for %q: %w", attrs.ID, err)
	}
	if len(parts) == 0 {
		parts = []string{text}
	}
	return parts, nil
}

// syntheticSummary builds stand-in text for entities without prose.
func syntheticSummary(attrs *normalize.AttributeSet) string {
	if len(attrs.Skills) > 0 {
		return strings.Join(attrs.Skills, ", ")
	}
	if len(attrs.Keywords) > 0 {
		return strings.Join(attrs.Keywords, ", ")
	}
	return attrs.ID
}
