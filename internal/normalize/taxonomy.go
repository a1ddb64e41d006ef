package normalize

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/BurntSushi/toml"
)

var (
	// ErrInvalidTaxonomy indicates a taxonomy override file could not be
	// parsed or contains a malformed group.
	ErrInvalidTaxonomy = errors.New("invalid taxonomy override")
)

// builtinGroups are the default skill synonym groups. The first token of
// each group is the canonical head every member folds to.
var builtinGroups = [][]string{
	{"python", "django", "flask", "fastapi"},
	{"javascript", "typescript", "node.js", "react", "angular", "vue"},
	{"java", "spring", "hibernate", "kotlin"},
	{"c#", ".net", "asp.net"},
	{"sql", "mysql", "postgresql", "oracle"},
	{"aws", "gcp", "azure", "cloud"},
	{"docker", "kubernetes", "containerization"},
	{"machine learning", "deep learning", "tensorflow", "pytorch"},
}

// Taxonomy folds skill tokens onto canonical heads so that related skills
// compare equal downstream. Immutable after construction; hot reload builds
// a new table and swaps it on the Normalizer.
type Taxonomy struct {
	canonical map[string]string
}

// NewTaxonomy builds a synonym table from the built-in groups plus the given
// overrides, merged by union: a token already mapped keeps its head, and an
// override group whose head is already known attaches to the existing group.
func NewTaxonomy(overrides [][]string) *Taxonomy {
	t := &Taxonomy{canonical: make(map[string]string, 64)}
	for _, g := range builtinGroups {
		t.addGroup(g)
	}
	for _, g := range overrides {
		t.addGroup(g)
	}
	return t
}

func (t *Taxonomy) addGroup(group []string) {
	if len(group) == 0 {
		return
	}

	head := canonicalToken(group[0])
	if head == "" {
		return
	}
	if existing, ok := t.canonical[head]; ok {
		head = existing
	}

	for _, tok := range group {
		tok = canonicalToken(tok)
		if tok == "" {
			continue
		}
		if _, ok := t.canonical[tok]; !ok {
			t.canonical[tok] = head
		}
	}
}

// Canonical returns the canonical form of a single skill token: trimmed,
// lower-cased, whitespace-folded, then synonym-folded onto its group head.
func (t *Taxonomy) Canonical(token string) string {
	tok := canonicalToken(token)
	if head, ok := t.canonical[tok]; ok {
		return head
	}
	return tok
}

// FoldAll canonicalizes a skill list: every token folded via Canonical,
// empties dropped, duplicates removed, result sorted.
func (t *Taxonomy) FoldAll(tokens []string) []string {
	if len(tokens) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, raw := range tokens {
		tok := t.Canonical(raw)
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

// Size returns the number of tokens with a synonym mapping.
func (t *Taxonomy) Size() int {
	return len(t.canonical)
}

// LoadOverrides loads and merges taxonomy override files using union logic.
// Missing files are silently ignored; invalid TOML or malformed groups
// return an error. Files are merged in argument order.
//
// Override file format:
//
//	[taxonomy]
//	groups = [
//	    ["golang", "go"],
//	    ["python", "pandas", "numpy"],
//	]
func LoadOverrides(paths ...string) ([][]string, error) {
	var merged [][]string

	for _, path := range paths {
		if path == "" {
			continue
		}
		groups, err := loadOverrideFile(path)
		if err != nil {
			// Only fail if the file exists but is invalid
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		merged = append(merged, groups...)
	}

	return merged, nil
}

// loadOverrideFile parses and validates a single override file.
func loadOverrideFile(path string) ([][]string, error) {
	var doc struct {
		Taxonomy struct {
			Groups [][]string `toml:"groups"`
		} `toml:"taxonomy"`
	}

	if _, err := os.Stat(path); err != nil {
		return nil, err // os.IsNotExist can identify this
	}

	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTaxonomy, path, err)
	}

	// Validate groups (fail-fast)
	for i, group := range doc.Taxonomy.Groups {
		nonEmpty := 0
		for _, tok := range group {
			if canonicalToken(tok) != "" {
				nonEmpty++
			}
		}
		if nonEmpty < 2 {
			return nil, fmt.Errorf("%w: group %d in %s needs at least two tokens",
				ErrInvalidTaxonomy, i, path)
		}
	}

	return doc.Taxonomy.Groups, nil
}
