package normalize

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestTaxonomy_BuiltinFolding(t *testing.T) {
	tax := NewTaxonomy(nil)

	tests := []struct {
		token string
		want  string
	}{
		{"django", "python"},
		{"Flask", "python"},
		{"python", "python"}, // head maps to itself
		{"mysql", "sql"},
		{"PostgreSQL", "sql"},
		{"gcp", "aws"},
		{"Cloud", "aws"},
		{"kubernetes", "docker"},
		{"TensorFlow", "machine learning"},
		{"deep  learning", "machine learning"}, // interior whitespace folded
		{"spark", "spark"},                     // unmapped passes through
		{"  Go  ", "go"},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			if got := tax.Canonical(tt.token); got != tt.want {
				t.Errorf("Canonical(%q) = %q, want %q", tt.token, got, tt.want)
			}
		})
	}
}

func TestTaxonomy_FoldAll(t *testing.T) {
	tax := NewTaxonomy(nil)

	got := tax.FoldAll([]string{"Django", "python", "MySQL", "sql", "", "  "})
	want := []string{"python", "sql"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FoldAll() = %v, want %v", got, want)
	}

	if tax.FoldAll(nil) != nil {
		t.Error("FoldAll(nil) should be nil")
	}
	if tax.FoldAll([]string{" ", ""}) != nil {
		t.Error("FoldAll of empty tokens should be nil")
	}
}

func TestTaxonomy_OverrideUnion(t *testing.T) {
	tax := NewTaxonomy([][]string{
		{"golang", "go"},
		{"python", "pandas"},  // extends an existing group by its head
		{"django", "celery"},  // head already folds to python; group attaches
		{"mysql", "mariadb"},  // head is a member of the sql group
	})

	tests := []struct {
		token string
		want  string
	}{
		{"go", "golang"},
		{"golang", "golang"},
		{"pandas", "python"},
		{"celery", "python"},
		{"mariadb", "sql"},
		{"django", "python"}, // builtin mapping untouched
	}

	for _, tt := range tests {
		if got := tax.Canonical(tt.token); got != tt.want {
			t.Errorf("Canonical(%q) = %q, want %q", tt.token, got, tt.want)
		}
	}
}

func TestLoadOverrides_Valid(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "taxonomy.toml")

	content := `[taxonomy]
groups = [
    ["golang", "go"],
    ["python", "pandas", "numpy"],
]
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	groups, err := LoadOverrides(path)
	if err != nil {
		t.Fatalf("LoadOverrides() error = %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	if groups[0][0] != "golang" || groups[1][2] != "numpy" {
		t.Errorf("groups not loaded in order: %v", groups)
	}
}

func TestLoadOverrides_MissingFileIgnored(t *testing.T) {
	groups, err := LoadOverrides(filepath.Join(t.TempDir(), "absent.toml"), "")
	if err != nil {
		t.Fatalf("LoadOverrides() error = %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("got %d groups, want 0", len(groups))
	}
}

func TestLoadOverrides_InvalidTOML(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "broken.toml")

	if err := os.WriteFile(path, []byte("[taxonomy\ngroups="), 0600); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	_, err := LoadOverrides(path)
	if err == nil {
		t.Fatal("expected error for invalid TOML")
	}
	if !errors.Is(err, ErrInvalidTaxonomy) {
		t.Errorf("error = %v, want ErrInvalidTaxonomy", err)
	}
}

func TestLoadOverrides_GroupTooSmall(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "small.toml")

	content := `[taxonomy]
groups = [["solo"]]
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	_, err := LoadOverrides(path)
	if !errors.Is(err, ErrInvalidTaxonomy) {
		t.Errorf("error = %v, want ErrInvalidTaxonomy", err)
	}
}

func TestLoadOverrides_MergesFilesInOrder(t *testing.T) {
	tmpDir := t.TempDir()
	project := filepath.Join(tmpDir, "project.toml")
	user := filepath.Join(tmpDir, "user.toml")

	if err := os.WriteFile(project, []byte("[taxonomy]\ngroups = [[\"golang\", \"go\"]]\n"), 0600); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	if err := os.WriteFile(user, []byte("[taxonomy]\ngroups = [[\"rust\", \"cargo\"]]\n"), 0600); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	groups, err := LoadOverrides(project, user)
	if err != nil {
		t.Fatalf("LoadOverrides() error = %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	if groups[0][0] != "golang" || groups[1][0] != "rust" {
		t.Errorf("merge order wrong: %v", groups)
	}
}
