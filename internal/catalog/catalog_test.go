package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"posecall/internal/domain"
)

func TestDefaultCatalogOrderAndContent(t *testing.T) {
	t.Parallel()

	c := Default()
	all := c.All()
	if len(all) != 8 {
		t.Fatalf("expected 8 poses, got %d", len(all))
	}
	if all[0].DisplayLabel != "Downward-Facing Dog" {
		t.Fatalf("unexpected first pose: %+v", all[0])
	}
	if all[1].DisplayLabel != "Warrior I" || all[1].ImageKey != "warrior-one-pose" {
		t.Fatalf("unexpected second pose: %+v", all[1])
	}
	if got := all[5].MatchPhrases; len(got) != 2 || got[1] != "child's pose" {
		t.Fatalf("unexpected child's pose phrases: %v", got)
	}
}

func TestAllReturnsCopies(t *testing.T) {
	t.Parallel()

	c := Default()
	all := c.All()
	all[0].MatchPhrases[0] = "mutated"
	all[0].DisplayLabel = "mutated"

	again := c.All()
	if again[0].MatchPhrases[0] != "downward dog" || again[0].DisplayLabel != "Downward-Facing Dog" {
		t.Fatalf("catalog was mutated through All: %+v", again[0])
	}
}

func TestExamples(t *testing.T) {
	t.Parallel()

	c := Default()
	got := c.Examples(4)
	want := []string{"Downward-Facing Dog", "Warrior I", "Tree Pose", "Triangle Pose"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected examples: %v", got)
	}
	if got := c.Examples(100); len(got) != c.Len() {
		t.Fatalf("expected examples capped at catalog size, got %d", len(got))
	}
	if got := c.Examples(-1); len(got) != 0 {
		t.Fatalf("expected no examples, got %v", got)
	}
}

func TestPhrases(t *testing.T) {
	t.Parallel()

	got := Default().Phrases()
	if len(got) < 3 || got[0] != "downward dog" || got[1] != "downward facing dog" || got[2] != "down dog" {
		t.Fatalf("unexpected phrase order: %v", got)
	}
	seen := map[string]bool{}
	for _, phrase := range got {
		if seen[phrase] {
			t.Fatalf("duplicate phrase %q", phrase)
		}
		seen[phrase] = true
	}
	if !seen["tree pose"] || !seen["child's pose"] {
		t.Fatalf("expected catalog phrases, got %v", got)
	}
}

func TestLookup(t *testing.T) {
	t.Parallel()

	c := Default()
	pose, ok := c.Lookup("tree")
	if !ok || pose.DisplayLabel != "Tree Pose" {
		t.Fatalf("unexpected lookup result: %+v %v", pose, ok)
	}
	if _, ok := c.Lookup("missing"); ok {
		t.Fatalf("expected missing pose lookup to fail")
	}
}

func TestNewNormalizesPhrases(t *testing.T) {
	t.Parallel()

	c, err := New([]domain.PoseEntry{{
		ID:           " boat ",
		DisplayLabel: "Boat Pose",
		ImageKey:     "boat",
		MatchPhrases: []string{"  Boat Pose ", "NAVASANA"},
	}})
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	pose := c.All()[0]
	if pose.ID != "boat" || pose.MatchPhrases[0] != "boat pose" || pose.MatchPhrases[1] != "navasana" {
		t.Fatalf("unexpected normalized pose: %+v", pose)
	}
}

func TestNewRejectsInvalidEntries(t *testing.T) {
	t.Parallel()

	cases := map[string][]domain.PoseEntry{
		"empty catalog":    nil,
		"missing id":       {{DisplayLabel: "A", MatchPhrases: []string{"a"}}},
		"missing label":    {{ID: "a", MatchPhrases: []string{"a"}}},
		"no phrases":       {{ID: "a", DisplayLabel: "A"}},
		"blank phrase":     {{ID: "a", DisplayLabel: "A", MatchPhrases: []string{"  "}}},
		"duplicate phrase": {{ID: "a", DisplayLabel: "A", MatchPhrases: []string{"a pose", "A Pose"}}},
		"duplicate id": {
			{ID: "a", DisplayLabel: "A", MatchPhrases: []string{"a"}},
			{ID: "a", DisplayLabel: "B", MatchPhrases: []string{"b"}},
		},
	}

	for name, entries := range cases {
		name := name
		entries := entries
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := New(entries); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestNewAllowsDuplicateLabels(t *testing.T) {
	t.Parallel()

	_, err := New([]domain.PoseEntry{
		{ID: "a", DisplayLabel: "Same", MatchPhrases: []string{"a"}},
		{ID: "b", DisplayLabel: "Same", MatchPhrases: []string{"b"}},
	})
	if err != nil {
		t.Fatalf("expected duplicate labels to be accepted: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "poses.yaml")
	doc := `
poses:
  - id: plank
    label: Plank
    image: plank-pose
    phrases: [plank]
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if c.Len() != 1 || c.All()[0].ImageKey != "plank-pose" {
		t.Fatalf("unexpected catalog: %+v", c.All())
	}
}

func TestLoadEmptyPathUsesDefault(t *testing.T) {
	t.Parallel()

	c, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if c.Len() != Default().Len() {
		t.Fatalf("expected default catalog")
	}
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("expected missing file error")
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("poses: [\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := Load(bad); err == nil {
		t.Fatalf("expected parse error")
	}
}
