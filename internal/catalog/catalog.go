package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"posecall/internal/domain"
)

//go:embed poses.yaml
var defaultDocument []byte

// Catalog is the ordered, read-only table of known poses.
type Catalog struct {
	entries []domain.PoseEntry
	byID    map[string]int
}

type document struct {
	Poses []domain.PoseEntry `yaml:"poses"`
}

// Default returns the built-in pose catalog.
func Default() *Catalog {
	c, err := Parse(defaultDocument)
	if err != nil {
		panic(fmt.Sprintf("built-in pose catalog is invalid: %v", err))
	}
	return c
}

// Load reads a catalog document from path. An empty path yields the built-in catalog.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file %q: %w", path, err)
	}
	c, err := Parse(contents)
	if err != nil {
		return nil, fmt.Errorf("failed to parse catalog file %q: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates a YAML catalog document.
func Parse(contents []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(contents, &doc); err != nil {
		return nil, err
	}
	return New(doc.Poses)
}

// New validates entries and builds a catalog that keeps their order.
// Phrases are lower-cased and trimmed.
func New(entries []domain.PoseEntry) (*Catalog, error) {
	if len(entries) == 0 {
		return nil, errors.New("catalog has no poses")
	}

	c := &Catalog{
		entries: make([]domain.PoseEntry, 0, len(entries)),
		byID:    make(map[string]int, len(entries)),
	}
	for index, entry := range entries {
		normalized, err := normalizeEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("pose %d (%q): %w", index+1, entry.ID, err)
		}
		if _, exists := c.byID[normalized.ID]; exists {
			return nil, fmt.Errorf("pose %d: duplicate id %q", index+1, normalized.ID)
		}
		c.byID[normalized.ID] = len(c.entries)
		c.entries = append(c.entries, normalized)
	}
	return c, nil
}

func normalizeEntry(entry domain.PoseEntry) (domain.PoseEntry, error) {
	out := domain.PoseEntry{
		ID:           strings.TrimSpace(entry.ID),
		DisplayLabel: strings.TrimSpace(entry.DisplayLabel),
		ImageKey:     strings.TrimSpace(entry.ImageKey),
	}
	if out.ID == "" {
		return domain.PoseEntry{}, errors.New("id is required")
	}
	if out.DisplayLabel == "" {
		return domain.PoseEntry{}, errors.New("label is required")
	}
	if len(entry.MatchPhrases) == 0 {
		return domain.PoseEntry{}, errors.New("at least one phrase is required")
	}

	seen := make(map[string]struct{}, len(entry.MatchPhrases))
	out.MatchPhrases = make([]string, 0, len(entry.MatchPhrases))
	for _, phrase := range entry.MatchPhrases {
		p := strings.ToLower(strings.TrimSpace(phrase))
		if p == "" {
			return domain.PoseEntry{}, errors.New("phrases cannot be blank")
		}
		if _, dup := seen[p]; dup {
			return domain.PoseEntry{}, fmt.Errorf("duplicate phrase %q", p)
		}
		seen[p] = struct{}{}
		out.MatchPhrases = append(out.MatchPhrases, p)
	}
	return out, nil
}

// All returns the poses in declaration order.
func (c *Catalog) All() []domain.PoseEntry {
	out := make([]domain.PoseEntry, len(c.entries))
	for i, entry := range c.entries {
		out[i] = clonePose(entry)
	}
	return out
}

// Len returns the number of poses.
func (c *Catalog) Len() int { return len(c.entries) }

// Lookup finds a pose by id.
func (c *Catalog) Lookup(id string) (domain.PoseEntry, bool) {
	index, ok := c.byID[id]
	if !ok {
		return domain.PoseEntry{}, false
	}
	return clonePose(c.entries[index]), true
}

// Examples returns up to n display labels, first declared first.
func (c *Catalog) Examples(n int) []string {
	if n > len(c.entries) {
		n = len(c.entries)
	}
	if n < 0 {
		n = 0
	}
	labels := make([]string, 0, n)
	for _, entry := range c.entries[:n] {
		labels = append(labels, entry.DisplayLabel)
	}
	return labels
}

// Phrases returns every match phrase once, in declaration order.
func (c *Catalog) Phrases() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, entry := range c.entries {
		for _, phrase := range entry.MatchPhrases {
			if _, ok := seen[phrase]; ok {
				continue
			}
			seen[phrase] = struct{}{}
			out = append(out, phrase)
		}
	}
	return out
}

func clonePose(entry domain.PoseEntry) domain.PoseEntry {
	entry.MatchPhrases = append([]string(nil), entry.MatchPhrases...)
	return entry
}
