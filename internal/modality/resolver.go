// Package modality classifies the volume files in a study folder into
// the four canonical MRI modalities the preprocessing pipeline expects.
package modality

import (
	_ "embed"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Canonical modality tags, also the fixed channel-stacking order for
// the preprocessing pipeline.
const (
	T1N = "t1n"
	T1C = "t1c"
	T2W = "t2w"
	T2F = "t2f"
)

// CanonicalOrder is the fixed channel order the preprocess pipeline stacks in.
var CanonicalOrder = []string{T1N, T1C, T2W, T2F}

//go:embed patterns.yaml
var defaultPatternsYAML []byte

// PatternTable maps a modality tag to its ordered list of compiled
// matchers. Modality iteration order (not just pattern order within a
// modality) matters for first-match-wins: more specific modalities
// (t1c, t2f) are listed ahead of their generic siblings (t1n, t2w).
type PatternTable struct {
	order    []string
	patterns map[string][]*regexp.Regexp
}

// DefaultPatternTable parses the embedded default pattern set.
func DefaultPatternTable() (*PatternTable, error) {
	return LoadPatternTable(defaultPatternsYAML)
}

// patternEntry mirrors one element of the pattern table YAML document.
type patternEntry struct {
	Tag      string   `yaml:"tag"`
	Patterns []string `yaml:"patterns"`
}

// LoadPatternTable parses a YAML document of the same shape as the
// embedded default, letting deployments override the pattern set via
// internal/config. The document is a list, so modality order is
// preserved exactly as written.
func LoadPatternTable(doc []byte) (*PatternTable, error) {
	var entries []patternEntry
	if err := yaml.Unmarshal(doc, &entries); err != nil {
		return nil, fmt.Errorf("modality: parse pattern table: %w", err)
	}

	pt := &PatternTable{patterns: make(map[string][]*regexp.Regexp)}
	for _, entry := range entries {
		compiled := make([]*regexp.Regexp, 0, len(entry.Patterns))
		for _, s := range entry.Patterns {
			re, err := regexp.Compile(`(^|[_.\-])(` + s + `)([_.\-]|$)`)
			if err != nil {
				return nil, fmt.Errorf("modality: compile pattern %q for %s: %w", s, entry.Tag, err)
			}
			compiled = append(compiled, re)
		}
		pt.order = append(pt.order, entry.Tag)
		pt.patterns[entry.Tag] = compiled
	}
	return pt, nil
}

// Mapping is the found modality -> filename assignment for one study.
type Mapping map[string]string

// ValidationReport is the outcome of resolving a study folder's files
// against the pattern table.
type ValidationReport struct {
	Found             Mapping
	Missing           []string
	Unidentified      []string
	DuplicateModality []string
	InferenceEligible bool
}

// Resolve classifies the files in names (already filtered to volume
// files by the caller) against pt, in sorted order for determinism.
func Resolve(names []string, pt *PatternTable) ValidationReport {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	found := make(Mapping)
	var unidentified []string
	var duplicates []string
	claimedBy := make(map[string]string) // modality -> first filename that claimed it

	for _, name := range sorted {
		stem := strings.ToLower(strings.TrimSuffix(filepath.Base(name), filepath.Ext(name)))
		if strings.HasSuffix(strings.ToLower(name), ".nii.gz") {
			stem = strings.TrimSuffix(stem, ".nii")
		}

		tag, ok := classify(stem, pt)
		if !ok {
			unidentified = append(unidentified, name)
			continue
		}
		if prev, already := claimedBy[tag]; already {
			duplicates = append(duplicates, tag)
			_ = prev
			continue
		}
		claimedBy[tag] = name
		found[tag] = name
	}

	var missing []string
	for _, tag := range CanonicalOrder {
		if _, ok := found[tag]; !ok {
			missing = append(missing, tag)
		}
	}

	eligible := len(missing) == 0 && len(duplicates) == 0
	return ValidationReport{
		Found:             found,
		Missing:           missing,
		Unidentified:      unidentified,
		DuplicateModality: duplicates,
		InferenceEligible: eligible,
	}
}

func classify(stem string, pt *PatternTable) (string, bool) {
	for _, tag := range pt.order {
		for _, re := range pt.patterns[tag] {
			if re.MatchString(stem) {
				return tag, true
			}
		}
	}
	return "", false
}
