package filenamequirks

import (
	"math/rand/v2"
	"strings"
	"testing"
	"unicode"

	"github.com/brainvol/segforge/internal/modality"
)

func hasNonASCIIOrPunct(s string) bool {
	for _, r := range s {
		if r > 127 || r == '\'' || r == '-' {
			return true
		}
	}
	return false
}

func TestStemFor_SpecialCharsEmbedsNonASCII(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 42))
	for i := 0; i < 10; i++ {
		stem := StemFor(modality.T1C, SpecialChars, rng)
		if !hasNonASCIIOrPunct(stem) {
			t.Errorf("expected special characters in %q", stem)
		}
		if !strings.Contains(stem, modality.T1C) {
			t.Errorf("expected tag %q preserved in %q", modality.T1C, stem)
		}
	}
}

func TestStemFor_LongStemStaysWithinLimit(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	stem := StemFor(modality.T2F, LongStem, rng)
	if len(stem) > maxStemLength {
		t.Errorf("expected stem <= %d chars, got %d", maxStemLength, len(stem))
	}
	if len(stem) < 20 {
		t.Errorf("expected a genuinely long stem, got %d chars: %q", len(stem), stem)
	}
}

func TestStemFor_MixedCaseResolvesSameAsLowercase(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	pt, err := modality.DefaultPatternTable()
	if err != nil {
		t.Fatalf("DefaultPatternTable: %v", err)
	}

	stem := StemFor(modality.T2W, MixedCase, rng)
	hasUpper, hasLower := false, false
	for _, r := range stem {
		if unicode.IsUpper(r) {
			hasUpper = true
		}
		if unicode.IsLower(r) {
			hasLower = true
		}
	}
	if !hasUpper || !hasLower {
		t.Errorf("expected mixed case in %q", stem)
	}

	report := modality.Resolve([]string{stem + ".nii.gz"}, pt)
	if report.Found[modality.T2W] != stem+".nii.gz" {
		t.Errorf("expected %q to classify as %s despite mixed case, report=%+v", stem, modality.T2W, report)
	}
}

func TestStemFor_AmbiguousSubstringDoesNotClassify(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 3))
	pt, err := modality.DefaultPatternTable()
	if err != nil {
		t.Fatalf("DefaultPatternTable: %v", err)
	}

	for _, tag := range modality.CanonicalOrder {
		stem := StemFor(tag, AmbiguousSubstring, rng)
		name := stem + ".nii.gz"
		report := modality.Resolve([]string{name}, pt)
		if _, ok := report.Found[tag]; ok {
			t.Errorf("expected %q to NOT classify as %s (no token boundary), report=%+v", name, tag, report)
		}
		if len(report.Unidentified) != 1 {
			t.Errorf("expected %q to be unidentified, report=%+v", name, report)
		}
	}
}

func TestCollisionPair_SharesDeclaredName(t *testing.T) {
	a, b := CollisionPair("t1n", ".nii.gz")
	if a != b {
		t.Errorf("expected identical declared names, got %q and %q", a, b)
	}
}

func TestApplicator_ShouldApply(t *testing.T) {
	config := Config{Percentage: 50, Types: []QuirkType{SpecialChars}}
	rng := rand.New(rand.NewPCG(42, 42))
	app := NewApplicator(config, rng)

	applied := 0
	for i := 0; i < 200; i++ {
		if app.ShouldApply() {
			applied++
		}
	}
	if applied < 70 || applied > 130 {
		t.Errorf("expected roughly half of 200 draws to apply, got %d", applied)
	}
}

func TestApplicator_StemFor_NotEnabledLeavesTagUnchanged(t *testing.T) {
	config := Config{Percentage: 0, Types: []QuirkType{SpecialChars}}
	rng := rand.New(rand.NewPCG(1, 1))
	app := NewApplicator(config, rng)

	if got := app.StemFor(modality.T1N); got != modality.T1N {
		t.Errorf("expected unchanged tag %q, got %q", modality.T1N, got)
	}
}
