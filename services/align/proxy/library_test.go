// Copyright (C) 2026 MacroLens AI (oss@macrolens.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package proxy

import (
	"math"
	"strings"
	"testing"

	"github.com/MacroLensAI/MacroLens/services/align/catalog"
	"github.com/MacroLensAI/MacroLens/services/align/config"
)

// =============================================================================
// Composite Formulas
// =============================================================================

func TestSynthesizeCompositeBlendsByWeight(t *testing.T) {
	lib := NewLibrary(nil)
	p, ok := lib.Synthesize(config.Default(), "mixed_greens", 18.5, catalog.Pool{})
	if !ok {
		t.Fatal("expected a synthesized proxy")
	}

	// 70% lettuce at 15 kcal plus 30% spinach at 23 kcal.
	if math.Abs(p.Macros.Kcal-17.4) > 0.01 {
		t.Fatalf("blended kcal = %v, want 17.4", p.Macros.Kcal)
	}
	if !strings.Contains(p.Formula, "70% green leaf lettuce") || !strings.Contains(p.Formula, "30% spinach") {
		t.Fatalf("formula text = %q", p.Formula)
	}
	if len(p.SourceNames) != 2 {
		t.Fatalf("source names = %v", p.SourceNames)
	}
	if p.Class != "mixed_greens" {
		t.Fatalf("class = %q", p.Class)
	}
}

func TestSynthesizeRejectsNonWhitelistedClass(t *testing.T) {
	lib := NewLibrary(nil)
	if _, ok := lib.Synthesize(config.Default(), "unicorn", 100, catalog.Pool{}); ok {
		t.Fatal("non-whitelisted class must not synthesize")
	}
}

func TestSynthesizeRejectsEnergyOutsideTolerance(t *testing.T) {
	lib := NewLibrary(nil)
	// The blend lands at 17.4 kcal; a 100 kcal prediction is 82.6% off,
	// far past the 35% class tolerance.
	if _, ok := lib.Synthesize(config.Default(), "mixed_greens", 100, catalog.Pool{}); ok {
		t.Fatal("proxy outside the energy tolerance must be rejected")
	}
}

func TestSynthesizeZeroPredictionSkipsValidation(t *testing.T) {
	lib := NewLibrary(nil)
	if _, ok := lib.Synthesize(config.Default(), "mixed_greens", 0, catalog.Pool{}); !ok {
		t.Fatal("zero prediction must disable energy validation")
	}
}

// =============================================================================
// Lookup Formulas
// =============================================================================

func TestSynthesizeLookupFindsCousinInPool(t *testing.T) {
	lib := NewLibrary(nil)
	pool := catalog.Pool{
		Raw: []catalog.Entry{
			{
				ID: "mg1", Name: "Mixed salad greens, raw",
				Provenance: catalog.ProvenanceRawReference,
				Form:       "raw",
				Macros:     catalog.Macros{ProteinG: 1.5, CarbsG: 2.9, FatG: 0.2, Kcal: 17},
			},
		},
	}

	p, ok := lib.Synthesize(config.Default(), "spring_mix", 18.5, pool)
	if !ok {
		t.Fatal("expected lookup to find the cousin entry")
	}
	if p.Macros.Kcal != 17 {
		t.Fatalf("kcal = %v, want 17", p.Macros.Kcal)
	}
	if len(p.SourceNames) != 1 || p.SourceNames[0] != "Mixed salad greens, raw" {
		t.Fatalf("source names = %v", p.SourceNames)
	}
}

func TestSynthesizeLookupFailsOnEmptyPool(t *testing.T) {
	lib := NewLibrary(nil)
	if _, ok := lib.Synthesize(config.Default(), "spring_mix", 18.5, catalog.Pool{}); ok {
		t.Fatal("lookup without a matching pool entry must fail")
	}
}

// =============================================================================
// Defaults Formulas
// =============================================================================

func TestSynthesizeDefaultsProfile(t *testing.T) {
	lib := NewLibrary(nil)
	p, ok := lib.Synthesize(config.Default(), "coleslaw", 0, catalog.Pool{})
	if !ok {
		t.Fatal("expected the fixed defaults profile")
	}
	if p.Macros.Kcal != 141 {
		t.Fatalf("kcal = %v, want 141", p.Macros.Kcal)
	}
}

// =============================================================================
// Whitelist Listing
// =============================================================================

func TestWhitelistedIsSortedAndComplete(t *testing.T) {
	lib := NewLibrary(nil)
	classes := lib.Whitelisted(config.Default())

	if len(classes) != 5 {
		t.Fatalf("whitelist size = %d, want 5", len(classes))
	}
	for i := 1; i < len(classes); i++ {
		if classes[i-1] >= classes[i] {
			t.Fatalf("whitelist not sorted: %v", classes)
		}
	}
}
