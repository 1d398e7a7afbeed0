// Copyright (C) 2026 MacroLens AI (oss@macrolens.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gates

import (
	"testing"

	"github.com/MacroLensAI/MacroLens/services/align/catalog"
	"github.com/MacroLensAI/MacroLens/services/align/config"
	"github.com/MacroLensAI/MacroLens/services/align/taxonomy"
)

func applyOne(t *testing.T, feats taxonomy.Features, predictedKcal float64, e catalog.Entry) Outcome {
	t.Helper()
	return NewChain(nil).Apply(config.Default(), feats, predictedKcal, []catalog.Entry{e})
}

func requireRejected(t *testing.T, out Outcome, want Gate) {
	t.Helper()
	if len(out.Passed) != 0 || len(out.Rejections) != 1 {
		t.Fatalf("expected one rejection, got passed=%d rejections=%d", len(out.Passed), len(out.Rejections))
	}
	if got := out.Rejections[0].Gate; got != want {
		t.Fatalf("rejected by %s, want %s (%s)", got, want, out.Rejections[0].Detail)
	}
}

func requirePassed(t *testing.T, out Outcome) {
	t.Helper()
	if len(out.Passed) != 1 {
		t.Fatalf("expected candidate to pass, rejections: %v", out.Rejections)
	}
}

// =============================================================================
// Whole-Food and Processing Gates
// =============================================================================

func TestWholeFoodClassRejectsMilledForms(t *testing.T) {
	feats := taxonomy.Features{CoreClass: "corn_kernel", Category: "vegetable", Tokens: []string{"corn"}}
	e := catalog.Entry{
		ID: "flour1", Name: "Corn flour, whole grain",
		Provenance: catalog.ProvenanceCommercial,
		Macros:     catalog.Macros{ProteinG: 7, CarbsG: 77, FatG: 4, Kcal: 361},
	}
	requireRejected(t, applyOne(t, feats, 0, e), GateWholeFoodIngredientBan)
}

func TestProcessingMismatchRejectsUnrequestedBreading(t *testing.T) {
	feats := taxonomy.Features{CoreClass: "chicken_breast", Category: "meat", Tokens: []string{"chicken", "breast"}}
	e := catalog.Entry{
		ID: "nug1", Name: "Breaded chicken nuggets",
		Provenance: catalog.ProvenanceCommercial,
		Macros:     catalog.Macros{ProteinG: 14, CarbsG: 15, FatG: 18, Kcal: 280},
	}
	requireRejected(t, applyOne(t, feats, 0, e), GateProcessingMismatch)
}

func TestProcessingTokenAllowedWhenQueryAsksForIt(t *testing.T) {
	feats := taxonomy.Features{CoreClass: taxonomy.ClassNone, Tokens: []string{"fish", "nuggets"}}
	e := catalog.Entry{
		ID: "nug2", Name: "Fish nuggets, frozen",
		Provenance: catalog.ProvenanceCommercial,
		Macros:     catalog.Macros{ProteinG: 11, CarbsG: 16, FatG: 12, Kcal: 216},
	}
	requirePassed(t, applyOne(t, feats, 0, e))
}

// =============================================================================
// Negative Vocabulary
// =============================================================================

func TestNegativeVocabularyRejectsSpeciesSubstitute(t *testing.T) {
	feats := taxonomy.Features{CoreClass: "bacon", Category: "meat", Tokens: []string{"bacon"}}
	e := catalog.Entry{
		ID: "tb1", Name: "Turkey bacon strips, cooked",
		Provenance: catalog.ProvenanceCookedReference,
		Macros:     catalog.Macros{ProteinG: 30, CarbsG: 3, FatG: 35, Kcal: 450},
	}
	requireRejected(t, applyOne(t, feats, 0, e), GateNegativeVocabulary)
}

func TestExplicitSpeciesModifierOverridesDenyList(t *testing.T) {
	feats := taxonomy.Features{
		CoreClass:     "bacon",
		Category:      "meat",
		Tokens:        []string{"turkey", "bacon"},
		SpeciesTokens: []string{"turkey"},
	}
	e := catalog.Entry{
		ID: "tb2", Name: "Turkey bacon strips, cooked",
		Provenance: catalog.ProvenanceCookedReference,
		Macros:     catalog.Macros{ProteinG: 30, CarbsG: 3, FatG: 35, Kcal: 450},
	}
	requirePassed(t, applyOne(t, feats, 0, e))
}

// =============================================================================
// Macro Plausibility
// =============================================================================

func TestMeatProteinFloorRejectsFillerProducts(t *testing.T) {
	feats := taxonomy.Features{CoreClass: "chicken_breast", Category: "meat", Tokens: []string{"chicken", "breast"}}
	e := catalog.Entry{
		ID: "fill1", Name: "Chicken breast patty blend",
		Provenance: catalog.ProvenanceCommercial,
		Macros:     catalog.Macros{ProteinG: 9, CarbsG: 4, FatG: 12, Kcal: 160},
	}
	requireRejected(t, applyOne(t, feats, 0, e), GateMacroPlausibility)
}

func TestHighEnergyCandidateRejectedForLowEnergyPrediction(t *testing.T) {
	feats := taxonomy.Features{CoreClass: "carrot", Category: "vegetable", Tokens: []string{"carrot"}}
	e := catalog.Entry{
		ID: "cake1", Name: "Carrot cake with frosting",
		Provenance: catalog.ProvenanceCommercial,
		Macros:     catalog.Macros{ProteinG: 4, CarbsG: 45, FatG: 16, Kcal: 340},
	}
	// Predicted 41 kcal for raw carrot; a 340 kcal candidate is not a carrot.
	requireRejected(t, applyOne(t, feats, 41, e), GateMacroPlausibility)
}

// =============================================================================
// Sodium Gate
// =============================================================================

func pickleFeats() taxonomy.Features {
	return taxonomy.Features{CoreClass: "pickles", Category: "vegetable", Tokens: []string{"pickles"}}
}

func pickleEntry(sodiumMg *float64) catalog.Entry {
	return catalog.Entry{
		ID: "pk1", Name: "Pickles, dill, cucumber",
		Provenance: catalog.ProvenanceCookedReference,
		Macros:     catalog.Macros{ProteinG: 0.3, CarbsG: 2.5, FatG: 0.1, Kcal: 12},
		SodiumMg:   sodiumMg,
	}
}

func TestSodiumGateRejectsUnderSaltedPickles(t *testing.T) {
	low := 10.0
	requireRejected(t, applyOne(t, pickleFeats(), 0, pickleEntry(&low)), GateSodium)
}

func TestSodiumGatePassesBrinedCandidate(t *testing.T) {
	ok := 700.0
	requirePassed(t, applyOne(t, pickleFeats(), 0, pickleEntry(&ok)))
}

func TestSodiumGatePassesUnknownSodium(t *testing.T) {
	requirePassed(t, applyOne(t, pickleFeats(), 0, pickleEntry(nil)))
}

// =============================================================================
// Plausibility Band
// =============================================================================

func TestBandSeparatesEggWhiteFromYolk(t *testing.T) {
	feats := taxonomy.Features{CoreClass: "egg_white", Category: "egg", Tokens: []string{"egg", "white"}}

	white := catalog.Entry{
		ID: "w1", Name: "Egg white, raw, fresh",
		Provenance: catalog.ProvenanceCookedReference,
		Macros:     catalog.Macros{ProteinG: 10.9, CarbsG: 0.7, FatG: 0.2, Kcal: 52},
	}
	yolk := catalog.Entry{
		ID: "y1", Name: "Egg yolk, raw, fresh",
		Provenance: catalog.ProvenanceCookedReference,
		Macros:     catalog.Macros{ProteinG: 15.9, CarbsG: 3.6, FatG: 26.5, Kcal: 322},
	}

	requirePassed(t, applyOne(t, feats, 0, white))
	requireRejected(t, applyOne(t, feats, 0, yolk), GatePlausibilityBand)
}

func TestRawReferenceExemptFromFinishedFoodBand(t *testing.T) {
	feats := taxonomy.Features{
		CoreClass: "chicken_breast",
		Category:  "meat",
		Form:      "grilled",
		Tokens:    []string{"chicken", "breast"},
	}
	raw := catalog.Entry{
		ID: "raw1", Name: "Chicken, broilers, breast, raw",
		Provenance: catalog.ProvenanceRawReference,
		Form:       "raw",
		Macros:     catalog.Macros{ProteinG: 22.5, CarbsG: 0, FatG: 2.6, Kcal: 120},
	}

	// 120 kcal is below the cooked band, but a raw entry feeds the
	// conversion engine and is judged there instead.
	requirePassed(t, applyOne(t, feats, 165, raw))

	cooked := raw
	cooked.ID = "cr1"
	cooked.Provenance = catalog.ProvenanceCookedReference
	requireRejected(t, applyOne(t, feats, 165, cooked), GatePlausibilityBand)
}

// =============================================================================
// Color and Species Conflicts
// =============================================================================

func TestColorConflictRejectsWrongColor(t *testing.T) {
	feats := taxonomy.Features{
		CoreClass:   "pepper",
		Category:    "vegetable",
		Tokens:      []string{"red", "pepper"},
		ColorTokens: []string{"red"},
	}
	e := catalog.Entry{
		ID: "gp1", Name: "Green peppers, sweet, raw",
		Provenance: catalog.ProvenanceRawReference,
		Form:       "raw",
		Macros:     catalog.Macros{ProteinG: 0.9, CarbsG: 4.6, FatG: 0.2, Kcal: 20},
	}
	requireRejected(t, applyOne(t, feats, 0, e), GateColorConflict)
}

func TestSpeciesConflictRejectsWrongSpecies(t *testing.T) {
	feats := taxonomy.Features{
		CoreClass:     "sausage",
		Category:      "meat",
		Tokens:        []string{"turkey", "sausage"},
		SpeciesTokens: []string{"turkey"},
	}
	e := catalog.Entry{
		ID: "ps1", Name: "Pork sausage, cooked",
		Provenance: catalog.ProvenanceCookedReference,
		Macros:     catalog.Macros{ProteinG: 19, CarbsG: 1, FatG: 28, Kcal: 330},
	}
	requireRejected(t, applyOne(t, feats, 0, e), GateSpeciesConflict)
}

// =============================================================================
// Outcome Bookkeeping
// =============================================================================

func TestOutcomeCountsAndOrder(t *testing.T) {
	feats := taxonomy.Features{CoreClass: "bacon", Category: "meat", Tokens: []string{"bacon"}}
	entries := []catalog.Entry{
		{
			ID: "b1", Name: "Bacon, pan-fried",
			Provenance: catalog.ProvenanceCookedReference,
			Macros:     catalog.Macros{ProteinG: 37, CarbsG: 1.4, FatG: 42, Kcal: 530},
		},
		{
			ID: "b2", Name: "Turkey bacon, cooked",
			Provenance: catalog.ProvenanceCookedReference,
			Macros:     catalog.Macros{ProteinG: 30, CarbsG: 3, FatG: 35, Kcal: 450},
		},
		{
			ID: "b3", Name: "Vegan bacon substitute",
			Provenance: catalog.ProvenanceCommercial,
			Macros:     catalog.Macros{ProteinG: 10, CarbsG: 12, FatG: 20, Kcal: 270},
		},
	}

	out := NewChain(nil).Apply(config.Default(), feats, 0, entries)

	if len(out.Passed) != 1 || out.Passed[0].ID != "b1" {
		t.Fatalf("passed = %v, want only b1", out.Passed)
	}
	if out.Counts["negative_vocabulary"] != 2 {
		t.Fatalf("negative_vocabulary count = %d, want 2", out.Counts["negative_vocabulary"])
	}
	if len(out.Rejections) != 2 {
		t.Fatalf("rejections = %d, want 2", len(out.Rejections))
	}
}
