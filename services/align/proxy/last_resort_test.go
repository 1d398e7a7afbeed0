// Copyright (C) 2026 MacroLens AI (oss@macrolens.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package proxy

import (
	"strings"
	"testing"

	"github.com/MacroLensAI/MacroLens/services/align/catalog"
	"github.com/MacroLensAI/MacroLens/services/align/config"
	"github.com/MacroLensAI/MacroLens/services/align/gates"
	"github.com/MacroLensAI/MacroLens/services/align/scoring"
	"github.com/MacroLensAI/MacroLens/services/align/taxonomy"
)

func newMatcher() *LastResortMatcher {
	return NewLastResortMatcher(gates.NewChain(nil), nil)
}

func friesInputs() scoring.Inputs {
	return scoring.Inputs{
		Feats: taxonomy.Features{
			CoreClass:    "potato",
			Category:     "starch",
			LockedPhrase: "french fry",
			Tokens:       []string{"french", "fry"},
		},
		Method:        "fried",
		PredictedKcal: 100,
	}
}

func TestLastResortMatchesWellCoveredCommercial(t *testing.T) {
	commercial := []catalog.Entry{
		{
			ID: "ff1", Name: "French fry, potato",
			Provenance: catalog.ProvenanceCommercial,
			Macros:     catalog.Macros{ProteinG: 2.2, CarbsG: 21, FatG: 2},
		},
	}

	entry, breakdown, _, ok := newMatcher().Match(config.Default(), friesInputs(), commercial)
	if !ok {
		t.Fatal("expected a last-resort match")
	}
	if entry.ID != "ff1" {
		t.Fatalf("matched %s, want ff1", entry.ID)
	}
	if breakdown.Total < config.Default().StageZ.ScoreFloor {
		t.Fatalf("score %v below the last-resort floor", breakdown.Total)
	}
}

func TestLastResortDeniesUnlistedCategory(t *testing.T) {
	in := scoring.Inputs{
		Feats: taxonomy.Features{CoreClass: "carrot", Category: "vegetable", Tokens: []string{"carrot"}},
	}

	_, _, rejections, ok := newMatcher().Match(config.Default(), in, nil)
	if ok {
		t.Fatal("vegetable queries must never reach the last resort")
	}
	if len(rejections) != 1 || !strings.Contains(rejections[0], "category not allow-listed") {
		t.Fatalf("rejections = %v", rejections)
	}
}

func TestLastResortReportsGateRejections(t *testing.T) {
	commercial := []catalog.Entry{
		{
			ID: "chips1", Name: "Potato chips, salted",
			Provenance: catalog.ProvenanceCommercial,
			Macros:     catalog.Macros{ProteinG: 6.6, CarbsG: 53, FatG: 34, Kcal: 536},
		},
	}

	_, _, rejections, ok := newMatcher().Match(config.Default(), friesInputs(), commercial)
	if ok {
		t.Fatal("deny-listed candidate must not match")
	}
	if len(rejections) != 1 || !strings.Contains(rejections[0], "negative_vocabulary") {
		t.Fatalf("rejections = %v", rejections)
	}
}

func TestLastResortEnforcesScoreFloor(t *testing.T) {
	in := scoring.Inputs{
		Feats: taxonomy.Features{
			CoreClass:     "beef_steak",
			Category:      "meat",
			LockedPhrase:  "beef steak",
			Tokens:        []string{"beef", "steak"},
			SpeciesTokens: []string{"beef"},
		},
		Method:        "grilled",
		PredictedKcal: 232.5,
	}
	// "fillet" covers "steak" through the synonym table, so the candidate
	// survives coverage, but its weak textual score stays under the floor.
	commercial := []catalog.Entry{
		{
			ID: "bf1", Name: "Beef fillet strips, cooked",
			Provenance: catalog.ProvenanceCommercial,
			Macros:     catalog.Macros{ProteinG: 26, CarbsG: 0, FatG: 13, Kcal: 230},
		},
	}

	_, _, _, ok := newMatcher().Match(config.Default(), in, commercial)
	if ok {
		t.Fatal("a below-floor candidate must not match")
	}
}

func TestLastResortBlocksSingleTokenQueries(t *testing.T) {
	// One shared token is never enough coverage, even when the candidate name
	// reduces to exactly the query token.
	in := scoring.Inputs{
		Feats: taxonomy.Features{
			CoreClass: "bacon",
			Category:  "meat",
			Tokens:    []string{"bacon"},
		},
		Method:        "fried",
		PredictedKcal: 521,
	}
	commercial := []catalog.Entry{
		{
			ID: "bc1", Name: "Bacon, cooked",
			Provenance: catalog.ProvenanceCommercial,
			Method:     "fried",
			Macros:     catalog.Macros{ProteinG: 37, CarbsG: 1.4, FatG: 42, Kcal: 530},
		},
	}

	_, _, _, ok := newMatcher().Match(config.Default(), in, commercial)
	if ok {
		t.Fatal("a single-token query must never reach a last-resort match")
	}
}

func TestLastResortIngredientStatementDenyToken(t *testing.T) {
	// The product name is clean; only the ingredient statement betrays the
	// milled potato content.
	commercial := []catalog.Entry{
		{
			ID: "ff2", Name: "French fry, potato",
			Provenance:  catalog.ProvenanceCommercial,
			Macros:      catalog.Macros{ProteinG: 2.2, CarbsG: 21, FatG: 2},
			Ingredients: "Potatoes, vegetable oil, potato starch, salt",
		},
	}

	_, _, rejections, ok := newMatcher().Match(config.Default(), friesInputs(), commercial)
	if ok {
		t.Fatal("a deny token in the ingredient statement must block the match")
	}
	found := false
	for _, r := range rejections {
		if strings.Contains(r, "ingredient_sanity") && strings.Contains(r, "starch") {
			found = true
		}
	}
	if !found {
		t.Fatalf("rejections = %v, want an ingredient_sanity entry naming starch", rejections)
	}
}

func TestLastResortRejectsSugaryMeatCandidate(t *testing.T) {
	in := scoring.Inputs{
		Feats: taxonomy.Features{
			CoreClass:     "beef_steak",
			Category:      "meat",
			LockedPhrase:  "beef steak",
			Tokens:        []string{"beef", "steak"},
			SpeciesTokens: []string{"beef"},
		},
		Method:        "grilled",
		PredictedKcal: 232.5,
	}
	sugar := 14.0
	entry := catalog.Entry{
		ID: "bs1", Name: "Beef steak strips, grilled",
		Provenance: catalog.ProvenanceCommercial,
		Method:     "grilled",
		Macros:     catalog.Macros{ProteinG: 26, CarbsG: 0, FatG: 13, Kcal: 230},
	}

	// Without a sugar figure the candidate clears every bar.
	got, _, _, ok := newMatcher().Match(config.Default(), in, []catalog.Entry{entry})
	if !ok || got.ID != "bs1" {
		t.Fatalf("sugar-free candidate should match, got ok=%v", ok)
	}

	// A glazed product carries the same macros plus the sugar figure.
	entry.SugarG = &sugar
	_, _, rejections, ok := newMatcher().Match(config.Default(), in, []catalog.Entry{entry})
	if ok {
		t.Fatal("a sugar-laden candidate must not stand in for plain meat")
	}
	found := false
	for _, r := range rejections {
		if strings.Contains(r, "ingredient_sanity") && strings.Contains(r, "sugar") {
			found = true
		}
	}
	if !found {
		t.Fatalf("rejections = %v, want an ingredient_sanity entry naming sugar", rejections)
	}
}
