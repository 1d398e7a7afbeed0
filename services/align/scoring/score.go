// Copyright (C) 2026 MacroLens AI (oss@macrolens.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package scoring computes the composite token/phrase/energy similarity score
// used to rank gate-surviving candidates. Ties are broken by stable input
// order; a lower-scoring candidate is retained as runner-up telemetry, never
// discarded silently.
package scoring

import (
	"math"
	"strings"

	"github.com/MacroLensAI/MacroLens/services/align/catalog"
	"github.com/MacroLensAI/MacroLens/services/align/config"
	"github.com/MacroLensAI/MacroLens/services/align/taxonomy"
)

// =============================================================================
// Score Weights
// =============================================================================

// Component weights of the composite score. Empirically tuned alongside the
// per-class thresholds in config; change only with domain review.
const (
	phraseMatchBonus      = 0.30
	coreWordPositionBonus = 0.15
	formMatchBonus        = 0.10
	tokenOverlapWeight    = 0.25
	energyFullBonus       = 0.20
	energyPartialBonus    = 0.10

	rawFirstAdjustment  = 0.05
	classHintAdjustment = 0.05
	colorSpeciesBonus   = 0.05
	eggPartBonus        = 0.08
	eggPartPenalty      = 0.12
	cornFormBonus       = 0.08
	cornFormPenalty     = 0.12
)

// Energy similarity windows, as fractions of the predicted energy density.
const (
	energyFullWindow    = 0.15
	energyPartialWindow = 0.30
)

// =============================================================================
// Inputs / Breakdown
// =============================================================================

// Inputs carries the query-side context a candidate is scored against.
type Inputs struct {
	// Feats are the query's taxonomy features.
	Feats taxonomy.Features

	// Method is the resolved cooking method.
	Method string

	// PredictedKcal is the predicted cooked energy density per 100 g.
	// Zero disables the energy similarity component.
	PredictedKcal float64
}

// Breakdown is one candidate's composite score with its components, kept for
// telemetry and threshold decisions.
type Breakdown struct {
	Phrase       float64
	CorePosition float64
	Form         float64
	TokenOverlap float64
	Energy       float64
	Adjustments  float64
	Total        float64
}

// =============================================================================
// Scoring
// =============================================================================

// Score computes the composite score of one candidate entry.
//
// Inputs:
//
//	in - Query-side context.
//	e - The candidate entry.
//	kcalPer100 - The candidate's normalized kcal/100g (already reconciled).
//	methods - Method tables for form-compatibility checks. Must not be nil.
//
// Outputs:
//
//	Breakdown - Component scores and total.
//
// Thread Safety: Pure function.
func Score(in Inputs, e catalog.Entry, kcalPer100 float64, methods *config.MethodConfig) Breakdown {
	var b Breakdown

	nameTokens := taxonomy.ContentTokens(e.Name)
	nameNorm := strings.Join(taxonomy.Normalize(e.Name), " ")

	if in.Feats.LockedPhrase != "" && strings.Contains(nameNorm, in.Feats.LockedPhrase) {
		b.Phrase = phraseMatchBonus
	}

	if head := classHeadWord(in.Feats.CoreClass); head != "" && len(nameTokens) > 0 && nameTokens[0] == head {
		b.CorePosition = coreWordPositionBonus
	}

	if formMatches(in, e, methods) {
		b.Form = formMatchBonus
	}

	b.TokenOverlap = tokenOverlapWeight * TokenJaccard(in.Feats.Tokens, nameTokens)
	b.Energy = energyBonus(in.PredictedKcal, kcalPer100)
	b.Adjustments = adjustments(in, e, nameNorm)

	b.Total = b.Phrase + b.CorePosition + b.Form + b.TokenOverlap + b.Energy + b.Adjustments
	return b
}

// TokenJaccard computes the Jaccard index of two token sets.
//
// Outputs:
//
//	float64 - |A∩B| / |A∪B| in [0, 1]. Zero when either set is empty.
func TokenJaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]bool, len(a))
	for _, t := range a {
		setA[t] = true
	}
	setB := make(map[string]bool, len(b))
	for _, t := range b {
		setB[t] = true
	}
	inter := 0
	for t := range setA {
		if setB[t] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// EnergySimilarity returns 1.0 within the full window of the predicted
// density, 0.5 within the partial window, and 0 beyond. Zero predicted
// density disables the check and returns 0.
func EnergySimilarity(predictedKcal, actualKcal float64) float64 {
	if predictedKcal <= 0 {
		return 0
	}
	deviation := math.Abs(actualKcal-predictedKcal) / predictedKcal
	switch {
	case deviation <= energyFullWindow:
		return 1.0
	case deviation <= energyPartialWindow:
		return 0.5
	default:
		return 0
	}
}

// =============================================================================
// Components
// =============================================================================

func energyBonus(predicted, actual float64) float64 {
	switch EnergySimilarity(predicted, actual) {
	case 1.0:
		return energyFullBonus
	case 0.5:
		return energyPartialBonus
	default:
		return 0
	}
}

// classHeadWord returns the leading word of a core class name
// ("chicken_breast" → "chicken").
func classHeadWord(class string) string {
	if class == taxonomy.ClassNone {
		return ""
	}
	if i := strings.IndexByte(class, '_'); i > 0 {
		return class[:i]
	}
	return class
}

func formMatches(in Inputs, e catalog.Entry, methods *config.MethodConfig) bool {
	if e.Method != "" && taxonomy.MethodsCompatible(methods, e.Method, in.Method) {
		return true
	}
	return e.Form != "" && in.Feats.Form != "" && e.Form == in.Feats.Form
}

// adjustments applies the targeted bonus/penalty pairs guarding the known
// misalignment classes.
func adjustments(in Inputs, e catalog.Entry, nameNorm string) float64 {
	var adj float64
	feats := in.Feats

	// Produce raw-first: for vegetables and fruits, a raw reference entry is
	// the preferred starting point and a processed one is suspect.
	if feats.Category == "vegetable" || feats.Category == "fruit" {
		switch e.Provenance {
		case catalog.ProvenanceRawReference:
			adj += rawFirstAdjustment
		case catalog.ProvenanceCommercial:
			adj -= rawFirstAdjustment
		}
	}

	// Class hint: every class word appearing in the candidate name.
	if feats.CoreClass != taxonomy.ClassNone {
		allPresent := true
		for _, w := range strings.Split(feats.CoreClass, "_") {
			if !strings.Contains(nameNorm, w) {
				allPresent = false
				break
			}
		}
		if allPresent {
			adj += classHintAdjustment
		}
	}

	// Explicit color/species agreement.
	for _, c := range feats.ColorTokens {
		if strings.Contains(nameNorm, c) {
			adj += colorSpeciesBonus
			break
		}
	}
	for _, s := range feats.SpeciesTokens {
		if strings.Contains(nameNorm, s) {
			adj += colorSpeciesBonus
			break
		}
	}

	// Egg-part disambiguation.
	switch feats.CoreClass {
	case "egg_white":
		if strings.Contains(nameNorm, "white") {
			adj += eggPartBonus
		}
		if strings.Contains(nameNorm, "yolk") {
			adj -= eggPartPenalty
		}
	case "egg_yolk":
		if strings.Contains(nameNorm, "yolk") {
			adj += eggPartBonus
		}
		if strings.Contains(nameNorm, "white") {
			adj -= eggPartPenalty
		}
	}

	// Corn-form disambiguation.
	switch feats.CoreClass {
	case "corn_kernel":
		if strings.Contains(nameNorm, "kernel") || strings.Contains(nameNorm, "sweet corn") {
			adj += cornFormBonus
		}
		if strings.Contains(nameNorm, "flour") || strings.Contains(nameNorm, "meal") || strings.Contains(nameNorm, "starch") {
			adj -= cornFormPenalty
		}
	case "corn_flour":
		if strings.Contains(nameNorm, "flour") || strings.Contains(nameNorm, "meal") {
			adj += cornFormBonus
		}
		if strings.Contains(nameNorm, "kernel") {
			adj -= cornFormPenalty
		}
	}

	return adj
}
