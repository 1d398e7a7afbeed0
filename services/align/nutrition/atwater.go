// Copyright (C) 2026 MacroLens AI (oss@macrolens.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package nutrition implements energy reconciliation and raw→cooked
// conversion. Every nutrition number the engine emits passes through the
// Atwater reconciler.
package nutrition

import (
	"math"

	"github.com/MacroLensAI/MacroLens/services/align/catalog"
)

// =============================================================================
// Atwater Reconciler
// =============================================================================

// Atwater general factors, kcal per gram.
const (
	KcalPerGramProtein = 4.0
	KcalPerGramCarbs   = 4.0
	KcalPerGramFat     = 9.0
	KcalPerGramFiber   = 2.0
)

// DefaultAtwaterTolerancePct is the stated-vs-derived deviation beyond which
// the stated energy is discarded.
const DefaultAtwaterTolerancePct = 15.0

// Reconciliation is the outcome of validating stated energy against the
// Atwater-derived value.
type Reconciliation struct {
	// Consistent is true when the stated energy agreed with Atwater within
	// tolerance (or no stated energy existed to disagree).
	Consistent bool

	// AtwaterKcal is the energy derived from the macros.
	AtwaterKcal float64

	// DeviationPct is the relative deviation of the stated energy from
	// Atwater, in percent. Zero when no stated energy existed.
	DeviationPct float64

	// DerivedFromMacros is true when the emitted energy is the Atwater value
	// rather than the catalog's stated value (missing, zero, or discarded).
	DerivedFromMacros bool
}

// AtwaterKcal computes energy from macros using the general factors. When
// fiber is known, it contributes 2 kcal/g and is excluded from carbohydrate
// (net carbs).
func AtwaterKcal(proteinG, carbsG, fatG float64, fiberG *float64) float64 {
	netCarbs := carbsG
	var fiberKcal float64
	if fiberG != nil {
		netCarbs = math.Max(0, carbsG-*fiberG)
		fiberKcal = *fiberG * KcalPerGramFiber
	}
	return proteinG*KcalPerGramProtein + netCarbs*KcalPerGramCarbs + fatG*KcalPerGramFat + fiberKcal
}

// ReconcileEnergy validates stated energy against the Atwater derivation.
//
// Description:
//
//	If the stated energy is missing or zero, the Atwater value is used
//	outright. If stated and derived diverge beyond tolerancePct, the stated
//	value is discarded in favor of Atwater and the record is tagged as
//	derived. Otherwise the stated value stands.
//
// Inputs:
//
//	proteinG, carbsG, fatG - Macros in grams (per any consistent basis).
//	statedKcal - The catalog's stated energy. Zero means absent.
//	fiberG - Fiber in grams, when known.
//	tolerancePct - Maximum stated-vs-derived deviation. Non-positive uses
//	               DefaultAtwaterTolerancePct.
//
// Outputs:
//
//	float64 - The reconciled energy to emit.
//	Reconciliation - The audit detail.
//
// Thread Safety: Pure function.
func ReconcileEnergy(proteinG, carbsG, fatG, statedKcal float64, fiberG *float64, tolerancePct float64) (float64, Reconciliation) {
	if tolerancePct <= 0 {
		tolerancePct = DefaultAtwaterTolerancePct
	}
	atwater := AtwaterKcal(proteinG, carbsG, fatG, fiberG)

	if statedKcal <= 0 {
		return atwater, Reconciliation{
			Consistent:        true,
			AtwaterKcal:       atwater,
			DerivedFromMacros: true,
		}
	}

	var deviation float64
	if atwater > 0 {
		deviation = math.Abs(statedKcal-atwater) / atwater * 100
	} else if statedKcal > 0 {
		// Stated energy with all-zero macros cannot be validated; discard it.
		deviation = 100
	}

	if deviation > tolerancePct {
		return atwater, Reconciliation{
			Consistent:        false,
			AtwaterKcal:       atwater,
			DeviationPct:      deviation,
			DerivedFromMacros: true,
		}
	}

	return statedKcal, Reconciliation{
		Consistent:   true,
		AtwaterKcal:  atwater,
		DeviationPct: deviation,
	}
}

// NormalizeEntry returns the per-100g macros of a catalog entry with its
// energy reconciled.
//
// Description:
//
//	Entries carrying per-serving values are scaled by 100/servingGrams
//	before reconciliation. The returned macros always carry a non-zero
//	energy whenever any macro is non-zero.
//
// Inputs:
//
//	e - The catalog entry.
//	tolerancePct - Atwater tolerance. Non-positive uses the default.
//
// Outputs:
//
//	catalog.Macros - Per-100g macros with reconciled energy.
//	Reconciliation - The audit detail.
//
// Thread Safety: Pure function; the entry is not mutated.
func NormalizeEntry(e catalog.Entry, tolerancePct float64) (catalog.Macros, Reconciliation) {
	m := e.Macros
	fiber := e.FiberG
	if e.ServingGrams > 0 {
		factor := 100 / e.ServingGrams
		m = m.Scale(factor)
		if e.FiberG != nil {
			f := *e.FiberG * factor
			fiber = &f
		}
	}

	kcal, rec := ReconcileEnergy(m.ProteinG, m.CarbsG, m.FatG, m.Kcal, fiber, tolerancePct)
	m.Kcal = kcal
	return m, rec
}
