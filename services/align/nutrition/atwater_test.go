// Copyright (C) 2026 MacroLens AI (oss@macrolens.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package nutrition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MacroLensAI/MacroLens/services/align/catalog"
)

func TestAtwaterKcalGeneralFactors(t *testing.T) {
	// 4*10 + 4*20 + 9*5 = 165
	assert.InDelta(t, 165.0, AtwaterKcal(10, 20, 5, nil), 0.001)
}

func TestAtwaterKcalNetCarbsWithFiber(t *testing.T) {
	fiber := 4.0
	// net carbs 6g at 4 kcal + fiber 4g at 2 kcal = 32
	assert.InDelta(t, 32.0, AtwaterKcal(0, 10, 0, &fiber), 0.001)
}

func TestAtwaterKcalFiberNeverNegative(t *testing.T) {
	fiber := 12.0
	// Fiber above total carbs clamps net carbs to zero.
	assert.InDelta(t, 24.0, AtwaterKcal(0, 10, 0, &fiber), 0.001)
}

func TestReconcileMissingStatedEnergyDerives(t *testing.T) {
	kcal, rec := ReconcileEnergy(10, 20, 5, 0, nil, 15)

	assert.InDelta(t, 165.0, kcal, 0.001)
	assert.True(t, rec.Consistent)
	assert.True(t, rec.DerivedFromMacros)
}

func TestReconcileStatedWithinToleranceStands(t *testing.T) {
	kcal, rec := ReconcileEnergy(10, 20, 5, 170, nil, 15)

	assert.InDelta(t, 170.0, kcal, 0.001)
	assert.True(t, rec.Consistent)
	assert.False(t, rec.DerivedFromMacros)
}

func TestReconcileDivergentStatedDiscarded(t *testing.T) {
	kcal, rec := ReconcileEnergy(10, 20, 5, 250, nil, 15)

	assert.InDelta(t, 165.0, kcal, 0.001)
	assert.False(t, rec.Consistent)
	assert.True(t, rec.DerivedFromMacros)
	assert.Greater(t, rec.DeviationPct, 15.0)
}

func TestReconcileStatedWithZeroMacrosDiscarded(t *testing.T) {
	kcal, rec := ReconcileEnergy(0, 0, 0, 120, nil, 15)

	assert.InDelta(t, 0.0, kcal, 0.001)
	assert.True(t, rec.DerivedFromMacros)
}

func TestNormalizeEntryScalesPerServing(t *testing.T) {
	e := catalog.Entry{
		ID:           "srv-1",
		Macros:       catalog.Macros{ProteinG: 5, CarbsG: 10, FatG: 2.5, Kcal: 85},
		ServingGrams: 50,
	}

	m, rec := NormalizeEntry(e, 15)

	require.InDelta(t, 10.0, m.ProteinG, 0.001)
	require.InDelta(t, 20.0, m.CarbsG, 0.001)
	require.InDelta(t, 5.0, m.FatG, 0.001)
	// Stated 170/100g vs Atwater 165: inside tolerance, stated stands.
	assert.InDelta(t, 170.0, m.Kcal, 0.001)
	assert.True(t, rec.Consistent)
}

func TestNormalizeEntryPer100gPassthrough(t *testing.T) {
	e := catalog.Entry{
		ID:     "p100-1",
		Macros: catalog.Macros{ProteinG: 22.5, CarbsG: 0, FatG: 2.6, Kcal: 120},
	}

	m, _ := NormalizeEntry(e, 15)

	// Stated 120 vs Atwater 113.4: 5.8% deviation, stated stands.
	assert.InDelta(t, 120.0, m.Kcal, 0.001)
	assert.InDelta(t, 22.5, m.ProteinG, 0.001)
}
