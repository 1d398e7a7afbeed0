// Copyright (C) 2026 MacroLens AI (oss@macrolens.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MacroLensAI/MacroLens/services/align/catalog"
	"github.com/MacroLensAI/MacroLens/services/align/config"
)

func newTestOrchestrator() *Orchestrator {
	return New(config.NewStatic(nil), nil)
}

func rawChickenBreast() catalog.Entry {
	return catalog.Entry{
		ID: "raw1", Name: "Chicken, broilers, breast, raw",
		Provenance: catalog.ProvenanceRawReference,
		Form:       "raw",
		Macros:     catalog.Macros{ProteinG: 22.5, CarbsG: 0, FatG: 2.6, Kcal: 120},
	}
}

func cookedChickenBreast() catalog.Entry {
	return catalog.Entry{
		ID: "ck1", Name: "Chicken breast, grilled",
		Provenance: catalog.ProvenanceCookedReference,
		Method:     "grilled",
		Macros:     catalog.Macros{ProteinG: 31, CarbsG: 0, FatG: 3.6, Kcal: 165},
	}
}

// =============================================================================
// Raw Reference Direct
// =============================================================================

func TestAlignRawFormMatchesRawReferenceDirectly(t *testing.T) {
	o := newTestOrchestrator()
	q := FoodQuery{Name: "carrots", Form: "raw", MassGrams: 80, Confidence: 0.9}
	candidates := []catalog.Entry{
		{
			ID: "rc1", Name: "Carrots, raw",
			Provenance: catalog.ProvenanceRawReference,
			Form:       "raw",
			Macros:     catalog.Macros{ProteinG: 0.9, CarbsG: 9.6, FatG: 0.2, Kcal: 41},
		},
	}

	res, err := o.Align(context.Background(), q, candidates)
	require.NoError(t, err)

	assert.Equal(t, StageRawReferenceDirect, res.Stage)
	assert.Equal(t, "rc1", res.Telemetry.MatchedRef)
	assert.Equal(t, "raw", res.Method)
	assert.False(t, res.ConversionApplied)
	assert.InDelta(t, 0.9, res.Confidence, 0.001)
	assert.InDelta(t, 41.0, res.Macros.Kcal, 0.001)
}

// =============================================================================
// Cooked Reference Whitelist
// =============================================================================

func TestAlignBaconPrefersCookedReferenceOverConversion(t *testing.T) {
	o := newTestOrchestrator()
	q := FoodQuery{Name: "bacon", Form: "fried", MassGrams: 30, Confidence: 0.9}
	candidates := []catalog.Entry{
		{
			ID: "rb1", Name: "Pork bacon, raw",
			Provenance: catalog.ProvenanceRawReference,
			Form:       "raw",
			Macros:     catalog.Macros{ProteinG: 12.6, CarbsG: 0.7, FatG: 39.7, Kcal: 417},
		},
		{
			ID: "cb1", Name: "Bacon, pan-fried",
			Provenance: catalog.ProvenanceCookedReference,
			Method:     "fried",
			Macros:     catalog.Macros{ProteinG: 37, CarbsG: 1.4, FatG: 42, Kcal: 530},
		},
	}

	res, err := o.Align(context.Background(), q, candidates)
	require.NoError(t, err)

	assert.Equal(t, StageCookedReferenceWhitelist, res.Stage)
	assert.Equal(t, "cb1", res.Telemetry.MatchedRef)
	assert.False(t, res.ConversionApplied)
	assert.True(t, res.Telemetry.PreferRawBlocked)
	assert.InDelta(t, 0.90, res.Confidence, 0.001)
}

// =============================================================================
// Raw Plus Conversion
// =============================================================================

func TestAlignGrilledChickenConvertsRawReference(t *testing.T) {
	o := newTestOrchestrator()
	q := FoodQuery{Name: "chicken breast", Form: "grilled", MassGrams: 150, Confidence: 0.8}
	candidates := []catalog.Entry{rawChickenBreast(), cookedChickenBreast()}

	res, err := o.Align(context.Background(), q, candidates)
	require.NoError(t, err)

	// Raw presence routes through conversion even with a perfect cooked
	// entry available.
	assert.Equal(t, StageRawPlusConversion, res.Stage)
	assert.Equal(t, "raw1", res.Telemetry.MatchedRef)
	assert.True(t, res.ConversionApplied)
	assert.True(t, res.Telemetry.ConversionApplied)
	assert.False(t, res.Telemetry.EnergyClamped)
	assert.True(t, res.Telemetry.PreferRawBlocked)

	assert.InDelta(t, 28.5, res.Macros.ProteinG, 0.01)
	assert.InDelta(t, 140.5, res.Macros.Kcal, 0.1)
	assert.InDelta(t, 0.8, res.Confidence, 0.001)
	assert.Equal(t, "grilled", res.Method)
	assert.Equal(t, "explicit", res.Telemetry.MethodReason)
	assert.Equal(t, 150.0, res.MassGrams)
	assert.Equal(t, "raw_reference", res.Source)
}

func TestAlignConversionKeepsRunnerUpCandidate(t *testing.T) {
	o := newTestOrchestrator()
	q := FoodQuery{Name: "chicken breast", Form: "grilled", MassGrams: 150, Confidence: 0.8}
	candidates := []catalog.Entry{
		rawChickenBreast(),
		{
			ID: "raw2", Name: "Chicken leg quarter, raw",
			Provenance: catalog.ProvenanceRawReference,
			Form:       "raw",
			Macros:     catalog.Macros{ProteinG: 19, CarbsG: 0, FatG: 8, Kcal: 150},
		},
	}

	res, err := o.Align(context.Background(), q, candidates)
	require.NoError(t, err)

	assert.Equal(t, StageRawPlusConversion, res.Stage)
	assert.Equal(t, "raw1", res.Telemetry.MatchedRef)

	// The losing raw candidate survives as runner-up telemetry.
	require.NotNil(t, res.Telemetry.RunnerUp)
	assert.Equal(t, "raw2", res.Telemetry.RunnerUp.Ref)
	assert.Equal(t, StageRawPlusConversion.String(), res.Telemetry.RunnerUp.Stage)
	assert.Greater(t, res.Telemetry.RunnerUp.Score, 0.0)
}

// =============================================================================
// Cooked Reference Exact
// =============================================================================

func TestAlignCookedExactWhenNoRawExists(t *testing.T) {
	o := newTestOrchestrator()
	q := FoodQuery{Name: "chicken breast", Form: "grilled", MassGrams: 120, Confidence: 0.9}
	candidates := []catalog.Entry{cookedChickenBreast()}

	res, err := o.Align(context.Background(), q, candidates)
	require.NoError(t, err)

	assert.Equal(t, StageCookedReferenceExact, res.Stage)
	assert.Equal(t, "ck1", res.Telemetry.MatchedRef)
	assert.False(t, res.ConversionApplied)
	assert.False(t, res.Telemetry.PreferRawBlocked)
	assert.InDelta(t, 165.0, res.Macros.Kcal, 0.001)
	assert.InDelta(t, 0.90, res.Confidence, 0.001)
	assert.Equal(t, "cooked_reference", res.Source)
}

// =============================================================================
// Commercial Energy Closest
// =============================================================================

func TestAlignCommercialEnergyClosest(t *testing.T) {
	o := newTestOrchestrator()
	q := FoodQuery{Name: "french fries", Form: "fried", MassGrams: 100, Confidence: 0.85}
	candidates := []catalog.Entry{
		{
			ID: "ff1", Name: "French fry, potato",
			Provenance: catalog.ProvenanceCommercial,
			Macros:     catalog.Macros{ProteinG: 2.2, CarbsG: 21, FatG: 2},
		},
	}

	res, err := o.Align(context.Background(), q, candidates)
	require.NoError(t, err)

	assert.Equal(t, StageCommercialEnergyClosest, res.Stage)
	assert.Equal(t, "ff1", res.Telemetry.MatchedRef)
	assert.Equal(t, "fried", res.Method)
	// Stated energy is absent; the emitted profile carries the derived value.
	assert.InDelta(t, 110.8, res.Macros.Kcal, 0.1)
	assert.InDelta(t, 0.70, res.Confidence, 0.001)
	assert.Equal(t, "commercial", res.Source)
}

// =============================================================================
// Proxy Alignment
// =============================================================================

func TestAlignMixedGreensSynthesizesProxy(t *testing.T) {
	o := newTestOrchestrator()
	q := FoodQuery{Name: "mixed salad greens", Form: "raw", MassGrams: 60, Confidence: 0.7}

	res, err := o.Align(context.Background(), q, nil)
	require.NoError(t, err)

	assert.Equal(t, StageProxyAlignment, res.Stage)
	assert.Equal(t, "proxy", res.Source)
	assert.Equal(t, "proxy:mixed_greens", res.Telemetry.MatchedRef)
	assert.InDelta(t, 17.4, res.Macros.Kcal, 0.01)
	assert.InDelta(t, 0.60, res.Confidence, 0.001)
	assert.Contains(t, res.Telemetry.ProxyFormula, "green leaf lettuce")
	assert.Contains(t, res.Telemetry.ProxyFormula, "spinach")

	require.NotNil(t, res.Match)
	assert.Equal(t, catalog.MatchSynthetic, res.Match.Kind)
}

// =============================================================================
// No Candidates
// =============================================================================

func TestAlignUnknownFoodFailsWithFullTelemetry(t *testing.T) {
	o := newTestOrchestrator()
	q := FoodQuery{Name: "unicorn meat", Form: "grilled", MassGrams: 100, Confidence: 0.9}

	res, err := o.Align(context.Background(), q, nil)
	require.NoError(t, err)

	assert.Equal(t, StageNoCandidates, res.Stage)
	assert.Equal(t, "none", res.Source)
	assert.True(t, res.Macros.IsZero())
	assert.Nil(t, res.Match)

	// Built-in conservative method at the highest-penalty tier.
	assert.Equal(t, "roasted", res.Method)
	assert.Equal(t, "first_available", res.Telemetry.MethodReason)
	assert.InDelta(t, 0.70, res.Confidence, 0.001)

	assert.NotEmpty(t, res.Telemetry.ID)
	assert.Equal(t, "unicorn meat", res.Telemetry.QueryName)
	assert.Equal(t, "no_candidates", res.Telemetry.Stage)
	assert.NotEmpty(t, res.Telemetry.Method)
}

// =============================================================================
// Input Validation and Determinism
// =============================================================================

func TestAlignRejectsInvalidQuery(t *testing.T) {
	o := newTestOrchestrator()

	_, err := o.Align(context.Background(), FoodQuery{Name: "", MassGrams: 100, Confidence: 0.5}, nil)
	assert.Error(t, err)

	_, err = o.Align(context.Background(), FoodQuery{Name: "rice", MassGrams: 0, Confidence: 0.5}, nil)
	assert.Error(t, err)

	_, err = o.Align(context.Background(), FoodQuery{Name: "rice", MassGrams: 100, Confidence: 1.5}, nil)
	assert.Error(t, err)
}

func TestAlignRawPresenceNeverEvaluatesCookedExact(t *testing.T) {
	o := newTestOrchestrator()
	q := FoodQuery{Name: "chicken breast", Form: "grilled", MassGrams: 150, Confidence: 0.8}

	// With a raw-reference candidate present, the cooked-exact path must not
	// be evaluated at all, not merely lose the precedence race.
	res, err := o.Align(context.Background(), q, []catalog.Entry{rawChickenBreast(), cookedChickenBreast()})
	require.NoError(t, err)
	assert.Equal(t, StageRawPlusConversion, res.Stage)
	assert.Contains(t, res.Telemetry.StagesEvaluated, StageRawPlusConversion.String())
	assert.NotContains(t, res.Telemetry.StagesEvaluated, StageCookedReferenceExact.String())

	// Remove the raw candidate and the same query evaluates cooked-exact.
	res, err = o.Align(context.Background(), q, []catalog.Entry{cookedChickenBreast()})
	require.NoError(t, err)
	assert.Equal(t, StageCookedReferenceExact, res.Stage)
	assert.Contains(t, res.Telemetry.StagesEvaluated, StageCookedReferenceExact.String())
}

func TestAlignIsDeterministic(t *testing.T) {
	o := newTestOrchestrator()
	q := FoodQuery{Name: "chicken breast", Form: "grilled", MassGrams: 150, Confidence: 0.8}
	candidates := []catalog.Entry{rawChickenBreast(), cookedChickenBreast()}

	a, err := o.Align(context.Background(), q, candidates)
	require.NoError(t, err)
	b, err := o.Align(context.Background(), q, candidates)
	require.NoError(t, err)

	// Identical decisions; only the record identity differs.
	assert.Equal(t, a.Stage, b.Stage)
	assert.Equal(t, a.Macros, b.Macros)
	assert.Equal(t, a.Confidence, b.Confidence)
	assert.Equal(t, a.Telemetry.MatchedRef, b.Telemetry.MatchedRef)
	assert.Equal(t, a.Telemetry.Pool, b.Telemetry.Pool)
	assert.NotEqual(t, a.Telemetry.ID, b.Telemetry.ID)
}

func TestAlignEmptyCandidatesNeverPanics(t *testing.T) {
	o := newTestOrchestrator()
	queries := []FoodQuery{
		{Name: "chicken breast", Form: "grilled", MassGrams: 100, Confidence: 0.9},
		{Name: "rice", Form: "cooked", MassGrams: 100, Confidence: 0.5},
		{Name: "pickles", MassGrams: 20, Confidence: 0.3},
		{Name: "xyzzy", MassGrams: 10, Confidence: 0.1},
	}
	for _, q := range queries {
		res, err := o.Align(context.Background(), q, nil)
		require.NoError(t, err)
		assert.NotEmpty(t, res.Telemetry.Method, "query %q", q.Name)
		assert.NotEmpty(t, res.Telemetry.MethodReason, "query %q", q.Name)
		assert.GreaterOrEqual(t, res.Confidence, 0.05)
		assert.LessOrEqual(t, res.Confidence, 0.95)
	}
}
