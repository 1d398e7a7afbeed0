// Copyright (C) 2026 MacroLens AI (oss@macrolens.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"math"
	"strings"

	"github.com/MacroLensAI/MacroLens/services/align/catalog"
	"github.com/MacroLensAI/MacroLens/services/align/nutrition"
	"github.com/MacroLensAI/MacroLens/services/align/scoring"
	"github.com/MacroLensAI/MacroLens/services/align/taxonomy"
)

// =============================================================================
// Stage S1b: Raw Reference Direct
// =============================================================================

// directBlend weights for the raw-form direct match score.
const (
	directJaccardWeight = 0.7
	directEnergyWeight  = 0.3
)

// stageRawReferenceDirect matches a raw-form query straight against the
// raw-reference pool, blending token Jaccard with energy similarity and
// accepting above the class threshold.
func (o *Orchestrator) stageRawReferenceDirect(_ context.Context, ac *alignContext) (*stageOutcome, bool) {
	if ac.feats.Form != "raw" || len(ac.pool.Raw) == 0 {
		return nil, false
	}
	ac.builder.evaluated(StageRawReferenceDirect)

	outcome := o.gates.Apply(ac.cfg, ac.feats, ac.predictedKcal, ac.pool.Raw)
	ac.builder.gateCounts(outcome.Counts)

	var (
		best      *catalog.Entry
		bestM     catalog.Macros
		bestScore float64
	)
	for i := range outcome.Passed {
		e := outcome.Passed[i]
		per100, _ := nutrition.NormalizeEntry(e, ac.cfg.Conversion.AtwaterTolerancePct)
		blended := directJaccardWeight*scoring.TokenJaccard(ac.feats.Tokens, taxonomy.ContentTokens(e.Name)) +
			directEnergyWeight*scoring.EnergySimilarity(ac.predictedKcal, per100.Kcal)
		if best == nil || blended > bestScore {
			if best != nil {
				recordRunnerUp(ac, StageRawReferenceDirect, best.ID, bestScore)
			}
			best = &outcome.Passed[i]
			bestM = per100
			bestScore = blended
			continue
		}
		recordRunnerUp(ac, StageRawReferenceDirect, e.ID, blended)
	}
	if best == nil {
		return nil, false
	}

	threshold := ac.cfg.Thresholds.JaccardFor(ac.feats.CoreClass, ac.feats.ClassTokenCount())
	if bestScore < threshold {
		recordRunnerUp(ac, StageRawReferenceDirect, best.ID, bestScore)
		return nil, false
	}

	return &stageOutcome{
		match:  catalog.Match{Kind: catalog.MatchReal, Entry: best},
		macros: bestM,
	}, true
}

// =============================================================================
// Stage S1c: Cooked Reference Whitelist
// =============================================================================

// cookedWhitelist lists the few classes allowed to match cooked-reference
// entries ahead of raw conversion. Every listed token must appear in the
// candidate name.
var cookedWhitelist = map[string][]string{
	"bacon":     {"bacon"},
	"sausage":   {"sausage"},
	"egg_white": {"egg", "white"},
}

// eggWhitelistForms are the egg preparations the whitelist admits.
var eggWhitelistForms = map[string]bool{
	"scrambled": true,
	"fried":     true,
	"boiled":    true,
}

// stageCookedReferenceWhitelist short-circuits the cascade for the small set
// of foods whose cooked-reference entries are canonical.
func (o *Orchestrator) stageCookedReferenceWhitelist(_ context.Context, ac *alignContext) (*stageOutcome, bool) {
	if len(ac.pool.Cooked) == 0 {
		return nil, false
	}

	required, ok := cookedWhitelist[ac.feats.CoreClass]
	if !ok && ac.feats.CoreClass == "egg" && eggWhitelistForms[ac.feats.Form] {
		required, ok = []string{"egg", ac.feats.Form}, true
	}
	if !ok {
		return nil, false
	}
	ac.builder.evaluated(StageCookedReferenceWhitelist)

	outcome := o.gates.Apply(ac.cfg, ac.feats, ac.predictedKcal, ac.pool.Cooked)
	ac.builder.gateCounts(outcome.Counts)

	in := ac.scoringInputs()
	var (
		best      *catalog.Entry
		bestM     catalog.Macros
		bestScore float64
	)
	for i := range outcome.Passed {
		e := outcome.Passed[i]
		nameNorm := strings.Join(taxonomy.Normalize(e.Name), " ")
		if !containsAllTokens(nameNorm, required) {
			continue
		}
		per100, _ := nutrition.NormalizeEntry(e, ac.cfg.Conversion.AtwaterTolerancePct)
		b := scoring.Score(in, e, per100.Kcal, &ac.cfg.Methods)
		if best == nil || b.Total > bestScore {
			if best != nil {
				recordRunnerUp(ac, StageCookedReferenceWhitelist, best.ID, bestScore)
			}
			best = &outcome.Passed[i]
			bestM = per100
			bestScore = b.Total
			continue
		}
		recordRunnerUp(ac, StageCookedReferenceWhitelist, e.ID, b.Total)
	}
	if best == nil {
		return nil, false
	}

	return &stageOutcome{
		match:  catalog.Match{Kind: catalog.MatchReal, Entry: best},
		macros: bestM,
	}, true
}

// =============================================================================
// Stage S2: Raw Plus Conversion
// =============================================================================

// stageRawPlusConversion converts the best raw-reference candidate into the
// resolved cooked form. Preferred over every cooked path whenever a raw
// candidate exists.
func (o *Orchestrator) stageRawPlusConversion(ctx context.Context, ac *alignContext) (*stageOutcome, bool) {
	if len(ac.pool.Raw) == 0 || ac.feats.Form == "raw" {
		return nil, false
	}
	ac.builder.evaluated(StageRawPlusConversion)

	outcome := o.gates.Apply(ac.cfg, ac.feats, ac.predictedKcal, ac.pool.Raw)
	ac.builder.gateCounts(outcome.Counts)

	in := ac.scoringInputs()
	var (
		best      *catalog.Entry
		bestScore float64
	)
	for i := range outcome.Passed {
		e := outcome.Passed[i]
		per100, _ := nutrition.NormalizeEntry(e, ac.cfg.Conversion.AtwaterTolerancePct)
		b := scoring.Score(in, e, per100.Kcal, &ac.cfg.Methods)
		if best == nil || b.Total > bestScore {
			if best != nil {
				recordRunnerUp(ac, StageRawPlusConversion, best.ID, bestScore)
			}
			best = &outcome.Passed[i]
			bestScore = b.Total
			continue
		}
		recordRunnerUp(ac, StageRawPlusConversion, e.ID, b.Total)
	}
	if best == nil {
		return nil, false
	}

	conv, ok := o.converter.Convert(ctx, &ac.cfg.Conversion, *best, ac.feats.Category, ac.resolution.Method, ac.predictedKcal)
	if !ok {
		recordRunnerUp(ac, StageRawPlusConversion, best.ID, bestScore)
		return nil, false
	}

	return &stageOutcome{
		match:             catalog.Match{Kind: catalog.MatchReal, Entry: best},
		macros:            conv.Macros,
		conversionApplied: true,
		energyClamped:     conv.EnergyClamped,
	}, true
}

// =============================================================================
// Stage S1: Cooked Reference Exact
// =============================================================================

// Energy proximity windows for the cooked-exact stages, as fractions of the
// predicted energy density.
const (
	exactStrictWindow  = 0.20
	exactRelaxedWindow = 0.30
)

// stageCookedReferenceExact matches cooked-reference entries with a
// compatible method. Reached only when no raw-reference candidate exists;
// raw presence routes through conversion instead.
func (o *Orchestrator) stageCookedReferenceExact(_ context.Context, ac *alignContext) (*stageOutcome, bool) {
	if len(ac.pool.Raw) > 0 || len(ac.pool.Cooked) == 0 {
		return nil, false
	}
	ac.builder.evaluated(StageCookedReferenceExact)

	outcome := o.gates.Apply(ac.cfg, ac.feats, ac.predictedKcal, ac.pool.Cooked)
	ac.builder.gateCounts(outcome.Counts)

	compatible := outcome.Passed[:0:0]
	for _, e := range outcome.Passed {
		if e.Method == "" || taxonomy.MethodsCompatible(&ac.cfg.Methods, e.Method, ac.resolution.Method) {
			compatible = append(compatible, e)
		}
	}

	return o.pickByEnergyProximity(ac, StageCookedReferenceExact, compatible)
}

// =============================================================================
// Stage S3: Commercial Cooked Exact
// =============================================================================

// stageCommercialCookedExact matches commercial entries that are already in
// cooked form, under the same energy gate as the reference path.
func (o *Orchestrator) stageCommercialCookedExact(_ context.Context, ac *alignContext) (*stageOutcome, bool) {
	if len(ac.pool.Commercial) == 0 {
		return nil, false
	}
	ac.builder.evaluated(StageCommercialCookedExact)

	outcome := o.gates.Apply(ac.cfg, ac.feats, ac.predictedKcal, ac.pool.Commercial)
	ac.builder.gateCounts(outcome.Counts)

	cooked := outcome.Passed[:0:0]
	for _, e := range outcome.Passed {
		if e.Form == "cooked" || e.Method != "" {
			cooked = append(cooked, e)
		}
	}

	return o.pickByEnergyProximity(ac, StageCommercialCookedExact, cooked)
}

// pickByEnergyProximity selects the best-scoring candidate within the strict
// energy window, falling back to the relaxed window. With no energy
// prediction every candidate counts as strict.
func (o *Orchestrator) pickByEnergyProximity(ac *alignContext, stage Stage, entries []catalog.Entry) (*stageOutcome, bool) {
	in := ac.scoringInputs()
	var (
		strictBest, relaxedBest   *catalog.Entry
		strictM, relaxedM         catalog.Macros
		strictScore, relaxedScore float64
	)
	for i := range entries {
		e := entries[i]
		per100, _ := nutrition.NormalizeEntry(e, ac.cfg.Conversion.AtwaterTolerancePct)
		b := scoring.Score(in, e, per100.Kcal, &ac.cfg.Methods)

		switch energyTier(ac.predictedKcal, per100.Kcal) {
		case tierStrict:
			if strictBest == nil || b.Total > strictScore {
				strictBest, strictM, strictScore = &entries[i], per100, b.Total
			}
		case tierRelaxed:
			if relaxedBest == nil || b.Total > relaxedScore {
				relaxedBest, relaxedM, relaxedScore = &entries[i], per100, b.Total
			}
		case tierRejected:
			recordRunnerUp(ac, stage, e.ID, b.Total)
		}
	}

	best, bestM := strictBest, strictM
	if best == nil {
		best, bestM = relaxedBest, relaxedM
	}
	if best == nil {
		return nil, false
	}
	if strictBest != nil && relaxedBest != nil {
		recordRunnerUp(ac, stage, relaxedBest.ID, relaxedScore)
	}

	return &stageOutcome{
		match:  catalog.Match{Kind: catalog.MatchReal, Entry: best},
		macros: bestM,
	}, true
}

type proximityTier int

const (
	tierStrict proximityTier = iota
	tierRelaxed
	tierRejected
)

func energyTier(predicted, actual float64) proximityTier {
	if predicted <= 0 {
		return tierStrict
	}
	dev := math.Abs(actual-predicted) / predicted
	switch {
	case dev <= exactStrictWindow:
		return tierStrict
	case dev <= exactRelaxedWindow:
		return tierRelaxed
	default:
		return tierRejected
	}
}

// =============================================================================
// Stage S4: Commercial Energy Closest
// =============================================================================

// stageCommercialEnergyClosest picks the commercial entry with energy closest
// to the prediction, behind a token-coverage requirement and a score floor.
// The floor rises for two-token meat queries, where a single shared word like
// "chicken" matches far too much.
func (o *Orchestrator) stageCommercialEnergyClosest(_ context.Context, ac *alignContext) (*stageOutcome, bool) {
	if len(ac.pool.Commercial) == 0 || ac.predictedKcal <= 0 {
		return nil, false
	}
	ac.builder.evaluated(StageCommercialEnergyClosest)

	outcome := o.gates.Apply(ac.cfg, ac.feats, ac.predictedKcal, ac.pool.Commercial)
	ac.builder.gateCounts(outcome.Counts)

	floor := ac.cfg.Thresholds.CommercialFloor
	if ac.feats.Category == "meat" && len(ac.feats.Tokens) == 2 {
		floor = ac.cfg.Thresholds.CommercialTwoTokenMeatFloor
	}

	// A single shared token is not coverage. Queries with fewer than two
	// content tokens cannot pass this stage at all.
	const minCoverage = 2

	in := ac.scoringInputs()
	var (
		best     *catalog.Entry
		bestM    catalog.Macros
		bestDist float64
	)
	for i := range outcome.Passed {
		e := outcome.Passed[i]
		if overlapCount(ac.feats.Tokens, taxonomy.ContentTokens(e.Name)) < minCoverage {
			continue
		}
		per100, _ := nutrition.NormalizeEntry(e, ac.cfg.Conversion.AtwaterTolerancePct)
		b := scoring.Score(in, e, per100.Kcal, &ac.cfg.Methods)
		if b.Total < floor {
			recordRunnerUp(ac, StageCommercialEnergyClosest, e.ID, b.Total)
			continue
		}
		dist := math.Abs(per100.Kcal - ac.predictedKcal)
		if best == nil || dist < bestDist {
			best, bestM, bestDist = &outcome.Passed[i], per100, dist
		}
	}
	if best == nil {
		return nil, false
	}

	return &stageOutcome{
		match:  catalog.Match{Kind: catalog.MatchReal, Entry: best},
		macros: bestM,
	}, true
}

// =============================================================================
// Stage S5: Proxy Alignment
// =============================================================================

// stageProxyAlignment synthesizes a whitelisted proxy profile for classes
// with no usable catalog entry.
func (o *Orchestrator) stageProxyAlignment(_ context.Context, ac *alignContext) (*stageOutcome, bool) {
	ac.builder.evaluated(StageProxyAlignment)
	p, ok := o.proxies.Synthesize(ac.cfg, ac.feats.CoreClass, ac.predictedKcal, ac.pool)
	if !ok {
		return nil, false
	}
	return &stageOutcome{
		match:        catalog.Match{Kind: catalog.MatchSynthetic, Proxy: p},
		macros:       p.Macros,
		proxyFormula: p.Formula,
	}, true
}

// =============================================================================
// Stage SZ: Commercial Last Resort
// =============================================================================

// stageCommercialLastResort is the terminal commercial fallback, reachable
// only when no raw-reference candidate exists at all.
func (o *Orchestrator) stageCommercialLastResort(_ context.Context, ac *alignContext) (*stageOutcome, bool) {
	if len(ac.pool.Raw) > 0 || len(ac.pool.Commercial) == 0 {
		return nil, false
	}
	ac.builder.evaluated(StageCommercialLastResort)

	entry, _, rejections, ok := o.lastResort.Match(ac.cfg, ac.scoringInputs(), ac.pool.Commercial)
	ac.builder.rec.LastResortRejections = rejections
	if !ok {
		return nil, false
	}

	per100, _ := nutrition.NormalizeEntry(*entry, ac.cfg.Conversion.AtwaterTolerancePct)
	return &stageOutcome{
		match:  catalog.Match{Kind: catalog.MatchReal, Entry: entry},
		macros: per100,
	}, true
}

// =============================================================================
// Helpers
// =============================================================================

func (ac *alignContext) scoringInputs() scoring.Inputs {
	return scoring.Inputs{
		Feats:         ac.feats,
		Method:        ac.resolution.Method,
		PredictedKcal: ac.predictedKcal,
	}
}

// recordRunnerUp keeps the single best declined candidate across all stages.
func recordRunnerUp(ac *alignContext, stage Stage, ref string, score float64) {
	if ac.runnerUp == nil || score > ac.runnerUp.Score {
		ac.runnerUp = &RunnerUp{Ref: ref, Stage: stage.String(), Score: score}
	}
}

// containsAllTokens reports whether every required token appears as a word in
// the normalized name.
func containsAllTokens(nameNorm string, required []string) bool {
	fields := strings.Fields(nameNorm)
	have := make(map[string]bool, len(fields))
	for _, f := range fields {
		have[f] = true
	}
	for _, r := range required {
		if !have[r] {
			return false
		}
	}
	return true
}

// overlapCount counts query tokens present in the candidate token set.
func overlapCount(queryTokens, nameTokens []string) int {
	have := make(map[string]bool, len(nameTokens))
	for _, t := range nameTokens {
		have[t] = true
	}
	n := 0
	for _, q := range queryTokens {
		if have[q] {
			n++
		}
	}
	return n
}
