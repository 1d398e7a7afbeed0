// Copyright (C) 2026 MacroLens AI (oss@macrolens.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package gates implements the ordered, short-circuiting candidate filters
// applied before scoring. A rejection drops the candidate and increments a
// typed counter; nothing is ever dropped silently.
package gates

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/MacroLensAI/MacroLens/services/align/catalog"
	"github.com/MacroLensAI/MacroLens/services/align/config"
	"github.com/MacroLensAI/MacroLens/services/align/nutrition"
	"github.com/MacroLensAI/MacroLens/services/align/taxonomy"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	gateRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "macrolens",
		Subsystem: "gates",
		Name:      "rejections_total",
		Help:      "Candidate rejections by gate type",
	}, []string{"gate"})
)

// =============================================================================
// Gate Types
// =============================================================================

// Gate identifies which filter rejected a candidate.
type Gate int

const (
	// GateWholeFoodIngredientBan rejects milled/processed names for classes
	// that must remain whole.
	GateWholeFoodIngredientBan Gate = iota

	// GateProcessingMismatch rejects breaded/battered/nugget-style entries
	// the query did not ask for.
	GateProcessingMismatch

	// GateNegativeVocabulary rejects per-class deny-list tokens.
	GateNegativeVocabulary

	// GateMacroPlausibility rejects category-implausible macro profiles.
	GateMacroPlausibility

	// GateSodium rejects under-salted candidates for pickled/fermented/
	// brined classes.
	GateSodium

	// GatePlausibilityBand rejects energy outside the subclass band.
	GatePlausibilityBand

	// GateColorConflict rejects a conflicting explicit color.
	GateColorConflict

	// GateSpeciesConflict rejects a conflicting explicit species.
	GateSpeciesConflict
)

// String returns the canonical gate label. Panics outside the closed set.
func (g Gate) String() string {
	switch g {
	case GateWholeFoodIngredientBan:
		return "whole_food_ingredient_ban"
	case GateProcessingMismatch:
		return "processing_mismatch"
	case GateNegativeVocabulary:
		return "negative_vocabulary"
	case GateMacroPlausibility:
		return "macro_plausibility"
	case GateSodium:
		return "sodium"
	case GatePlausibilityBand:
		return "plausibility_band"
	case GateColorConflict:
		return "color_conflict"
	case GateSpeciesConflict:
		return "species_conflict"
	default:
		panic(fmt.Sprintf("gates: invalid gate %d", int(g)))
	}
}

// Rejection records one dropped candidate.
type Rejection struct {
	// EntryID is the rejected candidate's catalog ID.
	EntryID string

	// Gate is the filter that fired.
	Gate Gate

	// Detail is a short human-readable reason.
	Detail string
}

// Outcome is the result of running the chain over one candidate list.
type Outcome struct {
	// Passed holds the surviving candidates in input order.
	Passed []catalog.Entry

	// Rejections lists every dropped candidate with its gate.
	Rejections []Rejection

	// Counts maps gate label to rejection count, for telemetry.
	Counts map[string]int
}

// =============================================================================
// Built-in Vocabularies
// =============================================================================

// wholeFoodClasses must remain whole: a milled or processed form of these is
// a different food entirely (corn kernel vs corn flour).
var wholeFoodClasses = map[string]bool{
	"corn_kernel":  true,
	"potato":       true,
	"sweet_potato": true,
	"rice":         true,
	"oatmeal":      true,
	"lentils":      true,
	"black_beans":  true,
}

// milledTokens disqualify candidates for whole-food classes.
var milledTokens = []string{"flour", "starch", "meal", "batter", "breading"}

// processingTokens mark breaded/battered/nugget-style commercial products.
var processingTokens = []string{"breaded", "battered", "nugget", "nuggets", "tempura", "popcorn"}

// Macro plausibility bounds, category-conditioned. Empirically tuned.
const (
	leanMeatMinProteinG   = 18.0
	leanMeatMaxCarbsG     = 5.0
	cookedStarchMinCarbsG = 20.0
	cookedStarchMaxFatG   = 5.0
	vegetableMaxKcal      = 150.0
	fruitMaxProteinG      = 2.5
	fruitMaxFatG          = 2.0

	// A high-energy candidate for a predicted-low-energy food is implausible
	// regardless of category.
	lowEnergyPredictionKcal = 80.0
	highEnergyCandidateKcal = 250.0
)

// =============================================================================
// Chain
// =============================================================================

// Chain applies the ordered quality gates.
//
// Thread Safety: Stateless beyond the logger; safe for concurrent use with
// per-call config values.
type Chain struct {
	logger *slog.Logger
}

// NewChain creates a gate Chain. A nil logger uses slog.Default().
func NewChain(logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{logger: logger}
}

// Apply runs every gate over every candidate, short-circuiting per candidate
// at the first gate that fires.
//
// Inputs:
//
//	cfg - The active configuration. Must not be nil.
//	feats - The query's taxonomy features.
//	predictedKcal - Predicted energy density; zero disables energy checks.
//	entries - Candidates to filter. May be empty.
//
// Outputs:
//
//	Outcome - Survivors in input order plus typed rejection counts.
//
// Thread Safety: Safe for concurrent use.
func (c *Chain) Apply(cfg *config.Config, feats taxonomy.Features, predictedKcal float64, entries []catalog.Entry) Outcome {
	out := Outcome{Counts: make(map[string]int)}

	for _, e := range entries {
		if gate, detail, rejected := c.check(cfg, feats, predictedKcal, e); rejected {
			out.Rejections = append(out.Rejections, Rejection{EntryID: e.ID, Gate: gate, Detail: detail})
			out.Counts[gate.String()]++
			gateRejectionsTotal.WithLabelValues(gate.String()).Inc()
			c.logger.Debug("candidate rejected",
				slog.String("entry_id", e.ID),
				slog.String("gate", gate.String()),
				slog.String("detail", detail),
			)
			continue
		}
		out.Passed = append(out.Passed, e)
	}

	return out
}

// check runs the gates in their fixed order against one candidate.
func (c *Chain) check(cfg *config.Config, feats taxonomy.Features, predictedKcal float64, e catalog.Entry) (Gate, string, bool) {
	nameNorm := strings.Join(taxonomy.Normalize(e.Name), " ")
	per100, _ := nutrition.NormalizeEntry(e, cfg.Conversion.AtwaterTolerancePct)

	if detail, ok := wholeFoodBan(feats, nameNorm); ok {
		return GateWholeFoodIngredientBan, detail, true
	}
	if detail, ok := processingMismatch(feats, e, nameNorm); ok {
		return GateProcessingMismatch, detail, true
	}
	if detail, ok := negativeVocabulary(cfg, feats, nameNorm); ok {
		return GateNegativeVocabulary, detail, true
	}
	if detail, ok := macroPlausibility(feats, e.Provenance, predictedKcal, per100); ok {
		return GateMacroPlausibility, detail, true
	}
	if detail, ok := sodiumGate(cfg, feats, e); ok {
		return GateSodium, detail, true
	}
	if detail, ok := plausibilityBand(cfg, feats, e.Provenance, per100.Kcal); ok {
		return GatePlausibilityBand, detail, true
	}
	if detail, ok := colorConflict(feats, nameNorm); ok {
		return GateColorConflict, detail, true
	}
	if detail, ok := speciesConflict(feats, nameNorm); ok {
		return GateSpeciesConflict, detail, true
	}
	return 0, "", false
}

// =============================================================================
// Gate Implementations
// =============================================================================

func wholeFoodBan(feats taxonomy.Features, nameNorm string) (string, bool) {
	if !wholeFoodClasses[feats.CoreClass] {
		return "", false
	}
	for _, t := range milledTokens {
		if strings.Contains(nameNorm, t) {
			return "whole-food class matched milled token " + t, true
		}
	}
	return "", false
}

func processingMismatch(feats taxonomy.Features, e catalog.Entry, nameNorm string) (string, bool) {
	if e.Provenance != catalog.ProvenanceCommercial {
		return "", false
	}
	queryRequested := false
	for _, t := range feats.Tokens {
		for _, p := range processingTokens {
			if t == p {
				queryRequested = true
			}
		}
	}
	if queryRequested {
		return "", false
	}
	for _, p := range processingTokens {
		if strings.Contains(nameNorm, p) {
			return "unrequested processing token " + p, true
		}
	}
	return "", false
}

func negativeVocabulary(cfg *config.Config, feats taxonomy.Features, nameNorm string) (string, bool) {
	deny := cfg.NegativeVocabulary[feats.CoreClass]
	for _, token := range deny {
		// An explicit species modifier on the query overrides the species
		// part of the deny list ("turkey bacon" may match turkey entries).
		if isQuerySpecies(feats, token) {
			continue
		}
		if strings.Contains(nameNorm, token) {
			return "deny token " + token, true
		}
	}
	return "", false
}

func isQuerySpecies(feats taxonomy.Features, token string) bool {
	for _, s := range feats.SpeciesTokens {
		if s == token {
			return true
		}
	}
	return false
}

func macroPlausibility(feats taxonomy.Features, prov catalog.Provenance, predictedKcal float64, m catalog.Macros) (string, bool) {
	// The lean-meat and cooked-starch bounds describe cooked food. A
	// raw-reference candidate is the input to conversion, not a final
	// answer, so those bounds do not apply to it.
	cookedEntry := prov != catalog.ProvenanceRawReference

	switch feats.Category {
	case "meat":
		if cookedEntry {
			if m.ProteinG < leanMeatMinProteinG && feats.CoreClass != "bacon" && feats.CoreClass != "sausage" {
				return fmt.Sprintf("meat protein %.1fg below %.0fg", m.ProteinG, leanMeatMinProteinG), true
			}
			if m.CarbsG > leanMeatMaxCarbsG {
				return fmt.Sprintf("meat carbs %.1fg above %.0fg", m.CarbsG, leanMeatMaxCarbsG), true
			}
		}
	case "starch":
		if cookedEntry {
			if m.CarbsG < cookedStarchMinCarbsG {
				return fmt.Sprintf("cooked starch carbs %.1fg below %.0fg", m.CarbsG, cookedStarchMinCarbsG), true
			}
			if m.FatG > cookedStarchMaxFatG && feats.Form != "fried" {
				return fmt.Sprintf("cooked starch fat %.1fg above %.0fg", m.FatG, cookedStarchMaxFatG), true
			}
		}
	case "vegetable":
		if m.Kcal > vegetableMaxKcal {
			return fmt.Sprintf("vegetable energy %.0f kcal above %.0f", m.Kcal, vegetableMaxKcal), true
		}
	case "fruit":
		if feats.CoreClass != "avocado" {
			if m.ProteinG > fruitMaxProteinG {
				return fmt.Sprintf("fruit protein %.1fg above %.1fg", m.ProteinG, fruitMaxProteinG), true
			}
			if m.FatG > fruitMaxFatG {
				return fmt.Sprintf("fruit fat %.1fg above %.1fg", m.FatG, fruitMaxFatG), true
			}
		}
	}

	if predictedKcal > 0 && predictedKcal < lowEnergyPredictionKcal && m.Kcal > highEnergyCandidateKcal {
		return fmt.Sprintf("candidate %.0f kcal implausible for predicted %.0f", m.Kcal, predictedKcal), true
	}

	return "", false
}

func sodiumGate(cfg *config.Config, feats taxonomy.Features, e catalog.Entry) (string, bool) {
	min, ok := cfg.SodiumMinimumsMg[feats.CoreClass]
	if !ok {
		return "", false
	}
	// Unknown sodium passes: the gate targets raw entries masquerading as
	// pickled forms, and those carry sodium data.
	if e.SodiumMg == nil {
		return "", false
	}
	if *e.SodiumMg < min {
		return fmt.Sprintf("sodium %.0f mg below minimum %.0f mg", *e.SodiumMg, min), true
	}
	return "", false
}

func plausibilityBand(cfg *config.Config, feats taxonomy.Features, prov catalog.Provenance, kcal float64) (string, bool) {
	band, ok := cfg.EnergyBands[feats.CoreClass]
	if !ok {
		return "", false
	}
	// Bands describe the finished food. Raw-reference entries feed the
	// conversion engine, whose own method band does this job.
	if prov == catalog.ProvenanceRawReference && feats.Form != "raw" {
		return "", false
	}
	if !band.Contains(kcal) {
		return fmt.Sprintf("energy %.0f kcal outside band [%.0f, %.0f]", kcal, band.MinKcal, band.MaxKcal), true
	}
	return "", false
}

func colorConflict(feats taxonomy.Features, nameNorm string) (string, bool) {
	if len(feats.ColorTokens) == 0 {
		return "", false
	}
	for _, t := range strings.Fields(nameNorm) {
		if !taxonomy.IsColorToken(t) {
			continue
		}
		if !containsToken(feats.ColorTokens, t) {
			return "conflicting color " + t, true
		}
	}
	return "", false
}

func speciesConflict(feats taxonomy.Features, nameNorm string) (string, bool) {
	if len(feats.SpeciesTokens) == 0 {
		return "", false
	}
	for _, t := range strings.Fields(nameNorm) {
		if !taxonomy.IsSpeciesToken(t) {
			continue
		}
		if !containsToken(feats.SpeciesTokens, t) {
			return "conflicting species " + t, true
		}
	}
	return "", false
}

func containsToken(list []string, t string) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}
