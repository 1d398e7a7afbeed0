// Copyright (C) 2026 MacroLens AI (oss@macrolens.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package proxy

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/MacroLensAI/MacroLens/services/align/catalog"
	"github.com/MacroLensAI/MacroLens/services/align/config"
	"github.com/MacroLensAI/MacroLens/services/align/gates"
	"github.com/MacroLensAI/MacroLens/services/align/nutrition"
	"github.com/MacroLensAI/MacroLens/services/align/scoring"
	"github.com/MacroLensAI/MacroLens/services/align/taxonomy"
)

var lastResortTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "macrolens",
	Subsystem: "proxy",
	Name:      "last_resort_total",
	Help:      "Commercial last-resort outcomes: matched, category_denied, no_survivors, below_floor",
}, []string{"outcome"})

// coverageSynonyms widens token coverage counting with common commercial
// naming variants. Keys and values are already normalized tokens.
var coverageSynonyms = map[string][]string{
	"fry":     {"chip", "wedge"},
	"chip":    {"crisp"},
	"steak":   {"fillet", "filet"},
	"roll":    {"bun"},
	"soda":    {"cola", "pop"},
	"cookie":  {"biscuit"},
	"shrimp":  {"prawn"},
	"pancake": {"flapjack"},
}

// LastResortMatcher is the terminal commercial fallback. It runs only when
// the cascade has exhausted every reference-backed route, and it holds
// candidates to the strictest bar in the pipeline: the full gate chain, a
// category allow-list, an ingredient-statement scan, minimum token coverage,
// and a score floor.
type LastResortMatcher struct {
	gates  *gates.Chain
	logger *slog.Logger
}

// NewLastResortMatcher creates a LastResortMatcher. A nil logger uses
// slog.Default().
func NewLastResortMatcher(chain *gates.Chain, logger *slog.Logger) *LastResortMatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LastResortMatcher{gates: chain, logger: logger}
}

// Match scans the commercial pool for a last-resort candidate.
//
// Inputs:
//
//	cfg - The active configuration. Must not be nil.
//	in - Query-side scoring context.
//	commercial - The commercial partition of the candidate pool.
//
// Outputs:
//
//	*catalog.Entry - The winning entry, or nil.
//	scoring.Breakdown - The winner's score breakdown.
//	[]string - Gate rejection details, kept for the audit record.
//	bool - True when a candidate cleared every bar.
//
// Thread Safety: Safe for concurrent use.
func (m *LastResortMatcher) Match(cfg *config.Config, in scoring.Inputs, commercial []catalog.Entry) (*catalog.Entry, scoring.Breakdown, []string, bool) {
	if !cfg.StageZ.AllowsCategory(in.Feats.Category) {
		lastResortTotal.WithLabelValues("category_denied").Inc()
		return nil, scoring.Breakdown{}, []string{"category not allow-listed: " + in.Feats.Category}, false
	}

	outcome := m.gates.Apply(cfg, in.Feats, in.PredictedKcal, commercial)
	rejections := make([]string, 0, len(outcome.Rejections))
	for _, r := range outcome.Rejections {
		rejections = append(rejections, fmt.Sprintf("%s: %s (%s)", r.EntryID, r.Gate, r.Detail))
	}
	if len(outcome.Passed) == 0 {
		lastResortTotal.WithLabelValues("no_survivors").Inc()
		return nil, scoring.Breakdown{}, rejections, false
	}

	var (
		best      *catalog.Entry
		bestScore scoring.Breakdown
	)
	for i := range outcome.Passed {
		e := outcome.Passed[i]
		if detail, bad := ingredientSanity(cfg, in.Feats, e); bad {
			rejections = append(rejections, fmt.Sprintf("%s: ingredient_sanity (%s)", e.ID, detail))
			continue
		}
		if tokenCoverage(in.Feats.Tokens, taxonomy.ContentTokens(e.Name)) < cfg.StageZ.MinTokenCoverage {
			continue
		}
		per100, _ := nutrition.NormalizeEntry(e, cfg.Conversion.AtwaterTolerancePct)
		b := scoring.Score(in, e, per100.Kcal, &cfg.Methods)
		if best == nil || b.Total > bestScore.Total {
			best = &outcome.Passed[i]
			bestScore = b
		}
	}

	if best == nil || bestScore.Total < cfg.StageZ.ScoreFloor {
		lastResortTotal.WithLabelValues("below_floor").Inc()
		return nil, scoring.Breakdown{}, rejections, false
	}

	lastResortTotal.WithLabelValues("matched").Inc()
	m.logger.Info("last-resort commercial match",
		slog.String("entry_id", best.ID),
		slog.Float64("score", bestScore.Total),
	)
	return best, bestScore, rejections, true
}

// ingredientProcessingTokens mark breading and batter inside an ingredient
// statement. The processing-mismatch gate only sees the product name; a
// "crispy strips" label betrays nothing until the statement is read.
var ingredientProcessingTokens = []string{"batter", "breading", "breadcrumb"}

// lastResortMaxSugarG caps sugar for savory last-resort stand-ins. A glazed
// or candied commercial product is not a substitute for plain meat or fish.
const lastResortMaxSugarG = 10.0

// ingredientSanity checks the parts of a commercial record the gate chain
// never reads: the ingredient statement and the sugar figure.
func ingredientSanity(cfg *config.Config, feats taxonomy.Features, e catalog.Entry) (string, bool) {
	if e.Ingredients != "" {
		ingNorm := strings.Join(taxonomy.Normalize(e.Ingredients), " ")
		for _, token := range cfg.NegativeVocabulary[feats.CoreClass] {
			if explicitSpecies(feats, token) {
				continue
			}
			if strings.Contains(ingNorm, token) {
				return "deny token " + token + " in ingredient statement", true
			}
		}
		for _, p := range ingredientProcessingTokens {
			if strings.Contains(ingNorm, p) {
				return "processing token " + p + " in ingredient statement", true
			}
		}
	}
	if feats.Category == "meat" || feats.Category == "fish" {
		if e.SugarG != nil && *e.SugarG > lastResortMaxSugarG {
			return fmt.Sprintf("sugar %.1fg implausible for %s", *e.SugarG, feats.Category), true
		}
	}
	return "", false
}

func explicitSpecies(feats taxonomy.Features, token string) bool {
	for _, s := range feats.SpeciesTokens {
		if s == token {
			return true
		}
	}
	return false
}

// tokenCoverage counts how many query tokens appear in the candidate name,
// accepting known synonyms.
func tokenCoverage(queryTokens, nameTokens []string) int {
	have := make(map[string]bool, len(nameTokens))
	for _, t := range nameTokens {
		have[t] = true
	}
	covered := 0
	for _, q := range queryTokens {
		if have[q] {
			covered++
			continue
		}
		for _, syn := range coverageSynonyms[q] {
			if have[syn] {
				covered++
				break
			}
		}
	}
	return covered
}
