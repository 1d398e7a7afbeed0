// Copyright (C) 2026 MacroLens AI (oss@macrolens.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package proxy implements the two terminal fallbacks of the alignment
// cascade: whitelisted synthetic proxies for catalog gaps, and the commercial
// last-resort matcher behind the strictest gates.
package proxy

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
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
	proxyAlignmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "macrolens",
		Subsystem: "proxy",
		Name:      "alignments_total",
		Help:      "Proxy alignment outcomes by formula kind: composite, lookup, defaults, rejected, not_whitelisted",
	}, []string{"outcome"})
)

// =============================================================================
// Library
// =============================================================================

// Library synthesizes macro profiles for whitelisted classes that lack any
// direct catalog entry.
//
// Description:
//
//	Only classes present in the configured whitelist are ever routed here:
//	each carries a named substitution formula, either a composite blend of two or
//	more base profiles, a name lookup to a close cousin in the candidate
//	pool, or fixed macro defaults. The synthesized profile is validated
//	against the predicted energy within the class-specific tolerance.
//
// Thread Safety: Stateless beyond the logger; safe for concurrent use.
type Library struct {
	logger *slog.Logger
}

// NewLibrary creates a proxy Library. A nil logger uses slog.Default().
func NewLibrary(logger *slog.Logger) *Library {
	if logger == nil {
		logger = slog.Default()
	}
	return &Library{logger: logger}
}

// Synthesize builds a proxy profile for the class, when whitelisted.
//
// Inputs:
//
//	cfg - The active configuration. Must not be nil.
//	class - The query's core class.
//	predictedKcal - Predicted energy density; zero disables validation.
//	pool - The partitioned candidate pool (lookup formulas search it).
//
// Outputs:
//
//	*catalog.SyntheticProxy - The synthesized profile, or nil.
//	bool - True when a valid proxy was produced.
//
// Thread Safety: Safe for concurrent use.
func (l *Library) Synthesize(cfg *config.Config, class string, predictedKcal float64, pool catalog.Pool) (*catalog.SyntheticProxy, bool) {
	formula, ok := cfg.Proxies[class]
	if !ok {
		proxyAlignmentsTotal.WithLabelValues("not_whitelisted").Inc()
		return nil, false
	}

	var proxy *catalog.SyntheticProxy
	switch formula.Kind {
	case "composite":
		proxy = composite(class, formula)
	case "lookup":
		proxy = lookup(cfg, class, formula, pool)
	case "defaults":
		proxy = defaults(class, formula)
	}
	if proxy == nil {
		proxyAlignmentsTotal.WithLabelValues("rejected").Inc()
		return nil, false
	}

	if predictedKcal > 0 {
		deviation := math.Abs(proxy.Macros.Kcal-predictedKcal) / predictedKcal * 100
		if deviation > formula.TolerancePct {
			l.logger.Debug("proxy profile failed energy validation",
				slog.String("class", class),
				slog.Float64("proxy_kcal", proxy.Macros.Kcal),
				slog.Float64("predicted_kcal", predictedKcal),
			)
			proxyAlignmentsTotal.WithLabelValues("rejected").Inc()
			return nil, false
		}
	}

	proxyAlignmentsTotal.WithLabelValues(formula.Kind).Inc()
	l.logger.Info("proxy profile synthesized",
		slog.String("class", class),
		slog.String("formula", proxy.Formula),
		slog.Float64("kcal", proxy.Macros.Kcal),
	)
	return proxy, true
}

// composite blends the base profiles by weight.
func composite(class string, formula config.ProxyFormula) *catalog.SyntheticProxy {
	var m catalog.Macros
	parts := make([]string, 0, len(formula.Bases))
	names := make([]string, 0, len(formula.Bases))
	for _, b := range formula.Bases {
		m.ProteinG += b.Macros.ProteinG * b.Weight
		m.CarbsG += b.Macros.CarbsG * b.Weight
		m.FatG += b.Macros.FatG * b.Weight
		m.Kcal += b.Macros.Kcal * b.Weight
		parts = append(parts, fmt.Sprintf("%.0f%% %s", b.Weight*100, b.Name))
		names = append(names, b.Name)
	}
	return &catalog.SyntheticProxy{
		Class:       class,
		Formula:     strings.Join(parts, " + "),
		SourceNames: names,
		Macros:      m,
	}
}

// lookup finds the close-cousin entry by name in the candidate pool.
func lookup(cfg *config.Config, class string, formula config.ProxyFormula, pool catalog.Pool) *catalog.SyntheticProxy {
	wanted := taxonomy.ContentTokens(formula.LookupName)
	buckets := [][]catalog.Entry{pool.Raw, pool.Cooked, pool.Commercial}
	for _, bucket := range buckets {
		for _, e := range bucket {
			if tokensMatch(wanted, taxonomy.ContentTokens(e.Name)) {
				per100, _ := nutrition.NormalizeEntry(e, cfg.Conversion.AtwaterTolerancePct)
				return &catalog.SyntheticProxy{
					Class:       class,
					Formula:     "lookup: " + formula.LookupName,
					SourceNames: []string{e.Name},
					Macros:      per100,
				}
			}
		}
	}
	return nil
}

// defaults wraps the fixed profile.
func defaults(class string, formula config.ProxyFormula) *catalog.SyntheticProxy {
	return &catalog.SyntheticProxy{
		Class:   class,
		Formula: "fixed defaults",
		Macros:  formula.Defaults,
	}
}

// tokensMatch reports whether every wanted token appears in the candidate's
// token set.
func tokensMatch(wanted, have []string) bool {
	if len(wanted) == 0 {
		return false
	}
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[t] = true
	}
	for _, t := range wanted {
		if !set[t] {
			return false
		}
	}
	return true
}

// Whitelisted returns the whitelisted classes in deterministic order, used
// by diagnostics.
func (l *Library) Whitelisted(cfg *config.Config) []string {
	out := make([]string, 0, len(cfg.Proxies))
	for c := range cfg.Proxies {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
