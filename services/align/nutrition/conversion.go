// Copyright (C) 2026 MacroLens AI (oss@macrolens.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package nutrition

import (
	"context"
	"log/slog"
	"math"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MacroLensAI/MacroLens/services/align/catalog"
	"github.com/MacroLensAI/MacroLens/services/align/config"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	conversionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "macrolens",
		Subsystem: "conversion",
		Name:      "total",
		Help:      "Raw→cooked conversion outcomes: accepted, clamped, rejected, no_factor",
	}, []string{"outcome"})
)

// =============================================================================
// OTel Tracer
// =============================================================================

var conversionTracer = otel.Tracer("macrolens.align.nutrition")

// =============================================================================
// Conversion Engine
// =============================================================================

// Conversion wraps a raw-reference entry transformed to cooked form.
//
// Description:
//
//	Ephemeral: created per alignment attempt and discarded with it. The
//	wrapped entry is never mutated; the converted macros are a new value.
type Conversion struct {
	// Entry is the raw-reference entry the conversion started from.
	Entry catalog.Entry

	// Method is the target cooking method.
	Method string

	// Factor is the retention/yield/uptake row that was applied.
	Factor config.ConversionFactor

	// Macros is the converted per-100g cooked profile, energy recomputed
	// via Atwater from the adjusted macros.
	Macros catalog.Macros

	// EnergyClamped is true when the recomputed energy fell outside the
	// method's plausible band and was clamped into it.
	EnergyClamped bool
}

// Engine applies raw→cooked conversions.
//
// Thread Safety: Stateless beyond the logger; safe for concurrent use.
type Engine struct {
	logger *slog.Logger
}

// NewEngine creates a conversion Engine. A nil logger uses slog.Default().
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// Convert transforms a raw-reference entry into a cooked per-100g profile.
//
// Description:
//
//	Steps: normalize the raw entry to per-100g with reconciled energy,
//	apply per-macro retention, divide by the mass yield so values stay on a
//	per-100g-cooked basis, add surface-oil uptake as extra fat mass,
//	recompute energy via Atwater, then clamp into the method's plausible
//	energy band when one is defined. The conversion is accepted only when
//	the resulting energy is within the configured tolerance of the
//	predicted energy density, or clamping occurred. Clamping is itself
//	evidence of plausibility.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//	cfg - Conversion configuration. Must not be nil.
//	raw - The raw-reference candidate.
//	category - The query's broad category (selects the factor row).
//	method - The target cooking method.
//	predictedKcal - Predicted cooked energy density; zero disables the
//	                acceptance check.
//
// Outputs:
//
//	*Conversion - The converted profile, or nil when declined.
//	bool - True when the conversion is accepted.
//
// Thread Safety: Safe for concurrent use.
func (e *Engine) Convert(ctx context.Context, cfg *config.ConversionConfig, raw catalog.Entry, category, method string, predictedKcal float64) (*Conversion, bool) {
	_, span := conversionTracer.Start(ctx, "nutrition.Engine.Convert",
		trace.WithAttributes(
			attribute.String("entry_id", raw.ID),
			attribute.String("method", method),
		),
	)
	defer span.End()

	factor, ok := cfg.FactorFor(category, method)
	if !ok {
		conversionTotal.WithLabelValues("no_factor").Inc()
		span.SetAttributes(attribute.Bool("factor_found", false))
		return nil, false
	}

	per100, _ := NormalizeEntry(raw, cfg.AtwaterTolerancePct)

	// Retention, then mass-basis adjustment: per-100g cooked values are the
	// retained mass divided by the yield.
	m := catalog.Macros{
		ProteinG: per100.ProteinG * factor.ProteinRetention / factor.YieldFactor,
		CarbsG:   per100.CarbsG * factor.CarbRetention / factor.YieldFactor,
		FatG:     per100.FatG*factor.FatRetention/factor.YieldFactor + factor.OilUptakeG,
	}
	m.Kcal = AtwaterKcal(m.ProteinG, m.CarbsG, m.FatG, nil)

	conv := &Conversion{
		Entry:  raw,
		Method: method,
		Factor: factor,
		Macros: m,
	}

	if band, hasBand := cfg.BandFor(category, method); hasBand && !band.Contains(m.Kcal) {
		clamped := math.Min(math.Max(m.Kcal, band.MinKcal), band.MaxKcal)
		e.logger.Debug("converted energy clamped into method band",
			slog.String("entry_id", raw.ID),
			slog.String("method", method),
			slog.Float64("kcal", m.Kcal),
			slog.Float64("clamped_kcal", clamped),
		)
		conv.Macros.Kcal = clamped
		conv.EnergyClamped = true
	}

	span.SetAttributes(
		attribute.Float64("converted_kcal", conv.Macros.Kcal),
		attribute.Bool("energy_clamped", conv.EnergyClamped),
	)

	if conv.EnergyClamped {
		conversionTotal.WithLabelValues("clamped").Inc()
		return conv, true
	}

	tolerance := cfg.EnergyTolerancePct
	if tolerance <= 0 {
		tolerance = 30
	}
	if predictedKcal > 0 {
		deviation := math.Abs(conv.Macros.Kcal-predictedKcal) / predictedKcal * 100
		if deviation > tolerance {
			conversionTotal.WithLabelValues("rejected").Inc()
			span.SetAttributes(attribute.Float64("deviation_pct", deviation))
			return nil, false
		}
	}

	conversionTotal.WithLabelValues("accepted").Inc()
	return conv, true
}
