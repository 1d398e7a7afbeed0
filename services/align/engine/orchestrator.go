// Copyright (C) 2026 MacroLens AI (oss@macrolens.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MacroLensAI/MacroLens/services/align/catalog"
	"github.com/MacroLensAI/MacroLens/services/align/config"
	"github.com/MacroLensAI/MacroLens/services/align/gates"
	"github.com/MacroLensAI/MacroLens/services/align/nutrition"
	"github.com/MacroLensAI/MacroLens/services/align/proxy"
	"github.com/MacroLensAI/MacroLens/services/align/taxonomy"
)

// =============================================================================
// Telemetry
// =============================================================================

var alignTracer = otel.Tracer("macrolens.align.engine")

var (
	alignmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "macrolens",
		Subsystem: "engine",
		Name:      "alignments_total",
		Help:      "Alignment decisions by terminal stage",
	}, []string{"stage"})

	alignmentDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "macrolens",
		Subsystem: "engine",
		Name:      "alignment_duration_seconds",
		Help:      "Wall time of one Align call",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
	})
)

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator is the alignment state machine.
//
// Description:
//
//	Attempts the cascade stages in fixed precedence; the first stage to
//	produce a match wins and no earlier stage is revisited. Each call is a
//	deterministic pure function of (query, candidates, configuration): the
//	orchestrator holds no mutable state, so calls may run concurrently
//	across independent food items.
//
// Thread Safety: Safe for concurrent use.
type Orchestrator struct {
	provider   config.Provider
	classifier *taxonomy.Classifier
	resolver   *taxonomy.MethodResolver
	gates      *gates.Chain
	converter  *nutrition.Engine
	proxies    *proxy.Library
	lastResort *proxy.LastResortMatcher
	validate   *validator.Validate
	logger     *slog.Logger
}

// New creates an Orchestrator reading configuration from provider.
//
// Inputs:
//
//	provider - Source of the active configuration. Must not be nil. Use
//	           config.NewStatic for a fixed config or config.NewWatcher for
//	           hot reload.
//	logger - Structured logger. A nil logger uses slog.Default().
//
// Outputs:
//
//	*Orchestrator - Ready for concurrent Align calls.
func New(provider config.Provider, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	chain := gates.NewChain(logger)
	return &Orchestrator{
		provider:   provider,
		classifier: taxonomy.NewClassifier(logger),
		resolver:   taxonomy.NewMethodResolver(logger),
		gates:      chain,
		converter:  nutrition.NewEngine(logger),
		proxies:    proxy.NewLibrary(logger),
		lastResort: proxy.NewLastResortMatcher(chain, logger),
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		logger:     logger,
	}
}

// alignContext carries the per-call derived state every stage reads.
type alignContext struct {
	cfg           *config.Config
	query         FoodQuery
	feats         taxonomy.Features
	resolution    taxonomy.Resolution
	pool          catalog.Pool
	predictedKcal float64
	builder       *telemetryBuilder

	// runnerUp is the best candidate any stage evaluated and declined.
	runnerUp *RunnerUp
}

// stageOutcome is one successful stage attempt.
type stageOutcome struct {
	match             catalog.Match
	macros            catalog.Macros
	conversionApplied bool
	energyClamped     bool
	proxyFormula      string
}

// stageHandler binds a stage tag to its attempt function.
type stageHandler struct {
	stage Stage
	run   func(ctx context.Context, ac *alignContext) (*stageOutcome, bool)
}

// Align matches one food query against a pre-fetched candidate list.
//
// Description:
//
//	Classification and method resolution run exactly once, the candidate
//	list is partitioned by provenance, and the stage handlers are attempted
//	in precedence order. Every terminal outcome, including no-candidates,
//	produces a complete telemetry record.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//	q - The food query. Validated; invalid queries return an error.
//	candidates - The caller-materialized candidate list. May be empty.
//
// Outputs:
//
//	AlignmentResult - The decision plus its telemetry record.
//	error - Non-nil only for invalid input; a failed alignment is the
//	        StageNoCandidates result, not an error.
//
// Thread Safety: Safe for concurrent use.
func (o *Orchestrator) Align(ctx context.Context, q FoodQuery, candidates []catalog.Entry) (AlignmentResult, error) {
	start := time.Now()
	ctx, span := alignTracer.Start(ctx, "engine.Orchestrator.Align",
		trace.WithAttributes(
			attribute.String("query_name", q.Name),
			attribute.Int("candidates", len(candidates)),
		),
	)
	defer span.End()

	if err := o.validate.Struct(q); err != nil {
		return AlignmentResult{}, fmt.Errorf("invalid food query: %w", err)
	}

	cfg := o.provider.Current()
	feats := o.classifier.Classify(q.Name, q.Form, q.Modifiers)
	resolution := o.resolver.Resolve(&cfg.Methods, feats)
	pool := catalog.Partition(candidates)

	ac := &alignContext{
		cfg:           cfg,
		query:         q,
		feats:         feats,
		resolution:    resolution,
		pool:          pool,
		predictedKcal: predictEnergyDensity(cfg, feats, resolution.Method),
		builder:       newTelemetryBuilder(q.Name),
	}
	ac.builder.method(resolution).pool(pool)
	ac.builder.rec.ConfigFallbacks = cfg.SectionFallbacks
	// Raw-reference presence blocks the classic cooked-exact path outright.
	ac.builder.rec.PreferRawBlocked = len(pool.Raw) > 0 && len(pool.Cooked) > 0

	for _, h := range o.handlers() {
		out, ok := h.run(ctx, ac)
		if !ok {
			continue
		}
		result := o.finish(ac, h.stage, out)
		span.SetAttributes(attribute.String("stage", h.stage.String()))
		alignmentsTotal.WithLabelValues(h.stage.String()).Inc()
		alignmentDuration.Observe(time.Since(start).Seconds())
		return result, nil
	}

	result := o.finishNoMatch(ac)
	span.SetAttributes(attribute.String("stage", StageNoCandidates.String()))
	alignmentsTotal.WithLabelValues(StageNoCandidates.String()).Inc()
	alignmentDuration.Observe(time.Since(start).Seconds())
	return result, nil
}

// handlers returns the cascade in precedence order. First match wins; no
// later retry of an earlier state.
func (o *Orchestrator) handlers() []stageHandler {
	return []stageHandler{
		{StageRawReferenceDirect, o.stageRawReferenceDirect},
		{StageCookedReferenceWhitelist, o.stageCookedReferenceWhitelist},
		{StageRawPlusConversion, o.stageRawPlusConversion},
		{StageCookedReferenceExact, o.stageCookedReferenceExact},
		{StageCommercialCookedExact, o.stageCommercialCookedExact},
		{StageCommercialEnergyClosest, o.stageCommercialEnergyClosest},
		{StageProxyAlignment, o.stageProxyAlignment},
		{StageCommercialLastResort, o.stageCommercialLastResort},
	}
}

// finish assembles the immutable result for a successful stage.
func (o *Orchestrator) finish(ac *alignContext, stage Stage, out *stageOutcome) AlignmentResult {
	confidence := clampConfidence(math.Min(
		ac.query.Confidence-ac.resolution.Reason.Penalty(),
		stage.confidenceCeiling(),
	))
	mustValidConfidence(confidence)

	match := out.match
	ac.builder.rec.MatchedRef = match.Ref()
	ac.builder.rec.ConversionApplied = out.conversionApplied
	ac.builder.rec.EnergyClamped = out.energyClamped
	ac.builder.rec.ProxyFormula = out.proxyFormula
	if ac.runnerUp != nil {
		ac.builder.rec.RunnerUp = ac.runnerUp
		if ac.runnerUp.Ref != match.Ref() {
			ac.builder.rec.SwitchedFromRef = ac.runnerUp.Ref
		}
	}

	source := "proxy"
	if match.Kind == catalog.MatchReal {
		source = match.Entry.Provenance.String()
	}

	o.logger.Info("alignment decided",
		slog.String("query", ac.query.Name),
		slog.String("stage", stage.String()),
		slog.String("ref", match.Ref()),
		slog.Float64("kcal_per_100g", out.macros.Kcal),
	)

	return AlignmentResult{
		Match:             &match,
		Source:            source,
		Macros:            out.macros,
		MassGrams:         ac.query.MassGrams,
		Confidence:        confidence,
		Stage:             stage,
		Method:            ac.resolution.Method,
		MethodReason:      ac.resolution.Reason,
		ConversionApplied: out.conversionApplied,
		Telemetry:         ac.builder.build(stage, confidence),
	}
}

// finishNoMatch assembles the terminal no-candidates result: zero macros and
// the method-adjusted input confidence.
func (o *Orchestrator) finishNoMatch(ac *alignContext) AlignmentResult {
	confidence := clampConfidence(ac.query.Confidence - ac.resolution.Reason.Penalty())
	mustValidConfidence(confidence)
	if ac.runnerUp != nil {
		ac.builder.rec.RunnerUp = ac.runnerUp
	}

	o.logger.Warn("no candidate matched",
		slog.String("query", ac.query.Name),
		slog.String("class", ac.feats.CoreClass),
		slog.Int("candidates", ac.pool.Total()),
	)

	return AlignmentResult{
		Source:       "none",
		MassGrams:    ac.query.MassGrams,
		Confidence:   confidence,
		Stage:        StageNoCandidates,
		Method:       ac.resolution.Method,
		MethodReason: ac.resolution.Reason,
		Telemetry:    ac.builder.build(StageNoCandidates, confidence),
	}
}

// predictEnergyDensity estimates the cooked kcal/100g the match should land
// near. The class band is the best signal; the method band is the fallback.
// Zero disables every energy gate downstream.
func predictEnergyDensity(cfg *config.Config, feats taxonomy.Features, method string) float64 {
	if band, ok := cfg.EnergyBands[feats.CoreClass]; ok {
		return band.Center()
	}
	if band, ok := cfg.Conversion.BandFor(feats.Category, method); ok {
		return band.Center()
	}
	return 0
}
