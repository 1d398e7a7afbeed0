// Copyright (C) 2026 MacroLens AI (oss@macrolens.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package engine implements the alignment orchestrator: the stage-precedence
// state machine that matches one detected food item to a catalog nutrition
// record and emits a complete audit telemetry record for every decision.
package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MacroLensAI/MacroLens/services/align/catalog"
	"github.com/MacroLensAI/MacroLens/services/align/taxonomy"
)

// =============================================================================
// Stage
// =============================================================================

// Stage identifies which cascade state produced an alignment decision.
//
// Description:
//
//	The cascade is a fixed-precedence state machine; every terminal outcome,
//	including total failure, carries exactly one of these values. The set is
//	closed: there is no "unknown" sentinel, and downstream audit tooling
//	hard-fails on any label outside this list.
type Stage int

const (
	// StageRawReferenceDirect matches a raw-form query directly against the
	// raw-reference pool.
	StageRawReferenceDirect Stage = iota

	// StageCookedReferenceWhitelist matches a tiny whitelist of cooked
	// classes that require every whitelist token present.
	StageCookedReferenceWhitelist

	// StageRawPlusConversion converts the best raw-reference candidate to
	// cooked form. Preferred whenever any raw-reference candidate exists.
	StageRawPlusConversion

	// StageCookedReferenceExact matches cooked-reference entries with a
	// compatible method and tight energy proximity. Reached only when no
	// raw-reference candidate exists.
	StageCookedReferenceExact

	// StageCommercialCookedExact matches already-cooked commercial entries
	// under the same energy gate.
	StageCommercialCookedExact

	// StageCommercialEnergyClosest picks the energy-closest commercial entry
	// behind a token-coverage requirement and a score floor.
	StageCommercialEnergyClosest

	// StageProxyAlignment synthesizes a whitelisted proxy profile.
	StageProxyAlignment

	// StageCommercialLastResort is the terminal commercial fallback behind
	// the strictest gates.
	StageCommercialLastResort

	// StageNoCandidates is the terminal failure state: zero macros, method-
	// adjusted confidence, full telemetry.
	StageNoCandidates
)

// String returns the canonical stage label.
//
// Panics on a value outside the closed set: that is an engine bug, and audit
// tooling downstream hard-fails on unknown stage labels.
func (s Stage) String() string {
	switch s {
	case StageRawReferenceDirect:
		return "raw_reference_direct"
	case StageCookedReferenceWhitelist:
		return "cooked_reference_whitelist"
	case StageRawPlusConversion:
		return "raw_plus_conversion"
	case StageCookedReferenceExact:
		return "cooked_reference_exact"
	case StageCommercialCookedExact:
		return "commercial_cooked_exact"
	case StageCommercialEnergyClosest:
		return "commercial_energy_closest"
	case StageProxyAlignment:
		return "proxy_alignment"
	case StageCommercialLastResort:
		return "commercial_last_resort"
	case StageNoCandidates:
		return "no_candidates"
	default:
		panic(fmt.Sprintf("engine: invalid stage %d", int(s)))
	}
}

// confidenceCeiling returns the upper confidence bound a stage may emit.
// Later, weaker stages cap lower.
func (s Stage) confidenceCeiling() float64 {
	switch s {
	case StageRawReferenceDirect:
		return 0.95
	case StageCookedReferenceWhitelist, StageRawPlusConversion, StageCookedReferenceExact:
		return 0.90
	case StageCommercialCookedExact:
		return 0.80
	case StageCommercialEnergyClosest:
		return 0.70
	case StageProxyAlignment:
		return 0.60
	case StageCommercialLastResort:
		return 0.50
	case StageNoCandidates:
		return 0.95
	default:
		panic(fmt.Sprintf("engine: invalid stage %d", int(s)))
	}
}

// =============================================================================
// FoodQuery
// =============================================================================

// FoodQuery is one detected food item to align. Created once by the caller
// and never mutated by the engine.
type FoodQuery struct {
	// Name is the detected food name.
	Name string `json:"name" validate:"required"`

	// Form is the caller's form hint ("raw", "grilled", "cooked", ...).
	// May be empty.
	Form string `json:"form,omitempty"`

	// MassGrams is the estimated portion mass.
	MassGrams float64 `json:"mass_grams" validate:"gt=0"`

	// Confidence is the caller's detection confidence.
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`

	// Modifiers are extra descriptor strings from the caller. May be nil.
	Modifiers []string `json:"modifiers,omitempty"`
}

// =============================================================================
// Telemetry
// =============================================================================

// PoolCounts is the per-provenance candidate pool breakdown.
type PoolCounts struct {
	Raw        int `json:"raw"`
	Cooked     int `json:"cooked"`
	Commercial int `json:"commercial"`
}

// RunnerUp records the best candidate a stage evaluated but declined, so a
// near-miss is never dropped silently.
type RunnerUp struct {
	// Ref is the candidate's telemetry reference.
	Ref string `json:"ref"`

	// Stage is the stage that evaluated it.
	Stage string `json:"stage"`

	// Score is the composite score it achieved.
	Score float64 `json:"score"`
}

// TelemetryRecord is the mandatory audit output of one alignment decision.
//
// Description:
//
//	Assembled exactly once per call by the orchestrator's builder and never
//	mutated afterwards. One record is emitted per aligned item, success or
//	failure alike; aggregation into coverage reports is an external concern.
type TelemetryRecord struct {
	// ID uniquely identifies this decision.
	ID string `json:"id"`

	// CreatedAt is the decision timestamp (UTC).
	CreatedAt time.Time `json:"created_at"`

	// QueryName echoes the aligned food name.
	QueryName string `json:"query_name"`

	// Stage is the canonical stage label. Never "unknown".
	Stage string `json:"stage"`

	// Method is the resolved cooking method. Never "unknown".
	Method string `json:"method"`

	// MethodReason is the resolution cascade tier label.
	MethodReason string `json:"method_reason"`

	// MatchedRef is the matched entry reference, or "" for no match.
	MatchedRef string `json:"matched_ref,omitempty"`

	// ConversionApplied is true when a raw→cooked conversion produced the
	// emitted macros.
	ConversionApplied bool `json:"conversion_applied"`

	// EnergyClamped is true when the converted energy was clamped into a
	// method band.
	EnergyClamped bool `json:"energy_clamped"`

	// Pool is the per-provenance candidate pool breakdown.
	Pool PoolCounts `json:"pool"`

	// PreferRawBlocked is true when raw-reference candidates existed and so
	// the classic cooked-reference-exact path was never attempted.
	PreferRawBlocked bool `json:"prefer_raw_blocked"`

	// StagesEvaluated lists, in precedence order, every stage whose entry
	// guards cleared and which actually evaluated candidates.
	StagesEvaluated []string `json:"stages_evaluated,omitempty"`

	// ProxyFormula is the human-readable substitution formula for proxy
	// alignments.
	ProxyFormula string `json:"proxy_formula,omitempty"`

	// GateRejections counts candidate rejections by gate label.
	GateRejections map[string]int `json:"gate_rejections,omitempty"`

	// LastResortRejections lists the gate rejection details recorded by the
	// commercial last-resort stage.
	LastResortRejections []string `json:"last_resort_rejections,omitempty"`

	// RunnerUp is the best declined candidate, when any stage kept one.
	RunnerUp *RunnerUp `json:"runner_up,omitempty"`

	// SwitchedFromRef is set when the winning stage picked a different entry
	// than an earlier stage's best candidate.
	SwitchedFromRef string `json:"switched_from_ref,omitempty"`

	// ConfigFallbacks lists config sections served from embedded defaults.
	ConfigFallbacks []string `json:"config_fallbacks,omitempty"`

	// Confidence is the final clamped confidence.
	Confidence float64 `json:"confidence"`
}

// telemetryBuilder accumulates decision facts during one Align call and seals
// them into an immutable TelemetryRecord exactly once.
type telemetryBuilder struct {
	rec TelemetryRecord
}

func newTelemetryBuilder(queryName string) *telemetryBuilder {
	return &telemetryBuilder{rec: TelemetryRecord{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		QueryName: queryName,
	}}
}

func (b *telemetryBuilder) method(res taxonomy.Resolution) *telemetryBuilder {
	b.rec.Method = res.Method
	b.rec.MethodReason = res.Reason.String()
	return b
}

func (b *telemetryBuilder) pool(p catalog.Pool) *telemetryBuilder {
	b.rec.Pool = PoolCounts{Raw: len(p.Raw), Cooked: len(p.Cooked), Commercial: len(p.Commercial)}
	return b
}

func (b *telemetryBuilder) evaluated(stage Stage) *telemetryBuilder {
	b.rec.StagesEvaluated = append(b.rec.StagesEvaluated, stage.String())
	return b
}

func (b *telemetryBuilder) gateCounts(counts map[string]int) *telemetryBuilder {
	if len(counts) == 0 {
		return b
	}
	if b.rec.GateRejections == nil {
		b.rec.GateRejections = make(map[string]int, len(counts))
	}
	for k, v := range counts {
		b.rec.GateRejections[k] += v
	}
	return b
}

// build seals the record. The stage label is resolved here so an out-of-enum
// stage panics before any record escapes.
func (b *telemetryBuilder) build(stage Stage, confidence float64) TelemetryRecord {
	rec := b.rec
	rec.Stage = stage.String()
	rec.Confidence = confidence
	return rec
}

// =============================================================================
// AlignmentResult
// =============================================================================

// AlignmentResult is the engine's sole output. Immutable once built.
type AlignmentResult struct {
	// Match is the matched entry or synthetic proxy, nil for no match.
	Match *catalog.Match `json:"match,omitempty"`

	// Source labels where the macros came from: a provenance label, "proxy",
	// or "none".
	Source string `json:"source"`

	// Macros is the final per-100g profile. Exactly zero for no match.
	Macros catalog.Macros `json:"macros"`

	// MassGrams echoes the query's portion mass so callers can scale.
	MassGrams float64 `json:"mass_grams"`

	// Confidence is the final confidence, clamped to [0.05, 0.95].
	Confidence float64 `json:"confidence"`

	// Stage is the cascade state that produced this result.
	Stage Stage `json:"stage"`

	// Method is the resolved cooking method.
	Method string `json:"method"`

	// MethodReason is the method resolution tier.
	MethodReason taxonomy.MethodReason `json:"method_reason"`

	// ConversionApplied is true when raw→cooked conversion produced Macros.
	ConversionApplied bool `json:"conversion_applied"`

	// Telemetry is the complete audit record for this decision.
	Telemetry TelemetryRecord `json:"telemetry"`
}

// clampConfidence bounds a confidence value to the emitted range.
func clampConfidence(c float64) float64 {
	if c < 0.05 {
		return 0.05
	}
	if c > 0.95 {
		return 0.95
	}
	return c
}

// mustValidConfidence asserts the engine invariant before a result escapes.
func mustValidConfidence(c float64) {
	if c < 0.05 || c > 0.95 {
		panic(fmt.Sprintf("engine: confidence %f outside [0.05, 0.95]", c))
	}
}
