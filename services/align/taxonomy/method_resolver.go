// Copyright (C) 2026 MacroLens AI (oss@macrolens.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package taxonomy

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/MacroLensAI/MacroLens/services/align/config"
)

// =============================================================================
// Method Reason
// =============================================================================

// MethodReason records which tier of the resolution cascade produced the
// cooking method. The tier order is fixed; each tier carries a confidence
// penalty reflecting how far the resolver had to fall.
type MethodReason int

const (
	// ReasonExplicit: the form maps directly to a method defined for the class.
	ReasonExplicit MethodReason = iota

	// ReasonAlias: the form matched the synonym table.
	ReasonAlias

	// ReasonGenericCookedFallback: the bare "cooked" token, resolved via
	// category policy.
	ReasonGenericCookedFallback

	// ReasonClassFallback: the class's explicit default method.
	ReasonClassFallback

	// ReasonCategoryFallback: the class's broader category default.
	ReasonCategoryFallback

	// ReasonFirstAvailable: deterministic sorted pick among the class's
	// defined methods (or the conservative built-in when none exist).
	ReasonFirstAvailable
)

// String returns the canonical reason code. Panics on a value outside the
// closed set: downstream audit tooling hard-fails on unknown reasons.
func (r MethodReason) String() string {
	switch r {
	case ReasonExplicit:
		return "explicit"
	case ReasonAlias:
		return "alias"
	case ReasonGenericCookedFallback:
		return "generic_cooked_fallback"
	case ReasonClassFallback:
		return "class_fallback"
	case ReasonCategoryFallback:
		return "category_fallback"
	case ReasonFirstAvailable:
		return "first_available"
	default:
		panic(fmt.Sprintf("taxonomy: invalid method reason %d", int(r)))
	}
}

// Penalty returns the fixed confidence penalty for the tier.
func (r MethodReason) Penalty() float64 {
	switch r {
	case ReasonExplicit:
		return 0.0
	case ReasonAlias:
		return 0.03
	case ReasonGenericCookedFallback:
		return 0.08
	case ReasonClassFallback:
		return 0.10
	case ReasonCategoryFallback:
		return 0.15
	case ReasonFirstAvailable:
		return 0.20
	default:
		panic(fmt.Sprintf("taxonomy: invalid method reason %d", int(r)))
	}
}

// Resolution is the outcome of one method resolution.
type Resolution struct {
	// Method is the resolved cooking method. Never empty.
	Method string

	// Reason is the cascade tier that produced the method.
	Reason MethodReason
}

// =============================================================================
// MethodResolver
// =============================================================================

// fallbackMethod is the conservative built-in used when neither the class,
// its category, nor the config define anything.
const fallbackMethod = "roasted"

// MethodResolver cascades a predicted form into a cooking method.
//
// Description:
//
//	Priority cascade per tier: explicit → alias → generic cooked fallback →
//	class default → category default → deterministic first available. The
//	resolver never fails; the worst case is the built-in conservative method
//	at the highest penalty tier.
//
// Thread Safety: Stateless beyond the logger; safe for concurrent use with
// per-call config values.
type MethodResolver struct {
	logger *slog.Logger
}

// NewMethodResolver creates a MethodResolver. A nil logger uses slog.Default().
func NewMethodResolver(logger *slog.Logger) *MethodResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &MethodResolver{logger: logger}
}

// Resolve maps (class, category, form) to a cooking method.
//
// Inputs:
//
//	cfg - The method tables. Must not be nil.
//	feats - The taxonomy features of the query.
//
// Outputs:
//
//	Resolution - Method plus reason tier. Never fails.
//
// Thread Safety: Safe for concurrent use.
func (r *MethodResolver) Resolve(cfg *config.MethodConfig, feats Features) Resolution {
	class, category, form := feats.CoreClass, feats.Category, feats.Form
	classMethods := cfg.ClassMethods[class]

	// Tier 1: explicit, the form itself is a method defined for the class.
	if form != "" && containsString(classMethods, form) {
		return Resolution{Method: form, Reason: ReasonExplicit}
	}
	// A raw-form query needs no cooking method resolution at all.
	if form == "raw" {
		return Resolution{Method: "raw", Reason: ReasonExplicit}
	}

	// Tier 2: alias, the form matches the synonym table.
	if form != "" {
		if method, ok := cfg.Aliases[form]; ok {
			return Resolution{Method: method, Reason: ReasonAlias}
		}
	}

	// Tier 3: bare "cooked", resolved via category policy.
	if form == "cooked" {
		if method, ok := cfg.GenericCooked[category]; ok {
			return Resolution{Method: method, Reason: ReasonGenericCookedFallback}
		}
	}

	// Tier 4: class default.
	if method, ok := cfg.ClassDefaults[class]; ok {
		return Resolution{Method: method, Reason: ReasonClassFallback}
	}

	// Tier 5: category default.
	if method, ok := cfg.CategoryDefaults[category]; ok {
		return Resolution{Method: method, Reason: ReasonCategoryFallback}
	}

	// Tier 6: deterministic sorted pick among the class's methods.
	if len(classMethods) > 0 {
		sorted := make([]string, len(classMethods))
		copy(sorted, classMethods)
		sort.Strings(sorted)
		return Resolution{Method: sorted[0], Reason: ReasonFirstAvailable}
	}

	r.logger.Debug("method resolution exhausted all tiers, using built-in",
		slog.String("class", class),
		slog.String("form", form),
	)
	return Resolution{Method: fallbackMethod, Reason: ReasonFirstAvailable}
}

// MethodsCompatible reports whether two methods are the same or belong to the
// same near-synonym group (roasted ≈ baked ≈ oven). Both sides are alias-
// normalized first.
//
// Thread Safety: Safe for concurrent use.
func MethodsCompatible(cfg *config.MethodConfig, a, b string) bool {
	if na, ok := cfg.Aliases[a]; ok {
		a = na
	}
	if nb, ok := cfg.Aliases[b]; ok {
		b = nb
	}
	if a == b {
		return true
	}
	for _, group := range cfg.CompatGroups {
		if containsString(group, a) && containsString(group, b) {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
