// Copyright (C) 2026 MacroLens AI (oss@macrolens.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package catalog

import "fmt"

// =============================================================================
// Provenance
// =============================================================================

// Provenance identifies which corpus a catalog entry was sourced from.
//
// Description:
//
//	Raw-reference and cooked-reference entries come from curated reference
//	datasets; commercial entries come from packaged/branded products. The
//	alignment engine treats the three pools very differently, so provenance
//	is a closed enum rather than a free-form tag.
type Provenance int

const (
	// ProvenanceRawReference marks curated reference data in raw form.
	ProvenanceRawReference Provenance = iota

	// ProvenanceCookedReference marks curated reference data already cooked.
	ProvenanceCookedReference

	// ProvenanceCommercial marks packaged/branded product data.
	ProvenanceCommercial
)

// String returns the canonical provenance label.
//
// Outputs:
//
//	string - One of "raw_reference", "cooked_reference", "commercial".
//
// Panics on a value outside the closed set: that is an engine bug, and
// downstream audit tooling hard-fails on unknown provenance labels.
func (p Provenance) String() string {
	switch p {
	case ProvenanceRawReference:
		return "raw_reference"
	case ProvenanceCookedReference:
		return "cooked_reference"
	case ProvenanceCommercial:
		return "commercial"
	default:
		panic(fmt.Sprintf("catalog: invalid provenance %d", int(p)))
	}
}

// =============================================================================
// Macros
// =============================================================================

// Macros holds macronutrient values, always per 100 g unless a serving size
// is attached to the owning Entry.
type Macros struct {
	// ProteinG is grams of protein.
	ProteinG float64 `json:"protein_g" yaml:"protein_g"`

	// CarbsG is grams of carbohydrate.
	CarbsG float64 `json:"carbs_g" yaml:"carbs_g"`

	// FatG is grams of fat.
	FatG float64 `json:"fat_g" yaml:"fat_g"`

	// Kcal is energy in kilocalories.
	Kcal float64 `json:"kcal" yaml:"kcal"`
}

// IsZero reports whether every macro field is exactly zero.
func (m Macros) IsZero() bool {
	return m.ProteinG == 0 && m.CarbsG == 0 && m.FatG == 0 && m.Kcal == 0
}

// Scale returns a copy of m with every field multiplied by factor.
func (m Macros) Scale(factor float64) Macros {
	return Macros{
		ProteinG: m.ProteinG * factor,
		CarbsG:   m.CarbsG * factor,
		FatG:     m.FatG * factor,
		Kcal:     m.Kcal * factor,
	}
}

// =============================================================================
// Entry
// =============================================================================

// Entry is one read-only catalog nutrition record.
//
// Description:
//
//	Entries are owned by the external catalog repository and supplied to the
//	engine pre-fetched. The engine never mutates an Entry; every derived
//	value (per-serving normalization, raw→cooked conversion) is produced as
//	a new value.
//
// Thread Safety: Entries are immutable by convention; safe to share.
type Entry struct {
	// ID is the catalog record identifier.
	ID string `json:"id"`

	// Name is the catalog food name (e.g. "Chicken, broilers, breast, raw").
	Name string `json:"name"`

	// Provenance identifies the source corpus.
	Provenance Provenance `json:"provenance"`

	// Form is the physical form tag ("raw", "cooked", "dried", ...). May be empty.
	Form string `json:"form,omitempty"`

	// Method is the cooking method for cooked entries. May be empty.
	Method string `json:"method,omitempty"`

	// Macros holds the nutrition values for this record.
	Macros Macros `json:"macros"`

	// ServingGrams is the serving mass when Macros are per serving rather
	// than per 100 g. Zero means Macros are already per 100 g.
	ServingGrams float64 `json:"serving_grams,omitempty"`

	// FiberG is grams of fiber per the same basis as Macros, when known.
	FiberG *float64 `json:"fiber_g,omitempty"`

	// SodiumMg is milligrams of sodium per the same basis, when known.
	SodiumMg *float64 `json:"sodium_mg,omitempty"`

	// SugarG is grams of sugar per the same basis, when known.
	SugarG *float64 `json:"sugar_g,omitempty"`

	// Ingredients is the ingredient statement for commercial entries. May be empty.
	Ingredients string `json:"ingredients,omitempty"`
}

// =============================================================================
// Match (tagged variant)
// =============================================================================

// MatchKind discriminates the two shapes an alignment match can take.
type MatchKind int

const (
	// MatchReal points at an actual catalog entry.
	MatchReal MatchKind = iota

	// MatchSynthetic is a proxy profile assembled from a substitution formula.
	MatchSynthetic
)

// SyntheticProxy is a substitute macro profile for a class with no direct
// catalog entry. The formula text names the base ingredients so downstream
// consumers never have to guess where the numbers came from.
type SyntheticProxy struct {
	// Class is the core class the proxy stands in for.
	Class string `json:"class"`

	// Formula is the human-readable substitution formula
	// (e.g. "70% romaine lettuce + 30% spinach").
	Formula string `json:"formula"`

	// SourceNames lists the base ingredient names used by the formula.
	SourceNames []string `json:"source_names,omitempty"`

	// Macros is the blended per-100g profile.
	Macros Macros `json:"macros"`
}

// Match is the tagged union of a real catalog entry and a synthetic proxy.
//
// Description:
//
//	Exactly one of Entry or Proxy is non-nil, selected by Kind. Modeling
//	this as a tagged variant (rather than a proxy record masquerading as a
//	catalog row) means downstream code never infers whether an ID is real.
type Match struct {
	// Kind selects which arm of the union is populated.
	Kind MatchKind `json:"kind"`

	// Entry is the matched catalog entry when Kind == MatchReal.
	Entry *Entry `json:"entry,omitempty"`

	// Proxy is the synthetic profile when Kind == MatchSynthetic.
	Proxy *SyntheticProxy `json:"proxy,omitempty"`
}

// Ref returns a stable reference string for telemetry: the entry ID for real
// matches, or "proxy:<class>" for synthetic ones.
func (m *Match) Ref() string {
	if m == nil {
		return ""
	}
	switch m.Kind {
	case MatchReal:
		return m.Entry.ID
	case MatchSynthetic:
		return "proxy:" + m.Proxy.Class
	default:
		panic(fmt.Sprintf("catalog: invalid match kind %d", int(m.Kind)))
	}
}
