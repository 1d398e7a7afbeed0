// Copyright (C) 2026 MacroLens AI (oss@macrolens.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package taxonomy

import (
	"log/slog"
	"sort"
	"strings"
)

// =============================================================================
// Class Dictionaries
// =============================================================================

// ClassNone is the degraded core class for names the taxonomy cannot place.
// Later stages treat it as "unconstrained": class-keyed thresholds and
// vocabularies simply have no entry for it.
const ClassNone = ""

// phraseDictionary maps normalized multi-word phrases to core classes.
// Checked before any token-level classification so phrases like
// "chicken breast" are never split.
var phraseDictionary = map[string]string{
	"chicken breast":     "chicken_breast",
	"chicken thigh":      "chicken_thigh",
	"egg white":          "egg_white",
	"egg yolk":           "egg_yolk",
	"mixed salad greens": "mixed_greens",
	"mixed greens":       "mixed_greens",
	"salad greens":       "mixed_greens",
	"spring mix":         "spring_mix",
	"sweet potato":       "sweet_potato",
	"black bean":         "black_beans",
	"fruit salad":        "fruit_salad",
	"mixed vegetables":   "mixed_vegetables",
	"mixed vegetable":    "mixed_vegetables",
	"corn flour":         "corn_flour",
	"corn meal":          "corn_flour",
	"corn kernel":        "corn_kernel",
	"corn on the cob":    "corn_kernel",
	"turkey bacon":       "bacon",
	"beef steak":         "beef_steak",
	"hash browns":        "potato",
	"hash brown":         "potato",
	"french fry":         "potato",
	"white rice":         "rice",
	"brown rice":         "rice",
	"greek yogurt":       "yogurt",
}

// phraseOrder holds phraseDictionary's keys in matching order: longest first,
// equal lengths lexicographic. The dictionary is never ranged directly; map
// iteration order would make equal-length phrase ties nondeterministic.
var phraseOrder = sortedPhrases()

func sortedPhrases() []string {
	phrases := make([]string, 0, len(phraseDictionary))
	for p := range phraseDictionary {
		phrases = append(phrases, p)
	}
	sort.Slice(phrases, func(i, j int) bool {
		if len(phrases[i]) != len(phrases[j]) {
			return len(phrases[i]) > len(phrases[j])
		}
		return phrases[i] < phrases[j]
	})
	return phrases
}

// classKeywords maps single tokens to core classes when no phrase matched.
var classKeywords = map[string]string{
	"bacon":      "bacon",
	"sausage":    "sausage",
	"steak":      "beef_steak",
	"beef":       "beef_steak",
	"salmon":     "salmon",
	"cod":        "white_fish",
	"tilapia":    "white_fish",
	"haddock":    "white_fish",
	"egg":        "egg",
	"rice":       "rice",
	"pasta":      "pasta",
	"spaghetti":  "pasta",
	"noodle":     "pasta",
	"potato":     "potato",
	"bread":      "bread",
	"toast":      "bread",
	"oatmeal":    "oatmeal",
	"oats":       "oatmeal",
	"corn":       "corn_kernel",
	"lentil":     "lentils",
	"lentils":    "lentils",
	"tofu":       "tofu",
	"broccoli":   "broccoli",
	"carrot":     "carrot",
	"spinach":    "spinach",
	"pickle":     "pickles",
	"pickles":    "pickles",
	"sauerkraut": "sauerkraut",
	"kimchi":     "kimchi",
	"apple":      "apple",
	"banana":     "banana",
	"avocado":    "avocado",
	"cheese":     "cheese",
	"yogurt":     "yogurt",
	"coleslaw":   "coleslaw",
	"slaw":       "coleslaw",
}

// classCategories maps each known class to its broad category. Categories
// drive method fallbacks, macro plausibility bounds, conversion factors, and
// the last-resort allow-list.
var classCategories = map[string]string{
	"chicken_breast":   "meat",
	"chicken_thigh":    "meat",
	"bacon":            "meat",
	"sausage":          "meat",
	"beef_steak":       "meat",
	"salmon":           "fish",
	"white_fish":       "fish",
	"rice":             "starch",
	"pasta":            "starch",
	"potato":           "starch",
	"sweet_potato":     "starch",
	"bread":            "starch",
	"oatmeal":          "starch",
	"corn_kernel":      "starch",
	"corn_flour":       "starch",
	"broccoli":         "vegetable",
	"carrot":           "vegetable",
	"spinach":          "vegetable",
	"mixed_greens":     "vegetable",
	"spring_mix":       "vegetable",
	"mixed_vegetables": "vegetable",
	"coleslaw":         "vegetable",
	"pickles":          "vegetable",
	"sauerkraut":       "vegetable",
	"kimchi":           "vegetable",
	"egg":              "egg",
	"egg_white":        "egg",
	"egg_yolk":         "egg",
	"lentils":          "legume",
	"black_beans":      "legume",
	"tofu":             "legume",
	"apple":            "fruit",
	"banana":           "fruit",
	"avocado":          "fruit",
	"fruit_salad":      "fruit",
	"cheese":           "dairy",
	"yogurt":           "dairy",
}

// CategoryOf returns the broad category for a class, or "" when unknown.
func CategoryOf(class string) string {
	return classCategories[class]
}

// =============================================================================
// Features
// =============================================================================

// Features is the derived classification of one food name. Created per call
// and discarded after use; never cached or mutated.
type Features struct {
	// CoreClass is the normalized food class, or ClassNone when the taxonomy
	// cannot place the name.
	CoreClass string

	// Category is the broad category of CoreClass, or "" when unknown.
	Category string

	// LockedPhrase is the matched multi-word phrase, if any. Locked phrases
	// are matched whole and never split into tokens.
	LockedPhrase string

	// Form is the detected physical form or cooking token, if any.
	Form string

	// Tokens are the stop-word-filtered content tokens used for scoring.
	Tokens []string

	// ColorTokens are explicit color modifiers carried by the query.
	ColorTokens []string

	// SpeciesTokens are explicit species modifiers carried by the query.
	SpeciesTokens []string
}

// ClassTokenCount returns the number of tokens in the core class name.
func (f Features) ClassTokenCount() int {
	if f.CoreClass == ClassNone {
		return 0
	}
	return strings.Count(f.CoreClass, "_") + 1
}

// =============================================================================
// Classifier
// =============================================================================

// Classifier normalizes a food name into taxonomy features.
//
// Description:
//
//	Classification never fails: a name the dictionaries cannot place
//	degrades to CoreClass == ClassNone, which later stages treat as
//	unconstrained matching.
//
// Thread Safety: Stateless beyond the logger; safe for concurrent use.
type Classifier struct {
	logger *slog.Logger
}

// NewClassifier creates a Classifier. A nil logger uses slog.Default().
func NewClassifier(logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{logger: logger}
}

// Classify derives taxonomy features from a food name, a form hint, and the
// caller's modifier list.
//
// Description:
//
//	Pipeline: normalize → phrase dictionary (longest match wins) → class
//	keyword dictionary → first content token. Form comes from the hint when
//	recognized, else from the first form token found in the name. Color and
//	species tokens are collected from both the name and the modifiers.
//
// Inputs:
//
//	name - The detected food name. May be empty.
//	formHint - The caller's form guess (e.g. "grilled"). May be empty.
//	modifiers - Additional modifier strings from the caller. May be nil.
//
// Outputs:
//
//	Features - The derived classification. Never fails.
//
// Thread Safety: Safe for concurrent use.
func (c *Classifier) Classify(name, formHint string, modifiers []string) Features {
	tokens := Normalize(name)
	normalized := strings.Join(tokens, " ")

	var feats Features

	// Phrase dictionary first: longest matching phrase wins so
	// "mixed salad greens" beats "salad greens". phraseOrder already ranks
	// longest-then-lexicographic, so the first hit is the winner.
	for _, phrase := range phraseOrder {
		if containsPhrase(normalized, phrase) {
			feats.LockedPhrase = phrase
			feats.CoreClass = phraseDictionary[phrase]
			break
		}
	}

	// Content tokens for scoring (stop words and form tokens stripped).
	for _, t := range tokens {
		if stopWords[t] || formVocabulary[t] {
			continue
		}
		feats.Tokens = append(feats.Tokens, t)
	}

	// Keyword dictionary, then first-token degradation.
	if feats.CoreClass == ClassNone {
		for _, t := range feats.Tokens {
			if class, ok := classKeywords[t]; ok {
				feats.CoreClass = class
				break
			}
		}
	}
	if feats.CoreClass == ClassNone && len(feats.Tokens) > 0 {
		feats.CoreClass = feats.Tokens[0]
	}

	feats.Category = CategoryOf(feats.CoreClass)

	// Form: hint wins when it is a recognized token.
	hint := strings.ToLower(strings.TrimSpace(formHint))
	if IsFormToken(hint) {
		feats.Form = hint
	} else {
		for _, t := range tokens {
			if formVocabulary[t] {
				feats.Form = t
				break
			}
		}
	}

	// Color/species modifiers from the name and the modifier list.
	seen := map[string]bool{}
	collect := func(t string) {
		if seen[t] {
			return
		}
		seen[t] = true
		if IsColorToken(t) {
			feats.ColorTokens = append(feats.ColorTokens, t)
		}
		if IsSpeciesToken(t) {
			feats.SpeciesTokens = append(feats.SpeciesTokens, t)
		}
	}
	for _, t := range tokens {
		collect(t)
	}
	for _, m := range modifiers {
		for _, t := range Normalize(m) {
			collect(t)
		}
	}

	if feats.CoreClass == ClassNone {
		c.logger.Debug("taxonomy degraded to unconstrained class",
			slog.String("name", name),
		)
	}

	return feats
}

// containsPhrase reports whether phrase occurs in s on word boundaries.
func containsPhrase(s, phrase string) bool {
	idx := strings.Index(s, phrase)
	for idx >= 0 {
		beforeOK := idx == 0 || s[idx-1] == ' '
		end := idx + len(phrase)
		afterOK := end == len(s) || s[end] == ' '
		if beforeOK && afterOK {
			return true
		}
		next := strings.Index(s[idx+1:], phrase)
		if next < 0 {
			return false
		}
		idx = idx + 1 + next
	}
	return false
}
