// Copyright (C) 2026 MacroLens AI (oss@macrolens.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package taxonomy

import "strings"

// =============================================================================
// Normalization Vocabulary
// =============================================================================

// stopWords are removed before token matching. Kept deliberately small:
// descriptive food words ("fresh", "large") carry signal elsewhere and are
// not stripped here.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "with": true,
	"and": true, "or": true, "in": true, "on": true, "for": true,
	"style": true, "plain": true, "piece": true, "pieces": true,
	"slice": true, "slices": true, "serving": true,
}

// singularWhitelist maps known plural food tokens to their singular form.
// A fixed whitelist, never a blanket suffix strip: stripping "-s" corrupts
// words like "greens", "lentils", "pickles", "hummus".
var singularWhitelist = map[string]string{
	"eggs":      "egg",
	"tomatoes":  "tomato",
	"potatoes":  "potato",
	"carrots":   "carrot",
	"beans":     "bean",
	"apples":    "apple",
	"bananas":   "banana",
	"breasts":   "breast",
	"thighs":    "thigh",
	"kernels":   "kernel",
	"peas":      "pea",
	"berries":   "berry",
	"onions":    "onion",
	"peppers":   "pepper",
	"mushrooms": "mushroom",
	"noodles":   "noodle",
	"wedges":    "wedge",
	"fries":     "fry",
	"sausages":  "sausage",
	"fillets":   "fillet",
}

// colorVocabulary are tokens treated as explicit color modifiers.
var colorVocabulary = map[string]bool{
	"red": true, "green": true, "yellow": true, "white": true,
	"brown": true, "black": true, "purple": true,
}

// speciesVocabulary are tokens treated as explicit species modifiers.
var speciesVocabulary = map[string]bool{
	"chicken": true, "turkey": true, "pork": true, "beef": true,
	"lamb": true, "duck": true,
}

// formVocabulary are recognized physical-form / cooking tokens that may
// appear inside a food name or a form hint.
var formVocabulary = map[string]bool{
	"raw": true, "cooked": true, "dried": true, "frozen": true,
	"canned": true, "pickled": true, "fermented": true, "brined": true,
	"grilled": true, "fried": true, "baked": true, "roasted": true,
	"boiled": true, "steamed": true, "scrambled": true, "poached": true,
	"sauteed": true, "broiled": true, "mashed": true, "smoked": true,
	"barbecued": true, "microwaved": true,
}

// =============================================================================
// Tokenization
// =============================================================================

// Normalize lowercases a food name, strips punctuation to spaces, and
// singularizes each token through the fixed whitelist.
//
// Inputs:
//
//	name - Raw food name or catalog entry name.
//
// Outputs:
//
//	[]string - Normalized tokens in original order. Nil for empty input.
//
// Thread Safety: Pure function.
func Normalize(name string) []string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-':
			// Hyphenated compounds like "pan-fried" stay one token so the
			// alias table can resolve them.
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}

	fields := strings.Fields(b.String())
	if len(fields) == 0 {
		return nil
	}
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if s, ok := singularWhitelist[f]; ok {
			f = s
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// ContentTokens returns the normalized tokens of a name with stop words and
// form tokens removed. This is the token set used for scoring and Jaccard
// overlap.
func ContentTokens(name string) []string {
	var out []string
	for _, t := range Normalize(name) {
		if stopWords[t] || formVocabulary[t] {
			continue
		}
		out = append(out, t)
	}
	return out
}

// IsColorToken reports whether t is an explicit color modifier.
func IsColorToken(t string) bool { return colorVocabulary[t] }

// IsSpeciesToken reports whether t is an explicit species modifier.
func IsSpeciesToken(t string) bool { return speciesVocabulary[t] }

// IsFormToken reports whether t is a recognized form/method token.
func IsFormToken(t string) bool { return formVocabulary[t] }
