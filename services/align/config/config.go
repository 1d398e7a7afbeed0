// Copyright (C) 2026 MacroLens AI (oss@macrolens.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"

	"github.com/MacroLensAI/MacroLens/services/align/catalog"
)

// =============================================================================
// Embedded Default Configuration
// =============================================================================

// The numeric values in these files are empirically tuned against alignment
// regressions. Treat them as versioned data: adjust through review with a
// nutrition domain expert, never by re-derivation in code.

//go:embed energy_bands.yaml
var defaultEnergyBandsYAML []byte

//go:embed class_thresholds.yaml
var defaultClassThresholdsYAML []byte

//go:embed negative_vocabulary.yaml
var defaultNegativeVocabularyYAML []byte

//go:embed method_aliases.yaml
var defaultMethodAliasesYAML []byte

//go:embed conversion_factors.yaml
var defaultConversionFactorsYAML []byte

//go:embed proxy_whitelist.yaml
var defaultProxyWhitelistYAML []byte

//go:embed stage_z_allowlist.yaml
var defaultStageZAllowlistYAML []byte

// MaxYAMLFileSize caps a single configuration file read (1 MiB).
const MaxYAMLFileSize = 1 << 20

// =============================================================================
// OTel Tracer
// =============================================================================

var configTracer = otel.Tracer("macrolens.align.config")

// =============================================================================
// Section Types
// =============================================================================

// EnergyBand is an admissible kcal/100g range for a subclass or a
// (category, method) pair.
type EnergyBand struct {
	// MinKcal is the lower admissible bound, inclusive.
	MinKcal float64 `yaml:"min_kcal" validate:"gte=0"`

	// MaxKcal is the upper admissible bound, inclusive.
	MaxKcal float64 `yaml:"max_kcal" validate:"gtefield=MinKcal"`
}

// Center returns the midpoint of the band, used as the predicted energy
// density for a class when nothing better is known.
func (b EnergyBand) Center() float64 {
	return (b.MinKcal + b.MaxKcal) / 2
}

// Contains reports whether kcal falls inside the band (inclusive).
func (b EnergyBand) Contains(kcal float64) bool {
	return kcal >= b.MinKcal && kcal <= b.MaxKcal
}

// energyBandsFile is the on-disk shape of energy_bands.yaml.
type energyBandsFile struct {
	Bands map[string]EnergyBand `yaml:"bands"`
}

// ClassThresholds holds the Jaccard acceptance thresholds and commercial
// score floors.
type ClassThresholds struct {
	// DefaultJaccard is the acceptance threshold for multi-token classes.
	DefaultJaccard float64 `yaml:"default_jaccard" validate:"gt=0,lte=1"`

	// SingleTokenJaccard is the relaxed threshold for single-token classes.
	SingleTokenJaccard float64 `yaml:"single_token_jaccard" validate:"gt=0,lte=1"`

	// PerClass overrides the default for specific classes.
	PerClass map[string]float64 `yaml:"per_class"`

	// CommercialFloor is the minimum score for Stage 4 commercial matches.
	CommercialFloor float64 `yaml:"commercial_floor" validate:"gte=0,lte=1"`

	// CommercialTwoTokenMeatFloor raises the Stage 4 floor when a meat query
	// matched on exactly two tokens, a known over-match pattern.
	CommercialTwoTokenMeatFloor float64 `yaml:"commercial_two_token_meat_floor" validate:"gte=0,lte=1"`
}

// JaccardFor returns the acceptance threshold for a class with the given
// token count.
func (t ClassThresholds) JaccardFor(class string, classTokens int) float64 {
	if v, ok := t.PerClass[class]; ok {
		return v
	}
	if classTokens <= 1 {
		return t.SingleTokenJaccard
	}
	return t.DefaultJaccard
}

// negativeVocabularyFile is the on-disk shape of negative_vocabulary.yaml.
type negativeVocabularyFile struct {
	// Classes maps a core class to tokens that disqualify a candidate name.
	Classes map[string][]string `yaml:"classes"`

	// SodiumMinimumsMg maps pickled/fermented/brined classes to the minimum
	// sodium (mg/100g) a candidate must carry.
	SodiumMinimumsMg map[string]float64 `yaml:"sodium_minimums_mg"`
}

// MethodConfig holds the cooking-method resolution tables.
type MethodConfig struct {
	// Aliases maps form/synonym tokens to canonical methods.
	Aliases map[string]string `yaml:"aliases"`

	// CompatGroups lists groups of methods treated as near-synonyms for
	// relaxed matching (e.g. roasted ≈ baked ≈ oven).
	CompatGroups [][]string `yaml:"compat_groups"`

	// ClassMethods lists the methods defined for each class, in preference
	// order. The first entry is the class's canonical method.
	ClassMethods map[string][]string `yaml:"class_methods"`

	// ClassDefaults maps a class to its explicit default method.
	ClassDefaults map[string]string `yaml:"class_defaults"`

	// CategoryDefaults maps a broad category (meat, starch, vegetable, egg,
	// legume, fruit) to its default method.
	CategoryDefaults map[string]string `yaml:"category_defaults"`

	// GenericCooked maps a category to the method used when the query's form
	// is the bare "cooked" token.
	GenericCooked map[string]string `yaml:"generic_cooked"`
}

// ConversionFactor holds the raw→cooked transform for one (category, method).
type ConversionFactor struct {
	// Category is the broad food category the factor applies to.
	Category string `yaml:"category" validate:"required"`

	// Method is the cooking method the factor applies to.
	Method string `yaml:"method" validate:"required"`

	// ProteinRetention is the fraction of protein surviving the method.
	ProteinRetention float64 `yaml:"protein_retention" validate:"gt=0,lte=1.2"`

	// CarbRetention is the fraction of carbohydrate surviving the method.
	CarbRetention float64 `yaml:"carb_retention" validate:"gt=0,lte=1.2"`

	// FatRetention is the fraction of fat surviving the method.
	FatRetention float64 `yaml:"fat_retention" validate:"gt=0,lte=1.5"`

	// YieldFactor is cooked mass divided by raw mass. Below 1 for shrinkage
	// (meat on a grill), above 1 for hydration (rice, pasta).
	YieldFactor float64 `yaml:"yield_factor" validate:"gt=0"`

	// OilUptakeG is extra surface-oil fat, in grams per 100 g cooked.
	OilUptakeG float64 `yaml:"oil_uptake_g" validate:"gte=0"`
}

// ConversionConfig holds all raw→cooked conversion data.
type ConversionConfig struct {
	// EnergyTolerancePct is the maximum deviation between converted and
	// predicted energy for a conversion to be accepted.
	EnergyTolerancePct float64 `yaml:"energy_tolerance_pct" validate:"gt=0,lte=100"`

	// AtwaterTolerancePct is the maximum deviation between stated energy and
	// the Atwater-derived value before the stated value is discarded.
	AtwaterTolerancePct float64 `yaml:"atwater_tolerance_pct" validate:"gt=0,lte=100"`

	// Factors holds the per-(category, method) retention/yield/uptake rows.
	Factors []ConversionFactor `yaml:"factors" validate:"dive"`

	// MethodEnergyBands maps "category/method" to the plausible energy band
	// the converted result is clamped into.
	MethodEnergyBands map[string]EnergyBand `yaml:"method_energy_bands"`
}

// FactorFor returns the conversion factor for a (category, method) pair.
func (c ConversionConfig) FactorFor(category, method string) (ConversionFactor, bool) {
	for _, f := range c.Factors {
		if f.Category == category && f.Method == method {
			return f, true
		}
	}
	return ConversionFactor{}, false
}

// BandFor returns the clamp band for a (category, method) pair, if defined.
func (c ConversionConfig) BandFor(category, method string) (EnergyBand, bool) {
	b, ok := c.MethodEnergyBands[category+"/"+method]
	return b, ok
}

// ProxyBase is one base ingredient of a composite proxy formula.
type ProxyBase struct {
	// Name is the base ingredient name (appears in the formula text).
	Name string `yaml:"name" validate:"required"`

	// Weight is the blend fraction. Weights in a formula must sum to 1.
	Weight float64 `yaml:"weight" validate:"gt=0,lte=1"`

	// Macros is the per-100g profile of the base ingredient.
	Macros catalog.Macros `yaml:"macros"`
}

// ProxyFormula describes how to synthesize a profile for one whitelisted class.
type ProxyFormula struct {
	// Kind selects the substitution strategy: "composite" blends Bases,
	// "lookup" finds LookupName in the candidate pool, "defaults" uses the
	// fixed Defaults profile.
	Kind string `yaml:"kind" validate:"oneof=composite lookup defaults"`

	// Bases are the blend components for composite formulas.
	Bases []ProxyBase `yaml:"bases" validate:"dive"`

	// LookupName is the close-cousin name for lookup formulas.
	LookupName string `yaml:"lookup_name"`

	// Defaults is the fixed profile for defaults formulas.
	Defaults catalog.Macros `yaml:"defaults"`

	// TolerancePct is the class-specific energy validation tolerance.
	TolerancePct float64 `yaml:"tolerance_pct" validate:"gt=0,lte=100"`
}

// proxyWhitelistFile is the on-disk shape of proxy_whitelist.yaml.
type proxyWhitelistFile struct {
	Classes map[string]ProxyFormula `yaml:"classes"`
}

// StageZConfig gates the commercial last-resort stage.
type StageZConfig struct {
	// Categories lists the broad categories allowed to reach the last resort.
	Categories []string `yaml:"categories"`

	// ScoreFloor is the minimum composite score, deliberately above the
	// ordinary Stage 4 commercial floor.
	ScoreFloor float64 `yaml:"score_floor" validate:"gte=0,lte=1"`

	// MinTokenCoverage is the minimum overlapping token count after synonym
	// expansion.
	MinTokenCoverage int `yaml:"min_token_coverage" validate:"gte=1"`
}

// AllowsCategory reports whether a category may use the last-resort stage.
func (z StageZConfig) AllowsCategory(category string) bool {
	for _, c := range z.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// =============================================================================
// Config
// =============================================================================

// Config is the complete, immutable configuration surface of the alignment
// engine. Every numeric threshold the engine consults lives here as data.
//
// Thread Safety: Immutable after Load/Default returns; safe for concurrent use.
type Config struct {
	// EnergyBands maps a subclass to its plausibility band.
	EnergyBands map[string]EnergyBand

	// Thresholds holds Jaccard thresholds and commercial score floors.
	Thresholds ClassThresholds

	// NegativeVocabulary maps a core class to its candidate deny tokens.
	NegativeVocabulary map[string][]string

	// SodiumMinimumsMg maps pickled/fermented/brined classes to minimum
	// sodium mg/100g.
	SodiumMinimumsMg map[string]float64

	// Methods holds the cooking-method resolution tables.
	Methods MethodConfig

	// Conversion holds raw→cooked conversion data.
	Conversion ConversionConfig

	// Proxies is the Stage 5 whitelist of synthesizable classes.
	Proxies map[string]ProxyFormula

	// StageZ gates the commercial last-resort stage.
	StageZ StageZConfig

	// SectionFallbacks lists the config sections that fell back to the
	// embedded defaults because no file was present. Surfaced in telemetry.
	SectionFallbacks []string
}

// =============================================================================
// Loading
// =============================================================================

// sectionSpec binds one config file name to its embedded default and parser.
type sectionSpec struct {
	file     string
	embedded []byte
	parse    func(cfg *Config, data []byte) error
}

func sections() []sectionSpec {
	return []sectionSpec{
		{"energy_bands.yaml", defaultEnergyBandsYAML, parseEnergyBands},
		{"class_thresholds.yaml", defaultClassThresholdsYAML, parseClassThresholds},
		{"negative_vocabulary.yaml", defaultNegativeVocabularyYAML, parseNegativeVocabulary},
		{"method_aliases.yaml", defaultMethodAliasesYAML, parseMethodAliases},
		{"conversion_factors.yaml", defaultConversionFactorsYAML, parseConversionFactors},
		{"proxy_whitelist.yaml", defaultProxyWhitelistYAML, parseProxyWhitelist},
		{"stage_z_allowlist.yaml", defaultStageZAllowlistYAML, parseStageZAllowlist},
	}
}

func parseEnergyBands(cfg *Config, data []byte) error {
	var f energyBandsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return err
	}
	cfg.EnergyBands = f.Bands
	return nil
}

func parseClassThresholds(cfg *Config, data []byte) error {
	return yaml.Unmarshal(data, &cfg.Thresholds)
}

func parseNegativeVocabulary(cfg *Config, data []byte) error {
	var f negativeVocabularyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return err
	}
	cfg.NegativeVocabulary = f.Classes
	cfg.SodiumMinimumsMg = f.SodiumMinimumsMg
	return nil
}

func parseMethodAliases(cfg *Config, data []byte) error {
	return yaml.Unmarshal(data, &cfg.Methods)
}

func parseConversionFactors(cfg *Config, data []byte) error {
	return yaml.Unmarshal(data, &cfg.Conversion)
}

func parseProxyWhitelist(cfg *Config, data []byte) error {
	var f proxyWhitelistFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return err
	}
	cfg.Proxies = f.Classes
	return nil
}

func parseStageZAllowlist(cfg *Config, data []byte) error {
	return yaml.Unmarshal(data, &cfg.StageZ)
}

// Default returns the configuration built entirely from the embedded
// defaults. It never fails: the embedded files are validated by tests.
//
// Outputs:
//
//	*Config - The default configuration. Never nil.
//
// Thread Safety: Returns a fresh value each call; safe for concurrent use.
func Default() *Config {
	cfg, err := Load(context.Background(), "", slog.Default())
	if err != nil {
		// Embedded defaults failing to parse is a packaging bug.
		panic(fmt.Sprintf("config: embedded defaults invalid: %v", err))
	}
	return cfg
}

// Load reads the configuration from dir, falling back to the embedded default
// for every section whose file is absent.
//
// Description:
//
//	Each section is an independent YAML file; the engine must tolerate any
//	subset being absent. A missing or empty dir loads all sections from the
//	embedded defaults. Fallbacks are recorded in SectionFallbacks so every
//	alignment's telemetry can state which defaults were in effect.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//	dir - Directory containing the YAML files. Empty means defaults only.
//	logger - Logger instance. Nil uses slog.Default().
//
// Outputs:
//
//	*Config - The validated configuration.
//	error - Non-nil if a present file fails to parse or validate. A missing
//	        file is never an error.
func Load(ctx context.Context, dir string, logger *slog.Logger) (*Config, error) {
	_, span := configTracer.Start(ctx, "config.Load")
	defer span.End()

	if logger == nil {
		logger = slog.Default()
	}

	cfg := &Config{}
	for _, sec := range sections() {
		data, fromFile, err := readSection(dir, sec.file)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", sec.file, err)
		}
		if !fromFile {
			data = sec.embedded
			cfg.SectionFallbacks = append(cfg.SectionFallbacks, sec.file)
		}
		if err := sec.parse(cfg, data); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", sec.file, err)
		}
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	span.SetAttributes(
		attribute.Int("energy_bands", len(cfg.EnergyBands)),
		attribute.Int("proxy_classes", len(cfg.Proxies)),
		attribute.Int("section_fallbacks", len(cfg.SectionFallbacks)),
	)

	if len(cfg.SectionFallbacks) > 0 {
		logger.Warn("config sections missing, using embedded defaults",
			slog.Any("sections", cfg.SectionFallbacks),
		)
	}
	logger.Info("alignment config loaded",
		slog.Int("energy_bands", len(cfg.EnergyBands)),
		slog.Int("negative_vocab_classes", len(cfg.NegativeVocabulary)),
		slog.Int("conversion_factors", len(cfg.Conversion.Factors)),
		slog.Int("proxy_classes", len(cfg.Proxies)),
	)

	return cfg, nil
}

// readSection reads one section file from dir if present.
func readSection(dir, file string) (data []byte, fromFile bool, err error) {
	if dir == "" {
		return nil, false, nil
	}
	path := filepath.Join(dir, file)
	info, statErr := os.Stat(path)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return nil, false, nil
		}
		return nil, false, statErr
	}
	if info.Size() > MaxYAMLFileSize {
		return nil, false, fmt.Errorf("file exceeds maximum size (%d > %d)", info.Size(), MaxYAMLFileSize)
	}
	data, err = os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// =============================================================================
// Validation
// =============================================================================

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// validate checks struct tags plus the cross-field rules tags cannot express.
func validate(cfg *Config) error {
	if err := structValidator.Struct(cfg.Thresholds); err != nil {
		return fmt.Errorf("class_thresholds: %w", err)
	}
	if err := structValidator.Struct(cfg.Conversion); err != nil {
		return fmt.Errorf("conversion_factors: %w", err)
	}
	if err := structValidator.Struct(cfg.StageZ); err != nil {
		return fmt.Errorf("stage_z_allowlist: %w", err)
	}

	for class, band := range cfg.EnergyBands {
		if band.MaxKcal < band.MinKcal {
			return fmt.Errorf("energy_bands[%s]: max_kcal < min_kcal", class)
		}
	}

	for class, formula := range cfg.Proxies {
		if err := structValidator.Struct(formula); err != nil {
			return fmt.Errorf("proxy_whitelist[%s]: %w", class, err)
		}
		switch formula.Kind {
		case "composite":
			if len(formula.Bases) < 2 {
				return fmt.Errorf("proxy_whitelist[%s]: composite needs at least 2 bases", class)
			}
			var sum float64
			for _, b := range formula.Bases {
				sum += b.Weight
			}
			if sum < 0.999 || sum > 1.001 {
				return fmt.Errorf("proxy_whitelist[%s]: base weights sum to %.3f, want 1.0", class, sum)
			}
		case "lookup":
			if formula.LookupName == "" {
				return fmt.Errorf("proxy_whitelist[%s]: lookup_name must not be empty", class)
			}
		case "defaults":
			if formula.Defaults.IsZero() {
				return fmt.Errorf("proxy_whitelist[%s]: defaults profile must not be all zero", class)
			}
		}
	}

	for class, min := range cfg.SodiumMinimumsMg {
		if min <= 0 {
			return fmt.Errorf("sodium_minimums_mg[%s]: must be positive", class)
		}
	}

	return nil
}
