// Package matcher provides the transaction matching engine and its configuration.
//
// The engine pairs unmatched bank lines with unmatched ledger entries for one
// (bank account, entity, period) scope. Strategies run as a fixed pipeline and
// every stage only sees records that earlier stages left unclaimed:
//  1. Exact: same amount, same date
//  2. Rule-based: user rules in ascending priority
//  3. Fuzzy: best-scoring candidate within date and amount tolerance
//  4. One-to-many: one bank line equal to the sum of several ledger entries
//  5. Many-to-one: several bank lines summing to one ledger entry
//
// Example usage:
//
//	config := matcher.DefaultMatchingConfig()
//	config.DateToleranceDays = 2
//
//	engine, err := matcher.NewMatchingEngine(config, matcher.WithLogger(log))
//	if err != nil {
//		return err
//	}
//	result, err := engine.AutoMatch(ctx, store, scope)
package matcher

import (
	"fmt"

	"github.com/shopspring/decimal"

	"golang-bank-matching-engine/internal/models"
	"golang-bank-matching-engine/pkg/errors"
)

// MatchingConfig holds the tunables of one match run.
//
// Use the provided factory functions for common scenarios:
//   - DefaultMatchingConfig(): the documented defaults
//   - StrictMatchingConfig(): exact and rule-based matching only
//   - RelaxedMatchingConfig(): wider windows for catch-up reconciliation
type MatchingConfig struct {
	// DateToleranceDays is the ± window used by the fuzzy and combinatorial stages
	DateToleranceDays int `json:"date_tolerance_days" yaml:"date_tolerance_days" mapstructure:"date_tolerance_days"`

	// AmountTolerancePercent is the fuzzy amount window as a percentage of the bank amount
	AmountTolerancePercent float64 `json:"amount_tolerance_percent" yaml:"amount_tolerance_percent" mapstructure:"amount_tolerance_percent"`

	EnableFuzzyMatching bool `json:"enable_fuzzy_matching" yaml:"enable_fuzzy_matching" mapstructure:"enable_fuzzy_matching"`
	EnableOneToMany     bool `json:"enable_one_to_many" yaml:"enable_one_to_many" mapstructure:"enable_one_to_many"`
	EnableManyToOne     bool `json:"enable_many_to_one" yaml:"enable_many_to_one" mapstructure:"enable_many_to_one"`
	EnableRuleBased     bool `json:"enable_rule_based" yaml:"enable_rule_based" mapstructure:"enable_rule_based"`

	// MinConfidenceThreshold drops candidates scoring below it (0-100)
	MinConfidenceThreshold float64 `json:"min_confidence_threshold" yaml:"min_confidence_threshold" mapstructure:"min_confidence_threshold"`

	// MaxOneToManyCount and MaxManyToOneCount bound the size of a combinatorial group.
	// An anchor with more than twice this many candidates is skipped.
	MaxOneToManyCount int `json:"max_one_to_many_count" yaml:"max_one_to_many_count" mapstructure:"max_one_to_many_count"`
	MaxManyToOneCount int `json:"max_many_to_one_count" yaml:"max_many_to_one_count" mapstructure:"max_many_to_one_count"`
}

// DefaultMatchingConfig returns a configuration with the documented defaults
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		DateToleranceDays:      3,
		AmountTolerancePercent: 0,
		EnableFuzzyMatching:    true,
		EnableOneToMany:        true,
		EnableManyToOne:        true,
		EnableRuleBased:        true,
		MinConfidenceThreshold: 70,
		MaxOneToManyCount:      10,
		MaxManyToOneCount:      10,
	}
}

// StrictMatchingConfig returns a configuration for strict matching
func StrictMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		DateToleranceDays:      0,
		AmountTolerancePercent: 0,
		EnableFuzzyMatching:    false,
		EnableOneToMany:        false,
		EnableManyToOne:        false,
		EnableRuleBased:        true,
		MinConfidenceThreshold: 90,
		MaxOneToManyCount:      10,
		MaxManyToOneCount:      10,
	}
}

// RelaxedMatchingConfig returns a configuration for relaxed matching
func RelaxedMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		DateToleranceDays:      7,
		AmountTolerancePercent: 1,
		EnableFuzzyMatching:    true,
		EnableOneToMany:        true,
		EnableManyToOne:        true,
		EnableRuleBased:        true,
		MinConfidenceThreshold: 60,
		MaxOneToManyCount:      12,
		MaxManyToOneCount:      12,
	}
}

// MaxDateToleranceDays caps the ± date window; candidate lookup visits every day in it
const MaxDateToleranceDays = models.MaxDateToleranceDays

// Validate checks if the matching configuration is valid
func (mc *MatchingConfig) Validate() error {
	if mc.DateToleranceDays < 0 || mc.DateToleranceDays > MaxDateToleranceDays {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "date_tolerance_days", mc.DateToleranceDays, nil).
			WithSuggestion(fmt.Sprintf("use a window between 0 and %d days", MaxDateToleranceDays))
	}

	if mc.AmountTolerancePercent < 0 || mc.AmountTolerancePercent > 100 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "amount_tolerance_percent", mc.AmountTolerancePercent, nil)
	}

	if mc.MinConfidenceThreshold < 0 || mc.MinConfidenceThreshold > 100 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "min_confidence_threshold", mc.MinConfidenceThreshold, nil)
	}

	if mc.MaxOneToManyCount < 2 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "max_one_to_many_count", mc.MaxOneToManyCount, nil).
			WithSuggestion("a group needs at least 2 members; use enable_one_to_many to turn the stage off")
	}

	if mc.MaxManyToOneCount < 2 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "max_many_to_one_count", mc.MaxManyToOneCount, nil).
			WithSuggestion("a group needs at least 2 members; use enable_many_to_one to turn the stage off")
	}

	return nil
}

// Clone creates a copy of the matching configuration
func (mc *MatchingConfig) Clone() *MatchingConfig {
	if mc == nil {
		return nil
	}
	clone := *mc
	return &clone
}

// AmountTolerance returns the absolute fuzzy tolerance for a bank amount
func (mc *MatchingConfig) AmountTolerance(amount decimal.Decimal) decimal.Decimal {
	return percentOf(amount, mc.AmountTolerancePercent)
}

// String returns a human-readable description of the configuration
func (mc *MatchingConfig) String() string {
	return fmt.Sprintf("MatchingConfig{DateTolerance: %d days, AmountTolerance: %.2f%%, MinConfidence: %.2f, Fuzzy: %t, Rules: %t, OneToMany: %t (max %d), ManyToOne: %t (max %d)}",
		mc.DateToleranceDays, mc.AmountTolerancePercent, mc.MinConfidenceThreshold,
		mc.EnableFuzzyMatching, mc.EnableRuleBased,
		mc.EnableOneToMany, mc.MaxOneToManyCount, mc.EnableManyToOne, mc.MaxManyToOneCount)
}

func percentOf(amount decimal.Decimal, percent float64) decimal.Decimal {
	if percent == 0 {
		return decimal.Zero
	}
	return amount.Abs().Mul(decimal.NewFromFloat(percent)).Div(decimal.NewFromInt(100))
}
