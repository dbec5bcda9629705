package matcher

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"

	"golang-bank-matching-engine/internal/models"
)

// Fixed scores of the individual strategies
const (
	ExactScore         = 100.0
	RuleBaseScore      = 85.0
	RuleSameDayBonus   = 10.0
	RuleSameAmtBonus   = 5.0
	FuzzyBaseScore     = 70.0
	FuzzyAmountWeight  = 15.0
	FuzzyDateWeight    = 10.0
	FuzzyRefBonus      = 5.0
	CombinatorialScore = 75.0
	MaxScore           = 100.0

	HighConfidenceFloor   = 90.0
	MediumConfidenceFloor = 75.0
)

// LevelForScore maps a numeric score to its confidence bucket
func LevelForScore(score float64) models.ConfidenceLevel {
	switch {
	case score >= HighConfidenceFloor:
		return models.ConfidenceHigh
	case score >= MediumConfidenceFloor:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}

// RoundScore rounds to two decimals and caps at MaxScore
func RoundScore(score float64) float64 {
	if score > MaxScore {
		score = MaxScore
	}
	if score < 0 {
		score = 0
	}
	return math.Round(score*100) / 100
}

// RuleScore scores a rule-based pair
func RuleScore(dateDiffDays int, amountsEqual bool) float64 {
	score := RuleBaseScore
	if dateDiffDays == 0 {
		score += RuleSameDayBonus
	}
	if amountsEqual {
		score += RuleSameAmtBonus
	}
	return RoundScore(score)
}

// FuzzyScore scores a tolerant pair.
//
// The amount component loses one point per percent of difference, the date
// component falls linearly to zero at the tolerance boundary.
func FuzzyScore(bankAmount, ledgerAmount decimal.Decimal, dateDiffDays, dateToleranceDays int, referenceMatched bool) float64 {
	score := FuzzyBaseScore

	if bankAmount.Equal(ledgerAmount) {
		score += FuzzyAmountWeight
	} else {
		pct, _ := percentDifference(bankAmount, ledgerAmount).Float64()
		score += math.Max(0, FuzzyAmountWeight-pct)
	}

	switch {
	case dateDiffDays == 0:
		score += FuzzyDateWeight
	case dateToleranceDays > 0 && dateDiffDays < dateToleranceDays:
		score += FuzzyDateWeight * (1 - float64(dateDiffDays)/float64(dateToleranceDays))
	}

	if referenceMatched {
		score += FuzzyRefBonus
	}

	return RoundScore(score)
}

// percentDifference returns |bank - ledger| as a percentage of the bank amount
func percentDifference(bankAmount, ledgerAmount decimal.Decimal) decimal.Decimal {
	if bankAmount.IsZero() {
		if ledgerAmount.IsZero() {
			return decimal.Zero
		}
		return decimal.NewFromInt(100)
	}
	return bankAmount.Sub(ledgerAmount).Abs().Div(bankAmount.Abs()).Mul(decimal.NewFromInt(100))
}

// withinPercent reports whether ledger lies within percent of the bank amount
func withinPercent(bankAmount, ledgerAmount decimal.Decimal, percent float64) bool {
	return bankAmount.Sub(ledgerAmount).Abs().LessThanOrEqual(percentOf(bankAmount, percent))
}

// foldText trims and case-folds free text for comparison.
// A Caser is stateful, so each call gets its own.
func foldText(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// ReferencesMatch reports case-insensitive equality or containment in either
// direction. Empty references never match.
func ReferencesMatch(a, b string) bool {
	fa, fb := foldText(a), foldText(b)
	if fa == "" || fb == "" {
		return false
	}
	return fa == fb || strings.Contains(fa, fb) || strings.Contains(fb, fa)
}
