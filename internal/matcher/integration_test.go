package matcher

import (
	"context"
	"reflect"
	"testing"

	"golang-bank-matching-engine/internal/models"
)

func createMonthScenario() *fakeSource {
	rent := testRule("R-rent", 1)
	rent.NarrationPattern = `landlord|rent`
	rent.LedgerAccountCode = "6100"
	rent.DateToleranceDays = 5

	broken := testRule("R-broken", 2)
	broken.ReferencePattern = `*`

	rentEntry := ledgerEntry("L-rent", 6, "-2400.00", "March rent", "")
	rentEntry.AccountCode = "6100"

	return &fakeSource{
		bank: []*models.BankLine{
			debitLine("B01", 1, "120.00", "Card fee", "FEE-1"),
			debitLine("B02", 2, "2400.00", "LANDLORD LTD", "SO-771"),
			debitLine("B03", 4, "310.00", "Acme supplies", "INV-88"),
			creditLine("B04", 8, "1500.00", "Customer batch", ""),
			creditLine("B05", 15, "45.00", "Card refund", ""),
			creditLine("B06", 15, "55.00", "Card refund", ""),
			debitLine("B07", 22, "999.00", "Unknown", ""),
		},
		ledger: []*models.LedgerEntry{
			ledgerEntry("L-fee", 1, "-120.00", "Bank charges", "FEE-1"),
			rentEntry,
			ledgerEntry("L-acme", 6, "-310.00", "Acme invoice", "INV-88"),
			ledgerEntry("L-ar1", 7, "700.00", "Receipt 1", ""),
			ledgerEntry("L-ar2", 8, "800.00", "Receipt 2", ""),
			ledgerEntry("L-refund", 16, "100.00", "Refunds", ""),
			ledgerEntry("L-orphan", 28, "12.00", "Rounding", ""),
		},
		rules: []*models.MatchingRule{rent, broken},
	}
}

func TestFullMatchWorkflow(t *testing.T) {
	engine := newTestEngine(t, DefaultMatchingConfig())

	result, err := engine.AutoMatch(context.Background(), createMonthScenario(), testScope())
	if err != nil {
		t.Fatalf("AutoMatch failed: %v", err)
	}

	expected := map[models.MatchType]int{
		models.MatchTypeExact:     1,
		models.MatchTypeRuleBased: 1,
		models.MatchTypeFuzzyDate: 1,
		models.MatchTypeOneToMany: 2,
		models.MatchTypeManyToOne: 2,
	}
	if !reflect.DeepEqual(result.Stats.PerStage, expected) {
		t.Errorf("Expected per-stage %v, got %v", expected, result.Stats.PerStage)
	}

	if result.Stats.UnmatchedBankLines != 1 || result.Stats.UnmatchedLedgerEntries != 1 {
		t.Errorf("Expected B07 and L-orphan left over, got %+v", result.Stats)
	}
	if len(result.SkippedRules) != 1 || result.SkippedRules[0].RuleID != "R-broken" {
		t.Errorf("Expected R-broken to be skipped, got %v", result.SkippedRules)
	}
	if result.RuleUsage["R-rent"] != 1 {
		t.Errorf("Expected R-rent usage 1, got %v", result.RuleUsage)
	}

	for _, c := range result.CandidatesByType(models.MatchTypeFuzzyDate) {
		if c.BankLineID != "B03" || !c.ReferenceMatched {
			t.Errorf("Expected B03 fuzzy match with reference bonus, got %s", c.String())
		}
	}
}

func TestFullMatchWorkflow_Deterministic(t *testing.T) {
	first := newTestEngine(t, DefaultMatchingConfig())
	second := newTestEngine(t, DefaultMatchingConfig())

	a, err := first.AutoMatch(context.Background(), createMonthScenario(), testScope())
	if err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	b, err := second.AutoMatch(context.Background(), createMonthScenario(), testScope())
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}

	if !reflect.DeepEqual(a.Candidates, b.Candidates) {
		t.Error("Expected identical candidates for identical input")
	}
}

func TestFullMatchWorkflow_Configs(t *testing.T) {
	configs := map[string]*MatchingConfig{
		"strict":  StrictMatchingConfig(),
		"default": DefaultMatchingConfig(),
		"relaxed": RelaxedMatchingConfig(),
	}

	for name, config := range configs {
		t.Run(name, func(t *testing.T) {
			engine := newTestEngine(t, config)
			result, err := engine.AutoMatch(context.Background(), createMonthScenario(), testScope())
			if err != nil {
				t.Fatalf("AutoMatch failed: %v", err)
			}
			for _, c := range result.Candidates {
				if c.ConfidenceScore < config.MinConfidenceThreshold {
					t.Errorf("Candidate %s below threshold %.2f", c.String(), config.MinConfidenceThreshold)
				}
			}
		})
	}
}
