package matcher

import (
	"testing"

	"golang-bank-matching-engine/internal/models"
)

func TestMatchExact_TieBreak(t *testing.T) {
	tests := []struct {
		name     string
		bank     *models.BankLine
		ledger   []*models.LedgerEntry
		expected string
	}{
		{
			name: "closest reference wins",
			bank: debitLine("B1", 5, "75.00", "Card payment", "INV-2041"),
			ledger: []*models.LedgerEntry{
				ledgerEntry("L1", 5, "75.00", "Card payment", "PO-9911"),
				ledgerEntry("L2", 5, "75.00", "Office chairs", "INV-2041"),
			},
			expected: "L2",
		},
		{
			name: "narration used when a reference is missing",
			bank: debitLine("B1", 5, "75.00", "ACME OFFICE SUPPLIES", ""),
			ledger: []*models.LedgerEntry{
				ledgerEntry("L1", 5, "75.00", "Fuel", "X"),
				ledgerEntry("L2", 5, "75.00", "Acme office supplies", "Y"),
			},
			expected: "L2",
		},
		{
			name: "lowest ledger id on equal distance",
			bank: debitLine("B1", 5, "75.00", "Transfer", ""),
			ledger: []*models.LedgerEntry{
				ledgerEntry("L9", 5, "75.00", "Transfer", ""),
				ledgerEntry("L3", 5, "75.00", "Transfer", ""),
			},
			expected: "L3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newTestEngine(t, DefaultMatchingConfig())
			ws := NewWorkingSet(testScope(), []*models.BankLine{tt.bank}, tt.ledger, nil)

			got := engine.matchExact(ws)
			if len(got) != 1 {
				t.Fatalf("Expected 1 exact candidate, got %d", len(got))
			}
			if got[0].LedgerEntryID != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got[0].LedgerEntryID)
			}
		})
	}
}

func TestMatchExact_RequiresSameDateAndAmount(t *testing.T) {
	engine := newTestEngine(t, DefaultMatchingConfig())
	bank := []*models.BankLine{
		debitLine("B1", 5, "75.00", "Payment", ""),
		debitLine("B2", 6, "80.00", "Payment", ""),
	}
	ledger := []*models.LedgerEntry{
		ledgerEntry("L1", 6, "75.00", "Payment", ""),
		ledgerEntry("L2", 6, "80.01", "Payment", ""),
	}

	got := engine.matchExact(NewWorkingSet(testScope(), bank, ledger, nil))
	if len(got) != 0 {
		t.Errorf("Expected no exact candidates, got %d", len(got))
	}
}

func TestMatchExact_LedgerUsedOnce(t *testing.T) {
	engine := newTestEngine(t, DefaultMatchingConfig())
	bank := []*models.BankLine{
		debitLine("B1", 5, "75.00", "Payment", ""),
		debitLine("B2", 5, "75.00", "Payment", ""),
	}
	ledger := []*models.LedgerEntry{ledgerEntry("L1", 5, "-75.00", "Payment", "")}

	got := engine.matchExact(NewWorkingSet(testScope(), bank, ledger, nil))
	if len(got) != 1 {
		t.Fatalf("Expected 1 candidate, got %d", len(got))
	}
	if got[0].BankLineID != "B1" {
		t.Errorf("Expected the earliest bank line to win, got %s", got[0].BankLineID)
	}
}
