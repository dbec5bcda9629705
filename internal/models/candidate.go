package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MatchCandidate is a proposed pairing of one bank line with one ledger entry.
// Members of a combinatorial group are emitted as one candidate per pair and
// share MatchGroupID; GroupSize is the number of members in the group.
type MatchCandidate struct {
	BankLineID      string          `json:"bank_line_id"`
	LedgerEntryID   string          `json:"ledger_entry_id"`
	MatchType       MatchType       `json:"match_type"`
	ConfidenceScore float64         `json:"confidence_score"`
	ConfidenceLevel ConfidenceLevel `json:"confidence_level"`
	MatchingRuleID  string          `json:"matching_rule_id,omitempty"`
	MatchGroupID    string          `json:"match_group_id,omitempty"`
	GroupSize       int             `json:"group_size,omitempty"`

	BankDate           time.Time       `json:"bank_date"`
	LedgerDate         time.Time       `json:"ledger_date"`
	BankAmount         decimal.Decimal `json:"bank_amount"`
	LedgerAmount       decimal.Decimal `json:"ledger_amount"`
	Narration          string          `json:"narration"`
	LedgerDescription  string          `json:"ledger_description"`
	BankReference      string          `json:"bank_reference,omitempty"`
	LedgerReference    string          `json:"ledger_reference,omitempty"`
	ReferenceMatched   bool            `json:"reference_matched"`
	DateDifferenceDays int             `json:"date_difference_days"`
}

// NewCandidate fills the display fields of a candidate from its two records
func NewCandidate(bl *BankLine, le *LedgerEntry, matchType MatchType) MatchCandidate {
	return MatchCandidate{
		BankLineID:         bl.ID,
		LedgerEntryID:      le.ID,
		MatchType:          matchType,
		BankDate:           NormalizeDate(bl.TransactionDate),
		LedgerDate:         NormalizeDate(le.EntryDate),
		BankAmount:         bl.EffectiveAmount(),
		LedgerAmount:       le.Amount,
		Narration:          bl.Narration,
		LedgerDescription:  le.Description,
		BankReference:      bl.Reference,
		LedgerReference:    le.Reference,
		DateDifferenceDays: DaysBetween(bl.TransactionDate, le.EntryDate),
	}
}

// IsGrouped reports whether the candidate belongs to a combinatorial group
func (mc *MatchCandidate) IsGrouped() bool {
	return mc.MatchGroupID != ""
}

// UnitKey identifies the match unit the candidate belongs to: its group or itself
func (mc *MatchCandidate) UnitKey() string {
	if mc.MatchGroupID != "" {
		return "group:" + mc.MatchGroupID
	}
	return "pair:" + mc.BankLineID + "|" + mc.LedgerEntryID
}

// String returns a string representation of the MatchCandidate
func (mc *MatchCandidate) String() string {
	return fmt.Sprintf("MatchCandidate{Bank: %s, Ledger: %s, Type: %s, Score: %.2f}",
		mc.BankLineID, mc.LedgerEntryID, mc.MatchType, mc.ConfidenceScore)
}

// MarshalJSON writes dates as calendar dates
func (mc MatchCandidate) MarshalJSON() ([]byte, error) {
	type Alias MatchCandidate
	return json.Marshal(&struct {
		BankDate   string `json:"bank_date"`
		LedgerDate string `json:"ledger_date"`
		Alias
	}{
		BankDate:   mc.BankDate.Format(DateLayout),
		LedgerDate: mc.LedgerDate.Format(DateLayout),
		Alias:      Alias(mc),
	})
}

// UnmarshalJSON reads calendar dates written by MarshalJSON
func (mc *MatchCandidate) UnmarshalJSON(data []byte) error {
	type Alias MatchCandidate
	aux := &struct {
		BankDate   string `json:"bank_date"`
		LedgerDate string `json:"ledger_date"`
		*Alias
	}{
		Alias: (*Alias)(mc),
	}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	var err error
	if aux.BankDate != "" {
		if mc.BankDate, err = time.Parse(DateLayout, aux.BankDate); err != nil {
			return fmt.Errorf("invalid bank_date format: %w", err)
		}
	}
	if aux.LedgerDate != "" {
		if mc.LedgerDate, err = time.Parse(DateLayout, aux.LedgerDate); err != nil {
			return fmt.Errorf("invalid ledger_date format: %w", err)
		}
	}

	return nil
}
