package models

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"golang-bank-matching-engine/pkg/errors"
)

// DateLayout is the calendar-date layout used across storage, files and reports
const DateLayout = "2006-01-02"

// MaxDateToleranceDays caps every ± date window, global or per rule
const MaxDateToleranceDays = 366

// MatchType identifies the strategy that produced a match
type MatchType string

const (
	MatchTypeExact       MatchType = "exact"
	MatchTypeFuzzyDate   MatchType = "fuzzy_date"
	MatchTypeFuzzyAmount MatchType = "fuzzy_amount"
	MatchTypeRuleBased   MatchType = "rule_based"
	MatchTypeOneToMany   MatchType = "one_to_many"
	MatchTypeManyToOne   MatchType = "many_to_one"
	MatchTypeManual      MatchType = "manual"
)

// String returns the string representation of MatchType
func (mt MatchType) String() string {
	return string(mt)
}

// IsValid checks if the match type is known
func (mt MatchType) IsValid() bool {
	switch mt {
	case MatchTypeExact, MatchTypeFuzzyDate, MatchTypeFuzzyAmount, MatchTypeRuleBased,
		MatchTypeOneToMany, MatchTypeManyToOne, MatchTypeManual:
		return true
	default:
		return false
	}
}

// IsGroup reports whether the type is produced by the combinatorial matcher
func (mt MatchType) IsGroup() bool {
	return mt == MatchTypeOneToMany || mt == MatchTypeManyToOne
}

// ConfidenceLevel is the coarse bucket derived from a confidence score
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "high"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceLow    ConfidenceLevel = "low"
)

// String returns the string representation of ConfidenceLevel
func (cl ConfidenceLevel) String() string {
	return string(cl)
}

// Direction filters bank lines by the side of the statement they sit on
type Direction string

const (
	DirectionAny    Direction = "any"
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

// IsValid checks if the direction is known; empty means any
func (d Direction) IsValid() bool {
	return d == "" || d == DirectionAny || d == DirectionDebit || d == DirectionCredit
}

// BankLine is one imported statement transaction
type BankLine struct {
	ID              string          `json:"id"`
	BankAccountID   string          `json:"bank_account_id"`
	EntityID        string          `json:"entity_id"`
	TransactionDate time.Time       `json:"transaction_date"`
	Debit           decimal.Decimal `json:"debit"`
	Credit          decimal.Decimal `json:"credit"`
	Narration       string          `json:"narration"`
	Reference       string          `json:"reference"`

	Matched          bool            `json:"matched"`
	MatchedLedgerIDs []string        `json:"matched_ledger_ids,omitempty"`
	MatchType        MatchType       `json:"match_type,omitempty"`
	MatchGroupID     string          `json:"match_group_id,omitempty"`
	ConfidenceScore  float64         `json:"confidence_score,omitempty"`
	ConfidenceLevel  ConfidenceLevel `json:"confidence_level,omitempty"`
	MatchingRuleID   string          `json:"matching_rule_id,omitempty"`
	MatchedBy        string          `json:"matched_by,omitempty"`
	MatchedAt        *time.Time      `json:"matched_at,omitempty"`
}

// EffectiveAmount returns whichever of debit or credit is non-zero
func (bl *BankLine) EffectiveAmount() decimal.Decimal {
	if !bl.Debit.IsZero() {
		return bl.Debit
	}
	return bl.Credit
}

// IsDebit returns true if money left the account
func (bl *BankLine) IsDebit() bool {
	return !bl.Debit.IsZero()
}

// IsCredit returns true if money entered the account
func (bl *BankLine) IsCredit() bool {
	return bl.Debit.IsZero() && !bl.Credit.IsZero()
}

// MatchedTargetID returns the first ledger entry the line is matched to
func (bl *BankLine) MatchedTargetID() string {
	if len(bl.MatchedLedgerIDs) == 0 {
		return ""
	}
	return bl.MatchedLedgerIDs[0]
}

// ClearMatch restores every match field to its unmatched state
func (bl *BankLine) ClearMatch() {
	bl.Matched = false
	bl.MatchedLedgerIDs = nil
	bl.MatchType = ""
	bl.MatchGroupID = ""
	bl.ConfidenceScore = 0
	bl.ConfidenceLevel = ""
	bl.MatchingRuleID = ""
	bl.MatchedBy = ""
	bl.MatchedAt = nil
}

// Validate performs basic validation on the BankLine
func (bl *BankLine) Validate() error {
	if strings.TrimSpace(bl.ID) == "" {
		return errors.ValidationError(errors.CodeMissingField, "id", bl.ID, nil)
	}
	if strings.TrimSpace(bl.BankAccountID) == "" {
		return errors.ValidationError(errors.CodeMissingField, "bank_account_id", bl.BankAccountID, nil)
	}
	if bl.TransactionDate.IsZero() {
		return errors.ValidationError(errors.CodeInvalidDate, "transaction_date", bl.TransactionDate, nil)
	}
	if bl.Debit.IsNegative() || bl.Credit.IsNegative() {
		return errors.ValidationError(errors.CodeInvalidAmount, "debit/credit", fmt.Sprintf("%s/%s", bl.Debit, bl.Credit), nil)
	}
	if bl.Debit.IsZero() == bl.Credit.IsZero() {
		return errors.ValidationError(errors.CodeInvalidAmount, "debit/credit", fmt.Sprintf("%s/%s", bl.Debit, bl.Credit), nil).
			WithSuggestion("exactly one of debit and credit must be non-zero")
	}
	return nil
}

// String returns a string representation of the BankLine
func (bl *BankLine) String() string {
	return fmt.Sprintf("BankLine{ID: %s, Date: %s, Amount: %s, Matched: %t}",
		bl.ID, bl.TransactionDate.Format(DateLayout), bl.EffectiveAmount(), bl.Matched)
}

// LedgerEntry is one internal bookkeeping transaction
type LedgerEntry struct {
	ID          string          `json:"id"`
	EntityID    string          `json:"entity_id"`
	EntryDate   time.Time       `json:"entry_date"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Reference   string          `json:"reference"`
	VendorID    string          `json:"vendor_id,omitempty"`
	CustomerID  string          `json:"customer_id,omitempty"`
	AccountCode string          `json:"account_code,omitempty"`
	Category    string          `json:"category,omitempty"`
	EntryType   string          `json:"entry_type,omitempty"`
}

// CashCategories lists ledger categories eligible for bank matching
func CashCategories() []string { return []string{"bank", "cash"} }

// BankEntryTypes lists ledger entry types linked to a bank account
func BankEntryTypes() []string { return []string{"bank_debit", "bank_credit"} }

// EffectiveAmount returns the unsigned ledger amount
func (le *LedgerEntry) EffectiveAmount() decimal.Decimal {
	return le.Amount.Abs()
}

// IsCashRelevant reports whether the entry can be reconciled against a bank line
func (le *LedgerEntry) IsCashRelevant() bool {
	return slices.Contains(CashCategories(), strings.ToLower(le.Category)) ||
		slices.Contains(BankEntryTypes(), strings.ToLower(le.EntryType))
}

// Validate performs basic validation on the LedgerEntry
func (le *LedgerEntry) Validate() error {
	if strings.TrimSpace(le.ID) == "" {
		return errors.ValidationError(errors.CodeMissingField, "id", le.ID, nil)
	}
	if le.EntryDate.IsZero() {
		return errors.ValidationError(errors.CodeInvalidDate, "entry_date", le.EntryDate, nil)
	}
	if le.Amount.IsZero() {
		return errors.ValidationError(errors.CodeInvalidAmount, "amount", le.Amount.String(), nil)
	}
	return nil
}

// String returns a string representation of the LedgerEntry
func (le *LedgerEntry) String() string {
	return fmt.Sprintf("LedgerEntry{ID: %s, Date: %s, Amount: %s}",
		le.ID, le.EntryDate.Format(DateLayout), le.Amount)
}

// MatchingRule is a user-authored policy pairing bank-side and ledger-side predicates
type MatchingRule struct {
	ID            string `json:"id"`
	EntityID      string `json:"entity_id"`
	BankAccountID string `json:"bank_account_id,omitempty"`
	Name          string `json:"name"`
	Priority      int    `json:"priority"`
	IsActive      bool   `json:"is_active"`

	NarrationPattern  string           `json:"narration_pattern,omitempty"`
	NarrationKeywords []string         `json:"narration_keywords,omitempty"`
	ReferencePattern  string           `json:"reference_pattern,omitempty"`
	AmountMin         *decimal.Decimal `json:"amount_min,omitempty"`
	AmountMax         *decimal.Decimal `json:"amount_max,omitempty"`
	Direction         Direction        `json:"direction,omitempty"`

	LedgerDescriptionPattern string `json:"ledger_description_pattern,omitempty"`
	LedgerAccountCode        string `json:"ledger_account_code,omitempty"`
	VendorID                 string `json:"vendor_id,omitempty"`
	CustomerID               string `json:"customer_id,omitempty"`

	DateToleranceDays      int     `json:"date_tolerance_days"`
	AmountTolerancePercent float64 `json:"amount_tolerance_percent"`

	TimesUsed      int        `json:"times_used"`
	TimesSucceeded int        `json:"times_succeeded"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
}

// AppliesTo reports whether the rule is in scope for a bank account.
// Entity-wide rules have no bank account and apply to every account.
func (r *MatchingRule) AppliesTo(entityID, bankAccountID string) bool {
	if r.EntityID != entityID {
		return false
	}
	return r.BankAccountID == "" || r.BankAccountID == bankAccountID
}

// Validate performs basic validation on the MatchingRule
func (r *MatchingRule) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.ValidationError(errors.CodeMissingField, "id", r.ID, nil)
	}
	if strings.TrimSpace(r.EntityID) == "" {
		return errors.ValidationError(errors.CodeMissingField, "entity_id", r.EntityID, nil)
	}
	if r.Priority < 0 {
		return errors.ValidationError(errors.CodeOutOfRange, "priority", r.Priority, nil)
	}
	if r.DateToleranceDays < 0 || r.DateToleranceDays > MaxDateToleranceDays {
		return errors.ValidationError(errors.CodeOutOfRange, "date_tolerance_days", r.DateToleranceDays, nil)
	}
	if r.AmountTolerancePercent < 0 || r.AmountTolerancePercent > 100 {
		return errors.ValidationError(errors.CodeOutOfRange, "amount_tolerance_percent", r.AmountTolerancePercent, nil)
	}
	if r.AmountMin != nil && r.AmountMax != nil && r.AmountMin.GreaterThan(*r.AmountMax) {
		return errors.ValidationError(errors.CodeOutOfRange, "amount_min", r.AmountMin.String(), nil).
			WithSuggestion("amount_min must not exceed amount_max")
	}
	if !r.Direction.IsValid() {
		return errors.ValidationError(errors.CodeOutOfRange, "direction", r.Direction, nil)
	}
	return nil
}

// Scope identifies one reconciliation run: a bank account of an entity over a period
type Scope struct {
	BankAccountID string    `json:"bank_account_id"`
	EntityID      string    `json:"entity_id"`
	PeriodStart   time.Time `json:"period_start"`
	PeriodEnd     time.Time `json:"period_end"`
}

// Validate checks the scope is complete and ordered
func (s Scope) Validate() error {
	if strings.TrimSpace(s.BankAccountID) == "" {
		return errors.ValidationError(errors.CodeMissingField, "bank_account_id", s.BankAccountID, nil)
	}
	if strings.TrimSpace(s.EntityID) == "" {
		return errors.ValidationError(errors.CodeMissingField, "entity_id", s.EntityID, nil)
	}
	if s.PeriodStart.IsZero() || s.PeriodEnd.IsZero() {
		return errors.ValidationError(errors.CodeInvalidDate, "period", s.String(), nil)
	}
	if s.PeriodStart.After(s.PeriodEnd) {
		return errors.ValidationError(errors.CodeInvalidDate, "period", s.String(), nil).
			WithSuggestion("period start must not be after period end")
	}
	return nil
}

// Contains reports whether a date falls within the scope period, inclusive
func (s Scope) Contains(t time.Time) bool {
	d := NormalizeDate(t)
	return !d.Before(NormalizeDate(s.PeriodStart)) && !d.After(NormalizeDate(s.PeriodEnd))
}

// String returns a compact description of the scope
func (s Scope) String() string {
	return fmt.Sprintf("%s/%s [%s..%s]", s.EntityID, s.BankAccountID,
		s.PeriodStart.Format(DateLayout), s.PeriodEnd.Format(DateLayout))
}

// NormalizeDate drops the time of day, keeping the calendar date in UTC
func NormalizeDate(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the absolute number of calendar days between two dates
func DaysBetween(a, b time.Time) int {
	diff := NormalizeDate(a).Sub(NormalizeDate(b))
	if diff < 0 {
		diff = -diff
	}
	return int(diff.Hours() / 24)
}

// ParseDate parses a YYYY-MM-DD calendar date
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, errors.ValidationError(errors.CodeInvalidDate, "date", s, err)
	}
	return t, nil
}

// ParseDecimalFromString parses a decimal value from string with validation
func ParseDecimalFromString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, errors.ValidationError(errors.CodeInvalidAmount, "amount", s, nil)
	}

	s = strings.ReplaceAll(s, ",", "")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.ValidationError(errors.CodeInvalidAmount, "amount", s, err)
	}

	return d, nil
}
