package matcher

import (
	"context"

	"golang-bank-matching-engine/internal/models"
	"golang-bank-matching-engine/pkg/errors"
)

// RecordSource is the read side of the persistence collaborator
type RecordSource interface {
	UnmatchedBankLines(ctx context.Context, scope models.Scope) ([]*models.BankLine, error)
	UnmatchedLedgerEntries(ctx context.Context, scope models.Scope) ([]*models.LedgerEntry, error)
	ActiveMatchingRules(ctx context.Context, entityID, bankAccountID string) ([]*models.MatchingRule, error)
}

// LoadWorkingSet pulls the unmatched records and active rules of a scope into a new WorkingSet.
//
// An empty scope yields an empty working set and a nil error. Failures of the
// source are returned as persistence errors so callers can tell them apart
// from "nothing to reconcile".
func LoadWorkingSet(ctx context.Context, src RecordSource, scope models.Scope) (*WorkingSet, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	bankLines, err := src.UnmatchedBankLines(ctx, scope)
	if err != nil {
		return nil, errors.PersistenceError(errors.CodeLoadFailed, "load bank lines", err).
			WithContext("scope", scope.String())
	}

	ledgerEntries, err := src.UnmatchedLedgerEntries(ctx, scope)
	if err != nil {
		return nil, errors.PersistenceError(errors.CodeLoadFailed, "load ledger entries", err).
			WithContext("scope", scope.String())
	}

	rules, err := src.ActiveMatchingRules(ctx, scope.EntityID, scope.BankAccountID)
	if err != nil {
		return nil, errors.PersistenceError(errors.CodeLoadFailed, "load matching rules", err).
			WithContext("scope", scope.String())
	}

	return NewWorkingSet(scope, filterBankLines(scope, bankLines), filterLedgerEntries(scope, ledgerEntries), filterRules(scope, rules)), nil
}

func filterBankLines(scope models.Scope, lines []*models.BankLine) []*models.BankLine {
	out := make([]*models.BankLine, 0, len(lines))
	for _, bl := range lines {
		if bl == nil || bl.Matched || bl.BankAccountID != scope.BankAccountID || !scope.Contains(bl.TransactionDate) {
			continue
		}
		if bl.EffectiveAmount().IsZero() {
			continue
		}
		out = append(out, bl)
	}
	return out
}

func filterLedgerEntries(scope models.Scope, entries []*models.LedgerEntry) []*models.LedgerEntry {
	out := make([]*models.LedgerEntry, 0, len(entries))
	for _, le := range entries {
		if le == nil || !le.IsCashRelevant() || !scope.Contains(le.EntryDate) {
			continue
		}
		if le.EntityID != "" && le.EntityID != scope.EntityID {
			continue
		}
		if le.Amount.IsZero() {
			continue
		}
		out = append(out, le)
	}
	return out
}

func filterRules(scope models.Scope, rules []*models.MatchingRule) []*models.MatchingRule {
	out := make([]*models.MatchingRule, 0, len(rules))
	for _, r := range rules {
		if r == nil || !r.IsActive || !r.AppliesTo(scope.EntityID, scope.BankAccountID) {
			continue
		}
		out = append(out, r)
	}
	return out
}
