package reconciler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"golang-bank-matching-engine/internal/models"
	"golang-bank-matching-engine/pkg/errors"
)

// matchUnit is one candidate, or every member of a combinatorial group
type matchUnit struct {
	key     string
	members []models.MatchCandidate
}

// ValidateCandidates checks that candidates can be applied as a whole.
//
// Every candidate needs both record ids and a known match type. Groups must be
// complete: GroupSize members sharing one anchor, with member amounts summing
// to the anchor amount. A bank line or ledger entry may belong to only one
// match unit.
func ValidateCandidates(candidates []models.MatchCandidate) error {
	for i, c := range candidates {
		if err := validateCandidate(i, c); err != nil {
			return err
		}
	}

	units := groupUnits(candidates)

	bankOwner := make(map[string]string)
	ledgerOwner := make(map[string]string)
	for _, u := range units {
		if err := validateUnit(u); err != nil {
			return err
		}

		for _, c := range u.members {
			if err := claimRecord(bankOwner, "bank line", c.BankLineID, u.key); err != nil {
				return err
			}
			if err := claimRecord(ledgerOwner, "ledger entry", c.LedgerEntryID, u.key); err != nil {
				return err
			}
		}
	}

	return nil
}

func validateCandidate(index int, c models.MatchCandidate) error {
	if strings.TrimSpace(c.BankLineID) == "" {
		return errors.ValidationError(errors.CodeMissingField, fmt.Sprintf("candidates[%d].bank_line_id", index), c.BankLineID, nil)
	}
	if strings.TrimSpace(c.LedgerEntryID) == "" {
		return errors.ValidationError(errors.CodeMissingField, fmt.Sprintf("candidates[%d].ledger_entry_id", index), c.LedgerEntryID, nil)
	}
	if !c.MatchType.IsValid() {
		return errors.ValidationError(errors.CodeOutOfRange, fmt.Sprintf("candidates[%d].match_type", index), c.MatchType, nil).
			WithSuggestion("use one of exact, fuzzy_date, fuzzy_amount, rule_based, one_to_many, many_to_one, manual")
	}
	if c.MatchType.IsGroup() != c.IsGrouped() {
		return errors.MatchingError(errors.CodeInvalidGroup, c.UnitKey(),
			fmt.Errorf("match type %s does not agree with group id %q", c.MatchType, c.MatchGroupID))
	}
	return nil
}

func groupUnits(candidates []models.MatchCandidate) []*matchUnit {
	byKey := make(map[string]*matchUnit)
	var units []*matchUnit

	for _, c := range candidates {
		key := c.UnitKey()
		u, ok := byKey[key]
		if !ok {
			u = &matchUnit{key: key}
			byKey[key] = u
			units = append(units, u)
		}
		u.members = append(u.members, c)
	}
	return units
}

func validateUnit(u *matchUnit) error {
	first := u.members[0]
	if !first.IsGrouped() {
		if len(u.members) > 1 {
			return errors.MatchingError(errors.CodeInvalidGroup, u.key, fmt.Errorf("candidate listed %d times", len(u.members)))
		}
		return nil
	}

	size := first.GroupSize
	if size < 2 {
		return errors.MatchingError(errors.CodeInvalidGroup, first.MatchGroupID, fmt.Errorf("group size %d is below 2", size))
	}
	if len(u.members) != size {
		return errors.MatchingError(errors.CodeInvalidGroup, first.MatchGroupID,
			fmt.Errorf("expected %d members, got %d", size, len(u.members))).
			WithContext("expected", size).
			WithContext("found", len(u.members))
	}

	seen := make(map[string]bool, size)
	memberTotal := decimal.Zero
	for _, c := range u.members {
		if c.MatchType != first.MatchType || c.GroupSize != size {
			return errors.MatchingError(errors.CodeInvalidGroup, first.MatchGroupID, fmt.Errorf("members disagree on type or size"))
		}

		var anchor, member string
		var amount decimal.Decimal
		switch first.MatchType {
		case models.MatchTypeOneToMany:
			anchor, member, amount = c.BankLineID, c.LedgerEntryID, c.LedgerAmount.Abs()
			if anchor != first.BankLineID {
				return errors.MatchingError(errors.CodeInvalidGroup, first.MatchGroupID,
					fmt.Errorf("group has more than one bank line: %s, %s", first.BankLineID, anchor))
			}
		default:
			anchor, member, amount = c.LedgerEntryID, c.BankLineID, c.BankAmount.Abs()
			if anchor != first.LedgerEntryID {
				return errors.MatchingError(errors.CodeInvalidGroup, first.MatchGroupID,
					fmt.Errorf("group has more than one ledger entry: %s, %s", first.LedgerEntryID, anchor))
			}
		}

		if seen[member] {
			return errors.MatchingError(errors.CodeInvalidGroup, first.MatchGroupID, fmt.Errorf("member %s listed twice", member))
		}
		seen[member] = true
		memberTotal = memberTotal.Add(amount)
	}

	anchorAmount := first.BankAmount.Abs()
	if first.MatchType == models.MatchTypeManyToOne {
		anchorAmount = first.LedgerAmount.Abs()
	}
	if !memberTotal.Equal(anchorAmount) {
		return errors.MatchingError(errors.CodeInvalidGroup, first.MatchGroupID,
			fmt.Errorf("members sum to %s, anchor amount is %s", memberTotal, anchorAmount)).
			WithContext("members_total", memberTotal.String()).
			WithContext("anchor_amount", anchorAmount.String())
	}

	return nil
}

func claimRecord(owners map[string]string, kind, id, unit string) error {
	if owner, ok := owners[id]; ok && owner != unit {
		units := []string{owner, unit}
		sort.Strings(units)
		return errors.MatchingError(errors.CodeInvalidGroup, unit,
			fmt.Errorf("%s %s appears in two match units: %s", kind, id, strings.Join(units, ", ")))
	}
	owners[id] = unit
	return nil
}
