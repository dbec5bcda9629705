package matcher

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/multierr"

	"golang-bank-matching-engine/internal/models"
	"golang-bank-matching-engine/pkg/errors"
)

// RuleSkip records a rule that could not be evaluated in a run
type RuleSkip struct {
	RuleID   string `json:"rule_id"`
	RuleName string `json:"rule_name"`
	Reason   string `json:"reason"`
}

// compiledRule is a MatchingRule with its patterns compiled once per run.
// Nil predicates match everything.
type compiledRule struct {
	rule              *models.MatchingRule
	narration         *regexp.Regexp
	reference         *regexp.Regexp
	ledgerDescription *regexp.Regexp
	keywords          []string
}

// compileRule compiles the rule's patterns. Patterns are case-insensitive.
func compileRule(r *models.MatchingRule) (*compiledRule, error) {
	cr := &compiledRule{rule: r}

	if r.DateToleranceDays < 0 || r.DateToleranceDays > models.MaxDateToleranceDays {
		return nil, fmt.Errorf("date_tolerance_days %d outside 0..%d", r.DateToleranceDays, models.MaxDateToleranceDays)
	}

	var err error
	if cr.narration, err = compilePattern("narration_pattern", r.NarrationPattern); err != nil {
		return nil, err
	}
	if cr.reference, err = compilePattern("reference_pattern", r.ReferencePattern); err != nil {
		return nil, err
	}
	if cr.ledgerDescription, err = compilePattern("ledger_description_pattern", r.LedgerDescriptionPattern); err != nil {
		return nil, err
	}

	for _, kw := range r.NarrationKeywords {
		if folded := foldText(kw); folded != "" {
			cr.keywords = append(cr.keywords, folded)
		}
	}

	return cr, nil
}

// CheckRulePatterns reports the first pattern of r that does not compile.
// Such a rule is skipped by every run until it is fixed.
func CheckRulePatterns(r *models.MatchingRule) error {
	_, err := compileRule(r)
	return err
}

func compilePattern(field, pattern string) (*regexp.Regexp, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, nil
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("%s %q: %w", field, pattern, err)
	}
	return re, nil
}

// matchesBank evaluates the bank-side predicates
func (cr *compiledRule) matchesBank(bl *models.BankLine) bool {
	r := cr.rule

	switch r.Direction {
	case models.DirectionDebit:
		if !bl.IsDebit() {
			return false
		}
	case models.DirectionCredit:
		if !bl.IsCredit() {
			return false
		}
	}

	amount := bl.EffectiveAmount()
	if r.AmountMin != nil && amount.LessThan(*r.AmountMin) {
		return false
	}
	if r.AmountMax != nil && amount.GreaterThan(*r.AmountMax) {
		return false
	}

	if cr.narration != nil && !cr.narration.MatchString(bl.Narration) {
		return false
	}
	if cr.reference != nil && !cr.reference.MatchString(bl.Reference) {
		return false
	}

	if len(cr.keywords) > 0 {
		narration := foldText(bl.Narration)
		found := false
		for _, kw := range cr.keywords {
			if strings.Contains(narration, kw) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}

// matchesLedger evaluates the ledger-side predicates
func (cr *compiledRule) matchesLedger(le *models.LedgerEntry) bool {
	r := cr.rule

	if cr.ledgerDescription != nil && !cr.ledgerDescription.MatchString(le.Description) {
		return false
	}
	if r.LedgerAccountCode != "" && !strings.EqualFold(r.LedgerAccountCode, le.AccountCode) {
		return false
	}
	if r.VendorID != "" && r.VendorID != le.VendorID {
		return false
	}
	if r.CustomerID != "" && r.CustomerID != le.CustomerID {
		return false
	}
	return true
}

// matchRules runs every active rule in priority order.
//
// For each bank line accepted by a rule, the lowest-id ledger entry that passes
// the rule's ledger predicates and tolerances is taken. A rule whose pattern
// does not compile is skipped for the whole run and reported once.
func (me *MatchingEngine) matchRules(ws *WorkingSet) ([]models.MatchCandidate, []RuleSkip) {
	claims := newClaimSet(ws)
	var out []models.MatchCandidate
	var skips []RuleSkip

	for _, rule := range ws.Rules() {
		cr, err := compileRule(rule)
		if err != nil {
			skips = append(skips, RuleSkip{RuleID: rule.ID, RuleName: rule.Name, Reason: err.Error()})
			continue
		}

		for _, bl := range ws.UnclaimedBankLines() {
			if claims.bankTaken(bl.ID) || !cr.matchesBank(bl) {
				continue
			}

			if c, ok := me.firstRuleMatch(ws, claims, cr, bl); ok {
				out = append(out, c)
				claims.take(c.BankLineID, c.LedgerEntryID)
			}
		}
	}

	return out, skips
}

func (me *MatchingEngine) firstRuleMatch(ws *WorkingSet, claims *claimSet, cr *compiledRule, bl *models.BankLine) (models.MatchCandidate, bool) {
	rule := cr.rule
	amount := bl.EffectiveAmount()

	window := ws.LedgerEntriesInWindow(bl.TransactionDate, rule.DateToleranceDays)
	sort.Slice(window, func(i, j int) bool { return window[i].ID < window[j].ID })

	for _, le := range window {
		if claims.ledgerTaken(le.ID) || !cr.matchesLedger(le) {
			continue
		}
		ledgerAmount := le.EffectiveAmount()
		if !withinPercent(amount, ledgerAmount, rule.AmountTolerancePercent) {
			continue
		}

		days := models.DaysBetween(bl.TransactionDate, le.EntryDate)
		score := RuleScore(days, amount.Equal(ledgerAmount))
		if score < me.config.MinConfidenceThreshold {
			continue
		}

		c := models.NewCandidate(bl, le, models.MatchTypeRuleBased)
		c.ConfidenceScore = score
		c.ConfidenceLevel = LevelForScore(score)
		c.MatchingRuleID = rule.ID
		c.ReferenceMatched = ReferencesMatch(bl.Reference, le.Reference)
		return c, true
	}

	return models.MatchCandidate{}, false
}

// RuleUsage counts candidates per rule id; the store turns it into counter increments on apply
func RuleUsage(candidates []models.MatchCandidate) map[string]int {
	usage := make(map[string]int)
	for _, c := range candidates {
		if c.MatchingRuleID != "" {
			usage[c.MatchingRuleID]++
		}
	}
	return usage
}

// SkippedRulesError folds the skipped rules of a run into one error, or nil
func SkippedRulesError(skips []RuleSkip) error {
	var err error
	for _, s := range skips {
		err = multierr.Append(err, errors.MatchingError(errors.CodeInvalidRule, s.RuleID, fmt.Errorf("%s", s.Reason)))
	}
	return err
}
