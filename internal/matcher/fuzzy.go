package matcher

import (
	"golang-bank-matching-engine/internal/models"
)

// matchFuzzy pairs each remaining bank line with its best-scoring ledger entry
// within the configured date and amount tolerances.
//
// Ties are broken by smaller date difference, then lowest ledger id. A best
// pair scoring below the confidence threshold is dropped and both records stay
// available to the combinatorial stages.
func (me *MatchingEngine) matchFuzzy(ws *WorkingSet) []models.MatchCandidate {
	claims := newClaimSet(ws)
	tolerance := me.config.DateToleranceDays
	var out []models.MatchCandidate

	for _, bl := range ws.UnclaimedBankLines() {
		amount := bl.EffectiveAmount()

		var best *models.MatchCandidate
		for _, le := range ws.LedgerEntriesInWindow(bl.TransactionDate, tolerance) {
			if claims.ledgerTaken(le.ID) {
				continue
			}
			ledgerAmount := le.EffectiveAmount()
			if !withinPercent(amount, ledgerAmount, me.config.AmountTolerancePercent) {
				continue
			}

			days := models.DaysBetween(bl.TransactionDate, le.EntryDate)
			refMatched := ReferencesMatch(bl.Reference, le.Reference)
			score := FuzzyScore(amount, ledgerAmount, days, tolerance, refMatched)

			if best != nil && !fuzzyBetter(score, days, le.ID, best) {
				continue
			}

			matchType := models.MatchTypeFuzzyAmount
			if days != 0 {
				matchType = models.MatchTypeFuzzyDate
			}
			c := models.NewCandidate(bl, le, matchType)
			c.ConfidenceScore = score
			c.ConfidenceLevel = LevelForScore(score)
			c.ReferenceMatched = refMatched
			best = &c
		}

		if best == nil || best.ConfidenceScore < me.config.MinConfidenceThreshold {
			continue
		}
		out = append(out, *best)
		claims.take(best.BankLineID, best.LedgerEntryID)
	}

	return out
}

func fuzzyBetter(score float64, days int, ledgerID string, current *models.MatchCandidate) bool {
	if score != current.ConfidenceScore {
		return score > current.ConfidenceScore
	}
	if days != current.DateDifferenceDays {
		return days < current.DateDifferenceDays
	}
	return ledgerID < current.LedgerEntryID
}
