package matcher

import (
	"github.com/agnivade/levenshtein"

	"golang-bank-matching-engine/internal/models"
)

// matchExact pairs bank lines with ledger entries of identical amount and date.
//
// When several ledger entries qualify for one bank line the choice is
// deterministic: smallest edit distance between the references (narration
// against description when either reference is empty), then lowest ledger id.
func (me *MatchingEngine) matchExact(ws *WorkingSet) []models.MatchCandidate {
	claims := newClaimSet(ws)
	var out []models.MatchCandidate

	for _, bl := range ws.UnclaimedBankLines() {
		amount := bl.EffectiveAmount()

		var best *models.LedgerEntry
		var bestKey exactKey
		for _, le := range ws.LedgerEntriesInWindow(bl.TransactionDate, 0) {
			if claims.ledgerTaken(le.ID) || !le.EffectiveAmount().Equal(amount) {
				continue
			}
			key := newExactKey(bl, le)
			if best == nil || key.less(bestKey) {
				best, bestKey = le, key
			}
		}
		if best == nil {
			continue
		}

		c := models.NewCandidate(bl, best, models.MatchTypeExact)
		c.ConfidenceScore = ExactScore
		c.ConfidenceLevel = LevelForScore(ExactScore)
		c.ReferenceMatched = bestKey.referenceMatched
		out = append(out, c)
		claims.take(bl.ID, best.ID)
	}

	return out
}

type exactKey struct {
	referenceMatched bool
	distance         int
	ledgerID         string
}

func newExactKey(bl *models.BankLine, le *models.LedgerEntry) exactKey {
	key := exactKey{
		referenceMatched: ReferencesMatch(bl.Reference, le.Reference),
		ledgerID:         le.ID,
	}
	if foldText(bl.Reference) != "" && foldText(le.Reference) != "" {
		key.distance = textDistance(bl.Reference, le.Reference)
	} else {
		key.distance = textDistance(bl.Narration, le.Description)
	}
	return key
}

func (k exactKey) less(other exactKey) bool {
	if k.distance != other.distance {
		return k.distance < other.distance
	}
	return k.ledgerID < other.ledgerID
}

func textDistance(a, b string) int {
	return levenshtein.ComputeDistance(foldText(a), foldText(b))
}
