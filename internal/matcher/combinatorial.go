package matcher

import (
	"github.com/shopspring/decimal"

	"golang-bank-matching-engine/internal/models"
	"golang-bank-matching-engine/pkg/logger"
)

// SearchOutcome tags the result of a bounded subset-sum search
type SearchOutcome int

const (
	NotFound SearchOutcome = iota
	Found
	NotAttempted
)

func (o SearchOutcome) String() string {
	switch o {
	case Found:
		return "found"
	case NotAttempted:
		return "not_attempted"
	default:
		return "not_found"
	}
}

// ReasonTooManyCandidates is reported when the candidate pool exceeds the search bound
const ReasonTooManyCandidates = "too_many_candidates"

// SearchResult is the outcome of SubsetSearch. Members holds indexes into
// the searched amounts in ascending order and is only set when Outcome is Found.
type SearchResult struct {
	Outcome SearchOutcome
	Members []int
	Reason  string
}

// SubsetSearch looks for the first subset of amounts summing exactly to target.
//
// Subsets of size 2 up to maxItems are tried smallest first and, within one size,
// in lexicographic index order. Pools larger than twice maxItems are not searched.
func SubsetSearch(target decimal.Decimal, amounts []decimal.Decimal, maxItems int) SearchResult {
	n := len(amounts)
	if n < 2 || maxItems < 2 {
		return SearchResult{Outcome: NotFound}
	}
	if n > 2*maxItems {
		return SearchResult{Outcome: NotAttempted, Reason: ReasonTooManyCandidates}
	}

	allPositive := true
	for _, a := range amounts {
		if !a.IsPositive() {
			allPositive = false
			break
		}
	}

	limit := maxItems
	if n < limit {
		limit = n
	}

	picked := make([]int, 0, limit)
	var search func(start, size int, sum decimal.Decimal) bool
	search = func(start, size int, sum decimal.Decimal) bool {
		if len(picked) == size {
			return sum.Equal(target)
		}
		remaining := size - len(picked)
		for i := start; i <= n-remaining; i++ {
			next := sum.Add(amounts[i])
			if allPositive && next.GreaterThan(target) {
				continue
			}
			picked = append(picked, i)
			if search(i+1, size, next) {
				return true
			}
			picked = picked[:len(picked)-1]
		}
		return false
	}

	for size := 2; size <= limit; size++ {
		picked = picked[:0]
		if search(0, size, decimal.Zero) {
			members := make([]int, len(picked))
			copy(members, picked)
			return SearchResult{Outcome: Found, Members: members}
		}
	}

	return SearchResult{Outcome: NotFound}
}

// AnchorSkip records an anchor whose candidate pool was too large to search
type AnchorSkip struct {
	Stage      models.MatchType `json:"stage"`
	AnchorID   string           `json:"anchor_id"`
	Candidates int              `json:"candidates"`
	Reason     string           `json:"reason"`
}

// matchOneToMany finds bank lines equal to the sum of several ledger entries
func (me *MatchingEngine) matchOneToMany(ws *WorkingSet) ([]models.MatchCandidate, []AnchorSkip) {
	claims := newClaimSet(ws)
	var out []models.MatchCandidate
	var skips []AnchorSkip

	for _, bl := range ws.UnclaimedBankLines() {
		if claims.bankTaken(bl.ID) {
			continue
		}

		var pool []*models.LedgerEntry
		for _, le := range ws.LedgerEntriesInWindow(bl.TransactionDate, me.config.DateToleranceDays) {
			if !claims.ledgerTaken(le.ID) {
				pool = append(pool, le)
			}
		}

		amounts := make([]decimal.Decimal, len(pool))
		for i, le := range pool {
			amounts[i] = le.EffectiveAmount()
		}

		result := SubsetSearch(bl.EffectiveAmount(), amounts, me.config.MaxOneToManyCount)
		switch result.Outcome {
		case NotAttempted:
			skips = append(skips, me.skipAnchor(models.MatchTypeOneToMany, bl.ID, len(pool), result.Reason))
			continue
		case NotFound:
			continue
		}

		groupID := me.newGroupID()
		for _, idx := range result.Members {
			le := pool[idx]
			out = append(out, me.groupCandidate(bl, le, models.MatchTypeOneToMany, groupID, len(result.Members)))
			claims.take(bl.ID, le.ID)
		}
	}

	return out, skips
}

// matchManyToOne finds ledger entries equal to the sum of several bank lines
func (me *MatchingEngine) matchManyToOne(ws *WorkingSet) ([]models.MatchCandidate, []AnchorSkip) {
	claims := newClaimSet(ws)
	var out []models.MatchCandidate
	var skips []AnchorSkip

	for _, le := range ws.UnclaimedLedgerEntries() {
		if claims.ledgerTaken(le.ID) {
			continue
		}

		var pool []*models.BankLine
		for _, bl := range ws.BankLinesInWindow(le.EntryDate, me.config.DateToleranceDays) {
			if !claims.bankTaken(bl.ID) {
				pool = append(pool, bl)
			}
		}

		amounts := make([]decimal.Decimal, len(pool))
		for i, bl := range pool {
			amounts[i] = bl.EffectiveAmount()
		}

		result := SubsetSearch(le.EffectiveAmount(), amounts, me.config.MaxManyToOneCount)
		switch result.Outcome {
		case NotAttempted:
			skips = append(skips, me.skipAnchor(models.MatchTypeManyToOne, le.ID, len(pool), result.Reason))
			continue
		case NotFound:
			continue
		}

		groupID := me.newGroupID()
		for _, idx := range result.Members {
			bl := pool[idx]
			out = append(out, me.groupCandidate(bl, le, models.MatchTypeManyToOne, groupID, len(result.Members)))
			claims.take(bl.ID, le.ID)
		}
	}

	return out, skips
}

func (me *MatchingEngine) groupCandidate(bl *models.BankLine, le *models.LedgerEntry, matchType models.MatchType, groupID string, size int) models.MatchCandidate {
	c := models.NewCandidate(bl, le, matchType)
	c.ConfidenceScore = CombinatorialScore
	c.ConfidenceLevel = LevelForScore(CombinatorialScore)
	c.MatchGroupID = groupID
	c.GroupSize = size
	c.ReferenceMatched = ReferencesMatch(bl.Reference, le.Reference)
	return c
}

func (me *MatchingEngine) skipAnchor(stage models.MatchType, anchorID string, candidates int, reason string) AnchorSkip {
	me.logger.WithFields(logger.Fields{
		"stage":      stage.String(),
		"anchor_id":  anchorID,
		"candidates": candidates,
	}).Debugf("combinatorial search skipped: %s", reason)

	return AnchorSkip{Stage: stage, AnchorID: anchorID, Candidates: candidates, Reason: reason}
}
