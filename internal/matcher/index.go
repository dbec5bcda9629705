package matcher

import (
	"sort"
	"time"

	"golang-bank-matching-engine/internal/models"
)

// WorkingSet is the per-run arena of loaded records.
//
// It owns the bank lines, ledger entries and rules of one scope, keyed by id,
// plus date indexes for window lookups and the set of records already claimed
// by earlier stages. A WorkingSet belongs to exactly one run and is never shared.
type WorkingSet struct {
	Scope models.Scope

	bankLines     map[string]*models.BankLine
	ledgerEntries map[string]*models.LedgerEntry
	rules         []*models.MatchingRule

	// bankOrder is sorted by (date, id); ledgerOrder by id
	bankOrder   []string
	ledgerOrder []string

	// date indexes map YYYY-MM-DD to ids sorted by id
	bankByDate   map[string][]string
	ledgerByDate map[string][]string

	claimedBank   map[string]bool
	claimedLedger map[string]bool
}

// NewWorkingSet builds the indexes for a run. Duplicate ids keep their first occurrence.
func NewWorkingSet(scope models.Scope, bankLines []*models.BankLine, ledgerEntries []*models.LedgerEntry, rules []*models.MatchingRule) *WorkingSet {
	ws := &WorkingSet{
		Scope:         scope,
		bankLines:     make(map[string]*models.BankLine, len(bankLines)),
		ledgerEntries: make(map[string]*models.LedgerEntry, len(ledgerEntries)),
		bankByDate:    make(map[string][]string),
		ledgerByDate:  make(map[string][]string),
		claimedBank:   make(map[string]bool),
		claimedLedger: make(map[string]bool),
	}

	for _, bl := range bankLines {
		if bl == nil {
			continue
		}
		if _, exists := ws.bankLines[bl.ID]; exists {
			continue
		}
		ws.bankLines[bl.ID] = bl
		ws.bankOrder = append(ws.bankOrder, bl.ID)
		key := dateKey(bl.TransactionDate)
		ws.bankByDate[key] = append(ws.bankByDate[key], bl.ID)
	}

	for _, le := range ledgerEntries {
		if le == nil {
			continue
		}
		if _, exists := ws.ledgerEntries[le.ID]; exists {
			continue
		}
		ws.ledgerEntries[le.ID] = le
		ws.ledgerOrder = append(ws.ledgerOrder, le.ID)
		key := dateKey(le.EntryDate)
		ws.ledgerByDate[key] = append(ws.ledgerByDate[key], le.ID)
	}

	sort.Slice(ws.bankOrder, func(i, j int) bool {
		a, b := ws.bankLines[ws.bankOrder[i]], ws.bankLines[ws.bankOrder[j]]
		da, db := models.NormalizeDate(a.TransactionDate), models.NormalizeDate(b.TransactionDate)
		if !da.Equal(db) {
			return da.Before(db)
		}
		return a.ID < b.ID
	})
	sort.Strings(ws.ledgerOrder)
	for _, ids := range ws.bankByDate {
		sort.Strings(ids)
	}
	for _, ids := range ws.ledgerByDate {
		sort.Strings(ids)
	}

	for _, r := range rules {
		if r != nil {
			ws.rules = append(ws.rules, r)
		}
	}
	sort.SliceStable(ws.rules, func(i, j int) bool {
		if ws.rules[i].Priority != ws.rules[j].Priority {
			return ws.rules[i].Priority < ws.rules[j].Priority
		}
		return ws.rules[i].ID < ws.rules[j].ID
	})

	return ws
}

// BankLine returns a bank line by id
func (ws *WorkingSet) BankLine(id string) (*models.BankLine, bool) {
	bl, ok := ws.bankLines[id]
	return bl, ok
}

// LedgerEntry returns a ledger entry by id
func (ws *WorkingSet) LedgerEntry(id string) (*models.LedgerEntry, bool) {
	le, ok := ws.ledgerEntries[id]
	return le, ok
}

// Rules returns the rules in evaluation order
func (ws *WorkingSet) Rules() []*models.MatchingRule {
	return ws.rules
}

// IsBankClaimed reports whether an earlier stage claimed the bank line
func (ws *WorkingSet) IsBankClaimed(id string) bool {
	return ws.claimedBank[id]
}

// IsLedgerClaimed reports whether an earlier stage claimed the ledger entry
func (ws *WorkingSet) IsLedgerClaimed(id string) bool {
	return ws.claimedLedger[id]
}

// Claim marks both records of the candidate as matched for the rest of the run
func (ws *WorkingSet) Claim(c models.MatchCandidate) {
	ws.claimedBank[c.BankLineID] = true
	ws.claimedLedger[c.LedgerEntryID] = true
}

// UnclaimedBankLines returns unclaimed bank lines ordered by (date, id)
func (ws *WorkingSet) UnclaimedBankLines() []*models.BankLine {
	out := make([]*models.BankLine, 0, len(ws.bankOrder))
	for _, id := range ws.bankOrder {
		if !ws.claimedBank[id] {
			out = append(out, ws.bankLines[id])
		}
	}
	return out
}

// UnclaimedLedgerEntries returns unclaimed ledger entries ordered by id
func (ws *WorkingSet) UnclaimedLedgerEntries() []*models.LedgerEntry {
	out := make([]*models.LedgerEntry, 0, len(ws.ledgerOrder))
	for _, id := range ws.ledgerOrder {
		if !ws.claimedLedger[id] {
			out = append(out, ws.ledgerEntries[id])
		}
	}
	return out
}

// LedgerEntriesInWindow returns unclaimed ledger entries dated within ±days of date,
// ordered by (date, id)
func (ws *WorkingSet) LedgerEntriesInWindow(date time.Time, days int) []*models.LedgerEntry {
	var out []*models.LedgerEntry
	forEachDay(date, days, func(key string) {
		for _, id := range ws.ledgerByDate[key] {
			if !ws.claimedLedger[id] {
				out = append(out, ws.ledgerEntries[id])
			}
		}
	})
	return out
}

// BankLinesInWindow returns unclaimed bank lines dated within ±days of date,
// ordered by (date, id)
func (ws *WorkingSet) BankLinesInWindow(date time.Time, days int) []*models.BankLine {
	var out []*models.BankLine
	forEachDay(date, days, func(key string) {
		for _, id := range ws.bankByDate[key] {
			if !ws.claimedBank[id] {
				out = append(out, ws.bankLines[id])
			}
		}
	})
	return out
}

// IndexStats summarises the working set
type IndexStats struct {
	BankLines              int `json:"bank_lines"`
	LedgerEntries          int `json:"ledger_entries"`
	Rules                  int `json:"rules"`
	UnmatchedBankLines     int `json:"unmatched_bank_lines"`
	UnmatchedLedgerEntries int `json:"unmatched_ledger_entries"`
}

// Stats returns counts of loaded and still-unclaimed records
func (ws *WorkingSet) Stats() IndexStats {
	return IndexStats{
		BankLines:              len(ws.bankLines),
		LedgerEntries:          len(ws.ledgerEntries),
		Rules:                  len(ws.rules),
		UnmatchedBankLines:     len(ws.bankLines) - len(ws.claimedBank),
		UnmatchedLedgerEntries: len(ws.ledgerEntries) - len(ws.claimedLedger),
	}
}

// claimSet tracks tentative claims made inside a single stage
type claimSet struct {
	ws     *WorkingSet
	bank   map[string]bool
	ledger map[string]bool
}

func newClaimSet(ws *WorkingSet) *claimSet {
	return &claimSet{ws: ws, bank: make(map[string]bool), ledger: make(map[string]bool)}
}

func (cs *claimSet) bankTaken(id string) bool {
	return cs.bank[id] || cs.ws.IsBankClaimed(id)
}

func (cs *claimSet) ledgerTaken(id string) bool {
	return cs.ledger[id] || cs.ws.IsLedgerClaimed(id)
}

func (cs *claimSet) take(bankID, ledgerID string) {
	cs.bank[bankID] = true
	cs.ledger[ledgerID] = true
}

func dateKey(t time.Time) string {
	return t.Format(models.DateLayout)
}

func forEachDay(date time.Time, days int, fn func(key string)) {
	day := models.NormalizeDate(date)
	for offset := -days; offset <= days; offset++ {
		fn(dateKey(day.AddDate(0, 0, offset)))
	}
}
