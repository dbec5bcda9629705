package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang-bank-matching-engine/internal/models"
	"golang-bank-matching-engine/pkg/errors"
)

// MockRepository is an in-memory implementation of Repository for testing.
// It follows the SQLite store's apply and unmatch semantics.
type MockRepository struct {
	mu sync.Mutex

	bankLines     map[string]*models.BankLine
	ledgerEntries map[string]*models.LedgerEntry
	rules         map[string]*models.MatchingRule
	links         map[string][]mockLink // keyed by bank line id

	// Hooks for test assertions
	ApplyCalls   int
	UnmatchCalls int
	LastActor    string

	// Error injection for testing error paths
	LoadErr    error
	ApplyErr   error
	UnmatchErr error
	RulesErr   error
	GroupsErr  error
}

type mockLink struct {
	ledgerEntryID string
	groupID       string
	groupSize     int
}

// NewMockRepository creates a new mock repository for testing
func NewMockRepository() *MockRepository {
	return &MockRepository{
		bankLines:     make(map[string]*models.BankLine),
		ledgerEntries: make(map[string]*models.LedgerEntry),
		rules:         make(map[string]*models.MatchingRule),
		links:         make(map[string][]mockLink),
	}
}

// Compile-time check that MockRepository implements Repository
var _ Repository = (*MockRepository)(nil)

// Close does nothing for mock
func (m *MockRepository) Close() error {
	return nil
}

// UnmatchedBankLines returns copies of unmatched lines of the scope
func (m *MockRepository) UnmatchedBankLines(ctx context.Context, scope models.Scope) ([]*models.BankLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.LoadErr != nil {
		return nil, m.LoadErr
	}

	var out []*models.BankLine
	for _, bl := range m.bankLines {
		if bl.Matched || bl.BankAccountID != scope.BankAccountID || !scope.Contains(bl.TransactionDate) {
			continue
		}
		copied := *bl
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UnmatchedLedgerEntries returns copies of unlinked, cash-relevant entries of the scope
func (m *MockRepository) UnmatchedLedgerEntries(ctx context.Context, scope models.Scope) ([]*models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.LoadErr != nil {
		return nil, m.LoadErr
	}

	linked := make(map[string]bool)
	for _, links := range m.links {
		for _, l := range links {
			linked[l.ledgerEntryID] = true
		}
	}

	var out []*models.LedgerEntry
	for _, le := range m.ledgerEntries {
		if linked[le.ID] || !le.IsCashRelevant() || !scope.Contains(le.EntryDate) {
			continue
		}
		if le.EntityID != "" && le.EntityID != scope.EntityID {
			continue
		}
		copied := *le
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ActiveMatchingRules returns active rules applying to the account
func (m *MockRepository) ActiveMatchingRules(ctx context.Context, entityID, bankAccountID string) ([]*models.MatchingRule, error) {
	rules, err := m.ListMatchingRules(ctx, entityID)
	if err != nil {
		return nil, err
	}

	var out []*models.MatchingRule
	for _, r := range rules {
		if r.IsActive && r.AppliesTo(entityID, bankAccountID) {
			out = append(out, r)
		}
	}
	return out, nil
}

// ListMatchingRules returns copies of all rules of an entity
func (m *MockRepository) ListMatchingRules(ctx context.Context, entityID string) ([]*models.MatchingRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.RulesErr != nil {
		return nil, m.RulesErr
	}

	var out []*models.MatchingRule
	for _, r := range m.rules {
		if r.EntityID == entityID {
			copied := *r
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// GetBankLine returns a copy of a bank line, or nil when unknown
func (m *MockRepository) GetBankLine(ctx context.Context, id string) (*models.BankLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bl, ok := m.bankLines[id]
	if !ok {
		return nil, nil
	}
	copied := *bl
	copied.MatchedLedgerIDs = nil
	for _, l := range m.links[id] {
		copied.MatchedLedgerIDs = append(copied.MatchedLedgerIDs, l.ledgerEntryID)
	}
	return &copied, nil
}

// GetMatchingRule returns a copy of a rule, or nil when unknown
func (m *MockRepository) GetMatchingRule(id string) *models.MatchingRule {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rules[id]
	if !ok {
		return nil
	}
	copied := *r
	return &copied
}

// SaveBankLines stores copies of the lines
func (m *MockRepository) SaveBankLines(ctx context.Context, lines []*models.BankLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, bl := range lines {
		copied := *bl
		m.bankLines[bl.ID] = &copied
	}
	return nil
}

// SaveLedgerEntries stores copies of the entries
func (m *MockRepository) SaveLedgerEntries(ctx context.Context, entries []*models.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, le := range entries {
		copied := *le
		m.ledgerEntries[le.ID] = &copied
	}
	return nil
}

// SaveMatchingRules stores copies of the rules, keeping counters of existing ones
func (m *MockRepository) SaveMatchingRules(ctx context.Context, rules []*models.MatchingRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.RulesErr != nil {
		return m.RulesErr
	}

	for _, r := range rules {
		copied := *r
		if existing, ok := m.rules[r.ID]; ok {
			copied.TimesUsed = existing.TimesUsed
			copied.TimesSucceeded = existing.TimesSucceeded
			copied.LastUsedAt = existing.LastUsedAt
		}
		m.rules[r.ID] = &copied
	}
	return nil
}

// ApplyMatches applies candidates all-or-nothing
func (m *MockRepository) ApplyMatches(ctx context.Context, candidates []models.MatchCandidate, actor string, at time.Time) (ApplyStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ApplyCalls++
	m.LastActor = actor
	if m.ApplyErr != nil {
		return ApplyStats{}, m.ApplyErr
	}

	updates := planUpdates(candidates)

	// validate everything before touching state
	for _, u := range updates {
		bl, ok := m.bankLines[u.bankLineID]
		if !ok {
			return ApplyStats{}, errors.PersistenceError(errors.CodeApplyFailed, "apply matches", fmt.Errorf("bank line %s not found", u.bankLineID))
		}
		if bl.Matched {
			if bl.MatchType != u.matchType || bl.MatchGroupID != u.groupID || !sameIDs(m.linkedLedgerIDs(u.bankLineID), u.ledgerIDs) {
				return ApplyStats{}, errors.PersistenceError(errors.CodeApplyFailed, "apply matches",
					fmt.Errorf("bank line %s is already matched", u.bankLineID))
			}
			continue
		}
		for _, ledgerID := range u.ledgerIDs {
			if owner, groupID, linked := m.ledgerOwner(ledgerID); linked && owner != u.bankLineID && (u.groupID == "" || groupID != u.groupID) {
				return ApplyStats{}, errors.PersistenceError(errors.CodeApplyFailed, "apply matches",
					fmt.Errorf("ledger entry %s is already matched to bank line %s", ledgerID, owner))
			}
		}
	}

	var stats ApplyStats
	groups := make(map[string]bool)
	ruleUses := make(map[string]int)
	stamp := at

	for _, u := range updates {
		bl := m.bankLines[u.bankLineID]
		bl.MatchedBy = actor
		bl.MatchedAt = &stamp
		if bl.Matched {
			stats.Refreshed++
			continue
		}

		bl.Matched = true
		bl.MatchType = u.matchType
		bl.MatchGroupID = u.groupID
		bl.ConfidenceScore = u.confidenceScore
		bl.ConfidenceLevel = u.confidenceLevel
		bl.MatchingRuleID = u.ruleID
		bl.MatchedLedgerIDs = append([]string(nil), u.ledgerIDs...)
		for _, ledgerID := range u.ledgerIDs {
			m.links[u.bankLineID] = append(m.links[u.bankLineID], mockLink{ledgerEntryID: ledgerID, groupID: u.groupID, groupSize: u.groupSize})
		}

		stats.Applied++
		if u.groupID != "" {
			groups[u.groupID] = true
		}
		if u.ruleID != "" {
			ruleUses[u.ruleID]++
		}
	}

	for id, n := range ruleUses {
		if r, ok := m.rules[id]; ok {
			r.TimesUsed += n
			r.TimesSucceeded += n
			r.LastUsedAt = &stamp
			stats.RulesUpdated++
		}
	}
	stats.Groups = len(groups)
	return stats, nil
}

// UnmatchBankLines clears matches of the given lines
func (m *MockRepository) UnmatchBankLines(ctx context.Context, bankLineIDs []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.UnmatchCalls++
	if m.UnmatchErr != nil {
		return 0, m.UnmatchErr
	}

	changed := 0
	for _, id := range bankLineIDs {
		delete(m.links, id)
		bl, ok := m.bankLines[id]
		if !ok || !bl.Matched {
			continue
		}
		bl.ClearMatch()
		changed++
	}
	return changed, nil
}

// IncompleteGroups reports groups whose link count differs from their size,
// listing every bank line that still carries the group
func (m *MockRepository) IncompleteGroups(ctx context.Context) ([]IncompleteGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GroupsErr != nil {
		return nil, m.GroupsErr
	}

	byGroup := make(map[string]*IncompleteGroup)
	for bankLineID, links := range m.links {
		for _, l := range links {
			if l.groupID == "" {
				continue
			}
			g, ok := byGroup[l.groupID]
			if !ok {
				g = &IncompleteGroup{GroupID: l.groupID}
				byGroup[l.groupID] = g
			}
			g.Found++
			if l.groupSize > g.Expected {
				g.Expected = l.groupSize
			}
			g.BankLineIDs = appendUnique(g.BankLineIDs, bankLineID)
		}
	}

	var out []IncompleteGroup
	for _, g := range byGroup {
		if g.Found != g.Expected {
			for id, bl := range m.bankLines {
				if bl.MatchGroupID == g.GroupID {
					g.BankLineIDs = appendUnique(g.BankLineIDs, id)
				}
			}
			sort.Strings(g.BankLineIDs)
			out = append(out, *g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GroupID < out[j].GroupID })
	return out, nil
}

// DropLink removes one stored link, simulating a partially written group
func (m *MockRepository) DropLink(bankLineID, ledgerEntryID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	links := m.links[bankLineID]
	for i, l := range links {
		if l.ledgerEntryID == ledgerEntryID {
			m.links[bankLineID] = append(links[:i], links[i+1:]...)
			return
		}
	}
}

func (m *MockRepository) linkedLedgerIDs(bankLineID string) []string {
	var ids []string
	for _, l := range m.links[bankLineID] {
		ids = append(ids, l.ledgerEntryID)
	}
	return ids
}

func (m *MockRepository) ledgerOwner(ledgerID string) (string, string, bool) {
	for bankLineID, links := range m.links {
		for _, l := range links {
			if l.ledgerEntryID == ledgerID {
				return bankLineID, l.groupID, true
			}
		}
	}
	return "", "", false
}
