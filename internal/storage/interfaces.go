// Package storage persists bank lines, ledger entries, matching rules and
// applied matches.
package storage

import (
	"context"
	"time"

	"golang-bank-matching-engine/internal/matcher"
	"golang-bank-matching-engine/internal/models"
)

// Repository defines the complete storage interface.
// The SQLite store is the production implementation; MockRepository backs service tests.
type Repository interface {
	matcher.RecordSource
	MatchWriter
	RecordStore
	RuleStore
	GroupInspector
	Close() error
}

// MatchWriter persists and reverts matches
type MatchWriter interface {
	// ApplyMatches writes candidates atomically: either every candidate is applied or none is
	ApplyMatches(ctx context.Context, candidates []models.MatchCandidate, actor string, at time.Time) (ApplyStats, error)

	// UnmatchBankLines clears the matches of the given bank lines and returns how many changed
	UnmatchBankLines(ctx context.Context, bankLineIDs []string) (int, error)
}

// RecordStore handles bank line and ledger entry records
type RecordStore interface {
	SaveBankLines(ctx context.Context, lines []*models.BankLine) error
	SaveLedgerEntries(ctx context.Context, entries []*models.LedgerEntry) error

	// GetBankLine returns nil and no error when the line does not exist
	GetBankLine(ctx context.Context, id string) (*models.BankLine, error)
}

// RuleStore handles matching rules
type RuleStore interface {
	SaveMatchingRules(ctx context.Context, rules []*models.MatchingRule) error

	// ListMatchingRules returns every rule of an entity, active or not, in (priority, id) order
	ListMatchingRules(ctx context.Context, entityID string) ([]*models.MatchingRule, error)
}

// GroupInspector finds match groups that were only partly written
type GroupInspector interface {
	IncompleteGroups(ctx context.Context) ([]IncompleteGroup, error)
}

// ApplyStats counts what an apply changed
type ApplyStats struct {
	Applied      int `json:"applied"`
	Refreshed    int `json:"refreshed"`
	Groups       int `json:"groups"`
	RulesUpdated int `json:"rules_updated"`
}

// IncompleteGroup is a match group whose stored links disagree with its size
type IncompleteGroup struct {
	GroupID     string   `json:"group_id"`
	Expected    int      `json:"expected"`
	Found       int      `json:"found"`
	BankLineIDs []string `json:"bank_line_ids"`
}

// bankLineUpdate is the per-bank-line view of a set of candidates
type bankLineUpdate struct {
	bankLineID      string
	ledgerIDs       []string
	matchType       models.MatchType
	groupID         string
	groupSize       int
	confidenceScore float64
	confidenceLevel models.ConfidenceLevel
	ruleID          string
}

// planUpdates folds candidates into one update per bank line, in first-seen order
func planUpdates(candidates []models.MatchCandidate) []*bankLineUpdate {
	byLine := make(map[string]*bankLineUpdate)
	var order []*bankLineUpdate

	for _, c := range candidates {
		u, ok := byLine[c.BankLineID]
		if !ok {
			u = &bankLineUpdate{
				bankLineID:      c.BankLineID,
				matchType:       c.MatchType,
				groupID:         c.MatchGroupID,
				groupSize:       c.GroupSize,
				confidenceScore: c.ConfidenceScore,
				confidenceLevel: c.ConfidenceLevel,
				ruleID:          c.MatchingRuleID,
			}
			byLine[c.BankLineID] = u
			order = append(order, u)
		}
		u.ledgerIDs = appendUnique(u.ledgerIDs, c.LedgerEntryID)
	}

	for _, u := range order {
		if u.groupSize < 1 {
			u.groupSize = 1
		}
	}
	return order
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func sameIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]bool, len(a))
	for _, id := range a {
		seen[id] = true
	}
	for _, id := range b {
		if !seen[id] {
			return false
		}
	}
	return true
}
